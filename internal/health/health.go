// Package health exposes liveness and readiness probe handlers over the
// bridge's backing stores and its connection registry.
package health

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/pitabwire/frame/cache"
	"github.com/pitabwire/frame/datastore/pool"
)

const defaultCheckTimeout = 5 * time.Second

// Status grades a component's health.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// CheckResult is a single checker's verdict.
type CheckResult struct {
	Status    Status `json:"status"`
	LatencyMs int64  `json:"latency_ms,omitempty"`
	Detail    string `json:"detail,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Response is the JSON body written by the probe handlers.
type Response struct {
	Status Status                 `json:"status"`
	Checks map[string]CheckResult `json:"checks,omitempty"`
}

// Checker probes one component.
type Checker interface {
	Name() string
	Check(ctx context.Context) CheckResult
}

// Handler aggregates checkers behind liveness and readiness endpoints.
type Handler struct {
	mu       sync.RWMutex
	checkers []Checker
}

func NewHandler() *Handler {
	return &Handler{}
}

func (h *Handler) AddChecker(checker Checker) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checkers = append(h.checkers, checker)
}

// LivenessHandler answers /healthz. It only proves the process is serving;
// no checkers run.
func (h *Handler) LivenessHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(Response{Status: StatusHealthy})
}

// ReadinessHandler answers /readyz, running every registered checker
// concurrently. Degraded still returns 200; only unhealthy flips to 503.
func (h *Handler) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	h.mu.RLock()
	checkers := h.checkers
	h.mu.RUnlock()

	resp := Response{
		Status: StatusHealthy,
		Checks: make(map[string]CheckResult, len(checkers)),
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	for _, checker := range checkers {
		wg.Add(1)
		go func(c Checker) {
			defer wg.Done()
			res := c.Check(ctx)

			mu.Lock()
			resp.Checks[c.Name()] = res
			resp.Status = worseOf(resp.Status, res.Status)
			mu.Unlock()
		}(checker)
	}
	wg.Wait()

	code := http.StatusOK
	if resp.Status == StatusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(resp)
}

func worseOf(a, b Status) Status {
	if a == StatusUnhealthy || b == StatusUnhealthy {
		return StatusUnhealthy
	}
	if a == StatusDegraded || b == StatusDegraded {
		return StatusDegraded
	}
	return StatusHealthy
}

func pingResult(start time.Time, err error) CheckResult {
	res := CheckResult{
		Status:    StatusHealthy,
		LatencyMs: time.Since(start).Milliseconds(),
	}
	if err != nil {
		res.Status = StatusUnhealthy
		res.Error = err.Error()
	}
	return res
}

// DatabaseChecker pings the service datastore pool.
type DatabaseChecker struct {
	pool    pool.Pool
	timeout time.Duration
}

func NewDatabaseChecker(p pool.Pool, timeout time.Duration) *DatabaseChecker {
	if timeout == 0 {
		timeout = defaultCheckTimeout
	}
	return &DatabaseChecker{pool: p, timeout: timeout}
}

func (d *DatabaseChecker) Name() string { return "database" }

func (d *DatabaseChecker) Check(ctx context.Context) CheckResult {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	start := time.Now()
	sqlDB, err := d.pool.DB(ctx, true).DB()
	if err != nil {
		return pingResult(start, err)
	}

	res := pingResult(start, sqlDB.PingContext(ctx))
	if res.Status != StatusHealthy {
		return res
	}

	// A fully occupied pool answers pings but stalls queries.
	stats := sqlDB.Stats()
	if stats.OpenConnections > 0 && stats.InUse == stats.MaxOpenConnections {
		res.Status = StatusDegraded
		res.Error = "connection pool exhausted"
	}
	return res
}

// CacheChecker probes the settings cache with a throwaway read.
type CacheChecker struct {
	cache   cache.RawCache
	timeout time.Duration
}

func NewCacheChecker(c cache.RawCache, timeout time.Duration) *CacheChecker {
	if timeout == 0 {
		timeout = defaultCheckTimeout
	}
	return &CacheChecker{cache: c, timeout: timeout}
}

func (c *CacheChecker) Name() string { return "cache" }

func (c *CacheChecker) Check(ctx context.Context) CheckResult {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	// A miss is fine, only a transport error marks the cache unhealthy.
	start := time.Now()
	_, _, err := c.cache.Get(ctx, "__health_check__")
	return pingResult(start, err)
}

// DeviceStoreChecker pings the protocol client's credential store, which
// lives in its own database outside the service datastore.
type DeviceStoreChecker struct {
	db      *sql.DB
	timeout time.Duration
}

func NewDeviceStoreChecker(db *sql.DB, timeout time.Duration) *DeviceStoreChecker {
	if timeout == 0 {
		timeout = defaultCheckTimeout
	}
	return &DeviceStoreChecker{db: db, timeout: timeout}
}

func (s *DeviceStoreChecker) Name() string { return "device_store" }

func (s *DeviceStoreChecker) Check(ctx context.Context) CheckResult {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := time.Now()
	return pingResult(start, s.db.PingContext(ctx))
}

// ConnectionsChecker reports how many account connections are registered.
// The count is informational and never fails readiness.
type ConnectionsChecker struct {
	sizeFn func() int32
}

func NewConnectionsChecker(sizeFn func() int32) *ConnectionsChecker {
	return &ConnectionsChecker{sizeFn: sizeFn}
}

func (c *ConnectionsChecker) Name() string { return "connections" }

func (c *ConnectionsChecker) Check(_ context.Context) CheckResult {
	if c.sizeFn == nil {
		return CheckResult{Status: StatusDegraded, Error: "connection registry not wired"}
	}
	return CheckResult{
		Status: StatusHealthy,
		Detail: strconv.FormatInt(int64(c.sizeFn()), 10) + " active connections",
	}
}
