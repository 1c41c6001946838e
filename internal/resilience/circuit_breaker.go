package resilience

import (
	"errors"
	"sync"
	"time"
)

// ErrCircuitOpen is returned when the breaker rejects a call without
// attempting it.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State is the breaker's position.
type State int32

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Settings configures a CircuitBreaker.
type Settings struct {
	// Name identifies the guarded operation in logs.
	Name string

	// MaxFailures is how many consecutive failures trip the breaker.
	MaxFailures int64

	// ResetTimeout is how long a tripped breaker rejects calls before
	// letting probes through.
	ResetTimeout time.Duration

	// HalfOpenMaxRequests is how many probe calls must succeed before the
	// breaker closes again.
	HalfOpenMaxRequests int64
}

// DefaultSettings returns a breaker tuned for calls against the remote
// platform: trip after five straight failures, probe again after 30s.
func DefaultSettings(name string) Settings {
	return Settings{
		Name:                name,
		MaxFailures:         5,
		ResetTimeout:        30 * time.Second,
		HalfOpenMaxRequests: 3,
	}
}

// CircuitBreaker fails fast when an upstream operation keeps erroring, so a
// platform-side outage does not turn into a stream of doomed calls.
type CircuitBreaker struct {
	settings Settings

	mu        sync.Mutex
	state     State
	failures  int64
	successes int64
	trippedAt time.Time

	// now is swappable in tests.
	now func() time.Time
}

// NewCircuitBreaker builds a closed breaker. Zero or negative settings fall
// back to the defaults.
func NewCircuitBreaker(settings Settings) *CircuitBreaker {
	defaults := DefaultSettings(settings.Name)
	if settings.MaxFailures <= 0 {
		settings.MaxFailures = defaults.MaxFailures
	}
	if settings.ResetTimeout <= 0 {
		settings.ResetTimeout = defaults.ResetTimeout
	}
	if settings.HalfOpenMaxRequests <= 0 {
		settings.HalfOpenMaxRequests = defaults.HalfOpenMaxRequests
	}

	return &CircuitBreaker{
		settings: settings,
		state:    StateClosed,
		now:      time.Now,
	}
}

// Execute runs fn unless the breaker is open, in which case it returns
// ErrCircuitOpen without calling fn. fn's error is passed through.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	if !cb.admit() {
		return ErrCircuitOpen
	}

	if err := fn(); err != nil {
		cb.onFailure()
		return err
	}
	cb.onSuccess()
	return nil
}

// State reports the breaker's current position, moving open to half-open
// once the reset timeout has passed.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.stateLocked()
}

// Name returns the name the breaker was configured with.
func (cb *CircuitBreaker) Name() string {
	return cb.settings.Name
}

func (cb *CircuitBreaker) stateLocked() State {
	if cb.state == StateOpen && cb.now().Sub(cb.trippedAt) >= cb.settings.ResetTimeout {
		cb.transition(StateHalfOpen)
	}
	return cb.state
}

func (cb *CircuitBreaker) admit() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.stateLocked() {
	case StateOpen:
		return false
	case StateHalfOpen:
		return cb.successes < cb.settings.HalfOpenMaxRequests
	default:
		return true
	}
}

func (cb *CircuitBreaker) onSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.stateLocked() {
	case StateClosed:
		cb.failures = 0
	case StateHalfOpen:
		cb.successes++
		if cb.successes >= cb.settings.HalfOpenMaxRequests {
			cb.transition(StateClosed)
		}
	}
}

func (cb *CircuitBreaker) onFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.stateLocked() {
	case StateClosed:
		cb.failures++
		if cb.failures >= cb.settings.MaxFailures {
			cb.transition(StateOpen)
		}
	case StateHalfOpen:
		// A probe failure reopens the breaker immediately.
		cb.transition(StateOpen)
	}
}

// transition must be called with cb.mu held.
func (cb *CircuitBreaker) transition(to State) {
	if cb.state == to {
		return
	}
	cb.state = to
	cb.failures = 0
	cb.successes = 0
	if to == StateOpen {
		cb.trippedAt = cb.now()
	}
}
