package business

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pitabwire/frame/queue"
	"github.com/pitabwire/util"

	"github.com/antinvestor/service-wabridge/apps/bridge/service"
	"github.com/antinvestor/service-wabridge/apps/bridge/service/protocol"
	"github.com/antinvestor/service-wabridge/internal"
	"github.com/antinvestor/service-wabridge/internal/resilience"
	"github.com/antinvestor/service-wabridge/internal/telemetry"
)

// LifecycleOptions tunes the connection lifecycle.
type LifecycleOptions struct {
	// PairingMaxRetries is the number of pairing-code requests attempted per
	// connect before the session is abandoned.
	PairingMaxRetries int
	// PairingRetryDelay is multiplied by the attempt number between pairing
	// retries.
	PairingRetryDelay time.Duration
	// ConnectSettleDelay is how long an opened session must hold before it
	// is registered as active.
	ConnectSettleDelay time.Duration
	// RestartDelayBase seeds the exponential reconnect backoff.
	RestartDelayBase time.Duration
	// MaxRestartAttempts caps consecutive reconnects before giving up.
	MaxRestartAttempts int
}

// LifecycleNotification is published on the lifecycle topic whenever an
// account's connection state changes in a way operators care about.
type LifecycleNotification struct {
	AccountID   string `json:"account_id"`
	Status      string `json:"status"`
	ConnectedAt string `json:"connected_at,omitempty"`
}

type lifecycleManager struct {
	opts LifecycleOptions

	registry    *Registry
	dialer      protocol.Dialer
	sessionRepo SessionStore
	settingRepo SettingStore
	trackedRepo TrackedAccountStore

	qMan      queue.Manager
	topicName string

	policy         *reconnectPolicy
	pairingBreaker *resilience.CircuitBreaker

	// baseCtx outlives individual Connect calls; event watchers and backoff
	// sleeps run against it so an in-flight request cancellation does not
	// tear down a healthy session.
	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	mu          sync.Mutex
	terminating map[string]struct{}
	// live holds every session with a running event watcher, including
	// pairing-pending ones the registry does not know about yet.
	live     map[protocol.Session]string
	shutdown bool

	// sleep is swappable in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewLifecycleManager wires the per-account connection state machine.
func NewLifecycleManager(
	ctx context.Context,
	opts LifecycleOptions,
	registry *Registry,
	dialer protocol.Dialer,
	sessionRepo SessionStore,
	settingRepo SettingStore,
	trackedRepo TrackedAccountStore,
	qMan queue.Manager,
	topicName string,
) LifecycleManager {
	baseCtx, cancel := context.WithCancel(ctx)

	m := &lifecycleManager{
		opts:           opts,
		registry:       registry,
		dialer:         dialer,
		sessionRepo:    sessionRepo,
		settingRepo:    settingRepo,
		trackedRepo:    trackedRepo,
		qMan:           qMan,
		topicName:      topicName,
		pairingBreaker: resilience.NewCircuitBreaker(resilience.DefaultSettings("pairing")),
		baseCtx:        baseCtx,
		cancel:         cancel,
		terminating:    make(map[string]struct{}),
		live:           make(map[protocol.Session]string),
		sleep:          sleepContext,
	}

	m.policy = newReconnectPolicy(
		opts.RestartDelayBase,
		opts.MaxRestartAttempts,
		m.reconnect,
		m.onGiveUp,
	)
	return m
}

func (m *lifecycleManager) Connect(ctx context.Context, rawAccountID string) (*ConnectResult, error) {
	accountID := internal.NormalizeAccountID(rawAccountID)
	if !internal.IsValidAccountID(accountID) {
		return nil, service.ErrInvalidAccountID
	}

	result, err := m.connect(ctx, accountID)
	if err != nil {
		if err == service.ErrAlreadyConnected {
			return &ConnectResult{AccountID: accountID, Status: StatusAlreadyConnected}, nil
		}
		return nil, err
	}
	return result, nil
}

// connect opens a session for an already normalized account id. Returns
// ErrAlreadyConnected when the registry holds a live entry for it.
func (m *lifecycleManager) connect(ctx context.Context, accountID string) (result *ConnectResult, err error) {
	ctx, span := telemetry.LifecycleTracer.Start(ctx, "Connect")
	defer func() { telemetry.LifecycleTracer.End(ctx, span, err) }()

	log := util.Log(ctx).WithField("account_id", accountID)

	m.mu.Lock()
	if m.shutdown {
		m.mu.Unlock()
		return nil, service.ErrShuttingDown
	}
	delete(m.terminating, accountID)
	m.mu.Unlock()

	if m.registry.IsActive(accountID) {
		return nil, service.ErrAlreadyConnected
	}

	started := time.Now()

	pruned, err := m.sessionRepo.Reconcile(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("reconciling stored sessions: %w", err)
	}
	if pruned > 0 {
		log.WithField("pruned", pruned).Info("removed stale stored sessions")
	}

	stored, err := m.sessionRepo.GetByAccountID(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("loading stored session: %w", err)
	}
	if stored != nil {
		if err = m.dialer.Restore(ctx, accountID, stored.Creds); err != nil {
			return nil, fmt.Errorf("restoring credentials: %w", err)
		}
	}

	sess, err := m.dialer.Dial(ctx, accountID)
	if err != nil {
		telemetry.ConnectionsFailedCounter.Add(ctx, 1)
		return nil, fmt.Errorf("dialing session: %w", err)
	}

	result = &ConnectResult{AccountID: accountID, Status: StatusConnected}
	if !sess.Registered() {
		code, pairErr := m.requestPairingCode(ctx, sess, accountID)
		if pairErr != nil {
			_ = sess.Close()
			telemetry.PairingFailedCounter.Add(ctx, 1)
			return nil, pairErr
		}
		telemetry.PairingCodesIssuedCounter.Add(ctx, 1)
		result.Status = StatusPairing
		result.PairingCode = code
	}

	telemetry.ConnectLatencyHistogram.Record(ctx, float64(time.Since(started).Milliseconds()))

	// Re-check shutdown while registering the watcher; a session dialled in a
	// race with Shutdown would otherwise leak its goroutine.
	m.mu.Lock()
	if m.shutdown {
		m.mu.Unlock()
		_ = sess.Close()
		return nil, service.ErrShuttingDown
	}
	m.live[sess] = accountID
	m.wg.Add(1)
	m.mu.Unlock()
	go m.watchEvents(accountID, sess)

	log.WithField("status", string(result.Status)).Info("connection initiated")
	return result, nil
}

// requestPairingCode retries pairing-code issuance with a linearly growing
// delay, routed through a circuit breaker so a platform-side outage does not
// hammer the pairing endpoint.
func (m *lifecycleManager) requestPairingCode(
	ctx context.Context, sess protocol.Session, accountID string,
) (string, error) {
	log := util.Log(ctx).WithField("account_id", accountID)

	var lastErr error
	for attempt := 1; attempt <= m.opts.PairingMaxRetries; attempt++ {
		var code string
		lastErr = m.pairingBreaker.Execute(func() error {
			var reqErr error
			code, reqErr = sess.RequestPairingCode(ctx, accountID)
			return reqErr
		})
		if lastErr == nil {
			return code, nil
		}

		log.WithError(lastErr).WithField("attempt", attempt).Warn("pairing code request failed")
		if attempt < m.opts.PairingMaxRetries {
			if err := m.sleep(ctx, m.opts.PairingRetryDelay*time.Duration(attempt)); err != nil {
				return "", err
			}
		}
	}
	return "", fmt.Errorf("%w: %v", service.ErrPairingFailed, lastErr)
}

// watchEvents consumes a session's lifecycle stream until it closes.
func (m *lifecycleManager) watchEvents(accountID string, sess protocol.Session) {
	defer func() {
		m.mu.Lock()
		delete(m.live, sess)
		m.mu.Unlock()
		m.wg.Done()
	}()

	ctx := m.baseCtx
	log := util.Log(ctx).WithField("account_id", accountID)

	for ev := range sess.Events() {
		switch ev.Type {
		case protocol.EventOpened:
			m.handleOpened(ctx, accountID, sess)
		case protocol.EventCredentialsRotated:
			if err := m.sessionRepo.SaveCredentials(ctx, accountID, ev.Creds); err != nil {
				log.WithError(err).Error("failed to persist rotated credentials")
				continue
			}
			telemetry.CredentialRotationsCounter.Add(ctx, 1)
		case protocol.EventClosed:
			m.handleClosed(ctx, accountID, ev)
			// The session is dead either way; closing it ends the event
			// stream so this watcher can exit. Reconnects dial fresh.
			_ = sess.Close()
		}
	}
}

func (m *lifecycleManager) handleOpened(ctx context.Context, accountID string, sess protocol.Session) {
	log := util.Log(ctx).WithField("account_id", accountID)

	// Give the freshly opened socket a moment to settle before treating the
	// account as active; immediate flaps then never reach the registry.
	if err := m.sleep(ctx, m.opts.ConnectSettleDelay); err != nil {
		return
	}

	openedAt := time.Now()
	m.registry.Register(&Entry{AccountID: accountID, Session: sess, OpenedAt: openedAt})
	telemetry.ConnectionsOpenedCounter.Add(ctx, 1)
	telemetry.ConnectionsActiveGauge.Add(ctx, 1)

	if err := m.trackedRepo.Add(ctx, accountID); err != nil {
		log.WithError(err).Error("failed to track account")
	}

	m.policy.Reset(accountID)
	m.notify(ctx, LifecycleNotification{
		AccountID:   accountID,
		Status:      "connected",
		ConnectedAt: openedAt.UTC().Format(time.RFC3339),
	})

	log.Info("connection open and registered")
}

func (m *lifecycleManager) handleClosed(ctx context.Context, accountID string, ev protocol.Event) {
	log := util.Log(ctx).WithField("account_id", accountID).WithField("reason", ev.Reason)

	if entry := m.registry.Unregister(accountID); entry != nil {
		telemetry.ConnectionsActiveGauge.Add(ctx, -1)
	}
	telemetry.ConnectionsClosedCounter.Add(ctx, 1)

	m.mu.Lock()
	_, terminating := m.terminating[accountID]
	shutdown := m.shutdown
	m.mu.Unlock()

	if terminating || shutdown {
		log.Debug("connection closed deliberately")
		return
	}

	if ev.AuthRejected {
		log.WithError(service.ErrAuthRejected).Warn("purging stored session")
		telemetry.AuthRejectionsCounter.Add(ctx, 1)
		m.policy.Forget(accountID)
		if err := m.sessionRepo.DeleteByAccountID(ctx, accountID); err != nil {
			log.WithError(err).Error("failed to purge rejected session")
		}
		m.notify(ctx, LifecycleNotification{AccountID: accountID, Status: "logged_out"})
		return
	}

	log.Info("connection lost")
	m.policy.OnTransientClose(ctx, accountID)
}

// reconnect is the backoff policy's retry callback.
func (m *lifecycleManager) reconnect(ctx context.Context, accountID string) error {
	_, err := m.connect(ctx, accountID)
	if err == service.ErrAlreadyConnected {
		return nil
	}
	return err
}

func (m *lifecycleManager) onGiveUp(ctx context.Context, accountID string) {
	util.Log(ctx).WithError(service.ErrGivenUp).
		WithField("account_id", accountID).
		Warn("account needs manual reconnection")
	m.notify(ctx, LifecycleNotification{AccountID: accountID, Status: "given_up"})
}

func (m *lifecycleManager) notify(ctx context.Context, n LifecycleNotification) {
	if m.qMan == nil {
		return
	}

	topic, err := m.qMan.GetPublisher(m.topicName)
	if err != nil {
		util.Log(ctx).WithError(err).Error("failed to get lifecycle topic")
		return
	}
	if err = topic.Publish(ctx, n); err != nil {
		util.Log(ctx).WithError(err).
			WithField("account_id", n.AccountID).
			Error("failed to publish lifecycle notification")
	}
}

func (m *lifecycleManager) Terminate(ctx context.Context, rawAccountID string) error {
	accountID := internal.NormalizeAccountID(rawAccountID)
	if !internal.IsValidAccountID(accountID) {
		return service.ErrInvalidAccountID
	}
	log := util.Log(ctx).WithField("account_id", accountID)

	m.mu.Lock()
	m.terminating[accountID] = struct{}{}
	m.mu.Unlock()
	m.policy.Forget(accountID)

	if entry := m.registry.Unregister(accountID); entry != nil {
		telemetry.ConnectionsActiveGauge.Add(ctx, -1)
		if err := entry.Session.Close(); err != nil {
			log.WithError(err).Warn("error closing live session")
		}
	}

	if err := m.sessionRepo.DeleteByAccountID(ctx, accountID); err != nil {
		return fmt.Errorf("deleting stored session: %w", err)
	}
	if err := m.settingRepo.DeleteByAccountID(ctx, accountID); err != nil {
		return fmt.Errorf("deleting stored settings: %w", err)
	}
	if err := m.trackedRepo.Remove(ctx, accountID); err != nil {
		return fmt.Errorf("removing tracked account: %w", err)
	}

	m.notify(ctx, LifecycleNotification{AccountID: accountID, Status: "terminated"})
	log.Info("account terminated")
	return nil
}

func (m *lifecycleManager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	if m.shutdown {
		m.mu.Unlock()
		return nil
	}
	m.shutdown = true
	live := make(map[protocol.Session]string, len(m.live))
	for sess, accountID := range m.live {
		live[sess] = accountID
	}
	m.mu.Unlock()

	// Close every watched session, not just registered ones; pairing-pending
	// sessions have watchers too.
	for sess, accountID := range live {
		if err := sess.Close(); err != nil {
			util.Log(ctx).WithError(err).
				WithField("account_id", accountID).
				Warn("error closing session during shutdown")
		}
	}

	// Unblock any backoff sleeps, then wait for watchers to drain.
	m.cancel()
	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
