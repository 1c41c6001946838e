package business

import (
	"context"
	"sync"
	"time"

	"github.com/pitabwire/util"

	"github.com/antinvestor/service-wabridge/internal/telemetry"
)

// reconnectPolicy tracks per-account restart attempts and schedules retries
// with exponential backoff. Attempt counts reset whenever an account opens
// successfully, so only consecutive failures escalate the delay.
type reconnectPolicy struct {
	baseDelay   time.Duration
	maxAttempts int

	mu       sync.Mutex
	attempts map[string]int

	// sleep is swappable so tests can observe scheduled delays without
	// waiting them out. It must honour ctx cancellation.
	sleep func(ctx context.Context, d time.Duration) error

	// connect is invoked after the backoff delay to attempt a fresh session.
	connect func(ctx context.Context, accountID string) error

	// giveUp is invoked once an account exhausts its attempts.
	giveUp func(ctx context.Context, accountID string)
}

func newReconnectPolicy(
	baseDelay time.Duration,
	maxAttempts int,
	connect func(ctx context.Context, accountID string) error,
	giveUp func(ctx context.Context, accountID string),
) *reconnectPolicy {
	return &reconnectPolicy{
		baseDelay:   baseDelay,
		maxAttempts: maxAttempts,
		attempts:    make(map[string]int),
		sleep:       sleepContext,
		connect:     connect,
		giveUp:      giveUp,
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// OnTransientClose handles a non-auth connection loss. It either schedules a
// retry after the current backoff delay or, when the account has exhausted
// its attempts, gives up on it. The backoff doubles per consecutive failure
// starting from the base delay.
func (p *reconnectPolicy) OnTransientClose(ctx context.Context, accountID string) {
	log := util.Log(ctx).WithField("account_id", accountID)

	p.mu.Lock()
	n := p.attempts[accountID]
	if n >= p.maxAttempts {
		delete(p.attempts, accountID)
		p.mu.Unlock()

		log.WithField("attempts", n).Warn("restart attempts exhausted, giving up")
		telemetry.ReconnectsGivenUpCounter.Add(ctx, 1)
		if p.giveUp != nil {
			p.giveUp(ctx, accountID)
		}
		return
	}
	delay := p.baseDelay << n
	p.attempts[accountID] = n + 1
	p.mu.Unlock()

	log.WithFields(map[string]any{
		"attempt": n + 1,
		"delay":   delay.String(),
	}).Info("scheduling reconnect")
	telemetry.ReconnectsScheduledCounter.Add(ctx, 1)

	if err := p.sleep(ctx, delay); err != nil {
		log.WithError(err).Debug("reconnect wait aborted")
		return
	}

	if err := p.connect(ctx, accountID); err != nil {
		log.WithError(err).Error("reconnect attempt failed")
	}
}

// Reset clears the attempt count after a successful open.
func (p *reconnectPolicy) Reset(accountID string) {
	p.mu.Lock()
	delete(p.attempts, accountID)
	p.mu.Unlock()
}

// Forget drops all state for an account that is being terminated.
func (p *reconnectPolicy) Forget(accountID string) {
	p.mu.Lock()
	delete(p.attempts, accountID)
	p.mu.Unlock()
}

// Attempts returns the consecutive failure count for an account.
func (p *reconnectPolicy) Attempts(accountID string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.attempts[accountID]
}
