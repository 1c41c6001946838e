//nolint:testpackage // tests drive the fake clock through unexported fields
package resilience

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errUpstream = errors.New("upstream unavailable")

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestBreaker(t *testing.T, settings Settings) (*CircuitBreaker, *fakeClock) {
	t.Helper()
	cb := NewCircuitBreaker(settings)
	clock := &fakeClock{now: time.Now()}
	cb.now = clock.Now
	return cb, clock
}

func failTimes(cb *CircuitBreaker, n int) {
	for range n {
		_ = cb.Execute(func() error { return errUpstream })
	}
}

func TestNewCircuitBreakerDefaults(t *testing.T) {
	cb := NewCircuitBreaker(Settings{Name: "pairing"})

	assert.Equal(t, "pairing", cb.Name())
	assert.Equal(t, StateClosed, cb.State())
	assert.Equal(t, int64(5), cb.settings.MaxFailures)
	assert.Equal(t, 30*time.Second, cb.settings.ResetTimeout)
	assert.Equal(t, int64(3), cb.settings.HalfOpenMaxRequests)
}

func TestExecutePassesThroughWhileClosed(t *testing.T) {
	cb, _ := newTestBreaker(t, Settings{Name: "pairing"})

	require.NoError(t, cb.Execute(func() error { return nil }))

	err := cb.Execute(func() error { return errUpstream })
	require.ErrorIs(t, err, errUpstream)
	assert.Equal(t, StateClosed, cb.State())
}

func TestTripsAfterConsecutiveFailures(t *testing.T) {
	cb, _ := newTestBreaker(t, Settings{Name: "pairing", MaxFailures: 3})

	failTimes(cb, 2)
	assert.Equal(t, StateClosed, cb.State())

	failTimes(cb, 1)
	assert.Equal(t, StateOpen, cb.State())

	called := false
	err := cb.Execute(func() error { called = true; return nil })
	require.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, called)
}

func TestSuccessResetsFailureStreak(t *testing.T) {
	cb, _ := newTestBreaker(t, Settings{Name: "pairing", MaxFailures: 3})

	failTimes(cb, 2)
	require.NoError(t, cb.Execute(func() error { return nil }))
	failTimes(cb, 2)

	assert.Equal(t, StateClosed, cb.State())
}

func TestResetTimeoutAllowsProbes(t *testing.T) {
	cb, clock := newTestBreaker(t, Settings{
		Name:         "pairing",
		MaxFailures:  1,
		ResetTimeout: 10 * time.Second,
	})

	failTimes(cb, 1)
	require.Equal(t, StateOpen, cb.State())

	clock.Advance(9 * time.Second)
	require.ErrorIs(t, cb.Execute(func() error { return nil }), ErrCircuitOpen)

	clock.Advance(time.Second)
	assert.Equal(t, StateHalfOpen, cb.State())
	require.NoError(t, cb.Execute(func() error { return nil }))
}

func TestClosesAfterEnoughProbeSuccesses(t *testing.T) {
	cb, clock := newTestBreaker(t, Settings{
		Name:                "pairing",
		MaxFailures:         1,
		ResetTimeout:        time.Second,
		HalfOpenMaxRequests: 2,
	})

	failTimes(cb, 1)
	clock.Advance(time.Second)

	require.NoError(t, cb.Execute(func() error { return nil }))
	assert.Equal(t, StateHalfOpen, cb.State())

	require.NoError(t, cb.Execute(func() error { return nil }))
	assert.Equal(t, StateClosed, cb.State())
}

func TestProbeFailureReopens(t *testing.T) {
	cb, clock := newTestBreaker(t, Settings{
		Name:         "pairing",
		MaxFailures:  1,
		ResetTimeout: time.Second,
	})

	failTimes(cb, 1)
	clock.Advance(time.Second)
	require.Equal(t, StateHalfOpen, cb.State())

	failTimes(cb, 1)
	assert.Equal(t, StateOpen, cb.State())

	// The reopen restarts the reset window.
	require.ErrorIs(t, cb.Execute(func() error { return nil }), ErrCircuitOpen)
	clock.Advance(time.Second)
	require.NoError(t, cb.Execute(func() error { return nil }))
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "open", StateOpen.String())
	assert.Equal(t, "half-open", StateHalfOpen.String())
	assert.Equal(t, "unknown", State(42).String())
}

func TestConcurrentExecutes(t *testing.T) {
	cb, _ := newTestBreaker(t, Settings{Name: "pairing", MaxFailures: 100})

	var wg sync.WaitGroup
	for i := range 50 {
		wg.Add(1)
		go func(fail bool) {
			defer wg.Done()
			_ = cb.Execute(func() error {
				if fail {
					return errUpstream
				}
				return nil
			})
		}(i%2 == 0)
	}
	wg.Wait()

	assert.Equal(t, StateClosed, cb.State())
}
