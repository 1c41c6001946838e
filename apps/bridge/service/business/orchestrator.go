package business

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/pitabwire/util"

	"github.com/antinvestor/service-wabridge/internal"
	"github.com/antinvestor/service-wabridge/internal/telemetry"
)

type orchestrator struct {
	lifecycle   LifecycleManager
	sessionRepo SessionStore
	trackedRepo TrackedAccountStore
	registry    *Registry

	maxConcurrent int32
	inFlight      atomic.Int32
}

// NewOrchestrator builds the bulk connect orchestrator. maxConcurrent caps
// the number of connect operations in flight at once across all callers.
func NewOrchestrator(
	lifecycle LifecycleManager,
	sessionRepo SessionStore,
	trackedRepo TrackedAccountStore,
	registry *Registry,
	maxConcurrent int32,
) Orchestrator {
	return &orchestrator{
		lifecycle:     lifecycle,
		sessionRepo:   sessionRepo,
		trackedRepo:   trackedRepo,
		registry:      registry,
		maxConcurrent: maxConcurrent,
	}
}

// admit reserves an in-flight slot, returning false when the cap is reached.
func (o *orchestrator) admit() bool {
	for {
		current := o.inFlight.Load()
		if current >= o.maxConcurrent {
			return false
		}
		if o.inFlight.CompareAndSwap(current, current+1) {
			return true
		}
	}
}

func (o *orchestrator) release() {
	o.inFlight.Add(-1)
}

func (o *orchestrator) ConnectAll(ctx context.Context, accountIDs []string) []Outcome {
	ctx, span := telemetry.BulkTracer.Start(ctx, "ConnectAll")
	defer func() { telemetry.BulkTracer.End(ctx, span, nil) }()

	results := make([]Outcome, len(accountIDs))

	var wg sync.WaitGroup
	for i, raw := range accountIDs {
		accountID := internal.NormalizeAccountID(raw)
		if !internal.IsValidAccountID(accountID) {
			results[i] = Outcome{AccountID: raw, Status: OutcomeFailed, Error: "invalid account id"}
			continue
		}

		// Already-live accounts resolve before admission so they never burn a
		// concurrency slot or report as queued behind a saturated cap.
		if o.registry.IsActive(accountID) {
			results[i] = Outcome{AccountID: accountID, Status: OutcomeAlreadyConnected}
			continue
		}

		// Admission is decided synchronously so over-cap accounts report as
		// queued instead of silently waiting behind earlier ones.
		if !o.admit() {
			results[i] = Outcome{AccountID: accountID, Status: OutcomeQueued}
			continue
		}

		wg.Add(1)
		go func(idx int, id string) {
			defer wg.Done()
			defer o.release()
			results[idx] = o.connectOne(ctx, id)
		}(i, accountID)
	}
	wg.Wait()

	return results
}

func (o *orchestrator) connectOne(ctx context.Context, accountID string) Outcome {
	result, err := o.lifecycle.Connect(ctx, accountID)
	if err != nil {
		util.Log(ctx).WithError(err).
			WithField("account_id", accountID).
			Error("bulk connect failed")
		return Outcome{AccountID: accountID, Status: OutcomeFailed, Error: err.Error()}
	}
	if result.Status == StatusAlreadyConnected {
		return Outcome{AccountID: accountID, Status: OutcomeAlreadyConnected}
	}
	return Outcome{AccountID: accountID, Status: OutcomeInitiated}
}

func (o *orchestrator) ReconnectFromStore(ctx context.Context) ([]Outcome, error) {
	sessions, err := o.sessionRepo.ListByRecency(ctx)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{}, len(sessions))
	accountIDs := make([]string, 0, len(sessions))
	for _, sess := range sessions {
		accountID := internal.NormalizeAccountID(sess.AccountID)
		if _, dup := seen[accountID]; dup || !internal.IsValidAccountID(accountID) {
			continue
		}
		seen[accountID] = struct{}{}
		accountIDs = append(accountIDs, accountID)
	}

	util.Log(ctx).WithField("accounts", len(accountIDs)).Info("reconnecting stored sessions")
	return o.ConnectAll(ctx, accountIDs), nil
}

func (o *orchestrator) RecoverTracked(ctx context.Context) ([]Outcome, error) {
	accountIDs, err := o.trackedRepo.ListAccountIDs(ctx)
	if err != nil {
		return nil, err
	}
	if len(accountIDs) == 0 {
		return nil, nil
	}

	util.Log(ctx).WithField("accounts", len(accountIDs)).Info("recovering tracked accounts")
	return o.ConnectAll(ctx, accountIDs), nil
}
