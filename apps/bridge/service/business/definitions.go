// Package business provides the core business logic for the bridge service:
// the connection registry, per-account lifecycle management, the reconnection
// backoff policy and the bounded bulk orchestrator.
package business

import (
	"context"

	"github.com/pitabwire/frame/data"

	"github.com/antinvestor/service-wabridge/apps/bridge/service/models"
)

// SessionStore is the slice of the session repository the business layer
// depends on. The repository package's concrete type satisfies it.
type SessionStore interface {
	GetByAccountID(ctx context.Context, accountID string) (*models.Session, error)
	SaveCredentials(ctx context.Context, accountID string, creds data.JSONMap) error
	Reconcile(ctx context.Context, accountID string) (int64, error)
	DeleteByAccountID(ctx context.Context, accountID string) error
	ListByRecency(ctx context.Context) ([]*models.Session, error)
}

// SettingStore is the slice of the setting repository the business layer
// depends on.
type SettingStore interface {
	GetByAccountID(ctx context.Context, accountID string) (*models.Setting, error)
	Merge(ctx context.Context, accountID string, partial data.JSONMap) error
	DeleteByAccountID(ctx context.Context, accountID string) error
}

// TrackedAccountStore is the slice of the tracked-account repository the
// business layer depends on.
type TrackedAccountStore interface {
	Add(ctx context.Context, accountID string) error
	ListAccountIDs(ctx context.Context) ([]string, error)
	Remove(ctx context.Context, accountID string) error
}

// ConnectStatus describes the synchronous result of a connect operation.
type ConnectStatus string

const (
	// StatusAlreadyConnected means the account already had a live registered
	// connection; nothing was done.
	StatusAlreadyConnected ConnectStatus = "already_connected"
	// StatusConnected means a session was opened from restored credentials;
	// no pairing was required.
	StatusConnected ConnectStatus = "connected"
	// StatusPairing means a fresh session was opened and a pairing code was
	// issued for the end user to complete registration.
	StatusPairing ConnectStatus = "pairing"
)

// ConnectResult is the synchronous outcome of LifecycleManager.Connect.
type ConnectResult struct {
	AccountID   string        `json:"account_id"`
	Status      ConnectStatus `json:"status"`
	PairingCode string        `json:"code,omitempty"`
}

// LifecycleManager orchestrates one account's full connection lifecycle.
type LifecycleManager interface {
	// Connect restores any stored credentials, opens a protocol session and
	// wires its lifecycle event handlers. Idempotent for accounts that are
	// already registered as active.
	Connect(ctx context.Context, accountID string) (*ConnectResult, error)

	// Terminate performs an explicit logout: the registry entry, the live
	// socket and the persisted session and settings are all removed.
	Terminate(ctx context.Context, accountID string) error

	// Shutdown stops event handling and closes every live session.
	Shutdown(ctx context.Context) error
}

// OutcomeStatus is the per-account status of a bulk operation.
type OutcomeStatus string

const (
	OutcomeAlreadyConnected OutcomeStatus = "already_connected"
	OutcomeInitiated        OutcomeStatus = "connection_initiated"
	OutcomeQueued           OutcomeStatus = "queued"
	OutcomeFailed           OutcomeStatus = "failed"
)

// Outcome reports what happened to one account during a bulk operation.
type Outcome struct {
	AccountID string        `json:"number"`
	Status    OutcomeStatus `json:"status"`
	Error     string        `json:"error,omitempty"`
}

// Orchestrator fans connect operations out over sets of accounts while
// keeping the number of in-flight connects under a process-wide cap.
type Orchestrator interface {
	// ConnectAll attempts to connect every listed account. Accounts over the
	// concurrency cap are reported as queued and are not retried within the
	// same call.
	ConnectAll(ctx context.Context, accountIDs []string) []Outcome

	// ReconnectFromStore drives ConnectAll semantics over every account that
	// has a persisted session, most recently updated first.
	ReconnectFromStore(ctx context.Context) ([]Outcome, error)

	// RecoverTracked reconnects every account on the durable tracked list.
	// Used at process startup.
	RecoverTracked(ctx context.Context) ([]Outcome, error)
}

// SettingsBusiness manages per-account options merged over static defaults.
type SettingsBusiness interface {
	Get(ctx context.Context, accountID string) (data.JSONMap, error)
	Update(ctx context.Context, accountID string, partial data.JSONMap) error
}
