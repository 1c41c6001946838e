package repository

import (
	"context"

	"github.com/antinvestor/service-wabridge/apps/bridge/service/models"
	"github.com/pitabwire/frame/data"
	"github.com/pitabwire/frame/framedata"
)

// SessionRepository defines data access for persisted account credentials.
type SessionRepository interface {
	framedata.BaseRepository[*models.Session]
	// GetByAccountID returns the most recently modified session for the
	// account, or nil when none exists.
	GetByAccountID(ctx context.Context, accountID string) (*models.Session, error)
	// SaveCredentials upserts the single canonical session row for the account.
	SaveCredentials(ctx context.Context, accountID string, creds data.JSONMap) error
	// Reconcile deletes every session row for the account except the most
	// recently modified one, returning the number of rows pruned.
	Reconcile(ctx context.Context, accountID string) (int64, error)
	// DeleteByAccountID removes all session rows for the account. Idempotent.
	DeleteByAccountID(ctx context.Context, accountID string) error
	// ListByRecency returns sessions ordered most recently modified first.
	ListByRecency(ctx context.Context) ([]*models.Session, error)
}

// SettingRepository defines data access for per-account option overrides.
type SettingRepository interface {
	framedata.BaseRepository[*models.Setting]
	GetByAccountID(ctx context.Context, accountID string) (*models.Setting, error)
	// Merge applies a partial update over the stored options, creating the
	// row on first write. Keys absent from partial are left untouched.
	Merge(ctx context.Context, accountID string, partial data.JSONMap) error
	DeleteByAccountID(ctx context.Context, accountID string) error
}

// TrackedAccountRepository maintains the durable set of accounts that have
// ever successfully connected.
type TrackedAccountRepository interface {
	framedata.BaseRepository[*models.TrackedAccount]
	Add(ctx context.Context, accountID string) error
	ListAccountIDs(ctx context.Context) ([]string, error)
	Remove(ctx context.Context, accountID string) error
}
