package repository

import (
	"context"

	"github.com/pitabwire/frame"
	"github.com/pitabwire/frame/data"
	"github.com/pitabwire/frame/framedata"

	"github.com/antinvestor/service-wabridge/apps/bridge/service/models"
)

type sessionRepository struct {
	framedata.BaseRepository[*models.Session]
}

// GetByID retrieves a session by its row ID.
func (sr *sessionRepository) GetByID(ctx context.Context, id string) (*models.Session, error) {
	session := &models.Session{}
	err := sr.Svc().DB(ctx, true).First(session, "id = ?", id).Error
	return session, err
}

// Save creates or updates a session row.
func (sr *sessionRepository) Save(ctx context.Context, session *models.Session) error {
	return sr.Svc().DB(ctx, false).Save(session).Error
}

// Delete soft deletes a session row by its ID.
func (sr *sessionRepository) Delete(ctx context.Context, id string) error {
	session, err := sr.GetByID(ctx, id)
	if err != nil {
		return err
	}
	return sr.Svc().DB(ctx, false).Delete(session).Error
}

// GetByAccountID returns the most recently modified session for the account.
// Absence is not an error: callers treat a nil session as "no prior session".
func (sr *sessionRepository) GetByAccountID(ctx context.Context, accountID string) (*models.Session, error) {
	session := &models.Session{}
	err := sr.Svc().DB(ctx, true).
		Where("account_id = ?", accountID).
		Order("modified_at DESC").
		First(session).Error
	if err != nil {
		if frame.ErrorIsNoRows(err) {
			return nil, nil
		}
		return nil, err
	}
	return session, nil
}

// SaveCredentials upserts the canonical session row for the account.
func (sr *sessionRepository) SaveCredentials(ctx context.Context, accountID string, creds data.JSONMap) error {
	existing, err := sr.GetByAccountID(ctx, accountID)
	if err != nil {
		return err
	}
	if existing == nil {
		existing = &models.Session{AccountID: accountID}
		existing.GenID(ctx)
	}
	existing.Creds = creds
	return sr.Svc().DB(ctx, false).Save(existing).Error
}

// Reconcile deletes every session row for the account except the newest.
// Post condition: at most one row per account id.
func (sr *sessionRepository) Reconcile(ctx context.Context, accountID string) (int64, error) {
	var sessions []*models.Session
	err := sr.Svc().DB(ctx, true).
		Where("account_id = ?", accountID).
		Order("modified_at DESC").
		Find(&sessions).Error
	if err != nil {
		return 0, err
	}

	if len(sessions) <= 1 {
		return 0, nil
	}

	staleIDs := make([]string, 0, len(sessions)-1)
	for _, stale := range sessions[1:] {
		staleIDs = append(staleIDs, stale.GetID())
	}

	result := sr.Svc().DB(ctx, false).
		Where("id IN ?", staleIDs).
		Delete(&models.Session{})
	return result.RowsAffected, result.Error
}

// DeleteByAccountID removes all session rows for the account.
func (sr *sessionRepository) DeleteByAccountID(ctx context.Context, accountID string) error {
	return sr.Svc().DB(ctx, false).
		Where("account_id = ?", accountID).
		Delete(&models.Session{}).Error
}

// ListByRecency returns all sessions, most recently modified first.
func (sr *sessionRepository) ListByRecency(ctx context.Context) ([]*models.Session, error) {
	var sessions []*models.Session
	err := sr.Svc().DB(ctx, true).
		Order("modified_at DESC").
		Find(&sessions).Error
	return sessions, err
}

// NewSessionRepository creates a new session repository instance.
func NewSessionRepository(service *frame.Service) SessionRepository {
	return &sessionRepository{
		BaseRepository: framedata.NewBaseRepository[*models.Session](
			service,
			func() *models.Session { return &models.Session{} },
		),
	}
}
