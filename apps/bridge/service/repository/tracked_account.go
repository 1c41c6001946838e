package repository

import (
	"context"

	"github.com/pitabwire/frame"
	"github.com/pitabwire/frame/framedata"

	"github.com/antinvestor/service-wabridge/apps/bridge/service/models"
)

type trackedAccountRepository struct {
	framedata.BaseRepository[*models.TrackedAccount]
}

// GetByID retrieves a tracked account by its row ID.
func (tr *trackedAccountRepository) GetByID(ctx context.Context, id string) (*models.TrackedAccount, error) {
	account := &models.TrackedAccount{}
	err := tr.Svc().DB(ctx, true).First(account, "id = ?", id).Error
	return account, err
}

// Save creates or updates a tracked account row.
func (tr *trackedAccountRepository) Save(ctx context.Context, account *models.TrackedAccount) error {
	return tr.Svc().DB(ctx, false).Save(account).Error
}

// Delete soft deletes a tracked account row by its ID.
func (tr *trackedAccountRepository) Delete(ctx context.Context, id string) error {
	account, err := tr.GetByID(ctx, id)
	if err != nil {
		return err
	}
	return tr.Svc().DB(ctx, false).Delete(account).Error
}

// Add records an account in the tracked set. Adding an account that is
// already tracked is a no-op.
func (tr *trackedAccountRepository) Add(ctx context.Context, accountID string) error {
	existing := &models.TrackedAccount{}
	err := tr.Svc().DB(ctx, true).
		Where("account_id = ?", accountID).
		First(existing).Error
	if err == nil {
		return nil
	}
	if !frame.ErrorIsNoRows(err) {
		return err
	}

	tracked := &models.TrackedAccount{AccountID: accountID}
	tracked.GenID(ctx)
	return tr.Svc().DB(ctx, false).Save(tracked).Error
}

// ListAccountIDs returns all tracked account ids, oldest first.
func (tr *trackedAccountRepository) ListAccountIDs(ctx context.Context) ([]string, error) {
	var accounts []*models.TrackedAccount
	err := tr.Svc().DB(ctx, true).
		Order("created_at ASC").
		Find(&accounts).Error
	if err != nil {
		return nil, err
	}

	accountIDs := make([]string, 0, len(accounts))
	for _, account := range accounts {
		accountIDs = append(accountIDs, account.AccountID)
	}
	return accountIDs, nil
}

// Remove drops an account from the tracked set. Idempotent.
func (tr *trackedAccountRepository) Remove(ctx context.Context, accountID string) error {
	return tr.Svc().DB(ctx, false).
		Where("account_id = ?", accountID).
		Delete(&models.TrackedAccount{}).Error
}

// NewTrackedAccountRepository creates a new tracked account repository instance.
func NewTrackedAccountRepository(service *frame.Service) TrackedAccountRepository {
	return &trackedAccountRepository{
		BaseRepository: framedata.NewBaseRepository[*models.TrackedAccount](
			service,
			func() *models.TrackedAccount { return &models.TrackedAccount{} },
		),
	}
}
