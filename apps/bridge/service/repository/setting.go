package repository

import (
	"context"

	"github.com/pitabwire/frame"
	"github.com/pitabwire/frame/data"
	"github.com/pitabwire/frame/framedata"

	"github.com/antinvestor/service-wabridge/apps/bridge/service/models"
)

type settingRepository struct {
	framedata.BaseRepository[*models.Setting]
}

// GetByID retrieves a setting row by its row ID.
func (str *settingRepository) GetByID(ctx context.Context, id string) (*models.Setting, error) {
	setting := &models.Setting{}
	err := str.Svc().DB(ctx, true).First(setting, "id = ?", id).Error
	return setting, err
}

// Save creates or updates a setting row.
func (str *settingRepository) Save(ctx context.Context, setting *models.Setting) error {
	return str.Svc().DB(ctx, false).Save(setting).Error
}

// Delete soft deletes a setting row by its ID.
func (str *settingRepository) Delete(ctx context.Context, id string) error {
	setting, err := str.GetByID(ctx, id)
	if err != nil {
		return err
	}
	return str.Svc().DB(ctx, false).Delete(setting).Error
}

// GetByAccountID returns the stored option overrides for an account, or nil
// when the account has never written settings.
func (str *settingRepository) GetByAccountID(ctx context.Context, accountID string) (*models.Setting, error) {
	setting := &models.Setting{}
	err := str.Svc().DB(ctx, true).
		Where("account_id = ?", accountID).
		First(setting).Error
	if err != nil {
		if frame.ErrorIsNoRows(err) {
			return nil, nil
		}
		return nil, err
	}
	return setting, nil
}

// Merge applies a partial options update, creating the row on first write.
func (str *settingRepository) Merge(ctx context.Context, accountID string, partial data.JSONMap) error {
	existing, err := str.GetByAccountID(ctx, accountID)
	if err != nil {
		return err
	}
	if existing == nil {
		existing = &models.Setting{AccountID: accountID, Options: data.JSONMap{}}
		existing.GenID(ctx)
	}
	if existing.Options == nil {
		existing.Options = data.JSONMap{}
	}
	for key, value := range partial {
		existing.Options[key] = value
	}
	return str.Svc().DB(ctx, false).Save(existing).Error
}

// DeleteByAccountID removes the setting row for the account. Idempotent.
func (str *settingRepository) DeleteByAccountID(ctx context.Context, accountID string) error {
	return str.Svc().DB(ctx, false).
		Where("account_id = ?", accountID).
		Delete(&models.Setting{}).Error
}

// NewSettingRepository creates a new setting repository instance.
func NewSettingRepository(service *frame.Service) SettingRepository {
	return &settingRepository{
		BaseRepository: framedata.NewBaseRepository[*models.Setting](
			service,
			func() *models.Setting { return &models.Setting{} },
		),
	}
}
