package business

import (
	"context"
	"time"

	"github.com/pitabwire/frame/cache"
	"github.com/pitabwire/frame/data"
	"github.com/pitabwire/util"

	"github.com/antinvestor/service-wabridge/apps/bridge/service"
	"github.com/antinvestor/service-wabridge/internal"
)

const settingsCacheTTL = 5 * time.Minute

// defaultSettings returns the option set every account starts from. Stored
// overrides are merged on top.
func defaultSettings() data.JSONMap {
	return data.JSONMap{
		"AUTO_VIEW_STATUS": "false",
		"AUTO_LIKE_STATUS": "false",
		"AUTO_RECORDING":   "true",
		"AUTO_LIKE_EMOJI":  []string{"🗿", "⌚️", "💠", "👣", "🦊"},
		"PREFIX":           ".",
		"MODE":             "private",
		"MAX_RETRIES":      3,
	}
}

type settingsBusiness struct {
	repo  SettingStore
	cache cache.Cache[string, data.JSONMap]
}

// NewSettingsBusiness builds the per-account settings service backed by the
// setting repository with a read-through cache.
func NewSettingsBusiness(repo SettingStore, rawCache cache.RawCache) SettingsBusiness {
	return &settingsBusiness{
		repo: repo,
		cache: cache.NewGenericCache[string, data.JSONMap](rawCache, func(accountID string) string {
			return "settings:" + accountID
		}),
	}
}

// Get returns the effective options for an account: defaults overlaid with
// whatever the account has stored.
func (sb *settingsBusiness) Get(ctx context.Context, rawAccountID string) (data.JSONMap, error) {
	accountID := internal.NormalizeAccountID(rawAccountID)
	if !internal.IsValidAccountID(accountID) {
		return nil, service.ErrInvalidAccountID
	}

	cached, hit, err := sb.cache.Get(ctx, accountID)
	if err != nil {
		util.Log(ctx).WithError(err).Debug("settings cache read failed")
	}
	if hit {
		return cached, nil
	}

	effective := defaultSettings()

	stored, err := sb.repo.GetByAccountID(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if stored != nil {
		for k, v := range stored.Options {
			effective[k] = v
		}
	}

	if err = sb.cache.Set(ctx, accountID, effective, settingsCacheTTL); err != nil {
		util.Log(ctx).WithError(err).Debug("settings cache write failed")
	}
	return effective, nil
}

// Update merges a partial option set into the account's stored overrides and
// invalidates the cached effective view.
func (sb *settingsBusiness) Update(ctx context.Context, rawAccountID string, partial data.JSONMap) error {
	accountID := internal.NormalizeAccountID(rawAccountID)
	if !internal.IsValidAccountID(accountID) {
		return service.ErrInvalidAccountID
	}

	if err := sb.repo.Merge(ctx, accountID, partial); err != nil {
		return err
	}

	if err := sb.cache.Delete(ctx, accountID); err != nil {
		util.Log(ctx).WithError(err).Debug("settings cache invalidation failed")
	}
	return nil
}
