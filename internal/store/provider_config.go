package store

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"airsense-backend/internal/apperr"
	"airsense-backend/internal/model"
)

// GetProviderConfig loads a tenant's credentials for one provider.
func (s *gormStore) GetProviderConfig(ctx context.Context, tenantID int64, provider model.Provider) (*model.ProviderConfig, error) {
	var cfg model.ProviderConfig
	err := s.db.WithContext(ctx).
		Where("tenant_id = ? AND provider = ?", tenantID, provider).
		First(&cfg).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFoundf("no %s configuration for tenant %d", provider, tenantID)
		}
		return nil, err
	}
	return &cfg, nil
}

// UpsertProviderConfig creates or replaces the (tenant, provider) config.
func (s *gormStore) UpsertProviderConfig(ctx context.Context, cfg *model.ProviderConfig) error {
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "tenant_id"}, {Name: "provider"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"app_key", "app_secret", "webhook_secret",
			"access_token", "token_expires_at", "updated_at",
		}),
	}).Create(cfg).Error
}

// ListProviderConfigs returns every provider config in the system; the
// refresh and poll schedules iterate over all of them.
func (s *gormStore) ListProviderConfigs(ctx context.Context) ([]model.ProviderConfig, error) {
	var configs []model.ProviderConfig
	if err := s.db.WithContext(ctx).Find(&configs).Error; err != nil {
		return nil, err
	}
	return configs, nil
}

// UpdateProviderToken persists a freshly acquired access token.
func (s *gormStore) UpdateProviderToken(ctx context.Context, id int64, accessToken string, expiresAt time.Time) error {
	return s.db.WithContext(ctx).Model(&model.ProviderConfig{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"access_token":     accessToken,
			"token_expires_at": expiresAt,
		}).Error
}

// TouchProviderSync records when a device sync last completed.
func (s *gormStore) TouchProviderSync(ctx context.Context, id int64, at time.Time) error {
	return s.db.WithContext(ctx).Model(&model.ProviderConfig{}).
		Where("id = ?", id).
		Update("last_sync_at", at).Error
}
