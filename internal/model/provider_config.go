package model

import "time"

// ProviderConfig holds one tenant's credentials and OAuth state for one
// provider. At most one config exists per (tenant, provider).
type ProviderConfig struct {
	ID             int64    `gorm:"primaryKey;autoIncrement"`
	TenantID       int64    `gorm:"not null;uniqueIndex:idx_provider_config"`
	Provider       Provider `gorm:"size:32;not null;uniqueIndex:idx_provider_config"`
	AppKey         string   `gorm:"size:128"`
	AppSecret      string   `gorm:"size:128"`
	WebhookSecret  string   `gorm:"size:128"`
	AccessToken    string   `gorm:"size:2048"`
	TokenExpiresAt time.Time
	LastSyncAt     *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}
