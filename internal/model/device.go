package model

import "time"

// Provider identifies an upstream sensor vendor.
type Provider string

const (
	ProviderQingping Provider = "qingping"
)

// Device represents one physical sensor bound to a tenant.
//
// The (provider, provider_device_id) pair is unique across the whole
// system: at most one live device may claim a given physical sensor.
type Device struct {
	ID               int64    `gorm:"primaryKey;autoIncrement" json:"id"`
	TenantID         int64    `gorm:"index;not null" json:"tenantId"`
	RoomID           *int64   `gorm:"index" json:"roomId,omitempty"`
	Provider         Provider `gorm:"size:32;not null;uniqueIndex:idx_provider_identity" json:"provider"`
	ProviderDeviceID string   `gorm:"size:64;not null;uniqueIndex:idx_provider_identity" json:"providerDeviceId"`
	DisplayName      string   `gorm:"size:256;not null" json:"displayName"`
	// NameLocked is set once a tenant renames the device; provider syncs
	// stop overwriting DisplayName after that.
	NameLocked         bool   `json:"-"`
	Model              string `gorm:"size:64" json:"model,omitempty"`
	Timezone           string `gorm:"size:64" json:"timezone,omitempty"`
	Offline            bool   `json:"offline"`
	LastReadingAt      int64  `json:"lastReadingAt"` // unix milliseconds, 0 = never
	LastBattery        *int   `json:"lastBattery,omitempty"`
	LastAQI            *int   `json:"lastAqi,omitempty"`
	VisibleMetrics     string `gorm:"size:256" json:"visibleMetrics"` // comma-separated metric names
	ReportIntervalSecs int    `json:"reportIntervalSecs"`
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// DeletedDevice is a tombstone recording that a tenant explicitly removed
// a device, so a concurrent or later sync does not silently re-create it.
type DeletedDevice struct {
	ID               int64    `gorm:"primaryKey;autoIncrement"`
	TenantID         int64    `gorm:"not null;uniqueIndex:idx_tombstone"`
	Provider         Provider `gorm:"size:32;not null;uniqueIndex:idx_tombstone"`
	ProviderDeviceID string   `gorm:"size:64;not null;uniqueIndex:idx_tombstone"`
	CreatedAt        time.Time
}
