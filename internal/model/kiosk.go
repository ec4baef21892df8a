package model

import (
	"encoding/json"
	"time"
)

// EmbedToken authorizes anonymous access to a single device's data from
// an embeddable widget. Deleted when its device is deleted.
type EmbedToken struct {
	Token     string `gorm:"primaryKey;size:64"`
	TenantID  int64  `gorm:"index;not null"`
	DeviceID  int64  `gorm:"index;not null"`
	CreatedAt time.Time
}

// KioskConfig is a wall-display configuration referencing a list of
// devices. Only the device-list membership matters to the core: device
// deletion must strip the deleted id from every kiosk.
type KioskConfig struct {
	ID        int64  `gorm:"primaryKey;autoIncrement"`
	TenantID  int64  `gorm:"index;not null"`
	Name      string `gorm:"size:256;not null"`
	DeviceIDs string `gorm:"size:2048"` // JSON-encoded []int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Devices decodes the kiosk's device-id list.
func (k *KioskConfig) Devices() ([]int64, error) {
	if k.DeviceIDs == "" {
		return nil, nil
	}
	var ids []int64
	if err := json.Unmarshal([]byte(k.DeviceIDs), &ids); err != nil {
		return nil, err
	}
	return ids, nil
}

// SetDevices encodes the kiosk's device-id list.
func (k *KioskConfig) SetDevices(ids []int64) error {
	b, err := json.Marshal(ids)
	if err != nil {
		return err
	}
	k.DeviceIDs = string(b)
	return nil
}
