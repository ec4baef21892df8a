package store

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"gorm.io/gorm"

	"airsense-backend/internal/apperr"
	"airsense-backend/internal/model"
	"airsense-backend/internal/parse"
)

// DefaultConnectRetryDelay is how long AddByMAC waits before retrying
// the backfill sync when provider credentials are not present yet (a
// race with the initial connect flow).
const DefaultConnectRetryDelay = 30 * time.Second

// ProviderDevice is provider-reported device metadata for an upsert.
type ProviderDevice struct {
	Provider         model.Provider
	ProviderDeviceID string
	Name             string
	Model            string
	Timezone         string
	Offline          bool
	ReportInterval   int
}

// DeleteCounts reports what a device deletion cascaded to.
type DeleteCounts struct {
	Readings      int64 `json:"readings"`
	EmbedTokens   int64 `json:"embedTokens"`
	KiosksUpdated int64 `json:"kiosksUpdated"`
}

// UpsertFromProvider reconciles one provider-reported device. If a
// device with this (provider, providerDeviceId) exists its provider-owned
// metadata is patched; otherwise a new device is created for the tenant,
// unless a tombstone blocks automatic re-creation.
//
// The returned id is 0 when creation was suppressed by a tombstone;
// callers skip ingestion for that device.
func (s *gormStore) UpsertFromProvider(ctx context.Context, tenantID int64, dev ProviderDevice) (int64, error) {
	var deviceID int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing model.Device
		err := tx.Where("provider = ? AND provider_device_id = ?", dev.Provider, dev.ProviderDeviceID).
			First(&existing).Error
		if err == nil {
			updates := map[string]any{
				"model":                dev.Model,
				"offline":              dev.Offline,
				"report_interval_secs": dev.ReportInterval,
			}
			if dev.Timezone != "" {
				updates["timezone"] = dev.Timezone
			}
			// Provider names win only until the tenant renames the device.
			if !existing.NameLocked && dev.Name != "" {
				updates["display_name"] = dev.Name
			}
			if err := tx.Model(&model.Device{}).Where("id = ?", existing.ID).Updates(updates).Error; err != nil {
				return err
			}
			deviceID = existing.ID
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		var tombstones int64
		if err := tx.Model(&model.DeletedDevice{}).
			Where("tenant_id = ? AND provider = ? AND provider_device_id = ?", tenantID, dev.Provider, dev.ProviderDeviceID).
			Count(&tombstones).Error; err != nil {
			return err
		}
		if tombstones > 0 {
			// Explicitly removed by the tenant; only AddByMAC revives it.
			deviceID = 0
			return nil
		}

		created := model.Device{
			TenantID:           tenantID,
			Provider:           dev.Provider,
			ProviderDeviceID:   dev.ProviderDeviceID,
			DisplayName:        dev.Name,
			Model:              dev.Model,
			Timezone:           dev.Timezone,
			Offline:            dev.Offline,
			ReportIntervalSecs: dev.ReportInterval,
		}
		if created.DisplayName == "" {
			created.DisplayName = dev.ProviderDeviceID
		}
		if err := tx.Create(&created).Error; err != nil {
			return err
		}
		deviceID = created.ID
		return nil
	})
	return deviceID, err
}

// AddByMAC registers a device by MAC address on behalf of a tenant. The
// check-then-write runs in one transaction so two concurrent calls
// cannot both claim the same MAC.
func (s *gormStore) AddByMAC(ctx context.Context, tenantID int64, name, mac string, provider model.Provider) (int64, error) {
	normalized, err := parse.NormalizeMAC(mac)
	if err != nil {
		return 0, err
	}

	var deviceID int64
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Re-adding deliberately clears any tombstone for this device.
		if err := tx.Where("tenant_id = ? AND provider = ? AND provider_device_id = ?", tenantID, provider, normalized).
			Delete(&model.DeletedDevice{}).Error; err != nil {
			return err
		}

		var existing model.Device
		err := tx.Where("provider = ? AND provider_device_id = ?", provider, normalized).
			First(&existing).Error
		switch {
		case err == nil && existing.TenantID == tenantID:
			// Idempotent re-add.
			deviceID = existing.ID
			return nil

		case err == nil:
			transferred, terr := s.resolveForeignClaim(tx, tenantID, &existing)
			if terr != nil {
				return terr
			}
			if transferred {
				deviceID = existing.ID
				return nil
			}
			// Orphaned by a deleted account: history is gone, fall
			// through to create fresh.

		case !errors.Is(err, gorm.ErrRecordNotFound):
			return err
		}

		created := model.Device{
			TenantID:         tenantID,
			Provider:         provider,
			ProviderDeviceID: normalized,
			DisplayName:      name,
			NameLocked:       name != "",
		}
		if created.DisplayName == "" {
			created.DisplayName = "Sensor " + normalized[6:]
		}
		if err := tx.Create(&created).Error; err != nil {
			return err
		}
		deviceID = created.ID
		return nil
	})
	if err != nil {
		return 0, err
	}

	s.scheduleBackfillSync(ctx, tenantID, provider)
	return deviceID, nil
}

// resolveForeignClaim handles an AddByMAC hitting a device owned by a
// different tenant. Returns true if ownership was transferred in place,
// false if the prior owner's account was gone and the device row was
// removed (orphan cleanup) so the caller can create fresh.
func (s *gormStore) resolveForeignClaim(tx *gorm.DB, tenantID int64, existing *model.Device) (bool, error) {
	var prior model.Tenant
	priorErr := tx.First(&prior, existing.TenantID).Error
	if priorErr != nil && !errors.Is(priorErr, gorm.ErrRecordNotFound) {
		return false, priorErr
	}

	if errors.Is(priorErr, gorm.ErrRecordNotFound) {
		// Prior owner no longer exists: self-heal by discarding the
		// orphaned device and its readings.
		if err := tx.Where("device_id = ?", existing.ID).Delete(&model.Reading{}).Error; err != nil {
			return false, err
		}
		if err := tx.Delete(&model.Device{}, existing.ID).Error; err != nil {
			return false, err
		}
		slog.Info("cleaned up orphaned device during re-claim",
			"device_id", existing.ID, "prior_tenant_id", existing.TenantID)
		return false, nil
	}

	var claimant model.Tenant
	if err := tx.First(&claimant, tenantID).Error; err != nil {
		return false, err
	}

	// Same verified email means the same person re-signed up; move the
	// device over. Anything else is a genuine conflict.
	if prior.Email != "" && prior.Email == claimant.Email {
		if err := tx.Model(&model.Device{}).Where("id = ?", existing.ID).
			Update("tenant_id", tenantID).Error; err != nil {
			return false, err
		}
		existing.TenantID = tenantID
		slog.Info("transferred device to re-created account",
			"device_id", existing.ID, "tenant_id", tenantID)
		return true, nil
	}

	return false, apperr.Conflictf("device %s is already registered to another account", existing.ProviderDeviceID)
}

// scheduleBackfillSync queues a provider sync so a freshly added device
// gets readings quickly. When credentials are not present yet (racing
// the connect flow), the sync is delayed instead of dropped.
func (s *gormStore) scheduleBackfillSync(ctx context.Context, tenantID int64, provider model.Provider) {
	if s.scheduler == nil {
		return
	}
	runAt := s.now()
	if _, err := s.GetProviderConfig(ctx, tenantID, provider); err != nil {
		runAt = runAt.Add(s.connectRetryDelay)
	}
	payload := TenantSyncPayload{TenantID: tenantID, Provider: provider}
	if err := s.scheduler.Enqueue(ctx, JobTenantSync, payload, runAt); err != nil {
		slog.Error("failed to schedule backfill sync", "tenant_id", tenantID, "error", err)
	}
}

// DeleteDevice removes a device and everything hanging off it. The
// tombstone is committed before any deletion so a concurrent sync cannot
// resurrect the device mid-cascade. Each cascade category is best-effort
// and isolated; a failure in one is logged and does not block the others.
func (s *gormStore) DeleteDevice(ctx context.Context, deviceID int64) (*DeleteCounts, error) {
	var device model.Device
	if err := s.db.WithContext(ctx).First(&device, deviceID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFoundf("device %d not found", deviceID)
		}
		return nil, err
	}

	tombstone := model.DeletedDevice{
		TenantID:         device.TenantID,
		Provider:         device.Provider,
		ProviderDeviceID: device.ProviderDeviceID,
	}
	var existing int64
	if err := s.db.WithContext(ctx).Model(&model.DeletedDevice{}).
		Where("tenant_id = ? AND provider = ? AND provider_device_id = ?",
			tombstone.TenantID, tombstone.Provider, tombstone.ProviderDeviceID).
		Count(&existing).Error; err != nil {
		return nil, err
	}
	if existing == 0 {
		if err := s.db.WithContext(ctx).Create(&tombstone).Error; err != nil {
			return nil, err
		}
	}

	counts := &DeleteCounts{}

	res := s.db.WithContext(ctx).Where("device_id = ?", deviceID).Delete(&model.Reading{})
	if res.Error != nil {
		slog.Error("failed to delete readings for device", "device_id", deviceID, "error", res.Error)
	} else {
		counts.Readings = res.RowsAffected
	}

	res = s.db.WithContext(ctx).Where("device_id = ?", deviceID).Delete(&model.EmbedToken{})
	if res.Error != nil {
		slog.Error("failed to delete embed tokens for device", "device_id", deviceID, "error", res.Error)
	} else {
		counts.EmbedTokens = res.RowsAffected
	}

	updated, err := s.stripDeviceFromKiosks(ctx, device.TenantID, deviceID)
	if err != nil {
		slog.Error("failed to strip device from kiosk configs", "device_id", deviceID, "error", err)
	} else {
		counts.KiosksUpdated = updated
	}

	if err := s.db.WithContext(ctx).Delete(&model.Device{}, deviceID).Error; err != nil {
		return nil, err
	}
	return counts, nil
}

func (s *gormStore) stripDeviceFromKiosks(ctx context.Context, tenantID, deviceID int64) (int64, error) {
	var kiosks []model.KioskConfig
	if err := s.db.WithContext(ctx).Where("tenant_id = ?", tenantID).Find(&kiosks).Error; err != nil {
		return 0, err
	}

	var updated int64
	for i := range kiosks {
		ids, err := kiosks[i].Devices()
		if err != nil {
			slog.Warn("skipping kiosk with undecodable device list", "kiosk_id", kiosks[i].ID, "error", err)
			continue
		}
		kept := ids[:0]
		removed := false
		for _, id := range ids {
			if id == deviceID {
				removed = true
				continue
			}
			kept = append(kept, id)
		}
		if !removed {
			continue
		}
		if err := kiosks[i].SetDevices(kept); err != nil {
			return updated, err
		}
		if err := s.db.WithContext(ctx).Model(&model.KioskConfig{}).
			Where("id = ?", kiosks[i].ID).
			Update("device_ids", kiosks[i].DeviceIDs).Error; err != nil {
			return updated, err
		}
		updated++
	}
	return updated, nil
}

// CleanupOrphanedReadings deletes readings whose device no longer
// exists. Maintenance sweep, not part of the hot path.
func (s *gormStore) CleanupOrphanedReadings(ctx context.Context) (int64, error) {
	res := s.db.WithContext(ctx).
		Where("device_id NOT IN (?)", s.db.Model(&model.Device{}).Select("id")).
		Delete(&model.Reading{})
	if res.Error != nil {
		return 0, res.Error
	}
	if res.RowsAffected > 0 {
		slog.Info("deleted orphaned readings", "count", res.RowsAffected)
	}
	return res.RowsAffected, nil
}

// RenameDevice sets a tenant-chosen display name and locks it against
// provider overwrites on subsequent syncs.
func (s *gormStore) RenameDevice(ctx context.Context, tenantID, deviceID int64, name string) error {
	if name == "" {
		return apperr.Validationf("device name must not be empty")
	}
	return s.updateOwnedDevice(ctx, tenantID, deviceID, map[string]any{
		"display_name": name,
		"name_locked":  true,
	})
}

// UpdateVisibleMetrics stores the tenant's dashboard metric selection.
func (s *gormStore) UpdateVisibleMetrics(ctx context.Context, tenantID, deviceID int64, metrics string) error {
	return s.updateOwnedDevice(ctx, tenantID, deviceID, map[string]any{
		"visible_metrics": metrics,
	})
}

// UpdateReportInterval records the device's report-interval setting.
// Pushing the change to the provider is the orchestrator's job.
func (s *gormStore) UpdateReportInterval(ctx context.Context, tenantID, deviceID int64, seconds int) error {
	if seconds <= 0 {
		return apperr.Validationf("report interval must be positive")
	}
	return s.updateOwnedDevice(ctx, tenantID, deviceID, map[string]any{
		"report_interval_secs": seconds,
	})
}

func (s *gormStore) updateOwnedDevice(ctx context.Context, tenantID, deviceID int64, updates map[string]any) error {
	res := s.db.WithContext(ctx).Model(&model.Device{}).
		Where("id = ? AND tenant_id = ?", deviceID, tenantID).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return apperr.NotFoundf("device %d not found", deviceID)
	}
	return nil
}
