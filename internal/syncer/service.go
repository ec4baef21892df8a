// Package syncer coordinates the provider-facing pipeline: OAuth token
// lifecycle, device reconciliation and reading ingestion, plus the
// recurring poll, refresh and retention schedules.
package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"airsense-backend/config"
	"airsense-backend/internal/apperr"
	"airsense-backend/internal/jobs"
	"airsense-backend/internal/metrics"
	"airsense-backend/internal/model"
	"airsense-backend/internal/notification"
	"airsense-backend/internal/parse"
	"airsense-backend/internal/qingping"
	"airsense-backend/internal/store"
)

// tokenRefreshWindow is how close to expiry a token must be before the
// refresh schedule re-authenticates it.
const tokenRefreshWindow = 10 * time.Minute

// ProviderClient is the upstream API surface the orchestrator needs.
type ProviderClient interface {
	GetAccessToken(ctx context.Context, appKey, appSecret string) (*qingping.Token, error)
	ListDevices(ctx context.Context, accessToken string) ([]qingping.RawDevice, error)
	UpdateDeviceSettings(ctx context.Context, accessToken, mac string, reportIntervalSecs, collectIntervalSecs int) error
	UnbindDevice(ctx context.Context, accessToken, mac string) error
}

// Service orchestrates provider synchronization against the store.
type Service struct {
	cfg    *config.Config
	store  store.Store
	client ProviderClient
	alerts *notification.WorkerPool
	now    func() time.Time
}

// NewService creates the orchestrator. The alert pool may be nil when
// alerts are disabled.
func NewService(cfg *config.Config, s store.Store, client ProviderClient, alerts *notification.WorkerPool) *Service {
	return &Service{
		cfg:    cfg,
		store:  s,
		client: client,
		alerts: alerts,
		now:    time.Now,
	}
}

// SetClock injects the time source for tests.
func (s *Service) SetClock(now func() time.Time) { s.now = now }

// ConnectAndSync links a tenant's provider account: acquires a token,
// persists the config, then immediately runs a full device sync.
func (s *Service) ConnectAndSync(ctx context.Context, tenantID int64, provider model.Provider, appKey, appSecret, webhookSecret string) error {
	token, err := s.client.GetAccessToken(ctx, appKey, appSecret)
	if err != nil {
		return err
	}

	cfg := &model.ProviderConfig{
		TenantID:       tenantID,
		Provider:       provider,
		AppKey:         appKey,
		AppSecret:      appSecret,
		WebhookSecret:  webhookSecret,
		AccessToken:    token.AccessToken,
		TokenExpiresAt: token.ExpiresAt,
	}
	if err := s.store.UpsertProviderConfig(ctx, cfg); err != nil {
		return fmt.Errorf("failed to persist provider config: %w", err)
	}

	_, err = s.SyncTenant(ctx, tenantID, provider)
	return err
}

// SyncTenant reconciles and ingests every provider device for one
// tenant. A missing config or token is a no-op, not an error: the
// credentials may simply not exist yet. Failures on individual devices
// are logged and skipped so one bad device cannot stall the rest of the
// fleet; the count of skipped devices is returned.
func (s *Service) SyncTenant(ctx context.Context, tenantID int64, provider model.Provider) (int, error) {
	cfg, err := s.store.GetProviderConfig(ctx, tenantID, provider)
	if err != nil {
		var nf *apperr.NotFoundError
		if errors.As(err, &nf) {
			return 0, nil
		}
		return 0, err
	}
	if cfg.AccessToken == "" {
		return 0, nil
	}

	devices, err := s.client.ListDevices(ctx, cfg.AccessToken)
	if err != nil {
		metrics.SyncCycles.WithLabelValues("error").Inc()
		return 0, err
	}

	failed := 0
	for _, raw := range devices {
		if err := s.syncDevice(ctx, tenantID, raw); err != nil {
			failed++
			metrics.DeviceSyncFailures.Inc()
			slog.Warn("skipping device during sync",
				"tenant_id", tenantID, "mac", raw.Info.MAC, "error", err)
		}
	}

	if err := s.store.TouchProviderSync(ctx, cfg.ID, s.now()); err != nil {
		slog.Error("failed to record sync time", "tenant_id", tenantID, "error", err)
	}
	metrics.SyncCycles.WithLabelValues("ok").Inc()
	return failed, nil
}

func (s *Service) syncDevice(ctx context.Context, tenantID int64, raw qingping.RawDevice) error {
	identity := qingping.MapDevice(raw.Info)
	mac, err := parse.NormalizeMAC(identity.ProviderDeviceID)
	if err != nil {
		return err
	}

	deviceID, err := s.store.UpsertFromProvider(ctx, tenantID, store.ProviderDevice{
		Provider:         model.ProviderQingping,
		ProviderDeviceID: mac,
		Name:             identity.Name,
		Model:            identity.Model,
		Timezone:         identity.Timezone,
		Offline:          identity.Offline,
		ReportInterval:   identity.ReportInterval,
	})
	if err != nil {
		return err
	}
	if deviceID == 0 {
		// Tombstoned; the tenant removed it deliberately.
		return nil
	}

	reading := qingping.MapReading(raw.Data, s.now())
	if reading == nil {
		return nil
	}

	res, err := s.store.Ingest(ctx, deviceID, sampleFrom(reading))
	if err != nil {
		return err
	}
	if !res.Duplicate {
		metrics.ReadingsIngested.WithLabelValues("poll").Inc()
	}
	s.maybeAlert(res)
	return nil
}

// IngestPushed ingests webhook-pushed samples for an already-resolved
// device and runs the same alerting as the poll path.
func (s *Service) IngestPushed(ctx context.Context, deviceID int64, samples []qingping.DeviceData) (int, error) {
	ingested := 0
	for _, data := range samples {
		reading := qingping.MapReading(data, s.now())
		if reading == nil {
			continue
		}
		res, err := s.store.Ingest(ctx, deviceID, sampleFrom(reading))
		if err != nil {
			return ingested, err
		}
		if !res.Duplicate {
			ingested++
			metrics.ReadingsIngested.WithLabelValues("webhook").Inc()
		}
		s.maybeAlert(res)
	}
	return ingested, nil
}

// maybeAlert dispatches a push alert when the computed AQI crosses the
// configured threshold upward.
func (s *Service) maybeAlert(res *store.IngestResult) {
	if s.alerts == nil || !s.cfg.Alerts.Enabled || res.Reading.AQI == nil {
		return
	}
	threshold := s.cfg.Alerts.AQIThreshold
	crossed := *res.Reading.AQI >= threshold && (res.PrevAQI == nil || *res.PrevAQI < threshold)
	if !crossed {
		return
	}
	s.alerts.Dispatch(notification.Alert{
		DeviceID:   res.Reading.DeviceID,
		DeviceName: res.Reading.DeviceName,
		AQI:        *res.Reading.AQI,
	})
}

// RefreshExpiringTokens re-authenticates every provider config whose
// token expires within the refresh window. Configs without credentials
// are skipped; they cannot be refreshed.
func (s *Service) RefreshExpiringTokens(ctx context.Context) error {
	configs, err := s.store.ListProviderConfigs(ctx)
	if err != nil {
		return err
	}

	deadline := s.now().Add(tokenRefreshWindow)
	for _, cfg := range configs {
		if cfg.AppKey == "" || cfg.AppSecret == "" {
			continue
		}
		if cfg.TokenExpiresAt.After(deadline) {
			continue
		}

		token, err := s.client.GetAccessToken(ctx, cfg.AppKey, cfg.AppSecret)
		if err != nil {
			metrics.TokenRefreshes.WithLabelValues("error").Inc()
			slog.Error("token refresh failed", "tenant_id", cfg.TenantID, "error", err)
			continue
		}
		if err := s.store.UpdateProviderToken(ctx, cfg.ID, token.AccessToken, token.ExpiresAt); err != nil {
			slog.Error("failed to persist refreshed token", "tenant_id", cfg.TenantID, "error", err)
			continue
		}
		metrics.TokenRefreshes.WithLabelValues("ok").Inc()
	}
	return nil
}

// PollAllReadings runs a device sync for every provider config. This is
// the redundant fallback alongside webhook push: data stays continuous
// even when webhooks are missed.
func (s *Service) PollAllReadings(ctx context.Context) {
	configs, err := s.store.ListProviderConfigs(ctx)
	if err != nil {
		slog.Error("failed to list provider configs for poll", "error", err)
		return
	}
	for _, cfg := range configs {
		if _, err := s.SyncTenant(ctx, cfg.TenantID, cfg.Provider); err != nil {
			slog.Error("poll failed for tenant", "tenant_id", cfg.TenantID, "error", err)
		}
	}
}

// PushReportInterval updates a device's report interval both upstream
// and locally, and logs the change as an auditable event.
func (s *Service) PushReportInterval(ctx context.Context, tenantID, deviceID int64, seconds int) error {
	if err := s.store.UpdateReportInterval(ctx, tenantID, deviceID, seconds); err != nil {
		return err
	}

	var device model.Device
	if err := s.store.DB().WithContext(ctx).First(&device, deviceID).Error; err != nil {
		return err
	}

	token, err := s.validTokenFor(ctx, tenantID, device.Provider)
	if err != nil {
		return err
	}
	if err := s.client.UpdateDeviceSettings(ctx, token, device.ProviderDeviceID, seconds, seconds); err != nil {
		return err
	}

	slog.Info("audit: report interval changed",
		"tenant_id", tenantID, "device_id", deviceID, "interval_secs", seconds)
	return nil
}

// UnbindFromProvider best-effort releases a device from the provider
// account, for use after a local device deletion.
func (s *Service) UnbindFromProvider(ctx context.Context, tenantID int64, provider model.Provider, mac string) {
	token, err := s.validTokenFor(ctx, tenantID, provider)
	if err != nil {
		slog.Warn("skipping provider unbind", "tenant_id", tenantID, "mac", mac, "error", err)
		return
	}
	if err := s.client.UnbindDevice(ctx, token, mac); err != nil {
		slog.Warn("provider unbind failed", "tenant_id", tenantID, "mac", mac, "error", err)
	}
}

// validTokenFor returns a non-expired access token for the tenant,
// refreshing in place when necessary.
func (s *Service) validTokenFor(ctx context.Context, tenantID int64, provider model.Provider) (string, error) {
	cfg, err := s.store.GetProviderConfig(ctx, tenantID, provider)
	if err != nil {
		return "", err
	}
	if cfg.AccessToken != "" && cfg.TokenExpiresAt.After(s.now()) {
		return cfg.AccessToken, nil
	}
	if cfg.AppKey == "" || cfg.AppSecret == "" {
		return "", apperr.Authf("no usable credentials for tenant %d", tenantID)
	}

	token, err := s.client.GetAccessToken(ctx, cfg.AppKey, cfg.AppSecret)
	if err != nil {
		return "", err
	}
	if err := s.store.UpdateProviderToken(ctx, cfg.ID, token.AccessToken, token.ExpiresAt); err != nil {
		return "", err
	}
	return token.AccessToken, nil
}

// RegisterJobHandlers binds the durable job kinds to their handlers.
func (s *Service) RegisterJobHandlers(q *jobs.Queue) {
	q.Register(store.JobTenantSync, func(ctx context.Context, payload []byte) error {
		var p store.TenantSyncPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return fmt.Errorf("bad %s payload: %w", store.JobTenantSync, err)
		}
		_, err := s.SyncTenant(ctx, p.TenantID, p.Provider)
		return err
	})

	q.Register(store.JobReadingsCleanup, func(ctx context.Context, payload []byte) error {
		var p store.ReadingsCleanupPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return fmt.Errorf("bad %s payload: %w", store.JobReadingsCleanup, err)
		}
		deleted, _, err := s.store.CleanupDeviceReadings(ctx, p.DeviceID, p.CutoffTs)
		if deleted > 0 {
			metrics.ReadingsExpired.Add(float64(deleted))
		}
		return err
	})
}

// Run drives the recurring schedules until the context is cancelled:
// reading polls, token refreshes and the daily retention sweep.
func (s *Service) Run(ctx context.Context) {
	if !s.cfg.Sync.Enabled {
		slog.Info("provider sync is disabled, not starting")
		return
	}
	slog.Info("starting sync service",
		"poll_interval", s.cfg.Sync.PollInterval,
		"token_refresh_interval", s.cfg.Sync.TokenRefreshInterval,
		"retention_sweep_interval", s.cfg.Retention.SweepInterval)

	s.PollAllReadings(ctx)
	if err := s.RefreshExpiringTokens(ctx); err != nil {
		slog.Error("initial token refresh failed", "error", err)
	}

	pollTicker := time.NewTicker(s.cfg.Sync.PollInterval)
	refreshTicker := time.NewTicker(s.cfg.Sync.TokenRefreshInterval)
	sweepTicker := time.NewTicker(s.cfg.Retention.SweepInterval)
	defer pollTicker.Stop()
	defer refreshTicker.Stop()
	defer sweepTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("sync service shutting down")
			return
		case <-pollTicker.C:
			s.PollAllReadings(ctx)
		case <-refreshTicker.C:
			if err := s.RefreshExpiringTokens(ctx); err != nil {
				slog.Error("token refresh pass failed", "error", err)
			}
		case <-sweepTicker.C:
			if n, err := s.store.CleanupExpiredReadings(ctx); err != nil {
				slog.Error("retention sweep failed", "error", err)
			} else {
				slog.Info("retention sweep scheduled cleanup jobs", "jobs", n)
			}
		}
	}
}

func sampleFrom(r *qingping.NormalizedReading) store.Sample {
	return store.Sample{
		Ts:       r.Ts,
		PM25:     r.PM25,
		PM10:     r.PM10,
		CO2:      r.CO2,
		TempC:    r.TempC,
		Humidity: r.Humidity,
		TVOC:     r.TVOC,
		Pressure: r.Pressure,
		Battery:  r.Battery,
	}
}
