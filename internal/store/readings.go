package store

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"airsense-backend/internal/apperr"
	"airsense-backend/internal/aqi"
	"airsense-backend/internal/model"
	"airsense-backend/internal/plan"
)

// millisThreshold disambiguates second- from millisecond-precision
// timestamps by magnitude. Values below it are taken as seconds. This is
// a heuristic, not a protocol guarantee.
const millisThreshold = int64(1_000_000_000_000)

// exportHardCap bounds any single export query.
const exportHardCap = 10000

// defaultHistoryLimit applies when a history caller passes no limit.
const defaultHistoryLimit = 500

// Sample is one normalized reading to ingest. Ts may be unix seconds or
// milliseconds; Ingest normalizes by magnitude. Zero Ts means "now".
type Sample struct {
	Ts       int64
	PM25     *float64
	PM10     *float64
	CO2      *float64
	TempC    *float64
	Humidity *float64
	TVOC     *float64
	Pressure *float64
	Battery  *int
}

// IngestResult reports what an ingest did. PrevAQI is the device's
// last-known AQI before this sample, for alert-threshold crossing
// detection. Duplicate is set when the (device, ts) pair already existed
// and no new row was written.
type IngestResult struct {
	Reading   *model.Reading
	PrevAQI   *int
	Duplicate bool
}

// ExportResult is a chronological export slice plus flags telling the
// caller whether the hard cap was hit or the start was clamped to the
// plan's retention window.
type ExportResult struct {
	Readings []model.Reading
	Capped   bool
	Clamped  bool
}

// BucketedPoint is one fixed-width aggregation window. A metric is nil
// only when zero readings in the bucket carried it.
type BucketedPoint struct {
	Ts       int64    `json:"ts"`
	Count    int      `json:"count"`
	PM25     *float64 `json:"pm25,omitempty"`
	PM10     *float64 `json:"pm10,omitempty"`
	CO2      *float64 `json:"co2,omitempty"`
	TempC    *float64 `json:"tempC,omitempty"`
	Humidity *float64 `json:"humidity,omitempty"`
	TVOC     *float64 `json:"tvoc,omitempty"`
	Pressure *float64 `json:"pressure,omitempty"`
	Battery  *float64 `json:"battery,omitempty"`
	AQI      *float64 `json:"aqi,omitempty"`
}

// NormalizeTs converts a timestamp that may be unix seconds or unix
// milliseconds into milliseconds.
func NormalizeTs(ts int64) int64 {
	if ts > 0 && ts < millisThreshold {
		return ts * 1000
	}
	return ts
}

// Ingest appends one reading for a device, snapshotting the device's
// current display name, and patches the device's last-seen state:
// lastReadingAt unconditionally, lastBattery only when this sample
// carried a battery value (absence never clobbers a known level).
func (s *gormStore) Ingest(ctx context.Context, deviceID int64, sample Sample) (*IngestResult, error) {
	ts := sample.Ts
	if ts <= 0 {
		ts = s.now().UnixMilli()
	}
	ts = NormalizeTs(ts)

	var device model.Device
	if err := s.db.WithContext(ctx).First(&device, deviceID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFoundf("device %d not found", deviceID)
		}
		return nil, err
	}

	reading := model.Reading{
		DeviceID:   deviceID,
		DeviceName: device.DisplayName,
		Ts:         ts,
		PM25:       sample.PM25,
		PM10:       sample.PM10,
		CO2:        sample.CO2,
		TempC:      sample.TempC,
		Humidity:   sample.Humidity,
		TVOC:       sample.TVOC,
		Pressure:   sample.Pressure,
		Battery:    sample.Battery,
	}
	if sample.PM25 != nil {
		index := aqi.FromPM25(*sample.PM25)
		reading.AQI = &index
	}

	// Webhook and poll paths may race on the same sample; the composite
	// unique index collapses them to one row.
	res := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&reading)
	if res.Error != nil {
		return nil, res.Error
	}
	duplicate := res.RowsAffected == 0

	updates := map[string]any{"last_reading_at": ts}
	if sample.Battery != nil {
		updates["last_battery"] = *sample.Battery
	}
	if reading.AQI != nil {
		updates["last_aqi"] = *reading.AQI
	}
	if err := s.db.WithContext(ctx).Model(&model.Device{}).
		Where("id = ?", deviceID).Updates(updates).Error; err != nil {
		return nil, err
	}

	return &IngestResult{
		Reading:   &reading,
		PrevAQI:   device.LastAQI,
		Duplicate: duplicate,
	}, nil
}

// History returns a device's readings latest-first. The effective start
// is clamped to the owning tenant's plan retention window regardless of
// what the caller asked for.
func (s *gormStore) History(ctx context.Context, deviceID int64, startTs, endTs *int64, limit int) ([]model.Reading, error) {
	planID, err := s.planForDevice(ctx, deviceID)
	if err != nil {
		return nil, err
	}

	effStart, _ := clampStart(startTs, planID, s.now())
	if limit <= 0 {
		limit = defaultHistoryLimit
	}

	q := s.db.WithContext(ctx).Where("device_id = ?", deviceID)
	if effStart != nil {
		q = q.Where("ts >= ?", *effStart)
	}
	if endTs != nil {
		q = q.Where("ts <= ?", NormalizeTs(*endTs))
	}

	var readings []model.Reading
	if err := q.Order("ts DESC").Limit(limit).Find(&readings).Error; err != nil {
		return nil, err
	}
	return readings, nil
}

// ForExport returns a tenant-owned device's readings in ascending order,
// capped at a hard safety limit and clamped to the plan retention
// window, reporting both conditions so the caller can tell the user.
func (s *gormStore) ForExport(ctx context.Context, tenantID, deviceID, startTs, endTs int64) (*ExportResult, error) {
	var device model.Device
	if err := s.db.WithContext(ctx).
		Where("id = ? AND tenant_id = ?", deviceID, tenantID).
		First(&device).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFoundf("device %d not found", deviceID)
		}
		return nil, err
	}

	planID, err := s.planForDevice(ctx, deviceID)
	if err != nil {
		return nil, err
	}

	start := NormalizeTs(startTs)
	effStart, clamped := clampStart(&start, planID, s.now())

	var readings []model.Reading
	q := s.db.WithContext(ctx).
		Where("device_id = ? AND ts <= ?", deviceID, NormalizeTs(endTs))
	if effStart != nil {
		q = q.Where("ts >= ?", *effStart)
	}
	// Fetch one row past the cap to learn whether it was hit.
	if err := q.Order("ts ASC").Limit(exportHardCap + 1).Find(&readings).Error; err != nil {
		return nil, err
	}

	capped := len(readings) > exportHardCap
	if capped {
		readings = readings[:exportHardCap]
	}
	return &ExportResult{Readings: readings, Capped: capped, Clamped: clamped}, nil
}

// HistoryAggregated buckets a device's readings into fixed-width windows
// and averages each metric per bucket. Per-metric counts are tracked
// independently so a metric absent from some readings does not skew its
// own average. Buckets come back sorted ascending.
func (s *gormStore) HistoryAggregated(ctx context.Context, deviceID int64, startTs, endTs int64, bucketMinutes int) ([]BucketedPoint, error) {
	if bucketMinutes <= 0 {
		return nil, apperr.Validationf("bucket width must be positive, got %d", bucketMinutes)
	}
	startTs = NormalizeTs(startTs)
	endTs = NormalizeTs(endTs)
	if endTs <= startTs {
		return nil, apperr.Validationf("end must be after start")
	}

	planID, err := s.planForDevice(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	effStart, _ := clampStart(&startTs, planID, s.now())

	var readings []model.Reading
	q := s.db.WithContext(ctx).Where("device_id = ? AND ts <= ?", deviceID, endTs)
	if effStart != nil {
		q = q.Where("ts >= ?", *effStart)
	}
	if err := q.Order("ts ASC").Find(&readings).Error; err != nil {
		return nil, err
	}

	return bucketReadings(readings, int64(bucketMinutes)*60*1000), nil
}

// metric slot indexes for the bucket accumulator.
const (
	mPM25 = iota
	mPM10
	mCO2
	mTempC
	mHumidity
	mTVOC
	mPressure
	mBattery
	mAQI
	metricCount
)

type bucketAcc struct {
	ts    int64
	count int
	sums  [metricCount]float64
	ns    [metricCount]int
}

func bucketReadings(readings []model.Reading, bucketWidth int64) []BucketedPoint {
	var buckets []*bucketAcc
	byTs := make(map[int64]*bucketAcc)

	for i := range readings {
		r := &readings[i]
		bucketTs := (r.Ts / bucketWidth) * bucketWidth
		acc, ok := byTs[bucketTs]
		if !ok {
			acc = &bucketAcc{ts: bucketTs}
			byTs[bucketTs] = acc
			buckets = append(buckets, acc) // readings arrive ascending
		}
		acc.count++
		acc.add(mPM25, r.PM25)
		acc.add(mPM10, r.PM10)
		acc.add(mCO2, r.CO2)
		acc.add(mTempC, r.TempC)
		acc.add(mHumidity, r.Humidity)
		acc.add(mTVOC, r.TVOC)
		acc.add(mPressure, r.Pressure)
		acc.addInt(mBattery, r.Battery)
		acc.addInt(mAQI, r.AQI)
	}

	points := make([]BucketedPoint, 0, len(buckets))
	for _, acc := range buckets {
		points = append(points, BucketedPoint{
			Ts:       acc.ts,
			Count:    acc.count,
			PM25:     acc.mean(mPM25),
			PM10:     acc.mean(mPM10),
			CO2:      acc.mean(mCO2),
			TempC:    acc.mean(mTempC),
			Humidity: acc.mean(mHumidity),
			TVOC:     acc.mean(mTVOC),
			Pressure: acc.mean(mPressure),
			Battery:  acc.mean(mBattery),
			AQI:      acc.mean(mAQI),
		})
	}
	return points
}

func (a *bucketAcc) add(slot int, v *float64) {
	if v != nil {
		a.sums[slot] += *v
		a.ns[slot]++
	}
}

func (a *bucketAcc) addInt(slot int, v *int) {
	if v != nil {
		a.sums[slot] += float64(*v)
		a.ns[slot]++
	}
}

func (a *bucketAcc) mean(slot int) *float64 {
	if a.ns[slot] == 0 {
		return nil
	}
	m := a.sums[slot] / float64(a.ns[slot])
	return &m
}

// CleanupExpiredReadings fans out one retention-cleanup job per device
// for every owner on a finite-retention plan. Devices whose owner has no
// tenant row (pre-migration accounts) are held to the free plan. Returns
// the number of jobs scheduled.
func (s *gormStore) CleanupExpiredReadings(ctx context.Context) (int, error) {
	if s.scheduler == nil {
		return 0, errors.New("no scheduler configured for retention cleanup")
	}
	now := s.now()

	var tenants []model.Tenant
	if err := s.db.WithContext(ctx).Find(&tenants).Error; err != nil {
		return 0, err
	}

	scheduled := 0
	for _, t := range tenants {
		cutoff, finite := plan.RetentionCutoff(t.PlanID, now)
		if !finite {
			continue
		}
		n, err := s.scheduleTenantCleanups(ctx, t.ID, cutoff)
		if err != nil {
			return scheduled, err
		}
		scheduled += n
	}

	// Pre-migration owners: devices with no tenant row.
	var orphanOwned []model.Device
	if err := s.db.WithContext(ctx).
		Where("tenant_id NOT IN (?)", s.db.Model(&model.Tenant{}).Select("id")).
		Find(&orphanOwned).Error; err != nil {
		return scheduled, err
	}
	if len(orphanOwned) > 0 {
		cutoff, _ := plan.RetentionCutoff(plan.Free, now)
		for _, d := range orphanOwned {
			if err := s.enqueueCleanup(ctx, d.ID, cutoff); err != nil {
				return scheduled, err
			}
			scheduled++
		}
	}

	return scheduled, nil
}

func (s *gormStore) scheduleTenantCleanups(ctx context.Context, tenantID int64, cutoff int64) (int, error) {
	var devices []model.Device
	if err := s.db.WithContext(ctx).Where("tenant_id = ?", tenantID).Find(&devices).Error; err != nil {
		return 0, err
	}
	for _, d := range devices {
		if err := s.enqueueCleanup(ctx, d.ID, cutoff); err != nil {
			return 0, err
		}
	}
	return len(devices), nil
}

func (s *gormStore) enqueueCleanup(ctx context.Context, deviceID, cutoff int64) error {
	payload := ReadingsCleanupPayload{DeviceID: deviceID, CutoffTs: cutoff}
	return s.scheduler.Enqueue(ctx, JobReadingsCleanup, payload, s.now())
}

// CleanupDeviceReadings deletes one bounded batch of expired readings
// for a device. When the batch came back full, more rows may remain and
// a continuation is scheduled for the same device and cutoff. Losing a
// continuation is harmless: the next daily sweep re-discovers the rest.
func (s *gormStore) CleanupDeviceReadings(ctx context.Context, deviceID, cutoffTs int64) (int64, bool, error) {
	var ids []int64
	if err := s.db.WithContext(ctx).Model(&model.Reading{}).
		Where("device_id = ? AND ts < ?", deviceID, cutoffTs).
		Order("ts ASC").
		Limit(s.retentionBatch).
		Pluck("id", &ids).Error; err != nil {
		return 0, false, err
	}
	if len(ids) == 0 {
		return 0, false, nil
	}

	res := s.db.WithContext(ctx).Delete(&model.Reading{}, ids)
	if res.Error != nil {
		return 0, false, res.Error
	}

	more := len(ids) == s.retentionBatch
	if more && s.scheduler != nil {
		payload := ReadingsCleanupPayload{DeviceID: deviceID, CutoffTs: cutoffTs}
		if err := s.scheduler.Enqueue(ctx, JobReadingsCleanup, payload, s.now()); err != nil {
			slog.Error("failed to schedule cleanup continuation", "device_id", deviceID, "error", err)
		}
	}
	return res.RowsAffected, more, nil
}

// planForDevice resolves the plan the device's readings are held under.
// Owners without a tenant row fall back to the free plan.
func (s *gormStore) planForDevice(ctx context.Context, deviceID int64) (string, error) {
	var device model.Device
	if err := s.db.WithContext(ctx).First(&device, deviceID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", apperr.NotFoundf("device %d not found", deviceID)
		}
		return "", err
	}
	var tenant model.Tenant
	if err := s.db.WithContext(ctx).First(&tenant, device.TenantID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return plan.Free, nil
		}
		return "", err
	}
	return tenant.PlanID, nil
}

// clampStart raises the requested start to the plan's retention cutoff.
// Returns the effective start (nil when neither a start nor a cutoff
// applies) and whether clamping changed the caller's request.
func clampStart(startTs *int64, planID string, now time.Time) (*int64, bool) {
	cutoff, finite := plan.RetentionCutoff(planID, now)
	if !finite {
		if startTs == nil {
			return nil, false
		}
		normalized := NormalizeTs(*startTs)
		return &normalized, false
	}
	if startTs == nil {
		return &cutoff, false
	}
	requested := NormalizeTs(*startTs)
	if requested < cutoff {
		return &cutoff, true
	}
	return &requested, false
}
