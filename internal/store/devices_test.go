package store

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"airsense-backend/internal/apperr"
	"airsense-backend/internal/db"
	"airsense-backend/internal/model"
)

// newTestDB opens a per-test in-memory SQLite database with the full
// schema migrated.
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := "file:" + strings.ReplaceAll(t.Name(), "/", "_") + "?mode=memory&cache=shared"
	testDB, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.Migrate(testDB))
	t.Cleanup(func() {
		sqlDB, _ := testDB.DB()
		sqlDB.Close()
	})
	return testDB
}

type scheduledJob struct {
	kind    string
	payload any
	runAt   time.Time
}

// fakeScheduler records enqueued jobs instead of persisting them.
type fakeScheduler struct {
	jobs []scheduledJob
}

func (f *fakeScheduler) Enqueue(_ context.Context, kind string, payload any, runAt time.Time) error {
	f.jobs = append(f.jobs, scheduledJob{kind: kind, payload: payload, runAt: runAt})
	return nil
}

func TestAddByMAC_NormalizesAndDefaults(t *testing.T) {
	testDB := newTestDB(t)
	s := NewGormStore(testDB)
	ctx := context.Background()

	require.NoError(t, testDB.Create(&model.Tenant{ID: 1, Email: "a@example.com", PlanID: "free"}).Error)

	deviceID, err := s.AddByMAC(ctx, 1, "", "CC:B5:D1:32:36:8B", model.ProviderQingping)
	require.NoError(t, err)

	var device model.Device
	require.NoError(t, testDB.First(&device, deviceID).Error)
	assert.Equal(t, "CCB5D132368B", device.ProviderDeviceID)
	assert.Equal(t, "Sensor 32368B", device.DisplayName)
	assert.False(t, device.NameLocked)
	assert.Equal(t, int64(1), device.TenantID)
}

func TestAddByMAC_ExplicitNameLocksIt(t *testing.T) {
	testDB := newTestDB(t)
	s := NewGormStore(testDB)
	ctx := context.Background()

	require.NoError(t, testDB.Create(&model.Tenant{ID: 1, Email: "a@example.com", PlanID: "free"}).Error)

	deviceID, err := s.AddByMAC(ctx, 1, "Bedroom", "CCB5D132368B", model.ProviderQingping)
	require.NoError(t, err)

	var device model.Device
	require.NoError(t, testDB.First(&device, deviceID).Error)
	assert.Equal(t, "Bedroom", device.DisplayName)
	assert.True(t, device.NameLocked)
}

func TestAddByMAC_Idempotent(t *testing.T) {
	testDB := newTestDB(t)
	s := NewGormStore(testDB)
	ctx := context.Background()

	require.NoError(t, testDB.Create(&model.Tenant{ID: 1, Email: "a@example.com", PlanID: "free"}).Error)

	first, err := s.AddByMAC(ctx, 1, "Bedroom", "CC:B5:D1:32:36:8B", model.ProviderQingping)
	require.NoError(t, err)
	second, err := s.AddByMAC(ctx, 1, "Bedroom", "ccb5d132368b", model.ProviderQingping)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	var count int64
	testDB.Model(&model.Device{}).Count(&count)
	assert.Equal(t, int64(1), count)
}

func TestAddByMAC_RejectsInvalidMAC(t *testing.T) {
	s := NewGormStore(newTestDB(t))

	_, err := s.AddByMAC(context.Background(), 1, "", "not-a-mac", model.ProviderQingping)
	var validation *apperr.ValidationError
	assert.ErrorAs(t, err, &validation)
}

func TestAddByMAC_ConflictAcrossAccounts(t *testing.T) {
	testDB := newTestDB(t)
	s := NewGormStore(testDB)
	ctx := context.Background()

	require.NoError(t, testDB.Create(&model.Tenant{ID: 1, Email: "a@example.com", PlanID: "free"}).Error)
	require.NoError(t, testDB.Create(&model.Tenant{ID: 2, Email: "b@example.com", PlanID: "free"}).Error)

	_, err := s.AddByMAC(ctx, 1, "", "CCB5D132368B", model.ProviderQingping)
	require.NoError(t, err)

	_, err = s.AddByMAC(ctx, 2, "", "CCB5D132368B", model.ProviderQingping)
	var conflict *apperr.ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Contains(t, conflict.Msg, "CCB5D132368B")
}

func TestAddByMAC_TransfersToRecreatedAccount(t *testing.T) {
	testDB := newTestDB(t)
	s := NewGormStore(testDB)
	ctx := context.Background()

	// Same verified email on both accounts: the person deleted their
	// account and signed up again.
	require.NoError(t, testDB.Create(&model.Tenant{ID: 1, Email: "a@example.com", PlanID: "free"}).Error)
	require.NoError(t, testDB.Create(&model.Tenant{ID: 2, Email: "a@example.com", PlanID: "pro"}).Error)

	original, err := s.AddByMAC(ctx, 1, "", "CCB5D132368B", model.ProviderQingping)
	require.NoError(t, err)

	claimed, err := s.AddByMAC(ctx, 2, "", "CCB5D132368B", model.ProviderQingping)
	require.NoError(t, err)
	assert.Equal(t, original, claimed)

	var device model.Device
	require.NoError(t, testDB.First(&device, claimed).Error)
	assert.Equal(t, int64(2), device.TenantID)
}

func TestAddByMAC_ReclaimAfterOwnerDeleted(t *testing.T) {
	testDB := newTestDB(t)
	s := NewGormStore(testDB)
	ctx := context.Background()

	require.NoError(t, testDB.Create(&model.Tenant{ID: 2, Email: "b@example.com", PlanID: "free"}).Error)

	// Device owned by a tenant that no longer has a row.
	orphan := model.Device{TenantID: 999, Provider: model.ProviderQingping, ProviderDeviceID: "CCB5D132368B", DisplayName: "Old"}
	require.NoError(t, testDB.Create(&orphan).Error)
	require.NoError(t, testDB.Create(&model.Reading{DeviceID: orphan.ID, Ts: 1000}).Error)
	require.NoError(t, testDB.Create(&model.Reading{DeviceID: orphan.ID, Ts: 2000}).Error)

	claimed, err := s.AddByMAC(ctx, 2, "", "CCB5D132368B", model.ProviderQingping)
	require.NoError(t, err)
	assert.NotEqual(t, orphan.ID, claimed, "the orphaned row is discarded, not transferred")

	var readings int64
	testDB.Model(&model.Reading{}).Where("device_id = ?", orphan.ID).Count(&readings)
	assert.Equal(t, int64(0), readings, "the prior owner's history must not leak to the new owner")

	var device model.Device
	require.NoError(t, testDB.First(&device, claimed).Error)
	assert.Equal(t, int64(2), device.TenantID)
}

func TestAddByMAC_SchedulesBackfillSync(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	t.Run("immediately when credentials exist", func(t *testing.T) {
		testDB := newTestDB(t)
		sched := &fakeScheduler{}
		s := NewGormStore(testDB, WithScheduler(sched), WithClock(func() time.Time { return now }))
		ctx := context.Background()

		require.NoError(t, testDB.Create(&model.Tenant{ID: 1, Email: "a@example.com", PlanID: "free"}).Error)
		require.NoError(t, s.UpsertProviderConfig(ctx, &model.ProviderConfig{
			TenantID: 1, Provider: model.ProviderQingping, AppKey: "k", AppSecret: "s",
		}))

		_, err := s.AddByMAC(ctx, 1, "", "CCB5D132368B", model.ProviderQingping)
		require.NoError(t, err)

		require.Len(t, sched.jobs, 1)
		assert.Equal(t, JobTenantSync, sched.jobs[0].kind)
		assert.Equal(t, now, sched.jobs[0].runAt)
	})

	t.Run("delayed when no credentials yet", func(t *testing.T) {
		testDB := newTestDB(t)
		sched := &fakeScheduler{}
		s := NewGormStore(testDB, WithScheduler(sched), WithClock(func() time.Time { return now }))
		ctx := context.Background()

		require.NoError(t, testDB.Create(&model.Tenant{ID: 1, Email: "a@example.com", PlanID: "free"}).Error)

		_, err := s.AddByMAC(ctx, 1, "", "CCB5D132368B", model.ProviderQingping)
		require.NoError(t, err)

		require.Len(t, sched.jobs, 1)
		assert.Equal(t, now.Add(DefaultConnectRetryDelay), sched.jobs[0].runAt)
	})

	t.Run("honors a configured retry delay", func(t *testing.T) {
		testDB := newTestDB(t)
		sched := &fakeScheduler{}
		s := NewGormStore(testDB,
			WithScheduler(sched),
			WithClock(func() time.Time { return now }),
			WithConnectRetryDelay(2*time.Minute),
		)
		ctx := context.Background()

		require.NoError(t, testDB.Create(&model.Tenant{ID: 1, Email: "a@example.com", PlanID: "free"}).Error)

		_, err := s.AddByMAC(ctx, 1, "", "CCB5D132368B", model.ProviderQingping)
		require.NoError(t, err)

		require.Len(t, sched.jobs, 1)
		assert.Equal(t, now.Add(2*time.Minute), sched.jobs[0].runAt)
	})
}

func TestUpsertFromProvider(t *testing.T) {
	testDB := newTestDB(t)
	s := NewGormStore(testDB)
	ctx := context.Background()

	require.NoError(t, testDB.Create(&model.Tenant{ID: 1, Email: "a@example.com", PlanID: "free"}).Error)

	t.Run("creates an unknown device", func(t *testing.T) {
		id, err := s.UpsertFromProvider(ctx, 1, ProviderDevice{
			Provider:         model.ProviderQingping,
			ProviderDeviceID: "CCB5D132368B",
			Name:             "Office",
			Model:            "Air Monitor",
			Timezone:         "Europe/Berlin",
			ReportInterval:   600,
		})
		require.NoError(t, err)
		require.NotZero(t, id)

		var device model.Device
		require.NoError(t, testDB.First(&device, id).Error)
		assert.Equal(t, "Office", device.DisplayName)
		assert.Equal(t, "Air Monitor", device.Model)
		assert.Equal(t, 600, device.ReportIntervalSecs)
	})

	t.Run("patches metadata but respects a locked name", func(t *testing.T) {
		var device model.Device
		require.NoError(t, testDB.Where("provider_device_id = ?", "CCB5D132368B").First(&device).Error)
		require.NoError(t, s.RenameDevice(ctx, 1, device.ID, "My Office"))

		id, err := s.UpsertFromProvider(ctx, 1, ProviderDevice{
			Provider:         model.ProviderQingping,
			ProviderDeviceID: "CCB5D132368B",
			Name:             "Office Renamed Upstream",
			Model:            "Air Monitor 2",
			Offline:          true,
		})
		require.NoError(t, err)
		assert.Equal(t, device.ID, id)

		require.NoError(t, testDB.First(&device, id).Error)
		assert.Equal(t, "My Office", device.DisplayName, "tenant rename wins over provider name")
		assert.Equal(t, "Air Monitor 2", device.Model)
		assert.True(t, device.Offline)
	})

	t.Run("suppresses creation for a tombstoned device", func(t *testing.T) {
		require.NoError(t, testDB.Create(&model.DeletedDevice{
			TenantID: 1, Provider: model.ProviderQingping, ProviderDeviceID: "AABBCCDDEEFF",
		}).Error)

		id, err := s.UpsertFromProvider(ctx, 1, ProviderDevice{
			Provider:         model.ProviderQingping,
			ProviderDeviceID: "AABBCCDDEEFF",
			Name:             "Ghost",
		})
		require.NoError(t, err)
		assert.Zero(t, id)

		var count int64
		testDB.Model(&model.Device{}).Where("provider_device_id = ?", "AABBCCDDEEFF").Count(&count)
		assert.Equal(t, int64(0), count)
	})

	t.Run("re-adding by MAC clears the tombstone", func(t *testing.T) {
		id, err := s.AddByMAC(ctx, 1, "", "AABBCCDDEEFF", model.ProviderQingping)
		require.NoError(t, err)
		assert.NotZero(t, id)

		var tombstones int64
		testDB.Model(&model.DeletedDevice{}).Where("provider_device_id = ?", "AABBCCDDEEFF").Count(&tombstones)
		assert.Equal(t, int64(0), tombstones)
	})
}

func TestDeleteDevice_Cascades(t *testing.T) {
	testDB := newTestDB(t)
	s := NewGormStore(testDB)
	ctx := context.Background()

	require.NoError(t, testDB.Create(&model.Tenant{ID: 1, Email: "a@example.com", PlanID: "free"}).Error)
	device := model.Device{TenantID: 1, Provider: model.ProviderQingping, ProviderDeviceID: "CCB5D132368B", DisplayName: "Office"}
	require.NoError(t, testDB.Create(&device).Error)

	readings := make([]model.Reading, 50)
	for i := range readings {
		readings[i] = model.Reading{DeviceID: device.ID, Ts: int64(1000 + i)}
	}
	require.NoError(t, testDB.CreateInBatches(readings, 25).Error)

	require.NoError(t, testDB.Create(&model.EmbedToken{Token: "tok-1", TenantID: 1, DeviceID: device.ID}).Error)
	require.NoError(t, testDB.Create(&model.EmbedToken{Token: "tok-2", TenantID: 1, DeviceID: device.ID}).Error)

	kiosk := model.KioskConfig{TenantID: 1, Name: "Lobby"}
	require.NoError(t, kiosk.SetDevices([]int64{device.ID, 424242}))
	require.NoError(t, testDB.Create(&kiosk).Error)

	counts, err := s.DeleteDevice(ctx, device.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(50), counts.Readings)
	assert.Equal(t, int64(2), counts.EmbedTokens)
	assert.Equal(t, int64(1), counts.KiosksUpdated)

	var deviceCount int64
	testDB.Model(&model.Device{}).Where("id = ?", device.ID).Count(&deviceCount)
	assert.Equal(t, int64(0), deviceCount)

	var tombstones int64
	testDB.Model(&model.DeletedDevice{}).
		Where("tenant_id = ? AND provider_device_id = ?", 1, "CCB5D132368B").
		Count(&tombstones)
	assert.Equal(t, int64(1), tombstones)

	require.NoError(t, testDB.First(&kiosk, kiosk.ID).Error)
	ids, err := kiosk.Devices()
	require.NoError(t, err)
	assert.Equal(t, []int64{424242}, ids)
}

func TestDeleteDevice_NotFound(t *testing.T) {
	s := NewGormStore(newTestDB(t))

	_, err := s.DeleteDevice(context.Background(), 12345)
	var notFound *apperr.NotFoundError
	assert.ErrorAs(t, err, &notFound)
}

func TestCleanupOrphanedReadings(t *testing.T) {
	testDB := newTestDB(t)
	s := NewGormStore(testDB)
	ctx := context.Background()

	device := model.Device{TenantID: 1, Provider: model.ProviderQingping, ProviderDeviceID: "CCB5D132368B", DisplayName: "Office"}
	require.NoError(t, testDB.Create(&device).Error)
	require.NoError(t, testDB.Create(&model.Reading{DeviceID: device.ID, Ts: 1000}).Error)
	require.NoError(t, testDB.Create(&model.Reading{DeviceID: 777, Ts: 1000}).Error)
	require.NoError(t, testDB.Create(&model.Reading{DeviceID: 777, Ts: 2000}).Error)

	deleted, err := s.CleanupOrphanedReadings(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), deleted)

	var remaining int64
	testDB.Model(&model.Reading{}).Count(&remaining)
	assert.Equal(t, int64(1), remaining)
}

func TestOwnedDeviceUpdates(t *testing.T) {
	testDB := newTestDB(t)
	s := NewGormStore(testDB)
	ctx := context.Background()

	device := model.Device{TenantID: 1, Provider: model.ProviderQingping, ProviderDeviceID: "CCB5D132368B", DisplayName: "Office"}
	require.NoError(t, testDB.Create(&device).Error)

	t.Run("rename requires a non-empty name", func(t *testing.T) {
		err := s.RenameDevice(ctx, 1, device.ID, "")
		var validation *apperr.ValidationError
		assert.ErrorAs(t, err, &validation)
	})

	t.Run("updates are scoped to the owner", func(t *testing.T) {
		err := s.RenameDevice(ctx, 2, device.ID, "Stolen")
		var notFound *apperr.NotFoundError
		assert.ErrorAs(t, err, &notFound)
	})

	t.Run("visible metrics round-trip", func(t *testing.T) {
		require.NoError(t, s.UpdateVisibleMetrics(ctx, 1, device.ID, "pm25,co2"))
		var got model.Device
		require.NoError(t, testDB.First(&got, device.ID).Error)
		assert.Equal(t, "pm25,co2", got.VisibleMetrics)
	})

	t.Run("report interval must be positive", func(t *testing.T) {
		err := s.UpdateReportInterval(ctx, 1, device.ID, 0)
		var validation *apperr.ValidationError
		assert.ErrorAs(t, err, &validation)

		require.NoError(t, s.UpdateReportInterval(ctx, 1, device.ID, 900))
		var got model.Device
		require.NoError(t, testDB.First(&got, device.ID).Error)
		assert.Equal(t, 900, got.ReportIntervalSecs)
	})
}
