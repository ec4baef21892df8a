package store

import (
	"context"
	"time"

	"gorm.io/gorm"

	"airsense-backend/internal/model"
)

// DefaultRetentionBatchSize bounds how many expired readings one cleanup
// continuation deletes before rescheduling itself.
const DefaultRetentionBatchSize = 500

// Scheduler enqueues durable one-shot work. The registry and the
// retention engine use it for delayed device syncs and batch-delete
// continuations; it is satisfied by the jobs queue.
type Scheduler interface {
	Enqueue(ctx context.Context, kind string, payload any, runAt time.Time) error
}

// Job kinds the store schedules.
const (
	JobTenantSync      = "tenant.sync"
	JobReadingsCleanup = "readings.cleanup"
)

// TenantSyncPayload parameterizes a JobTenantSync job.
type TenantSyncPayload struct {
	TenantID int64          `json:"tenantId"`
	Provider model.Provider `json:"provider"`
}

// ReadingsCleanupPayload parameterizes a JobReadingsCleanup job.
type ReadingsCleanupPayload struct {
	DeviceID int64 `json:"deviceId"`
	CutoffTs int64 `json:"cutoffTs"`
}

// Store defines the interface for all database operations.
type Store interface {
	// Device registry
	UpsertFromProvider(ctx context.Context, tenantID int64, dev ProviderDevice) (int64, error)
	AddByMAC(ctx context.Context, tenantID int64, name, mac string, provider model.Provider) (int64, error)
	DeleteDevice(ctx context.Context, deviceID int64) (*DeleteCounts, error)
	CleanupOrphanedReadings(ctx context.Context) (int64, error)
	RenameDevice(ctx context.Context, tenantID, deviceID int64, name string) error
	UpdateVisibleMetrics(ctx context.Context, tenantID, deviceID int64, metrics string) error
	UpdateReportInterval(ctx context.Context, tenantID, deviceID int64, seconds int) error

	// Ingestion / retention engine
	Ingest(ctx context.Context, deviceID int64, s Sample) (*IngestResult, error)
	History(ctx context.Context, deviceID int64, startTs, endTs *int64, limit int) ([]model.Reading, error)
	ForExport(ctx context.Context, tenantID, deviceID int64, startTs, endTs int64) (*ExportResult, error)
	HistoryAggregated(ctx context.Context, deviceID int64, startTs, endTs int64, bucketMinutes int) ([]BucketedPoint, error)
	CleanupExpiredReadings(ctx context.Context) (int, error)
	CleanupDeviceReadings(ctx context.Context, deviceID, cutoffTs int64) (int64, bool, error)

	// Provider config
	GetProviderConfig(ctx context.Context, tenantID int64, provider model.Provider) (*model.ProviderConfig, error)
	UpsertProviderConfig(ctx context.Context, cfg *model.ProviderConfig) error
	ListProviderConfigs(ctx context.Context) ([]model.ProviderConfig, error)
	UpdateProviderToken(ctx context.Context, id int64, accessToken string, expiresAt time.Time) error
	TouchProviderSync(ctx context.Context, id int64, at time.Time) error

	// DB exposes the underlying handle for plain read paths and tests.
	DB() *gorm.DB
}

// gormStore implements the Store interface using GORM.
type gormStore struct {
	db                *gorm.DB
	scheduler         Scheduler
	now               func() time.Time
	retentionBatch    int
	connectRetryDelay time.Duration
}

// Option configures a gormStore.
type Option func(*gormStore)

// WithScheduler wires the durable job queue used for delayed syncs and
// retention continuations.
func WithScheduler(s Scheduler) Option {
	return func(g *gormStore) { g.scheduler = s }
}

// WithClock injects the time source. Retention cutoffs and token expiry
// checks depend on it; tests override it to avoid real delays.
func WithClock(now func() time.Time) Option {
	return func(g *gormStore) { g.now = now }
}

// WithRetentionBatchSize overrides the cleanup batch cap.
func WithRetentionBatchSize(n int) Option {
	return func(g *gormStore) {
		if n > 0 {
			g.retentionBatch = n
		}
	}
}

// WithConnectRetryDelay overrides how long a backfill sync is deferred
// when provider credentials are not in place yet.
func WithConnectRetryDelay(d time.Duration) Option {
	return func(g *gormStore) {
		if d > 0 {
			g.connectRetryDelay = d
		}
	}
}

// NewGormStore creates a new GORM-backed store.
func NewGormStore(db *gorm.DB, opts ...Option) Store {
	g := &gormStore{
		db:                db,
		now:               time.Now,
		retentionBatch:    DefaultRetentionBatchSize,
		connectRetryDelay: DefaultConnectRetryDelay,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func (s *gormStore) DB() *gorm.DB { return s.db }
