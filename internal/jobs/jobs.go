// Package jobs is a minimal durable job queue on the primary database.
// Scheduled work (retention batch continuations, delayed device syncs)
// is persisted with a run-at timestamp so it survives process restarts;
// a single runner polls for due jobs and dispatches them to registered
// handlers.
package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"gorm.io/gorm"

	"airsense-backend/internal/metrics"
	"airsense-backend/internal/model"
)

// Handler processes one due job. Returning an error drops the job after
// logging; the periodic top-level schedules re-discover unfinished work.
type Handler func(ctx context.Context, payload []byte) error

// Queue is a GORM-backed scheduler.
type Queue struct {
	db       *gorm.DB
	handlers map[string]Handler
	interval time.Duration
	now      func() time.Time
}

// NewQueue creates a queue polling at the given interval.
func NewQueue(db *gorm.DB, interval time.Duration) *Queue {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Queue{
		db:       db,
		handlers: make(map[string]Handler),
		interval: interval,
		now:      time.Now,
	}
}

// SetClock injects the time source for tests.
func (q *Queue) SetClock(now func() time.Time) { q.now = now }

// Register binds a handler to a job kind. Must be called before Run.
func (q *Queue) Register(kind string, h Handler) {
	q.handlers[kind] = h
}

// Enqueue persists one unit of work to run at or after runAt. Payload is
// JSON-encoded. Satisfies store.Scheduler.
func (q *Queue) Enqueue(ctx context.Context, kind string, payload any, runAt time.Time) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal job payload: %w", err)
	}
	job := model.Job{
		Kind:    kind,
		Payload: string(body),
		RunAt:   runAt,
	}
	return q.db.WithContext(ctx).Create(&job).Error
}

// Run polls for due jobs until the context is cancelled.
func (q *Queue) Run(ctx context.Context) {
	slog.Info("job runner started", "poll_interval", q.interval)
	ticker := time.NewTicker(q.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("job runner shutting down")
			return
		case <-ticker.C:
			if _, err := q.Due(ctx); err != nil {
				slog.Error("due-job count failed", "error", err)
			}
			if err := q.RunDue(ctx); err != nil {
				slog.Error("job poll failed", "error", err)
			}
		}
	}
}

// RunDue claims and executes every job due at this instant. Claiming
// deletes the row first so two runners never double-execute; a job lost
// to a crash between claim and completion is re-created by the next
// top-level schedule, which is why handlers must be idempotent.
func (q *Queue) RunDue(ctx context.Context) error {
	for {
		job, ok, err := q.claimNext(ctx)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}

		handler, registered := q.handlers[job.Kind]
		if !registered {
			slog.Warn("dropping job with no registered handler", "kind", job.Kind, "job_id", job.ID)
			continue
		}
		if err := handler(ctx, []byte(job.Payload)); err != nil {
			slog.Error("job failed", "kind", job.Kind, "job_id", job.ID, "error", err)
		}
	}
}

// Due returns how many jobs are currently runnable and samples the
// backlog gauge. The runner calls it on every poll tick.
func (q *Queue) Due(ctx context.Context) (int64, error) {
	var n int64
	err := q.db.WithContext(ctx).Model(&model.Job{}).
		Where("run_at <= ?", q.now()).
		Count(&n).Error
	if err != nil {
		return 0, err
	}
	metrics.JobsDue.Set(float64(n))
	return n, nil
}

func (q *Queue) claimNext(ctx context.Context) (*model.Job, bool, error) {
	for {
		var job model.Job
		found := false
		claimed := false
		err := q.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			res := tx.Where("run_at <= ?", q.now()).
				Order("run_at ASC").
				Limit(1).
				Find(&job)
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				return nil
			}
			found = true
			// A concurrent runner can claim the row between the read
			// and the delete; zero rows affected means it is theirs.
			del := tx.Delete(&model.Job{}, job.ID)
			if del.Error != nil {
				return del.Error
			}
			claimed = del.RowsAffected == 1
			return nil
		})
		if err != nil {
			return nil, false, err
		}
		if !found {
			return nil, false, nil
		}
		if claimed {
			return &job, true, nil
		}
	}
}
