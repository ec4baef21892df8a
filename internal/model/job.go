package model

import "time"

// Job is one durable unit of scheduled work. Timer-driven continuations
// (retention batch deletes, delayed device syncs) are persisted here so
// they survive process restarts instead of living in in-memory timers.
type Job struct {
	ID        int64     `gorm:"primaryKey;autoIncrement"`
	Kind      string    `gorm:"size:64;not null;index"`
	Payload   string    `gorm:"size:1024"` // JSON, schema depends on Kind
	RunAt     time.Time `gorm:"not null;index"`
	CreatedAt time.Time
}
