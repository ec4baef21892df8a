package model

import "time"

// Tenant is an owning account. Email is the verified identity used for
// the re-claim-after-deletion device transfer heuristic.
type Tenant struct {
	ID        int64  `gorm:"primaryKey;autoIncrement" json:"id"`
	Email     string `gorm:"size:256;index;not null" json:"email"`
	PlanID    string `gorm:"size:32;not null" json:"planId"`
	CreatedAt time.Time
}
