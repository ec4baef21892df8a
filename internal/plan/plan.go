// Package plan maps plan identifiers to feature limits. Limits are a
// pure function of the plan id and are never persisted per device.
package plan

import "time"

// Unlimited marks a retention window with no expiry.
const Unlimited = -1

// Limits describes what a plan allows.
type Limits struct {
	DeviceLimit       int
	WidgetLimit       int
	KioskLimit        int
	MinRefreshSeconds int
	RetentionDays     int // Unlimited for no expiry
	CustomBranding    bool
}

const (
	Free       = "free"
	Pro        = "pro"
	Business   = "business"
	Enterprise = "enterprise"
)

// ForPlan returns the limits for the given plan id. Unknown ids fall
// back to the free plan, which is also what pre-migration owners without
// a tenant row are held to.
func ForPlan(id string) Limits {
	switch id {
	case Pro:
		return Limits{
			DeviceLimit:       10,
			WidgetLimit:       10,
			KioskLimit:        2,
			MinRefreshSeconds: 60,
			RetentionDays:     90,
		}
	case Business:
		return Limits{
			DeviceLimit:       50,
			WidgetLimit:       50,
			KioskLimit:        10,
			MinRefreshSeconds: 30,
			RetentionDays:     365,
			CustomBranding:    true,
		}
	case Enterprise:
		return Limits{
			DeviceLimit:       500,
			WidgetLimit:       500,
			KioskLimit:        100,
			MinRefreshSeconds: 15,
			RetentionDays:     Unlimited,
			CustomBranding:    true,
		}
	default:
		return Limits{
			DeviceLimit:       2,
			WidgetLimit:       1,
			KioskLimit:        0,
			MinRefreshSeconds: 300,
			RetentionDays:     7,
		}
	}
}

// RetentionCutoff returns the oldest reading timestamp (unix millis) the
// plan allows at the given instant, and whether a cutoff applies at all.
func RetentionCutoff(id string, now time.Time) (int64, bool) {
	l := ForPlan(id)
	if l.RetentionDays == Unlimited {
		return 0, false
	}
	return now.Add(-time.Duration(l.RetentionDays) * 24 * time.Hour).UnixMilli(), true
}
