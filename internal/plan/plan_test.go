package plan

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestForPlan_UnknownFallsBackToFree(t *testing.T) {
	assert.Equal(t, ForPlan(Free), ForPlan("no-such-plan"))
	assert.Equal(t, ForPlan(Free), ForPlan(""))
}

func TestRetentionCutoff(t *testing.T) {
	now := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)

	testCases := []struct {
		planID       string
		expectFinite bool
		expectedDays int
	}{
		{Free, true, 7},
		{Pro, true, 90},
		{Business, true, 365},
		{Enterprise, false, 0},
		{"unknown", true, 7},
	}

	for _, tc := range testCases {
		t.Run(tc.planID, func(t *testing.T) {
			cutoff, finite := RetentionCutoff(tc.planID, now)
			assert.Equal(t, tc.expectFinite, finite)
			if tc.expectFinite {
				expected := now.Add(-time.Duration(tc.expectedDays) * 24 * time.Hour).UnixMilli()
				assert.Equal(t, expected, cutoff)
			}
		})
	}
}
