package aqi

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFromPM25(t *testing.T) {
	testCases := []struct {
		name     string
		pm25     float64
		expected int
	}{
		{"Zero concentration", 0, 0},
		{"Good range midpoint", 9.0, 38},
		{"Good range top", 12.0, 50},
		{"Moderate range top", 35.4, 100},
		{"Truncated to one decimal", 35.44, 100},
		{"Unhealthy range bottom", 55.5, 151},
		{"Very unhealthy range bottom", 150.5, 201},
		{"Hazardous range top", 500.4, 500},
		{"Beyond scale clamps", 999.9, 500},
		{"Negative clamps to zero", -5, 0},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, FromPM25(tc.pm25))
		})
	}
}
