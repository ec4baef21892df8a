package parse

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeMAC(t *testing.T) {
	testCases := []struct {
		name      string
		raw       string
		expected  string
		expectErr bool
	}{
		{
			name:     "Colon separated",
			raw:      "CC:B5:D1:32:36:8B",
			expected: "CCB5D132368B",
		},
		{
			name:     "Dash separated",
			raw:      "cc-b5-d1-32-36-8b",
			expected: "CCB5D132368B",
		},
		{
			name:     "Dot separated",
			raw:      "ccb5.d132.368b",
			expected: "CCB5D132368B",
		},
		{
			name:     "Bare lowercase",
			raw:      "ccb5d132368b",
			expected: "CCB5D132368B",
		},
		{
			name:     "Surrounding whitespace",
			raw:      "  CCB5D132368B  ",
			expected: "CCB5D132368B",
		},
		{
			name:     "Mixed separators",
			raw:      "cc:b5-d1.32 36 8b",
			expected: "CCB5D132368B",
		},
		{
			name:      "Too short",
			raw:       "CC:B5:D1",
			expectErr: true,
		},
		{
			name:      "Too long",
			raw:       "CC:B5:D1:32:36:8B:FF",
			expectErr: true,
		},
		{
			name:      "Non-hex characters",
			raw:       "GG:B5:D1:32:36:8B",
			expectErr: true,
		},
		{
			name:      "Empty",
			raw:       "",
			expectErr: true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			mac, err := NormalizeMAC(tc.raw)
			if tc.expectErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
				assert.Equal(t, tc.expected, mac)
			}
		})
	}
}
