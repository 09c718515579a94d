package phone

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		raw  string
		want string
	}{
		{"ten digit", "(555) 123-4567", "+15551234567"},
		{"dotted", "555.123.4567", "+15551234567"},
		{"leading one", "1-555-123-4567", "+15551234567"},
		{"already e164", "+15551234567", "+15551234567"},
		{"international", "+44 20 7946 0958", "+442079460958"},
		{"double zero prefix", "0044 20 7946 0958", "+442079460958"},
		{"extension", "555-123-4567 ext. 22", "+15551234567"},
		{"x extension", "555-123-4567x9", "+15551234567"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := Normalize(tt.raw, DefaultRegion)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNormalize_Invalid(t *testing.T) {
	t.Parallel()

	for _, raw := range []string{"", "   ", "12345", "555-1234", "+1 555 123", "22 555 123 4567"} {
		_, err := Normalize(raw, DefaultRegion)
		assert.ErrorIs(t, err, ErrInvalid, raw)
	}
}

func TestNormalize_NonNANPRegionNeedsCountryCode(t *testing.T) {
	t.Parallel()

	_, err := Normalize("5551234567", "GB")
	assert.ErrorIs(t, err, ErrInvalid)

	got, err := Normalize("+442079460958", "GB")
	require.NoError(t, err)
	assert.Equal(t, "+442079460958", got)
}

func TestIsE164(t *testing.T) {
	t.Parallel()

	assert.True(t, IsE164("+15551234567"))
	assert.False(t, IsE164("15551234567"))
	assert.False(t, IsE164("+0551234567"))
	assert.False(t, IsE164("+1 555 123 4567"))
}
