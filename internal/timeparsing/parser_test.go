package timeparsing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bidline/internal/followup"
)

// Wednesday, January 15, 2025
var today = followup.NewDate(2025, 1, 15)

func TestParseDay(t *testing.T) {
	tests := []struct {
		input string
		want  followup.Date
	}{
		{"", today},
		{"today", today},
		{"TODAY", today},
		{"2024-06-12", followup.NewDate(2024, 6, 12)},
		{"2024-06-12T23:30:00-07:00", followup.NewDate(2024, 6, 12)},
		{"+2d", followup.NewDate(2025, 1, 17)},
		{"2d", followup.NewDate(2025, 1, 17)},
		{"-1w", followup.NewDate(2025, 1, 8)},
		{"+1m", followup.NewDate(2025, 2, 15)},
		{"1y", followup.NewDate(2026, 1, 15)},
		{"tomorrow", followup.NewDate(2025, 1, 16)},
		{"yesterday", followup.NewDate(2025, 1, 14)},
		{"next monday", followup.NewDate(2025, 1, 20)},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseDay(tt.input, today)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseDayRejectsGarbage(t *testing.T) {
	for _, in := range []string{"xyzzy", "qwerty"} {
		_, err := ParseDay(in, today)
		assert.Error(t, err, in)
	}
}

func TestCompactOffset(t *testing.T) {
	assert.True(t, IsCompactOffset("+3d"))
	assert.False(t, IsCompactOffset("+3h"))
	assert.False(t, IsCompactOffset("three days"))
	_, err := ParseCompactOffset("later", today)
	assert.Error(t, err)
}
