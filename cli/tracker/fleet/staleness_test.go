package fleet

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestAge(t *testing.T) {
	now := time.Date(2024, time.March, 10, 12, 0, 0, 0, time.UTC)

	assert.Equal(t, 5*time.Minute, Age(now.Add(-5*time.Minute), now))

	// Tracker clocks run ahead of the server sometimes; never negative.
	assert.Equal(t, time.Duration(0), Age(now.Add(time.Minute), now))
}

func TestIsStale(t *testing.T) {
	now := time.Date(2024, time.March, 10, 12, 0, 0, 0, time.UTC)

	assert.False(t, IsStale(now.Add(-29*time.Minute), now, 30*time.Minute))
	assert.False(t, IsStale(now.Add(-30*time.Minute), now, 30*time.Minute))
	assert.True(t, IsStale(now.Add(-31*time.Minute), now, 30*time.Minute))
}

func TestHumanizeAge(t *testing.T) {
	tests := []struct {
		d        time.Duration
		expected string
	}{
		{45 * time.Second, "45s"},
		{90 * time.Second, "1m"},
		{59 * time.Minute, "59m"},
		{5 * time.Hour, "5h"},
		{49 * time.Hour, "2d"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, HumanizeAge(tt.d))
	}
}
