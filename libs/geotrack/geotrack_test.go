package geotrack

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDistance(t *testing.T) {
	tests := []struct {
		name       string
		lat1, lon1 float64
		lat2, lon2 float64
		expected   float64
		tolerance  float64
	}{
		{
			name:      "zero distance for identical points",
			lat1:      55.7558,
			lon1:      37.6173,
			lat2:      55.7558,
			lon2:      37.6173,
			expected:  0,
			tolerance: 0.001,
		},
		{
			name:      "one degree of latitude is ~111 km",
			lat1:      0,
			lon1:      0,
			lat2:      1,
			lon2:      0,
			expected:  111195,
			tolerance: 100,
		},
		{
			name:      "short urban hop",
			lat1:      55.7558,
			lon1:      37.6173,
			lat2:      55.7568,
			lon2:      37.6173,
			expected:  111.2,
			tolerance: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Distance(tt.lat1, tt.lon1, tt.lat2, tt.lon2)
			assert.InDelta(t, tt.expected, got, tt.tolerance)
		})
	}
}

func TestBearing(t *testing.T) {
	tests := []struct {
		name       string
		lat1, lon1 float64
		lat2, lon2 float64
		expected   float64
	}{
		{name: "due north", lat1: 0, lon1: 0, lat2: 1, lon2: 0, expected: 0},
		{name: "due east", lat1: 0, lon1: 0, lat2: 0, lon2: 1, expected: 90},
		{name: "due south", lat1: 1, lon1: 0, lat2: 0, lon2: 0, expected: 180},
		{name: "due west", lat1: 0, lon1: 1, lat2: 0, lon2: 0, expected: 270},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Bearing(tt.lat1, tt.lon1, tt.lat2, tt.lon2)
			assert.InDelta(t, tt.expected, got, 0.01)
		})
	}
}

func TestBearingRange(t *testing.T) {
	// The formula must always normalize into [0, 360).
	got := Bearing(10, 10, 9.5, 9.2)
	assert.GreaterOrEqual(t, got, 0.0)
	assert.Less(t, got, 360.0)
}
