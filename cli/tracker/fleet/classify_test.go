package fleet

import (
	"io"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"

	"github.com/fleetwatch/fleetwatch/cli/tracker/types"
)

func TestMain(m *testing.M) {
	log.SetOutput(io.Discard)
	m.Run()
}

func record(ignition bool, speed float64, limit float64, statusAge, locationAge time.Duration, now time.Time) types.VehicleRecord {
	return types.VehicleRecord{
		ID:         "860000000000001",
		Attributes: types.StaticAttributes{SpeedLimitKmh: limit},
		Status: &types.StatusSnapshot{
			DeviceID:   "860000000000001",
			IgnitionOn: ignition,
			ObservedAt: now.Add(-statusAge),
		},
		Location: &types.LocationSnapshot{
			DeviceID:   "860000000000001",
			SpeedKmh:   speed,
			ObservedAt: now.Add(-locationAge),
		},
	}
}

func TestClassify(t *testing.T) {
	now := time.Date(2024, time.March, 10, 12, 0, 0, 0, time.UTC)
	threshold := 30 * time.Minute

	tests := []struct {
		name     string
		rec      types.VehicleRecord
		expected VehicleState
	}{
		{
			name:     "no observations at all",
			rec:      types.VehicleRecord{ID: "860000000000001"},
			expected: StateNoData,
		},
		{
			name:     "stale status wins over everything",
			rec:      record(true, 50, 90, time.Hour, time.Minute, now),
			expected: StateInactive,
		},
		{
			name:     "ignition off",
			rec:      record(false, 0, 90, time.Minute, time.Minute, now),
			expected: StateStopped,
		},
		{
			name:     "ignition on and moving",
			rec:      record(true, 50, 90, time.Minute, time.Minute, now),
			expected: StateRunning,
		},
		{
			name:     "moving above the configured limit",
			rec:      record(true, 95, 90, time.Minute, time.Minute, now),
			expected: StateOverspeed,
		},
		{
			name:     "no limit configured means never overspeed",
			rec:      record(true, 200, 0, time.Minute, time.Minute, now),
			expected: StateRunning,
		},
		{
			name:     "ignition on, standing still",
			rec:      record(true, 0, 90, time.Minute, time.Minute, now),
			expected: StateIdle,
		},
		{
			name: "ignition on without a fix",
			rec: types.VehicleRecord{
				ID: "860000000000001",
				Status: &types.StatusSnapshot{
					IgnitionOn: true,
					ObservedAt: now.Add(-time.Minute),
				},
			},
			expected: StateIdle,
		},
		{
			name: "location without status",
			rec: types.VehicleRecord{
				ID: "860000000000001",
				Location: &types.LocationSnapshot{
					SpeedKmh:   40,
					ObservedAt: now.Add(-time.Minute),
				},
			},
			expected: StateNoData,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.rec, now, threshold)
			assert.Equal(t, tt.expected, got)

			// Purity: a second call with identical input must agree.
			assert.Equal(t, got, Classify(tt.rec, now, threshold))
		})
	}
}

func TestClassifyThresholdIsPerCall(t *testing.T) {
	now := time.Date(2024, time.March, 10, 12, 0, 0, 0, time.UTC)
	rec := record(true, 50, 90, 2*time.Hour, 2*time.Hour, now)

	// The same record is inactive for the fleet view but still live for
	// the long marker window.
	assert.Equal(t, StateInactive, Classify(rec, now, 30*time.Minute))
	assert.Equal(t, StateRunning, Classify(rec, now, 12*time.Hour))
}
