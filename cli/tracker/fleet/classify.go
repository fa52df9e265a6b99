// Package fleet maintains the in-memory fleet state: the reconciliation
// store fed by the ingest adapter and the pure vehicle state classifier
// evaluated on every read.
package fleet

import (
	"time"

	"github.com/fleetwatch/fleetwatch/cli/tracker/types"
)

// VehicleState is the derived state of a vehicle. It is recomputed from
// the record on every read and never stored, so it cannot go stale.
type VehicleState int

const (
	StateNoData VehicleState = iota
	StateInactive
	StateStopped
	StateIdle
	StateRunning
	StateOverspeed
)

func (s VehicleState) String() string {
	switch s {
	case StateInactive:
		return "inactive"
	case StateStopped:
		return "stopped"
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateOverspeed:
		return "overspeed"
	default:
		return "no_data"
	}
}

// Classify derives the vehicle state from the latest snapshots.
//
// inactiveAfter is deliberately a parameter: fleet views use a short
// window (~30 min) while map markers use a long one (~12 h), and the
// call site must choose explicitly.
//
// A configured speed limit of zero means "no limit"; such vehicles are
// never classified as overspeed.
func Classify(rec types.VehicleRecord, now time.Time, inactiveAfter time.Duration) VehicleState {
	if rec.Status == nil {
		return StateNoData
	}

	if IsStale(rec.Status.ObservedAt, now, inactiveAfter) {
		return StateInactive
	}

	if !rec.Status.IgnitionOn {
		return StateStopped
	}

	if rec.Location != nil && rec.Location.SpeedKmh > 0 {
		limit := rec.Attributes.SpeedLimitKmh
		if limit > 0 && rec.Location.SpeedKmh > limit {
			return StateOverspeed
		}
		return StateRunning
	}

	// Ignition on, no fix or standing still.
	if rec.Location == nil || rec.Location.SpeedKmh == 0 {
		return StateIdle
	}

	return StateNoData
}
