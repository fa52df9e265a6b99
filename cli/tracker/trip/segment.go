// Package trip partitions a device's history into trips separated by
// stops. A trip is a contiguous run of location samples with no gap
// longer than the threshold; the dwell between two trips becomes a stop
// point when ignition-off evidence and a minimum duration support it.
package trip

import (
	"time"

	"github.com/fleetwatch/fleetwatch/cli/tracker/types"
	"github.com/fleetwatch/fleetwatch/libs/geotrack"
)

// Options tune the segmentation thresholds.
type Options struct {
	// GapThreshold closes the current trip when the next location
	// sample is further away in time than this.
	GapThreshold time.Duration

	// ArrivalToleranceM is the radius around the trip's last coordinate
	// within which a sample counts as the arrival record.
	ArrivalToleranceM float64

	// ArrivalFallbackM bounds the nearest-by-distance fallback when no
	// sample lands within the tolerance.
	ArrivalFallbackM float64

	// MinStopDuration discards dwells shorter than this.
	MinStopDuration time.Duration
}

// DefaultOptions returns the thresholds the dashboard uses.
func DefaultOptions() Options {
	return Options{
		GapThreshold:      5 * time.Minute,
		ArrivalToleranceM: 11,
		ArrivalFallbackM:  111,
		MinStopDuration:   time.Minute,
	}
}

// Result is the output of Segment.
type Result struct {
	Trips      []types.Trip      `json:"trips"`
	StopPoints []types.StopPoint `json:"stop_points"`
}

// Segment partitions an ordered history sample sequence into trips and
// stop points. Fewer than two usable location samples yield an empty
// result, never an error.
//
// Trip boundary times and stop point times agree exactly: a trip's end
// time equals the following stop's arrival time and the next trip's
// start time equals that stop's departure time. The stops are computed
// first and the trip boundaries derived from them, so the agreement
// holds by construction.
func Segment(samples []types.HistorySample, opts Options) Result {
	if opts.GapThreshold <= 0 {
		opts = DefaultOptions()
	}

	locs := filterLocations(samples)
	if len(locs) < 2 {
		return Result{}
	}

	trips := cutTrips(locs, opts.GapThreshold)
	if len(trips) == 0 {
		return Result{}
	}

	stops := make([]types.StopPoint, 0, len(trips))
	for i := 0; i+1 < len(trips); i++ {
		sp, ok := findStop(trips[i], samples, locs, opts)
		if !ok {
			continue
		}
		following := trips[i+1].Number
		sp.PrecedingTrip = trips[i].Number
		sp.FollowingTrip = &following
		stops = append(stops, sp)

		// Derive the boundary times from the stop so trips and stops
		// agree exactly.
		trips[i].EndTime = *sp.ArrivalTime
		trips[i+1].StartTime = *sp.DepartureTime
	}

	return Result{Trips: trips, StopPoints: stops}
}

func filterLocations(samples []types.HistorySample) []types.HistorySample {
	out := make([]types.HistorySample, 0, len(samples))
	for _, s := range samples {
		if s.Kind != types.SampleLocation || s.Latitude == nil || s.Longitude == nil {
			continue
		}
		lat, lon := *s.Latitude, *s.Longitude
		if lat < -90 || lat > 90 || lon < -180 || lon > 180 {
			continue
		}
		// Trackers report (0,0) when they have no fix.
		if lat == 0 && lon == 0 {
			continue
		}
		out = append(out, s)
	}
	return out
}

func cutTrips(locs []types.HistorySample, gap time.Duration) []types.Trip {
	var trips []types.Trip
	var current []types.HistorySample

	closeTrip := func() {
		// A single sample is a blip, not a trip.
		if len(current) >= 2 {
			trips = append(trips, buildTrip(len(trips)+1, current))
		}
		current = nil
	}

	for i, s := range locs {
		current = append(current, s)
		last := i == len(locs)-1
		if last || locs[i+1].ObservedAt.Sub(s.ObservedAt) > gap {
			closeTrip()
		}
	}

	return trips
}

func buildTrip(number int, samples []types.HistorySample) types.Trip {
	first, last := samples[0], samples[len(samples)-1]

	var speedSum, maxSpeed float64
	var speedCount int
	for _, s := range samples {
		if s.SpeedKmh == nil {
			continue
		}
		if *s.SpeedKmh > maxSpeed {
			maxSpeed = *s.SpeedKmh
		}
		if *s.SpeedKmh > 0 {
			speedSum += *s.SpeedKmh
			speedCount++
		}
	}
	avgSpeed := 0.0
	if speedCount > 0 {
		avgSpeed = speedSum / float64(speedCount)
	}

	distanceM := geotrack.Distance(*first.Latitude, *first.Longitude, *last.Latitude, *last.Longitude)

	return types.Trip{
		Number:          number,
		StartTime:       first.ObservedAt,
		EndTime:         last.ObservedAt,
		StartPoint:      types.TripPoint{Latitude: *first.Latitude, Longitude: *first.Longitude},
		EndPoint:        types.TripPoint{Latitude: *last.Latitude, Longitude: *last.Longitude},
		DistanceKm:      distanceM / 1000,
		DurationMinutes: last.ObservedAt.Sub(first.ObservedAt).Minutes(),
		AvgSpeedKmh:     avgSpeed,
		MaxSpeedKmh:     maxSpeed,
		Samples:         append([]types.HistorySample(nil), samples...),
	}
}

// findStop locates the dwell after a trip: the arrival record at the
// trip's end coordinate, the first ignition-off status after it, and
// the next location sample after that as the departure record.
func findStop(t types.Trip, all, locs []types.HistorySample, opts Options) (types.StopPoint, bool) {
	arrival, ok := findArrival(t, locs, opts)
	if !ok {
		return types.StopPoint{}, false
	}

	ignitionOff, ok := findIgnitionOff(all, arrival.ObservedAt)
	if !ok {
		return types.StopPoint{}, false
	}

	departure, ok := nextLocationAfter(locs, ignitionOff.ObservedAt)
	if !ok {
		return types.StopPoint{}, false
	}

	dwell := departure.ObservedAt.Sub(arrival.ObservedAt)
	if dwell < opts.MinStopDuration {
		return types.StopPoint{}, false
	}

	arrivalAt := arrival.ObservedAt
	departureAt := departure.ObservedAt
	return types.StopPoint{
		ArrivalTime:     &arrivalAt,
		DepartureTime:   &departureAt,
		DurationMinutes: dwell.Minutes(),
		Position:        types.TripPoint{Latitude: *arrival.Latitude, Longitude: *arrival.Longitude},
	}, true
}

func findArrival(t types.Trip, locs []types.HistorySample, opts Options) (types.HistorySample, bool) {
	var (
		nearest     types.HistorySample
		nearestDist = opts.ArrivalFallbackM
		found       bool
	)

	// Walk backwards: the arrival record is the last sample at the end
	// coordinate not later than the trip end.
	for i := len(locs) - 1; i >= 0; i-- {
		s := locs[i]
		if s.ObservedAt.After(t.EndTime) {
			continue
		}
		d := geotrack.Distance(*s.Latitude, *s.Longitude, t.EndPoint.Latitude, t.EndPoint.Longitude)
		if d <= opts.ArrivalToleranceM {
			return s, true
		}
		if d <= nearestDist {
			nearest = s
			nearestDist = d
			found = true
		}
	}

	return nearest, found
}

func findIgnitionOff(all []types.HistorySample, after time.Time) (types.HistorySample, bool) {
	for _, s := range all {
		if s.Kind != types.SampleStatus || s.IgnitionOn == nil {
			continue
		}
		if s.ObservedAt.Before(after) {
			continue
		}
		if !*s.IgnitionOn {
			return s, true
		}
	}
	return types.HistorySample{}, false
}

func nextLocationAfter(locs []types.HistorySample, after time.Time) (types.HistorySample, bool) {
	for _, s := range locs {
		if s.ObservedAt.After(after) {
			return s, true
		}
	}
	return types.HistorySample{}, false
}
