package geotrack

import "time"

// StepsFor maps a playback speed multiplier to the number of
// interpolation steps per segment. Slow playback gets more intermediate
// points for smoothness, fast playback fewer for performance.
func StepsFor(multiplier float64) int {
	switch {
	case multiplier >= 16:
		return 2
	case multiplier >= 8:
		return 3
	case multiplier >= 4:
		return 4
	case multiplier >= 2:
		return 5
	case multiplier >= 1.5:
		return 7
	case multiplier >= 1:
		return 10
	case multiplier >= 0.5:
		return 12
	default:
		return 15
	}
}

// Interpolate produces steps+1 points from start to end inclusive.
// Latitude, longitude, speed and timestamp are interpolated linearly;
// the course of every produced point is the forward bearing of the
// segment, not a blend of the endpoint courses, so a rendered marker
// points along its actual travel direction.
func Interpolate(start, end Sample, steps int) []Sample {
	if steps < 1 {
		steps = 1
	}

	bearing := Bearing(start.Lat, start.Lon, end.Lat, end.Lon)
	startMs := start.ObservedAt.UnixMilli()
	endMs := end.ObservedAt.UnixMilli()

	out := make([]Sample, 0, steps+1)
	for i := 0; i <= steps; i++ {
		t := float64(i) / float64(steps)
		p := Sample{
			Lat:        start.Lat + (end.Lat-start.Lat)*t,
			Lon:        start.Lon + (end.Lon-start.Lon)*t,
			Course:     bearing,
			Speed:      lerpSpeed(start.Speed, end.Speed, t),
			ObservedAt: time.UnixMilli(startMs + int64(float64(endMs-startMs)*t)),
		}
		out = append(out, p)
	}
	return out
}

// BuildRoute interpolates every consecutive pair of samples and
// concatenates the results into one continuous sequence. The first
// point of each segment after the first is dropped because it is the
// same point as the previous segment's tail.
func BuildRoute(samples []Sample, multiplier float64) []Sample {
	if len(samples) < 2 {
		return append([]Sample(nil), samples...)
	}

	steps := StepsFor(multiplier)
	route := make([]Sample, 0, (len(samples)-1)*steps+1)
	for i := 0; i < len(samples)-1; i++ {
		seg := Interpolate(samples[i], samples[i+1], steps)
		if i > 0 {
			seg = seg[1:]
		}
		route = append(route, seg...)
	}
	return route
}

func lerpSpeed(a, b *float64, t float64) *float64 {
	switch {
	case a != nil && b != nil:
		v := *a + (*b-*a)*t
		return &v
	case a != nil:
		v := *a
		return &v
	case b != nil:
		v := *b
		return &v
	default:
		return nil
	}
}
