package fleet

import (
	"fmt"
	"time"
)

// Age returns how old an observation is relative to now. Observations
// from the future (clock skew between tracker and server) count as
// fresh.
func Age(observedAt, now time.Time) time.Duration {
	d := now.Sub(observedAt)
	if d < 0 {
		return 0
	}
	return d
}

// IsStale reports whether an observation is older than the threshold.
func IsStale(observedAt, now time.Time, threshold time.Duration) bool {
	return Age(observedAt, now) > threshold
}

// HumanizeAge renders a duration in the largest fitting unit, the way
// the dashboard shows "last seen".
func HumanizeAge(d time.Duration) string {
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd", int(d.Hours()/24))
	}
}
