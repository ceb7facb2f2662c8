package scene

import (
	"math"
	"time"

	"github.com/sudorandom/floortrack/pkg/tracking"
)

// Staleness is the per-marker age classification.
type Staleness int

const (
	Fresh Staleness = iota
	Warning
	Expired
)

const (
	DefaultStaleWarning = 10 * time.Minute
	DefaultStaleTimeout = 60 * time.Minute

	// transitionTick pushes expiry wake-ups one tick past the boundary so
	// the re-synchronization pass sees the entry as already expired.
	transitionTick = time.Millisecond
)

// ThresholdFromMinutes converts a configured minute count into a duration,
// falling back to def for non-positive or unparsable (NaN) values.
func ThresholdFromMinutes(minutes float64, def time.Duration) time.Duration {
	if math.IsNaN(minutes) || math.IsInf(minutes, 0) || minutes <= 0 {
		return def
	}
	return time.Duration(minutes * float64(time.Minute))
}

// Classify buckets an age: fresh below the warning threshold, warning up to
// and including the timeout, expired past it.
func Classify(age, warn, timeout time.Duration) Staleness {
	if age > timeout {
		return Expired
	}
	if age >= warn {
		return Warning
	}
	return Fresh
}

// FilterFresh drops expired entries before reconciliation; expired markers
// never reach the scene graph.
func FilterFresh(locs map[string]tracking.DeviceLocation, now time.Time, timeout time.Duration) map[string]tracking.DeviceLocation {
	out := make(map[string]tracking.DeviceLocation, len(locs))
	for id, loc := range locs {
		if now.Sub(loc.ReceivedAt) > timeout {
			continue
		}
		out[id] = loc
	}
	return out
}

// NextTransition computes the minimum delay until any entry crosses a
// staleness boundary: its next warning crossing, or one tick past its
// expiry. Returns false when nothing is scheduled to change.
func NextTransition(locs map[string]tracking.DeviceLocation, now time.Time, warn, timeout time.Duration) (time.Duration, bool) {
	best := time.Duration(0)
	found := false
	consider := func(d time.Duration) {
		if d < transitionTick {
			d = transitionTick
		}
		if !found || d < best {
			best = d
			found = true
		}
	}
	for _, loc := range locs {
		age := now.Sub(loc.ReceivedAt)
		switch Classify(age, warn, timeout) {
		case Fresh:
			consider(warn - age)
		case Warning:
			consider(timeout - age + transitionTick)
		case Expired:
			// Nothing left to schedule.
		}
	}
	return best, found
}
