package availability

import "time"

// Interval is a half-open time span [Start, End).
type Interval struct {
	Start time.Time
	End   time.Time
}

// IsEmpty reports whether the interval covers no time.
func (iv Interval) IsEmpty() bool {
	return !iv.Start.Before(iv.End)
}

// Overlaps reports whether two half-open intervals intersect.
func (iv Interval) Overlaps(other Interval) bool {
	return iv.Start.Before(other.End) && other.Start.Before(iv.End)
}

// Subtract removes busy from each interval in free, splitting intervals that
// the busy span cuts through the middle of. Inputs and output stay sorted by
// start time when the input was sorted.
func Subtract(free []Interval, busy Interval) []Interval {
	if busy.IsEmpty() {
		return free
	}

	var result []Interval
	for _, iv := range free {
		if !iv.Overlaps(busy) {
			result = append(result, iv)
			continue
		}
		if iv.Start.Before(busy.Start) {
			result = append(result, Interval{Start: iv.Start, End: busy.Start})
		}
		if busy.End.Before(iv.End) {
			result = append(result, Interval{Start: busy.End, End: iv.End})
		}
	}
	return result
}

// SubtractAll removes every busy span from free.
func SubtractAll(free []Interval, busy []Interval) []Interval {
	for _, b := range busy {
		free = Subtract(free, b)
	}
	return free
}
