package catalog

import "time"

// CurrentTime picks the default display time for a layer from its published
// times, per the dataset's current_time_method. times must be sorted
// ascending; the zero time is returned when the list is empty.
func CurrentTime(method CurrentTimeMethod, times []time.Time, now time.Time) time.Time {
	if len(times) == 0 {
		return time.Time{}
	}

	switch method {
	case CurrentTimePreviousToNow:
		// Latest time at or before now; earliest when all are in the future.
		for i := len(times) - 1; i >= 0; i-- {
			if !times[i].After(now) {
				return times[i]
			}
		}
		return times[0]

	case CurrentTimeNextToNow:
		// Earliest time at or after now; latest when all are in the past.
		for _, t := range times {
			if !t.Before(now) {
				return t
			}
		}
		return times[len(times)-1]

	default: // CurrentTimeLatestFromSource
		return times[len(times)-1]
	}
}
