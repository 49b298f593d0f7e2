// Package planner splits a time range into fixed-size search windows.
package planner

import (
	"iter"
	"time"

	"github.com/raphaelgruber/arielsync/internal/models"
)

// Plan yields [cursor, cursor+d) windows starting at initial and advancing by
// d while cursor <= stop. The last window is not clipped, so it may end after
// stop. A non-positive d yields nothing. Ranging over the result twice starts
// over from initial.
func Plan(initial, stop time.Time, d time.Duration) iter.Seq[models.TimeWindow] {
	return func(yield func(models.TimeWindow) bool) {
		if d <= 0 {
			return
		}
		for cursor := initial; !cursor.After(stop); cursor = cursor.Add(d) {
			if !yield(models.TimeWindow{Start: cursor, Stop: cursor.Add(d)}) {
				return
			}
		}
	}
}

// Windows collects Plan into a slice.
func Windows(initial, stop time.Time, d time.Duration) []models.TimeWindow {
	var out []models.TimeWindow
	for w := range Plan(initial, stop, d) {
		out = append(out, w)
	}
	return out
}

// Duration returns the window size configured for class.
func Duration(class models.DurationClass, short, long time.Duration) time.Duration {
	if class == models.ClassShort {
		return short
	}
	return long
}
