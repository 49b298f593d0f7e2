package cli

import (
	"fmt"
	"time"
)

// boundLayouts are accepted by --from and --to, tried in order.
var boundLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
}

// parseBound parses a range flag. Values without an offset are read in loc.
func parseBound(s string, loc *time.Location) (time.Time, error) {
	for _, layout := range boundLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid time %q (want RFC3339, \"YYYY-MM-DD HH:MM:SS\" or \"YYYY-MM-DD\")", s)
}

// resolveRange turns the --from/--to flags into a run range. Without flags
// the range is the previous day: midnight yesterday to midnight today in loc.
func resolveRange(from, to string, loc *time.Location, now time.Time) (time.Time, time.Time, error) {
	now = now.In(loc)
	stop := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc)
	if to != "" {
		t, err := parseBound(to, loc)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("--to: %w", err)
		}
		stop = t
	}

	start := stop.Add(-24 * time.Hour)
	if from != "" {
		t, err := parseBound(from, loc)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("--from: %w", err)
		}
		start = t
	}

	if !start.Before(stop) {
		return time.Time{}, time.Time{}, fmt.Errorf("--from %s is not before --to %s", start.Format(time.RFC3339), stop.Format(time.RFC3339))
	}
	return start, stop, nil
}
