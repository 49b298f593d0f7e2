// Package models defines the data structures shared by the search pipeline,
// the document-store sink and the CLI.
package models

import (
	"fmt"
	"time"
)

// BoundLayout is the timestamp layout AQL expects inside START/STOP clauses.
const BoundLayout = "2006-01-02 15:04:05"

// DurationClass selects the window size and poll cadence of a query.
type DurationClass string

const (
	ClassShort DurationClass = "SHORT"
	ClassLong  DurationClass = "LONG"
)

// TimeWindow is the half-open interval [Start, Stop) one search covers.
type TimeWindow struct {
	Start time.Time `json:"start"`
	Stop  time.Time `json:"stop"`
}

// Duration returns Stop - Start.
func (w TimeWindow) Duration() time.Duration {
	return w.Stop.Sub(w.Start)
}

// String renders the window for logs.
func (w TimeWindow) String() string {
	return fmt.Sprintf("%s..%s", w.Start.Format(BoundLayout), w.Stop.Format(BoundLayout))
}

// FormatBound renders t single-quoted, ready to drop into an AQL expression.
func FormatBound(t time.Time) string {
	return "'" + t.Format(BoundLayout) + "'"
}
