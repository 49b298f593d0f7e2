package models

import (
	"time"

	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"
)

// WindowStatus is the final status of one processed window.
type WindowStatus string

const (
	WindowCompleted WindowStatus = "completed"
	WindowNoRecords WindowStatus = "no_records"
	WindowLost      WindowStatus = "lost"
)

// WindowOutcome is the ledger entry written after a window has been processed.
type WindowOutcome struct {
	ID              *surrealmodels.RecordID `json:"id,omitempty"`
	RunID           string                  `json:"run_id"`
	EventProcessor  string                  `json:"event_processor"`
	Client          string                  `json:"client"`
	Query           string                  `json:"query"`
	WindowStart     time.Time               `json:"window_start"`
	WindowStop      time.Time               `json:"window_stop"`
	CursorID        string                  `json:"cursor_id,omitempty"`
	Status          WindowStatus            `json:"status"`
	RecordsFound    int                     `json:"records_found"`
	RecordsInserted int                     `json:"records_inserted"`
	Triggers        int                     `json:"triggers"`
	Error           string                  `json:"error,omitempty"`
	DurationMs      int64                   `json:"duration_ms"`
	FinishedAt      time.Time               `json:"finished_at"`
}
