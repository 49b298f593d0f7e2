package models

// SearchState is the lifecycle state of one search job.
type SearchState string

const (
	StateNotStarted SearchState = "NOT_STARTED"
	StateTriggered  SearchState = "TRIGGERED"
	StatePolling    SearchState = "POLLING"
	StateCompleted  SearchState = "COMPLETED"
	StateAbnormal   SearchState = "ABNORMAL"
	StateExhausted  SearchState = "EXHAUSTED"
)

// IsTerminal reports whether no further polling happens from s.
func (s SearchState) IsTerminal() bool {
	return s == StateCompleted || s == StateAbnormal || s == StateExhausted
}

// ErrorMessage is one entry of a search's error_messages list.
type ErrorMessage struct {
	// Code is a string on some consoles and a number on others.
	Code    any    `json:"code"`
	Message string `json:"message"`
}

// SearchJob tracks one remote search, identified by its cursor.
// A re-trigger always creates a new SearchJob.
type SearchJob struct {
	CursorID string
	Status   SearchState

	// Fields mirrored from the latest API response.
	APIStatus     string
	Completed     bool
	RecordCount   int
	Progress      int
	ErrorMessages []ErrorMessage

	// Attempts counts polls that consumed an attempt.
	Attempts int
	// Trigger is the zero-based index of the trigger that created this job.
	Trigger int
}
