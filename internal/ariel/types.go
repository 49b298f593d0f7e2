package ariel

import "github.com/raphaelgruber/arielsync/internal/models"

// Search is the status document returned when creating or polling a search.
type Search struct {
	CursorID      string                `json:"cursor_id"`
	Status        string                `json:"status"`
	Completed     *bool                 `json:"completed"`
	Progress      int                   `json:"progress"`
	RecordCount   int                   `json:"record_count"`
	ErrorMessages []models.ErrorMessage `json:"error_messages"`
}

// IsCompleted reports the completed flag, treating a missing flag as false.
func (s *Search) IsCompleted() bool {
	return s.Completed != nil && *s.Completed
}
