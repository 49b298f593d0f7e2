package db

import (
	"context"
	"fmt"

	"github.com/surrealdb/surrealdb.go"

	"github.com/raphaelgruber/arielsync/internal/models"
)

// RecordWindow appends a window outcome to the ledger of the current database.
func (c *Client) RecordWindow(ctx context.Context, o models.WindowOutcome) error {
	_, err := surrealdb.Query[any](ctx, c.db, `CREATE type::table($tb) CONTENT $outcome`, map[string]any{
		"tb":      LedgerTable,
		"outcome": outcomeContent(o),
	})
	if err != nil {
		return fmt.Errorf("record window: %w", wrapQueryError(err))
	}
	return nil
}

func outcomeContent(o models.WindowOutcome) map[string]any {
	content := map[string]any{
		"run_id":           o.RunID,
		"event_processor":  o.EventProcessor,
		"client":           o.Client,
		"query":            o.Query,
		"window_start":     o.WindowStart,
		"window_stop":      o.WindowStop,
		"status":           string(o.Status),
		"records_found":    o.RecordsFound,
		"records_inserted": o.RecordsInserted,
		"triggers":         o.Triggers,
		"duration_ms":      o.DurationMs,
		"finished_at":      o.FinishedAt,
	}
	if o.CursorID != "" {
		content["cursor_id"] = o.CursorID
	}
	if o.Error != "" {
		content["error"] = o.Error
	}
	return content
}

// WindowRunFilter narrows ListWindowRuns. Zero values match everything.
type WindowRunFilter struct {
	RunID  string
	Query  string
	Status models.WindowStatus
	Limit  int
}

// ListWindowRuns returns ledger entries of the current database, most
// recently finished first.
func (c *Client) ListWindowRuns(ctx context.Context, f WindowRunFilter) ([]models.WindowOutcome, error) {
	where := "WHERE true"
	vars := map[string]any{"tb": LedgerTable}
	if f.RunID != "" {
		where += " AND run_id = $run_id"
		vars["run_id"] = f.RunID
	}
	if f.Query != "" {
		where += " AND query = $query"
		vars["query"] = f.Query
	}
	if f.Status != "" {
		where += " AND status = $status"
		vars["status"] = string(f.Status)
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	vars["limit"] = limit

	sql := fmt.Sprintf(`SELECT * FROM type::table($tb) %s ORDER BY finished_at DESC LIMIT $limit`, where)
	results, err := surrealdb.Query[[]models.WindowOutcome](ctx, c.db, sql, vars)
	if err != nil {
		return nil, fmt.Errorf("list window runs: %w", wrapQueryError(err))
	}

	if results != nil && len(*results) > 0 {
		return (*results)[0].Result, nil
	}
	return []models.WindowOutcome{}, nil
}
