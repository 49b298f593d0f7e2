package db

import (
	"context"
	"fmt"

	"github.com/surrealdb/surrealdb.go"
	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"

	"github.com/raphaelgruber/arielsync/internal/models"
)

// insertedRecord is the projection returned by InsertMany's query.
type insertedRecord struct {
	ID surrealmodels.RecordID `json:"id"`
}

// InsertMany inserts docs into table in one statement and returns the number
// of records created. An empty batch is a no-op.
func (c *Client) InsertMany(ctx context.Context, table string, docs []models.Record) (int, error) {
	if len(docs) == 0 {
		return 0, nil
	}
	ident, err := quoteIdent(table)
	if err != nil {
		return 0, err
	}

	results, err := surrealdb.Query[[]insertedRecord](ctx, c.db,
		fmt.Sprintf("INSERT INTO %s $records RETURN id", ident),
		map[string]any{"records": docs})
	if err != nil {
		return 0, fmt.Errorf("insert into %s: %w", table, wrapQueryError(err))
	}

	if results == nil || len(*results) == 0 {
		return 0, nil
	}
	return len((*results)[0].Result), nil
}

// CountRecords returns the number of records in table.
func (c *Client) CountRecords(ctx context.Context, table string) (int, error) {
	ident, err := quoteIdent(table)
	if err != nil {
		return 0, err
	}

	type countResult struct {
		Count int `json:"count"`
	}
	results, err := surrealdb.Query[[]countResult](ctx, c.db,
		fmt.Sprintf("SELECT count() FROM %s GROUP ALL", ident), nil)
	if err != nil {
		return 0, fmt.Errorf("count %s: %w", table, wrapQueryError(err))
	}

	if results == nil || len(*results) == 0 || len((*results)[0].Result) == 0 {
		return 0, nil
	}
	return (*results)[0].Result[0].Count, nil
}
