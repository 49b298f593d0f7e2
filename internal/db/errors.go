package db

import (
	"errors"
	"fmt"
	"strings"

	"github.com/surrealdb/surrealdb.go"
)

// Sentinel errors for database operations.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrRecordExists indicates an insert hit a record id that already exists.
	ErrRecordExists = errors.New("record already exists")

	// ErrTransactionConflict indicates a SurrealDB transaction conflict.
	// This occurs when multiple concurrent operations attempt to modify the same records.
	// Callers should typically retry or skip the operation.
	ErrTransactionConflict = errors.New("transaction conflict")

	// ErrNotFound indicates the requested record does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrInvalidTable indicates a table name that cannot be used as an identifier.
	ErrInvalidTable = errors.New("invalid table name")
)

// wrapQueryError inspects a SurrealDB error and wraps it with the appropriate
// sentinel error if it's a known query error type. Returns the original error
// if it's not a QueryError or doesn't match known patterns.
func wrapQueryError(err error) error {
	if err == nil {
		return nil
	}

	// Extract QueryError if present - this is a database-level error
	var queryErr *surrealdb.QueryError
	if errors.As(err, &queryErr) {
		msg := queryErr.Message
		if strings.Contains(msg, "already exists") {
			return fmt.Errorf("%w: %s", ErrRecordExists, msg)
		}
		if strings.Contains(msg, "Transaction conflict") {
			return fmt.Errorf("%w: %s", ErrTransactionConflict, msg)
		}
		if strings.Contains(msg, "does not exist") {
			return fmt.Errorf("%w: %s", ErrNotFound, msg)
		}
	}

	return err
}

// quoteIdent renders table as a backtick-quoted SurrealQL identifier so names
// with spaces can be used verbatim.
func quoteIdent(table string) (string, error) {
	if table == "" || strings.ContainsAny(table, "`\\\x00") {
		return "", fmt.Errorf("%w: %q", ErrInvalidTable, table)
	}
	return "`" + table + "`", nil
}
