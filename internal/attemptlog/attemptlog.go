// Package attemptlog persists every generation attempt, successful or not,
// to an append-only query_log table.
package attemptlog

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Attempt is one generation-execution cycle. AttemptNumber starts at 1 for
// the initial generation. The SQL recorded is the statement as generated,
// before execution-time sanitizing.
type Attempt struct {
	RequestID       string
	AttemptNumber   int
	Timestamp       time.Time
	Client          string
	NLQ             string
	SQL             string
	Success         bool
	ErrorMessage    string
	RowCount        int
	ExecutionTimeMS int64
	InputTokens     int
	OutputTokens    int
}

type Store interface {
	Log(ctx context.Context, attempt Attempt) error
	Close() error
}

// Open selects the sink for a log store locator: a postgres:// DSN gets the
// Postgres sink, anything else is treated as a DuckDB file path.
func Open(ctx context.Context, locator string) (Store, error) {
	if locator == "" {
		return nil, fmt.Errorf("log store locator is required")
	}
	if strings.HasPrefix(locator, "postgres://") || strings.HasPrefix(locator, "postgresql://") {
		return openPostgres(ctx, locator)
	}
	return &duckdbStore{path: locator}, nil
}

// nullable maps Go zero values onto SQL NULL the way the log schema expects:
// no error text on success, no row count on failure.
func nullableError(attempt Attempt) any {
	if attempt.ErrorMessage == "" {
		return nil
	}
	return attempt.ErrorMessage
}

func nullableRowCount(attempt Attempt) any {
	if !attempt.Success {
		return nil
	}
	return attempt.RowCount
}
