package attemptlog

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/marcboeker/go-duckdb/v2"
)

const duckdbSchema = `
CREATE TABLE IF NOT EXISTS query_log (
    request_id VARCHAR,
    attempt_number INTEGER,
    timestamp TIMESTAMP,
    client VARCHAR,
    nlq VARCHAR,
    sql VARCHAR,
    success BOOLEAN,
    error_message VARCHAR,
    row_count INTEGER,
    execution_time_ms INTEGER,
    input_tokens INTEGER,
    output_tokens INTEGER
)`

const duckdbInsert = `
INSERT INTO query_log (
    request_id, attempt_number, timestamp, client, nlq, sql,
    success, error_message, row_count, execution_time_ms,
    input_tokens, output_tokens
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

// duckdbStore opens a fresh connection per call so the log file never holds
// a long-lived write lock against other readers.
type duckdbStore struct {
	path string
}

func (s *duckdbStore) Log(ctx context.Context, attempt Attempt) error {
	db, err := sql.Open("duckdb", s.path)
	if err != nil {
		return fmt.Errorf("open log db %q: %w", s.path, err)
	}
	defer func() { _ = db.Close() }()

	if _, err := db.ExecContext(ctx, duckdbSchema); err != nil {
		return fmt.Errorf("ensure query_log table: %w", err)
	}
	if _, err := db.ExecContext(ctx, duckdbInsert,
		attempt.RequestID,
		attempt.AttemptNumber,
		attempt.Timestamp,
		attempt.Client,
		attempt.NLQ,
		attempt.SQL,
		attempt.Success,
		nullableError(attempt),
		nullableRowCount(attempt),
		attempt.ExecutionTimeMS,
		attempt.InputTokens,
		attempt.OutputTokens,
	); err != nil {
		return fmt.Errorf("insert query_log row: %w", err)
	}
	return nil
}

func (s *duckdbStore) Close() error {
	return nil
}
