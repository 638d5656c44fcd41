package attemptlog

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS query_log (
    request_id TEXT,
    attempt_number INTEGER,
    timestamp TIMESTAMPTZ,
    client TEXT,
    nlq TEXT,
    sql TEXT,
    success BOOLEAN,
    error_message TEXT,
    row_count INTEGER,
    execution_time_ms BIGINT,
    input_tokens INTEGER,
    output_tokens INTEGER
)`

const postgresInsert = `
INSERT INTO query_log (
    request_id, attempt_number, timestamp, client, nlq, sql,
    success, error_message, row_count, execution_time_ms,
    input_tokens, output_tokens
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

type postgresStore struct {
	db *sql.DB

	schemaOnce sync.Once
	schemaErr  error
}

func openPostgres(ctx context.Context, dsn string) (*postgresStore, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open log db: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping log db: %w", err)
	}
	return newPostgresStore(db), nil
}

func newPostgresStore(db *sql.DB) *postgresStore {
	return &postgresStore{db: db}
}

func (s *postgresStore) Log(ctx context.Context, attempt Attempt) error {
	s.schemaOnce.Do(func() {
		_, s.schemaErr = s.db.ExecContext(ctx, postgresSchema)
	})
	if s.schemaErr != nil {
		return fmt.Errorf("ensure query_log table: %w", s.schemaErr)
	}

	if _, err := s.db.ExecContext(ctx, postgresInsert,
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

func (s *postgresStore) Close() error {
	return s.db.Close()
}
