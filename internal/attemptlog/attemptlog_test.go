package attemptlog

import (
	"context"
	"database/sql"
	"path/filepath"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
)

func sampleAttempt() Attempt {
	return Attempt{
		RequestID:       "2f1b7f9e-55a1-4a71-9f63-0d8f3f6f9d10",
		AttemptNumber:   1,
		Timestamp:       time.Date(2026, 3, 10, 14, 30, 0, 0, time.UTC),
		Client:          "claude-desktop",
		NLQ:             "How many orders shipped last week?",
		SQL:             "SELECT COUNT(*) FROM orders",
		Success:         true,
		RowCount:        1,
		ExecutionTimeMS: 12,
		InputTokens:     900,
		OutputTokens:    40,
	}
}

func TestOpenSelectsDuckDBSink(t *testing.T) {
	store, err := Open(context.Background(), filepath.Join(t.TempDir(), "log.duckdb"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer func() { _ = store.Close() }()
	if _, ok := store.(*duckdbStore); !ok {
		t.Fatalf("Open() sink = %T, want duckdb", store)
	}
}

func TestOpenRejectsEmptyLocator(t *testing.T) {
	if _, err := Open(context.Background(), ""); err == nil {
		t.Fatal("Open() should reject an empty locator")
	}
}

func TestDuckDBStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log.duckdb")
	store := &duckdbStore{path: path}

	success := sampleAttempt()
	if err := store.Log(context.Background(), success); err != nil {
		t.Fatalf("Log() error = %v", err)
	}

	failure := sampleAttempt()
	failure.AttemptNumber = 2
	failure.Success = false
	failure.ErrorMessage = `Binder Error: column "regionn" not found`
	failure.RowCount = 0
	if err := store.Log(context.Background(), failure); err != nil {
		t.Fatalf("Log() second error = %v", err)
	}

	db, err := sql.Open("duckdb", path)
	if err != nil {
		t.Fatalf("sql.Open() error = %v", err)
	}
	defer func() { _ = db.Close() }()

	var total int
	if err := db.QueryRow("SELECT COUNT(*) FROM query_log").Scan(&total); err != nil {
		t.Fatalf("count query error = %v", err)
	}
	if total != 2 {
		t.Fatalf("query_log rows = %d", total)
	}

	var (
		errorMessage sql.NullString
		rowCount     sql.NullInt64
	)
	row := db.QueryRow("SELECT error_message, row_count FROM query_log WHERE attempt_number = 1")
	if err := row.Scan(&errorMessage, &rowCount); err != nil {
		t.Fatalf("scan success row: %v", err)
	}
	if errorMessage.Valid {
		t.Fatalf("success row error_message = %q, want NULL", errorMessage.String)
	}
	if !rowCount.Valid || rowCount.Int64 != 1 {
		t.Fatalf("success row row_count = %+v", rowCount)
	}

	row = db.QueryRow("SELECT error_message, row_count FROM query_log WHERE attempt_number = 2")
	if err := row.Scan(&errorMessage, &rowCount); err != nil {
		t.Fatalf("scan failure row: %v", err)
	}
	if !errorMessage.Valid || errorMessage.String == "" {
		t.Fatal("failure row should keep the engine error text")
	}
	if rowCount.Valid {
		t.Fatalf("failure row row_count = %+v, want NULL", rowCount)
	}
}

func TestPostgresStoreLog(t *testing.T) {
	db, mock := newSQLMock(t)
	store := newPostgresStore(db)

	mock.ExpectExec(regexp.QuoteMeta(`CREATE TABLE IF NOT EXISTS query_log`)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	attempt := sampleAttempt()
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO query_log`)).
		WithArgs(
			attempt.RequestID,
			attempt.AttemptNumber,
			attempt.Timestamp,
			attempt.Client,
			attempt.NLQ,
			attempt.SQL,
			true,
			nil,
			attempt.RowCount,
			attempt.ExecutionTimeMS,
			attempt.InputTokens,
			attempt.OutputTokens,
		).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := store.Log(context.Background(), attempt); err != nil {
		t.Fatalf("Log() error = %v", err)
	}

	// The schema statement runs once per store, not once per call.
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO query_log`)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	if err := store.Log(context.Background(), attempt); err != nil {
		t.Fatalf("Log() second error = %v", err)
	}

	assertSQLMock(t, mock)
}

func newSQLMock(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db, mock
}

func assertSQLMock(t *testing.T, mock sqlmock.Sqlmock) {
	t.Helper()
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet sql expectations: %v", err)
	}
}
