package executor

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/quackql/quackql/internal/config"
)

// Result is the outcome of running one SQL statement. Engine errors never
// escape Execute; they are captured as a failed Result so the retry loop can
// feed them back into generation.
type Result struct {
	Success  bool
	Columns  []string
	Rows     [][]any
	RowCount int
	Error    string
	Duration time.Duration
}

// SanitizeSQL fixes common LLM generation slips before execution. The only
// rewrite today: a CTE statement prefixed with a spurious SELECT keyword.
func SanitizeSQL(sqlText string) string {
	sqlText = strings.TrimSpace(sqlText)
	if strings.HasPrefix(strings.ToUpper(sqlText), "SELECT WITH") {
		sqlText = sqlText[len("SELECT "):]
	}
	return sqlText
}

// Execute runs sanitized SQL against the tool's data source. A non-nil error
// means the source itself could not be opened (a configuration problem); SQL
// failures come back as Result{Success: false}.
func (p *Pool) Execute(ctx context.Context, sqlText string, tool config.ToolConfig) (Result, error) {
	db, err := p.Acquire(ctx, tool)
	if err != nil {
		return Result{}, err
	}

	sqlText = SanitizeSQL(sqlText)

	start := time.Now()
	rows, err := db.QueryContext(ctx, sqlText)
	if err != nil {
		return failedResult(err, time.Since(start)), nil
	}
	defer func() { _ = rows.Close() }()

	columns, err := rows.Columns()
	if err != nil {
		return failedResult(err, time.Since(start)), nil
	}

	resultRows := make([][]any, 0)
	for rows.Next() {
		values := make([]any, len(columns))
		scanTargets := make([]any, len(columns))
		for i := range values {
			scanTargets[i] = &values[i]
		}
		if err := rows.Scan(scanTargets...); err != nil {
			return failedResult(err, time.Since(start)), nil
		}
		resultRows = append(resultRows, normalizeValues(values))
	}
	if err := rows.Err(); err != nil {
		return failedResult(err, time.Since(start)), nil
	}

	return Result{
		Success:  true,
		Columns:  columns,
		Rows:     resultRows,
		RowCount: len(resultRows),
		Duration: time.Since(start),
	}, nil
}

func failedResult(err error, elapsed time.Duration) Result {
	return Result{
		Success:  false,
		Error:    err.Error(),
		Duration: elapsed,
	}
}

func normalizeValues(values []any) []any {
	normalized := make([]any, len(values))
	for i, value := range values {
		switch typed := value.(type) {
		case []byte:
			normalized[i] = string(typed)
		default:
			normalized[i] = typed
		}
	}
	return normalized
}

// QueryRows is a convenience for introspection queries that want materialized
// rows without the success/failure envelope.
func QueryRows(ctx context.Context, db *sql.DB, sqlText string) ([]string, [][]any, error) {
	rows, err := db.QueryContext(ctx, sqlText)
	if err != nil {
		return nil, nil, err
	}
	defer func() { _ = rows.Close() }()

	columns, err := rows.Columns()
	if err != nil {
		return nil, nil, err
	}
	resultRows := make([][]any, 0)
	for rows.Next() {
		values := make([]any, len(columns))
		scanTargets := make([]any, len(columns))
		for i := range values {
			scanTargets[i] = &values[i]
		}
		if err := rows.Scan(scanTargets...); err != nil {
			return nil, nil, err
		}
		resultRows = append(resultRows, normalizeValues(values))
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}
	return columns, resultRows, nil
}
