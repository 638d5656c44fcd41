package semantic

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"

	"github.com/quackql/quackql/internal/config"
	"github.com/quackql/quackql/internal/executor"
)

const categoricalCardinalityCeiling = 100

// Builder introspects data sources through the shared connection pool.
type Builder struct {
	Pool   *executor.Pool
	Logger *slog.Logger
}

// Build resolves the tool's data source, auto-discovering the table name for
// database files when none is configured, and runs the full enrichment
// pipeline. Source resolution failures are configuration errors and abort
// the build; every enrichment step degrades instead of failing.
func (b *Builder) Build(ctx context.Context, tool config.ToolConfig) (Context, error) {
	db, err := b.Pool.Acquire(ctx, tool)
	if err != nil {
		return Context{}, err
	}

	tableName := tool.ResolvedTableName()
	if tableName == "" {
		tableName, err = discoverTable(ctx, db, tool.DBPath)
		if err != nil {
			return Context{}, err
		}
	}

	sc := Context{
		TableName:   tableName,
		QueryTarget: tableName,
		Categorical: map[string][]string{},
		DateRanges:  map[string]DateRange{},
		Hints:       tool.Hints,
	}

	b.introspectSchema(ctx, db, &sc)
	if tool.Prompt.IncludeSamples() {
		b.sampleRows(ctx, db, &sc, tool.Prompt.SampleRowCount)
	}
	b.enrichCategorical(ctx, db, &sc)
	b.enrichDateRanges(ctx, db, &sc)
	b.runDiagnostics(ctx, db, &sc, tool.DiagnosticQueries)

	for _, note := range sc.EnrichmentErrors {
		b.Logger.Warn("semantic enrichment degraded",
			slog.String("tool", tool.Name),
			slog.String("detail", note),
		)
	}
	b.Logger.Info("semantic context built",
		slog.String("tool", tool.Name),
		slog.String("table", sc.TableName),
		slog.Int("columns", len(sc.Columns)),
		slog.Int("categorical_columns", len(sc.CategoricalColumns)),
		slog.Int("date_columns", len(sc.DateColumns)),
	)
	return sc, nil
}

// discoverTable succeeds only when the database file holds exactly one table.
func discoverTable(ctx context.Context, db *sql.DB, dbPath string) (string, error) {
	_, rows, err := executor.QueryRows(ctx, db, "SHOW TABLES")
	if err != nil {
		return "", fmt.Errorf("list tables in %q: %w", dbPath, err)
	}
	names := make([]string, 0, len(rows))
	for _, row := range rows {
		if len(row) > 0 {
			names = append(names, formatValue(row[0]))
		}
	}
	switch len(names) {
	case 0:
		return "", fmt.Errorf("no tables found in database: %s", dbPath)
	case 1:
		return names[0], nil
	default:
		return "", fmt.Errorf("multiple tables found in %s, set table_name: %s", dbPath, strings.Join(names, ", "))
	}
}

func (b *Builder) introspectSchema(ctx context.Context, db *sql.DB, sc *Context) {
	_, rows, err := executor.QueryRows(ctx, db, "DESCRIBE SELECT * FROM "+sc.QueryTarget)
	if err != nil {
		sc.SchemaDDL = fmt.Sprintf("-- Schema introspection failed: %v", err)
		return
	}

	lines := []string{fmt.Sprintf("CREATE TABLE %s (", sc.TableName)}
	for i, row := range rows {
		if len(row) < 2 {
			continue
		}
		column := Column{Name: formatValue(row[0]), Type: formatValue(row[1])}
		sc.Columns = append(sc.Columns, column)

		comma := ","
		if i == len(rows)-1 {
			comma = ""
		}
		lines = append(lines, fmt.Sprintf("    %s %s%s", column.Name, column.Type, comma))
	}
	lines = append(lines, ");")
	lines = append(lines, fmt.Sprintf("-- Query this table as: SELECT ... FROM %s WHERE ...", sc.TableName))
	sc.SchemaDDL = strings.Join(lines, "\n")
}

func (b *Builder) sampleRows(ctx context.Context, db *sql.DB, sc *Context, count int) {
	query := fmt.Sprintf("SELECT * FROM %s ORDER BY RANDOM() LIMIT %d", sc.QueryTarget, count)
	columns, rows, err := executor.QueryRows(ctx, db, query)
	if err != nil {
		sc.SampleData = fmt.Sprintf("(sample query failed: %v)", err)
		return
	}
	sc.SampleData = formatCSV(columns, rows)
}

func (b *Builder) enrichCategorical(ctx context.Context, db *sql.DB, sc *Context) {
	for _, column := range sc.Columns {
		if column.Type != "VARCHAR" {
			continue
		}
		countQuery := fmt.Sprintf("SELECT COUNT(DISTINCT %s) FROM %s", column.Name, sc.QueryTarget)
		_, rows, err := executor.QueryRows(ctx, db, countQuery)
		if err != nil {
			sc.EnrichmentErrors = append(sc.EnrichmentErrors, fmt.Sprintf("categorical cardinality for %s: %v", column.Name, err))
			continue
		}
		if len(rows) == 0 || len(rows[0]) == 0 {
			continue
		}
		distinct, ok := asInt64(rows[0][0])
		if !ok || distinct == 0 || distinct > categoricalCardinalityCeiling {
			continue
		}

		valuesQuery := fmt.Sprintf(
			"SELECT DISTINCT %s FROM %s WHERE %s IS NOT NULL ORDER BY %s LIMIT %d",
			column.Name, sc.QueryTarget, column.Name, column.Name, categoricalCardinalityCeiling,
		)
		_, valueRows, err := executor.QueryRows(ctx, db, valuesQuery)
		if err != nil {
			sc.EnrichmentErrors = append(sc.EnrichmentErrors, fmt.Sprintf("categorical values for %s: %v", column.Name, err))
			continue
		}
		values := make([]string, 0, len(valueRows))
		for _, row := range valueRows {
			if len(row) > 0 {
				values = append(values, formatValue(row[0]))
			}
		}
		sc.CategoricalColumns = append(sc.CategoricalColumns, column.Name)
		sc.Categorical[column.Name] = values
	}
}

// enrichDateRanges covers columns declared as DATE/TIMESTAMP kinds plus
// columns whose name carries a date-like suffix.
func (b *Builder) enrichDateRanges(ctx context.Context, db *sql.DB, sc *Context) {
	for _, column := range sc.Columns {
		upperType := strings.ToUpper(column.Type)
		if !strings.Contains(upperType, "DATE") && !strings.Contains(upperType, "TIMESTAMP") && !strings.HasSuffix(column.Name, "_date") {
			continue
		}
		query := fmt.Sprintf("SELECT MIN(%s), MAX(%s) FROM %s", column.Name, column.Name, sc.QueryTarget)
		_, rows, err := executor.QueryRows(ctx, db, query)
		if err != nil {
			sc.EnrichmentErrors = append(sc.EnrichmentErrors, fmt.Sprintf("date range for %s: %v", column.Name, err))
			continue
		}
		if len(rows) == 0 || len(rows[0]) < 2 {
			continue
		}
		minValue, maxValue := rows[0][0], rows[0][1]
		if minValue == nil || maxValue == nil {
			continue
		}
		sc.DateColumns = append(sc.DateColumns, column.Name)
		sc.DateRanges[column.Name] = DateRange{Min: formatValue(minValue), Max: formatValue(maxValue)}
	}
}

// runDiagnostics executes the configured query templates, substituting the
// resolved target and table name. Each query's failure is isolated.
func (b *Builder) runDiagnostics(ctx context.Context, db *sql.DB, sc *Context, templates []string) {
	for _, template := range templates {
		query := strings.ReplaceAll(template, "{query_target}", sc.QueryTarget)
		query = strings.ReplaceAll(query, "{table_name}", sc.TableName)
		query = strings.ReplaceAll(query, "{parquet_path}", sc.QueryTarget)

		_, rows, err := executor.QueryRows(ctx, db, query)
		if err != nil {
			sc.Diagnostics = append(sc.Diagnostics, Diagnostic{Query: template, Err: err.Error()})
			continue
		}
		sc.Diagnostics = append(sc.Diagnostics, Diagnostic{Query: template, Rows: rows})
	}
}

func asInt64(value any) (int64, bool) {
	switch typed := value.(type) {
	case int64:
		return typed, true
	case int32:
		return int64(typed), true
	case int:
		return int64(typed), true
	case uint64:
		return int64(typed), true
	case float64:
		return int64(typed), true
	default:
		return 0, false
	}
}
