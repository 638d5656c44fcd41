// Package semantic introspects a tool's data source once at startup and
// renders the result into the text block every generation prompt carries.
package semantic

import (
	"fmt"
	"strings"
	"time"

	"github.com/quackql/quackql/internal/config"
)

type Column struct {
	Name string
	Type string
}

type DateRange struct {
	Min string
	Max string
}

// Diagnostic is the outcome of one configured diagnostic query. Failures are
// isolated per query and recorded instead of aborting the build.
type Diagnostic struct {
	Query string
	Rows  [][]any
	Err   string
}

// Context is built exactly once per tool configuration and treated as
// immutable afterwards.
type Context struct {
	TableName   string
	QueryTarget string

	SchemaDDL  string
	Columns    []Column
	SampleData string

	CategoricalColumns []string
	Categorical        map[string][]string

	DateColumns []string
	DateRanges  map[string]DateRange

	Diagnostics []Diagnostic

	// EnrichmentErrors collects the failures of best-effort enrichment
	// steps. They are logged at build time and kept for inspection; they do
	// not appear in the rendered prompt context.
	EnrichmentErrors []string

	Hints []string
}

const categoricalRenderLimit = 20

// Render assembles the prompt context in fixed section order: schema DDL,
// sample data, categorical values, date ranges, hints.
func (c Context) Render(prompt config.PromptConfig) string {
	sqlComment := prompt.HintStyle != "plain"

	parts := []string{"/* Table Schema */", c.SchemaDDL}

	if c.SampleData != "" {
		parts = append(parts, "\n/* Sample Data (CSV format) */", c.SampleData)
	}

	if len(c.CategoricalColumns) > 0 {
		parts = append(parts, "\n/* Categorical Column Values */")
		for _, name := range c.CategoricalColumns {
			values := c.Categorical[name]
			var rendered string
			if len(values) <= categoricalRenderLimit {
				rendered = quoteJoin(values)
			} else {
				rendered = fmt.Sprintf("%s ... (%d total)", quoteJoin(values[:categoricalRenderLimit]), len(values))
			}
			parts = append(parts, hintLine(sqlComment, fmt.Sprintf("%s: %s", name, rendered)))
		}
	}

	if len(c.DateColumns) > 0 {
		parts = append(parts, "\n/* Date Ranges */")
		for _, name := range c.DateColumns {
			bounds := c.DateRanges[name]
			parts = append(parts, hintLine(sqlComment, fmt.Sprintf("%s: %s to %s", name, bounds.Min, bounds.Max)))
		}
	}

	if len(c.Hints) > 0 {
		parts = append(parts, "\n/* Important Notes */")
		for _, hint := range c.Hints {
			parts = append(parts, hintLine(sqlComment, hint))
		}
	}

	return strings.Join(parts, "\n")
}

func hintLine(sqlComment bool, text string) string {
	if sqlComment {
		return "-- " + text
	}
	return text
}

func quoteJoin(values []string) string {
	quoted := make([]string, 0, len(values))
	for _, value := range values {
		quoted = append(quoted, "'"+value+"'")
	}
	return strings.Join(quoted, ", ")
}

// formatValue stringifies a scanned DuckDB value for CSV samples, date
// bounds, and diagnostics.
func formatValue(value any) string {
	switch typed := value.(type) {
	case nil:
		return ""
	case time.Time:
		return typed.Format("2006-01-02 15:04:05")
	case string:
		return typed
	case []byte:
		return string(typed)
	default:
		return fmt.Sprint(typed)
	}
}

// formatCSV renders sample rows as header + quoted delimited text: nulls
// become empty fields, strings are double-quote escaped, everything else is
// stringified.
func formatCSV(columns []string, rows [][]any) string {
	lines := make([]string, 0, len(rows)+1)
	lines = append(lines, strings.Join(columns, ","))
	for _, row := range rows {
		fields := make([]string, 0, len(row))
		for _, value := range row {
			switch typed := value.(type) {
			case nil:
				fields = append(fields, "")
			case string:
				fields = append(fields, `"`+strings.ReplaceAll(typed, `"`, `""`)+`"`)
			default:
				fields = append(fields, formatValue(typed))
			}
		}
		lines = append(lines, strings.Join(fields, ","))
	}
	return strings.Join(lines, "\n")
}
