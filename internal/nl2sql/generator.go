package nl2sql

import (
	"context"
	"fmt"
	"strings"
)

// Generation is one SQL candidate with the token usage of the call that
// produced it. The SQL is the extracted statement, not the raw model text.
type Generation struct {
	SQL          string
	InputTokens  int
	OutputTokens int
}

// Generator assembles prompts for one tool and extracts SQL from the model's
// replies. ContextText is the rendered semantic context, fixed at startup.
type Generator struct {
	Caller         Caller
	TableName      string
	ContextText    string
	ResponsePrefix string
}

// Models love to append prose after the statement. Extraction cuts at the
// first of these markers.
var explanationMarkers = []string{"\n\nThis query", "\n\nExplanation", "\n\nNote:", "\n\n--"}

// Generate produces one SQL candidate. When previousSQL and previousError are
// both set the prompt carries the failed attempt and an explicit instruction
// to fix it.
func (g *Generator) Generate(ctx context.Context, question, previousSQL, previousError string) (Generation, error) {
	prompt := g.buildPrompt(question, previousSQL, previousError)
	result, err := g.Caller.Call(ctx, prompt)
	if err != nil {
		return Generation{}, fmt.Errorf("generate sql: %w", err)
	}
	return Generation{
		SQL:          extractSQL(result.Text, g.ResponsePrefix),
		InputTokens:  result.InputTokens,
		OutputTokens: result.OutputTokens,
	}, nil
}

// buildPrompt ends with the response prefix so the model continues the
// statement instead of opening with prose.
func (g *Generator) buildPrompt(question, previousSQL, previousError string) string {
	var b strings.Builder
	b.WriteString("Generate a DuckDB SQL query to answer the question based on the schema and data below.\n\n")
	b.WriteString(g.ContextText)
	b.WriteString("\n\n/* Query Rules */\n")
	b.WriteString("-- Return ONLY a valid DuckDB SQL SELECT statement\n")
	b.WriteString("-- The table is named: " + g.TableName + "\n")
	b.WriteString("-- Use single quotes for strings; escape apostrophes by doubling: 'O''Brien'\n")
	b.WriteString("-- For date filtering with VARCHAR dates, cast to TIMESTAMP: CAST(date_col AS TIMESTAMP)\n")
	b.WriteString("\nQuestion: " + question)

	if previousSQL != "" && previousError != "" {
		b.WriteString("\n\n/* PREVIOUS ATTEMPT FAILED - FIX THE ERROR */\n")
		b.WriteString("Failed SQL:\n" + previousSQL + "\n\n")
		b.WriteString("Error message:\n" + previousError + "\n\n")
		b.WriteString("Analyze the error and generate corrected SQL. Do not repeat the same mistake.")
	}

	b.WriteString("\n\n" + g.ResponsePrefix)
	return b.String()
}

// extractSQL recovers a statement from raw model output: strip fenced-block
// markers, restore the response prefix without doubling it, cut trailing
// explanations, and collapse doubled semicolons.
func extractSQL(text, prefix string) string {
	sqlText := strings.TrimSpace(text)

	if strings.Contains(sqlText, "```") {
		var clean []string
		for _, line := range strings.Split(sqlText, "\n") {
			if strings.HasPrefix(strings.TrimSpace(line), "```") {
				continue
			}
			clean = append(clean, line)
		}
		sqlText = strings.TrimSpace(strings.Join(clean, "\n"))
	}

	if !strings.HasPrefix(strings.ToUpper(sqlText), strings.ToUpper(prefix)) {
		sqlText = prefix + " " + sqlText
	}

	for _, marker := range explanationMarkers {
		if index := strings.Index(sqlText, marker); index >= 0 {
			sqlText = sqlText[:index]
		}
	}
	sqlText = strings.TrimSpace(sqlText)

	for strings.HasSuffix(sqlText, ";;") {
		sqlText = sqlText[:len(sqlText)-1]
	}
	return sqlText
}
