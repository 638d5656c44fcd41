package nl2sql

import (
	"context"
	"strings"
	"testing"
)

type scriptedCaller struct {
	result  CallResult
	prompts []string
}

func (c *scriptedCaller) Call(_ context.Context, prompt string) (CallResult, error) {
	c.prompts = append(c.prompts, prompt)
	return c.result, nil
}

func newGenerator(caller Caller) *Generator {
	return &Generator{
		Caller:         caller,
		TableName:      "sales",
		ContextText:    "/* Table Schema */\nCREATE TABLE sales (\n    region VARCHAR\n);",
		ResponsePrefix: "SELECT",
	}
}

func TestGeneratePromptLayout(t *testing.T) {
	caller := &scriptedCaller{result: CallResult{Text: "region FROM sales", InputTokens: 12, OutputTokens: 4}}
	gen := newGenerator(caller)

	out, err := gen.Generate(context.Background(), "Which regions exist?", "", "")
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}

	prompt := caller.prompts[0]
	for _, want := range []string{
		"Generate a DuckDB SQL query",
		"/* Table Schema */",
		"/* Query Rules */",
		"-- The table is named: sales",
		"Question: Which regions exist?",
	} {
		if !strings.Contains(prompt, want) {
			t.Fatalf("prompt missing %q:\n%s", want, prompt)
		}
	}
	if strings.Contains(prompt, "PREVIOUS ATTEMPT FAILED") {
		t.Fatal("first attempt must not carry a retry section")
	}
	if !strings.HasSuffix(prompt, "\n\nSELECT") {
		t.Fatalf("prompt should end with the response prefix:\n%s", prompt)
	}

	if out.SQL != "SELECT region FROM sales" {
		t.Fatalf("SQL = %q", out.SQL)
	}
	if out.InputTokens != 12 || out.OutputTokens != 4 {
		t.Fatalf("tokens = %d/%d", out.InputTokens, out.OutputTokens)
	}
}

func TestGenerateRetryPrompt(t *testing.T) {
	caller := &scriptedCaller{result: CallResult{Text: "COUNT(*) FROM sales"}}
	gen := newGenerator(caller)

	_, err := gen.Generate(context.Background(), "How many sales?", "SELECT COUNT(*) FROM orders", `Table with name orders does not exist`)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}

	prompt := caller.prompts[0]
	for _, want := range []string{
		"/* PREVIOUS ATTEMPT FAILED - FIX THE ERROR */",
		"Failed SQL:\nSELECT COUNT(*) FROM orders",
		"Error message:\nTable with name orders does not exist",
		"Analyze the error and generate corrected SQL. Do not repeat the same mistake.",
	} {
		if !strings.Contains(prompt, want) {
			t.Fatalf("retry prompt missing %q:\n%s", want, prompt)
		}
	}
	if !strings.HasSuffix(prompt, "\n\nSELECT") {
		t.Fatalf("retry prompt should still end with the response prefix:\n%s", prompt)
	}
}

func TestExtractSQL(t *testing.T) {
	tests := []struct {
		name string
		text string
		want string
	}{
		{
			name: "continuation gets the prefix back",
			text: " region, COUNT(*) FROM sales GROUP BY region",
			want: "SELECT region, COUNT(*) FROM sales GROUP BY region",
		},
		{
			name: "full statement is not doubled",
			text: "SELECT region FROM sales",
			want: "SELECT region FROM sales",
		},
		{
			name: "case insensitive prefix check",
			text: "select region from sales",
			want: "select region from sales",
		},
		{
			name: "fenced code block",
			text: "```sql\nSELECT region FROM sales\n```",
			want: "SELECT region FROM sales",
		},
		{
			name: "fence stripped before prefix restore",
			text: "```\nregion FROM sales\n```",
			want: "SELECT region FROM sales",
		},
		{
			name: "trailing explanation cut",
			text: "SELECT region FROM sales\n\nThis query lists every region.",
			want: "SELECT region FROM sales",
		},
		{
			name: "note marker cut",
			text: "SELECT region FROM sales;\n\nNote: regions are lowercase.",
			want: "SELECT region FROM sales;",
		},
		{
			name: "comment trailer cut",
			text: "SELECT region FROM sales\n\n-- lists regions",
			want: "SELECT region FROM sales",
		},
		{
			name: "doubled semicolons collapse",
			text: "SELECT region FROM sales;;;",
			want: "SELECT region FROM sales;",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := extractSQL(tt.text, "SELECT"); got != tt.want {
				t.Fatalf("extractSQL(%q) = %q, want %q", tt.text, got, tt.want)
			}
		})
	}
}
