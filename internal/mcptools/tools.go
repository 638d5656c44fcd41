// Package mcptools exposes each configured tool as an MCP tool taking one
// natural language question.
package mcptools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/quackql/quackql/internal/config"
	"github.com/quackql/quackql/internal/engine"
)

// Responses carry at most this many rows; row_count still reports the full
// result size.
const maxResponseRows = 100

type response struct {
	Success     bool        `json:"success"`
	Columns     []string    `json:"columns"`
	Rows        [][]any     `json:"rows"`
	RowCount    int         `json:"row_count"`
	Diagnostics diagnostics `json:"diagnostics"`
}

type diagnostics struct {
	SQL          string                `json:"sql"`
	RetryCount   int                   `json:"retry_count"`
	Errors       []engine.AttemptError `json:"errors"`
	InputTokens  int                   `json:"input_tokens"`
	OutputTokens int                   `json:"output_tokens"`
}

// Register adds one MCP tool for a tool configuration. The description from
// config is what the client sees when deciding whether to call it.
func Register(s *server.MCPServer, svc *engine.Service, tool config.ToolConfig, gen engine.Generator, logger *slog.Logger) {
	description := tool.Description
	if description == "" {
		description = fmt.Sprintf("Query the %s data source using natural language.", tool.Name)
	}

	mcpTool := mcp.NewTool(
		tool.Name,
		mcp.WithDescription(description),
		mcp.WithString(
			"question",
			mcp.Required(),
			mcp.Description("A natural language question about the data"),
		),
		mcp.WithReadOnlyHintAnnotation(true),
	)

	s.AddTool(mcpTool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		question, err := req.RequireString("question")
		if err != nil {
			return nil, err
		}

		client := clientName(ctx)
		logger.Info("question received",
			slog.String("tool", tool.Name),
			slog.String("client", client),
		)

		outcome, err := svc.ExecuteWithRetry(ctx, question, tool, gen, client)
		if err != nil {
			return nil, err
		}

		payload, err := json.Marshal(shapeResponse(outcome))
		if err != nil {
			return nil, fmt.Errorf("marshal response: %w", err)
		}
		return mcp.NewToolResultText(string(payload)), nil
	})
}

func shapeResponse(outcome engine.Outcome) response {
	rows := outcome.Rows
	if len(rows) > maxResponseRows {
		rows = rows[:maxResponseRows]
	}
	errors := outcome.Errors
	if errors == nil {
		errors = []engine.AttemptError{}
	}
	return response{
		Success:  outcome.Success,
		Columns:  outcome.Columns,
		Rows:     rows,
		RowCount: outcome.RowCount,
		Diagnostics: diagnostics{
			SQL:          outcome.SQL,
			RetryCount:   outcome.RetryCount,
			Errors:       errors,
			InputTokens:  outcome.InputTokens,
			OutputTokens: outcome.OutputTokens,
		},
	}
}

// clientName pulls the client identity negotiated at MCP initialize time.
// Sessions without client info degrade to "unknown".
func clientName(ctx context.Context) string {
	session := server.ClientSessionFromContext(ctx)
	if session == nil {
		return "unknown"
	}
	if withInfo, ok := session.(server.SessionWithClientInfo); ok {
		if name := withInfo.GetClientInfo().Name; name != "" {
			return name
		}
	}
	return "unknown"
}
