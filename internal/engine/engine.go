// Package engine runs the generate, execute, log loop that turns a natural
// language question into query results.
package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/quackql/quackql/internal/attemptlog"
	"github.com/quackql/quackql/internal/config"
	"github.com/quackql/quackql/internal/executor"
	"github.com/quackql/quackql/internal/nl2sql"
	"github.com/quackql/quackql/internal/observability"
)

// Generator produces one SQL candidate, optionally conditioned on the
// previous failed attempt.
type Generator interface {
	Generate(ctx context.Context, question, previousSQL, previousError string) (nl2sql.Generation, error)
}

// Executor runs SQL against a tool's data source. Engine-level SQL failures
// are captured in the result; only source problems surface as errors.
type Executor interface {
	Execute(ctx context.Context, sqlText string, tool config.ToolConfig) (executor.Result, error)
}

// AttemptError is one failed attempt in a request's error trail, in order.
type AttemptError struct {
	SQL   string `json:"sql"`
	Error string `json:"error"`
}

// Outcome is the terminal state of one request. RetryCount is zero-based:
// 0 means the first generation succeeded. Token totals accumulate across
// every attempt, including failed ones.
type Outcome struct {
	Success      bool
	Columns      []string
	Rows         [][]any
	RowCount     int
	SQL          string
	RetryCount   int
	Errors       []AttemptError
	InputTokens  int
	OutputTokens int
}

type Service struct {
	Executor Executor
	Attempts attemptlog.Store
	Logger   *slog.Logger
}

// ExecuteWithRetry drives up to max_retries+1 attempts for one question.
// Each failed execution feeds its SQL and engine error into the next
// generation. LLM call failures abort the request; they are provider
// problems, not something a retry prompt can fix. Every attempt is logged
// best-effort before the loop decides what to do next.
func (s *Service) ExecuteWithRetry(ctx context.Context, question string, tool config.ToolConfig, gen Generator, client string) (Outcome, error) {
	requestID := uuid.NewString()
	budget := tool.RetryBudget()

	outcome := Outcome{}
	var previousSQL, previousError string

	for attempt := 0; attempt <= budget; attempt++ {
		generationStart := time.Now()
		generation, err := gen.Generate(ctx, question, previousSQL, previousError)
		if err != nil {
			s.Logger.Error("sql generation failed",
				slog.String("tool", tool.Name),
				slog.String("request_id", requestID),
				slog.Int("attempt", attempt+1),
				slog.Any("error", err),
			)
			return Outcome{}, err
		}
		observability.ObserveGeneration(tool.Name, generation.InputTokens, generation.OutputTokens, time.Since(generationStart))
		outcome.InputTokens += generation.InputTokens
		outcome.OutputTokens += generation.OutputTokens
		outcome.SQL = generation.SQL

		result, err := s.Executor.Execute(ctx, generation.SQL, tool)
		if err != nil {
			return Outcome{}, err
		}
		observability.ObserveAttempt(tool.Name, result.Success, result.Duration)

		s.logAttempt(ctx, attemptlog.Attempt{
			RequestID:       requestID,
			AttemptNumber:   attempt + 1,
			Timestamp:       time.Now().UTC(),
			Client:          client,
			NLQ:             question,
			SQL:             generation.SQL,
			Success:         result.Success,
			ErrorMessage:    result.Error,
			RowCount:        result.RowCount,
			ExecutionTimeMS: result.Duration.Milliseconds(),
			InputTokens:     generation.InputTokens,
			OutputTokens:    generation.OutputTokens,
		}, tool.Name)

		if result.Success {
			outcome.Success = true
			outcome.Columns = result.Columns
			outcome.Rows = result.Rows
			outcome.RowCount = result.RowCount
			outcome.RetryCount = attempt
			observability.ObserveRequest(tool.Name, true, attempt)
			s.Logger.Info("question answered",
				slog.String("tool", tool.Name),
				slog.String("request_id", requestID),
				slog.Int("retries", attempt),
				slog.Int("rows", result.RowCount),
			)
			return outcome, nil
		}

		outcome.Errors = append(outcome.Errors, AttemptError{SQL: generation.SQL, Error: result.Error})
		previousSQL = generation.SQL
		previousError = result.Error
	}

	outcome.RetryCount = budget
	observability.ObserveRequest(tool.Name, false, budget)
	s.Logger.Warn("retry budget exhausted",
		slog.String("tool", tool.Name),
		slog.String("request_id", requestID),
		slog.Int("attempts", budget+1),
	)
	return outcome, nil
}

// A lost log row must never fail a request that otherwise answered.
func (s *Service) logAttempt(ctx context.Context, attempt attemptlog.Attempt, tool string) {
	if err := s.Attempts.Log(ctx, attempt); err != nil {
		s.Logger.Warn("attempt log write failed",
			slog.String("tool", tool),
			slog.String("request_id", attempt.RequestID),
			slog.Any("error", err),
		)
	}
}
