package engine

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/quackql/quackql/internal/attemptlog"
	"github.com/quackql/quackql/internal/config"
	"github.com/quackql/quackql/internal/executor"
	"github.com/quackql/quackql/internal/nl2sql"
)

type generateCall struct {
	previousSQL   string
	previousError string
}

type fakeGenerator struct {
	generations []nl2sql.Generation
	err         error
	calls       []generateCall
}

func (g *fakeGenerator) Generate(_ context.Context, _, previousSQL, previousError string) (nl2sql.Generation, error) {
	g.calls = append(g.calls, generateCall{previousSQL: previousSQL, previousError: previousError})
	if g.err != nil {
		return nl2sql.Generation{}, g.err
	}
	index := len(g.calls) - 1
	if index >= len(g.generations) {
		index = len(g.generations) - 1
	}
	return g.generations[index], nil
}

type fakeExecutor struct {
	results []executor.Result
	err     error
	sqls    []string
}

func (e *fakeExecutor) Execute(_ context.Context, sqlText string, _ config.ToolConfig) (executor.Result, error) {
	e.sqls = append(e.sqls, sqlText)
	if e.err != nil {
		return executor.Result{}, e.err
	}
	index := len(e.sqls) - 1
	if index >= len(e.results) {
		index = len(e.results) - 1
	}
	return e.results[index], nil
}

type recordingStore struct {
	attempts []attemptlog.Attempt
	err      error
}

func (s *recordingStore) Log(_ context.Context, attempt attemptlog.Attempt) error {
	s.attempts = append(s.attempts, attempt)
	return s.err
}

func (s *recordingStore) Close() error { return nil }

func newService(exec Executor, store attemptlog.Store) *Service {
	return &Service{
		Executor: exec,
		Attempts: store,
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func retries(n int) config.ToolConfig {
	return config.ToolConfig{Name: "sales", MaxRetries: &n}
}

func TestExecuteWithRetryFirstAttemptSucceeds(t *testing.T) {
	gen := &fakeGenerator{generations: []nl2sql.Generation{
		{SQL: "SELECT COUNT(*) FROM sales", InputTokens: 100, OutputTokens: 10},
	}}
	exec := &fakeExecutor{results: []executor.Result{
		{Success: true, Columns: []string{"count"}, Rows: [][]any{{int64(3)}}, RowCount: 1, Duration: time.Millisecond},
	}}
	store := &recordingStore{}

	outcome, err := newService(exec, store).ExecuteWithRetry(context.Background(), "How many sales?", retries(2), gen, "cli")
	if err != nil {
		t.Fatalf("ExecuteWithRetry() error = %v", err)
	}
	if !outcome.Success {
		t.Fatal("outcome should be successful")
	}
	if outcome.RetryCount != 0 {
		t.Fatalf("RetryCount = %d", outcome.RetryCount)
	}
	if len(outcome.Errors) != 0 {
		t.Fatalf("Errors = %v", outcome.Errors)
	}
	if outcome.InputTokens != 100 || outcome.OutputTokens != 10 {
		t.Fatalf("tokens = %d/%d", outcome.InputTokens, outcome.OutputTokens)
	}
	if len(gen.calls) != 1 {
		t.Fatalf("generator calls = %d", len(gen.calls))
	}

	if len(store.attempts) != 1 {
		t.Fatalf("logged attempts = %d", len(store.attempts))
	}
	logged := store.attempts[0]
	if logged.AttemptNumber != 1 || !logged.Success || logged.Client != "cli" {
		t.Fatalf("logged attempt = %+v", logged)
	}
	if logged.RequestID == "" {
		t.Fatal("logged attempt needs a request id")
	}
}

func TestExecuteWithRetryFeedsErrorBack(t *testing.T) {
	gen := &fakeGenerator{generations: []nl2sql.Generation{
		{SQL: "SELECT regionn FROM sales", InputTokens: 100, OutputTokens: 10},
		{SQL: "SELECT region FROM sales", InputTokens: 120, OutputTokens: 12},
	}}
	exec := &fakeExecutor{results: []executor.Result{
		{Success: false, Error: `column "regionn" not found`},
		{Success: true, Columns: []string{"region"}, Rows: [][]any{{"north"}}, RowCount: 1},
	}}
	store := &recordingStore{}

	outcome, err := newService(exec, store).ExecuteWithRetry(context.Background(), "List regions", retries(2), gen, "cli")
	if err != nil {
		t.Fatalf("ExecuteWithRetry() error = %v", err)
	}
	if !outcome.Success || outcome.RetryCount != 1 {
		t.Fatalf("outcome = %+v", outcome)
	}
	if len(outcome.Errors) != 1 || outcome.Errors[0].SQL != "SELECT regionn FROM sales" {
		t.Fatalf("error trail = %v", outcome.Errors)
	}
	if outcome.SQL != "SELECT region FROM sales" {
		t.Fatalf("SQL = %q", outcome.SQL)
	}
	if outcome.InputTokens != 220 || outcome.OutputTokens != 22 {
		t.Fatalf("tokens = %d/%d", outcome.InputTokens, outcome.OutputTokens)
	}

	// The second generation must see the failed SQL and its error.
	second := gen.calls[1]
	if second.previousSQL != "SELECT regionn FROM sales" || second.previousError != `column "regionn" not found` {
		t.Fatalf("retry context = %+v", second)
	}

	if len(store.attempts) != 2 {
		t.Fatalf("logged attempts = %d", len(store.attempts))
	}
	if store.attempts[0].Success || !store.attempts[1].Success {
		t.Fatalf("logged outcomes = %v, %v", store.attempts[0].Success, store.attempts[1].Success)
	}
	if store.attempts[0].RequestID != store.attempts[1].RequestID {
		t.Fatal("attempts of one request must share a request id")
	}
	if store.attempts[1].AttemptNumber != 2 {
		t.Fatalf("second attempt number = %d", store.attempts[1].AttemptNumber)
	}
	if store.attempts[1].InputTokens != 120 {
		t.Fatalf("per-attempt tokens = %d", store.attempts[1].InputTokens)
	}
}

func TestExecuteWithRetryExhaustsBudget(t *testing.T) {
	gen := &fakeGenerator{generations: []nl2sql.Generation{
		{SQL: "SELECT bad FROM sales", InputTokens: 50, OutputTokens: 5},
	}}
	exec := &fakeExecutor{results: []executor.Result{
		{Success: false, Error: "boom"},
	}}
	store := &recordingStore{}

	outcome, err := newService(exec, store).ExecuteWithRetry(context.Background(), "q", retries(2), gen, "cli")
	if err != nil {
		t.Fatalf("ExecuteWithRetry() error = %v", err)
	}
	if outcome.Success {
		t.Fatal("outcome should be a failure")
	}
	if outcome.RetryCount != 2 {
		t.Fatalf("RetryCount = %d", outcome.RetryCount)
	}
	if len(gen.calls) != 3 || len(store.attempts) != 3 {
		t.Fatalf("attempts = %d generations, %d log rows", len(gen.calls), len(store.attempts))
	}
	if len(outcome.Errors) != 3 {
		t.Fatalf("error trail = %v", outcome.Errors)
	}
	if outcome.InputTokens != 150 {
		t.Fatalf("InputTokens = %d", outcome.InputTokens)
	}
}

func TestExecuteWithRetryZeroBudgetMeansSingleAttempt(t *testing.T) {
	gen := &fakeGenerator{generations: []nl2sql.Generation{{SQL: "SELECT bad"}}}
	exec := &fakeExecutor{results: []executor.Result{{Success: false, Error: "boom"}}}
	store := &recordingStore{}

	outcome, err := newService(exec, store).ExecuteWithRetry(context.Background(), "q", retries(0), gen, "cli")
	if err != nil {
		t.Fatalf("ExecuteWithRetry() error = %v", err)
	}
	if len(gen.calls) != 1 {
		t.Fatalf("generator calls = %d", len(gen.calls))
	}
	if outcome.RetryCount != 0 || outcome.Success {
		t.Fatalf("outcome = %+v", outcome)
	}
}

func TestExecuteWithRetryPropagatesGenerationErrors(t *testing.T) {
	gen := &fakeGenerator{err: errors.New("provider unreachable")}
	exec := &fakeExecutor{}
	store := &recordingStore{}

	_, err := newService(exec, store).ExecuteWithRetry(context.Background(), "q", retries(2), gen, "cli")
	if err == nil {
		t.Fatal("generation failure should abort the request")
	}
	if len(store.attempts) != 0 {
		t.Fatalf("nothing should be logged, got %d rows", len(store.attempts))
	}
}

func TestExecuteWithRetryPropagatesSourceErrors(t *testing.T) {
	gen := &fakeGenerator{generations: []nl2sql.Generation{{SQL: "SELECT 1"}}}
	exec := &fakeExecutor{err: errors.New("open duckdb: no such file")}
	store := &recordingStore{}

	_, err := newService(exec, store).ExecuteWithRetry(context.Background(), "q", retries(2), gen, "cli")
	if err == nil {
		t.Fatal("source-open failure should abort the request")
	}
}

func TestExecuteWithRetrySurvivesLogFailures(t *testing.T) {
	gen := &fakeGenerator{generations: []nl2sql.Generation{{SQL: "SELECT 1", InputTokens: 1}}}
	exec := &fakeExecutor{results: []executor.Result{{Success: true, RowCount: 1}}}
	store := &recordingStore{err: errors.New("disk full")}

	outcome, err := newService(exec, store).ExecuteWithRetry(context.Background(), "q", retries(0), gen, "cli")
	if err != nil {
		t.Fatalf("ExecuteWithRetry() error = %v", err)
	}
	if !outcome.Success {
		t.Fatal("log failure must not fail the request")
	}
}
