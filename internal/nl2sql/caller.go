// Package nl2sql turns natural language questions into DuckDB SQL through a
// configured LLM provider.
package nl2sql

import (
	"context"
	"fmt"

	"github.com/quackql/quackql/internal/config"
)

// CallResult carries the raw model output plus the token usage reported by
// the provider.
type CallResult struct {
	Text         string
	InputTokens  int
	OutputTokens int
}

// Caller is a single-prompt completion call against one provider.
type Caller interface {
	Call(ctx context.Context, prompt string) (CallResult, error)
}

// NewCaller builds the provider client for a tool's LLM configuration. Ollama
// endpoints speak the OpenAI-compatible chat API.
func NewCaller(cfg config.LLMConfig) (Caller, error) {
	switch cfg.Provider {
	case config.ProviderOpenAI, config.ProviderOllama:
		return newOpenAICaller(cfg), nil
	case config.ProviderAnthropic:
		return newAnthropicCaller(cfg), nil
	default:
		return nil, fmt.Errorf("unsupported llm provider: %q", cfg.Provider)
	}
}
