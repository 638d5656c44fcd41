package nl2sql

import (
	"context"
	"fmt"
	"net/http"

	anthropic "github.com/liushuangls/go-anthropic/v2"

	"github.com/quackql/quackql/internal/config"
)

type anthropicCaller struct {
	client      *anthropic.Client
	model       string
	temperature float32
	maxTokens   int
}

func newAnthropicCaller(cfg config.LLMConfig) *anthropicCaller {
	opts := []anthropic.ClientOption{
		anthropic.WithHTTPClient(&http.Client{Timeout: cfg.Timeout}),
	}
	if cfg.Endpoint != "" {
		opts = append(opts, anthropic.WithBaseURL(cfg.Endpoint))
	}
	return &anthropicCaller{
		client:      anthropic.NewClient(cfg.APIKey, opts...),
		model:       cfg.Model,
		temperature: float32(cfg.Temperature),
		maxTokens:   cfg.MaxTokens,
	}
}

func (c *anthropicCaller) Call(ctx context.Context, prompt string) (CallResult, error) {
	req := anthropic.MessagesRequest{
		Model:     anthropic.Model(c.model),
		MaxTokens: c.maxTokens,
		Messages: []anthropic.Message{
			{Role: anthropic.RoleUser, Content: []anthropic.MessageContent{
				{Type: "text", Text: &prompt},
			}},
		},
	}
	if c.temperature > 0 {
		req.Temperature = &c.temperature
	}
	resp, err := c.client.CreateMessages(ctx, req)
	if err != nil {
		return CallResult{}, fmt.Errorf("create messages: %w", err)
	}

	var text string
	for _, block := range resp.Content {
		if block.Type == "text" && block.Text != nil {
			text = *block.Text
			break
		}
	}
	if text == "" {
		return CallResult{}, fmt.Errorf("create messages: no text block in response for model %q", c.model)
	}
	return CallResult{
		Text:         text,
		InputTokens:  resp.Usage.InputTokens,
		OutputTokens: resp.Usage.OutputTokens,
	}, nil
}
