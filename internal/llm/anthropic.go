package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/taskrun/plannerd/internal/plannererr"
)

// AnthropicProvider drives one planner step against Claude. It uses a
// non-streaming Messages.New call (a planner step has no use for partial
// text — the command JSON is only valid once complete) and converts any
// retry-exhausted failure into a CodeLLMUnavailable error.
type AnthropicProvider struct {
	client       anthropic.Client
	retry        retryPolicy
	defaultModel string
}

// AnthropicConfig configures an AnthropicProvider. APIKey is required.
type AnthropicConfig struct {
	APIKey       string
	BaseURL      string
	DefaultModel string
}

// NewAnthropicProvider builds a Provider backed by anthropic-sdk-go.
func NewAnthropicProvider(cfg AnthropicConfig) (*AnthropicProvider, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("llm: anthropic API key is required")
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = "claude-sonnet-4-20250514"
	}

	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if strings.TrimSpace(cfg.BaseURL) != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &AnthropicProvider{
		client:       anthropic.NewClient(opts...),
		retry:        defaultRetryPolicy(),
		defaultModel: cfg.DefaultModel,
	}, nil
}

func (p *AnthropicProvider) Name() string         { return "anthropic" }
func (p *AnthropicProvider) DefaultModel() string { return p.defaultModel }

func (p *AnthropicProvider) Complete(ctx context.Context, req CompletionRequest) (CompletionResult, error) {
	model := req.Model
	if model == "" {
		model = p.defaultModel
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: int64(maxTokens),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.Prompt)),
		},
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Type: "text", Text: req.System}}
	}

	var lastErr error
	for attempt := 0; attempt < p.retry.maxRetries; attempt++ {
		result, err := p.attempt(ctx, model, params)
		if err == nil {
			return result, nil
		}
		lastErr = err
		if !isRetryableAnthropicError(err) {
			return CompletionResult{}, plannererr.Wrap(plannererr.CodeLLMUnavailable, err)
		}
		if attempt == p.retry.maxRetries-1 {
			break
		}
		select {
		case <-ctx.Done():
			return CompletionResult{}, plannererr.Wrap(plannererr.CodeLLMUnavailable, ctx.Err())
		case <-time.After(p.retry.backoff(attempt)):
		}
	}
	return CompletionResult{}, plannererr.Wrap(plannererr.CodeLLMUnavailable,
		fmt.Errorf("anthropic: max retries exceeded: %w", lastErr))
}

func (p *AnthropicProvider) attempt(ctx context.Context, model string, params anthropic.MessageNewParams) (CompletionResult, error) {
	msg, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return CompletionResult{}, err
	}

	var text strings.Builder
	for _, block := range msg.Content {
		if tb := block.AsText(); tb.Text != "" {
			text.WriteString(tb.Text)
		}
	}

	inputTokens := int(msg.Usage.InputTokens)
	outputTokens := int(msg.Usage.OutputTokens)

	return CompletionResult{
		Text:             text.String(),
		Model:            model,
		InputTokens:      inputTokens,
		OutputTokens:     outputTokens,
		EstimatedCostUSD: estimateCostUSD(model, inputTokens, outputTokens),
	}, nil
}

// isRetryableAnthropicError mirrors the teacher's provider-agnostic
// classification: rate limits, 5xx, timeouts, and connection resets retry;
// auth and validation failures do not.
func isRetryableAnthropicError(err error) bool {
	if err == nil {
		return false
	}
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == 429:
			return true
		case apiErr.StatusCode >= 500:
			return true
		default:
			return false
		}
	}
	msg := err.Error()
	for _, needle := range []string{"rate_limit", "429", "too many requests", "500", "502", "503", "504", "timeout", "deadline exceeded", "connection reset", "connection refused", "no such host"} {
		if strings.Contains(msg, needle) {
			return true
		}
	}
	return false
}
