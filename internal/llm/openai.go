package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/taskrun/plannerd/internal/plannererr"
)

// OpenAIProvider drives one planner step against an OpenAI chat-completion
// model via sashabaranov/go-openai. Like AnthropicProvider it uses a
// non-streaming call since a planner step only cares about the final text.
type OpenAIProvider struct {
	client       *openai.Client
	retry        retryPolicy
	defaultModel string
}

// NewOpenAIProvider builds a Provider backed by go-openai.
func NewOpenAIProvider(apiKey, defaultModel string) (*OpenAIProvider, error) {
	if apiKey == "" {
		return nil, errors.New("llm: openai API key is required")
	}
	if defaultModel == "" {
		defaultModel = "gpt-4o"
	}
	return &OpenAIProvider{
		client:       openai.NewClient(apiKey),
		retry:        defaultRetryPolicy(),
		defaultModel: defaultModel,
	}, nil
}

func (p *OpenAIProvider) Name() string         { return "openai" }
func (p *OpenAIProvider) DefaultModel() string { return p.defaultModel }

func (p *OpenAIProvider) Complete(ctx context.Context, req CompletionRequest) (CompletionResult, error) {
	model := req.Model
	if model == "" {
		model = p.defaultModel
	}

	messages := make([]openai.ChatCompletionMessage, 0, 2)
	if req.System != "" {
		messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: req.System})
	}
	messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: req.Prompt})

	chatReq := openai.ChatCompletionRequest{
		Model:    model,
		Messages: messages,
	}
	if req.MaxTokens > 0 {
		chatReq.MaxTokens = req.MaxTokens
	}

	var lastErr error
	for attempt := 0; attempt < p.retry.maxRetries; attempt++ {
		resp, err := p.client.CreateChatCompletion(ctx, chatReq)
		if err == nil {
			return toResult(model, resp), nil
		}
		lastErr = err
		if !isRetryableOpenAIError(err) {
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
		fmt.Errorf("openai: max retries exceeded: %w", lastErr))
}

func toResult(model string, resp openai.ChatCompletionResponse) CompletionResult {
	var text string
	if len(resp.Choices) > 0 {
		text = resp.Choices[0].Message.Content
	}
	inputTokens := resp.Usage.PromptTokens
	outputTokens := resp.Usage.CompletionTokens
	return CompletionResult{
		Text:             text,
		Model:            model,
		InputTokens:      inputTokens,
		OutputTokens:     outputTokens,
		EstimatedCostUSD: estimateCostUSD(model, inputTokens, outputTokens),
	}
}

func isRetryableOpenAIError(err error) bool {
	if err == nil {
		return false
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.HTTPStatusCode == 429:
			return true
		case apiErr.HTTPStatusCode >= 500:
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
