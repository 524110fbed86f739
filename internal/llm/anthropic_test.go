package llm

import (
	"errors"
	"testing"

	"github.com/anthropics/anthropic-sdk-go"
)

func TestNewAnthropicProvider_RequiresAPIKey(t *testing.T) {
	if _, err := NewAnthropicProvider(AnthropicConfig{}); err == nil {
		t.Fatal("expected error for empty API key")
	}
}

func TestNewAnthropicProvider_Defaults(t *testing.T) {
	p, err := NewAnthropicProvider(AnthropicConfig{APIKey: "test-key"})
	if err != nil {
		t.Fatalf("NewAnthropicProvider: %v", err)
	}
	if p.Name() != "anthropic" {
		t.Errorf("Name() = %q, want anthropic", p.Name())
	}
	if p.DefaultModel() != "claude-sonnet-4-20250514" {
		t.Errorf("DefaultModel() = %q", p.DefaultModel())
	}
}

func TestNewAnthropicProvider_CustomDefaultModel(t *testing.T) {
	p, err := NewAnthropicProvider(AnthropicConfig{APIKey: "test-key", DefaultModel: "claude-opus-4-20250514"})
	if err != nil {
		t.Fatalf("NewAnthropicProvider: %v", err)
	}
	if p.DefaultModel() != "claude-opus-4-20250514" {
		t.Errorf("DefaultModel() = %q", p.DefaultModel())
	}
}

func TestIsRetryableAnthropicError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"rate limited", &anthropic.Error{StatusCode: 429}, true},
		{"server error", &anthropic.Error{StatusCode: 503}, true},
		{"bad request", &anthropic.Error{StatusCode: 400}, false},
		{"unauthorized", &anthropic.Error{StatusCode: 401}, false},
		{"generic timeout string", errors.New("context deadline exceeded"), true},
		{"generic unrelated error", errors.New("invalid sandbox code"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isRetryableAnthropicError(tt.err); got != tt.want {
				t.Errorf("isRetryableAnthropicError(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}
