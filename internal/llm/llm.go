package llm

// Package llm holds the language-model clients used for explanation and chat.
// The model writes prose only; it is never consulted for approval decisions.

import (
	"context"
	"errors"
	"fmt"
)

// ErrService wraps any failure of the underlying model service: transport
// errors, non-2xx responses, malformed or empty output. Callers degrade
// gracefully rather than abort.
var ErrService = errors.New("llm service error")

// Provider names accepted in configuration.
const (
	ProviderGemini = "gemini"
	ProviderOpenAI = "openai"
)

// Client is the one-method contract the explanation layer depends on.
type Client interface {
	// Generate sends a prompt and returns the model's text output.
	// Failures are wrapped in ErrService.
	Generate(ctx context.Context, prompt string) (string, error)
}

// Config selects and parameterizes a provider.
type Config struct {
	Provider string
	APIKey   string
	Model    string
	BaseURL  string // OpenAI-compatible provider only
}

// New builds the configured provider client.
func New(ctx context.Context, cfg Config) (Client, error) {
	switch cfg.Provider {
	case ProviderGemini, "":
		return NewGeminiClient(ctx, cfg.APIKey, cfg.Model)
	case ProviderOpenAI:
		return NewOpenAIClient(cfg.APIKey, cfg.Model, cfg.BaseURL)
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}
}
