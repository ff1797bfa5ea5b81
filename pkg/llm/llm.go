// Package llm provides the complete(prompt) -> text capability behind a
// provider-agnostic interface.
package llm

import (
	"context"
	"fmt"
	"time"
)

// Completer produces a completion for a prompt
type Completer interface {
	// Complete makes a completion call
	Complete(ctx context.Context, req Request) (string, error)

	// Provider returns the provider name
	Provider() string
}

// Request contains the parameters for a completion call
type Request struct {
	System    string
	Prompt    string
	Model     string
	MaxTokens int
}

// Config selects and configures a completion provider
type Config struct {
	Provider  string // anthropic, openai, mock
	APIKey    string
	Model     string
	MaxTokens int
	Timeout   time.Duration
}

// NewCompleter creates a completion provider from config
func NewCompleter(cfg Config) (Completer, error) {
	switch cfg.Provider {
	case "anthropic":
		return NewAnthropicCompleter(cfg.APIKey, cfg.Model, cfg.MaxTokens), nil
	case "openai":
		return NewOpenAICompleter(cfg.APIKey, cfg.Model, cfg.MaxTokens), nil
	case "mock":
		return NewMockCompleter(), nil
	default:
		return nil, fmt.Errorf("unsupported provider: %s", cfg.Provider)
	}
}
