package completion

import (
	"context"
	"fmt"
	"strings"

	"github.com/harun/pagerelay/internal/config"
	"github.com/harun/pagerelay/pkg/session"
)

const (
	ProviderGemini    = "gemini"
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"

	DefaultMaxOutputTokens = 200
)

// Client produces a reply for a conversation.
type Client interface {
	// Complete returns the reply text, ErrNoContent, or a *RemoteError.
	Complete(ctx context.Context, req Request) (string, error)

	// Provider returns the provider name
	Provider() string
}

// Request is a single completion call.
type Request struct {
	History         []session.Turn
	SystemPrompt    string
	MaxOutputTokens int
}

func (r Request) maxTokens() int {
	if r.MaxOutputTokens > 0 {
		return r.MaxOutputTokens
	}
	return DefaultMaxOutputTokens
}

// New creates a Client for the configured provider.
func New(cfg config.CompletionConfig) (Client, error) {
	switch strings.ToLower(cfg.Provider) {
	case "", ProviderGemini:
		return NewGeminiClient(cfg)
	case ProviderOpenAI:
		return NewOpenAIClient(cfg), nil
	case ProviderAnthropic:
		return NewAnthropicClient(cfg), nil
	default:
		return nil, fmt.Errorf("unsupported completion provider: %s", cfg.Provider)
	}
}
