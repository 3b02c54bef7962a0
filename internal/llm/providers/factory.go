// Package providers contains the concrete LLM backends registered with the
// gateway: OpenAI, Anthropic, and a local Ollama server.
package providers

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/log"

	"github.com/panelmind/panelmind/internal/llm"
)

// Options selects which backends to construct. A backend is registered when
// its credentials (or, for Ollama, a reachable server) are present.
type Options struct {
	OpenAIAPIKey    string
	OpenAIModel     string
	AnthropicAPIKey string
	AnthropicModel  string
	OllamaBaseURL   string
	OllamaModel     string
	OllamaTimeout   time.Duration

	// Default names the provider active at startup. Empty means the first
	// registered one wins, in openai, anthropic, ollama order.
	Default string
}

// Build constructs the available handlers and wraps them in a gateway.
func Build(ctx context.Context, opts Options, logger *log.Logger) (*llm.Gateway, error) {
	var handlers []llm.Handler

	if opts.OpenAIAPIKey != "" {
		handlers = append(handlers, NewOpenAIHandler(opts.OpenAIModel, opts.OpenAIAPIKey))
		logger.Debug("registered provider", "id", "openai")
	}
	if opts.AnthropicAPIKey != "" {
		handlers = append(handlers, NewAnthropicHandler(opts.AnthropicModel, opts.AnthropicAPIKey))
		logger.Debug("registered provider", "id", "anthropic")
	}

	ollama := NewOllamaHandler(opts.OllamaModel, opts.OllamaBaseURL, opts.OllamaTimeout)
	if ollama.Available(ctx) {
		handlers = append(handlers, ollama)
		logger.Debug("registered provider", "id", "ollama")
	}

	if len(handlers) == 0 {
		return nil, fmt.Errorf("no LLM providers configured: set an API key or start Ollama")
	}

	return llm.NewGateway(handlers, opts.Default, logger)
}
