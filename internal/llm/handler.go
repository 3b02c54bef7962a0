// Package llm defines the provider gateway: a uniform generation interface
// over interchangeable LLM backends, with hot-swapping of the active
// provider between turns.
package llm

import (
	"context"
	"errors"
)

var (
	// ErrProviderUnavailable covers network and connection failures,
	// including timeouts. Recoverable per persona within a turn.
	ErrProviderUnavailable = errors.New("provider unavailable")

	// ErrProviderError covers malformed or empty provider responses.
	ErrProviderError = errors.New("provider error")

	// ErrUnknownProvider is returned by Switch for unregistered IDs.
	ErrUnknownProvider = errors.New("unknown provider")
)

// Message is one conversation turn handed to a provider.
type Message struct {
	Role    string `json:"role"` // "user" or "assistant"
	Content string `json:"content"`
}

// Handler is the capability a provider must offer: turn a system prompt,
// history, and the current user input into generated text.
type Handler interface {
	// ID returns the stable provider identifier ("openai", "ollama", ...).
	ID() string

	// Generate produces a single completion. Implementations must honor ctx
	// cancellation and map failures onto ErrProviderUnavailable or
	// ErrProviderError.
	Generate(ctx context.Context, systemPrompt string, history []Message, userInput string) (string, error)
}
