package providers

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/panelmind/panelmind/internal/llm"
)

const anthropicMaxTokens = 4096

// AnthropicHandler generates completions through the official Anthropic SDK.
type AnthropicHandler struct {
	modelID string
	client  anthropic.Client
}

// NewAnthropicHandler creates a handler backed by the Anthropic messages API.
func NewAnthropicHandler(modelID, apiKey string) *AnthropicHandler {
	if modelID == "" {
		modelID = string(anthropic.ModelClaude3_5HaikuLatest)
	}
	return &AnthropicHandler{
		modelID: modelID,
		client:  anthropic.NewClient(option.WithAPIKey(apiKey)),
	}
}

// ID implements the Handler interface.
func (h *AnthropicHandler) ID() string { return "anthropic" }

// Generate implements the Handler interface.
func (h *AnthropicHandler) Generate(ctx context.Context, systemPrompt string, history []llm.Message, userInput string) (string, error) {
	messages := make([]anthropic.MessageParam, 0, len(history)+1)
	for _, m := range history {
		switch m.Role {
		case "assistant":
			messages = append(messages, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content)))
		default:
			messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		}
	}
	messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(userInput)))

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(h.modelID),
		MaxTokens: anthropicMaxTokens,
		Messages:  messages,
	}
	if systemPrompt != "" {
		params.System = []anthropic.TextBlockParam{{Text: systemPrompt}}
	}

	msg, err := h.client.Messages.New(ctx, params)
	if err != nil {
		var apiErr *anthropic.Error
		if errors.As(err, &apiErr) {
			return "", fmt.Errorf("%w: anthropic API error %d", llm.ErrProviderError, apiErr.StatusCode)
		}
		return "", fmt.Errorf("%w: %v", llm.ErrProviderUnavailable, err)
	}

	var sb strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	if strings.TrimSpace(sb.String()) == "" {
		return "", fmt.Errorf("%w: empty completion", llm.ErrProviderError)
	}
	return sb.String(), nil
}
