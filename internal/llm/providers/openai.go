package providers

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/panelmind/panelmind/internal/llm"
)

// OpenAIHandler generates completions through the official OpenAI SDK.
type OpenAIHandler struct {
	modelID string
	client  openai.Client
}

// NewOpenAIHandler creates a handler backed by the OpenAI chat completions
// API.
func NewOpenAIHandler(modelID, apiKey string) *OpenAIHandler {
	if modelID == "" {
		modelID = "gpt-4o-mini"
	}
	return &OpenAIHandler{
		modelID: modelID,
		client:  openai.NewClient(option.WithAPIKey(apiKey)),
	}
}

// ID implements the Handler interface.
func (h *OpenAIHandler) ID() string { return "openai" }

// Generate implements the Handler interface.
func (h *OpenAIHandler) Generate(ctx context.Context, systemPrompt string, history []llm.Message, userInput string) (string, error) {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(history)+2)
	if systemPrompt != "" {
		messages = append(messages, openai.SystemMessage(systemPrompt))
	}
	for _, m := range history {
		switch m.Role {
		case "assistant":
			messages = append(messages, openai.AssistantMessage(m.Content))
		default:
			messages = append(messages, openai.UserMessage(m.Content))
		}
	}
	messages = append(messages, openai.UserMessage(userInput))

	completion, err := h.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(h.modelID),
		Messages: messages,
	})
	if err != nil {
		var apiErr *openai.Error
		if errors.As(err, &apiErr) {
			return "", fmt.Errorf("%w: openai API error %d: %s", llm.ErrProviderError, apiErr.StatusCode, apiErr.Message)
		}
		return "", fmt.Errorf("%w: %v", llm.ErrProviderUnavailable, err)
	}

	if len(completion.Choices) == 0 {
		return "", fmt.Errorf("%w: no choices returned", llm.ErrProviderError)
	}
	content := completion.Choices[0].Message.Content
	if strings.TrimSpace(content) == "" {
		return "", fmt.Errorf("%w: empty completion", llm.ErrProviderError)
	}
	return content, nil
}
