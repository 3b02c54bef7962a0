package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/panelmind/panelmind/internal/llm"
)

// OllamaHandler talks to a local Ollama server over its JSON chat API.
type OllamaHandler struct {
	modelID string
	baseURL string
	client  *http.Client
}

type ollamaChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaChatRequest struct {
	Model    string              `json:"model"`
	Messages []ollamaChatMessage `json:"messages"`
	Stream   bool                `json:"stream"`
}

type ollamaChatResponse struct {
	Message ollamaChatMessage `json:"message"`
	Done    bool              `json:"done"`
}

// NewOllamaHandler creates a handler for a local Ollama instance. Local
// models can be slow to load, hence the generous default timeout.
func NewOllamaHandler(modelID, baseURL string, timeout time.Duration) *OllamaHandler {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	if modelID == "" {
		modelID = "llama3"
	}
	return &OllamaHandler{
		modelID: modelID,
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

// ID implements the Handler interface.
func (h *OllamaHandler) ID() string { return "ollama" }

// Generate implements the Handler interface.
func (h *OllamaHandler) Generate(ctx context.Context, systemPrompt string, history []llm.Message, userInput string) (string, error) {
	messages := make([]ollamaChatMessage, 0, len(history)+2)
	if systemPrompt != "" {
		messages = append(messages, ollamaChatMessage{Role: "system", Content: systemPrompt})
	}
	for _, m := range history {
		messages = append(messages, ollamaChatMessage{Role: m.Role, Content: m.Content})
	}
	messages = append(messages, ollamaChatMessage{Role: "user", Content: userInput})

	reqBody := ollamaChatRequest{Model: h.modelID, Messages: messages, Stream: false}
	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("%w: failed to marshal request: %v", llm.ErrProviderError, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.baseURL+"/api/chat", bytes.NewBuffer(jsonData))
	if err != nil {
		return "", fmt.Errorf("%w: failed to create request: %v", llm.ErrProviderError, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", llm.ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("%w: ollama API error %d: %s", llm.ErrProviderError, resp.StatusCode, string(body))
	}

	var chatResp ollamaChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
		return "", fmt.Errorf("%w: failed to decode response: %v", llm.ErrProviderError, err)
	}
	if strings.TrimSpace(chatResp.Message.Content) == "" {
		return "", fmt.Errorf("%w: empty completion", llm.ErrProviderError)
	}

	return chatResp.Message.Content, nil
}

// Available reports whether the Ollama server answers at all.
func (h *OllamaHandler) Available(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.baseURL+"/api/tags", nil)
	if err != nil {
		return false
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}
