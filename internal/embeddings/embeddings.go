package embeddings

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/charmbracelet/log"
)

// Provider identifies an embedding backend.
type Provider string

const (
	ProviderOllama   Provider = "ollama"
	ProviderOpenAI   Provider = "openai"
	ProviderFallback Provider = "fallback"
)

const fallbackDimension = 384

// Config holds embedding service configuration.
type Config struct {
	Provider      Provider // "ollama", "openai", or "" for auto-detect
	Model         string   // e.g. "nomic-embed-text"
	OllamaBaseURL string
	OpenAIAPIKey  string
}

// Service generates text embeddings through one of the supported providers,
// degrading to a deterministic hash-based embedding when none is reachable.
type Service struct {
	provider Provider
	model    string
	baseURL  string
	apiKey   string
	client   *http.Client
	logger   *log.Logger
}

type ollamaEmbeddingRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type ollamaEmbeddingResponse struct {
	Embedding []float64 `json:"embedding"`
}

type openAIEmbeddingRequest struct {
	Input string `json:"input"`
	Model string `json:"model"`
}

type openAIEmbeddingResponse struct {
	Data []struct {
		Embedding []float64 `json:"embedding"`
	} `json:"data"`
}

// NewService picks the best available provider for the given configuration.
func NewService(cfg Config, logger *log.Logger) *Service {
	s := &Service{
		model:   cfg.Model,
		baseURL: cfg.OllamaBaseURL,
		apiKey:  cfg.OpenAIAPIKey,
		client:  &http.Client{Timeout: 30 * time.Second},
		logger:  logger.With("component", "embeddings"),
	}
	if s.model == "" {
		s.model = "nomic-embed-text"
	}
	if s.baseURL == "" {
		s.baseURL = "http://localhost:11434"
	}

	switch cfg.Provider {
	case ProviderOllama, ProviderOpenAI, ProviderFallback:
		s.provider = cfg.Provider
	default:
		s.provider = s.detectProvider()
	}

	s.logger.Info("embedding provider selected", "provider", s.provider, "dimensions", s.Dimension())
	return s
}

// detectProvider probes for a usable backend, preferring local inference.
func (s *Service) detectProvider() Provider {
	if s.ollamaReachable() {
		return ProviderOllama
	}
	if s.apiKey != "" {
		return ProviderOpenAI
	}
	return ProviderFallback
}

func (s *Service) ollamaReachable() bool {
	resp, err := s.client.Get(s.baseURL + "/api/tags")
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// Provider returns the active embedding provider.
func (s *Service) Provider() Provider {
	return s.provider
}

// Dimension returns the vector dimension produced by the active provider.
func (s *Service) Dimension() int {
	switch s.provider {
	case ProviderOllama:
		return 768 // nomic-embed-text
	case ProviderOpenAI:
		return 1536 // text-embedding-3-small
	default:
		return fallbackDimension
	}
}

// Embed converts text into a vector with the active provider.
func (s *Service) Embed(ctx context.Context, text string) ([]float32, error) {
	switch s.provider {
	case ProviderOllama:
		return s.embedOllama(ctx, text)
	case ProviderOpenAI:
		return s.embedOpenAI(ctx, text)
	default:
		return fallbackEmbedding(text), nil
	}
}

func (s *Service) embedOllama(ctx context.Context, text string) ([]float32, error) {
	// nomic-embed-text wants a task prefix on document content.
	req := ollamaEmbeddingRequest{
		Model:  s.model,
		Prompt: "search_document: " + text,
	}

	jsonData, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/api/embeddings", bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("ollama API error %d: %s", resp.StatusCode, string(body))
	}

	var ollamaResp ollamaEmbeddingResponse
	if err := json.NewDecoder(resp.Body).Decode(&ollamaResp); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	return toFloat32(ollamaResp.Embedding), nil
}

func (s *Service) embedOpenAI(ctx context.Context, text string) ([]float32, error) {
	if s.apiKey == "" {
		return nil, fmt.Errorf("OpenAI API key not configured")
	}

	req := openAIEmbeddingRequest{
		Input: text,
		Model: "text-embedding-3-small",
	}

	jsonData, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, "https://api.openai.com/v1/embeddings", bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+s.apiKey)

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("openai API error %d: %s", resp.StatusCode, string(body))
	}

	var openaiResp openAIEmbeddingResponse
	if err := json.NewDecoder(resp.Body).Decode(&openaiResp); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if len(openaiResp.Data) == 0 {
		return nil, fmt.Errorf("no embedding data in response")
	}

	return toFloat32(openaiResp.Data[0].Embedding), nil
}

func toFloat32(in []float64) []float32 {
	out := make([]float32, len(in))
	for i, v := range in {
		out[i] = float32(v)
	}
	return out
}

// fallbackEmbedding produces a deterministic hash-based pseudo-embedding so
// ingest and retrieval keep working with no embedding backend reachable.
func fallbackEmbedding(text string) []float32 {
	embedding := make([]float32, fallbackDimension)
	text = strings.ToLower(text)

	for i := 0; i < fallbackDimension; i++ {
		hash := 0
		for j, char := range text {
			hash = hash*31 + int(char) + i + j
		}
		embedding[i] = float32((hash%2000)-1000) / 1000.0
	}

	return embedding
}
