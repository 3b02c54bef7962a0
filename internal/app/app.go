// Package app wires the storage, retrieval, provider, and orchestration
// layers into a runnable server.
package app

import (
	"context"
	"fmt"
	"os"

	"github.com/charmbracelet/log"

	"github.com/panelmind/panelmind/internal/api"
	"github.com/panelmind/panelmind/internal/chunker"
	"github.com/panelmind/panelmind/internal/config"
	"github.com/panelmind/panelmind/internal/embeddings"
	"github.com/panelmind/panelmind/internal/extract"
	"github.com/panelmind/panelmind/internal/insights"
	"github.com/panelmind/panelmind/internal/llm/providers"
	"github.com/panelmind/panelmind/internal/orchestrator"
	"github.com/panelmind/panelmind/internal/personas"
	"github.com/panelmind/panelmind/internal/retrieval"
	"github.com/panelmind/panelmind/internal/storage"
	"github.com/panelmind/panelmind/internal/vectordb"
)

// App holds the assembled components.
type App struct {
	cfg          *config.Config
	logger       *log.Logger
	store        storage.Store
	index        *vectordb.Index
	server       *api.Server
	orchestrator *orchestrator.Orchestrator
}

// New assembles an App from configuration.
func New(ctx context.Context, cfg *config.Config, logger *log.Logger) (*App, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	store, err := storage.NewSQLiteStore(cfg.SessionDBPath(), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open session store: %w", err)
	}

	index, err := vectordb.New(cfg.VectorDBPath(), logger)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to open vector index: %w", err)
	}

	embedder := embeddings.NewService(embeddings.Config{
		Provider:      embeddings.Provider(cfg.Embedding.Provider),
		Model:         cfg.Embedding.Model,
		OllamaBaseURL: cfg.Providers.OllamaBaseURL,
		OpenAIAPIKey:  cfg.Providers.OpenAIAPIKey,
	}, logger)

	retriever, err := retrieval.NewService(retrieval.Config{
		MaxUploadBytes: cfg.Retrieval.MaxUploadBytes,
		TopK:           cfg.Retrieval.TopK,
		MinScore:       cfg.Retrieval.MinScore,
		Chunking: chunker.Config{
			MaxChars:     cfg.Chunking.MaxChars,
			OverlapChars: cfg.Chunking.OverlapChars,
		},
	}, extract.NewService(), embedder, index, store, logger)
	if err != nil {
		store.Close()
		index.Close()
		return nil, fmt.Errorf("failed to build retrieval pipeline: %w", err)
	}

	gateway, err := providers.Build(ctx, providers.Options{
		OpenAIAPIKey:    cfg.Providers.OpenAIAPIKey,
		OpenAIModel:     cfg.Providers.OpenAIModel,
		AnthropicAPIKey: cfg.Providers.AnthropicAPIKey,
		AnthropicModel:  cfg.Providers.AnthropicModel,
		OllamaBaseURL:   cfg.Providers.OllamaBaseURL,
		OllamaModel:     cfg.Providers.OllamaModel,
		OllamaTimeout:   cfg.Providers.OllamaTimeout,
		Default:         cfg.Providers.Default,
	}, logger)
	if err != nil {
		store.Close()
		index.Close()
		return nil, err
	}

	registry := personas.Default()
	if cfg.PersonasPath != "" {
		registry, err = personas.LoadFile(cfg.PersonasPath)
		if err != nil {
			store.Close()
			index.Close()
			return nil, fmt.Errorf("failed to load personas: %w", err)
		}
	}

	canvas := insights.NewCanvas(store, logger)

	orch := orchestrator.New(orchestrator.Config{
		HistoryWindow:  cfg.Orchestrator.HistoryWindow,
		PersonaTimeout: cfg.Orchestrator.PersonaTimeout,
	}, store, gateway, retriever, canvas, registry, logger)

	server := api.NewServer(store, orch, retriever, gateway, canvas, cfg.Retrieval.MaxUploadBytes, logger)

	return &App{
		cfg:          cfg,
		logger:       logger,
		store:        store,
		index:        index,
		server:       server,
		orchestrator: orch,
	}, nil
}

// Run serves HTTP until ctx is cancelled, then shuts down cleanly.
func (a *App) Run(ctx context.Context) error {
	err := a.server.ListenAndServe(ctx, a.cfg.ListenAddr)
	a.orchestrator.WaitForInsights()
	if closeErr := a.Close(); closeErr != nil && err == nil {
		err = closeErr
	}
	return err
}

// Close releases the storage layers.
func (a *App) Close() error {
	var firstErr error
	if err := a.store.Close(); err != nil {
		firstErr = err
	}
	if err := a.index.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
