package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.ListenAddr)
	assert.Equal(t, 1500, cfg.Chunking.MaxChars)
	assert.Equal(t, 200, cfg.Chunking.OverlapChars)
	assert.Equal(t, 5, cfg.Retrieval.TopK)
	assert.Equal(t, int64(10<<20), cfg.Retrieval.MaxUploadBytes)
	assert.Equal(t, 20, cfg.Orchestrator.HistoryWindow)
	assert.Equal(t, 90*time.Second, cfg.Orchestrator.PersonaTimeout)
	assert.NotEmpty(t, cfg.DataDir)
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "panelmind.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
listen_addr: ":9999"
retrieval:
  top_k: 3
providers:
  default: openai
  openai_api_key: sk-test
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9999", cfg.ListenAddr)
	assert.Equal(t, 3, cfg.Retrieval.TopK)
	assert.Equal(t, "openai", cfg.Providers.Default)
	assert.Equal(t, "sk-test", cfg.Providers.OpenAIAPIKey)

	// Untouched keys keep their defaults.
	assert.Equal(t, 1500, cfg.Chunking.MaxChars)
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("PANELMIND_LISTEN_ADDR", ":7070")
	t.Setenv("PANELMIND_RETRIEVAL_TOP_K", "7")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, ":7070", cfg.ListenAddr)
	assert.Equal(t, 7, cfg.Retrieval.TopK)
}

func TestLoad_InvalidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "panelmind.yaml")
	require.NoError(t, os.WriteFile(path, []byte("retrieval:\n  top_k: -2\n"), 0o644))

	_, err := Load(path)
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestValidate(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	cfg.Chunking.OverlapChars = cfg.Chunking.MaxChars
	assert.ErrorIs(t, cfg.Validate(), ErrInvalid)

	cfg, err = Load("")
	require.NoError(t, err)
	cfg.Retrieval.MinScore = 1.5
	assert.ErrorIs(t, cfg.Validate(), ErrInvalid)
}
