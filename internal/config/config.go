// Package config loads server configuration from an optional YAML file and
// PANELMIND_-prefixed environment variables, env taking precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ErrInvalid is returned when a configuration value fails validation.
var ErrInvalid = errors.New("invalid configuration")

// Config is the full server configuration.
type Config struct {
	DataDir    string `mapstructure:"data_dir"`
	ListenAddr string `mapstructure:"listen_addr"`
	LogLevel   string `mapstructure:"log_level"`

	Providers struct {
		Default         string        `mapstructure:"default"`
		OpenAIAPIKey    string        `mapstructure:"openai_api_key"`
		OpenAIModel     string        `mapstructure:"openai_model"`
		AnthropicAPIKey string        `mapstructure:"anthropic_api_key"`
		AnthropicModel  string        `mapstructure:"anthropic_model"`
		OllamaBaseURL   string        `mapstructure:"ollama_base_url"`
		OllamaModel     string        `mapstructure:"ollama_model"`
		OllamaTimeout   time.Duration `mapstructure:"ollama_timeout"`
	} `mapstructure:"providers"`

	Embedding struct {
		Provider string `mapstructure:"provider"`
		Model    string `mapstructure:"model"`
	} `mapstructure:"embedding"`

	Chunking struct {
		MaxChars     int `mapstructure:"max_chars"`
		OverlapChars int `mapstructure:"overlap_chars"`
	} `mapstructure:"chunking"`

	Retrieval struct {
		TopK           int     `mapstructure:"top_k"`
		MinScore       float64 `mapstructure:"min_score"`
		MaxUploadBytes int64   `mapstructure:"max_upload_bytes"`
	} `mapstructure:"retrieval"`

	Orchestrator struct {
		HistoryWindow  int           `mapstructure:"history_window"`
		PersonaTimeout time.Duration `mapstructure:"persona_timeout"`
	} `mapstructure:"orchestrator"`

	// PersonasPath optionally overrides the built-in advisor panel with a
	// TOML file.
	PersonasPath string `mapstructure:"personas_path"`
}

func setDefaults(v *viper.Viper) {
	home, _ := os.UserHomeDir()

	v.SetDefault("data_dir", filepath.Join(home, ".panelmind"))
	v.SetDefault("listen_addr", ":8080")
	v.SetDefault("log_level", "info")

	// Empty defaults keep env-only keys visible to Unmarshal.
	v.SetDefault("providers.default", "")
	v.SetDefault("providers.openai_api_key", "")
	v.SetDefault("providers.openai_model", "")
	v.SetDefault("providers.anthropic_api_key", "")
	v.SetDefault("providers.anthropic_model", "")
	v.SetDefault("providers.ollama_base_url", "http://localhost:11434")
	v.SetDefault("providers.ollama_model", "")
	v.SetDefault("providers.ollama_timeout", 120*time.Second)

	v.SetDefault("embedding.provider", "")
	v.SetDefault("embedding.model", "nomic-embed-text")

	v.SetDefault("personas_path", "")

	v.SetDefault("chunking.max_chars", 1500)
	v.SetDefault("chunking.overlap_chars", 200)

	v.SetDefault("retrieval.top_k", 5)
	v.SetDefault("retrieval.min_score", 0.3)
	v.SetDefault("retrieval.max_upload_bytes", 10<<20)

	v.SetDefault("orchestrator.history_window", 20)
	v.SetDefault("orchestrator.persona_timeout", 90*time.Second)
}

// Load reads configuration. configPath may be empty, in which case only
// defaults, a panelmind.yaml in the working directory (if present), and the
// environment apply.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("PANELMIND")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("%w: failed to read %s: %v", ErrInvalid, configPath, err)
		}
	} else {
		v.SetConfigName("panelmind")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects configurations the server cannot run with.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("%w: data_dir is required", ErrInvalid)
	}
	if c.ListenAddr == "" {
		return fmt.Errorf("%w: listen_addr is required", ErrInvalid)
	}
	if c.Chunking.MaxChars <= 0 {
		return fmt.Errorf("%w: chunking.max_chars must be positive", ErrInvalid)
	}
	if c.Chunking.OverlapChars < 0 || c.Chunking.OverlapChars >= c.Chunking.MaxChars {
		return fmt.Errorf("%w: chunking.overlap_chars must be in [0, max_chars)", ErrInvalid)
	}
	if c.Retrieval.TopK <= 0 {
		return fmt.Errorf("%w: retrieval.top_k must be positive", ErrInvalid)
	}
	if c.Retrieval.MinScore < 0 || c.Retrieval.MinScore > 1 {
		return fmt.Errorf("%w: retrieval.min_score must be in [0, 1]", ErrInvalid)
	}
	if c.Retrieval.MaxUploadBytes <= 0 {
		return fmt.Errorf("%w: retrieval.max_upload_bytes must be positive", ErrInvalid)
	}
	if c.Orchestrator.HistoryWindow <= 0 {
		return fmt.Errorf("%w: orchestrator.history_window must be positive", ErrInvalid)
	}
	return nil
}

// SessionDBPath is the session store location under the data directory.
func (c *Config) SessionDBPath() string {
	return filepath.Join(c.DataDir, "sessions.db")
}

// VectorDBPath is the vector index location under the data directory.
func (c *Config) VectorDBPath() string {
	return filepath.Join(c.DataDir, "vectors.db")
}
