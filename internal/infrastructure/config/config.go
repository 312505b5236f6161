// Package config provides configuration loading and management.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

const (
	// DefaultConfigDir is the directory name for minutes configuration.
	DefaultConfigDir = ".minutes"
	// DefaultConfigFile is the default config file name.
	DefaultConfigFile = "config.yaml"
	// DefaultCollection is the default qdrant collection name.
	DefaultCollection = "minutes_entities"
)

// Config holds static infrastructure configuration (read-only after init).
type Config struct {
	LLM        LLMConfig        `yaml:"llm,omitempty"`
	Embedder   EmbedderConfig   `yaml:"embedder,omitempty"`
	Qdrant     QdrantConfig     `yaml:"qdrant,omitempty"`
	SQLite     SQLiteConfig     `yaml:"sqlite,omitempty"`
	Cache      CacheConfig      `yaml:"cache,omitempty"`
	Resolver   ResolverConfig   `yaml:"resolver,omitempty"`
	Comparison ComparisonConfig `yaml:"comparison,omitempty"`
}

// LLMConfig holds the inference backend chain. Models are tried in order;
// the first is the preferred backend, the rest are fallbacks.
type LLMConfig struct {
	Provider string   `yaml:"provider,omitempty"`
	Models   []string `yaml:"models,omitempty"`
	APIKey   string   `yaml:"api_key,omitempty"`
}

// EmbedderConfig holds configuration for the embedding provider.
type EmbedderConfig struct {
	Provider string `yaml:"provider,omitempty"`
	Model    string `yaml:"model,omitempty"`
	APIKey   string `yaml:"api_key,omitempty"`
}

// QdrantConfig holds configuration for the Qdrant vector index.
type QdrantConfig struct {
	Host       string `yaml:"host,omitempty"`
	Port       int    `yaml:"port,omitempty"`
	Collection string `yaml:"collection,omitempty"`
	APIKey     string `yaml:"api_key,omitempty"`
}

// SQLiteConfig holds configuration for the SQLite storage collaborator.
type SQLiteConfig struct {
	Path string `yaml:"path,omitempty"`
}

// CacheConfig holds configuration for the inference result cache.
type CacheConfig struct {
	// TTLMinutes bounds how long cached inference results are reused.
	TTLMinutes int `yaml:"ttl_minutes,omitempty"`
}

// ResolverConfig exposes the resolver's acceptance thresholds. The values
// are empirically tuned; zero means the built-in default.
type ResolverConfig struct {
	FuzzyThreshold          float64 `yaml:"fuzzy_threshold,omitempty"`
	FuzzyMargin             float64 `yaml:"fuzzy_margin,omitempty"`
	DisambiguationFloor     float64 `yaml:"disambiguation_floor,omitempty"`
	VectorThreshold         float32 `yaml:"vector_threshold,omitempty"`
	VectorMargin            float32 `yaml:"vector_margin,omitempty"`
	DisambiguationLimit     int     `yaml:"disambiguation_limit,omitempty"`
	DisambiguationThreshold float64 `yaml:"disambiguation_threshold,omitempty"`
}

// ComparisonConfig controls state comparison batching.
type ComparisonConfig struct {
	BatchSize int `yaml:"batch_size,omitempty"`
}

// Default returns a Config with default values.
func Default() *Config {
	return &Config{
		LLM: LLMConfig{
			Provider: "openai",
			Models:   []string{"gpt-4o-mini", "gpt-4o"},
		},
		Embedder: EmbedderConfig{
			Provider: "openai",
			Model:    "text-embedding-3-small",
		},
		Qdrant: QdrantConfig{
			Host:       "localhost",
			Port:       6334,
			Collection: DefaultCollection,
		},
		Cache: CacheConfig{
			TTLMinutes: 360,
		},
	}
}

// Load loads configuration from the .minutes directory in the given path.
func Load(basePath string) (*Config, error) {
	configFile := ConfigFilePath(basePath)

	data, err := os.ReadFile(configFile)
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("config file not found: %s (run 'minutes init' first)", configFile)
	}
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Start with defaults
	cfg := Default()

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	// Apply environment variable overrides
	cfg.applyEnvOverrides()

	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		if c.LLM.APIKey == "" {
			c.LLM.APIKey = key
		}
		if c.Embedder.APIKey == "" {
			c.Embedder.APIKey = key
		}
	}
	if key := os.Getenv("QDRANT_API_KEY"); key != "" {
		if c.Qdrant.APIKey == "" {
			c.Qdrant.APIKey = key
		}
	}
}

// ConfigDir returns the path to the .minutes config directory.
func ConfigDir(basePath string) string {
	return filepath.Join(basePath, DefaultConfigDir)
}

// ConfigFilePath returns the path to the config file.
func ConfigFilePath(basePath string) string {
	return filepath.Join(basePath, DefaultConfigDir, DefaultConfigFile)
}

// SQLitePath returns the SQLite database path, honoring an explicit
// configured path over the default location.
func (c *Config) SQLitePath(basePath string) string {
	if c.SQLite.Path != "" {
		return c.SQLite.Path
	}
	return filepath.Join(basePath, DefaultConfigDir, "minutes.db")
}
