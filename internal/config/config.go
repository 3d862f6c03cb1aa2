// Package config loads and validates the Fathom configuration: a YAML
// file with environment variable overrides.
package config

import (
	"fmt"
	"math"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/fathomsearch/fathom/internal/backend"
	"github.com/fathomsearch/fathom/internal/concurrency"
	"github.com/fathomsearch/fathom/internal/errors"
	"github.com/fathomsearch/fathom/internal/logging"
	"github.com/fathomsearch/fathom/internal/memopt"
	"github.com/fathomsearch/fathom/internal/search"
)

// Config is the complete Fathom configuration.
type Config struct {
	Version     int                          `yaml:"version"`
	Logging     logging.Config               `yaml:"logging"`
	Search      search.ServiceConfig         `yaml:"search"`
	Concurrency concurrency.ControllerConfig `yaml:"concurrency"`
	Embedding   EmbeddingConfig              `yaml:"embedding"`
	Vector      backend.VectorIndexConfig    `yaml:"vector"`
}

// EmbeddingConfig configures the embedder stack.
type EmbeddingConfig struct {
	// Dimensions is the embedding width.
	Dimensions int `yaml:"dimensions"`

	// CacheSize is the LRU query-embedding cache capacity.
	CacheSize int `yaml:"cache_size"`

	// MaxRetries bounds transient-failure retries per embedding.
	MaxRetries int `yaml:"max_retries"`
}

// Default returns the reference configuration.
func Default() *Config {
	return &Config{
		Version:     1,
		Logging:     logging.DefaultConfig(),
		Search:      search.DefaultServiceConfig(),
		Concurrency: concurrency.DefaultControllerConfig(),
		Embedding: EmbeddingConfig{
			Dimensions: backend.DefaultDimensions,
			CacheSize:  backend.DefaultEmbeddingCacheSize,
			MaxRetries: 3,
		},
		Vector: backend.DefaultVectorIndexConfig(backend.DefaultDimensions),
	}
}

// Load reads the config file at path (if non-empty), applies environment
// overrides, and validates the result. A missing file with an empty path
// yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.New(errors.ErrCodeConfigNotFound, "read config file", err).
				WithDetail("path", path)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, errors.ConfigError("parse config file", err).
				WithDetail("path", path)
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides applies FATHOM_* environment variables, the highest
// precedence layer.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("FATHOM_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("FATHOM_LEXICAL_WEIGHT"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.Search.Fusion.Weights.Lexical = f
		}
	}
	if v := os.Getenv("FATHOM_VECTOR_WEIGHT"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.Search.Fusion.Weights.Vector = f
		}
	}
	if v := os.Getenv("FATHOM_CPU_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Search.Executor.CPUWorkers = n
		}
	}
}

// Validate checks the configuration for values the engine cannot run with.
func (c *Config) Validate() error {
	w := c.Search.Fusion.Weights
	if w.Lexical < 0 || w.Vector < 0 {
		return errors.ConfigError("fusion weights must be non-negative", nil)
	}
	if sum := w.Lexical + w.Vector; math.Abs(sum-1.0) > 0.001 {
		return errors.ConfigError(
			fmt.Sprintf("fusion weights must sum to 1.0, got %.3f", sum), nil)
	}
	if c.Search.Executor.MaxConcurrentSearches <= 0 {
		return errors.ConfigError("max_concurrent_searches must be positive", nil)
	}
	if c.Search.Executor.CPUWorkers <= 0 {
		return errors.ConfigError("cpu_workers must be positive", nil)
	}
	if b := c.Search.QuantizationBits; b != memopt.Bits8 && b != memopt.Bits16 {
		return errors.ConfigError(
			fmt.Sprintf("quantization_bits must be 8 or 16, got %d", b), nil)
	}
	if c.Search.ChunkSize <= 0 {
		return errors.ConfigError("chunk_size must be positive", nil)
	}
	if c.Embedding.Dimensions <= 0 {
		return errors.ConfigError("embedding dimensions must be positive", nil)
	}
	if c.Vector.Dimensions != c.Embedding.Dimensions {
		return errors.ConfigError(
			fmt.Sprintf("vector index dimensions %d do not match embedding dimensions %d",
				c.Vector.Dimensions, c.Embedding.Dimensions), nil)
	}
	return nil
}

// Save writes the configuration as YAML.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return errors.ConfigError("marshal config", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return errors.ConfigError("write config file", err).WithDetail("path", path)
	}
	return nil
}
