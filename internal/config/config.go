// Package config provides configuration for the Arclight runtime. Settings
// come from an optional YAML file overlaid with environment variables using
// the ARCLIGHT_ prefix; environment variables win. Every option has a
// sensible default so a bare `arclightd worker` runs against local SQLite.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the Arclight runtime.
type Config struct {
	ControlPlane ControlPlaneConfig `yaml:"control_plane"`
	Worker       WorkerConfig       `yaml:"worker"`
	Embedding    EmbeddingConfig    `yaml:"embedding"`
	Retrieval    RetrievalConfig    `yaml:"retrieval"`
}

// ControlPlaneConfig locates the central datastore holding tenants,
// credentials, tier limits and the job queue.
type ControlPlaneConfig struct {
	// DSN is a postgres URL/DSN or a SQLite path (default: ./data/arclight.db).
	DSN string `yaml:"dsn"`

	// MaxStoreHandles bounds the cached tenant store handles (default: 32).
	MaxStoreHandles int `yaml:"max_store_handles"`
}

// WorkerConfig tunes the background job pool.
type WorkerConfig struct {
	// Workers is the number of concurrent job runners (default: 2).
	Workers int `yaml:"workers"`

	// PollsPerSecond paces queue polling across all workers (default: 4).
	PollsPerSecond float64 `yaml:"polls_per_second"`

	// SweepAfter is how long a job may stay in_progress before the sweep
	// considers it abandoned (default: 30m).
	SweepAfter time.Duration `yaml:"sweep_after"`

	// TurnWindow is how many recent conversation turns a learning run
	// reads (default: 50).
	TurnWindow int `yaml:"turn_window"`
}

// EmbeddingConfig points at the embedding model server.
type EmbeddingConfig struct {
	BaseURL string        `yaml:"base_url"` // default: http://localhost:11434
	Model   string        `yaml:"model"`    // default: nomic-embed-text
	Timeout time.Duration `yaml:"timeout"`  // default: 5s
}

// RetrievalConfig tunes context retrieval.
type RetrievalConfig struct {
	// Timeout bounds each retrieval's datastore work (default: 5s).
	Timeout time.Duration `yaml:"timeout"`

	// DefaultK caps results when the caller does not specify (default: 10).
	DefaultK int `yaml:"default_k"`

	// SimilarityFloor drops weaker matches (default: 0, keep everything).
	SimilarityFloor float64 `yaml:"similarity_floor"`
}

// Load builds the configuration: defaults, then the YAML file at path (if
// non-empty), then ARCLIGHT_ environment variables on top.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: failed to read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: failed to parse %s: %w", path, err)
		}
	}

	applyEnv(cfg)

	if cfg.Worker.Workers <= 0 {
		return nil, fmt.Errorf("config: worker count must be positive, got %d", cfg.Worker.Workers)
	}
	if cfg.ControlPlane.DSN == "" {
		return nil, fmt.Errorf("config: control plane DSN is required")
	}
	return cfg, nil
}

func defaultConfig() *Config {
	return &Config{
		ControlPlane: ControlPlaneConfig{
			DSN:             "./data/arclight.db",
			MaxStoreHandles: 32,
		},
		Worker: WorkerConfig{
			Workers:        2,
			PollsPerSecond: 4,
			SweepAfter:     30 * time.Minute,
			TurnWindow:     50,
		},
		Embedding: EmbeddingConfig{
			BaseURL: "http://localhost:11434",
			Model:   "nomic-embed-text",
			Timeout: 5 * time.Second,
		},
		Retrieval: RetrievalConfig{
			Timeout:  5 * time.Second,
			DefaultK: 10,
		},
	}
}

func applyEnv(cfg *Config) {
	setString(&cfg.ControlPlane.DSN, "ARCLIGHT_CONTROL_DSN")
	setInt(&cfg.ControlPlane.MaxStoreHandles, "ARCLIGHT_MAX_STORE_HANDLES")

	setInt(&cfg.Worker.Workers, "ARCLIGHT_WORKERS")
	setFloat(&cfg.Worker.PollsPerSecond, "ARCLIGHT_POLLS_PER_SECOND")
	setDuration(&cfg.Worker.SweepAfter, "ARCLIGHT_SWEEP_AFTER")
	setInt(&cfg.Worker.TurnWindow, "ARCLIGHT_TURN_WINDOW")

	setString(&cfg.Embedding.BaseURL, "ARCLIGHT_EMBEDDING_URL")
	setString(&cfg.Embedding.Model, "ARCLIGHT_EMBEDDING_MODEL")
	setDuration(&cfg.Embedding.Timeout, "ARCLIGHT_EMBEDDING_TIMEOUT")

	setDuration(&cfg.Retrieval.Timeout, "ARCLIGHT_RETRIEVAL_TIMEOUT")
	setInt(&cfg.Retrieval.DefaultK, "ARCLIGHT_RETRIEVAL_K")
	setFloat(&cfg.Retrieval.SimilarityFloor, "ARCLIGHT_SIMILARITY_FLOOR")
}

// setString overrides dst when the environment variable is set and non-empty.
func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

// setInt overrides dst when the environment variable parses as an integer;
// unparseable values are ignored.
func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			*dst = parsed
		}
	}
}

func setFloat(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if parsed, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = parsed
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if parsed, err := time.ParseDuration(v); err == nil {
			*dst = parsed
		}
	}
}
