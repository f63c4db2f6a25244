// Package config loads kernel configuration from a YAML file with
// environment variable overrides for deployment-specific endpoints.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/adaptive-context-kernel/internal/events"
	"github.com/adaptive-context-kernel/internal/graph"
	"github.com/adaptive-context-kernel/internal/retrieval"
	"github.com/adaptive-context-kernel/internal/store"
	"github.com/adaptive-context-kernel/internal/summarize"
)

// Config is the full kernel configuration.
type Config struct {
	Server     ServerConfig           `yaml:"server"`
	Resolution graph.ResolutionConfig `yaml:"resolution"`
	Pipeline   PipelineConfig         `yaml:"pipeline"`
	Gating     GatingConfig           `yaml:"gating"`
	Storage    StorageConfig          `yaml:"storage"`
	NATS       events.Config          `yaml:"nats"`
	Condenser  CondenserConfig        `yaml:"condenser"`
	Embedding  EmbeddingConfig        `yaml:"embedding"`
	Index      retrieval.BleveConfig  `yaml:"index"`
	Cache      CacheConfig            `yaml:"cache"`
}

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	Address      string        `yaml:"address"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// PipelineConfig mirrors summarize.Config in YAML form.
type PipelineConfig struct {
	Workers        int           `yaml:"workers"`
	QueueSize      int           `yaml:"queue_size"`
	MaxAttempts    int           `yaml:"max_attempts"`
	InitialBackoff time.Duration `yaml:"initial_backoff"`
	MaxBackoff     time.Duration `yaml:"max_backoff"`
}

// GatingConfig holds the default profile parameters for new projects.
type GatingConfig struct {
	BaseThreshold  float64 `yaml:"base_threshold"`
	MinThreshold   float64 `yaml:"min_threshold"`
	MaxThreshold   float64 `yaml:"max_threshold"`
	TargetChunks   int     `yaml:"target_chunks"`
	AdaptationRate float64 `yaml:"adaptation_rate"`
	Method         string  `yaml:"method"`
	K              float64 `yaml:"k"`
}

// StorageConfig selects the persistence backend.
type StorageConfig struct {
	// Backend is one of "memory", "redis", "dgraph".
	Backend string             `yaml:"backend"`
	Redis   store.RedisConfig  `yaml:"redis"`
	Dgraph  store.DgraphConfig `yaml:"dgraph"`
	// SnapshotInterval is how often live graphs are flushed to the
	// backend. Zero disables periodic snapshots.
	SnapshotInterval time.Duration `yaml:"snapshot_interval"`
}

// CondenserConfig points at the condensation service. An empty URL falls
// back to local truncation.
type CondenserConfig struct {
	URL string `yaml:"url"`
}

// EmbeddingConfig points at the embedding service.
type EmbeddingConfig struct {
	URL string `yaml:"url"`
}

// CacheConfig sizes the window cache.
type CacheConfig struct {
	MaxCostBytes int64         `yaml:"max_cost_bytes"`
	TTL          time.Duration `yaml:"ttl"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Address:      ":9000",
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		Resolution: graph.DefaultResolutionConfig(),
		Pipeline: PipelineConfig{
			Workers:        4,
			QueueSize:      256,
			MaxAttempts:    3,
			InitialBackoff: 500 * time.Millisecond,
			MaxBackoff:     10 * time.Second,
		},
		Gating: GatingConfig{
			BaseThreshold:  0.65,
			MinThreshold:   0.30,
			MaxThreshold:   0.90,
			TargetChunks:   5,
			AdaptationRate: 0.05,
			Method:         "mad",
			K:              1.0,
		},
		Storage: StorageConfig{
			Backend:          "memory",
			Redis:            store.RedisConfig{Address: "localhost:6379"},
			Dgraph:           store.DefaultDgraphConfig(),
			SnapshotInterval: time.Minute,
		},
		NATS:      events.Config{Address: ""},
		Condenser: CondenserConfig{URL: ""},
		Embedding: EmbeddingConfig{URL: ""},
		Index:     retrieval.DefaultBleveConfig(),
		Cache: CacheConfig{
			MaxCostBytes: 32 << 20,
			TTL:          5 * time.Minute,
		},
	}
}

// Load reads path (if non-empty) over the defaults, then applies
// environment overrides.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	cfg.Server.Address = getEnv("LISTEN_ADDRESS", cfg.Server.Address)
	cfg.Storage.Backend = getEnv("STORAGE_BACKEND", cfg.Storage.Backend)
	cfg.Storage.Redis.Address = getEnv("REDIS_URL", cfg.Storage.Redis.Address)
	cfg.Storage.Dgraph.Address = getEnv("DGRAPH_URL", cfg.Storage.Dgraph.Address)
	cfg.NATS.Address = getEnv("NATS_URL", cfg.NATS.Address)
	cfg.Condenser.URL = getEnv("CONDENSER_URL", cfg.Condenser.URL)
	cfg.Embedding.URL = getEnv("EMBEDDING_URL", cfg.Embedding.URL)

	if err := cfg.Resolution.Validate(); err != nil {
		return cfg, err
	}
	switch cfg.Storage.Backend {
	case "memory", "redis", "dgraph":
	default:
		return cfg, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}
	return cfg, nil
}

// PipelineSettings converts to the pipeline's native form, inheriting the
// resolution caps and budget.
func (c Config) PipelineSettings() summarize.Config {
	return summarize.Config{
		Workers:          c.Pipeline.Workers,
		QueueSize:        c.Pipeline.QueueSize,
		MaxAttempts:      c.Pipeline.MaxAttempts,
		InitialBackoff:   c.Pipeline.InitialBackoff,
		MaxBackoff:       c.Pipeline.MaxBackoff,
		MaxSummaryTokens: c.Resolution.MaxSummaryTokens,
		MaxTitleTokens:   c.Resolution.MaxTitleTokens,
		DailyCostBudget:  c.Resolution.DailyCostBudget,
	}
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}
