// Package config loads and validates the Loupe configuration.
//
// Precedence: built-in defaults, then the config file (.loupe.yaml), then
// LOUPE_* environment variables.
package config

import (
	"fmt"
	"hash/fnv"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	loupeerr "github.com/loupe-dev/loupe/internal/errors"
)

// ConfigFileName is the per-instance config file name.
const ConfigFileName = ".loupe.yaml"

// Quantization modes for persisted embeddings.
const (
	QuantizationNone = "none"
	QuantizationInt8 = "int8"
)

// Config is the complete Loupe configuration.
type Config struct {
	// RepoRoots are absolute paths of repositories to attach at startup.
	RepoRoots []string `yaml:"repo_roots"`

	// DataDir is the instance state directory. Default: ~/.loupe/<hash>.
	DataDir string `yaml:"data_dir"`

	// IgnorePatterns are additional gitignore-style patterns.
	IgnorePatterns []string `yaml:"ignore_patterns"`

	// MaxFileBytes skips files larger than this. Default: 1 MiB.
	MaxFileBytes int64 `yaml:"max_file_bytes"`

	Search    SearchConfig    `yaml:"search"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Vector    VectorConfig    `yaml:"vector"`
	Watch     WatchConfig     `yaml:"watch"`
	Log       LogConfig       `yaml:"log"`
}

// SearchConfig configures the query engine.
type SearchConfig struct {
	// RRFK is the reciprocal rank fusion smoothing constant. Default: 60.
	RRFK int `yaml:"rrf_k"`

	// WeightLex is the lexical lane weight. Default: 1.0.
	WeightLex float64 `yaml:"weight_lex"`

	// WeightVec is the vector lane weight. Default: 0.7.
	WeightVec float64 `yaml:"weight_vec"`

	// TopKDefault is the default result count. Default: 5.
	TopKDefault int `yaml:"top_k_default"`

	// QueryDeadlineMS is the server-side query timeout. Default: 1000.
	QueryDeadlineMS int `yaml:"query_deadline_ms"`
}

// EmbeddingConfig configures the embedding backend.
type EmbeddingConfig struct {
	// Provider selects the backend: "ollama" or "static".
	Provider string `yaml:"provider"`

	// Model is the embedding model name (ollama).
	Model string `yaml:"model"`

	// Dimension must equal the embedder's reported dimension.
	Dimension int `yaml:"dimension"`

	// BatchSize is the embedding batch size. Default: 128.
	BatchSize int `yaml:"batch_size"`

	// OllamaHost is the Ollama API endpoint.
	OllamaHost string `yaml:"ollama_host"`

	// CacheSize is the embedding LRU cache capacity. Default: 4096.
	CacheSize int `yaml:"cache_size"`
}

// VectorConfig configures the HNSW vector index.
type VectorConfig struct {
	M              int    `yaml:"m"`               // default 16
	EfConstruction int    `yaml:"ef_construction"` // default 200
	EfSearch       int    `yaml:"ef_search"`       // default 64
	Quantization   string `yaml:"quantization"`    // none | int8
}

// WatchConfig configures the file watcher.
type WatchConfig struct {
	// DebounceMS is the event coalescing window. Default: 250.
	DebounceMS int `yaml:"debounce_ms"`

	// QueueSize bounds pending events per repository. Default: 10000.
	QueueSize int `yaml:"queue_size"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level string `yaml:"level"`
}

// Default returns the built-in defaults.
func Default() *Config {
	return &Config{
		MaxFileBytes: 1 << 20,
		Search: SearchConfig{
			RRFK:            60,
			WeightLex:       1.0,
			WeightVec:       0.7,
			TopKDefault:     5,
			QueryDeadlineMS: 1000,
		},
		Embedding: EmbeddingConfig{
			Provider:   "ollama",
			Model:      "nomic-embed-text",
			Dimension:  768,
			BatchSize:  128,
			OllamaHost: "http://localhost:11434",
			CacheSize:  4096,
		},
		Vector: VectorConfig{
			M:              16,
			EfConstruction: 200,
			EfSearch:       64,
			Quantization:   QuantizationNone,
		},
		Watch: WatchConfig{
			DebounceMS: 250,
			QueueSize:  10000,
		},
		Log: LogConfig{Level: "info"},
	}
}

// Load reads the config file at path (if it exists), applies environment
// overrides, fills defaults, and validates.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
			// Defaults only.
		case err != nil:
			return nil, loupeerr.ConfigError(fmt.Sprintf("read config %s", path), err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, loupeerr.ConfigError(fmt.Sprintf("parse config %s", path), err)
			}
		}
	}

	applyEnv(cfg)
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv applies LOUPE_* environment variable overrides.
func applyEnv(cfg *Config) {
	if v := os.Getenv("LOUPE_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("LOUPE_OLLAMA_HOST"); v != "" {
		cfg.Embedding.OllamaHost = v
	}
	if v := os.Getenv("LOUPE_EMBED_PROVIDER"); v != "" {
		cfg.Embedding.Provider = v
	}
	if v := os.Getenv("LOUPE_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("LOUPE_RRF_K"); v != "" {
		if k, err := strconv.Atoi(v); err == nil {
			cfg.Search.RRFK = k
		}
	}
	if v := os.Getenv("LOUPE_WEIGHT_LEX"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Search.WeightLex = f
		}
	}
	if v := os.Getenv("LOUPE_WEIGHT_VEC"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Search.WeightVec = f
		}
	}
}

// applyDefaults fills zero values left by a partial config file.
func (c *Config) applyDefaults() {
	d := Default()
	if c.MaxFileBytes <= 0 {
		c.MaxFileBytes = d.MaxFileBytes
	}
	if c.Search.RRFK <= 0 {
		c.Search.RRFK = d.Search.RRFK
	}
	if c.Search.WeightLex == 0 {
		c.Search.WeightLex = d.Search.WeightLex
	}
	if c.Search.WeightVec == 0 {
		c.Search.WeightVec = d.Search.WeightVec
	}
	if c.Search.TopKDefault <= 0 {
		c.Search.TopKDefault = d.Search.TopKDefault
	}
	if c.Search.QueryDeadlineMS <= 0 {
		c.Search.QueryDeadlineMS = d.Search.QueryDeadlineMS
	}
	if c.Embedding.Provider == "" {
		c.Embedding.Provider = d.Embedding.Provider
	}
	if c.Embedding.Model == "" {
		c.Embedding.Model = d.Embedding.Model
	}
	if c.Embedding.Dimension <= 0 {
		c.Embedding.Dimension = d.Embedding.Dimension
	}
	if c.Embedding.BatchSize <= 0 {
		c.Embedding.BatchSize = d.Embedding.BatchSize
	}
	if c.Embedding.OllamaHost == "" {
		c.Embedding.OllamaHost = d.Embedding.OllamaHost
	}
	if c.Embedding.CacheSize <= 0 {
		c.Embedding.CacheSize = d.Embedding.CacheSize
	}
	if c.Vector.M <= 0 {
		c.Vector.M = d.Vector.M
	}
	if c.Vector.EfConstruction <= 0 {
		c.Vector.EfConstruction = d.Vector.EfConstruction
	}
	if c.Vector.EfSearch <= 0 {
		c.Vector.EfSearch = d.Vector.EfSearch
	}
	if c.Vector.Quantization == "" {
		c.Vector.Quantization = d.Vector.Quantization
	}
	if c.Watch.DebounceMS <= 0 {
		c.Watch.DebounceMS = d.Watch.DebounceMS
	}
	if c.Watch.QueueSize <= 0 {
		c.Watch.QueueSize = d.Watch.QueueSize
	}
	if c.Log.Level == "" {
		c.Log.Level = d.Log.Level
	}
}

// Validate checks invariants that cannot be defaulted away.
func (c *Config) Validate() error {
	for _, root := range c.RepoRoots {
		if !filepath.IsAbs(root) {
			return loupeerr.ConfigError(fmt.Sprintf("repo root must be absolute: %s", root), nil)
		}
	}
	if c.Search.WeightLex < 0 || c.Search.WeightVec < 0 {
		return loupeerr.ConfigError("lane weights must be non-negative", nil)
	}
	if c.Search.TopKDefault < 1 || c.Search.TopKDefault > 100 {
		return loupeerr.ConfigError("top_k_default must be in 1..100", nil)
	}
	switch c.Vector.Quantization {
	case QuantizationNone, QuantizationInt8:
	default:
		return loupeerr.ConfigError(fmt.Sprintf("unknown quantization mode: %s", c.Vector.Quantization), nil)
	}
	switch c.Embedding.Provider {
	case "ollama", "static":
	default:
		return loupeerr.ConfigError(fmt.Sprintf("unknown embedding provider: %s", c.Embedding.Provider), nil)
	}
	if c.Embedding.BatchSize > 1024 {
		return loupeerr.ConfigError("batch_size too large (max 1024)", nil)
	}
	return nil
}

// DebounceWindow returns the debounce window as a duration.
func (c *Config) DebounceWindow() time.Duration {
	return time.Duration(c.Watch.DebounceMS) * time.Millisecond
}

// QueryDeadline returns the query deadline as a duration.
func (c *Config) QueryDeadline() time.Duration {
	return time.Duration(c.Search.QueryDeadlineMS) * time.Millisecond
}

// Hash returns a stable hash of the settings that invalidate persisted index
// state when changed. Recorded in the manifest; a mismatch at startup forces
// a full reindex.
func (c *Config) Hash() string {
	h := fnv.New64a()
	parts := []string{
		strconv.Itoa(c.Embedding.Dimension),
		c.Embedding.Model,
		c.Vector.Quantization,
		strconv.FormatInt(c.MaxFileBytes, 10),
		strings.Join(c.IgnorePatterns, "\x00"),
	}
	for _, p := range parts {
		_, _ = h.Write([]byte(p))
		_, _ = h.Write([]byte{0})
	}
	return fmt.Sprintf("%016x", h.Sum64())
}
