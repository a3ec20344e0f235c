// Package config loads and validates the engine configuration.
//
// Configuration is resolved in three layers, later layers winning:
//  1. built-in defaults
//  2. a YAML file (.codescout.yaml at the repo root, or an explicit path)
//  3. CODESCOUT_* environment variables
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete engine configuration.
type Config struct {
	// Indexing limits.
	MaxFileSize    int64 `yaml:"max_file_size" json:"max_file_size"`       // bytes; larger files index as raw single chunks
	ChunkMaxTokens int   `yaml:"chunk_max_tokens" json:"chunk_max_tokens"` // upper bound per chunk body
	SnippetTokens  int   `yaml:"snippet_tokens" json:"snippet_tokens"`     // snippet window for lexical results
	WorkerThreads  int   `yaml:"worker_threads" json:"worker_threads"`     // parse worker pool size

	// Watcher tuning.
	WatchDebounceMs int `yaml:"watch_debounce_ms" json:"watch_debounce_ms"`
	MoveWindowMs    int `yaml:"move_window_ms" json:"move_window_ms"`

	// Dispatcher/Handler budgets.
	PluginTimeoutMs   int `yaml:"plugin_timeout_ms" json:"plugin_timeout_ms"`
	RequestDeadlineMs int `yaml:"request_deadline_ms" json:"request_deadline_ms"`

	// IgnorePatterns are gitignore-syntax patterns applied on top of the
	// repository's own .gitignore files.
	IgnorePatterns []string `yaml:"ignore_patterns" json:"ignore_patterns"`

	// Lexical selects the full-text backend: "fts5" (default) or "bleve".
	Lexical LexicalConfig `yaml:"lexical" json:"lexical"`

	// Semantic configures the optional vector search path.
	Semantic SemanticConfig `yaml:"semantic" json:"semantic"`

	// Rerank configures hybrid score blending.
	Rerank RerankConfig `yaml:"rerank" json:"rerank"`

	// IndexPath overrides index discovery when set.
	IndexPath string `yaml:"index_path" json:"index_path"`

	// Logging configures log output.
	Logging LoggingConfig `yaml:"logging" json:"logging"`
}

// LexicalConfig selects and tunes the full-text index backend.
type LexicalConfig struct {
	Backend string `yaml:"backend" json:"backend"` // fts5 | bleve
}

// SemanticConfig configures the embedder-backed vector search path.
type SemanticConfig struct {
	Enabled   bool   `yaml:"enabled" json:"enabled"`
	Provider  string `yaml:"provider" json:"provider"` // ollama | static
	Model     string `yaml:"model" json:"model"`
	Dimension int    `yaml:"dimension" json:"dimension"`
	Endpoint  string `yaml:"endpoint" json:"endpoint"` // provider endpoint, ollama only
}

// RerankConfig configures hybrid result blending.
type RerankConfig struct {
	// Alpha is the lexical weight in the hybrid blend:
	// score = alpha*lexical + (1-alpha)*semantic. Range [0,1].
	Alpha float64 `yaml:"alpha" json:"alpha"`
}

// LoggingConfig configures log output.
type LoggingConfig struct {
	Level  string `yaml:"level" json:"level"`
	File   string `yaml:"file" json:"file"`
	Stderr bool   `yaml:"stderr" json:"stderr"`
}

// ConfigFileName is the per-repository config file name.
const ConfigFileName = ".codescout.yaml"

// Default returns the built-in defaults.
func Default() *Config {
	return &Config{
		MaxFileSize:       2 * 1024 * 1024, // 2 MB
		ChunkMaxTokens:    512,
		SnippetTokens:     96,
		WorkerThreads:     runtime.NumCPU(),
		WatchDebounceMs:   250,
		MoveWindowMs:      2000,
		PluginTimeoutMs:   5000,
		RequestDeadlineMs: 30000,
		Lexical:           LexicalConfig{Backend: "fts5"},
		Semantic: SemanticConfig{
			Enabled:   false,
			Provider:  "ollama",
			Model:     "embeddinggemma",
			Dimension: 768,
			Endpoint:  "http://localhost:11434",
		},
		Rerank:  RerankConfig{Alpha: 0.5},
		Logging: LoggingConfig{Level: "info", Stderr: true},
	}
}

// Load resolves configuration for a repository root.
// A missing config file is not an error; a malformed one is.
func Load(repoRoot string) (*Config, error) {
	return LoadFile(filepath.Join(repoRoot, ConfigFileName))
}

// LoadFile resolves configuration from an explicit file path.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		// Defaults plus env only.
	case err != nil:
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv applies CODESCOUT_* environment overrides.
func (c *Config) applyEnv() {
	if v := os.Getenv("INDEX_PATH"); v != "" {
		c.IndexPath = v
	}
	if v := os.Getenv("CODESCOUT_INDEX_PATH"); v != "" {
		c.IndexPath = v
	}
	if v := os.Getenv("CODESCOUT_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("CODESCOUT_LEXICAL_BACKEND"); v != "" {
		c.Lexical.Backend = v
	}
	if v := os.Getenv("CODESCOUT_SEMANTIC_ENABLED"); v != "" {
		c.Semantic.Enabled = v == "1" || v == "true"
	}
	if v := os.Getenv("CODESCOUT_SEMANTIC_MODEL"); v != "" {
		c.Semantic.Model = v
	}
	if v := os.Getenv("CODESCOUT_RERANK_ALPHA"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.Rerank.Alpha = f
		}
	}
	if v := os.Getenv("CODESCOUT_WORKER_THREADS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.WorkerThreads = n
		}
	}
}

// Validate checks ranges and normalizes degenerate values.
func (c *Config) Validate() error {
	if c.MaxFileSize <= 0 {
		return fmt.Errorf("max_file_size must be positive, got %d", c.MaxFileSize)
	}
	if c.ChunkMaxTokens <= 0 {
		return fmt.Errorf("chunk_max_tokens must be positive, got %d", c.ChunkMaxTokens)
	}
	if c.Rerank.Alpha < 0 || c.Rerank.Alpha > 1 {
		return fmt.Errorf("rerank.alpha must be in [0,1], got %v", c.Rerank.Alpha)
	}
	switch c.Lexical.Backend {
	case "fts5", "bleve":
	default:
		return fmt.Errorf("lexical.backend must be fts5 or bleve, got %q", c.Lexical.Backend)
	}
	if c.Semantic.Enabled && c.Semantic.Dimension <= 0 {
		return fmt.Errorf("semantic.dimension must be positive when semantic search is enabled")
	}
	if c.WorkerThreads <= 0 {
		c.WorkerThreads = runtime.NumCPU()
	}
	if c.WatchDebounceMs <= 0 {
		c.WatchDebounceMs = 250
	}
	if c.MoveWindowMs <= 0 {
		c.MoveWindowMs = 2000
	}
	if c.PluginTimeoutMs <= 0 {
		c.PluginTimeoutMs = 5000
	}
	if c.RequestDeadlineMs <= 0 {
		c.RequestDeadlineMs = 30000
	}
	if c.SnippetTokens <= 0 {
		c.SnippetTokens = 96
	}
	return nil
}

// WatchDebounce returns the debounce window as a duration.
func (c *Config) WatchDebounce() time.Duration {
	return time.Duration(c.WatchDebounceMs) * time.Millisecond
}

// MoveWindow returns the move-detection window as a duration.
func (c *Config) MoveWindow() time.Duration {
	return time.Duration(c.MoveWindowMs) * time.Millisecond
}

// PluginTimeout returns the per-plugin budget as a duration.
func (c *Config) PluginTimeout() time.Duration {
	return time.Duration(c.PluginTimeoutMs) * time.Millisecond
}

// RequestDeadline returns the per-request budget as a duration.
func (c *Config) RequestDeadline() time.Duration {
	return time.Duration(c.RequestDeadlineMs) * time.Millisecond
}
