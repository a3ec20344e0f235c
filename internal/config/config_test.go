package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsAreValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, int64(2*1024*1024), cfg.MaxFileSize)
	assert.Equal(t, 512, cfg.ChunkMaxTokens)
	assert.Equal(t, 0.5, cfg.Rerank.Alpha)
	assert.Equal(t, "fts5", cfg.Lexical.Backend)
	assert.False(t, cfg.Semantic.Enabled)
	assert.Equal(t, 250*time.Millisecond, cfg.WatchDebounce())
	assert.Equal(t, 2*time.Second, cfg.MoveWindow())
	assert.Equal(t, 5*time.Second, cfg.PluginTimeout())
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, Default().ChunkMaxTokens, cfg.ChunkMaxTokens)
}

func TestLoadParsesYAML(t *testing.T) {
	dir := t.TempDir()
	content := `
chunk_max_tokens: 256
max_file_size: 1048576
ignore_patterns:
  - "dist/"
  - "*.generated.go"
lexical:
  backend: bleve
semantic:
  enabled: true
  model: nomic-embed-text
  dimension: 384
rerank:
  alpha: 0.7
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, ConfigFileName), []byte(content), 0o644))

	cfg, err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, 256, cfg.ChunkMaxTokens)
	assert.Equal(t, int64(1048576), cfg.MaxFileSize)
	assert.Equal(t, []string{"dist/", "*.generated.go"}, cfg.IgnorePatterns)
	assert.Equal(t, "bleve", cfg.Lexical.Backend)
	assert.True(t, cfg.Semantic.Enabled)
	assert.Equal(t, "nomic-embed-text", cfg.Semantic.Model)
	assert.Equal(t, 384, cfg.Semantic.Dimension)
	assert.Equal(t, 0.7, cfg.Rerank.Alpha)
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ConfigFileName), []byte("chunk_max_tokens: [oops"), 0o644))

	_, err := Load(dir)
	assert.Error(t, err)
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"negative file size", func(c *Config) { c.MaxFileSize = -1 }},
		{"zero chunk tokens", func(c *Config) { c.ChunkMaxTokens = 0 }},
		{"alpha above one", func(c *Config) { c.Rerank.Alpha = 1.5 }},
		{"unknown backend", func(c *Config) { c.Lexical.Backend = "elastic" }},
		{"semantic without dimension", func(c *Config) { c.Semantic.Enabled = true; c.Semantic.Dimension = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("CODESCOUT_RERANK_ALPHA", "0.25")
	t.Setenv("CODESCOUT_SEMANTIC_ENABLED", "true")
	t.Setenv("INDEX_PATH", "/var/idx")

	cfg := Default()
	cfg.Semantic.Dimension = 768
	cfg.applyEnv()

	assert.Equal(t, 0.25, cfg.Rerank.Alpha)
	assert.True(t, cfg.Semantic.Enabled)
	assert.Equal(t, "/var/idx", cfg.IndexPath)
}

func TestValidateNormalizesZeroBudgets(t *testing.T) {
	cfg := Default()
	cfg.WatchDebounceMs = 0
	cfg.PluginTimeoutMs = 0
	cfg.WorkerThreads = 0
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 250, cfg.WatchDebounceMs)
	assert.Equal(t, 5000, cfg.PluginTimeoutMs)
	assert.Greater(t, cfg.WorkerThreads, 0)
}
