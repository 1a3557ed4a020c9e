package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_DefaultsWhenFileMissing(t *testing.T) {
	t.Setenv("CONFIG_FILE", filepath.Join(t.TempDir(), "missing.toml"))

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 1000, cfg.RAG.ChunkSize)
	assert.Equal(t, 200, cfg.RAG.ChunkOverlap)
	assert.Equal(t, 4, cfg.RAG.TopK)
	assert.Equal(t, "0.0.0.0:8080", cfg.HTTPAddr())
	assert.Equal(t, "claude-sonnet-4-5", cfg.LLM.ChatModel)
	assert.Equal(t, "text-embedding-3-small", cfg.LLM.EmbeddingModel)
}

func TestLoad_FileThenEnvOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	content := `
[database]
driver = "sqlite"

[rag]
chunk_size = 500
chunk_overlap = 50
top_k = 6

[ingest]
dispatcher = "local"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	t.Setenv("CONFIG_FILE", path)
	t.Setenv("SIMILARITY_SEARCH_K", "8")
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("CACHE_ENABLED", "false")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, 500, cfg.RAG.ChunkSize)
	assert.Equal(t, 50, cfg.RAG.ChunkOverlap)
	assert.Equal(t, 8, cfg.RAG.TopK)
	assert.Equal(t, "local", cfg.Ingest.Dispatcher)
	assert.Equal(t, "sk-test", cfg.LLM.OpenAIAPIKey)
	assert.False(t, cfg.Cache.Enabled)
}

func TestLoad_InvalidEnvIntFallsBack(t *testing.T) {
	t.Setenv("CONFIG_FILE", filepath.Join(t.TempDir(), "missing.toml"))
	t.Setenv("CHUNK_SIZE", "lots")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 1000, cfg.RAG.ChunkSize)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero chunk size", func(c *Config) { c.RAG.ChunkSize = 0 }},
		{"overlap not smaller than size", func(c *Config) { c.RAG.ChunkOverlap = c.RAG.ChunkSize }},
		{"zero top k", func(c *Config) { c.RAG.TopK = 0 }},
		{"unknown driver", func(c *Config) { c.Database.Driver = "oracle" }},
		{"unknown dispatcher", func(c *Config) { c.Ingest.Dispatcher = "kafka" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}

	assert.NoError(t, defaultConfig().Validate())
}
