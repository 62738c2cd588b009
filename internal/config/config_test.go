package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mentor/internal/apperr"
)

func TestLoad_MissingFileReturnsDefaults(t *testing.T) {
	t.Setenv(APIKeyEnv, "")
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "./csv_data", cfg.Source.Dir)
	assert.Equal(t, ",", cfg.Source.Delimiter)
	assert.Equal(t, "openai", cfg.Embedder.Type)
	require.NotNil(t, cfg.Embedder.OpenAI)
	assert.Equal(t, "http://localhost:11434/v1", cfg.Embedder.OpenAI.BaseURL)
	assert.Equal(t, "mxbai-embed-large", cfg.Embedder.OpenAI.Model)
	assert.Equal(t, "flatfile", cfg.Index.Backend)
	assert.Equal(t, filepath.Join("mentor_index", "index.cbor"), cfg.Index.Path)
	assert.True(t, cfg.Index.ShouldRebuildOnCorrupt())
	assert.Equal(t, "mmr", cfg.Retriever.Strategy)
	assert.Equal(t, 10, cfg.Retriever.K)
	assert.Equal(t, 20, cfg.Retriever.MMR.FetchK)
	assert.Equal(t, 0.5, *cfg.Retriever.MMR.Lambda)
	assert.Equal(t, "llama3.2:1b", cfg.Generator.Ollama.Model)
	assert.Equal(t, ":8000", cfg.Server.Addr)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_FileOverridesAndDefaults(t *testing.T) {
	t.Setenv(APIKeyEnv, "")
	path := filepath.Join(t.TempDir(), "mentor.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
source:
  dir: /data/lessons
embedder:
  type: hashing
index:
  backend: sqlite
  rebuild_on_corrupt: false
retriever:
  strategy: similarity
  k: 4
  mmr:
    lambda: 0
server:
  api_key: from-file
  rate_limit: 5
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "/data/lessons", cfg.Source.Dir)
	require.NotNil(t, cfg.Embedder.Hashing)
	assert.Equal(t, 512, cfg.Embedder.Hashing.Dimension)
	assert.Nil(t, cfg.Embedder.OpenAI)
	assert.Equal(t, filepath.Join("mentor_index", "index.db"), cfg.Index.Path)
	assert.False(t, cfg.Index.ShouldRebuildOnCorrupt())
	assert.Equal(t, 4, cfg.Retriever.K)
	assert.Equal(t, 0.0, *cfg.Retriever.MMR.Lambda, "explicit zero lambda is kept")
	assert.Equal(t, "from-file", cfg.Server.APIKey)
	assert.Equal(t, 5.0, cfg.Server.RateLimit)
}

func TestLoad_EnvOverridesAPIKey(t *testing.T) {
	t.Setenv(APIKeyEnv, "from-env")
	path := filepath.Join(t.TempDir(), "mentor.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  api_key: from-file\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Server.APIKey)
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mentor.yaml")
	require.NoError(t, os.WriteFile(path, []byte("source: [unterminated"), 0o644))

	_, err := Load(path)
	require.Error(t, err)
	assert.Equal(t, apperr.CodeConfigLoadReadFailure, apperr.CodeOf(err))
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*AppConfig)
		field  string
	}{
		{name: "embedder", mutate: func(c *AppConfig) { c.Embedder.Type = "word2vec" }, field: "embedder.type"},
		{name: "backend", mutate: func(c *AppConfig) { c.Index.Backend = "chroma" }, field: "index.backend"},
		{name: "strategy", mutate: func(c *AppConfig) { c.Retriever.Strategy = "bm25" }, field: "retriever.strategy"},
		{name: "k", mutate: func(c *AppConfig) { c.Retriever.K = -1 }, field: "retriever.k"},
		{name: "lambda", mutate: func(c *AppConfig) { l := 2.0; c.Retriever.MMR.Lambda = &l }, field: "retriever.mmr.lambda"},
		{name: "generator", mutate: func(c *AppConfig) { c.Generator.Type = "gpt" }, field: "generator.type"},
		{name: "rate", mutate: func(c *AppConfig) { c.Server.RateLimit = -1 }, field: "server.rate_limit"},
		{name: "delimiter", mutate: func(c *AppConfig) { c.Source.Delimiter = ";;" }, field: "source.delimiter"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.True(t, apperr.IsConfiguration(err))
			assert.Equal(t, tt.field, apperr.FieldsOf(err)["field"])
		})
	}
}

func TestSaveThenLoad(t *testing.T) {
	t.Setenv(APIKeyEnv, "")
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	cfg := defaultConfig()
	cfg.Retriever.K = 3
	require.NoError(t, Save(path, cfg))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 3, loaded.Retriever.K)
	assert.Equal(t, cfg.Index, loaded.Index)
}
