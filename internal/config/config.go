package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"mentor/internal/apperr"
)

// APIKeyEnv overrides server.api_key when set.
const APIKeyEnv = "MENTOR_API_KEY"

// SourceConfig locates the CSV corpus.
type SourceConfig struct {
	Dir       string `yaml:"dir"`
	Delimiter string `yaml:"delimiter"`
	Extension string `yaml:"extension"`
}

// OpenAIEmbedderConfig holds configuration for the OpenAI-compatible embedder.
type OpenAIEmbedderConfig struct {
	BaseURL     string `yaml:"base_url"`
	APIKeyEnv   string `yaml:"api_key_env"`
	Model       string `yaml:"model"`
	TimeoutSecs int    `yaml:"timeout_secs"`
	BatchSize   int    `yaml:"batch_size"`
	Concurrency int    `yaml:"concurrency"`
	MaxRetries  int    `yaml:"max_retries"`
}

// HashingEmbedderConfig configures the local feature-hashing embedder.
type HashingEmbedderConfig struct {
	Dimension int `yaml:"dimension"`
}

// EmbedderConfig selects and configures the text embedder implementation.
type EmbedderConfig struct {
	Type    string                 `yaml:"type"`
	OpenAI  *OpenAIEmbedderConfig  `yaml:"openai,omitempty"`
	Hashing *HashingEmbedderConfig `yaml:"hashing,omitempty"`
}

// IndexConfig selects where and how the vector index is persisted.
type IndexConfig struct {
	Backend string `yaml:"backend"`
	Path    string `yaml:"path"`
	// RebuildOnCorrupt defaults to true when unset.
	RebuildOnCorrupt *bool `yaml:"rebuild_on_corrupt,omitempty"`
}

// ShouldRebuildOnCorrupt reports whether an unusable index is rebuilt.
func (c IndexConfig) ShouldRebuildOnCorrupt() bool {
	return c.RebuildOnCorrupt == nil || *c.RebuildOnCorrupt
}

// MMRConfig tunes maximal marginal relevance re-ranking.
type MMRConfig struct {
	FetchK int      `yaml:"fetch_k"`
	Lambda *float64 `yaml:"lambda,omitempty"`
}

// RetrieverConfig configures query-time search.
type RetrieverConfig struct {
	Strategy string    `yaml:"strategy"`
	K        int       `yaml:"k"`
	MMR      MMRConfig `yaml:"mmr"`
}

// OllamaGeneratorConfig configures the chat model client.
type OllamaGeneratorConfig struct {
	BaseURL     string   `yaml:"base_url"`
	APIKeyEnv   string   `yaml:"api_key_env"`
	Model       string   `yaml:"model"`
	TimeoutSecs int      `yaml:"timeout_secs"`
	Temperature *float64 `yaml:"temperature,omitempty"`
	Prompt      string   `yaml:"prompt,omitempty"`
}

// GeneratorConfig selects and configures the answer generator.
type GeneratorConfig struct {
	Type   string                 `yaml:"type"`
	Ollama *OllamaGeneratorConfig `yaml:"ollama,omitempty"`
}

// ServerConfig configures the HTTP surface.
type ServerConfig struct {
	Addr   string `yaml:"addr"`
	APIKey string `yaml:"api_key"`
	// RateLimit is the sustained request rate per second. Zero disables it.
	RateLimit           float64 `yaml:"rate_limit"`
	Burst               int     `yaml:"burst"`
	ShutdownTimeoutSecs int     `yaml:"shutdown_timeout_secs"`
}

// LoggingConfig configures the process logger.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// AppConfig is the root application configuration structure.
type AppConfig struct {
	Source    SourceConfig    `yaml:"source"`
	Embedder  EmbedderConfig  `yaml:"embedder"`
	Index     IndexConfig     `yaml:"index"`
	Retriever RetrieverConfig `yaml:"retriever"`
	Generator GeneratorConfig `yaml:"generator"`
	Server    ServerConfig    `yaml:"server"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// Load reads a config from a specified path. If the file does not exist, returns defaults.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			cfg := defaultConfig()
			applyEnv(cfg)
			return cfg, nil
		}
		return nil, apperr.Wrap(err, apperr.CodeConfigLoadReadFailure, "reading config", apperr.FieldPath(path))
	}
	var cfg AppConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, apperr.Wrap(err, apperr.CodeConfigLoadReadFailure, "parsing config", apperr.FieldPath(path))
	}
	applyConfigDefaults(&cfg)
	applyEnv(&cfg)
	return &cfg, nil
}

// LoadDefault tries ./mentor.yaml first, then ~/.config/mentor/config.yaml.
// If neither exists, it writes defaults to ~/.config/mentor/config.yaml and returns them.
func LoadDefault() (*AppConfig, string, error) {
	cwdPath := "mentor.yaml"
	if _, err := os.Stat(cwdPath); err == nil {
		cfg, err := Load(cwdPath)
		return cfg, cwdPath, err
	}
	userPath, err := defaultUserConfigPath()
	if err != nil {
		return nil, "", apperr.Wrap(err, apperr.CodeConfigLoadReadFailure, "locating user config")
	}
	if _, err := os.Stat(userPath); err == nil {
		cfg, err := Load(userPath)
		return cfg, userPath, err
	}
	cfg := defaultConfig()
	if err := Save(userPath, cfg); err != nil {
		return nil, "", apperr.Wrap(err, apperr.CodeConfigLoadReadFailure, "writing default config", apperr.FieldPath(userPath))
	}
	applyEnv(cfg)
	return cfg, userPath, nil
}

// Save writes the config to the given path, creating directories as needed.
func Save(path string, cfg *AppConfig) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// Validate checks values that defaults cannot repair.
func (c *AppConfig) Validate() error {
	switch c.Embedder.Type {
	case "openai", "hashing":
	default:
		return invalid("embedder.type", fmt.Sprintf("unknown embedder type %q", c.Embedder.Type))
	}
	if c.Embedder.Type == "hashing" && (c.Embedder.Hashing == nil || c.Embedder.Hashing.Dimension <= 0) {
		return invalid("embedder.hashing.dimension", "hashing dimension must be positive")
	}
	switch c.Index.Backend {
	case "flatfile", "sqlite":
	default:
		return invalid("index.backend", fmt.Sprintf("unknown index backend %q", c.Index.Backend))
	}
	switch c.Retriever.Strategy {
	case "similarity", "mmr":
	default:
		return invalid("retriever.strategy", fmt.Sprintf("unknown retrieval strategy %q", c.Retriever.Strategy))
	}
	if c.Retriever.K <= 0 {
		return invalid("retriever.k", fmt.Sprintf("k must be positive, got %d", c.Retriever.K))
	}
	if l := c.Retriever.MMR.Lambda; l != nil && (*l < 0 || *l > 1) {
		return invalid("retriever.mmr.lambda", fmt.Sprintf("lambda must be within [0, 1], got %g", *l))
	}
	if c.Generator.Type != "ollama" {
		return invalid("generator.type", fmt.Sprintf("unknown generator type %q", c.Generator.Type))
	}
	if c.Server.RateLimit < 0 {
		return invalid("server.rate_limit", "rate limit must not be negative")
	}
	if len([]rune(c.Source.Delimiter)) != 1 {
		return invalid("source.delimiter", fmt.Sprintf("delimiter must be a single character, got %q", c.Source.Delimiter))
	}
	return nil
}

func invalid(field, msg string) error {
	return apperr.New(apperr.CodeConfigValidateInvalidValue, msg, apperr.Field("field", field))
}

func defaultUserConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "mentor", "config.yaml"), nil
}

func defaultConfig() *AppConfig {
	cfg := &AppConfig{
		Source:    SourceConfig{Dir: "./csv_data"},
		Embedder:  EmbedderConfig{Type: "openai"},
		Index:     IndexConfig{Backend: "flatfile"},
		Retriever: RetrieverConfig{Strategy: "mmr"},
		Generator: GeneratorConfig{Type: "ollama"},
		Server:    ServerConfig{Addr: ":8000"},
		Logging:   LoggingConfig{Level: "info", Format: "console"},
	}
	applyConfigDefaults(cfg)
	return cfg
}

func applyConfigDefaults(cfg *AppConfig) {
	if cfg.Source.Dir == "" {
		cfg.Source.Dir = "./csv_data"
	}
	if cfg.Source.Delimiter == "" {
		cfg.Source.Delimiter = ","
	}
	if cfg.Source.Extension == "" {
		cfg.Source.Extension = ".csv"
	}

	if cfg.Embedder.Type == "" {
		cfg.Embedder.Type = "openai"
	}
	if cfg.Embedder.Type == "openai" {
		if cfg.Embedder.OpenAI == nil {
			cfg.Embedder.OpenAI = &OpenAIEmbedderConfig{}
		}
		o := cfg.Embedder.OpenAI
		if o.BaseURL == "" {
			o.BaseURL = "http://localhost:11434/v1"
		}
		if o.APIKeyEnv == "" {
			o.APIKeyEnv = "OPENAI_API_KEY"
		}
		if o.Model == "" {
			o.Model = "mxbai-embed-large"
		}
		if o.TimeoutSecs == 0 {
			o.TimeoutSecs = 30
		}
		if o.BatchSize == 0 {
			o.BatchSize = 32
		}
		if o.Concurrency == 0 {
			o.Concurrency = 4
		}
	}
	if cfg.Embedder.Type == "hashing" {
		if cfg.Embedder.Hashing == nil {
			cfg.Embedder.Hashing = &HashingEmbedderConfig{}
		}
		if cfg.Embedder.Hashing.Dimension == 0 {
			cfg.Embedder.Hashing.Dimension = 512
		}
	}

	if cfg.Index.Backend == "" {
		cfg.Index.Backend = "flatfile"
	}
	if cfg.Index.Path == "" {
		name := "index.cbor"
		if cfg.Index.Backend == "sqlite" {
			name = "index.db"
		}
		cfg.Index.Path = filepath.Join(".", "mentor_index", name)
	}

	if cfg.Retriever.Strategy == "" {
		cfg.Retriever.Strategy = "mmr"
	}
	if cfg.Retriever.K == 0 {
		cfg.Retriever.K = 10
	}
	if cfg.Retriever.MMR.FetchK == 0 {
		cfg.Retriever.MMR.FetchK = 20
	}
	if cfg.Retriever.MMR.Lambda == nil {
		l := 0.5
		cfg.Retriever.MMR.Lambda = &l
	}

	if cfg.Generator.Type == "" {
		cfg.Generator.Type = "ollama"
	}
	if cfg.Generator.Type == "ollama" {
		if cfg.Generator.Ollama == nil {
			cfg.Generator.Ollama = &OllamaGeneratorConfig{}
		}
		g := cfg.Generator.Ollama
		if g.BaseURL == "" {
			g.BaseURL = "http://localhost:11434/v1"
		}
		if g.Model == "" {
			g.Model = "llama3.2:1b"
		}
		if g.TimeoutSecs == 0 {
			g.TimeoutSecs = 120
		}
	}

	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8000"
	}
	if cfg.Server.Burst == 0 {
		cfg.Server.Burst = 10
	}
	if cfg.Server.ShutdownTimeoutSecs == 0 {
		cfg.Server.ShutdownTimeoutSecs = 10
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "console"
	}
}

func applyEnv(cfg *AppConfig) {
	if key := os.Getenv(APIKeyEnv); key != "" {
		cfg.Server.APIKey = key
	}
}
