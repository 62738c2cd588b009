package main

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"mentor/internal/apperr"
	"mentor/internal/config"
	"mentor/internal/embedding"
	"mentor/internal/embedding/hashing"
	"mentor/internal/embedding/openai"
	"mentor/internal/generator"
	"mentor/internal/indexer"
	"mentor/internal/loader"
	"mentor/internal/metrics"
	"mentor/internal/retriever"
	"mentor/internal/service"
	"mentor/internal/vectorstore"
	"mentor/internal/vectorstore/flatfile"
	"mentor/internal/vectorstore/sqlite"
)

// App holds the wired components of one process.
type App struct {
	Config   *config.AppConfig
	Logger   *zap.Logger
	Metrics  *metrics.Collector
	Embedder embedding.Embedder
	Backend  vectorstore.Backend
	Builder  *indexer.Builder
	Gate     *retriever.Gate
	Mentor   *service.MentorServiceImpl
}

// Wire creates every component from cfg. Nothing touches the network or the
// index until BuildIndex is called.
func Wire(cfg *config.AppConfig, logger *zap.Logger) (*App, error) {
	collector := metrics.NewCollector("mentor", logger)

	emb, err := newEmbedder(cfg.Embedder, logger)
	if err != nil {
		return nil, err
	}
	backend, err := newBackend(cfg.Index.Backend)
	if err != nil {
		return nil, err
	}

	gen, err := newGenerator(cfg.Generator, collector, logger)
	if err != nil {
		return nil, err
	}

	rows := loader.NewCSVLoader(loader.Config{
		Delimiter: []rune(cfg.Source.Delimiter)[0],
		Extension: cfg.Source.Extension,
	}, logger)
	builder := indexer.NewBuilder(indexer.Config{
		SourceDir:        cfg.Source.Dir,
		Location:         cfg.Index.Path,
		RebuildOnCorrupt: cfg.Index.ShouldRebuildOnCorrupt(),
	}, rows, emb, backend, collector, logger)

	gate := &retriever.Gate{}
	return &App{
		Config:   cfg,
		Logger:   logger,
		Metrics:  collector,
		Embedder: emb,
		Backend:  backend,
		Builder:  builder,
		Gate:     gate,
		Mentor:   service.NewMentorService(gate, gen, logger),
	}, nil
}

// BuildIndex builds or reloads the index and opens the gate for queries.
func (a *App) BuildIndex(ctx context.Context) error {
	idx, err := a.Builder.Build(ctx)
	if err != nil {
		return err
	}
	rc := retriever.Config{
		Strategy: retriever.Strategy(a.Config.Retriever.Strategy),
		K:        a.Config.Retriever.K,
		FetchK:   a.Config.Retriever.MMR.FetchK,
		Lambda:   retriever.DefaultLambda,
	}
	if l := a.Config.Retriever.MMR.Lambda; l != nil {
		rc.Lambda = *l
	}
	r, err := retriever.New(rc, idx, a.Embedder, a.Metrics, a.Logger)
	if err != nil {
		return err
	}
	a.Gate.Open(r)
	a.Metrics.SetReady(true)
	return nil
}

func newEmbedder(cfg config.EmbedderConfig, logger *zap.Logger) (embedding.Embedder, error) {
	switch cfg.Type {
	case "hashing":
		return hashing.NewEmbedder(cfg.Hashing.Dimension), nil
	case "openai":
		if cfg.OpenAI == nil {
			return nil, apperr.New(apperr.CodeConfigValidateInvalidValue, "openai embedder config missing",
				apperr.Field("field", "embedder.openai"))
		}
		client, err := openai.NewClient(openai.Config{
			BaseURL:     cfg.OpenAI.BaseURL,
			APIKeyEnv:   cfg.OpenAI.APIKeyEnv,
			Model:       cfg.OpenAI.Model,
			Timeout:     time.Duration(cfg.OpenAI.TimeoutSecs) * time.Second,
			BatchSize:   cfg.OpenAI.BatchSize,
			Concurrency: cfg.OpenAI.Concurrency,
			MaxRetries:  cfg.OpenAI.MaxRetries,
		}, logger)
		if err != nil {
			return nil, err
		}
		return client, nil
	}
	return nil, apperr.New(apperr.CodeConfigValidateInvalidValue, fmt.Sprintf("unknown embedder: %s", cfg.Type),
		apperr.Field("field", "embedder.type"))
}

func newBackend(name string) (vectorstore.Backend, error) {
	switch name {
	case "flatfile":
		return flatfile.Backend{}, nil
	case "sqlite":
		return sqlite.Backend{}, nil
	}
	return nil, apperr.New(apperr.CodeConfigValidateInvalidValue, fmt.Sprintf("unknown index backend: %s", name),
		apperr.Field("field", "index.backend"))
}

func newGenerator(cfg config.GeneratorConfig, collector *metrics.Collector, logger *zap.Logger) (*generator.Client, error) {
	if cfg.Type != "ollama" || cfg.Ollama == nil {
		return nil, apperr.New(apperr.CodeConfigValidateInvalidValue, fmt.Sprintf("unknown generator: %s", cfg.Type),
			apperr.Field("field", "generator.type"))
	}
	return generator.NewClient(generator.Config{
		BaseURL:     cfg.Ollama.BaseURL,
		APIKeyEnv:   cfg.Ollama.APIKeyEnv,
		Model:       cfg.Ollama.Model,
		Timeout:     time.Duration(cfg.Ollama.TimeoutSecs) * time.Second,
		Temperature: cfg.Ollama.Temperature,
		Prompt:      cfg.Ollama.Prompt,
	}, collector, logger)
}
