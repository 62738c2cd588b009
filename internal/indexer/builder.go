// Package indexer builds the vector index once at startup, or reloads the
// one a previous run persisted.
package indexer

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"mentor/internal/apperr"
	"mentor/internal/embedding"
	"mentor/internal/loader"
	"mentor/internal/metrics"
	"mentor/internal/vectorstore"
)

// State is the lifecycle stage of a build.
type State int32

const (
	Uninitialized State = iota
	Loading
	Embedding
	Persisting
	Ready
	Failed
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Loading:
		return "loading"
	case Embedding:
		return "embedding"
	case Persisting:
		return "persisting"
	case Ready:
		return "ready"
	case Failed:
		return "failed"
	}
	return "state(" + strconv.Itoa(int(s)) + ")"
}

const dimensionProbe = "dimension probe"

// RowLoader reads source rows from a directory.
type RowLoader interface {
	LoadDir(ctx context.Context, dir string) (loader.Result, error)
}

// Config configures a Builder.
type Config struct {
	SourceDir string
	// Location is where the backend persists the index.
	Location string
	// RebuildOnCorrupt discards an unusable persisted index and rebuilds
	// instead of failing.
	RebuildOnCorrupt bool
}

// Report summarises a finished build.
type Report struct {
	Warm        bool
	Rebuilt     bool
	Backend     string
	Location    string
	Model       string
	Dimension   int
	Documents   int
	Files       []string
	Skipped     []loader.SkippedFile
	SkippedRows int
	Duration    time.Duration
}

// Builder owns the index while it is being built. Build runs once.
type Builder struct {
	cfg      Config
	loader   RowLoader
	embedder embedding.Embedder
	backend  vectorstore.Backend
	metrics  *metrics.Collector
	logger   *zap.Logger

	state   atomic.Int32
	started atomic.Bool

	mu     sync.Mutex
	report Report
}

func NewBuilder(cfg Config, rows RowLoader, embedder embedding.Embedder, backend vectorstore.Backend,
	collector *metrics.Collector, logger *zap.Logger) *Builder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Builder{
		cfg:      cfg,
		loader:   rows,
		embedder: embedder,
		backend:  backend,
		metrics:  collector,
		logger:   logger.With(zap.String("component", "indexer"), zap.String("backend", backend.Name())),
	}
}

// State reports the current build stage. Safe for concurrent use.
func (b *Builder) State() State {
	return State(b.state.Load())
}

// Report returns the summary of the last completed build.
func (b *Builder) Report() Report {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.report
}

// Build returns a Ready index, loading the persisted one when it is present
// and compatible. A failed build leaves no artifact at the location.
func (b *Builder) Build(ctx context.Context) (vectorstore.Index, error) {
	if !b.started.CompareAndSwap(false, true) {
		return nil, apperr.New(apperr.CodeIndexBuildTransition,
			fmt.Sprintf("build already run, state is %s", b.State()))
	}
	start := time.Now()
	rep := Report{Backend: b.backend.Name(), Location: b.cfg.Location}

	idx, err := b.warmStart(ctx, &rep)
	if err == nil && idx == nil {
		idx, err = b.coldBuild(ctx, &rep)
	}
	rep.Duration = time.Since(start)

	mode := "cold"
	if rep.Warm {
		mode = "warm"
	}
	if err != nil {
		b.state.Store(int32(Failed))
		b.metrics.RecordBuild(mode, err, rep.Duration, 0)
		b.logger.Error("index build failed", zap.String("mode", mode), zap.Error(err),
			zap.String("code", string(apperr.CodeOf(err))), zap.Any("fields", apperr.FieldsOf(err)))
		return nil, err
	}

	rep.Documents = idx.Len()
	rep.Dimension = idx.Dimension()
	rep.Model = idx.Model()
	b.mu.Lock()
	b.report = rep
	b.mu.Unlock()
	b.state.Store(int32(Ready))
	b.metrics.RecordBuild(mode, nil, rep.Duration, rep.Documents)

	b.logger.Info("index ready",
		zap.String("mode", mode),
		zap.Bool("rebuilt", rep.Rebuilt),
		zap.String("location", rep.Location),
		zap.String("model", rep.Model),
		zap.Int("dimension", rep.Dimension),
		zap.Int("documents", rep.Documents),
		zap.Int("files", len(rep.Files)),
		zap.Int("skipped_files", len(rep.Skipped)),
		zap.Int("skipped_rows", rep.SkippedRows),
		zap.Duration("duration", rep.Duration),
	)
	return idx, nil
}

// warmStart returns a nil index without error when a cold build is needed.
func (b *Builder) warmStart(ctx context.Context, rep *Report) (vectorstore.Index, error) {
	exists, err := b.backend.Exists(b.cfg.Location)
	if err == nil && !exists {
		return nil, nil
	}
	if err == nil {
		dim, derr := b.embedderDimension(ctx)
		if derr != nil {
			return nil, derr
		}
		want := vectorstore.Compat{Dimension: dim, Model: b.embedder.Model()}
		idx, lerr := b.backend.Load(ctx, b.cfg.Location, want)
		if lerr == nil {
			rep.Warm = true
			return idx, nil
		}
		err = lerr
	}

	if !apperr.IsCorruptIndex(err) || !b.cfg.RebuildOnCorrupt {
		return nil, err
	}
	b.logger.Warn("persisted index unusable, rebuilding", zap.String("location", b.cfg.Location), zap.Error(err))
	if rerr := b.backend.Remove(b.cfg.Location); rerr != nil {
		return nil, apperr.Wrap(rerr, apperr.CodeIndexPersistFailure, "removing unusable index",
			apperr.FieldPath(b.cfg.Location))
	}
	rep.Rebuilt = true
	return nil, nil
}

// embedderDimension returns the embedder's dimension, embedding a probe text
// when the embedder only learns it from its first response.
func (b *Builder) embedderDimension(ctx context.Context) (int, error) {
	if dim := b.embedder.Dimension(); dim > 0 {
		return dim, nil
	}
	vec, err := b.embedder.Embed(ctx, dimensionProbe)
	if err != nil {
		if apperr.IsBackendUnavailable(err) || ctx.Err() != nil {
			return 0, err
		}
		return 0, apperr.Recode(err, apperr.CodeEmbeddingBackendUnavailable, "probing embedding dimension")
	}
	return len(vec), nil
}

func (b *Builder) coldBuild(ctx context.Context, rep *Report) (vectorstore.Index, error) {
	b.state.Store(int32(Loading))
	res, err := b.loader.LoadDir(ctx, b.cfg.SourceDir)
	if err != nil {
		return nil, err
	}
	rep.Files = res.Files
	rep.Skipped = res.Skipped
	rep.SkippedRows = res.SkippedRows
	if len(res.Rows) == 0 {
		return nil, apperr.New(apperr.CodeConfigSourceNotFound, "no rows found in source files",
			apperr.FieldPath(b.cfg.SourceDir))
	}
	b.logger.Info("rows loaded", zap.Int("rows", len(res.Rows)), zap.Int("files", len(res.Files)))

	b.state.Store(int32(Embedding))
	texts := make([]string, len(res.Rows))
	docs := make([]vectorstore.Document, len(res.Rows))
	for i, r := range res.Rows {
		texts[i] = r.Text
		docs[i] = vectorstore.Document{
			ID:   strconv.Itoa(i),
			Text: r.Text,
			Metadata: vectorstore.Metadata{
				SourceFile: r.SourceFile,
				RowIndex:   r.RowIndex,
				Columns:    r.Columns,
			},
		}
	}
	vectors, err := b.embedder.EmbedMany(ctx, texts)
	if err != nil {
		return nil, err
	}

	idx := b.backend.Create(b.cfg.Location, b.embedder.Model())
	if err := idx.Add(docs, vectors); err != nil {
		if apperr.IsDuplicateID(err) {
			b.logger.Error("document ids collide", zap.Any("document_id", apperr.FieldsOf(err)["document_id"]))
		}
		return nil, err
	}

	b.state.Store(int32(Persisting))
	if err := idx.Persist(ctx); err != nil {
		if rerr := b.backend.Remove(b.cfg.Location); rerr != nil {
			b.logger.Warn("removing partial index failed", zap.Error(rerr))
		}
		return nil, err
	}
	return idx, nil
}
