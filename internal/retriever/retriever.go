// Package retriever answers questions with the most relevant indexed rows.
package retriever

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"mentor/internal/apperr"
	"mentor/internal/domain"
	"mentor/internal/embedding"
	"mentor/internal/metrics"
	"mentor/internal/vectorstore"
	"mentor/internal/vectorstore/memory"
)

// NoInformation is the context handed to the generator when retrieval fails
// or finds nothing.
const NoInformation = "No helpful information was found in the database."

// Strategy selects how results are ranked.
type Strategy string

const (
	Similarity Strategy = "similarity"
	MMR        Strategy = "mmr"
)

const (
	DefaultK      = 10
	DefaultFetchK = 20
	DefaultLambda = 0.5
)

// Config configures a Retriever.
type Config struct {
	Strategy Strategy
	// K is the number of results returned.
	K int
	// FetchK is the number of similarity candidates MMR re-ranks. It is
	// raised to K when smaller.
	FetchK int
	// Lambda weighs relevance against diversity for MMR: 1 is pure
	// relevance, 0 pure diversity.
	Lambda float64
}

// DefaultConfig returns top-10 MMR over 20 candidates.
func DefaultConfig() Config {
	return Config{Strategy: MMR, K: DefaultK, FetchK: DefaultFetchK, Lambda: DefaultLambda}
}

var _ domain.Retriever = (*Retriever)(nil)

// Retriever is a read-only view over a built index.
type Retriever struct {
	cfg      Config
	index    vectorstore.Index
	embedder embedding.Embedder
	metrics  *metrics.Collector
	logger   *zap.Logger
}

func New(cfg Config, index vectorstore.Index, embedder embedding.Embedder, collector *metrics.Collector,
	logger *zap.Logger) (*Retriever, error) {
	if cfg.Strategy == "" {
		cfg.Strategy = Similarity
	}
	if cfg.Strategy != Similarity && cfg.Strategy != MMR {
		return nil, apperr.New(apperr.CodeConfigValidateInvalidValue,
			fmt.Sprintf("unknown retrieval strategy %q", cfg.Strategy), apperr.Field("field", "retriever.strategy"))
	}
	if cfg.K <= 0 {
		return nil, apperr.New(apperr.CodeConfigValidateInvalidValue,
			fmt.Sprintf("retriever k must be positive, got %d", cfg.K), apperr.Field("field", "retriever.k"))
	}
	if cfg.Lambda < 0 || cfg.Lambda > 1 {
		return nil, apperr.New(apperr.CodeConfigValidateInvalidValue,
			fmt.Sprintf("mmr lambda must be within [0, 1], got %g", cfg.Lambda), apperr.Field("field", "retriever.mmr.lambda"))
	}
	if cfg.FetchK < cfg.K {
		cfg.FetchK = cfg.K
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Retriever{
		cfg:      cfg,
		index:    index,
		embedder: embedder,
		metrics:  collector,
		logger:   logger.With(zap.String("component", "retriever"), zap.String("strategy", string(cfg.Strategy))),
	}, nil
}

// Retrieve returns min(k, index size) hits for question. Any failure is a
// retrieval error; there are no retries.
func (r *Retriever) Retrieve(ctx context.Context, question string) ([]domain.Hit, error) {
	start := time.Now()
	hits, err := r.retrieve(ctx, question)
	r.metrics.RecordRetrieval(string(r.cfg.Strategy), err, time.Since(start), len(hits))
	if err != nil {
		return nil, apperr.Recode(err, apperr.CodeRetrievalFailure, "retrieval failed")
	}
	return hits, nil
}

func (r *Retriever) retrieve(ctx context.Context, question string) ([]domain.Hit, error) {
	query, err := r.embedder.Embed(ctx, question)
	if err != nil {
		return nil, err
	}
	if r.cfg.Strategy == MMR {
		return r.mmr(query)
	}
	matches, err := r.index.Search(query, r.cfg.K)
	if err != nil {
		return nil, err
	}
	hits := make([]domain.Hit, 0, len(matches))
	for _, m := range matches {
		h, err := r.hit(m)
		if err != nil {
			return nil, err
		}
		hits = append(hits, h)
	}
	return hits, nil
}

// mmr re-ranks the FetchK most similar candidates, picking at each step the
// one that maximises lambda*sim(q, d) - (1-lambda)*max sim(d, picked).
func (r *Retriever) mmr(query []float32) ([]domain.Hit, error) {
	candidates, err := r.index.Search(query, r.cfg.FetchK)
	if err != nil {
		return nil, err
	}
	vectors := make([][]float32, len(candidates))
	for i, c := range candidates {
		v, ok := r.index.Vector(c.ID)
		if !ok {
			return nil, fmt.Errorf("document %s has no vector", c.ID)
		}
		vectors[i] = v
	}

	k := min(r.cfg.K, len(candidates))
	picked := make([]int, 0, k)
	used := make([]bool, len(candidates))
	// redundancy[i] is the highest similarity of candidate i to any pick.
	redundancy := make([]float64, len(candidates))
	for len(picked) < k {
		best, bestScore := -1, 0.0
		for i, c := range candidates {
			if used[i] {
				continue
			}
			score := r.cfg.Lambda*c.Score - (1-r.cfg.Lambda)*redundancy[i]
			if best == -1 || score > bestScore {
				best, bestScore = i, score
			}
		}
		used[best] = true
		picked = append(picked, best)
		for i := range candidates {
			if used[i] {
				continue
			}
			if sim := memory.Cosine(vectors[i], vectors[best]); len(picked) == 1 || sim > redundancy[i] {
				redundancy[i] = sim
			}
		}
	}

	hits := make([]domain.Hit, 0, k)
	for _, i := range picked {
		h, err := r.hit(candidates[i])
		if err != nil {
			return nil, err
		}
		hits = append(hits, h)
	}
	return hits, nil
}

func (r *Retriever) hit(m vectorstore.Match) (domain.Hit, error) {
	d, ok := r.index.Get(m.ID)
	if !ok {
		return domain.Hit{}, fmt.Errorf("document %s not found", m.ID)
	}
	return domain.Hit{Document: d, Score: m.Score}, nil
}

// ContextFor joins the retrieved texts with blank lines. It never fails:
// when retrieval errors or finds nothing it returns NoInformation.
func (r *Retriever) ContextFor(ctx context.Context, question string) (string, []domain.Hit) {
	hits, err := r.Retrieve(ctx, question)
	if err != nil {
		r.logger.Warn("retriever error, using fallback context", zap.Error(err))
		return NoInformation, nil
	}
	if len(hits) == 0 {
		return NoInformation, nil
	}
	texts := make([]string, len(hits))
	for i, h := range hits {
		texts[i] = h.Document.Text
	}
	return strings.Join(texts, "\n\n"), hits
}
