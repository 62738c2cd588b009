package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"sort"
	"strconv"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"mentor/internal/apperr"
	"mentor/internal/embedding"
)

var _ embedding.Embedder = (*Client)(nil)

// Client is an OpenAI-compatible embeddings client. It also understands the
// response shapes of Ollama's native embedding API.
type Client struct {
	baseURL     string
	apiKey      string
	model       string
	batchSize   int
	concurrency int
	maxRetries  int
	dimension   atomic.Int64
	client      *http.Client
	logger      *zap.Logger
}

// Config configures the OpenAI-compatible embeddings client.
type Config struct {
	BaseURL   string
	APIKeyEnv string
	Model     string
	Timeout   time.Duration
	// BatchSize is the number of texts sent per request.
	BatchSize int
	// Concurrency bounds the number of in-flight batch requests.
	Concurrency int
	// MaxRetries retries 429 and 5xx responses. Zero disables retries.
	MaxRetries int
}

const (
	DefaultBaseURL = "http://localhost:11434/v1"
	DefaultModel   = "mxbai-embed-large"
)

// NewClient creates a new embeddings client using the provided configuration.
// An API key is required unless the backend is on the local host.
func NewClient(cfg Config, logger *zap.Logger) (*Client, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	key := ""
	if cfg.APIKeyEnv != "" {
		key = os.Getenv(cfg.APIKeyEnv)
		if key == "" && !isLocal(cfg.BaseURL) {
			return nil, apperr.New(apperr.CodeConfigValidateInvalidValue,
				fmt.Sprintf("missing API key in env %s", cfg.APIKeyEnv))
		}
	}
	t := cfg.Timeout
	if t == 0 {
		t = 30 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 32
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		baseURL:     cfg.BaseURL,
		apiKey:      key,
		model:       cfg.Model,
		batchSize:   cfg.BatchSize,
		concurrency: cfg.Concurrency,
		maxRetries:  cfg.MaxRetries,
		client:      &http.Client{Timeout: t},
		logger:      logger.With(zap.String("component", "embedding"), zap.String("model", cfg.Model)),
	}, nil
}

// Name returns the identifier of this embedder implementation.
func (c *Client) Name() string { return "openai" }

// Model returns the embedding model requested from the backend.
func (c *Client) Model() string { return c.model }

// Dimension returns the vector length observed in the first response.
func (c *Client) Dimension() int { return int(c.dimension.Load()) }

// Embed returns an embedding vector for the given text.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := c.embedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedMany embeds texts in batches of BatchSize, at most Concurrency
// batches at a time, and returns the vectors in input order.
func (c *Client) EmbedMany(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	if len(texts) == 0 {
		return out, nil
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)
	for start := 0; start < len(texts); start += c.batchSize {
		end := min(start+c.batchSize, len(texts))
		g.Go(func() error {
			vecs, err := c.embedBatch(gctx, texts[start:end])
			if err != nil {
				return err
			}
			copy(out[start:end], vecs)
			c.logger.Debug("embedded batch", zap.Int("start", start), zap.Int("end", end), zap.Int("total", len(texts)))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

type embedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embedResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
	// Ollama /api/embed
	Embeddings [][]float32 `json:"embeddings"`
	// Ollama /api/embeddings
	Embedding []float32 `json:"embedding"`
}

func (c *Client) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	data, err := json.Marshal(embedRequest{Model: c.model, Input: texts})
	if err != nil {
		return nil, apperr.Wrap(err, apperr.CodeEmbeddingRequestInvalid, "encoding embedding request")
	}
	endpoint := c.baseURL + "/embeddings"

	var payload []byte
	for attempt := 0; ; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(data))
		if err != nil {
			return nil, apperr.Wrap(err, apperr.CodeEmbeddingRequestInvalid, "creating embedding request")
		}
		req.Header.Set("Content-Type", "application/json")
		if c.apiKey != "" {
			req.Header.Set("Authorization", "Bearer "+c.apiKey)
		}

		resp, err := c.client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, apperr.Wrap(err, apperr.CodeEmbeddingBackendUnavailable, "embedding backend unreachable",
				apperr.Field("endpoint", endpoint))
		}

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			delay := retryAfter(resp.Header.Get("Retry-After"), attempt)
			_ = resp.Body.Close()
			if attempt < c.maxRetries {
				c.logger.Warn("embedding backend busy, retrying",
					zap.Int("status", resp.StatusCode), zap.Int("attempt", attempt+1), zap.Duration("delay", delay))
				if err := sleep(ctx, delay); err != nil {
					return nil, err
				}
				continue
			}
			return nil, apperr.New(apperr.CodeEmbeddingBackendUnavailable,
				fmt.Sprintf("embedding backend failed: %s", resp.Status), apperr.Field("status", resp.StatusCode))
		}

		if resp.StatusCode >= 300 {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			_ = resp.Body.Close()
			code := apperr.CodeEmbeddingRequestInvalid
			if resp.StatusCode == http.StatusNotFound {
				code = apperr.CodeEmbeddingBackendUnavailable
			}
			return nil, apperr.New(code, fmt.Sprintf("embedding request failed: %s: %s", resp.Status, bytes.TrimSpace(body)),
				apperr.Field("status", resp.StatusCode))
		}

		payload, err = io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if err != nil {
			return nil, apperr.Wrap(err, apperr.CodeEmbeddingBackendUnavailable, "reading embedding response")
		}
		break
	}

	vecs, err := decodeEmbeddings(payload, len(texts))
	if err != nil {
		return nil, err
	}
	for _, v := range vecs {
		if err := c.observeDimension(len(v)); err != nil {
			return nil, err
		}
	}
	return vecs, nil
}

func decodeEmbeddings(payload []byte, want int) ([][]float32, error) {
	var out embedResponse
	if err := json.Unmarshal(payload, &out); err != nil {
		return nil, apperr.Wrap(err, apperr.CodeEmbeddingBackendUnavailable, "decoding embedding response")
	}
	var vecs [][]float32
	switch {
	case len(out.Data) > 0:
		sort.SliceStable(out.Data, func(i, j int) bool { return out.Data[i].Index < out.Data[j].Index })
		for _, d := range out.Data {
			vecs = append(vecs, d.Embedding)
		}
	case len(out.Embeddings) > 0:
		vecs = out.Embeddings
	case len(out.Embedding) > 0:
		vecs = [][]float32{out.Embedding}
	}
	if len(vecs) != want {
		return nil, apperr.New(apperr.CodeEmbeddingBackendUnavailable,
			fmt.Sprintf("embedding backend returned %d vectors for %d inputs", len(vecs), want))
	}
	for i, v := range vecs {
		if len(v) == 0 {
			return nil, apperr.New(apperr.CodeEmbeddingBackendUnavailable,
				fmt.Sprintf("embedding backend returned an empty vector at %d", i))
		}
	}
	return vecs, nil
}

func (c *Client) observeDimension(n int) error {
	if c.dimension.CompareAndSwap(0, int64(n)) {
		return nil
	}
	if got := c.Dimension(); got != n {
		return apperr.New(apperr.CodeEmbeddingBackendUnavailable,
			fmt.Sprintf("embedding dimension changed from %d to %d", got, n))
	}
	return nil
}

func retryAfter(header string, attempt int) time.Duration {
	if secs, err := strconv.Atoi(header); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	return retryDelay(attempt)
}

func retryDelay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	base := 200 * time.Millisecond
	// exponential backoff capped at 5s
	d := base << attempt
	if d > 5*time.Second {
		d = 5 * time.Second
	}
	return d
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func isLocal(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	host := u.Hostname()
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
