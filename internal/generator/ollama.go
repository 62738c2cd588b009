// Package generator produces mentor answers with a chat model.
package generator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"mentor/internal/apperr"
	"mentor/internal/domain"
	"mentor/internal/metrics"
)

const (
	DefaultBaseURL = "http://localhost:11434/v1"
	DefaultModel   = "llama3.2:1b"
)

var _ domain.Generator = (*Client)(nil)

// Config configures the chat completions client.
type Config struct {
	BaseURL     string
	APIKeyEnv   string
	Model       string
	Timeout     time.Duration
	Temperature *float64
	// Prompt overrides DefaultPrompt.
	Prompt string
}

// Client calls an OpenAI-compatible /chat/completions endpoint, such as the
// one Ollama serves under /v1.
type Client struct {
	baseURL     string
	apiKey      string
	model       string
	temperature *float64
	prompt      *Prompt
	client      *http.Client
	metrics     *metrics.Collector
	logger      *zap.Logger
}

func NewClient(cfg Config, collector *metrics.Collector, logger *zap.Logger) (*Client, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Minute
	}
	prompt, err := ParsePrompt(cfg.Prompt)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.CodeConfigValidateInvalidValue, "parsing generator prompt",
			apperr.Field("field", "generator.prompt"))
	}
	key := ""
	if cfg.APIKeyEnv != "" {
		key = os.Getenv(cfg.APIKeyEnv)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:      key,
		model:       cfg.Model,
		temperature: cfg.Temperature,
		prompt:      prompt,
		client:      &http.Client{Timeout: cfg.Timeout},
		metrics:     collector,
		logger:      logger.With(zap.String("component", "generator"), zap.String("model", cfg.Model)),
	}, nil
}

func (c *Client) Model() string { return c.model }

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature *float64      `json:"temperature,omitempty"`
	Stream      bool          `json:"stream"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	// Ollama /api/chat
	Message *chatMessage `json:"message"`
}

// Generate renders the prompt and returns the model's reply.
func (c *Client) Generate(ctx context.Context, contextText, question string) (string, error) {
	start := time.Now()
	answer, err := c.generate(ctx, contextText, question)
	c.metrics.RecordGeneration(c.model, err, time.Since(start))
	if err != nil {
		c.logger.Error("generation failed", zap.Error(err))
		return "", err
	}
	return answer, nil
}

func (c *Client) generate(ctx context.Context, contextText, question string) (string, error) {
	prompt, err := c.prompt.Render(contextText, question)
	if err != nil {
		return "", apperr.Wrap(err, apperr.CodeGenerationUpstreamFailure, "rendering prompt")
	}
	body, err := json.Marshal(chatRequest{
		Model:       c.model,
		Messages:    []chatMessage{{Role: "user", Content: prompt}},
		Temperature: c.temperature,
	})
	if err != nil {
		return "", apperr.Wrap(err, apperr.CodeGenerationUpstreamFailure, "encoding chat request")
	}

	endpoint := c.baseURL + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", apperr.Wrap(err, apperr.CodeGenerationUpstreamFailure, "creating chat request")
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return "", apperr.Wrap(err, apperr.CodeGenerationUpstreamFailure, "chat backend unreachable",
			apperr.Field("endpoint", endpoint))
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", apperr.New(apperr.CodeGenerationUpstreamFailure,
			fmt.Sprintf("chat request failed: %s: %s", resp.Status, bytes.TrimSpace(b)),
			apperr.Field("status", resp.StatusCode))
	}

	var out chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", apperr.Wrap(err, apperr.CodeGenerationUpstreamFailure, "decoding chat response")
	}
	var text string
	switch {
	case len(out.Choices) > 0:
		text = out.Choices[0].Message.Content
	case out.Message != nil:
		text = out.Message.Content
	}
	if strings.TrimSpace(text) == "" {
		return "", apperr.New(apperr.CodeGenerationUpstreamFailure, "chat backend returned an empty answer")
	}
	return text, nil
}
