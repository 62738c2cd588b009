// Package server exposes the mentor over HTTP.
package server

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"mentor/internal/apperr"
	"mentor/internal/domain"
	"mentor/internal/metrics"
)

// Greeting prefixes every answer served over HTTP.
const Greeting = "Namaste 👋. Let's talk about coding.\n\n"

const maxBodyBytes = 1 << 20

// Config holds HTTP server configuration.
type Config struct {
	ListenAddr string
	// APIKey is the shared secret expected in the X-API-Key header.
	APIKey string
	// RateLimit is the sustained rate of /ask requests per second across all
	// clients. Zero disables limiting.
	RateLimit       float64
	Burst           int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// Readiness reports whether queries can be served.
type Readiness interface {
	Ready() bool
}

// Server wraps a chi router and the HTTP server.
type Server struct {
	router  chi.Router
	cfg     Config
	mentor  domain.MentorService
	ready   Readiness
	limiter *rate.Limiter
	metrics *metrics.Collector
	logger  *zap.Logger
}

// New creates a Server with the ask, health, readiness and metrics endpoints.
func New(cfg Config, mentor domain.MentorService, ready Readiness, collector *metrics.Collector,
	logger *zap.Logger) (*Server, error) {
	if cfg.ListenAddr == "" {
		return nil, apperr.New(apperr.CodeConfigValidateInvalidValue, "listen address is required",
			apperr.Field("field", "server.addr"))
	}
	if cfg.APIKey == "" {
		return nil, apperr.New(apperr.CodeConfigValidateInvalidValue,
			"an API key is required: set server.api_key or MENTOR_API_KEY", apperr.Field("field", "server.api_key"))
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 30 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		// Generation on a small local model can be slow.
		cfg.WriteTimeout = 3 * time.Minute
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Server{
		cfg:     cfg,
		mentor:  mentor,
		ready:   ready,
		metrics: collector,
		logger:  logger.With(zap.String("component", "server")),
	}
	if cfg.RateLimit > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(s.observe)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/readyz", s.handleReady)
	r.Method(http.MethodGet, "/metrics", collector.Handler())
	r.Group(func(r chi.Router) {
		r.Use(s.rateLimit)
		r.Post("/ask", s.handleAsk)
	})

	s.router = r
	return s, nil
}

// Handler returns the underlying http.Handler for testing.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start runs the HTTP server and blocks until the context is cancelled,
// then performs graceful shutdown.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.cfg.ListenAddr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve is Start on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:      s.router,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	s.logger.Info("listening", zap.String("addr", ln.Addr().String()))

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down: %w", err)
	}
	s.logger.Info("server stopped")
	return <-errCh
}

type askRequest struct {
	Question string `json:"question"`
}

type askResponse struct {
	Answer string `json:"answer"`
}

type errorResponse struct {
	Detail string `json:"detail"`
}

func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	key := r.Header.Get("X-API-Key")
	if subtle.ConstantTimeCompare([]byte(key), []byte(s.cfg.APIKey)) != 1 {
		writeJSON(w, http.StatusUnauthorized, errorResponse{Detail: "Invalid API Key"})
		return
	}

	var req askRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Detail: "Invalid request body"})
		return
	}

	ans, err := s.mentor.Ask(r.Context(), req.Question)
	if err != nil {
		status := apperr.HTTPStatus(err)
		detail := "Error generating answer"
		switch status {
		case http.StatusBadRequest:
			detail = "Question is required"
		case http.StatusServiceUnavailable:
			detail = "Index is not ready"
		default:
			s.logger.Error("generation error", zap.Error(err),
				zap.String("request_id", middleware.GetReqID(r.Context())))
		}
		writeJSON(w, status, errorResponse{Detail: detail})
		return
	}
	writeJSON(w, http.StatusOK, askResponse{Answer: Greeting + ans.Text})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	if s.ready == nil || !s.ready.Ready() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "building"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) rateLimit(next http.Handler) http.Handler {
	if s.limiter == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.limiter.Allow() {
			w.Header().Set("Retry-After", "1")
			writeJSON(w, http.StatusTooManyRequests, errorResponse{Detail: "Too many requests"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		path := r.URL.Path
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			path = rc.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		s.metrics.RecordHTTPRequest(r.Method, path, status, time.Since(start))
		s.logger.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", path),
			zap.Int("status", status),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
