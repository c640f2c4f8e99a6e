package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Ledger1-ai/crm-official-sub000/internal/autogen"
	"github.com/Ledger1-ai/crm-official-sub000/internal/importer"
	"github.com/Ledger1-ai/crm-official-sub000/internal/server/middleware"
	"github.com/Ledger1-ai/crm-official-sub000/internal/server/ratelimit"
	"github.com/Ledger1-ai/crm-official-sub000/internal/types"
)

// DefaultMaxUploadBytes bounds an import upload when Options leaves it unset.
const DefaultMaxUploadBytes = 10 << 20

// Store is the persistence the HTTP surface needs beyond imports.
type Store interface {
	importer.Store
	ListPools(ctx context.Context, teamID uuid.UUID) ([]types.PoolSummary, error)
	GetPoolSummary(ctx context.Context, teamID, poolID uuid.UUID) (*types.PoolSummary, error)
	DeletePool(ctx context.Context, teamID, poolID uuid.UUID) (bool, error)
	ListCandidates(ctx context.Context, poolID uuid.UUID, limit, offset int) ([]types.StoredCandidate, error)
	ListContacts(ctx context.Context, poolID uuid.UUID, limit, offset int) ([]types.StoredContact, error)
	ListJobs(ctx context.Context, poolID uuid.UUID) ([]types.AutogenJob, error)
}

// Options holds server configuration.
type Options struct {
	Port           int
	MaxUploadBytes int64
	// RateLimit defaults to ratelimit.LoadConfig when nil.
	RateLimit *ratelimit.Config
	Logger    *zap.Logger
}

// Server represents the HTTP server
type Server struct {
	httpServer   *http.Server
	store        Store
	previewer    *importer.Previewer
	committer    *importer.Committer
	orchestrator *autogen.Orchestrator
	rateLimiter  *ratelimit.Limiter
	maxUpload    int64
	logger       *zap.Logger
}

// New creates a new server instance. tokens validates the bearer token on
// every route except /health.
func New(store Store, orchestrator *autogen.Orchestrator, tokens middleware.TokenValidator, opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = DefaultMaxUploadBytes
	}
	if opts.RateLimit == nil {
		opts.RateLimit = ratelimit.LoadConfig()
	}

	s := &Server{
		store:        store,
		previewer:    importer.NewPreviewer(store),
		committer:    importer.NewCommitter(store, opts.Logger),
		orchestrator: orchestrator,
		rateLimiter:  ratelimit.NewLimiter(opts.RateLimit),
		maxUpload:    opts.MaxUploadBytes,
		logger:       opts.Logger,
	}

	api := http.NewServeMux()

	// Pools
	api.HandleFunc("GET /pools", s.handleListPools)
	api.HandleFunc("POST /pools", s.handleCreatePool)
	api.HandleFunc("GET /pools/{id}", s.handleGetPool)
	api.HandleFunc("DELETE /pools/{id}", s.handleDeletePool)
	api.HandleFunc("GET /pools/{id}/candidates", s.handleListCandidates)
	api.HandleFunc("GET /pools/{id}/contacts", s.handleListContacts)
	api.HandleFunc("GET /pools/{id}/jobs", s.handleListPoolJobs)
	api.HandleFunc("POST /pools/{id}/autogen", s.handleEnqueueJob)

	// Manual import
	api.HandleFunc("POST /imports/preview", s.handlePreview)
	api.HandleFunc("POST /imports/commit", s.handleCommit)

	// Autogen
	api.HandleFunc("POST /autogen/jobs", s.handleCreateJob)
	api.HandleFunc("POST /autogen/jobs/{id}/run", s.handleRunJob)
	api.HandleFunc("GET /autogen/jobs/{id}", s.handleGetJob)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("/", middleware.AuthMiddleware(tokens)(api))

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", opts.Port),
		Handler:      s.withRateLimit(s.withLogging(s.withCORS(mux))),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second, // Large previews diff against the whole pool
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Handler returns the fully wrapped HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start begins listening for requests and blocks until SIGINT or SIGTERM.
// Background autogen runs are awaited before it returns.
func (s *Server) Start() error {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(stop)

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server starting", zap.String("addr", s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		s.Close()
		return fmt.Errorf("server error: %w", err)
	case <-stop:
	}
	s.logger.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	s.Close()
	s.logger.Info("server stopped")
	return nil
}

// Close stops the rate limiter and waits for running autogen jobs.
func (s *Server) Close() {
	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
	}
	if s.orchestrator != nil {
		s.orchestrator.Wait()
	}
}

// withCORS adds CORS headers
func (s *Server) withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// withRateLimit adds rate limiting middleware
func (s *Server) withRateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		clientID := s.extractClientID(r)
		allowed, info := s.rateLimiter.Allow(clientID, r.URL.Path, r.Method)

		s.setRateLimitHeaders(w, info)
		if !allowed {
			s.rateLimitResponse(w, r, info)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// statusRecorder captures the status code written by a handler.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// withLogging adds request logging
func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Info("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("duration", time.Since(start)),
			zap.String("remote", r.RemoteAddr),
		)
	})
}

// handleHealth returns server health status
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.jsonResponse(w, http.StatusOK, map[string]string{"status": "ok"})
}

// jsonResponse writes a JSON response
func (s *Server) jsonResponse(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Warn("failed to encode JSON response", zap.Error(err))
	}
}

// errorResponse writes an error JSON response
func (s *Server) errorResponse(w http.ResponseWriter, status int, message string) {
	s.jsonResponse(w, status, map[string]string{"error": message})
}

// failure maps err to a status and writes it. Internal errors are logged and
// not echoed to the client.
func (s *Server) failure(w http.ResponseWriter, r *http.Request, err error) {
	status := HTTPStatus(err)
	if status >= http.StatusInternalServerError && status != http.StatusServiceUnavailable {
		s.logger.Error("request failed", zap.String("method", r.Method), zap.String("path", r.URL.Path), zap.Error(err))
		s.errorResponse(w, status, "internal server error")
		return
	}

	var validation *types.ValidationError
	if errors.As(err, &validation) {
		s.jsonResponse(w, status, map[string]string{"error": validation.Message, "field": validation.Field})
		return
	}
	s.errorResponse(w, status, err.Error())
}

// extractClientID extracts the client identifier from the request.
// This uses the IP address from RemoteAddr.
func (s *Server) extractClientID(r *http.Request) string {
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}

// setRateLimitHeaders sets standard rate limit headers on the response.
func (s *Server) setRateLimitHeaders(w http.ResponseWriter, info ratelimit.Info) {
	if info.Limit > 0 {
		w.Header().Set("X-RateLimit-Limit", fmt.Sprintf("%d", info.Limit))
		w.Header().Set("X-RateLimit-Remaining", fmt.Sprintf("%d", info.Remaining))
		w.Header().Set("X-RateLimit-Reset", fmt.Sprintf("%d", info.ResetTime.Unix()))
	}
}

// rateLimitResponse writes a 429 Too Many Requests response with rate limit information.
func (s *Server) rateLimitResponse(w http.ResponseWriter, r *http.Request, info ratelimit.Info) {
	response := map[string]any{
		"error":     "rate_limit_exceeded",
		"message":   "Rate limit exceeded. Please try again later.",
		"limit":     info.Limit,
		"remaining": info.Remaining,
	}
	if !info.ResetTime.IsZero() {
		response["reset_at"] = info.ResetTime.Format(time.RFC3339)
	}

	if info.RetryAfter > 0 {
		retry := max(1, int(math.Ceil(info.RetryAfter.Seconds())))
		response["retry_after"] = retry
		w.Header().Set("Retry-After", fmt.Sprintf("%d", retry))
	}

	s.logger.Warn("rate limit exceeded",
		zap.String("client", s.extractClientID(r)),
		zap.String("path", r.URL.Path),
		zap.Int("limit", info.Limit),
	)

	s.jsonResponse(w, http.StatusTooManyRequests, response)
}
