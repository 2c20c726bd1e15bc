// Package rest binds the checkpoint endpoints to HTTP/JSON. It is the
// fallback checkpoint transport, and also serves a read-only runs API.
package rest

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/example/campaignflow/internal/domain"
	"github.com/example/campaignflow/internal/endpoint"
	"github.com/example/campaignflow/internal/observability"
)

// RunReader serves the read-only runs API.
type RunReader interface {
	GetRun(ctx context.Context, runID string) (*domain.RunState, error)
	ListRuns(ctx context.Context, limit int) ([]domain.RunSummary, error)
	ListPendingApprovals(ctx context.Context, role string) ([]*domain.ApprovalRequest, error)
}

// Server is the HTTP server for the checkpoint service.
type Server struct {
	endpoints endpoint.Endpoints
	runs      RunReader
	logger    *zap.Logger
	metrics   *observability.Metrics
	limiter   *rate.Limiter
	mux       *http.ServeMux
	srv       *http.Server
}

// ServerOption is a functional option for configuring the Server.
type ServerOption func(*Server)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) ServerOption {
	return func(s *Server) { s.logger = l }
}

// WithMetrics records request latency on m.
func WithMetrics(m *observability.Metrics) ServerOption {
	return func(s *Server) { s.metrics = m }
}

// WithRateLimit rejects requests beyond r per second (burst b) with 429.
func WithRateLimit(r float64, b int) ServerOption {
	return func(s *Server) {
		if r > 0 {
			s.limiter = rate.NewLimiter(rate.Limit(r), b)
		}
	}
}

// WithRunReader enables the /api/runs and /api/approvals routes.
func WithRunReader(r RunReader) ServerOption {
	return func(s *Server) { s.runs = r }
}

// NewServer creates a new HTTP server.
func NewServer(endpoints endpoint.Endpoints, opts ...ServerOption) *Server {
	s := &Server{
		endpoints: endpoints,
		logger:    zap.NewNop(),
		mux:       http.NewServeMux(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "SERVING"})
	})

	s.route("GET /v1/checkpoints", s.listCheckpoints)
	s.route("GET /v1/checkpoints/{run_id}", s.getCheckpoint)
	s.route("PUT /v1/checkpoints/{run_id}", s.putCheckpoint)
	s.route("GET /v1/checkpoints/{run_id}/writes", s.listWrites)
	s.route("POST /v1/checkpoints/{run_id}/writes", s.appendWrites)

	if s.runs != nil {
		s.route("GET /api/runs", s.listRuns)
		s.route("GET /api/runs/{run_id}", s.getRun)
		s.route("GET /api/approvals", s.listApprovals)
	}
}

func (s *Server) route(pattern string, h http.HandlerFunc) {
	s.mux.Handle(pattern, s.logging(pattern, s.recovery(s.rateLimit(h))))
}

// Handler returns the HTTP handler for the server.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Serve starts the HTTP server on the given address.
func (s *Server) Serve(addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.ServeListener(lis)
}

// ServeListener serves on an existing listener. It returns nil after
// Shutdown.
func (s *Server) ServeListener(lis net.Listener) error {
	s.srv = &http.Server{
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("HTTP server listening", zap.String("addr", lis.Addr().String()))
	if err := s.srv.Serve(lis); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// logging logs each request and its duration.
func (s *Server) logging(pattern string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		duration := time.Since(start)
		s.metrics.ObserveRPC("http", pattern, http.StatusText(rec.status), duration)
		fields := []zap.Field{
			zap.String("route", pattern),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("duration", duration),
		}
		if rec.status >= http.StatusInternalServerError {
			s.logger.Warn("HTTP request failed", fields...)
		} else {
			s.logger.Debug("HTTP request", fields...)
		}
	})
}

// recovery turns handler panics into 500 responses.
func (s *Server) recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if p := recover(); p != nil {
				s.logger.Error("HTTP panic recovered",
					zap.String("path", r.URL.Path),
					zap.Any("panic", p),
					zap.Stack("stack"))
				writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "internal error"})
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func (s *Server) rateLimit(next http.Handler) http.Handler {
	if s.limiter == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.limiter.Allow() {
			writeJSON(w, http.StatusTooManyRequests, ErrorResponse{Error: "rate limit exceeded"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	code := endpoint.HTTPStatus(err)
	msg := err.Error()
	if code == http.StatusInternalServerError {
		msg = "internal error"
	}
	writeJSON(w, code, ErrorResponse{Error: msg})
}
