// Package grpc binds the checkpoint endpoints to gRPC. It is the primary
// checkpoint transport: Server exposes a storage backend, Client implements
// checkpoint.Transport against a remote Server.
package grpc

import (
	"context"
	"net"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
	"google.golang.org/grpc/status"

	"github.com/example/campaignflow/internal/endpoint"
	"github.com/example/campaignflow/internal/observability"
)

// Server is the gRPC server for the checkpoint service.
type Server struct {
	endpoints  endpoint.Endpoints
	logger     *zap.Logger
	metrics    *observability.Metrics
	limiter    *rate.Limiter
	health     *health.Server
	grpcServer *grpc.Server
}

var _ CheckpointServiceServer = (*Server)(nil)

// ServerOption is a functional option for configuring the Server.
type ServerOption func(*Server)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) ServerOption {
	return func(s *Server) {
		s.logger = l
	}
}

// WithMetrics records call latency on m.
func WithMetrics(m *observability.Metrics) ServerOption {
	return func(s *Server) {
		s.metrics = m
	}
}

// WithRateLimit rejects calls beyond r per second (burst b) with
// RESOURCE_EXHAUSTED. Health checks are not limited.
func WithRateLimit(r float64, b int) ServerOption {
	return func(s *Server) {
		if r > 0 {
			s.limiter = rate.NewLimiter(rate.Limit(r), b)
		}
	}
}

// NewServer creates a new gRPC server.
func NewServer(endpoints endpoint.Endpoints, opts ...ServerOption) *Server {
	s := &Server{
		endpoints: endpoints,
		logger:    zap.NewNop(),
		health:    health.NewServer(),
	}

	// Apply options
	for _, opt := range opts {
		opt(s)
	}

	interceptors := []grpc.UnaryServerInterceptor{
		LoggingInterceptor(s.logger, s.metrics),
		RecoveryInterceptor(s.logger),
	}
	if s.limiter != nil {
		interceptors = append(interceptors, RateLimitInterceptor(s.limiter))
	}

	s.grpcServer = grpc.NewServer(grpc.ChainUnaryInterceptor(interceptors...))

	RegisterCheckpointServiceServer(s.grpcServer, s)
	healthpb.RegisterHealthServer(s.grpcServer, s.health)
	s.health.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)

	// Enable reflection for grpcurl and other tools
	reflection.Register(s.grpcServer)

	return s
}

// Serve starts the gRPC server on the given address.
func (s *Server) Serve(addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.ServeListener(lis)
}

// ServeListener serves on an existing listener.
func (s *Server) ServeListener(lis net.Listener) error {
	s.logger.Info("gRPC server listening", zap.String("addr", lis.Addr().String()))
	return s.grpcServer.Serve(lis)
}

// GracefulStop marks the service not serving and drains in-flight calls.
func (s *Server) GracefulStop() {
	s.health.Shutdown()
	s.grpcServer.GracefulStop()
}

// LoggingInterceptor returns a gRPC interceptor that logs requests and their duration.
func LoggingInterceptor(logger *zap.Logger, metrics *observability.Metrics) grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req any,
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (any, error) {
		start := time.Now()

		resp, err := handler(ctx, req)

		duration := time.Since(start)
		code := status.Code(err)
		metrics.ObserveRPC("grpc", info.FullMethod, code.String(), duration)

		fields := []zap.Field{
			zap.String("method", info.FullMethod),
			zap.Duration("duration", duration),
			zap.String("code", code.String()),
		}
		if runID := extractRunID(req); runID != "" {
			fields = append(fields, zap.String("run_id", runID))
		}
		switch code {
		case codes.OK, codes.NotFound:
			logger.Debug("gRPC call", fields...)
		default:
			logger.Warn("gRPC call failed", append(fields, zap.Error(err))...)
		}
		return resp, err
	}
}

// RecoveryInterceptor returns a gRPC interceptor that recovers from panics.
func RecoveryInterceptor(logger *zap.Logger) grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req any,
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (resp any, err error) {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("gRPC panic recovered",
					zap.String("method", info.FullMethod),
					zap.Any("panic", r),
					zap.Stack("stack"))
				err = status.Error(codes.Internal, "internal error")
			}
		}()
		return handler(ctx, req)
	}
}

// RateLimitInterceptor rejects calls the limiter cannot admit immediately.
func RateLimitInterceptor(limiter *rate.Limiter) grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req any,
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (any, error) {
		if strings.HasPrefix(info.FullMethod, "/grpc.health.v1.Health/") {
			return handler(ctx, req)
		}
		if !limiter.Allow() {
			return nil, status.Errorf(codes.ResourceExhausted, "%s: rate limit exceeded", info.FullMethod)
		}
		return handler(ctx, req)
	}
}
