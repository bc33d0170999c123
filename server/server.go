// Package server wraps a gRPC server pre-wired for the RenderCache
// service: panic recovery, request IDs, a global rate limit, optional
// OpenTelemetry tracing, and a Prometheus metrics handler.
package server

import (
	"net/http"

	"github.com/Keksclan/goNutStash/interceptors"
	"github.com/Keksclan/goNutStash/ratelimit"
	"github.com/Keksclan/goNutStash/rpc"
	"github.com/Keksclan/goNutStash/tracing"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"google.golang.org/grpc"
)

// Server is a minimal wrapper around a gRPC server hosting the cache
// service.
type Server struct {
	grpcServer *grpc.Server
}

// NewServer creates a Server by applying functional options and wiring
// the resulting interceptor chain into grpc.NewServer. Interceptor order
// is fixed (recovery, request ID, rate limit, tracing) regardless of the
// order options are passed.
func NewServer(opts ...Option) *Server {
	var cfg config
	for _, o := range opts {
		o(&cfg)
	}

	var unary []grpc.UnaryServerInterceptor
	if cfg.recovery {
		unary = append(unary, interceptors.RecoveryUnary(cfg.logger))
	}
	if cfg.requestID {
		unary = append(unary, interceptors.RequestIDUnary())
	}
	if cfg.rateRPS > 0 {
		unary = append(unary, interceptors.RateLimitUnary(ratelimit.NewLimiter(cfg.rateRPS, cfg.rateBurst)))
	}
	if cfg.tracing != nil {
		unary = append(unary, tracing.UnaryServerInterceptor(cfg.tracing))
	}

	var serverOpts []grpc.ServerOption
	if u := interceptors.ChainUnary(unary); u != nil {
		serverOpts = append(serverOpts, grpc.UnaryInterceptor(u))
	}

	return &Server{grpcServer: grpc.NewServer(serverOpts...)}
}

// RegisterCache registers the stash.RenderCache service for backend on
// the underlying gRPC server.
func (s *Server) RegisterCache(backend rpc.Backend) {
	rpc.Register(s.grpcServer, backend)
}

// GRPC returns the underlying *grpc.Server so callers can register
// additional services.
func (s *Server) GRPC() *grpc.Server {
	return s.grpcServer
}

// MetricsHandler returns an http.Handler that serves Prometheus metrics.
func (s *Server) MetricsHandler() http.Handler {
	return promhttp.Handler()
}
