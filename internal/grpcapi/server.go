package grpcapi

import (
	"context"
	"net"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"guardian.org/internal/obs"
)

// ReadinessChecker reports whether backing stores are reachable.
type ReadinessChecker interface {
	Check(ctx context.Context) error
}

// Server is a gRPC server guarded by the pipeline. It serves the access
// service and the standard health service.
type Server struct {
	grpc   *grpc.Server
	health *health.Server
	ready  ReadinessChecker
}

// NewServer builds the server.
func NewServer(p Checker, evaluator Evaluator, ready ReadinessChecker, opts ...grpc.ServerOption) *Server {
	opts = append(opts, grpc.ChainUnaryInterceptor(UnaryInterceptor(p)))
	s := &Server{
		grpc:   grpc.NewServer(opts...),
		health: health.NewServer(),
		ready:  ready,
	}
	s.grpc.RegisterService(&accessServiceDesc, NewAccessService(evaluator))
	healthpb.RegisterHealthServer(s.grpc, s.health)
	s.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	return s
}

// Serve blocks serving lis.
func (s *Server) Serve(lis net.Listener) error { return s.grpc.Serve(lis) }

// GracefulStop marks the server not serving and drains in-flight calls.
func (s *Server) GracefulStop() {
	s.health.Shutdown()
	s.grpc.GracefulStop()
}

// RefreshHealth sets the overall serving status from the readiness check.
func (s *Server) RefreshHealth(ctx context.Context) bool {
	if s.ready == nil {
		return true
	}
	if err := s.ready.Check(ctx); err != nil {
		s.health.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
		obs.Warn("grpc: readiness check failed", map[string]any{"error": err.Error()})
		return false
	}
	s.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	return true
}

// WatchHealth refreshes the health status every interval until ctx is done.
func (s *Server) WatchHealth(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.RefreshHealth(ctx)
		}
	}
}
