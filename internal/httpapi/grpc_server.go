package httpapi

import (
	"context"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"tradepost.app/internal/obs"
)

type readinessChecker interface {
	Check(ctx context.Context) error
}

// HealthServer keeps the standard gRPC health service in step with the
// same readiness probe /readyz uses.
type HealthServer struct {
	*health.Server
	readiness readinessChecker
}

func NewHealthServer(r readinessChecker) *HealthServer {
	return &HealthServer{Server: health.NewServer(), readiness: r}
}

// Refresh runs the probe once and publishes the result for the overall
// server ("") and for serviceName.
func (h *HealthServer) Refresh(ctx context.Context) error {
	status := healthpb.HealthCheckResponse_SERVING
	err := h.readiness.Check(ctx)
	if err != nil {
		status = healthpb.HealthCheckResponse_NOT_SERVING
	}
	obs.SetReady(err == nil)
	h.SetServingStatus("", status)
	h.SetServingStatus(serviceName, status)
	return err
}

// Run refreshes every interval until ctx is done, then reports NOT_SERVING
// to every watcher.
func (h *HealthServer) Run(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		probeCtx, cancel := context.WithTimeout(ctx, interval)
		if err := h.Refresh(probeCtx); err != nil && ctx.Err() == nil {
			obs.L().Warn("readiness probe failed", zap.Error(err))
		}
		cancel()
		select {
		case <-ctx.Done():
			h.Shutdown()
			return
		case <-t.C:
		}
	}
}

// NewGRPCServer builds the gRPC listener surface: health and reflection.
func NewGRPCServer(h *HealthServer, opts ...grpc.ServerOption) *grpc.Server {
	srv := grpc.NewServer(opts...)
	healthpb.RegisterHealthServer(srv, h)
	reflection.Register(srv)
	return srv
}
