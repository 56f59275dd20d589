package httpapi

import (
	"context"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"pagehall.org/internal/obs"
)

// HealthServer publishes store readiness through grpc.health.v1.Health,
// both for the empty service name and for serviceName.
type HealthServer struct {
	*health.Server

	readiness readinessChecker
	interval  time.Duration
	log       *zap.Logger
}

// NewHealthServer creates the health service. Status starts NOT_SERVING
// until the first probe succeeds.
func NewHealthServer(r readinessChecker, interval time.Duration) *HealthServer {
	if r == nil {
		r = ReadyProbe{}
	}
	if interval <= 0 {
		interval = 5 * time.Second
	}
	hs := &HealthServer{
		Server:    health.NewServer(),
		readiness: r,
		interval:  interval,
		log:       obs.Logger(),
	}
	hs.set(healthpb.HealthCheckResponse_NOT_SERVING)
	return hs
}

// Register attaches the health service to srv.
func (hs *HealthServer) Register(srv *grpc.Server) {
	healthpb.RegisterHealthServer(srv, hs.Server)
}

// Probe runs one readiness check and records the result.
func (hs *HealthServer) Probe(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := hs.readiness.Check(ctx); err != nil {
		hs.log.Warn("readiness probe failed", zap.Error(err))
		hs.set(healthpb.HealthCheckResponse_NOT_SERVING)
		return false
	}
	hs.set(healthpb.HealthCheckResponse_SERVING)
	return true
}

// Run probes until ctx is done, then marks the service as shutting down.
func (hs *HealthServer) Run(ctx context.Context) {
	hs.Probe(ctx)
	t := time.NewTicker(hs.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			hs.Shutdown()
			return
		case <-t.C:
			hs.Probe(ctx)
		}
	}
}

func (hs *HealthServer) set(st healthpb.HealthCheckResponse_ServingStatus) {
	hs.SetServingStatus("", st)
	hs.SetServingStatus(serviceName, st)
}
