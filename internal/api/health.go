package api

import (
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"scanwatch/internal/live"
)

// LiveService is the health service name reporting the live channel.
const LiveService = "scanwatch.live"

// HealthService reports live channel state over the standard gRPC health
// protocol. The overall ("") service is SERVING while the process runs.
type HealthService struct {
	srv *health.Server
}

// NewHealthService creates a health service with the live channel UNKNOWN.
func NewHealthService() *HealthService {
	srv := health.NewServer()
	srv.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	srv.SetServingStatus(LiveService, healthpb.HealthCheckResponse_UNKNOWN)
	return &HealthService{srv: srv}
}

// RegisterGRPC registers the health service on gs.
func (h *HealthService) RegisterGRPC(gs *grpc.Server) {
	healthpb.RegisterHealthServer(gs, h.srv)
}

// SetState maps a live channel state onto the live service status.
func (h *HealthService) SetState(s live.State) {
	h.srv.SetServingStatus(LiveService, servingStatus(s))
}

// Shutdown marks every service NOT_SERVING and ends watch streams' updates.
func (h *HealthService) Shutdown() {
	h.srv.Shutdown()
}

func servingStatus(s live.State) healthpb.HealthCheckResponse_ServingStatus {
	switch s {
	case live.Open:
		return healthpb.HealthCheckResponse_SERVING
	case live.Connecting, live.Reconnecting:
		return healthpb.HealthCheckResponse_NOT_SERVING
	default:
		return healthpb.HealthCheckResponse_UNKNOWN
	}
}
