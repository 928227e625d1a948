package api

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/test/bufconn"

	"scanwatch/internal/live"
)

func TestServingStatus(t *testing.T) {
	tests := []struct {
		state live.State
		want  healthpb.HealthCheckResponse_ServingStatus
	}{
		{live.Open, healthpb.HealthCheckResponse_SERVING},
		{live.Connecting, healthpb.HealthCheckResponse_NOT_SERVING},
		{live.Reconnecting, healthpb.HealthCheckResponse_NOT_SERVING},
		{live.Closed, healthpb.HealthCheckResponse_UNKNOWN},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, servingStatus(tc.state), tc.state.String())
	}
}

func TestHealthOverGRPC(t *testing.T) {
	lis := bufconn.Listen(1 << 16)
	srv := NewServer("", nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, lis) }()

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	defer conn.Close()
	client := healthpb.NewHealthClient(conn)

	check := func() healthpb.HealthCheckResponse_ServingStatus {
		t.Helper()
		cctx, ccancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer ccancel()
		resp, err := client.Check(cctx, &healthpb.HealthCheckRequest{Service: LiveService})
		require.NoError(t, err)
		return resp.GetStatus()
	}

	assert.Equal(t, healthpb.HealthCheckResponse_UNKNOWN, check())
	srv.Health().SetState(live.Open)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, check())
	srv.Health().SetState(live.Reconnecting)
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, check())

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
