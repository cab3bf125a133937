package grpcapi

import (
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/test/bufconn"
)

func startHealth(t *testing.T) (*HealthServer, healthpb.HealthClient) {
	t.Helper()

	lis := bufconn.Listen(1 << 16)
	s := NewHealthServer(nil)
	done := make(chan error, 1)
	go func() { done <- s.Serve(lis) }()

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = conn.Close()
		s.Stop()
		select {
		case err := <-done:
			require.NoError(t, err)
		case <-time.After(2 * time.Second):
			t.Error("Serve did not return after Stop")
		}
	})
	return s, healthpb.NewHealthClient(conn)
}

func check(t *testing.T, c healthpb.HealthClient, service string) healthpb.HealthCheckResponse_ServingStatus {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	resp, err := c.Check(ctx, &healthpb.HealthCheckRequest{Service: service})
	require.NoError(t, err)
	return resp.GetStatus()
}

func TestHealth_OverallServing(t *testing.T) {
	_, c := startHealth(t)
	require.Equal(t, healthpb.HealthCheckResponse_SERVING, check(t, c, ""))
}

func TestHealth_SerialFollowsTransport(t *testing.T) {
	s, c := startHealth(t)

	require.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, check(t, c, SerialService))

	s.TransportConnected(io.Discard)
	require.Equal(t, healthpb.HealthCheckResponse_SERVING, check(t, c, SerialService))

	s.TransportDisconnected()
	require.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, check(t, c, SerialService))
}
