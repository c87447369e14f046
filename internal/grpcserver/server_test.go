package grpcserver_test

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

	"jobmate/ingestion-service/internal/grpcserver"
)

func dial(t *testing.T, s *grpcserver.Server) healthpb.HealthClient {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	go s.Serve(lis)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return healthpb.NewHealthClient(conn)
}

func status(t *testing.T, c healthpb.HealthClient, service string) healthpb.HealthCheckResponse_ServingStatus {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	resp, err := c.Check(ctx, &healthpb.HealthCheckRequest{Service: service})
	require.NoError(t, err)
	return resp.GetStatus()
}

func TestHealth_Lifecycle(t *testing.T) {
	s := grpcserver.New()
	c := dial(t, s)

	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, status(t, c, ""))
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, status(t, c, grpcserver.ServiceName))

	s.SetServing()
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, status(t, c, ""))
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, status(t, c, grpcserver.ServiceName))

	s.SetNotServing()
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, status(t, c, grpcserver.ServiceName))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	s.Stop(ctx)
}

func TestHealth_UnknownService(t *testing.T) {
	s := grpcserver.New()
	c := dial(t, s)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		s.Stop(ctx)
	})

	_, err := c.Check(context.Background(), &healthpb.HealthCheckRequest{Service: "not-registered"})
	assert.Error(t, err)
}
