//go:build integration

package cache_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/docker/go-connections/nat"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"

	"rinha-payment-gateway/internal/cache"
	"rinha-payment-gateway/internal/domain"
)

func TestRedisCacheIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("integration test disabled in short mode")
	}

	ctx := context.Background()
	url := startRedisContainer(t, ctx)

	api1, err := cache.NewRedisCache(ctx, url, "api1", zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = api1.Close() })
	api2, err := cache.NewRedisCache(ctx, url, "api2", zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = api2.Close() })

	_, ok, err := api1.GetProcessorStatus(ctx, domain.ProcessorDefault)
	require.NoError(t, err)
	require.False(t, ok)

	health := domain.ProcessorHealth{
		Name:      domain.ProcessorDefault,
		Status:    domain.HealthStatus{Failing: true, MinResponseTime: 250},
		CheckedAt: time.Now().UTC().Truncate(time.Millisecond),
	}
	require.NoError(t, api1.SetProcessorStatus(ctx, health))

	got, ok, err := api2.GetProcessorStatus(ctx, domain.ProcessorDefault)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, health.Status, got.Status)

	locked, err := api1.TryHealthLock(ctx, time.Minute)
	require.NoError(t, err)
	require.True(t, locked)
	locked, err = api2.TryHealthLock(ctx, time.Minute)
	require.NoError(t, err)
	require.False(t, locked)

	subCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	received := make(chan struct{}, 1)
	go func() {
		_ = api2.SubscribeInvalidations(subCtx, func() { received <- struct{}{} })
	}()

	require.Eventually(t, func() bool {
		_ = api1.PublishInvalidation(ctx)
		select {
		case <-received:
			return true
		default:
			return false
		}
	}, 5*time.Second, 100*time.Millisecond)
}

func startRedisContainer(t *testing.T, ctx context.Context) string {
	t.Helper()
	port := nat.Port("6379/tcp")
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{string(port)},
			WaitingFor:   wait.ForListeningPort(port).WithStartupTimeout(time.Minute),
		},
		Started: true,
	})
	if err != nil {
		t.Skipf("start redis container: %v", err)
	}
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	mapped, err := container.MappedPort(ctx, port)
	require.NoError(t, err)
	return fmt.Sprintf("redis://%s:%s/0", host, mapped.Port())
}
