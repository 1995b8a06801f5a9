//go:build integration

package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func setupRedis(t *testing.T) *redis.Client {
	t.Helper()
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		t.Skipf("Docker not available or container failed to start, skipping integration test: %v", err)
	}
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	endpoint, err := container.PortEndpoint(ctx, "6379/tcp", "")
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{Addr: endpoint})
	t.Cleanup(func() { _ = client.Close() })
	require.NoError(t, client.Ping(ctx).Err())
	return client
}

func TestRedisStore_Threshold(t *testing.T) {
	ctx := context.Background()
	store := NewRedisStore(setupRedis(t), "facesync:test:")
	now := time.Now().UTC().Truncate(time.Millisecond)

	rec, err := store.GetAttemptRecord(ctx, "10.0.0.1")
	require.NoError(t, err)
	assert.Nil(t, rec)

	for i := 1; i <= 4; i++ {
		rec, err = store.IncrementFailures(ctx, "10.0.0.1", now, 5, 5*time.Minute)
		require.NoError(t, err)
		assert.Equal(t, i, rec.AttemptsCount)
		assert.Nil(t, rec.BlockedUntil)
	}

	rec, err = store.IncrementFailures(ctx, "10.0.0.1", now, 5, 5*time.Minute)
	require.NoError(t, err)
	require.NotNil(t, rec.BlockedUntil)
	assert.Equal(t, now.Add(5*time.Minute), *rec.BlockedUntil)

	rec, err = store.IncrementFailures(ctx, "10.0.0.1", now.Add(time.Minute), 5, 5*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, now.Add(5*time.Minute), *rec.BlockedUntil)

	rec, err = store.IncrementFailures(ctx, "10.0.0.1", now.Add(6*time.Minute), 5, 5*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 1, rec.AttemptsCount)
	assert.Nil(t, rec.BlockedUntil)

	require.NoError(t, store.ResetAttempts(ctx, "10.0.0.1"))
	rec, err = store.GetAttemptRecord(ctx, "10.0.0.1")
	require.NoError(t, err)
	assert.Equal(t, 0, rec.AttemptsCount)
	assert.Nil(t, rec.BlockedUntil)

	require.NoError(t, store.ResetAttempts(ctx, "never-seen"))
}
