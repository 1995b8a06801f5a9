//go:build integration

package queue

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/your-org/facesync/internal/audit"
	"github.com/your-org/facesync/internal/models"
)

func setupNATS(t *testing.T) string {
	t.Helper()
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "nats:2.10-alpine",
			ExposedPorts: []string{"4222/tcp"},
			Cmd:          []string{"-js"},
			WaitingFor:   wait.ForLog("Server is ready").WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		t.Skipf("Docker not available or container failed to start, skipping integration test: %v", err)
	}
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	endpoint, err := container.PortEndpoint(ctx, "4222/tcp", "")
	require.NoError(t, err)
	return fmt.Sprintf("nats://%s", endpoint)
}

func TestQueue_AttemptsAndAudits(t *testing.T) {
	url := setupNATS(t)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	producer, err := NewProducer(url)
	require.NoError(t, err)
	defer producer.Close()
	require.NoError(t, producer.EnsureStreams(ctx))
	require.NoError(t, producer.Ping())

	consumer, err := NewConsumer(url)
	require.NoError(t, err)
	defer consumer.Close()

	attempts := make(chan *models.AttemptLog, 1)
	require.NoError(t, consumer.ConsumeAttempts(ctx, "test-attempts", func(_ context.Context, e *models.AttemptLog) error {
		attempts <- e
		return nil
	}))

	requests := make(chan AuditRequest, 1)
	require.NoError(t, consumer.ConsumeAuditRequests(ctx, "test-audits", func(_ context.Context, r AuditRequest) error {
		requests <- r
		return nil
	}, 1))

	entry := &models.AttemptLog{ID: uuid.New(), Action: models.AttemptActionVerification, OriginIP: "10.1.1.1"}
	require.NoError(t, producer.PublishAttempt(ctx, entry))

	select {
	case got := <-attempts:
		assert.Equal(t, entry.ID, got.ID)
	case <-ctx.Done():
		t.Fatal("attempt event not delivered")
	}

	id, err := producer.RequestAudit(ctx, "test")
	require.NoError(t, err)
	select {
	case got := <-requests:
		assert.Equal(t, id, got.RequestID)
	case <-ctx.Done():
		t.Fatal("audit request not delivered")
	}

	latest, err := producer.LatestAuditReport(ctx)
	require.NoError(t, err)
	assert.Nil(t, latest)

	require.NoError(t, producer.PublishAuditReport(ctx, &id, &audit.Report{Consistent: true}))
	latest, err = producer.LatestAuditReport(ctx)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, &id, latest.RequestID)
	assert.True(t, latest.Report.Consistent)
}
