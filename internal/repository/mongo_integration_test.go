//go:build integration

package repository

import (
	"context"
	"fmt"
	"testing"
	"time"

	mongoInfra "github.com/RishiKendai/plagcode/internal/infra/mongo"
	"github.com/RishiKendai/plagcode/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func startMongo(t *testing.T) (uri string, stop func()) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)

	req := tc.ContainerRequest{
		Image:        "mongo:7",
		ExposedPorts: []string{"27017/tcp"},
		WaitingFor:   wait.ForListeningPort("27017/tcp").WithStartupTimeout(2 * time.Minute),
	}
	c, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		cancel()
		t.Fatalf("failed to start mongo container: %v", err)
	}

	host, err := c.Host(ctx)
	if err != nil {
		_ = c.Terminate(context.Background())
		cancel()
		t.Fatalf("failed to get container host: %v", err)
	}
	mapped, err := c.MappedPort(ctx, "27017/tcp")
	if err != nil {
		_ = c.Terminate(context.Background())
		cancel()
		t.Fatalf("failed to get mapped port: %v", err)
	}

	uri = fmt.Sprintf("mongodb://%s:%s", host, mapped.Port())
	stop = func() {
		_ = c.Terminate(context.Background())
		cancel()
	}
	return uri, stop
}

func TestMongoStore_Integration(t *testing.T) {
	uri, stop := startMongo(t)
	defer stop()

	ctx, cancel := context.WithTimeout(context.Background(), 90*time.Second)
	defer cancel()

	client, err := mongoInfra.NewClient(ctx, uri, "plagcode_test")
	require.NoError(t, err)
	defer client.Close(context.Background())

	mongoRepo := NewMongoRepository(client)
	require.NoError(t, mongoRepo.EnsureIndexes(ctx))
	store := NewMongoStore(mongoRepo)

	scan := &models.Scan{ID: "s1", Status: models.StatusQueued, CreatedAt: time.Now().UTC()}
	require.NoError(t, store.Scans.Create(ctx, scan))

	ok, err := store.Scans.MarkRunning(ctx, "s1", time.Now().UTC())
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, store.Scans.UpdateProgress(ctx, "s1", 60))
	require.NoError(t, store.Scans.UpdateProgress(ctx, "s1", 30))
	require.NoError(t, store.Scans.AppendLog(ctx, "s1", models.NewLogEntry("started")))

	got, err := store.Scans.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, 60, got.Progress)
	assert.Len(t, got.Logs, 1)

	rows := []models.PairResult{
		{FileA: "a.go", FileB: "b.go", Similarity: 12.5, Label: models.LabelLow, OverlapSpans: []models.Span{}},
		{FileA: "a.go", FileB: "c.go", Similarity: 99, Label: models.LabelHigh, OverlapSpans: []models.Span{{StartA: 1, EndA: 3, StartB: 2, EndB: 4}}},
	}
	require.NoError(t, store.Results.ReplaceAll(ctx, "s1", rows))
	require.NoError(t, store.Results.ReplaceAll(ctx, "s1", rows))
	count, err := store.Results.Count(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	listed, err := store.Results.ListByScan(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, listed, 2)
	assert.Equal(t, "c.go", listed[0].FileB)

	ok, err = store.Scans.Complete(ctx, "s1", models.Completion{FileCount: 3, PairCount: 2, FinishedAt: time.Now().UTC()})
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = store.Scans.Cancel(ctx, "s1", time.Now().UTC())
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = store.Scans.Get(ctx, "nope")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, store.Alerts.Insert(ctx, &models.Alert{ID: "a1", ScanID: "s1", Service: models.ServiceOrchestrator, ErrorCode: models.AlertScanTimeout, Message: "Budget (exceeded)", CreatedAt: time.Now().UTC()}))
	alerts, err := store.Alerts.List(ctx, 10, "budget (")
	require.NoError(t, err)
	assert.Len(t, alerts, 1)
}
