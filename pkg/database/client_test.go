package database

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/scenariograph/predictive-sim/pkg/config"
	"github.com/scenariograph/predictive-sim/pkg/evidence"
	"github.com/scenariograph/predictive-sim/pkg/gateway"
	"github.com/scenariograph/predictive-sim/pkg/model"
)

// newTestClient starts a disposable Postgres container and applies the
// embedded schema.
func newTestClient(t *testing.T) *Client {
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(pgContainer); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	host, err := pgContainer.Host(ctx)
	require.NoError(t, err)
	port, err := pgContainer.MappedPort(ctx, "5432")
	require.NoError(t, err)

	cfg := config.DatabaseConfig{
		Host: host, Port: port.Int(), User: "test", Password: "test", Database: "test",
		SSLMode: "disable", MaxOpenConns: 10, MaxIdleConns: 2, ConnMaxLifetime: time.Hour,
	}
	client, err := NewClient(ctx, cfg)
	require.NoError(t, err)
	t.Cleanup(client.Close)
	return client
}

func TestClientHealthReportsConnectivity(t *testing.T) {
	client := newTestClient(t)
	health, err := Health(context.Background(), client.Pool())
	require.NoError(t, err)
	require.Equal(t, "healthy", health.Status)
	require.Greater(t, health.MaxConns, int32(0))
}

func TestNodeStoreSaveGetRoundTrip(t *testing.T) {
	client := newTestClient(t)
	store := NewNodeStore(client)
	ctx := context.Background()

	project := model.NewID()
	_, err := client.Pool().Exec(ctx, `INSERT INTO projects (id, tenant_id, engine_version, ruleset_version, dataset_version) VALUES ($1,$2,'e1','r1','d1')`, project, model.NewID())
	require.NoError(t, err)

	node := &model.Node{
		ID: model.NewID(), ProjectID: project, Depth: 0,
		Probability: 1, CumulativeProbability: 1, IsBaseline: true, MinEnsembleSize: 1,
	}
	require.NoError(t, store.SaveNode(ctx, node))

	got, err := store.GetNode(ctx, node.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, node.ID, got.ID)
	require.True(t, got.IsBaseline)
}

func TestManifestStoreAppendAndListByRun(t *testing.T) {
	client := newTestClient(t)
	store := NewManifestStore(client)
	ctx := context.Background()

	runID := model.NewID()
	entry := gateway.ManifestEntry{
		ID: model.NewID(), TenantID: model.NewID(), RunID: &runID,
		SourceName: "census", Endpoint: "/e", PayloadHash: "abc", RecordCount: 3,
		CapturedAt: time.Now().UTC(),
	}
	require.NoError(t, store.Append(ctx, entry))

	entries, err := store.ListByRun(ctx, runID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, entry.PayloadHash, entries[0].PayloadHash)
}

func TestParameterStoreProposeAndFetch(t *testing.T) {
	client := newTestClient(t)
	store := NewParameterStore(client)
	projectID := model.NewID()
	_, err := client.Pool().Exec(context.Background(), `INSERT INTO projects (id, tenant_id, engine_version, ruleset_version, dataset_version) VALUES ($1,$2,'e1','r1','d1')`, projectID, model.NewID())
	require.NoError(t, err)

	v, err := evidence.ProposeVersion(store, projectID, map[string]float64{"alpha": 0.2})
	require.NoError(t, err)

	got, err := store.GetByID(v.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, v.VersionHash, got.VersionHash)
}
