package database

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/scenariograph/predictive-sim/pkg/model"
)

// seedProjectAndNode inserts a project and a baseline node so a Run's
// project_id/node_id foreign keys are satisfiable.
func seedProjectAndNode(t *testing.T, client *Client) (projectID, nodeID model.ID) {
	t.Helper()
	ctx := context.Background()
	projectID = model.NewID()
	_, err := client.Pool().Exec(ctx, `INSERT INTO projects (id, tenant_id, engine_version, ruleset_version, dataset_version) VALUES ($1,$2,'e1','r1','d1')`, projectID, model.NewID())
	require.NoError(t, err)

	nodeStore := NewNodeStore(client)
	node := &model.Node{
		ID: model.NewID(), ProjectID: projectID, Depth: 0,
		Probability: 1, CumulativeProbability: 1, IsBaseline: true, MinEnsembleSize: 1,
	}
	require.NoError(t, nodeStore.SaveNode(ctx, node))
	return projectID, node.ID
}

func TestRunStoreSaveRunConfigAndGetRoundTrip(t *testing.T) {
	client := newTestClient(t)
	store := NewRunStore(client)
	ctx := context.Background()

	cfg := &model.RunConfig{
		ID:               model.NewID(),
		SeedConfig:       model.SeedConfig{Strategy: model.SeedStrategyFixed, PrimarySeed: 42},
		Horizon:          50,
		TickRate:         1,
		KeyframeInterval: 10,
		MaxAgents:        100,
		Versions:         model.Versions{Engine: "e1", Ruleset: "r1", Dataset: "d1"},
		LeakageGuard:     model.LeakageGuardConfig{IsolationLevel: 2, TemporalMode: model.TemporalLive},
	}
	require.NoError(t, store.SaveRunConfig(ctx, cfg))

	got, err := store.GetRunConfig(ctx, cfg.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, cfg.Horizon, got.Horizon)
	require.Equal(t, cfg.SeedConfig.PrimarySeed, got.SeedConfig.PrimarySeed)
	require.Equal(t, cfg.LeakageGuard.IsolationLevel, got.LeakageGuard.IsolationLevel)
}

func TestRunStoreSaveRunConfigIsImmutableOnConflict(t *testing.T) {
	client := newTestClient(t)
	store := NewRunStore(client)
	ctx := context.Background()

	id := model.NewID()
	cfg := &model.RunConfig{ID: id, Horizon: 10, MaxAgents: 1}
	require.NoError(t, store.SaveRunConfig(ctx, cfg))

	cfg.Horizon = 999
	require.NoError(t, store.SaveRunConfig(ctx, cfg))

	got, err := store.GetRunConfig(ctx, id)
	require.NoError(t, err)
	require.Equal(t, int64(10), got.Horizon, "RunConfig rows are content-addressed and immutable")
}

func TestRunStoreSaveRunUpsertsAndGetRoundTrip(t *testing.T) {
	client := newTestClient(t)
	store := NewRunStore(client)
	ctx := context.Background()

	project, node := seedProjectAndNode(t, client)

	cfg := &model.RunConfig{ID: model.NewID(), Horizon: 10, MaxAgents: 1}
	require.NoError(t, store.SaveRunConfig(ctx, cfg))

	run := &model.Run{
		ID: model.NewID(), ProjectID: project, NodeID: node,
		RunConfigRef: cfg.ID, Status: model.RunQueued, CreatedAt: time.Now().UTC(),
		Outputs: model.RunOutputs{ExecutionCounters: model.NewExecutionCounters()},
	}
	require.NoError(t, store.SaveRun(ctx, run))

	run.Status = model.RunRunning
	run.Outputs.Outcomes = map[string]float64{"primary_outcome_probability": 0.5}
	require.NoError(t, store.SaveRun(ctx, run))

	got, err := store.GetRun(ctx, run.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, model.RunRunning, got.Status)
	require.Equal(t, 0.5, got.Outputs.Outcomes["primary_outcome_probability"])
}

func TestRunStoreActiveRunCountOnlyCountsRunning(t *testing.T) {
	client := newTestClient(t)
	store := NewRunStore(client)
	ctx := context.Background()

	project, node := seedProjectAndNode(t, client)

	cfg := &model.RunConfig{ID: model.NewID(), Horizon: 10, MaxAgents: 1}
	require.NoError(t, store.SaveRunConfig(ctx, cfg))

	statuses := []model.RunStatus{model.RunRunning, model.RunRunning, model.RunQueued, model.RunSucceeded}
	for _, status := range statuses {
		run := &model.Run{
			ID: model.NewID(), ProjectID: project, NodeID: node,
			RunConfigRef: cfg.ID, Status: status, CreatedAt: time.Now().UTC(),
			Outputs: model.RunOutputs{ExecutionCounters: model.NewExecutionCounters()},
		}
		require.NoError(t, store.SaveRun(ctx, run))
	}

	count, err := store.ActiveRunCount(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, count)
}
