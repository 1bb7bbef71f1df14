package orchestrator

import (
	"context"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/require"

	"github.com/scenariograph/predictive-sim/pkg/model"
)

// TestExecutorIsDeterministicForIdenticalSeedAndHorizon verifies Property 1
// (determinism, spec.md §8): executing two Runs built from RunConfigs that
// share a seed and horizon yields identical outcome maps and tick counts.
func TestExecutorIsDeterministicForIdenticalSeedAndHorizon(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 20
	properties := gopter.NewProperties(parameters)

	properties.Property("two runs from an identical seeded config produce identical outcomes", prop.ForAll(
		func(seed int64, horizon int64, agents int64) bool {
			if horizon <= 0 || horizon > 30 || agents <= 0 || agents > 20 {
				return true
			}
			runA := executeWithSeed(t, seed, horizon, agents)
			runB := executeWithSeed(t, seed, horizon, agents)

			if runA.Status != model.RunSucceeded || runB.Status != model.RunSucceeded {
				return false
			}
			if runA.Outputs.ExecutionCounters.TicksExecuted != runB.Outputs.ExecutionCounters.TicksExecuted {
				return false
			}
			for k, v := range runA.Outputs.Outcomes {
				if runB.Outputs.Outcomes[k] != v {
					return false
				}
			}
			return true
		},
		gen.Int64Range(1, 1000),
		gen.Int64Range(1, 30),
		gen.Int64Range(1, 20),
	))

	properties.TestingRun(t)
}

func executeWithSeed(t *testing.T, seed, horizon, agents int64) *model.Run {
	t.Helper()
	exec, store := newTestExecutor()
	ctx := context.Background()

	cfg := &model.RunConfig{
		ID: model.NewID(), Horizon: horizon, MaxAgents: agents, TickRate: 1,
		SeedConfig: model.SeedConfig{PrimarySeed: seed},
	}
	require.NoError(t, store.SaveRunConfig(ctx, cfg))
	run := &model.Run{
		ID: model.NewID(), ProjectID: model.NewID(), NodeID: model.NewID(),
		RunConfigRef: cfg.ID, Status: model.RunQueued, CreatedAt: timeNow(),
		ActualSeed: seed,
		Outputs:    model.RunOutputs{ExecutionCounters: model.NewExecutionCounters()},
	}
	require.NoError(t, store.SaveRun(ctx, run))

	require.NoError(t, exec.Execute(ctx, run.ID))
	got, err := store.GetRun(ctx, run.ID)
	require.NoError(t, err)
	return got
}
