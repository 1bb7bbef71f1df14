package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/scenariograph/predictive-sim/pkg/model"
)

// CancelSignalName is the Temporal signal channel a CancelRun call sends on,
// §4.7 domain-stack note ("cancel(run_id) is a Temporal cancellation signal
// consulted at tick boundaries").
const CancelSignalName = "cancel"

// RunWorkflowName is the registered Workflow Type for RunWorkflow.
const RunWorkflowName = "RunWorkflow"

// Activities wraps an Executor's LoadRun/RunTickLoop/Finalize steps as
// Temporal Activities. Each method is registered with worker.RegisterActivity
// and is its own retryable unit: Load and Finalize cover the I/O-bound store
// round-trips, while RunTickLoop is the deterministic tick loop running to
// completion inside a single Activity invocation, heartbeating once per tick
// (§4.7 domain-stack note).
type Activities struct {
	Executor *Executor
}

// LoadRunActivity loads the Run and RunConfig and transitions the Run to
// RUNNING.
func (a *Activities) LoadRunActivity(ctx context.Context, runID model.ID) (*loadRunResult, error) {
	run, cfg, err := a.Executor.LoadRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	return &loadRunResult{Run: run, Config: cfg}, nil
}

// RunTickLoopActivity runs every configured tick to completion.
func (a *Activities) RunTickLoopActivity(ctx context.Context, run *model.Run, cfg *model.RunConfig) (*TickLoopResult, error) {
	return a.Executor.RunTickLoop(ctx, run, cfg)
}

// FinalizeRunActivity computes Evidence Pack hashes, marks the Run SUCCEEDED,
// and triggers Universe Map aggregation.
func (a *Activities) FinalizeRunActivity(ctx context.Context, run *model.Run, cfg *model.RunConfig, tick *TickLoopResult) error {
	return a.Executor.Finalize(ctx, run, cfg, tick)
}

// FailRunActivity marks the Run FAILED with cause's message, used by
// RunWorkflow when an Activity returns a non-retryable error.
func (a *Activities) FailRunActivity(ctx context.Context, run *model.Run, cause string) error {
	return a.Executor.store.SaveRun(ctx, failedRun(run, cause))
}

func failedRun(run *model.Run, cause string) *model.Run {
	finished := time.Now().UTC()
	run.Status = model.RunFailed
	run.FinishedAt = &finished
	run.Error = &model.RunErrorInfo{Kind: "internal", Message: cause}
	return run
}

// loadRunResult is LoadRunActivity's return payload (both Run and RunConfig,
// so the workflow never has to issue a second Activity call to fetch cfg).
type loadRunResult struct {
	Run    *model.Run
	Config *model.RunConfig
}

// loadFinalizeActivityOptions gives the I/O-bound steps a 30s timeout and up
// to five retries with backoff; tickLoopActivityOptions gives
// RunTickLoopActivity a long start-to-close timeout, a 30s heartbeat timeout
// so a stuck worker is noticed, and a single attempt.
var loadFinalizeActivityOptions = workflow.ActivityOptions{
	StartToCloseTimeout: 30 * time.Second,
	RetryPolicy: &temporal.RetryPolicy{
		InitialInterval:    time.Second,
		BackoffCoefficient: 2.0,
		MaximumAttempts:    5,
	},
}

var tickLoopActivityOptions = workflow.ActivityOptions{
	StartToCloseTimeout: 24 * time.Hour,
	HeartbeatTimeout:    30 * time.Second,
	RetryPolicy: &temporal.RetryPolicy{
		MaximumAttempts: 1,
	},
}

// RunWorkflow is the Temporal Workflow backing the Simulation Orchestrator,
// §4.7 domain-stack note. It is started when a scheduler worker pops runID
// off the priority queue; CancelRun delivers the "cancel" signal this
// workflow consults before starting the tick-loop Activity and forwards as
// a cancellation request once the Activity is in flight.
func RunWorkflow(ctx workflow.Context, runID model.ID) error {
	cancelCtx, cancelActivities := workflow.WithCancel(ctx)

	cancelRequested := false
	signalCh := workflow.GetSignalChannel(ctx, CancelSignalName)
	workflow.Go(ctx, func(gctx workflow.Context) {
		signalCh.Receive(gctx, nil)
		cancelRequested = true
		cancelActivities()
	})

	var a *Activities

	loadCtx := workflow.WithActivityOptions(cancelCtx, loadFinalizeActivityOptions)
	var loaded loadRunResult
	if err := workflow.ExecuteActivity(loadCtx, a.LoadRunActivity, runID).Get(loadCtx, &loaded); err != nil {
		return err
	}
	if cancelRequested {
		return nil
	}

	tickCtx := workflow.WithActivityOptions(cancelCtx, tickLoopActivityOptions)
	var tick TickLoopResult
	err := workflow.ExecuteActivity(tickCtx, a.RunTickLoopActivity, loaded.Run, loaded.Config).Get(tickCtx, &tick)
	if err != nil {
		failCtx := workflow.WithActivityOptions(ctx, loadFinalizeActivityOptions)
		return workflow.ExecuteActivity(failCtx, a.FailRunActivity, loaded.Run, err.Error()).Get(failCtx, nil)
	}
	if tick.Canceled {
		return nil
	}

	finalizeCtx := workflow.WithActivityOptions(ctx, loadFinalizeActivityOptions)
	return workflow.ExecuteActivity(finalizeCtx, a.FinalizeRunActivity, loaded.Run, loaded.Config, &tick).Get(finalizeCtx, nil)
}

// TemporalRunStarter implements scheduler.RunStarter by starting a
// RunWorkflow execution: this is what a scheduler.Worker calls once it pops
// runID off the priority queue.
type TemporalRunStarter struct {
	Client    client.Client
	TaskQueue string
}

// StartRun starts RunWorkflow for runID on the configured task queue, using
// runID as the Workflow ID so a duplicate pop is rejected by Temporal as
// already-started rather than double-starting the run.
func (s *TemporalRunStarter) StartRun(ctx context.Context, runID string) error {
	id, err := uuid.Parse(runID)
	if err != nil {
		return fmt.Errorf("starting run %s: %w", runID, err)
	}
	_, err = s.Client.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
		ID:        "run-" + runID,
		TaskQueue: s.TaskQueue,
	}, RunWorkflow, id)
	return err
}

// TemporalCanceler delivers CancelRun's signal to a running RunWorkflow.
type TemporalCanceler struct {
	Client client.Client
}

// Cancel signals the RunWorkflow for runID to stop at its next Activity
// boundary, §4.7/§5.
func (c *TemporalCanceler) Cancel(ctx context.Context, runID model.ID) error {
	return c.Client.SignalWorkflow(ctx, "run-"+runID.String(), "", CancelSignalName, nil)
}
