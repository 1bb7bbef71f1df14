package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/scenariograph/predictive-sim/pkg/model"
	"github.com/scenariograph/predictive-sim/pkg/scheduler"
	"github.com/scenariograph/predictive-sim/pkg/simerrors"
	"github.com/scenariograph/predictive-sim/pkg/universe"
)

// CancelRegistry tracks per-run cancel signals consulted at tick boundaries,
// §5 "Cancellation". A Temporal-backed deployment forwards these through
// workflow.GetSignalChannel/ctx.Err(); the in-process map below is what the
// Run Executor's tick loop actually reads.
type CancelRegistry struct {
	mu      sync.Mutex
	flagged map[model.ID]bool
}

// NewCancelRegistry constructs an empty registry.
func NewCancelRegistry() *CancelRegistry {
	return &CancelRegistry{flagged: map[model.ID]bool{}}
}

// Cancel marks runID for cancellation at its next tick boundary.
func (c *CancelRegistry) Cancel(runID model.ID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.flagged[runID] = true
}

// IsCanceled reports whether runID has been flagged for cancellation.
func (c *CancelRegistry) IsCanceled(runID model.ID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.flagged[runID]
}

// Clear removes runID's flag once the run reaches a terminal status.
func (c *CancelRegistry) Clear(runID model.ID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.flagged, runID)
}

// RemoteCanceler forwards a cancellation to a RunWorkflow that may be
// executing its Activities on a different worker process than the one
// CancelRun was called on; TemporalCanceler (workflow.go) implements this by
// sending the "cancel" signal. Optional: nil in a single-process deployment,
// where the in-process CancelRegistry is all that's needed since the
// Executor's Activities share it directly.
type RemoteCanceler interface {
	Cancel(ctx context.Context, runID model.ID) error
}

// Orchestrator implements CreateRun/QueueRun/CancelRun/GetProgress/GetResult,
// §4.7. It never runs the tick loop itself — that is the Executor's job,
// invoked by a worker popped off the scheduler priority queue (or, in a
// Temporal deployment, the `RunWorkflow` built in workflow.go).
type Orchestrator struct {
	store    RunStore
	universe *universe.Service
	queue    *scheduler.PriorityQueue
	cancels  *CancelRegistry
	remote   RemoteCanceler
}

// New constructs an Orchestrator with only the in-process cancel path.
func New(store RunStore, universeSvc *universe.Service, queue *scheduler.PriorityQueue, cancels *CancelRegistry) *Orchestrator {
	return &Orchestrator{store: store, universe: universeSvc, queue: queue, cancels: cancels}
}

// WithRemoteCanceler attaches a RemoteCanceler (typically a TemporalCanceler)
// so CancelRun also reaches an Executor running in another process.
func (o *Orchestrator) WithRemoteCanceler(remote RemoteCanceler) *Orchestrator {
	o.remote = remote
	return o
}

// CreateRun persists cfg and a fresh CREATED Run bound to node, §4.7.
func (o *Orchestrator) CreateRun(ctx context.Context, projectID, nodeID model.ID, cfg model.RunConfig) (*model.Run, error) {
	cfg.ID = model.NewID()
	if err := o.store.SaveRunConfig(ctx, &cfg); err != nil {
		return nil, simerrors.Wrap(simerrors.KindInternal, "", err)
	}

	run := &model.Run{
		ID:           model.NewID(),
		ProjectID:    projectID,
		NodeID:       nodeID,
		RunConfigRef: cfg.ID,
		Status:       model.RunCreated,
		CreatedAt:    timeNow(),
		Outputs:      model.RunOutputs{ExecutionCounters: model.NewExecutionCounters()},
	}
	if err := o.store.SaveRun(ctx, run); err != nil {
		return nil, simerrors.Wrap(simerrors.KindInternal, "", err)
	}
	return run, nil
}

// QueueRun transitions run from CREATED to QUEUED and stages it on the
// scheduler priority queue, §4.7. priority follows the sorted-set convention
// in pkg/scheduler: lower values pop first.
func (o *Orchestrator) QueueRun(ctx context.Context, runID model.ID, priority float64) error {
	run, err := o.store.GetRun(ctx, runID)
	if err != nil {
		return simerrors.Wrap(simerrors.KindInternal, runID.String(), err)
	}
	if run == nil {
		return ErrRunNotFound
	}
	if !model.CanTransition(run.Status, model.RunQueued) {
		return simerrors.New(simerrors.KindStateTransitionViolation, runID.String(),
			"run is not in a state that can be queued")
	}
	run.Status = model.RunQueued
	if err := o.store.SaveRun(ctx, run); err != nil {
		return simerrors.Wrap(simerrors.KindInternal, runID.String(), err)
	}
	return o.queue.Push(ctx, runID.String(), priority)
}

// CancelRun signals the executor to stop at the next tick boundary, §4.7/§5.
// A run still QUEUED is canceled immediately and removed from the queue; a
// RUNNING run is flagged and transitions to CANCELED once the executor
// observes the flag.
func (o *Orchestrator) CancelRun(ctx context.Context, runID model.ID) error {
	run, err := o.store.GetRun(ctx, runID)
	if err != nil {
		return simerrors.Wrap(simerrors.KindInternal, runID.String(), err)
	}
	if run == nil {
		return ErrRunNotFound
	}

	switch run.Status {
	case model.RunCreated, model.RunQueued:
		if !model.CanTransition(run.Status, model.RunCanceled) {
			return ErrInvalidTransition
		}
		_ = o.queue.Remove(ctx, runID.String())
		run.Status = model.RunCanceled
		now := timeNow()
		run.FinishedAt = &now
		return o.store.SaveRun(ctx, run)
	case model.RunRunning:
		o.cancels.Cancel(runID)
		if o.remote != nil {
			return o.remote.Cancel(ctx, runID)
		}
		return nil
	default:
		return ErrInvalidTransition
	}
}

// GetProgress returns the concrete progress payload, §0.3.
func (o *Orchestrator) GetProgress(ctx context.Context, runID model.ID) (*SimulationProgress, error) {
	run, err := o.store.GetRun(ctx, runID)
	if err != nil {
		return nil, simerrors.Wrap(simerrors.KindInternal, runID.String(), err)
	}
	if run == nil {
		return nil, ErrRunNotFound
	}
	cfg, err := o.store.GetRunConfig(ctx, run.RunConfigRef)
	if err != nil {
		return nil, simerrors.Wrap(simerrors.KindInternal, runID.String(), err)
	}

	var horizon int64
	if cfg != nil {
		horizon = cfg.Horizon
	}
	ticks := run.Outputs.ExecutionCounters.TicksExecuted
	phase := progressPhase(run.Status)
	var percent float64
	if horizon > 0 {
		percent = float64(ticks) / float64(horizon) * 100
		if percent > 100 {
			percent = 100
		}
	}

	return &SimulationProgress{
		RunID:           runID,
		TicksCompleted:  ticks,
		TicksTotal:      horizon,
		CurrentPhase:    phase,
		PercentComplete: percent,
		Status:          run.Status,
		UpdatedAt:       timeNow(),
	}, nil
}

// GetResult returns the concrete result payload, §0.3.
func (o *Orchestrator) GetResult(ctx context.Context, runID model.ID) (*SimulationResult, error) {
	run, err := o.store.GetRun(ctx, runID)
	if err != nil {
		return nil, simerrors.Wrap(simerrors.KindInternal, runID.String(), err)
	}
	if run == nil {
		return nil, ErrRunNotFound
	}
	return &SimulationResult{
		RunID:    runID,
		Status:   run.Status,
		Outcomes: run.Outputs.Outcomes,
		Timing: RunTiming{
			CreatedAt:  run.CreatedAt,
			StartedAt:  run.StartedAt,
			FinishedAt: run.FinishedAt,
		},
		Error: run.Error,
	}, nil
}

func progressPhase(status model.RunStatus) string {
	switch status {
	case model.RunCreated, model.RunQueued:
		return PhaseLoading
	case model.RunRunning:
		return PhaseTicking
	default:
		return PhaseDone
	}
}

// timeNow is a seam so tests can stub wall-clock time; production always
// uses time.Now.
var timeNow = func() time.Time { return time.Now().UTC() }
