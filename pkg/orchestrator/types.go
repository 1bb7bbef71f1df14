// Package orchestrator implements the Simulation Orchestrator and Run
// Executor, §4.7: creates RunConfigs and Runs, drives a Run through its
// CREATED → QUEUED → RUNNING → terminal lifecycle, and exposes
// CreateRun/QueueRun/CancelRun/GetProgress/GetResult as plain Go methods —
// the HTTP/WebSocket boundary is out of scope (§1) and would call into this
// package, consumed by an API layer outside this module's scope.
package orchestrator

import (
	"context"
	"errors"
	"time"

	"github.com/scenariograph/predictive-sim/pkg/model"
)

// Sentinel errors for orchestrator operations.
var (
	ErrRunNotFound       = errors.New("orchestrator: run not found")
	ErrInvalidTransition = errors.New("orchestrator: invalid run state transition")
)

// RunStore persists Run and RunConfig rows.
type RunStore interface {
	SaveRun(ctx context.Context, r *model.Run) error
	GetRun(ctx context.Context, id model.ID) (*model.Run, error)
	SaveRunConfig(ctx context.Context, cfg *model.RunConfig) error
	GetRunConfig(ctx context.Context, id model.ID) (*model.RunConfig, error)
	ActiveRunCount(ctx context.Context) (int, error)
}

// SimulationProgress is the concrete payload `get_progress` returns,
// §0.3 supplement from `services/simulation_orchestrator.py`.
type SimulationProgress struct {
	RunID          model.ID  `json:"run_id"`
	TicksCompleted int64     `json:"ticks_completed"`
	TicksTotal     int64     `json:"ticks_total"`
	CurrentPhase   string    `json:"current_phase"`
	PercentComplete float64  `json:"percent_complete"`
	Status         model.RunStatus `json:"status"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// SimulationResult is the concrete payload `get_result` returns, §0.3.
type SimulationResult struct {
	RunID   model.ID           `json:"run_id"`
	Status  model.RunStatus    `json:"status"`
	Outcomes map[string]float64 `json:"outcomes"`
	Timing  RunTiming          `json:"timing"`
	Error   *model.RunErrorInfo `json:"error,omitempty"`
}

// RunTiming reports wall-clock timestamps for a Run's lifecycle.
type RunTiming struct {
	CreatedAt  time.Time  `json:"created_at"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// progressPhases names the Executor steps in §4.7 order, surfaced as
// SimulationProgress.CurrentPhase.
const (
	PhaseLoading    = "loading"
	PhaseTicking    = "ticking"
	PhaseFinalizing = "finalizing"
	PhaseDone       = "done"
)
