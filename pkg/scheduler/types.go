// Package scheduler stages QUEUED runs on a Redis priority queue and hands
// them to workers that start the Run Executor, §4.7 "Simulation Orchestrator
// and Run Executor".
package scheduler

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors for queue operations.
var (
	// ErrNoRunsAvailable indicates the priority queue currently has nothing
	// to pop.
	ErrNoRunsAvailable = errors.New("scheduler: no runs available")

	// ErrAtCapacity indicates the global concurrent run limit has been
	// reached.
	ErrAtCapacity = errors.New("scheduler: at capacity")
)

// RunStarter is the interface for handing a claimed run off for execution.
//
// The starter owns what happens next: per §4.7 this starts the Temporal
// `RunWorkflow`, which itself drives the tick loop, Data Gateway calls, and
// Telemetry flush as Activities. The worker only handles: popping from the
// priority queue, capacity checking, and health bookkeeping — it never runs
// the tick loop itself.
type RunStarter interface {
	StartRun(ctx context.Context, runID string) error
}

// CapacityChecker reports how many runs are currently RUNNING, so the worker
// can refuse to start more than the configured concurrency limit.
type CapacityChecker interface {
	ActiveRunCount(ctx context.Context) (int, error)
}

// PoolHealth contains health information for the entire worker pool.
type PoolHealth struct {
	IsHealthy        bool           `json:"is_healthy"`
	QueueReachable   bool           `json:"queue_reachable"`
	QueueError       string         `json:"queue_error,omitempty"`
	ActiveWorkers    int            `json:"active_workers"`
	TotalWorkers     int            `json:"total_workers"`
	ActiveRuns       int            `json:"active_runs"`
	MaxConcurrent    int            `json:"max_concurrent"`
	QueueDepth       int64          `json:"queue_depth"`
	WorkerStats      []WorkerHealth `json:"worker_stats"`
	LastStalenessScan time.Time     `json:"last_staleness_scan"`
	NodesRefreshed   int            `json:"nodes_refreshed"`
}

// WorkerStatus represents the current state of a worker.
type WorkerStatus string

// Worker status constants.
const (
	WorkerStatusIdle    WorkerStatus = "idle"
	WorkerStatusWorking WorkerStatus = "working"
)

// WorkerHealth contains health information for a single worker.
type WorkerHealth struct {
	ID             string       `json:"id"`
	Status         WorkerStatus `json:"status"`
	CurrentRunID   string       `json:"current_run_id,omitempty"`
	RunsStarted    int          `json:"runs_started"`
	LastActivity   time.Time    `json:"last_activity"`
}
