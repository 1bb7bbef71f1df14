package model

import (
	"encoding/json"
	"time"
)

// SeedStrategy selects how actual_seed is derived from the configured seed.
type SeedStrategy string

// Seed strategies.
const (
	SeedStrategyFixed    SeedStrategy = "fixed"
	SeedStrategyEnsemble SeedStrategy = "ensemble"
)

// SeedConfig is the seed_config{strategy,primary_seed,count} field of
// RunConfig, §3.
type SeedConfig struct {
	Strategy    SeedStrategy `json:"strategy"`
	PrimarySeed int64        `json:"primary_seed"`
	Count       int          `json:"count"`
}

// SchedulerProfile controls the batched/vectorized execution path, §4.1
// "Scheduler profile".
type SchedulerProfile struct {
	BatchSize               int `json:"batch_size"`
	PartitionCount          int `json:"partition_count"`
	MaxConcurrentPartitions int `json:"max_concurrent_partitions"`
}

// IsolationLevel is the Leakage Guard strictness tier, §4.5.
type IsolationLevel int

// Isolation levels.
const (
	IsolationWarn       IsolationLevel = 1
	IsolationFilter     IsolationLevel = 2
	IsolationStrictFail IsolationLevel = 3
)

// TemporalMode distinguishes a live run from a backtest replaying history
// under a cutoff, §4.5.
type TemporalMode string

// Temporal modes.
const (
	TemporalLive     TemporalMode = "live"
	TemporalBacktest TemporalMode = "backtest"
)

// LeakageGuardConfig is the run-level Data Gateway policy, §4.5.
type LeakageGuardConfig struct {
	IsolationLevel IsolationLevel `json:"isolation_level"`
	TemporalMode   TemporalMode   `json:"temporal_mode"`
	// FailRunOnBlock, when true, fails the Run on any SourceBlockedError
	// instead of falling back to an empty payload.
	FailRunOnBlock bool `json:"fail_run_on_block"`
}

// RunConfig is the fully resolved, content-hashable run specification. It is
// immutable once referenced by a Run (§3).
type RunConfig struct {
	ID                 ID                 `json:"id"`
	SeedConfig         SeedConfig         `json:"seed_config"`
	Horizon            int64              `json:"horizon"`
	TickRate           float64            `json:"tick_rate"`
	KeyframeInterval   int64              `json:"keyframe_interval"`
	SchedulerProfile   SchedulerProfile   `json:"scheduler_profile"`
	ScenarioPatch      json.RawMessage    `json:"scenario_patch,omitempty"`
	MaxAgents          int                `json:"max_agents"`
	Versions           Versions           `json:"versions"`
	CutoffTime         *time.Time         `json:"cutoff_time,omitempty"`
	LeakageGuard       LeakageGuardConfig `json:"leakage_guard"`
	MaxExecutionTimeMS int64              `json:"max_execution_time_ms"`
}

// RunStatus is one of the six states a Run's status advances through
// monotonically, §3/§4.7.
type RunStatus string

// Run statuses and their allowed transitions, §4.7:
//
//	CREATED → QUEUED → RUNNING → (SUCCEEDED | FAILED | CANCELED)
//	            │          │
//	            └── CANCELED on cancel while queued
//	                       └── FAILED on executor error; CANCELED on cancel signal
const (
	RunCreated   RunStatus = "CREATED"
	RunQueued    RunStatus = "QUEUED"
	RunRunning   RunStatus = "RUNNING"
	RunSucceeded RunStatus = "SUCCEEDED"
	RunFailed    RunStatus = "FAILED"
	RunCanceled  RunStatus = "CANCELED"
)

// allowedTransitions enumerates every legal (from, to) status move.
var allowedTransitions = map[RunStatus]map[RunStatus]bool{
	RunCreated: {RunQueued: true, RunCanceled: true},
	RunQueued:  {RunRunning: true, RunCanceled: true},
	RunRunning: {RunSucceeded: true, RunFailed: true, RunCanceled: true},
}

// CanTransition reports whether moving from to is a legal Run state
// transition (§4.7). Terminal statuses (SUCCEEDED/FAILED/CANCELED) allow no
// further transitions.
func CanTransition(from, to RunStatus) bool {
	next, ok := allowedTransitions[from]
	if !ok {
		return false
	}
	return next[to]
}

// ExecutionCounters are the required instrumentation fields in Run.outputs,
// §4.7.
type ExecutionCounters struct {
	TicksExecuted         int64            `json:"ticks_executed"`
	AgentStepsExecuted    int64            `json:"agent_steps_executed"`
	StageCounters         map[string]int64 `json:"stage_counters"` // observe/evaluate/decide/act/update
	RuleApplicationCounts map[string]int64 `json:"rule_application_counts"`
	LLMCallsInTickLoop    int64            `json:"llm_calls_in_tick_loop"`
	LLMCallsInCompilation int64            `json:"llm_calls_in_compilation"`
	PartitionsCount       int64            `json:"partitions_count"`
	BatchesCount          int64            `json:"batches_count"`
	BackpressureEvents    int64            `json:"backpressure_events"`
}

// NewExecutionCounters returns zeroed counters with the five tick-loop stages
// pre-seeded so callers can always index them without a nil-map check.
func NewExecutionCounters() ExecutionCounters {
	return ExecutionCounters{
		StageCounters: map[string]int64{
			"observe": 0, "evaluate": 0, "decide": 0, "act": 0, "update": 0,
		},
		RuleApplicationCounts: map[string]int64{},
	}
}

// LeakageGuardStats summarizes the Data Gateway's behavior during a Run,
// surfaced in Run.outputs and the Evidence Pack's anti_leakage_proof.
type LeakageGuardStats struct {
	BlockedAccessAttempts int64 `json:"blocked_access_attempts"`
	LeakageDetected       bool  `json:"leakage_detected"`
}

// RunOutputs bundles everything the executor produces on a Run, §3.
type RunOutputs struct {
	Outcomes          map[string]float64 `json:"outcomes"`
	TelemetryRef      *ID                `json:"telemetry_ref,omitempty"`
	Reliability       *ID                `json:"reliability,omitempty"` // ReliabilityProof id
	ExecutionCounters ExecutionCounters  `json:"execution_counters"`
	LeakageGuardStats LeakageGuardStats  `json:"leakage_guard_stats"`
	ResultHash        string             `json:"result_hash,omitempty"`
	TelemetryHash     string             `json:"telemetry_hash,omitempty"`
}

// Run is a single, never-rerun execution attempt, §3.
type Run struct {
	ID           ID            `json:"id"`
	ProjectID    ID            `json:"project_id"`
	NodeID       ID            `json:"node_id"`
	RunConfigRef ID            `json:"run_config_ref"`
	Status       RunStatus     `json:"status"`
	ActualSeed   int64         `json:"actual_seed"`
	CreatedAt    time.Time     `json:"created_at"`
	StartedAt    *time.Time    `json:"started_at,omitempty"`
	FinishedAt   *time.Time    `json:"finished_at,omitempty"`
	Outputs      RunOutputs    `json:"outputs"`
	Error        *RunErrorInfo `json:"error,omitempty"`
}

// RunErrorInfo is the persisted shape of a run failure — never the full Go
// error type, since Run is serialized, per simerrors.RunError.
type RunErrorInfo struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}
