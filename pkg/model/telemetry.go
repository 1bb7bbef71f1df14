package model

import "encoding/json"

// AgentState is the untyped per-agent state snapshot carried in keyframes,
// deltas, and final_states. Kept as a map (not a fixed struct) because the
// tracked scalar fields are configuration-dependent, §9 Design Notes.
type AgentState map[string]any

// Keyframe is the full agent_states map plus environment_state and metrics at
// tick k, §4.4. Emitted every keyframe_interval ticks and always at tick 0 and
// the final tick.
type Keyframe struct {
	Tick            int64                 `json:"tick"`
	AgentStates     map[string]AgentState `json:"agent_states"`
	EnvironmentState Environment          `json:"environment_state"`
	Metrics         map[string]float64    `json:"metrics"`
}

// AgentUpdate is one agent's changed fields at tick k.
type AgentUpdate struct {
	AgentID string         `json:"agent_id"`
	Changed AgentState     `json:"changed"`
}

// Event is a structured occurrence triggered at a tick.
type Event struct {
	Tick int64          `json:"tick"`
	Type string         `json:"type"`
	Data map[string]any `json:"data,omitempty"`
}

// Delta is the per-tick change set: only changed agent fields, triggered
// events, and any metrics updated at k, §4.4.
type Delta struct {
	Tick          int64               `json:"tick"`
	AgentUpdates  []AgentUpdate       `json:"agent_updates"`
	Events        []Event             `json:"events,omitempty"`
	MetricUpdates map[string]float64  `json:"metric_updates,omitempty"`
}

// EventIndexEntry groups events by tick, populated only for ticks that have
// any, §4.4 Index.
type EventIndexEntry struct {
	Tick   int64   `json:"tick"`
	Events []Event `json:"events"`
}

// TelemetryIndex is the queryable index over a blob's keyframes/deltas, §4.4.
type TelemetryIndex struct {
	KeyframeTicks []int64           `json:"keyframe_ticks"` // sorted
	EventIndex    []EventIndexEntry `json:"event_index"`
	MetricKeys    []string          `json:"metric_keys"`
	AgentIDs      []string          `json:"agent_ids"`
}

// Capabilities are auto-detected by scanning keyframes and deltas, §4.4.
type Capabilities struct {
	HasSpatial bool `json:"has_spatial"`
	HasEvents  bool `json:"has_events"`
	HasMetrics bool `json:"has_metrics"`
}

// TelemetryBlob is the canonical, content-addressed, write-once per-run
// telemetry record, §3/§4.4.
type TelemetryBlob struct {
	Version         int                   `json:"version"`
	SchemaVersion   int                   `json:"schema_version"`
	RunID           ID                    `json:"run_id"`
	SeedUsed        int64                 `json:"seed_used"`
	AgentCount      int                   `json:"agent_count"`
	TicksExecuted   int64                 `json:"ticks_executed"`
	Keyframes       []Keyframe            `json:"keyframes"`
	Deltas          []Delta               `json:"deltas"`
	FinalStates     map[string]AgentState `json:"final_states"`
	Index           TelemetryIndex        `json:"index"`
	MetricsSummary  map[string]float64    `json:"metrics_summary"`
	Capabilities    Capabilities          `json:"capabilities"`
}

// CanonicalJSON marshals the blob with sorted keys and compact separators,
// per §6 "Telemetry on disk" and the determinism guarantee in §4.4. Go's
// encoding/json already sorts map keys and struct fields are emitted in
// declaration order, which is stable; compactness is enforced by omitting
// indentation (the default) and passing the result through json.Compact is
// unnecessary since Marshal never indents.
func (b TelemetryBlob) CanonicalJSON() ([]byte, error) {
	return json.Marshal(b)
}

// Label is a reference outcome for calibration, idempotent-upserted keyed by
// (dataset, run), §3.
type Label struct {
	NodeID ID      `json:"node_id"`
	RunID  ID      `json:"run_id"`
	Value  float64 `json:"label"`
	Notes  string  `json:"notes,omitempty"`
}

// GroundTruthDataset is a human- or upstream-appended collection of Labels.
type GroundTruthDataset struct {
	DatasetID ID      `json:"dataset_id"`
	Labels    []Label `json:"labels"`
}
