package model

import "encoding/json"

// InterventionType tags the kind of intervention that produced a child node,
// §3/§4.3. Modeled as a sum type over three known kinds plus a restricted
// free-form extension, per §9 Design Notes ("Dynamic typing / heterogeneous
// JSON maps").
type InterventionType string

// Known intervention kinds.
const (
	InterventionVariableDelta InterventionType = "VARIABLE_DELTA"
	InterventionEventScript   InterventionType = "EVENT_SCRIPT"
	InterventionNLQuery       InterventionType = "NL_QUERY"
)

// DeltaOp tags how a single variable delta combines with the parent's value.
type DeltaOp string

// Delta combination operators.
const (
	DeltaOpAdd DeltaOp = "add"
	DeltaOpMul DeltaOp = "mul"
	DeltaOpSet DeltaOp = "set"
)

// VariableDelta is one element-wise change applied to the parent environment
// at a JSON path (e.g. "agents[*].beliefs.policy_support").
type VariableDelta struct {
	Path      string  `json:"path"`
	Operation DeltaOp `json:"operation"`
	Value     float64 `json:"value"`
}

// EventScriptRef references one event script to be injected at a tick.
type EventScriptRef struct {
	Tick       int64  `json:"tick"`
	ScriptName string `json:"script_name"`
	ScriptBody string `json:"script_body"`
}

// Intervention is stored immutably on an Edge once committed.
type Intervention struct {
	Type           InterventionType `json:"type"`
	VariableDeltas []VariableDelta  `json:"variable_deltas,omitempty"`
	EventScripts   []EventScriptRef `json:"event_scripts,omitempty"`
	NLQuery        string           `json:"nl_query,omitempty"`
	// Extra carries restricted free-form extension data; this module does
	// not validate it and core invariants never interpret it.
	Extra json.RawMessage `json:"extra,omitempty"`
}
