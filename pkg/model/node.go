package model

import "encoding/json"

// ConfidenceLevel is the three-tier band derived from a node's aggregated
// outcome probability after reliability adjustments, §4.3/§4.6.
type ConfidenceLevel string

// Confidence bands.
const (
	ConfidenceHigh   ConfidenceLevel = "high"
	ConfidenceMedium ConfidenceLevel = "medium"
	ConfidenceLow    ConfidenceLevel = "low"
)

// OutcomeStat is the deterministic fold (mean, variance, min, max, count)
// computed over one outcome key across a node's completed runs, §4.3
// aggregate_runs.
type OutcomeStat struct {
	Mean        float64 `json:"mean"`
	Variance    float64 `json:"variance"`
	Min         float64 `json:"min"`
	Max         float64 `json:"max"`
	SampleCount int     `json:"sample_count"`
}

// AggregatedOutcome is the node-level fold over all of its completed runs.
type AggregatedOutcome struct {
	Stats                    map[string]OutcomeStat `json:"stats"`
	PrimaryOutcome           string                 `json:"primary_outcome"`
	PrimaryOutcomeProbability float64               `json:"primary_outcome_probability"`
	Version                  int64                  `json:"version"` // optimistic-concurrency counter, §5
}

// Node is a scenario state in the Universe Map DAG. Immutable except for the
// aggregated fields, which are recomputed — never mutated in place by a
// fork — as runs complete (C1, fork-not-mutate).
type Node struct {
	ID                 ID                 `json:"id"`
	ProjectID          ID                 `json:"project_id"`
	ParentID           *ID                `json:"parent_id,omitempty"`
	Depth              int                `json:"depth"`
	ScenarioPatchRef   *ID                `json:"scenario_patch_ref,omitempty"`
	RunRefs            []ID               `json:"run_refs"`
	AggregatedOutcome  *AggregatedOutcome `json:"aggregated_outcome,omitempty"`
	Probability        float64            `json:"probability"`
	CumulativeProbability float64         `json:"cumulative_probability"`
	Confidence         ConfidenceLevel    `json:"confidence,omitempty"`
	IsBaseline         bool               `json:"is_baseline"`
	IsStale            bool               `json:"is_stale"`
	MinEnsembleSize    int                `json:"min_ensemble_size"`
}

// Snapshot returns a deep copy sufficient to compare byte-for-byte before and
// after a sibling fork (testable property 2, fork-not-mutate).
func (n *Node) Snapshot() Node {
	cp := *n
	cp.RunRefs = append([]ID(nil), n.RunRefs...)
	if n.AggregatedOutcome != nil {
		ao := *n.AggregatedOutcome
		ao.Stats = make(map[string]OutcomeStat, len(n.AggregatedOutcome.Stats))
		for k, v := range n.AggregatedOutcome.Stats {
			ao.Stats[k] = v
		}
		cp.AggregatedOutcome = &ao
	}
	return cp
}

// Edge is the directed, immutable link parent→child describing the
// intervention that produced the child, §3.
type Edge struct {
	ID           ID           `json:"id"`
	ParentID     ID           `json:"parent_id"`
	ChildID      ID           `json:"child_id"`
	Intervention Intervention `json:"intervention"`
	Explanation  string       `json:"explanation,omitempty"`
}

// NodePatch is the derived environment modification applied to the parent's
// final state to produce the child's initial world, created at fork time and
// never mutated afterward.
type NodePatch struct {
	ID      ID              `json:"id"`
	EdgeID  ID              `json:"edge_id"`
	Deltas  []VariableDelta `json:"deltas"`
	Scripts []EventScriptRef `json:"scripts,omitempty"`
}

// Environment is the untyped world-state map a NodePatch is applied against.
// Kept as a JSON-shaped map (not a fixed struct) per §9 Design Notes.
type Environment map[string]any

// Clone returns a deep-enough copy for fork-not-mutate: mutating the returned
// map never affects env.
func (env Environment) Clone() Environment {
	b, err := json.Marshal(env)
	if err != nil {
		// env is always constructed from decoded JSON or plain scalars; a
		// marshal failure here means a caller stored an unsupported type.
		panic("model: environment not JSON-representable: " + err.Error())
	}
	var out Environment
	if err := json.Unmarshal(b, &out); err != nil {
		panic("model: environment round-trip failed: " + err.Error())
	}
	return out
}
