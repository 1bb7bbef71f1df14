// Package evidence implements the Evidence and Reliability Service, §4.6:
// canonical hashing, determinism comparison, the composite reliability
// score, deterministic calibration, and parameter versioning.
package evidence

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/scenariograph/predictive-sim/pkg/model"
)

// ComputeHash hashes the canonical JSON encoding of data with SHA-256.
// encoding/json already sorts map[string]T keys at every nesting level and
// emits no insignificant whitespace, giving the same normalized byte form
// every call, §4.6 "Canonical hashing".
func ComputeHash(data any) (string, error) {
	b, err := json.Marshal(data)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}

// normalizedRunConfig is the deterministic subset of RunConfig hashed into
// run_config_hash; volatile fields (ID, timestamps) are excluded, §4.6.
type normalizedRunConfig struct {
	SeedConfig       model.SeedConfig       `json:"seed_config"`
	Horizon          int64                  `json:"horizon"`
	TickRate         float64                `json:"tick_rate"`
	SchedulerProfile model.SchedulerProfile `json:"scheduler_profile"`
	ScenarioPatch    json.RawMessage        `json:"scenario_patch,omitempty"`
	MaxAgents        int                    `json:"max_agents"`
	Versions         model.Versions         `json:"versions"`
}

// RunConfigHash computes run_config_hash = H(canonical({seed_config,
// horizon, tick_rate, scheduler_profile, scenario_patch, max_agents,
// versions})), §4.6.
func RunConfigHash(cfg model.RunConfig) (string, error) {
	return ComputeHash(normalizedRunConfig{
		SeedConfig:       cfg.SeedConfig,
		Horizon:          cfg.Horizon,
		TickRate:         cfg.TickRate,
		SchedulerProfile: cfg.SchedulerProfile,
		ScenarioPatch:    cfg.ScenarioPatch,
		MaxAgents:        cfg.MaxAgents,
		Versions:         cfg.Versions,
	})
}

// normalizedResult is the deterministic subset of a Run's outcomes hashed
// into result_hash. Per SPEC_FULL §4.6 Open Question 1, variance metrics are
// excluded — only the primary outcome, its probability, the full outcome
// distribution, and named key metrics are load-bearing for the determinism
// test.
type normalizedResult struct {
	PrimaryOutcome            string             `json:"primary_outcome"`
	PrimaryOutcomeProbability float64            `json:"primary_outcome_probability"`
	OutcomeDistribution       map[string]float64 `json:"outcome_distribution"`
	KeyMetrics                []string           `json:"key_metrics"`
}

// ResultHash computes result_hash = H(canonical({primary_outcome,
// primary_outcome_probability, outcome_distribution, key_metrics})), §4.6.
func ResultHash(primaryOutcome string, primaryOutcomeProbability float64, outcomeDistribution map[string]float64, keyMetrics []string) (string, error) {
	return ComputeHash(normalizedResult{
		PrimaryOutcome:            primaryOutcome,
		PrimaryOutcomeProbability: primaryOutcomeProbability,
		OutcomeDistribution:       outcomeDistribution,
		KeyMetrics:                keyMetrics,
	})
}

// TelemetrySummary is the coarse telemetry digest hashed into
// telemetry_hash — cheap to compute from a TelemetryBlob without rehashing
// its full content, §4.6 ("Stronger variant permitted: hash the full blob").
type TelemetrySummary struct {
	KeyframeCount int `json:"keyframe_count"`
	DeltaCount    int `json:"delta_count"`
	TotalEvents   int `json:"total_events"`
	TickCount     int `json:"tick_count"`
	AgentCount    int `json:"agent_count"`
}

// SummarizeTelemetry reduces a full blob to its TelemetrySummary.
func SummarizeTelemetry(blob *model.TelemetryBlob) TelemetrySummary {
	var totalEvents int
	for _, d := range blob.Deltas {
		totalEvents += len(d.Events)
	}
	return TelemetrySummary{
		KeyframeCount: len(blob.Keyframes),
		DeltaCount:    len(blob.Deltas),
		TotalEvents:   totalEvents,
		TickCount:     int(blob.TicksExecuted),
		AgentCount:    blob.AgentCount,
	}
}

// TelemetryHash computes telemetry_hash = H(canonical(summary)), §4.6.
func TelemetryHash(summary TelemetrySummary) (string, error) {
	return ComputeHash(summary)
}

// DeterminismComparisonResult enumerates mismatched fields between two Runs
// being compared for determinism, §4.6.
type DeterminismComparisonResult struct {
	Deterministic    bool
	MismatchedFields []string
}

// RunSignature is the set of hashes/seed a determinism comparison reads off
// one Run.
type RunSignature struct {
	RunConfigHash  string
	SeedUsed       int64
	ResultHash     string
	TelemetryHash  string
}

// CompareForDeterminism reports whether a and b are "deterministic": they
// must share run_config_hash, seed_used, and result_hash. telemetry_hash
// must also match unless the summary is intentionally coarse (the caller
// indicates this via requireTelemetryMatch), §4.6 "Determinism test".
func CompareForDeterminism(a, b RunSignature, requireTelemetryMatch bool) DeterminismComparisonResult {
	var mismatches []string
	if a.RunConfigHash != b.RunConfigHash {
		mismatches = append(mismatches, "run_config_hash")
	}
	if a.SeedUsed != b.SeedUsed {
		mismatches = append(mismatches, "seed_used")
	}
	if a.ResultHash != b.ResultHash {
		mismatches = append(mismatches, "result_hash")
	}
	if requireTelemetryMatch && a.TelemetryHash != b.TelemetryHash {
		mismatches = append(mismatches, "telemetry_hash")
	}
	return DeterminismComparisonResult{Deterministic: len(mismatches) == 0, MismatchedFields: mismatches}
}
