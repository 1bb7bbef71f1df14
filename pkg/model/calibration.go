package model

// CalibrationConfig parameterizes a CalibrationJob, §3/§4.6.
type CalibrationConfig struct {
	TargetAccuracy float64 `json:"target_accuracy"`
	MetricKey      string  `json:"metric_key"`
	Weighting      string  `json:"weighting"`
	Seed           int64   `json:"seed"`
	MaxIterations  int     `json:"max_iterations"`
}

// BinMapping maps a bin's midpoint prediction to its calibrated probability.
type BinMapping struct {
	BinLow       float64 `json:"bin_low"`
	BinHigh      float64 `json:"bin_high"`
	SampleCount  int     `json:"sample_count"`
	EmpiricalRate float64 `json:"empirical_rate"`
	Calibrated   float64 `json:"calibrated"`
}

// CalibrationMetrics are the per-iteration accuracy/Brier/ECE numbers, §4.6.
type CalibrationMetrics struct {
	Accuracy float64 `json:"accuracy"`
	Brier    float64 `json:"brier"`
	ECE      float64 `json:"ece"`
}

// CalibrationIteration is one deterministic bin-count trial, immutable once
// written, §3.
type CalibrationIteration struct {
	BinCount int                  `json:"bin_count"`
	Mapping  []BinMapping         `json:"mapping"`
	Metrics  CalibrationMetrics   `json:"metrics"`
}

// CalibrationJob is a deterministic search over bin counts mapping
// predictions to empirical probabilities, §3/§4.6.
type CalibrationJob struct {
	ID         ID                      `json:"id"`
	DatasetID  ID                      `json:"dataset_id"`
	Config     CalibrationConfig       `json:"config"`
	Iterations []CalibrationIteration  `json:"iterations"`
	BestBinCount int                   `json:"best_bin_count"`
	ResultJSON   string                `json:"result_json"`
}

// ParameterVersionStatus is the lifecycle state of a ParameterVersion, §3.
type ParameterVersionStatus string

// Parameter version statuses.
const (
	ParamProposed   ParameterVersionStatus = "PROPOSED"
	ParamActive     ParameterVersionStatus = "ACTIVE"
	ParamRolledBack ParameterVersionStatus = "ROLLED_BACK"
)

// ParameterVersion is an append-only, content-hashed, approvable, rollbackable
// parameter set, §3/§4.6 "Parameter versioning".
type ParameterVersion struct {
	ID               ID                     `json:"id"`
	ProjectID        ID                     `json:"project_id"`
	VersionNumber    int64                  `json:"version_number"`
	VersionHash      string                 `json:"version_hash"`
	Parameters       map[string]float64     `json:"parameters"`
	Status           ParameterVersionStatus `json:"status"`
	PreviousVersionID *ID                   `json:"previous_version_id,omitempty"`
	RolledBackToID    *ID                   `json:"rolled_back_to_id,omitempty"`
	ApprovedBy        string                `json:"approved_by,omitempty"`
}
