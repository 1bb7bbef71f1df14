package evidence

import "math"

// ReliabilityWeights are the stored, auditable weights in the composite
// reliability formula, §4.6. Per SPEC_FULL §4.6 Open Question 3, weights are
// stored per-score (not a single global default) so a historical score's
// formula stays reproducible even if the defaults change later.
type ReliabilityWeights struct {
	Calibration float64
	Stability   float64
	DataGap     float64
	Drift       float64
}

// DefaultReliabilityWeights is the (0.35, 0.25, 0.20, 0.20) default, §4.6.
var DefaultReliabilityWeights = ReliabilityWeights{Calibration: 0.35, Stability: 0.25, DataGap: 0.20, Drift: 0.20}

// ReliabilityComponents are the four inputs folded into the composite score,
// §4.6. Stability and its weight redistribute to the remaining components
// when fewer than two seeds have been run (Bounded == false ⇒ component
// excluded).
type ReliabilityComponents struct {
	Calibration     float64
	StabilityBounded bool
	Stability       float64
	DataGap         float64
	Drift           float64
}

// ReliabilityLevel is the four-tier band used for reporting, §4.6 ("high ≥
// 0.8, medium ≥ 0.6, low ≥ 0.4, very_low otherwise") — a finer grain than the
// Node Service's three-tier confidence band (§4.3), since the Evidence Pack
// reports on scoring quality rather than outcome confidence.
type ReliabilityLevel string

// Reliability level bands.
const (
	ReliabilityHigh    ReliabilityLevel = "high"
	ReliabilityMedium  ReliabilityLevel = "medium"
	ReliabilityLow     ReliabilityLevel = "low"
	ReliabilityVeryLow ReliabilityLevel = "very_low"
)

// ReliabilityScore is the composite result with its full computation trace
// stored for audit, §4.6.
type ReliabilityScore struct {
	Score      float64
	Level      ReliabilityLevel
	Weights    ReliabilityWeights
	Components ReliabilityComponents
}

// ComputeReliability folds components via weights into the composite score,
// §4.6:
//
//	reliability = w_c·calibration + w_s·stability + w_g·data_gap + w_d·drift
//
// When components.StabilityBounded is false, w_s is redistributed evenly
// across the remaining three weights and the stability term contributes 0.
func ComputeReliability(components ReliabilityComponents, weights ReliabilityWeights) ReliabilityScore {
	w := weights
	if !components.StabilityBounded && w.Stability > 0 {
		redistribute := w.Stability / 3
		w.Calibration += redistribute
		w.DataGap += redistribute
		w.Drift += redistribute
		w.Stability = 0
	}

	score := w.Calibration*components.Calibration +
		w.Stability*components.Stability +
		w.DataGap*components.DataGap +
		w.Drift*components.Drift

	return ReliabilityScore{
		Score:      clip01(score),
		Level:      bandReliability(score),
		Weights:    w,
		Components: components,
	}
}

func clip01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func bandReliability(score float64) ReliabilityLevel {
	switch {
	case score >= 0.8:
		return ReliabilityHigh
	case score >= 0.6:
		return ReliabilityMedium
	case score >= 0.4:
		return ReliabilityLow
	default:
		return ReliabilityVeryLow
	}
}

// CalibrationComponent derives the calibration_component from the latest
// CalibrationJob's ECE: 1 - ECE clipped to [0,1], §4.6.
func CalibrationComponent(ece float64) float64 {
	return clip01(1 - ece)
}

// StabilityComponent derives the stability_component from the normalized
// variance of the primary outcome probability across seeds. Fewer than two
// seeds means the component is unbounded (the caller should set
// StabilityBounded = false and ignore this return value), §4.6.
func StabilityComponent(probabilitiesBySeed []float64) (value float64, bounded bool) {
	if len(probabilitiesBySeed) < 2 {
		return 0, false
	}
	var sum float64
	for _, v := range probabilitiesBySeed {
		sum += v
	}
	mean := sum / float64(len(probabilitiesBySeed))
	var variance float64
	for _, v := range probabilitiesBySeed {
		d := v - mean
		variance += d * d
	}
	variance /= float64(len(probabilitiesBySeed))
	// Normalize against the maximum possible variance for values in [0,1]
	// (mean=0.5 split evenly between 0 and 1), which is 0.25.
	normalized := variance / 0.25
	return clip01(1 - normalized), true
}

// DataGapComponent derives data_gap_component from the fraction of required
// data sources unavailable or filtered by the Leakage Guard, §4.6.
func DataGapComponent(requiredSources, unavailableOrFiltered int) float64 {
	if requiredSources == 0 {
		return 1
	}
	severity := float64(unavailableOrFiltered) / float64(requiredSources)
	return clip01(1 - severity)
}

// DriftComponent derives drift_component = 1 - min(1, average_feature_shift)
// against a reference distribution, §4.6. Feature shift is the relative
// change |current-reference|/reference when reference > 0, or the raw
// current value otherwise.
func DriftComponent(reference, current map[string]float64) float64 {
	features := map[string]bool{}
	for k := range reference {
		features[k] = true
	}
	for k := range current {
		features[k] = true
	}
	if len(features) == 0 {
		return 1
	}
	var totalShift float64
	for f := range features {
		ref := reference[f]
		cur := current[f]
		var shift float64
		if ref > 0 {
			shift = math.Abs(cur-ref) / ref
		} else if cur > 0 {
			shift = math.Abs(cur)
		}
		totalShift += shift
	}
	avgShift := totalShift / float64(len(features))
	return clip01(1 - math.Min(1, avgShift))
}
