package evidence

import (
	"encoding/json"
	"math"

	"github.com/scenariograph/predictive-sim/pkg/model"
)

// DefaultBinCounts is the schedule of bin counts tried in increasing
// resolution, truncated to max_iterations, §4.6 "Calibration algorithm".
var DefaultBinCounts = []int{5, 10, 15, 20, 25, 30}

// MinSamplesPerBin is the minimum bin occupancy below which a bin falls back
// to the overall mean label rather than its own empirical rate, §4.6.
const MinSamplesPerBin = 2

// CalibrationSample is one (prediction, label, weight) triple, §4.6.
type CalibrationSample struct {
	PredictedValue float64
	Label          float64 // 0 or 1
	Weight         float64
}

// binCountsForMaxIterations truncates DefaultBinCounts to maxIterations.
func binCountsForMaxIterations(maxIterations int) []int {
	if maxIterations <= 0 || maxIterations > len(DefaultBinCounts) {
		maxIterations = len(DefaultBinCounts)
	}
	return DefaultBinCounts[:maxIterations]
}

// computeCalibration bins samples into binCount equal-width bins over
// [min(p), max(p)] and computes the calibration mapping and metrics, §4.6
// steps 2a-2d.
func computeCalibration(samples []CalibrationSample, binCount int) ([]model.BinMapping, model.CalibrationMetrics) {
	if len(samples) == 0 {
		return nil, model.CalibrationMetrics{Accuracy: 0, Brier: 1, ECE: 1}
	}

	minVal, maxVal := samples[0].PredictedValue, samples[0].PredictedValue
	var weightSum float64
	for _, s := range samples {
		if s.PredictedValue < minVal {
			minVal = s.PredictedValue
		}
		if s.PredictedValue > maxVal {
			maxVal = s.PredictedValue
		}
		weightSum += s.Weight
	}
	if weightSum == 0 {
		weightSum = 1
	}

	var edges []float64
	if minVal == maxVal {
		binCount = 1
		edges = []float64{minVal - 0.001, maxVal + 0.001}
	} else {
		edges = linspace(minVal, maxVal+1e-9, binCount+1)
	}

	var overallLabelSum float64
	for _, s := range samples {
		overallLabelSum += s.Label
	}
	overallMeanLabel := overallLabelSum / float64(len(samples))

	binIdxOf := make([]int, len(samples))
	for i, s := range samples {
		binIdxOf[i] = digitize(s.PredictedValue, edges, binCount)
	}

	calibratedProbs := make([]float64, len(samples))
	mapping := make([]model.BinMapping, binCount)

	for b := 0; b < binCount; b++ {
		var nInBin int
		var weightedSum, binWeightSum, labelSum float64
		for i, s := range samples {
			if binIdxOf[i] != b {
				continue
			}
			nInBin++
			weightedSum += s.Weight * s.Label
			binWeightSum += s.Weight
			labelSum += s.Label
		}

		var empiricalRate float64
		if nInBin < MinSamplesPerBin {
			empiricalRate = overallMeanLabel
		} else if binWeightSum > 0 {
			empiricalRate = weightedSum / binWeightSum
		}

		for i := range samples {
			if binIdxOf[i] == b {
				calibratedProbs[i] = empiricalRate
			}
		}

		mapping[b] = model.BinMapping{
			BinLow:        edges[b],
			BinHigh:       edges[b+1],
			SampleCount:   nInBin,
			EmpiricalRate: empiricalRate,
			Calibrated:    empiricalRate,
		}
	}

	var correct int
	var brierSum float64
	for i, s := range samples {
		pred := 0.0
		if calibratedProbs[i] >= 0.5 {
			pred = 1.0
		}
		if pred == s.Label {
			correct++
		}
		d := calibratedProbs[i] - s.Label
		brierSum += d * d
	}
	accuracy := float64(correct) / float64(len(samples))
	brier := brierSum / float64(len(samples))

	var ece float64
	for b := 0; b < binCount; b++ {
		var nInBin int
		var labelSum float64
		for i, s := range samples {
			if binIdxOf[i] != b {
				continue
			}
			nInBin++
			labelSum += s.Label
		}
		if nInBin == 0 {
			continue
		}
		binEmpirical := labelSum / float64(nInBin)
		ece += (float64(nInBin) / float64(len(samples))) * math.Abs(mapping[b].Calibrated-binEmpirical)
	}

	return mapping, model.CalibrationMetrics{Accuracy: accuracy, Brier: brier, ECE: ece}
}

func linspace(start, end float64, n int) []float64 {
	if n == 1 {
		return []float64{start}
	}
	out := make([]float64, n)
	step := (end - start) / float64(n-1)
	for i := range out {
		out[i] = start + step*float64(i)
	}
	return out
}

// digitize mirrors numpy.digitize(value, edges[1:-1]): returns the bin index
// in [0, binCount-1] the value falls into, against the interior edges.
func digitize(value float64, edges []float64, binCount int) int {
	interior := edges[1 : len(edges)-1]
	idx := 0
	for _, e := range interior {
		if value >= e {
			idx++
		}
	}
	if idx >= binCount {
		idx = binCount - 1
	}
	return idx
}

// RunCalibration executes the deterministic schedule of bin counts against
// samples, early-stopping once accuracy reaches targetAccuracy, §4.6 step 3.
// The same (config, samples) always produces identical iterations.
func RunCalibration(samples []CalibrationSample, cfg model.CalibrationConfig) model.CalibrationJob {
	binCounts := binCountsForMaxIterations(cfg.MaxIterations)

	var iterations []model.CalibrationIteration
	bestBinCount := 0
	bestAccuracy := -1.0

	for _, bc := range binCounts {
		mapping, metrics := computeCalibration(samples, bc)
		iterations = append(iterations, model.CalibrationIteration{
			BinCount: bc,
			Mapping:  mapping,
			Metrics:  metrics,
		})
		if metrics.Accuracy > bestAccuracy {
			bestAccuracy = metrics.Accuracy
			bestBinCount = bc
		}
		if cfg.TargetAccuracy > 0 && metrics.Accuracy >= cfg.TargetAccuracy {
			break
		}
	}

	job := model.CalibrationJob{
		Config:       cfg,
		Iterations:   iterations,
		BestBinCount: bestBinCount,
	}
	if b, err := json.Marshal(job.Iterations); err == nil {
		job.ResultJSON = string(b)
	}
	return job
}
