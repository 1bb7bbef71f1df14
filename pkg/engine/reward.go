package engine

import "math"

// RewardComponents are the named reward signals §4.1 enumerates: alignment,
// social_approval, consistency, information_gain, accuracy, time_cost, …
type RewardComponents map[string]float64

// RewardFunction folds named components into a single scalar via a
// configured weight map, §4.1: total reward = Σ wᵢ·componentᵢ.
type RewardFunction struct {
	ComponentWeights map[string]float64
}

// Compute returns the weighted sum of components; a component with no
// configured weight contributes 0 rather than erroring, since the component
// set is extensible.
func (rf RewardFunction) Compute(components RewardComponents) float64 {
	var total float64
	for name, value := range components {
		if w, ok := rf.ComponentWeights[name]; ok {
			total += w * value
		}
	}
	return total
}

// ComputeAccuracyReward returns exp(-KL(truth‖pred))·accuracy_weight, §4.1.
// truth and pred must be aligned probability distributions over the same
// outcome keys; pred entries of 0 are treated as ε to avoid a divide-by-zero
// in the KL term, matching the original's numerical guard.
func ComputeAccuracyReward(truth, pred map[string]float64, accuracyWeight float64) float64 {
	const eps = 1e-12
	var kl float64
	for key, p := range truth {
		if p <= 0 {
			continue
		}
		q := pred[key]
		if q <= 0 {
			q = eps
		}
		kl += p * math.Log(p/q)
	}
	return math.Exp(-kl) * accuracyWeight
}

// ComputeBatchRewards applies Compute across every agent's component map, the
// vectorized form used by the scheduler-profile batched path, §4.1.
func (rf RewardFunction) ComputeBatchRewards(components []RewardComponents) []float64 {
	out := make([]float64, len(components))
	for i, c := range components {
		out[i] = rf.Compute(c)
	}
	return out
}
