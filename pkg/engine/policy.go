package engine

import (
	"math"

	"github.com/scenariograph/predictive-sim/pkg/prng"
)

// UtilityMatrix is the (N agents × A actions) rational base-utility matrix
// biases are applied on top of, §4.1a.
type UtilityMatrix [][]float64

// Clone returns a deep copy so bias functions never mutate their input.
func (u UtilityMatrix) Clone() UtilityMatrix {
	out := make(UtilityMatrix, len(u))
	for i, row := range u {
		out[i] = append([]float64(nil), row...)
	}
	return out
}

// PolicyContext bundles the ancillary tensors the bias functions read, §4.1a.
type PolicyContext struct {
	PopulationDistribution []float64   // normalized, per-action population share
	PeerChoiceWeights      [][]float64 // per-agent social weights over peer choices
	FramingValence         []float64   // per-agent
	RecentOutcomes         [][]float64 // per-agent, per-action recency window
}

// ApplyBiases runs the six biases in the fixed order spec §4.1a requires,
// each a pure function U ← f(U, …). agents[i].Profile.BehavioralParams
// supplies the per-agent coefficients.
func ApplyBiases(u UtilityMatrix, agents []*Agent, ctx PolicyContext, primarySeed, tick int64) UtilityMatrix {
	u = u.Clone()
	applyStatusQuoBias(u, agents)
	applyBandwagonBias(u, agents, ctx.PopulationDistribution)
	applySocialProofBias(u, agents, ctx.PeerChoiceWeights)
	applyFramingBias(u, agents, ctx.FramingValence)
	applyRecencyBias(u, agents, ctx.RecentOutcomes)
	applyBoundedRationality(u, agents, primarySeed, tick)
	return u
}

// applyStatusQuoBias adds boost_factor·status_quo_strength to the current
// choice column for agents with a committed choice, §4.1a.
func applyStatusQuoBias(u UtilityMatrix, agents []*Agent) {
	for i, a := range agents {
		if a.CommittedChoice < 0 || a.CommittedChoice >= len(u[i]) {
			continue
		}
		bp := a.Profile.BehavioralParams
		u[i][a.CommittedChoice] += bp.BoostFactor * bp.StatusQuoStrength
	}
}

// applyBandwagonBias adds bandwagon_susceptibility·normalized_population_
// distribution·intensity_factor to every action column, §4.1a.
func applyBandwagonBias(u UtilityMatrix, agents []*Agent, populationDist []float64) {
	if populationDist == nil {
		return
	}
	for i, a := range agents {
		bp := a.Profile.BehavioralParams
		for j := range u[i] {
			if j >= len(populationDist) {
				break
			}
			u[i][j] += bp.BandwagonSusceptibility * populationDist[j] * bp.IntensityFactor
		}
	}
}

// applySocialProofBias adds a per-agent-normalized weighted sum over peer
// choices, scaled by social_proof_weight·0.5, §4.1a.
func applySocialProofBias(u UtilityMatrix, agents []*Agent, peerChoiceWeights [][]float64) {
	if peerChoiceWeights == nil {
		return
	}
	for i, a := range agents {
		if i >= len(peerChoiceWeights) {
			continue
		}
		row := peerChoiceWeights[i]
		var sum float64
		for _, w := range row {
			sum += w
		}
		if sum == 0 {
			continue
		}
		bp := a.Profile.BehavioralParams
		for j := range u[i] {
			if j >= len(row) {
				break
			}
			u[i][j] += (row[j] / sum) * bp.SocialProofWeight * 0.5
		}
	}
}

// applyFramingBias adds framing_valence·framing_sensitivity·0.2, §4.1a.
func applyFramingBias(u UtilityMatrix, agents []*Agent, framingValence []float64) {
	if framingValence == nil {
		return
	}
	for i, a := range agents {
		if i >= len(framingValence) {
			continue
		}
		bp := a.Profile.BehavioralParams
		delta := framingValence[i] * bp.FramingSensitivity * 0.2
		for j := range u[i] {
			u[i][j] += delta
		}
	}
}

// applyRecencyBias adds an exponentially-decayed weighted average of recent
// outcomes, proportional to availability_weight, §4.1a.
func applyRecencyBias(u UtilityMatrix, agents []*Agent, recentOutcomes [][]float64) {
	if recentOutcomes == nil {
		return
	}
	const decay = 0.7
	for i, a := range agents {
		if i >= len(recentOutcomes) {
			continue
		}
		row := recentOutcomes[i]
		bp := a.Profile.BehavioralParams
		var weighted, weightSum float64
		w := 1.0
		for k := len(row) - 1; k >= 0; k-- {
			weighted += w * row[k]
			weightSum += w
			w *= decay
		}
		if weightSum == 0 {
			continue
		}
		avg := weighted / weightSum
		for j := range u[i] {
			u[i][j] += avg * bp.AvailabilityWeight
		}
	}
}

// applyBoundedRationality adds Gaussian noise with σ = bounded_rationality·0.1
// sampled from the tick-local PRNG stream, §4.1a.
func applyBoundedRationality(u UtilityMatrix, agents []*Agent, primarySeed, tick int64) {
	for i, a := range agents {
		bp := a.Profile.BehavioralParams
		sigma := bp.BoundedRationality * 0.1
		if sigma == 0 {
			continue
		}
		r := prng.Stream(primarySeed, tick, int64(a.Index), prng.StageBoundedRationality)
		for j := range u[i] {
			u[i][j] += r.NormFloat64() * sigma
		}
	}
}

// ProspectValue is the subjective-value function v(x) = x^α for gains,
// -λ·(-x)^α for losses, §4.1a. alpha defaults to 0.88 when zero.
func ProspectValue(x, alpha, lambda float64) float64 {
	if alpha == 0 {
		alpha = 0.88
	}
	if x >= 0 {
		return math.Pow(x, alpha)
	}
	return -lambda * math.Pow(-x, alpha)
}

// PrelecWeight is the Prelec probability-weighting function
// w(p) = exp(-β·(-ln p)^α), α ∈ [0.3,1], β ∈ [0.3,1], §4.1a.
func PrelecWeight(p, alpha, beta float64) float64 {
	if p <= 0 {
		return 0
	}
	if p >= 1 {
		return 1
	}
	return math.Exp(-beta * math.Pow(-math.Log(p), alpha))
}

// Softmax returns a probability vector over u's actions at temperature T.
func Softmax(u []float64, temperature float64) []float64 {
	if temperature <= 0 {
		temperature = 1
	}
	out := make([]float64, len(u))
	maxU := math.Inf(-1)
	for _, v := range u {
		if v > maxU {
			maxU = v
		}
	}
	var sum float64
	for i, v := range u {
		e := math.Exp((v - maxU) / temperature)
		out[i] = e
		sum += e
	}
	if sum == 0 {
		return out
	}
	for i := range out {
		out[i] /= sum
	}
	return out
}

// Argmax returns a one-hot probability vector at the index of the largest
// utility, the deterministic-mode decision rule, §4.1a.
func Argmax(u []float64) []float64 {
	out := make([]float64, len(u))
	if len(u) == 0 {
		return out
	}
	best := 0
	for i, v := range u {
		if v > u[best] {
			best = i
		}
	}
	out[best] = 1
	return out
}

// Decide selects an action index for one agent given its biased utility row,
// using the tick-local PRNG stream so repeated runs with the same seed
// produce bitwise-identical samples, §4.1a.
func Decide(u []float64, bp BehavioralParams, primarySeed, tick, agentIndex int64) (int, []float64) {
	var probs []float64
	if bp.Deterministic {
		probs = Argmax(u)
	} else {
		probs = Softmax(u, bp.SoftmaxTemperature)
	}
	r := prng.Stream(primarySeed, tick, agentIndex, prng.StageSoftmaxSample)
	target := r.Float64()
	var cum float64
	for i, p := range probs {
		cum += p
		if target <= cum {
			return i, probs
		}
	}
	return len(probs) - 1, probs
}
