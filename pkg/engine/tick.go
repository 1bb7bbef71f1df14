package engine

import (
	"fmt"

	"github.com/scenariograph/predictive-sim/pkg/prng"
	"github.com/scenariograph/predictive-sim/pkg/simerrors"
)

// Observation is the per-agent result of the OBSERVE stage: the environment
// signal plus a peer-influence-weighted average of peer scalars, §4.1.
type Observation struct {
	EnvSignal   map[string]float64
	PeerAverage map[string]float64
}

// ActionRecord is the structured action emitted by the ACT stage, §4.1.
type ActionRecord struct {
	AgentIndex   int
	ActionIndex  int
	Probabilities []float64
	Reward       float64
}

// TickResult is everything one call to RunTick produced, consumed by the
// executor to feed the Telemetry Writer, §4.4.
type TickResult struct {
	Tick              int64
	Actions           []ActionRecord
	TerminatedThisTick []int
	StageCounters     map[string]int64
}

// Config bounds the engine's failure tolerance and wires its pluggable
// policy, action space, and reward function, §4.1 "Failure semantics".
type Config struct {
	ActionSpace       ActionSpace
	RewardFn          RewardFunction
	Neural            NeuralPolicy // nil ⇒ behavioral-economics policy only
	FaultTolerance    float64      // default 0.05, i.e. 5%
	PrimarySeed       int64
}

// Engine advances a population through one tick at a time. It holds no
// per-run mutable state itself — State lives in pkg/state's StateManager —
// so a single Engine value can drive many concurrent Runs.
type Engine struct {
	cfg Config
}

// New constructs an Engine from cfg, defaulting FaultTolerance to 5% if unset.
func New(cfg Config) *Engine {
	if cfg.FaultTolerance <= 0 {
		cfg.FaultTolerance = 0.05
	}
	return &Engine{cfg: cfg}
}

// observe computes the OBSERVE stage for one agent: each peer scalar is
// contributed weighted by the effective influence of the edge from self to
// peer, then averaged, §4.1 step 1.
func (e *Engine) observe(a *Agent, population []*Agent, envSignal map[string]float64) Observation {
	obs := Observation{EnvSignal: envSignal, PeerAverage: map[string]float64{}}
	if len(a.SocialEdges) == 0 {
		return obs
	}
	sums := map[string]float64{}
	var weightTotal float64
	for _, edge := range a.SocialEdges {
		if edge.PeerIndex < 0 || edge.PeerIndex >= len(population) {
			continue
		}
		infl := edge.EffectiveInfluence()
		if infl == 0 {
			continue
		}
		peer := population[edge.PeerIndex]
		for k, v := range peer.Scalars.AsMap() {
			sums[k] += v * infl
		}
		weightTotal += infl
	}
	if weightTotal > 0 {
		for k, v := range sums {
			obs.PeerAverage[k] = v / weightTotal
		}
	}
	return obs
}

// AsMap exposes ScalarState as a name→value map for observation averaging.
func (s ScalarState) AsMap() map[string]float64 {
	return map[string]float64{
		"engagement":              s.Engagement,
		"certainty":                s.Certainty,
		"influence_susceptibility": s.InfluenceSusceptibility,
		"information_exposure":     s.InformationExposure,
		"commitment_strength":      s.CommitmentStrength,
		"network_centrality":       s.NetworkCentrality,
		"echo_chamber_score":       s.EchoChamberScore,
	}
}

// RunTick executes the five-stage loop over every non-terminated agent in
// population, in the stable order derived from (primary_seed, tick), §4.1.
// baseUtilities is the (N×A) rational utility matrix before biases; envSignal
// and policyCtx supply the ancillary inputs the biases read.
func (e *Engine) RunTick(tick int64, population []*Agent, baseUtilities UtilityMatrix, envSignal map[string]float64, policyCtx PolicyContext) (*TickResult, error) {
	order := prng.AgentOrder(e.cfg.PrimarySeed, tick, len(population))
	counters := map[string]int64{"observe": 0, "evaluate": 0, "decide": 0, "act": 0, "update": 0}

	biased := ApplyBiases(baseUtilities, population, policyCtx, e.cfg.PrimarySeed, tick)

	result := &TickResult{Tick: tick, StageCounters: counters}
	terminatedCount := 0

	for _, idx := range order {
		a := population[idx]
		if a.Terminated {
			terminatedCount++
			continue
		}

		func() {
			defer func() {
				if r := recover(); r != nil {
					a.Terminate(fmt.Sprintf("panic: %v", r))
					result.TerminatedThisTick = append(result.TerminatedThisTick, idx)
				}
			}()

			a.Phase = PhaseObserving
			e.observe(a, population, envSignal)
			counters["observe"]++

			a.Phase = PhaseEvaluating
			row := biased[idx]
			counters["evaluate"]++

			a.Phase = PhaseDeciding
			actionIdx, probs := Decide(row, a.Profile.BehavioralParams, e.cfg.PrimarySeed, tick, int64(idx))
			counters["decide"]++

			a.Phase = PhaseActing
			result.Actions = append(result.Actions, ActionRecord{
				AgentIndex:    idx,
				ActionIndex:   actionIdx,
				Probabilities: probs,
			})
			counters["act"]++

			a.Phase = PhaseUpdating
			a.CommittedChoice = actionIdx
			counters["update"]++
			a.Phase = PhaseIdle
		}()
	}

	if len(population) > 0 {
		faultRate := float64(terminatedCount+len(result.TerminatedThisTick)) / float64(len(population))
		if faultRate > e.cfg.FaultTolerance {
			return result, simerrors.New(simerrors.KindAgentFaultThreshold, "",
				fmt.Sprintf("%.1f%% of agents terminated, exceeding tolerance %.1f%%", faultRate*100, e.cfg.FaultTolerance*100))
		}
	}

	return result, nil
}
