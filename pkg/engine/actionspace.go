package engine

import "github.com/scenariograph/predictive-sim/pkg/prng"

// ActionDefinition describes a single discrete action, §4.1.
type ActionDefinition struct {
	Type            string
	Name            string
	Parameters      map[string]float64
	Preconditions   []string
	Effects         map[string]float64
	RewardComponents map[string]float64
}

// Precondition is a pure predicate over an agent's observable state,
// SPEC_FULL §0.3. The full vocabulary shipped by the original is registered
// in preconditionTable.
type Precondition func(a *Agent) bool

var preconditionTable = map[string]Precondition{
	"certainty_above_0.6": func(a *Agent) bool { return a.Scalars.Certainty > 0.6 },
	"is_committed":        func(a *Agent) bool { return a.CommittedChoice >= 0 },
	"not_committed":       func(a *Agent) bool { return a.CommittedChoice < 0 },
	"has_information":     func(a *Agent) bool { return a.Scalars.InformationExposure > 0 },
}

// satisfiesPreconditions reports whether every named precondition of def
// holds for agent a. An unknown precondition name is treated as unsatisfied
// rather than silently ignored, so a typo in configuration fails closed.
func satisfiesPreconditions(def ActionDefinition, a *Agent) bool {
	for _, name := range def.Preconditions {
		pred, ok := preconditionTable[name]
		if !ok || !pred(a) {
			return false
		}
	}
	return true
}

// ActionSpace is the common interface over discrete, continuous, and hybrid
// action spaces, §4.1 "Action space".
type ActionSpace interface {
	N() int
	Sample(primarySeed, tick int64, agentIndex int64) []float64
	Contains(action []float64) bool
	ActionMask(a *Agent) []bool
}

// DiscreteActionSpace enumerates a fixed list of ActionDefinitions.
type DiscreteActionSpace struct {
	Actions []ActionDefinition
}

func (s *DiscreteActionSpace) N() int { return len(s.Actions) }

func (s *DiscreteActionSpace) Sample(primarySeed, tick, agentIndex int64) []float64 {
	r := prng.Stream(primarySeed, tick, agentIndex, prng.StageActionSpace)
	idx := r.IntN(len(s.Actions))
	out := make([]float64, len(s.Actions))
	out[idx] = 1
	return out
}

func (s *DiscreteActionSpace) Contains(action []float64) bool {
	return len(action) == len(s.Actions)
}

// ActionMask returns, for each action, whether its preconditions are
// satisfied by a, §4.1.
func (s *DiscreteActionSpace) ActionMask(a *Agent) []bool {
	mask := make([]bool, len(s.Actions))
	for i, def := range s.Actions {
		mask[i] = satisfiesPreconditions(def, a)
	}
	return mask
}

// ByName returns the index of the action with the given name, or -1.
func (s *DiscreteActionSpace) ByName(name string) int {
	for i, def := range s.Actions {
		if def.Name == name {
			return i
		}
	}
	return -1
}

// ContinuousActionSpace is a bounded real vector space.
type ContinuousActionSpace struct {
	Low, High []float64
}

func (s *ContinuousActionSpace) N() int { return -1 } // not applicable, §4.1

func (s *ContinuousActionSpace) Sample(primarySeed, tick, agentIndex int64) []float64 {
	r := prng.Stream(primarySeed, tick, agentIndex, prng.StageActionSpace)
	out := make([]float64, len(s.Low))
	for i := range out {
		out[i] = s.Low[i] + r.Float64()*(s.High[i]-s.Low[i])
	}
	return out
}

func (s *ContinuousActionSpace) Contains(action []float64) bool {
	if len(action) != len(s.Low) {
		return false
	}
	for i, v := range action {
		if v < s.Low[i] || v > s.High[i] {
			return false
		}
	}
	return true
}

// ActionMask is always all-true for a continuous space, §4.1.
func (s *ContinuousActionSpace) ActionMask(a *Agent) []bool {
	mask := make([]bool, len(s.Low))
	for i := range mask {
		mask[i] = true
	}
	return mask
}

// Clip projects action into [Low, High] element-wise.
func (s *ContinuousActionSpace) Clip(action []float64) []float64 {
	out := make([]float64, len(action))
	for i, v := range action {
		switch {
		case v < s.Low[i]:
			out[i] = s.Low[i]
		case v > s.High[i]:
			out[i] = s.High[i]
		default:
			out[i] = v
		}
	}
	return out
}

// HybridActionSpace pairs a discrete choice with a bounded continuous
// parameter vector, §4.1.
type HybridActionSpace struct {
	Discrete   DiscreteActionSpace
	Continuous ContinuousActionSpace
}

func (s *HybridActionSpace) N() int { return s.Discrete.N() }

func (s *HybridActionSpace) Sample(primarySeed, tick, agentIndex int64) []float64 {
	disc := s.Discrete.Sample(primarySeed, tick, agentIndex)
	cont := s.Continuous.Sample(primarySeed, tick, agentIndex)
	return append(disc, cont...)
}

func (s *HybridActionSpace) Contains(action []float64) bool {
	n := s.Discrete.N()
	if len(action) < n {
		return false
	}
	return s.Continuous.Contains(action[n:])
}

func (s *HybridActionSpace) ActionMask(a *Agent) []bool {
	return s.Discrete.ActionMask(a)
}
