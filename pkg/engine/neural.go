package engine

// NeuralPolicy is the optional, cleanly-pluggable inference-time decision
// interface, §4.1b / §9 Design Notes "Neural-policy dependency". Builds
// without a real implementation compile and serve behavioral-economics runs
// via StubNeuralPolicy.
//
// PPO training (engine/marl/ppo_trainer.py) and the experience buffer
// (engine/marl/experience_buffer.py) are deliberately not implemented here:
// training is an offline, non-deterministic concern explicitly excluded from
// the serving tick loop (§1 Non-goals, §4.1b).
type NeuralPolicy interface {
	// Act returns one action vector and one scalar value estimate per agent
	// state. It must never be called from within a serving tick loop in a
	// way that counts toward llm_calls_in_tick_loop > 0; a neural policy is
	// not an LLM call and is exempt, but any LLM-backed policy adapter must
	// increment that counter itself.
	Act(states []AgentState) (actions [][]float64, values []float64)
}

// AgentState is the flattened numeric view of an Agent the neural policy
// consumes — distinct from model.AgentState (the stored telemetry snapshot).
type AgentState []float64

// StubNeuralPolicy is a deterministic placeholder satisfying NeuralPolicy
// without any learned weights: it returns a zero value estimate and a
// one-hot action at index 0 for every agent. It exists so the engine
// compiles and serves pure behavioral-economics runs without a real neural
// backend wired in.
type StubNeuralPolicy struct {
	ActionDim int
}

// Act implements NeuralPolicy.
func (s StubNeuralPolicy) Act(states []AgentState) ([][]float64, []float64) {
	actions := make([][]float64, len(states))
	values := make([]float64, len(states))
	for i := range states {
		row := make([]float64, s.ActionDim)
		if s.ActionDim > 0 {
			row[0] = 1
		}
		actions[i] = row
	}
	return actions, values
}
