// Package engine implements the Simulation Engine, §4.1: the tick-driven
// observe/evaluate/decide/act/update loop over a population of agents.
package engine

// Phase is an agent's position in the per-tick lifecycle, §4.1.
type Phase string

// Lifecycle phases.
const (
	PhaseInitializing Phase = "INITIALIZING"
	PhaseIdle         Phase = "IDLE"
	PhaseObserving    Phase = "OBSERVING"
	PhaseEvaluating   Phase = "EVALUATING"
	PhaseDeciding     Phase = "DECIDING"
	PhaseActing       Phase = "ACTING"
	PhaseUpdating     Phase = "UPDATING"
	PhaseSuspended    Phase = "SUSPENDED"
	PhaseTerminated   Phase = "TERMINATED"
)

// Profile holds the stable demographic/psychographic traits, behavioral
// parameters, and action-probability priors derived from a Persona at run
// start. It never changes after Agent construction.
type Profile struct {
	Demographics    map[string]float64 // age_group, income_group, education_group, occupation_group weights
	Psychographics  map[string]float64
	BehavioralParams BehavioralParams
	ActionPriors    map[string]float64
}

// BehavioralParams are the per-agent coefficients the behavioral-economics
// policy (§4.1a) reads when composing biased utilities.
type BehavioralParams struct {
	StatusQuoStrength         float64
	BoostFactor               float64
	BandwagonSusceptibility   float64
	IntensityFactor           float64
	SocialProofWeight         float64
	FramingSensitivity        float64
	AvailabilityWeight        float64
	BoundedRationality        float64
	RiskAversionAlpha         float64 // prospect theory α, default 0.88
	LossAversionLambda        float64 // prospect theory λ
	ProbabilityWeightAlpha    float64 // Prelec α ∈ [0.3,1]
	ProbabilityWeightBeta     float64 // Prelec β ∈ [0.3,1]
	SoftmaxTemperature        float64
	Deterministic             bool
}

// Belief is a single exponential-moving-average tracked quantity.
type Belief struct {
	Value   float64
	EMARate float64
}

// Update applies belief' = belief + ema_rate·(signal - belief), per SPEC_FULL
// §0.3 (grounded on engine/agent.py's belief update).
func (b *Belief) Update(signal float64) {
	b.Value += b.EMARate * (signal - b.Value)
}

// MemoryEvent is one bounded recent-event record.
type MemoryEvent struct {
	Tick int64
	Kind string
	Data map[string]any
}

// Memory is the mutable per-agent history: a bounded recent-events queue,
// EMA-updated beliefs, an episodic store, and associative weights, per
// SPEC_FULL §0.3.
type Memory struct {
	RecentEvents     []MemoryEvent
	MaxRecentEvents  int
	Beliefs          map[string]*Belief
	Episodic         []MemoryEvent
	AssociativeWeights map[string]float64
}

// NewMemory returns an empty Memory with the given recent-event capacity.
func NewMemory(maxRecent int) *Memory {
	return &Memory{
		MaxRecentEvents:    maxRecent,
		Beliefs:            make(map[string]*Belief),
		AssociativeWeights: make(map[string]float64),
	}
}

// RecordEvent appends to the bounded recent-events queue, evicting the oldest
// entry once MaxRecentEvents is exceeded.
func (m *Memory) RecordEvent(ev MemoryEvent) {
	m.RecentEvents = append(m.RecentEvents, ev)
	if len(m.RecentEvents) > m.MaxRecentEvents {
		m.RecentEvents = m.RecentEvents[len(m.RecentEvents)-m.MaxRecentEvents:]
	}
}

// SocialEdge is a typed, directed relation to a peer agent, §4.1.
type SocialEdge struct {
	PeerIndex int
	Type      string
	Weight    float64 // clamped to [0,1] at assignment
	Trust     float64 // clamped to [0,1] at assignment
	Frequency float64 // clamped to [0,1] at assignment
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}

// NewSocialEdge clamps its three factors at construction, per SPEC_FULL §0.3
// ("the original clamps at write, not read").
func NewSocialEdge(peerIndex int, kind string, weight, trust, frequency float64) SocialEdge {
	return SocialEdge{
		PeerIndex: peerIndex,
		Type:      kind,
		Weight:    clamp01(weight),
		Trust:     clamp01(trust),
		Frequency: clamp01(frequency),
	}
}

// EffectiveInfluence is weight·trust·frequency, §4.1.
func (e SocialEdge) EffectiveInfluence() float64 {
	return e.Weight * e.Trust * e.Frequency
}

// ScalarState is the agent's seven tracked scalars, §4.2.
type ScalarState struct {
	Engagement             float64
	Certainty               float64
	InfluenceSusceptibility float64
	InformationExposure     float64
	CommitmentStrength      float64
	NetworkCentrality       float64
	EchoChamberScore        float64
}

// Agent is a single simulated individual: a stable Profile plus mutable
// State (scalars, Memory, SocialEdges) and a lifecycle Phase, §4.1.
type Agent struct {
	Index           int
	ID              string
	Profile         Profile
	Scalars         ScalarState
	Preferences     map[string]float64
	IssuePriorities map[string]float64
	CommittedChoice int // -1 sentinel for uncommitted, §4.2
	Memory          *Memory
	SocialEdges     []SocialEdge
	Phase           Phase
	Terminated      bool
	TerminationNote string
}

// Terminate marks the agent TERMINATED with its last-known state preserved,
// §4.1 "Failure semantics" — State is never mutated after this call.
func (a *Agent) Terminate(reason string) {
	a.Phase = PhaseTerminated
	a.Terminated = true
	a.TerminationNote = reason
}
