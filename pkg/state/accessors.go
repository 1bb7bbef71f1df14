package state

import "github.com/scenariograph/predictive-sim/pkg/engine"

// AgentStateView is the read-only snapshot returned by GetAgentState: the
// Manager's columnar storage re-assembled into one agent's row, §4.2.
type AgentStateView struct {
	Index           int
	Preferences     []float64
	IssuePriorities []float64
	Scalars         []float64
	CommittedChoice int
	RecentActions   []float64
	RecentRewards   []float64
}

// GetAgentState assembles the current row for agent index i.
func (m *Manager) GetAgentState(i int) (AgentStateView, bool) {
	if i < 0 || i >= len(m.ScalarStates) {
		return AgentStateView{}, false
	}
	return AgentStateView{
		Index:           i,
		Preferences:     append([]float64(nil), m.Preferences[i]...),
		IssuePriorities: append([]float64(nil), m.IssuePriorities[i]...),
		Scalars:         append([]float64(nil), m.ScalarStates[i]...),
		CommittedChoice: m.CommittedChoices[i],
		RecentActions:   m.ActionBuffers[i].Values(),
		RecentRewards:   m.RewardBuffers[i].Values(),
	}, true
}

// GetBatchStates assembles rows for every index in indices, skipping any
// out-of-range index rather than failing the whole batch.
func (m *Manager) GetBatchStates(indices []int) []AgentStateView {
	out := make([]AgentStateView, 0, len(indices))
	for _, i := range indices {
		if v, ok := m.GetAgentState(i); ok {
			out = append(out, v)
		}
	}
	return out
}

// UpdateAgentPreferences overwrites agent i's preference row and marks it
// dirty for the next write-behind flush.
func (m *Manager) UpdateAgentPreferences(i int, prefs []float64) {
	if i < 0 || i >= len(m.Preferences) {
		return
	}
	copy(m.Preferences[i], prefs)
	m.MarkDirty(i)
}

// UpdateAgentScalars overwrites agent i's scalar row and marks it dirty.
func (m *Manager) UpdateAgentScalars(i int, scalars []float64) {
	if i < 0 || i >= len(m.ScalarStates) {
		return
	}
	copy(m.ScalarStates[i], scalars)
	m.MarkDirty(i)
}

// CommitAgents writes CommittedChoice for the given agent indices, used when
// the ACT stage finalizes a decision, §4.1 step 4.
func (m *Manager) CommitAgents(choices map[int]int) {
	for i, choice := range choices {
		if i < 0 || i >= len(m.CommittedChoices) {
			continue
		}
		m.CommittedChoices[i] = choice
		m.MarkDirty(i)
	}
}

// RecordActions pushes one tick's action index and reward onto each agent's
// recency buffers, §4.1 UPDATE stage.
func (m *Manager) RecordActions(actionIndices map[int]int, rewards map[int]float64) {
	for i, a := range actionIndices {
		if i < 0 || i >= len(m.ActionBuffers) {
			continue
		}
		m.ActionBuffers[i].Push(float64(a))
		m.RewardBuffers[i].Push(rewards[i])
	}
}

// ApplyGlobalEvent merges key/value pairs into the shared GlobalState, used
// by EVENT_SCRIPT interventions that touch environment-wide state rather
// than a single agent, §4.3.
func (m *Manager) ApplyGlobalEvent(changes map[string]any) {
	for k, v := range changes {
		m.Global[k] = v
	}
}

// AdvanceTimeStep performs the bookkeeping a tick boundary requires beyond
// the Engine's own RunTick: checkpointing and write-behind flush. sink may be
// nil, in which case no flush is attempted this tick.
func (m *Manager) AdvanceTimeStep(tick int64, sink func([]int) error) error {
	m.MaybeCheckpoint(tick)
	if sink == nil {
		return nil
	}
	return m.FlushBatch(sink)
}

// StateObserver is notified after every AdvanceTimeStep call, §4.2 ("allow
// read-only observers such as a live dashboard without coupling the Manager
// to any particular transport").
type StateObserver interface {
	OnTickAdvanced(tick int64, m *Manager)
}

// AddObserver registers an observer to be notified by NotifyObservers.
func (m *Manager) AddObserver(o StateObserver) {
	m.observers = append(m.observers, o)
}

// NotifyObservers calls OnTickAdvanced on every registered observer. Callers
// invoke this explicitly after AdvanceTimeStep so observer errors (panics in
// a misbehaving observer) never contaminate the deterministic core.
func (m *Manager) NotifyObservers(tick int64) {
	for _, o := range m.observers {
		o.OnTickAdvanced(tick, m)
	}
}

// StateSummary is the compact, human-readable snapshot returned by
// GetStateSummary, used for progress reporting (§4.7 get_progress) without
// shipping the full dense matrices.
type StateSummary struct {
	PopulationSize   int
	CommittedCount   int
	UncommittedCount int
	GlobalKeys       []string
}

// GetStateSummary computes a StateSummary from the current Manager state.
func (m *Manager) GetStateSummary() StateSummary {
	s := StateSummary{PopulationSize: len(m.ScalarStates)}
	for _, c := range m.CommittedChoices {
		if c == -1 {
			s.UncommittedCount++
		} else {
			s.CommittedCount++
		}
	}
	s.GlobalKeys = make([]string, 0, len(m.Global))
	for k := range m.Global {
		s.GlobalKeys = append(s.GlobalKeys, k)
	}
	return s
}

// BindAgents attaches the Manager's owned agent slice, so the Manager and the
// engine.Agent records referenced by Engine.RunTick stay in sync by index.
func (m *Manager) BindAgents(agents []*engine.Agent) {
	m.Agents = agents
}
