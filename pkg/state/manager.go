// Package state implements the State Manager, §4.2: the physical layout of
// the agent population and its checkpointed history.
package state

import (
	"github.com/scenariograph/predictive-sim/pkg/engine"
)

// Matrix is a dense (N×K) row-major slice-of-slices matrix.
type Matrix [][]float64

// Clone returns a deep copy.
func (m Matrix) Clone() Matrix {
	out := make(Matrix, len(m))
	for i, row := range m {
		out[i] = append([]float64(nil), row...)
	}
	return out
}

// GlobalState is the environment-wide state shared by every agent (time,
// aggregate counters, event flags), kept as a free-form map per §9 Design
// Notes ("Dynamic typing").
type GlobalState map[string]any

// Clone returns a shallow copy sufficient for checkpointing scalar/string
// values; nested maps are not deep-copied since GlobalState values are
// treated as immutable once written within a tick.
func (g GlobalState) Clone() GlobalState {
	out := make(GlobalState, len(g))
	for k, v := range g {
		out[k] = v
	}
	return out
}

// CircularBuffer is a fixed-capacity per-agent ring buffer used for recency
// computations, §4.2.
type CircularBuffer struct {
	data []float64
	cap  int
	next int
	full bool
}

// NewCircularBuffer allocates a buffer of the given capacity.
func NewCircularBuffer(capacity int) *CircularBuffer {
	return &CircularBuffer{data: make([]float64, capacity), cap: capacity}
}

// Push appends v, overwriting the oldest entry once the buffer is full.
func (b *CircularBuffer) Push(v float64) {
	if b.cap == 0 {
		return
	}
	b.data[b.next] = v
	b.next = (b.next + 1) % b.cap
	if b.next == 0 {
		b.full = true
	}
}

// Values returns the buffer contents in insertion order (oldest first).
func (b *CircularBuffer) Values() []float64 {
	if !b.full {
		return append([]float64(nil), b.data[:b.next]...)
	}
	out := make([]float64, 0, b.cap)
	out = append(out, b.data[b.next:]...)
	out = append(out, b.data[:b.next]...)
	return out
}

// Checkpoint is a compact, immutable snapshot taken every checkpoint_interval
// ticks, §4.2.
type Checkpoint struct {
	Tick            int64
	Global          GlobalState
	Preferences     Matrix
	IssuePriorities Matrix
	ScalarStates    Matrix
}

// Manager owns the population's dense matrices, sparse adjacency, circular
// buffers, region/demographic indices, and checkpoint history, §4.2.
type Manager struct {
	Agents          []*engine.Agent
	Preferences     Matrix // N×Kpref
	IssuePriorities Matrix // N×Kissue
	ScalarStates    Matrix // N×7
	CommittedChoices []int // sentinel -1 for uncommitted

	ActionBuffers []*CircularBuffer
	RewardBuffers []*CircularBuffer

	RegionIndex     map[string][]int // region label → agent indices
	DemographicIndex map[string][]int // demographic group label → agent indices

	Global GlobalState

	CheckpointInterval int64
	MaxCheckpoints     int
	checkpoints        []Checkpoint

	BatchFlushSize int
	dirtyRows      []int // agent indices pending write-behind persistence

	observers []StateObserver
}

// NewManager constructs a Manager for a population of the given size, with
// Kpref preference columns, Kissue issue-priority columns, and the given
// circular-buffer capacity.
func NewManager(n, kpref, kissue, bufferSize int, checkpointInterval int64, maxCheckpoints int) *Manager {
	m := &Manager{
		Preferences:        make(Matrix, n),
		IssuePriorities:    make(Matrix, n),
		ScalarStates:       make(Matrix, n),
		CommittedChoices:   make([]int, n),
		ActionBuffers:      make([]*CircularBuffer, n),
		RewardBuffers:      make([]*CircularBuffer, n),
		RegionIndex:        make(map[string][]int),
		DemographicIndex:   make(map[string][]int),
		Global:             make(GlobalState),
		CheckpointInterval: checkpointInterval,
		MaxCheckpoints:     maxCheckpoints,
	}
	for i := 0; i < n; i++ {
		m.Preferences[i] = make([]float64, kpref)
		m.IssuePriorities[i] = make([]float64, kissue)
		m.ScalarStates[i] = make([]float64, 7)
		m.CommittedChoices[i] = -1
		m.ActionBuffers[i] = NewCircularBuffer(bufferSize)
		m.RewardBuffers[i] = NewCircularBuffer(bufferSize)
	}
	return m
}

// MarkDirty records agent index i as needing a write-behind flush.
func (m *Manager) MarkDirty(i int) {
	m.dirtyRows = append(m.dirtyRows, i)
}

// FlushBatch drains up to BatchFlushSize dirty rows via sink. Persistence is
// write-behind and never affects determinism — telemetry, not the database,
// is the ground truth for replay, §4.2.
func (m *Manager) FlushBatch(sink func(agentIndices []int) error) error {
	if len(m.dirtyRows) == 0 {
		return nil
	}
	n := m.BatchFlushSize
	if n <= 0 || n > len(m.dirtyRows) {
		n = len(m.dirtyRows)
	}
	batch := m.dirtyRows[:n]
	if err := sink(batch); err != nil {
		return err
	}
	m.dirtyRows = m.dirtyRows[n:]
	return nil
}

// MaybeCheckpoint snapshots state if tick is a checkpoint boundary, evicting
// the oldest retained checkpoint once MaxCheckpoints is exceeded, §4.2.
func (m *Manager) MaybeCheckpoint(tick int64) {
	if m.CheckpointInterval <= 0 || tick%m.CheckpointInterval != 0 {
		return
	}
	cp := Checkpoint{
		Tick:            tick,
		Global:          m.Global.Clone(),
		Preferences:     m.Preferences.Clone(),
		IssuePriorities: m.IssuePriorities.Clone(),
		ScalarStates:    m.ScalarStates.Clone(),
	}
	m.checkpoints = append(m.checkpoints, cp)
	if len(m.checkpoints) > m.MaxCheckpoints {
		m.checkpoints = m.checkpoints[len(m.checkpoints)-m.MaxCheckpoints:]
	}
}

// Rollback restores the most recent checkpoint at or before tick, for
// internal retry logic only — never exposed to finished runs, since completed
// telemetry is immutable (C3), §4.2.
func (m *Manager) Rollback(tick int64) bool {
	for i := len(m.checkpoints) - 1; i >= 0; i-- {
		cp := m.checkpoints[i]
		if cp.Tick <= tick {
			m.Global = cp.Global.Clone()
			m.Preferences = cp.Preferences.Clone()
			m.IssuePriorities = cp.IssuePriorities.Clone()
			m.ScalarStates = cp.ScalarStates.Clone()
			return true
		}
	}
	return false
}
