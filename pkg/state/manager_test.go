package state

import "testing"

func TestCircularBufferWrapsOldestFirst(t *testing.T) {
	b := NewCircularBuffer(3)
	b.Push(1)
	b.Push(2)
	b.Push(3)
	b.Push(4) // overwrites the 1

	got := b.Values()
	want := []float64{2, 3, 4}
	if len(got) != len(want) {
		t.Fatalf("Values() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Values() = %v, want %v", got, want)
		}
	}
}

func TestManagerGetAgentStateRoundTrip(t *testing.T) {
	m := NewManager(5, 3, 2, 4, 10, 3)
	m.UpdateAgentPreferences(2, []float64{0.1, 0.2, 0.3})
	m.UpdateAgentScalars(2, []float64{1, 2, 3, 4, 5, 6, 7})
	m.CommitAgents(map[int]int{2: 1})

	v, ok := m.GetAgentState(2)
	if !ok {
		t.Fatalf("GetAgentState(2) missing")
	}
	if v.CommittedChoice != 1 {
		t.Fatalf("CommittedChoice = %d, want 1", v.CommittedChoice)
	}
	if v.Preferences[1] != 0.2 {
		t.Fatalf("Preferences = %v", v.Preferences)
	}
}

func TestManagerCheckpointRollback(t *testing.T) {
	m := NewManager(2, 1, 1, 2, 2, 5)
	m.UpdateAgentScalars(0, []float64{1, 0, 0, 0, 0, 0, 0})
	m.MaybeCheckpoint(2) // checkpoint at tick 2 with scalar=1

	m.UpdateAgentScalars(0, []float64{9, 0, 0, 0, 0, 0, 0})
	m.MaybeCheckpoint(4) // checkpoint at tick 4 with scalar=9

	if !m.Rollback(2) {
		t.Fatalf("Rollback(2) failed")
	}
	if m.ScalarStates[0][0] != 1 {
		t.Fatalf("after rollback scalar = %v, want 1", m.ScalarStates[0][0])
	}
}

func TestManagerFlushBatchRespectsSize(t *testing.T) {
	m := NewManager(10, 1, 1, 1, 0, 0)
	m.BatchFlushSize = 3
	for i := 0; i < 5; i++ {
		m.MarkDirty(i)
	}

	var flushed []int
	err := m.FlushBatch(func(idxs []int) error {
		flushed = append(flushed, idxs...)
		return nil
	})
	if err != nil {
		t.Fatalf("FlushBatch: %v", err)
	}
	if len(flushed) != 3 {
		t.Fatalf("flushed %d rows, want 3", len(flushed))
	}
	if len(m.dirtyRows) != 2 {
		t.Fatalf("remaining dirty rows = %d, want 2", len(m.dirtyRows))
	}
}

func TestComputeAggregates(t *testing.T) {
	m := NewManager(4, 1, 1, 1, 0, 0)
	m.UpdateAgentScalars(0, []float64{10, 0, 0, 0, 0, 0, 0})
	m.UpdateAgentScalars(1, []float64{20, 0, 0, 0, 0, 0, 0})
	m.UpdateAgentScalars(2, []float64{30, 0, 0, 0, 0, 0, 0})
	m.UpdateAgentScalars(3, []float64{40, 0, 0, 0, 0, 0, 0})
	m.RegionIndex["north"] = []int{0, 1}
	m.RegionIndex["south"] = []int{2, 3}

	regions := m.ComputeRegionAggregates(ColEngagement)
	if regions["north"].Mean != 15 {
		t.Fatalf("north mean = %v, want 15", regions["north"].Mean)
	}
	if regions["south"].Mean != 35 {
		t.Fatalf("south mean = %v, want 35", regions["south"].Mean)
	}

	global := m.ComputeGlobalAggregates(ColEngagement)
	if global.Mean != 25 || global.Count != 4 {
		t.Fatalf("global = %+v, want mean 25 count 4", global)
	}
}

type countingObserver struct{ calls int }

func (c *countingObserver) OnTickAdvanced(tick int64, m *Manager) { c.calls++ }

func TestAdvanceTimeStepNotifiesObservers(t *testing.T) {
	m := NewManager(2, 1, 1, 1, 1, 1)
	obs := &countingObserver{}
	m.AddObserver(obs)

	if err := m.AdvanceTimeStep(1, nil); err != nil {
		t.Fatalf("AdvanceTimeStep: %v", err)
	}
	m.NotifyObservers(1)
	if obs.calls != 1 {
		t.Fatalf("observer calls = %d, want 1", obs.calls)
	}
}
