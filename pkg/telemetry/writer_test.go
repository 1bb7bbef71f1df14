package telemetry

import (
	"context"
	"testing"

	"github.com/scenariograph/predictive-sim/pkg/model"
)

func agentStates(vals map[string]float64) map[string]model.AgentState {
	out := make(map[string]model.AgentState, len(vals))
	for id, v := range vals {
		out[id] = model.AgentState{"engagement": v}
	}
	return out
}

func TestWriterKeyframeAndDeltaBoundaries(t *testing.T) {
	w := NewWriter(model.NewID(), 1, 5, 10)

	w.WriteTick(0, agentStates(map[string]float64{"a1": 1, "a2": 2}), model.Environment{}, nil, nil)
	w.WriteTick(1, agentStates(map[string]float64{"a1": 1, "a2": 3}), model.Environment{}, nil, nil)
	w.WriteTick(5, agentStates(map[string]float64{"a1": 1, "a2": 4}), model.Environment{}, nil, nil)
	w.WriteTick(10, agentStates(map[string]float64{"a1": 1, "a2": 5}), model.Environment{}, nil, nil)

	blob := w.Finish()

	if len(blob.Keyframes) != 3 {
		t.Fatalf("expected keyframes at 0, 5, 10 (3 total), got %d", len(blob.Keyframes))
	}
	if len(blob.Deltas) != 1 {
		t.Fatalf("expected 1 delta (tick 1), got %d", len(blob.Deltas))
	}
	d := blob.Deltas[0]
	if len(d.AgentUpdates) != 1 || d.AgentUpdates[0].AgentID != "a2" {
		t.Fatalf("expected only a2 to change at tick 1, got %+v", d.AgentUpdates)
	}
}

func TestReaderGetStateAtTickAppliesDeltas(t *testing.T) {
	w := NewWriter(model.NewID(), 1, 10, 10)
	w.WriteTick(0, agentStates(map[string]float64{"a1": 1}), model.Environment{}, nil, nil)
	w.WriteTick(3, agentStates(map[string]float64{"a1": 5}), model.Environment{}, nil, nil)
	blob := w.Finish()

	r := NewReader(blob)
	state, err := r.GetStateAtTick(3)
	if err != nil {
		t.Fatalf("GetStateAtTick: %v", err)
	}
	if state["a1"]["engagement"] != 5.0 {
		t.Fatalf("expected engagement=5 at tick 3, got %v", state["a1"]["engagement"])
	}
}

func TestReaderGetChunkStreamsInRange(t *testing.T) {
	w := NewWriter(model.NewID(), 1, 10, 10)
	w.WriteTick(0, agentStates(map[string]float64{"a1": 1}), model.Environment{}, nil, nil)
	w.WriteTick(2, agentStates(map[string]float64{"a1": 2}), model.Environment{}, nil, nil)
	blob := w.Finish()

	r := NewReader(blob)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var count int
	for item := range r.GetChunk(ctx, 0, 2) {
		if item.Tick < 0 || item.Tick > 2 {
			t.Fatalf("item out of range: %+v", item)
		}
		count++
	}
	if count != 2 {
		t.Fatalf("expected 2 items (1 keyframe + 1 delta), got %d", count)
	}
}

func TestCanonicalJSONDeterministic(t *testing.T) {
	w := NewWriter(model.NewID(), 7, 10, 10)
	w.WriteTick(0, agentStates(map[string]float64{"a1": 1, "a2": 2}), model.Environment{"k": 1}, nil, map[string]float64{"score": 0.5})
	blob := w.Finish()

	b1, err := CanonicalJSON(blob)
	if err != nil {
		t.Fatalf("CanonicalJSON: %v", err)
	}
	b2, err := CanonicalJSON(blob)
	if err != nil {
		t.Fatalf("CanonicalJSON: %v", err)
	}
	if string(b1) != string(b2) {
		t.Fatalf("CanonicalJSON not deterministic across calls")
	}
	if ContentHash(b1) != ContentHash(b2) {
		t.Fatalf("ContentHash not deterministic across calls")
	}
}
