package telemetry

import (
	"context"
	"sort"

	"github.com/niceyeti/channerics"

	"github.com/scenariograph/predictive-sim/pkg/model"
	"github.com/scenariograph/predictive-sim/pkg/simerrors"
)

// Reader implements the replay/read contract over a completed TelemetryBlob,
// §4.4 (C3: read-only; never triggers a simulation).
type Reader struct {
	blob *model.TelemetryBlob

	cache map[int64]map[string]model.AgentState
}

// NewReader wraps blob for querying.
func NewReader(blob *model.TelemetryBlob) *Reader {
	return &Reader{blob: blob, cache: map[int64]map[string]model.AgentState{}}
}

// GetStateAtTick locates the nearest keyframe K ≤ T, clones its state, and
// applies every delta in (K, T] in tick order. The result is cached;
// repeated calls return the same logical object, §4.4.
func (r *Reader) GetStateAtTick(t int64) (map[string]model.AgentState, error) {
	if cached, ok := r.cache[t]; ok {
		return cached, nil
	}

	kf, kfIdx, err := r.nearestKeyframeAtOrBefore(t)
	if err != nil {
		return nil, err
	}
	state := cloneAgentStates(kf.AgentStates)

	for _, d := range r.blob.Deltas {
		if d.Tick <= kf.Tick || d.Tick > t {
			continue
		}
		for _, upd := range d.AgentUpdates {
			cur, ok := state[upd.AgentID]
			if !ok {
				cur = model.AgentState{}
			}
			for k, v := range upd.Changed {
				cur[k] = v
			}
			state[upd.AgentID] = cur
		}
	}
	_ = kfIdx
	r.cache[t] = state
	return state, nil
}

func (r *Reader) nearestKeyframeAtOrBefore(t int64) (model.Keyframe, int, error) {
	best := -1
	for i, kf := range r.blob.Keyframes {
		if kf.Tick <= t && (best == -1 || kf.Tick > r.blob.Keyframes[best].Tick) {
			best = i
		}
	}
	if best == -1 {
		return model.Keyframe{}, -1, simerrors.New(simerrors.KindValidation, "", "no keyframe at or before requested tick")
	}
	return r.blob.Keyframes[best], best, nil
}

// ChunkItem is one keyframe or delta returned by GetChunk, tagged by kind so
// the consumer can tell them apart without a type switch on model types.
type ChunkItem struct {
	Tick     int64
	Keyframe *model.Keyframe
	Delta    *model.Delta
}

// GetChunk streams every keyframe and delta with ticks in [start, end], §4.4.
// The returned channel is closed when the range has been fully delivered or
// ctx is canceled. Keyframes and deltas each arrive in tick order, but the two
// source channels are combined with channerics.Merge, so the merged stream
// interleaves them with no guaranteed overall tick order.
func (r *Reader) GetChunk(ctx context.Context, start, end int64) <-chan ChunkItem {
	done := ctx.Done()

	kfChan := make(chan ChunkItem)
	go func() {
		defer close(kfChan)
		for i := range r.blob.Keyframes {
			kf := r.blob.Keyframes[i]
			if kf.Tick < start || kf.Tick > end {
				continue
			}
			select {
			case kfChan <- ChunkItem{Tick: kf.Tick, Keyframe: &kf}:
			case <-done:
				return
			}
		}
	}()

	deltaChan := make(chan ChunkItem)
	go func() {
		defer close(deltaChan)
		for i := range r.blob.Deltas {
			d := r.blob.Deltas[i]
			if d.Tick < start || d.Tick > end {
				continue
			}
			select {
			case deltaChan <- ChunkItem{Tick: d.Tick, Delta: &d}:
			case <-done:
				return
			}
		}
	}()

	merged := channerics.Merge[ChunkItem]([]<-chan ChunkItem{kfChan, deltaChan})
	return channerics.OrDone[ChunkItem](done, merged)
}

// GetAgentHistory traverses keyframes and deltas across [start, end],
// collecting every state snapshot where agentID is present, §4.4.
func (r *Reader) GetAgentHistory(agentID string, start, end int64) ([]model.AgentState, error) {
	var out []model.AgentState
	for t := start; t <= end; t++ {
		state, err := r.GetStateAtTick(t)
		if err != nil {
			continue
		}
		if s, ok := state[agentID]; ok {
			out = append(out, s)
		}
	}
	return out, nil
}

// GetEventsAtTick performs an O(log |event_index|) lookup via binary search
// over the sorted event index, §4.4.
func (r *Reader) GetEventsAtTick(t int64) []model.Event {
	idx := r.blob.Index.EventIndex
	i := sort.Search(len(idx), func(i int) bool { return idx[i].Tick >= t })
	if i < len(idx) && idx[i].Tick == t {
		return idx[i].Events
	}
	return nil
}
