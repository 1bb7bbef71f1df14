package telemetry

import (
	"sort"

	"github.com/scenariograph/predictive-sim/pkg/model"
)

// Writer accepts one tick at a time and decides whether to emit a keyframe or
// a delta, §4.4 "Writer contract". A Writer is single-consumer per run; it is
// not required to be thread-safe across runs.
type Writer struct {
	runID            model.ID
	seedUsed         int64
	keyframeInterval int64
	horizon          int64

	blob *model.TelemetryBlob

	prevAgentStates map[string]model.AgentState
	metricKeys      map[string]bool
	agentIDs        map[string]bool
}

// NewWriter constructs a Writer for one run.
func NewWriter(runID model.ID, seedUsed, keyframeInterval, horizon int64) *Writer {
	return &Writer{
		runID:            runID,
		seedUsed:         seedUsed,
		keyframeInterval: keyframeInterval,
		horizon:          horizon,
		blob: &model.TelemetryBlob{
			Version:       1,
			SchemaVersion: 1,
			RunID:         runID,
			SeedUsed:      seedUsed,
			MetricsSummary: map[string]float64{},
		},
		prevAgentStates: map[string]model.AgentState{},
		metricKeys:      map[string]bool{},
		agentIDs:        map[string]bool{},
	}
}

// WriteTick records one tick's state. It emits a keyframe at tick 0, at the
// final tick, and every keyframe_interval ticks; otherwise a delta containing
// only the agent fields that changed since the previous tick, §4.4.
func (w *Writer) WriteTick(tick int64, agentStates map[string]model.AgentState, envState model.Environment, events []model.Event, metrics map[string]float64) {
	w.blob.TicksExecuted = tick + 1
	for id := range agentStates {
		w.agentIDs[id] = true
	}
	for k := range metrics {
		w.metricKeys[k] = true
		w.blob.MetricsSummary[k] = metrics[k]
	}

	isKeyframe := tick == 0 || tick == w.horizon || (w.keyframeInterval > 0 && tick%w.keyframeInterval == 0)
	if isKeyframe {
		w.writeKeyframe(tick, agentStates, envState, metrics)
	} else {
		w.writeDelta(tick, agentStates, events, metrics)
	}

	w.blob.FinalStates = agentStates
	w.prevAgentStates = cloneAgentStates(agentStates)
}

func (w *Writer) writeKeyframe(tick int64, agentStates map[string]model.AgentState, envState model.Environment, metrics map[string]float64) {
	kf := model.Keyframe{
		Tick:             tick,
		AgentStates:      cloneAgentStates(agentStates),
		EnvironmentState: envState.Clone(),
		Metrics:          cloneMetrics(metrics),
	}
	w.blob.Keyframes = append(w.blob.Keyframes, kf)
	w.blob.Index.KeyframeTicks = append(w.blob.Index.KeyframeTicks, tick)
}

func (w *Writer) writeDelta(tick int64, agentStates map[string]model.AgentState, events []model.Event, metrics map[string]float64) {
	var updates []model.AgentUpdate
	ids := make([]string, 0, len(agentStates))
	for id := range agentStates {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		changed := diffAgentState(w.prevAgentStates[id], agentStates[id])
		if len(changed) > 0 {
			updates = append(updates, model.AgentUpdate{AgentID: id, Changed: changed})
		}
	}

	d := model.Delta{
		Tick:          tick,
		AgentUpdates:  updates,
		Events:        events,
		MetricUpdates: cloneMetrics(metrics),
	}
	w.blob.Deltas = append(w.blob.Deltas, d)
	if len(events) > 0 {
		w.blob.Index.EventIndex = append(w.blob.Index.EventIndex, model.EventIndexEntry{Tick: tick, Events: events})
	}
}

// Finish finalizes the index (sorted metric keys/agent ids) and auto-detects
// capabilities, returning the completed blob, §4.4.
func (w *Writer) Finish() *model.TelemetryBlob {
	for k := range w.metricKeys {
		w.blob.Index.MetricKeys = append(w.blob.Index.MetricKeys, k)
	}
	sort.Strings(w.blob.Index.MetricKeys)
	for id := range w.agentIDs {
		w.blob.Index.AgentIDs = append(w.blob.Index.AgentIDs, id)
	}
	sort.Strings(w.blob.Index.AgentIDs)
	w.blob.AgentCount = len(w.blob.Index.AgentIDs)
	w.blob.Capabilities = DetectCapabilities(w.blob)
	return w.blob
}

func diffAgentState(prev, cur model.AgentState) model.AgentState {
	changed := model.AgentState{}
	for k, v := range cur {
		if pv, ok := prev[k]; !ok || pv != v {
			changed[k] = v
		}
	}
	return changed
}

func cloneAgentStates(in map[string]model.AgentState) map[string]model.AgentState {
	out := make(map[string]model.AgentState, len(in))
	for id, s := range in {
		cp := make(model.AgentState, len(s))
		for k, v := range s {
			cp[k] = v
		}
		out[id] = cp
	}
	return out
}

func cloneMetrics(in map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
