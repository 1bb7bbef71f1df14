package universe

import (
	"context"
	"sync"
	"testing"

	"github.com/scenariograph/predictive-sim/pkg/model"
)

type memStore struct {
	mu       sync.Mutex
	nodes    map[model.ID]*model.Node
	edges    []*model.Edge
	children map[model.ID][]model.ID
	runs     map[model.ID][]*model.Run
	patches  map[model.ID]*model.NodePatch
}

func newMemStore() *memStore {
	return &memStore{
		nodes:    map[model.ID]*model.Node{},
		children: map[model.ID][]model.ID{},
		runs:     map[model.ID][]*model.Run{},
		patches:  map[model.ID]*model.NodePatch{},
	}
}

func (s *memStore) SavePatch(ctx context.Context, patch *model.NodePatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *patch
	s.patches[patch.ID] = &cp
	return nil
}

func (s *memStore) GetPatch(ctx context.Context, id model.ID) (*model.NodePatch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.patches[id]
	if !ok {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

func (s *memStore) SaveNode(ctx context.Context, n *model.Node) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := n.Snapshot()
	s.nodes[n.ID] = &cp
	if n.ParentID != nil {
		s.children[*n.ParentID] = append(s.children[*n.ParentID], n.ID)
	}
	return nil
}

func (s *memStore) GetNode(ctx context.Context, id model.ID) (*model.Node, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.nodes[id]
	if !ok {
		return nil, nil
	}
	cp := n.Snapshot()
	return &cp, nil
}

func (s *memStore) ListChildren(ctx context.Context, parentID model.ID) ([]*model.Node, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.Node
	for _, id := range s.children[parentID] {
		out = append(out, s.nodes[id])
	}
	return out, nil
}

func (s *memStore) SaveEdge(ctx context.Context, e *model.Edge) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.edges = append(s.edges, e)
	return nil
}

func (s *memStore) ListEdges(ctx context.Context, projectID model.ID) ([]*model.Edge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.edges, nil
}

func (s *memStore) ListRunsForNode(ctx context.Context, nodeID model.ID) ([]*model.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runs[nodeID], nil
}

func (s *memStore) CompareAndSwapNode(ctx context.Context, n *model.Node, expectedVersion int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur := s.nodes[n.ID]
	curVersion := int64(0)
	if cur.AggregatedOutcome != nil {
		curVersion = cur.AggregatedOutcome.Version
	}
	if curVersion != expectedVersion {
		return false, nil
	}
	cp := n.Snapshot()
	s.nodes[n.ID] = &cp
	return true, nil
}

func TestForkNodeDoesNotMutateParent(t *testing.T) {
	store := newMemStore()
	svc := New(store, nil, nil)
	ctx := context.Background()

	root, err := svc.CreateRootNode(ctx, model.NewID(), nil)
	if err != nil {
		t.Fatalf("CreateRootNode: %v", err)
	}
	before := root.Snapshot()

	intervention := model.Intervention{
		Type: model.InterventionVariableDelta,
		VariableDeltas: []model.VariableDelta{
			{Path: "$.policy_support", Operation: model.DeltaOpAdd, Value: 0.1},
		},
	}
	child, edge, patch, err := svc.ForkNode(ctx, root, intervention, "bump support")
	if err != nil {
		t.Fatalf("ForkNode: %v", err)
	}
	if child.Depth != root.Depth+1 {
		t.Fatalf("child depth = %d, want %d", child.Depth, root.Depth+1)
	}
	if edge.ParentID != root.ID || edge.ChildID != child.ID {
		t.Fatalf("edge endpoints wrong: %+v", edge)
	}
	if len(patch.Deltas) != 1 {
		t.Fatalf("expected 1 delta in patch, got %d", len(patch.Deltas))
	}
	if root.Depth != before.Depth || root.Probability != before.Probability {
		t.Fatalf("fork mutated parent node: before=%+v after=%+v", before, root)
	}
	if child.ScenarioPatchRef == nil || *child.ScenarioPatchRef != patch.ID {
		t.Fatalf("child.ScenarioPatchRef = %v, want %s", child.ScenarioPatchRef, patch.ID)
	}

	stored, err := store.GetPatch(ctx, *child.ScenarioPatchRef)
	if err != nil {
		t.Fatalf("GetPatch: %v", err)
	}
	if stored == nil || len(stored.Deltas) != 1 || stored.Deltas[0].Path != "$.policy_support" {
		t.Fatalf("persisted patch does not round-trip: %+v", stored)
	}
}

func TestForkNodeNLQueryWithoutTranslatorFails(t *testing.T) {
	store := newMemStore()
	svc := New(store, nil, nil)
	ctx := context.Background()

	root, _ := svc.CreateRootNode(ctx, model.NewID(), nil)
	_, _, _, err := svc.ForkNode(ctx, root, model.Intervention{Type: model.InterventionNLQuery, NLQuery: "raise awareness"}, "")
	if err == nil {
		t.Fatalf("expected error forking NL_QUERY without a translator")
	}
}

func TestAggregateRunsFoldsCompletedRuns(t *testing.T) {
	store := newMemStore()
	svc := New(store, nil, nil)
	ctx := context.Background()

	root, _ := svc.CreateRootNode(ctx, model.NewID(), nil)
	store.runs[root.ID] = []*model.Run{
		{Status: model.RunSucceeded, Outputs: model.RunOutputs{Outcomes: map[string]float64{"primary_outcome_probability": 0.9}}},
		{Status: model.RunSucceeded, Outputs: model.RunOutputs{Outcomes: map[string]float64{"primary_outcome_probability": 0.7}}},
		{Status: model.RunFailed},
	}

	if err := svc.AggregateRuns(ctx, root); err != nil {
		t.Fatalf("AggregateRuns: %v", err)
	}
	got, _ := store.GetNode(ctx, root.ID)
	if got.AggregatedOutcome == nil {
		t.Fatalf("expected aggregated outcome")
	}
	if got.AggregatedOutcome.Stats["primary_outcome_probability"].SampleCount != 2 {
		t.Fatalf("expected 2 samples, got %d", got.AggregatedOutcome.Stats["primary_outcome_probability"].SampleCount)
	}
	if got.Confidence != model.ConfidenceHigh {
		t.Fatalf("mean probability 0.8 should band to high, got %s", got.Confidence)
	}
}

func TestApplyDeltasAddAndSet(t *testing.T) {
	env := model.Environment{"policy_support": 0.5}
	out, err := ApplyDeltas(env, []model.VariableDelta{
		{Path: "$.policy_support", Operation: model.DeltaOpAdd, Value: 0.2},
	})
	if err != nil {
		t.Fatalf("ApplyDeltas: %v", err)
	}
	if out["policy_support"].(float64) != 0.7 {
		t.Fatalf("policy_support = %v, want 0.7", out["policy_support"])
	}
	if env["policy_support"].(float64) != 0.5 {
		t.Fatalf("ApplyDeltas mutated its input environment")
	}
}
