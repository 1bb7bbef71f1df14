package universe

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/scenariograph/predictive-sim/pkg/model"
	"github.com/scenariograph/predictive-sim/pkg/simerrors"
)

// Store is the persistence seam the Service depends on. A pgx-backed
// implementation lives in pkg/database; tests use an in-memory Store.
type Store interface {
	SaveNode(ctx context.Context, n *model.Node) error
	GetNode(ctx context.Context, id model.ID) (*model.Node, error)
	ListChildren(ctx context.Context, parentID model.ID) ([]*model.Node, error)
	SaveEdge(ctx context.Context, e *model.Edge) error
	ListEdges(ctx context.Context, projectID model.ID) ([]*model.Edge, error)
	ListRunsForNode(ctx context.Context, nodeID model.ID) ([]*model.Run, error)
	// CompareAndSwapNode persists n only if the stored node's
	// AggregatedOutcome.Version still equals expectedVersion, §5 optimistic
	// concurrency. Returns false without error on a version conflict.
	CompareAndSwapNode(ctx context.Context, n *model.Node, expectedVersion int64) (bool, error)
	// SavePatch persists a NodePatch derived at fork time, §4.3 NodePatch.
	SavePatch(ctx context.Context, patch *model.NodePatch) error
	// GetPatch fetches a previously persisted NodePatch by id.
	GetPatch(ctx context.Context, id model.ID) (*model.NodePatch, error)
}

// ReliabilityAdjuster supplies the §4.5 reliability-derived confidence
// adjustment applied during aggregate_runs; the Node Service depends on it
// through this narrow seam rather than importing pkg/evidence directly,
// keeping the DAG layer free of the scoring algorithm's internals.
type ReliabilityAdjuster interface {
	AdjustConfidence(ctx context.Context, nodeID model.ID, rawProbability float64) (model.ConfidenceLevel, error)
}

// Service implements the Node/Universe Service, §4.3.
type Service struct {
	store       Store
	reliability ReliabilityAdjuster
	translator  NLPatchTranslator // optional; required only for NL_QUERY forks

	mu sync.Mutex // serializes fork_node's read-modify-write of parent.depth-derived fields
}

// New constructs a Service. translator may be nil if NL_QUERY forks are never
// issued in this deployment.
func New(store Store, reliability ReliabilityAdjuster, translator NLPatchTranslator) *Service {
	return &Service{store: store, reliability: reliability, translator: translator}
}

// CreateRootNode creates a baseline node at depth 0, §4.3.
func (s *Service) CreateRootNode(ctx context.Context, projectID model.ID, scenarioPatchRef *model.ID) (*model.Node, error) {
	n := &model.Node{
		ID:               model.NewID(),
		ProjectID:        projectID,
		Depth:            0,
		ScenarioPatchRef: scenarioPatchRef,
		IsBaseline:       true,
		Probability:      1,
		CumulativeProbability: 1,
		MinEnsembleSize:  1,
	}
	if err := s.store.SaveNode(ctx, n); err != nil {
		return nil, simerrors.Wrap(simerrors.KindInternal, "", err)
	}
	return n, nil
}

// ForkNode creates a child node at parent.Depth+1, deriving the NodePatch
// from intervention. A fork whose NL intervention fails translation is
// rejected and no node is created, §4.3 "Failure semantics".
func (s *Service) ForkNode(ctx context.Context, parent *model.Node, intervention model.Intervention, explanation string) (*model.Node, *model.Edge, *model.NodePatch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	effective := intervention
	if intervention.Type == model.InterventionNLQuery {
		if s.translator == nil {
			return nil, nil, nil, simerrors.New(simerrors.KindValidation, "", "NL_QUERY fork requested but no NL patch translator is configured")
		}
		var parentEnv model.Environment
		translated, err := s.translator.Translate(ctx, intervention.NLQuery, parentEnv)
		if err != nil {
			return nil, nil, nil, simerrors.Wrap(simerrors.KindValidation, "", fmt.Errorf("NL intervention translation failed: %w", err))
		}
		effective = translated
	}

	childID := model.NewID()
	edge := &model.Edge{
		ID:           model.NewID(),
		ParentID:     parent.ID,
		ChildID:      childID,
		Intervention: effective,
		Explanation:  explanation,
	}

	patch, err := DeriveNodePatch(effective, edge.ID)
	if err != nil {
		return nil, nil, nil, err
	}

	child := &model.Node{
		ID:               childID,
		ProjectID:        parent.ProjectID,
		ParentID:         &parent.ID,
		Depth:            parent.Depth + 1,
		ScenarioPatchRef: &patch.ID,
		Probability:      1,
		MinEnsembleSize:  1,
	}
	child.CumulativeProbability = parent.CumulativeProbability * child.Probability

	if err := s.store.SaveNode(ctx, child); err != nil {
		return nil, nil, nil, simerrors.Wrap(simerrors.KindInternal, "", err)
	}
	if err := s.store.SaveEdge(ctx, edge); err != nil {
		return nil, nil, nil, simerrors.Wrap(simerrors.KindInternal, "", err)
	}
	if err := s.store.SavePatch(ctx, &patch); err != nil {
		return nil, nil, nil, simerrors.Wrap(simerrors.KindInternal, "", err)
	}
	return child, edge, &patch, nil
}

// GetNode fetches a single node by id, exposed for callers outside the DAG
// operations (the Simulation Orchestrator's executor, in particular) that
// need node metadata such as ScenarioPatchRef before a Run starts.
func (s *Service) GetNode(ctx context.Context, id model.ID) (*model.Node, error) {
	n, err := s.store.GetNode(ctx, id)
	if err != nil {
		return nil, simerrors.Wrap(simerrors.KindInternal, id.String(), err)
	}
	return n, nil
}

// ResolveScenarioEnvironment builds the Environment a Run should materialize
// its initial world from: node's persisted NodePatch, if any, applied to an
// empty baseline environment, §4.7 step 1 "materialize the initial world from
// the node's scenario patch". A root node with no ScenarioPatchRef resolves
// to an empty environment, matching the baseline/unperturbed world.
func (s *Service) ResolveScenarioEnvironment(ctx context.Context, node *model.Node) (model.Environment, error) {
	env := model.Environment{}
	if node == nil || node.ScenarioPatchRef == nil {
		return env, nil
	}
	patch, err := s.store.GetPatch(ctx, *node.ScenarioPatchRef)
	if err != nil {
		return nil, simerrors.Wrap(simerrors.KindInternal, node.ID.String(), err)
	}
	if patch == nil {
		return env, nil
	}
	return ApplyNodePatch(env, *patch)
}

// AggregateRuns recomputes node.AggregatedOutcome from every SUCCEEDED run
// referencing node, §4.3 aggregate_runs. It is a deterministic fold: for
// each outcome key, (mean, variance, min, max, sample_count) across completed
// runs. Aggregation only ever narrows or replaces the current aggregate; it
// never deletes prior run references (§4.3 invariant).
func (s *Service) AggregateRuns(ctx context.Context, node *model.Node) error {
	runs, err := s.store.ListRunsForNode(ctx, node.ID)
	if err != nil {
		return simerrors.Wrap(simerrors.KindInternal, "", err)
	}

	sums := map[string][]float64{}
	var primaryProbSum float64
	var succeeded int
	for _, r := range runs {
		if r.Status != model.RunSucceeded {
			continue
		}
		succeeded++
		for k, v := range r.Outputs.Outcomes {
			sums[k] = append(sums[k], v)
		}
		if po, ok := r.Outputs.Outcomes["primary_outcome_probability"]; ok {
			primaryProbSum += po
		}
	}

	stats := make(map[string]model.OutcomeStat, len(sums))
	for k, vals := range sums {
		stats[k] = foldStat(vals)
	}

	snapshot := node.Snapshot()
	expectedVersion := int64(0)
	if snapshot.AggregatedOutcome != nil {
		expectedVersion = snapshot.AggregatedOutcome.Version
	}

	var probability float64
	if succeeded > 0 {
		probability = primaryProbSum / float64(succeeded)
	}

	confidence := bandConfidence(probability)
	if s.reliability != nil {
		if adjusted, err := s.reliability.AdjustConfidence(ctx, node.ID, probability); err == nil {
			confidence = adjusted
		}
	}

	next := node.Snapshot()
	next.AggregatedOutcome = &model.AggregatedOutcome{
		Stats:                     stats,
		PrimaryOutcome:            "primary_outcome_probability",
		PrimaryOutcomeProbability: probability,
		Version:                   expectedVersion + 1,
	}
	next.Probability = probability
	next.Confidence = confidence

	ok, err := s.store.CompareAndSwapNode(ctx, &next, expectedVersion)
	if err != nil {
		return simerrors.Wrap(simerrors.KindInternal, node.ID.String(), err)
	}
	if !ok {
		return simerrors.New(simerrors.KindDeterminismViolation, node.ID.String(), "aggregate_runs lost an optimistic-concurrency race; retry")
	}
	return nil
}

func foldStat(vals []float64) model.OutcomeStat {
	if len(vals) == 0 {
		return model.OutcomeStat{}
	}
	var sum float64
	min, max := math.Inf(1), math.Inf(-1)
	for _, v := range vals {
		sum += v
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}
	mean := sum / float64(len(vals))
	var variance float64
	for _, v := range vals {
		d := v - mean
		variance += d * d
	}
	variance /= float64(len(vals))
	return model.OutcomeStat{Mean: mean, Variance: variance, Min: min, Max: max, SampleCount: len(vals)}
}

// bandConfidence applies the three-tier band: high ≥ 0.8, medium ≥ 0.6, low
// otherwise, §4.3.
func bandConfidence(probability float64) model.ConfidenceLevel {
	switch {
	case probability >= 0.8:
		return model.ConfidenceHigh
	case probability >= 0.6:
		return model.ConfidenceMedium
	default:
		return model.ConfidenceLow
	}
}

// UniverseMapData is the subgraph returned by GetUniverseMapData, §4.3.
type UniverseMapData struct {
	Nodes []*model.Node
	Edges []*model.Edge
}

// GetUniverseMapData returns the subgraph rooted at project, optionally
// limited to maxDepth and/or only nodes with at least one run, §4.3.
func (s *Service) GetUniverseMapData(ctx context.Context, projectID model.ID, maxDepth *int, exploredOnly bool) (*UniverseMapData, error) {
	edges, err := s.store.ListEdges(ctx, projectID)
	if err != nil {
		return nil, simerrors.Wrap(simerrors.KindInternal, "", err)
	}

	seen := map[model.ID]*model.Node{}
	var walk func(id model.ID) error
	walk = func(id model.ID) error {
		if _, ok := seen[id]; ok {
			return nil
		}
		n, err := s.store.GetNode(ctx, id)
		if err != nil {
			return err
		}
		if n == nil {
			return nil
		}
		if maxDepth != nil && n.Depth > *maxDepth {
			return nil
		}
		if exploredOnly && len(n.RunRefs) == 0 {
			return nil
		}
		seen[id] = n
		children, err := s.store.ListChildren(ctx, id)
		if err != nil {
			return err
		}
		for _, c := range children {
			if err := walk(c.ID); err != nil {
				return err
			}
		}
		return nil
	}

	roots := map[model.ID]bool{}
	for _, e := range edges {
		roots[e.ParentID] = true
	}
	for parentID := range roots {
		if err := walk(parentID); err != nil {
			return nil, simerrors.Wrap(simerrors.KindInternal, "", err)
		}
	}

	out := &UniverseMapData{}
	for _, n := range seen {
		out.Nodes = append(out.Nodes, n)
	}
	sort.Slice(out.Nodes, func(i, j int) bool { return out.Nodes[i].ID.String() < out.Nodes[j].ID.String() })
	for _, e := range edges {
		if _, ok := seen[e.ParentID]; ok {
			if _, ok2 := seen[e.ChildID]; ok2 {
				out.Edges = append(out.Edges, e)
			}
		}
	}
	return out, nil
}

// NodeComparison is one node's statistics in a CompareNodes response, §4.3.
type NodeComparison struct {
	NodeID model.ID
	Stats  map[string]model.OutcomeStat
}

// CompareNodes returns side-by-side statistics on the given nodes' aggregated
// outcomes, §4.3.
func (s *Service) CompareNodes(ctx context.Context, ids []model.ID) ([]NodeComparison, error) {
	out := make([]NodeComparison, 0, len(ids))
	for _, id := range ids {
		n, err := s.store.GetNode(ctx, id)
		if err != nil {
			return nil, simerrors.Wrap(simerrors.KindInternal, "", err)
		}
		if n == nil {
			return nil, simerrors.New(simerrors.KindValidation, "", fmt.Sprintf("node %s not found", id))
		}
		cmp := NodeComparison{NodeID: id}
		if n.AggregatedOutcome != nil {
			cmp.Stats = n.AggregatedOutcome.Stats
		}
		out = append(out, cmp)
	}
	return out, nil
}

// QueueNodeRefresh constructs a new Run for node if is_stale and clears the
// flag after queuing, §4.3. queueFn is the caller-supplied run-creation
// callback (typically the Simulation Orchestrator's CreateRun).
func (s *Service) QueueNodeRefresh(ctx context.Context, node *model.Node, queueFn func(ctx context.Context, node *model.Node) error) error {
	if !node.IsStale {
		return nil
	}
	if err := queueFn(ctx, node); err != nil {
		return err
	}
	node.IsStale = false
	return s.store.SaveNode(ctx, node)
}

// RunNodeEnsemble creates len(seeds) child Runs for node and raises
// min_ensemble_size to max(current, len(seeds)), §4.3.
func (s *Service) RunNodeEnsemble(ctx context.Context, node *model.Node, seeds []int64, queueFn func(ctx context.Context, node *model.Node, seed int64) error) error {
	for _, seed := range seeds {
		if err := queueFn(ctx, node, seed); err != nil {
			return err
		}
	}
	if len(seeds) > node.MinEnsembleSize {
		node.MinEnsembleSize = len(seeds)
	}
	return s.store.SaveNode(ctx, node)
}
