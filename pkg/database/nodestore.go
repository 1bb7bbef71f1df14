package database

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/scenariograph/predictive-sim/pkg/model"
	"github.com/scenariograph/predictive-sim/pkg/universe"
)

// NodeStore is the pgx-backed universe.Store implementation, §4.3/§5.
type NodeStore struct {
	client *Client
}

var _ universe.Store = (*NodeStore)(nil)

// NewNodeStore wraps client for Universe Map persistence.
func NewNodeStore(client *Client) *NodeStore { return &NodeStore{client: client} }

// SaveNode upserts a node, including its optimistic-concurrency version.
func (s *NodeStore) SaveNode(ctx context.Context, n *model.Node) error {
	aggregated, err := json.Marshal(n.AggregatedOutcome)
	if err != nil {
		return err
	}
	var version int64
	if n.AggregatedOutcome != nil {
		version = n.AggregatedOutcome.Version
	}
	_, err = s.client.pool.Exec(ctx, `
		INSERT INTO nodes (id, project_id, parent_id, depth, scenario_patch_ref, run_refs,
			aggregated_outcome, probability, cumulative_probability, confidence,
			is_baseline, is_stale, min_ensemble_size, version)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
		ON CONFLICT (id) DO UPDATE SET
			parent_id = EXCLUDED.parent_id,
			depth = EXCLUDED.depth,
			scenario_patch_ref = EXCLUDED.scenario_patch_ref,
			run_refs = EXCLUDED.run_refs,
			aggregated_outcome = EXCLUDED.aggregated_outcome,
			probability = EXCLUDED.probability,
			cumulative_probability = EXCLUDED.cumulative_probability,
			confidence = EXCLUDED.confidence,
			is_baseline = EXCLUDED.is_baseline,
			is_stale = EXCLUDED.is_stale,
			min_ensemble_size = EXCLUDED.min_ensemble_size,
			version = EXCLUDED.version
	`, n.ID, n.ProjectID, n.ParentID, n.Depth, n.ScenarioPatchRef, n.RunRefs,
		aggregated, n.Probability, n.CumulativeProbability, string(n.Confidence),
		n.IsBaseline, n.IsStale, n.MinEnsembleSize, version)
	return err
}

// GetNode fetches a single node by id.
func (s *NodeStore) GetNode(ctx context.Context, id model.ID) (*model.Node, error) {
	row := s.client.pool.QueryRow(ctx, `
		SELECT id, project_id, parent_id, depth, scenario_patch_ref, run_refs,
			aggregated_outcome, probability, cumulative_probability, confidence,
			is_baseline, is_stale, min_ensemble_size
		FROM nodes WHERE id = $1
	`, id)
	return scanNode(row)
}

// ListChildren returns every node whose parent_id matches parentID.
func (s *NodeStore) ListChildren(ctx context.Context, parentID model.ID) ([]*model.Node, error) {
	rows, err := s.client.pool.Query(ctx, `
		SELECT id, project_id, parent_id, depth, scenario_patch_ref, run_refs,
			aggregated_outcome, probability, cumulative_probability, confidence,
			is_baseline, is_stale, min_ensemble_size
		FROM nodes WHERE parent_id = $1
	`, parentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectNodes(rows)
}

// SaveEdge inserts an immutable parent→child edge.
func (s *NodeStore) SaveEdge(ctx context.Context, e *model.Edge) error {
	intervention, err := json.Marshal(e.Intervention)
	if err != nil {
		return err
	}
	_, err = s.client.pool.Exec(ctx, `
		INSERT INTO edges (id, parent_id, child_id, intervention, explanation)
		VALUES ($1,$2,$3,$4,$5)
	`, e.ID, e.ParentID, e.ChildID, intervention, e.Explanation)
	return err
}

// ListEdges returns every edge whose endpoints belong to projectID.
func (s *NodeStore) ListEdges(ctx context.Context, projectID model.ID) ([]*model.Edge, error) {
	rows, err := s.client.pool.Query(ctx, `
		SELECT e.id, e.parent_id, e.child_id, e.intervention, e.explanation
		FROM edges e
		JOIN nodes n ON n.id = e.parent_id
		WHERE n.project_id = $1
	`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.Edge
	for rows.Next() {
		var e model.Edge
		var intervention []byte
		if err := rows.Scan(&e.ID, &e.ParentID, &e.ChildID, &intervention, &e.Explanation); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(intervention, &e.Intervention); err != nil {
			return nil, err
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}

// ListRunsForNode returns every Run recorded against nodeID.
func (s *NodeStore) ListRunsForNode(ctx context.Context, nodeID model.ID) ([]*model.Run, error) {
	rows, err := s.client.pool.Query(ctx, `
		SELECT id, project_id, node_id, run_config_ref, status, actual_seed,
			created_at, started_at, finished_at, outputs, error
		FROM runs WHERE node_id = $1
	`, nodeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectRuns(rows)
}

// ListStaleNodes returns every node in projectID with is_stale set, for the
// scheduler's periodic staleness scan.
func (s *NodeStore) ListStaleNodes(ctx context.Context, projectID model.ID) ([]*model.Node, error) {
	rows, err := s.client.pool.Query(ctx, `
		SELECT id, project_id, parent_id, depth, scenario_patch_ref, run_refs,
			aggregated_outcome, probability, cumulative_probability, confidence,
			is_baseline, is_stale, min_ensemble_size
		FROM nodes WHERE project_id = $1 AND is_stale = true
	`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectNodes(rows)
}

// CompareAndSwapNode persists n only if the stored version still matches
// expectedVersion, §5 optimistic concurrency.
func (s *NodeStore) CompareAndSwapNode(ctx context.Context, n *model.Node, expectedVersion int64) (bool, error) {
	aggregated, err := json.Marshal(n.AggregatedOutcome)
	if err != nil {
		return false, err
	}
	var newVersion int64
	if n.AggregatedOutcome != nil {
		newVersion = n.AggregatedOutcome.Version
	}
	tag, err := s.client.pool.Exec(ctx, `
		UPDATE nodes SET
			aggregated_outcome = $1, probability = $2, cumulative_probability = $3,
			confidence = $4, is_stale = $5, version = $6
		WHERE id = $7 AND version = $8
	`, aggregated, n.Probability, n.CumulativeProbability, string(n.Confidence),
		n.IsStale, newVersion, n.ID, expectedVersion)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// SavePatch inserts a NodePatch derived at fork time. Patches are immutable
// once created (one per edge), so this never needs an upsert.
func (s *NodeStore) SavePatch(ctx context.Context, patch *model.NodePatch) error {
	deltas, err := json.Marshal(patch.Deltas)
	if err != nil {
		return err
	}
	scripts, err := json.Marshal(patch.Scripts)
	if err != nil {
		return err
	}
	_, err = s.client.pool.Exec(ctx, `
		INSERT INTO node_patches (id, edge_id, deltas, scripts)
		VALUES ($1,$2,$3,$4)
	`, patch.ID, patch.EdgeID, deltas, scripts)
	return err
}

// GetPatch fetches a NodePatch by id.
func (s *NodeStore) GetPatch(ctx context.Context, id model.ID) (*model.NodePatch, error) {
	row := s.client.pool.QueryRow(ctx, `
		SELECT id, edge_id, deltas, scripts FROM node_patches WHERE id = $1
	`, id)
	var patch model.NodePatch
	var deltas, scripts []byte
	if err := row.Scan(&patch.ID, &patch.EdgeID, &deltas, &scripts); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if err := json.Unmarshal(deltas, &patch.Deltas); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(scripts, &patch.Scripts); err != nil {
		return nil, err
	}
	return &patch, nil
}

func scanNode(row pgx.Row) (*model.Node, error) {
	var n model.Node
	var aggregated []byte
	var confidence string
	if err := row.Scan(&n.ID, &n.ProjectID, &n.ParentID, &n.Depth, &n.ScenarioPatchRef, &n.RunRefs,
		&aggregated, &n.Probability, &n.CumulativeProbability, &confidence,
		&n.IsBaseline, &n.IsStale, &n.MinEnsembleSize); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	n.Confidence = model.ConfidenceLevel(confidence)
	if len(aggregated) > 0 && string(aggregated) != "null" {
		if err := json.Unmarshal(aggregated, &n.AggregatedOutcome); err != nil {
			return nil, err
		}
	}
	return &n, nil
}

func collectNodes(rows pgx.Rows) ([]*model.Node, error) {
	var out []*model.Node
	for rows.Next() {
		var n model.Node
		var aggregated []byte
		var confidence string
		if err := rows.Scan(&n.ID, &n.ProjectID, &n.ParentID, &n.Depth, &n.ScenarioPatchRef, &n.RunRefs,
			&aggregated, &n.Probability, &n.CumulativeProbability, &confidence,
			&n.IsBaseline, &n.IsStale, &n.MinEnsembleSize); err != nil {
			return nil, err
		}
		n.Confidence = model.ConfidenceLevel(confidence)
		if len(aggregated) > 0 && string(aggregated) != "null" {
			if err := json.Unmarshal(aggregated, &n.AggregatedOutcome); err != nil {
				return nil, err
			}
		}
		out = append(out, &n)
	}
	return out, rows.Err()
}

func collectRuns(rows pgx.Rows) ([]*model.Run, error) {
	var out []*model.Run
	for rows.Next() {
		var r model.Run
		var status string
		var outputs, errInfo []byte
		if err := rows.Scan(&r.ID, &r.ProjectID, &r.NodeID, &r.RunConfigRef, &status, &r.ActualSeed,
			&r.CreatedAt, &r.StartedAt, &r.FinishedAt, &outputs, &errInfo); err != nil {
			return nil, err
		}
		r.Status = model.RunStatus(status)
		if len(outputs) > 0 {
			if err := json.Unmarshal(outputs, &r.Outputs); err != nil {
				return nil, err
			}
		}
		if len(errInfo) > 0 && string(errInfo) != "null" {
			if err := json.Unmarshal(errInfo, &r.Error); err != nil {
				return nil, err
			}
		}
		out = append(out, &r)
	}
	return out, rows.Err()
}
