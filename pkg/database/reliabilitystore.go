package database

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/scenariograph/predictive-sim/pkg/evidence"
	"github.com/scenariograph/predictive-sim/pkg/model"
)

// ReliabilityStore is the pgx-backed evidence.ScoreStore implementation,
// §4.6. One row per Run: reliability_scores.run_id is UNIQUE, so a Run is
// scored at most once, but a node accumulates one score per Run that
// referenced it.
type ReliabilityStore struct {
	client *Client
}

var _ evidence.ScoreStore = (*ReliabilityStore)(nil)

// NewReliabilityStore wraps client for reliability score persistence.
func NewReliabilityStore(client *Client) *ReliabilityStore {
	return &ReliabilityStore{client: client}
}

// SaveScore records score against runID/nodeID.
func (s *ReliabilityStore) SaveScore(ctx context.Context, runID, nodeID model.ID, score evidence.ReliabilityScore) error {
	weights, err := json.Marshal(score.Weights)
	if err != nil {
		return err
	}
	components, err := json.Marshal(score.Components)
	if err != nil {
		return err
	}
	_, err = s.client.pool.Exec(ctx, `
		INSERT INTO reliability_scores (id, run_id, node_id, score, level, weights, components)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT (run_id) DO UPDATE SET
			score = EXCLUDED.score,
			level = EXCLUDED.level,
			weights = EXCLUDED.weights,
			components = EXCLUDED.components
	`, model.NewID(), runID, nodeID, score.Score, string(score.Level), weights, components)
	return err
}

// LatestForNode returns the most recently computed score for nodeID, or nil
// if none exists yet.
func (s *ReliabilityStore) LatestForNode(ctx context.Context, nodeID model.ID) (*evidence.ReliabilityScore, error) {
	row := s.client.pool.QueryRow(ctx, `
		SELECT score, level, weights, components
		FROM reliability_scores
		WHERE node_id = $1
		ORDER BY computed_at DESC
		LIMIT 1
	`, nodeID)

	var score evidence.ReliabilityScore
	var level string
	var weights, components []byte
	if err := row.Scan(&score.Score, &level, &weights, &components); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	score.Level = evidence.ReliabilityLevel(level)
	if err := json.Unmarshal(weights, &score.Weights); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(components, &score.Components); err != nil {
		return nil, err
	}
	return &score, nil
}
