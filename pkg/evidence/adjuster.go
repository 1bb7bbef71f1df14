package evidence

import (
	"context"

	"github.com/scenariograph/predictive-sim/pkg/model"
)

// ScoreStore persists and retrieves ReliabilityScore rows, the seam
// pkg/database's pgx-backed ReliabilityStore satisfies.
type ScoreStore interface {
	SaveScore(ctx context.Context, runID, nodeID model.ID, score ReliabilityScore) error
	LatestForNode(ctx context.Context, nodeID model.ID) (*ReliabilityScore, error)
}

// Adjuster implements universe.ReliabilityAdjuster: it bands a node's raw
// outcome probability the same way the Node Service's own default does
// (§4.3), then downgrades that band when the node's most recently computed
// reliability score says the underlying evidence is thin, §4.6. A node with
// no reliability score yet (its first Run) falls back to the raw band.
type Adjuster struct {
	scores ScoreStore
}

// NewAdjuster constructs an Adjuster backed by scores.
func NewAdjuster(scores ScoreStore) *Adjuster {
	return &Adjuster{scores: scores}
}

// AdjustConfidence satisfies universe.ReliabilityAdjuster.
func (a *Adjuster) AdjustConfidence(ctx context.Context, nodeID model.ID, rawProbability float64) (model.ConfidenceLevel, error) {
	band := bandConfidence(rawProbability)

	latest, err := a.scores.LatestForNode(ctx, nodeID)
	if err != nil {
		return band, err
	}
	if latest == nil {
		return band, nil
	}

	switch latest.Level {
	case ReliabilityHigh, ReliabilityMedium:
		return band, nil
	case ReliabilityLow:
		return downgrade(band), nil
	default: // ReliabilityVeryLow
		return model.ConfidenceLow, nil
	}
}

// Score computes and persists the reliability score for runID/nodeID from
// components, §4.6. The Run Executor calls this from Finalize once a Run's
// outcomes and leakage-guard stats are known.
func (a *Adjuster) Score(ctx context.Context, runID, nodeID model.ID, components ReliabilityComponents) (ReliabilityScore, error) {
	score := ComputeReliability(components, DefaultReliabilityWeights)
	if err := a.scores.SaveScore(ctx, runID, nodeID, score); err != nil {
		return score, err
	}
	return score, nil
}

// bandConfidence mirrors pkg/universe's unexported band so this package does
// not need to import it just for the default banding.
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

func downgrade(level model.ConfidenceLevel) model.ConfidenceLevel {
	switch level {
	case model.ConfidenceHigh:
		return model.ConfidenceMedium
	default:
		return model.ConfidenceLow
	}
}
