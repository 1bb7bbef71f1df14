package database

import (
	"context"

	"github.com/scenariograph/predictive-sim/pkg/gateway"
	"github.com/scenariograph/predictive-sim/pkg/model"
)

// ManifestStore is the pgx-backed gateway.ManifestStore implementation, §4.5.
type ManifestStore struct {
	client *Client
}

var _ gateway.ManifestStore = (*ManifestStore)(nil)

// NewManifestStore wraps client for Leakage Guard audit logging.
func NewManifestStore(client *Client) *ManifestStore { return &ManifestStore{client: client} }

// Append inserts an audit record; manifest_entries is never updated or
// deleted once written.
func (s *ManifestStore) Append(ctx context.Context, e gateway.ManifestEntry) error {
	_, err := s.client.pool.Exec(ctx, `
		INSERT INTO manifest_entries
			(id, tenant_id, run_id, source_name, endpoint, params_normalized,
			 cutoff_time, payload_hash, record_count, captured_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`, e.ID, e.TenantID, e.RunID, e.SourceName, e.Endpoint, e.ParamsNormalized,
		e.CutoffTime, e.PayloadHash, e.RecordCount, e.CapturedAt)
	return err
}

// ListByRun returns every manifest entry recorded for runID, oldest first.
func (s *ManifestStore) ListByRun(ctx context.Context, runID model.ID) ([]gateway.ManifestEntry, error) {
	rows, err := s.client.pool.Query(ctx, `
		SELECT id, tenant_id, run_id, source_name, endpoint, params_normalized,
			cutoff_time, payload_hash, record_count, captured_at
		FROM manifest_entries WHERE run_id = $1 ORDER BY captured_at ASC
	`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []gateway.ManifestEntry
	for rows.Next() {
		var e gateway.ManifestEntry
		if err := rows.Scan(&e.ID, &e.TenantID, &e.RunID, &e.SourceName, &e.Endpoint,
			&e.ParamsNormalized, &e.CutoffTime, &e.PayloadHash, &e.RecordCount, &e.CapturedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
