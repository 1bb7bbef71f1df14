package database

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/scenariograph/predictive-sim/pkg/evidence"
	"github.com/scenariograph/predictive-sim/pkg/model"
)

// ParameterStore is the pgx-backed evidence.ParameterStore implementation,
// §4.6 "Parameter versioning".
type ParameterStore struct {
	client *Client
}

var _ evidence.ParameterStore = (*ParameterStore)(nil)

// NewParameterStore wraps client for ParameterVersion persistence.
func NewParameterStore(client *Client) *ParameterStore { return &ParameterStore{client: client} }

// Save inserts or updates a ParameterVersion row.
func (s *ParameterStore) Save(v model.ParameterVersion) error {
	params, err := json.Marshal(v.Parameters)
	if err != nil {
		return err
	}
	_, err = s.client.pool.Exec(context.Background(), `
		INSERT INTO parameter_versions
			(id, project_id, version_number, version_hash, parameters, status,
			 previous_version_id, rolled_back_to_id, approved_by)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			rolled_back_to_id = EXCLUDED.rolled_back_to_id,
			approved_by = EXCLUDED.approved_by
	`, v.ID, v.ProjectID, v.VersionNumber, v.VersionHash, params, string(v.Status),
		v.PreviousVersionID, v.RolledBackToID, v.ApprovedBy)
	return err
}

// GetActive returns the highest-numbered ACTIVE version for projectID.
func (s *ParameterStore) GetActive(projectID model.ID) (*model.ParameterVersion, error) {
	row := s.client.pool.QueryRow(context.Background(), `
		SELECT id, project_id, version_number, version_hash, parameters, status,
			previous_version_id, rolled_back_to_id, approved_by
		FROM parameter_versions
		WHERE project_id = $1 AND status = 'ACTIVE'
		ORDER BY version_number DESC LIMIT 1
	`, projectID)
	return scanParameterVersion(row)
}

// GetByID fetches one ParameterVersion.
func (s *ParameterStore) GetByID(id model.ID) (*model.ParameterVersion, error) {
	row := s.client.pool.QueryRow(context.Background(), `
		SELECT id, project_id, version_number, version_hash, parameters, status,
			previous_version_id, rolled_back_to_id, approved_by
		FROM parameter_versions WHERE id = $1
	`, id)
	return scanParameterVersion(row)
}

// LatestVersionNumber returns the highest version_number recorded for
// projectID, or 0 if none exist.
func (s *ParameterStore) LatestVersionNumber(projectID model.ID) (int64, error) {
	var max int64
	err := s.client.pool.QueryRow(context.Background(), `
		SELECT COALESCE(MAX(version_number), 0) FROM parameter_versions WHERE project_id = $1
	`, projectID).Scan(&max)
	return max, err
}

func scanParameterVersion(row pgx.Row) (*model.ParameterVersion, error) {
	var v model.ParameterVersion
	var status string
	var params []byte
	if err := row.Scan(&v.ID, &v.ProjectID, &v.VersionNumber, &v.VersionHash, &params, &status,
		&v.PreviousVersionID, &v.RolledBackToID, &v.ApprovedBy); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	v.Status = model.ParameterVersionStatus(status)
	if err := json.Unmarshal(params, &v.Parameters); err != nil {
		return nil, err
	}
	return &v, nil
}
