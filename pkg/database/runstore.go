package database

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/scenariograph/predictive-sim/pkg/model"
	"github.com/scenariograph/predictive-sim/pkg/orchestrator"
)

// RunStore is the pgx-backed orchestrator.RunStore implementation, §4.7.
type RunStore struct {
	client *Client
}

var _ orchestrator.RunStore = (*RunStore)(nil)

// NewRunStore wraps client for Run/RunConfig persistence.
func NewRunStore(client *Client) *RunStore { return &RunStore{client: client} }

// SaveRun upserts a Run row.
func (s *RunStore) SaveRun(ctx context.Context, r *model.Run) error {
	outputs, err := json.Marshal(r.Outputs)
	if err != nil {
		return err
	}
	errInfo, err := json.Marshal(r.Error)
	if err != nil {
		return err
	}
	_, err = s.client.pool.Exec(ctx, `
		INSERT INTO runs (id, project_id, node_id, run_config_ref, status, actual_seed,
			created_at, started_at, finished_at, outputs, error)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			actual_seed = EXCLUDED.actual_seed,
			started_at = EXCLUDED.started_at,
			finished_at = EXCLUDED.finished_at,
			outputs = EXCLUDED.outputs,
			error = EXCLUDED.error
	`, r.ID, r.ProjectID, r.NodeID, r.RunConfigRef, string(r.Status), r.ActualSeed,
		r.CreatedAt, r.StartedAt, r.FinishedAt, outputs, errInfo)
	return err
}

// GetRun fetches a single Run by id.
func (s *RunStore) GetRun(ctx context.Context, id model.ID) (*model.Run, error) {
	row := s.client.pool.QueryRow(ctx, `
		SELECT id, project_id, node_id, run_config_ref, status, actual_seed,
			created_at, started_at, finished_at, outputs, error
		FROM runs WHERE id = $1
	`, id)
	var r model.Run
	var status string
	var outputs, errInfo []byte
	if err := row.Scan(&r.ID, &r.ProjectID, &r.NodeID, &r.RunConfigRef, &status, &r.ActualSeed,
		&r.CreatedAt, &r.StartedAt, &r.FinishedAt, &outputs, &errInfo); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
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
	return &r, nil
}

// SaveRunConfig inserts a RunConfig row. RunConfigs are content-addressed and
// immutable once referenced by a Run (§3), so this never updates an existing
// row.
func (s *RunStore) SaveRunConfig(ctx context.Context, cfg *model.RunConfig) error {
	schedulerProfile, err := json.Marshal(cfg.SchedulerProfile)
	if err != nil {
		return err
	}
	versions, err := json.Marshal(cfg.Versions)
	if err != nil {
		return err
	}
	leakageGuard, err := json.Marshal(cfg.LeakageGuard)
	if err != nil {
		return err
	}
	seedConfig, err := json.Marshal(cfg.SeedConfig)
	if err != nil {
		return err
	}
	_, err = s.client.pool.Exec(ctx, `
		INSERT INTO run_configs (id, seed_config, horizon, tick_rate, keyframe_interval,
			scheduler_profile, scenario_patch, max_agents, versions, cutoff_time,
			leakage_guard, max_execution_time_ms)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		ON CONFLICT (id) DO NOTHING
	`, cfg.ID, seedConfig, cfg.Horizon, cfg.TickRate, cfg.KeyframeInterval,
		schedulerProfile, []byte(cfg.ScenarioPatch), cfg.MaxAgents, versions, cfg.CutoffTime,
		leakageGuard, cfg.MaxExecutionTimeMS)
	return err
}

// GetRunConfig fetches a single RunConfig by id.
func (s *RunStore) GetRunConfig(ctx context.Context, id model.ID) (*model.RunConfig, error) {
	row := s.client.pool.QueryRow(ctx, `
		SELECT id, seed_config, horizon, tick_rate, keyframe_interval,
			scheduler_profile, scenario_patch, max_agents, versions, cutoff_time,
			leakage_guard, max_execution_time_ms
		FROM run_configs WHERE id = $1
	`, id)
	var cfg model.RunConfig
	var seedConfig, schedulerProfile, scenarioPatch, versions, leakageGuard []byte
	if err := row.Scan(&cfg.ID, &seedConfig, &cfg.Horizon, &cfg.TickRate, &cfg.KeyframeInterval,
		&schedulerProfile, &scenarioPatch, &cfg.MaxAgents, &versions, &cfg.CutoffTime,
		&leakageGuard, &cfg.MaxExecutionTimeMS); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if err := json.Unmarshal(seedConfig, &cfg.SeedConfig); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(schedulerProfile, &cfg.SchedulerProfile); err != nil {
		return nil, err
	}
	if len(scenarioPatch) > 0 {
		cfg.ScenarioPatch = json.RawMessage(scenarioPatch)
	}
	if err := json.Unmarshal(versions, &cfg.Versions); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(leakageGuard, &cfg.LeakageGuard); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ActiveRunCount reports how many Runs are currently RUNNING, for the
// scheduler's CapacityChecker, §4.7.
func (s *RunStore) ActiveRunCount(ctx context.Context) (int, error) {
	var count int
	err := s.client.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM runs WHERE status = $1
	`, string(model.RunRunning)).Scan(&count)
	return count, err
}
