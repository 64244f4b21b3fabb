package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ShayCichocki/swarm/pkg/models"
)

// Save inserts or replaces a run.
func (db *DB) Save(ctx context.Context, run *models.Run) error {
	data, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("encode run: %w", err)
	}

	db.mu.Lock()
	defer db.mu.Unlock()

	_, err = db.conn.ExecContext(ctx, `
		INSERT INTO runs (id, status, mode, owner, session_id, priority, confidence, queued_at, completed_at, data)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			priority = excluded.priority,
			confidence = excluded.confidence,
			completed_at = excluded.completed_at,
			data = excluded.data
	`,
		run.ID, string(run.Status), string(run.Mode), run.Owner, run.SessionID,
		run.Priority, run.Confidence(), formatTime(run.QueuedAt),
		formatNullableTime(run.CompletedAt), string(data),
	)
	if err != nil {
		return fmt.Errorf("save run %s: %w", run.ID, err)
	}
	return nil
}

// Get retrieves a run by ID.
func (db *DB) Get(ctx context.Context, id string) (*models.Run, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	var data string
	err := db.conn.QueryRowContext(ctx, "SELECT data FROM runs WHERE id = ?", id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: run %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get run %s: %w", id, err)
	}
	return decodeRun([]byte(data))
}

// List returns runs matching filter, newest first.
func (db *DB) List(ctx context.Context, filter Filter) ([]*models.Run, error) {
	query, args := listQuery(filter, sqlitePlaceholder)

	db.mu.RLock()
	defer db.mu.RUnlock()

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	runs := []*models.Run{}
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		run, err := decodeRun([]byte(data))
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// SaveInstance inserts or replaces an agent instance.
func (db *DB) SaveInstance(ctx context.Context, inst models.AgentInstance) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO agent_instances (run_id, id, stage, role, provider, status, exit_code, reason, output, started_at, ended_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id, id) DO UPDATE SET
			provider = excluded.provider,
			status = excluded.status,
			exit_code = excluded.exit_code,
			reason = excluded.reason,
			output = excluded.output,
			started_at = excluded.started_at,
			ended_at = excluded.ended_at
	`,
		inst.RunID, inst.ID, string(inst.Stage), string(inst.Role), inst.Provider,
		string(inst.Status), inst.ExitCode, inst.Reason, inst.Output,
		formatNullableTime(&inst.StartedAt), formatNullableTime(&inst.EndedAt),
	)
	if err != nil {
		return fmt.Errorf("save instance %s: %w", inst.ID, err)
	}
	return nil
}

// ListInstances returns a run's instances in start order.
func (db *DB) ListInstances(ctx context.Context, runID string) ([]models.AgentInstance, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	rows, err := db.conn.QueryContext(ctx, `
		SELECT run_id, id, stage, role, provider, status, exit_code, reason, output, started_at, ended_at
		FROM agent_instances WHERE run_id = ?
		ORDER BY COALESCE(started_at, ended_at), id
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("list instances: %w", err)
	}
	defer rows.Close()

	var out []models.AgentInstance
	for rows.Next() {
		var (
			inst             models.AgentInstance
			started, ended   sql.NullString
			stage, role, sts string
		)
		if err := rows.Scan(&inst.RunID, &inst.ID, &stage, &role, &inst.Provider, &sts,
			&inst.ExitCode, &inst.Reason, &inst.Output, &started, &ended); err != nil {
			return nil, fmt.Errorf("scan instance: %w", err)
		}
		inst.Stage = models.Stage(stage)
		inst.Role = models.Role(role)
		inst.Status = models.AgentStatus(sts)
		inst.StartedAt = parseNullableTime(started)
		inst.EndedAt = parseNullableTime(ended)
		out = append(out, inst)
	}
	return out, rows.Err()
}

func decodeRun(data []byte) (*models.Run, error) {
	var run models.Run
	if err := json.Unmarshal(data, &run); err != nil {
		return nil, fmt.Errorf("decode run: %w", err)
	}
	return &run, nil
}
