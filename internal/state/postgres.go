package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ShayCichocki/swarm/pkg/models"
)

// PostgresStore is a Store backed by a pgx connection pool.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// OpenPostgres connects to dsn and verifies the connection.
func OpenPostgres(ctx context.Context, dsn string) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("state: parse postgres DSN: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("state: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("state: ping postgres: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

// Close releases the pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

const postgresSchema = `
CREATE TABLE IF NOT EXISTS runs (
	id TEXT PRIMARY KEY,
	status TEXT NOT NULL,
	mode TEXT NOT NULL,
	owner TEXT NOT NULL DEFAULT '',
	session_id TEXT NOT NULL DEFAULT '',
	priority INTEGER NOT NULL DEFAULT 0,
	confidence INTEGER NOT NULL DEFAULT 0,
	queued_at TIMESTAMPTZ NOT NULL,
	completed_at TIMESTAMPTZ,
	data JSONB NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
CREATE INDEX IF NOT EXISTS idx_runs_owner ON runs(owner);
CREATE INDEX IF NOT EXISTS idx_runs_queued_at ON runs(queued_at);

CREATE TABLE IF NOT EXISTS agent_instances (
	run_id TEXT NOT NULL,
	id TEXT NOT NULL,
	stage TEXT NOT NULL,
	role TEXT NOT NULL,
	provider TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL,
	exit_code INTEGER NOT NULL DEFAULT -1,
	reason TEXT NOT NULL DEFAULT '',
	output TEXT NOT NULL DEFAULT '',
	started_at TIMESTAMPTZ,
	ended_at TIMESTAMPTZ,
	PRIMARY KEY (run_id, id)
);
CREATE INDEX IF NOT EXISTS idx_agent_instances_run_id ON agent_instances(run_id);
`

// Migrate creates the schema. It is idempotent.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, postgresSchema); err != nil {
		return fmt.Errorf("state: migrate postgres: %w", err)
	}
	return nil
}

// Save inserts or replaces a run.
func (s *PostgresStore) Save(ctx context.Context, run *models.Run) error {
	data, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("state: encode run: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO runs (id, status, mode, owner, session_id, priority, confidence, queued_at, completed_at, data)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			priority = EXCLUDED.priority,
			confidence = EXCLUDED.confidence,
			completed_at = EXCLUDED.completed_at,
			data = EXCLUDED.data`,
		run.ID, string(run.Status), string(run.Mode), run.Owner, run.SessionID,
		run.Priority, run.Confidence(), run.QueuedAt.UTC(), run.CompletedAt, string(data),
	)
	if err != nil {
		return fmt.Errorf("state: save run %s: %w", run.ID, err)
	}
	return nil
}

// Get retrieves a run by ID.
func (s *PostgresStore) Get(ctx context.Context, id string) (*models.Run, error) {
	var data []byte
	err := s.pool.QueryRow(ctx, `SELECT data FROM runs WHERE id = $1`, id).Scan(&data)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: run %s", ErrNotFound, id)
		}
		return nil, fmt.Errorf("state: get run %s: %w", id, err)
	}
	return decodeRun(data)
}

// List returns runs matching filter, newest first.
func (s *PostgresStore) List(ctx context.Context, filter Filter) ([]*models.Run, error) {
	query, args := listQuery(filter, postgresPlaceholder)
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("state: list runs: %w", err)
	}
	defer rows.Close()

	runs := []*models.Run{}
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("state: scan run: %w", err)
		}
		run, err := decodeRun(data)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// SaveInstance inserts or replaces an agent instance.
func (s *PostgresStore) SaveInstance(ctx context.Context, inst models.AgentInstance) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO agent_instances (run_id, id, stage, role, provider, status, exit_code, reason, output, started_at, ended_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		 ON CONFLICT (run_id, id) DO UPDATE SET
			provider = EXCLUDED.provider,
			status = EXCLUDED.status,
			exit_code = EXCLUDED.exit_code,
			reason = EXCLUDED.reason,
			output = EXCLUDED.output,
			started_at = EXCLUDED.started_at,
			ended_at = EXCLUDED.ended_at`,
		inst.RunID, inst.ID, string(inst.Stage), string(inst.Role), inst.Provider,
		string(inst.Status), inst.ExitCode, inst.Reason, inst.Output,
		nullableTime(inst.StartedAt), nullableTime(inst.EndedAt),
	)
	if err != nil {
		return fmt.Errorf("state: save instance %s: %w", inst.ID, err)
	}
	return nil
}

// ListInstances returns a run's instances in start order.
func (s *PostgresStore) ListInstances(ctx context.Context, runID string) ([]models.AgentInstance, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT run_id, id, stage, role, provider, status, exit_code, reason, output, started_at, ended_at
		 FROM agent_instances WHERE run_id = $1
		 ORDER BY COALESCE(started_at, ended_at), id`, runID)
	if err != nil {
		return nil, fmt.Errorf("state: list instances: %w", err)
	}
	defer rows.Close()

	var out []models.AgentInstance
	for rows.Next() {
		var (
			inst             models.AgentInstance
			started, ended   *time.Time
			stage, role, sts string
		)
		if err := rows.Scan(&inst.RunID, &inst.ID, &stage, &role, &inst.Provider, &sts,
			&inst.ExitCode, &inst.Reason, &inst.Output, &started, &ended); err != nil {
			return nil, fmt.Errorf("state: scan instance: %w", err)
		}
		inst.Stage = models.Stage(stage)
		inst.Role = models.Role(role)
		inst.Status = models.AgentStatus(sts)
		if started != nil {
			inst.StartedAt = *started
		}
		if ended != nil {
			inst.EndedAt = *ended
		}
		out = append(out, inst)
	}
	return out, rows.Err()
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	u := t.UTC()
	return &u
}
