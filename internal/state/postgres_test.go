package state

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ShayCichocki/swarm/pkg/models"
)

// Set SWARM_TEST_DATABASE_URL to run against a real Postgres.
func setupPostgres(t *testing.T) *PostgresStore {
	t.Helper()
	dsn := os.Getenv("SWARM_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("SWARM_TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	s, err := OpenPostgres(ctx, dsn)
	require.NoError(t, err)
	require.NoError(t, s.Migrate(ctx))
	require.NoError(t, s.Migrate(ctx))
	t.Cleanup(func() { s.Close() })
	return s
}

func TestPostgresStore_RoundTrip(t *testing.T) {
	s := setupPostgres(t)
	ctx := context.Background()

	owner := "pg-" + uuid.NewString()
	run := testRun(uuid.NewString(), time.Now().UTC().Truncate(time.Microsecond))
	run.Owner = owner
	require.NoError(t, s.Save(ctx, run))

	run.Status = models.RunStatusFailed
	run.Error = "stage failed: plan"
	require.NoError(t, s.Save(ctx, run))

	got, err := s.Get(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusFailed, got.Status)
	assert.Equal(t, "stage failed: plan", got.Error)

	list, err := s.List(ctx, Filter{Owner: owner})
	require.NoError(t, err)
	require.Len(t, list, 1)

	_, err = s.Get(ctx, uuid.NewString())
	assert.ErrorIs(t, err, ErrNotFound)

	inst := models.AgentInstance{
		ID: "cccc3333", RunID: run.ID, Stage: models.StagePlan, Role: models.RolePlanner,
		Status: models.AgentStatusCompleted, Output: "1. step", StartedAt: time.Now().UTC(),
	}
	require.NoError(t, s.SaveInstance(ctx, inst))
	insts, err := s.ListInstances(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, insts, 1)
	assert.Equal(t, "1. step", insts[0].Output)
}
