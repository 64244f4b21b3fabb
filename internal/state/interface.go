// Package state persists run history for the swarm service.
package state

import (
	"context"
	"errors"
	"io"

	"github.com/ShayCichocki/swarm/pkg/models"
)

// ErrNotFound is returned when a requested run does not exist.
var ErrNotFound = errors.New("state: not found")

const (
	// DefaultListLimit is used when a filter has no limit.
	DefaultListLimit = 50
	// MaxListLimit bounds a single page.
	MaxListLimit = 500
)

// Filter selects runs for List. Zero fields match everything.
type Filter struct {
	Status    models.RunStatus
	Owner     string
	SessionID string
	Limit     int
	Offset    int
}

// Normalize applies the default and maximum page size.
func (f Filter) Normalize() Filter {
	if f.Limit <= 0 {
		f.Limit = DefaultListLimit
	}
	if f.Limit > MaxListLimit {
		f.Limit = MaxListLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return f
}

// RunStore persists runs. Save is an upsert of the full run.
type RunStore interface {
	Save(ctx context.Context, run *models.Run) error
	Get(ctx context.Context, id string) (*models.Run, error)
	List(ctx context.Context, filter Filter) ([]*models.Run, error)
}

// InstanceStore persists terminal agent instances.
type InstanceStore interface {
	SaveInstance(ctx context.Context, inst models.AgentInstance) error
	ListInstances(ctx context.Context, runID string) ([]models.AgentInstance, error)
}

// Migrator handles database schema migrations.
type Migrator interface {
	// Migrate applies all pending schema migrations.
	Migrate(ctx context.Context) error
}

// Store is everything the service needs from a backend.
type Store interface {
	io.Closer
	Migrator
	RunStore
	InstanceStore
}

// Compile-time verification that both backends implement Store.
var (
	_ Store = (*DB)(nil)
	_ Store = (*PostgresStore)(nil)
)
