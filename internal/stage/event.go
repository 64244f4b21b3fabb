package stage

import (
	"github.com/ShayCichocki/swarm/internal/provider"
	"github.com/ShayCichocki/swarm/pkg/models"
)

// EventKind identifies what an Event reports.
type EventKind string

const (
	// EventStatus reports an instance status change.
	EventStatus EventKind = "status"
	// EventOutput carries one chunk of streamed output.
	EventOutput EventKind = "output"
)

// Event is emitted by the executor as instances progress.
type Event struct {
	Kind     EventKind
	Instance models.AgentInstance
	Chunk    provider.Chunk
}

// validTransitions defines the allowed instance status changes.
// Key is the current state, value is the set of valid target states.
var validTransitions = map[models.AgentStatus]map[models.AgentStatus]bool{
	models.AgentStatusPending: {
		models.AgentStatusRunning:   true,
		models.AgentStatusCancelled: true,
		models.AgentStatusFailed:    true,
	},
	models.AgentStatusRunning: {
		models.AgentStatusCompleted: true,
		models.AgentStatusFailed:    true,
		models.AgentStatusCancelled: true,
	},
	// Terminal states cannot transition to anything else
	models.AgentStatusCompleted: {},
	models.AgentStatusFailed:    {},
	models.AgentStatusCancelled: {},
}

// CanTransition checks if a status change is valid.
func CanTransition(from, to models.AgentStatus) bool {
	targets, ok := validTransitions[from]
	if !ok {
		return false
	}
	return targets[to]
}
