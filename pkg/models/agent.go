package models

import "time"

// AgentStatus represents the lifecycle state of one agent instance.
type AgentStatus string

const (
	// AgentStatusPending indicates the instance has not been spawned yet.
	AgentStatusPending AgentStatus = "pending"
	// AgentStatusRunning indicates the subprocess is executing.
	AgentStatusRunning AgentStatus = "running"
	// AgentStatusCompleted indicates the subprocess exited successfully.
	AgentStatusCompleted AgentStatus = "completed"
	// AgentStatusFailed indicates a non-zero exit, timeout, or provider error.
	AgentStatusFailed AgentStatus = "failed"
	// AgentStatusCancelled indicates the instance was stopped by cancellation.
	AgentStatusCancelled AgentStatus = "cancelled"
)

// Valid returns true if the status is a known value.
func (s AgentStatus) Valid() bool {
	switch s {
	case AgentStatusPending, AgentStatusRunning, AgentStatusCompleted,
		AgentStatusFailed, AgentStatusCancelled:
		return true
	default:
		return false
	}
}

// Terminal returns true if no further transitions are allowed.
func (s AgentStatus) Terminal() bool {
	return s == AgentStatusCompleted || s == AgentStatusFailed || s == AgentStatusCancelled
}

// Role is the part an agent instance plays within a stage.
type Role string

const (
	RoleResearcher  Role = "researcher"
	RolePlanner     Role = "planner"
	RoleCoder       Role = "coder"
	RoleValidator   Role = "validator"
	RoleSecurity    Role = "security"
	RoleSynthesizer Role = "synthesizer"
)

// Valid returns true if the role is a known value.
func (r Role) Valid() bool {
	switch r {
	case RoleResearcher, RolePlanner, RoleCoder, RoleValidator, RoleSecurity, RoleSynthesizer:
		return true
	default:
		return false
	}
}

// AgentInstance is one subprocess invocation within a stage.
type AgentInstance struct {
	// ID is the unique identifier for this instance.
	ID string `json:"id"`
	// RunID is the run this instance belongs to.
	RunID string `json:"run_id"`
	// Stage is the pipeline stage the instance executes.
	Stage Stage `json:"stage"`
	// Role is the part the instance plays in the stage.
	Role Role `json:"role"`
	// Provider is the name of the provider that ran the instance.
	Provider string `json:"provider,omitempty"`
	// Status is the current lifecycle state.
	Status AgentStatus `json:"status"`
	// Output is the accumulated text produced by the subprocess.
	Output string `json:"output,omitempty"`
	// ExitCode is the process exit code, -1 if the process never exited normally.
	ExitCode int `json:"exit_code"`
	// Reason explains a failure or cancellation.
	Reason string `json:"reason,omitempty"`
	// StartedAt is when the subprocess was spawned.
	StartedAt time.Time `json:"started_at,omitempty"`
	// EndedAt is when the instance reached a terminal state.
	EndedAt time.Time `json:"ended_at,omitempty"`
}

// Succeeded reports whether the instance completed with usable output.
func (a *AgentInstance) Succeeded() bool {
	return a.Status == AgentStatusCompleted
}
