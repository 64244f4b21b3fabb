package models

import "time"

// RunStatus represents the lifecycle state of a run.
type RunStatus string

const (
	// RunStatusQueued indicates the run is waiting for capacity.
	RunStatusQueued RunStatus = "queued"
	// RunStatusRunning indicates the pipeline is executing.
	RunStatusRunning RunStatus = "running"
	// RunStatusPaused indicates the pipeline is held at a stage boundary.
	RunStatusPaused RunStatus = "paused"
	// RunStatusCompleted indicates the pipeline produced a result.
	RunStatusCompleted RunStatus = "completed"
	// RunStatusFailed indicates the pipeline aborted with an error.
	RunStatusFailed RunStatus = "failed"
	// RunStatusCancelled indicates the run was cancelled by a caller.
	RunStatusCancelled RunStatus = "cancelled"
)

// Valid returns true if the status is a known value.
func (s RunStatus) Valid() bool {
	switch s {
	case RunStatusQueued, RunStatusRunning, RunStatusPaused,
		RunStatusCompleted, RunStatusFailed, RunStatusCancelled:
		return true
	default:
		return false
	}
}

// Terminal returns true for completed, failed and cancelled.
func (s RunStatus) Terminal() bool {
	return s == RunStatusCompleted || s == RunStatusFailed || s == RunStatusCancelled
}

// Active returns true if the run occupies an execution slot.
func (s RunStatus) Active() bool {
	return s == RunStatusRunning || s == RunStatusPaused
}

// Mode selects which stages a run executes and how wide they fan out.
type Mode string

const (
	// ModeChat runs a single reduced stage.
	ModeChat Mode = "chat"
	// ModeSwarm runs every stage with one agent each.
	ModeSwarm Mode = "swarm"
	// ModeProject runs every stage with full fan-out and emits a plan artifact.
	ModeProject Mode = "project"
)

// Valid returns true if the mode is a known value.
func (m Mode) Valid() bool {
	switch m {
	case ModeChat, ModeSwarm, ModeProject:
		return true
	default:
		return false
	}
}

// SelectionMode controls how the provider router treats a caller preference.
type SelectionMode string

const (
	// SelectionAuto puts the preferred provider first, then the defaults.
	SelectionAuto SelectionMode = "auto"
	// SelectionPinned uses only the preferred provider.
	SelectionPinned SelectionMode = "pinned"
)

// Valid returns true if the selection mode is a known value. Empty means auto.
func (m SelectionMode) Valid() bool {
	switch m {
	case "", SelectionAuto, SelectionPinned:
		return true
	default:
		return false
	}
}

// Attachment is an auxiliary document supplied with a run request.
type Attachment struct {
	Name    string `json:"name" yaml:"name"`
	Content string `json:"content" yaml:"content"`
}

// RunRequest is what a caller submits to start a run.
type RunRequest struct {
	SessionID         string        `json:"sessionId,omitempty"`
	Owner             string        `json:"owner,omitempty"`
	Prompt            string        `json:"prompt"`
	Mode              Mode          `json:"mode"`
	Intent            string        `json:"intent,omitempty"`
	Priority          int           `json:"priority,omitempty"`
	IdempotencyKey    string        `json:"idempotencyKey,omitempty"`
	PreferredProvider string        `json:"preferredProvider,omitempty"`
	SelectionMode     SelectionMode `json:"agentSelectionMode,omitempty"`
	Attachments       []Attachment  `json:"attachments,omitempty"`
	// ConfidenceThreshold overrides the configured rerun threshold when > 0.
	ConfidenceThreshold int `json:"confidenceThreshold,omitempty"`
}

// PlanStep is one step in a project-mode plan artifact.
type PlanStep struct {
	Index       int    `json:"index" yaml:"index"`
	Title       string `json:"title" yaml:"title"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
}

// Plan is the structured artifact produced by project-mode runs.
type Plan struct {
	Title string     `json:"title" yaml:"title"`
	Steps []PlanStep `json:"steps" yaml:"steps"`
}

// RunResult is the final output of a completed run.
type RunResult struct {
	// Output is the synthesized final text.
	Output string `json:"output"`
	// Confidence is the weighted aggregate across stages, in [0,100].
	Confidence int `json:"confidence"`
	// Degraded is set when any stage was forced forward below threshold.
	Degraded bool `json:"degraded,omitempty"`
	// FromFallback is set when the best code output replaced an empty synthesis.
	FromFallback bool `json:"from_fallback,omitempty"`
	// Stages holds the analysis for every executed stage, in order.
	Stages []StageAnalysis `json:"stages"`
	// Plan is set for project-mode runs.
	Plan *Plan `json:"plan,omitempty"`
	// PlanYAML is the plan artifact rendered as YAML.
	PlanYAML string `json:"plan_yaml,omitempty"`
	// Providers lists the providers that ran instances, in first-use order.
	Providers []string `json:"providers,omitempty"`
}

// Run is one end-to-end pipeline execution.
type Run struct {
	// ID is the unique identifier for this run.
	ID string `json:"id"`
	// Mode selects the stage plan.
	Mode Mode `json:"mode"`
	// Intent is a free-form caller hint about the purpose of the run.
	Intent string `json:"intent,omitempty"`
	// Prompt is the task description.
	Prompt string `json:"prompt"`
	// Priority orders queued runs, 0-100, higher first.
	Priority int `json:"priority"`
	// IdempotencyKey deduplicates submissions within the retention window.
	IdempotencyKey string `json:"idempotency_key,omitempty"`
	// Status is the current lifecycle state.
	Status RunStatus `json:"status"`
	// Owner is the submitting caller identity.
	Owner string `json:"owner,omitempty"`
	// SessionID is the push-channel session that requested the run.
	SessionID string `json:"session_id,omitempty"`
	// PreferredProvider is the caller's first choice of provider.
	PreferredProvider string `json:"preferred_provider,omitempty"`
	// SelectionMode controls how PreferredProvider is applied.
	SelectionMode SelectionMode `json:"selection_mode,omitempty"`
	// Attachments are auxiliary documents included in prompts.
	Attachments []Attachment `json:"attachments,omitempty"`
	// ConfidenceThreshold overrides the configured threshold when > 0.
	ConfidenceThreshold int `json:"confidence_threshold,omitempty"`
	// QueuedAt is when the run was accepted.
	QueuedAt time.Time `json:"queued_at"`
	// StartedAt is when the run was admitted to execution.
	StartedAt *time.Time `json:"started_at,omitempty"`
	// CompletedAt is when the run reached a terminal state.
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	// Result is nil until the run completes.
	Result *RunResult `json:"result,omitempty"`
	// Providers lists every provider that executed an instance for this run.
	Providers []string `json:"providers,omitempty"`
	// Error describes why the run failed.
	Error string `json:"error,omitempty"`
}

// NewRun builds a queued run from a request. Priority is clamped to [0,100].
func NewRun(id string, req RunRequest, now time.Time) *Run {
	return &Run{
		ID:                  id,
		Mode:                req.Mode,
		Intent:              req.Intent,
		Prompt:              req.Prompt,
		Priority:            ClampPriority(req.Priority),
		IdempotencyKey:      req.IdempotencyKey,
		Status:              RunStatusQueued,
		Owner:               req.Owner,
		SessionID:           req.SessionID,
		PreferredProvider:   req.PreferredProvider,
		SelectionMode:       req.SelectionMode,
		Attachments:         req.Attachments,
		ConfidenceThreshold: req.ConfidenceThreshold,
		QueuedAt:            now,
	}
}

// ClampPriority bounds p to [0,100].
func ClampPriority(p int) int {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}

// Clone returns a copy that is safe to hand to other goroutines.
func (r *Run) Clone() *Run {
	if r == nil {
		return nil
	}
	c := *r
	if r.StartedAt != nil {
		t := *r.StartedAt
		c.StartedAt = &t
	}
	if r.CompletedAt != nil {
		t := *r.CompletedAt
		c.CompletedAt = &t
	}
	if r.Result != nil {
		res := *r.Result
		res.Stages = append([]StageAnalysis(nil), r.Result.Stages...)
		res.Providers = append([]string(nil), r.Result.Providers...)
		c.Result = &res
	}
	c.Providers = append([]string(nil), r.Providers...)
	c.Attachments = append([]Attachment(nil), r.Attachments...)
	return &c
}

// Confidence returns the final confidence, or 0 if there is no result yet.
func (r *Run) Confidence() int {
	if r.Result == nil {
		return 0
	}
	return r.Result.Confidence
}
