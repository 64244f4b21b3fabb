// Package broadcast fans run progress out to every connected observer.
package broadcast

import (
	"encoding/json"
	"time"

	"github.com/ShayCichocki/swarm/pkg/models"
)

// Kind is the type tag carried by every frame.
type Kind string

const (
	KindRunAccepted Kind = "run.accepted"
	KindRunStatus   Kind = "run.status"
	KindAgentStatus Kind = "agent-status"
	KindAgentOutput Kind = "agent-output"
	KindStageResult Kind = "stage-result"
	KindResult      Kind = "swarm-result"
	KindError       Kind = "swarm-error"
	KindPing        Kind = "ping"
	KindPong        Kind = "pong"
)

// Event is one progress frame. It marshals to {"type","runId","data"}.
type Event struct {
	Type      Kind      `json:"type"`
	RunID     string    `json:"runId,omitempty"`
	Data      any       `json:"data,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Marshal encodes the event as a JSON frame.
func (e Event) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

// RunStatusData accompanies run.accepted and run.status.
type RunStatusData struct {
	Status   models.RunStatus `json:"status"`
	Mode     models.Mode      `json:"mode,omitempty"`
	Priority int              `json:"priority,omitempty"`
	Reason   string           `json:"reason,omitempty"`
}

// AgentOutputData is one streamed chunk from an instance.
type AgentOutputData struct {
	InstanceID string       `json:"instanceId"`
	Stage      models.Stage `json:"stage"`
	Provider   string       `json:"provider,omitempty"`
	Kind       string       `json:"kind"`
	Text       string       `json:"text"`
}

// ResultData accompanies swarm-result.
type ResultData struct {
	Status models.RunStatus  `json:"status"`
	Result *models.RunResult `json:"result"`
}

// ErrorData accompanies swarm-error and transport error frames.
type ErrorData struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Stage   string `json:"stage,omitempty"`
}

// RunAccepted builds a run.accepted event.
func RunAccepted(run *models.Run) Event {
	return Event{
		Type:  KindRunAccepted,
		RunID: run.ID,
		Data:  RunStatusData{Status: run.Status, Mode: run.Mode, Priority: run.Priority},
	}
}

// RunStatus builds a run.status event.
func RunStatus(runID string, status models.RunStatus, reason string) Event {
	return Event{Type: KindRunStatus, RunID: runID, Data: RunStatusData{Status: status, Reason: reason}}
}

// AgentStatus builds an agent-status event. Output is omitted until the
// instance is terminal.
func AgentStatus(inst models.AgentInstance) Event {
	if !inst.Status.Terminal() {
		inst.Output = ""
	}
	return Event{Type: KindAgentStatus, RunID: inst.RunID, Data: inst}
}

// AgentOutput builds an agent-output event.
func AgentOutput(inst models.AgentInstance, kind, text string) Event {
	return Event{
		Type:  KindAgentOutput,
		RunID: inst.RunID,
		Data: AgentOutputData{
			InstanceID: inst.ID,
			Stage:      inst.Stage,
			Provider:   inst.Provider,
			Kind:       kind,
			Text:       text,
		},
	}
}

// StageResult builds a stage-result event.
func StageResult(runID string, a models.StageAnalysis) Event {
	return Event{Type: KindStageResult, RunID: runID, Data: a}
}

// Result builds a swarm-result event.
func Result(run *models.Run) Event {
	return Event{Type: KindResult, RunID: run.ID, Data: ResultData{Status: run.Status, Result: run.Result}}
}

// Error builds a swarm-error event.
func Error(runID, code, message, stage string) Event {
	return Event{Type: KindError, RunID: runID, Data: ErrorData{Code: code, Message: message, Stage: stage}}
}
