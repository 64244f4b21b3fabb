package models

import (
	"testing"
	"time"
)

func TestRunStatus_Valid(t *testing.T) {
	tests := []struct {
		name   string
		status RunStatus
		want   bool
	}{
		{"queued is valid", RunStatusQueued, true},
		{"running is valid", RunStatusRunning, true},
		{"paused is valid", RunStatusPaused, true},
		{"completed is valid", RunStatusCompleted, true},
		{"failed is valid", RunStatusFailed, true},
		{"cancelled is valid", RunStatusCancelled, true},
		{"empty string is invalid", RunStatus(""), false},
		{"agent status is invalid", RunStatus("pending"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.status.Valid(); got != tt.want {
				t.Errorf("RunStatus(%q).Valid() = %v, want %v", tt.status, got, tt.want)
			}
		})
	}
}

func TestRunStatus_TerminalAndActive(t *testing.T) {
	tests := []struct {
		status       RunStatus
		wantTerminal bool
		wantActive   bool
	}{
		{RunStatusQueued, false, false},
		{RunStatusRunning, false, true},
		{RunStatusPaused, false, true},
		{RunStatusCompleted, true, false},
		{RunStatusFailed, true, false},
		{RunStatusCancelled, true, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			if got := tt.status.Terminal(); got != tt.wantTerminal {
				t.Errorf("Terminal() = %v, want %v", got, tt.wantTerminal)
			}
			if got := tt.status.Active(); got != tt.wantActive {
				t.Errorf("Active() = %v, want %v", got, tt.wantActive)
			}
		})
	}
}

func TestMode_Valid(t *testing.T) {
	tests := []struct {
		mode Mode
		want bool
	}{
		{ModeChat, true},
		{ModeSwarm, true},
		{ModeProject, true},
		{Mode(""), false},
		{Mode("team"), false},
	}

	for _, tt := range tests {
		if got := tt.mode.Valid(); got != tt.want {
			t.Errorf("Mode(%q).Valid() = %v, want %v", tt.mode, got, tt.want)
		}
	}
}

func TestSelectionMode_Valid(t *testing.T) {
	if !SelectionMode("").Valid() {
		t.Error("empty selection mode should default to valid")
	}
	if !SelectionPinned.Valid() || !SelectionAuto.Valid() {
		t.Error("known selection modes should be valid")
	}
	if SelectionMode("random").Valid() {
		t.Error("unknown selection mode should be invalid")
	}
}

func TestClampPriority(t *testing.T) {
	tests := []struct {
		in, want int
	}{
		{-5, 0},
		{0, 0},
		{50, 50},
		{100, 100},
		{250, 100},
	}
	for _, tt := range tests {
		if got := ClampPriority(tt.in); got != tt.want {
			t.Errorf("ClampPriority(%d) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestNewRun(t *testing.T) {
	now := time.Now()
	run := NewRun("run-1", RunRequest{
		Prompt:         "build a parser",
		Mode:           ModeSwarm,
		Priority:       140,
		IdempotencyKey: "k1",
		Owner:          "alice",
	}, now)

	if run.Status != RunStatusQueued {
		t.Errorf("Status = %q, want %q", run.Status, RunStatusQueued)
	}
	if run.Priority != 100 {
		t.Errorf("Priority = %d, want 100", run.Priority)
	}
	if !run.QueuedAt.Equal(now) {
		t.Errorf("QueuedAt = %v, want %v", run.QueuedAt, now)
	}
	if run.Result != nil {
		t.Error("Result should be nil for a new run")
	}
	if run.Confidence() != 0 {
		t.Errorf("Confidence() = %d, want 0", run.Confidence())
	}
}

func TestRun_CloneIsIndependent(t *testing.T) {
	started := time.Now()
	run := &Run{
		ID:        "run-1",
		StartedAt: &started,
		Providers: []string{"claude"},
		Result: &RunResult{
			Confidence: 70,
			Stages:     []StageAnalysis{{Stage: StageCode, Confidence: 70}},
		},
	}

	c := run.Clone()
	c.Providers[0] = "codex"
	c.Result.Stages[0].Confidence = 10
	*c.StartedAt = started.Add(time.Hour)

	if run.Providers[0] != "claude" {
		t.Errorf("original Providers mutated: %v", run.Providers)
	}
	if run.Result.Stages[0].Confidence != 70 {
		t.Errorf("original stage confidence mutated: %d", run.Result.Stages[0].Confidence)
	}
	if !run.StartedAt.Equal(started) {
		t.Errorf("original StartedAt mutated")
	}
	if (*Run)(nil).Clone() != nil {
		t.Error("Clone of nil should be nil")
	}
}
