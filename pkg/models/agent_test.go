package models

import "testing"

func TestAgentStatus_Valid(t *testing.T) {
	tests := []struct {
		name   string
		status AgentStatus
		want   bool
	}{
		{"pending is valid", AgentStatusPending, true},
		{"running is valid", AgentStatusRunning, true},
		{"completed is valid", AgentStatusCompleted, true},
		{"failed is valid", AgentStatusFailed, true},
		{"cancelled is valid", AgentStatusCancelled, true},
		{"empty string is invalid", AgentStatus(""), false},
		{"unknown status is invalid", AgentStatus("unknown"), false},
		{"run status is invalid", AgentStatus("queued"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.status.Valid(); got != tt.want {
				t.Errorf("AgentStatus(%q).Valid() = %v, want %v", tt.status, got, tt.want)
			}
		})
	}
}

func TestAgentStatus_Terminal(t *testing.T) {
	tests := []struct {
		status AgentStatus
		want   bool
	}{
		{AgentStatusPending, false},
		{AgentStatusRunning, false},
		{AgentStatusCompleted, true},
		{AgentStatusFailed, true},
		{AgentStatusCancelled, true},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			if got := tt.status.Terminal(); got != tt.want {
				t.Errorf("AgentStatus(%q).Terminal() = %v, want %v", tt.status, got, tt.want)
			}
		})
	}
}

func TestRole_Valid(t *testing.T) {
	for _, r := range []Role{RoleResearcher, RolePlanner, RoleCoder, RoleValidator, RoleSecurity, RoleSynthesizer} {
		if !r.Valid() {
			t.Errorf("Role(%q).Valid() = false, want true", r)
		}
	}
	if Role("reviewer").Valid() {
		t.Error("Role(\"reviewer\").Valid() = true, want false")
	}
}

func TestAgentInstance_Succeeded(t *testing.T) {
	a := AgentInstance{Status: AgentStatusCompleted}
	if !a.Succeeded() {
		t.Error("completed instance should have succeeded")
	}
	a.Status = AgentStatusFailed
	if a.Succeeded() {
		t.Error("failed instance should not have succeeded")
	}
}
