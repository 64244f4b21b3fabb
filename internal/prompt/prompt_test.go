package prompt

import (
	"strings"
	"testing"

	"github.com/ShayCichocki/swarm/pkg/models"
)

func TestBuild_StageInstructions(t *testing.T) {
	tests := []struct {
		stage models.Stage
		want  string
	}{
		{models.StageResearch, "## Your Stage: Research"},
		{models.StagePlan, "numbered list"},
		{models.StageCode, "## Your Stage: Code"},
		{models.StageValidate, "PASS or\nFAIL"},
		{models.StageSecurity, "## Your Stage: Security Review"},
		{models.StageSynthesize, "## Your Stage: Synthesize"},
	}

	for _, tt := range tests {
		t.Run(string(tt.stage), func(t *testing.T) {
			got := Build(Input{Stage: tt.stage, Mode: models.ModeSwarm, Task: "add a cache"})
			if !strings.Contains(got, tt.want) {
				t.Errorf("Build(%s) missing %q", tt.stage, tt.want)
			}
			if !strings.Contains(got, "add a cache") {
				t.Errorf("Build(%s) missing task text", tt.stage)
			}
			if !strings.HasPrefix(got, ScopeGuidance) {
				t.Errorf("Build(%s) should start with scope guidance", tt.stage)
			}
		})
	}
}

func TestBuild_ChatMode(t *testing.T) {
	got := Build(Input{Stage: models.StageCode, Mode: models.ModeChat, Task: "what is a mutex"})
	if !strings.Contains(got, "Answer the request directly") {
		t.Error("chat mode should use chat instructions")
	}
	if strings.Contains(got, "## Your Stage") {
		t.Error("chat mode should not include stage instructions")
	}
}

func TestBuild_PriorOutputsInOrder(t *testing.T) {
	got := Build(Input{
		Stage: models.StageCode,
		Mode:  models.ModeSwarm,
		Task:  "t",
		Prior: []PriorOutput{
			{Stage: models.StageResearch, Output: "research notes", Confidence: 90},
			{Stage: models.StagePlan, Output: "1. step one", Confidence: 75},
		},
	})

	r := strings.Index(got, "### Research (confidence 90)")
	p := strings.Index(got, "### Plan (confidence 75)")
	if r < 0 || p < 0 {
		t.Fatalf("prior stage headers missing:\n%s", got)
	}
	if r > p {
		t.Error("prior outputs should appear in execution order")
	}
	if !strings.Contains(got, "research notes") || !strings.Contains(got, "1. step one") {
		t.Error("prior outputs should be quoted")
	}
}

func TestBuild_ClipsLongPriorOutput(t *testing.T) {
	long := strings.Repeat("x", maxPriorChars+500)
	got := Build(Input{
		Stage: models.StageSynthesize,
		Mode:  models.ModeSwarm,
		Task:  "t",
		Prior: []PriorOutput{{Stage: models.StageCode, Output: long}},
	})
	if !strings.Contains(got, "[truncated]") {
		t.Error("long prior output should be truncated")
	}
	if strings.Contains(got, long) {
		t.Error("long prior output should not appear in full")
	}
}

func TestBuild_RetryAndExtras(t *testing.T) {
	got := Build(Input{
		Stage:              models.StagePlan,
		Mode:               models.ModeProject,
		Task:               "t",
		Intent:             "refactor",
		Attachments:        []models.Attachment{{Name: "notes.md", Content: "must be fast"}},
		Attempt:            2,
		PreviousConfidence: 41,
	})

	for _, want := range []string{"Intent: refactor", "### notes.md", "must be fast", "attempt 2", "agreement 41/100"} {
		if !strings.Contains(got, want) {
			t.Errorf("Build() missing %q", want)
		}
	}

	first := Build(Input{Stage: models.StagePlan, Mode: models.ModeProject, Task: "t", Attempt: 1})
	if strings.Contains(first, "## Retry") {
		t.Error("first attempt should not include retry guidance")
	}
}

func TestBuild_Deterministic(t *testing.T) {
	in := Input{Stage: models.StageCode, Mode: models.ModeSwarm, Task: "t", Prior: []PriorOutput{{Stage: models.StagePlan, Output: "p"}}}
	if Build(in) != Build(in) {
		t.Error("Build should be a pure function of its input")
	}
}
