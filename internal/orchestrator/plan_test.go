package orchestrator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ShayCichocki/swarm/pkg/models"
)

func TestParsePlan(t *testing.T) {
	tests := []struct {
		name  string
		text  string
		title string
		steps []models.PlanStep
	}{
		{
			name: "numbered with details",
			text: `## Rate limiter

1. **Add config**: new limit fields
2. Implement token bucket
   Refill on a ticker.
   Guard with a mutex.
3) Wire middleware - apply to /api routes`,
			title: "Rate limiter",
			steps: []models.PlanStep{
				{Index: 1, Title: "Add config", Description: "new limit fields"},
				{Index: 2, Title: "Implement token bucket", Description: "Refill on a ticker. Guard with a mutex."},
				{Index: 3, Title: "Wire middleware", Description: "apply to /api routes"},
			},
		},
		{
			name: "numbered headings",
			text: `### Step 1: Schema
Create the table.
### Step 2: Queries`,
			title: "Implementation plan",
			steps: []models.PlanStep{
				{Index: 1, Title: "Schema", Description: "Create the table."},
				{Index: 2, Title: "Queries"},
			},
		},
		{
			name: "bullets when nothing is numbered",
			text: `- Write tests
- Fix the bug`,
			title: "Implementation plan",
			steps: []models.PlanStep{
				{Index: 1, Title: "Write tests"},
				{Index: 2, Title: "Fix the bug"},
			},
		},
		{
			name: "numbers win over bullets",
			text: `1. First
- detail bullet
2. Second`,
			title: "Implementation plan",
			steps: []models.PlanStep{
				{Index: 1, Title: "First", Description: "- detail bullet"},
				{Index: 2, Title: "Second"},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plan := ParsePlan(tt.text)
			require.NotNil(t, plan)
			assert.Equal(t, tt.title, plan.Title)
			assert.Equal(t, tt.steps, plan.Steps)
		})
	}
}

func TestParsePlan_NoSteps(t *testing.T) {
	assert.Nil(t, ParsePlan("Just do it."))
	assert.Nil(t, ParsePlan(""))
}

func TestRenderPlan(t *testing.T) {
	out, err := RenderPlan(&models.Plan{
		Title: "Cache",
		Steps: []models.PlanStep{{Index: 1, Title: "Add LRU", Description: "bounded"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "title: Cache\nsteps:\n    - index: 1\n      title: Add LRU\n      description: bounded\n", out)
}
