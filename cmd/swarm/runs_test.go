package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ShayCichocki/swarm/pkg/models"
)

func TestCancelRemote(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/api/runs/r1/cancel":
			json.NewEncoder(w).Encode(map[string]any{
				"cancelled": true,
				"run":       models.Run{ID: "r1", Status: models.RunStatusCancelled},
			})
		default:
			w.WriteHeader(http.StatusNotFound)
			json.NewEncoder(w).Encode(map[string]any{
				"error": map[string]string{"code": "not_found", "message": "run not found"},
			})
		}
	}))
	defer srv.Close()

	cancelled, run, err := cancelRemote(context.Background(), srv.Client(), srv.URL+"/", "r1")
	require.NoError(t, err)
	assert.True(t, cancelled)
	assert.Equal(t, models.RunStatusCancelled, run.Status)

	_, _, err = cancelRemote(context.Background(), srv.Client(), srv.URL, "missing")
	assert.EqualError(t, err, "not_found: run not found")
}

func TestLocalAddr(t *testing.T) {
	assert.Equal(t, "localhost:8080", localAddr(":8080"))
	assert.Equal(t, "10.0.0.2:9000", localAddr("10.0.0.2:9000"))
}

func TestTruncatePrompt(t *testing.T) {
	assert.Equal(t, "add a health endpoint", truncatePrompt("add a\n  health endpoint", 50))
	assert.Equal(t, "abcdefg...", truncatePrompt("abcdefghijklmnop", 10))
}

func TestPrintRuns(t *testing.T) {
	var buf bytes.Buffer
	printRuns(&buf, nil)
	assert.Equal(t, "No runs recorded.\n", buf.String())

	buf.Reset()
	printRuns(&buf, []*models.Run{{
		ID: "r1", Status: models.RunStatusCompleted, Mode: models.ModeChat,
		Prompt: "fix it", QueuedAt: time.Now(),
		Result: &models.RunResult{Confidence: 91},
	}})
	out := buf.String()
	assert.Contains(t, out, "ID")
	assert.Contains(t, out, "r1")
	assert.Contains(t, out, "completed")
	assert.Contains(t, out, "91")
}

func TestPrintRun(t *testing.T) {
	start := time.Now().Add(-90 * time.Second)
	end := time.Now()
	run := &models.Run{
		ID: "r1", Status: models.RunStatusCompleted, Mode: models.ModeSwarm,
		Prompt: "fix it", QueuedAt: start, StartedAt: &start, CompletedAt: &end,
		Providers: []string{"claude"},
		Result: &models.RunResult{Confidence: 72, Degraded: true, Stages: []models.StageAnalysis{
			{Stage: models.StageCode, Confidence: 72, Attempts: 3},
		}},
	}
	var buf bytes.Buffer
	printRun(&buf, run, []models.AgentInstance{{ID: "a1", Stage: models.StageCode, Provider: "claude", Status: models.AgentStatusCompleted}})

	out := buf.String()
	assert.Contains(t, out, "Duration: 1m30s")
	assert.Contains(t, out, "Confidence: 72% (degraded)")
	assert.Contains(t, out, "attempts 3")
	assert.Contains(t, out, "Agents:")
	assert.Contains(t, out, "a1")
}
