package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ShayCichocki/swarm/pkg/models"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, 4, cfg.Queue.MaxConcurrentRuns)
	assert.Equal(t, time.Hour, cfg.Queue.Retention)
	assert.Equal(t, 80, cfg.Pipeline.ConfidenceThreshold)
	assert.Equal(t, 2, cfg.Pipeline.MaxReruns)
	assert.Equal(t, 10*time.Minute, cfg.Pipeline.InstanceTimeout)
	assert.Equal(t, 5, cfg.Breaker.Threshold)
	assert.Equal(t, 30*time.Second, cfg.Breaker.ResetTimeout)
	assert.Equal(t, []string{"claude", "anthropic"}, cfg.Providers.Order)
	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.NoError(t, cfg.Validate())
}

func TestLoadFromPath(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
queue:
  max_concurrent_runs: 2
  retention: 15m
pipeline:
  confidence_threshold: 70
  max_reruns: 1
  instance_timeout: 90s
  project_agents:
    code: 5
breaker:
  threshold: 3
  reset_timeout: 1m
providers:
  order: [codex, claude]
  account:
    preferred: claude
store:
  driver: postgres
  dsn: postgres://localhost/swarm
`
	require.NoError(t, os.WriteFile(configPath, []byte(configContent), 0644))

	cfg, err := LoadFromPath(configPath)
	require.NoError(t, err)

	assert.Equal(t, 2, cfg.Queue.MaxConcurrentRuns)
	assert.Equal(t, 15*time.Minute, cfg.Queue.Retention)
	assert.Equal(t, 70, cfg.Pipeline.ConfidenceThreshold)
	assert.Equal(t, 1, cfg.Pipeline.MaxReruns)
	assert.Equal(t, 90*time.Second, cfg.Pipeline.InstanceTimeout)
	assert.Equal(t, 3, cfg.Breaker.Threshold)
	assert.Equal(t, time.Minute, cfg.Breaker.ResetTimeout)
	assert.Equal(t, []string{"codex", "claude"}, cfg.Providers.Order)
	assert.Equal(t, "claude", cfg.Providers.Account.Preferred)
	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, 5, cfg.Pipeline.AgentCount(models.ModeProject, models.StageCode))

	// Untouched sections keep their defaults.
	assert.True(t, cfg.Consensus.FactCheck)
	assert.Equal(t, ":8080", cfg.Server.Addr)
}

func TestLoadFromPath_Invalid(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("queue:\n  max_concurrent_runs: 0\n"), 0644))

	_, err := LoadFromPath(configPath)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max_concurrent_runs")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"threshold above 100", func(c *Config) { c.Pipeline.ConfidenceThreshold = 101 }},
		{"negative reruns", func(c *Config) { c.Pipeline.MaxReruns = -1 }},
		{"zero instance timeout", func(c *Config) { c.Pipeline.InstanceTimeout = 0 }},
		{"zero breaker threshold", func(c *Config) { c.Breaker.Threshold = 0 }},
		{"semantic weight above 1", func(c *Config) { c.Consensus.SemanticWeight = 1.5 }},
		{"unknown store driver", func(c *Config) { c.Store.Driver = "mysql" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestAgentCount(t *testing.T) {
	p := Default().Pipeline

	tests := []struct {
		mode  models.Mode
		stage models.Stage
		want  int
	}{
		{models.ModeChat, models.StageCode, 1},
		{models.ModeSwarm, models.StageResearch, 1},
		{models.ModeProject, models.StageResearch, 3},
		{models.ModeProject, models.StageValidate, 2},
		{models.ModeProject, models.StageSynthesize, 1},
	}

	for _, tt := range tests {
		t.Run(string(tt.mode)+"/"+string(tt.stage), func(t *testing.T) {
			assert.Equal(t, tt.want, p.AgentCount(tt.mode, tt.stage))
		})
	}
}

func TestSaveToPathRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")

	cfg := Default()
	cfg.Queue.MaxConcurrentRuns = 7
	cfg.Breaker.ResetTimeout = 45 * time.Second
	require.NoError(t, SaveToPath(cfg, path))

	loaded, err := LoadFromPath(path)
	require.NoError(t, err)
	assert.Equal(t, 7, loaded.Queue.MaxConcurrentRuns)
	assert.Equal(t, 45*time.Second, loaded.Breaker.ResetTimeout)
}

func TestExpandEnv(t *testing.T) {
	t.Setenv("TEST_VAR", "expanded-value")

	assert.Equal(t, "expanded-value", expandEnv("${TEST_VAR}"))
	assert.Equal(t, "prefix-expanded-value-suffix", expandEnv("prefix-${TEST_VAR}-suffix"))
}

func TestGetUserConfigDir(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/tmp/xdg")
	assert.Equal(t, filepath.Join("/tmp/xdg", "swarm"), getUserConfigDir())
}
