package main

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ShayCichocki/swarm/internal/broadcast"
	"github.com/ShayCichocki/swarm/internal/config"
	"github.com/ShayCichocki/swarm/internal/metrics"
	"github.com/ShayCichocki/swarm/internal/provider"
	"github.com/ShayCichocki/swarm/internal/provider/providertest"
	"github.com/ShayCichocki/swarm/internal/state"
	"github.com/ShayCichocki/swarm/pkg/models"
)

func newTestEngine(t *testing.T, providers ...provider.Provider) *engine {
	t.Helper()
	c := config.Default()
	c.Providers.Order = []string{"claude"}
	c.Pipeline.InstanceTimeout = 5 * time.Second

	store, err := state.OpenStore(context.Background(), config.StoreConfig{
		Driver: "sqlite",
		Path:   filepath.Join(t.TempDir(), "runs.db"),
	})
	require.NoError(t, err)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	eng, err := newEngine(context.Background(), c, engineDeps{
		providers: providers,
		store:     store,
		metrics:   metrics.MustNew(prometheus.NewRegistry()),
	}, logger)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		eng.Close(ctx)
	})
	return eng
}

func TestEngine_ChatRunEndToEnd(t *testing.T) {
	eng := newTestEngine(t, providertest.Static("claude", "package main\n", "func main() {}\n"))

	sub := eng.bus.Subscribe()
	defer sub.Close()

	run, err := eng.queue.Enqueue(context.Background(), models.RunRequest{
		Prompt: "write a hello world program",
		Mode:   models.ModeChat,
		Owner:  "tester",
	})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	final, err := eng.queue.Wait(ctx, run.ID)
	require.NoError(t, err)

	assert.Equal(t, models.RunStatusCompleted, final.Status)
	require.NotNil(t, final.Result)
	assert.Equal(t, "package main\nfunc main() {}", final.Result.Output)
	assert.Equal(t, 100, final.Result.Confidence)
	assert.Equal(t, []string{"claude"}, final.Providers)

	stored, err := eng.store.Get(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusCompleted, stored.Status)

	instances, err := eng.store.ListInstances(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, instances, 1)
	assert.Equal(t, models.StageCode, instances[0].Stage)

	var kinds []broadcast.Kind
	timeout := time.After(2 * time.Second)
	for len(kinds) == 0 || kinds[len(kinds)-1] != broadcast.KindResult {
		select {
		case ev := <-sub.C():
			if ev.RunID == run.ID {
				kinds = append(kinds, ev.Type)
			}
		case <-timeout:
			t.Fatalf("no result event, saw %v", kinds)
		}
	}
	assert.Equal(t, broadcast.KindRunAccepted, kinds[0])
	assert.Contains(t, kinds, broadcast.KindStageResult)
}

func TestEngine_FailingProviderFailsRun(t *testing.T) {
	eng := newTestEngine(t, providertest.Failing("claude"))

	run, err := eng.queue.Enqueue(context.Background(), models.RunRequest{
		Prompt: "write a hello world program",
		Mode:   models.ModeChat,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	final, err := eng.queue.Wait(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusFailed, final.Status)
	assert.NotEmpty(t, final.Error)
}

func TestEngine_CloseStopsPipelines(t *testing.T) {
	eng := newTestEngine(t, providertest.Static("claude", "ok"))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, eng.Close(ctx))

	assert.True(t, eng.pipeline.PauseController().IsStopped())
}

func TestEngine_RequiresProviders(t *testing.T) {
	c := config.Default()
	_, err := newEngine(context.Background(), c, engineDeps{
		providers: []provider.Provider{},
		metrics:   metrics.MustNew(prometheus.NewRegistry()),
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	assert.ErrorContains(t, err, "no providers available")
}
