package breaker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ShayCichocki/swarm/internal/metrics"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

var errBoom = errors.New("boom")

func fail(context.Context) error    { return errBoom }
func succeed(context.Context) error { return nil }

func newTestRegistry(clock *fakeClock) *Registry {
	return NewRegistry(DefaultConfig(),
		WithClock(clock.Now),
		WithMetrics(metrics.MustNew(prometheus.NewRegistry())),
	)
}

func TestOpensAtThreshold(t *testing.T) {
	clock := newFakeClock()
	reg := newTestRegistry(clock)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		require.ErrorIs(t, reg.ExecuteWithCircuitBreaker(ctx, "claude", fail), errBoom)
		assert.Equal(t, StateClosed, reg.Get("claude").State(), "still closed after %d failures", i+1)
	}

	require.ErrorIs(t, reg.ExecuteWithCircuitBreaker(ctx, "claude", fail), errBoom)
	assert.Equal(t, StateOpen, reg.Get("claude").State())
}

func TestSixthRequestRejectedWithoutAttempt(t *testing.T) {
	clock := newFakeClock()
	reg := newTestRegistry(clock)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_ = reg.ExecuteWithCircuitBreaker(ctx, "claude", fail)
	}

	called := false
	err := reg.ExecuteWithCircuitBreaker(ctx, "claude", func(context.Context) error {
		called = true
		return nil
	})

	require.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, called, "rejected execution must not be attempted")

	var rejected *RejectedError
	require.True(t, errors.As(err, &rejected))
	assert.Equal(t, "claude", rejected.Provider)
	assert.Equal(t, 30*time.Second, rejected.RetryIn)
}

func TestStaysOpenUntilResetTimeout(t *testing.T) {
	clock := newFakeClock()
	reg := newTestRegistry(clock)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_ = reg.ExecuteWithCircuitBreaker(ctx, "claude", fail)
	}

	clock.Advance(29 * time.Second)
	assert.ErrorIs(t, reg.Get("claude").Allow(), ErrCircuitOpen)
	assert.Equal(t, StateOpen, reg.Get("claude").State())

	clock.Advance(time.Second)
	require.NoError(t, reg.Get("claude").Allow())
	assert.Equal(t, StateHalfOpen, reg.Get("claude").State())
}

func TestHalfOpenTransitions(t *testing.T) {
	ctx := context.Background()

	t.Run("success closes", func(t *testing.T) {
		clock := newFakeClock()
		reg := newTestRegistry(clock)
		for i := 0; i < 5; i++ {
			_ = reg.ExecuteWithCircuitBreaker(ctx, "p", fail)
		}
		clock.Advance(30 * time.Second)

		require.NoError(t, reg.ExecuteWithCircuitBreaker(ctx, "p", succeed))
		snap := reg.Get("p").Snapshot()
		assert.Equal(t, StateClosed, snap.State)
		assert.Equal(t, 0, snap.Failures)
	})

	t.Run("failure reopens with a fresh window", func(t *testing.T) {
		clock := newFakeClock()
		reg := newTestRegistry(clock)
		for i := 0; i < 5; i++ {
			_ = reg.ExecuteWithCircuitBreaker(ctx, "p", fail)
		}
		clock.Advance(30 * time.Second)

		require.ErrorIs(t, reg.ExecuteWithCircuitBreaker(ctx, "p", fail), errBoom)
		assert.Equal(t, StateOpen, reg.Get("p").State())

		clock.Advance(20 * time.Second)
		assert.ErrorIs(t, reg.Get("p").Allow(), ErrCircuitOpen)

		clock.Advance(10 * time.Second)
		assert.NoError(t, reg.Get("p").Allow())
	})

	t.Run("only one probe in flight", func(t *testing.T) {
		clock := newFakeClock()
		reg := newTestRegistry(clock)
		for i := 0; i < 5; i++ {
			_ = reg.ExecuteWithCircuitBreaker(ctx, "p", fail)
		}
		clock.Advance(30 * time.Second)

		b := reg.Get("p")
		require.NoError(t, b.Allow())
		assert.ErrorIs(t, b.Allow(), ErrCircuitOpen)
		b.Record(nil)
		assert.NoError(t, b.Allow())
	})
}

func TestSuccessResetsFailureCount(t *testing.T) {
	reg := newTestRegistry(newFakeClock())
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		_ = reg.ExecuteWithCircuitBreaker(ctx, "p", fail)
	}
	require.NoError(t, reg.ExecuteWithCircuitBreaker(ctx, "p", succeed))
	assert.Equal(t, 0, reg.Get("p").Snapshot().Failures)

	for i := 0; i < 4; i++ {
		_ = reg.ExecuteWithCircuitBreaker(ctx, "p", fail)
	}
	assert.Equal(t, StateClosed, reg.Get("p").State())
}

func TestCancellationIsNotAFailure(t *testing.T) {
	reg := newTestRegistry(newFakeClock())
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		err := reg.ExecuteWithCircuitBreaker(ctx, "p", func(context.Context) error { return context.Canceled })
		require.ErrorIs(t, err, context.Canceled)
	}
	snap := reg.Get("p").Snapshot()
	assert.Equal(t, StateClosed, snap.State)
	assert.Equal(t, 0, snap.Failures)
}

func TestTimeoutIsAFailure(t *testing.T) {
	reg := newTestRegistry(newFakeClock())
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_ = reg.ExecuteWithCircuitBreaker(ctx, "p", func(context.Context) error { return context.DeadlineExceeded })
	}
	assert.Equal(t, StateOpen, reg.Get("p").State())
}

func TestProvidersAreIsolated(t *testing.T) {
	reg := newTestRegistry(newFakeClock())
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_ = reg.ExecuteWithCircuitBreaker(ctx, "bad", fail)
	}
	assert.ErrorIs(t, reg.Get("bad").Allow(), ErrCircuitOpen)
	assert.NoError(t, reg.Get("good").Allow())
	assert.Equal(t, 1, reg.OpenCount())

	snaps := reg.Snapshots()
	require.Len(t, snaps, 2)
	assert.Equal(t, "bad", snaps[0].Provider)
	assert.Equal(t, "good", snaps[1].Provider)
}

func TestRegistriesAreIndependent(t *testing.T) {
	a := newTestRegistry(newFakeClock())
	b := newTestRegistry(newFakeClock())
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_ = a.ExecuteWithCircuitBreaker(ctx, "p", fail)
	}
	assert.Equal(t, StateOpen, a.Get("p").State())
	assert.Equal(t, StateClosed, b.Get("p").State())
}

func TestResetAll(t *testing.T) {
	reg := newTestRegistry(newFakeClock())
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		_ = reg.ExecuteWithCircuitBreaker(ctx, "p", fail)
	}
	reg.ResetAll()
	assert.Equal(t, StateClosed, reg.Get("p").State())
	assert.NoError(t, reg.Get("p").Allow())
}

func TestResetAllReleasesStuckTrial(t *testing.T) {
	clock := newFakeClock()
	reg := newTestRegistry(clock)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		_ = reg.ExecuteWithCircuitBreaker(ctx, "p", fail)
	}
	clock.Advance(30 * time.Second)

	// An admission that is never recorded holds the half-open slot.
	require.NoError(t, reg.Get("p").Allow())
	require.ErrorIs(t, reg.ExecuteWithCircuitBreaker(ctx, "p", succeed), ErrCircuitOpen)

	reg.ResetAll()
	assert.NoError(t, reg.ExecuteWithCircuitBreaker(ctx, "p", succeed))
	assert.Equal(t, StateClosed, reg.Get("p").State())
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "open", StateOpen.String())
	assert.Equal(t, "half-open", StateHalfOpen.String())
	assert.Equal(t, "unknown", State(9).String())
}

func TestConcurrentAccess(t *testing.T) {
	reg := newTestRegistry(newFakeClock())
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				_ = reg.ExecuteWithCircuitBreaker(ctx, "p", fail)
			} else {
				_ = reg.ExecuteWithCircuitBreaker(ctx, "p", succeed)
			}
		}(i)
	}
	wg.Wait()

	snap := reg.Get("p").Snapshot()
	assert.GreaterOrEqual(t, snap.Failures, 0)
}
