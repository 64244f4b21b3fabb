package control

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTarget struct {
	mu      sync.Mutex
	drains  int
	pauses  int
	resumes int
	resets  int
}

func (f *fakeTarget) CancelAllQueued() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.drains++
	return 3
}

func (f *fakeTarget) Pause() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pauses++
}

func (f *fakeTarget) Resume() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resumes++
}

func (f *fakeTarget) ResetAll() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resets++
}

func (f *fakeTarget) resetCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.resets
}

func (f *fakeTarget) counts() (int, int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.drains, f.pauses, f.resumes
}

func startWatcher(t *testing.T, dir string, target *fakeTarget) {
	t.Helper()
	w, err := NewWatcher(dir, target, target, target, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = w.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func TestWatcher_HandlesSignals(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "signals")
	target := &fakeTarget{}
	startWatcher(t, dir, target)

	require.NoError(t, Send(dir, "pause"))
	assert.Eventually(t, func() bool {
		_, p, _ := target.counts()
		return p == 1
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, Send(dir, "resume"))
	require.NoError(t, Send(dir, "drain"))
	assert.Eventually(t, func() bool {
		d, _, r := target.counts()
		return d == 1 && r == 1
	}, 2*time.Second, 10*time.Millisecond)

	// Consumed files are removed.
	assert.Eventually(t, func() bool {
		entries, err := os.ReadDir(dir)
		return err == nil && len(entries) == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestWatcher_ResetClosesCircuits(t *testing.T) {
	dir := t.TempDir()
	target := &fakeTarget{}
	startWatcher(t, dir, target)

	require.NoError(t, Send(dir, "reset"))
	assert.Eventually(t, func() bool {
		return target.resetCount() == 1
	}, 2*time.Second, 10*time.Millisecond)

	d, p, r := target.counts()
	assert.Zero(t, d+p+r)
}

func TestWatcher_HandlesFilesPresentAtStart(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, Send(dir, "drain"))

	target := &fakeTarget{}
	startWatcher(t, dir, target)

	assert.Eventually(t, func() bool {
		d, _, _ := target.counts()
		return d == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestWatcher_IgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()
	target := &fakeTarget{}
	startWatcher(t, dir, target)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644))
	time.Sleep(100 * time.Millisecond)

	d, p, r := target.counts()
	assert.Zero(t, d+p+r+target.resetCount())
	assert.FileExists(t, filepath.Join(dir, "notes.txt"))
}

func TestSendRejectsUnknownSignal(t *testing.T) {
	err := Send(t.TempDir(), "explode")
	assert.ErrorIs(t, err, ErrUnknownSignal)
}
