package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

// ErrStopped is returned by WaitIfPaused after Stop.
var ErrStopped = errors.New("pipeline stopped")

// PauseController gates pipelines at stage boundaries. One controller is
// shared by every pipeline in the process.
type PauseController struct {
	// paused indicates whether new stages are held.
	paused bool
	// stopped indicates whether the controller has been stopped.
	stopped bool
	// mu protects all fields.
	mu sync.RWMutex
	// cond is used to signal when the controller is resumed or stopped.
	cond *sync.Cond

	logger *slog.Logger
}

// NewPauseController creates a new PauseController.
func NewPauseController(logger *slog.Logger) *PauseController {
	if logger == nil {
		logger = slog.Default()
	}
	p := &PauseController{logger: logger.With("component", "pause")}
	p.cond = sync.NewCond(&p.mu)
	return p
}

// Pause holds pipelines at their next stage boundary.
func (p *PauseController) Pause() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.paused {
		p.paused = true
		p.logger.Info("paused, no new stages will start")
	}
}

// Resume releases held pipelines.
func (p *PauseController) Resume() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.paused {
		p.paused = false
		p.logger.Info("resumed")
		p.cond.Broadcast()
	}
}

// Stop signals a stop. This unblocks any WaitIfPaused calls.
func (p *PauseController) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.stopped {
		p.stopped = true
		p.cond.Broadcast()
	}
}

// IsPaused returns whether execution is currently paused.
func (p *PauseController) IsPaused() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.paused
}

// IsStopped returns whether the controller has been stopped.
func (p *PauseController) IsStopped() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.stopped
}

// WaitIfPaused blocks until the controller is resumed or stopped.
// Returns an error if the context is cancelled or the controller is stopped.
func (p *PauseController) WaitIfPaused(ctx context.Context) error {
	p.mu.Lock()
	if p.paused && !p.stopped {
		// One goroutine wakes the waiter if the context is cancelled.
		done := make(chan struct{})
		go func() {
			select {
			case <-ctx.Done():
				p.mu.Lock()
				p.cond.Broadcast()
				p.mu.Unlock()
			case <-done:
			}
		}()

		for p.paused && !p.stopped {
			p.cond.Wait()
			if ctx.Err() != nil {
				close(done)
				p.mu.Unlock()
				return ctx.Err()
			}
		}
		close(done)
	}
	if p.stopped {
		p.mu.Unlock()
		return ErrStopped
	}
	p.mu.Unlock()
	return nil
}
