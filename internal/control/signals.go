// Package control lets operators steer a running server by touching files in
// a signals directory.
package control

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Signal names a control file.
type Signal string

const (
	// SignalDrain cancels every queued run. Running runs are untouched.
	SignalDrain Signal = "drain"
	// SignalPause holds every pipeline at its next stage boundary.
	SignalPause Signal = "pause"
	// SignalResume releases paused pipelines.
	SignalResume Signal = "resume"
	// SignalReset closes every provider circuit.
	SignalReset Signal = "reset"
)

// Signals lists every recognised signal.
var Signals = []Signal{SignalDrain, SignalPause, SignalResume, SignalReset}

// ErrUnknownSignal is returned by Send for unrecognised names.
var ErrUnknownSignal = errors.New("unknown signal")

// Drainer cancels queued work.
type Drainer interface {
	CancelAllQueued() int
}

// Pauser pauses and resumes pipelines.
type Pauser interface {
	Pause()
	Resume()
}

// Resetter closes open circuits.
type Resetter interface {
	ResetAll()
}

// Watcher applies signal files as they appear. Each file is consumed
// (removed) once handled.
type Watcher struct {
	dir     string
	drainer Drainer
	pauser  Pauser
	reset   Resetter
	watcher *fsnotify.Watcher
	logger  *slog.Logger
}

// NewWatcher creates dir if needed and starts watching it.
func NewWatcher(dir string, drainer Drainer, pauser Pauser, reset Resetter, logger *slog.Logger) (*Watcher, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating signals dir: %w", err)
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating watcher: %w", err)
	}
	if err := fw.Add(dir); err != nil {
		fw.Close()
		return nil, fmt.Errorf("watching %s: %w", dir, err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{
		dir:     dir,
		drainer: drainer,
		pauser:  pauser,
		reset:   reset,
		watcher: fw,
		logger:  logger.With("component", "control"),
	}, nil
}

// Run handles signals until ctx is cancelled. Files present before Run
// starts are handled first.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.watcher.Close()

	for _, sig := range Signals {
		if _, err := os.Stat(w.path(sig)); err == nil {
			w.handle(sig)
		}
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) {
				continue
			}
			if sig, ok := parse(filepath.Base(ev.Name)); ok {
				w.handle(sig)
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("signal watcher error", "error", err)
		}
	}
}

func (w *Watcher) handle(sig Signal) {
	if err := os.Remove(w.path(sig)); err != nil {
		// Already consumed by an earlier event for the same file.
		if errors.Is(err, os.ErrNotExist) {
			return
		}
		w.logger.Warn("failed to consume signal", "signal", sig, "error", err)
	}

	switch sig {
	case SignalDrain:
		n := w.drainer.CancelAllQueued()
		w.logger.Info("drained queue", "cancelled", n)
	case SignalPause:
		w.pauser.Pause()
		w.logger.Info("pipelines paused")
	case SignalResume:
		w.pauser.Resume()
		w.logger.Info("pipelines resumed")
	case SignalReset:
		w.reset.ResetAll()
		w.logger.Info("circuits reset")
	}
}

func (w *Watcher) path(sig Signal) string {
	return filepath.Join(w.dir, string(sig))
}

func parse(name string) (Signal, bool) {
	for _, s := range Signals {
		if string(s) == name {
			return s, true
		}
	}
	return "", false
}

// Send writes a signal file into dir for a running server to pick up.
func Send(dir, name string) error {
	sig, ok := parse(name)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownSignal, name)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating signals dir: %w", err)
	}
	path := filepath.Join(dir, string(sig))
	return os.WriteFile(path, []byte(time.Now().Format(time.RFC3339)), 0o644)
}
