// Package breaker isolates failing providers with per-provider circuit breakers.
//
// A circuit opens after a run of consecutive failures, rejects executions
// until the reset timeout elapses, then admits a single probe in the
// half-open state. The probe's outcome closes or reopens the circuit.
package breaker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ShayCichocki/swarm/internal/metrics"
)

// ErrCircuitOpen is returned when an execution is rejected without being attempted.
var ErrCircuitOpen = errors.New("circuit open")

// State represents the state of a circuit breaker.
type State int

const (
	// StateClosed allows executions.
	StateClosed State = iota
	// StateOpen rejects executions until the reset timeout elapses.
	StateOpen
	// StateHalfOpen admits one probe execution.
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// MarshalText renders the state name in JSON and YAML.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Config configures breaker behavior.
type Config struct {
	// Threshold is the number of consecutive failures that opens the circuit.
	Threshold int
	// ResetTimeout is how long a circuit stays open before probing.
	ResetTimeout time.Duration
}

// DefaultConfig returns threshold 5 and a 30s reset timeout.
func DefaultConfig() Config {
	return Config{
		Threshold:    5,
		ResetTimeout: 30 * time.Second,
	}
}

// RejectedError wraps ErrCircuitOpen with the provider and remaining wait.
type RejectedError struct {
	Provider string
	RetryIn  time.Duration
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("%s: provider %s, retry in %s", ErrCircuitOpen, e.Provider, e.RetryIn.Round(time.Millisecond))
}

// Unwrap lets errors.Is match ErrCircuitOpen.
func (e *RejectedError) Unwrap() error { return ErrCircuitOpen }

// Snapshot is a point-in-time copy of a breaker's record.
type Snapshot struct {
	Provider    string    `json:"provider"`
	State       State     `json:"state"`
	Failures    int       `json:"failures"`
	Successes   int       `json:"successes"`
	LastFailure time.Time `json:"last_failure,omitempty"`
	OpenedAt    time.Time `json:"opened_at,omitempty"`
}

// Breaker is the circuit for one provider.
type Breaker struct {
	provider string
	config   Config
	now      func() time.Time
	logger   *slog.Logger
	metrics  *metrics.Metrics

	mu          sync.Mutex
	state       State
	failures    int
	successes   int
	lastFailure time.Time
	openedAt    time.Time
	probing     bool
}

func newBreaker(provider string, cfg Config, now func() time.Time, logger *slog.Logger, m *metrics.Metrics) *Breaker {
	if cfg.Threshold < 1 {
		cfg.Threshold = DefaultConfig().Threshold
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = DefaultConfig().ResetTimeout
	}
	b := &Breaker{
		provider: provider,
		config:   cfg,
		now:      now,
		logger:   logger,
		metrics:  m,
		state:    StateClosed,
	}
	m.SetBreakerState(provider, int(StateClosed))
	return b
}

// Allow reports whether an execution may proceed. A nil error admits the
// caller, which must then call Record or Abandon exactly once.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateOpen:
		elapsed := b.now().Sub(b.openedAt)
		if elapsed < b.config.ResetTimeout {
			b.metrics.IncBreakerRejection(b.provider)
			return &RejectedError{Provider: b.provider, RetryIn: b.config.ResetTimeout - elapsed}
		}
		b.setState(StateHalfOpen)
		b.probing = true
		return nil
	case StateHalfOpen:
		if b.probing {
			b.metrics.IncBreakerRejection(b.provider)
			return &RejectedError{Provider: b.provider}
		}
		b.probing = true
		return nil
	default:
		return nil
	}
}

// Record reports the outcome of an admitted execution. Pass nil for success.
func (b *Breaker) Record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.probing = false
	if err == nil {
		b.onSuccess()
	} else {
		b.onFailure()
	}
}

func (b *Breaker) onSuccess() {
	b.successes++
	b.failures = 0
	if b.state == StateHalfOpen {
		b.setState(StateClosed)
		b.logger.Info("circuit closed", "provider", b.provider)
	}
}

func (b *Breaker) onFailure() {
	now := b.now()
	b.lastFailure = now
	b.failures++

	switch b.state {
	case StateClosed:
		if b.failures >= b.config.Threshold {
			b.openedAt = now
			b.setState(StateOpen)
			b.logger.Warn("circuit opened", "provider", b.provider, "failures", b.failures)
		}
	case StateHalfOpen:
		b.openedAt = now
		b.setState(StateOpen)
		b.logger.Warn("circuit reopened after failed probe", "provider", b.provider)
	}
}

func (b *Breaker) setState(s State) {
	if b.state == s {
		return
	}
	b.logger.Debug("circuit state change", "provider", b.provider, "from", b.state.String(), "to", s.String())
	b.state = s
	b.metrics.SetBreakerState(b.provider, int(s))
}

// State returns the current state. An open circuit whose timeout has elapsed
// still reports open until the next Allow moves it to half-open.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Snapshot returns a copy of the breaker's record.
func (b *Breaker) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Snapshot{
		Provider:    b.provider,
		State:       b.state,
		Failures:    b.failures,
		Successes:   b.successes,
		LastFailure: b.lastFailure,
		OpenedAt:    b.openedAt,
	}
}

// Reset returns the breaker to closed with cleared counters.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
	b.probing = false
	b.openedAt = time.Time{}
	b.setState(StateClosed)
}

// Abandon releases an admitted execution without recording an outcome.
func (b *Breaker) Abandon() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.probing = false
}

// Execute runs fn if the circuit admits it and records the outcome.
// A rejection returns an error matching ErrCircuitOpen without calling fn.
// Cancellation is not held against the provider.
func (b *Breaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := b.Allow(); err != nil {
		return err
	}
	err := fn(ctx)
	if errors.Is(err, context.Canceled) {
		b.Abandon()
		return err
	}
	b.Record(err)
	return err
}
