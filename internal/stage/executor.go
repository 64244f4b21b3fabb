// Package stage runs the agent instances of one pipeline stage.
package stage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/ShayCichocki/swarm/internal/breaker"
	"github.com/ShayCichocki/swarm/internal/metrics"
	"github.com/ShayCichocki/swarm/internal/provider"
	"github.com/ShayCichocki/swarm/pkg/models"
)

// ErrNoUsableProvider is recorded when every candidate provider was rejected
// or failed for an instance.
var ErrNoUsableProvider = errors.New("no usable provider")

// ReasonCircuitOpen is the instance reason when the last candidate was rejected
// by its circuit breaker.
const ReasonCircuitOpen = "circuit_open"

// DefaultInstanceTimeout bounds a single agent process.
const DefaultInstanceTimeout = 10 * time.Minute

// Request describes one stage attempt.
type Request struct {
	RunID string
	Stage models.Stage
	// Prompt is the generic prompt; each provider adapts it.
	Prompt string
	// Count is the number of instances to spawn. Values below 1 mean 1.
	Count int
	// PreferredProvider and Selection feed the router.
	PreferredProvider string
	Selection         models.SelectionMode
	WorkDir           string
	Model             string
}

// Result is the outcome of one stage attempt.
type Result struct {
	// Instances are in spawn order and all terminal.
	Instances []models.AgentInstance
	// Err joins the failure of every instance that did not complete.
	Err error
}

// Successes returns the number of completed instances.
func (r Result) Successes() int {
	n := 0
	for i := range r.Instances {
		if r.Instances[i].Succeeded() {
			n++
		}
	}
	return n
}

// Providers returns the distinct providers that ran instances, in order.
func (r Result) Providers() []string {
	seen := make(map[string]bool)
	var out []string
	for _, inst := range r.Instances {
		if inst.Provider != "" && !seen[inst.Provider] {
			seen[inst.Provider] = true
			out = append(out, inst.Provider)
		}
	}
	return out
}

// Executor spawns stage instances through the provider router, guarded by
// the breaker registry.
type Executor struct {
	router   *provider.Router
	breakers *breaker.Registry
	timeout  time.Duration
	metrics  *metrics.Metrics
	logger   *slog.Logger
	now      func() time.Time
	newID    func() string
}

// Option configures an Executor.
type Option func(*Executor)

// WithInstanceTimeout sets the wall-clock limit for one agent process.
func WithInstanceTimeout(d time.Duration) Option {
	return func(e *Executor) {
		if d > 0 {
			e.timeout = d
		}
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Executor) { e.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Executor) { e.logger = l }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Executor) { e.now = now }
}

// NewExecutor creates an executor.
func NewExecutor(router *provider.Router, breakers *breaker.Registry, opts ...Option) *Executor {
	e := &Executor{
		router:   router,
		breakers: breakers,
		timeout:  DefaultInstanceTimeout,
		logger:   slog.Default(),
		now:      time.Now,
		newID:    func() string { return uuid.New().String()[:8] },
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With("component", "stage")
	return e
}

// Execute runs req.Count instances concurrently and waits for all of them.
// Events are sent to sink, which may be nil; the caller must keep draining it
// until Execute returns.
func (e *Executor) Execute(ctx context.Context, req Request, sink chan<- Event) Result {
	count := req.Count
	if count < 1 {
		count = 1
	}

	candidates, routeErr := e.router.Candidates(req.PreferredProvider, req.Selection)
	pinned := 0
	if req.PreferredProvider != "" && len(candidates) > 0 && candidates[0].Name() == req.PreferredProvider {
		pinned = 1
	}

	instances := make([]models.AgentInstance, count)
	errs := make([]error, count)

	var g errgroup.Group
	for i := 0; i < count; i++ {
		g.Go(func() error {
			r := &run{
				exec: e,
				req:  req,
				sink: sink,
				inst: models.AgentInstance{
					ID:       e.newID(),
					RunID:    req.RunID,
					Stage:    req.Stage,
					Role:     req.Stage.Role(),
					Status:   models.AgentStatusPending,
					ExitCode: -1,
				},
			}
			r.emitStatus()

			if routeErr != nil {
				errs[i] = r.fail("routing", fmt.Errorf("%w: %w", ErrNoUsableProvider, routeErr))
			} else {
				errs[i] = r.execute(ctx, rotate(candidates, pinned, i))
			}
			instances[i] = r.inst
			return nil
		})
	}
	_ = g.Wait()

	return Result{Instances: instances, Err: errors.Join(errs...)}
}

// rotate keeps the first fixed candidates in place and starts the rest at
// offset i so fan-out spreads across providers. A caller preference is
// fixed, so every instance tries it first.
func rotate(candidates []provider.Provider, fixed, i int) []provider.Provider {
	tail := candidates[fixed:]
	if len(tail) < 2 {
		return candidates
	}
	k := i % len(tail)
	out := make([]provider.Provider, 0, len(candidates))
	out = append(out, candidates[:fixed]...)
	out = append(out, tail[k:]...)
	return append(out, tail[:k]...)
}

// run is the state of one instance while it walks its candidates.
type run struct {
	exec *Executor
	req  Request
	sink chan<- Event
	inst models.AgentInstance
}

func (r *run) execute(ctx context.Context, candidates []provider.Provider) error {
	var lastErr error
	lastReason := ""

	for _, p := range candidates {
		if err := ctx.Err(); err != nil {
			r.cancel(err)
			return fmt.Errorf("instance %s: %w", r.inst.ID, err)
		}

		name := p.Name()
		err := r.exec.breakers.ExecuteWithCircuitBreaker(ctx, name, func(ctx context.Context) error {
			return r.attempt(ctx, p)
		})
		if err == nil {
			r.transition(models.AgentStatusCompleted, "")
			return nil
		}

		if errors.Is(err, breaker.ErrCircuitOpen) {
			r.exec.logger.Debug("skipping provider with open circuit", "provider", name, "instance", r.inst.ID)
			lastErr, lastReason = err, ReasonCircuitOpen
			continue
		}
		if ctx.Err() != nil {
			r.cancel(ctx.Err())
			return fmt.Errorf("instance %s: %w", r.inst.ID, ctx.Err())
		}

		lastErr, lastReason = err, provider.ReasonExit
		var pe *provider.Error
		if errors.As(err, &pe) {
			lastReason = pe.Reason
		}
		r.exec.metrics.IncAgentFailure(name, lastReason)
		r.exec.logger.Warn("provider attempt failed",
			"provider", name,
			"instance", r.inst.ID,
			"stage", r.req.Stage,
			"reason", lastReason,
			"error", err,
		)
	}

	return r.fail(lastReason, fmt.Errorf("%w: %w", ErrNoUsableProvider, lastErr))
}

// attempt spawns one process on p and collects its output.
func (r *run) attempt(ctx context.Context, p provider.Provider) error {
	name := p.Name()

	ictx, cancel := context.WithTimeout(ctx, r.exec.timeout)
	defer cancel()

	proc, err := p.Spawn(ictx, p.AdaptPrompt(r.req.Prompt), provider.SpawnOptions{
		WorkDir: r.req.WorkDir,
		Model:   r.req.Model,
		Role:    r.inst.Role,
	})
	if err != nil {
		return &provider.Error{Provider: name, Reason: provider.ReasonSpawn, Err: err}
	}

	r.inst.Provider = name
	r.inst.Output = ""
	r.inst.ExitCode = -1
	if r.inst.Status == models.AgentStatusPending {
		r.inst.StartedAt = r.exec.now()
		r.transition(models.AgentStatusRunning, "")
	} else {
		// Falling back to another provider after a failed attempt.
		r.emitStatus()
	}

	var text strings.Builder
	result := ""
	for c := range proc.Output() {
		switch c.Kind {
		case provider.ChunkText:
			text.WriteString(c.Text)
		case provider.ChunkResult:
			result = c.Text
		}
		r.emit(Event{Kind: EventOutput, Instance: r.snapshot(), Chunk: c})
	}

	code, waitErr := proc.Wait()
	r.inst.ExitCode = code

	if ctx.Err() != nil {
		return ctx.Err()
	}
	if errors.Is(ictx.Err(), context.DeadlineExceeded) {
		_ = proc.Kill()
		return &provider.Error{Provider: name, Reason: provider.ReasonTimeout, ExitCode: code, Err: context.DeadlineExceeded}
	}
	if waitErr != nil || code != 0 {
		return &provider.Error{Provider: name, Reason: provider.ReasonExit, ExitCode: code, Err: waitErr}
	}

	output := result
	if strings.TrimSpace(output) == "" {
		output = text.String()
	}
	output = strings.TrimSpace(output)
	if output == "" {
		return &provider.Error{Provider: name, Reason: provider.ReasonEmpty}
	}
	r.inst.Output = output
	return nil
}

func (r *run) fail(reason string, err error) error {
	r.inst.Output = ""
	r.transition(models.AgentStatusFailed, reason)
	return fmt.Errorf("instance %s: %w", r.inst.ID, err)
}

func (r *run) cancel(err error) {
	r.inst.Output = ""
	r.transition(models.AgentStatusCancelled, err.Error())
}

func (r *run) transition(to models.AgentStatus, reason string) {
	if !CanTransition(r.inst.Status, to) {
		r.exec.logger.Warn("invalid instance transition",
			"instance", r.inst.ID, "from", r.inst.Status, "to", to)
		return
	}
	r.inst.Status = to
	r.inst.Reason = reason
	if to.Terminal() {
		r.inst.EndedAt = r.exec.now()
	}
	r.emitStatus()
}

func (r *run) snapshot() models.AgentInstance {
	return r.inst
}

func (r *run) emitStatus() {
	r.emit(Event{Kind: EventStatus, Instance: r.snapshot()})
}

func (r *run) emit(ev Event) {
	if r.sink != nil {
		r.sink <- ev
	}
}
