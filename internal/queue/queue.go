// Package queue admits runs, bounds how many execute at once and tracks
// their lifecycle.
package queue

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/ShayCichocki/swarm/internal/broadcast"
	"github.com/ShayCichocki/swarm/internal/config"
	"github.com/ShayCichocki/swarm/internal/metrics"
	"github.com/ShayCichocki/swarm/internal/orchestrator"
	"github.com/ShayCichocki/swarm/internal/state"
	"github.com/ShayCichocki/swarm/pkg/models"
)

var (
	// ErrQuotaExceeded is returned by Submit when every execution slot is taken.
	ErrQuotaExceeded = errors.New("concurrent run quota exceeded")
	// ErrInvalidRequest is returned for requests that fail validation.
	ErrInvalidRequest = errors.New("invalid run request")
	// ErrNotFound is returned for unknown run IDs.
	ErrNotFound = errors.New("run not found")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("queue closed")
)

// Error codes carried on swarm-error events.
const (
	CodeStageFailed = "stage_failed"
	CodeInternal    = "internal_error"
)

// Runner executes one run to completion.
type Runner interface {
	Run(ctx context.Context, run *models.Run) (*models.RunResult, error)
}

// Store persists run snapshots.
type Store interface {
	Save(ctx context.Context, run *models.Run) error
	Get(ctx context.Context, id string) (*models.Run, error)
	List(ctx context.Context, filter state.Filter) ([]*models.Run, error)
}

// CircuitCounter reports how many provider circuits are open.
type CircuitCounter interface {
	OpenCount() int
}

type job struct {
	run    *models.Run
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	seq    uint64
	index  int
}

// Queue owns every run from submission until it is evicted. At most
// MaxConcurrentRuns are running or paused at any time; the rest wait in a
// priority-ordered FIFO.
type Queue struct {
	cfg       config.QueueConfig
	runner    Runner
	store     Store
	publisher orchestrator.Publisher
	circuits  CircuitCounter
	metrics   *metrics.Metrics
	logger    *slog.Logger
	now       func() time.Time
	newID     func() string

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	jobs     map[string]*job
	pending  jobHeap
	running  int
	seq      uint64
	closed   bool
	finished *expirable.LRU[string, *job]
	// keys holds the job itself so a key outlives eviction from finished.
	keys *expirable.LRU[string, *job]
}

// Option configures a Queue.
type Option func(*Queue)

// WithStore persists every status change.
func WithStore(s Store) Option {
	return func(q *Queue) { q.store = s }
}

// WithPublisher sets where lifecycle events are sent.
func WithPublisher(p orchestrator.Publisher) Option {
	return func(q *Queue) { q.publisher = p }
}

// WithCircuits reports open circuits in Health.
func WithCircuits(c CircuitCounter) Option {
	return func(q *Queue) { q.circuits = c }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(q *Queue) { q.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(q *Queue) { q.logger = l }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(q *Queue) { q.now = now }
}

// WithIDGenerator overrides run ID generation.
func WithIDGenerator(fn func() string) Option {
	return func(q *Queue) { q.newID = fn }
}

// New creates a queue that executes runs with runner.
func New(cfg config.QueueConfig, runner Runner, opts ...Option) *Queue {
	def := config.Default().Queue
	if cfg.MaxConcurrentRuns <= 0 {
		cfg.MaxConcurrentRuns = def.MaxConcurrentRuns
	}
	if cfg.Retention <= 0 {
		cfg.Retention = def.Retention
	}
	if cfg.MaxTracked <= 0 {
		cfg.MaxTracked = def.MaxTracked
	}

	ctx, cancel := context.WithCancel(context.Background())
	q := &Queue{
		cfg:    cfg,
		runner: runner,
		logger: slog.Default(),
		now:    time.Now,
		newID:  uuid.NewString,
		ctx:    ctx,
		cancel: cancel,
		jobs:   make(map[string]*job),
	}
	for _, opt := range opts {
		opt(q)
	}
	q.logger = q.logger.With("component", "queue")
	q.finished = expirable.NewLRU[string, *job](cfg.MaxTracked, nil, cfg.Retention)
	q.keys = expirable.NewLRU[string, *job](cfg.MaxTracked, nil, cfg.Retention)
	return q
}

// Enqueue accepts a run. It starts immediately when a slot is free and is
// queued otherwise. A repeated idempotency key returns the earlier run.
func (q *Queue) Enqueue(ctx context.Context, req models.RunRequest) (*models.Run, error) {
	return q.admit(ctx, req, false)
}

// Submit is Enqueue with strict admission: when every slot is taken it
// returns ErrQuotaExceeded and creates nothing.
func (q *Queue) Submit(ctx context.Context, req models.RunRequest) (*models.Run, error) {
	return q.admit(ctx, req, true)
}

// Validate checks a request without submitting it.
func Validate(req models.RunRequest) error {
	var problems []string
	if strings.TrimSpace(req.Prompt) == "" {
		problems = append(problems, "prompt is required")
	}
	if !req.Mode.Valid() {
		problems = append(problems, fmt.Sprintf("mode %q must be chat, swarm or project", req.Mode))
	}
	if !req.SelectionMode.Valid() {
		problems = append(problems, fmt.Sprintf("agentSelectionMode %q must be auto or pinned", req.SelectionMode))
	}
	if req.SelectionMode == models.SelectionPinned && req.PreferredProvider == "" {
		problems = append(problems, "pinned selection requires preferredProvider")
	}
	if req.ConfidenceThreshold < 0 || req.ConfidenceThreshold > 100 {
		problems = append(problems, "confidenceThreshold must be between 0 and 100")
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidRequest, strings.Join(problems, "; "))
	}
	return nil
}

// effects are applied after the lock is released, in order. Done channels
// close last so a waiter observes the saved snapshot and published events.
type effects struct {
	saves    []*models.Run
	events   []broadcast.Event
	starts   []*job
	finished []*job
}

func (q *Queue) admit(ctx context.Context, req models.RunRequest, strict bool) (*models.Run, error) {
	if err := Validate(req); err != nil {
		return nil, err
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil, ErrClosed
	}

	key := idempotencyKey(req)
	if key != "" {
		if j, ok := q.keys.Get(key); ok {
			run := j.run.Clone()
			q.mu.Unlock()
			q.logger.Debug("duplicate idempotency key", "run", run.ID)
			return run, nil
		}
	}

	if strict && q.running >= q.cfg.MaxConcurrentRuns {
		q.mu.Unlock()
		return nil, ErrQuotaExceeded
	}

	run := models.NewRun(q.newID(), req, q.now())
	jctx, cancel := context.WithCancel(q.ctx)
	q.seq++
	j := &job{run: run, ctx: jctx, cancel: cancel, done: make(chan struct{}), seq: q.seq, index: -1}
	q.jobs[run.ID] = j
	if key != "" {
		q.keys.Add(key, j)
	}

	var fx effects
	fx.saves = append(fx.saves, run.Clone())
	fx.events = append(fx.events, broadcast.RunAccepted(run))
	if q.running < q.cfg.MaxConcurrentRuns {
		q.start(j, &fx)
	} else {
		heap.Push(&q.pending, j)
		q.logger.Info("run queued", "run", run.ID, "priority", run.Priority, "depth", q.pending.Len())
	}
	out := run.Clone()
	q.updateGauges()
	q.mu.Unlock()

	q.apply(fx)
	return out, nil
}

func idempotencyKey(req models.RunRequest) string {
	if req.IdempotencyKey == "" {
		return ""
	}
	return req.Owner + "\x00" + req.IdempotencyKey
}

// lookup finds an active or retained job. Caller holds q.mu.
func (q *Queue) lookup(id string) *job {
	if j, ok := q.jobs[id]; ok {
		return j
	}
	if j, ok := q.finished.Get(id); ok {
		return j
	}
	return nil
}

// start marks j running. Caller holds q.mu.
func (q *Queue) start(j *job, fx *effects) {
	now := q.now()
	j.run.Status = models.RunStatusRunning
	j.run.StartedAt = &now
	q.running++
	fx.saves = append(fx.saves, j.run.Clone())
	fx.events = append(fx.events, broadcast.RunStatus(j.run.ID, models.RunStatusRunning, ""))
	fx.starts = append(fx.starts, j)
	q.logger.Info("run started", "run", j.run.ID, "mode", j.run.Mode, "running", q.running)
}

// apply persists snapshots, publishes events and launches started jobs.
func (q *Queue) apply(fx effects) {
	for _, run := range fx.saves {
		q.save(run)
	}
	if q.publisher != nil {
		for _, ev := range fx.events {
			q.publisher.Publish(ev)
		}
	}
	for _, j := range fx.starts {
		q.wg.Add(1)
		go q.execute(j)
	}
	for _, j := range fx.finished {
		close(j.done)
	}
}

func (q *Queue) save(run *models.Run) {
	if q.store == nil {
		return
	}
	if err := q.store.Save(context.WithoutCancel(q.ctx), run); err != nil {
		q.logger.Warn("failed to save run", "run", run.ID, "status", run.Status, "error", err)
	}
}

func (q *Queue) execute(j *job) {
	defer q.wg.Done()

	q.mu.Lock()
	snapshot := j.run.Clone()
	q.mu.Unlock()

	result, err := q.runner.Run(j.ctx, snapshot)
	q.finish(j, result, err)
}

// finish records the outcome of a started job and admits queued runs.
func (q *Queue) finish(j *job, result *models.RunResult, err error) {
	q.mu.Lock()
	now := q.now()
	run := j.run
	var fx effects

	switch {
	case run.Status == models.RunStatusCancelled || j.ctx.Err() != nil:
		run.Status = models.RunStatusCancelled
		fx.events = append(fx.events, broadcast.RunStatus(run.ID, models.RunStatusCancelled, "cancelled"))
	case errors.Is(err, orchestrator.ErrStopped):
		run.Status = models.RunStatusCancelled
		fx.events = append(fx.events, broadcast.RunStatus(run.ID, models.RunStatusCancelled, "shutdown"))
	case err != nil:
		run.Status = models.RunStatusFailed
		run.Error = err.Error()
		code := CodeInternal
		if errors.Is(err, orchestrator.ErrStageFailed) {
			code = CodeStageFailed
		}
		fx.events = append(fx.events, broadcast.Error(run.ID, code, run.Error, ""))
	default:
		run.Status = models.RunStatusCompleted
		run.Result = result
		if result != nil {
			run.Providers = append([]string(nil), result.Providers...)
		}
		fx.events = append(fx.events, broadcast.Result(run))
	}
	run.CompletedAt = &now
	j.cancel()

	q.running--
	q.retire(j, &fx)
	fx.saves = append(fx.saves, run.Clone())
	q.admitPending(&fx)
	q.updateGauges()
	status := run.Status
	q.mu.Unlock()

	q.metrics.IncRunFinished(string(status))
	q.logger.Info("run finished", "run", run.ID, "status", status)
	q.apply(fx)
}

// retire moves a terminal job to the retention cache. Caller holds q.mu.
func (q *Queue) retire(j *job, fx *effects) {
	delete(q.jobs, j.run.ID)
	q.finished.Add(j.run.ID, j)
	fx.finished = append(fx.finished, j)
}

// admitPending starts queued runs while slots are free. Caller holds q.mu.
func (q *Queue) admitPending(fx *effects) {
	for q.running < q.cfg.MaxConcurrentRuns && q.pending.Len() > 0 {
		j := heap.Pop(&q.pending).(*job)
		q.start(j, fx)
	}
}

// CancelJob cancels a queued or running run. It returns false if the run is
// unknown, already terminal or already cancelled.
func (q *Queue) CancelJob(id string) bool {
	q.mu.Lock()
	j, ok := q.jobs[id]
	if !ok || j.run.Status.Terminal() {
		q.mu.Unlock()
		return false
	}

	var fx effects
	if j.index >= 0 {
		heap.Remove(&q.pending, j.index)
		q.cancelQueued(j, &fx)
	} else {
		// The runner observes the cancelled context; finish records the
		// terminal state once it returns.
		j.run.Status = models.RunStatusCancelled
		j.cancel()
		fx.saves = append(fx.saves, j.run.Clone())
	}
	q.updateGauges()
	q.mu.Unlock()

	q.logger.Info("run cancelled", "run", id)
	q.apply(fx)
	return true
}

// cancelQueued finalises a job that never started. Caller holds q.mu and has
// removed j from the pending heap.
func (q *Queue) cancelQueued(j *job, fx *effects) {
	now := q.now()
	j.run.Status = models.RunStatusCancelled
	j.run.CompletedAt = &now
	j.cancel()
	q.retire(j, fx)
	fx.saves = append(fx.saves, j.run.Clone())
	fx.events = append(fx.events, broadcast.RunStatus(j.run.ID, models.RunStatusCancelled, "cancelled before start"))
	q.metrics.IncRunFinished(string(models.RunStatusCancelled))
}

// CancelAllQueued cancels every run still waiting for a slot and returns how
// many were cancelled. Running runs are untouched.
func (q *Queue) CancelAllQueued() int {
	q.mu.Lock()
	var fx effects
	n := 0
	for q.pending.Len() > 0 {
		j := heap.Pop(&q.pending).(*job)
		q.cancelQueued(j, &fx)
		n++
	}
	q.updateGauges()
	q.mu.Unlock()

	if n > 0 {
		q.logger.Info("cancelled queued runs", "count", n)
	}
	q.apply(fx)
	return n
}

// SetStatus records a pause or resume reported by the pipeline.
func (q *Queue) SetStatus(runID string, status models.RunStatus) {
	if status != models.RunStatusPaused && status != models.RunStatusRunning {
		return
	}

	q.mu.Lock()
	j, ok := q.jobs[runID]
	if !ok || !j.run.Status.Active() || j.run.Status == status {
		q.mu.Unlock()
		return
	}
	j.run.Status = status
	fx := effects{
		saves:  []*models.Run{j.run.Clone()},
		events: []broadcast.Event{broadcast.RunStatus(runID, status, "")},
	}
	q.mu.Unlock()

	q.apply(fx)
}

// ActiveJobCount returns the number of running or paused runs.
func (q *Queue) ActiveJobCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.running
}

// QueueDepth returns the number of runs waiting for a slot.
func (q *Queue) QueueDepth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.pending.Len()
}

// Health is a point-in-time snapshot of queue load and process memory.
type Health struct {
	Active       int    `json:"active"`
	Queued       int    `json:"queued"`
	Tracked      int    `json:"tracked"`
	Max          int    `json:"maxConcurrentRuns"`
	Goroutines   int    `json:"goroutines"`
	HeapBytes    uint64 `json:"heapBytes"`
	OpenCircuits int    `json:"openCircuits"`
}

// Health reports current load, retained runs and process memory.
func (q *Queue) Health() Health {
	q.mu.Lock()
	h := Health{
		Active:  q.running,
		Queued:  q.pending.Len(),
		Tracked: len(q.jobs) + q.finished.Len(),
		Max:     q.cfg.MaxConcurrentRuns,
	}
	q.mu.Unlock()

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	h.HeapBytes = mem.HeapAlloc
	h.Goroutines = runtime.NumGoroutine()
	if q.circuits != nil {
		h.OpenCircuits = q.circuits.OpenCount()
	}
	return h
}

// Get returns a snapshot of a run from memory, falling back to the store.
func (q *Queue) Get(ctx context.Context, id string) (*models.Run, error) {
	q.mu.Lock()
	j := q.lookup(id)
	var run *models.Run
	if j != nil {
		run = j.run.Clone()
	}
	q.mu.Unlock()
	if run != nil {
		return run, nil
	}

	if q.store != nil {
		run, err := q.store.Get(ctx, id)
		if err == nil {
			return run, nil
		}
		if !errors.Is(err, state.ErrNotFound) {
			return nil, err
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
}

// List returns runs matching filter. With a store the store is authoritative;
// without one only runs still in memory are listed.
func (q *Queue) List(ctx context.Context, filter state.Filter) ([]*models.Run, error) {
	if q.store != nil {
		return q.store.List(ctx, filter)
	}

	filter = filter.Normalize()
	q.mu.Lock()
	var all []*models.Run
	for _, j := range q.jobs {
		all = append(all, j.run.Clone())
	}
	for _, j := range q.finished.Values() {
		if j != nil {
			all = append(all, j.run.Clone())
		}
	}
	q.mu.Unlock()

	return paginate(filterRuns(all, filter), filter), nil
}

// Done returns a channel closed when the run reaches a terminal state. ok is
// false for unknown runs.
func (q *Queue) Done(id string) (<-chan struct{}, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	j := q.lookup(id)
	if j == nil {
		return nil, false
	}
	return j.done, true
}

// Wait blocks until the run is terminal and returns its final snapshot.
func (q *Queue) Wait(ctx context.Context, id string) (*models.Run, error) {
	done, ok := q.Done(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	select {
	case <-done:
		return q.Get(ctx, id)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close stops admission, cancels queued and running runs and waits for
// running pipelines to return or ctx to expire.
func (q *Queue) Close(ctx context.Context) error {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()

	q.CancelAllQueued()
	q.cancel()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// updateGauges publishes queue sizes. Caller holds q.mu.
func (q *Queue) updateGauges() {
	q.metrics.SetQueue(q.running, q.pending.Len())
}
