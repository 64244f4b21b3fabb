package breaker

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/ShayCichocki/swarm/internal/metrics"
)

// Registry owns one Breaker per provider. It is created by the runtime and
// injected into the components that execute provider calls.
type Registry struct {
	config  Config
	now     func() time.Time
	logger  *slog.Logger
	metrics *metrics.Metrics

	mu       sync.RWMutex
	breakers map[string]*Breaker
}

// Option configures a Registry.
type Option func(*Registry)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) { r.logger = l }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Registry) { r.metrics = m }
}

// NewRegistry creates an empty registry.
func NewRegistry(cfg Config, opts ...Option) *Registry {
	r := &Registry{
		config:   cfg,
		now:      time.Now,
		logger:   slog.Default(),
		breakers: make(map[string]*Breaker),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With("component", "breaker")
	return r
}

// Get returns the breaker for provider, creating it on first use.
func (r *Registry) Get(provider string) *Breaker {
	r.mu.RLock()
	b, ok := r.breakers[provider]
	r.mu.RUnlock()
	if ok {
		return b
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.breakers[provider]; ok {
		return b
	}
	b = newBreaker(provider, r.config, r.now, r.logger, r.metrics)
	r.breakers[provider] = b
	return b
}

// ExecuteWithCircuitBreaker runs fn through provider's circuit. A rejection
// returns an error matching ErrCircuitOpen and fn is never called.
func (r *Registry) ExecuteWithCircuitBreaker(ctx context.Context, provider string, fn func(ctx context.Context) error) error {
	return r.Get(provider).Execute(ctx, fn)
}

// Snapshots returns the record of every known provider sorted by name.
func (r *Registry) Snapshots() []Snapshot {
	r.mu.RLock()
	out := make([]Snapshot, 0, len(r.breakers))
	for _, b := range r.breakers {
		out = append(out, b.Snapshot())
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Provider < out[j].Provider })
	return out
}

// OpenCount returns how many circuits are currently open.
func (r *Registry) OpenCount() int {
	n := 0
	for _, s := range r.Snapshots() {
		if s.State == StateOpen {
			n++
		}
	}
	return n
}

// ResetAll closes every circuit and clears any in-flight half-open trial.
func (r *Registry) ResetAll() {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, b := range r.breakers {
		b.Reset()
	}
}
