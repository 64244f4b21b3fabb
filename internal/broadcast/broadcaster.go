package broadcast

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ShayCichocki/swarm/internal/metrics"
)

const (
	// DefaultBuffer is the publish queue and per-subscriber buffer size.
	DefaultBuffer = 256
	// publishTimeout is how long Publish waits on a full queue before dropping.
	publishTimeout = 100 * time.Millisecond
)

// Subscription receives every event published after it was created.
type Subscription struct {
	ch      chan Event
	b       *Broadcaster
	dropped atomic.Uint64
	once    sync.Once
}

// C returns the event channel. It is closed by Close or when the
// broadcaster shuts down.
func (s *Subscription) C() <-chan Event { return s.ch }

// Dropped returns how many events this subscriber missed.
func (s *Subscription) Dropped() uint64 { return s.dropped.Load() }

// Close unsubscribes. Safe to call more than once.
func (s *Subscription) Close() { s.b.unsubscribe(s) }

// Broadcaster delivers each event to all subscribers in publish order from a
// single dispatch goroutine. Delivery is best-effort: a subscriber with a
// full buffer misses the event and nothing is replayed.
type Broadcaster struct {
	in      chan Event
	done    chan struct{}
	stopped chan struct{}
	buffer  int
	now     func() time.Time
	logger  *slog.Logger
	metrics *metrics.Metrics

	mu          sync.RWMutex
	subscribers map[*Subscription]struct{}
	closed      bool

	droppedCount atomic.Uint64
	closeOnce    sync.Once
}

// Option configures a Broadcaster.
type Option func(*Broadcaster)

// WithBuffer sets the queue and per-subscriber buffer size.
func WithBuffer(n int) Option {
	return func(b *Broadcaster) {
		if n > 0 {
			b.buffer = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(b *Broadcaster) { b.logger = l }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(b *Broadcaster) { b.metrics = m }
}

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(b *Broadcaster) { b.now = now }
}

// New creates a broadcaster and starts its dispatch goroutine.
func New(opts ...Option) *Broadcaster {
	b := &Broadcaster{
		done:        make(chan struct{}),
		stopped:     make(chan struct{}),
		buffer:      DefaultBuffer,
		now:         time.Now,
		logger:      slog.Default(),
		subscribers: make(map[*Subscription]struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.in = make(chan Event, b.buffer)
	b.logger = b.logger.With("component", "broadcast")

	go b.dispatch()
	return b
}

// Publish queues an event for delivery. If the queue stays full for
// publishTimeout the event is dropped.
func (b *Broadcaster) Publish(ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = b.now()
	}

	select {
	case b.in <- ev:
		return
	case <-b.done:
		return
	default:
	}

	timer := time.NewTimer(publishTimeout)
	defer timer.Stop()
	select {
	case b.in <- ev:
	case <-b.done:
	case <-timer.C:
		b.drop(ev)
	}
}

// Subscribe registers a new subscriber. After Close, the returned
// subscription's channel is already closed.
func (b *Broadcaster) Subscribe() *Subscription {
	s := &Subscription{ch: make(chan Event, b.buffer), b: b}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		s.once.Do(func() { close(s.ch) })
		return s
	}
	b.subscribers[s] = struct{}{}
	n := len(b.subscribers)
	b.mu.Unlock()

	b.metrics.SetSubscribers(n)
	return s
}

// SubscriberCount returns the number of active subscribers.
func (b *Broadcaster) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// DroppedCount returns the total number of events dropped, either at publish
// or for a slow subscriber.
func (b *Broadcaster) DroppedCount() uint64 {
	return b.droppedCount.Load()
}

// Close stops dispatch and closes every subscription. Events still queued are
// discarded.
func (b *Broadcaster) Close() {
	b.closeOnce.Do(func() {
		close(b.done)
		<-b.stopped

		b.mu.Lock()
		b.closed = true
		subs := b.subscribers
		b.subscribers = make(map[*Subscription]struct{})
		b.mu.Unlock()

		for s := range subs {
			s.once.Do(func() { close(s.ch) })
		}
		b.metrics.SetSubscribers(0)
	})
}

func (b *Broadcaster) unsubscribe(s *Subscription) {
	b.mu.Lock()
	_, ok := b.subscribers[s]
	delete(b.subscribers, s)
	n := len(b.subscribers)
	b.mu.Unlock()

	if ok {
		b.metrics.SetSubscribers(n)
	}
	s.once.Do(func() { close(s.ch) })
}

func (b *Broadcaster) dispatch() {
	defer close(b.stopped)
	for {
		select {
		case ev := <-b.in:
			b.deliver(ev)
		case <-b.done:
			return
		}
	}
}

// deliver holds the read lock while sending so unsubscribe cannot close a
// channel mid-send.
func (b *Broadcaster) deliver(ev Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for s := range b.subscribers {
		select {
		case s.ch <- ev:
		default:
			s.dropped.Add(1)
			b.drop(ev)
		}
	}
}

func (b *Broadcaster) drop(ev Event) {
	count := b.droppedCount.Add(1)
	b.metrics.IncDroppedEvent()
	if count%100 == 1 {
		b.logger.Warn("dropped event", "type", ev.Type, "run", ev.RunID, "total_dropped", count)
	}
}
