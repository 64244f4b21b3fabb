// Package metrics exposes the Prometheus collectors shared by the queue,
// pipeline, stage executor and circuit breakers.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "swarm"

// Metrics holds every collector. A nil *Metrics is valid and records nothing.
type Metrics struct {
	stageDuration   *prometheus.HistogramVec
	stageReruns     *prometheus.CounterVec
	stageFailures   *prometheus.CounterVec
	agentFailures   *prometheus.CounterVec
	breakerState    *prometheus.GaugeVec
	breakerRejects  *prometheus.CounterVec
	runsActive      prometheus.Gauge
	runsQueued      prometheus.Gauge
	runsFinished    *prometheus.CounterVec
	droppedEvents   prometheus.Counter
	subscriberCount prometheus.Gauge
}

var (
	defaultOnce sync.Once
	shared      *Metrics
)

// Default returns the instance registered with the global Prometheus registry.
// The collectors are created once so repeated construction does not panic.
func Default() *Metrics {
	defaultOnce.Do(func() {
		shared = MustNew(prometheus.DefaultRegisterer)
	})
	return shared
}

// MustNew constructs a Metrics instance registered with reg. Collectors that
// are already registered are reused; any other registration error panics.
func MustNew(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "stage_duration_seconds",
			Help:      "Duration of each stage attempt.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200},
		}, []string{"stage", "status"}),
		stageReruns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "stage_reruns_total",
			Help:      "Number of low-confidence stage reruns.",
		}, []string{"stage"}),
		stageFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "stage_failures_total",
			Help:      "Stages that produced no successful instance.",
		}, []string{"stage"}),
		agentFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "agent",
			Name:      "failures_total",
			Help:      "Agent instance failures by provider and reason.",
		}, []string{"provider", "reason"}),
		breakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "breaker",
			Name:      "state",
			Help:      "Circuit state per provider (0 closed, 1 open, 2 half-open).",
		}, []string{"provider"}),
		breakerRejects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "breaker",
			Name:      "rejections_total",
			Help:      "Executions rejected because the circuit was open.",
		}, []string{"provider"}),
		runsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "runs_active",
			Help:      "Runs currently holding an execution slot.",
		}),
		runsQueued: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "runs_queued",
			Help:      "Runs waiting for capacity.",
		}),
		runsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "runs_finished_total",
			Help:      "Runs that reached a terminal state.",
		}, []string{"status"}),
		droppedEvents: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "broadcast",
			Name:      "dropped_events_total",
			Help:      "Events dropped for slow subscribers.",
		}),
		subscriberCount: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "broadcast",
			Name:      "subscribers",
			Help:      "Connected event subscribers.",
		}),
	}

	m.stageDuration = register(reg, m.stageDuration)
	m.stageReruns = register(reg, m.stageReruns)
	m.stageFailures = register(reg, m.stageFailures)
	m.agentFailures = register(reg, m.agentFailures)
	m.breakerState = register(reg, m.breakerState)
	m.breakerRejects = register(reg, m.breakerRejects)
	m.runsActive = register(reg, m.runsActive)
	m.runsQueued = register(reg, m.runsQueued)
	m.runsFinished = register(reg, m.runsFinished)
	m.droppedEvents = register(reg, m.droppedEvents)
	m.subscriberCount = register(reg, m.subscriberCount)
	return m
}

func register[T prometheus.Collector](reg prometheus.Registerer, c T) T {
	if err := reg.Register(c); err != nil {
		if already, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := already.ExistingCollector.(T); ok {
				return existing
			}
		}
		panic(err)
	}
	return c
}

// ObserveStage records the duration of one stage attempt.
func (m *Metrics) ObserveStage(stage, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.stageDuration.WithLabelValues(stage, status).Observe(d.Seconds())
}

// IncRerun counts a low-confidence rerun of stage.
func (m *Metrics) IncRerun(stage string) {
	if m == nil {
		return
	}
	m.stageReruns.WithLabelValues(stage).Inc()
}

// IncStageFailure counts a stage with zero successful instances.
func (m *Metrics) IncStageFailure(stage string) {
	if m == nil {
		return
	}
	m.stageFailures.WithLabelValues(stage).Inc()
}

// IncAgentFailure counts a failed agent attempt against provider.
func (m *Metrics) IncAgentFailure(provider, reason string) {
	if m == nil {
		return
	}
	m.agentFailures.WithLabelValues(provider, reason).Inc()
}

// SetBreakerState records the numeric circuit state for provider.
func (m *Metrics) SetBreakerState(provider string, state int) {
	if m == nil {
		return
	}
	m.breakerState.WithLabelValues(provider).Set(float64(state))
}

// IncBreakerRejection counts an execution rejected by an open circuit.
func (m *Metrics) IncBreakerRejection(provider string) {
	if m == nil {
		return
	}
	m.breakerRejects.WithLabelValues(provider).Inc()
}

// SetQueue records the active and queued run gauges.
func (m *Metrics) SetQueue(active, queued int) {
	if m == nil {
		return
	}
	m.runsActive.Set(float64(active))
	m.runsQueued.Set(float64(queued))
}

// IncRunFinished counts a run reaching a terminal status.
func (m *Metrics) IncRunFinished(status string) {
	if m == nil {
		return
	}
	m.runsFinished.WithLabelValues(status).Inc()
}

// IncDroppedEvent counts an event dropped for a slow subscriber.
func (m *Metrics) IncDroppedEvent() {
	if m == nil {
		return
	}
	m.droppedEvents.Inc()
}

// SetSubscribers records the number of connected subscribers.
func (m *Metrics) SetSubscribers(n int) {
	if m == nil {
		return
	}
	m.subscriberCount.Set(float64(n))
}
