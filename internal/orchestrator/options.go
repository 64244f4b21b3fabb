package orchestrator

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel/trace"

	"github.com/ShayCichocki/swarm/internal/broadcast"
	"github.com/ShayCichocki/swarm/internal/config"
	"github.com/ShayCichocki/swarm/internal/consensus"
	"github.com/ShayCichocki/swarm/internal/metrics"
	"github.com/ShayCichocki/swarm/internal/stage"
	"github.com/ShayCichocki/swarm/pkg/models"
)

// StageRunner executes the instances of one stage attempt.
type StageRunner interface {
	Execute(ctx context.Context, req stage.Request, sink chan<- stage.Event) stage.Result
}

// Publisher receives progress events.
type Publisher interface {
	Publish(ev broadcast.Event)
}

// StatusReporter is told when the pipeline pauses or resumes a run.
type StatusReporter interface {
	SetStatus(runID string, status models.RunStatus)
}

// InstanceRecorder persists terminal agent instances.
type InstanceRecorder interface {
	SaveInstance(ctx context.Context, inst models.AgentInstance) error
}

// RequiredConfig contains the minimal required configuration for a Pipeline.
// All fields are required and have no defaults.
type RequiredConfig struct {
	// Executor runs stage instances.
	Executor StageRunner
	// Engine scores stage attempts.
	Engine *consensus.Engine
}

// Option configures a Pipeline. Use With* functions to create Options.
type Option func(*pipelineOptions)

// pipelineOptions holds all optional configuration.
type pipelineOptions struct {
	config    config.PipelineConfig
	publisher Publisher
	reporter  StatusReporter
	recorder  InstanceRecorder
	pause     *PauseController
	metrics   *metrics.Metrics
	tracer    trace.Tracer
	logger    *slog.Logger
	model     string
}

// WithConfig sets agent counts, the rerun bound and the threshold.
func WithConfig(c config.PipelineConfig) Option {
	return func(o *pipelineOptions) { o.config = c }
}

// WithMaxReruns overrides the number of reruns allowed per stage.
func WithMaxReruns(n int) Option {
	return func(o *pipelineOptions) {
		if n >= 0 {
			o.config.MaxReruns = n
		}
	}
}

// WithPublisher sets where progress events are sent.
func WithPublisher(p Publisher) Option {
	return func(o *pipelineOptions) { o.publisher = p }
}

// WithStatusReporter sets the receiver of pause and resume transitions.
func WithStatusReporter(r StatusReporter) Option {
	return func(o *pipelineOptions) { o.reporter = r }
}

// WithInstanceRecorder persists every terminal agent instance.
func WithInstanceRecorder(r InstanceRecorder) Option {
	return func(o *pipelineOptions) { o.recorder = r }
}

// WithPauseController shares a pause gate with other pipelines.
func WithPauseController(p *PauseController) Option {
	return func(o *pipelineOptions) { o.pause = p }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *pipelineOptions) { o.metrics = m }
}

// WithTracer sets the tracer used for run and stage spans.
func WithTracer(t trace.Tracer) Option {
	return func(o *pipelineOptions) { o.tracer = t }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *pipelineOptions) { o.logger = l }
}

// WithModel overrides the providers' default model.
func WithModel(model string) Option {
	return func(o *pipelineOptions) { o.model = model }
}

type nopPublisher struct{}

func (nopPublisher) Publish(broadcast.Event) {}
