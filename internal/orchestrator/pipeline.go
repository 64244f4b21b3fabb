// Package orchestrator drives a run through its stages.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ShayCichocki/swarm/internal/broadcast"
	"github.com/ShayCichocki/swarm/internal/config"
	"github.com/ShayCichocki/swarm/internal/consensus"
	"github.com/ShayCichocki/swarm/internal/prompt"
	"github.com/ShayCichocki/swarm/internal/stage"
	"github.com/ShayCichocki/swarm/pkg/models"
)

// ErrStageFailed is returned when a stage produces no successful instance.
var ErrStageFailed = errors.New("stage failed")

// DefaultMaxReruns bounds low-confidence reruns per stage.
const DefaultMaxReruns = 2

// Pipeline executes runs stage by stage. One Pipeline serves many runs
// concurrently; per-run state lives on the stack of Run.
type Pipeline struct {
	executor StageRunner
	engine   *consensus.Engine
	opts     pipelineOptions
	logger   *slog.Logger
}

// New creates a Pipeline.
func New(req RequiredConfig, opts ...Option) *Pipeline {
	o := pipelineOptions{
		config: defaultPipelineConfig(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.publisher == nil {
		o.publisher = nopPublisher{}
	}
	if o.pause == nil {
		o.pause = NewPauseController(o.logger)
	}
	if o.tracer == nil {
		o.tracer = otel.Tracer("github.com/ShayCichocki/swarm/orchestrator")
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}

	return &Pipeline{
		executor: req.Executor,
		engine:   req.Engine,
		opts:     o,
		logger:   o.logger.With("component", "pipeline"),
	}
}

// PauseController returns the pause gate used by this pipeline.
func (p *Pipeline) PauseController() *PauseController {
	return p.opts.pause
}

// Stages returns the stage plan for a mode.
func Stages(mode models.Mode) []models.Stage {
	if mode == models.ModeChat {
		return []models.Stage{models.StageCode}
	}
	return append([]models.Stage(nil), models.AllStages...)
}

// Run executes run and returns its result. A cancelled context yields an
// error matching context.Canceled and no result. A stage with no successful
// instance yields ErrStageFailed.
func (p *Pipeline) Run(ctx context.Context, run *models.Run) (*models.RunResult, error) {
	ctx, span := p.opts.tracer.Start(ctx, "pipeline.run", trace.WithAttributes(
		attribute.String("swarm.run_id", run.ID),
		attribute.String("swarm.mode", string(run.Mode)),
	))
	defer span.End()

	log := p.logger.With("run", run.ID, "mode", run.Mode)
	log.Info("run started")

	r := &runState{
		run:       run,
		providers: make(map[string]bool),
	}

	for _, s := range Stages(run.Mode) {
		if err := p.boundary(ctx, run.ID); err != nil {
			span.SetStatus(codes.Error, "cancelled")
			return nil, err
		}

		analysis, err := p.runStage(ctx, r, s)
		switch {
		case err == nil:
		case errors.Is(err, errNoSuccess) && s == models.StageSynthesize:
			log.Warn("synthesis produced no output, using best code output")
			r.fromFallback = true
		case errors.Is(err, errNoSuccess):
			span.RecordError(err)
			span.SetStatus(codes.Error, "stage failed")
			return nil, fmt.Errorf("%w: %s: %w", ErrStageFailed, s, r.lastErr)
		default:
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}
		if analysis != nil {
			r.analyses = append(r.analyses, *analysis)
			r.prior = append(r.prior, prompt.PriorOutput{
				Stage:      s,
				Output:     analysis.Best,
				Confidence: analysis.Confidence,
			})
		}
	}

	result := p.assemble(r)
	span.SetAttributes(
		attribute.Int("swarm.confidence", result.Confidence),
		attribute.Bool("swarm.degraded", result.Degraded),
	)
	log.Info("run finished", "confidence", result.Confidence, "degraded", result.Degraded)
	return result, nil
}

// errNoSuccess marks a stage attempt in which no instance completed.
var errNoSuccess = errors.New("no successful instance")

// runState is the per-run bookkeeping carried between stages.
type runState struct {
	run          *models.Run
	analyses     []models.StageAnalysis
	prior        []prompt.PriorOutput
	providers    map[string]bool
	order        []string
	fromFallback bool
	lastErr      error
}

func (r *runState) addProviders(names []string) {
	for _, n := range names {
		if !r.providers[n] {
			r.providers[n] = true
			r.order = append(r.order, n)
		}
	}
}

func (r *runState) analysis(s models.Stage) (models.StageAnalysis, bool) {
	for _, a := range r.analyses {
		if a.Stage == s {
			return a, true
		}
	}
	return models.StageAnalysis{}, false
}

// Stop makes every pipeline sharing the pause controller end at its next
// stage boundary with ErrStopped. Paused pipelines are released.
func (p *Pipeline) Stop() {
	p.opts.pause.Stop()
}

// boundary checks cancellation and waits while paused.
func (p *Pipeline) boundary(ctx context.Context, runID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if p.opts.pause.IsStopped() {
		return ErrStopped
	}
	if !p.opts.pause.IsPaused() {
		return nil
	}

	p.setStatus(runID, models.RunStatusPaused)
	if err := p.opts.pause.WaitIfPaused(ctx); err != nil {
		return err
	}
	p.setStatus(runID, models.RunStatusRunning)
	return ctx.Err()
}

func (p *Pipeline) setStatus(runID string, status models.RunStatus) {
	if p.opts.reporter != nil {
		p.opts.reporter.SetStatus(runID, status)
	}
}

// runStage executes one stage with bounded reruns. The returned analysis is
// the highest scoring attempt. errNoSuccess is returned only when no attempt
// had a successful instance.
func (p *Pipeline) runStage(ctx context.Context, r *runState, s models.Stage) (*models.StageAnalysis, error) {
	run := r.run
	maxReruns := p.opts.config.MaxReruns
	threshold := run.ConfidenceThreshold
	if threshold <= 0 {
		threshold = p.opts.config.ConfidenceThreshold
	}

	var best *models.StageAnalysis
	prevConfidence := 0

	for attempt := 1; attempt <= maxReruns+1; attempt++ {
		if attempt > 1 {
			if err := p.boundary(ctx, run.ID); err != nil {
				return nil, err
			}
			p.opts.metrics.IncRerun(string(s))
		}

		a, res, err := p.attempt(ctx, r, s, attempt, prevConfidence, threshold)
		if err != nil {
			return nil, err
		}
		r.addProviders(res.Providers())

		if a == nil {
			r.lastErr = res.Err
			p.opts.metrics.IncStageFailure(string(s))
			if best == nil {
				return nil, errNoSuccess
			}
			// A rerun that failed outright keeps the earlier attempt.
			best.Degraded = true
			break
		}

		if best == nil || a.Confidence >= best.Confidence {
			best = a
		}
		best.Attempts = attempt

		if !a.NeedsRerun {
			break
		}
		if attempt == maxReruns+1 {
			best.Degraded = true
			p.logger.Warn("stage below threshold after reruns, continuing degraded",
				"run", run.ID, "stage", s, "confidence", best.Confidence, "threshold", threshold)
			break
		}
		prevConfidence = a.Confidence
	}

	p.opts.publisher.Publish(broadcast.StageResult(run.ID, *best))
	return best, nil
}

// attempt runs one execution of a stage and scores it. A nil analysis means
// no instance succeeded.
func (p *Pipeline) attempt(ctx context.Context, r *runState, s models.Stage, attempt, prevConfidence, threshold int) (*models.StageAnalysis, stage.Result, error) {
	run := r.run
	ctx, span := p.opts.tracer.Start(ctx, "pipeline.stage", trace.WithAttributes(
		attribute.String("swarm.stage", string(s)),
		attribute.Int("swarm.attempt", attempt),
	))
	defer span.End()

	req := stage.Request{
		RunID: run.ID,
		Stage: s,
		Prompt: prompt.Build(prompt.Input{
			Stage:              s,
			Mode:               run.Mode,
			Task:               run.Prompt,
			Intent:             run.Intent,
			Attachments:        run.Attachments,
			Prior:              r.prior,
			Attempt:            attempt,
			PreviousConfidence: prevConfidence,
		}),
		Count:             p.opts.config.AgentCount(run.Mode, s),
		PreferredProvider: run.PreferredProvider,
		Selection:         run.SelectionMode,
		WorkDir:           p.opts.config.WorkDir,
		Model:             p.opts.model,
	}

	start := time.Now()
	res := p.execute(ctx, req)
	elapsed := time.Since(start)

	if err := ctx.Err(); err != nil {
		p.opts.metrics.ObserveStage(string(s), "cancelled", elapsed)
		return nil, res, err
	}
	if res.Successes() == 0 {
		p.opts.metrics.ObserveStage(string(s), "failed", elapsed)
		span.RecordError(res.Err)
		span.SetStatus(codes.Error, "no successful instance")
		p.logger.Error("stage attempt failed", "run", run.ID, "stage", s, "attempt", attempt, "error", res.Err)
		return nil, res, nil
	}

	a := p.engine.Analyze(ctx, s, res.Instances, threshold)
	p.opts.metrics.ObserveStage(string(s), "completed", elapsed)
	span.SetAttributes(
		attribute.Int("swarm.confidence", a.Confidence),
		attribute.Float64("swarm.pass_rate", a.PassRate),
	)
	p.logger.Info("stage attempt scored",
		"run", run.ID,
		"stage", s,
		"attempt", attempt,
		"confidence", a.Confidence,
		"pass_rate", a.PassRate,
		"rerun", a.NeedsRerun,
	)
	return &a, res, nil
}

// execute runs the executor and forwards its events until it returns.
func (p *Pipeline) execute(ctx context.Context, req stage.Request) stage.Result {
	sink := make(chan stage.Event, 64)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		p.forward(ctx, sink)
	}()

	res := p.executor.Execute(ctx, req, sink)
	close(sink)
	wg.Wait()
	return res
}

// forward turns executor events into broadcast frames and persists terminal
// instances. It is the only publisher for a run while a stage executes.
func (p *Pipeline) forward(ctx context.Context, sink <-chan stage.Event) {
	for ev := range sink {
		switch ev.Kind {
		case stage.EventOutput:
			p.opts.publisher.Publish(broadcast.AgentOutput(ev.Instance, string(ev.Chunk.Kind), ev.Chunk.Text))
		case stage.EventStatus:
			p.opts.publisher.Publish(broadcast.AgentStatus(ev.Instance))
			if ev.Instance.Status.Terminal() && p.opts.recorder != nil {
				// Persist even when the run is cancelled.
				if err := p.opts.recorder.SaveInstance(context.WithoutCancel(ctx), ev.Instance); err != nil {
					p.logger.Warn("failed to save instance", "instance", ev.Instance.ID, "error", err)
				}
			}
		}
	}
}

// assemble builds the run result from the stage analyses.
func (p *Pipeline) assemble(r *runState) *models.RunResult {
	res := &models.RunResult{
		Stages:       r.analyses,
		FromFallback: r.fromFallback,
		Providers:    r.order,
	}

	for _, a := range r.analyses {
		if a.Degraded {
			res.Degraded = true
		}
	}
	res.Confidence = consensus.Aggregate(r.analyses)

	if synth, ok := r.analysis(models.StageSynthesize); ok && strings.TrimSpace(synth.Best) != "" {
		res.Output = synth.Best
	} else if code, ok := r.analysis(models.StageCode); ok {
		res.Output = code.Best
		if r.run.Mode != models.ModeChat {
			res.FromFallback = true
		}
	}

	if r.run.Mode == models.ModeProject {
		if plan, ok := r.analysis(models.StagePlan); ok {
			res.Plan = ParsePlan(plan.Best)
			if res.Plan != nil {
				if out, err := RenderPlan(res.Plan); err == nil {
					res.PlanYAML = out
				} else {
					p.logger.Warn("failed to render plan", "run", r.run.ID, "error", err)
				}
			}
		}
	}
	return res
}

func defaultPipelineConfig() config.PipelineConfig {
	return config.PipelineConfig{
		ConfidenceThreshold: consensus.DefaultThreshold,
		MaxReruns:           DefaultMaxReruns,
		InstanceTimeout:     stage.DefaultInstanceTimeout,
	}
}
