package consensus

import (
	"context"
	"log/slog"
	"math"
	"strings"

	"github.com/ShayCichocki/swarm/pkg/models"
)

// DefaultThreshold is the confidence below which a stage is rerun.
const DefaultThreshold = 80

// Engine produces StageAnalysis values.
type Engine struct {
	threshold      int
	embedder       Embedder
	semanticWeight float64
	checker        FactChecker
	logger         *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithThreshold sets the default rerun threshold.
func WithThreshold(t int) Option {
	return func(e *Engine) { e.threshold = clamp(t) }
}

// WithSemantic blends embedding similarity into the lexical score with weight w.
func WithSemantic(emb Embedder, w float64) Option {
	return func(e *Engine) {
		e.embedder = emb
		e.semanticWeight = math.Max(0, math.Min(1, w))
	}
}

// WithFactChecker enables a penalty pass over the selected output.
func WithFactChecker(c FactChecker) Option {
	return func(e *Engine) { e.checker = c }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// NewEngine creates an engine with the default threshold and lexical scoring.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		threshold: DefaultThreshold,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Threshold returns the default rerun threshold.
func (e *Engine) Threshold() int { return e.threshold }

// Analyze judges one stage attempt. threshold overrides the engine default
// when > 0. Only completed instances with non-blank output are compared.
func (e *Engine) Analyze(ctx context.Context, stage models.Stage, instances []models.AgentInstance, threshold int) models.StageAnalysis {
	if threshold <= 0 {
		threshold = e.threshold
	}

	var outputs []string
	for i := range instances {
		if instances[i].Succeeded() && strings.TrimSpace(instances[i].Output) != "" {
			outputs = append(outputs, instances[i].Output)
		}
	}

	a := models.StageAnalysis{
		Stage:     stage,
		BestIndex: -1,
		PassRate:  PassRate(instances),
	}

	switch len(outputs) {
	case 0:
		a.Confidence = 0
	case 1:
		a.BestIndex = 0
		a.Best = outputs[0]
		a.Confidence = int(math.Round(100 * a.PassRate))
	default:
		lex := LexicalMatrix(outputs)
		m := e.blend(ctx, lex, outputs)
		pairs, mean, lo, hi := m.Summary()
		a.Agreement = models.Agreement{Pairs: pairs, Mean: mean, Min: lo, Max: hi}
		// Selection is by token overlap; embeddings only shift confidence.
		a.BestIndex = selectBest(lex)
		a.Best = outputs[a.BestIndex]
		a.Confidence = int(math.Round(mean * 100))
	}

	if e.checker != nil && a.Best != "" {
		if p := e.checker.Penalty(a.Best); p > 0 {
			a.Confidence -= p
		}
	}

	a.Confidence = clamp(a.Confidence)
	a.NeedsRerun = NeedsRerun(a.Confidence, threshold)
	return a
}

func (e *Engine) blend(ctx context.Context, lex Matrix, outputs []string) Matrix {
	if e.embedder == nil || e.semanticWeight == 0 {
		return lex
	}
	sem, err := e.embedder.Matrix(ctx, outputs)
	if err != nil {
		e.logger.Warn("semantic similarity unavailable, using lexical only", "error", err)
		return lex
	}
	return Blend(lex, sem, e.semanticWeight)
}

// NeedsRerun reports whether confidence is below threshold.
func NeedsRerun(confidence, threshold int) bool {
	return confidence < threshold
}

// PassRate returns the fraction of instances that completed successfully.
func PassRate(instances []models.AgentInstance) float64 {
	if len(instances) == 0 {
		return 0
	}
	n := 0
	for i := range instances {
		if instances[i].Succeeded() {
			n++
		}
	}
	return float64(n) / float64(len(instances))
}
