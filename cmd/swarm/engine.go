package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ShayCichocki/swarm/internal/breaker"
	"github.com/ShayCichocki/swarm/internal/broadcast"
	"github.com/ShayCichocki/swarm/internal/config"
	"github.com/ShayCichocki/swarm/internal/consensus"
	"github.com/ShayCichocki/swarm/internal/metrics"
	"github.com/ShayCichocki/swarm/internal/orchestrator"
	"github.com/ShayCichocki/swarm/internal/provider"
	"github.com/ShayCichocki/swarm/internal/queue"
	"github.com/ShayCichocki/swarm/internal/stage"
	"github.com/ShayCichocki/swarm/internal/state"
	"github.com/ShayCichocki/swarm/internal/telemetry"
	"github.com/ShayCichocki/swarm/pkg/models"
)

// engine holds every long-lived component of one process.
type engine struct {
	breakers *breaker.Registry
	router   *provider.Router
	bus      *broadcast.Broadcaster
	pipeline *orchestrator.Pipeline
	queue    *queue.Queue
	store    state.Store
	logger   *slog.Logger
}

// engineDeps lets tests substitute providers and storage.
type engineDeps struct {
	providers []provider.Provider
	store     state.Store
	metrics   *metrics.Metrics
}

// statusRelay forwards pipeline pause transitions to the queue, which is
// created after the pipeline.
type statusRelay struct {
	q *queue.Queue
}

func (r *statusRelay) SetStatus(runID string, status models.RunStatus) {
	if r.q != nil {
		r.q.SetStatus(runID, status)
	}
}

// newEngine wires the queue, pipeline, executor, router and breakers.
func newEngine(ctx context.Context, c *config.Config, deps engineDeps, logger *slog.Logger) (*engine, error) {
	m := deps.metrics
	if m == nil {
		m = metrics.Default()
	}

	breakers := breaker.NewRegistry(breaker.Config{
		Threshold:    c.Breaker.Threshold,
		ResetTimeout: c.Breaker.ResetTimeout,
	}, breaker.WithLogger(logger), breaker.WithMetrics(m))

	router := provider.NewRouter(c.Providers.Order, provider.Account{
		Preferred: c.Providers.Account.Preferred,
		Allowed:   c.Providers.Account.Allowed,
	})
	providers := deps.providers
	if providers == nil {
		var err error
		if providers, err = configuredProviders(ctx, c, logger); err != nil {
			return nil, err
		}
	}
	for _, p := range providers {
		router.Register(p)
	}
	if len(router.Names()) == 0 {
		return nil, errors.New("no providers available: install a provider CLI or set ANTHROPIC_API_KEY")
	}

	executor := stage.NewExecutor(router, breakers,
		stage.WithInstanceTimeout(c.Pipeline.InstanceTimeout),
		stage.WithMetrics(m),
		stage.WithLogger(logger))

	bus := broadcast.New(broadcast.WithLogger(logger), broadcast.WithMetrics(m))

	relay := &statusRelay{}
	opts := []orchestrator.Option{
		orchestrator.WithConfig(c.Pipeline),
		orchestrator.WithPublisher(bus),
		orchestrator.WithStatusReporter(relay),
		orchestrator.WithMetrics(m),
		orchestrator.WithTracer(telemetry.Tracer("github.com/ShayCichocki/swarm/orchestrator")),
		orchestrator.WithLogger(logger),
	}
	if deps.store != nil {
		opts = append(opts, orchestrator.WithInstanceRecorder(deps.store))
	}
	pipeline := orchestrator.New(orchestrator.RequiredConfig{
		Executor: executor,
		Engine:   newConsensusEngine(c, logger),
	}, opts...)

	qopts := []queue.Option{
		queue.WithPublisher(bus),
		queue.WithCircuits(breakers),
		queue.WithMetrics(m),
		queue.WithLogger(logger),
	}
	if deps.store != nil {
		qopts = append(qopts, queue.WithStore(deps.store))
	}
	q := queue.New(c.Queue, pipeline, qopts...)
	relay.q = q

	return &engine{
		breakers: breakers,
		router:   router,
		bus:      bus,
		pipeline: pipeline,
		queue:    q,
		store:    deps.store,
		logger:   logger,
	}, nil
}

// configuredProviders builds the CLI providers from the catalog plus the API
// provider when credentials are available.
func configuredProviders(ctx context.Context, c *config.Config, logger *slog.Logger) ([]provider.Provider, error) {
	defs := []provider.Definition{provider.ClaudeDefinition()}
	if c.Providers.CatalogPath != "" {
		loaded, err := provider.LoadCatalog(c.Providers.CatalogPath)
		if err != nil {
			return nil, fmt.Errorf("loading provider catalog: %w", err)
		}
		defs = loaded
	}

	var out []provider.Provider
	for _, def := range defs {
		p, err := provider.NewCLIProvider(def)
		if err != nil {
			return nil, err
		}
		if !p.Available() {
			logger.Warn("provider CLI not found, skipping", "provider", def.Name, "command", def.Command)
			continue
		}
		out = append(out, p)
	}

	key, keyErr := config.GetAPIKey(c)
	if keyErr == nil || c.Anthropic.UseBedrock {
		api, err := provider.NewAnthropicProvider(ctx, provider.AnthropicConfig{
			APIKey:     key,
			Model:      c.Anthropic.Model,
			MaxTokens:  c.Anthropic.MaxTokens,
			UseBedrock: c.Anthropic.UseBedrock,
			AWSRegion:  c.Anthropic.AWSRegion,
			AWSProfile: c.Anthropic.AWSProfile,
		})
		if err != nil {
			return nil, fmt.Errorf("creating anthropic provider: %w", err)
		}
		out = append(out, api)
	}
	return out, nil
}

func newConsensusEngine(c *config.Config, logger *slog.Logger) *consensus.Engine {
	opts := []consensus.Option{
		consensus.WithThreshold(c.Pipeline.ConfidenceThreshold),
		consensus.WithLogger(logger),
	}
	if c.Consensus.FactCheck {
		opts = append(opts, consensus.WithFactChecker(consensus.DefaultPlaceholderChecker()))
	}
	if c.Consensus.Semantic {
		switch c.Consensus.EmbeddingBackend {
		case "openai":
			key, err := config.GetEmbeddingKey(c)
			if err != nil {
				logger.Warn("semantic scoring disabled", "error", err)
				break
			}
			opts = append(opts, consensus.WithSemantic(consensus.NewOpenAIEmbedder(key, c.Consensus.EmbeddingModel), c.Consensus.SemanticWeight))
		default:
			opts = append(opts, consensus.WithSemantic(consensus.NewOllamaEmbedder(c.Consensus.EmbeddingModel, c.Consensus.EmbeddingURL), c.Consensus.SemanticWeight))
		}
	}
	return consensus.NewEngine(opts...)
}

// Close stops pipelines at their next stage boundary, cancels outstanding
// runs and releases the store.
func (e *engine) Close(ctx context.Context) error {
	e.pipeline.Stop()
	err := e.queue.Close(ctx)
	e.bus.Close()
	if e.store != nil {
		err = errors.Join(err, e.store.Close())
	}
	return err
}
