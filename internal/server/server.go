// Package server exposes the run API over HTTP and the progress stream over
// a WebSocket push channel.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ShayCichocki/swarm/internal/broadcast"
	"github.com/ShayCichocki/swarm/internal/config"
	"github.com/ShayCichocki/swarm/internal/queue"
	"github.com/ShayCichocki/swarm/internal/state"
	"github.com/ShayCichocki/swarm/pkg/models"
)

// RunQueue is the subset of the job queue the server drives.
type RunQueue interface {
	Enqueue(ctx context.Context, req models.RunRequest) (*models.Run, error)
	Submit(ctx context.Context, req models.RunRequest) (*models.Run, error)
	Get(ctx context.Context, id string) (*models.Run, error)
	List(ctx context.Context, filter state.Filter) ([]*models.Run, error)
	CancelJob(id string) bool
	Health() queue.Health
}

// Feed hands out progress subscriptions.
type Feed interface {
	Subscribe() *broadcast.Subscription
}

// DefaultPingInterval is how often idle push connections are pinged.
const DefaultPingInterval = 30 * time.Second

const shutdownTimeout = 10 * time.Second

// Server serves the HTTP API and the push channel.
type Server struct {
	queue    RunQueue
	feed     Feed
	engine   *gin.Engine
	upgrader websocket.Upgrader
	gatherer prometheus.Gatherer
	logger   *slog.Logger
	addr     string
	ping     time.Duration
	started  time.Time
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithGatherer sets the registry served on /metrics.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(s *Server) { s.gatherer = g }
}

// New creates a Server and registers its routes.
func New(cfg config.ServerConfig, q RunQueue, feed Feed, opts ...Option) *Server {
	s := &Server{
		queue:    q,
		feed:     feed,
		gatherer: prometheus.DefaultGatherer,
		logger:   slog.Default(),
		addr:     cfg.Addr,
		ping:     cfg.PingInterval,
		started:  time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "server")
	if s.ping <= 0 {
		s.ping = DefaultPingInterval
	}

	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     originChecker(cfg.AllowedOrigins),
	}

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(requestLogger(s.logger))
	engine.Use(cors.New(corsConfig(cfg.AllowedOrigins)))
	s.engine = engine
	s.routes()
	return s
}

func corsConfig(origins []string) cors.Config {
	c := cors.DefaultConfig()
	if len(origins) == 0 {
		c.AllowAllOrigins = true
	} else {
		c.AllowOrigins = origins
	}
	c.AllowMethods = []string{http.MethodGet, http.MethodPost, http.MethodOptions}
	c.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", "X-Owner"}
	c.AllowWebSockets = true
	return c
}

func originChecker(origins []string) func(*http.Request) bool {
	if len(origins) == 0 {
		return func(*http.Request) bool { return true }
	}
	allowed := make(map[string]bool, len(origins))
	for _, o := range origins {
		allowed[o] = true
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || allowed[origin]
	}
}

func requestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration", time.Since(start))
	}
}

func (s *Server) routes() {
	s.engine.GET("/healthz", s.handleHealth)
	s.engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))
	s.engine.GET("/ws", s.handleWebSocket)

	api := s.engine.Group("/api")
	runs := api.Group("/runs")
	{
		runs.POST("", s.handleCreateRun)
		runs.GET("", s.handleListRuns)
		runs.GET("/:id", s.handleGetRun)
		runs.POST("/:id/cancel", s.handleCancelRun)
	}
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening", "addr", s.addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serving %s: %w", s.addr, err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down: %w", err)
	}
	s.logger.Info("server stopped")
	return nil
}
