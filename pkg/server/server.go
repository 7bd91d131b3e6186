// Package server exposes the ingestion and insight HTTP API: batch intake
// with policy admission, session reconstruction, friction classification,
// insight reads, a live WebSocket feed, and Prometheus metrics.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/intentlabs/intent-telemetry/pkg/archive"
	"github.com/intentlabs/intent-telemetry/pkg/domain"
	"github.com/intentlabs/intent-telemetry/pkg/insight"
	"github.com/intentlabs/intent-telemetry/pkg/policy"
	"github.com/intentlabs/intent-telemetry/pkg/reconstruct"
)

// Config holds the server listen settings.
type Config struct {
	// ListenAddr is the host:port to bind, e.g. ":8080".
	ListenAddr string
	// ShutdownTimeout bounds graceful shutdown. Zero selects 10s.
	ShutdownTimeout time.Duration
	// SessionIdleTimeout marks sessions idle in the insight summary list
	// once no batch has arrived for this long. Zero disables the flag.
	SessionIdleTimeout time.Duration
}

func (c *Config) applyDefaults() {
	if c.ListenAddr == "" {
		c.ListenAddr = ":8080"
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = 10 * time.Second
	}
}

// Server wires the ingest pipeline behind an HTTP API.
type Server struct {
	cfg           Config
	logger        *slog.Logger
	reconstructor *reconstruct.Reconstructor
	generator     *insight.Generator
	store         *archive.Archive
	metrics       *Metrics
	hub           *Hub

	gateMu sync.RWMutex
	gate   *policy.Gate

	httpServer *http.Server
	startedAt  time.Time
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// WithGate attaches a policy admission gate. Without one, every
// well-formed batch is admitted.
func WithGate(gate *policy.Gate) Option {
	return func(s *Server) { s.gate = gate }
}

// WithArchive attaches a durable event archive. Admitted batches are
// written through, and the reconstructor is rehydrated from it on Start.
func WithArchive(store *archive.Archive) Option {
	return func(s *Server) { s.store = store }
}

// WithGenerator overrides the default insight generator, typically to
// attach an intent inferrer.
func WithGenerator(generator *insight.Generator) Option {
	return func(s *Server) { s.generator = generator }
}

// WithMetrics overrides the default metrics instance.
func WithMetrics(metrics *Metrics) Option {
	return func(s *Server) { s.metrics = metrics }
}

// SetGate swaps the admission gate at runtime, used for configuration
// reload. A nil gate admits every well-formed batch.
func (s *Server) SetGate(gate *policy.Gate) {
	s.gateMu.Lock()
	s.gate = gate
	s.gateMu.Unlock()
}

func (s *Server) admissionGate() *policy.Gate {
	s.gateMu.RLock()
	defer s.gateMu.RUnlock()
	return s.gate
}

// New constructs a Server with its own reconstructor, generator, metrics,
// and live feed hub.
func New(cfg Config, opts ...Option) *Server {
	cfg.applyDefaults()
	s := &Server{
		cfg:           cfg,
		logger:        slog.Default(),
		reconstructor: reconstruct.New(),
		hub:           NewHub(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.generator == nil {
		s.generator = insight.NewGenerator(insight.WithLogger(s.logger))
	}
	if s.metrics == nil {
		s.metrics = NewMetrics()
	}
	return s
}

// Handler returns the fully wired HTTP handler. Exposed for tests; Start
// uses it for the listening server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.setupRoutes(mux)
	return otelhttp.NewHandler(s.metrics.Middleware(mux), "intent-telemetry")
}

// Start rehydrates from the archive if one is attached, then serves until
// ctx is cancelled or the listener fails.
func (s *Server) Start(ctx context.Context) error {
	if err := s.rehydrate(ctx); err != nil {
		return err
	}

	go s.hub.Run(ctx)

	s.httpServer = &http.Server{
		Addr:    s.cfg.ListenAddr,
		Handler: s.Handler(),
	}
	s.startedAt = time.Now()

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("HTTP server starting", "addr", s.cfg.ListenAddr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server: listen: %w", err)
	case <-ctx.Done():
		return s.Stop(context.Background())
	}
}

// Stop gracefully shuts the HTTP server down.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, s.cfg.ShutdownTimeout)
	defer cancel()

	s.logger.Info("Stopping HTTP server")
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}

// rehydrate replays archived sessions into the reconstructor so insight
// reads survive restarts.
func (s *Server) rehydrate(ctx context.Context) error {
	if s.store == nil {
		return nil
	}

	replayed := 0
	err := s.store.Replay(ctx, func(batch domain.EventBatch) error {
		result := s.reconstructor.Ingest(batch)
		replayed += result.Processed
		return nil
	})
	if err != nil {
		return fmt.Errorf("server: rehydrate from archive: %w", err)
	}

	sessions, _ := s.reconstructor.Totals()
	s.metrics.SetActiveSessions(sessions)
	if replayed > 0 {
		s.logger.Info("Rehydrated sessions from archive",
			"sessions", sessions,
			"events", replayed)
	}
	return nil
}

func (s *Server) setupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/", s.handleRoot)
	mux.HandleFunc("/health", s.handleHealth)
	mux.Handle("/metrics", s.metrics.Handler())
	mux.Handle("/live", s.hub.Handler())

	mux.HandleFunc("/api/v1/events/batch", s.handleBatch)
	mux.HandleFunc("/api/v1/events/stats", s.handleStats)
	mux.HandleFunc("/api/v1/insights", s.handleInsightSummaries)
	mux.HandleFunc("/api/v1/insights/", s.handleInsight)
}
