// ABOUTME: Gateway orchestrator wiring sessions, pipeline, metadata, and storage
// ABOUTME: behind one HTTP server with graceful shutdown.

package gateway

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	_ "github.com/go-sql-driver/mysql"

	"github.com/2389/askdb-gateway/internal/auth"
	"github.com/2389/askdb-gateway/internal/broadcast"
	"github.com/2389/askdb-gateway/internal/config"
	"github.com/2389/askdb-gateway/internal/db"
	"github.com/2389/askdb-gateway/internal/event"
	"github.com/2389/askdb-gateway/internal/examples"
	"github.com/2389/askdb-gateway/internal/llm"
	"github.com/2389/askdb-gateway/internal/metadata"
	"github.com/2389/askdb-gateway/internal/pipeline"
	"github.com/2389/askdb-gateway/internal/session"
	"github.com/2389/askdb-gateway/internal/stream"
	"github.com/2389/askdb-gateway/internal/store"
)

// Gateway owns every long-lived component and the HTTP server that exposes
// them. Construct with New, drive with Run, stop by cancelling the context
// or calling Shutdown.
type Gateway struct {
	config      *config.Config
	logger      *slog.Logger
	registry    *session.Registry
	broadcaster *broadcast.Broadcaster
	channel     *stream.Channel
	pipeline    *pipeline.Pipeline
	catalog     *metadata.Catalog
	index       *examples.Index
	store       *store.Store
	verifier    auth.TokenVerifier
	dorisDB     *sql.DB
	executor    *db.CachingExecutor
	httpServer  *http.Server

	startedAt  time.Time
	activeRuns atomic.Int64
	runs       sync.WaitGroup
}

// New assembles a gateway from configuration. The analytics database is
// opened lazily by the driver; readiness is reported by /health/ready.
func New(cfg *config.Config, logger *slog.Logger) (*Gateway, error) {
	if logger == nil {
		logger = slog.Default()
	}

	st, err := store.Open(cfg.Database.Path, logger)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}

	dorisDB, err := sql.Open("mysql", cfg.Doris.DSN)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("opening analytics database: %w", err)
	}
	dorisDB.SetMaxOpenConns(10)
	dorisDB.SetConnMaxLifetime(5 * time.Minute)

	catalog := metadata.NewCatalog(cfg.Doris.Database,
		db.NewInfoSchemaSource(dorisDB), cfg.Metadata.TTL, logger)

	index := examples.NewIndex(cfg.Pipeline.SimilarityThreshold)
	if cfg.Pipeline.ExamplesFile != "" {
		if err := index.LoadFile(cfg.Pipeline.ExamplesFile); err != nil {
			logger.Warn("loading examples file failed", "path", cfg.Pipeline.ExamplesFile, "error", err)
		}
	}
	if solved, err := st.LoadExamples(context.Background()); err != nil {
		logger.Warn("loading solved examples failed", "error", err)
	} else {
		index.AddAll(solved)
	}

	generator := llm.NewClient(llm.Config{
		BaseURL:     cfg.LLM.BaseURL,
		APIKey:      cfg.LLM.APIKey,
		Model:       cfg.LLM.Model,
		Temperature: cfg.LLM.Temperature,
		MaxTokens:   cfg.LLM.MaxTokens,
		Timeout:     cfg.LLM.Timeout,
	}, logger)

	// Identical questions tend to arrive in bursts (dashboards, retries);
	// a short result cache absorbs them.
	executor := db.NewCachingExecutor(db.NewSQLExecutor(dorisDB, cfg.Doris.QueryTimeout), 30*time.Second, 128)
	classifier := pipeline.NewClassifier(catalog, generator, logger)
	pipe := pipeline.New(classifier, index, catalog, generator, executor, st,
		pipeline.Options{
			MaxRetries:    cfg.Pipeline.MaxRetries,
			MaxResultRows: cfg.Pipeline.MaxResultRows,
		}, logger)

	registry := session.NewRegistry(&session.Options{
		MailboxSize:  cfg.Sessions.MailboxSize,
		IdleTimeout:  cfg.Sessions.IdleTimeout,
		ReapInterval: cfg.Sessions.ReapInterval,
	}, logger)

	var verifier auth.TokenVerifier
	if cfg.Auth.JWTSecret != "" {
		verifier = auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
	}

	g := &Gateway{
		config:      cfg,
		logger:      logger.With("component", "gateway"),
		registry:    registry,
		broadcaster: broadcast.New(registry, logger),
		channel:     stream.NewChannel(registry, stream.DefaultHeartbeatInterval, logger),
		pipeline:    pipe,
		catalog:     catalog,
		index:       index,
		store:       st,
		verifier:    verifier,
		dorisDB:     dorisDB,
		executor:    executor,
		startedAt:   time.Now(),
	}

	g.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           g.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return g, nil
}

// Run serves HTTP until the context is cancelled or the server fails, then
// shuts everything down.
func (g *Gateway) Run(ctx context.Context) error {
	// Warm the schema cache so the first query does not pay for it. Failure
	// is not fatal; the pipeline loads on demand.
	warmCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	if err := g.catalog.Refresh(warmCtx, false); err != nil {
		g.logger.Warn("initial metadata refresh failed", "error", err)
	}
	cancel()

	statusCtx, stopStatus := context.WithCancel(ctx)
	go g.broadcaster.RunStatusLoop(statusCtx, g, g.config.Server.StatusInterval)

	errCh := make(chan error, 1)
	go func() {
		g.logger.Info("http server listening", "addr", g.httpServer.Addr)
		if err := g.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	var serverErr error
	select {
	case <-ctx.Done():
		g.logger.Info("shutdown requested")
	case serverErr = <-errCh:
		g.logger.Error("http server failed", "error", serverErr)
	}
	stopStatus()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	shutdownErr := g.Shutdown(shutdownCtx)

	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// Shutdown stops the HTTP server, closes every session, waits for in-flight
// runs, and releases storage.
func (g *Gateway) Shutdown(ctx context.Context) error {
	var errs []error

	if err := g.httpServer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}

	g.registry.Close()

	done := make(chan struct{})
	go func() {
		g.runs.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		g.logger.Warn("shutdown deadline reached with runs still in flight",
			"active_runs", g.activeRuns.Load())
	}

	g.executor.Close()
	if err := g.dorisDB.Close(); err != nil {
		errs = append(errs, fmt.Errorf("closing analytics database: %w", err))
	}
	if err := g.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("closing store: %w", err))
	}

	g.logger.Info("gateway stopped")
	return errors.Join(errs...)
}

// ServerStatus implements broadcast.StatusSource.
func (g *Gateway) ServerStatus() *event.ServerStatus {
	return &event.ServerStatus{
		ActiveSessions: g.registry.Count(),
		ActiveRuns:     int(g.activeRuns.Load()),
		UptimeSeconds:  int64(time.Since(g.startedAt).Seconds()),
	}
}
