package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dvloznov/banksync/internal/aggregator"
	"github.com/dvloznov/banksync/internal/api/handlers"
	"github.com/dvloznov/banksync/internal/api/middleware"
	"github.com/dvloznov/banksync/internal/categorize"
	"github.com/dvloznov/banksync/internal/config"
	"github.com/dvloznov/banksync/internal/embedding"
	"github.com/dvloznov/banksync/internal/events"
	"github.com/dvloznov/banksync/internal/jobs"
	"github.com/dvloznov/banksync/internal/jobs/inmemory"
	"github.com/dvloznov/banksync/internal/logger"
	"github.com/dvloznov/banksync/internal/reconcile"
	"github.com/dvloznov/banksync/internal/store"
	"github.com/dvloznov/banksync/internal/store/memory"
	"github.com/dvloznov/banksync/internal/store/postgres"
	"github.com/dvloznov/banksync/internal/syncer"
)

// The webhook receiver runs the sync consumer in-process: suitable for
// single-instance deployments. Multi-instance deployments should publish to a
// shared queue and run cmd/worker separately.
func main() {
	cfg := config.Load()
	log := logger.NewWithLevel(cfg.LogLevel)

	ctx, cancel := context.WithCancel(logger.WithContext(context.Background(), log))
	defer cancel()

	var st store.Store
	if cfg.DatabaseDSN == "" {
		log.Warn().Msg("No database configured, using in-memory store")
		st = memory.New()
	} else {
		pg, err := postgres.Open(cfg.DatabaseDSN)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to open store")
		}
		defer pg.Close()
		st = pg
	}

	orch, err := buildOrchestrator(ctx, cfg, st)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to build orchestrator")
	}

	jobStore := inmemory.NewStore()
	jobQueue := inmemory.NewQueue(100, cfg.Workers, jobStore)

	handler := func(ctx context.Context, job jobs.Job) error {
		syncJob, ok := job.(*jobs.SyncAccountJob)
		if !ok {
			return fmt.Errorf("unexpected job type: %T", job)
		}
		_, err := orch.SyncAccount(ctx, syncJob.AccountID, syncJob.Mode)
		return err
	}
	if err := jobQueue.Start(ctx, handler); err != nil {
		log.Fatal().Err(err).Msg("Failed to start job consumer")
	}

	mux := http.NewServeMux()
	handlers.NewWebhookHandler(st, jobQueue, log).Register(mux)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: middleware.Logger(log)(middleware.Recovery(log)(mux)),
	}

	go func() {
		log.Info().Str("port", cfg.Port).Msg("Webhook receiver listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down webhook receiver...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP shutdown error")
	}
	if err := jobQueue.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Queue shutdown error")
	}
}

func buildOrchestrator(ctx context.Context, cfg *config.Config, st store.Store) (*syncer.Orchestrator, error) {
	log := logger.FromContext(ctx)

	rules := categorize.DefaultConfig()
	if cfg.RulesConfig != "" {
		loaded, err := categorize.LoadConfig(ctx, cfg.RulesConfig)
		if err != nil {
			return nil, fmt.Errorf("load rules config: %w", err)
		}
		rules = loaded
	}

	gen, err := embedding.NewGemini(ctx)
	if err != nil {
		return nil, fmt.Errorf("create embedding generator: %w", err)
	}
	engine, err := categorize.NewEngine(ctx, rules, gen)
	if err != nil {
		return nil, fmt.Errorf("build categorization engine: %w", err)
	}

	baseURL := cfg.AggregatorBaseURL
	if baseURL == "" {
		baseURL = aggregator.SandboxBaseURL
		log.Warn().Msg("No aggregator URL configured, using sandbox")
	}
	agg := aggregator.NewHTTPClient(baseURL, cfg.AggregatorClientID, cfg.AggregatorSecret)

	sink := &events.LogSink{Log: log}
	return syncer.New(
		st, agg,
		reconcile.New(st, engine, sink),
		reconcile.NewBalance(agg, st),
		sink,
		syncer.DefaultOptions(),
	), nil
}
