package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/dvloznov/banksync/internal/aggregator"
	"github.com/dvloznov/banksync/internal/audit"
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

func main() {
	cfg := config.Load()
	log := logger.NewWithLevel(cfg.LogLevel)

	ctx, cancel := context.WithCancel(logger.WithContext(context.Background(), log))
	defer cancel()

	log.Info().Msg("Starting sync worker")

	st, closeStore, err := openStore(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open store")
	}
	defer closeStore()

	orch, err := buildOrchestrator(ctx, cfg, st, log)
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

		log.Info().
			Str("job_id", syncJob.JobID).
			Str("account_id", syncJob.AccountID).
			Str("mode", string(syncJob.Mode)).
			Msg("Processing sync job")

		run, err := orch.SyncAccount(ctx, syncJob.AccountID, syncJob.Mode)
		if err != nil {
			log.Error().
				Err(err).
				Str("job_id", syncJob.JobID).
				Str("account_id", syncJob.AccountID).
				Msg("Sync failed")
			return err
		}

		log.Info().
			Str("job_id", syncJob.JobID).
			Str("account_id", syncJob.AccountID).
			Str("outcome", string(run.Outcome)).
			Int("added", run.Added).
			Int("modified", run.Modified).
			Int("removed", run.Removed).
			Msg("Sync completed")
		return nil
	}

	if err := jobQueue.Start(ctx, handler); err != nil {
		log.Fatal().Err(err).Msg("Failed to start job consumer")
	}

	if cfg.SyncInterval > 0 {
		go periodicSyncAll(ctx, st, jobQueue, cfg.SyncInterval, log)
	}

	log.Info().Msg("Worker started, waiting for jobs...")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down worker...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := jobQueue.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Error during graceful shutdown")
	}

	log.Info().Msg("Worker exited")
}

// periodicSyncAll enqueues an incremental sync for every linked account on a
// fixed cadence. Accounts already syncing fail fast on the lock, so repeated
// enqueues are harmless.
func periodicSyncAll(ctx context.Context, st store.Store, publisher jobs.Publisher, interval time.Duration, log zerolog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		accounts, err := st.ListAccounts(ctx)
		if err != nil {
			log.Error().Err(err).Msg("Failed to list accounts for periodic sync")
			continue
		}
		for _, a := range accounts {
			if a.NeedsRelink {
				continue
			}
			job := &jobs.SyncAccountJob{AccountID: a.ID, Mode: jobs.ModeIncremental}
			if err := publisher.PublishSyncAccount(ctx, job); err != nil {
				log.Error().Err(err).Str("account_id", a.ID).Msg("Failed to enqueue periodic sync")
			}
		}
		log.Info().Int("accounts", len(accounts)).Msg("Periodic sync enqueued")
	}
}

// openStore selects Postgres when a DSN is configured, the in-memory store
// otherwise (dev mode).
func openStore(cfg *config.Config) (store.Store, func(), error) {
	if cfg.DatabaseDSN == "" {
		return memory.New(), func() {}, nil
	}
	pg, err := postgres.Open(cfg.DatabaseDSN)
	if err != nil {
		return nil, nil, err
	}
	return pg, func() { _ = pg.Close() }, nil
}

// buildOrchestrator wires the categorization engine, reconcilers and
// aggregator client behind one orchestrator.
func buildOrchestrator(ctx context.Context, cfg *config.Config, st store.Store, log zerolog.Logger) (*syncer.Orchestrator, error) {
	var (
		rules *categorize.Config
		err   error
	)
	if cfg.RulesConfig != "" {
		rules, err = categorize.LoadConfig(ctx, cfg.RulesConfig)
		if err != nil {
			return nil, fmt.Errorf("load rules config: %w", err)
		}
	} else {
		rules = categorize.DefaultConfig()
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
	rec := reconcile.New(st, engine, sink)
	bal := reconcile.NewBalance(agg, st)

	orch := syncer.New(st, agg, rec, bal, sink, syncer.DefaultOptions())

	if cfg.BigQueryProject != "" {
		exporter, err := audit.NewExporter(ctx, cfg.BigQueryProject, cfg.BigQueryDataset)
		if err != nil {
			return nil, fmt.Errorf("create audit exporter: %w", err)
		}
		orch.SetRecorder(exporter)
	}

	return orch, nil
}
