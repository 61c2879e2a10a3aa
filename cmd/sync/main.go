// Command sync runs one manual sync for a single account and prints the run
// outcome. Useful for operator follow-up after a degraded or failed run.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/dvloznov/banksync/internal/aggregator"
	"github.com/dvloznov/banksync/internal/categorize"
	"github.com/dvloznov/banksync/internal/embedding"
	"github.com/dvloznov/banksync/internal/events"
	"github.com/dvloznov/banksync/internal/jobs"
	"github.com/dvloznov/banksync/internal/logger"
	"github.com/dvloznov/banksync/internal/reconcile"
	"github.com/dvloznov/banksync/internal/store/postgres"
	"github.com/dvloznov/banksync/internal/syncer"
)

func main() {
	var (
		dsn       = flag.String("database-dsn", os.Getenv("DATABASE_DSN"), "Postgres DSN (or set DATABASE_DSN)")
		accountID = flag.String("account", "", "account ID to sync (required)")
		mode      = flag.String("mode", "incremental", "sync mode: initial or incremental")
		aggURL    = flag.String("aggregator-url", os.Getenv("AGGREGATOR_URL"), "aggregator base URL (or set AGGREGATOR_URL)")
		clientID  = flag.String("aggregator-client-id", os.Getenv("AGGREGATOR_CLIENT_ID"), "aggregator client ID")
		secret    = flag.String("aggregator-secret", os.Getenv("AGGREGATOR_SECRET"), "aggregator secret")
		rulesURI  = flag.String("rules-config", os.Getenv("RULES_CONFIG"), "categorization taxonomy path or gs:// URI")
	)
	flag.Parse()

	log := logger.New()
	ctx := logger.WithContext(context.Background(), log)

	if *accountID == "" {
		log.Fatal().Msg("-account is required")
	}
	if *dsn == "" {
		log.Fatal().Msg("-database-dsn or DATABASE_DSN is required")
	}
	syncMode := jobs.SyncMode(*mode)
	if syncMode != jobs.ModeInitial && syncMode != jobs.ModeIncremental {
		log.Fatal().Str("mode", *mode).Msg("mode must be initial or incremental")
	}

	st, err := postgres.Open(*dsn)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open store")
	}
	defer st.Close()

	rules := categorize.DefaultConfig()
	if *rulesURI != "" {
		rules, err = categorize.LoadConfig(ctx, *rulesURI)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to load rules config")
		}
	}

	gen, err := embedding.NewGemini(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create embedding generator")
	}
	engine, err := categorize.NewEngine(ctx, rules, gen)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to build categorization engine")
	}

	baseURL := *aggURL
	if baseURL == "" {
		baseURL = aggregator.SandboxBaseURL
	}
	agg := aggregator.NewHTTPClient(baseURL, *clientID, *secret)

	sink := &events.LogSink{Log: log}
	orch := syncer.New(
		st, agg,
		reconcile.New(st, engine, sink),
		reconcile.NewBalance(agg, st),
		sink,
		syncer.DefaultOptions(),
	)

	run, err := orch.SyncAccount(ctx, *accountID, syncMode)
	if errors.Is(err, syncer.ErrSyncInProgress) {
		fmt.Println("sync already in progress for this account, try again later")
		return
	}
	if err != nil {
		log.Fatal().Err(err).Msg("Sync failed")
	}

	fmt.Printf("outcome=%s added=%d modified=%d removed=%d pages=%d\n",
		run.Outcome, run.Added, run.Modified, run.Removed, run.Pages)
}
