// Package config collects the process configuration from flags with
// environment variable defaults.
package config

import (
	"flag"
	"os"
	"time"
)

// Config is everything the binaries need to wire the sync engine.
type Config struct {
	// DatabaseDSN is the Postgres connection string. Empty selects the
	// in-memory store (dev mode).
	DatabaseDSN string

	// Aggregator credentials and endpoint.
	AggregatorBaseURL  string
	AggregatorClientID string
	AggregatorSecret   string

	// RulesConfig is a local path or gs:// URI of the categorization
	// taxonomy. Empty uses the built-in default taxonomy.
	RulesConfig string

	// BigQuery sync run mirror; disabled when project is empty.
	BigQueryProject string
	BigQueryDataset string

	// Port is the webhook receiver's HTTP port.
	Port string

	// Workers bounds concurrent sync jobs.
	Workers int

	// SyncInterval is the periodic sync-all cadence; 0 disables it.
	SyncInterval time.Duration

	LogLevel string
}

// Load parses flags, falling back to environment variables.
func Load() *Config {
	cfg := &Config{}

	flag.StringVar(&cfg.DatabaseDSN, "database-dsn", os.Getenv("DATABASE_DSN"), "Postgres DSN (or set DATABASE_DSN); empty uses the in-memory store")
	flag.StringVar(&cfg.AggregatorBaseURL, "aggregator-url", envOr("AGGREGATOR_URL", ""), "aggregator base URL (or set AGGREGATOR_URL)")
	flag.StringVar(&cfg.AggregatorClientID, "aggregator-client-id", os.Getenv("AGGREGATOR_CLIENT_ID"), "aggregator client ID (or set AGGREGATOR_CLIENT_ID)")
	flag.StringVar(&cfg.AggregatorSecret, "aggregator-secret", os.Getenv("AGGREGATOR_SECRET"), "aggregator secret (or set AGGREGATOR_SECRET)")
	flag.StringVar(&cfg.RulesConfig, "rules-config", os.Getenv("RULES_CONFIG"), "categorization taxonomy path or gs:// URI (or set RULES_CONFIG)")
	flag.StringVar(&cfg.BigQueryProject, "bq-project", os.Getenv("BQ_PROJECT"), "BigQuery project for the sync run mirror (or set BQ_PROJECT)")
	flag.StringVar(&cfg.BigQueryDataset, "bq-dataset", envOr("BQ_DATASET", "banksync"), "BigQuery dataset for the sync run mirror (or set BQ_DATASET)")
	flag.StringVar(&cfg.Port, "port", envOr("PORT", "8080"), "HTTP server port")
	flag.IntVar(&cfg.Workers, "workers", 5, "concurrent sync workers")
	flag.DurationVar(&cfg.SyncInterval, "sync-interval", 0, "periodic sync-all cadence, 0 disables")
	flag.StringVar(&cfg.LogLevel, "log-level", envOr("LOG_LEVEL", "info"), "minimum log level")
	flag.Parse()

	return cfg
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
