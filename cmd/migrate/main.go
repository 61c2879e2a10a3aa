// Command migrate applies the embedded schema migrations to Postgres.
package main

import (
	"context"
	"flag"
	"os"

	"github.com/dvloznov/banksync/internal/logger"
	"github.com/dvloznov/banksync/internal/store/postgres"
)

func main() {
	dsn := flag.String("database-dsn", os.Getenv("DATABASE_DSN"), "Postgres DSN (or set DATABASE_DSN)")
	flag.Parse()

	log := logger.New()
	if *dsn == "" {
		log.Fatal().Msg("-database-dsn or DATABASE_DSN is required")
	}

	st, err := postgres.Open(*dsn)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open database")
	}
	defer st.Close()

	if err := st.RunMigrations(context.Background()); err != nil {
		log.Fatal().Err(err).Msg("Migrations failed")
	}
	log.Info().Msg("Migrations applied")
}
