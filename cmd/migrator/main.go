package main

import (
	"context"
	"flag"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/pravrilgreen/mediasoup-stream-test/internal/journal"
	"github.com/pravrilgreen/mediasoup-stream-test/internal/logging"
)

func main() {
	upCmd := flag.Bool("up", false, "Apply all up migrations")
	downCmd := flag.Bool("down", false, "Roll back all migrations")
	stepsCmd := flag.Int("steps", 0, "Apply +/- steps")
	flag.Parse()

	_ = godotenv.Load()
	log := logging.New(logging.Config{Level: "info", Format: "console"}, os.Stderr)

	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		log.Fatal().Msg("DATABASE_URL is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	db, err := journal.Open(ctx, dsn)
	cancel()
	if err != nil {
		log.Fatal().Err(err).Msg("connect to database")
	}
	defer db.Close()

	start := time.Now()
	switch {
	case *upCmd:
		log.Info().Msg("running up migrations")
		if err := journal.Migrate(db, 0); err != nil {
			log.Fatal().Err(err).Msg("migration up failed")
		}
	case *downCmd:
		log.Info().Msg("running down migrations")
		if err := journal.MigrateDown(db); err != nil {
			log.Fatal().Err(err).Msg("migration down failed")
		}
	case *stepsCmd != 0:
		log.Info().Int("steps", *stepsCmd).Msg("running migration steps")
		if err := journal.Migrate(db, *stepsCmd); err != nil {
			log.Fatal().Err(err).Msg("migration steps failed")
		}
	default:
		log.Info().Msg("no command specified, use -up, -down or -steps")
	}

	version, dirty, err := journal.Version(db)
	if err != nil {
		log.Info().Msg("no version found (empty db?)")
	} else {
		log.Info().Uint("version", version).Bool("dirty", dirty).Msg("current schema")
	}
	log.Info().Dur("duration", time.Since(start)).Msg("done")
}
