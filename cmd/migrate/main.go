package main

import (
	"github.com/iddaa-lens/statsync/internal/config"
	"github.com/iddaa-lens/statsync/pkg/database"
	"github.com/iddaa-lens/statsync/pkg/logger"
)

func main() {
	logger.SetupLogger()
	log := logger.New("statsync-migrate")

	cfg := config.Load()

	db, err := database.Open(cfg.DatabaseURL())
	if err != nil {
		log.Fatal().Err(err).Str("action", "db_connect_failed").Msg("Failed to connect to database")
	}
	defer db.Close()

	applied, err := database.Migrate(db)
	if err != nil {
		log.Fatal().Err(err).Str("action", "migrate_failed").Msg("Migration failed")
	}

	log.Info().
		Str("action", "migrate_complete").
		Ints("applied", applied).
		Msg("Schema is up to date")
}
