package main

import (
	"flag"

	"github.com/noah-isme/backend-vape/internal/config"
	"github.com/noah-isme/backend-vape/internal/db"
	"github.com/noah-isme/backend-vape/internal/obs"
)

func main() {
	down := flag.Bool("down", false, "roll back the most recent migration")
	flag.Parse()

	cfg := config.MustLoad()
	logger := obs.NewLogger(cfg.LogFormat, cfg.LogLevel).With().Str("component", "migrate").Logger()

	m, err := db.NewMigrator(cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("open migrator")
	}
	defer func() {
		if srcErr, dbErr := m.Close(); srcErr != nil || dbErr != nil {
			logger.Warn().AnErr("source", srcErr).AnErr("database", dbErr).Msg("close migrator")
		}
	}()

	if *down {
		err = m.Steps(-1)
	} else {
		err = db.Up(m)
	}
	if err != nil {
		logger.Fatal().Err(err).Msg("migrate")
	}
	version, dirty, _ := m.Version()
	logger.Info().Uint("version", version).Bool("dirty", dirty).Msg("schema up to date")
}
