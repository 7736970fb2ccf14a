package main

import (
	"github.com/joho/godotenv"
	"github.com/rotisserie/eris"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"wikimirror/app/internal/config"
	appdb "wikimirror/app/internal/db"
	applog "wikimirror/app/internal/log"
	"wikimirror/app/internal/mirror"
)

const version = "0.2.0"

var rootCmd = &cobra.Command{
	Use:           "wikimirror",
	Short:         "Incrementally mirror Wikidot sites into a local store",
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: false,
}

func init() {
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(exportCmd)
}

// bootstrap loads .env and config and builds the logger with optional Sentry
// reporting. The returned flush drains pending Sentry events on exit.
func bootstrap() (*config.Config, *logrus.Logger, func(), error) {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return nil, nil, nil, eris.Wrap(err, "loading configuration")
	}

	logger, err := applog.NewLogger(cfg.LogLevel)
	if err != nil {
		return nil, nil, nil, eris.Wrap(err, "initialising logger")
	}

	flush, err := applog.InitSentry(logger, applog.SentrySettings{
		DSN:         cfg.SentryDSN,
		Environment: cfg.Environment,
		Release:     version,
	})
	if err != nil {
		return nil, nil, nil, eris.Wrap(err, "initialising sentry")
	}

	return cfg, logger, flush, nil
}

// openStore opens the sqlite store and applies the schema.
func openStore(cmd *cobra.Command, cfg *config.Config, logger *logrus.Logger) (*gorm.DB, *mirror.GormRepository, error) {
	conn, err := appdb.Open(appdb.Options{Path: cfg.DBPath})
	if err != nil {
		return nil, nil, eris.Wrap(err, "opening database")
	}

	if err := mirror.Migrate(cmd.Context(), conn, logger); err != nil {
		_ = appdb.Close(conn)
		return nil, nil, eris.Wrap(err, "running migrations")
	}

	repo, err := mirror.NewRepository(conn, logger)
	if err != nil {
		_ = appdb.Close(conn)
		return nil, nil, eris.Wrap(err, "building repository")
	}

	return conn, repo, nil
}
