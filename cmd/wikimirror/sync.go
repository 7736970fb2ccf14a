package main

import (
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	appdb "wikimirror/app/internal/db"
	"wikimirror/app/internal/mirror"
	"wikimirror/app/internal/wikidot"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run one reconciliation pass for every configured site",
	Long: "Enumerates each configured site, fetches metadata in batches, and " +
		"refetches only the pages whose metadata diverged from the local store. " +
		"Safe to re-run; an unchanged corpus costs no body fetches.",
	RunE: runSync,
}

func runSync(cmd *cobra.Command, _ []string) error {
	cfg, logger, flush, err := bootstrap()
	if err != nil {
		return err
	}
	defer flush()

	if len(cfg.Sites) == 0 {
		return eris.New("WIKIDOT_SITES must list at least one site")
	}
	if cfg.APIUser == "" || cfg.APIKey == "" {
		return eris.New("WIKIDOT_API_USER and WIKIDOT_API_KEY must be set")
	}

	if dir := filepath.Dir(cfg.DBPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return eris.Wrapf(err, "creating database directory %s", dir)
		}
	}

	conn, repo, err := openStore(cmd, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := appdb.Close(conn); closeErr != nil {
			logger.WithError(closeErr).Error("closing database")
		}
	}()

	client, err := wikidot.NewClient(wikidot.ClientOptions{
		User:   cfg.APIUser,
		APIKey: cfg.APIKey,
		Logger: logger,
	})
	if err != nil {
		return eris.Wrap(err, "creating wikidot client")
	}

	syncer, err := mirror.NewSyncer(mirror.Options{
		Client:          client,
		Repository:      repo,
		Logger:          logger,
		RequestInterval: cfg.RequestInterval,
		BatchSize:       cfg.BatchSize,
	})
	if err != nil {
		return eris.Wrap(err, "creating syncer")
	}

	reports, err := syncer.Sync(cmd.Context(), cfg.Sites)
	if err != nil {
		return eris.Wrap(err, "running sync")
	}

	aborted := 0
	for _, report := range reports {
		if report.Err != nil {
			aborted++
		}
	}

	if aborted > 0 {
		logger.WithFields(logrus.Fields{"aborted_sites": aborted}).Error("sync finished with aborted sites")
		return eris.Errorf("%d of %d site passes aborted", aborted, len(reports))
	}

	return nil
}
