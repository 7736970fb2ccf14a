package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	appdb "wikimirror/app/internal/db"
	"wikimirror/app/internal/export"
)

var exportPrune bool

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write the active pages as a deterministic JSON snapshot",
	Long: "Projects every non-deleted page onto <export-dir>/<slug>/<site>.json " +
		"with stable formatting, suitable for committing to version control.",
	RunE: runExport,
}

func init() {
	exportCmd.Flags().BoolVar(&exportPrune, "prune", false,
		"remove snapshot files that no longer correspond to an active page")
}

func runExport(cmd *cobra.Command, _ []string) error {
	cfg, logger, flush, err := bootstrap()
	if err != nil {
		return err
	}
	defer flush()

	conn, repo, err := openStore(cmd, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := appdb.Close(conn); closeErr != nil {
			logger.WithError(closeErr).Error("closing database")
		}
	}()

	exporter, err := export.NewExporter(repo, logger)
	if err != nil {
		return eris.Wrap(err, "creating exporter")
	}

	report, err := exporter.Run(cmd.Context(), export.Options{
		Dir:   cfg.ExportDir,
		Prune: exportPrune,
	})
	if err != nil {
		return eris.Wrap(err, "running export")
	}

	if report.Failed > 0 {
		return eris.Errorf("%d artifacts failed to export", report.Failed)
	}

	return nil
}
