package main

import (
	"context"
	"log/slog"

	"github.com/spf13/cobra"

	"PartsScanner/internal/app"
	"PartsScanner/internal/domain"
	"PartsScanner/internal/usecase"
)

// migrateCmd creates the "migrate" subcommand.
func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			return withApp("migrate", func(_ context.Context, _ *app.Application, logger *slog.Logger) error {
				logger.Info("schema is up to date")
				return nil
			})
		},
	}
}

// archiveCmd creates the "archive" subcommand.
func archiveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "archive",
		Short: "Backfill prices from archived listing snapshots",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			return withApp("archive", func(ctx context.Context, application *app.Application, logger *slog.Logger) error {
				report, err := application.Archive(ctx)
				logger.Info("archive run finished",
					"completed", report.Completed,
					"already_done", report.AlreadyDone,
					"inserted", report.Inserted,
					"skipped", report.Skipped,
					"failed", report.Failed,
				)
				return err
			})
		},
	}
}

// liveCmd creates the "live" subcommand.
func liveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "live",
		Short: "Scrape today's listings",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			return withApp("live", func(ctx context.Context, application *app.Application, logger *slog.Logger) error {
				report, err := application.Live(ctx)
				logger.Info("live run finished",
					"completed", report.Completed,
					"already_done", report.AlreadyDone,
					"inserted", report.Inserted,
					"skipped", report.Skipped,
					"failed", report.Failed,
				)
				return err
			})
		},
	}
}

// watchCmd creates the "watch" subcommand.
func watchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Scrape today's listings on a fixed interval until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			return withApp("watch", func(ctx context.Context, application *app.Application, _ *slog.Logger) error {
				return application.Watch(ctx)
			})
		},
	}
}

// specsCmd creates the "specs" command group.
func specsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "specs",
		Short: "Enrich product models with technical specifications",
	}

	cmd.AddCommand(&cobra.Command{
		Use:       "scrape [cpu|gpu]",
		Short:     "Look every distinct model up and stage the results",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"cpu", "gpu"},
		RunE: func(_ *cobra.Command, args []string) error {
			category, err := domain.ParseCategory(args[0])
			if err != nil {
				return err
			}
			return withApp("specs_scrape_"+category.Lower(), func(ctx context.Context, application *app.Application, logger *slog.Logger) error {
				report, err := application.ScrapeSpecs(ctx, category)
				logEnrich(logger, "scrape finished", report)
				return err
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:       "load [cpu|gpu]",
		Short:     "Insert staged specifications into the database",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"cpu", "gpu"},
		RunE: func(_ *cobra.Command, args []string) error {
			category, err := domain.ParseCategory(args[0])
			if err != nil {
				return err
			}
			return withApp("specs_load_"+category.Lower(), func(ctx context.Context, application *app.Application, logger *slog.Logger) error {
				report, err := application.LoadSpecs(ctx, category)
				logEnrich(logger, "load finished", report)
				return err
			})
		},
	})

	return cmd
}

// exportCmd creates the "export" subcommand.
func exportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "export",
		Short: "Write the dataset as CSV and JSON, uploading to S3 when configured",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			return withApp("export", func(ctx context.Context, application *app.Application, logger *slog.Logger) error {
				report, err := application.Export(ctx)
				if err != nil {
					return err
				}
				logger.Info("export finished", "files", len(report.Files), "uploaded", report.Uploaded)
				return nil
			})
		},
	}
}

func logEnrich(logger *slog.Logger, msg string, report usecase.EnrichReport) {
	logger.Info(msg,
		"elements", report.Elements,
		"visited", report.Visited,
		"found", report.Found,
		"absent", report.Absent,
		"inserted", report.Inserted,
		"skipped", report.Skipped,
	)
}
