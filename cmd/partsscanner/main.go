package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"PartsScanner/internal/app"
	"PartsScanner/internal/config"
	"PartsScanner/internal/logging"
)

var (
	cfgFile string
	verbose bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "partsscanner",
		Short: "PartsScanner collects CPU and GPU listing prices",
		Long: `PartsScanner backfills archived LDLC listings, scrapes today's listings,
enriches product models with TechPowerUp specifications and exports the dataset.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(archiveCmd())
	rootCmd.AddCommand(liveCmd())
	rootCmd.AddCommand(watchCmd())
	rootCmd.AddCommand(specsCmd())
	rootCmd.AddCommand(exportCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// withApp loads config, opens a per-run log file and hands a ready
// application to run. The context is cancelled on SIGINT or SIGTERM.
func withApp(name string, run func(ctx context.Context, application *app.Application, logger *slog.Logger) error) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}
	if verbose {
		cfg.Logging.Level = "debug"
	}

	logger, closer, err := logging.NewRun(cfg.Logging.Level, cfg.Logging.Dir, name)
	if err != nil {
		return err
	}
	defer closer.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	application, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("startup failed", "error", err)
		return err
	}
	defer func() {
		if err := application.Close(); err != nil {
			logger.Warn("close application", "error", err)
		}
	}()

	if err := run(ctx, application, logger); err != nil {
		logger.Error("command failed", "command", name, "error", err)
		return err
	}
	return nil
}
