package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"PartsScanner/internal/config"
	"PartsScanner/internal/domain"
	"PartsScanner/internal/infrastructure/archive"
	"PartsScanner/internal/infrastructure/browser"
	"PartsScanner/internal/infrastructure/export"
	"PartsScanner/internal/infrastructure/fetcher"
	"PartsScanner/internal/infrastructure/parser"
	"PartsScanner/internal/infrastructure/scheduler"
	"PartsScanner/internal/infrastructure/staging"
	"PartsScanner/internal/infrastructure/storage"
	"PartsScanner/internal/infrastructure/telegram"
	"PartsScanner/internal/logging"
	"PartsScanner/internal/ports"
	"PartsScanner/internal/scanner"
	"PartsScanner/internal/usecase"
)

const (
	ArchiveParser = "ldlc-archive"
	LiveParser    = "ldlc-live"
)

// Application wires configs to use cases and owns the shared resources:
// the database pool and, once needed, the browser.
type Application struct {
	cfg      config.Config
	logger   *slog.Logger
	db       *sql.DB
	repo     *storage.PostgresRepository
	registry *scanner.Registry
	browser  *browser.Session
}

// New connects to Postgres and applies pending migrations.
func New(ctx context.Context, cfg config.Config, baseLogger *slog.Logger) (*Application, error) {
	if baseLogger == nil {
		baseLogger = logging.New(cfg.Logging.Level)
	}

	db, err := storage.Open(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}
	if err := storage.Migrate(db, baseLogger.With("component", "migrate")); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Application{
		cfg:      cfg,
		logger:   baseLogger,
		db:       db,
		repo:     storage.NewPostgresRepository(db, baseLogger.With("component", "storage")),
		registry: NewRegistry(cfg),
	}, nil
}

// NewRegistry registers the listing parsers referenced by targets.
func NewRegistry(cfg config.Config) *scanner.Registry {
	registry := scanner.NewRegistry()
	registry.Register(parser.NewLDLC(parser.LDLCOptions{
		Name:     ArchiveParser,
		LinkBase: cfg.Archive.ReplayBase,
	}))
	registry.Register(parser.NewLDLC(parser.LDLCOptions{
		Name:             LiveParser,
		LinkBase:         cfg.Live.BaseURL,
		TrailingNavItems: cfg.Live.TrailingNavItems,
	}))
	return registry
}

// Targets maps configured targets to use case targets.
func Targets(targets []config.TargetConfig) ([]usecase.Target, error) {
	out := make([]usecase.Target, 0, len(targets))
	for _, target := range targets {
		category, err := domain.ParseCategory(target.Category)
		if err != nil {
			return nil, fmt.Errorf("target %s: %w", target.URL, err)
		}
		out = append(out, usecase.Target{Category: category, URL: target.URL, Parser: target.Parser})
	}
	return out, nil
}

// Close releases the browser and the database pool.
func (a *Application) Close() error {
	var errs []error
	if a.browser != nil {
		errs = append(errs, a.browser.Close())
		a.browser = nil
	}
	if a.db != nil {
		errs = append(errs, a.db.Close())
	}
	return errors.Join(errs...)
}

// Archive backfills every archived snapshot of the archive targets.
func (a *Application) Archive(ctx context.Context) (usecase.DispatchReport, error) {
	targets, err := Targets(a.cfg.Archive.Targets)
	if err != nil {
		return usecase.DispatchReport{}, err
	}

	httpFetcher := fetcher.NewHTTPFetcher(a.cfg.Fetcher, nil, a.logger.With("component", "fetcher"))

	var notifier ports.Notifier
	if a.cfg.Notifications.Telegram.Enabled() {
		notifier = telegram.NewNotifier(a.cfg.Notifications.Telegram, nil)
	}

	job := usecase.NewArchiveJob(usecase.ArchiveJobDeps{
		Lister: archive.NewCDXLister(httpFetcher, a.cfg.Archive.CDXEndpoint, a.cfg.Archive.ReplayBase,
			a.logger.With("component", "cdx")),
		Completed:   a.repo,
		Registry:    a.registry,
		Fetcher:     httpFetcher,
		Sessions:    a.repo,
		Notifier:    notifier,
		Targets:     targets,
		Parallelism: a.cfg.Archive.Parallelism,
		Logger:      a.logger.With("component", "archive"),
	})
	return job.Run(ctx)
}

// Live scrapes today's listings through the browser.
func (a *Application) Live(ctx context.Context) (usecase.DispatchReport, error) {
	job, err := a.liveJob()
	if err != nil {
		return usecase.DispatchReport{}, err
	}
	return job.Run(ctx)
}

// Watch runs the live scrape on the configured interval until ctx ends.
func (a *Application) Watch(ctx context.Context) error {
	job, err := a.liveJob()
	if err != nil {
		return err
	}

	watch := usecase.NewScheduler(
		scheduler.NewIntervalScheduler(a.cfg.Scheduler.Interval),
		job.Run,
		a.logger.With("component", "scheduler"),
	)
	if err := watch.Start(ctx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}
	a.logger.Info("watching live listings", "interval", a.cfg.Scheduler.Interval)

	<-ctx.Done()
	if err := watch.Stop(context.Background()); err != nil {
		return fmt.Errorf("stop scheduler: %w", err)
	}
	return nil
}

// ScrapeSpecs browses the specification site for every model of category.
func (a *Application) ScrapeSpecs(ctx context.Context, category domain.Category) (usecase.EnrichReport, error) {
	enricher, err := a.enricher(true)
	if err != nil {
		return usecase.EnrichReport{}, err
	}
	return enricher.Scrape(ctx, category)
}

// LoadSpecs inserts the staged specifications of category.
func (a *Application) LoadSpecs(ctx context.Context, category domain.Category) (usecase.EnrichReport, error) {
	enricher, err := a.enricher(false)
	if err != nil {
		return usecase.EnrichReport{}, err
	}
	return enricher.Load(ctx, category)
}

// Export writes the dataset files and uploads them when S3 is configured.
func (a *Application) Export(ctx context.Context) (export.Report, error) {
	var uploader ports.ObjectUploader
	if a.cfg.Export.S3.Enabled() {
		s3, err := export.NewS3Uploader(ctx, a.cfg.Export.S3)
		if err != nil {
			return export.Report{}, err
		}
		uploader = s3
	}

	exporter := export.NewExporter(export.ExporterDeps{
		Dumper:   a.repo,
		Uploader: uploader,
		Dir:      a.cfg.Export.Dir,
		Tables:   storage.ExportTables(),
		Logger:   a.logger.With("component", "export"),
	})
	return exporter.Export(ctx)
}

func (a *Application) liveJob() (*usecase.LiveJob, error) {
	targets, err := Targets(a.cfg.Live.Targets)
	if err != nil {
		return nil, err
	}
	session, err := a.browserSession()
	if err != nil {
		return nil, err
	}
	return usecase.NewLiveJob(usecase.LiveJobDeps{
		Fetcher:  session,
		Registry: a.registry,
		Sessions: a.repo,
		Targets:  targets,
		Location: a.cfg.Scheduler.Location(),
		Logger:   a.logger.With("component", "live"),
	}), nil
}

func (a *Application) enricher(withBrowser bool) (*usecase.Enricher, error) {
	deps := usecase.EnricherDeps{
		Parser:  parser.TechPowerUp{},
		Staging: staging.NewFileStaging(a.cfg.Enrichment.StagingDir),
		Models:  a.repo,
		Specs:   a.repo,
		Logger:  a.logger.With("component", "enrich"),
	}
	if withBrowser {
		session, err := a.browserSession()
		if err != nil {
			return nil, err
		}
		deps.Browser = session
		deps.Pause = session.Pause
	}
	return usecase.NewEnricher(deps), nil
}

func (a *Application) browserSession() (*browser.Session, error) {
	if a.browser != nil {
		return a.browser, nil
	}
	session, err := browser.NewSession(a.cfg.Browser, a.cfg.Enrichment.SearchURL, a.logger.With("component", "browser"))
	if err != nil {
		return nil, err
	}
	a.browser = session
	return session, nil
}
