package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"PartsScanner/internal/domain"
	"PartsScanner/internal/ports"
	"PartsScanner/internal/scanner"
)

// Target is one listing URL scraped for a category with a named parser.
type Target struct {
	Category domain.Category
	URL      string
	Parser   string
}

// ArchiveJobDeps wires the archive backfill job.
type ArchiveJobDeps struct {
	Lister      ports.SnapshotLister
	Completed   ports.CompletionIndex
	Registry    *scanner.Registry
	Fetcher     ports.Fetcher
	Sessions    ports.SessionFactory
	Notifier    ports.Notifier
	Targets     []Target
	Parallelism int
	Logger      *slog.Logger
}

// ArchiveJob backfills every archived snapshot of the configured targets.
type ArchiveJob struct {
	lister      ports.SnapshotLister
	completed   ports.CompletionIndex
	registry    *scanner.Registry
	fetcher     ports.Fetcher
	sessions    ports.SessionFactory
	notifier    ports.Notifier
	targets     []Target
	parallelism int
	logger      *slog.Logger
}

// NewArchiveJob wires the registry with configured targets.
func NewArchiveJob(deps ArchiveJobDeps) *ArchiveJob {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &ArchiveJob{
		lister:      deps.Lister,
		completed:   deps.Completed,
		registry:    deps.Registry,
		fetcher:     deps.Fetcher,
		sessions:    deps.Sessions,
		notifier:    deps.Notifier,
		targets:     deps.Targets,
		parallelism: deps.Parallelism,
		logger:      logger,
	}
}

// Run processes every target in order. A target that cannot be listed is
// reported and the next one proceeds.
func (j *ArchiveJob) Run(ctx context.Context) (DispatchReport, error) {
	if j.registry == nil {
		return DispatchReport{}, fmt.Errorf("scanner registry is not configured")
	}

	var (
		total DispatchReport
		errs  []error
	)
	for _, target := range j.targets {
		report, err := j.runTarget(ctx, target)
		total.Merge(report)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return total, ctxErr
			}
			j.logger.Error("target failed", "category", target.Category, "url", target.URL, "error", err)
			errs = append(errs, fmt.Errorf("target %s %s: %w", target.Category, target.URL, err))
		}
	}

	j.notify(ctx, total)
	return total, errors.Join(errs...)
}

func (j *ArchiveJob) runTarget(ctx context.Context, target Target) (DispatchReport, error) {
	parser, err := j.registry.Resolve(target.Parser)
	if err != nil {
		return DispatchReport{}, err
	}

	snapshots, err := j.lister.ListSnapshots(ctx, target.Category, target.URL)
	if err != nil {
		return DispatchReport{}, fmt.Errorf("list snapshots: %w", err)
	}

	pending := snapshots
	if j.completed != nil {
		done, err := j.completed.CompletedKeys(ctx)
		if err != nil {
			return DispatchReport{}, fmt.Errorf("load completed keys: %w", err)
		}
		pending = FilterCompleted(snapshots, done)
	}
	j.logger.Info("target listed",
		"category", target.Category,
		"url", target.URL,
		"snapshots", len(snapshots),
		"pending", len(pending),
	)

	dispatcher := NewDispatcher(DispatcherDeps{
		Sessions: j.sessions,
		Worker: NewIngestWorker(IngestWorkerDeps{
			Fetcher: j.fetcher,
			Parser:  parser,
			Logger:  j.logger,
		}),
		Parallelism: j.parallelism,
		Logger:      j.logger,
	})
	return dispatcher.Run(ctx, pending)
}

// FilterCompleted drops items whose (category, day) key is already DONE.
func FilterCompleted(items []domain.WorkItem, done map[domain.WorkKey]bool) []domain.WorkItem {
	filtered := make([]domain.WorkItem, 0, len(items))
	for _, item := range items {
		if done[item.Key()] {
			continue
		}
		filtered = append(filtered, item)
	}
	return filtered
}

func (j *ArchiveJob) notify(ctx context.Context, report DispatchReport) {
	if j.notifier == nil {
		return
	}
	if err := j.notifier.PublishReport(ctx, FormatReport("Archive run", report)); err != nil {
		j.logger.Warn("publish report", "error", err)
	}
}

// FormatReport renders a dispatch report as a short Markdown message.
func FormatReport(title string, report DispatchReport) string {
	var b strings.Builder
	fmt.Fprintf(&b, "*%s*\n", title)
	fmt.Fprintf(&b, "items: %d\n", report.Items)
	fmt.Fprintf(&b, "completed: %d\n", report.Completed)
	fmt.Fprintf(&b, "pending: %d\n", report.Pending)
	fmt.Fprintf(&b, "already done: %d\n", report.AlreadyDone)
	fmt.Fprintf(&b, "failed: %d\n", report.Failed)
	fmt.Fprintf(&b, "products inserted: %d\n", report.Inserted)
	if len(report.ChunkErrors) > 0 {
		fmt.Fprintf(&b, "chunk errors: %d\n", len(report.ChunkErrors))
	}
	return b.String()
}
