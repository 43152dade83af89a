package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"PartsScanner/internal/domain"
	"PartsScanner/internal/ports"
	"PartsScanner/internal/scanner"
)

// LiveJobDeps wires the live scrape.
type LiveJobDeps struct {
	Fetcher  ports.Fetcher
	Registry *scanner.Registry
	Sessions ports.SessionFactory
	Targets  []Target
	Location *time.Location
	Now      func() time.Time
	Logger   *slog.Logger
}

// LiveJob scrapes today's listing of every target through a single fetcher.
type LiveJob struct {
	fetcher  ports.Fetcher
	registry *scanner.Registry
	sessions ports.SessionFactory
	targets  []Target
	location *time.Location
	now      func() time.Time
	logger   *slog.Logger
}

// NewLiveJob constructs the live job. Dates default to the local calendar day.
func NewLiveJob(deps LiveJobDeps) *LiveJob {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	location := deps.Location
	if location == nil {
		location = time.Local
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	return &LiveJob{
		fetcher:  deps.Fetcher,
		registry: deps.Registry,
		sessions: deps.Sessions,
		targets:  deps.Targets,
		location: location,
		now:      now,
		logger:   logger,
	}
}

// Run processes each target sequentially as a work item dated today.
func (j *LiveJob) Run(ctx context.Context) (DispatchReport, error) {
	if j.registry == nil {
		return DispatchReport{}, fmt.Errorf("scanner registry is not configured")
	}

	today := j.Today()
	var (
		total DispatchReport
		errs  []error
	)
	for _, target := range j.targets {
		parser, err := j.registry.Resolve(target.Parser)
		if err != nil {
			errs = append(errs, fmt.Errorf("target %s: %w", target.Category, err))
			continue
		}

		item := domain.WorkItem{
			Category:  target.Category,
			Date:      today,
			SourceURL: target.URL,
			Status:    domain.StatusPending,
		}
		dispatcher := NewDispatcher(DispatcherDeps{
			Sessions: j.sessions,
			Worker: NewIngestWorker(IngestWorkerDeps{
				Fetcher: j.fetcher,
				Parser:  parser,
				Logger:  j.logger,
			}),
			Parallelism: 1,
			Logger:      j.logger,
		})

		report, err := dispatcher.Run(ctx, []domain.WorkItem{item})
		total.Merge(report)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return total, ctxErr
			}
			errs = append(errs, fmt.Errorf("target %s: %w", target.Category, err))
		}
	}
	return total, errors.Join(errs...)
}

// Today returns the current calendar day in the job's location.
func (j *LiveJob) Today() time.Time {
	return domain.Day(j.now().In(j.location))
}
