package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"PartsScanner/internal/domain"
	"PartsScanner/internal/ports"
)

// EnricherDeps wires the specification enrichment passes. Pause, when set,
// returns the wait before every lookup but the first.
type EnricherDeps struct {
	Browser ports.SpecBrowser
	Parser  ports.SpecParser
	Staging ports.SpecStaging
	Models  ports.ModelSource
	Specs   ports.SpecRepository
	Pause   func() time.Duration
	Sleep   func(ctx context.Context, d time.Duration) error
	Logger  *slog.Logger
}

// Enricher looks distinct product models up on the specification site and
// loads the normalized results.
type Enricher struct {
	browser ports.SpecBrowser
	parser  ports.SpecParser
	staging ports.SpecStaging
	models  ports.ModelSource
	specs   ports.SpecRepository
	pause   func() time.Duration
	sleep   func(ctx context.Context, d time.Duration) error
	logger  *slog.Logger
}

// EnrichReport tallies one enrichment pass.
type EnrichReport struct {
	Elements int
	Visited  int
	Found    int
	Absent   int
	Inserted int
	Skipped  int
}

// NewEnricher constructs the enricher.
func NewEnricher(deps EnricherDeps) *Enricher {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	sleep := deps.Sleep
	if sleep == nil {
		sleep = sleepContext
	}
	return &Enricher{
		browser: deps.Browser,
		parser:  deps.Parser,
		staging: deps.Staging,
		models:  deps.Models,
		specs:   deps.Specs,
		pause:   deps.Pause,
		sleep:   sleep,
		logger:  logger,
	}
}

// Scrape visits every staged element of category that is not DONE yet. The
// staging is saved after each element and once more on exit, so an interrupted
// pass resumes where it stopped.
func (e *Enricher) Scrape(ctx context.Context, category domain.Category) (report EnrichReport, err error) {
	log := e.logger.With("category", category)

	elements, err := e.stagedOrSeeded(ctx, category)
	if err != nil {
		return report, err
	}
	report.Elements = len(elements)

	defer func() {
		if saveErr := e.staging.Save(category, elements); saveErr != nil {
			err = errors.Join(err, fmt.Errorf("save staging: %w", saveErr))
		}
	}()

	for i := range elements {
		element := &elements[i]
		if element.Done() {
			continue
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return report, ctxErr
		}
		if report.Visited > 0 && e.pause != nil {
			if err := e.sleep(ctx, e.pause()); err != nil {
				return report, err
			}
		}

		report.Visited++
		page, found, err := e.browser.LookupSpecs(ctx, category, element.Model)
		if err != nil {
			return report, fmt.Errorf("lookup %s: %w", element.Model, err)
		}

		if !found {
			element.Status = domain.StatusDone
			report.Absent++
			log.Info("specs: model not listed", "model", element.Model)
		} else {
			fields, err := e.parser.Fields(category, page)
			switch {
			case err != nil:
				log.Error("specs: parse failed", "model", element.Model, "error", err)
			case len(fields) == 0:
				log.Warn("specs: page has no fields", "model", element.Model)
			default:
				element.Fields = fields
				element.Status = domain.StatusDone
				report.Found++
				log.Info("specs: stored", "model", element.Model, "fields", len(fields))
			}
		}

		if err := e.staging.Save(category, elements); err != nil {
			return report, fmt.Errorf("save staging: %w", err)
		}
	}
	return report, nil
}

// Load normalizes every staged element that carries fields and inserts it.
// Rows whose model already exists are skipped.
func (e *Enricher) Load(ctx context.Context, category domain.Category) (EnrichReport, error) {
	var report EnrichReport

	elements, ok, err := e.staging.Load(category)
	if err != nil {
		return report, fmt.Errorf("load staging: %w", err)
	}
	if !ok {
		return report, fmt.Errorf("no staged specifications for %s", category)
	}
	report.Elements = len(elements)

	for _, element := range elements {
		if len(element.Fields) == 0 || element.Model == "" {
			continue
		}

		var outcome domain.InsertOutcome
		switch category {
		case domain.CategoryCPU:
			outcome, err = e.specs.InsertCPUSpec(ctx, e.parser.CPUSpec(element))
		case domain.CategoryGPU:
			outcome, err = e.specs.InsertGPUSpec(ctx, e.parser.GPUSpec(element))
		default:
			return report, fmt.Errorf("unsupported category %q", category)
		}
		if err != nil {
			return report, fmt.Errorf("insert %s spec %s: %w", category, element.Model, err)
		}

		if outcome == domain.Skipped {
			report.Skipped++
			continue
		}
		report.Inserted++
	}

	e.logger.Info("specs loaded", "category", category, "inserted", report.Inserted, "skipped", report.Skipped)
	return report, nil
}

func (e *Enricher) stagedOrSeeded(ctx context.Context, category domain.Category) ([]domain.SpecElement, error) {
	elements, ok, err := e.staging.Load(category)
	if err != nil {
		return nil, fmt.Errorf("load staging: %w", err)
	}
	if ok {
		return elements, nil
	}

	models, err := e.models.DistinctModels(ctx, category)
	if err != nil {
		return nil, fmt.Errorf("distinct models: %w", err)
	}
	elements = make([]domain.SpecElement, 0, len(models))
	for _, model := range models {
		elements = append(elements, domain.SpecElement{Model: model})
	}
	if err := e.staging.Save(category, elements); err != nil {
		return nil, fmt.Errorf("seed staging: %w", err)
	}
	e.logger.Info("specs: staging seeded", "category", category, "models", len(models))
	return elements, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
