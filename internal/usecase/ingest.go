package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"unicode/utf8"

	"PartsScanner/internal/domain"
	"PartsScanner/internal/ports"
	"PartsScanner/internal/scanner"
)

var errNoPageLink = errors.New("pagination exposes no link for page")

// IngestWorkerDeps wires the collaborators of a single-item ingestion.
type IngestWorkerDeps struct {
	Fetcher ports.Fetcher
	Parser  scanner.Parser
	Logger  *slog.Logger
}

// IngestWorker visits every page of a work item and persists new products.
type IngestWorker struct {
	fetcher ports.Fetcher
	parser  scanner.Parser
	logger  *slog.Logger
}

// ItemResult summarizes one ingestion run over a work item.
type ItemResult struct {
	Pages     int
	Inserted  int
	Skipped   int
	Failures  int
	Completed bool
}

// NewIngestWorker constructs the worker; a nil logger discards output.
func NewIngestWorker(deps IngestWorkerDeps) *IngestWorker {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &IngestWorker{
		fetcher: deps.Fetcher,
		parser:  deps.Parser,
		logger:  logger,
	}
}

// Process scrapes item through ledger. The item is marked complete only when
// every page and every article on it was handled without failure; otherwise it
// stays pending for a later run. A returned error means the store misbehaved
// and the caller should discard the item's writes.
func (w *IngestWorker) Process(ctx context.Context, ledger ports.Ledger, item domain.WorkItem) (ItemResult, error) {
	var result ItemResult
	log := w.logger.With("url", item.SourceURL, "category", item.Category, "date", item.Key().Day)

	content, err := w.fetcher.Fetch(ctx, item.SourceURL)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return result, ctxErr
		}
		if errors.Is(err, domain.ErrInvalidSchema) {
			log.Error("url: invalid schema, left pending", "error", err)
		} else {
			log.Error("url: fetch failed, left pending", "error", err)
		}
		return result, nil
	}

	page, err := w.parser.Parse(content)
	if err != nil {
		log.Error("url: parse failed, left pending", "error", err)
		return result, nil
	}

	pagination, err := page.Pagination()
	if err != nil {
		log.Error("url: pagination failed, left pending", "error", err)
		return result, nil
	}
	if pagination.Count < 1 {
		pagination.Count = 1
	}

	for index := 1; index <= pagination.Count; index++ {
		if index > 1 {
			page, err = w.loadPage(ctx, pagination, index)
			if err != nil {
				if ctxErr := ctx.Err(); ctxErr != nil {
					return result, ctxErr
				}
				log.Error("page: navigation failed", "page", index, "error", err)
				result.Failures++
				continue
			}
		}
		result.Pages++

		articles, err := page.Articles()
		if err != nil {
			log.Error("page: articles not found", "page", index, "error", err)
			result.Failures++
			continue
		}

		for position, article := range articles {
			record, err := buildRecord(article, item)
			if err != nil {
				log.Error("product: extraction failed", "page", index, "index", position, "error", err)
				result.Failures++
				continue
			}

			outcome, err := insertRecord(ctx, ledger, record)
			if err != nil {
				return result, fmt.Errorf("persist sku %s (page %d, index %d): %w", record.SKU, index, position, err)
			}
			if outcome == domain.Skipped {
				log.Debug("product: already processed", "sku", record.SKU)
				result.Skipped++
				continue
			}
			log.Info("product: stored", "sku", record.SKU, "title", record.Title, "model", record.Model, "price", priceAttr(record.Price))
			result.Inserted++
		}
	}

	if result.Failures > 0 {
		log.Warn("url: not fully scraped, left pending", "failures", result.Failures, "inserted", result.Inserted)
		return result, nil
	}

	if err := ledger.MarkComplete(ctx, item); err != nil {
		return result, fmt.Errorf("mark complete: %w", err)
	}
	result.Completed = true
	log.Info("url: done", "pages", result.Pages, "inserted", result.Inserted, "skipped", result.Skipped)
	return result, nil
}

func (w *IngestWorker) loadPage(ctx context.Context, pagination scanner.Pagination, index int) (scanner.Page, error) {
	link, ok := pagination.Link(index)
	if !ok {
		return nil, fmt.Errorf("%w %d", errNoPageLink, index)
	}

	content, err := w.fetcher.Fetch(ctx, link)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", link, err)
	}

	page, err := w.parser.Parse(content)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", link, err)
	}
	return page, nil
}

// insertRecord treats the existence check as a shortcut only; the gate's
// insert is what guarantees a single row per key.
func insertRecord(ctx context.Context, gate ports.ProductGate, record domain.ProductRecord) (domain.InsertOutcome, error) {
	exists, err := gate.Exists(ctx, record.Date, record.SKU)
	if err != nil {
		return 0, fmt.Errorf("check existing: %w", err)
	}
	if exists {
		return domain.Skipped, nil
	}

	outcome, err := gate.InsertIfAbsent(ctx, record)
	if err != nil {
		return 0, fmt.Errorf("insert: %w", err)
	}
	return outcome, nil
}

func buildRecord(article scanner.Article, item domain.WorkItem) (record domain.ProductRecord, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("extraction panic: %v", r)
		}
	}()

	record, err = article.Record(item)
	if err != nil {
		return domain.ProductRecord{}, err
	}
	if record.SKU == "" {
		return domain.ProductRecord{}, fmt.Errorf("sku: %w", domain.ErrMissingField)
	}
	if utf8.RuneCountInString(record.SKU) > domain.MaxSKULen {
		return domain.ProductRecord{}, fmt.Errorf("sku %q too long: %w", record.SKU, domain.ErrMissingField)
	}

	record.Category = item.Category
	record.Date = domain.Day(item.Date)
	return record.Bounded(), nil
}

func priceAttr(price *float64) any {
	if price == nil {
		return nil
	}
	return *price
}
