package ports

import (
	"context"
	"io"
	"time"

	"PartsScanner/internal/domain"
)

// Fetcher retrieves raw page content for a URL.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// WorkQueue records which scrape targets were claimed and which are complete.
type WorkQueue interface {
	EnsureQueued(ctx context.Context, item domain.WorkItem) error
	// IsComplete reports whether the item's source URL was completed for
	// the item's day.
	IsComplete(ctx context.Context, item domain.WorkItem) (bool, error)
	MarkComplete(ctx context.Context, item domain.WorkItem) error
}

// ProductGate stores each (date, sku) observation at most once.
type ProductGate interface {
	Exists(ctx context.Context, date time.Time, sku string) (bool, error)
	InsertIfAbsent(ctx context.Context, record domain.ProductRecord) (domain.InsertOutcome, error)
}

// Ledger is the store view an ingestion worker writes through for one item.
type Ledger interface {
	WorkQueue
	ProductGate
}

// ItemTx scopes the writes of a single work item.
type ItemTx interface {
	Ledger
	Commit() error
	Rollback() error
}

// Session owns one store connection for the lifetime of a dispatch task.
type Session interface {
	WorkQueue
	Begin(ctx context.Context) (ItemTx, error)
	Close() error
}

// SessionFactory opens independent store sessions.
type SessionFactory interface {
	OpenSession(ctx context.Context) (Session, error)
}

// CompletionIndex lists queue keys already marked DONE.
type CompletionIndex interface {
	CompletedKeys(ctx context.Context) (map[domain.WorkKey]bool, error)
}

// SnapshotLister enumerates archived snapshots of a listing page.
type SnapshotLister interface {
	ListSnapshots(ctx context.Context, category domain.Category, target string) ([]domain.WorkItem, error)
}

// ModelSource yields distinct product models to enrich.
type ModelSource interface {
	DistinctModels(ctx context.Context, category domain.Category) ([]string, error)
}

// SpecBrowser looks a model up on the specification site.
// found is false when the search yields no result before its timeout.
type SpecBrowser interface {
	LookupSpecs(ctx context.Context, category domain.Category, model string) (page []byte, found bool, err error)
}

// SpecParser turns a specification page into labelled fields and normalizes
// staged fields into typed rows.
type SpecParser interface {
	Fields(category domain.Category, page []byte) (map[string]string, error)
	CPUSpec(element domain.SpecElement) domain.CPUSpec
	GPUSpec(element domain.SpecElement) domain.GPUSpec
}

// SpecStaging persists enrichment progress between runs.
type SpecStaging interface {
	Load(category domain.Category) ([]domain.SpecElement, bool, error)
	Save(category domain.Category, elements []domain.SpecElement) error
}

// SpecRepository stores normalized specifications, unique on model.
type SpecRepository interface {
	InsertCPUSpec(ctx context.Context, spec domain.CPUSpec) (domain.InsertOutcome, error)
	InsertGPUSpec(ctx context.Context, spec domain.GPUSpec) (domain.InsertOutcome, error)
}

// TableDumper reads a whole table for export.
type TableDumper interface {
	DumpTable(ctx context.Context, table string) (columns []string, rows [][]any, err error)
}

// ObjectUploader ships exported files to remote storage.
type ObjectUploader interface {
	Upload(ctx context.Context, key string, body io.Reader, contentType string) error
}

// Notifier streams run reports to Telegram or other channels.
type Notifier interface {
	PublishReport(ctx context.Context, report string) error
}

// Scheduler controls when recurring jobs execute.
type Scheduler interface {
	Start(ctx context.Context, job func(time.Time)) error
	Stop(ctx context.Context) error
}
