package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"PartsScanner/internal/domain"
	"PartsScanner/internal/ports"
)

// processorFunc adapts a function to ItemProcessor.
type processorFunc func(ctx context.Context, ledger ports.Ledger, item domain.WorkItem) (ItemResult, error)

func (f processorFunc) Process(ctx context.Context, ledger ports.Ledger, item domain.WorkItem) (ItemResult, error) {
	return f(ctx, ledger, item)
}

// completing stores one product per item and marks it complete.
func completing(hook func(item domain.WorkItem)) processorFunc {
	return func(ctx context.Context, ledger ports.Ledger, item domain.WorkItem) (ItemResult, error) {
		if hook != nil {
			hook(item)
		}
		record := domain.ProductRecord{SKU: "AR000000000001", Category: item.Category, Date: item.Date}
		outcome, err := ledger.InsertIfAbsent(ctx, record)
		if err != nil {
			return ItemResult{}, err
		}
		result := ItemResult{Completed: true}
		if outcome == domain.Inserted {
			result.Inserted++
		} else {
			result.Skipped++
		}
		return result, ledger.MarkComplete(ctx, item)
	}
}

func dailyItems(n int) []domain.WorkItem {
	start := time.Date(2015, 1, 1, 0, 0, 0, 0, time.UTC)
	items := make([]domain.WorkItem, n)
	for i := range items {
		day := start.AddDate(0, 0, i)
		items[i] = domain.WorkItem{
			Category:  domain.CategoryGPU,
			Date:      day,
			SourceURL: fmt.Sprintf("https://web.archive.org/web/%s000000/https://www.ldlc.com/", day.Format("20060102")),
		}
	}
	return items
}

func TestChunk(t *testing.T) {
	t.Parallel()

	cases := []struct {
		items       int
		parallelism int
		sizes       []int
	}{
		{items: 10, parallelism: 4, sizes: []int{2, 2, 2, 2, 2}},
		{items: 3, parallelism: 8, sizes: []int{1, 1, 1}},
		{items: 7, parallelism: 2, sizes: []int{3, 3, 1}},
		{items: 5, parallelism: 0, sizes: []int{5}},
		{items: 0, parallelism: 4, sizes: nil},
	}

	for _, tc := range cases {
		items := dailyItems(tc.items)
		chunks := Chunk(items, tc.parallelism)
		if len(chunks) != len(tc.sizes) {
			t.Fatalf("Chunk(%d, %d): expected %d chunks, got %d", tc.items, tc.parallelism, len(tc.sizes), len(chunks))
		}

		next := 0
		for i, chunk := range chunks {
			if len(chunk) != tc.sizes[i] {
				t.Fatalf("Chunk(%d, %d): chunk %d has %d items, want %d", tc.items, tc.parallelism, i, len(chunk), tc.sizes[i])
			}
			for _, item := range chunk {
				if item.SourceURL != items[next].SourceURL {
					t.Fatalf("chunks must preserve order")
				}
				next++
			}
		}
	}
}

func TestDispatcherRollsBackFailingItemOnly(t *testing.T) {
	t.Parallel()

	items := dailyItems(6)
	store := newMemStore()
	worker := processorFunc(func(ctx context.Context, ledger ports.Ledger, item domain.WorkItem) (ItemResult, error) {
		switch item.SourceURL {
		case items[1].SourceURL:
			_, _ = ledger.InsertIfAbsent(ctx, domain.ProductRecord{SKU: "AR999999999999", Date: item.Date})
			panic("boom")
		case items[4].SourceURL:
			return ItemResult{}, errors.New("lost connection")
		}
		return completing(nil)(ctx, ledger, item)
	})

	dispatcher := NewDispatcher(DispatcherDeps{Sessions: store, Worker: worker, Parallelism: 2})
	report, err := dispatcher.Run(context.Background(), items)
	if err != nil {
		t.Fatalf("item failures must not fail the run: %v", err)
	}

	if report.Completed != 4 || report.Failed != 2 {
		t.Fatalf("unexpected report %+v", report)
	}
	if store.rollbacks != 2 {
		t.Fatalf("expected 2 rollbacks, got %d", store.rollbacks)
	}
	if got := store.productCount(); got != 4 {
		t.Fatalf("failed items must leave no rows, got %d products", got)
	}
	for i, item := range items {
		status, _ := store.status(item)
		want := domain.StatusDone
		if i == 1 || i == 4 {
			want = domain.StatusPending
		}
		if status != want {
			t.Fatalf("item %d: expected %s, got %s", i, want, status)
		}
	}
	if store.opened != 2 || store.closed != 2 {
		t.Fatalf("expected one session per chunk, opened %d closed %d", store.opened, store.closed)
	}
}

func TestDispatcherSkipsCompletedItems(t *testing.T) {
	t.Parallel()

	items := dailyItems(3)
	store := newMemStore()
	store.markComplete(items[0])

	var (
		mu   sync.Mutex
		seen []string
	)
	worker := completing(func(item domain.WorkItem) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, item.SourceURL)
	})

	dispatcher := NewDispatcher(DispatcherDeps{Sessions: store, Worker: worker, Parallelism: 1})
	report, err := dispatcher.Run(context.Background(), items)
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if report.AlreadyDone != 1 || report.Completed != 2 {
		t.Fatalf("unexpected report %+v", report)
	}
	for _, url := range seen {
		if url == items[0].SourceURL {
			t.Fatalf("completed item must not be processed again")
		}
	}
	if report.RunID == "" {
		t.Fatalf("expected a run id")
	}
}

func TestDispatcherChunkFailureIsIsolated(t *testing.T) {
	t.Parallel()

	items := dailyItems(4)
	store := newMemStore()
	store.failOpen = func(n int) error {
		if n == 1 {
			return errors.New("too many connections")
		}
		return nil
	}

	dispatcher := NewDispatcher(DispatcherDeps{Sessions: store, Worker: completing(nil), Parallelism: 2})
	report, err := dispatcher.Run(context.Background(), items)
	if err == nil {
		t.Fatalf("expected chunk error to be reported")
	}

	if len(report.ChunkErrors) != 1 {
		t.Fatalf("expected one chunk error, got %v", report.ChunkErrors)
	}
	if report.Completed != 2 {
		t.Fatalf("the healthy chunk must complete, got %+v", report)
	}
}

func TestDispatcherDuplicateKeysAcrossChunks(t *testing.T) {
	t.Parallel()

	base := dailyItems(1)[0]
	items := make([]domain.WorkItem, 8)
	for i := range items {
		items[i] = base
	}
	store := newMemStore()

	dispatcher := NewDispatcher(DispatcherDeps{Sessions: store, Worker: completing(nil), Parallelism: 4})
	report, err := dispatcher.Run(context.Background(), items)
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if got := store.productCount(); got != 1 {
		t.Fatalf("expected exactly one product row, got %d", got)
	}
	if report.Failed != 0 {
		t.Fatalf("duplicates must not fail, got %+v", report)
	}
	if report.Completed+report.AlreadyDone != len(items) {
		t.Fatalf("every duplicate must be either completed or skipped, got %+v", report)
	}
}
