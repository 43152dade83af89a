package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"PartsScanner/internal/domain"
	"PartsScanner/internal/ports"
)

// ItemProcessor ingests a single work item through a transactional ledger.
type ItemProcessor interface {
	Process(ctx context.Context, ledger ports.Ledger, item domain.WorkItem) (ItemResult, error)
}

var _ ItemProcessor = (*IngestWorker)(nil)

// DispatcherDeps wires the dispatcher.
type DispatcherDeps struct {
	Sessions    ports.SessionFactory
	Worker      ItemProcessor
	Parallelism int
	Logger      *slog.Logger
}

// Dispatcher fans work items out over a bounded pool of store sessions.
type Dispatcher struct {
	sessions    ports.SessionFactory
	worker      ItemProcessor
	parallelism int
	logger      *slog.Logger
}

// DispatchReport tallies one dispatch run.
type DispatchReport struct {
	RunID       string
	Items       int
	Chunks      int
	Completed   int
	Pending     int
	AlreadyDone int
	Failed      int
	Inserted    int
	Skipped     int
	ChunkErrors []error
}

// Merge folds other into r. RunID is kept.
func (r *DispatchReport) Merge(other DispatchReport) {
	r.Items += other.Items
	r.Chunks += other.Chunks
	r.Completed += other.Completed
	r.Pending += other.Pending
	r.AlreadyDone += other.AlreadyDone
	r.Failed += other.Failed
	r.Inserted += other.Inserted
	r.Skipped += other.Skipped
	r.ChunkErrors = append(r.ChunkErrors, other.ChunkErrors...)
}

// NewDispatcher constructs the dispatcher. Parallelism below one falls back to
// the number of CPUs.
func NewDispatcher(deps DispatcherDeps) *Dispatcher {
	parallelism := deps.Parallelism
	if parallelism < 1 {
		parallelism = runtime.NumCPU()
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Dispatcher{
		sessions:    deps.Sessions,
		worker:      deps.Worker,
		parallelism: parallelism,
		logger:      logger,
	}
}

// Chunk splits items into contiguous chunks of max(len/parallelism, 1) items,
// preserving order. The final chunks may be shorter than the others.
func Chunk(items []domain.WorkItem, parallelism int) [][]domain.WorkItem {
	if len(items) == 0 {
		return nil
	}
	if parallelism < 1 {
		parallelism = 1
	}
	size := max(len(items)/parallelism, 1)

	chunks := make([][]domain.WorkItem, 0, (len(items)+size-1)/size)
	for start := 0; start < len(items); start += size {
		end := min(start+size, len(items))
		chunks = append(chunks, items[start:end])
	}
	return chunks
}

// Run processes items across the pool. A failing chunk never stops the other
// chunks; its error is reported and also joined into the returned error.
func (d *Dispatcher) Run(ctx context.Context, items []domain.WorkItem) (DispatchReport, error) {
	runID := uuid.NewString()
	log := d.logger.With("run_id", runID)
	chunks := Chunk(items, d.parallelism)

	tally := &reportTally{report: DispatchReport{RunID: runID, Items: len(items), Chunks: len(chunks)}}
	log.Info("dispatch started", "items", len(items), "chunks", len(chunks), "parallelism", d.parallelism)

	var g errgroup.Group
	g.SetLimit(d.parallelism)
	for index, chunk := range chunks {
		g.Go(func() error {
			if err := d.guardChunk(ctx, log.With("chunk", index), chunk, tally); err != nil {
				log.Error("chunk aborted", "chunk", index, "error", err)
				tally.chunkFailed(fmt.Errorf("chunk %d: %w", index, err))
			}
			return nil
		})
	}
	_ = g.Wait()

	report := tally.snapshot()
	log.Info("dispatch finished",
		"completed", report.Completed,
		"pending", report.Pending,
		"already_done", report.AlreadyDone,
		"failed", report.Failed,
		"inserted", report.Inserted,
		"chunk_errors", len(report.ChunkErrors),
	)

	if err := ctx.Err(); err != nil {
		return report, err
	}
	return report, errors.Join(report.ChunkErrors...)
}

func (d *Dispatcher) guardChunk(ctx context.Context, log *slog.Logger, chunk []domain.WorkItem, tally *reportTally) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return d.runChunk(ctx, log, chunk, tally)
}

func (d *Dispatcher) runChunk(ctx context.Context, log *slog.Logger, chunk []domain.WorkItem, tally *reportTally) error {
	session, err := d.sessions.OpenSession(ctx)
	if err != nil {
		return fmt.Errorf("open session: %w", err)
	}
	defer func() {
		if cerr := session.Close(); cerr != nil {
			log.Warn("close session", "error", cerr)
		}
	}()

	for _, item := range chunk {
		if err := ctx.Err(); err != nil {
			return err
		}

		itemLog := log.With("url", item.SourceURL)
		if err := session.EnsureQueued(ctx, item); err != nil {
			itemLog.Error("queue: ensure failed", "error", err)
			tally.add(func(r *DispatchReport) { r.Failed++ })
			continue
		}

		done, err := session.IsComplete(ctx, item)
		if err != nil {
			itemLog.Error("queue: completion check failed", "error", err)
			tally.add(func(r *DispatchReport) { r.Failed++ })
			continue
		}
		if done {
			itemLog.Debug("queue: already done")
			tally.add(func(r *DispatchReport) { r.AlreadyDone++ })
			continue
		}

		tx, err := session.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin item %s: %w", item.SourceURL, err)
		}

		result, err := d.processItem(ctx, tx, item)
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				itemLog.Warn("rollback failed", "error", rbErr)
			}
			itemLog.Error("item failed, rolled back", "error", err)
			tally.add(func(r *DispatchReport) { r.Failed++ })
			continue
		}

		if err := tx.Commit(); err != nil {
			itemLog.Error("commit failed", "error", err)
			tally.add(func(r *DispatchReport) { r.Failed++ })
			continue
		}

		tally.add(func(r *DispatchReport) {
			r.Inserted += result.Inserted
			r.Skipped += result.Skipped
			if result.Completed {
				r.Completed++
			} else {
				r.Pending++
			}
		})
	}
	return nil
}

func (d *Dispatcher) processItem(ctx context.Context, tx ports.ItemTx, item domain.WorkItem) (result ItemResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return d.worker.Process(ctx, tx, item)
}

type reportTally struct {
	mu     sync.Mutex
	report DispatchReport
}

func (t *reportTally) add(update func(*DispatchReport)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	update(&t.report)
}

func (t *reportTally) chunkFailed(err error) {
	t.add(func(r *DispatchReport) { r.ChunkErrors = append(r.ChunkErrors, err) })
}

func (t *reportTally) snapshot() DispatchReport {
	t.mu.Lock()
	defer t.mu.Unlock()
	report := t.report
	report.ChunkErrors = append([]error(nil), t.report.ChunkErrors...)
	return report
}
