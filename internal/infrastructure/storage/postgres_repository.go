package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/lib/pq"

	"PartsScanner/internal/config"
	"PartsScanner/internal/domain"
	"PartsScanner/internal/ports"
)

const uniqueViolation pq.ErrorCode = "23505"

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// dbtx is satisfied by *sql.DB, *sql.Conn and *sql.Tx.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Open connects to Postgres and verifies the connection.
func Open(ctx context.Context, cfg config.DatabaseConfig) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
		db.SetMaxIdleConns(cfg.MaxOpenConns)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}

// PostgresRepository persists the work queue, products and specifications.
type PostgresRepository struct {
	queries
	db     *sql.DB
	logger *slog.Logger
}

var (
	_ ports.SessionFactory  = (*PostgresRepository)(nil)
	_ ports.CompletionIndex = (*PostgresRepository)(nil)
	_ ports.ModelSource     = (*PostgresRepository)(nil)
	_ ports.SpecRepository  = (*PostgresRepository)(nil)
	_ ports.TableDumper     = (*PostgresRepository)(nil)
	_ ports.Ledger          = (*PostgresRepository)(nil)
)

// NewPostgresRepository wires a sql.DB implementation.
func NewPostgresRepository(db *sql.DB, logger *slog.Logger) *PostgresRepository {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &PostgresRepository{queries: queries{q: db}, db: db, logger: logger}
}

// OpenSession checks out a dedicated connection. Queue writes on the session
// autocommit; product writes go through Begin.
func (r *PostgresRepository) OpenSession(ctx context.Context) (ports.Session, error) {
	conn, err := r.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("checkout connection: %w", err)
	}
	return &Session{queries: queries{q: conn}, conn: conn}, nil
}

// CompletedKeys returns every (category, day) marked DONE.
func (r *PostgresRepository) CompletedKeys(ctx context.Context) (map[domain.WorkKey]bool, error) {
	query, args, err := psql.Select("category", "date").
		From("work_queue").
		Where(sq.Eq{"status": string(domain.StatusDone)}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build completed query: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query completed: %w", err)
	}

	result := make(map[domain.WorkKey]bool)
	for rows.Next() {
		var (
			category string
			date     time.Time
		)
		if err := rows.Scan(&category, &date); err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("scan completed: %w", err)
		}
		result[domain.WorkKey{Category: domain.Category(category), Day: date.Format(domain.DateLayout)}] = true
	}

	if rowsErr := rows.Err(); rowsErr != nil {
		_ = rows.Close()
		return nil, fmt.Errorf("rows iteration: %w", rowsErr)
	}

	if closeErr := rows.Close(); closeErr != nil {
		return nil, fmt.Errorf("close rows: %w", closeErr)
	}

	return result, nil
}

// DistinctModels lists the non-empty models stored for category.
func (r *PostgresRepository) DistinctModels(ctx context.Context, category domain.Category) ([]string, error) {
	query, args, err := psql.Select("DISTINCT model").
		From("products").
		Where(sq.Eq{"category": string(category)}).
		Where(sq.NotEq{"model": ""}).
		Where(sq.NotEq{"model": nil}).
		OrderBy("model").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build models query: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query models: %w", err)
	}
	defer rows.Close()

	var models []string
	for rows.Next() {
		var model string
		if err := rows.Scan(&model); err != nil {
			return nil, fmt.Errorf("scan model: %w", err)
		}
		models = append(models, model)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration: %w", err)
	}
	return models, nil
}

// Session is one dedicated connection used by a dispatch task.
type Session struct {
	queries
	conn *sql.Conn
}

var _ ports.Session = (*Session)(nil)

// Begin starts the transaction scoping one work item.
func (s *Session) Begin(ctx context.Context) (ports.ItemTx, error) {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	return &ItemTx{queries: queries{q: tx}, tx: tx}, nil
}

// Close returns the connection to the pool.
func (s *Session) Close() error {
	return s.conn.Close()
}

// ItemTx holds the product inserts and completion mark of one item.
type ItemTx struct {
	queries
	tx *sql.Tx
}

var _ ports.ItemTx = (*ItemTx)(nil)

func (t *ItemTx) Commit() error {
	return t.tx.Commit()
}

func (t *ItemTx) Rollback() error {
	return t.tx.Rollback()
}

// queries implements the queue and the dedup gate over any executor.
type queries struct {
	q dbtx
}

// EnsureQueued records the item as PENDING unless its (category, day) exists.
func (s queries) EnsureQueued(ctx context.Context, item domain.WorkItem) error {
	query, args, err := psql.Insert("work_queue").
		Columns("source_url", "category", "date", "status").
		Values(item.SourceURL, string(item.Category), domain.Day(item.Date), string(domain.StatusPending)).
		Suffix("ON CONFLICT (category, date) DO NOTHING").
		ToSql()
	if err != nil {
		return fmt.Errorf("build enqueue: %w", err)
	}

	if _, err := s.q.ExecContext(ctx, query, args...); err != nil {
		if isUniqueViolation(err) {
			return nil
		}
		return fmt.Errorf("enqueue %s: %w", item.SourceURL, err)
	}
	return nil
}

// IsComplete reports whether item's URL is DONE for item's day.
func (s queries) IsComplete(ctx context.Context, item domain.WorkItem) (bool, error) {
	return s.exists(ctx, psql.Select("1").
		From("work_queue").
		Where(sq.Eq{
			"source_url": item.SourceURL,
			"date":       domain.Day(item.Date),
			"status":     string(domain.StatusDone),
		}))
}

// MarkComplete sets the item DONE, creating its entry when missing.
func (s queries) MarkComplete(ctx context.Context, item domain.WorkItem) error {
	query, args, err := psql.Insert("work_queue").
		Columns("source_url", "category", "date", "status").
		Values(item.SourceURL, string(item.Category), domain.Day(item.Date), string(domain.StatusDone)).
		Suffix("ON CONFLICT (category, date) DO UPDATE SET status = EXCLUDED.status, source_url = EXCLUDED.source_url").
		ToSql()
	if err != nil {
		return fmt.Errorf("build complete: %w", err)
	}

	if _, err := s.q.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("complete %s: %w", item.SourceURL, err)
	}
	return nil
}

// Exists checks for a stored observation of sku on date.
func (s queries) Exists(ctx context.Context, date time.Time, sku string) (bool, error) {
	return s.exists(ctx, psql.Select("1").
		From("products").
		Where(sq.Eq{"date": domain.Day(date), "sku": sku}))
}

// InsertIfAbsent stores record unless (date, sku) is already present.
func (s queries) InsertIfAbsent(ctx context.Context, record domain.ProductRecord) (domain.InsertOutcome, error) {
	query, args, err := psql.Insert("products").
		Columns("sku", "category", "title", "description", "model", "price", "date").
		Values(record.SKU, string(record.Category), record.Title, record.Description, record.Model, record.Price, domain.Day(record.Date)).
		Suffix("ON CONFLICT (date, sku) DO NOTHING").
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build product insert: %w", err)
	}

	outcome, err := insertOutcome(s.q.ExecContext(ctx, query, args...))
	if err != nil {
		return 0, fmt.Errorf("insert product %s: %w", record.SKU, err)
	}
	return outcome, nil
}

func (s queries) exists(ctx context.Context, sub sq.SelectBuilder) (bool, error) {
	query, args, err := sub.Prefix("SELECT EXISTS (").Suffix(")").ToSql()
	if err != nil {
		return false, fmt.Errorf("build exists: %w", err)
	}

	var found bool
	if err := s.q.QueryRowContext(ctx, query, args...).Scan(&found); err != nil {
		return false, fmt.Errorf("query exists: %w", err)
	}
	return found, nil
}

// insertOutcome maps an ON CONFLICT DO NOTHING insert to its outcome.
func insertOutcome(res sql.Result, err error) (domain.InsertOutcome, error) {
	if err != nil {
		if isUniqueViolation(err) {
			return domain.Skipped, nil
		}
		return 0, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return domain.Skipped, nil
	}
	return domain.Inserted, nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}
