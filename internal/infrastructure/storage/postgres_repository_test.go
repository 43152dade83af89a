package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"PartsScanner/internal/domain"
)

var day = time.Date(2018, 10, 23, 0, 0, 0, 0, time.UTC)

func newRepo(t *testing.T) (*PostgresRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewPostgresRepository(db, nil), mock
}

func workItem() domain.WorkItem {
	return domain.WorkItem{
		Category:  domain.CategoryCPU,
		Date:      time.Date(2018, 10, 23, 0, 24, 55, 0, time.UTC),
		SourceURL: "https://web.archive.org/web/20181023002455/https://www.ldlc.com/",
	}
}

func TestEnsureQueued(t *testing.T) {
	t.Parallel()
	repo, mock := newRepo(t)
	item := workItem()

	t.Run("Inserted", func(t *testing.T) {
		mock.ExpectExec(`INSERT INTO work_queue \(source_url,category,date,status\) VALUES \(\$1,\$2,\$3,\$4\) ON CONFLICT \(category, date\) DO NOTHING`).
			WithArgs(item.SourceURL, "CPU", day, "PENDING").
			WillReturnResult(sqlmock.NewResult(1, 1))
		assert.NoError(t, repo.EnsureQueued(context.Background(), item))
	})

	t.Run("UniqueViolationIsExisting", func(t *testing.T) {
		mock.ExpectExec(`INSERT INTO work_queue`).
			WillReturnError(&pq.Error{Code: "23505"})
		assert.NoError(t, repo.EnsureQueued(context.Background(), item))
	})

	t.Run("OtherErrorPropagates", func(t *testing.T) {
		mock.ExpectExec(`INSERT INTO work_queue`).
			WillReturnError(errors.New("connection reset"))
		assert.ErrorContains(t, repo.EnsureQueued(context.Background(), item), "connection reset")
	})

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestIsCompleteScopesURLToDay(t *testing.T) {
	t.Parallel()
	repo, mock := newRepo(t)
	item := workItem()

	mock.ExpectQuery(`SELECT EXISTS \( SELECT 1 FROM work_queue WHERE date = \$1 AND source_url = \$2 AND status = \$3 \)`).
		WithArgs(day, item.SourceURL, "DONE").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	done, err := repo.IsComplete(context.Background(), item)
	require.NoError(t, err)
	assert.True(t, done)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkCompleteUpsertsOnKey(t *testing.T) {
	t.Parallel()
	repo, mock := newRepo(t)
	item := workItem()

	mock.ExpectExec(`ON CONFLICT \(category, date\) DO UPDATE SET status = EXCLUDED.status, source_url = EXCLUDED.source_url`).
		WithArgs(item.SourceURL, "CPU", day, "DONE").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.MarkComplete(context.Background(), item))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestExists(t *testing.T) {
	t.Parallel()
	repo, mock := newRepo(t)

	mock.ExpectQuery(`SELECT EXISTS \( SELECT 1 FROM products WHERE date = \$1 AND sku = \$2 \)`).
		WithArgs(day, "AR201711130057").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))

	found, err := repo.Exists(context.Background(), day.Add(5*time.Hour), "AR201711130057")
	require.NoError(t, err)
	assert.False(t, found)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertIfAbsent(t *testing.T) {
	t.Parallel()
	repo, mock := newRepo(t)

	price := 389.95
	record := domain.ProductRecord{
		SKU:         "AR201711130057",
		Category:    domain.CategoryCPU,
		Title:       "Intel Core i7-8700K (3.7 GHz)",
		Description: "Processeur 6-Core 3.7 GHz Socket 1151",
		Model:       "Coffee Lake",
		Price:       &price,
		Date:        day,
	}
	insert := `INSERT INTO products \(sku,category,title,description,model,price,date\) VALUES \(\$1,\$2,\$3,\$4,\$5,\$6,\$7\) ON CONFLICT \(date, sku\) DO NOTHING`

	cases := []struct {
		name   string
		result func(*sqlmock.ExpectedExec)
		want   domain.InsertOutcome
	}{
		{"Inserted", func(e *sqlmock.ExpectedExec) { e.WillReturnResult(sqlmock.NewResult(1, 1)) }, domain.Inserted},
		{"ConflictIsSkipped", func(e *sqlmock.ExpectedExec) { e.WillReturnResult(sqlmock.NewResult(0, 0)) }, domain.Skipped},
		{"UniqueViolationIsSkipped", func(e *sqlmock.ExpectedExec) { e.WillReturnError(&pq.Error{Code: "23505"}) }, domain.Skipped},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tc.result(mock.ExpectExec(insert).
				WithArgs(record.SKU, "CPU", record.Title, record.Description, record.Model, price, day))
			outcome, err := repo.InsertIfAbsent(context.Background(), record)
			require.NoError(t, err)
			assert.Equal(t, tc.want, outcome)
		})
	}

	t.Run("NilPriceAndStoreError", func(t *testing.T) {
		record := record
		record.Price = nil
		mock.ExpectExec(insert).
			WithArgs(record.SKU, "CPU", record.Title, record.Description, record.Model, nil, day).
			WillReturnError(&pq.Error{Code: "40001"})
		_, err := repo.InsertIfAbsent(context.Background(), record)
		assert.Error(t, err)
	})

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSessionScopesItemTransaction(t *testing.T) {
	t.Parallel()
	repo, mock := newRepo(t)
	item := workItem()
	ctx := context.Background()

	session, err := repo.OpenSession(ctx)
	require.NoError(t, err)

	mock.ExpectExec(`INSERT INTO work_queue`).WillReturnResult(sqlmock.NewResult(1, 1))
	require.NoError(t, session.EnsureQueued(ctx, item))

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO products`).WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(`INSERT INTO work_queue .* DO UPDATE`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	tx, err := session.Begin(ctx)
	require.NoError(t, err)
	_, err = tx.InsertIfAbsent(ctx, domain.ProductRecord{SKU: "AR201711130057", Category: domain.CategoryCPU, Date: day})
	require.NoError(t, err)
	require.NoError(t, tx.MarkComplete(ctx, item))
	require.NoError(t, tx.Commit())

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO products`).WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	tx, err = session.Begin(ctx)
	require.NoError(t, err)
	_, err = tx.InsertIfAbsent(ctx, domain.ProductRecord{SKU: "AR201711130058", Category: domain.CategoryCPU, Date: day})
	require.Error(t, err)
	require.NoError(t, tx.Rollback())

	require.NoError(t, session.Close())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCompletedKeys(t *testing.T) {
	t.Parallel()
	repo, mock := newRepo(t)

	mock.ExpectQuery(`SELECT category, date FROM work_queue WHERE status = \$1`).
		WithArgs("DONE").
		WillReturnRows(sqlmock.NewRows([]string{"category", "date"}).
			AddRow("CPU", day).
			AddRow("GPU", day.AddDate(0, 0, 1)))

	keys, err := repo.CompletedKeys(context.Background())
	require.NoError(t, err)
	assert.Equal(t, map[domain.WorkKey]bool{
		{Category: domain.CategoryCPU, Day: "2018-10-23"}: true,
		{Category: domain.CategoryGPU, Day: "2018-10-24"}: true,
	}, keys)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDistinctModels(t *testing.T) {
	t.Parallel()
	repo, mock := newRepo(t)

	mock.ExpectQuery(`SELECT DISTINCT model FROM products WHERE category = \$1 AND model <> \$2 AND model IS NOT NULL ORDER BY model`).
		WithArgs("GPU", "").
		WillReturnRows(sqlmock.NewRows([]string{"model"}).AddRow("GeForce GTX 1080").AddRow("Radeon RX 580"))

	models, err := repo.DistinctModels(context.Background(), domain.CategoryGPU)
	require.NoError(t, err)
	assert.Equal(t, []string{"GeForce GTX 1080", "Radeon RX 580"}, models)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertSpecs(t *testing.T) {
	t.Parallel()
	repo, mock := newRepo(t)

	cores := int64(6)
	mock.ExpectExec(`INSERT INTO cpu_specs .* ON CONFLICT \(model\) DO NOTHING`).
		WillReturnResult(sqlmock.NewResult(1, 1))
	outcome, err := repo.InsertCPUSpec(context.Background(), domain.CPUSpec{Model: "Coffee Lake", CoreCount: &cores})
	require.NoError(t, err)
	assert.Equal(t, domain.Inserted, outcome)

	mock.ExpectExec(`INSERT INTO gpu_specs .* ON CONFLICT \(model\) DO NOTHING`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	outcome, err = repo.InsertGPUSpec(context.Background(), domain.GPUSpec{Model: "GeForce GTX 1080"})
	require.NoError(t, err)
	assert.Equal(t, domain.Skipped, outcome)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDumpTable(t *testing.T) {
	t.Parallel()
	repo, mock := newRepo(t)

	_, _, err := repo.DumpTable(context.Background(), "pg_user")
	assert.ErrorContains(t, err, "unknown table")

	rows := sqlmock.NewRowsWithColumnDefinition(
		sqlmock.NewColumn("id").OfType("INT4", int64(0)),
		sqlmock.NewColumn("sku").OfType("VARCHAR", ""),
		sqlmock.NewColumn("category").OfType("VARCHAR", ""),
		sqlmock.NewColumn("title").OfType("VARCHAR", ""),
		sqlmock.NewColumn("description").OfType("VARCHAR", ""),
		sqlmock.NewColumn("model").OfType("VARCHAR", ""),
		sqlmock.NewColumn("price").OfType("NUMERIC", []byte{}),
		sqlmock.NewColumn("date").OfType("DATE", time.Time{}),
	).
		AddRow(int64(1), "AR201711130057", "CPU", "Intel Core i7-8700K", "Processeur", "Coffee Lake", []byte("389.95"), day).
		AddRow(int64(2), "AR201802050011", "CPU", "AMD Ryzen 5 2400G", "Processeur", "", nil, day)

	mock.ExpectQuery(`SELECT id, sku, category, title, description, model, price, date FROM products ORDER BY id`).
		WillReturnRows(rows)

	columns, values, err := repo.DumpTable(context.Background(), "products")
	require.NoError(t, err)
	assert.Equal(t, exportColumns["products"], columns)
	require.Len(t, values, 2)
	assert.Equal(t, 389.95, values[0][6])
	assert.Nil(t, values[1][6])
	assert.Equal(t, day, values[0][7])
	require.NoError(t, mock.ExpectationsWereMet())
}
