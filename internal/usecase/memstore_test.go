package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"PartsScanner/internal/domain"
	"PartsScanner/internal/ports"
	"PartsScanner/internal/scanner"
)

type productKey struct {
	day string
	sku string
}

// memStore mimics the relational store: sessions autocommit queue writes and
// item transactions buffer product rows until Commit.
type memStore struct {
	mu         sync.Mutex
	queue      map[domain.WorkKey]domain.WorkItem
	products   map[productKey]domain.ProductRecord
	failInsert func(domain.ProductRecord) error
	failOpen   func(n int) error
	opened     int
	closed     int
	rollbacks  int
	commits    int
}

var _ ports.SessionFactory = (*memStore)(nil)

func newMemStore() *memStore {
	return &memStore{
		queue:    map[domain.WorkKey]domain.WorkItem{},
		products: map[productKey]domain.ProductRecord{},
	}
}

func (s *memStore) OpenSession(context.Context) (ports.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.opened++
	if s.failOpen != nil {
		if err := s.failOpen(s.opened); err != nil {
			return nil, err
		}
	}
	return &memSession{store: s}, nil
}

func (s *memStore) productCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.products)
}

func (s *memStore) status(item domain.WorkItem) (domain.WorkStatus, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.queue[item.Key()]
	return entry.Status, ok
}

func (s *memStore) ensureQueued(item domain.WorkItem) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.queue[item.Key()]; ok {
		return
	}
	item.Status = domain.StatusPending
	s.queue[item.Key()] = item
}

func (s *memStore) isComplete(item domain.WorkItem) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, entry := range s.queue {
		if key.Day == item.Key().Day && entry.SourceURL == item.SourceURL && entry.Status == domain.StatusDone {
			return true
		}
	}
	return false
}

func (s *memStore) markComplete(item domain.WorkItem) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item.Status = domain.StatusDone
	s.queue[item.Key()] = item
}

func (s *memStore) CompletedKeys(context.Context) (map[domain.WorkKey]bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := map[domain.WorkKey]bool{}
	for key, entry := range s.queue {
		if entry.Status == domain.StatusDone {
			keys[key] = true
		}
	}
	return keys, nil
}

type memSession struct {
	store *memStore
}

func (s *memSession) EnsureQueued(_ context.Context, item domain.WorkItem) error {
	s.store.ensureQueued(item)
	return nil
}

func (s *memSession) IsComplete(_ context.Context, item domain.WorkItem) (bool, error) {
	return s.store.isComplete(item), nil
}

func (s *memSession) MarkComplete(_ context.Context, item domain.WorkItem) error {
	s.store.markComplete(item)
	return nil
}

func (s *memSession) Begin(context.Context) (ports.ItemTx, error) {
	return &memTx{session: s, products: map[productKey]domain.ProductRecord{}}, nil
}

func (s *memSession) Close() error {
	s.store.mu.Lock()
	defer s.store.mu.Unlock()
	s.store.closed++
	return nil
}

type memTx struct {
	session  *memSession
	products map[productKey]domain.ProductRecord
	done     []domain.WorkItem
	finished bool
}

func (t *memTx) EnsureQueued(ctx context.Context, item domain.WorkItem) error {
	return t.session.EnsureQueued(ctx, item)
}

func (t *memTx) IsComplete(ctx context.Context, item domain.WorkItem) (bool, error) {
	return t.session.IsComplete(ctx, item)
}

func (t *memTx) MarkComplete(_ context.Context, item domain.WorkItem) error {
	t.done = append(t.done, item)
	return nil
}

func (t *memTx) Exists(_ context.Context, date time.Time, sku string) (bool, error) {
	key := productKey{day: date.Format(domain.DateLayout), sku: sku}
	if _, ok := t.products[key]; ok {
		return true, nil
	}
	store := t.session.store
	store.mu.Lock()
	defer store.mu.Unlock()
	_, ok := store.products[key]
	return ok, nil
}

func (t *memTx) InsertIfAbsent(ctx context.Context, record domain.ProductRecord) (domain.InsertOutcome, error) {
	if hook := t.session.store.failInsert; hook != nil {
		if err := hook(record); err != nil {
			return 0, err
		}
	}
	exists, err := t.Exists(ctx, record.Date, record.SKU)
	if err != nil {
		return 0, err
	}
	if exists {
		return domain.Skipped, nil
	}
	t.products[productKey{day: record.Date.Format(domain.DateLayout), sku: record.SKU}] = record
	return domain.Inserted, nil
}

func (t *memTx) Commit() error {
	if t.finished {
		return errors.New("transaction already finished")
	}
	t.finished = true

	store := t.session.store
	store.mu.Lock()
	for key, record := range t.products {
		if _, ok := store.products[key]; !ok {
			store.products[key] = record
		}
	}
	store.commits++
	store.mu.Unlock()

	for _, item := range t.done {
		store.markComplete(item)
	}
	return nil
}

func (t *memTx) Rollback() error {
	if t.finished {
		return nil
	}
	t.finished = true
	store := t.session.store
	store.mu.Lock()
	defer store.mu.Unlock()
	store.rollbacks++
	return nil
}

// fakeFetcher serves page bodies by URL.
type fakeFetcher struct {
	mu     sync.Mutex
	pages  map[string]string
	errs   map[string]error
	called []string
}

func (f *fakeFetcher) Fetch(_ context.Context, url string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.called = append(f.called, url)
	if err, ok := f.errs[url]; ok {
		return nil, err
	}
	body, ok := f.pages[url]
	if !ok {
		return nil, fmt.Errorf("no page for %s", url)
	}
	return []byte(body), nil
}

// fakeParser resolves page bodies (used as identifiers) to canned pages.
type fakeParser struct {
	pages map[string]fakePage
}

func (p fakeParser) Name() string { return "fake" }

func (p fakeParser) Parse(content []byte) (scanner.Page, error) {
	page, ok := p.pages[string(content)]
	if !ok {
		return nil, fmt.Errorf("unknown page %q", content)
	}
	return page, nil
}

type fakePage struct {
	articles   []scanner.Article
	articleErr error
	pagination scanner.Pagination
}

func (p fakePage) Articles() ([]scanner.Article, error) {
	if p.articleErr != nil {
		return nil, p.articleErr
	}
	return p.articles, nil
}

func (p fakePage) Pagination() (scanner.Pagination, error) {
	return p.pagination, nil
}

type fakeArticle struct {
	sku   string
	model string
	err   error
	panic bool
}

func (a fakeArticle) Record(item domain.WorkItem) (domain.ProductRecord, error) {
	if a.panic {
		panic("malformed fragment")
	}
	if a.err != nil {
		return domain.ProductRecord{}, a.err
	}
	price := 99.9
	model := a.model
	if model == "" {
		model = "M-" + a.sku
	}
	return domain.ProductRecord{
		SKU:   a.sku,
		Title: "Product " + a.sku,
		Model: model,
		Price: &price,
		Date:  item.Date,
	}, nil
}
