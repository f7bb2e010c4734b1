package store

import (
	"context"
	"sync"

	"github.com/abdulachik/aipulse/internal/model"
)

// MemoryStore keeps everything in process memory. Contents are lost on exit.
type MemoryStore struct {
	opts Options

	mu       sync.RWMutex
	items    map[string]model.NewsItem
	snapshot *model.TrendSnapshot
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore(opts Options) *MemoryStore {
	return &MemoryStore{
		opts:  opts,
		items: make(map[string]model.NewsItem),
	}
}

func (m *MemoryStore) UpsertOne(ctx context.Context, item model.NewsItem) (model.NewsItem, error) {
	if err := ctx.Err(); err != nil {
		return model.NewsItem{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	key := item.Key()
	if existing, ok := m.items[key]; ok {
		item.ID = existing.ID
	}
	item = prepare(item, m.opts.now())
	m.items[key] = item

	return item.Clone(), nil
}

func (m *MemoryStore) UpsertMany(ctx context.Context, items []model.NewsItem) error {
	return upsertAll(ctx, items, m.opts.concurrency(), func(ctx context.Context, item model.NewsItem) error {
		_, err := m.UpsertOne(ctx, item)
		return err
	})
}

func (m *MemoryStore) GetItems(ctx context.Context, page, pageSize int, f Filter) ([]model.NewsItem, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	matched := m.filtered(f)
	sortNewest(matched)

	return pageOf(matched, page, pageSize), nil
}

func (m *MemoryStore) GetCount(ctx context.Context, f Filter) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	count := 0
	for _, item := range m.items {
		if f.matches(item) {
			count++
		}
	}
	return count, nil
}

func (m *MemoryStore) GetLatestSnapshot(ctx context.Context) (*model.TrendSnapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.snapshot == nil {
		return nil, ErrNotFound
	}
	s := m.snapshot.Clone()
	return &s, nil
}

func (m *MemoryStore) UpsertSnapshot(ctx context.Context, s model.TrendSnapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s = prepareSnapshot(s.Clone(), m.opts.now())

	m.mu.Lock()
	m.snapshot = &s
	m.mu.Unlock()
	return nil
}

// Close is a no-op.
func (m *MemoryStore) Close() error {
	return nil
}

func (m *MemoryStore) filtered(f Filter) []model.NewsItem {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]model.NewsItem, 0, len(m.items))
	for _, item := range m.items {
		if f.matches(item) {
			out = append(out, item.Clone())
		}
	}
	return out
}
