// Package store persists news items and trend snapshots.
//
// Every backend honours the same contract: items are deduplicated by their
// natural key (source, external id) and keep the identity assigned on first
// insert; reads are ordered by publish time, newest first; exactly one
// snapshot is "latest" at a time.
package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/abdulachik/aipulse/internal/model"
)

// DefaultUpsertConcurrency bounds parallel writes within one UpsertMany call.
const DefaultUpsertConcurrency = 10

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Filter narrows item reads. Zero values match everything.
type Filter struct {
	Source  model.Source
	Company model.Company
}

// Store is the persistence contract shared by all backends.
type Store interface {
	// UpsertOne inserts the item or replaces the existing item with the same
	// natural key, keeping its stored ID. It returns the item as stored.
	UpsertOne(ctx context.Context, item model.NewsItem) (model.NewsItem, error)
	// UpsertMany upserts every item with bounded concurrency. Failures of
	// individual items are joined into the returned error.
	UpsertMany(ctx context.Context, items []model.NewsItem) error
	// GetItems returns one 1-indexed page of matching items, newest first.
	// Pages past the end are empty, not an error.
	GetItems(ctx context.Context, page, pageSize int, f Filter) ([]model.NewsItem, error)
	// GetCount returns the number of matching items.
	GetCount(ctx context.Context, f Filter) (int, error)
	// GetLatestSnapshot returns ErrNotFound when no snapshot was ever stored.
	GetLatestSnapshot(ctx context.Context) (*model.TrendSnapshot, error)
	// UpsertSnapshot makes s the latest snapshot.
	UpsertSnapshot(ctx context.Context, s model.TrendSnapshot) error
	Close() error
}

// Options holds settings shared by the backends.
type Options struct {
	UpsertConcurrency int
	// Now overrides the clock used for fetch timestamps. Tests only.
	Now func() time.Time
}

func (o Options) concurrency() int {
	if o.UpsertConcurrency < 1 {
		return DefaultUpsertConcurrency
	}
	return o.UpsertConcurrency
}

func (o Options) now() time.Time {
	if o.Now != nil {
		return o.Now().UTC()
	}
	return time.Now().UTC()
}

// prepare fills store-owned defaults on an item about to be written.
func prepare(item model.NewsItem, now time.Time) model.NewsItem {
	item = item.Clone()
	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	if item.FetchedAt.IsZero() {
		item.FetchedAt = now
	}
	if item.TTL == 0 {
		item.TTL = model.ItemTTL
	}
	if item.Tags == nil {
		item.Tags = []string{}
	}
	if item.Metadata == nil {
		item.Metadata = map[string]string{}
	}
	item.PublishedAt = item.PublishedAt.UTC()
	item.FetchedAt = item.FetchedAt.UTC()
	return item
}

func prepareSnapshot(s model.TrendSnapshot, now time.Time) model.TrendSnapshot {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	if s.Timestamp.IsZero() {
		s.Timestamp = now
	}
	if s.TTL == 0 {
		s.TTL = model.SnapshotTTL
	}
	s.Timestamp = s.Timestamp.UTC()
	return s
}

// upsertAll runs upsert for every item with at most limit calls in flight.
func upsertAll(ctx context.Context, items []model.NewsItem, limit int, upsert func(context.Context, model.NewsItem) error) error {
	sem := make(chan struct{}, limit)
	var wg sync.WaitGroup
	var mu sync.Mutex
	var errs []error

loop:
	for _, item := range items {
		select {
		case <-ctx.Done():
			break loop
		case sem <- struct{}{}:
		}

		wg.Add(1)
		go func(item model.NewsItem) {
			defer wg.Done()
			defer func() { <-sem }()

			if err := upsert(ctx, item); err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("upsert %s: %w", item.Key(), err))
				mu.Unlock()
			}
		}(item)
	}

	wg.Wait()

	if err := ctx.Err(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (f Filter) matches(item model.NewsItem) bool {
	if f.Source != "" && item.Source != f.Source {
		return false
	}
	if f.Company != "" && item.Company != f.Company {
		return false
	}
	return true
}

// sortNewest orders items by publish time descending. Ties fall back to the
// natural key so every backend returns the same order.
func sortNewest(items []model.NewsItem) {
	sort.SliceStable(items, func(i, j int) bool {
		a, b := items[i], items[j]
		if !a.PublishedAt.Equal(b.PublishedAt) {
			return a.PublishedAt.After(b.PublishedAt)
		}
		if a.Source != b.Source {
			return a.Source < b.Source
		}
		return a.ExternalID < b.ExternalID
	})
}

// pageOf slices one page out of a sorted result set.
func pageOf(items []model.NewsItem, page, pageSize int) []model.NewsItem {
	start, end := model.PageBounds(len(items), page, pageSize)
	if start == end {
		return []model.NewsItem{}
	}
	return items[start:end]
}
