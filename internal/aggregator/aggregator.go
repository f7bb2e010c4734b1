// Package aggregator composes store reads into dashboard views and runs
// refresh cycles across all sources.
package aggregator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/abdulachik/aipulse/internal/cache"
	"github.com/abdulachik/aipulse/internal/model"
	"github.com/abdulachik/aipulse/internal/source"
	"github.com/abdulachik/aipulse/internal/store"
)

const (
	hotItemsCount     = 5
	latestItemsCount  = 4
	summaryWindow     = 50
	trendsWindow      = 100
	topTopicsLimit    = 10
	defaultCacheTTL   = 2 * time.Minute
	dashboardCacheKey = "dashboard"
	trendsCacheKey    = "trends"
)

// Aggregator combines the stored items of all sources.
type Aggregator struct {
	fetchers []source.Fetcher
	store    store.Store
	cache    cache.Cache
	cacheTTL time.Duration
	now      func() time.Time
}

// Config holds aggregator configuration.
type Config struct {
	Store    store.Store
	Fetchers []source.Fetcher
	Cache    cache.Cache // Optional response cache
	CacheTTL time.Duration
}

// New creates a new aggregator.
func New(cfg Config) *Aggregator {
	a := &Aggregator{
		fetchers: cfg.Fetchers,
		store:    cfg.Store,
		cache:    cfg.Cache,
		cacheTTL: cfg.CacheTTL,
		now:      func() time.Time { return time.Now().UTC() },
	}
	if a.cache == nil {
		a.cache = cache.Noop{}
	}
	if a.cacheTTL <= 0 {
		a.cacheTTL = defaultCacheTTL
	}
	return a
}

// RefreshResult reports the outcome of one refresh cycle.
type RefreshResult struct {
	StartedAt time.Time
	Duration  time.Duration
	Fetched   map[model.Source]int
	Errors    map[model.Source]error
	Snapshot  *model.TrendSnapshot
}

// RefreshAllSources runs every fetcher concurrently, waits for all of them and
// then stores a fresh snapshot. Fetcher failures are recorded in the result
// and never stop the other fetchers or the snapshot; only a failed snapshot
// is returned as an error.
func (a *Aggregator) RefreshAllSources(ctx context.Context) (*RefreshResult, error) {
	result := &RefreshResult{
		StartedAt: a.now(),
		Fetched:   make(map[model.Source]int),
		Errors:    make(map[model.Source]error),
	}

	slog.Info("refreshing all sources", "sources", len(a.fetchers))

	var wg sync.WaitGroup
	var mu sync.Mutex

	for _, f := range a.fetchers {
		wg.Add(1)
		go func(f source.Fetcher) {
			defer wg.Done()

			items, err := f.FetchAll(ctx)

			mu.Lock()
			defer mu.Unlock()
			result.Fetched[f.Name()] = len(items)
			if err != nil {
				result.Errors[f.Name()] = err
				slog.Error("source refresh failed",
					"source", f.Name(),
					"error", err,
				)
				return
			}
			slog.Debug("source refreshed", "source", f.Name(), "items", len(items))
		}(f)
	}

	wg.Wait()

	snapshot, err := a.computeSnapshot(ctx)
	if err != nil {
		result.Duration = a.now().Sub(result.StartedAt)
		return result, fmt.Errorf("compute snapshot: %w", err)
	}
	if err := a.store.UpsertSnapshot(ctx, *snapshot); err != nil {
		result.Duration = a.now().Sub(result.StartedAt)
		return result, fmt.Errorf("store snapshot: %w", err)
	}
	result.Snapshot = snapshot

	if err := a.cache.Delete(ctx, dashboardCacheKey, trendsCacheKey); err != nil {
		slog.Warn("failed to invalidate cache", "error", err)
	}

	result.Duration = a.now().Sub(result.StartedAt)
	slog.Info("refresh complete",
		"fetched", result.Fetched,
		"failed_sources", len(result.Errors),
		"duration", result.Duration,
	)
	return result, nil
}

func (a *Aggregator) computeSnapshot(ctx context.Context) (*model.TrendSnapshot, error) {
	snap := &model.TrendSnapshot{
		Timestamp:     a.now(),
		SourceCounts:  make(map[model.Source]int),
		CompanyCounts: make(map[model.Company]int),
		TTL:           model.SnapshotTTL,
	}

	for _, src := range model.AllSources() {
		n, err := a.store.GetCount(ctx, store.Filter{Source: src})
		if err != nil {
			return nil, fmt.Errorf("count %s: %w", src, err)
		}
		snap.SourceCounts[src] = n
	}

	for _, company := range model.TrackedCompanies() {
		n, err := a.store.GetCount(ctx, store.Filter{Company: company})
		if err != nil {
			return nil, fmt.Errorf("count %s: %w", company, err)
		}
		snap.CompanyCounts[company] = n
	}

	recent, err := a.store.GetItems(ctx, 1, trendsWindow, store.Filter{})
	if err != nil {
		return nil, fmt.Errorf("read recent items: %w", err)
	}
	snap.TrendingTopics = TrendingTopics(recent, topTopicsLimit)

	return snap, nil
}

// GetDashboardSummary builds the dashboard landing view.
func (a *Aggregator) GetDashboardSummary(ctx context.Context) (*model.DashboardSummary, error) {
	return cache.Fetch(ctx, a.cache, dashboardCacheKey, a.cacheTTL, a.buildDashboardSummary)
}

func (a *Aggregator) buildDashboardSummary(ctx context.Context) (*model.DashboardSummary, error) {
	counts := make(map[model.Source]int)
	for _, src := range model.AllSources() {
		n, err := a.store.GetCount(ctx, store.Filter{Source: src})
		if err != nil {
			return nil, fmt.Errorf("count %s: %w", src, err)
		}
		counts[src] = n
	}

	stats := model.DashboardStats{
		HackerNewsCount:    counts[model.SourceHackerNews],
		GitHubReleaseCount: counts[model.SourceGitHubRelease],
		RssArticleCount:    counts[model.SourceRssFeed],
	}
	stats.TotalCount = stats.HackerNewsCount + stats.GitHubReleaseCount + stats.RssArticleCount

	companies := make([]model.CompanyBreakdown, 0, len(model.TrackedCompanies()))
	for _, company := range model.TrackedCompanies() {
		n, err := a.store.GetCount(ctx, store.Filter{Company: company})
		if err != nil {
			return nil, fmt.Errorf("count %s: %w", company, err)
		}
		companies = append(companies, model.CompanyBreakdown{Company: company, ItemCount: n})
	}

	hot, err := a.store.GetItems(ctx, 1, hotItemsCount, store.Filter{Source: model.SourceHackerNews})
	if err != nil {
		return nil, fmt.Errorf("read hot items: %w", err)
	}
	sort.SliceStable(hot, func(i, j int) bool {
		return hot[i].Score > hot[j].Score
	})

	releases, err := a.store.GetItems(ctx, 1, latestItemsCount, store.Filter{Source: model.SourceGitHubRelease})
	if err != nil {
		return nil, fmt.Errorf("read latest releases: %w", err)
	}

	posts, err := a.store.GetItems(ctx, 1, latestItemsCount, store.Filter{Source: model.SourceRssFeed})
	if err != nil {
		return nil, fmt.Errorf("read latest posts: %w", err)
	}

	recent, err := a.store.GetItems(ctx, 1, summaryWindow, store.Filter{})
	if err != nil {
		return nil, fmt.Errorf("read recent items: %w", err)
	}

	var lastFetched *time.Time
	snap, err := a.store.GetLatestSnapshot(ctx)
	switch {
	case errors.Is(err, store.ErrNotFound):
	case err != nil:
		return nil, fmt.Errorf("read latest snapshot: %w", err)
	default:
		ts := snap.Timestamp.UTC()
		lastFetched = &ts
	}

	return &model.DashboardSummary{
		Stats:           stats,
		Companies:       companies,
		TrendingTopics:  TrendingTopics(recent, topTopicsLimit),
		HotItems:        model.Views(hot),
		LatestReleases:  model.Views(releases),
		LatestBlogPosts: model.Views(posts),
		LastFetchedAt:   lastFetched,
	}, nil
}

// GetTrends computes topic, company and source distributions over the 100
// most recent items.
func (a *Aggregator) GetTrends(ctx context.Context) (*model.Trends, error) {
	return cache.Fetch(ctx, a.cache, trendsCacheKey, a.cacheTTL, a.buildTrends)
}

func (a *Aggregator) buildTrends(ctx context.Context) (*model.Trends, error) {
	recent, err := a.store.GetItems(ctx, 1, trendsWindow, store.Filter{})
	if err != nil {
		return nil, fmt.Errorf("read recent items: %w", err)
	}

	companyKeys := make([]string, len(recent))
	sourceKeys := make([]string, len(recent))
	for i, item := range recent {
		companyKeys[i] = string(item.Company)
		sourceKeys[i] = string(item.Source)
	}

	trends := &model.Trends{
		Topics:              TrendingTopics(recent, topTopicsLimit),
		CompanyDistribution: make([]model.CompanyCount, 0),
		SourceDistribution:  make([]model.SourceCount, 0),
	}
	for _, g := range groupCount(companyKeys) {
		trends.CompanyDistribution = append(trends.CompanyDistribution, model.CompanyCount{Company: model.Company(g.key), Count: g.count})
	}
	for _, g := range groupCount(sourceKeys) {
		trends.SourceDistribution = append(trends.SourceDistribution, model.SourceCount{Source: model.Source(g.key), Count: g.count})
	}
	return trends, nil
}

// GetUnifiedFeed returns one page of items across sources with optional
// source and company filters.
func (a *Aggregator) GetUnifiedFeed(ctx context.Context, page, pageSize int, src model.Source, company model.Company) (*model.PagedItems, error) {
	page, pageSize = model.ClampPage(page, pageSize, model.MaxFeedPageSize)
	filter := store.Filter{Source: src, Company: company}

	items, err := a.store.GetItems(ctx, page, pageSize, filter)
	if err != nil {
		return nil, fmt.Errorf("read feed: %w", err)
	}
	total, err := a.store.GetCount(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("count feed: %w", err)
	}

	return &model.PagedItems{
		Items:      model.Views(items),
		TotalCount: total,
		Page:       page,
		PageSize:   pageSize,
	}, nil
}

// TrendingTopics counts tag mentions across items and returns the top limit
// tags by count. Ties keep the order in which tags were first seen.
func TrendingTopics(items []model.NewsItem, limit int) []model.TrendingTopic {
	var tags []string
	for _, item := range items {
		tags = append(tags, item.Tags...)
	}

	groups := groupCount(tags)
	if len(groups) > limit {
		groups = groups[:limit]
	}

	topics := make([]model.TrendingTopic, 0, len(groups))
	for _, g := range groups {
		topics = append(topics, model.TrendingTopic{Topic: g.key, MentionCount: g.count})
	}
	return topics
}

type group struct {
	key   string
	count int
}

// groupCount counts occurrences of each key, sorted by count descending with
// first-seen order breaking ties.
func groupCount(keys []string) []group {
	index := make(map[string]int)
	var groups []group
	for _, k := range keys {
		if i, ok := index[k]; ok {
			groups[i].count++
			continue
		}
		index[k] = len(groups)
		groups = append(groups, group{key: k, count: 1})
	}

	sort.SliceStable(groups, func(i, j int) bool {
		return groups[i].count > groups[j].count
	})
	return groups
}
