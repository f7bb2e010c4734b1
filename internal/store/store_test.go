package store

import (
	"context"
	"fmt"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/abdulachik/aipulse/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var baseTime = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func newsItem(source model.Source, externalID string, company model.Company, age time.Duration) model.NewsItem {
	return model.NewsItem{
		ExternalID:  externalID,
		Source:      source,
		Title:       "Title " + externalID,
		URL:         "https://example.com/" + externalID,
		Company:     company,
		Tags:        []string{"claude"},
		PublishedAt: baseTime.Add(-age),
		Metadata:    map[string]string{"k": "v"},
	}
}

// backends returns a fresh instance of every Store implementation.
func backends(t *testing.T) map[string]Store {
	t.Helper()
	return map[string]Store{
		"memory": NewMemoryStore(Options{}),
		"sqlite": NewTestSQLiteStore(t),
		"dynamo": NewDynamoStore(newFakeDynamo(), DynamoConfig{
			ItemsTable:    "NewsItems",
			SnapshotTable: "Snapshots",
		}),
	}
}

func TestStore_UpsertIsIdempotent(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			first, err := s.UpsertOne(ctx, newsItem(model.SourceHackerNews, "hn-1", model.CompanyAnthropic, 0))
			require.NoError(t, err)
			require.NotEmpty(t, first.ID)

			updated := newsItem(model.SourceHackerNews, "hn-1", model.CompanyAnthropic, 0)
			updated.Title = "Updated title"
			updated.Score = 42
			second, err := s.UpsertOne(ctx, updated)
			require.NoError(t, err)

			assert.Equal(t, first.ID, second.ID)

			count, err := s.GetCount(ctx, Filter{})
			require.NoError(t, err)
			assert.Equal(t, 1, count)

			items, err := s.GetItems(ctx, 1, 10, Filter{})
			require.NoError(t, err)
			require.Len(t, items, 1)
			assert.Equal(t, first.ID, items[0].ID)
			assert.Equal(t, "Updated title", items[0].Title)
			assert.Equal(t, 42, items[0].Score)
			assert.Equal(t, model.ItemTTL, items[0].TTL)
			assert.False(t, items[0].FetchedAt.IsZero())
		})
	}
}

func TestStore_SameExternalIDDifferentSource(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			_, err := s.UpsertOne(ctx, newsItem(model.SourceHackerNews, "x", model.CompanyOther, 0))
			require.NoError(t, err)
			_, err = s.UpsertOne(ctx, newsItem(model.SourceRssFeed, "x", model.CompanyOther, 0))
			require.NoError(t, err)

			count, err := s.GetCount(ctx, Filter{})
			require.NoError(t, err)
			assert.Equal(t, 2, count)
		})
	}
}

func TestStore_Pagination(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			var items []model.NewsItem
			for i := 0; i < 5; i++ {
				items = append(items, newsItem(model.SourceRssFeed, fmt.Sprintf("rss-%d", i), model.CompanyOther, time.Duration(i)*time.Hour))
			}
			require.NoError(t, s.UpsertMany(ctx, items))

			page, err := s.GetItems(ctx, 1, 2, Filter{})
			require.NoError(t, err)
			require.Len(t, page, 2)
			assert.Equal(t, "rss-0", page[0].ExternalID)
			assert.Equal(t, "rss-1", page[1].ExternalID)

			page, err = s.GetItems(ctx, 3, 2, Filter{})
			require.NoError(t, err)
			require.Len(t, page, 1)
			assert.Equal(t, "rss-4", page[0].ExternalID)

			count, err := s.GetCount(ctx, Filter{})
			require.NoError(t, err)
			assert.Equal(t, 5, count)

			t.Run("out of range page is empty", func(t *testing.T) {
				page, err := s.GetItems(ctx, 10, 2, Filter{})
				require.NoError(t, err)
				assert.NotNil(t, page)
				assert.Empty(t, page)
			})

			t.Run("invalid input is clamped", func(t *testing.T) {
				page, err := s.GetItems(ctx, 0, -1, Filter{})
				require.NoError(t, err)
				assert.Len(t, page, 5)
			})

			t.Run("huge page is empty", func(t *testing.T) {
				page, err := s.GetItems(ctx, math.MaxInt64/50, 100, Filter{})
				require.NoError(t, err)
				assert.NotNil(t, page)
				assert.Empty(t, page)

				page, err = s.GetItems(ctx, math.MaxInt64, math.MaxInt64, Filter{})
				require.NoError(t, err)
				assert.Empty(t, page)
			})

			t.Run("huge page size returns everything", func(t *testing.T) {
				page, err := s.GetItems(ctx, 1, math.MaxInt64, Filter{})
				require.NoError(t, err)
				assert.Len(t, page, 5)
			})
		})
	}
}

func TestStore_Filters(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			require.NoError(t, s.UpsertMany(ctx, []model.NewsItem{
				newsItem(model.SourceHackerNews, "hn-1", model.CompanyAnthropic, time.Hour),
				newsItem(model.SourceHackerNews, "hn-2", model.CompanyOpenAI, 2*time.Hour),
				newsItem(model.SourceGitHubRelease, "a/b@v1", model.CompanyAnthropic, 3*time.Hour),
				newsItem(model.SourceRssFeed, "rss-1", model.CompanyGoogle, 0),
			}))

			tests := []struct {
				name     string
				filter   Filter
				expected []string
			}{
				{"all", Filter{}, []string{"rss-1", "hn-1", "hn-2", "a/b@v1"}},
				{"source", Filter{Source: model.SourceHackerNews}, []string{"hn-1", "hn-2"}},
				{"company", Filter{Company: model.CompanyAnthropic}, []string{"hn-1", "a/b@v1"}},
				{"both", Filter{Source: model.SourceHackerNews, Company: model.CompanyOpenAI}, []string{"hn-2"}},
				{"no match", Filter{Company: model.CompanyBoth}, []string{}},
			}

			for _, tt := range tests {
				t.Run(tt.name, func(t *testing.T) {
					items, err := s.GetItems(ctx, 1, 20, tt.filter)
					require.NoError(t, err)

					ids := make([]string, 0, len(items))
					for _, item := range items {
						ids = append(ids, item.ExternalID)
					}
					assert.Equal(t, tt.expected, ids)

					count, err := s.GetCount(ctx, tt.filter)
					require.NoError(t, err)
					assert.Equal(t, len(tt.expected), count)
				})
			}
		})
	}
}

func TestStore_ConcurrentUpserts(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			var wg sync.WaitGroup
			for w := 0; w < 4; w++ {
				wg.Add(1)
				go func(w int) {
					defer wg.Done()
					var batch []model.NewsItem
					for i := 0; i < 25; i++ {
						batch = append(batch, newsItem(model.SourceHackerNews, fmt.Sprintf("hn-%d-%d", w, i), model.CompanyOther, time.Duration(i)*time.Minute))
					}
					assert.NoError(t, s.UpsertMany(ctx, batch))
				}(w)
			}
			wg.Wait()

			count, err := s.GetCount(ctx, Filter{})
			require.NoError(t, err)
			assert.Equal(t, 100, count)
		})
	}
}

func TestStore_Snapshot(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			_, err := s.GetLatestSnapshot(ctx)
			assert.ErrorIs(t, err, ErrNotFound)

			first := model.TrendSnapshot{
				Timestamp:    baseTime,
				SourceCounts: map[model.Source]int{model.SourceHackerNews: 1},
			}
			require.NoError(t, s.UpsertSnapshot(ctx, first))

			second := model.TrendSnapshot{
				Timestamp:     baseTime.Add(time.Minute),
				SourceCounts:  map[model.Source]int{model.SourceHackerNews: 2, model.SourceRssFeed: 3},
				CompanyCounts: map[model.Company]int{model.CompanyAnthropic: 4},
				TrendingTopics: []model.TrendingTopic{
					{Topic: "claude", MentionCount: 4},
					{Topic: "mcp", MentionCount: 1},
				},
			}
			require.NoError(t, s.UpsertSnapshot(ctx, second))

			latest, err := s.GetLatestSnapshot(ctx)
			require.NoError(t, err)
			assert.NotEmpty(t, latest.ID)
			assert.True(t, latest.Timestamp.Equal(second.Timestamp))
			assert.Equal(t, 2, latest.SourceCounts[model.SourceHackerNews])
			assert.Equal(t, 3, latest.SourceCounts[model.SourceRssFeed])
			assert.Equal(t, 4, latest.CompanyCounts[model.CompanyAnthropic])
			assert.Equal(t, second.TrendingTopics, latest.TrendingTopics)
			assert.Equal(t, model.SnapshotTTL, latest.TTL)
		})
	}
}

func TestStore_CanceledContext(t *testing.T) {
	s := NewMemoryStore(Options{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := s.UpsertMany(ctx, []model.NewsItem{newsItem(model.SourceHackerNews, "hn-1", model.CompanyOther, 0)})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestMemoryStore_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(Options{})

	_, err := s.UpsertOne(ctx, newsItem(model.SourceHackerNews, "hn-1", model.CompanyOther, 0))
	require.NoError(t, err)

	items, err := s.GetItems(ctx, 1, 10, Filter{})
	require.NoError(t, err)
	items[0].Tags[0] = "mutated"
	items[0].Metadata["k"] = "mutated"

	items, err = s.GetItems(ctx, 1, 10, Filter{})
	require.NoError(t, err)
	assert.Equal(t, "claude", items[0].Tags[0])
	assert.Equal(t, "v", items[0].Metadata["k"])
}

func TestPageOf(t *testing.T) {
	items := make([]model.NewsItem, 5)

	assert.Len(t, pageOf(items, 1, 2), 2)
	assert.Len(t, pageOf(items, 3, 2), 1)
	assert.Empty(t, pageOf(items, 4, 2))
	assert.Len(t, pageOf(items, -3, 0), 5)
	assert.Empty(t, pageOf(nil, 1, 20))
	assert.Empty(t, pageOf(items, math.MaxInt64/50, 100))
	assert.Len(t, pageOf(items, 2, math.MaxInt64), 0)
	assert.Len(t, pageOf(items, 1, math.MaxInt64), 5)
}
