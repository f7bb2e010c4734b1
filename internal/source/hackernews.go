package source

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/abdulachik/aipulse/internal/classify"
	"github.com/abdulachik/aipulse/internal/model"
	"github.com/abdulachik/aipulse/internal/store"
)

const (
	hnBaseURL        = "https://hacker-news.firebaseio.com/v0"
	hnTopStories     = "/topstories.json"
	hnItem           = "/item/%d.json"
	hnPermalink      = "https://news.ycombinator.com/item?id=%d"
	hnDefaultMax     = 100
	hnDefaultWorkers = 10
)

// HackerNewsConfig holds configuration for the Hacker News adapter.
type HackerNewsConfig struct {
	BaseURL    string // Defaults to the public Firebase API
	MaxStories int
	Workers    int // Concurrent story fetches
	HTTPClient *http.Client
	Classifier *classify.Classifier
}

// HackerNews ingests AI-related top stories from Hacker News.
type HackerNews struct {
	httpClient *http.Client
	baseURL    string
	maxStories int
	workers    int
	classifier *classify.Classifier
	store      store.Store
	now        func() time.Time
}

var _ Fetcher = (*HackerNews)(nil)

// NewHackerNews creates a new Hacker News adapter.
func NewHackerNews(st store.Store, cfg HackerNewsConfig) *HackerNews {
	h := &HackerNews{
		httpClient: cfg.HTTPClient,
		baseURL:    cfg.BaseURL,
		maxStories: cfg.MaxStories,
		workers:    cfg.Workers,
		classifier: cfg.Classifier,
		store:      st,
		now:        nowUTC,
	}
	if h.httpClient == nil {
		h.httpClient = newHTTPClient()
	}
	if h.baseURL == "" {
		h.baseURL = hnBaseURL
	}
	if h.maxStories <= 0 {
		h.maxStories = hnDefaultMax
	}
	if h.workers <= 0 {
		h.workers = hnDefaultWorkers
	}
	if h.classifier == nil {
		h.classifier = classify.Default()
	}
	return h
}

// Name returns the source this adapter produces.
func (h *HackerNews) Name() model.Source {
	return model.SourceHackerNews
}

// hnStory is an item from the Firebase API.
type hnStory struct {
	ID          int    `json:"id"`
	Title       string `json:"title"`
	URL         string `json:"url"`
	By          string `json:"by"`
	Score       int    `json:"score"`
	Descendants int    `json:"descendants"` // Comment count
	Time        int64  `json:"time"`
	Type        string `json:"type"`
}

// FetchAll fetches the configured number of top stories.
func (h *HackerNews) FetchAll(ctx context.Context) ([]model.NewsItem, error) {
	return h.FetchAndFilter(ctx, h.maxStories)
}

// FetchAndFilter fetches up to maxStories top stories, keeps the AI-related
// ones and upserts them. A failed story list fetch yields an empty batch.
func (h *HackerNews) FetchAndFilter(ctx context.Context, maxStories int) ([]model.NewsItem, error) {
	if maxStories <= 0 {
		maxStories = h.maxStories
	}

	ids, err := h.fetchTopStoryIDs(ctx)
	if err != nil {
		slog.Warn("failed to fetch HN top stories", "error", err)
		return []model.NewsItem{}, nil
	}

	if len(ids) > maxStories {
		ids = ids[:maxStories]
	}
	slog.Info("fetched HN top story ids", "count", len(ids))

	stories := h.fetchStories(ctx, ids)
	now := h.now()

	items := make([]model.NewsItem, 0)
	for _, story := range stories {
		if story == nil {
			continue
		}
		if story.Title == "" && story.URL == "" {
			continue
		}
		if !h.classifier.MatchesAny(story.Title) && !h.classifier.MatchesAny(story.URL) {
			continue
		}
		items = append(items, mapStory(*story, h.classifier, now))
	}

	slog.Info("filtered HN stories", "fetched", len(ids), "matched", len(items))

	if len(items) > 0 {
		if err := h.store.UpsertMany(ctx, items); err != nil {
			return items, fmt.Errorf("store HN stories: %w", err)
		}
	}
	return items, nil
}

// GetCachedItems returns stored Hacker News items, newest first.
func (h *HackerNews) GetCachedItems(ctx context.Context, page, pageSize int) ([]model.NewsItem, error) {
	return h.store.GetItems(ctx, page, pageSize, store.Filter{Source: model.SourceHackerNews})
}

// GetCachedCount returns the number of stored Hacker News items.
func (h *HackerNews) GetCachedCount(ctx context.Context) (int, error) {
	return h.store.GetCount(ctx, store.Filter{Source: model.SourceHackerNews})
}

// fetchStories fetches story details with at most h.workers requests in
// flight. Failed fetches leave a nil slot.
func (h *HackerNews) fetchStories(ctx context.Context, ids []int) []*hnStory {
	stories := make([]*hnStory, len(ids))
	sem := make(chan struct{}, h.workers)

	var wg sync.WaitGroup
	var mu sync.Mutex
	failed := 0

	for i, id := range ids {
		wg.Add(1)
		go func(idx int, storyID int) {
			defer wg.Done()

			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				return
			}
			defer func() { <-sem }()

			story, err := h.fetchStory(ctx, storyID)
			if err != nil {
				slog.Debug("failed to fetch HN story", "id", storyID, "error", err)
				mu.Lock()
				failed++
				mu.Unlock()
				return
			}
			stories[idx] = story
		}(i, id)
	}

	wg.Wait()

	if failed > 0 {
		slog.Warn("some HN stories failed to fetch", "failed", failed)
	}
	return stories
}

func (h *HackerNews) fetchTopStoryIDs(ctx context.Context) ([]int, error) {
	var ids []int
	if err := getJSON(ctx, h.httpClient, h.baseURL+hnTopStories, nil, &ids); err != nil {
		return nil, err
	}
	return ids, nil
}

func (h *HackerNews) fetchStory(ctx context.Context, id int) (*hnStory, error) {
	var story *hnStory
	if err := getJSON(ctx, h.httpClient, fmt.Sprintf(h.baseURL+hnItem, id), nil, &story); err != nil {
		return nil, err
	}
	// The API answers "null" for unknown ids.
	if story == nil {
		return nil, fmt.Errorf("item %d not found", id)
	}
	return story, nil
}

func mapStory(story hnStory, cls *classify.Classifier, now time.Time) model.NewsItem {
	permalink := fmt.Sprintf(hnPermalink, story.ID)
	combined := story.Title + " " + story.URL

	url := story.URL
	if url == "" {
		url = permalink
	}

	return model.NewsItem{
		ExternalID:  fmt.Sprintf("hn-%d", story.ID),
		Source:      model.SourceHackerNews,
		Title:       story.Title,
		URL:         url,
		Score:       story.Score,
		Author:      story.By,
		Company:     cls.DetectCompany(combined),
		Tags:        cls.MatchingTags(combined),
		PublishedAt: time.Unix(story.Time, 0).UTC(),
		FetchedAt:   now,
		Metadata: map[string]string{
			"commentCount": strconv.Itoa(story.Descendants),
			"hnUrl":        permalink,
		},
	}
}
