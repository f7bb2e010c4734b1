package model

import "time"

const (
	// DefaultPageSize is used when a caller passes a page size below 1.
	DefaultPageSize = 20
	// MaxFeedPageSize bounds the unified and RSS feeds.
	MaxFeedPageSize = 100
	// MaxSourcePageSize bounds the per-source HackerNews and GitHub listings.
	MaxSourcePageSize = 1000
)

// ClampPage normalizes pagination input: page < 1 becomes 1, pageSize < 1
// becomes DefaultPageSize and pageSize above max becomes max.
func ClampPage(page, pageSize, max int) (int, int) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = DefaultPageSize
	}
	if max > 0 && pageSize > max {
		pageSize = max
	}
	return page, pageSize
}

// PageBounds returns the [start, end) slice bounds of a 1-indexed page over n
// items. Pages past the end yield start == end == n. It never overflows, so
// any page number is safe.
func PageBounds(n, page, pageSize int) (int, int) {
	page, pageSize = ClampPage(page, pageSize, 0)
	if n == 0 || page-1 > (n-1)/pageSize {
		return n, n
	}
	start := (page - 1) * pageSize
	end := n
	if pageSize < end-start {
		end = start + pageSize
	}
	return start, end
}

// ItemView is the wire shape of a NewsItem.
type ItemView struct {
	ID          string            `json:"id"`
	ExternalID  string            `json:"externalId"`
	Source      Source            `json:"source"`
	Title       string            `json:"title"`
	URL         string            `json:"url"`
	Description *string           `json:"description"`
	Score       int               `json:"score"`
	Author      *string           `json:"author"`
	Company     Company           `json:"company"`
	Tags        []string          `json:"tags"`
	PublishedAt time.Time         `json:"publishedAt"`
	Metadata    map[string]string `json:"metadata"`
}

// View converts the item to its wire shape. Empty optional fields become null.
func (n NewsItem) View() ItemView {
	v := ItemView{
		ID:          n.ID,
		ExternalID:  n.ExternalID,
		Source:      n.Source,
		Title:       n.Title,
		URL:         n.URL,
		Score:       n.Score,
		Company:     n.Company,
		Tags:        n.Tags,
		PublishedAt: n.PublishedAt.UTC(),
		Metadata:    n.Metadata,
	}
	if n.Description != "" {
		d := n.Description
		v.Description = &d
	}
	if n.Author != "" {
		a := n.Author
		v.Author = &a
	}
	if v.Tags == nil {
		v.Tags = []string{}
	}
	if v.Metadata == nil {
		v.Metadata = map[string]string{}
	}
	return v
}

// Views converts a batch of items.
func Views(items []NewsItem) []ItemView {
	out := make([]ItemView, 0, len(items))
	for _, it := range items {
		out = append(out, it.View())
	}
	return out
}

// DashboardStats holds per-source counts and their sum.
type DashboardStats struct {
	HackerNewsCount    int `json:"hackerNewsCount"`
	GitHubReleaseCount int `json:"gitHubReleaseCount"`
	RssArticleCount    int `json:"rssArticleCount"`
	TotalCount         int `json:"totalCount"`
}

// CompanyBreakdown is the item count for one tracked company.
type CompanyBreakdown struct {
	Company   Company `json:"company"`
	ItemCount int     `json:"itemCount"`
}

// DashboardSummary is the dashboard landing payload.
type DashboardSummary struct {
	Stats           DashboardStats     `json:"stats"`
	Companies       []CompanyBreakdown `json:"companies"`
	TrendingTopics  []TrendingTopic    `json:"trendingTopics"`
	HotItems        []ItemView         `json:"hotItems"`
	LatestReleases  []ItemView         `json:"latestReleases"`
	LatestBlogPosts []ItemView         `json:"latestBlogPosts"`
	LastFetchedAt   *time.Time         `json:"lastFetchedAt"`
}

// PagedItems is one page of items plus the unpaged total.
type PagedItems struct {
	Items      []ItemView `json:"items"`
	TotalCount int        `json:"totalCount"`
	Page       int        `json:"page"`
	PageSize   int        `json:"pageSize"`
}

// CompanyCount is one bucket of a company distribution.
type CompanyCount struct {
	Company Company `json:"company"`
	Count   int     `json:"count"`
}

// SourceCount is one bucket of a source distribution.
type SourceCount struct {
	Source Source `json:"source"`
	Count  int    `json:"count"`
}

// Trends is the trends payload.
type Trends struct {
	Topics              []TrendingTopic `json:"topics"`
	CompanyDistribution []CompanyCount  `json:"companyDistribution"`
	SourceDistribution  []SourceCount   `json:"sourceDistribution"`
}
