// Package model defines the unified news item, trend snapshot and the
// response shapes served to the dashboard.
package model

import (
	"time"
)

// Source identifies where an item came from. It partitions the store.
type Source string

const (
	SourceHackerNews    Source = "HackerNews"
	SourceGitHubRelease Source = "GitHubRelease"
	SourceRssFeed       Source = "RssFeed"
)

// AllSources returns every known source in canonical order.
func AllSources() []Source {
	return []Source{SourceHackerNews, SourceGitHubRelease, SourceRssFeed}
}

// Valid reports whether s is a known source.
func (s Source) Valid() bool {
	for _, known := range AllSources() {
		if s == known {
			return true
		}
	}
	return false
}

// Company is the derived attribution of an item. It is an open string value so
// new companies only need a classifier entry.
type Company string

const (
	CompanyAnthropic Company = "Anthropic"
	CompanyOpenAI    Company = "OpenAI"
	CompanyGoogle    Company = "Google"
	// CompanyBoth marks text attributed to two or more companies at once.
	CompanyBoth  Company = "Both"
	CompanyOther Company = "Other"
	// CompanyVarious is only used by feed configuration: detect per item.
	CompanyVarious Company = "Various"
)

// TrackedCompanies are the companies broken out on the dashboard.
func TrackedCompanies() []Company {
	return []Company{CompanyAnthropic, CompanyOpenAI, CompanyGoogle}
}

const (
	// ItemTTL is the retention window for news items, in seconds (14 days).
	ItemTTL = 1_209_600
	// SnapshotTTL is the retention window for trend snapshots, in seconds (30 days).
	SnapshotTTL = 2_592_000
)

// NewsItem is one piece of content from any source.
// The pair (ExternalID, Source) is its natural key.
type NewsItem struct {
	ID          string            `json:"id"`
	ExternalID  string            `json:"externalId"`
	Source      Source            `json:"source"`
	Title       string            `json:"title"`
	URL         string            `json:"url"`
	Description string            `json:"description,omitempty"`
	Score       int               `json:"score"`
	Author      string            `json:"author,omitempty"`
	Company     Company           `json:"company"`
	Tags        []string          `json:"tags"`
	PublishedAt time.Time         `json:"publishedAt"`
	FetchedAt   time.Time         `json:"fetchedAt"`
	Metadata    map[string]string `json:"metadata"`
	TTL         int               `json:"ttl"`
}

// Key returns the natural key used for deduplication.
func (n NewsItem) Key() string {
	return string(n.Source) + "|" + n.ExternalID
}

// Clone returns a deep copy so callers cannot mutate stored state.
func (n NewsItem) Clone() NewsItem {
	out := n
	if n.Tags != nil {
		out.Tags = append([]string(nil), n.Tags...)
	}
	if n.Metadata != nil {
		out.Metadata = make(map[string]string, len(n.Metadata))
		for k, v := range n.Metadata {
			out.Metadata[k] = v
		}
	}
	return out
}

// MergeTags appends tags that are not already present, keeping first-seen order.
func MergeTags(base []string, extra ...string) []string {
	seen := make(map[string]struct{}, len(base)+len(extra))
	out := make([]string, 0, len(base)+len(extra))
	for _, group := range [][]string{base, extra} {
		for _, t := range group {
			if t == "" {
				continue
			}
			if _, ok := seen[t]; ok {
				continue
			}
			seen[t] = struct{}{}
			out = append(out, t)
		}
	}
	return out
}

// TrendingTopic is a tag with its mention count across a window of items.
type TrendingTopic struct {
	Topic        string `json:"topic"`
	MentionCount int    `json:"mentionCount"`
}

// TrendSnapshot is a point-in-time rollup written at the end of each refresh.
type TrendSnapshot struct {
	ID             string          `json:"id"`
	Timestamp      time.Time       `json:"timestamp"`
	SourceCounts   map[Source]int  `json:"sourceCounts"`
	CompanyCounts  map[Company]int `json:"companyCounts"`
	TrendingTopics []TrendingTopic `json:"trendingTopics"`
	TTL            int             `json:"ttl"`
}

// Clone returns a deep copy of the snapshot.
func (s TrendSnapshot) Clone() TrendSnapshot {
	out := s
	if s.SourceCounts != nil {
		out.SourceCounts = make(map[Source]int, len(s.SourceCounts))
		for k, v := range s.SourceCounts {
			out.SourceCounts[k] = v
		}
	}
	if s.CompanyCounts != nil {
		out.CompanyCounts = make(map[Company]int, len(s.CompanyCounts))
		for k, v := range s.CompanyCounts {
			out.CompanyCounts[k] = v
		}
	}
	if s.TrendingTopics != nil {
		out.TrendingTopics = append([]TrendingTopic(nil), s.TrendingTopics...)
	}
	return out
}

// TrackedRepo is a GitHub repository whose releases are ingested.
type TrackedRepo struct {
	Owner   string  `yaml:"owner" json:"owner"`
	Repo    string  `yaml:"repo" json:"repo"`
	Company Company `yaml:"company" json:"company"`
}

// FullName returns "owner/repo".
func (r TrackedRepo) FullName() string {
	return r.Owner + "/" + r.Repo
}

// FeedSource describes one tracked RSS/Atom feed.
type FeedSource struct {
	Name           string  `yaml:"name" json:"name"`
	URL            string  `yaml:"url" json:"url"`
	Company        Company `yaml:"company" json:"company"`
	FilterRequired bool    `yaml:"filterRequired" json:"filterRequired"`
}
