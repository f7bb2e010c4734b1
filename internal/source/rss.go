package source

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/mmcdole/gofeed"

	"github.com/abdulachik/aipulse/internal/classify"
	"github.com/abdulachik/aipulse/internal/model"
	"github.com/abdulachik/aipulse/internal/store"
)

const rssDescriptionLimit = 500

// RSSConfig holds configuration for the RSS adapter.
type RSSConfig struct {
	Feeds      []model.FeedSource
	UserAgent  string
	HTTPClient *http.Client
	Classifier *classify.Classifier
}

// RSSFeeds ingests entries of the tracked RSS and Atom feeds.
type RSSFeeds struct {
	parser     *gofeed.Parser
	feeds      []model.FeedSource
	classifier *classify.Classifier
	store      store.Store
	now        func() time.Time
}

var _ Fetcher = (*RSSFeeds)(nil)

// NewRSSFeeds creates a new RSS adapter.
func NewRSSFeeds(st store.Store, cfg RSSConfig) *RSSFeeds {
	parser := gofeed.NewParser()
	parser.Client = cfg.HTTPClient
	if parser.Client == nil {
		parser.Client = newHTTPClient()
	}
	parser.UserAgent = cfg.UserAgent
	if parser.UserAgent == "" {
		parser.UserAgent = defaultUserAgent
	}

	cls := cfg.Classifier
	if cls == nil {
		cls = classify.Default()
	}

	return &RSSFeeds{
		parser:     parser,
		feeds:      cfg.Feeds,
		classifier: cls,
		store:      st,
		now:        nowUTC,
	}
}

// Name returns the source this adapter produces.
func (r *RSSFeeds) Name() model.Source {
	return model.SourceRssFeed
}

// FetchAll fetches every tracked feed.
func (r *RSSFeeds) FetchAll(ctx context.Context) ([]model.NewsItem, error) {
	return r.FetchAllFeeds(ctx)
}

// FetchAllFeeds fetches and parses every tracked feed and upserts the
// entries. A failing feed is logged and skipped.
func (r *RSSFeeds) FetchAllFeeds(ctx context.Context) ([]model.NewsItem, error) {
	slog.Info("fetching RSS feeds", "feeds", len(r.feeds))

	items := make([]model.NewsItem, 0)
	for _, feed := range r.feeds {
		if ctx.Err() != nil {
			break
		}

		entries, err := r.fetchFeed(ctx, feed)
		if err != nil {
			slog.Warn("failed to fetch RSS feed",
				"feed", feed.Name,
				"error", err,
			)
			continue
		}
		items = append(items, entries...)
	}

	slog.Info("fetched RSS items", "count", len(items))

	if len(items) > 0 {
		if err := r.store.UpsertMany(ctx, items); err != nil {
			return items, fmt.Errorf("store RSS items: %w", err)
		}
	}
	return items, nil
}

// GetCachedItems returns stored RSS items, newest first. A non-empty feedName
// restricts the result to that feed, scanning only the 500 most recent items.
func (r *RSSFeeds) GetCachedItems(ctx context.Context, page, pageSize int, feedName string) ([]model.NewsItem, error) {
	if feedName != "" {
		items, _, err := filterByMetadata(ctx, r.store, model.SourceRssFeed, "feedName", feedName, page, pageSize)
		return items, err
	}
	return r.store.GetItems(ctx, page, pageSize, store.Filter{Source: model.SourceRssFeed})
}

// GetCachedCount counts stored RSS items, optionally of a single feed.
func (r *RSSFeeds) GetCachedCount(ctx context.Context, feedName string) (int, error) {
	if feedName != "" {
		_, count, err := filterByMetadata(ctx, r.store, model.SourceRssFeed, "feedName", feedName, 1, 1)
		return count, err
	}
	return r.store.GetCount(ctx, store.Filter{Source: model.SourceRssFeed})
}

// GetAvailableSources describes the tracked feeds.
func (r *RSSFeeds) GetAvailableSources() []model.FeedSource {
	return append([]model.FeedSource(nil), r.feeds...)
}

func (r *RSSFeeds) fetchFeed(ctx context.Context, feed model.FeedSource) ([]model.NewsItem, error) {
	slog.Debug("fetching RSS feed", "feed", feed.Name)

	parsed, err := r.parser.ParseURLWithContext(feed.URL, ctx)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", feed.Name, err)
	}

	now := r.now()
	items := make([]model.NewsItem, 0, len(parsed.Items))
	for _, entry := range parsed.Items {
		if entry == nil {
			continue
		}

		text := entryText(entry)
		if feed.FilterRequired &&
			!r.classifier.MatchesAny(entry.Title) &&
			!r.classifier.MatchesAny(text) {
			continue
		}
		items = append(items, mapEntry(entry, text, feed, r.classifier, now))
	}

	slog.Debug("parsed RSS feed", "feed", feed.Name, "entries", len(parsed.Items), "kept", len(items))
	return items, nil
}

// entryText returns the entry summary, or its content when the summary is
// empty, as plain text.
func entryText(entry *gofeed.Item) string {
	summary := entry.Description
	if summary == "" {
		summary = entry.Content
	}
	return stripHTML(summary)
}

// mapEntry builds the item. Classification runs over the title and the full
// text; only the stored description is truncated.
func mapEntry(entry *gofeed.Item, text string, feed model.FeedSource, cls *classify.Classifier, now time.Time) model.NewsItem {
	title := strings.TrimSpace(entry.Title)
	link := strings.TrimSpace(entry.Link)
	if link == "" && len(entry.Links) > 0 {
		link = strings.TrimSpace(entry.Links[0])
	}

	description := truncate(text, rssDescriptionLimit)
	combined := title + " " + text

	company := feed.Company
	if company == model.CompanyVarious || company == "" {
		company = cls.DetectCompany(combined)
	}

	var author string
	if len(entry.Authors) > 0 && entry.Authors[0] != nil {
		author = entry.Authors[0].Name
	}

	published := now
	if entry.PublishedParsed != nil {
		published = entry.PublishedParsed.UTC()
	} else if entry.UpdatedParsed != nil {
		published = entry.UpdatedParsed.UTC()
	}

	return model.NewsItem{
		ExternalID:  "rss-" + GenerateStableID(link, title),
		Source:      model.SourceRssFeed,
		Title:       title,
		URL:         link,
		Description: description,
		Author:      author,
		Company:     company,
		Tags:        model.MergeTags(cls.MatchingTags(combined), FeedTag(feed.Name)),
		PublishedAt: published,
		FetchedAt:   now,
		Metadata: map[string]string{
			"feedName": feed.Name,
			"feedUrl":  feed.URL,
		},
	}
}

// GenerateStableID derives a 16 hex character id from the entry link, or from
// the title when the link is empty.
func GenerateStableID(url, title string) string {
	input := url
	if input == "" {
		input = title
	}
	sum := sha256.Sum256([]byte(input))
	return hex.EncodeToString(sum[:8])
}

// FeedTag turns a feed name into a tag: lowercase, spaces to hyphens.
func FeedTag(name string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(name)), " ", "-")
}

// stripHTML returns the text nodes of an HTML fragment joined by single
// spaces, so adjacent elements never run their words together.
func stripHTML(html string) string {
	if strings.TrimSpace(html) == "" {
		return ""
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return strings.Join(strings.Fields(html), " ")
	}

	var parts []string
	var walk func(*goquery.Selection)
	walk = func(sel *goquery.Selection) {
		sel.Contents().Each(func(_ int, node *goquery.Selection) {
			switch goquery.NodeName(node) {
			case "#text":
				parts = append(parts, node.Text())
			case "script", "style":
			default:
				walk(node)
			}
		})
	}
	walk(doc.Selection)

	return strings.Join(strings.Fields(strings.Join(parts, " ")), " ")
}
