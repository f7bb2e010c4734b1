package source

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/abdulachik/aipulse/internal/classify"
	"github.com/abdulachik/aipulse/internal/model"
	"github.com/abdulachik/aipulse/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const anthropicFeed = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0">
  <channel>
    <title>Anthropic News</title>
    <item>
      <title>Introducing a new model</title>
      <link>https://www.anthropic.com/news/new-model</link>
      <description>&lt;p&gt;Our &lt;b&gt;latest&lt;/b&gt; model.&lt;/p&gt;</description>
      <pubDate>Mon, 02 Jun 2025 09:00:00 GMT</pubDate>
    </item>
    <item>
      <title>Company update</title>
      <link>https://www.anthropic.com/news/update</link>
    </item>
  </channel>
</rss>`

const techFeed = `<?xml version="1.0" encoding="UTF-8"?>
<feed xmlns="http://www.w3.org/2005/Atom">
  <title>Tech AI</title>
  <entry>
    <title>Gemini gets agentic features</title>
    <link href="https://tech.example.com/gemini"/>
    <id>tag:tech.example.com,2025:1</id>
    <updated>2025-06-01T08:00:00Z</updated>
    <published>2025-06-01T08:00:00Z</published>
    <summary>Google DeepMind ships an update.</summary>
    <author><name>Jane Reporter</name></author>
  </entry>
  <entry>
    <title>New phone review</title>
    <link href="https://tech.example.com/phone"/>
    <id>tag:tech.example.com,2025:2</id>
    <updated>2025-06-01T07:00:00Z</updated>
    <summary>Great battery life.</summary>
  </entry>
</feed>`

func newFeedServer(t *testing.T) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("/anthropic.xml", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/rss+xml")
		w.Write([]byte(anthropicFeed))
	})
	mux.HandleFunc("/tech.xml", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/atom+xml")
		w.Write([]byte(techFeed))
	})
	mux.HandleFunc("/broken.xml", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func testFeeds(baseURL string) []model.FeedSource {
	return []model.FeedSource{
		{Name: "Anthropic Blog", URL: baseURL + "/anthropic.xml", Company: model.CompanyAnthropic},
		{Name: "Broken Feed", URL: baseURL + "/broken.xml", Company: model.CompanyVarious, FilterRequired: true},
		{Name: "Tech AI", URL: baseURL + "/tech.xml", Company: model.CompanyVarious, FilterRequired: true},
	}
}

func TestRSSFeeds_FetchAllFeeds(t *testing.T) {
	server := newFeedServer(t)
	st := store.NewMemoryStore(store.Options{})
	r := NewRSSFeeds(st, RSSConfig{Feeds: testFeeds(server.URL)})

	before := time.Now().UTC()
	ctx := context.Background()
	items, err := r.FetchAllFeeds(ctx)
	require.NoError(t, err)

	// Both Anthropic entries (no filter), one Tech entry, nothing from the
	// broken feed.
	require.Len(t, items, 3)

	byTitle := make(map[string]model.NewsItem)
	for _, item := range items {
		byTitle[item.Title] = item
	}

	t.Run("fixed company feed", func(t *testing.T) {
		item := byTitle["Introducing a new model"]
		assert.Equal(t, model.SourceRssFeed, item.Source)
		assert.Equal(t, model.CompanyAnthropic, item.Company)
		assert.Equal(t, "https://www.anthropic.com/news/new-model", item.URL)
		assert.Equal(t, "Our latest model.", item.Description)
		assert.Equal(t, time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC), item.PublishedAt)
		assert.Equal(t, "rss-"+GenerateStableID(item.URL, item.Title), item.ExternalID)
		assert.Contains(t, item.Tags, "anthropic-blog")
		assert.Equal(t, "Anthropic Blog", item.Metadata["feedName"])
		assert.Equal(t, server.URL+"/anthropic.xml", item.Metadata["feedUrl"])
	})

	t.Run("missing publish date defaults to now", func(t *testing.T) {
		item := byTitle["Company update"]
		assert.False(t, item.PublishedAt.Before(before))
		assert.Empty(t, item.Description)
	})

	t.Run("various feed detects company", func(t *testing.T) {
		item := byTitle["Gemini gets agentic features"]
		assert.Equal(t, model.CompanyGoogle, item.Company)
		assert.Equal(t, "Jane Reporter", item.Author)
		assert.Equal(t, "https://tech.example.com/gemini", item.URL)
		assert.Contains(t, item.Tags, "gemini")
		assert.Contains(t, item.Tags, "agentic")
		assert.Equal(t, "tech-ai", item.Tags[len(item.Tags)-1])
	})

	t.Run("filtered entry is dropped", func(t *testing.T) {
		assert.NotContains(t, byTitle, "New phone review")
	})

	t.Run("cached by feed name", func(t *testing.T) {
		count, err := r.GetCachedCount(ctx, "")
		require.NoError(t, err)
		assert.Equal(t, 3, count)

		count, err = r.GetCachedCount(ctx, "Anthropic Blog")
		require.NoError(t, err)
		assert.Equal(t, 2, count)

		feedItems, err := r.GetCachedItems(ctx, 1, 10, "Tech AI")
		require.NoError(t, err)
		require.Len(t, feedItems, 1)
		assert.Equal(t, "Gemini gets agentic features", feedItems[0].Title)

		all, err := r.GetCachedItems(ctx, 1, 10, "")
		require.NoError(t, err)
		assert.Len(t, all, 3)
	})

	t.Run("refetch keeps identities", func(t *testing.T) {
		_, err := r.FetchAllFeeds(ctx)
		require.NoError(t, err)

		count, err := r.GetCachedCount(ctx, "")
		require.NoError(t, err)
		assert.Equal(t, 3, count)
	})
}

func TestRSSFeeds_GetAvailableSources(t *testing.T) {
	feeds := testFeeds("https://feeds.test")
	r := NewRSSFeeds(store.NewMemoryStore(store.Options{}), RSSConfig{Feeds: feeds})

	sources := r.GetAvailableSources()
	assert.Equal(t, feeds, sources)

	sources[0].Name = "changed"
	assert.Equal(t, "Anthropic Blog", r.GetAvailableSources()[0].Name)
}

func TestGenerateStableID(t *testing.T) {
	hex16 := regexp.MustCompile(`^[0-9a-f]{16}$`)

	a := GenerateStableID("https://example.com/post", "Title A")
	b := GenerateStableID("https://example.com/post", "Title B")
	assert.Equal(t, a, b)
	assert.Regexp(t, hex16, a)

	byTitle := GenerateStableID("", "Only a title")
	assert.Regexp(t, hex16, byTitle)
	assert.Equal(t, byTitle, GenerateStableID("", "Only a title"))
	assert.NotEqual(t, byTitle, GenerateStableID("", "Another title"))

	// sha256("") prefix
	assert.Equal(t, "e3b0c44298fc1c14", GenerateStableID("", ""))
}

func TestFeedTag(t *testing.T) {
	assert.Equal(t, "the-verge-ai", FeedTag("The Verge AI"))
	assert.Equal(t, "openai-blog", FeedTag(" OpenAI Blog "))
}

func TestStripHTML(t *testing.T) {
	tests := []struct {
		name     string
		in       string
		expected string
	}{
		{"empty", "", ""},
		{"plain", "Hello world", "Hello world"},
		{"markup", "<p>Hello <a href=\"x\">world</a></p>\n<p>again</p>", "Hello world again"},
		{"entities", "Fish &amp; chips", "Fish & chips"},
		{"adjacent blocks", "<p>New release from the lab.</p><ul><li>Better AI</li><li>agent support</li></ul>", "New release from the lab. Better AI agent support"},
		{"scripts dropped", "<p>Hi</p><script>var x = 1;</script><style>p{}</style>", "Hi"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, stripHTML(tt.in))
		})
	}

	t.Run("adjacent blocks still classify", func(t *testing.T) {
		text := stripHTML("<ul><li>Better AI</li><li>agent support</li></ul>")
		assert.True(t, classify.Default().MatchesAny(text))
	})
}

const labFeedTemplate = `<?xml version="1.0" encoding="UTF-8"?>
<feed xmlns="http://www.w3.org/2005/Atom">
  <title>Lab Notes</title>
  <entry>
    <title>Release notes</title>
    <link href="https://lab.example.com/release"/>
    <id>tag:lab.example.com,2025:1</id>
    <updated>2025-06-03T08:00:00Z</updated>
    <summary type="html">&lt;p&gt;New release from the lab.&lt;/p&gt;&lt;ul&gt;&lt;li&gt;Better AI&lt;/li&gt;&lt;li&gt;agent support&lt;/li&gt;&lt;/ul&gt;</summary>
  </entry>
  <entry>
    <title>Long read</title>
    <link href="https://lab.example.com/long"/>
    <id>tag:lab.example.com,2025:2</id>
    <updated>2025-06-02T08:00:00Z</updated>
    <summary type="html">&lt;p&gt;%s&lt;/p&gt;&lt;p&gt;Claude now supports MCP.&lt;/p&gt;</summary>
  </entry>
  <entry>
    <title>Gardening</title>
    <link href="https://lab.example.com/garden"/>
    <id>tag:lab.example.com,2025:3</id>
    <updated>2025-06-01T08:00:00Z</updated>
    <summary type="html">&lt;p&gt;Tomatoes&lt;/p&gt;</summary>
  </entry>
</feed>`

func TestRSSFeeds_ClassifiesFullText(t *testing.T) {
	body := fmt.Sprintf(labFeedTemplate, strings.Repeat("x", 600))
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/atom+xml")
		w.Write([]byte(body))
	}))
	t.Cleanup(server.Close)

	r := NewRSSFeeds(store.NewMemoryStore(store.Options{}), RSSConfig{
		Feeds: []model.FeedSource{
			{Name: "Lab Notes", URL: server.URL, Company: model.CompanyVarious, FilterRequired: true},
		},
	})

	items, err := r.FetchAllFeeds(context.Background())
	require.NoError(t, err)
	require.Len(t, items, 2)

	byTitle := make(map[string]model.NewsItem)
	for _, item := range items {
		byTitle[item.Title] = item
	}

	t.Run("words of adjacent elements stay apart", func(t *testing.T) {
		item, ok := byTitle["Release notes"]
		require.True(t, ok)
		assert.Equal(t, "New release from the lab. Better AI agent support", item.Description)
		assert.Contains(t, item.Tags, "ai agent")
	})

	t.Run("keywords past the description limit count", func(t *testing.T) {
		item, ok := byTitle["Long read"]
		require.True(t, ok)
		assert.Len(t, item.Description, 503)
		assert.True(t, strings.HasSuffix(item.Description, "..."))
		assert.NotContains(t, item.Description, "Claude")
		assert.Equal(t, model.CompanyAnthropic, item.Company)
		assert.Contains(t, item.Tags, "claude")
		assert.Contains(t, item.Tags, "mcp")
	})

	t.Run("irrelevant entry is dropped", func(t *testing.T) {
		assert.NotContains(t, byTitle, "Gardening")
	})
}
