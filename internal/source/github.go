package source

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/abdulachik/aipulse/internal/classify"
	"github.com/abdulachik/aipulse/internal/model"
	"github.com/abdulachik/aipulse/internal/store"
)

const (
	githubBaseURL        = "https://api.github.com"
	githubReleases       = "/repos/%s/%s/releases?per_page=%d"
	githubDefaultPerPage = 10
	githubBodyLimit      = 1000
)

// GitHubConfig holds configuration for the GitHub releases adapter.
type GitHubConfig struct {
	BaseURL    string
	Token      string // Optional; raises the API rate limit
	Repos      []model.TrackedRepo
	PerPage    int
	UserAgent  string
	HTTPClient *http.Client
	Classifier *classify.Classifier
}

// GitHubReleases ingests releases of the tracked repositories.
type GitHubReleases struct {
	httpClient *http.Client
	baseURL    string
	repos      []model.TrackedRepo
	perPage    int
	header     http.Header
	classifier *classify.Classifier
	store      store.Store
	now        func() time.Time
}

var _ Fetcher = (*GitHubReleases)(nil)

// NewGitHubReleases creates a new GitHub releases adapter. When a token is
// configured requests are authenticated through an oauth2 static token source.
func NewGitHubReleases(st store.Store, cfg GitHubConfig) *GitHubReleases {
	g := &GitHubReleases{
		httpClient: cfg.HTTPClient,
		baseURL:    strings.TrimSuffix(cfg.BaseURL, "/"),
		repos:      cfg.Repos,
		perPage:    cfg.PerPage,
		classifier: cfg.Classifier,
		store:      st,
		now:        nowUTC,
	}
	if g.httpClient == nil {
		g.httpClient = newHTTPClient()
	}
	if cfg.Token != "" {
		base := g.httpClient
		ctx := context.WithValue(context.Background(), oauth2.HTTPClient, base)
		g.httpClient = oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.Token}))
		g.httpClient.Timeout = base.Timeout
	}
	if g.baseURL == "" {
		g.baseURL = githubBaseURL
	}
	if g.perPage <= 0 {
		g.perPage = githubDefaultPerPage
	}
	if g.classifier == nil {
		g.classifier = classify.Default()
	}

	userAgent := cfg.UserAgent
	if userAgent == "" {
		userAgent = defaultUserAgent
	}
	g.header = http.Header{
		"User-Agent": {userAgent},
		"Accept":     {"application/vnd.github+json"},
	}
	return g
}

// Name returns the source this adapter produces.
func (g *GitHubReleases) Name() model.Source {
	return model.SourceGitHubRelease
}

// Repos returns the tracked repositories.
func (g *GitHubReleases) Repos() []model.TrackedRepo {
	return append([]model.TrackedRepo(nil), g.repos...)
}

type ghRelease struct {
	ID          int64      `json:"id"`
	TagName     string     `json:"tag_name"`
	Name        string     `json:"name"`
	Body        string     `json:"body"`
	HTMLURL     string     `json:"html_url"`
	PublishedAt *time.Time `json:"published_at"`
	CreatedAt   time.Time  `json:"created_at"`
	Prerelease  bool       `json:"prerelease"`
	Author      *struct {
		Login string `json:"login"`
	} `json:"author"`
}

// FetchAll fetches releases of every tracked repository.
func (g *GitHubReleases) FetchAll(ctx context.Context) ([]model.NewsItem, error) {
	return g.FetchAllReleases(ctx)
}

// FetchAllReleases fetches recent releases of every tracked repository and
// upserts them. A failing repository is logged and skipped.
func (g *GitHubReleases) FetchAllReleases(ctx context.Context) ([]model.NewsItem, error) {
	slog.Info("fetching releases for tracked repos", "repos", len(g.repos))

	items := make([]model.NewsItem, 0)
	for _, repo := range g.repos {
		if ctx.Err() != nil {
			break
		}

		releases, err := g.fetchRepo(ctx, repo)
		if err != nil {
			slog.Warn("failed to fetch releases",
				"repo", repo.FullName(),
				"error", err,
			)
			continue
		}
		items = append(items, releases...)
	}

	slog.Info("fetched releases", "count", len(items))

	if len(items) > 0 {
		if err := g.store.UpsertMany(ctx, items); err != nil {
			return items, fmt.Errorf("store releases: %w", err)
		}
	}
	return items, nil
}

// FetchReleasesForRepo fetches releases of a single repository without
// storing them. Untracked repositories are attributed to CompanyOther.
func (g *GitHubReleases) FetchReleasesForRepo(ctx context.Context, owner, repo string) ([]model.NewsItem, error) {
	target := model.TrackedRepo{Owner: owner, Repo: repo, Company: model.CompanyOther}
	for _, r := range g.repos {
		if r.Owner == owner && r.Repo == repo {
			target = r
			break
		}
	}
	return g.fetchRepo(ctx, target)
}

// GetCachedItems returns stored releases, newest first.
func (g *GitHubReleases) GetCachedItems(ctx context.Context, page, pageSize int) ([]model.NewsItem, error) {
	return g.store.GetItems(ctx, page, pageSize, store.Filter{Source: model.SourceGitHubRelease})
}

// GetCachedCount returns the number of stored releases.
func (g *GitHubReleases) GetCachedCount(ctx context.Context) (int, error) {
	return g.store.GetCount(ctx, store.Filter{Source: model.SourceGitHubRelease})
}

// GetCachedByRepo returns one page of stored releases of owner/repo. Only the
// 500 most recent releases across all repositories are considered.
func (g *GitHubReleases) GetCachedByRepo(ctx context.Context, owner, repo string, page, pageSize int) ([]model.NewsItem, error) {
	items, _, err := filterByMetadata(ctx, g.store, model.SourceGitHubRelease, "repoFullName", owner+"/"+repo, page, pageSize)
	return items, err
}

// GetCachedByRepoCount counts stored releases of owner/repo within the same
// window as GetCachedByRepo.
func (g *GitHubReleases) GetCachedByRepoCount(ctx context.Context, owner, repo string) (int, error) {
	_, count, err := filterByMetadata(ctx, g.store, model.SourceGitHubRelease, "repoFullName", owner+"/"+repo, 1, 1)
	return count, err
}

func (g *GitHubReleases) fetchRepo(ctx context.Context, repo model.TrackedRepo) ([]model.NewsItem, error) {
	slog.Debug("fetching releases", "repo", repo.FullName())

	url := g.baseURL + fmt.Sprintf(githubReleases, repo.Owner, repo.Repo, g.perPage)

	var releases []ghRelease
	if err := getJSON(ctx, g.httpClient, url, g.header, &releases); err != nil {
		return nil, err
	}

	now := g.now()
	items := make([]model.NewsItem, 0, len(releases))
	for _, r := range releases {
		items = append(items, mapRelease(r, repo, g.classifier, now))
	}
	return items, nil
}

func mapRelease(r ghRelease, repo model.TrackedRepo, cls *classify.Classifier, now time.Time) model.NewsItem {
	fullName := repo.FullName()

	title := r.Name
	if strings.TrimSpace(title) == "" {
		title = repo.Repo + " " + r.TagName
	}

	author := repo.Owner
	if r.Author != nil && r.Author.Login != "" {
		author = r.Author.Login
	}

	var description string
	if r.Body != "" {
		description = truncate(r.Body, githubBodyLimit)
	}

	// Drafts have no publish date.
	published := r.CreatedAt
	if r.PublishedAt != nil {
		published = *r.PublishedAt
	}

	tags := model.MergeTags([]string{repo.Repo, "release", "cli"}, cls.MatchingTags(title+" "+r.Body)...)

	return model.NewsItem{
		ExternalID:  fullName + "@" + r.TagName,
		Source:      model.SourceGitHubRelease,
		Title:       title,
		URL:         r.HTMLURL,
		Description: description,
		Author:      author,
		Company:     repo.Company,
		Tags:        tags,
		PublishedAt: published.UTC(),
		FetchedAt:   now,
		Metadata: map[string]string{
			"version":      strings.TrimPrefix(r.TagName, "v"),
			"repoFullName": fullName,
			"isPreRelease": fmt.Sprintf("%t", r.Prerelease),
		},
	}
}
