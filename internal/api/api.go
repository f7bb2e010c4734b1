// Package api exposes the dashboard read models and the refresh trigger as
// JSON over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/abdulachik/aipulse/internal/aggregator"
	"github.com/abdulachik/aipulse/internal/model"
	"github.com/abdulachik/aipulse/internal/scheduler"
	"github.com/abdulachik/aipulse/internal/source"
)

const defaultRefreshTimeout = 10 * time.Minute

// Trigger starts an on-demand refresh cycle.
type Trigger interface {
	Trigger(ctx context.Context) (*aggregator.RefreshResult, error)
}

// Config holds the API dependencies.
type Config struct {
	Production     bool // Disables the refresh trigger
	Aggregator     *aggregator.Aggregator
	HackerNews     *source.HackerNews
	GitHub         *source.GitHubReleases
	RSS            *source.RSSFeeds
	Refresh        Trigger
	Health         *scheduler.Health
	RefreshTimeout time.Duration
}

// API serves the HTTP routes.
type API struct {
	production     bool
	agg            *aggregator.Aggregator
	hn             *source.HackerNews
	gh             *source.GitHubReleases
	rss            *source.RSSFeeds
	refresh        Trigger
	health         *scheduler.Health
	refreshTimeout time.Duration
	now            func() time.Time
}

// New creates the API.
func New(cfg Config) *API {
	a := &API{
		production:     cfg.Production,
		agg:            cfg.Aggregator,
		hn:             cfg.HackerNews,
		gh:             cfg.GitHub,
		rss:            cfg.RSS,
		refresh:        cfg.Refresh,
		health:         cfg.Health,
		refreshTimeout: cfg.RefreshTimeout,
		now:            func() time.Time { return time.Now().UTC() },
	}
	if a.health == nil {
		a.health = scheduler.NewHealth()
	}
	if a.refreshTimeout <= 0 {
		a.refreshTimeout = defaultRefreshTimeout
	}
	return a
}

// Routes returns the HTTP handler for every route.
func (a *API) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/dashboard", a.handleDashboard)
	mux.HandleFunc("GET /api/news", a.handleNews)
	mux.HandleFunc("GET /api/news/trends", a.handleTrends)
	mux.HandleFunc("POST /api/refresh", a.handleRefresh)

	mux.HandleFunc("GET /api/hackernews", a.handleHackerNews)
	mux.HandleFunc("GET /api/github/releases", a.handleReleases)
	mux.HandleFunc("GET /api/github/releases/{owner}/{repo}", a.handleRepoReleases)
	mux.HandleFunc("GET /api/rss", a.handleRSS)
	mux.HandleFunc("GET /api/rss/sources", a.handleRSSSources)

	mux.HandleFunc("GET /health", a.handleHealth)

	return a.withRecover(a.withLogging(a.withJSON(mux)))
}

func (a *API) handleDashboard(w http.ResponseWriter, r *http.Request) {
	summary, err := a.agg.GetDashboardSummary(r.Context())
	if err != nil {
		respondErr(w, http.StatusInternalServerError, err)
		return
	}
	respondJSON(w, http.StatusOK, summary)
}

func (a *API) handleNews(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, pageSize := pagination(r, model.MaxFeedPageSize)

	result, err := a.agg.GetUnifiedFeed(r.Context(), page, pageSize,
		model.Source(q.Get("source")), model.Company(q.Get("company")))
	if err != nil {
		respondErr(w, http.StatusInternalServerError, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

func (a *API) handleTrends(w http.ResponseWriter, r *http.Request) {
	trends, err := a.agg.GetTrends(r.Context())
	if err != nil {
		respondErr(w, http.StatusInternalServerError, err)
		return
	}
	respondJSON(w, http.StatusOK, trends)
}

func (a *API) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if a.production {
		respondErr(w, http.StatusForbidden, errors.New("refresh is disabled in production"))
		return
	}

	// Detached from the request so a client disconnect does not abandon
	// the cycle halfway.
	ctx, cancel := context.WithTimeout(context.Background(), a.refreshTimeout)
	defer cancel()

	result, err := a.refresh.Trigger(ctx)
	if err != nil {
		if errors.Is(err, scheduler.ErrRefreshInProgress) {
			respondErr(w, http.StatusConflict, err)
			return
		}
		respondErr(w, http.StatusInternalServerError, err)
		return
	}

	failed := make([]model.Source, 0, len(result.Errors))
	for _, src := range model.AllSources() {
		if _, ok := result.Errors[src]; ok {
			failed = append(failed, src)
		}
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"message":       "All sources refreshed",
		"fetched":       result.Fetched,
		"failedSources": failed,
		"durationMs":    result.Duration.Milliseconds(),
	})
}

func (a *API) handleHackerNews(w http.ResponseWriter, r *http.Request) {
	page, pageSize := pagination(r, model.MaxSourcePageSize)

	items, err := a.hn.GetCachedItems(r.Context(), page, pageSize)
	if err != nil {
		respondErr(w, http.StatusInternalServerError, err)
		return
	}
	total, err := a.hn.GetCachedCount(r.Context())
	if err != nil {
		respondErr(w, http.StatusInternalServerError, err)
		return
	}
	respondPage(w, items, total, page, pageSize)
}

func (a *API) handleReleases(w http.ResponseWriter, r *http.Request) {
	page, pageSize := pagination(r, model.MaxSourcePageSize)

	items, err := a.gh.GetCachedItems(r.Context(), page, pageSize)
	if err != nil {
		respondErr(w, http.StatusInternalServerError, err)
		return
	}
	total, err := a.gh.GetCachedCount(r.Context())
	if err != nil {
		respondErr(w, http.StatusInternalServerError, err)
		return
	}
	respondPage(w, items, total, page, pageSize)
}

func (a *API) handleRepoReleases(w http.ResponseWriter, r *http.Request) {
	owner, repo := r.PathValue("owner"), r.PathValue("repo")
	page, pageSize := pagination(r, model.MaxSourcePageSize)

	items, err := a.gh.GetCachedByRepo(r.Context(), owner, repo, page, pageSize)
	if err != nil {
		respondErr(w, http.StatusInternalServerError, err)
		return
	}
	total, err := a.gh.GetCachedByRepoCount(r.Context(), owner, repo)
	if err != nil {
		respondErr(w, http.StatusInternalServerError, err)
		return
	}
	respondPage(w, items, total, page, pageSize)
}

func (a *API) handleRSS(w http.ResponseWriter, r *http.Request) {
	feed := r.URL.Query().Get("source")
	page, pageSize := pagination(r, model.MaxFeedPageSize)

	items, err := a.rss.GetCachedItems(r.Context(), page, pageSize, feed)
	if err != nil {
		respondErr(w, http.StatusInternalServerError, err)
		return
	}
	total, err := a.rss.GetCachedCount(r.Context(), feed)
	if err != nil {
		respondErr(w, http.StatusInternalServerError, err)
		return
	}
	respondPage(w, items, total, page, pageSize)
}

func (a *API) handleRSSSources(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, a.rss.GetAvailableSources())
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	if !a.health.IsOverallHealthy() {
		status = "degraded"
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"status":     status,
		"timestamp":  a.now(),
		"components": a.health.Statuses(),
	})
}

// pagination reads page and pageSize from the query. Missing or malformed
// values are clamped like out-of-range ones.
func pagination(r *http.Request, max int) (int, int) {
	q := r.URL.Query()
	page, _ := strconv.Atoi(q.Get("page"))
	pageSize, _ := strconv.Atoi(q.Get("pageSize"))
	return model.ClampPage(page, pageSize, max)
}

func respondPage(w http.ResponseWriter, items []model.NewsItem, total, page, pageSize int) {
	respondJSON(w, http.StatusOK, model.PagedItems{
		Items:      model.Views(items),
		TotalCount: total,
		Page:       page,
		PageSize:   pageSize,
	})
}

func (a *API) withJSON(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		next.ServeHTTP(w, r)
	})
}

func (a *API) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		slog.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", time.Since(start),
		)
	})
}

func (a *API) withRecover(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rv := recover(); rv != nil {
				slog.Error("unhandled panic processing request",
					"method", r.Method,
					"path", r.URL.Path,
					"panic", rv,
				)
				w.Header().Set("Content-Type", "application/json; charset=utf-8")
				respondJSON(w, http.StatusInternalServerError, map[string]any{
					"error": "an unexpected error occurred",
				})
			}
		}()
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func respondJSON(w http.ResponseWriter, code int, payload any) {
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}

func respondErr(w http.ResponseWriter, code int, err error) {
	slog.Warn("request failed", "status", code, "error", err)
	respondJSON(w, code, map[string]any{"error": err.Error()})
}
