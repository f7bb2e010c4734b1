// Package app wires configuration, storage, sources and the read models
// into one container shared by the commands.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/abdulachik/aipulse/internal/aggregator"
	"github.com/abdulachik/aipulse/internal/api"
	"github.com/abdulachik/aipulse/internal/cache"
	"github.com/abdulachik/aipulse/internal/classify"
	"github.com/abdulachik/aipulse/internal/config"
	"github.com/abdulachik/aipulse/internal/scheduler"
	"github.com/abdulachik/aipulse/internal/source"
	"github.com/abdulachik/aipulse/internal/store"
)

// App is the main application container holding all dependencies.
type App struct {
	Config     *config.Config
	Catalog    *config.Catalog
	Store      store.Store
	Cache      cache.Cache
	HackerNews *source.HackerNews
	GitHub     *source.GitHubReleases
	RSS        *source.RSSFeeds
	Aggregator *aggregator.Aggregator
	Scheduler  *scheduler.Scheduler
	Health     *scheduler.Health
}

// New creates a new application instance with all dependencies wired up.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	catalog, err := config.LoadCatalog(cfg.SourcesPath)
	if err != nil {
		return nil, fmt.Errorf("load sources: %w", err)
	}

	st, err := OpenStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	health := scheduler.NewHealth()
	health.SetHealthy("store", cfg.StoreBackend)

	c := openCache(ctx, cfg, health)
	classifier := classify.Default()

	hn := source.NewHackerNews(st, source.HackerNewsConfig{
		MaxStories: cfg.HNMaxStories,
		Classifier: classifier,
	})
	gh := source.NewGitHubReleases(st, source.GitHubConfig{
		Token:      cfg.GitHubToken,
		Repos:      catalog.Repos,
		Classifier: classifier,
	})
	rss := source.NewRSSFeeds(st, source.RSSConfig{
		Feeds:      catalog.Feeds,
		Classifier: classifier,
	})

	agg := aggregator.New(aggregator.Config{
		Store:    st,
		Fetchers: []source.Fetcher{hn, gh, rss},
		Cache:    c,
		CacheTTL: cfg.CacheTTL,
	})

	sched := scheduler.New(scheduler.Config{
		Refresher:    agg,
		Interval:     cfg.RefreshInterval,
		StartupDelay: cfg.RefreshStartupDelay,
		Health:       health,
	})

	slog.Debug("application wired",
		"store", cfg.StoreBackend,
		"cache", cfg.CacheEnabled(),
		"repos", len(catalog.Repos),
		"feeds", len(catalog.Feeds),
	)

	return &App{
		Config:     cfg,
		Catalog:    catalog,
		Store:      st,
		Cache:      c,
		HackerNews: hn,
		GitHub:     gh,
		RSS:        rss,
		Aggregator: agg,
		Scheduler:  sched,
		Health:     health,
	}, nil
}

// OpenStore opens the configured store backend. The sqlite backend is
// migrated before it is returned.
func OpenStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	opts := store.Options{UpsertConcurrency: cfg.UpsertConcurrency}

	switch cfg.StoreBackend {
	case config.BackendMemory:
		slog.Info("using in-memory store")
		return store.NewMemoryStore(opts), nil

	case config.BackendSQLite:
		slog.Info("connecting to database", "path", cfg.DatabasePath)
		st, err := store.NewSQLiteStore(ctx, cfg.DatabasePath, opts)
		if err != nil {
			return nil, fmt.Errorf("connect to database: %w", err)
		}
		if err := st.Migrate(ctx); err != nil {
			st.Close()
			return nil, fmt.Errorf("run migrations: %w", err)
		}
		return st, nil

	case config.BackendDynamoDB:
		slog.Info("connecting to DynamoDB",
			"region", cfg.AWSRegion,
			"table", cfg.DynamoTable,
			"snapshot_table", cfg.DynamoSnapshotTable,
		)
		client, err := store.NewDynamoClient(ctx, cfg.AWSRegion, cfg.AWSEndpoint)
		if err != nil {
			return nil, fmt.Errorf("connect to DynamoDB: %w", err)
		}
		return store.NewDynamoStore(client, store.DynamoConfig{
			ItemsTable:    cfg.DynamoTable,
			SnapshotTable: cfg.DynamoSnapshotTable,
			Options:       opts,
		}), nil
	}

	return nil, fmt.Errorf("unknown store backend: %s", cfg.StoreBackend)
}

// openCache connects to Valkey when configured. An unreachable cache
// degrades to no caching instead of failing startup.
func openCache(ctx context.Context, cfg *config.Config, health *scheduler.Health) cache.Cache {
	if !cfg.CacheEnabled() {
		return cache.Noop{}
	}

	c, err := cache.NewValkey(ctx, cache.ValkeyConfig{
		Address:  cfg.ValkeyAddress,
		Password: cfg.ValkeyPassword,
	})
	if err != nil {
		slog.Warn("valkey unavailable, caching disabled",
			"address", cfg.ValkeyAddress,
			"error", err,
		)
		health.SetUnhealthy("cache", err)
		return cache.Noop{}
	}

	health.SetHealthy("cache", cfg.ValkeyAddress)
	return c
}

// Handler returns the HTTP handler serving the API.
func (a *App) Handler() http.Handler {
	return api.New(api.Config{
		Production: a.Config.IsProduction(),
		Aggregator: a.Aggregator,
		HackerNews: a.HackerNews,
		GitHub:     a.GitHub,
		RSS:        a.RSS,
		Refresh:    a.Scheduler,
		Health:     a.Health,
	}).Routes()
}

// Close closes all resources.
func (a *App) Close() error {
	var errs []error
	if a.Cache != nil {
		a.Cache.Close()
	}
	if a.Store != nil {
		if err := a.Store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close store: %w", err))
		}
	}
	return errors.Join(errs...)
}
