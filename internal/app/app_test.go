package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/abdulachik/aipulse/internal/cache"
	"github.com/abdulachik/aipulse/internal/config"
	"github.com/abdulachik/aipulse/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T, backend string) *config.Config {
	t.Helper()
	return &config.Config{
		AppEnv:            config.EnvDevelopment,
		StoreBackend:      backend,
		DatabasePath:      filepath.Join(t.TempDir(), "aipulse.db"),
		UpsertConcurrency: 4,
		HNMaxStories:      10,
		HTTPAddr:          ":0",
	}
}

func TestNew_MemoryBackend(t *testing.T) {
	a, err := New(context.Background(), testConfig(t, config.BackendMemory))
	require.NoError(t, err)
	defer a.Close()

	assert.IsType(t, &store.MemoryStore{}, a.Store)
	assert.IsType(t, cache.Noop{}, a.Cache)
	assert.NotEmpty(t, a.Catalog.Repos)
	assert.NotEmpty(t, a.Catalog.Feeds)
	assert.Equal(t, a.Catalog.Feeds, a.RSS.GetAvailableSources())
	assert.Len(t, a.GitHub.Repos(), len(a.Catalog.Repos))

	status, ok := a.Health.Status("store")
	require.True(t, ok)
	assert.True(t, status.Healthy)
}

func TestNew_SQLiteBackend(t *testing.T) {
	cfg := testConfig(t, config.BackendSQLite)

	a, err := New(context.Background(), cfg)
	require.NoError(t, err)
	defer a.Close()

	assert.IsType(t, &store.SQLiteStore{}, a.Store)
	assert.FileExists(t, cfg.DatabasePath)
}

func TestNew_BadSourcesPath(t *testing.T) {
	cfg := testConfig(t, config.BackendMemory)
	cfg.SourcesPath = filepath.Join(t.TempDir(), "missing.yaml")

	_, err := New(context.Background(), cfg)
	assert.Error(t, err)
}

func TestOpenStore_UnknownBackend(t *testing.T) {
	_, err := OpenStore(context.Background(), testConfig(t, "postgres"))
	assert.Error(t, err)
}

func TestNew_UnreachableCacheDegrades(t *testing.T) {
	cfg := testConfig(t, config.BackendMemory)
	cfg.ValkeyAddress = "127.0.0.1:1"

	a, err := New(context.Background(), cfg)
	require.NoError(t, err)
	defer a.Close()

	assert.IsType(t, cache.Noop{}, a.Cache)
	status, ok := a.Health.Status("cache")
	require.True(t, ok)
	assert.False(t, status.Healthy)
}

func TestHandler(t *testing.T) {
	a, err := New(context.Background(), testConfig(t, config.BackendMemory))
	require.NoError(t, err)
	defer a.Close()

	rec := httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/dashboard", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}
