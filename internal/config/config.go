package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Store backends.
const (
	BackendMemory   = "memory"
	BackendSQLite   = "sqlite"
	BackendDynamoDB = "dynamodb"
)

// Application environments.
const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

// Config holds all application configuration.
type Config struct {
	// Environment: "development" or "production"
	AppEnv string

	// Storage
	StoreBackend        string
	DatabasePath        string
	DynamoTable         string
	DynamoSnapshotTable string
	AWSRegion           string
	AWSEndpoint         string // Optional override, e.g. DynamoDB Local
	UpsertConcurrency   int

	// Valkey response cache (disabled when address is empty)
	ValkeyAddress  string
	ValkeyPassword string
	CacheTTL       time.Duration

	// GitHub
	GitHubToken string

	// Hacker News
	HNMaxStories int

	// Source catalog override (YAML)
	SourcesPath string

	// HTTP
	HTTPAddr string

	// Logging
	LogLevel  string
	LogFormat string // text, json or pretty

	// Scheduler settings
	RefreshInterval     time.Duration
	RefreshStartupDelay time.Duration
}

// Load reads configuration from environment variables.
// It automatically loads .env file if present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		AppEnv:              strings.ToLower(getEnv("APP_ENV", EnvDevelopment)),
		StoreBackend:        strings.ToLower(getEnv("STORE_BACKEND", BackendSQLite)),
		DatabasePath:        getEnv("DATABASE_PATH", "data/aipulse.db"),
		DynamoTable:         getEnv("DYNAMODB_TABLE", "NewsItems"),
		DynamoSnapshotTable: getEnv("DYNAMODB_SNAPSHOT_TABLE", "Snapshots"),
		AWSRegion:           getEnv("AWS_REGION", "us-west-2"),
		AWSEndpoint:         getEnv("AWS_ENDPOINT", ""),
		ValkeyAddress:       getEnv("VALKEY_ADDRESS", ""),
		ValkeyPassword:      getEnv("VALKEY_PASSWORD", ""),
		GitHubToken:         getEnv("GITHUB_TOKEN", ""),
		SourcesPath:         getEnv("SOURCES_PATH", ""),
		HTTPAddr:            getEnv("HTTP_ADDR", ":8080"),
		LogLevel:            getEnv("LOG_LEVEL", "info"),
		LogFormat:           getEnv("LOG_FORMAT", "text"),
	}

	var err error
	cfg.CacheTTL, err = time.ParseDuration(getEnv("CACHE_TTL", "2m"))
	if err != nil {
		return nil, fmt.Errorf("invalid CACHE_TTL: %w", err)
	}

	cfg.RefreshInterval, err = time.ParseDuration(getEnv("REFRESH_INTERVAL", "15m"))
	if err != nil {
		return nil, fmt.Errorf("invalid REFRESH_INTERVAL: %w", err)
	}

	cfg.RefreshStartupDelay, err = time.ParseDuration(getEnv("REFRESH_STARTUP_DELAY", "30s"))
	if err != nil {
		return nil, fmt.Errorf("invalid REFRESH_STARTUP_DELAY: %w", err)
	}

	cfg.HNMaxStories, err = strconv.Atoi(getEnv("HN_MAX_STORIES", "100"))
	if err != nil {
		return nil, fmt.Errorf("invalid HN_MAX_STORIES: %w", err)
	}

	cfg.UpsertConcurrency, err = strconv.Atoi(getEnv("UPSERT_CONCURRENCY", "10"))
	if err != nil {
		return nil, fmt.Errorf("invalid UPSERT_CONCURRENCY: %w", err)
	}

	return cfg, nil
}

// IsProduction reports whether the app runs in the production environment.
func (c *Config) IsProduction() bool {
	return c.AppEnv == EnvProduction
}

// CacheEnabled reports whether a Valkey address is configured.
func (c *Config) CacheEnabled() bool {
	return c.ValkeyAddress != ""
}

// Validate checks that the storage configuration is usable.
func (c *Config) Validate() error {
	switch c.AppEnv {
	case EnvDevelopment, EnvProduction:
	default:
		return fmt.Errorf("invalid APP_ENV: %s (must be 'development' or 'production')", c.AppEnv)
	}

	switch c.StoreBackend {
	case BackendMemory:
	case BackendSQLite:
		if c.DatabasePath == "" {
			return fmt.Errorf("DATABASE_PATH is required when STORE_BACKEND is sqlite")
		}
	case BackendDynamoDB:
		if c.DynamoTable == "" || c.DynamoSnapshotTable == "" {
			return fmt.Errorf("DYNAMODB_TABLE and DYNAMODB_SNAPSHOT_TABLE are required when STORE_BACKEND is dynamodb")
		}
		if c.AWSRegion == "" {
			return fmt.Errorf("AWS_REGION is required when STORE_BACKEND is dynamodb")
		}
	default:
		return fmt.Errorf("invalid STORE_BACKEND: %s (must be 'memory', 'sqlite' or 'dynamodb')", c.StoreBackend)
	}

	if c.UpsertConcurrency < 1 {
		return fmt.Errorf("UPSERT_CONCURRENCY must be at least 1")
	}
	return nil
}

// ValidateForRefresh checks configuration needed to fetch sources.
func (c *Config) ValidateForRefresh() error {
	if err := c.Validate(); err != nil {
		return err
	}
	if c.HNMaxStories < 1 {
		return fmt.Errorf("HN_MAX_STORIES must be at least 1")
	}
	return nil
}

// ValidateForServe checks all configuration needed for serve mode.
func (c *Config) ValidateForServe() error {
	if err := c.ValidateForRefresh(); err != nil {
		return err
	}
	if c.HTTPAddr == "" {
		return fmt.Errorf("HTTP_ADDR is required")
	}
	if c.RefreshInterval <= 0 {
		return fmt.Errorf("REFRESH_INTERVAL must be positive")
	}
	if c.CacheEnabled() && c.CacheTTL <= 0 {
		return fmt.Errorf("CACHE_TTL must be positive when VALKEY_ADDRESS is set")
	}
	return nil
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}
