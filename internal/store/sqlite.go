package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	_ "modernc.org/sqlite"

	"github.com/abdulachik/aipulse/internal/model"
	"github.com/abdulachik/aipulse/internal/store/migrations"
)

// SQLiteStore keeps items as JSON documents in a local SQLite database.
// Filter and sort columns are lifted out of the document.
type SQLiteStore struct {
	db   *sql.DB
	opts Options
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore opens (creating if needed) the database at dbPath.
// Call Migrate before first use.
func NewSQLiteStore(ctx context.Context, dbPath string, opts Options) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	sqlDB, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// One connection serializes writers; concurrent upserts queue here.
	sqlDB.SetMaxOpenConns(1)

	if _, err := sqlDB.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}
	if _, err := sqlDB.ExecContext(ctx, "PRAGMA busy_timeout=5000"); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	return &SQLiteStore{db: sqlDB, opts: opts}, nil
}

// Migrate runs all pending database migrations.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	slog.Info("running database migrations")

	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version TEXT PRIMARY KEY,
			applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	applied, err := s.appliedMigrations(ctx)
	if err != nil {
		return err
	}

	entries, err := fs.ReadDir(migrations.FS, ".")
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}

	var files []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".sql") {
			files = append(files, entry.Name())
		}
	}
	sort.Strings(files)

	for _, file := range files {
		if applied[file] {
			slog.Debug("migration already applied", "file", file)
			continue
		}

		if err := s.applyMigration(ctx, file); err != nil {
			return err
		}
		slog.Info("migration applied", "file", file)
	}

	return nil
}

func (s *SQLiteStore) appliedMigrations(ctx context.Context) (map[string]bool, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT version FROM schema_migrations ORDER BY version")
	if err != nil {
		return nil, fmt.Errorf("query migrations: %w", err)
	}
	defer rows.Close()

	applied := make(map[string]bool)
	for rows.Next() {
		var version string
		if err := rows.Scan(&version); err != nil {
			return nil, fmt.Errorf("scan migration: %w", err)
		}
		applied[version] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate migrations: %w", err)
	}
	return applied, nil
}

func (s *SQLiteStore) applyMigration(ctx context.Context, file string) error {
	content, err := fs.ReadFile(migrations.FS, file)
	if err != nil {
		return fmt.Errorf("read migration %s: %w", file, err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	if _, err := tx.ExecContext(ctx, extractUpMigration(string(content))); err != nil {
		tx.Rollback()
		return fmt.Errorf("execute migration %s: %w", file, err)
	}

	if _, err := tx.ExecContext(ctx, "INSERT INTO schema_migrations (version) VALUES (?)", file); err != nil {
		tx.Rollback()
		return fmt.Errorf("record migration %s: %w", file, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migration %s: %w", file, err)
	}
	return nil
}

// extractUpMigration returns the part of a migration file before the
// "-- +migrate Down" marker, without the "-- +migrate Up" marker.
func extractUpMigration(content string) string {
	if idx := strings.Index(content, "-- +migrate Down"); idx != -1 {
		content = content[:idx]
	}
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "-- +migrate Up")
	return strings.TrimSpace(content)
}

func (s *SQLiteStore) UpsertOne(ctx context.Context, item model.NewsItem) (model.NewsItem, error) {
	item = prepare(item, s.opts.now())

	doc, err := json.Marshal(item)
	if err != nil {
		return model.NewsItem{}, fmt.Errorf("encode item: %w", err)
	}

	query, args, err := sq.Insert("news_items").
		Columns("id", "source", "external_id", "company", "published_at", "fetched_at", "document").
		Values(item.ID, string(item.Source), item.ExternalID, string(item.Company),
			item.PublishedAt.UnixNano(), item.FetchedAt.UnixNano(), string(doc)).
		Suffix(`ON CONFLICT (source, external_id) DO UPDATE SET
			company = excluded.company,
			published_at = excluded.published_at,
			fetched_at = excluded.fetched_at,
			document = excluded.document
			RETURNING id`).
		ToSql()
	if err != nil {
		return model.NewsItem{}, fmt.Errorf("build upsert: %w", err)
	}

	var id string
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&id); err != nil {
		return model.NewsItem{}, fmt.Errorf("upsert item: %w", err)
	}
	item.ID = id

	return item, nil
}

func (s *SQLiteStore) UpsertMany(ctx context.Context, items []model.NewsItem) error {
	return upsertAll(ctx, items, s.opts.concurrency(), func(ctx context.Context, item model.NewsItem) error {
		_, err := s.UpsertOne(ctx, item)
		return err
	})
}

func (s *SQLiteStore) GetItems(ctx context.Context, page, pageSize int, f Filter) ([]model.NewsItem, error) {
	page, pageSize = model.ClampPage(page, pageSize, 0)
	if page-1 > math.MaxInt64/pageSize {
		return []model.NewsItem{}, nil
	}

	query, args, err := applyFilter(sq.Select("id", "document").From("news_items"), f).
		OrderBy("published_at DESC", "source", "external_id").
		Limit(uint64(pageSize)).
		Offset(uint64((page - 1) * pageSize)).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build items query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query items: %w", err)
	}
	defer rows.Close()

	items := make([]model.NewsItem, 0)
	for rows.Next() {
		var id, doc string
		if err := rows.Scan(&id, &doc); err != nil {
			return nil, fmt.Errorf("scan item: %w", err)
		}

		var item model.NewsItem
		if err := json.Unmarshal([]byte(doc), &item); err != nil {
			return nil, fmt.Errorf("decode item %s: %w", id, err)
		}
		item.ID = id
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate items: %w", err)
	}

	return items, nil
}

func (s *SQLiteStore) GetCount(ctx context.Context, f Filter) (int, error) {
	query, args, err := applyFilter(sq.Select("COUNT(*)").From("news_items"), f).ToSql()
	if err != nil {
		return 0, fmt.Errorf("build count query: %w", err)
	}

	var count int
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("count items: %w", err)
	}
	return count, nil
}

func (s *SQLiteStore) GetLatestSnapshot(ctx context.Context) (*model.TrendSnapshot, error) {
	query, args, err := sq.Select("document").
		From("trend_snapshots").
		OrderBy("taken_at DESC", "rowid DESC").
		Limit(1).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build snapshot query: %w", err)
	}

	var doc string
	err = s.db.QueryRowContext(ctx, query, args...).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query snapshot: %w", err)
	}

	var snap model.TrendSnapshot
	if err := json.Unmarshal([]byte(doc), &snap); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	return &snap, nil
}

// UpsertSnapshot appends the snapshot. Older rows stay until pruned; only the
// newest one is ever read.
func (s *SQLiteStore) UpsertSnapshot(ctx context.Context, snap model.TrendSnapshot) error {
	snap = prepareSnapshot(snap, s.opts.now())

	doc, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}

	query, args, err := sq.Insert("trend_snapshots").
		Columns("id", "taken_at", "document").
		Values(snap.ID, snap.Timestamp.UnixNano(), string(doc)).
		Suffix("ON CONFLICT (id) DO UPDATE SET taken_at = excluded.taken_at, document = excluded.document").
		ToSql()
	if err != nil {
		return fmt.Errorf("build snapshot upsert: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("upsert snapshot: %w", err)
	}
	return nil
}

// Prune deletes items fetched before now-olderThan and every snapshot taken
// before that cutoff except the latest one. It returns the number of items
// removed.
func (s *SQLiteStore) Prune(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := s.opts.now().Add(-olderThan).UnixNano()

	query, args, err := sq.Delete("news_items").Where(sq.Lt{"fetched_at": cutoff}).ToSql()
	if err != nil {
		return 0, fmt.Errorf("build prune: %w", err)
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("prune items: %w", err)
	}
	removed, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("prune items: %w", err)
	}

	latest := sq.Select("id").From("trend_snapshots").OrderBy("taken_at DESC", "rowid DESC").Limit(1)
	query, args, err = sq.Delete("trend_snapshots").
		Where(sq.Lt{"taken_at": cutoff}).
		Where(sq.Expr("id NOT IN (?)", latest)).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build snapshot prune: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return 0, fmt.Errorf("prune snapshots: %w", err)
	}

	slog.Info("pruned sqlite store", "items_removed", removed, "older_than", olderThan)
	return removed, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func applyFilter(b sq.SelectBuilder, f Filter) sq.SelectBuilder {
	if f.Source != "" {
		b = b.Where(sq.Eq{"source": string(f.Source)})
	}
	if f.Company != "" {
		b = b.Where(sq.Eq{"company": string(f.Company)})
	}
	return b
}
