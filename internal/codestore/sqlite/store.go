// Package sqlite provides the default codestore.Store, backed by a local
// SQLite database (modernc.org/sqlite, no cgo).
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/torikushiii/HonkaiStarRailAPI/internal/codes"
	"github.com/torikushiii/HonkaiStarRailAPI/internal/codestore"
	"github.com/torikushiii/HonkaiStarRailAPI/internal/logging"
	"github.com/torikushiii/HonkaiStarRailAPI/internal/news"
)

// Fixed width so the text column sorts chronologically.
const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

// Store is a SQLite-backed codestore.Store.
type Store struct {
	db     *sql.DB
	path   string
	now    func() time.Time
	logger *slog.Logger
}

var _ codestore.Store = (*Store)(nil)

// NewStore opens (or creates) the database at path and runs migrations.
func NewStore(ctx context.Context, path string, logger *slog.Logger) (*Store, error) {
	logger = logging.Default(logger).With("component", "codestore", "type", "sqlite")

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// One connection serialises writers; upserts are single statements.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode = WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set journal_mode: %w", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy_timeout: %w", err)
	}

	n, err := runMigrations(ctx, db)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	if n > 0 {
		logger.Info("applied migrations", "count", n, "path", path)
	}

	return &Store{db: db, path: path, now: time.Now, logger: logger}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Upsert(ctx context.Context, r codes.Record) error {
	rewards, err := json.Marshal(nonNil(r.Rewards))
	if err != nil {
		return fmt.Errorf("marshal rewards for %s: %w", r.Code, err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO codes (code, rewards, source, active, discovered_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (code) DO UPDATE SET
			rewards = excluded.rewards,
			source  = excluded.source
	`, r.Code, string(rewards), r.Source, boolToInt(r.Active), s.now().UTC().Format(timeFormat))
	if err != nil {
		return fmt.Errorf("upsert code %s: %w", r.Code, err)
	}
	return nil
}

func (s *Store) ReadAll(ctx context.Context) ([]codes.Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT code, rewards, source, active, discovered_at
		FROM codes
		ORDER BY discovered_at, code
	`)
	if err != nil {
		return nil, fmt.Errorf("query codes: %w", err)
	}
	defer rows.Close()

	out := []codes.Record{}
	for rows.Next() {
		var (
			r          codes.Record
			rewards    string
			active     int
			discovered string
		)
		if err := rows.Scan(&r.Code, &rewards, &r.Source, &active, &discovered); err != nil {
			return nil, fmt.Errorf("scan code: %w", err)
		}
		if err := json.Unmarshal([]byte(rewards), &r.Rewards); err != nil {
			return nil, fmt.Errorf("decode rewards for %s: %w", r.Code, err)
		}
		r.Active = active != 0
		if r.DiscoveredAt, err = time.Parse(timeFormat, discovered); err != nil {
			return nil, fmt.Errorf("parse discovered_at for %s: %w", r.Code, err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate codes: %w", err)
	}
	return out, nil
}

func (s *Store) SetActive(ctx context.Context, code string, active bool) error {
	res, err := s.db.ExecContext(ctx, `UPDATE codes SET active = ? WHERE code = ?`, boolToInt(active), code)
	if err != nil {
		return fmt.Errorf("set active for %s: %w", code, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("set active for %s: %w", code, err)
	}
	if n == 0 {
		return fmt.Errorf("set active for %s: %w", code, codestore.ErrNotFound)
	}
	return nil
}

func (s *Store) PutNews(ctx context.Context, item news.Item) error {
	banner, err := json.Marshal(nonNil(item.Banner))
	if err != nil {
		return fmt.Errorf("marshal banner for %s: %w", item.ID, err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO news (id, lang, type, title, description, created_at, banner, url)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id, lang) DO UPDATE SET
			type        = excluded.type,
			title       = excluded.title,
			description = excluded.description,
			created_at  = excluded.created_at,
			banner      = excluded.banner,
			url         = excluded.url
	`, item.ID, item.Lang, item.Type, item.Title, item.Description, item.CreatedAt, string(banner), item.URL)
	if err != nil {
		return fmt.Errorf("upsert news %s/%s: %w", item.ID, item.Lang, err)
	}
	return nil
}

func (s *Store) ListNews(ctx context.Context, f news.Filter) ([]news.Item, error) {
	var (
		where []string
		args  []any
	)
	if f.Type != "" {
		where = append(where, "type = ?")
		args = append(args, f.Type)
	}
	if f.Lang != "" {
		where = append(where, "lang = ?")
		args = append(args, f.Lang)
	}
	q := "SELECT id, lang, type, title, description, created_at, banner, url FROM news"
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY created_at DESC, id"
	if f.Limit > 0 {
		q += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query news: %w", err)
	}
	defer rows.Close()

	out := []news.Item{}
	for rows.Next() {
		var (
			item   news.Item
			banner string
		)
		if err := rows.Scan(&item.ID, &item.Lang, &item.Type, &item.Title, &item.Description, &item.CreatedAt, &banner, &item.URL); err != nil {
			return nil, fmt.Errorf("scan news: %w", err)
		}
		if err := json.Unmarshal([]byte(banner), &item.Banner); err != nil {
			return nil, fmt.Errorf("decode banner for %s: %w", item.ID, err)
		}
		out = append(out, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate news: %w", err)
	}
	return out, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
