// Package postgres provides a codestore.Store backed by PostgreSQL (pgx).
package postgres

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/torikushiii/HonkaiStarRailAPI/internal/codes"
	"github.com/torikushiii/HonkaiStarRailAPI/internal/codestore"
	"github.com/torikushiii/HonkaiStarRailAPI/internal/logging"
	"github.com/torikushiii/HonkaiStarRailAPI/internal/news"
)

const schema = `
CREATE TABLE IF NOT EXISTS codes (
    code          TEXT PRIMARY KEY,
    rewards       TEXT[] NOT NULL DEFAULT '{}',
    source        TEXT NOT NULL DEFAULT '',
    active        BOOLEAN NOT NULL DEFAULT TRUE,
    discovered_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS codes_discovered_at ON codes (discovered_at, code);

CREATE TABLE IF NOT EXISTS news (
    id          TEXT NOT NULL,
    lang        TEXT NOT NULL,
    type        TEXT NOT NULL,
    title       TEXT NOT NULL DEFAULT '',
    description TEXT NOT NULL DEFAULT '',
    created_at  BIGINT NOT NULL,
    banner      TEXT[] NOT NULL DEFAULT '{}',
    url         TEXT NOT NULL DEFAULT '',
    PRIMARY KEY (id, lang)
);
CREATE INDEX IF NOT EXISTS news_type_lang_created ON news (type, lang, created_at DESC);
`

// Config configures the Postgres store.
type Config struct {
	DSN      string
	MaxConns int32
	// SimpleProtocol disables prepared statements, for PgBouncer in
	// transaction pooling mode.
	SimpleProtocol bool
	Logger         *slog.Logger
}

// Store is a Postgres-backed codestore.Store.
type Store struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

var _ codestore.Store = (*Store)(nil)

// NewStore connects, pings, and ensures the schema exists.
func NewStore(ctx context.Context, cfg Config) (*Store, error) {
	pcfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	pcfg.MaxConns = max(cfg.MaxConns, 2)
	if cfg.SimpleProtocol {
		pcfg.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol
	}

	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	logger := logging.Default(cfg.Logger).With("component", "codestore", "type", "postgres")
	logger.Info("postgres store ready", "max_conns", pcfg.MaxConns)
	return &Store{pool: pool, logger: logger}, nil
}

// Close releases the pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func (s *Store) Upsert(ctx context.Context, r codes.Record) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO codes (code, rewards, source, active, discovered_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (code) DO UPDATE SET
			rewards = EXCLUDED.rewards,
			source  = EXCLUDED.source`,
		r.Code, nonNil(r.Rewards), r.Source, r.Active)
	if err != nil {
		return fmt.Errorf("upsert code %s: %w", r.Code, err)
	}
	return nil
}

func (s *Store) ReadAll(ctx context.Context) ([]codes.Record, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT code, rewards, source, active, discovered_at
		FROM codes
		ORDER BY discovered_at, code`)
	if err != nil {
		return nil, fmt.Errorf("query codes: %w", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (codes.Record, error) {
		var r codes.Record
		err := row.Scan(&r.Code, &r.Rewards, &r.Source, &r.Active, &r.DiscoveredAt)
		return r, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan codes: %w", err)
	}
	if out == nil {
		out = []codes.Record{}
	}
	return out, nil
}

func (s *Store) SetActive(ctx context.Context, code string, active bool) error {
	tag, err := s.pool.Exec(ctx, `UPDATE codes SET active = $1 WHERE code = $2`, active, code)
	if err != nil {
		return fmt.Errorf("set active for %s: %w", code, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("set active for %s: %w", code, codestore.ErrNotFound)
	}
	return nil
}

func (s *Store) PutNews(ctx context.Context, item news.Item) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO news (id, lang, type, title, description, created_at, banner, url)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id, lang) DO UPDATE SET
			type        = EXCLUDED.type,
			title       = EXCLUDED.title,
			description = EXCLUDED.description,
			created_at  = EXCLUDED.created_at,
			banner      = EXCLUDED.banner,
			url         = EXCLUDED.url`,
		item.ID, item.Lang, item.Type, item.Title, item.Description, item.CreatedAt, nonNil(item.Banner), item.URL)
	if err != nil {
		return fmt.Errorf("upsert news %s/%s: %w", item.ID, item.Lang, err)
	}
	return nil
}

func (s *Store) ListNews(ctx context.Context, f news.Filter) ([]news.Item, error) {
	// Empty filter values match everything; LIMIT NULL means no limit.
	var limit *int
	if f.Limit > 0 {
		limit = &f.Limit
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, lang, type, title, description, created_at, banner, url
		FROM news
		WHERE ($1::text = '' OR type = $1) AND ($2::text = '' OR lang = $2)
		ORDER BY created_at DESC, id
		LIMIT $3`,
		f.Type, f.Lang, limit)
	if err != nil {
		return nil, fmt.Errorf("query news: %w", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (news.Item, error) {
		var it news.Item
		err := row.Scan(&it.ID, &it.Lang, &it.Type, &it.Title, &it.Description, &it.CreatedAt, &it.Banner, &it.URL)
		return it, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan news: %w", err)
	}
	if out == nil {
		out = []news.Item{}
	}
	return out, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
