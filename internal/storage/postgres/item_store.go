// Package postgres imports exported items into a relational table.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"
	"unicode/utf8"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/JakeFAU/listcrawler/internal/crawler"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Column limits enforced before insert.
const (
	maxURLLen   = 500
	maxTitleLen = 500
	maxKeyLen   = 50
)

// ErrInvalidItem marks an item that fails row validation.
var ErrInvalidItem = errors.New("invalid item")

// Columns lists the table columns in insert order.
var Columns = []string{
	"ts_created",
	"ts_imported",
	"session_id",
	"partition_key",
	"url",
	"title",
	"price_cents",
	"photos",
	"description",
}

// Config controls the Postgres connection pool used for item rows.
type Config struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type dbPool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Begin(context.Context) (pgx.Tx, error)
	Ping(context.Context) error
	Close()
}

// ItemStore writes items into Postgres.
type ItemStore struct {
	pool   dbPool
	table  string
	logger *zap.Logger
	now    func() time.Time
}

// NewItemStore connects a pool using cfg.
func NewItemStore(ctx context.Context, cfg Config, logger *zap.Logger) (*ItemStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("postgres.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	store, err := NewItemStoreWithPool(pool, cfg.Table, logger)
	if err != nil {
		pool.Close()
		return nil, err
	}
	return store, nil
}

// NewItemStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewItemStoreWithPool(pool dbPool, table string, logger *zap.Logger) (*ItemStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = "items"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ItemStore{
		pool:   pool,
		table:  table,
		logger: logger.Named("postgres"),
		now:    func() time.Time { return time.Now().UTC() },
	}, nil
}

// Close releases the underlying pool resources.
func (s *ItemStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Ping checks connectivity.
func (s *ItemStore) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}

// EnsureSchema creates the item table and its indexes when missing.
func (s *ItemStore) EnsureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %[1]s (
	id            BIGSERIAL PRIMARY KEY,
	ts_created    TIMESTAMPTZ,
	ts_imported   TIMESTAMPTZ NOT NULL,
	session_id    VARCHAR(50),
	partition_key VARCHAR(50),
	url           VARCHAR(500) NOT NULL,
	title         VARCHAR(500),
	price_cents   BIGINT CHECK (price_cents >= 0),
	photos        TEXT[],
	description   TEXT
);
CREATE INDEX IF NOT EXISTS %[1]s_session_idx ON %[1]s (session_id);
CREATE INDEX IF NOT EXISTS %[1]s_partition_idx ON %[1]s (partition_key);
CREATE INDEX IF NOT EXISTS %[1]s_url_idx ON %[1]s (url)`, s.table)
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("create %s: %w", s.table, err)
	}
	return nil
}

// Row converts item to column values, validating limits.
func (s *ItemStore) Row(item *crawler.Item, importedAt time.Time) ([]any, error) {
	url := item.URL()
	if url == "" {
		return nil, fmt.Errorf("%w: url is required", ErrInvalidItem)
	}
	if utf8.RuneCountInString(url) > maxURLLen {
		return nil, fmt.Errorf("%w: url longer than %d", ErrInvalidItem, maxURLLen)
	}
	if utf8.RuneCountInString(item.SessionID()) > maxKeyLen || utf8.RuneCountInString(item.PartitionKey()) > maxKeyLen {
		return nil, fmt.Errorf("%w: session or partition longer than %d", ErrInvalidItem, maxKeyLen)
	}

	var (
		title, description *string
		price              *int64
		created            *time.Time
		photos             []string
	)
	if v, ok := item.Get("title"); ok && v != nil {
		str, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("%w: title is %T", ErrInvalidItem, v)
		}
		if utf8.RuneCountInString(str) > maxTitleLen {
			return nil, fmt.Errorf("%w: title longer than %d", ErrInvalidItem, maxTitleLen)
		}
		title = &str
	}
	if v, ok := item.Get("price_cents"); ok && v != nil {
		p, ok := v.(int64)
		if !ok {
			return nil, fmt.Errorf("%w: price_cents is %T", ErrInvalidItem, v)
		}
		if p < 0 {
			return nil, fmt.Errorf("%w: negative price", ErrInvalidItem)
		}
		price = &p
	}
	if v, ok := item.Get("description"); ok && v != nil {
		d, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("%w: description is %T", ErrInvalidItem, v)
		}
		description = &d
	}
	if v, ok := item.Get("ts_created"); ok && v != nil {
		ts, ok := v.(time.Time)
		if !ok {
			return nil, fmt.Errorf("%w: ts_created is %T", ErrInvalidItem, v)
		}
		created = &ts
	}
	if v, ok := item.Get("photos"); ok && v != nil {
		p, ok := v.([]string)
		if !ok {
			return nil, fmt.Errorf("%w: photos is %T", ErrInvalidItem, v)
		}
		photos = p
	}

	return []any{
		created,
		importedAt,
		item.SessionID(),
		item.PartitionKey(),
		url,
		title,
		price,
		photos,
		description,
	}, nil
}

// InsertBatch validates items and copies the valid ones in a single
// transaction. Invalid items are skipped. It returns the number inserted.
func (s *ItemStore) InsertBatch(ctx context.Context, items []*crawler.Item) (int, error) {
	importedAt := s.now()
	rows := make([][]any, 0, len(items))
	for _, item := range items {
		row, err := s.Row(item, importedAt)
		if err != nil {
			s.logger.Debug("skipping invalid item", zap.String("url", item.URL()), zap.Error(err))
			continue
		}
		rows = append(rows, row)
	}
	if len(rows) == 0 {
		return 0, nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin import: %w", err)
	}
	n, err := tx.CopyFrom(ctx, pgx.Identifier{s.table}, Columns, pgx.CopyFromRows(rows))
	if err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			s.logger.Warn("rollback import", zap.Error(rbErr))
		}
		return 0, fmt.Errorf("copy items: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit import: %w", err)
	}
	return int(n), nil
}
