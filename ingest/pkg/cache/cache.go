package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dgraph-io/ristretto"
	_ "modernc.org/sqlite"
)

var (
	ErrMissingQualityFlag = errors.New("quality flag not cached")
	ErrUnknownStar        = errors.New("star not in catalog cache")
)

const schema = `
CREATE TABLE IF NOT EXISTS quality_flags (
	camera       INTEGER NOT NULL,
	ccd          INTEGER NOT NULL,
	cadence      INTEGER NOT NULL,
	quality_flag INTEGER NOT NULL,
	PRIMARY KEY (camera, ccd, cadence)
);
CREATE TABLE IF NOT EXISTS tic_parameters (
	tic_id INTEGER PRIMARY KEY,
	ra     REAL NOT NULL,
	dec    REAL NOT NULL,
	tmag   REAL NOT NULL
);
CREATE TABLE IF NOT EXISTS spacecraft_ephemeris (
	jd REAL PRIMARY KEY,
	x  REAL NOT NULL,
	y  REAL NOT NULL,
	z  REAL NOT NULL
);
CREATE TABLE IF NOT EXISTS mid_tjd (
	camera  INTEGER NOT NULL,
	cadence INTEGER NOT NULL,
	mid_tjd REAL NOT NULL,
	PRIMARY KEY (camera, cadence)
);
CREATE TABLE IF NOT EXISTS file_observations (
	path         TEXT PRIMARY KEY,
	tic_id       INTEGER NOT NULL,
	orbit_number INTEGER NOT NULL,
	camera       INTEGER NOT NULL,
	ccd          INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS file_observations_tic_idx ON file_observations (tic_id, orbit_number);
`

// Cache is the local SQLite side-cache holding everything a worker needs to
// resolve before touching the primary store. Each worker opens its own Cache.
type Cache struct {
	log     *slog.Logger
	db      *sql.DB
	catalog *ristretto.Cache
}

// Open opens (creating if needed) the cache database at path.
func Open(ctx context.Context, log *slog.Logger, path string) (*Cache, error) {
	if log == nil {
		return nil, errors.New("logger is required")
	}
	if path == "" {
		return nil, errors.New("cache path is required")
	}
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(10000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("failed to open cache %s: %w", path, err)
	}
	c, err := New(ctx, log, db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return c, nil
}

// New wraps an existing database handle and ensures the cache schema exists.
func New(ctx context.Context, log *slog.Logger, db *sql.DB) (*Cache, error) {
	if db == nil {
		return nil, errors.New("db is required")
	}
	if err := EnsureSchema(ctx, db); err != nil {
		return nil, err
	}
	catalog, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 1_000_000,
		MaxCost:     100_000,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("create catalog cache: %w", err)
	}
	return &Cache{log: log, db: db, catalog: catalog}, nil
}

func EnsureSchema(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create cache schema: %w", err)
	}
	return nil
}

func (c *Cache) Close() error {
	c.catalog.Close()
	return c.db.Close()
}

// insertAll runs stmt once per row inside a single transaction.
func (c *Cache) insertAll(ctx context.Context, query string, n int, args func(i int) []any) (int, error) {
	if n == 0 {
		return 0, nil
	}
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return 0, err
	}
	defer stmt.Close()

	for i := 0; i < n; i++ {
		if _, err := stmt.ExecContext(ctx, args(i)...); err != nil {
			return 0, err
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return n, nil
}

func (c *Cache) count(ctx context.Context, table string) (int, error) {
	var n int
	if err := c.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count %s: %w", table, err)
	}
	return n, nil
}

// Summary reports the number of rows held for each cached table.
func (c *Cache) Summary(ctx context.Context) (map[string]int, error) {
	out := make(map[string]int, 5)
	for _, table := range []string{"quality_flags", "tic_parameters", "spacecraft_ephemeris", "mid_tjd", "file_observations"} {
		n, err := c.count(ctx, table)
		if err != nil {
			return nil, err
		}
		out[table] = n
	}
	return out, nil
}
