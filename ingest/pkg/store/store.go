package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/malbeclabs/lightcurvedb/config"
)

type dbtx interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Queries holds the lightcurve database operations. It runs against a pool,
// a single acquired connection, or a transaction.
type Queries struct {
	log *slog.Logger
	db  dbtx
}

// Store is the pooled entry point to the lightcurve database.
type Store struct {
	*Queries
	pool *pgxpool.Pool
}

// Connect builds a connection pool from cfg and verifies it with a ping.
func Connect(ctx context.Context, log *slog.Logger, cfg *config.DatabaseConfig) (*Store, error) {
	if log == nil {
		return nil, errors.New("logger is required")
	}
	if cfg == nil {
		return nil, errors.New("database config is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	poolConfig, err := pgxpool.ParseConfig(cfg.ConnString())
	if err != nil {
		return nil, fmt.Errorf("failed to parse postgres config: %w", err)
	}
	poolConfig.MaxConns = cfg.MaxConns
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute

	log.Info("connecting to postgres", "host", cfg.Host, "port", cfg.Port, "database", cfg.Database, "username", cfg.Username)

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(connectCtx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres pool: %w", err)
	}
	if err := pool.Ping(connectCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}
	return New(log, pool), nil
}

func New(log *slog.Logger, pool *pgxpool.Pool) *Store {
	return &Store{Queries: &Queries{log: log, db: pool}, pool: pool}
}

func (s *Store) Close() {
	s.pool.Close()
}

// ErrConnectionLost is returned by a Conn whose connection broke and could
// not yet be replaced.
var ErrConnectionLost = errors.New("database connection lost")

// poolConn is one connection checked out of the pool.
type poolConn interface {
	dbtx
	Release()
	IsClosed() bool
}

type pooledConn struct {
	c *pgxpool.Conn
}

func (p pooledConn) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	return p.c.Exec(ctx, sql, args...)
}

func (p pooledConn) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return p.c.Query(ctx, sql, args...)
}

func (p pooledConn) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return p.c.QueryRow(ctx, sql, args...)
}

func (p pooledConn) Begin(ctx context.Context) (pgx.Tx, error) {
	return p.c.Begin(ctx)
}

func (p pooledConn) Release() {
	p.c.Release()
}

func (p pooledConn) IsClosed() bool {
	return p.c.Conn().IsClosed()
}

// Conn is a connection held by one worker for its lifetime. A connection
// that breaks during a transaction is handed back to the pool, which
// discards it, and replaced with a fresh one.
type Conn struct {
	*Queries
	conn    poolConn
	acquire func(ctx context.Context) (poolConn, error)
}

func (s *Store) Acquire(ctx context.Context) (*Conn, error) {
	return newConn(ctx, s.log, func(ctx context.Context) (poolConn, error) {
		c, err := s.pool.Acquire(ctx)
		if err != nil {
			return nil, err
		}
		return pooledConn{c: c}, nil
	})
}

func newConn(ctx context.Context, log *slog.Logger, acquire func(ctx context.Context) (poolConn, error)) (*Conn, error) {
	conn, err := acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire connection: %w", err)
	}
	return &Conn{Queries: &Queries{log: log, db: conn}, conn: conn, acquire: acquire}, nil
}

func (c *Conn) Release() {
	if c.conn != nil {
		c.conn.Release()
		c.conn = nil
	}
}

// WithTx runs fn in a transaction on the held connection. When the
// connection is found broken it is replaced before returning the error, so
// a retried call runs on a working connection.
func (c *Conn) WithTx(ctx context.Context, fn func(w Writer) error) error {
	if c.conn == nil {
		if err := c.reacquire(ctx); err != nil {
			return err
		}
	}
	err := c.Queries.WithTx(ctx, fn)
	if err == nil || !(c.conn.IsClosed() || isConnectionError(err)) {
		return err
	}

	c.log.Warn("discarding broken database connection", "error", err)
	c.Release()
	c.Queries = &Queries{log: c.log, db: lostConn{}}
	if rerr := c.reacquire(ctx); rerr != nil {
		c.log.Warn("failed to replace database connection", "error", rerr)
	}
	return err
}

func (c *Conn) reacquire(ctx context.Context) error {
	fresh, err := c.acquire(ctx)
	if err != nil {
		return fmt.Errorf("%w: failed to acquire connection: %w", ErrConnectionLost, err)
	}
	c.conn = fresh
	c.Queries = &Queries{log: c.log, db: fresh}
	return nil
}

func isConnectionError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return len(pgErr.Code) == 5 && pgErr.Code[:2] == "08"
	}
	return errors.Is(err, ErrConnectionLost) || pgconn.SafeToRetry(err)
}

// lostConn stands in for a connection that could not be replaced.
type lostConn struct{}

func (lostConn) Exec(context.Context, string, ...any) (pgconn.CommandTag, error) {
	return pgconn.CommandTag{}, ErrConnectionLost
}

func (lostConn) Query(context.Context, string, ...any) (pgx.Rows, error) {
	return nil, ErrConnectionLost
}

func (lostConn) QueryRow(context.Context, string, ...any) pgx.Row {
	return lostRow{}
}

func (lostConn) Begin(context.Context) (pgx.Tx, error) {
	return nil, ErrConnectionLost
}

type lostRow struct{}

func (lostRow) Scan(...any) error {
	return ErrConnectionLost
}

// WithTx runs fn inside a transaction, committing when fn returns nil and
// rolling back otherwise.
func (q *Queries) WithTx(ctx context.Context, fn func(w Writer) error) error {
	return q.inTx(ctx, func(tx pgx.Tx) error {
		return fn(&txWriter{tx: tx})
	})
}

func (q *Queries) inTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := q.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(context.WithoutCancel(ctx)) }()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// IsTransient reports whether err is a deadlock, serialization failure or
// connection-level error after which the whole transaction may be retried.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrConnectionLost) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case pgErr.Code == "40P01", pgErr.Code == "40001":
			return true
		case len(pgErr.Code) == 5 && pgErr.Code[:2] == "08":
			return true
		}
		return false
	}
	return pgconn.SafeToRetry(err) || pgconn.Timeout(err)
}
