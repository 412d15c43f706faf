// ABOUTME: SQLite connection pool with WAL pragmas applied to every connection
// ABOUTME: Thin wrapper over zombiezen sqlitex.Pool; callers write SQL directly

package sqlitepool

import (
	"context"
	"fmt"
	"runtime"

	"github.com/rs/zerolog"
	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

// Config holds the parameters for opening a pool. Path is required.
type Config struct {
	// Path to the database file, created if missing. ":memory:" only works
	// with PoolSize 1 since every in-memory connection is its own database.
	Path string

	// PoolSize defaults to max(NumCPU, 4)
	PoolSize int

	Logger zerolog.Logger

	// OnConnect runs once per connection after the pragmas, typically to
	// create the schema
	OnConnect func(conn *sqlite.Conn) error
}

// Pool is safe for concurrent use; the connections it hands out are not
type Pool struct {
	inner *sqlitex.Pool
	log   zerolog.Logger
	path  string
}

var pragmas = []string{
	"PRAGMA journal_mode=WAL",
	"PRAGMA synchronous=NORMAL",
	"PRAGMA busy_timeout=5000",
	"PRAGMA foreign_keys=OFF",
	"PRAGMA cache_size=-8192",
	"PRAGMA temp_store=MEMORY",
}

// Open creates the pool. Connections are initialized lazily on first Take.
func Open(cfg Config) (*Pool, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("sqlitepool: path is required")
	}

	size := cfg.PoolSize
	if size <= 0 {
		size = max(runtime.NumCPU(), 4)
	}

	inner, err := sqlitex.NewPool(cfg.Path, sqlitex.PoolOptions{
		PoolSize: size,
		PrepareConn: func(conn *sqlite.Conn) error {
			return prepare(conn, cfg.OnConnect)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("sqlitepool: opening %s: %w", cfg.Path, err)
	}

	cfg.Logger.Info().
		Str("path", cfg.Path).
		Int("pool_size", size).
		Msg("sqlite pool opened")

	return &Pool{inner: inner, log: cfg.Logger, path: cfg.Path}, nil
}

// Take borrows a connection, blocking until one is free or ctx is done.
// Every Take must be paired with a Put.
func (p *Pool) Take(ctx context.Context) (*sqlite.Conn, error) {
	conn, err := p.inner.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("sqlitepool: take: %w", err)
	}
	return conn, nil
}

// Put returns a connection to the pool. nil is a no-op.
func (p *Pool) Put(conn *sqlite.Conn) {
	p.inner.Put(conn)
}

// Close waits for borrowed connections and closes them all
func (p *Pool) Close() error {
	if err := p.inner.Close(); err != nil {
		p.log.Error().Str("path", p.path).Err(err).Msg("sqlite pool close failed")
		return fmt.Errorf("sqlitepool: closing %s: %w", p.path, err)
	}
	p.log.Info().Str("path", p.path).Msg("sqlite pool closed")
	return nil
}

func prepare(conn *sqlite.Conn, onConnect func(*sqlite.Conn) error) error {
	for _, pragma := range pragmas {
		if err := sqlitex.ExecuteTransient(conn, pragma, nil); err != nil {
			return fmt.Errorf("sqlitepool: %s: %w", pragma, err)
		}
	}
	if onConnect != nil {
		if err := onConnect(conn); err != nil {
			return fmt.Errorf("sqlitepool: on connect: %w", err)
		}
	}
	return nil
}
