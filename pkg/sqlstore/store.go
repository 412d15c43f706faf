// ABOUTME: SQLite-backed node and version store
// ABOUTME: Implements node.Source and version.Store over a zombiezen connection pool

package sqlstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/nainya/cmsengine/internal/sqlitepool"
	"github.com/nainya/cmsengine/pkg/clock"
	"github.com/nainya/cmsengine/pkg/node"
	"github.com/nainya/cmsengine/pkg/version"
)

const schema = `
CREATE TABLE IF NOT EXISTS nodes (
	id         TEXT PRIMARY KEY,
	parent_id  TEXT,
	position   INTEGER NOT NULL DEFAULT 0,
	layout_ref TEXT NOT NULL DEFAULT '',
	deleted    INTEGER NOT NULL DEFAULT 0,
	created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS nodes_parent ON nodes (parent_id, position);

CREATE TABLE IF NOT EXISTS versions (
	node_id        TEXT NOT NULL,
	number         INTEGER NOT NULL,
	id             TEXT NOT NULL UNIQUE,
	effective_date TEXT,
	expiry_date    TEXT,
	widgets        BLOB NOT NULL,
	layout_ref     TEXT NOT NULL DEFAULT '',
	theme_ref      TEXT NOT NULL DEFAULT '',
	created_at     TEXT NOT NULL,
	created_by     TEXT NOT NULL DEFAULT '',
	description    TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (node_id, number)
);
`

// Observer receives the duration and outcome of every store operation
type Observer func(op string, d time.Duration, err error)

// Config holds the parameters for opening a store
type Config struct {
	Path     string
	PoolSize int
	Logger   zerolog.Logger

	// Clock stamps created_at on new nodes; defaults to the real clock
	Clock clock.Clock

	// Observe, when set, is called after every operation
	Observe Observer
}

// Store persists nodes and versions in a single SQLite database
type Store struct {
	pool    *sqlitepool.Pool
	log     zerolog.Logger
	clock   clock.Clock
	observe Observer
}

// Open opens or creates the database at cfg.Path
func Open(cfg Config) (*Store, error) {
	pool, err := sqlitepool.Open(sqlitepool.Config{
		Path:     cfg.Path,
		PoolSize: cfg.PoolSize,
		Logger:   cfg.Logger,
		OnConnect: func(conn *sqlite.Conn) error {
			return sqlitex.ExecuteScript(conn, schema, nil)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", node.ErrStoreUnavailable, err)
	}

	observe := cfg.Observe
	if observe == nil {
		observe = func(string, time.Duration, error) {}
	}
	clk := cfg.Clock
	if clk == nil {
		clk = clock.Real()
	}
	return &Store{pool: pool, log: cfg.Logger, clock: clk, observe: observe}, nil
}

// Close waits for in-flight operations and closes the database
func (s *Store) Close() error {
	return s.pool.Close()
}

// Ping checks that a connection can be taken and used
func (s *Store) Ping(ctx context.Context) error {
	return s.withConn(ctx, "ping", func(conn *sqlite.Conn) error {
		return sqlitex.ExecuteTransient(conn, "SELECT 1", nil)
	})
}

// withConn borrows a connection for fn and reports the outcome to the observer.
// Failures to obtain a connection are reported as ErrStoreUnavailable.
func (s *Store) withConn(ctx context.Context, op string, fn func(conn *sqlite.Conn) error) error {
	start := time.Now()
	conn, err := s.pool.Take(ctx)
	if err != nil {
		err = fmt.Errorf("%w: %w", node.ErrStoreUnavailable, err)
		s.observe(op, time.Since(start), err)
		return err
	}
	defer s.pool.Put(conn)

	err = fn(conn)
	s.observe(op, time.Since(start), err)
	if err != nil && !isDomainError(err) {
		s.log.Error().Str("operation", op).Err(err).Msg("sqlite operation failed")
	}
	return err
}

// callerErrors describe bad requests rather than database faults
var callerErrors = []error{
	node.ErrNotFound,
	node.ErrAlreadyExists,
	node.ErrParentNotFound,
	node.ErrCycle,
	version.ErrNotFound,
	version.ErrConflict,
	version.ErrInvalidWindow,
	version.ErrNotPublished,
	version.ErrNoContent,
}

func isDomainError(err error) bool {
	for _, target := range callerErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

func optionalTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func columnTime(stmt *sqlite.Stmt, col int) (*time.Time, error) {
	if stmt.ColumnIsNull(col) {
		return nil, nil
	}
	t, err := parseTime(stmt.ColumnText(col))
	if err != nil {
		return nil, err
	}
	return &t, nil
}
