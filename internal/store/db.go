package store

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"golang.org/x/sync/singleflight"
)

// DefaultCacheTTL is how long a cached user profile stays readable.
const DefaultCacheTTL = 24 * time.Hour

// Options configures a DB.
type Options struct {
	// QuotaBytes is the storage grant reported by StorageEstimate. Zero means
	// "use free filesystem space".
	QuotaBytes int64
	// CacheTTL bounds the lifetime of cached user profiles.
	CacheTTL time.Duration
	// Now overrides the clock, mainly for tests.
	Now func() time.Time
}

// DB is the local durable store backing the offline sync engine.
// It is safe for concurrent use; every write is a single atomic statement
// or transaction.
type DB struct {
	path string
	opts Options

	mu     sync.RWMutex
	conn   *sql.DB
	closed bool

	initGroup singleflight.Group
	migrated  *MigrateResult
}

// New returns an unopened store for the SQLite file at path. Init opens it;
// operations on an unopened store initialize it on first use.
func New(path string, opts Options) *DB {
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = DefaultCacheTTL
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &DB{path: path, opts: opts}
}

// Open creates a store and initializes it immediately.
func Open(path string, opts Options) (*DB, error) {
	db := New(path, opts)
	if err := db.Init(context.Background()); err != nil {
		return nil, err
	}
	return db, nil
}

// Init opens the database and applies pending migrations. It is idempotent;
// concurrent callers share a single initialization and all observe its error.
func (db *DB) Init(ctx context.Context) error {
	db.mu.RLock()
	closed, ready := db.closed, db.conn != nil
	db.mu.RUnlock()
	if closed {
		return wrap("init", "", ErrClosed)
	}
	if ready {
		return nil
	}

	ch := db.initGroup.DoChan("init", func() (any, error) {
		return nil, db.open()
	})
	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (db *DB) open() error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return wrap("init", "", ErrClosed)
	}
	if db.conn != nil {
		return nil
	}

	conn, err := sql.Open("sqlite3", db.path+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return wrap("open", "", err)
	}
	// Verify connection.
	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return wrap("ping", "", err)
	}
	result, err := migrateConn(conn)
	if err != nil {
		_ = conn.Close()
		return wrap("migrate", "", err)
	}
	db.conn = conn
	db.migrated = result
	return nil
}

// handle returns the live connection, initializing lazily. After Close it
// fails fast with ErrClosed.
func (db *DB) handle(ctx context.Context) (*sql.DB, error) {
	db.mu.RLock()
	conn, closed := db.conn, db.closed
	db.mu.RUnlock()
	if closed {
		return nil, ErrClosed
	}
	if conn != nil {
		return conn, nil
	}
	if err := db.Init(ctx); err != nil {
		return nil, err
	}
	db.mu.RLock()
	defer db.mu.RUnlock()
	if db.closed {
		return nil, ErrClosed
	}
	return db.conn, nil
}

// Migration reports the result of the migration run performed by Init.
func (db *DB) Migration() *MigrateResult {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.migrated
}

// Path returns the database file path.
func (db *DB) Path() string { return db.path }

// Close releases the connection. Later operations return ErrClosed.
func (db *DB) Close() error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return nil
	}
	db.closed = true
	if db.conn == nil {
		return nil
	}
	err := db.conn.Close()
	db.conn = nil
	if err != nil {
		return fmt.Errorf("close db: %w", err)
	}
	return nil
}

func (db *DB) now() time.Time { return db.opts.Now() }

// ClearAll empties every collection in one transaction.
func (db *DB) ClearAll(ctx context.Context) error {
	conn, err := db.handle(ctx)
	if err != nil {
		return wrap("clear_all", "", err)
	}
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return wrap("clear_all", "", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, c := range AllCollections {
		if _, err := tx.ExecContext(ctx, `DELETE FROM `+schemas[c].table); err != nil {
			return wrap("clear_all", c, err)
		}
	}
	return wrap("clear_all", "", tx.Commit())
}
