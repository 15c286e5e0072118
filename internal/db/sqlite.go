package db

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// DefaultBusyTimeout is how long a connection waits on a locked database
const DefaultBusyTimeout = 5 * time.Second

// SQLiteOption configures a SQLiteClient
type SQLiteOption func(*sqliteOptions)

type sqliteOptions struct {
	busyTimeout time.Duration
	foreignKeys bool
	readOnly    bool
}

// WithBusyTimeout sets the driver's busy timeout
func WithBusyTimeout(d time.Duration) SQLiteOption {
	return func(o *sqliteOptions) {
		o.busyTimeout = d
	}
}

// WithForeignKeys turns foreign key enforcement on for every connection
func WithForeignKeys(enabled bool) SQLiteOption {
	return func(o *sqliteOptions) {
		o.foreignKeys = enabled
	}
}

// WithReadOnly rejects every statement that would modify the database
func WithReadOnly() SQLiteOption {
	return func(o *sqliteOptions) {
		o.readOnly = true
	}
}

// SQLiteClient manages the connection pool to SQLite
type SQLiteClient struct {
	db   *sql.DB
	path string
}

// NewSQLiteClient creates a new SQLite client.
//
// Transactions are opened with BEGIN IMMEDIATE so concurrent writers queue on
// the busy timeout instead of failing on lock upgrade.
func NewSQLiteClient(ctx context.Context, path string, opts ...SQLiteOption) (*SQLiteClient, error) {
	if path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	o := sqliteOptions{busyTimeout: DefaultBusyTimeout}
	for _, opt := range opts {
		opt(&o)
	}

	db, err := sql.Open("sqlite3", buildDSN(path, o))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Every connection to :memory: is a separate database
	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	// Test the connection
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &SQLiteClient{db: db, path: path}, nil
}

func buildDSN(path string, o sqliteOptions) string {
	params := url.Values{}
	params.Set("_busy_timeout", strconv.FormatInt(o.busyTimeout.Milliseconds(), 10))
	params.Set("_txlock", "immediate")
	if o.foreignKeys {
		params.Set("_foreign_keys", "1")
	}
	if o.readOnly {
		params.Set("_query_only", "1")
	}

	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + params.Encode()
}

// Close closes the database connection
func (c *SQLiteClient) Close() error {
	return c.db.Close()
}

// GetDB returns the underlying database connection
func (c *SQLiteClient) GetDB() *sql.DB {
	return c.db
}

// Path returns the database file path the client was opened with
func (c *SQLiteClient) Path() string {
	return c.path
}

// Ping verifies the database is still reachable
func (c *SQLiteClient) Ping(ctx context.Context) error {
	return c.db.PingContext(ctx)
}
