// Package config holds the settings of the tablegw commands and binds them to
// command-line flags.
package config

import (
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/spf13/pflag"

	"github.com/tordrt/tablegw/internal/db"
	"github.com/tordrt/tablegw/internal/gateway"
	"github.com/tordrt/tablegw/internal/ident"
	"github.com/tordrt/tablegw/internal/logging"
)

const (
	DefaultDatabasePath    = "test.db"
	DefaultListenAddr      = ":3636"
	DefaultShutdownTimeout = 10 * time.Second
	DefaultLogLevel        = "info"
	DefaultLogFormat       = "text"
)

// Config is the full set of settings. The zero value is not usable; start
// from Default.
type Config struct {
	// DatabasePath is the SQLite file served and mutated
	DatabasePath string
	// BusyTimeout is how long a statement waits for a locked database
	BusyTimeout time.Duration
	// ForeignKeys turns on foreign key enforcement for every connection
	ForeignKeys bool

	ListenAddr      string
	SearchField     string
	CORSOrigins     []string
	ShutdownTimeout time.Duration

	Log logging.Options
}

// Default returns the configuration used when no flag is given
func Default() Config {
	return Config{
		DatabasePath:    DefaultDatabasePath,
		BusyTimeout:     db.DefaultBusyTimeout,
		ListenAddr:      DefaultListenAddr,
		SearchField:     gateway.DefaultSearchField,
		CORSOrigins:     []string{"*"},
		ShutdownTimeout: DefaultShutdownTimeout,
		Log: logging.Options{
			Level:  DefaultLogLevel,
			Format: DefaultLogFormat,
		},
	}
}

// AddDatabaseFlags binds the settings every command needs to reach the database
func (c *Config) AddDatabaseFlags(fs *pflag.FlagSet) {
	fs.StringVar(&c.DatabasePath, "db", c.DatabasePath, "SQLite database file path")
	fs.DurationVar(&c.BusyTimeout, "busy-timeout", c.BusyTimeout, "How long to wait for a locked database")
	fs.BoolVar(&c.ForeignKeys, "foreign-keys", c.ForeignKeys, "Enforce foreign key constraints")
}

// AddServerFlags binds the HTTP server settings
func (c *Config) AddServerFlags(fs *pflag.FlagSet) {
	fs.StringVar(&c.ListenAddr, "addr", c.ListenAddr, "Address to listen on")
	fs.StringVar(&c.SearchField, "search-field", c.SearchField, "Column matched by /search")
	fs.StringSliceVar(&c.CORSOrigins, "cors-origin", c.CORSOrigins, "Allowed cross-origin request origins (comma-separated, * for any)")
	fs.DurationVar(&c.ShutdownTimeout, "shutdown-timeout", c.ShutdownTimeout, "Grace period for in-flight requests on shutdown")
}

// AddLogFlags binds the logging settings
func (c *Config) AddLogFlags(fs *pflag.FlagSet) {
	fs.StringVar(&c.Log.Level, "log-level", c.Log.Level, "Log level: debug, info, warn or error")
	fs.StringVar(&c.Log.Format, "log-format", c.Log.Format, "Log format: text or json")
	fs.StringVar(&c.Log.SeqURL, "seq-url", c.Log.SeqURL, "Seq server URL to ship logs to (optional)")
}

// SQLiteOptions returns the client options derived from the configuration
func (c *Config) SQLiteOptions() []db.SQLiteOption {
	return []db.SQLiteOption{
		db.WithBusyTimeout(c.BusyTimeout),
		db.WithForeignKeys(c.ForeignKeys),
	}
}

// Validate checks the database and logging settings
func (c *Config) Validate() error {
	var errs []error

	if c.DatabasePath == "" {
		errs = append(errs, errors.New("database path must not be empty"))
	}
	if c.BusyTimeout < 0 {
		errs = append(errs, errors.New("busy timeout must not be negative"))
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		errs = append(errs, fmt.Errorf("invalid log format %q, expected text or json", c.Log.Format))
	}

	return errors.Join(errs...)
}

// ValidateServer checks the server settings on top of Validate
func (c *Config) ValidateServer() error {
	var errs []error

	if err := c.Validate(); err != nil {
		errs = append(errs, err)
	}
	if _, _, err := net.SplitHostPort(c.ListenAddr); err != nil {
		errs = append(errs, fmt.Errorf("invalid listen address %q: %w", c.ListenAddr, err))
	}
	if err := ident.Validate(c.SearchField); err != nil {
		errs = append(errs, fmt.Errorf("invalid search field %q: %w", c.SearchField, err))
	}
	if len(c.CORSOrigins) == 0 {
		errs = append(errs, errors.New("at least one CORS origin is required, use * for any"))
	}
	if c.ShutdownTimeout <= 0 {
		errs = append(errs, errors.New("shutdown timeout must be positive"))
	}

	return errors.Join(errs...)
}
