package db

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// newTestClient opens a fresh database file and runs the setup statements
func newTestClient(t *testing.T, setup ...string) *SQLiteClient {
	t.Helper()

	ctx := context.Background()
	client, err := NewSQLiteClient(ctx, filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Failed to open SQLite: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })

	for _, stmt := range setup {
		if _, err := client.GetDB().ExecContext(ctx, stmt); err != nil {
			t.Fatalf("Failed to run %q: %v", stmt, err)
		}
	}
	return client
}

func TestBuildDSN(t *testing.T) {
	tests := []struct {
		name     string
		path     string
		opts     sqliteOptions
		contains []string
		prefix   string
	}{
		{
			name:     "defaults",
			path:     "test.db",
			opts:     sqliteOptions{busyTimeout: DefaultBusyTimeout},
			prefix:   "test.db?",
			contains: []string{"_busy_timeout=5000", "_txlock=immediate"},
		},
		{
			name:     "foreign keys and read only",
			path:     "test.db",
			opts:     sqliteOptions{busyTimeout: time.Second, foreignKeys: true, readOnly: true},
			prefix:   "test.db?",
			contains: []string{"_busy_timeout=1000", "_foreign_keys=1", "_query_only=1"},
		},
		{
			name:     "existing query string",
			path:     "file:test.db?cache=shared",
			opts:     sqliteOptions{busyTimeout: DefaultBusyTimeout},
			prefix:   "file:test.db?cache=shared&",
			contains: []string{"_txlock=immediate"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dsn := buildDSN(tt.path, tt.opts)
			if !strings.HasPrefix(dsn, tt.prefix) {
				t.Errorf("Expected DSN to start with %q, got %q", tt.prefix, dsn)
			}
			for _, want := range tt.contains {
				if !strings.Contains(dsn, want) {
					t.Errorf("Expected DSN %q to contain %q", dsn, want)
				}
			}
		})
	}
}

func TestNewSQLiteClientRequiresPath(t *testing.T) {
	if _, err := NewSQLiteClient(context.Background(), ""); err == nil {
		t.Error("Expected error for empty path")
	}
}

func TestReadOnlyClientRejectsWrites(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "ro.db")

	rw, err := NewSQLiteClient(ctx, path)
	if err != nil {
		t.Fatalf("Failed to open SQLite: %v", err)
	}
	if _, err := rw.GetDB().ExecContext(ctx, "CREATE TABLE t (a TEXT)"); err != nil {
		t.Fatalf("Failed to create table: %v", err)
	}
	_ = rw.Close()

	ro, err := NewSQLiteClient(ctx, path, WithReadOnly())
	if err != nil {
		t.Fatalf("Failed to open SQLite read-only: %v", err)
	}
	defer ro.Close()

	if _, err := ro.GetDB().ExecContext(ctx, "INSERT INTO t (a) VALUES ('x')"); err == nil {
		t.Error("Expected write to fail on read-only client")
	}
	if err := ro.Ping(ctx); err != nil {
		t.Errorf("Ping failed: %v", err)
	}
}
