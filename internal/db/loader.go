package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/tordrt/tablegw/internal/ident"
	"github.com/tordrt/tablegw/internal/schema"
)

// ErrTableExists is returned when an import target already exists and
// replacing it was not requested
var ErrTableExists = errors.New("table already exists")

// Loader copies tables from a Source into a SQLite database
type Loader struct {
	client *SQLiteClient
}

// NewLoader creates a loader writing to the given SQLite client
func NewLoader(client *SQLiteClient) *Loader {
	return &Loader{client: client}
}

// TargetTable converts a source table description into the SQLite table it is
// imported as: same names and order, types mapped to SQLite affinities
func TargetTable(source schema.Table) schema.Table {
	target := schema.Table{
		Name:       source.Name,
		PrimaryKey: append([]string(nil), source.PrimaryKey...),
	}
	for i, col := range source.Columns {
		target.Columns = append(target.Columns, schema.Column{
			Name:       col.Name,
			Type:       SQLiteAffinity(col.Type),
			Position:   i,
			Nullable:   col.Nullable,
			PrimaryKey: col.PrimaryKey,
		})
	}
	return target
}

// LoadTable creates the table in SQLite and copies every source row into it,
// all in one transaction. It returns the number of rows copied.
func (l *Loader) LoadTable(ctx context.Context, src Source, source schema.Table, replace bool) (int64, error) {
	target := TargetTable(source)
	if err := ident.ValidateAll(append([]string{target.Name}, target.ColumnNames()...)...); err != nil {
		return 0, fmt.Errorf("cannot import %s: %w", source.Name, err)
	}

	tx, err := l.client.GetDB().BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	exists, err := NewSQLiteExtractor(l.client).InTx(tx).TableExists(ctx, target.Name)
	if err != nil {
		return 0, fmt.Errorf("failed to check table %s: %w", target.Name, err)
	}
	if exists {
		if !replace {
			return 0, fmt.Errorf("%w: %s", ErrTableExists, target.Name)
		}
		if _, err := tx.ExecContext(ctx, "DROP TABLE "+ident.Quote(target.Name)); err != nil {
			return 0, fmt.Errorf("failed to drop table %s: %w", target.Name, err)
		}
	}

	if _, err := tx.ExecContext(ctx, CreateTableSQL(target)); err != nil {
		return 0, fmt.Errorf("failed to create table %s: %w", target.Name, err)
	}

	stmt, err := tx.PrepareContext(ctx, InsertSQL(target.Name, target.ColumnNames()))
	if err != nil {
		return 0, fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	var count int64
	err = src.ScanRows(ctx, source, func(values []any) error {
		if _, err := stmt.ExecContext(ctx, values...); err != nil {
			return fmt.Errorf("failed to insert row %d: %w", count+1, err)
		}
		count++
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to copy rows of %s: %w", source.Name, err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit import of %s: %w", source.Name, err)
	}
	committed = true

	return count, nil
}
