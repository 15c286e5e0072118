// Package seed creates the demo tables the web frontend is developed against.
package seed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/tordrt/tablegw/internal/db"
	"github.com/tordrt/tablegw/internal/schema"
)

// demoTable is a table definition plus its initial rows
type demoTable struct {
	table schema.Table
	rows  [][]any
}

var demoTables = []demoTable{
	{
		table: schema.Table{
			Name: "ABC",
			Columns: []schema.Column{
				{Name: "fruit", Type: "TEXT", Position: 0, Nullable: true},
				{Name: "food", Type: "TEXT", Position: 1, Nullable: true},
				{Name: "ice", Type: "TEXT", Position: 2, Nullable: true},
			},
		},
		rows: [][]any{
			{"Apple", "Bread", "Vanilla"},
			{"Banana", "Cake", "Chocolate"},
			{"Orange", "Pie", "Strawberry"},
		},
	},
	{
		table: schema.Table{
			Name: "EDF",
			Columns: []schema.Column{
				{Name: "price", Type: "INTEGER", Position: 0, Nullable: true},
				{Name: "name", Type: "TEXT", Position: 1, Nullable: true},
				{Name: "age", Type: "INTEGER", Position: 2, Nullable: true},
			},
		},
		rows: [][]any{
			{int64(10), "John Doe", int64(30)},
			{int64(20), "Jane Doe", int64(25)},
			{int64(30), "Jim Beam", int64(40)},
		},
	},
}

// TableNames returns the names of the demo tables in creation order
func TableNames() []string {
	names := make([]string, len(demoTables))
	for i, t := range demoTables {
		names[i] = t.table.Name
	}
	return names
}

// demoSource serves the demo tables through the import path
type demoSource struct{}

var _ db.Source = demoSource{}

func (demoSource) ExtractSchema(_ context.Context, tables []string) (*schema.Schema, error) {
	s := &schema.Schema{}
	for _, t := range demoTables {
		if len(tables) == 0 || slices.Contains(tables, t.table.Name) {
			s.Tables = append(s.Tables, t.table)
		}
	}
	return s, nil
}

func (demoSource) ScanRows(ctx context.Context, table schema.Table, fn func(values []any) error) error {
	for _, t := range demoTables {
		if t.table.Name != table.Name {
			continue
		}
		for _, row := range t.rows {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := fn(row); err != nil {
				return err
			}
		}
		return nil
	}
	return fmt.Errorf("unknown demo table %s", table.Name)
}

// Result lists what Seed did per table
type Result struct {
	Created []string
	Skipped []string
}

// Seed creates every demo table that does not exist yet and fills it with
// its rows. Existing tables are left untouched.
func Seed(ctx context.Context, client *db.SQLiteClient, logger *slog.Logger) (*Result, error) {
	if logger == nil {
		logger = slog.Default()
	}

	src := demoSource{}
	s, err := src.ExtractSchema(ctx, nil)
	if err != nil {
		return nil, err
	}

	loader := db.NewLoader(client)
	result := &Result{}
	for _, table := range s.Tables {
		count, err := loader.LoadTable(ctx, src, table, false)
		if errors.Is(err, db.ErrTableExists) {
			logger.Info("demo table exists, skipping", "table", table.Name)
			result.Skipped = append(result.Skipped, table.Name)
			continue
		}
		if err != nil {
			return result, fmt.Errorf("failed to seed %s: %w", table.Name, err)
		}

		logger.Info("created demo table", "table", table.Name, "rows", count)
		result.Created = append(result.Created, table.Name)
	}
	return result, nil
}
