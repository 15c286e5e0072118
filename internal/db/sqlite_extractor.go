package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/tordrt/tablegw/internal/ident"
	"github.com/tordrt/tablegw/internal/schema"
)

// Querier is satisfied by both *sql.DB and *sql.Tx
type Querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// SQLiteExtractor handles schema extraction from SQLite
type SQLiteExtractor struct {
	q Querier
}

// NewSQLiteExtractor creates a new SQLite schema extractor
func NewSQLiteExtractor(client *SQLiteClient) *SQLiteExtractor {
	return &SQLiteExtractor{
		q: client.GetDB(),
	}
}

// InTx returns an extractor that reads through the given transaction
func (e *SQLiteExtractor) InTx(tx *sql.Tx) *SQLiteExtractor {
	return &SQLiteExtractor{q: tx}
}

// ExtractSchema extracts the complete schema for specified tables
// If tables is empty, extracts all tables in the database
func (e *SQLiteExtractor) ExtractSchema(ctx context.Context, tables []string) (*schema.Schema, error) {
	var extractedTables []schema.Table

	tableNames := tables
	if len(tableNames) == 0 {
		var err error
		tableNames, err = e.ListTables(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to get table names: %w", err)
		}
	}

	for _, tableName := range tableNames {
		table, err := e.ExtractTable(ctx, tableName)
		if err != nil {
			return nil, fmt.Errorf("failed to extract table %s: %w", tableName, err)
		}
		extractedTables = append(extractedTables, *table)
	}

	return &schema.Schema{Tables: extractedTables}, nil
}

// ListTables returns user tables ordered by name, skipping sqlite_ bookkeeping
// tables and the given scratch prefixes
func (e *SQLiteExtractor) ListTables(ctx context.Context, skipPrefixes ...string) ([]string, error) {
	query := `
		SELECT name
		FROM sqlite_master
		WHERE type = 'table' AND name NOT LIKE 'sqlite\_%' ESCAPE '\'
		ORDER BY name
	`

	rows, err := e.q.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tableList []string
	for rows.Next() {
		var tableName string
		if err := rows.Scan(&tableName); err != nil {
			return nil, err
		}
		if hasAnyPrefix(tableName, skipPrefixes) {
			continue
		}
		tableList = append(tableList, tableName)
	}

	return tableList, rows.Err()
}

func hasAnyPrefix(s string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}

// TableName returns the stored name of a table. Table names are
// case-insensitive, so "edf" resolves to "EDF". ok is false when no such
// table exists.
func (e *SQLiteExtractor) TableName(ctx context.Context, tableName string) (name string, ok bool, err error) {
	err = e.q.QueryRowContext(ctx,
		`SELECT name FROM sqlite_master WHERE type = 'table' AND name = ? COLLATE NOCASE`, tableName).Scan(&name)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return name, true, nil
}

// TableExists reports whether a table of this name exists, ignoring case
func (e *SQLiteExtractor) TableExists(ctx context.Context, tableName string) (bool, error) {
	_, ok, err := e.TableName(ctx, tableName)
	return ok, err
}

// Columns returns the table's columns in declaration order, or none when the
// table does not exist
func (e *SQLiteExtractor) Columns(ctx context.Context, tableName string) ([]schema.Column, error) {
	columns, _, err := e.extractColumns(ctx, tableName)
	return columns, err
}

// ExtractTable extracts all information for a single table
func (e *SQLiteExtractor) ExtractTable(ctx context.Context, tableName string) (*schema.Table, error) {
	table := &schema.Table{Name: tableName}

	// Extract columns and primary key
	columns, pk, err := e.extractColumns(ctx, tableName)
	if err != nil {
		return nil, fmt.Errorf("failed to extract columns: %w", err)
	}
	if len(columns) == 0 {
		return nil, fmt.Errorf("table %s has no columns or does not exist", tableName)
	}
	table.Columns = columns
	table.PrimaryKey = pk

	if err := e.extractOptions(ctx, table); err != nil {
		return nil, fmt.Errorf("failed to extract table options: %w", err)
	}

	// Extract relations
	relations, err := e.extractRelations(ctx, tableName)
	if err != nil {
		return nil, fmt.Errorf("failed to extract relations: %w", err)
	}
	table.Relations = relations

	// Extract indexes and UNIQUE constraints
	if err := e.extractIndexes(ctx, table); err != nil {
		return nil, fmt.Errorf("failed to extract indexes: %w", err)
	}

	return table, nil
}

// extractOptions reads the STRICT and WITHOUT ROWID options and replaces
// the table name with its stored spelling
func (e *SQLiteExtractor) extractOptions(ctx context.Context, table *schema.Table) error {
	query := fmt.Sprintf("PRAGMA main.table_list(%s)", ident.Quote(table.Name))

	rows, err := e.q.QueryContext(ctx, query)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var schemaName, name, kind string
		var ncol, withoutRowID, strict int
		if err := rows.Scan(&schemaName, &name, &kind, &ncol, &withoutRowID, &strict); err != nil {
			return err
		}
		if kind != "table" {
			continue
		}
		table.Name = name
		table.WithoutRowID = withoutRowID == 1
		table.Strict = strict == 1
	}
	return rows.Err()
}

// Values of the hidden field of PRAGMA table_xinfo
const (
	columnHidden           = 1 // hidden column of a virtual table
	columnGeneratedVirtual = 2
	columnGeneratedStored  = 3
)

// extractColumns extracts column information and the ordered primary key
// for a table. table_xinfo is used because table_info leaves out generated
// columns.
func (e *SQLiteExtractor) extractColumns(ctx context.Context, tableName string) ([]schema.Column, []string, error) {
	query := fmt.Sprintf("PRAGMA table_xinfo(%s)", ident.Quote(tableName))

	rows, err := e.q.QueryContext(ctx, query)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	var columns []schema.Column
	pkOrder := map[int]string{}

	for rows.Next() {
		var cid int
		var name, colType string
		var notNull, pk, hidden int
		var defaultValue sql.NullString

		if err := rows.Scan(&cid, &name, &colType, &notNull, &defaultValue, &pk, &hidden); err != nil {
			return nil, nil, err
		}
		if hidden == columnHidden {
			continue
		}

		col := schema.Column{
			Name:       name,
			Type:       colType,
			Position:   cid,
			Nullable:   notNull == 0,
			PrimaryKey: pk > 0,
			Generated:  hidden == columnGeneratedVirtual || hidden == columnGeneratedStored,
		}

		if defaultValue.Valid {
			col.DefaultValue = &defaultValue.String
		}

		if pk > 0 {
			pkOrder[pk] = name
		}

		columns = append(columns, col)
	}

	if err := rows.Err(); err != nil {
		return nil, nil, err
	}

	var pkColumns []string
	for i := 1; i <= len(pkOrder); i++ {
		pkColumns = append(pkColumns, pkOrder[i])
	}

	return columns, pkColumns, nil
}

// extractRelations extracts foreign key relationships
func (e *SQLiteExtractor) extractRelations(ctx context.Context, tableName string) ([]schema.Relation, error) {
	query := fmt.Sprintf("PRAGMA foreign_key_list(%s)", ident.Quote(tableName))

	rows, err := e.q.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var relations []schema.Relation

	for rows.Next() {
		var id, seq int
		var targetTable, fromCol, onUpdate, onDelete, match string
		var toCol sql.NullString

		if err := rows.Scan(&id, &seq, &targetTable, &fromCol, &toCol, &onUpdate, &onDelete, &match); err != nil {
			return nil, err
		}

		rel := schema.Relation{
			SourceColumn: fromCol,
			TargetTable:  targetTable,
			TargetColumn: toCol.String, // empty when the parent's primary key is implied
			Cardinality:  "N:1",        // Simplified assumption
			ConstraintID: id,
			OnUpdate:     onUpdate,
			OnDelete:     onDelete,
		}

		relations = append(relations, rel)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.SliceStable(relations, func(i, j int) bool {
		return relations[i].ConstraintID < relations[j].ConstraintID
	})
	return relations, nil
}

type indexEntry struct {
	name    string
	unique  bool
	origin  string
	partial bool
}

// extractIndexes fills the table's explicit indexes, single-column UNIQUE
// flags and multi-column UNIQUE constraints
func (e *SQLiteExtractor) extractIndexes(ctx context.Context, table *schema.Table) error {
	query := fmt.Sprintf("PRAGMA index_list(%s)", ident.Quote(table.Name))

	rows, err := e.q.QueryContext(ctx, query)
	if err != nil {
		return err
	}

	var entries []indexEntry
	for rows.Next() {
		var seq, unique, partial int
		var entry indexEntry

		if err := rows.Scan(&seq, &entry.name, &unique, &entry.origin, &partial); err != nil {
			rows.Close()
			return err
		}
		entry.unique = unique == 1
		entry.partial = partial == 1
		entries = append(entries, entry)
	}
	// index_info below needs its own read, close this cursor first
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	// index_list returns the most recently created index first
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].name < entries[j].name })

	for _, entry := range entries {
		columns, err := e.indexColumns(ctx, entry.name)
		if err != nil {
			return err
		}

		switch entry.origin {
		case "pk":
			// Primary keys are handled separately
		case "u":
			if len(columns) == 1 {
				for i := range table.Columns {
					if table.Columns[i].Name == columns[0] {
						table.Columns[i].IsUnique = true
					}
				}
			} else if len(columns) > 1 {
				table.UniqueConstraints = append(table.UniqueConstraints, columns)
			}
		default:
			if len(columns) == 0 {
				continue
			}
			var stmt sql.NullString
			err := e.q.QueryRowContext(ctx,
				`SELECT sql FROM sqlite_master WHERE type = 'index' AND name = ?`, entry.name).Scan(&stmt)
			if err != nil && err != sql.ErrNoRows {
				return err
			}
			table.Indexes = append(table.Indexes, schema.Index{
				Name:     entry.name,
				Columns:  columns,
				IsUnique: entry.unique,
				Partial:  entry.partial,
				SQL:      stmt.String,
			})
		}
	}

	return nil
}

// indexColumns returns the named columns of an index in key order
func (e *SQLiteExtractor) indexColumns(ctx context.Context, indexName string) ([]string, error) {
	query := fmt.Sprintf("PRAGMA index_info(%s)", ident.Quote(indexName))
	rows, err := e.q.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var columns []string
	for rows.Next() {
		var seqno, cid int
		var colName sql.NullString

		if err := rows.Scan(&seqno, &cid, &colName); err != nil {
			return nil, err
		}

		// Expression columns have no name
		if colName.Valid {
			columns = append(columns, colName.String)
		}
	}

	return columns, rows.Err()
}

// ScanRows streams every row of the table, projected onto its columns in
// declaration order
func (e *SQLiteExtractor) ScanRows(ctx context.Context, table schema.Table, fn func(values []any) error) error {
	query := fmt.Sprintf("SELECT %s FROM %s", ident.QuoteList(table.ColumnNames()), ident.Quote(table.Name))

	rows, err := e.q.QueryContext(ctx, query)
	if err != nil {
		return err
	}
	defer rows.Close()

	return scanAll(rows, len(table.Columns), false, fn)
}

// scanAll feeds each row of a database/sql result set to fn. bytesAsText
// converts []byte values to strings for drivers that return text that way.
func scanAll(rows *sql.Rows, width int, bytesAsText bool, fn func(values []any) error) error {
	for rows.Next() {
		values := make([]any, width)
		ptrs := make([]any, width)
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return err
		}
		if bytesAsText {
			for i, v := range values {
				if b, ok := v.([]byte); ok {
					values[i] = string(b)
				}
			}
		}
		if err := fn(values); err != nil {
			return err
		}
	}
	return rows.Err()
}
