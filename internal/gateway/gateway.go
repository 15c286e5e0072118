// Package gateway executes generic table and row mutations against a SQLite
// database. Row changes and column additions run as single statements in a
// transaction; column deletion and renaming rebuild the table.
package gateway

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/tordrt/tablegw/internal/db"
	"github.com/tordrt/tablegw/internal/ident"
	"github.com/tordrt/tablegw/internal/schema"
)

// Operation names, used in errors, events and metrics
const (
	OpListTables   = "list_tables"
	OpGetTable     = "get_table"
	OpInsertRow    = "add_row"
	OpUpdateRow    = "update_row"
	OpDeleteRow    = "delete_row"
	OpAddColumn    = "add_column"
	OpDeleteColumn = "delete_column"
	OpRenameColumn = "update_column"
	OpSearch       = "search"
)

// DefaultSearchField is the column Search matches when none is configured
const DefaultSearchField = "name"

// RowIDKey is the key under which every returned row carries its rowid
const RowIDKey = "rowid"

// ScratchPrefix names the temporary tables built during a rebuild. They are
// hidden from table listings.
const ScratchPrefix = "tablegw_rebuild_"

// Row maps column names to values, plus RowIDKey
type Row map[string]any

// TableData is the full content of a table
type TableData struct {
	Schema []string `json:"schema"`
	Rows   []Row    `json:"rows"`
}

// Options configures a Gateway
type Options struct {
	// SearchField is the column Search matches against
	SearchField string
}

// Gateway runs table operations against one SQLite database
type Gateway struct {
	db          *sql.DB
	extractor   *db.SQLiteExtractor
	searchField string
	locks       *tableLocks

	observersMu sync.RWMutex
	observers   []Observer

	// stageHook runs on entry to every rebuild stage; a non-nil error aborts it
	stageHook func(Stage) error
}

// New creates a gateway over the given client. The client stays owned by the
// caller.
func New(client *db.SQLiteClient, opts Options) (*Gateway, error) {
	field := opts.SearchField
	if field == "" {
		field = DefaultSearchField
	}
	if err := ident.Validate(field); err != nil {
		return nil, fmt.Errorf("invalid search field: %w", err)
	}

	return &Gateway{
		db:          client.GetDB(),
		extractor:   db.NewSQLiteExtractor(client),
		searchField: field,
		locks:       newTableLocks(),
	}, nil
}

// SearchField returns the column Search matches against
func (g *Gateway) SearchField() string {
	return g.searchField
}

// AddObserver registers an observer to receive lifecycle events
func (g *Gateway) AddObserver(observer Observer) {
	g.observersMu.Lock()
	defer g.observersMu.Unlock()
	g.observers = append(g.observers, observer)
}

// RemoveObserver unregisters an observer
func (g *Gateway) RemoveObserver(observer Observer) {
	g.observersMu.Lock()
	defer g.observersMu.Unlock()
	for i, o := range g.observers {
		if o == observer {
			g.observers = append(g.observers[:i], g.observers[i+1:]...)
			return
		}
	}
}

func (g *Gateway) notify(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	g.observersMu.RLock()
	defer g.observersMu.RUnlock()
	for _, observer := range g.observers {
		observer.OnEvent(event)
	}
}

// track publishes the start event of an operation and returns the func that
// publishes its end; call it deferred with the address of the named error.
func (g *Gateway) track(op, table string) func(*error) {
	start := time.Now()
	g.notify(Event{Type: EventOpStart, Op: op, Table: table, Timestamp: start})
	return func(errp *error) {
		g.notify(Event{Type: EventOpEnd, Op: op, Table: table, Duration: time.Since(start), Err: *errp})
	}
}

// ListTables returns user table names ordered by name
func (g *Gateway) ListTables(ctx context.Context) (tables []string, err error) {
	defer g.track(OpListTables, "")(&err)

	tables, err = g.extractor.ListTables(ctx, ScratchPrefix)
	if err != nil {
		return nil, engineError(OpListTables, "", err)
	}
	if tables == nil {
		tables = []string{}
	}
	return tables, nil
}

// GetTableData returns the column names of a table and all of its rows
// ordered by rowid
func (g *Gateway) GetTableData(ctx context.Context, table string) (data *TableData, err error) {
	defer g.track(OpGetTable, table)(&err)

	columns, err := g.tableColumns(ctx, g.extractor, OpGetTable, table)
	if err != nil {
		return nil, err
	}

	names := columnNames(columns)
	query := fmt.Sprintf("SELECT rowid, %s FROM %s ORDER BY rowid", ident.QuoteList(names), ident.Quote(table))
	rows, err := g.queryRows(ctx, query, names)
	if err != nil {
		return nil, engineError(OpGetTable, table, err)
	}

	return &TableData{Schema: names, Rows: rows}, nil
}

// InsertRow adds a row with the given column values and returns its rowid.
// Columns not listed get their default.
func (g *Gateway) InsertRow(ctx context.Context, table string, values map[string]any) (rowID int64, err error) {
	defer g.track(OpInsertRow, table)(&err)

	columns, args, err := prepareValues(OpInsertRow, table, values)
	if err != nil {
		return 0, err
	}

	unlock := g.locks.Lock(table)
	defer unlock()

	err = g.withTx(ctx, func(tx *sql.Tx) error {
		if err := g.requireColumns(ctx, tx, OpInsertRow, table, columns); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, db.InsertSQL(table, columns), args...)
		if err != nil {
			return err
		}
		rowID, err = res.LastInsertId()
		return err
	})
	if err != nil {
		return 0, engineError(OpInsertRow, table, err)
	}
	return rowID, nil
}

// UpdateRow overwrites the listed columns of one row in a single statement.
// A rowid that matches no row leaves the table unchanged and is not an error.
func (g *Gateway) UpdateRow(ctx context.Context, table string, rowID int64, values map[string]any) (err error) {
	defer g.track(OpUpdateRow, table)(&err)

	columns, args, err := prepareValues(OpUpdateRow, table, values)
	if err != nil {
		return err
	}

	assignments := make([]string, len(columns))
	for i, col := range columns {
		assignments[i] = ident.Quote(col) + " = ?"
	}
	stmt := fmt.Sprintf("UPDATE %s SET %s WHERE rowid = ?", ident.Quote(table), strings.Join(assignments, ", "))
	args = append(args, rowID)

	unlock := g.locks.Lock(table)
	defer unlock()

	err = g.withTx(ctx, func(tx *sql.Tx) error {
		if err := g.requireColumns(ctx, tx, OpUpdateRow, table, columns); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, stmt, args...)
		return err
	})
	if err != nil {
		return engineError(OpUpdateRow, table, err)
	}
	return nil
}

// DeleteRow removes the row with the given rowid. Deleting a missing row
// succeeds.
func (g *Gateway) DeleteRow(ctx context.Context, table string, rowID int64) (err error) {
	defer g.track(OpDeleteRow, table)(&err)

	if err := ident.Validate(table); err != nil {
		return newError(InvalidInput, OpDeleteRow, table, "", err)
	}

	unlock := g.locks.Lock(table)
	defer unlock()

	err = g.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := g.tableColumns(ctx, g.extractor.InTx(tx), OpDeleteRow, table); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s WHERE rowid = ?", ident.Quote(table)), rowID)
		return err
	})
	if err != nil {
		return engineError(OpDeleteRow, table, err)
	}
	return nil
}

// AddColumn appends a nullable TEXT column; existing rows read null for it
func (g *Gateway) AddColumn(ctx context.Context, table, column string) (err error) {
	defer g.track(OpAddColumn, table)(&err)

	if err := ident.Validate(table); err != nil {
		return newError(InvalidInput, OpAddColumn, table, "", err)
	}
	if err := ident.Validate(column); err != nil {
		return newError(InvalidInput, OpAddColumn, table, column, err)
	}

	unlock := g.locks.Lock(table)
	defer unlock()

	err = g.withTx(ctx, func(tx *sql.Tx) error {
		columns, err := g.tableColumns(ctx, g.extractor.InTx(tx), OpAddColumn, table)
		if err != nil {
			return err
		}
		if findColumn(columns, column) >= 0 {
			return newError(ConstraintViolation, OpAddColumn, table, column, ErrColumnExists)
		}
		_, err = tx.ExecContext(ctx, fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s TEXT", ident.Quote(table), ident.Quote(column)))
		return err
	})
	if err != nil {
		return engineError(OpAddColumn, table, err)
	}
	return nil
}

// DeleteColumn removes a column by rebuilding the table without it
func (g *Gateway) DeleteColumn(ctx context.Context, table, column string) (err error) {
	defer g.track(OpDeleteColumn, table)(&err)

	if err := ident.Validate(table); err != nil {
		return newError(InvalidInput, OpDeleteColumn, table, "", err)
	}
	if err := ident.Validate(column); err != nil {
		return newError(InvalidInput, OpDeleteColumn, table, column, err)
	}

	return g.rebuild(ctx, OpDeleteColumn, table, func(current *schema.Table) (*rebuildPlan, error) {
		return planDeleteColumn(current, column)
	})
}

// RenameColumn renames a column by rebuilding the table under the new shape.
// The column keeps its type, constraints and data.
func (g *Gateway) RenameColumn(ctx context.Context, table, oldName, newName string) (err error) {
	defer g.track(OpRenameColumn, table)(&err)

	if err := ident.Validate(table); err != nil {
		return newError(InvalidInput, OpRenameColumn, table, "", err)
	}
	if err := ident.Validate(oldName); err != nil {
		return newError(InvalidInput, OpRenameColumn, table, oldName, err)
	}
	if err := ident.Validate(newName); err != nil {
		return newError(InvalidInput, OpRenameColumn, table, newName, err)
	}
	if oldName == newName {
		return newError(InvalidInput, OpRenameColumn, table, newName, ErrSameName)
	}

	return g.rebuild(ctx, OpRenameColumn, table, func(current *schema.Table) (*rebuildPlan, error) {
		return planRenameColumn(current, oldName, newName)
	})
}

// Search returns the rows whose search field contains query, ordered by rowid
func (g *Gateway) Search(ctx context.Context, table, query string) (rows []Row, err error) {
	defer g.track(OpSearch, table)(&err)

	if query == "" {
		return nil, newError(InvalidInput, OpSearch, table, "", ErrEmptyQuery)
	}

	columns, err := g.tableColumns(ctx, g.extractor, OpSearch, table)
	if err != nil {
		return nil, err
	}
	if findColumn(columns, g.searchField) < 0 {
		return nil, newError(InvalidInput, OpSearch, table, g.searchField, ErrNoSearchField)
	}

	names := columnNames(columns)
	stmt := fmt.Sprintf(`SELECT rowid, %s FROM %s WHERE %s LIKE ? ESCAPE '\' ORDER BY rowid`,
		ident.QuoteList(names), ident.Quote(table), ident.Quote(g.searchField))

	rows, err = g.queryRows(ctx, stmt, names, "%"+escapeLike(query)+"%")
	if err != nil {
		return nil, engineError(OpSearch, table, err)
	}
	return rows, nil
}

// withTx runs fn in a transaction that is rolled back unless fn and the
// commit both succeed
func (g *Gateway) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := g.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	committed = true
	return nil
}

// tableColumns validates the table name and returns its columns, failing
// with NotFound when the table does not exist
func (g *Gateway) tableColumns(ctx context.Context, extractor *db.SQLiteExtractor, op, table string) ([]schema.Column, error) {
	if err := ident.Validate(table); err != nil {
		return nil, newError(InvalidInput, op, table, "", err)
	}

	exists, err := extractor.TableExists(ctx, table)
	if err != nil {
		return nil, engineError(op, table, err)
	}
	if !exists {
		return nil, newError(NotFound, op, table, "", ErrTableNotFound)
	}

	columns, err := extractor.Columns(ctx, table)
	if err != nil {
		return nil, engineError(op, table, err)
	}
	return columns, nil
}

// requireColumns fails with NotFound unless the table has every named
// column, and with InvalidInput when one of them is generated
func (g *Gateway) requireColumns(ctx context.Context, tx *sql.Tx, op, table string, names []string) error {
	columns, err := g.tableColumns(ctx, g.extractor.InTx(tx), op, table)
	if err != nil {
		return err
	}
	for _, name := range names {
		i := findColumn(columns, name)
		if i < 0 {
			return newError(NotFound, op, table, name, ErrColumnNotFound)
		}
		if columns[i].Generated {
			return newError(InvalidInput, op, table, name, ErrGeneratedColumn)
		}
	}
	return nil
}

// queryRows runs a query selecting rowid followed by the named columns
func (g *Gateway) queryRows(ctx context.Context, query string, names []string, args ...any) ([]Row, error) {
	rows, err := g.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := []Row{}
	for rows.Next() {
		var rowID int64
		values := make([]any, len(names))
		ptrs := make([]any, len(names)+1)
		ptrs[0] = &rowID
		for i := range values {
			ptrs[i+1] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}

		row := make(Row, len(names)+1)
		for i, name := range names {
			row[name] = values[i]
		}
		row[RowIDKey] = rowID
		result = append(result, row)
	}
	return result, rows.Err()
}

// prepareValues validates a column/value map and returns the columns in a
// stable order with their bindable values
func prepareValues(op, table string, values map[string]any) ([]string, []any, error) {
	if err := ident.Validate(table); err != nil {
		return nil, nil, newError(InvalidInput, op, table, "", err)
	}
	if len(values) == 0 {
		return nil, nil, newError(InvalidInput, op, table, "", ErrNoValues)
	}

	columns := make([]string, 0, len(values))
	for col := range values {
		if err := ident.Validate(col); err != nil {
			return nil, nil, newError(InvalidInput, op, table, col, err)
		}
		columns = append(columns, col)
	}
	sort.Strings(columns)

	args := make([]any, len(columns))
	for i, col := range columns {
		v, err := scalar(values[col])
		if err != nil {
			return nil, nil, newError(InvalidInput, op, table, col, err)
		}
		args[i] = v
	}
	return columns, args, nil
}

// scalar converts a decoded request value into a bindable scalar
func scalar(v any) (any, error) {
	switch val := v.(type) {
	case nil, string, bool, int64, float64:
		return val, nil
	case int:
		return int64(val), nil
	case int32:
		return int64(val), nil
	case float32:
		return float64(val), nil
	case json.Number:
		if n, err := val.Int64(); err == nil {
			return n, nil
		}
		f, err := val.Float64()
		if err != nil {
			return nil, fmt.Errorf("%w: invalid number %s", ErrUnsupportedValue, val)
		}
		return f, nil
	default:
		return nil, fmt.Errorf("%w: got %T", ErrUnsupportedValue, v)
	}
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

func columnNames(columns []schema.Column) []string {
	names := make([]string, len(columns))
	for i, col := range columns {
		names[i] = col.Name
	}
	return names
}

// findColumn returns the index of the named column or -1. Column names are
// case-insensitive in SQLite.
func findColumn(columns []schema.Column, name string) int {
	for i, col := range columns {
		if strings.EqualFold(col.Name, name) {
			return i
		}
	}
	return -1
}
