package gateway

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/tordrt/tablegw/internal/db"
	"github.com/tordrt/tablegw/internal/ident"
	"github.com/tordrt/tablegw/internal/schema"
)

// Stage is a state of the rebuild state machine. A rebuild moves through
// Begin, Materialize, Swap and Commit in order and can reach Aborted from any
// of them.
type Stage string

const (
	StageBegin       Stage = "begin"
	StageMaterialize Stage = "materialize"
	StageSwap        Stage = "swap"
	StageCommit      Stage = "commit"
	StageAborted     Stage = "aborted"
)

// rebuildPlan is the replacement shape of a table
type rebuildPlan struct {
	target schema.Table
	// source holds the current column names, positionally matching target.Columns
	source []string
	// indexSQL recreates the surviving secondary indexes after the swap
	indexSQL []string
}

type planFunc func(current *schema.Table) (*rebuildPlan, error)

type rebuilder struct {
	g       *Gateway
	op      string
	table   string
	scratch string
	stage   Stage
}

// rebuild replaces a table with the shape computed by plan, inside a single
// transaction. Either the table has its new shape and all of its rows, or
// it is left exactly as it was.
func (g *Gateway) rebuild(ctx context.Context, op, table string, plan planFunc) error {
	unlock := g.locks.Lock(table)
	defer unlock()

	r := &rebuilder{g: g, op: op, table: table, scratch: ScratchPrefix + table}
	if err := r.run(ctx, plan); err != nil {
		g.notify(Event{Type: EventStage, Op: op, Table: table, Stage: StageAborted, Err: err})

		var gwErr *Error
		if errors.As(err, &gwErr) {
			return err
		}
		return newError(TransactionFailure, op, table, "", fmt.Errorf("rebuild failed during %s: %w", r.stage, err))
	}
	return nil
}

func (r *rebuilder) enter(stage Stage) error {
	r.stage = stage
	r.g.notify(Event{Type: EventStage, Op: r.op, Table: r.table, Stage: stage})
	if r.g.stageHook != nil {
		return r.g.stageHook(stage)
	}
	return nil
}

func (r *rebuilder) run(ctx context.Context, plan planFunc) error {
	// Connection-level pragmas must be set outside the transaction, so the
	// whole rebuild runs on one dedicated connection.
	conn, err := r.g.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("failed to acquire connection: %w", err)
	}
	defer conn.Close()

	restore, fkEnforced, err := prepareConn(ctx, conn)
	if err != nil {
		return err
	}
	defer restore()

	if err := r.enter(StageBegin); err != nil {
		return err
	}

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	committed := false
	defer func() {
		if committed {
			return
		}
		_ = tx.Rollback()
		// the scratch table only ever exists inside the rolled back
		// transaction, unless a crash left one behind
		_, _ = conn.ExecContext(context.WithoutCancel(ctx), "DROP TABLE IF EXISTS "+ident.Quote(r.scratch))
	}()

	extractor := r.g.extractor.InTx(tx)
	name, exists, err := extractor.TableName(ctx, r.table)
	if err != nil {
		return fmt.Errorf("failed to check table: %w", err)
	}
	if !exists {
		return newError(NotFound, r.op, r.table, "", ErrTableNotFound)
	}
	// the rebuilt table keeps its stored spelling
	r.table = name
	r.scratch = ScratchPrefix + name

	current, err := extractor.ExtractTable(ctx, r.table)
	if err != nil {
		return fmt.Errorf("failed to read table definition: %w", err)
	}
	if err := checkRebuildable(r.op, current); err != nil {
		return err
	}

	p, err := plan(current)
	if err != nil {
		return err
	}

	if err := r.enter(StageMaterialize); err != nil {
		return err
	}
	if err := r.materialize(ctx, tx, p); err != nil {
		return err
	}

	if err := r.enter(StageSwap); err != nil {
		return err
	}
	if err := r.swap(ctx, tx, p); err != nil {
		return err
	}

	if err := r.enter(StageCommit); err != nil {
		return err
	}
	if fkEnforced {
		if err := checkReferences(ctx, extractor, r.table); err != nil {
			return err
		}
		if err := checkForeignKeys(ctx, tx); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	committed = true

	return nil
}

// materialize creates the scratch table in the target shape and copies every
// row into it by position, keeping rowids
func (r *rebuilder) materialize(ctx context.Context, tx *sql.Tx, p *rebuildPlan) error {
	if _, err := tx.ExecContext(ctx, "DROP TABLE IF EXISTS "+ident.Quote(r.scratch)); err != nil {
		return fmt.Errorf("failed to drop stale scratch table: %w", err)
	}

	scratch := p.target
	scratch.Name = r.scratch
	if _, err := tx.ExecContext(ctx, db.CreateTableSQL(scratch)); err != nil {
		return fmt.Errorf("failed to create scratch table: %w", err)
	}

	targets := ident.QuoteList(p.target.ColumnNames())
	sources := ident.QuoteList(p.source)
	if !p.target.HasRowIDAlias() {
		// an INTEGER PRIMARY KEY column already carries the rowid
		targets = "rowid, " + targets
		sources = "rowid, " + sources
	}

	copyRows := fmt.Sprintf("INSERT INTO %s (%s) SELECT %s FROM %s",
		ident.Quote(r.scratch), targets, sources, ident.Quote(r.table))
	if _, err := tx.ExecContext(ctx, copyRows); err != nil {
		return fmt.Errorf("failed to copy rows: %w", err)
	}
	return nil
}

// swap replaces the original table with the scratch table and recreates the
// surviving indexes
func (r *rebuilder) swap(ctx context.Context, tx *sql.Tx, p *rebuildPlan) error {
	if _, err := tx.ExecContext(ctx, "DROP TABLE "+ident.Quote(r.table)); err != nil {
		return fmt.Errorf("failed to drop original table: %w", err)
	}

	rename := fmt.Sprintf("ALTER TABLE %s RENAME TO %s", ident.Quote(r.scratch), ident.Quote(r.table))
	if _, err := tx.ExecContext(ctx, rename); err != nil {
		return fmt.Errorf("failed to rename scratch table: %w", err)
	}

	for _, stmt := range p.indexSQL {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to recreate index: %w", err)
		}
	}
	return nil
}

// prepareConn switches off foreign key enforcement and modern ALTER TABLE
// RENAME reference rewriting for the duration of a rebuild. The returned func
// restores the previous settings.
func prepareConn(ctx context.Context, conn *sql.Conn) (restore func(), fkEnforced bool, err error) {
	var fk, legacy int
	if err := conn.QueryRowContext(ctx, "PRAGMA foreign_keys").Scan(&fk); err != nil {
		return nil, false, fmt.Errorf("failed to read foreign_keys: %w", err)
	}
	if err := conn.QueryRowContext(ctx, "PRAGMA legacy_alter_table").Scan(&legacy); err != nil {
		return nil, false, fmt.Errorf("failed to read legacy_alter_table: %w", err)
	}

	if _, err := conn.ExecContext(ctx, "PRAGMA foreign_keys = OFF"); err != nil {
		return nil, false, fmt.Errorf("failed to disable foreign keys: %w", err)
	}
	if _, err := conn.ExecContext(ctx, "PRAGMA legacy_alter_table = ON"); err != nil {
		return nil, false, fmt.Errorf("failed to enable legacy_alter_table: %w", err)
	}

	restore = func() {
		bg := context.WithoutCancel(ctx)
		_, _ = conn.ExecContext(bg, fmt.Sprintf("PRAGMA legacy_alter_table = %d", legacy))
		_, _ = conn.ExecContext(bg, fmt.Sprintf("PRAGMA foreign_keys = %d", fk))
	}
	return restore, fk == 1, nil
}

// checkReferences fails if another table has a foreign key naming a column
// the rebuilt table no longer has
func checkReferences(ctx context.Context, extractor *db.SQLiteExtractor, table string) error {
	columns, err := extractor.Columns(ctx, table)
	if err != nil {
		return fmt.Errorf("failed to read rebuilt columns: %w", err)
	}

	tables, err := extractor.ListTables(ctx, ScratchPrefix)
	if err != nil {
		return fmt.Errorf("failed to list tables: %w", err)
	}
	for _, name := range tables {
		if name == table {
			continue
		}
		child, err := extractor.ExtractTable(ctx, name)
		if err != nil {
			return fmt.Errorf("failed to read table %s: %w", name, err)
		}
		for _, rel := range child.Relations {
			if !strings.EqualFold(rel.TargetTable, table) || rel.TargetColumn == "" {
				continue
			}
			if findColumn(columns, rel.TargetColumn) < 0 {
				return fmt.Errorf("%s.%s references missing column %s.%s",
					name, rel.SourceColumn, table, rel.TargetColumn)
			}
		}
	}
	return nil
}

// checkForeignKeys fails if the rebuilt schema left any reference dangling
func checkForeignKeys(ctx context.Context, tx *sql.Tx) error {
	rows, err := tx.QueryContext(ctx, "PRAGMA foreign_key_check")
	if err != nil {
		return fmt.Errorf("foreign key check failed: %w", err)
	}
	defer rows.Close()

	if rows.Next() {
		var table string
		var rowID sql.NullInt64
		var parent string
		var fkid int
		if err := rows.Scan(&table, &rowID, &parent, &fkid); err != nil {
			return fmt.Errorf("foreign key check failed: %w", err)
		}
		return fmt.Errorf("foreign key violation in %s referencing %s", table, parent)
	}
	return rows.Err()
}

// checkRebuildable rejects tables whose definition cannot be reproduced by
// CreateTableSQL. Generated columns would lose their expressions and a
// WITHOUT ROWID table has no rowids to copy.
func checkRebuildable(op string, current *schema.Table) error {
	if current.WithoutRowID {
		return newError(InvalidInput, op, current.Name, "", ErrWithoutRowID)
	}
	if generated := current.GeneratedColumns(); len(generated) > 0 {
		return newError(InvalidInput, op, current.Name, generated[0], ErrGeneratedColumn)
	}
	return nil
}

// planDeleteColumn computes the table without the column. Constraints,
// foreign keys and indexes that involve the column are dropped with it.
func planDeleteColumn(current *schema.Table, column string) (*rebuildPlan, error) {
	pos := findColumn(current.Columns, column)
	if pos < 0 {
		return nil, newError(NotFound, OpDeleteColumn, current.Name, column, ErrColumnNotFound)
	}
	if len(current.Columns) == 1 {
		return nil, newError(InvalidInput, OpDeleteColumn, current.Name, column, ErrLastColumn)
	}
	deleted := current.Columns[pos].Name

	p := &rebuildPlan{target: schema.Table{Name: current.Name, Strict: current.Strict}}

	dropPK := containsName(current.PrimaryKey, deleted)
	if !dropPK {
		p.target.PrimaryKey = append([]string(nil), current.PrimaryKey...)
	}

	for _, col := range current.Columns {
		if col.Name == deleted {
			continue
		}
		if dropPK {
			col.PrimaryKey = false
		}
		col.Position = len(p.target.Columns)
		p.target.Columns = append(p.target.Columns, col)
		p.source = append(p.source, col.Name)
	}

	for _, cols := range current.UniqueConstraints {
		if !containsName(cols, deleted) {
			p.target.UniqueConstraints = append(p.target.UniqueConstraints, cols)
		}
	}

	p.target.Relations = keepRelations(current, func(rel schema.Relation) bool {
		return strings.EqualFold(rel.SourceColumn, deleted) ||
			(strings.EqualFold(rel.TargetTable, current.Name) && strings.EqualFold(rel.TargetColumn, deleted))
	})

	for _, idx := range current.Indexes {
		if containsName(idx.Columns, deleted) {
			continue
		}
		p.indexSQL = append(p.indexSQL, indexStatement(current.Name, idx))
	}

	return p, nil
}

// planRenameColumn computes the table with one column renamed. Everything
// that refers to the column follows the new name.
func planRenameColumn(current *schema.Table, oldName, newName string) (*rebuildPlan, error) {
	pos := findColumn(current.Columns, oldName)
	if pos < 0 {
		return nil, newError(NotFound, OpRenameColumn, current.Name, oldName, ErrColumnNotFound)
	}
	if other := findColumn(current.Columns, newName); other >= 0 && other != pos {
		return nil, newError(InvalidInput, OpRenameColumn, current.Name, newName, ErrColumnExists)
	}
	renamed := current.Columns[pos].Name

	rename := func(name string) string {
		if strings.EqualFold(name, renamed) {
			return newName
		}
		return name
	}
	renameAll := func(names []string) []string {
		out := make([]string, len(names))
		for i, n := range names {
			out[i] = rename(n)
		}
		return out
	}

	p := &rebuildPlan{target: schema.Table{Name: current.Name, Strict: current.Strict}}
	if len(current.PrimaryKey) > 0 {
		p.target.PrimaryKey = renameAll(current.PrimaryKey)
	}

	for _, col := range current.Columns {
		p.source = append(p.source, col.Name)
		col.Name = rename(col.Name)
		p.target.Columns = append(p.target.Columns, col)
	}

	for _, cols := range current.UniqueConstraints {
		p.target.UniqueConstraints = append(p.target.UniqueConstraints, renameAll(cols))
	}

	for _, rel := range current.Relations {
		rel.SourceColumn = rename(rel.SourceColumn)
		if strings.EqualFold(rel.TargetTable, current.Name) {
			rel.TargetColumn = rename(rel.TargetColumn)
		}
		p.target.Relations = append(p.target.Relations, rel)
	}

	for _, idx := range current.Indexes {
		if !containsName(idx.Columns, renamed) {
			p.indexSQL = append(p.indexSQL, indexStatement(current.Name, idx))
			continue
		}
		if idx.Partial {
			return nil, newError(InvalidInput, OpRenameColumn, current.Name, oldName,
				fmt.Errorf("%w %s", ErrPartialIndex, idx.Name))
		}
		idx.Columns = renameAll(idx.Columns)
		p.indexSQL = append(p.indexSQL, db.CreateIndexSQL(current.Name, idx))
	}

	return p, nil
}

// keepRelations returns the table's foreign keys minus every constraint
// that has a column matching drop
func keepRelations(table *schema.Table, drop func(schema.Relation) bool) []schema.Relation {
	dropped := map[int]bool{}
	for _, rel := range table.Relations {
		if drop(rel) {
			dropped[rel.ConstraintID] = true
		}
	}

	var kept []schema.Relation
	for _, rel := range table.Relations {
		if !dropped[rel.ConstraintID] {
			kept = append(kept, rel)
		}
	}
	return kept
}

// indexStatement prefers the index's stored definition, which keeps
// collations, sort order and expressions
func indexStatement(table string, idx schema.Index) string {
	if idx.SQL != "" {
		return idx.SQL
	}
	return db.CreateIndexSQL(table, idx)
}

func containsName(names []string, name string) bool {
	for _, n := range names {
		if strings.EqualFold(n, name) {
			return true
		}
	}
	return false
}
