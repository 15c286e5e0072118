package gateway

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tordrt/tablegw/internal/db"
	"github.com/tordrt/tablegw/internal/schema"
)

type recordingObserver struct {
	events []Event
}

func (r *recordingObserver) OnEvent(event Event) {
	r.events = append(r.events, event)
}

func (r *recordingObserver) stages() []Stage {
	var stages []Stage
	for _, e := range r.events {
		if e.Type == EventStage {
			stages = append(stages, e.Stage)
		}
	}
	return stages
}

func scratchExists(t *testing.T, client *db.SQLiteClient) bool {
	t.Helper()
	var n int
	err := client.GetDB().QueryRow(
		`SELECT count(*) FROM sqlite_master WHERE name LIKE 'tablegw\_rebuild\_%' ESCAPE '\'`).Scan(&n)
	require.NoError(t, err)
	return n > 0
}

func TestDeleteColumn(t *testing.T) {
	gw, client := newTestGateway(t, demoSetup...)
	ctx := context.Background()

	require.NoError(t, gw.DeleteColumn(ctx, "EDF", "age"))

	data, err := gw.GetTableData(ctx, "EDF")
	require.NoError(t, err)
	want := &TableData{
		Schema: []string{"price", "name"},
		Rows: []Row{
			{"rowid": int64(1), "price": int64(10), "name": "John Doe"},
			{"rowid": int64(2), "price": int64(20), "name": "Jane Doe"},
			{"rowid": int64(3), "price": int64(30), "name": "Jim Beam"},
		},
	}
	if diff := cmp.Diff(want, data); diff != "" {
		t.Errorf("unexpected table data (-want +got):\n%s", diff)
	}

	columns, err := db.NewSQLiteExtractor(client).Columns(ctx, "EDF")
	require.NoError(t, err)
	assert.Equal(t, "INTEGER", columns[0].Type)
	assert.Equal(t, "TEXT", columns[1].Type)
	assert.False(t, scratchExists(t, client))
}

func TestAddThenDeleteColumnIsNoop(t *testing.T) {
	gw, _ := newTestGateway(t, demoSetup...)
	ctx := context.Background()

	before, err := gw.GetTableData(ctx, "ABC")
	require.NoError(t, err)

	require.NoError(t, gw.AddColumn(ctx, "ABC", "rating"))
	require.NoError(t, gw.DeleteColumn(ctx, "ABC", "rating"))

	after, err := gw.GetTableData(ctx, "ABC")
	require.NoError(t, err)
	if diff := cmp.Diff(before, after); diff != "" {
		t.Errorf("table changed (-before +after):\n%s", diff)
	}
}

func TestDeleteColumnKeepsRowIDs(t *testing.T) {
	gw, _ := newTestGateway(t, demoSetup...)
	ctx := context.Background()

	require.NoError(t, gw.DeleteRow(ctx, "EDF", 2))
	require.NoError(t, gw.DeleteColumn(ctx, "EDF", "price"))

	data, err := gw.GetTableData(ctx, "EDF")
	require.NoError(t, err)
	require.Len(t, data.Rows, 2)
	assert.Equal(t, int64(1), data.Rows[0][RowIDKey])
	assert.Equal(t, int64(3), data.Rows[1][RowIDKey])

	// new rows continue after the highest surviving rowid
	rowID, err := gw.InsertRow(ctx, "EDF", map[string]any{"name": "New"})
	require.NoError(t, err)
	assert.Equal(t, int64(4), rowID)
}

func TestDeleteColumnRejected(t *testing.T) {
	gw, _ := newTestGateway(t, append(demoSetup, `CREATE TABLE single (only_col TEXT)`)...)
	ctx := context.Background()

	err := gw.DeleteColumn(ctx, "EDF", "salary")
	assert.True(t, IsKind(err, NotFound), "got %v", err)
	assert.ErrorIs(t, err, ErrColumnNotFound)

	err = gw.DeleteColumn(ctx, "single", "only_col")
	assert.True(t, IsKind(err, InvalidInput), "got %v", err)
	assert.ErrorIs(t, err, ErrLastColumn)

	err = gw.DeleteColumn(ctx, "EDF", "rowid")
	assert.True(t, IsKind(err, InvalidInput), "got %v", err)

	data, err := gw.GetTableData(ctx, "EDF")
	require.NoError(t, err)
	if diff := cmp.Diff(edfRows(), data.Rows); diff != "" {
		t.Errorf("table changed (-want +got):\n%s", diff)
	}
}

func TestRenameColumn(t *testing.T) {
	gw, client := newTestGateway(t, demoSetup...)
	ctx := context.Background()

	require.NoError(t, gw.RenameColumn(ctx, "EDF", "name", "full_name"))

	data, err := gw.GetTableData(ctx, "EDF")
	require.NoError(t, err)
	assert.Equal(t, []string{"price", "full_name", "age"}, data.Schema)

	want := edfRows()
	for _, row := range want {
		row["full_name"] = row["name"]
		delete(row, "name")
	}
	if diff := cmp.Diff(want, data.Rows); diff != "" {
		t.Errorf("unexpected rows (-want +got):\n%s", diff)
	}

	columns, err := db.NewSQLiteExtractor(client).Columns(ctx, "EDF")
	require.NoError(t, err)
	assert.Equal(t, "TEXT", columns[1].Type)
	assert.False(t, scratchExists(t, client))
}

func TestRenameColumnCaseOnly(t *testing.T) {
	gw, _ := newTestGateway(t, demoSetup...)
	ctx := context.Background()

	require.NoError(t, gw.RenameColumn(ctx, "EDF", "name", "Name"))

	data, err := gw.GetTableData(ctx, "EDF")
	require.NoError(t, err)
	assert.Equal(t, []string{"price", "Name", "age"}, data.Schema)
	assert.Equal(t, "John Doe", data.Rows[0]["Name"])
}

func TestRenameColumnRejected(t *testing.T) {
	gw, _ := newTestGateway(t, demoSetup...)
	ctx := context.Background()

	tests := []struct {
		name     string
		old, new string
		kind     Kind
	}{
		{"missing column", "salary", "pay", NotFound},
		{"target exists", "name", "age", InvalidInput},
		{"same name", "name", "name", InvalidInput},
		{"unsafe new name", "name", "x\"; DROP TABLE ABC; --", InvalidInput},
		{"keyword new name", "name", "table", InvalidInput},
		{"unsafe old name", "na-me", "title", InvalidInput},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := gw.RenameColumn(ctx, "EDF", tt.old, tt.new)
			assert.Equal(t, tt.kind, KindOf(err), "got %v", err)
		})
	}

	data, err := gw.GetTableData(ctx, "EDF")
	require.NoError(t, err)
	assert.Equal(t, []string{"price", "name", "age"}, data.Schema)
	tables, err := gw.ListTables(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"ABC", "EDF"}, tables)
}

var usersSetup = []string{
	`CREATE TABLE users (
		id INTEGER PRIMARY KEY,
		username TEXT NOT NULL UNIQUE,
		email TEXT DEFAULT 'none',
		team TEXT
	)`,
	`CREATE INDEX idx_users_team ON users (team)`,
	`CREATE INDEX idx_users_email ON users (email DESC)`,
	`INSERT INTO users (id, username, team) VALUES (7, 'ann', 'red'), (9, 'bob', 'blue')`,
}

func TestRebuildPreservesTableDefinition(t *testing.T) {
	gw, client := newTestGateway(t, usersSetup...)
	ctx := context.Background()
	extractor := db.NewSQLiteExtractor(client)

	require.NoError(t, gw.RenameColumn(ctx, "users", "username", "login"))

	table, err := extractor.ExtractTable(ctx, "users")
	require.NoError(t, err)
	assert.Equal(t, []string{"id", "login", "email", "team"}, table.ColumnNames())
	assert.True(t, table.HasRowIDAlias())

	login, _ := table.Column("login")
	assert.False(t, login.Nullable)
	assert.True(t, login.IsUnique)
	email, _ := table.Column("email")
	require.NotNil(t, email.DefaultValue)
	assert.Equal(t, "'none'", *email.DefaultValue)

	var indexes []string
	for _, idx := range table.Indexes {
		indexes = append(indexes, idx.Name)
	}
	assert.Equal(t, []string{"idx_users_email", "idx_users_team"}, indexes)

	// rowids are the primary key values
	data, err := gw.GetTableData(ctx, "users")
	require.NoError(t, err)
	require.Len(t, data.Rows, 2)
	assert.Equal(t, int64(7), data.Rows[0][RowIDKey])
	assert.Equal(t, int64(7), data.Rows[0]["id"])
	assert.Equal(t, "ann", data.Rows[0]["login"])

	// constraints are still enforced
	_, err = gw.InsertRow(ctx, "users", map[string]any{"login": "ann"})
	assert.True(t, IsKind(err, ConstraintViolation), "got %v", err)
	_, err = gw.InsertRow(ctx, "users", map[string]any{"team": "red"})
	assert.True(t, IsKind(err, ConstraintViolation), "got %v", err)
}

func TestDeleteColumnDropsDependentIndexes(t *testing.T) {
	gw, client := newTestGateway(t, usersSetup...)
	ctx := context.Background()

	require.NoError(t, gw.DeleteColumn(ctx, "users", "team"))

	table, err := db.NewSQLiteExtractor(client).ExtractTable(ctx, "users")
	require.NoError(t, err)
	require.Len(t, table.Indexes, 1)
	assert.Equal(t, "idx_users_email", table.Indexes[0].Name)
}

func TestDeleteColumnPrimaryKey(t *testing.T) {
	gw, client := newTestGateway(t, usersSetup...)
	ctx := context.Background()

	require.NoError(t, gw.DeleteColumn(ctx, "users", "id"))

	table, err := db.NewSQLiteExtractor(client).ExtractTable(ctx, "users")
	require.NoError(t, err)
	assert.Empty(t, table.PrimaryKey)

	// the former alias values stay the rowids
	data, err := gw.GetTableData(ctx, "users")
	require.NoError(t, err)
	require.Len(t, data.Rows, 2)
	assert.Equal(t, int64(7), data.Rows[0][RowIDKey])
	assert.Equal(t, int64(9), data.Rows[1][RowIDKey])
}

func TestRenameColumnPartialIndex(t *testing.T) {
	gw, _ := newTestGateway(t, `CREATE TABLE p (a TEXT, b TEXT)`, `CREATE INDEX idx_p ON p (a) WHERE b IS NOT NULL`)
	ctx := context.Background()

	err := gw.RenameColumn(ctx, "p", "a", "c")
	assert.True(t, IsKind(err, InvalidInput), "got %v", err)
	assert.ErrorIs(t, err, ErrPartialIndex)

	// the stored predicate still names b, so recreating the index fails and
	// the rebuild is rolled back
	err = gw.RenameColumn(ctx, "p", "b", "d")
	assert.True(t, IsKind(err, TransactionFailure), "got %v", err)

	data, err := gw.GetTableData(ctx, "p")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, data.Schema)
}

func TestRebuildWithForeignKeys(t *testing.T) {
	gw, client := newTestGatewayWithOptions(t, []db.SQLiteOption{db.WithForeignKeys(true)},
		`CREATE TABLE users (id INTEGER PRIMARY KEY, name TEXT)`,
		`CREATE TABLE orders (
			user_id INTEGER REFERENCES users (id) ON DELETE CASCADE,
			note TEXT,
			total REAL
		)`,
		`INSERT INTO users VALUES (1, 'ann'), (2, 'bob')`,
		`INSERT INTO orders VALUES (1, 'first', 9.5), (2, 'second', 3)`,
	)
	ctx := context.Background()

	// rebuilding the parent must not cascade into the child
	require.NoError(t, gw.RenameColumn(ctx, "users", "name", "full_name"))
	orders, err := gw.GetTableData(ctx, "orders")
	require.NoError(t, err)
	assert.Len(t, orders.Rows, 2)

	// the child keeps its foreign key
	require.NoError(t, gw.DeleteColumn(ctx, "orders", "note"))
	table, err := db.NewSQLiteExtractor(client).ExtractTable(ctx, "orders")
	require.NoError(t, err)
	require.Len(t, table.Relations, 1)
	assert.Equal(t, "users", table.Relations[0].TargetTable)
	assert.Equal(t, "CASCADE", table.Relations[0].OnDelete)

	// enforcement is back on for the pooled connections
	_, err = gw.InsertRow(ctx, "orders", map[string]any{"user_id": 42})
	assert.True(t, IsKind(err, ConstraintViolation), "got %v", err)

	// renaming a referenced parent column would orphan the child's key
	err = gw.RenameColumn(ctx, "users", "id", "user_id")
	assert.True(t, IsKind(err, TransactionFailure), "got %v", err)
	parent, err := gw.GetTableData(ctx, "users")
	require.NoError(t, err)
	assert.Equal(t, []string{"id", "full_name"}, parent.Schema)
}

func TestRebuildRollsBackOnFailure(t *testing.T) {
	for _, failAt := range []Stage{StageBegin, StageMaterialize, StageSwap, StageCommit} {
		t.Run(string(failAt), func(t *testing.T) {
			gw, client := newTestGateway(t, append(demoSetup, `CREATE INDEX idx_edf_name ON EDF (name)`)...)
			ctx := context.Background()
			injected := errors.New("injected failure")

			gw.stageHook = func(stage Stage) error {
				if stage == failAt {
					return injected
				}
				return nil
			}

			err := gw.DeleteColumn(ctx, "EDF", "age")
			require.Error(t, err)
			assert.True(t, IsKind(err, TransactionFailure), "got %v", err)
			assert.ErrorIs(t, err, injected)

			gw.stageHook = nil
			data, err := gw.GetTableData(ctx, "EDF")
			require.NoError(t, err)
			want := &TableData{Schema: []string{"price", "name", "age"}, Rows: edfRows()}
			if diff := cmp.Diff(want, data); diff != "" {
				t.Errorf("table changed after failed rebuild (-want +got):\n%s", diff)
			}

			table, err := db.NewSQLiteExtractor(client).ExtractTable(ctx, "EDF")
			require.NoError(t, err)
			require.Len(t, table.Indexes, 1)
			assert.Equal(t, "idx_edf_name", table.Indexes[0].Name)
			assert.False(t, scratchExists(t, client))
		})
	}
}

func TestRebuildReplacesStaleScratchTable(t *testing.T) {
	gw, client := newTestGateway(t, append(demoSetup,
		`CREATE TABLE tablegw_rebuild_EDF (leftover TEXT)`,
		`INSERT INTO tablegw_rebuild_EDF VALUES ('junk')`)...)
	ctx := context.Background()

	require.NoError(t, gw.RenameColumn(ctx, "EDF", "age", "years"))

	data, err := gw.GetTableData(ctx, "EDF")
	require.NoError(t, err)
	assert.Equal(t, []string{"price", "name", "years"}, data.Schema)
	assert.Len(t, data.Rows, 3)
	assert.False(t, scratchExists(t, client))
}

func TestRebuildEvents(t *testing.T) {
	gw, _ := newTestGateway(t, demoSetup...)
	ctx := context.Background()
	observer := &recordingObserver{}
	gw.AddObserver(observer)

	require.NoError(t, gw.DeleteColumn(ctx, "EDF", "age"))

	require.NotEmpty(t, observer.events)
	first, last := observer.events[0], observer.events[len(observer.events)-1]
	assert.Equal(t, EventOpStart, first.Type)
	assert.Equal(t, EventOpEnd, last.Type)
	assert.Equal(t, OpDeleteColumn, last.Op)
	assert.Equal(t, "EDF", last.Table)
	assert.NoError(t, last.Err)
	assert.Equal(t, []Stage{StageBegin, StageMaterialize, StageSwap, StageCommit}, observer.stages())

	observer.events = nil
	gw.stageHook = func(stage Stage) error {
		if stage == StageSwap {
			return errors.New("boom")
		}
		return nil
	}
	require.Error(t, gw.DeleteColumn(ctx, "EDF", "name"))
	assert.Equal(t, []Stage{StageBegin, StageMaterialize, StageSwap, StageAborted}, observer.stages())
	last = observer.events[len(observer.events)-1]
	assert.Equal(t, EventOpEnd, last.Type)
	assert.True(t, IsKind(last.Err, TransactionFailure))

	gw.RemoveObserver(observer)
	observer.events = nil
	gw.stageHook = nil
	_, err := gw.ListTables(ctx)
	require.NoError(t, err)
	assert.Empty(t, observer.events)
}

func TestPlanDeleteColumnDropsCompositeConstraints(t *testing.T) {
	current := &schema.Table{
		Name:       "items",
		PrimaryKey: []string{"a", "b"},
		Columns: []schema.Column{
			{Name: "a", Type: "TEXT", PrimaryKey: true, Nullable: true},
			{Name: "b", Type: "TEXT", PrimaryKey: true, Nullable: true},
			{Name: "c", Type: "INTEGER", Nullable: true},
			{Name: "d", Type: "INTEGER", Nullable: true},
		},
		UniqueConstraints: [][]string{{"c", "d"}, {"a", "d"}},
		Relations: []schema.Relation{
			{ConstraintID: 0, SourceColumn: "c", TargetTable: "p", TargetColumn: "x"},
			{ConstraintID: 0, SourceColumn: "d", TargetTable: "p", TargetColumn: "y"},
			{ConstraintID: 1, SourceColumn: "a", TargetTable: "q", TargetColumn: "z"},
		},
		Indexes: []schema.Index{
			{Name: "idx_c", Columns: []string{"c"}},
			{Name: "idx_ad", Columns: []string{"a", "d"}, SQL: `CREATE INDEX idx_ad ON items (a, d)`},
		},
	}

	p, err := planDeleteColumn(current, "C")
	require.NoError(t, err)

	assert.Equal(t, []string{"a", "b", "d"}, p.target.ColumnNames())
	assert.Equal(t, []string{"a", "b", "d"}, p.source)
	assert.Equal(t, []string{"a", "b"}, p.target.PrimaryKey)
	assert.Equal(t, [][]string{{"a", "d"}}, p.target.UniqueConstraints)
	require.Len(t, p.target.Relations, 1)
	assert.Equal(t, "q", p.target.Relations[0].TargetTable)
	assert.Equal(t, []string{`CREATE INDEX idx_ad ON items (a, d)`}, p.indexSQL)

	p, err = planDeleteColumn(current, "a")
	require.NoError(t, err)
	assert.Empty(t, p.target.PrimaryKey)
	for _, col := range p.target.Columns {
		assert.False(t, col.PrimaryKey, "column %s", col.Name)
	}
}

func TestPlanRenameColumnFollowsReferences(t *testing.T) {
	current := &schema.Table{
		Name:       "nodes",
		PrimaryKey: []string{"id"},
		Columns: []schema.Column{
			{Name: "id", Type: "INTEGER", PrimaryKey: true},
			{Name: "parent", Type: "INTEGER", Nullable: true},
		},
		Relations: []schema.Relation{
			{ConstraintID: 0, SourceColumn: "parent", TargetTable: "nodes", TargetColumn: "id"},
		},
		Indexes: []schema.Index{
			{Name: "idx_parent", Columns: []string{"parent", "id"}, SQL: `CREATE INDEX idx_parent ON nodes (parent, id)`},
		},
	}

	p, err := planRenameColumn(current, "id", "node_id")
	require.NoError(t, err)

	assert.Equal(t, []string{"node_id", "parent"}, p.target.ColumnNames())
	assert.Equal(t, []string{"id", "parent"}, p.source)
	assert.Equal(t, []string{"node_id"}, p.target.PrimaryKey)
	assert.True(t, p.target.HasRowIDAlias())
	assert.Equal(t, "node_id", p.target.Relations[0].TargetColumn)
	assert.Equal(t, []string{`CREATE INDEX "idx_parent" ON "nodes" ("parent", "node_id")`}, p.indexSQL)

	// the current table description is left untouched
	assert.Equal(t, "id", current.Columns[0].Name)
	assert.Equal(t, "id", current.Relations[0].TargetColumn)
}

func tableDefinition(t *testing.T, client *db.SQLiteClient, table string) string {
	t.Helper()
	var stmt string
	err := client.GetDB().QueryRow(`SELECT sql FROM sqlite_master WHERE type = 'table' AND name = ?`, table).Scan(&stmt)
	require.NoError(t, err)
	return stmt
}

func TestRebuildRejectsGeneratedColumns(t *testing.T) {
	tests := []struct {
		name   string
		create string
		column string
	}{
		{
			name:   "stored",
			create: `CREATE TABLE g (a INTEGER, b INTEGER, d TEXT, c INTEGER GENERATED ALWAYS AS (a + b) STORED)`,
			column: "d",
		},
		{
			name:   "virtual",
			create: `CREATE TABLE g (a INTEGER, b INTEGER, c INTEGER GENERATED ALWAYS AS (a + b) VIRTUAL)`,
			column: "b",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gw, client := newTestGateway(t, tt.create, `INSERT INTO g (a, b) VALUES (1, 2)`)
			ctx := context.Background()
			before := tableDefinition(t, client, "g")

			err := gw.DeleteColumn(ctx, "g", tt.column)
			assert.True(t, IsKind(err, InvalidInput), "DeleteColumn: got %v", err)
			assert.ErrorIs(t, err, ErrGeneratedColumn)

			err = gw.RenameColumn(ctx, "g", "a", "x")
			assert.True(t, IsKind(err, InvalidInput), "RenameColumn: got %v", err)
			assert.ErrorIs(t, err, ErrGeneratedColumn)

			assert.Equal(t, before, tableDefinition(t, client, "g"))
			assert.False(t, scratchExists(t, client))

			data, err := gw.GetTableData(ctx, "g")
			require.NoError(t, err)
			assert.Contains(t, data.Schema, "c")
			require.Len(t, data.Rows, 1)
			assert.Equal(t, int64(3), data.Rows[0]["c"])
		})
	}
}

func TestRebuildKeepsStrictTables(t *testing.T) {
	gw, client := newTestGateway(t,
		`CREATE TABLE s (id INTEGER PRIMARY KEY, qty INTEGER, note TEXT) STRICT`,
		`INSERT INTO s (qty, note) VALUES (4, 'four')`)
	ctx := context.Background()

	require.NoError(t, gw.DeleteColumn(ctx, "s", "note"))
	require.NoError(t, gw.RenameColumn(ctx, "s", "qty", "amount"))

	table, err := db.NewSQLiteExtractor(client).ExtractTable(ctx, "s")
	require.NoError(t, err)
	assert.True(t, table.Strict)
	assert.Equal(t, []string{"id", "amount"}, table.ColumnNames())

	_, err = gw.InsertRow(ctx, "s", map[string]any{"amount": "many"})
	assert.True(t, IsKind(err, ConstraintViolation), "got %v", err)

	data, err := gw.GetTableData(ctx, "s")
	require.NoError(t, err)
	require.Len(t, data.Rows, 1)
	assert.Equal(t, int64(4), data.Rows[0]["amount"])
}

func TestRebuildRejectsWithoutRowIDTables(t *testing.T) {
	gw, client := newTestGateway(t, `CREATE TABLE w (k TEXT PRIMARY KEY, v TEXT, extra TEXT) WITHOUT ROWID`)
	ctx := context.Background()
	before := tableDefinition(t, client, "w")

	err := gw.DeleteColumn(ctx, "w", "extra")
	assert.True(t, IsKind(err, InvalidInput), "got %v", err)
	assert.ErrorIs(t, err, ErrWithoutRowID)

	err = gw.RenameColumn(ctx, "w", "v", "value")
	assert.True(t, IsKind(err, InvalidInput), "got %v", err)

	assert.Equal(t, before, tableDefinition(t, client, "w"))
}
