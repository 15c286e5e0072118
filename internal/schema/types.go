package schema

import "strings"

// Schema represents a complete database schema
type Schema struct {
	Tables []Table
}

// Table represents a database table
type Table struct {
	Name       string
	Columns    []Column
	Relations  []Relation
	Indexes    []Index
	PrimaryKey []string
	// UniqueConstraints holds multi-column UNIQUE constraints declared on the table
	UniqueConstraints [][]string
	// Strict and WithoutRowID are SQLite table options
	Strict       bool
	WithoutRowID bool
}

// Column represents a table column
type Column struct {
	Name         string
	Type         string
	Position     int
	Nullable     bool
	DefaultValue *string
	IsUnique     bool
	PrimaryKey   bool
	// Generated is set for VIRTUAL and STORED generated columns, whose
	// values are computed and cannot be written
	Generated bool
}

// Relation represents a foreign key relationship
type Relation struct {
	TargetTable  string
	TargetColumn string
	SourceColumn string
	Cardinality  string // 1:1, 1:N, N:1
	// ConstraintID groups the column pairs of a composite foreign key
	ConstraintID int
	OnUpdate     string
	OnDelete     string
}

// Index represents a database index
type Index struct {
	Name     string
	Columns  []string
	IsUnique bool
	Partial  bool
	// SQL is the CREATE INDEX statement as stored by the database, when available
	SQL string
}

// ColumnNames returns the column names in declaration order
func (t *Table) ColumnNames() []string {
	names := make([]string, len(t.Columns))
	for i, col := range t.Columns {
		names[i] = col.Name
	}
	return names
}

// Column looks up a column by name
func (t *Table) Column(name string) (Column, bool) {
	for _, col := range t.Columns {
		if col.Name == name {
			return col, true
		}
	}
	return Column{}, false
}

// HasRowIDAlias reports whether the table's primary key is a single INTEGER
// column, which SQLite treats as an alias for rowid.
func (t *Table) HasRowIDAlias() bool {
	if len(t.PrimaryKey) != 1 {
		return false
	}
	col, ok := t.Column(t.PrimaryKey[0])
	return ok && strings.EqualFold(col.Type, "INTEGER")
}

// GeneratedColumns returns the names of the table's generated columns
func (t *Table) GeneratedColumns() []string {
	var names []string
	for _, col := range t.Columns {
		if col.Generated {
			names = append(names, col.Name)
		}
	}
	return names
}
