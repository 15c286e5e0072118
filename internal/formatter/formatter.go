// Package formatter renders table descriptions for the describe command.
package formatter

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/tordrt/tablegw/internal/schema"
)

// Output formats
const (
	FormatText     = "text"
	FormatMarkdown = "markdown"
)

// Formatter writes a schema to its destination
type Formatter interface {
	Format(s *schema.Schema) error
}

// tableWriter renders one table; both single-file formatters implement it
type tableWriter interface {
	writeTable(w io.Writer, table schema.Table, incoming []IncomingRelation)
}

// New returns the single-file formatter for format
func New(format string, w io.Writer) (Formatter, error) {
	switch format {
	case FormatText:
		return NewTextFormatter(w), nil
	case FormatMarkdown:
		return NewMarkdownFormatter(w), nil
	default:
		return nil, fmt.Errorf("invalid format: %s (must be 'text' or 'markdown')", format)
	}
}

// IncomingRelation is a foreign key of another table pointing at this one
type IncomingRelation struct {
	SourceTable  string
	SourceColumn string
	TargetColumn string
	OnDelete     string
}

// incomingRelations finds every foreign key referencing tableName
func incomingRelations(tableName string, s *schema.Schema) []IncomingRelation {
	var incoming []IncomingRelation
	for _, table := range s.Tables {
		for _, rel := range table.Relations {
			if !strings.EqualFold(rel.TargetTable, tableName) {
				continue
			}
			incoming = append(incoming, IncomingRelation{
				SourceTable:  table.Name,
				SourceColumn: rel.SourceColumn,
				TargetColumn: rel.TargetColumn,
				OnDelete:     rel.OnDelete,
			})
		}
	}
	return incoming
}

// sortedTables returns the tables ordered by name without touching s
func sortedTables(s *schema.Schema) []schema.Table {
	tables := make([]schema.Table, len(s.Tables))
	copy(tables, s.Tables)
	sort.Slice(tables, func(i, j int) bool {
		return tables[i].Name < tables[j].Name
	})
	return tables
}

// referencedTables lists the distinct tables a table points at, in order of
// first reference
func referencedTables(table schema.Table) []string {
	var targets []string
	seen := map[string]bool{}
	for _, rel := range table.Relations {
		if !seen[rel.TargetTable] {
			seen[rel.TargetTable] = true
			targets = append(targets, rel.TargetTable)
		}
	}
	return targets
}

// columnConstraints lists the constraint markers shown next to a column
func columnConstraints(col schema.Column) []string {
	var parts []string
	if col.PrimaryKey {
		parts = append(parts, "PK")
	}
	if col.IsUnique {
		parts = append(parts, "UNIQUE")
	}
	if !col.Nullable && !col.PrimaryKey {
		parts = append(parts, "NOT NULL")
	}
	if col.DefaultValue != nil {
		parts = append(parts, "DEFAULT "+*col.DefaultValue)
	}
	if col.Generated {
		parts = append(parts, "GENERATED")
	}
	return parts
}

// typeName shows columns declared without a type the way SQLite treats them
func typeName(col schema.Column) string {
	if col.Type == "" {
		return "BLOB"
	}
	return col.Type
}

// referentialActions renders the non-default ON UPDATE/ON DELETE actions
func referentialActions(onUpdate, onDelete string) string {
	var parts []string
	if onDelete != "" && !strings.EqualFold(onDelete, "NO ACTION") {
		parts = append(parts, "ON DELETE "+onDelete)
	}
	if onUpdate != "" && !strings.EqualFold(onUpdate, "NO ACTION") {
		parts = append(parts, "ON UPDATE "+onUpdate)
	}
	return strings.Join(parts, ", ")
}

func indexFlags(idx schema.Index) string {
	var flags []string
	if idx.IsUnique {
		flags = append(flags, "unique")
	}
	if idx.Partial {
		flags = append(flags, "partial")
	}
	return strings.Join(flags, ", ")
}
