package formatter

import (
	"fmt"
	"io"
	"strings"

	"github.com/tordrt/tablegw/internal/schema"
)

// TextFormatter formats schema as compact text
type TextFormatter struct {
	writer io.Writer
}

// NewTextFormatter creates a new text formatter
func NewTextFormatter(w io.Writer) *TextFormatter {
	return &TextFormatter{writer: w}
}

// Format writes the schema in compact text format
func (f *TextFormatter) Format(s *schema.Schema) error {
	for i, table := range s.Tables {
		if i > 0 {
			_, _ = fmt.Fprintln(f.writer)
		}
		f.writeTable(f.writer, table, incomingRelations(table.Name, s))
	}
	return nil
}

func (f *TextFormatter) writeTable(w io.Writer, table schema.Table, incoming []IncomingRelation) {
	pk := ""
	if len(table.PrimaryKey) > 0 {
		pk = fmt.Sprintf(" (PK: %s)", strings.Join(table.PrimaryKey, ", "))
	}
	_, _ = fmt.Fprintf(w, "TABLE %s%s\n", table.Name, pk)

	for _, col := range table.Columns {
		parts := append([]string{col.Name + ":", typeName(col)}, columnConstraints(col)...)
		_, _ = fmt.Fprintf(w, "  %s\n", strings.Join(parts, " "))
	}

	for _, cols := range table.UniqueConstraints {
		_, _ = fmt.Fprintf(w, "  UNIQUE (%s)\n", strings.Join(cols, ", "))
	}

	if len(table.Relations) > 0 {
		_, _ = fmt.Fprintln(w)
		_, _ = fmt.Fprintln(w, "  RELATIONS:")
		for _, rel := range table.Relations {
			line := fmt.Sprintf("    %s → %s", rel.SourceColumn, target(rel.TargetTable, rel.TargetColumn))
			if actions := referentialActions(rel.OnUpdate, rel.OnDelete); actions != "" {
				line += " " + actions
			}
			_, _ = fmt.Fprintln(w, line)
		}
	}

	if len(incoming) > 0 {
		_, _ = fmt.Fprintln(w)
		_, _ = fmt.Fprintln(w, "  REFERENCED BY:")
		for _, rel := range incoming {
			_, _ = fmt.Fprintf(w, "    %s.%s\n", rel.SourceTable, rel.SourceColumn)
		}
	}

	if len(table.Indexes) > 0 {
		_, _ = fmt.Fprintln(w)
		_, _ = fmt.Fprintln(w, "  INDEXES:")
		for _, idx := range table.Indexes {
			line := fmt.Sprintf("    %s (%s)", idx.Name, strings.Join(idx.Columns, ", "))
			if flags := indexFlags(idx); flags != "" {
				line += " " + strings.ToUpper(flags)
			}
			_, _ = fmt.Fprintln(w, line)
		}
	}
}

// target renders a foreign key target, which may name only the table when
// the parent's primary key is implied
func target(table, column string) string {
	if column == "" {
		return table
	}
	return table + "." + column
}
