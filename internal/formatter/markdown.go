package formatter

import (
	"fmt"
	"io"
	"strings"

	"github.com/tordrt/tablegw/internal/schema"
)

// MarkdownFormatter formats schema as markdown
type MarkdownFormatter struct {
	writer io.Writer
}

// NewMarkdownFormatter creates a new markdown formatter
func NewMarkdownFormatter(w io.Writer) *MarkdownFormatter {
	return &MarkdownFormatter{writer: w}
}

// Format writes the schema in markdown format
func (f *MarkdownFormatter) Format(s *schema.Schema) error {
	_, _ = fmt.Fprintln(f.writer, "# Database Schema")
	_, _ = fmt.Fprintln(f.writer)

	for _, table := range s.Tables {
		f.writeTable(f.writer, table, incomingRelations(table.Name, s))
	}
	return nil
}

func (f *MarkdownFormatter) writeTable(w io.Writer, table schema.Table, incoming []IncomingRelation) {
	_, _ = fmt.Fprintf(w, "## %s\n\n", table.Name)

	_, _ = fmt.Fprintln(w, "### Columns")
	_, _ = fmt.Fprintln(w)
	for _, col := range table.Columns {
		if constraints := columnConstraints(col); len(constraints) > 0 {
			_, _ = fmt.Fprintf(w, "- **%s:** %s, %s\n", col.Name, typeName(col), strings.Join(constraints, ", "))
		} else {
			_, _ = fmt.Fprintf(w, "- **%s:** %s\n", col.Name, typeName(col))
		}
	}
	if len(table.PrimaryKey) > 1 {
		_, _ = fmt.Fprintf(w, "\nComposite primary key: (%s)\n", strings.Join(table.PrimaryKey, ", "))
	}
	for _, cols := range table.UniqueConstraints {
		_, _ = fmt.Fprintf(w, "\nUnique: (%s)\n", strings.Join(cols, ", "))
	}
	_, _ = fmt.Fprintln(w)

	if len(table.Relations) > 0 {
		_, _ = fmt.Fprintln(w, "### References")
		_, _ = fmt.Fprintln(w)
		for _, rel := range table.Relations {
			line := fmt.Sprintf("- %s → %s", rel.SourceColumn, target(rel.TargetTable, rel.TargetColumn))
			if actions := referentialActions(rel.OnUpdate, rel.OnDelete); actions != "" {
				line += fmt.Sprintf(" (%s)", actions)
			}
			_, _ = fmt.Fprintln(w, line)
		}
		_, _ = fmt.Fprintln(w)
	}

	if len(incoming) > 0 {
		_, _ = fmt.Fprintln(w, "### Referenced by")
		_, _ = fmt.Fprintln(w)
		for _, rel := range incoming {
			_, _ = fmt.Fprintf(w, "- %s.%s\n", rel.SourceTable, rel.SourceColumn)
		}
		_, _ = fmt.Fprintln(w)
	}

	if len(table.Indexes) > 0 {
		_, _ = fmt.Fprintln(w, "### Indexes")
		_, _ = fmt.Fprintln(w)
		for _, idx := range table.Indexes {
			line := fmt.Sprintf("- %s on (%s)", idx.Name, strings.Join(idx.Columns, ", "))
			if flags := indexFlags(idx); flags != "" {
				line += ", " + flags
			}
			_, _ = fmt.Fprintln(w, line)
		}
		_, _ = fmt.Fprintln(w)
	}
}
