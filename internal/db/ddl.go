package db

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/tordrt/tablegw/internal/ident"
	"github.com/tordrt/tablegw/internal/schema"
)

// CreateTableSQL renders a CREATE TABLE statement reproducing the table's
// columns, primary key, UNIQUE constraints, foreign keys and table options.
// Generated columns are rendered as plain columns; their expressions are not
// known here.
func CreateTableSQL(table schema.Table) string {
	rowIDAlias := table.HasRowIDAlias()

	var defs []string
	for _, col := range table.Columns {
		inlinePK := rowIDAlias && col.Name == table.PrimaryKey[0]
		defs = append(defs, columnDefinition(col, inlinePK))
	}

	if len(table.PrimaryKey) > 0 && !rowIDAlias {
		defs = append(defs, fmt.Sprintf("PRIMARY KEY (%s)", ident.QuoteList(table.PrimaryKey)))
	}

	for _, cols := range table.UniqueConstraints {
		defs = append(defs, fmt.Sprintf("UNIQUE (%s)", ident.QuoteList(cols)))
	}

	defs = append(defs, foreignKeyClauses(table.Relations)...)

	stmt := fmt.Sprintf("CREATE TABLE %s (%s)", ident.Quote(table.Name), strings.Join(defs, ", "))

	var options []string
	if table.WithoutRowID {
		options = append(options, "WITHOUT ROWID")
	}
	if table.Strict {
		options = append(options, "STRICT")
	}
	if len(options) > 0 {
		stmt += " " + strings.Join(options, ", ")
	}
	return stmt
}

func columnDefinition(col schema.Column, inlinePK bool) string {
	parts := []string{ident.Quote(col.Name)}

	if col.Type != "" {
		parts = append(parts, col.Type)
	}

	if inlinePK {
		parts = append(parts, "PRIMARY KEY")
	} else if !col.Nullable {
		parts = append(parts, "NOT NULL")
	}

	if col.IsUnique {
		parts = append(parts, "UNIQUE")
	}

	if col.DefaultValue != nil {
		parts = append(parts, "DEFAULT "+defaultExpr(*col.DefaultValue))
	}

	return strings.Join(parts, " ")
}

var literalDefault = regexp.MustCompile(`(?i)^(` +
	`[+-]?[0-9]+(\.[0-9]*)?([eE][+-]?[0-9]+)?` + // numbers
	`|'([^']|'')*'` + // string literals
	`|[xX]'[0-9A-Fa-f]*'` + // blob literals
	`|NULL|TRUE|FALSE|CURRENT_TIME|CURRENT_DATE|CURRENT_TIMESTAMP` +
	`|\(.*\)` + // already parenthesized
	`)$`)

// defaultExpr makes a stored default usable in a column definition; any
// expression that is not a plain literal must be parenthesized
func defaultExpr(stored string) string {
	if literalDefault.MatchString(stored) {
		return stored
	}
	return "(" + stored + ")"
}

// foreignKeyClauses renders one FOREIGN KEY clause per constraint, keeping
// composite keys together
func foreignKeyClauses(relations []schema.Relation) []string {
	var clauses []string

	for start := 0; start < len(relations); {
		end := start
		for end < len(relations) && relations[end].ConstraintID == relations[start].ConstraintID {
			end++
		}
		group := relations[start:end]
		start = end

		var from, to []string
		for _, rel := range group {
			from = append(from, rel.SourceColumn)
			if rel.TargetColumn != "" {
				to = append(to, rel.TargetColumn)
			}
		}

		clause := fmt.Sprintf("FOREIGN KEY (%s) REFERENCES %s", ident.QuoteList(from), ident.Quote(group[0].TargetTable))
		if len(to) == len(from) {
			clause += fmt.Sprintf(" (%s)", ident.QuoteList(to))
		}
		if action := group[0].OnUpdate; action != "" && action != "NO ACTION" {
			clause += " ON UPDATE " + action
		}
		if action := group[0].OnDelete; action != "" && action != "NO ACTION" {
			clause += " ON DELETE " + action
		}
		clauses = append(clauses, clause)
	}

	return clauses
}

// CreateIndexSQL renders a CREATE INDEX statement for an index on table
func CreateIndexSQL(table string, idx schema.Index) string {
	unique := ""
	if idx.IsUnique {
		unique = "UNIQUE "
	}
	return fmt.Sprintf("CREATE %sINDEX %s ON %s (%s)",
		unique, ident.Quote(idx.Name), ident.Quote(table), ident.QuoteList(idx.Columns))
}

// InsertSQL renders a parameterized INSERT for the given columns
func InsertSQL(table string, columns []string) string {
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(columns)), ", ")
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		ident.Quote(table), ident.QuoteList(columns), placeholders)
}
