// Package ident validates and quotes SQL identifiers supplied by clients.
//
// Table and column names cannot be bound as statement parameters, so every
// name that ends up in SQL text must first pass Validate. Quote is applied on
// top of validation when the name is interpolated.
package ident

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// MaxLength is the longest identifier accepted.
const MaxLength = 64

var (
	// ErrEmpty is returned for an empty identifier.
	ErrEmpty = errors.New("identifier is empty")
	// ErrInvalid is returned when an identifier does not match the allowed grammar.
	ErrInvalid = errors.New("identifier must start with a letter or underscore and contain only letters, digits and underscores")
	// ErrReserved is returned for SQLite keywords and sqlite_ internal names.
	ErrReserved = errors.New("identifier is reserved")
)

var pattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Validate checks name against the identifier allow-list.
func Validate(name string) error {
	if name == "" {
		return ErrEmpty
	}
	if len(name) > MaxLength {
		return fmt.Errorf("%w: %q is longer than %d characters", ErrInvalid, name, MaxLength)
	}
	if !pattern.MatchString(name) {
		return fmt.Errorf("%w: %q", ErrInvalid, name)
	}
	upper := strings.ToUpper(name)
	if strings.HasPrefix(upper, "SQLITE_") {
		return fmt.Errorf("%w: %q uses the sqlite_ prefix", ErrReserved, name)
	}
	if _, ok := keywords[upper]; ok {
		return fmt.Errorf("%w: %q is an SQL keyword", ErrReserved, name)
	}
	return nil
}

// ValidateAll validates every name and returns the first failure.
func ValidateAll(names ...string) error {
	for _, name := range names {
		if err := Validate(name); err != nil {
			return err
		}
	}
	return nil
}

// Quote wraps name in double quotes, doubling any embedded quote.
func Quote(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// QuoteList quotes each name and joins them with ", ".
func QuoteList(names []string) string {
	quoted := make([]string, len(names))
	for i, name := range names {
		quoted[i] = Quote(name)
	}
	return strings.Join(quoted, ", ")
}

// keywords is the SQLite keyword list (https://www.sqlite.org/lang_keywords.html).
var keywords = map[string]struct{}{}

func init() {
	for _, kw := range strings.Fields(`
		ABORT ACTION ADD AFTER ALL ALTER ALWAYS ANALYZE AND AS ASC ATTACH AUTOINCREMENT
		BEFORE BEGIN BETWEEN BY CASCADE CASE CAST CHECK COLLATE COLUMN COMMIT CONFLICT
		CONSTRAINT CREATE CROSS CURRENT CURRENT_DATE CURRENT_TIME CURRENT_TIMESTAMP
		DATABASE DEFAULT DEFERRABLE DEFERRED DELETE DESC DETACH DISTINCT DO DROP EACH
		ELSE END ESCAPE EXCEPT EXCLUDE EXCLUSIVE EXISTS EXPLAIN FAIL FILTER FIRST
		FOLLOWING FOR FOREIGN FROM FULL GENERATED GLOB GROUP GROUPS HAVING IF IGNORE
		IMMEDIATE IN INDEX INDEXED INITIALLY INNER INSERT INSTEAD INTERSECT INTO IS
		ISNULL JOIN KEY LAST LEFT LIKE LIMIT MATCH MATERIALIZED NATURAL NO NOT NOTHING
		NOTNULL NULL NULLS OF OFFSET ON OR ORDER OTHERS OUTER OVER PARTITION PLAN
		PRAGMA PRECEDING PRIMARY QUERY RAISE RANGE RECURSIVE REFERENCES REGEXP REINDEX
		RELEASE RENAME REPLACE RESTRICT RETURNING RIGHT ROLLBACK ROW ROWS SAVEPOINT
		SELECT SET TABLE TEMP TEMPORARY THEN TIES TO TRANSACTION TRIGGER UNBOUNDED
		UNION UNIQUE UPDATE USING VACUUM VALUES VIEW VIRTUAL WHEN WHERE WINDOW WITH
		WITHOUT
		ROWID OID _ROWID_
	`) {
		keywords[kw] = struct{}{}
	}
}
