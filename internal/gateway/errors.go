package gateway

import (
	"errors"
	"fmt"
	"strings"

	"github.com/mattn/go-sqlite3"
)

// Kind classifies a gateway failure so callers can map it to a response
type Kind int

const (
	KindUnknown Kind = iota
	InvalidInput
	NotFound
	ConstraintViolation
	TransactionFailure
)

func (k Kind) String() string {
	switch k {
	case InvalidInput:
		return "invalid_input"
	case NotFound:
		return "not_found"
	case ConstraintViolation:
		return "constraint_violation"
	case TransactionFailure:
		return "transaction_failure"
	default:
		return "unknown"
	}
}

var (
	ErrTableNotFound    = errors.New("table not found")
	ErrColumnNotFound   = errors.New("column not found")
	ErrColumnExists     = errors.New("column already exists")
	ErrNoValues         = errors.New("no values provided")
	ErrUnsupportedValue = errors.New("values must be strings, numbers, booleans or null")
	ErrLastColumn       = errors.New("cannot delete the only column of a table")
	ErrSameName         = errors.New("new column name equals the old one")
	ErrEmptyQuery       = errors.New("search query must not be empty")
	ErrNoSearchField    = errors.New("table has no search field")
	ErrPartialIndex     = errors.New("column is referenced by a partial index")
	ErrGeneratedColumn  = errors.New("generated columns cannot be written or rebuilt")
	ErrWithoutRowID     = errors.New("WITHOUT ROWID tables cannot be rebuilt")
)

// Error is returned by every gateway operation that fails
type Error struct {
	Kind   Kind
	Op     string // operation name, e.g. "delete_column"
	Table  string
	Column string // empty when the failure is not about a column
	Err    error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Op)
	if e.Table != "" {
		b.WriteString(" ")
		b.WriteString(e.Table)
		if e.Column != "" {
			b.WriteString(".")
			b.WriteString(e.Column)
		}
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the kind of a gateway error, or KindUnknown for anything else
func KindOf(err error) Kind {
	var gwErr *Error
	if errors.As(err, &gwErr) {
		return gwErr.Kind
	}
	return KindUnknown
}

// IsKind reports whether err is a gateway error of the given kind
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

func newError(kind Kind, op, table, column string, err error) *Error {
	return &Error{Kind: kind, Op: op, Table: table, Column: column, Err: err}
}

// engineError translates a database failure. Errors already classified keep
// their kind; constraint and datatype rejections become ConstraintViolation.
func engineError(op, table string, err error) error {
	var gwErr *Error
	if errors.As(err, &gwErr) {
		return err
	}

	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code {
		case sqlite3.ErrConstraint, sqlite3.ErrMismatch:
			return newError(ConstraintViolation, op, table, "", err)
		}
	}

	return newError(TransactionFailure, op, table, "", fmt.Errorf("database error: %w", err))
}
