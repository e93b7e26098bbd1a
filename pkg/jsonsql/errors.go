package jsonsql

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrParse is wrapped by every [*ParseError].
	ErrParse = errors.New("parse error")

	// ErrConstraint is wrapped by every [*ConstraintError].
	ErrConstraint = errors.New("constraint violation")

	// ErrDuplicateID is returned when a row would share its id with another row
	// of the same table.
	ErrDuplicateID = errors.New("duplicate id")

	// ErrMissingID is returned when a row would have no id or a null id.
	ErrMissingID = errors.New("missing id")

	// ErrUnknownIdentifier is wrapped by [*BindingError].
	ErrUnknownIdentifier = errors.New("unknown identifier")

	// ErrNoSuchTable is returned when renaming a table that does not exist.
	ErrNoSuchTable = errors.New("no such table")

	// ErrTableExists is returned when a rename target is already taken.
	ErrTableExists = errors.New("table already exists")

	// ErrNoSuchColumn and ErrColumnExists are returned by column changes.
	ErrNoSuchColumn = errors.New("no such column")
	ErrColumnExists = errors.New("column already exists")

	// ErrIDColumn is returned when a column change would touch the id column.
	ErrIDColumn = errors.New("id column cannot be renamed or dropped")

	// ErrUnsupportedValue is returned for values the codec cannot store, such as
	// NaN or Go types with no [Value] counterpart.
	ErrUnsupportedValue = errors.New("unsupported value")
)

// IDColumn is the column every row must carry.
const IDColumn = "id"

// ParseError reports malformed statement text. The parser never recovers, so
// there is at most one per statement.
type ParseError struct {
	// Pos is the byte offset of the offending token.
	Pos int

	// Token is the offending token text, or "end of input".
	Token string

	// Expected describes what the parser was looking for.
	Expected string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse error at offset %d: expected %s, got %s", e.Pos, e.Expected, e.Token)
}

func (e *ParseError) Unwrap() error { return ErrParse }

// ConstraintError reports an id uniqueness violation.
//
// It matches [ErrConstraint] and its cause ([ErrDuplicateID] or [ErrMissingID])
// with [errors.Is].
type ConstraintError struct {
	Table string
	ID    string
	Err   error
}

func (e *ConstraintError) Error() string {
	var parts []string

	if e.Table != "" {
		parts = append(parts, "table="+e.Table)
	}

	if e.ID != "" {
		parts = append(parts, "id="+e.ID)
	}

	msg := ErrConstraint.Error() + ": " + e.Err.Error()
	if len(parts) == 0 {
		return msg
	}

	return msg + " (" + strings.Join(parts, " ") + ")"
}

func (e *ConstraintError) Unwrap() []error { return []error{ErrConstraint, e.Err} }

// BindingError is returned by an evaluator built with [BindVariablesOnly] when
// a predicate names something that is not a caller variable.
type BindingError struct {
	Name string
}

func (e *BindingError) Error() string {
	return fmt.Sprintf("%s: %q", ErrUnknownIdentifier, e.Name)
}

func (e *BindingError) Unwrap() error { return ErrUnknownIdentifier }
