package recstore

import (
	"errors"
	"strings"
)

var (
	// ErrValidation is wrapped by every [*ValidationError].
	ErrValidation = errors.New("validation failed")

	// ErrClosed is returned by every operation after [DB.Close].
	ErrClosed = errors.New("store closed")
)

// ValidationError reports a record rejected before any statement was built.
type ValidationError struct {
	// Field is the offending field, when known.
	Field string

	// Err is the validator's cause.
	Err error
}

func (e *ValidationError) Error() string {
	msg := ErrValidation.Error()
	if e.Field != "" {
		msg += ": " + e.Field
	}

	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}

	return msg
}

func (e *ValidationError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrValidation}
	}

	return []error{ErrValidation, e.Err}
}

// Error is the uniform error type returned by collection operations.
//
// The cause comes first, followed by record context:
//
//	table io: write /data/users.json: input/output error (table=users id=u1)
//
// Use [errors.As] to extract the fields and [errors.Is] for sentinels such as
// [tables.ErrIO], [ErrValidation] or [jsonsql.ErrConstraint].
type Error struct {
	Table string
	ID    string
	Err   error
}

// Error formats as "<cause> (table=X id=Y)".
func (e *Error) Error() string {
	if e == nil {
		return ""
	}

	var parts []string

	if e.Table != "" {
		parts = append(parts, "table="+e.Table)
	}

	if e.ID != "" {
		parts = append(parts, "id="+e.ID)
	}

	cause := ""
	if e.Err != nil {
		cause = e.Err.Error()
	}

	if len(parts) == 0 {
		return cause
	}

	suffix := "(" + strings.Join(parts, " ") + ")"
	if cause == "" {
		return suffix
	}

	return cause + " " + suffix
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}

	return e.Err
}

// withContext attaches record context at API boundaries. If err already is an
// *Error, missing fields are filled in place.
func withContext(err error, table, id string) error {
	if err == nil {
		return nil
	}

	existing := &Error{}
	if errors.As(err, &existing) {
		if existing.Table == "" {
			existing.Table = table
		}

		if existing.ID == "" {
			existing.ID = id
		}

		return existing
	}

	return &Error{Table: table, ID: id, Err: err}
}
