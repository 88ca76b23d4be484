package state

import (
	"errors"
	"fmt"
)

// Sentinel errors for schema construction and validation.
var (
	// ErrEmptySchema indicates a schema was declared without fields.
	ErrEmptySchema = errors.New("schema must declare at least one field")

	// ErrInvalidMaxAppend indicates a non-positive append bound.
	ErrInvalidMaxAppend = errors.New("max_append must be a positive integer")

	// ErrUnknownField indicates an update names a field the schema does not declare.
	ErrUnknownField = errors.New("unknown field")

	// ErrTypeMismatch indicates an update value does not match the declared type.
	ErrTypeMismatch = errors.New("type mismatch")

	// ErrUnknownType indicates a type name that ParseType does not recognize.
	ErrUnknownType = errors.New("unknown field type")

	// ErrUnknownReducer indicates a reducer name that ParseReducer does not recognize.
	ErrUnknownReducer = errors.New("unknown reducer")

	// ErrUnsupportedValue indicates Go data that has no Value representation.
	ErrUnsupportedValue = errors.New("unsupported value type")
)

// FieldError describes a validation failure for a single field.
type FieldError struct {
	// Field is the offending field name.
	Field string
	// Expected is the declared type name (empty for unknown fields).
	Expected string
	// Actual is the kind of the offending value (empty for unknown fields).
	Actual string
	// Err is ErrUnknownField or ErrTypeMismatch.
	Err error
}

// Error implements the error interface.
func (e *FieldError) Error() string {
	if errors.Is(e.Err, ErrUnknownField) {
		return fmt.Sprintf("%v %q", e.Err, e.Field)
	}
	return fmt.Sprintf("field %q: %v: expected %s, got %s", e.Field, e.Err, e.Expected, e.Actual)
}

// Unwrap returns the underlying sentinel for errors.Is support.
func (e *FieldError) Unwrap() error {
	return e.Err
}
