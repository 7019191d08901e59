package schema

import "fmt"

// ErrorKind classifies a per-field schema violation.
type ErrorKind string

const (
	// KindMissingField means a required key is absent.
	KindMissingField ErrorKind = "missing_field"
	// KindTypeMismatch means a key holds a value of the wrong type or
	// a tuple has the wrong number of elements.
	KindTypeMismatch ErrorKind = "type_mismatch"
	// KindOutOfRange means a value is outside its legal numeric or
	// enum domain.
	KindOutOfRange ErrorKind = "out_of_range"
)

// Error reports a single field violating its static shape or range.
// Cross-field problems are internal/validate's job, not Error's.
type Error struct {
	Kind    ErrorKind
	Table   string
	Field   string
	Message string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("schema: [%s] %s: %s", e.Table, e.Field, e.Kind)
	}
	return fmt.Sprintf("schema: [%s] %s: %s: %s", e.Table, e.Field, e.Kind, e.Message)
}

func missingField(table, field string) *Error {
	return &Error{Kind: KindMissingField, Table: table, Field: field}
}

func typeMismatch(table, field, msg string) *Error {
	return &Error{Kind: KindTypeMismatch, Table: table, Field: field, Message: msg}
}

func outOfRange(table, field, msg string) *Error {
	return &Error{Kind: KindOutOfRange, Table: table, Field: field, Message: msg}
}

// ParseError reports malformed TOML text. It is distinct from Error:
// the document could not be read at all, so no field-level diagnosis is
// possible.
type ParseError struct {
	// Line is 1-based; zero when the position is unknown.
	Line int
	// Offset is the byte offset of the error in the input; negative
	// when unknown.
	Offset  int
	Message string
}

func (e *ParseError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("parse: line %d: %s", e.Line, e.Message)
	}
	return "parse: " + e.Message
}
