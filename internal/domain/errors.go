package domain

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	// ErrInvalidRuleKind is returned for a path rule that is neither a
	// selector nor a (row, cell) selector pair.
	ErrInvalidRuleKind = errors.New("invalid rule kind")
	// ErrUnknownPatternKind is returned for a pattern name the parser does
	// not implement.
	ErrUnknownPatternKind = errors.New("unknown pattern kind")
	// ErrMissingNameColumn is returned when station headers have no "name"
	// column.
	ErrMissingNameColumn = errors.New("station headers have no name column")
	// ErrDuplicateRecord is returned by stores on a unique key violation.
	ErrDuplicateRecord = errors.New("duplicate record")
	ErrCityNotFound    = errors.New("city not found")
	ErrStationNotFound = errors.New("station not found")
)

// ValidationError collects field-level validation messages for one record.
type ValidationError struct {
	Fields map[string][]string
}

// Add appends a message for field.
func (e *ValidationError) Add(field, msg string) {
	if e.Fields == nil {
		e.Fields = make(map[string][]string)
	}
	e.Fields[field] = append(e.Fields[field], msg)
}

// Empty reports whether no message has been added.
func (e *ValidationError) Empty() bool {
	return e == nil || len(e.Fields) == 0
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s: %s", k, strings.Join(e.Fields[k], "; ")))
	}
	return "validation failed: " + strings.Join(parts, ", ")
}

// ValueError reports a caller-supplied value that cannot be converted to the
// type its column requires.
type ValueError struct {
	Field string
	Value string
}

func (e *ValueError) Error() string {
	return fmt.Sprintf("invalid value for %s: %q is not a decimal number", e.Field, e.Value)
}
