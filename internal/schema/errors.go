package schema

import (
	"errors"
	"fmt"

	"cuelang.org/go/cue/token"
)

// ErrUnknownTable is returned when an operation names a table that was never
// registered. It signals caller misuse, not a data condition.
var ErrUnknownTable = errors.New("unknown table")

// DuplicateTableError is returned when a table or history name is already taken.
type DuplicateTableError struct {
	Name string
}

func (e *DuplicateTableError) Error() string {
	return fmt.Sprintf("table %q is already registered", e.Name)
}

// SchemaError describes an invalid table definition.
type SchemaError struct {
	Table   string
	Field   string
	Message string
	Pos     token.Pos // set when the definition came from a CUE file
}

func (e *SchemaError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s.%s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Table, e.Field, e.Message)
	}
	if e.Table == "" {
		return fmt.Sprintf("%s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("%s.%s: %s", e.Table, e.Field, e.Message)
}

// IsDuplicateTable reports whether err is a DuplicateTableError.
func IsDuplicateTable(err error) bool {
	var de *DuplicateTableError
	return errors.As(err, &de)
}
