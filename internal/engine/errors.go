package engine

import (
	"errors"
	"fmt"

	"github.com/roach88/sheetdb/internal/lock"
	"github.com/roach88/sheetdb/internal/query"
	"github.com/roach88/sheetdb/internal/validate"
)

// Error represents a data condition reported by an engine operation.
//
// Error categories:
//   - Not found: id absent from the live (or history) table
//   - Validation: a required field ended up without a value
//   - Lock timeout: the table lock was not acquired in time; retryable
//   - Invalid query: unusable query options or relationship arguments
//
// Calling an operation with an unregistered table name is not an Error; it
// returns schema.ErrUnknownTable wrapped.
type Error struct {
	// Code identifies the error category.
	Code ErrorCode

	// Message is a human-readable description.
	Message string

	// Table is the table the operation targeted.
	Table string

	// ID is the record id, when the operation named one.
	ID int64

	// Err is the underlying cause, if any.
	Err error
}

// ErrorCode categorizes engine errors.
type ErrorCode string

const (
	// ErrCodeNotFound indicates the record id does not exist.
	ErrCodeNotFound ErrorCode = "NOT_FOUND"

	// ErrCodeValidation indicates the input failed validation.
	ErrCodeValidation ErrorCode = "VALIDATION_FAILED"

	// ErrCodeLockTimeout indicates the table lock could not be acquired.
	ErrCodeLockTimeout ErrorCode = "LOCK_TIMEOUT"

	// ErrCodeInvalidQuery indicates bad query options or relationship arguments.
	ErrCodeInvalidQuery ErrorCode = "INVALID_QUERY"
)

// Error implements the error interface.
func (e *Error) Error() string {
	if e.ID != 0 {
		return fmt.Sprintf("%s: %s (table=%s, id=%d)", e.Code, e.Message, e.Table, e.ID)
	}
	if e.Table != "" {
		return fmt.Sprintf("%s: %s (table=%s)", e.Code, e.Message, e.Table)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// CodeOf returns the code of the first Error in err's chain.
func CodeOf(err error) (ErrorCode, bool) {
	var ee *Error
	if errors.As(err, &ee) {
		return ee.Code, true
	}
	return "", false
}

// IsNotFound returns true if the error is a not-found error.
// Uses errors.As to handle wrapped errors.
func IsNotFound(err error) bool {
	code, ok := CodeOf(err)
	return ok && code == ErrCodeNotFound
}

// IsValidation returns true if the error is a validation error.
func IsValidation(err error) bool {
	code, ok := CodeOf(err)
	return ok && code == ErrCodeValidation
}

// IsLockTimeout returns true if the error is a lock timeout.
// Matches both Error with ErrCodeLockTimeout and lock.LockTimeoutError.
func IsLockTimeout(err error) bool {
	code, ok := CodeOf(err)
	if ok && code == ErrCodeLockTimeout {
		return true
	}
	return lock.IsLockTimeout(err)
}

// IsInvalidQuery returns true if the error is an invalid-query error.
func IsInvalidQuery(err error) bool {
	code, ok := CodeOf(err)
	return ok && code == ErrCodeInvalidQuery
}

// ValidationDetail extracts the field-level validation failure, if any.
func ValidationDetail(err error) (*validate.ValidationError, bool) {
	var ve *validate.ValidationError
	if errors.As(err, &ve) {
		return ve, true
	}
	return nil, false
}

func newNotFoundError(table string, id int64, err error) *Error {
	return &Error{
		Code:    ErrCodeNotFound,
		Message: fmt.Sprintf("record %d not found", id),
		Table:   table,
		ID:      id,
		Err:     err,
	}
}

func newValidationError(table string, id int64, err error) *Error {
	return &Error{
		Code:    ErrCodeValidation,
		Message: err.Error(),
		Table:   table,
		ID:      id,
		Err:     err,
	}
}

func newLockTimeoutError(table string, err error) *Error {
	return &Error{
		Code:    ErrCodeLockTimeout,
		Message: "table is busy, retry later",
		Table:   table,
		Err:     err,
	}
}

func newInvalidQueryError(table, message string, err error) *Error {
	return &Error{
		Code:    ErrCodeInvalidQuery,
		Message: message,
		Table:   table,
		Err:     err,
	}
}

// queryError converts a query.OptionsError into an invalid-query Error.
func queryError(table string, err error) error {
	var oe *query.OptionsError
	if errors.As(err, &oe) {
		return newInvalidQueryError(table, oe.Error(), err)
	}
	return err
}

// IntegrityError describes one junction row whose foreign key does not
// resolve to a live record. It is reported, not returned: the integrity
// check repairs the row by moving it to history.
type IntegrityError struct {
	Junction string `json:"junction"`
	RowID    int64  `json:"rowId"`
	Field    string `json:"field"`
	Table    string `json:"table"`
	Ref      any    `json:"ref"`
	Message  string `json:"message"`
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("%s #%d: %s %s", e.Junction, e.RowID, e.Field, e.Message)
}
