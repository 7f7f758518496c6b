package ledger

import (
	"errors"
	"fmt"
)

// Code is a stable machine-readable error kind. Codes cross the API
// boundary; messages and wrapped causes do not.
type Code string

const (
	CodeUnrecognizedEventType Code = "UNRECOGNIZED_LEDGER_EVENT_TYPE"
	CodeUnsupportedSchema     Code = "UNSUPPORTED_SCHEMA_VERSION"
	CodeValidationFailed      Code = "VALIDATION_FAILED"
	CodeAssetFrozen           Code = "ASSET_FROZEN"
	CodeAssetRevoked          Code = "ASSET_REVOKED"
	CodeWriteFailed           Code = "LEDGER_WRITE_FAILED"
	CodeInternal              Code = "INTERNAL_ERROR"
)

// Error carries a taxonomy code alongside the underlying cause.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// E constructs a coded error.
func E(code Code, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WrapErr attaches a code to an underlying error.
func WrapErr(code Code, err error, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), Err: err}
}

// CodeOf extracts the taxonomy code from an error chain, defaulting to
// INTERNAL_ERROR for anything uncoded.
func CodeOf(err error) Code {
	var le *Error
	if errors.As(err, &le) {
		return le.Code
	}
	return CodeInternal
}
