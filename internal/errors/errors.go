package errors

import (
	stderrors "errors"
	"fmt"
)

// VictorError is the structured error type returned by every package-level
// Victor operation (Open, Insert, Search, Clear).
type VictorError struct {
	// Code is the unique error code (e.g., "ERR_402_DIMENSION_MISMATCH").
	Code string

	// Message is the human-readable error message.
	Message string

	// Category classifies the error (Storage, Validation, Internal).
	Category Category

	// Cause is the underlying error that caused this error, if any.
	Cause error

	// Retryable indicates whether the caller might succeed by retrying
	// unchanged. Only storage failures are ever retryable.
	Retryable bool

	// Offset is set for ErrCodeCorruptDatabase: the byte offset in
	// victor.bin at which record framing broke.
	Offset *int64
}

// Error implements the error interface.
func (e *VictorError) Error() string {
	if e.Offset != nil {
		return fmt.Sprintf("[%s] %s (offset %d)", e.Code, e.Message, *e.Offset)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for error chain support.
func (e *VictorError) Unwrap() error {
	return e.Cause
}

// Is checks if this error matches the target error by code, so
// errors.Is(err, &VictorError{Code: ErrCodeDimensionMismatch}) works without
// needing the rest of the fields to match.
func (e *VictorError) Is(target error) bool {
	t, ok := target.(*VictorError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

func newErr(code, message string, cause error) *VictorError {
	return &VictorError{
		Code:      code,
		Message:   message,
		Category:  categoryFromCode(code),
		Cause:     cause,
		Retryable: retryableCode(code),
	}
}

// InvalidEmbedding reports a zero-dimension, NaN, or infinite embedding
// supplied to Insert.
func InvalidEmbedding(message string) *VictorError {
	return newErr(ErrCodeInvalidEmbedding, message, nil)
}

// DimensionMismatch reports an embedding whose length differs from the
// dimension already established for the database.
func DimensionMismatch(expected, got int) *VictorError {
	return newErr(ErrCodeDimensionMismatch,
		fmt.Sprintf("dimension mismatch: expected %d, got %d", expected, got), nil)
}

// CorruptDatabase reports a framing violation discovered at the given byte
// offset in victor.bin.
func CorruptDatabase(offset int64, message string) *VictorError {
	err := newErr(ErrCodeCorruptDatabase, message, nil)
	err.Offset = &offset
	return err
}

// Storage wraps an underlying backend failure (filesystem or directory
// handle) without losing the original error.
func Storage(message string, cause error) *VictorError {
	return newErr(ErrCodeStorage, message, cause)
}

// Cancelled reports cooperative cancellation observed mid-I/O.
func Cancelled(message string) *VictorError {
	return newErr(ErrCodeCancelled, message, nil)
}

// IsRetryable reports whether err is a VictorError whose Retryable flag is
// set. Only Storage errors are retryable.
func IsRetryable(err error) bool {
	var ve *VictorError
	if stderrors.As(err, &ve) {
		return ve.Retryable
	}
	return false
}

// Offset extracts the byte offset from a CorruptDatabase error. The second
// return value is false if err is not a corruption error.
func Offset(err error) (int64, bool) {
	var ve *VictorError
	if stderrors.As(err, &ve) && ve.Offset != nil {
		return *ve.Offset, true
	}
	return 0, false
}

// Code extracts the error code from a VictorError, or "" if err isn't one.
func Code(err error) string {
	var ve *VictorError
	if stderrors.As(err, &ve) {
		return ve.Code
	}
	return ""
}
