// Package errors provides the typed error used across the gate, its storage
// evaluator and the catalog.
package errors

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/guileen/pglitegate/logger"
)

// Error codes for different types of errors
const (
	ErrCodeUnknown                = "unknown_error"
	ErrCodeInvalidState           = "invalid_state"
	ErrCodeInvalidColumn          = "invalid_column"
	ErrCodeUnsupportedExpression  = "unsupported_expression"
	ErrCodeMissingColumnReference = "missing_column_reference"
	ErrCodeRemoteOperationFailed  = "remote_operation_failed"
	ErrCodeNestedQueryFailed      = "nested_query_failed"
	ErrCodeStorage                = "storage_error"
	ErrCodeCodec                  = "codec_error"
	ErrCodeValidation             = "validation_error"
	ErrCodeNotFound               = "not_found"
	ErrCodeConflict               = "conflict"
	ErrCodeCatalogVersionMismatch = "catalog_version_mismatch"
)

// EngineError represents a custom error type for the gate
type EngineError struct {
	Code    string
	Message string
	Op      string
	Err     error
}

// Error implements the error interface
func (e *EngineError) Error() string {
	msg := e.Message
	if e.Op != "" {
		msg = fmt.Sprintf("%s: %s", e.Op, e.Message)
	}
	if e.Err != nil && e.Err.Error() != e.Message {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap implements the unwrap interface for error chaining
func (e *EngineError) Unwrap() error {
	return e.Err
}

// Is checks if the error matches the target error
func (e *EngineError) Is(target error) bool {
	if t, ok := target.(*EngineError); ok {
		return e.Code == t.Code
	}
	return false
}

// Log logs the error with the provided logger
func (e *EngineError) Log(ctx context.Context, logLevel slog.Level) {
	logFields := []any{
		"error_code", e.Code,
		"operation", e.Op,
		"message", e.Message,
	}
	if e.Err != nil {
		logFields = append(logFields, "cause", e.Err.Error())
	}

	switch logLevel {
	case slog.LevelDebug:
		logger.DebugContext(ctx, "gate error occurred", logFields...)
	case slog.LevelInfo:
		logger.InfoContext(ctx, "gate error occurred", logFields...)
	case slog.LevelWarn:
		logger.WarnContext(ctx, "gate error occurred", logFields...)
	default:
		logger.ErrorContext(ctx, "gate error occurred", logFields...)
	}
}

// New creates a new EngineError
func New(code, message string) *EngineError {
	return &EngineError{
		Code:    code,
		Message: message,
	}
}

// Errorf creates a new EngineError with formatted message
func Errorf(code, format string, args ...interface{}) *EngineError {
	return &EngineError{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
	}
}

// Wrap wraps an existing error with context
func Wrap(err error, code, op string) *EngineError {
	return &EngineError{
		Code:    code,
		Message: err.Error(),
		Op:      op,
		Err:     err,
	}
}

// Wrapf wraps an existing error with formatted context
func Wrapf(err error, code, op, format string, args ...interface{}) *EngineError {
	return &EngineError{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
		Op:      op,
		Err:     err,
	}
}

func newf(code, op, format string, args ...interface{}) *EngineError {
	return &EngineError{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
		Op:      op,
	}
}

// Common error constructors
func NewInvalidStatef(op, format string, args ...interface{}) *EngineError {
	return newf(ErrCodeInvalidState, op, format, args...)
}

func NewInvalidColumnf(op, format string, args ...interface{}) *EngineError {
	return newf(ErrCodeInvalidColumn, op, format, args...)
}

func NewUnsupportedExpressionf(op, format string, args ...interface{}) *EngineError {
	return newf(ErrCodeUnsupportedExpression, op, format, args...)
}

func NewMissingColumnReferencef(op, format string, args ...interface{}) *EngineError {
	return newf(ErrCodeMissingColumnReference, op, format, args...)
}

func NewCodecErrorf(op, format string, args ...interface{}) *EngineError {
	return newf(ErrCodeCodec, op, format, args...)
}

func NewValidationErrorf(op, format string, args ...interface{}) *EngineError {
	return newf(ErrCodeValidation, op, format, args...)
}

func NewNotFoundf(op, format string, args ...interface{}) *EngineError {
	return newf(ErrCodeNotFound, op, format, args...)
}

func NewConflictf(op, format string, args ...interface{}) *EngineError {
	return newf(ErrCodeConflict, op, format, args...)
}

func NewCatalogVersionMismatchf(op, format string, args ...interface{}) *EngineError {
	return newf(ErrCodeCatalogVersionMismatch, op, format, args...)
}

// RemoteOperationFailed wraps a transport or storage failure surfaced by the
// dispatcher.
func RemoteOperationFailed(err error, op string) *EngineError {
	return Wrapf(err, ErrCodeRemoteOperationFailed, op, "remote operation failed")
}

// NestedQueryFailed wraps a failure of the nested index lookup.
func NestedQueryFailed(err error, op string) *EngineError {
	return Wrapf(err, ErrCodeNestedQueryFailed, op, "secondary index lookup failed")
}

// Predefined error variables, usable as errors.Is targets.
var (
	ErrInvalidState           = &EngineError{Code: ErrCodeInvalidState, Message: "invalid state"}
	ErrInvalidColumn          = &EngineError{Code: ErrCodeInvalidColumn, Message: "invalid column"}
	ErrUnsupportedExpression  = &EngineError{Code: ErrCodeUnsupportedExpression, Message: "unsupported expression"}
	ErrMissingColumnReference = &EngineError{Code: ErrCodeMissingColumnReference, Message: "missing column reference"}
	ErrRemoteOperationFailed  = &EngineError{Code: ErrCodeRemoteOperationFailed, Message: "remote operation failed"}
	ErrNestedQueryFailed      = &EngineError{Code: ErrCodeNestedQueryFailed, Message: "nested query failed"}
	ErrNotFound               = &EngineError{Code: ErrCodeNotFound, Message: "not found"}
	ErrConflict               = &EngineError{Code: ErrCodeConflict, Message: "conflict"}
	ErrCatalogVersionMismatch = &EngineError{Code: ErrCodeCatalogVersionMismatch, Message: "catalog version mismatch"}
)

// HasCode reports whether any error in err's chain is an EngineError with code.
func HasCode(err error, code string) bool {
	return errors.Is(err, &EngineError{Code: code})
}

// CodeOf returns the code of the outermost EngineError in err's chain.
func CodeOf(err error) string {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Code
	}
	return ErrCodeUnknown
}

// IsInvalidState checks if an error is an invalid state error
func IsInvalidState(err error) bool {
	return HasCode(err, ErrCodeInvalidState)
}

// IsInvalidColumn checks if an error is an invalid column error
func IsInvalidColumn(err error) bool {
	return HasCode(err, ErrCodeInvalidColumn)
}

// IsUnsupportedExpression checks if an error is an unsupported expression error
func IsUnsupportedExpression(err error) bool {
	return HasCode(err, ErrCodeUnsupportedExpression)
}

// IsMissingColumnReference checks if an error is a missing column reference error
func IsMissingColumnReference(err error) bool {
	return HasCode(err, ErrCodeMissingColumnReference)
}

// IsRemoteOperationFailed checks if an error is a remote operation failure
func IsRemoteOperationFailed(err error) bool {
	return HasCode(err, ErrCodeRemoteOperationFailed)
}

// IsNestedQueryFailed checks if an error is a nested query failure
func IsNestedQueryFailed(err error) bool {
	return HasCode(err, ErrCodeNestedQueryFailed)
}

// IsNotFound checks if an error indicates something was not found
func IsNotFound(err error) bool {
	return HasCode(err, ErrCodeNotFound)
}

// IsConflict checks if an error indicates a conflict
func IsConflict(err error) bool {
	return HasCode(err, ErrCodeConflict)
}

// IsCatalogVersionMismatch checks if a request was prepared against an older
// catalog
func IsCatalogVersionMismatch(err error) bool {
	return HasCode(err, ErrCodeCatalogVersionMismatch)
}

// LogError logs an error at error level
func LogError(ctx context.Context, err error) {
	var e *EngineError
	if errors.As(err, &e) {
		e.Log(ctx, slog.LevelError)
		return
	}
	logger.ErrorContext(ctx, "unexpected error occurred", "error", err.Error())
}

// LogWarning logs an error at warning level
func LogWarning(ctx context.Context, err error) {
	var e *EngineError
	if errors.As(err, &e) {
		e.Log(ctx, slog.LevelWarn)
		return
	}
	logger.WarnContext(ctx, "unexpected error occurred", "error", err.Error())
}
