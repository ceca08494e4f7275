package checkout

import (
	"errors"
	"fmt"
	"net/http"
)

// Stable machine-readable error codes.
const (
	CodeBadRequest            = "BAD_REQUEST"
	CodeNotFound              = "NOT_FOUND"
	CodeConfigError           = "CONFIG_ERROR"
	CodeInsufficientStock     = "INSUFFICIENT_STOCK"
	CodeIdempotencyConflict   = "IDEMPOTENCY_CONFLICT"
	CodeMissingIdempotencyKey = "MISSING_IDEMPOTENCY_KEY"
	CodeInternal              = "INTERNAL_ERROR"
)

// Storage sentinels returned by Store/Tx implementations.
var (
	ErrNotFound     = errors.New("record not found")
	ErrDuplicateKey = errors.New("duplicate key")
)

// Error is a classified checkout failure. Details travel alongside the
// message and are never folded into it.
type Error struct {
	Code    string
	Message string
	Status  int
	Details map[string]any
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return e.Code + ": " + e.Message
}

func (e *Error) Unwrap() error { return e.Err }

func newError(code string, status int, msg string) *Error {
	return &Error{Code: code, Message: msg, Status: status}
}

func BadRequest(msg string) *Error {
	return newError(CodeBadRequest, http.StatusBadRequest, msg)
}

func NotFound(msg string) *Error {
	return newError(CodeNotFound, http.StatusNotFound, msg)
}

func ConfigError(msg string, cause error) *Error {
	e := newError(CodeConfigError, http.StatusInternalServerError, msg)
	e.Err = cause
	return e
}

func IdempotencyConflict() *Error {
	return newError(CodeIdempotencyConflict, http.StatusConflict, "Request payload differs for same Idempotency-Key")
}

func MissingIdempotencyKey() *Error {
	return newError(CodeMissingIdempotencyKey, http.StatusBadRequest, "Idempotency-Key header is required")
}

func InsufficientStock(missing []MissingItem) *Error {
	e := newError(CodeInsufficientStock, http.StatusConflict, "Insufficient stock for items")
	e.Details = map[string]any{"missing": missing}
	return e
}

// AsError classifies any error into a checkout *Error; unclassified errors
// become INTERNAL_ERROR with the cause kept for logging.
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	var ce *Error
	if errors.As(err, &ce) {
		return ce
	}
	return &Error{Code: CodeInternal, Message: "unexpected error", Status: http.StatusInternalServerError, Err: err}
}

// IsCode reports whether err is a checkout error carrying code.
func IsCode(err error, code string) bool {
	var ce *Error
	return errors.As(err, &ce) && ce.Code == code
}
