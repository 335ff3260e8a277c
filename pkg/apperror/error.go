package apperror

import (
	"errors"
	"fmt"
	"net/http"
)

// Error represents an application error with HTTP status and error code
type Error struct {
	HTTPStatus int
	Code       string
	Message    string
	Internal   error
	Details    map[string]any
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Internal != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Code, e.Message, e.Internal)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the internal error
func (e *Error) Unwrap() error {
	return e.Internal
}

// Is reports whether target is an *Error with the same code, so derived errors
// (WithMessage, WithInternal, ...) still match the predefined sentinels.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

func (e *Error) clone() *Error {
	c := *e
	return &c
}

// WithInternal returns a copy carrying the underlying cause.
func (e *Error) WithInternal(err error) *Error {
	c := e.clone()
	c.Internal = err
	return c
}

// WithMessage returns a copy with a caller-facing message.
func (e *Error) WithMessage(message string) *Error {
	c := e.clone()
	c.Message = message
	return c
}

// WithDetails returns a copy with details replacing any existing ones.
func (e *Error) WithDetails(details map[string]any) *Error {
	c := e.clone()
	c.Details = details
	return c
}

// body is the wire form: {"code", "message", "details"?}.
func (e *Error) body() map[string]any {
	b := map[string]any{
		"code":    e.Code,
		"message": e.Message,
	}
	if len(e.Details) > 0 {
		b["details"] = e.Details
	}
	return b
}

// Retryable reports whether a client may reasonably resend the same request:
// lost version races and an unreachable store. A stale expected_version also
// surfaces as conflict; the client must re-read before retrying it.
func Retryable(err error) bool {
	switch Code(err) {
	case ErrConflict.Code, ErrStoreUnavailable.Code, ErrTooManyRequests.Code:
		return true
	}
	return false
}

// New creates a new application error
func New(status int, code, message string) *Error {
	return &Error{
		HTTPStatus: status,
		Code:       code,
		Message:    message,
	}
}

// Common error definitions
var (
	// Resource errors
	ErrNotFound       = New(http.StatusNotFound, "not_found", "Resource not found")
	ErrSchemaNotFound = New(http.StatusNotFound, "schema_not_found", "No schema registered for type")
	ErrConflict       = New(http.StatusConflict, "conflict", "Version conflict")
	ErrDuplicateKey   = New(http.StatusConflict, "duplicate_key", "A live object already holds this key")

	// Graph integrity errors
	ErrMultiplicityViolation = New(http.StatusConflict, "multiplicity_violation", "Relationship multiplicity would be violated")
	ErrDanglingReference     = New(http.StatusUnprocessableEntity, "dangling_reference", "Relationship endpoint is not a live object")

	// Validation errors
	ErrBadRequest = New(http.StatusBadRequest, "bad_request", "Invalid request")
	ErrValidation = New(http.StatusUnprocessableEntity, "validation_error", "Validation failed")

	// Rate limiting
	ErrTooManyRequests = New(http.StatusTooManyRequests, "rate_limited", "Too many requests")

	// Server errors
	ErrInternal         = New(http.StatusInternalServerError, "internal_error", "An internal error occurred")
	ErrDatabase         = New(http.StatusInternalServerError, "database_error", "Database operation failed")
	ErrStoreUnavailable = New(http.StatusServiceUnavailable, "store_unavailable", "Backing store unavailable")
)

// ToHTTPError maps any error onto a status and the {"error": {...}} body.
// Foreign errors become an opaque internal error.
func ToHTTPError(err error) (int, map[string]any) {
	var appErr *Error
	if !errors.As(err, &appErr) {
		appErr = ErrInternal
	}
	return appErr.HTTPStatus, map[string]any{"error": appErr.body()}
}

// NewBadRequest creates a bad request error with a custom message
func NewBadRequest(message string) *Error {
	return ErrBadRequest.WithMessage(message)
}

// NewNotFound creates a not found error for a resource type and ID
func NewNotFound(resourceType, id string) *Error {
	return ErrNotFound.WithMessage(fmt.Sprintf("%s '%s' not found", resourceType, id))
}

// NewInternal creates an internal error with a message and optional wrapped error
func NewInternal(message string, err error) *Error {
	return ErrInternal.WithMessage(message).WithInternal(err)
}

// NewValidation creates a validation error carrying per-field messages.
func NewValidation(message string, fields map[string]string) *Error {
	details := make(map[string]any, len(fields))
	for k, v := range fields {
		details[k] = v
	}
	return ErrValidation.WithMessage(message).WithDetails(details)
}

// Code returns the application error code of err, or "" for foreign errors.
func Code(err error) string {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ""
}
