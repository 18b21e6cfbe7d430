package domain

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrInvalidArgument marks failures raised before any network call
	// because a required identifier or field is missing or malformed.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrNotAuthenticated indicates an operation needs a signed-in user.
	ErrNotAuthenticated = fmt.Errorf("%w: not authenticated", ErrInvalidArgument)
)

// Error codes carried by APIError. They are compared by equality.
const (
	CodeNotFound     = "not_found"
	CodeUserNotFound = "user_not_found"
	CodeConflict     = "conflict"
	CodeUserExists   = "user_exists"
	CodeBadRequest   = "bad_request"
	CodeUnknown      = "unknown"
)

// InvalidArgumentError names the offending argument.
type InvalidArgumentError struct {
	Field  string
	Reason string
}

func (e *InvalidArgumentError) Error() string {
	return fmt.Sprintf("%s %s", e.Field, e.Reason)
}

func (e *InvalidArgumentError) Unwrap() error { return ErrInvalidArgument }

// InvalidArgument builds an InvalidArgumentError.
func InvalidArgument(field, reason string) error {
	return &InvalidArgumentError{Field: field, Reason: reason}
}

// APIError is returned when the backend rejects a request.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	return e.Message
}

// NewAPIError builds an APIError, deriving the code from the status when the
// server did not supply one.
func NewAPIError(status int, code, message string) *APIError {
	if code == "" {
		code = CodeForStatus(status)
	}
	if message == "" {
		message = fmt.Sprintf("request failed with status %d", status)
	}
	return &APIError{Status: status, Code: code, Message: message}
}

// CodeForStatus maps an HTTP status to the default error code.
func CodeForStatus(status int) string {
	switch status {
	case http.StatusNotFound:
		return CodeNotFound
	case http.StatusConflict:
		return CodeConflict
	case http.StatusBadRequest:
		return CodeBadRequest
	default:
		return CodeUnknown
	}
}

// NetworkError wraps a request that could not complete.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// HasCode reports whether err carries an APIError with the given code.
func HasCode(err error, code string) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == code
}

// StatusOf returns the HTTP status of an APIError in err's chain, or 0.
func StatusOf(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status
	}
	return 0
}
