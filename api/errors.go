package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"boardsync/domain"
	"boardsync/identity"
	"boardsync/store"
)

const (
	codeBadRequest   = domain.CodeBadRequest
	codeUnauthorized = "unauthorized"
	codeDuplicate    = "duplicate_request"
	codeThrottled    = "throttled"
	codeUnavailable  = "unavailable"
	codeNetwork      = "network_error"
	codeInternal     = "internal"
)

type errorResponse struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

func writeError(c echo.Context, status int, code, message string) error {
	return c.JSON(status, errorResponse{Message: message, Code: code})
}

// classify maps an error to its HTTP status and error code.
func classify(err error) (int, string) {
	var apiErr *domain.APIError
	var netErr *domain.NetworkError
	switch {
	case errors.Is(err, domain.ErrNotAuthenticated):
		return http.StatusUnauthorized, codeUnauthorized
	case errors.Is(err, domain.ErrInvalidArgument), errors.Is(err, identity.ErrInvalidPhone):
		return http.StatusBadRequest, codeBadRequest
	case errors.As(err, &apiErr):
		return apiErr.Status, apiErr.Code
	case errors.As(err, &netErr):
		return http.StatusBadGateway, codeNetwork
	case errors.Is(err, store.ErrBoardNotFound):
		return http.StatusNotFound, domain.CodeNotFound
	case errors.Is(err, identity.ErrThrottled), errors.Is(err, identity.ErrTooManyAttempts):
		return http.StatusTooManyRequests, codeThrottled
	case errors.Is(err, identity.ErrInvalidCode), errors.Is(err, identity.ErrCodeExpired),
		errors.Is(err, identity.ErrInvalidToken), errors.Is(err, identity.ErrMissingPhoneClaim):
		return http.StatusUnauthorized, codeUnauthorized
	case errors.Is(err, store.ErrClosed), errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable, codeUnavailable
	default:
		return http.StatusInternalServerError, codeInternal
	}
}

func respondError(c echo.Context, err error) error {
	status, code := classify(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		c.Logger().Error(err)
		msg = "Internal server error"
	}
	return writeError(c, status, code, msg)
}
