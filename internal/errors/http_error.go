package errors

import (
	stderrors "errors"
	"net/http"
)

// HTTPError represents an error with an associated HTTP status code.
type HTTPError struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *HTTPError) Error() string {
	return e.Message
}

// NewHTTPError creates a new HTTPError with the given status, code and message.
func NewHTTPError(status int, code, message string) *HTTPError {
	return &HTTPError{
		Status:  status,
		Code:    code,
		Message: message,
	}
}

// HTTPStatus maps an error to the status code returned to callers.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindValidation:
		return http.StatusBadRequest
	case KindConflict:
		return http.StatusConflict
	case KindNotFound:
		return http.StatusNotFound
	case KindForbidden:
		return http.StatusForbidden
	case KindRateLimited:
		return http.StatusTooManyRequests
	case KindTransient:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// ToHTTP converts err into the wire envelope. Errors without a domain kind
// are reported as an opaque internal error.
func ToHTTP(err error) *HTTPError {
	var he *HTTPError
	if stderrors.As(err, &he) {
		return he
	}
	var e *Error
	if !stderrors.As(err, &e) || e.Kind == KindInternal {
		return NewHTTPError(http.StatusInternalServerError, ErrInternal.Code, ErrInternal.Message)
	}
	return NewHTTPError(HTTPStatus(err), e.Code, e.Message)
}

// Helpers for common errors
var (
	ErrUnauthorized = func(msg string) *HTTPError { return NewHTTPError(http.StatusUnauthorized, "UNAUTHORIZED", msg) }
	ErrBadRequest   = func(msg string) *HTTPError { return NewHTTPError(http.StatusBadRequest, "BAD_REQUEST", msg) }
)
