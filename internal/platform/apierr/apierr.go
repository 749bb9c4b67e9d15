package apierr

import (
	"fmt"
	"net/http"

	pkgerrors "github.com/stowagehq/stowage-backend/internal/pkg/errors"
)

type Error struct {
	Status int
	Code   string
	Err    error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	if e.Code != "" {
		return e.Code
	}
	if e.Status != 0 {
		return fmt.Sprintf("api error (%d)", e.Status)
	}
	return "api error"
}

func (e *Error) Unwrap() error { return e.Err }

func New(status int, code string, err error) *Error {
	return &Error{Status: status, Code: code, Err: err}
}

// Status maps a service error code to its HTTP status.
func Status(code pkgerrors.Code) int {
	switch code {
	case pkgerrors.CodeValidation:
		return http.StatusBadRequest
	case pkgerrors.CodeUnauthorized:
		return http.StatusUnauthorized
	case pkgerrors.CodeForbidden:
		return http.StatusForbidden
	case pkgerrors.CodeNotFound:
		return http.StatusNotFound
	case pkgerrors.CodeQuotaExceeded:
		return http.StatusRequestEntityTooLarge
	case pkgerrors.CodeNameCollision:
		return http.StatusConflict
	case pkgerrors.CodeStoreUnavailable, pkgerrors.CodeEmbeddingUnavailable:
		return http.StatusServiceUnavailable
	case pkgerrors.CodeTimeout:
		return http.StatusGatewayTimeout
	case pkgerrors.CodeCancelled:
		return 499 // client closed request
	default:
		return http.StatusInternalServerError
	}
}

// FromError converts any error into an API error carrying the mapped status.
func FromError(err error) *Error {
	code := pkgerrors.CodeOf(err)
	return &Error{Status: Status(code), Code: string(code), Err: err}
}
