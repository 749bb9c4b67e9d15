package errors

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

// Code classifies every failure the service can surface.
type Code string

const (
	CodeValidation           Code = "validation"
	CodeUnauthorized         Code = "unauthorized"
	CodeForbidden            Code = "forbidden"
	CodeNotFound             Code = "not_found"
	CodeQuotaExceeded        Code = "quota_exceeded"
	CodeNameCollision        Code = "name_collision"
	CodeStoreUnavailable     Code = "store_unavailable"
	CodeEmbeddingUnavailable Code = "embedding_unavailable"
	CodeTimeout              Code = "timeout"
	CodeCancelled            Code = "cancelled"
	CodeInternal             Code = "internal"
)

// Error is the canonical error wrapper. Op names the failing operation
// ("media.ingest", "json.route"), Message is optional caller-facing detail.
type Error struct {
	Code    Code
	Op      string
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	op := strings.TrimSpace(e.Op)
	msg := strings.TrimSpace(e.Message)
	switch {
	case op != "" && msg != "":
		return fmt.Sprintf("%s: %s (%s)", op, msg, e.Code)
	case op != "":
		return fmt.Sprintf("%s (%s)", op, e.Code)
	case msg != "":
		return fmt.Sprintf("%s (%s)", msg, e.Code)
	default:
		return string(e.Code)
	}
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds an error with explicit code + operation.
func New(code Code, op, message string) error {
	return &Error{Code: code, Op: strings.TrimSpace(op), Message: strings.TrimSpace(message)}
}

// Newf is New with a formatted message.
func Newf(code Code, op, format string, args ...any) error {
	return New(code, op, fmt.Sprintf(format, args...))
}

// Wrap annotates an existing error with a code. A nil err stays nil; an err
// that already carries a code is returned unchanged so the innermost
// classification wins.
func Wrap(code Code, op string, err error) error {
	if err == nil {
		return nil
	}
	var existing *Error
	if errors.As(err, &existing) {
		return err
	}
	return &Error{Code: code, Op: strings.TrimSpace(op), Message: err.Error(), Cause: err}
}

// IsCode checks whether err (or any wrapped err) carries the given code.
func IsCode(err error, code Code) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Code == code
}

// CodeOf extracts the code when available, CodeInternal otherwise.
func CodeOf(err error) Code {
	var e *Error
	if !errors.As(err, &e) {
		return CodeInternal
	}
	return e.Code
}

// MapStoreError classifies infrastructure failures from the relational and
// document stores into the service taxonomy. Already-classified errors pass
// through untouched.
func MapStoreError(op string, err error) error {
	if err == nil {
		return nil
	}
	var existing *Error
	if errors.As(err, &existing) {
		return err
	}
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return Wrap(CodeNotFound, op, err)
	case errors.Is(err, context.Canceled):
		return Wrap(CodeCancelled, op, err)
	case errors.Is(err, context.DeadlineExceeded):
		return Wrap(CodeTimeout, op, err)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch strings.TrimSpace(pgErr.Code) {
		case "23505":
			return Wrap(CodeNameCollision, op, err) // unique_violation
		case "40001", "40P01", "55P03":
			return Wrap(CodeStoreUnavailable, op, err) // serialization/deadlock/lock_not_available
		case "57P01", "08000", "08003", "08006":
			return Wrap(CodeStoreUnavailable, op, err) // shutdown/connection failures
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return Wrap(CodeStoreUnavailable, op, err)
	}

	msg := strings.ToLower(strings.TrimSpace(err.Error()))
	switch {
	case strings.Contains(msg, "duplicate key"), strings.Contains(msg, "already exists"):
		return Wrap(CodeNameCollision, op, err)
	case strings.Contains(msg, "connection refused"),
		strings.Contains(msg, "connection reset"),
		strings.Contains(msg, "broken pipe"),
		strings.Contains(msg, "deadlock"),
		strings.Contains(msg, "serialization"):
		return Wrap(CodeStoreUnavailable, op, err)
	default:
		return Wrap(CodeInternal, op, err)
	}
}

// FromContext maps a cancelled or expired context to the taxonomy.
func FromContext(op string, ctx context.Context) error {
	switch ctx.Err() {
	case nil:
		return nil
	case context.DeadlineExceeded:
		return Wrap(CodeTimeout, op, ctx.Err())
	default:
		return Wrap(CodeCancelled, op, ctx.Err())
	}
}
