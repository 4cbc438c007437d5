// Package apperr classifies errors into a small taxonomy so the HTTP API
// and logs can treat them uniformly instead of string-matching messages.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind is one of a fixed set of error classifications.
type Kind string

const (
	KindConfig              Kind = "config"
	KindAuth                Kind = "auth"
	KindNetwork             Kind = "network"
	KindHTTP                Kind = "http"
	KindIOPermission        Kind = "io_permission"
	KindIONotFound          Kind = "io_not_found"
	KindNotFound            Kind = "not_found"
	KindValidation          Kind = "validation"
	KindRateLimited         Kind = "rate_limited"
	KindSourceConsistency   Kind = "source_consistency"
	KindSnapshotUnavailable Kind = "snapshot_unavailable"
	KindInternal            Kind = "internal"
)

// Error wraps an underlying cause with a Kind and an operator-facing
// message. The cause is preserved for logging but never serialized to
// clients directly — callers render Message, not Err.Error().
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds an *Error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap attaches a kind and message to an existing error.
func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// KindOf extracts the Kind from err, defaulting to KindInternal when err
// does not carry one (or is nil, though callers should not call it then).
func KindOf(err error) Kind {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return KindInternal
}

// MessageOf returns the operator-facing message, falling back to err's own
// Error() string for errors that never went through Wrap/New.
func MessageOf(err error) string {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Message
	}
	if err == nil {
		return ""
	}
	return err.Error()
}

// HTTPStatus maps a Kind to the response status spec §6 requires.
func HTTPStatus(kind Kind) int {
	switch kind {
	case KindAuth:
		return http.StatusUnauthorized
	case KindNotFound, KindIONotFound:
		return http.StatusNotFound
	case KindValidation, KindSourceConsistency:
		return http.StatusUnprocessableEntity
	case KindRateLimited:
		return http.StatusTooManyRequests
	case KindIOPermission:
		return http.StatusForbidden
	case KindSnapshotUnavailable:
		return http.StatusConflict
	case KindConfig, KindHTTP, KindNetwork:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Response is the {error, message, details} envelope spec §6 mandates for
// every non-2xx API response.
type Response struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// ToResponse renders err as the API's standard error envelope. Internal
// errors get a generic message so causes never leak to clients; the real
// message is still available to the caller via MessageOf for logging.
func ToResponse(err error) (int, Response) {
	kind := KindOf(err)
	status := HTTPStatus(kind)
	msg := MessageOf(err)
	if kind == KindInternal {
		msg = "internal error"
	}
	return status, Response{Error: string(kind), Message: msg}
}

// WithDetails attaches a details payload (e.g. a source-consistency report)
// to an error response.
func WithDetails(err error, details any) (int, Response) {
	status, resp := ToResponse(err)
	resp.Details = details
	return status, resp
}
