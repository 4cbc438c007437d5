package apperr

import (
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWrapUnwrap(t *testing.T) {
	cause := errors.New("disk full")
	err := Wrap(KindIOPermission, "write staging file", cause)

	assert.Equal(t, KindIOPermission, KindOf(err))
	assert.Equal(t, "write staging file", MessageOf(err))
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "disk full")
}

func TestKindOfMessageOfDefaultToInternal(t *testing.T) {
	plain := errors.New("boom")
	assert.Equal(t, KindInternal, KindOf(plain))
	assert.Equal(t, "boom", MessageOf(plain))
	assert.Equal(t, "", MessageOf(nil))
}

func TestHTTPStatusMapping(t *testing.T) {
	cases := map[Kind]int{
		KindAuth:                http.StatusUnauthorized,
		KindNotFound:            http.StatusNotFound,
		KindIONotFound:          http.StatusNotFound,
		KindValidation:          http.StatusUnprocessableEntity,
		KindSourceConsistency:   http.StatusUnprocessableEntity,
		KindRateLimited:         http.StatusTooManyRequests,
		KindIOPermission:        http.StatusForbidden,
		KindSnapshotUnavailable: http.StatusConflict,
		KindConfig:              http.StatusBadGateway,
		KindHTTP:                http.StatusBadGateway,
		KindNetwork:             http.StatusBadGateway,
		KindInternal:            http.StatusInternalServerError,
	}
	for kind, want := range cases {
		assert.Equal(t, want, HTTPStatus(kind), "kind=%s", kind)
	}
}

func TestToResponseHidesInternalCause(t *testing.T) {
	err := Wrap(KindInternal, "a secret internal detail", errors.New("stack trace leak"))
	status, resp := ToResponse(err)
	assert.Equal(t, http.StatusInternalServerError, status)
	assert.Equal(t, "internal error", resp.Message)
	assert.Equal(t, string(KindInternal), resp.Error)
}

func TestToResponsePreservesOperatorMessageForNonInternal(t *testing.T) {
	err := New(KindValidation, "name is required")
	status, resp := ToResponse(err)
	assert.Equal(t, http.StatusUnprocessableEntity, status)
	assert.Equal(t, "name is required", resp.Message)
}

func TestWithDetailsAttachesPayload(t *testing.T) {
	err := New(KindSourceConsistency, "too many mutations")
	status, resp := WithDetails(err, map[string]int{"changed": 5})
	assert.Equal(t, http.StatusUnprocessableEntity, status)
	assert.Equal(t, map[string]int{"changed": 5}, resp.Details)
}
