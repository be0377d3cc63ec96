package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithDetailDoesNotMutateSentinel(t *testing.T) {
	err := ErrValidation.WithMessage("content is required")

	assert.Empty(t, ErrValidation.Details, "sentinel must stay clean")
	assert.Equal(t, "content is required", err.Details["message"])
	assert.Equal(t, ErrValidation.Code, err.Code)
}

func TestErrorString(t *testing.T) {
	cause := errors.New("connection refused")
	err := ErrInternal.WithCause(cause)

	assert.Contains(t, err.Error(), "INTERNAL_ERROR")
	assert.Contains(t, err.Error(), "connection refused")
	assert.Equal(t, cause, errors.Unwrap(err))
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		err  *Error
		want bool
	}{
		{err: ErrValidation, want: false},
		{err: ErrUnauthorized, want: false},
		{err: ErrForbidden, want: false},
		{err: ErrNotFound, want: false},
		{err: ErrConflict, want: false},
		{err: ErrInternal, want: true},
		{err: ErrServiceUnavailable, want: true},
	}

	for _, tt := range tests {
		t.Run(tt.err.Code, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.IsRetryable())
		})
	}
}

func TestToHTTPStatus(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, ToHTTPStatus(ErrValidation))
	assert.Equal(t, http.StatusForbidden, ToHTTPStatus(ErrForbidden.WithMessage("nope")))
	assert.Equal(t, http.StatusInternalServerError, ToHTTPStatus(errors.New("plain error")))

	wrapped := fmt.Errorf("outer: %w", ErrNotFound)
	assert.Equal(t, http.StatusNotFound, ToHTTPStatus(wrapped))
}

func TestToErrorResponse(t *testing.T) {
	resp := ToErrorResponse(ErrForbidden.WithMessage("sender may not broadcast"))
	assert.Equal(t, "FORBIDDEN", resp["error_code"])
	require.Contains(t, resp, "details")

	plain := ToErrorResponse(errors.New("boom"))
	assert.Equal(t, "INTERNAL_ERROR", plain["error_code"])
}

func TestCodePredicates(t *testing.T) {
	assert.True(t, IsNotFound(ErrNotFound.WithMessage("gone")))
	assert.True(t, IsValidation(fmt.Errorf("wrap: %w", ErrValidation)))
	assert.True(t, IsForbidden(ErrForbidden))
	assert.False(t, IsNotFound(ErrValidation))
	assert.False(t, IsValidation(errors.New("other")))
}
