package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConstructors(t *testing.T) {
	cause := errors.New("connection refused")

	tests := []struct {
		name       string
		err        *Error
		wantType   ErrorType
		wantStatus int
		wantCause  error
	}{
		{"not found", NotFoundError("counter not found"), TypeNotFound, http.StatusNotFound, nil},
		{"internal", InternalError("increment failed", cause), TypeInternal, http.StatusInternalServerError, cause},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.wantType, tt.err.Type)
			assert.Equal(t, tt.wantStatus, tt.err.HTTPStatus())
			assert.Equal(t, tt.wantCause, tt.err.Cause)
			assert.NotNil(t, tt.err.Context)
			assert.Contains(t, tt.err.Error(), string(tt.wantType))
		})
	}
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		errType    ErrorType
		wantStatus int
	}{
		{TypeValidation, http.StatusBadRequest},
		{TypeNotFound, http.StatusNotFound},
		{TypeConflict, http.StatusConflict},
		{TypeInternal, http.StatusInternalServerError},
		{TypeUnavailable, http.StatusServiceUnavailable},
		{TypeExternal, http.StatusBadGateway},
	}

	for _, tt := range tests {
		t.Run(string(tt.errType), func(t *testing.T) {
			err := &Error{Type: tt.errType, Message: "x"}
			assert.Equal(t, tt.wantStatus, err.HTTPStatus())
		})
	}
}

func TestError_MessageIncludesCause(t *testing.T) {
	err := InternalError("failed to increment counter", fmt.Errorf("failed after 3 attempts: %w", errors.New("deadlock")))

	assert.Equal(t, "internal: failed to increment counter: failed after 3 attempts: deadlock", err.Error())
}

func TestError_WithoutCause(t *testing.T) {
	err := InternalError("something went wrong", nil)

	assert.NotContains(t, err.Error(), "<nil>")
}

func TestError_UnknownTypeIs500(t *testing.T) {
	err := &Error{Type: "mystery", Message: "?"}

	assert.Equal(t, http.StatusInternalServerError, err.HTTPStatus())
}

func TestWithContextChaining(t *testing.T) {
	err := NotFoundError("counter not found").
		WithContext("table", "counters").
		WithContext("correlation_id", "req-456")

	assert.Len(t, err.Context, 2)
	assert.Equal(t, "counters", err.Context["table"])
	assert.Equal(t, "req-456", err.Context["correlation_id"])
}

func TestWithContextNilMap(t *testing.T) {
	err := &Error{Type: TypeValidation, Message: "test"}

	err = err.WithContext("key", "value")

	require.NotNil(t, err.Context)
	assert.Equal(t, "value", err.Context["key"])
}

func TestUnwrap(t *testing.T) {
	cause := errors.New("root cause")
	err := InternalError("failed to read counter", cause)

	assert.ErrorIs(t, err, cause)
}

func TestToResponse(t *testing.T) {
	err := NotFoundError("counter not found").WithContext("correlation_id", "abc")

	resp := err.ToResponse()

	assert.Equal(t, "counter not found", resp.Error)
	assert.Equal(t, TypeNotFound, resp.Type)
	assert.Equal(t, "abc", resp.Context["correlation_id"])
}

func TestAsStructuredError(t *testing.T) {
	t.Run("nil", func(t *testing.T) {
		assert.Nil(t, AsStructuredError(nil))
	})

	t.Run("already structured", func(t *testing.T) {
		original := NotFoundError("counter not found")
		assert.Same(t, original, AsStructuredError(original))
	})

	t.Run("wrapped structured", func(t *testing.T) {
		original := InternalError("failed to read counter", nil)
		wrapped := fmt.Errorf("handler: %w", original)
		assert.Same(t, original, AsStructuredError(wrapped))
	})

	t.Run("plain error becomes internal", func(t *testing.T) {
		plain := errors.New("boom")
		got := AsStructuredError(plain)

		assert.Equal(t, TypeInternal, got.Type)
		assert.Equal(t, "internal server error", got.Message)
		assert.ErrorIs(t, got, plain)
	})
}
