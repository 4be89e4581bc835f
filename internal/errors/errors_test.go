package errors

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppError_Error(t *testing.T) {
	err := New(ErrCodeNotConnected, "session is not connected")
	assert.Equal(t, "NOT_CONNECTED: session is not connected", err.Error())

	wrapped := Wrap(fmt.Errorf("connection refused"), ErrCodeEngineAPI, "engine API call failed")
	assert.Equal(t, "ENGINE_API: engine API call failed: connection refused", wrapped.Error())
}

func TestAppError_Unwrap(t *testing.T) {
	cause := fmt.Errorf("root cause")
	wrapped := Wrap(cause, ErrCodeDatabaseQuery, "query failed")
	assert.Equal(t, cause, wrapped.Unwrap())
}

func TestWithContext(t *testing.T) {
	err := New(ErrCodeValidationFailed, "bad input").
		WithContext("field", "chatbotId").
		WithContext("value", "")

	assert.Equal(t, "chatbotId", err.Context["field"])
	assert.Equal(t, "", err.Context["value"])
}

func TestGetCode(t *testing.T) {
	assert.Equal(t, ErrCodeTimeout, GetCode(New(ErrCodeTimeout, "too slow")))
	assert.Equal(t, ErrCodeInternalError, GetCode(fmt.Errorf("plain error")))
	assert.True(t, Is(NewNotConnectedError("bot-1"), ErrCodeNotConnected))
}

func TestIsRetryable(t *testing.T) {
	assert.False(t, IsRetryable(New(ErrCodeEngineAPI, "bad request")))
	assert.True(t, IsRetryable(WrapRetryable(fmt.Errorf("503"), ErrCodeEngineAPI, "engine down")))
	assert.False(t, IsRetryable(fmt.Errorf("plain error")))
}

func TestNewEngineError_RetryableByStatus(t *testing.T) {
	assert.True(t, NewEngineError("/api/sessions", 503, fmt.Errorf("upstream")).Retryable)
	assert.True(t, NewEngineError("/api/sessions", 429, fmt.Errorf("slow down")).Retryable)
	assert.False(t, NewEngineError("/api/sessions", 422, fmt.Errorf("bad name")).Retryable)
}

func TestHTTPStatusCode(t *testing.T) {
	tests := []struct {
		err    error
		status int
	}{
		{NewValidationError("chatbotId", "must not be empty"), http.StatusBadRequest},
		{NewAlreadyConnectedError("bot-1"), http.StatusConflict},
		{NewNotConnectedError("bot-1"), http.StatusConflict},
		{NewSessionNotFoundError("bot-1"), http.StatusNotFound},
		{New(ErrCodeRateLimit, "too many sends"), http.StatusTooManyRequests},
		{New(ErrCodeTimeout, "too slow"), http.StatusRequestTimeout},
		{NewEngineError("/api/sendText", 503, fmt.Errorf("upstream")), http.StatusBadGateway},
		{New(ErrCodeEngineAPI, "bad request"), http.StatusInternalServerError},
		{NewDatabaseError("get session", fmt.Errorf("locked")), http.StatusServiceUnavailable},
		{fmt.Errorf("plain error"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.status, HTTPStatusCode(tt.err), "for %v", tt.err)
	}
}

func TestToHTTPResponse(t *testing.T) {
	response := ToHTTPResponse(NewNotConnectedError("bot-1"), "req-123")
	assert.Equal(t, ErrCodeNotConnected, response.Error.Code)
	assert.Equal(t, "session is not connected", response.Error.Message)
	assert.Equal(t, "req-123", response.RequestID)

	// Plain errors must not leak their message to clients.
	response = ToHTTPResponse(fmt.Errorf("sqlite: disk I/O error at /var/lib"), "req-456")
	require.Equal(t, ErrCodeInternalError, response.Error.Code)
	assert.Equal(t, "an internal error occurred", response.Error.Message)
}
