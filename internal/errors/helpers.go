package errors

import (
	"fmt"
	"net/http"
)

// Common error creators for frequent use cases

// NewValidationError creates a validation error with field context
func NewValidationError(field, message string) *AppError {
	return New(ErrCodeValidationFailed, fmt.Sprintf("invalid %s: %s", field, message)).
		WithContext("field", field)
}

// NewAlreadyConnectedError signals a create request for a chatbot whose
// session is already CONNECTED.
func NewAlreadyConnectedError(chatbotID string) *AppError {
	return New(ErrCodeAlreadyConnected, "session is already connected").
		WithContext("chatbot_id", chatbotID)
}

// NewNotConnectedError signals a send attempt on a session that is not CONNECTED.
func NewNotConnectedError(chatbotID string) *AppError {
	return New(ErrCodeNotConnected, "session is not connected").
		WithContext("chatbot_id", chatbotID)
}

// NewSessionNotFoundError signals a read for a chatbot with no session record.
func NewSessionNotFoundError(chatbotID string) *AppError {
	return New(ErrCodeSessionNotFound, "no session for chatbot").
		WithContext("chatbot_id", chatbotID)
}

// NewDatabaseError creates a database error with operation context
func NewDatabaseError(operation string, err error) *AppError {
	return Wrap(err, ErrCodeDatabaseQuery, fmt.Sprintf("database %s failed", operation)).
		WithContext("operation", operation)
}

// NewEngineError creates an error for a failed engine API call. Calls that
// failed with a 5xx, 408 or 429 status are marked retryable.
func NewEngineError(endpoint string, statusCode int, err error) *AppError {
	appErr := Wrap(err, ErrCodeEngineAPI, "engine API call failed").
		WithContext("endpoint", endpoint).
		WithContext("status_code", statusCode)
	if statusCode >= 500 || statusCode == http.StatusTooManyRequests || statusCode == http.StatusRequestTimeout {
		appErr.Retryable = true
	}
	return appErr
}

// HTTPStatusCode maps error codes to appropriate HTTP status codes
func HTTPStatusCode(err error) int {
	switch GetCode(err) {
	case ErrCodeValidationFailed, ErrCodeInvalidInput, ErrCodeInvalidConfig:
		return http.StatusBadRequest
	case ErrCodeAlreadyConnected, ErrCodeNotConnected:
		return http.StatusConflict
	case ErrCodeSessionNotFound:
		return http.StatusNotFound
	case ErrCodeRateLimit:
		return http.StatusTooManyRequests
	case ErrCodeTimeout:
		return http.StatusRequestTimeout
	case ErrCodeEngineAPI:
		if IsRetryable(err) {
			return http.StatusBadGateway
		}
		return http.StatusInternalServerError
	case ErrCodeDatabaseConnection, ErrCodeDatabaseQuery:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// HTTPErrorResponse is the standardized error body returned by the API
type HTTPErrorResponse struct {
	Error struct {
		Code    ErrorCode `json:"code"`
		Message string    `json:"message"`
	} `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

// ToHTTPResponse converts an error to a standardized HTTP response body
func ToHTTPResponse(err error, requestID string) HTTPErrorResponse {
	response := HTTPErrorResponse{RequestID: requestID}
	response.Error.Code = GetCode(err)
	if appErr, ok := err.(*AppError); ok {
		response.Error.Message = appErr.Message
	} else {
		response.Error.Message = "an internal error occurred"
	}
	return response
}
