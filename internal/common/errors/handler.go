package errors

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// APIResponse is the envelope every API endpoint answers with.
type APIResponse struct {
	Success bool           `json:"success"`
	Data    interface{}    `json:"data,omitempty"`
	Error   *StandardError `json:"error,omitempty"`
}

// ErrorHandler turns engine errors into API responses
type ErrorHandler struct {
	logger Logger
}

type Logger interface {
	Error(msg string, fields map[string]interface{})
	Warn(msg string, fields map[string]interface{})
}

func NewErrorHandler(logger Logger) *ErrorHandler {
	return &ErrorHandler{logger: logger}
}

// HandleHTTPError normalizes err, logs it and aborts the request with the mapped status.
func (h *ErrorHandler) HandleHTTPError(c *gin.Context, err error) {
	stdErr := h.normalizeError(err)
	status := ToHTTPStatus(stdErr.Code)

	h.logError(c, stdErr, status)

	c.AbortWithStatusJSON(status, APIResponse{
		Success: false,
		Error:   stdErr,
	})
}

// normalizeError ensures we always have a StandardError
func (h *ErrorHandler) normalizeError(err error) *StandardError {
	if stdErr, ok := As(err); ok {
		return stdErr
	}
	return &StandardError{
		Code:      "INTERNAL_ERROR",
		Message:   "Unexpected error",
		Details:   err.Error(),
		Retryable: false,
		Timestamp: time.Now().UTC(),
		cause:     err,
	}
}

// ToHTTPStatus maps an error code to the status the API answers with.
func ToHTTPStatus(code ErrorCode) int {
	switch code {
	case ErrCodeUnknownGoal, ErrCodeSessionNotFound:
		return http.StatusNotFound
	case ErrCodeReservedAnswerKey, ErrCodeInvalidAnswerValue, ErrCodeInvalidRequest,
		ErrCodeSessionIDRequired, ErrCodeCatalogGoalImmutable:
		return http.StatusBadRequest
	case ErrCodeSessionFinished:
		return http.StatusConflict
	case ErrCodeInvalidToken:
		return http.StatusUnauthorized
	case ErrCodeCheckpointFailed, ErrCodeRemoteFetchFailed, ErrCodeRemoteFetchTimeout,
		ErrCodeIdentityUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (h *ErrorHandler) logError(c *gin.Context, stdErr *StandardError, status int) {
	fields := map[string]interface{}{
		"path":          c.FullPath(),
		"method":        c.Request.Method,
		"status":        status,
		"errorCode":     string(stdErr.Code),
		"message":       stdErr.Message,
		"details":       stdErr.Details,
		"retryable":     stdErr.Retryable,
		"retries":       GetRetryCount(stdErr.Code),
		"errorCategory": GetErrorCategory(stdErr.Code),
	}
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed", fields)
		return
	}
	h.logger.Warn("request rejected", fields)
}
