// Package errors provides standardized error handling for the questionnaire engine and its API.
package errors

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ==========================
// 1. Standard Error Types
// ==========================

// ErrorCode represents standardized internal error codes.
type ErrorCode string

const (
	ErrCodeLocalCacheReadFailed  ErrorCode = "LOCAL_CACHE_READ_FAILED"
	ErrCodeLocalCacheWriteFailed ErrorCode = "LOCAL_CACHE_WRITE_FAILED"
	ErrCodeSnapshotCorrupt       ErrorCode = "SNAPSHOT_CORRUPT"

	ErrCodeRemoteFetchFailed  ErrorCode = "REMOTE_FETCH_FAILED"
	ErrCodeRemoteFetchTimeout ErrorCode = "REMOTE_FETCH_TIMEOUT"
	ErrCodeCheckpointFailed   ErrorCode = "CHECKPOINT_FAILED"

	ErrCodeUnknownGoal          ErrorCode = "UNKNOWN_GOAL"
	ErrCodeReservedAnswerKey    ErrorCode = "RESERVED_ANSWER_KEY"
	ErrCodeInvalidAnswerValue   ErrorCode = "INVALID_ANSWER_VALUE"
	ErrCodeCatalogGoalImmutable ErrorCode = "CATALOG_GOAL_IMMUTABLE"

	ErrCodeSessionNotFound   ErrorCode = "SESSION_NOT_FOUND"
	ErrCodeSessionIDRequired ErrorCode = "SESSION_ID_REQUIRED"
	ErrCodeSessionFinished   ErrorCode = "SESSION_FINISHED"
	ErrCodeInvalidRequest    ErrorCode = "INVALID_REQUEST"

	ErrCodeInvalidToken        ErrorCode = "INVALID_TOKEN"
	ErrCodeIdentityUnavailable ErrorCode = "IDENTITY_UNAVAILABLE"

	ErrCodeNotificationSendFailed ErrorCode = "NOTIFICATION_SEND_FAILED"
)

// StandardError represents a structured application error.
type StandardError struct {
	Code      ErrorCode              `json:"code"`
	Message   string                 `json:"message"`
	Details   string                 `json:"details,omitempty"`
	Retryable bool                   `json:"retryable"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	cause     error
}

func (e *StandardError) Error() string {
	return fmt.Sprintf("StandardError[%s]: %s", e.Code, e.Message)
}

func (e *StandardError) Unwrap() error {
	return e.cause
}

// As extracts a *StandardError from an error chain.
func As(err error) (*StandardError, bool) {
	var stdErr *StandardError
	if errors.As(err, &stdErr) {
		return stdErr, true
	}
	return nil, false
}

// HasCode reports whether err carries a StandardError with the given code.
func HasCode(err error, code ErrorCode) bool {
	stdErr, ok := As(err)
	return ok && stdErr.Code == code
}

// ==========================
// 2. Error Constructors
// ==========================

// NewLocalCacheReadFailedError is logged by the coordinator and never reaches callers.
func NewLocalCacheReadFailedError(key string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeLocalCacheReadFailed,
		Message:   "Local cache read failed",
		Details:   fmt.Sprintf("key: %s, error: %s", key, err.Error()),
		Retryable: true,
		Timestamp: time.Now().UTC(),
		cause:     err,
	}
}

func NewLocalCacheWriteFailedError(key string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeLocalCacheWriteFailed,
		Message:   "Local cache write failed",
		Details:   fmt.Sprintf("key: %s, error: %s", key, err.Error()),
		Retryable: true,
		Timestamp: time.Now().UTC(),
		cause:     err,
	}
}

func NewSnapshotCorruptError(source, details string) *StandardError {
	return &StandardError{
		Code:      ErrCodeSnapshotCorrupt,
		Message:   "Stored snapshot could not be decoded",
		Details:   fmt.Sprintf("source: %s, %s", source, details),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

func NewRemoteFetchFailedError(err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeRemoteFetchFailed,
		Message:   "Remote snapshot fetch failed",
		Details:   err.Error(),
		Retryable: true,
		Timestamp: time.Now().UTC(),
		cause:     err,
	}
}

func NewRemoteFetchTimeoutError(timeout time.Duration) *StandardError {
	return &StandardError{
		Code:      ErrCodeRemoteFetchTimeout,
		Message:   "Remote snapshot fetch timed out",
		Details:   fmt.Sprintf("timeout: %s", timeout),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewCheckpointFailedError is returned to the caller of a checkpoint, who may retry.
func NewCheckpointFailedError(completed bool, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeCheckpointFailed,
		Message:   "Checkpoint save to remote store failed",
		Details:   err.Error(),
		Retryable: true,
		Metadata:  map[string]interface{}{"completed": completed},
		Timestamp: time.Now().UTC(),
		cause:     err,
	}
}

func NewUnknownGoalError(goalID string) *StandardError {
	return &StandardError{
		Code:      ErrCodeUnknownGoal,
		Message:   "Goal does not exist",
		Details:   fmt.Sprintf("goalId: %s", goalID),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

func NewReservedAnswerKeyError(key string) *StandardError {
	return &StandardError{
		Code:      ErrCodeReservedAnswerKey,
		Message:   "Answer key is managed by a dedicated operation",
		Details:   fmt.Sprintf("key: %s", key),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

func NewInvalidAnswerValueError(key, details string) *StandardError {
	return &StandardError{
		Code:      ErrCodeInvalidAnswerValue,
		Message:   "Answer value is not supported",
		Details:   fmt.Sprintf("key: %s, %s", key, details),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

func NewCatalogGoalImmutableError(goalID string) *StandardError {
	return &StandardError{
		Code:      ErrCodeCatalogGoalImmutable,
		Message:   "Catalog goals cannot be renamed",
		Details:   fmt.Sprintf("goalId: %s", goalID),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

func NewSessionNotFoundError(sessionID string) *StandardError {
	return &StandardError{
		Code:      ErrCodeSessionNotFound,
		Message:   "Wizard session not found",
		Details:   fmt.Sprintf("sessionId: %s", sessionID),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

func NewSessionIDRequiredError() *StandardError {
	return &StandardError{
		Code:      ErrCodeSessionIDRequired,
		Message:   "Session identifier is required",
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

func NewSessionFinishedError(sessionID string) *StandardError {
	return &StandardError{
		Code:      ErrCodeSessionFinished,
		Message:   "Wizard session already finished",
		Details:   fmt.Sprintf("sessionId: %s", sessionID),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

func NewInvalidRequestError(details string) *StandardError {
	return &StandardError{
		Code:      ErrCodeInvalidRequest,
		Message:   "Invalid request",
		Details:   details,
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

func NewInvalidTokenError(details string) *StandardError {
	return &StandardError{
		Code:      ErrCodeInvalidToken,
		Message:   "Access token rejected",
		Details:   details,
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

func NewIdentityUnavailableError(err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeIdentityUnavailable,
		Message:   "Identity provider unavailable",
		Details:   err.Error(),
		Retryable: true,
		Timestamp: time.Now().UTC(),
		cause:     err,
	}
}

func NewNotificationSendFailedError(channel string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeNotificationSendFailed,
		Message:   "Notification delivery failed",
		Details:   fmt.Sprintf("channel: %s, error: %s", channel, err.Error()),
		Retryable: true,
		Timestamp: time.Now().UTC(),
		cause:     err,
	}
}

// ==========================
// 3. Classification
// ==========================

func GetRetryCount(code ErrorCode) int {
	switch code {
	case ErrCodeCheckpointFailed,
		ErrCodeRemoteFetchFailed,
		ErrCodeNotificationSendFailed:
		return 3

	case ErrCodeRemoteFetchTimeout,
		ErrCodeIdentityUnavailable:
		return 2

	case ErrCodeLocalCacheReadFailed,
		ErrCodeLocalCacheWriteFailed:
		return 1 // next autosave supersedes

	default:
		return 0
	}
}

func IsRetryableErrorCode(code ErrorCode) bool {
	return GetRetryCount(code) > 0
}

func GetErrorCategory(code ErrorCode) string {
	codeStr := string(code)
	switch {
	case strings.Contains(codeStr, "LOCAL_CACHE") || strings.Contains(codeStr, "SNAPSHOT"):
		return "LOCAL_CACHE"
	case strings.Contains(codeStr, "REMOTE") || strings.Contains(codeStr, "CHECKPOINT"):
		return "REMOTE_STORE"
	case strings.Contains(codeStr, "GOAL") || strings.Contains(codeStr, "ANSWER"):
		return "ANSWERS"
	case strings.Contains(codeStr, "SESSION"):
		return "SESSION"
	case strings.Contains(codeStr, "TOKEN") || strings.Contains(codeStr, "IDENTITY"):
		return "AUTH"
	case strings.Contains(codeStr, "NOTIFICATION"):
		return "NOTIFICATION"
	case strings.Contains(codeStr, "INVALID"):
		return "VALIDATION"
	default:
		return "OTHER"
	}
}
