package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound                  = errors.New("not found")
	ErrAlreadyExists             = errors.New("already exists")
	ErrInvalidInput              = errors.New("invalid input")
	ErrNoCredentialsAvailable    = errors.New("no credentials available")
	ErrUnsupportedCredentialType = errors.New("unsupported credential type")
	ErrTokenRefreshFailed        = errors.New("token refresh failed")
	ErrUpstreamError             = errors.New("upstream error")
	ErrFormatConversion          = errors.New("format conversion error")
	ErrUnsupportedFormat         = errors.New("unsupported format")
	ErrDatabase                  = errors.New("database error")
	ErrUnauthorized              = errors.New("unauthorized")
	ErrInternal                  = errors.New("internal error")
)

// ProxyError represents an error during proxy execution
type ProxyError struct {
	Err       error
	Retryable bool
	Message   string

	// Upstream HTTP status，0 表示没有
	HTTPStatusCode int

	// 连接层失败，有别于上游返回的错误状态
	IsNetworkError bool
}

func (e *ProxyError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Err.Error()
}

func (e *ProxyError) Unwrap() error {
	return e.Err
}

func NewProxyError(err error, retryable bool) *ProxyError {
	return &ProxyError{Err: err, Retryable: retryable}
}

func NewProxyErrorWithMessage(err error, retryable bool, msg string) *ProxyError {
	return &ProxyError{Err: err, Retryable: retryable, Message: msg}
}

// NewUpstreamError wraps a non-2xx upstream response with its status and body.
func NewUpstreamError(status int, body string) *ProxyError {
	return &ProxyError{
		Err:            ErrUpstreamError,
		Retryable:      status >= 500,
		Message:        fmt.Sprintf("upstream status %d: %s", status, body),
		HTTPStatusCode: status,
	}
}

// IsAuthStatus reports whether an upstream status should trigger the
// forced-refresh retry path (401/402/403).
func IsAuthStatus(status int) bool {
	return status == 401 || status == 402 || status == 403
}
