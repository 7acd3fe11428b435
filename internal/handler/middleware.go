package handler

import (
	"bufio"
	"crypto/md5"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/awsl-project/relay/internal/config"
	"github.com/awsl-project/relay/internal/converter"
	"github.com/awsl-project/relay/internal/domain"
)

// 大上下文请求体上限 100 MiB
const maxRequestBodyBytes = 100 << 20

// responseWriter wraps http.ResponseWriter to capture the status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
	wrote      bool
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.wrote = true
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	rw.wrote = true
	return rw.ResponseWriter.Write(b)
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if hj, ok := rw.ResponseWriter.(http.Hijacker); ok {
		return hj.Hijack()
	}
	return nil, nil, fmt.Errorf("response writer does not support hijacking")
}

// LoggingMiddleware 记录请求日志，跳过高频探活和推送通道
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" || r.URL.Path == "/ws" || r.URL.Path == "/v1/ws" {
			next.ServeHTTP(w, r)
			return
		}
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rw, r)
		log.Printf("[HTTP] %s %s %d %v", r.Method, r.URL.Path, rw.statusCode, time.Since(start))
	})
}

// AuthMiddleware enforces the shared gateway key. An empty configured key
// disables authentication entirely.
func AuthMiddleware(cfg *config.Holder, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}
		key := cfg.Load().AuthKey
		if key != "" && clientKey(r) != key {
			writeError(w, http.StatusUnauthorized, "invalid or missing api key")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// clientKey 依次尝试 Authorization: Bearer 和 x-api-key
func clientKey(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		if strings.HasPrefix(auth, "Bearer ") {
			return strings.TrimPrefix(auth, "Bearer ")
		}
		return auth
	}
	return r.Header.Get("x-api-key")
}

// sessionKeyFor derives a stable conversation key from the caller identity
// and the current hour, so consecutive requests from one client map to the
// same upstream conversation.
func sessionKeyFor(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	raw := fmt.Sprintf("%s|%s|%s", host, r.Header.Get("User-Agent"), time.Now().UTC().Format("2006010215"))
	return fmt.Sprintf("%x", md5.Sum([]byte(raw)))
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	fmt.Fprintf(w, `{"error":{"message":%q,"type":"proxy_error"}}`, message)
}

// writeProxyError maps an execution error to the client-facing status.
func writeProxyError(w http.ResponseWriter, err error) {
	writeError(w, statusForError(err), err.Error())
}

// statusForError 按错误类别映射 HTTP 状态
func statusForError(err error) int {
	var convErr *converter.ConversionError
	if errors.As(err, &convErr) {
		return http.StatusBadRequest
	}
	var perr *domain.ProxyError
	if errors.As(err, &perr) {
		switch {
		case errors.Is(perr.Err, domain.ErrNoCredentialsAvailable):
			return http.StatusServiceUnavailable
		case errors.Is(perr.Err, domain.ErrUnsupportedCredentialType):
			return http.StatusNotImplemented
		case errors.Is(perr.Err, domain.ErrTokenRefreshFailed):
			return http.StatusBadGateway
		case errors.Is(perr.Err, domain.ErrInvalidInput):
			return http.StatusBadRequest
		case domain.IsAuthStatus(perr.HTTPStatusCode):
			// 强制刷新重试后仍然鉴权失败
			return http.StatusUnauthorized
		case perr.IsNetworkError || perr.HTTPStatusCode >= 500:
			return http.StatusBadGateway
		case perr.HTTPStatusCode >= 400:
			return perr.HTTPStatusCode
		}
		return http.StatusBadGateway
	}
	switch {
	case errors.Is(err, domain.ErrNoCredentialsAvailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, domain.ErrUnsupportedCredentialType):
		return http.StatusNotImplemented
	case errors.Is(err, domain.ErrInvalidInput), errors.Is(err, domain.ErrFormatConversion):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrUnauthorized):
		return http.StatusUnauthorized
	}
	return http.StatusInternalServerError
}

// writeStreamError 流已经开始输出后只能以 SSE 事件形式报告错误
func writeStreamError(w http.ResponseWriter, err error) {
	fmt.Fprintf(w, "event: error\ndata: {\"error\":{\"message\":%q,\"type\":\"proxy_error\"}}\n\n", err.Error())
	fmt.Fprint(w, "data: [DONE]\n\n")
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
}
