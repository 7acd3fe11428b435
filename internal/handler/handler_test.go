package handler

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/awsl-project/relay/internal/config"
	"github.com/awsl-project/relay/internal/converter"
	"github.com/awsl-project/relay/internal/domain"
)

func TestSplitProxyPath(t *testing.T) {
	tests := []struct {
		path     string
		selector string
		endpoint string
		ok       bool
	}{
		{"/v1/messages", "", "/v1/messages", true},
		{"/v1/chat/completions", "", "/v1/chat/completions", true},
		{"/v1/messages/count_tokens", "", "/v1/messages/count_tokens", true},
		{"/my-kiro/v1/messages", "my-kiro", "/v1/messages", true},
		{"/openai-key/v1/chat/completions", "openai-key", "/v1/chat/completions", true},
		{"/my-kiro/v1/messages/count_tokens", "", "", false},
		{"/unknown", "", "", false},
		{"/", "", "", false},
		{"/a/b/c", "", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			selector, endpoint, ok := splitProxyPath(tt.path)
			if ok != tt.ok || selector != tt.selector || endpoint != tt.endpoint {
				t.Errorf("splitProxyPath(%q) = (%q, %q, %v), want (%q, %q, %v)",
					tt.path, selector, endpoint, ok, tt.selector, tt.endpoint, tt.ok)
			}
		})
	}
}

func TestAuthMiddleware(t *testing.T) {
	cfg := config.NewHolder(&config.Snapshot{AuthKey: "secret"})
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	h := AuthMiddleware(cfg, next)

	tests := []struct {
		name   string
		path   string
		header func(r *http.Request)
		want   int
	}{
		{
			name:   "bearer token accepted",
			path:   "/v1/messages",
			header: func(r *http.Request) { r.Header.Set("Authorization", "Bearer secret") },
			want:   http.StatusOK,
		},
		{
			name:   "x-api-key accepted",
			path:   "/v1/messages",
			header: func(r *http.Request) { r.Header.Set("x-api-key", "secret") },
			want:   http.StatusOK,
		},
		{
			name:   "wrong key rejected",
			path:   "/v1/messages",
			header: func(r *http.Request) { r.Header.Set("x-api-key", "nope") },
			want:   http.StatusUnauthorized,
		},
		{
			name:   "missing key rejected",
			path:   "/v1/messages",
			header: func(r *http.Request) {},
			want:   http.StatusUnauthorized,
		},
		{
			name:   "health exempt",
			path:   "/health",
			header: func(r *http.Request) {},
			want:   http.StatusOK,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			tt.header(req)
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}

func TestAuthMiddlewareDisabledWithEmptyKey(t *testing.T) {
	cfg := config.NewHolder(&config.Snapshot{})
	h := AuthMiddleware(cfg, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodPost, "/v1/messages", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200 when auth disabled", rec.Code)
	}
}

func TestUnauthorizedBodyShape(t *testing.T) {
	cfg := config.NewHolder(&config.Snapshot{AuthKey: "secret"})
	h := AuthMiddleware(cfg, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	req := httptest.NewRequest(http.MethodPost, "/v1/messages", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	body := rec.Body.String()
	if body == "" || body[0] != '{' {
		t.Fatalf("expected JSON error body, got %q", body)
	}
	if rec.Header().Get("Content-Type") != "application/json" {
		t.Errorf("Content-Type = %q", rec.Header().Get("Content-Type"))
	}
	// {"error":{"message":...}} 结构
	if want := `"error"`; !contains(body, want) {
		t.Errorf("body %q missing %q", body, want)
	}
	if want := `"message"`; !contains(body, want) {
		t.Errorf("body %q missing %q", body, want)
	}
}

func contains(s, sub string) bool {
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return true
		}
	}
	return false
}

func TestStatusForError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{
			name: "no credentials",
			err:  domain.ErrNoCredentialsAvailable,
			want: http.StatusServiceUnavailable,
		},
		{
			name: "unsupported kind",
			err:  domain.NewProxyError(domain.ErrUnsupportedCredentialType, false),
			want: http.StatusNotImplemented,
		},
		{
			name: "refresh failed",
			err:  domain.NewProxyError(domain.ErrTokenRefreshFailed, true),
			want: http.StatusBadGateway,
		},
		{
			name: "upstream auth failure after retry",
			err:  domain.NewUpstreamError(403, "forbidden"),
			want: http.StatusUnauthorized,
		},
		{
			name: "upstream 429 passthrough",
			err:  domain.NewUpstreamError(429, "slow down"),
			want: http.StatusTooManyRequests,
		},
		{
			name: "upstream 500 becomes 502",
			err:  domain.NewUpstreamError(503, "boom"),
			want: http.StatusBadGateway,
		},
		{
			name: "conversion error",
			err:  &converter.ConversionError{Reason: "bad shape"},
			want: http.StatusBadRequest,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := statusForError(tt.err); got != tt.want {
				t.Errorf("statusForError() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestSessionKeyStablePerClient(t *testing.T) {
	r1 := httptest.NewRequest(http.MethodPost, "/v1/messages", nil)
	r1.RemoteAddr = "10.0.0.1:5000"
	r1.Header.Set("User-Agent", "client-a")

	r2 := httptest.NewRequest(http.MethodPost, "/v1/messages", nil)
	r2.RemoteAddr = "10.0.0.1:6000" // 同 IP 不同端口
	r2.Header.Set("User-Agent", "client-a")

	r3 := httptest.NewRequest(http.MethodPost, "/v1/messages", nil)
	r3.RemoteAddr = "10.0.0.2:5000"
	r3.Header.Set("User-Agent", "client-a")

	if sessionKeyFor(r1) != sessionKeyFor(r2) {
		t.Error("session key must ignore the client port")
	}
	if sessionKeyFor(r1) == sessionKeyFor(r3) {
		t.Error("different IPs must get different session keys")
	}
}
