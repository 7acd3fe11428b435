package upstream

import (
	"context"
	"crypto/tls"
	"net"
	"net/http"
	"time"

	"github.com/awsl-project/relay/internal/converter"
	"github.com/awsl-project/relay/internal/domain"
)

// Request 是派发到上游的统一请求。请求体始终是 Claude 格式（内部枢轴格式），
// 各上游客户端自行转换成自己的线格式。
type Request struct {
	// 客户端请求的模型名（回显用）
	RequestModel string

	// 别名解析后的上游模型名
	Model string

	// Claude 格式请求体
	ClaudeBody []byte

	Stream       bool
	ClientFormat domain.ClientFormat

	// 稳定的客户端会话标识，用于生成确定性会话ID
	SessionKey string
}

// Client executes a request against one provider kind and returns the
// collected result. Streaming upstreams are drained first; the caller
// re-synthesizes client-facing SSE from the parsed response.
type Client interface {
	Collect(ctx context.Context, cred *domain.Credential, bearer string, req *Request) (*domain.ParsedUpstreamResponse, error)
}

// Streamer is implemented by upstreams that can relay SSE to the client
// as it arrives instead of collecting first.
type Streamer interface {
	Stream(ctx context.Context, w http.ResponseWriter, cred *domain.Credential, bearer string, req *Request) error
}

// Registry maps provider kinds to upstream clients.
type Registry struct {
	clients map[domain.ProviderKind]Client
}

func NewRegistry(conv *converter.Registry) *Registry {
	httpClient := newUpstreamHTTPClient()
	keyClient := NewAPIKeyClient(httpClient, conv)

	return &Registry{
		clients: map[domain.ProviderKind]Client{
			domain.ProviderKindKiro:        NewKiroClient(httpClient),
			domain.ProviderKindAntigravity: NewAntigravityClient(httpClient, conv),
			domain.ProviderKindOpenAIKey:   keyClient,
			domain.ProviderKindClaudeKey:   keyClient,
			domain.ProviderKindGeminiKey:   keyClient,
			domain.ProviderKindVertexKey:   keyClient,
		},
	}
}

// For returns the client for a provider kind. Kinds without an upstream
// implementation (codex, claude and gemini OAuth) are rejected here so the
// router surfaces a clean error instead of a nil dispatch.
func (r *Registry) For(kind domain.ProviderKind) (Client, error) {
	c, ok := r.clients[kind]
	if !ok {
		return nil, domain.NewProxyErrorWithMessage(domain.ErrUnsupportedCredentialType, false,
			"no upstream client for provider kind "+string(kind))
	}
	return c, nil
}

// newUpstreamHTTPClient 匹配 kiro2api 的客户端配置
func newUpstreamHTTPClient() *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			DialContext: (&net.Dialer{
				Timeout:   15 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,

			TLSHandshakeTimeout: 15 * time.Second,
			TLSClientConfig: &tls.Config{
				MinVersion: tls.VersionTLS12,
				MaxVersion: tls.VersionTLS13,
			},

			ForceAttemptHTTP2:  false,
			DisableCompression: false,
		},
		// 不设置整体 Timeout：长流式响应由 ctx 控制
	}
}

func isRetryableStatusCode(status int) bool {
	return status == http.StatusTooManyRequests ||
		status == http.StatusRequestTimeout ||
		status >= 500
}
