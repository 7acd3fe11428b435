package upstream

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/awsl-project/relay/internal/converter"
	"github.com/awsl-project/relay/internal/domain"
	"github.com/awsl-project/relay/internal/jsonutil"
)

// 各 key 类上游的默认 BaseURL
const (
	defaultOpenAIBaseURL = "https://api.openai.com/v1"
	defaultClaudeBaseURL = "https://api.anthropic.com"
	defaultGeminiBaseURL = "https://generativelanguage.googleapis.com"
)

// APIKeyClient 对接 API key 认证的标准上游 (OpenAI / Anthropic / Gemini 协议)。
// OAuth 类上游先收集再合成，这里反过来：能流式就直接中继，按需做分片格式转换。
type APIKeyClient struct {
	httpClient *http.Client
	conv       *converter.Registry
}

func NewAPIKeyClient(httpClient *http.Client, conv *converter.Registry) *APIKeyClient {
	return &APIKeyClient{httpClient: httpClient, conv: conv}
}

// upstreamFormat maps a key-backed kind to its wire format.
func upstreamFormat(kind domain.ProviderKind) (converter.Format, error) {
	switch kind {
	case domain.ProviderKindOpenAIKey:
		return converter.FormatOpenAI, nil
	case domain.ProviderKindClaudeKey:
		return converter.FormatClaude, nil
	case domain.ProviderKindGeminiKey, domain.ProviderKindVertexKey:
		return converter.FormatGemini, nil
	}
	return "", domain.NewProxyErrorWithMessage(domain.ErrUnsupportedCredentialType, false,
		"not a key-backed provider kind: "+string(kind))
}

func (c *APIKeyClient) buildRequest(ctx context.Context, cred *domain.Credential, bearer string, req *Request, stream bool) (*http.Request, converter.Format, error) {
	format, err := upstreamFormat(cred.Kind)
	if err != nil {
		return nil, "", err
	}

	body, err := c.conv.TransformRequest(converter.FormatClaude, format, req.ClaudeBody, req.Model, stream)
	if err != nil {
		return nil, "", domain.NewProxyErrorWithMessage(domain.ErrFormatConversion, false, "failed to transform request")
	}

	baseURL := ""
	if cred.Secret != nil && cred.Secret.Key != nil {
		baseURL = cred.Secret.Key.BaseURL
	}

	var upstreamURL string
	switch format {
	case converter.FormatOpenAI:
		if baseURL == "" {
			baseURL = defaultOpenAIBaseURL
		}
		upstreamURL = strings.TrimSuffix(baseURL, "/") + "/chat/completions"
	case converter.FormatClaude:
		if baseURL == "" {
			baseURL = defaultClaudeBaseURL
		}
		upstreamURL = strings.TrimSuffix(baseURL, "/") + "/v1/messages"
	case converter.FormatGemini:
		if baseURL == "" {
			baseURL = defaultGeminiBaseURL
		}
		action := "generateContent"
		if stream {
			action = "streamGenerateContent?alt=sse"
		}
		upstreamURL = fmt.Sprintf("%s/v1beta/models/%s:%s", strings.TrimSuffix(baseURL, "/"), req.Model, action)
	}

	upstreamReq, err := http.NewRequestWithContext(ctx, "POST", upstreamURL, bytes.NewReader(body))
	if err != nil {
		return nil, "", domain.NewProxyErrorWithMessage(err, true, "failed to create upstream request")
	}

	upstreamReq.Header.Set("Content-Type", "application/json")
	// gzip 解码问题多，直接关掉
	upstreamReq.Header.Set("Accept-Encoding", "identity")
	if stream {
		upstreamReq.Header.Set("Accept", "text/event-stream")
	}

	switch format {
	case converter.FormatClaude:
		upstreamReq.Header.Set("x-api-key", bearer)
		upstreamReq.Header.Set("anthropic-version", "2023-06-01")
	case converter.FormatGemini:
		upstreamReq.Header.Set("x-goog-api-key", bearer)
	default:
		upstreamReq.Header.Set("Authorization", "Bearer "+bearer)
	}

	return upstreamReq, format, nil
}

func (c *APIKeyClient) Collect(ctx context.Context, cred *domain.Credential, bearer string, req *Request) (*domain.ParsedUpstreamResponse, error) {
	upstreamReq, format, err := c.buildRequest(ctx, cred, bearer, req, false)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(upstreamReq)
	if err != nil {
		proxyErr := domain.NewProxyErrorWithMessage(domain.ErrUpstreamError, true, "failed to connect to upstream")
		proxyErr.IsNetworkError = true
		return nil, proxyErr
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, domain.NewProxyErrorWithMessage(domain.ErrUpstreamError, true, "failed to read upstream response")
	}

	if resp.StatusCode >= 400 {
		return nil, domain.NewUpstreamError(resp.StatusCode, string(body))
	}

	return c.flatten(format, body)
}

// flatten 把任意上游格式的完整响应归一化成 ParsedUpstreamResponse
func (c *APIKeyClient) flatten(format converter.Format, body []byte) (*domain.ParsedUpstreamResponse, error) {
	claudeBody := body
	if format != converter.FormatClaude {
		var err error
		claudeBody, err = c.conv.TransformResponse(format, converter.FormatClaude, body)
		if err != nil {
			return nil, domain.NewProxyErrorWithMessage(domain.ErrFormatConversion, false, "failed to transform response")
		}
	}

	var claudeResp converter.ClaudeResponse
	if err := jsonutil.FastUnmarshal(claudeBody, &claudeResp); err != nil {
		return nil, domain.NewProxyErrorWithMessage(domain.ErrFormatConversion, false, "failed to decode upstream response")
	}

	parsed := &domain.ParsedUpstreamResponse{}
	for _, block := range claudeResp.Content {
		switch block.Type {
		case "text":
			parsed.TextContent += block.Text
		case "tool_use":
			args := "{}"
			if block.Input != nil {
				if raw, mErr := jsonutil.FastMarshal(block.Input); mErr == nil {
					args = string(raw)
				}
			}
			parsed.ToolCalls = append(parsed.ToolCalls, domain.ToolCall{
				ID:        block.ID,
				Name:      block.Name,
				Arguments: args,
			})
		}
	}

	return parsed, nil
}

// Stream relays the upstream SSE stream to the client, converting chunks
// between wire formats when client and upstream differ.
func (c *APIKeyClient) Stream(ctx context.Context, w http.ResponseWriter, cred *domain.Credential, bearer string, req *Request) error {
	upstreamReq, format, err := c.buildRequest(ctx, cred, bearer, req, true)
	if err != nil {
		return err
	}

	resp, err := c.httpClient.Do(upstreamReq)
	if err != nil {
		proxyErr := domain.NewProxyErrorWithMessage(domain.ErrUpstreamError, true, "failed to connect to upstream")
		proxyErr.IsNetworkError = true
		return proxyErr
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(resp.Body)
		return domain.NewUpstreamError(resp.StatusCode, string(body))
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		return domain.NewProxyErrorWithMessage(domain.ErrUpstreamError, false, "streaming not supported")
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	clientFormat := converter.FromClientFormat(req.ClientFormat)
	state := converter.NewTransformState()

	buf := make([]byte, 4096)
	for {
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			out, tErr := c.conv.TransformStreamChunk(format, clientFormat, buf[:n], state)
			if tErr != nil {
				return domain.NewProxyErrorWithMessage(domain.ErrFormatConversion, false, "failed to transform stream chunk")
			}
			if len(out) > 0 {
				if _, wErr := w.Write(out); wErr != nil {
					return domain.NewProxyErrorWithMessage(wErr, false, "client write failed")
				}
				flusher.Flush()
			}
		}
		if readErr != nil {
			if readErr == io.EOF {
				return nil
			}
			if ctx.Err() != nil {
				return domain.NewProxyErrorWithMessage(ctx.Err(), false, "client disconnected")
			}
			return domain.NewProxyErrorWithMessage(readErr, true, "upstream stream interrupted")
		}
	}
}
