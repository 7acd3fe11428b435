package upstream

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/awsl-project/relay/internal/converter"
	"github.com/awsl-project/relay/internal/domain"
	"github.com/awsl-project/relay/internal/jsonutil"
)

// v1internal 端点，prod 优先，daily 兜底
const (
	v1InternalBaseURLProd  = "https://cloudcode-pa.googleapis.com/v1internal"
	v1InternalBaseURLDaily = "https://daily-cloudcode-pa.sandbox.googleapis.com/v1internal"

	antigravityUserAgent = "antigravity/1.11.5 windows/amd64"
)

// Claude/OpenAI 模型别名映射到 Antigravity 侧模型名
var antigravityModelMap = map[string]string{
	"claude-opus-4-5-thinking":   "claude-opus-4-5-thinking",
	"claude-sonnet-4-5":          "claude-sonnet-4-5",
	"claude-sonnet-4-5-thinking": "claude-sonnet-4-5-thinking",

	"claude-sonnet-4-5-20250929": "claude-sonnet-4-5-thinking",
	"claude-3-5-sonnet-20241022": "claude-sonnet-4-5",
	"claude-3-5-sonnet-20240620": "claude-sonnet-4-5",
	"claude-opus-4":              "claude-opus-4-5-thinking",
	"claude-opus-4-5-20251101":   "claude-opus-4-5-thinking",

	"gpt-4":         "gemini-2.5-pro",
	"gpt-4-turbo":   "gemini-2.5-pro",
	"gpt-4o":        "gemini-2.5-pro",
	"gpt-4o-mini":   "gemini-2.5-flash",
	"gpt-3.5-turbo": "gemini-2.5-flash",

	"gemini-2.5-flash-lite": "gemini-2.5-flash-lite",
	"gemini-2.5-flash":      "gemini-2.5-flash",
	"gemini-2.5-pro":        "gemini-2.5-pro",
	"gemini-3-pro":          "gemini-3-pro",
	"gemini-3-flash":        "gemini-3-flash",
}

// MapAntigravityModel maps a client model name to the Antigravity model
// name. Haiku variants degrade to flash-lite; unknown gemini/thinking
// names pass through; everything else falls back to claude-sonnet-4-5.
func MapAntigravityModel(input string) string {
	cleanInput := strings.TrimSpace(input)

	if mapped, ok := antigravityModelMap[cleanInput]; ok {
		return mapped
	}

	if strings.Contains(strings.ToLower(cleanInput), "haiku") {
		return "gemini-2.5-flash-lite"
	}

	if strings.HasPrefix(cleanInput, "gemini-") || strings.Contains(cleanInput, "thinking") {
		return cleanInput
	}

	return "claude-sonnet-4-5"
}

// AntigravityClient 通过 v1internal API 对接 Google Antigravity 上游
type AntigravityClient struct {
	httpClient *http.Client
	conv       *converter.Registry
}

func NewAntigravityClient(httpClient *http.Client, conv *converter.Registry) *AntigravityClient {
	return &AntigravityClient{httpClient: httpClient, conv: conv}
}

func (a *AntigravityClient) Collect(ctx context.Context, cred *domain.Credential, bearer string, req *Request) (*domain.ParsedUpstreamResponse, error) {
	mappedModel := MapAntigravityModel(req.Model)

	geminiBody, err := a.conv.TransformRequest(converter.FormatClaude, converter.FormatGemini, req.ClaudeBody, mappedModel, false)
	if err != nil {
		return nil, domain.NewProxyErrorWithMessage(domain.ErrFormatConversion, false, "failed to transform request")
	}

	projectID := ""
	if cred.Secret != nil && cred.Secret.OAuth != nil {
		projectID = cred.Secret.OAuth.ProjectID
	}

	upstreamBody, err := wrapV1InternalRequest(geminiBody, projectID, mappedModel, req.SessionKey)
	if err != nil {
		return nil, domain.NewProxyErrorWithMessage(domain.ErrFormatConversion, false, "failed to wrap request for v1internal")
	}

	baseURLs := []string{v1InternalBaseURLProd, v1InternalBaseURLDaily}

	var lastErr error
	for idx, base := range baseURLs {
		upstreamURL := base + ":generateContent"

		upstreamReq, reqErr := http.NewRequestWithContext(ctx, "POST", upstreamURL, bytes.NewReader(upstreamBody))
		if reqErr != nil {
			return nil, domain.NewProxyErrorWithMessage(reqErr, true, "failed to create upstream request")
		}
		upstreamReq.Header.Set("Content-Type", "application/json")
		upstreamReq.Header.Set("Authorization", "Bearer "+bearer)
		upstreamReq.Header.Set("User-Agent", antigravityUserAgent)

		resp, doErr := a.httpClient.Do(upstreamReq)
		if doErr != nil {
			proxyErr := domain.NewProxyErrorWithMessage(domain.ErrUpstreamError, true, "failed to connect to upstream")
			proxyErr.IsNetworkError = true
			lastErr = proxyErr
			if idx+1 < len(baseURLs) {
				log.Printf("[Antigravity] endpoint %s unreachable, trying fallback", base)
				continue
			}
			return nil, lastErr
		}

		body, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		if readErr != nil {
			return nil, domain.NewProxyErrorWithMessage(domain.ErrUpstreamError, true, "failed to read upstream response")
		}

		if resp.StatusCode >= 400 {
			lastErr = domain.NewUpstreamError(resp.StatusCode, string(body))
			// 429/408/404/5xx 切换到下一个端点 (匹配 Antigravity-Manager)
			if idx+1 < len(baseURLs) && shouldTryNextEndpoint(resp.StatusCode) {
				log.Printf("[Antigravity] endpoint %s returned %d, trying fallback", base, resp.StatusCode)
				continue
			}
			return nil, lastErr
		}

		return a.parseResponse(unwrapV1InternalResponse(body))
	}

	return nil, lastErr
}

func (a *AntigravityClient) parseResponse(geminiBody []byte) (*domain.ParsedUpstreamResponse, error) {
	claudeBody, err := a.conv.TransformResponse(converter.FormatGemini, converter.FormatClaude, geminiBody)
	if err != nil {
		return nil, domain.NewProxyErrorWithMessage(domain.ErrFormatConversion, false, "failed to transform response")
	}

	var claudeResp converter.ClaudeResponse
	if err := jsonutil.FastUnmarshal(claudeBody, &claudeResp); err != nil {
		return nil, domain.NewProxyErrorWithMessage(domain.ErrFormatConversion, false, "failed to decode transformed response")
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
		// thinking blocks 不回流给客户端
	}

	return parsed, nil
}

// wrapV1InternalRequest 将 Gemini 请求包进 v1internal 信封
// (匹配 Antigravity-Manager 的 wrap_request)
func wrapV1InternalRequest(body []byte, projectID, model, sessionID string) ([]byte, error) {
	var innerRequest map[string]interface{}
	if err := jsonutil.FastUnmarshal(body, &innerRequest); err != nil {
		return nil, err
	}

	// model 提升到信封顶层
	delete(innerRequest, "model")

	if sessionID != "" {
		innerRequest["sessionId"] = sessionID
	}

	wrapped := map[string]interface{}{
		"project":     projectID,
		"requestId":   fmt.Sprintf("agent-%s", uuid.New().String()),
		"request":     innerRequest,
		"model":       model,
		"userAgent":   "antigravity",
		"requestType": "agent",
	}

	return jsonutil.FastMarshal(wrapped)
}

// unwrapV1InternalResponse 从 v1internal 信封中取出 response 字段
func unwrapV1InternalResponse(body []byte) []byte {
	var data map[string]interface{}
	if err := jsonutil.FastUnmarshal(body, &data); err != nil {
		return body
	}

	if response, ok := data["response"]; ok {
		if unwrapped, err := jsonutil.FastMarshal(response); err == nil {
			return unwrapped
		}
	}

	return body
}

// shouldTryNextEndpoint: 429/408/404 和 5xx 允许切换端点
func shouldTryNextEndpoint(status int) bool {
	if status == http.StatusTooManyRequests || status == http.StatusRequestTimeout || status == http.StatusNotFound {
		return true
	}
	return status >= 500
}
