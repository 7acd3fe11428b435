package upstream

import (
	"bytes"
	"context"
	"crypto/md5"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"

	"github.com/awsl-project/relay/internal/domain"
	"github.com/awsl-project/relay/internal/wire"
)

const (
	// CodeWhisperer API URL 模板，%s 为 region
	codeWhispererURLTemplate = "https://codewhisperer.%s.amazonaws.com/generateAssistantResponse"

	defaultKiroRegion = "us-east-1"

	kiroUserAgent     = "aws-sdk-js/1.0.18 ua/2.1 os/darwin#25.0.0 lang/js md/nodejs#20.16.0 api/codewhispererstreaming#1.0.18 m/E KiroIDE-0.2.13-66c23a8c5d15afabec89ef9954ef52a119f10d369df04d548fc6c1eac694b0d1"
	kiroAmzUserAgent  = "aws-sdk-js/1.0.18 KiroIDE-0.2.13-66c23a8c5d15afabec89ef9954ef52a119f10d369df04d548fc6c1eac694b0d1"
	kiroAgentModeSpec = "spec"
)

// kiroModelRule 是模型映射规则，按顺序匹配，先命中先生效
type kiroModelRule struct {
	Pattern string
	Target  string
}

// 模型映射规则 (匹配 kiro2api 的 ModelMap，精确匹配优先)
var kiroModelRules = []kiroModelRule{
	{"claude-sonnet-4-5", "CLAUDE_SONNET_4_5_20250929_V1_0"},
	{"claude-sonnet-4-5-20250929", "CLAUDE_SONNET_4_5_20250929_V1_0"},
	{"claude-sonnet-4-20250514", "CLAUDE_SONNET_4_20250514_V1_0"},
	{"claude-3-7-sonnet-20250219", "CLAUDE_3_7_SONNET_20250219_V1_0"},
	{"claude-3-5-haiku-20241022", "auto"},
	{"claude-haiku-4-5-20251001", "auto"},

	{"*opus*", "CLAUDE_SONNET_4_5_20250929_V1_0"},
	{"*sonnet-4-5*", "CLAUDE_SONNET_4_5_20250929_V1_0"},
	{"*sonnet-4*", "CLAUDE_SONNET_4_20250514_V1_0"},
	{"*sonnet*", "CLAUDE_3_7_SONNET_20250219_V1_0"},
	{"*haiku*", "auto"},
}

// MapKiroModel 将 Anthropic 模型名映射到 CodeWhisperer 模型 ID，
// 未命中任何规则时返回空字符串。
func MapKiroModel(model string) string {
	cleanInput := strings.TrimSpace(strings.ToLower(model))
	for _, rule := range kiroModelRules {
		if matchModelPattern(cleanInput, rule.Pattern) {
			return rule.Target
		}
	}
	return ""
}

func matchModelPattern(input, pattern string) bool {
	pattern = strings.ToLower(pattern)

	if !strings.Contains(pattern, "*") {
		return input == pattern
	}

	parts := strings.Split(pattern, "*")

	// *xxx* 模式
	if len(parts) == 3 && parts[0] == "" && parts[2] == "" {
		return strings.Contains(input, parts[1])
	}
	// xxx* 模式
	if len(parts) == 2 && parts[1] == "" {
		return strings.HasPrefix(input, parts[0])
	}
	// *xxx 模式
	if len(parts) == 2 && parts[0] == "" {
		return strings.HasSuffix(input, parts[1])
	}
	// xxx*yyy 模式
	if len(parts) == 2 {
		return strings.HasPrefix(input, parts[0]) && strings.HasSuffix(input, parts[1])
	}

	return false
}

// conversationID 基于会话特征生成稳定的会话ID
func conversationID(sessionKey string) string {
	hash := md5.Sum([]byte(sessionKey))
	return fmt.Sprintf("conv-%x", hash[:8])
}

// deterministicGUID 基于输入字符串生成确定性GUID (Version 5 风格)
func deterministicGUID(input, namespace string) string {
	hash := md5.Sum([]byte(namespace + "|" + input))

	hash[6] = (hash[6] & 0x0f) | 0x50
	hash[8] = (hash[8] & 0x3f) | 0x80

	return fmt.Sprintf("%x-%x-%x-%x-%x",
		hash[0:4], hash[4:6], hash[6:8], hash[8:10], hash[10:16])
}

// KiroClient 对接 AWS CodeWhisperer / Q Developer 上游
type KiroClient struct {
	httpClient *http.Client
}

func NewKiroClient(httpClient *http.Client) *KiroClient {
	return &KiroClient{httpClient: httpClient}
}

func (k *KiroClient) Collect(ctx context.Context, cred *domain.Credential, bearer string, req *Request) (*domain.ParsedUpstreamResponse, error) {
	modelID := MapKiroModel(req.Model)
	if modelID == "" {
		return nil, domain.NewProxyErrorWithMessage(domain.ErrFormatConversion, false,
			fmt.Sprintf("model %s is not supported by this upstream", req.Model))
	}

	cwBody, err := buildCodeWhispererRequest(req.ClaudeBody, modelID, req.SessionKey)
	if err != nil {
		return nil, domain.NewProxyErrorWithMessage(err, false, "failed to convert request")
	}

	region := defaultKiroRegion
	if cred.Secret != nil && cred.Secret.OAuth != nil && cred.Secret.OAuth.Region != "" {
		region = cred.Secret.OAuth.Region
	}
	upstreamURL := fmt.Sprintf(codeWhispererURLTemplate, region)

	upstreamReq, err := http.NewRequestWithContext(ctx, "POST", upstreamURL, bytes.NewReader(cwBody))
	if err != nil {
		return nil, domain.NewProxyErrorWithMessage(err, true, "failed to create upstream request")
	}

	// 硬编码匹配 kiro2api 的上游 header
	upstreamReq.Header.Set("Authorization", "Bearer "+bearer)
	upstreamReq.Header.Set("Content-Type", "application/json")
	upstreamReq.Header.Set("Accept", "text/event-stream")
	upstreamReq.Header.Set("x-amzn-kiro-agent-mode", kiroAgentModeSpec)
	upstreamReq.Header.Set("x-amz-user-agent", kiroAmzUserAgent)
	upstreamReq.Header.Set("user-agent", kiroUserAgent)

	resp, err := k.httpClient.Do(upstreamReq)
	if err != nil {
		proxyErr := domain.NewProxyErrorWithMessage(domain.ErrUpstreamError, true, "failed to connect to upstream")
		proxyErr.IsNetworkError = true
		return nil, proxyErr
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(resp.Body)
		return nil, domain.NewUpstreamError(resp.StatusCode, string(body))
	}

	// 响应始终是二进制事件流，整体读完后解析
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, domain.NewProxyErrorWithMessage(domain.ErrUpstreamError, true, "failed to read upstream stream")
	}

	parser := wire.NewParser()
	parser.Feed(body)
	parsed := parser.Finish()

	log.Printf("[Kiro] collected response: model=%s text=%dB tools=%d contextUsage=%.2f%%",
		modelID, len(parsed.TextContent), len(parsed.ToolCalls), parsed.ContextUsagePercent)

	return parsed, nil
}
