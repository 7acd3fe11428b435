package assembler

import (
	"math"

	"github.com/awsl-project/relay/internal/converter"
	"github.com/awsl-project/relay/internal/domain"
	"github.com/awsl-project/relay/internal/jsonutil"
)

// CodeWhisperer 上游的上下文窗口，用于从 contextUsagePercentage 反推
const contextWindowTokens = 200000

// TokenEstimator 本地 token 估算器。输出的都是启发式估算值，不是分词器。
type TokenEstimator struct{}

func NewTokenEstimator() *TokenEstimator {
	return &TokenEstimator{}
}

// EstimateOutputTokens estimates response-side tokens: a quarter of the
// text length plus a quarter of every tool call's argument text.
func (e *TokenEstimator) EstimateOutputTokens(parsed *domain.ParsedUpstreamResponse) int {
	total := len(parsed.TextContent) / 4
	for _, tc := range parsed.ToolCalls {
		total += len(tc.Arguments) / 4
	}
	if total < 1 && (parsed.TextContent != "" || len(parsed.ToolCalls) > 0) {
		total = 1
	}
	return total
}

// InputTokensFromContextUsage recovers the input size the CodeWhisperer
// upstream reports as a percentage of its context window.
func (e *TokenEstimator) InputTokensFromContextUsage(percent float64) int {
	if percent <= 0 {
		return 0
	}
	return int(percent / 100 * contextWindowTokens)
}

// EstimateInputTokens estimates request-side tokens from the message
// contents.
func (e *TokenEstimator) EstimateInputTokens(req *converter.ClaudeRequest) int {
	total := 0

	if systemText := systemContent(req.System); systemText != "" {
		total += e.EstimateTextTokens(systemText)
		total += 2 // 系统提示的固定开销
	}

	for _, msg := range req.Messages {
		// 角色标记开销
		total += 3

		switch content := msg.Content.(type) {
		case string:
			total += e.EstimateTextTokens(content)
		case []interface{}:
			for _, block := range content {
				total += e.estimateContentBlock(block)
			}
		}
	}

	for _, tool := range req.Tools {
		total += e.EstimateTextTokens(tool.Name)
		total += e.EstimateTextTokens(tool.Description)
		if tool.InputSchema != nil {
			if jsonBytes, err := jsonutil.FastMarshal(tool.InputSchema); err == nil {
				total += len(jsonBytes) / 4
			}
		}
	}

	if total < 1 {
		total = 1
	}
	return total
}

func (e *TokenEstimator) estimateContentBlock(block interface{}) int {
	m, ok := block.(map[string]interface{})
	if !ok {
		return 0
	}
	total := 0
	if text, ok := m["text"].(string); ok {
		total += e.EstimateTextTokens(text)
	}
	if content, ok := m["content"].(string); ok {
		total += e.EstimateTextTokens(content)
	}
	if input, ok := m["input"]; ok && input != nil {
		if jsonBytes, err := jsonutil.FastMarshal(input); err == nil {
			total += len(jsonBytes) / 4
		}
	}
	return total
}

// EstimateTextTokens 文本 token 估算，对中文字符单独计数
func (e *TokenEstimator) EstimateTextTokens(text string) int {
	if text == "" {
		return 0
	}

	runes := []rune(text)
	runeCount := len(runes)

	chineseChars := 0
	for _, r := range runes {
		if r >= 0x4E00 && r <= 0x9FFF {
			chineseChars++
		}
	}

	nonChineseChars := runeCount - chineseChars

	chineseTokens := 0
	if chineseChars > 0 {
		if nonChineseChars == 0 {
			chineseTokens = 1 + chineseChars
		} else {
			chineseTokens = chineseChars
		}
	}

	nonChineseTokens := 0
	if nonChineseChars > 0 {
		var charsPerToken float64
		switch {
		case nonChineseChars < 50:
			charsPerToken = 2.8
		case nonChineseChars < 100:
			charsPerToken = 2.6
		default:
			charsPerToken = 2.5
		}
		nonChineseTokens = int(math.Ceil(float64(nonChineseChars) / charsPerToken))
		if nonChineseTokens < 1 {
			nonChineseTokens = 1
		}
	}

	tokens := chineseTokens + nonChineseTokens

	// 长文本压缩系数
	switch {
	case runeCount >= 1000:
		tokens = int(float64(tokens) * 0.60)
	case runeCount >= 500:
		tokens = int(float64(tokens) * 0.70)
	case runeCount >= 300:
		tokens = int(float64(tokens) * 0.80)
	case runeCount >= 200:
		tokens = int(float64(tokens) * 0.85)
	case runeCount >= 100:
		tokens = int(float64(tokens) * 0.90)
	case runeCount >= 50:
		tokens = int(float64(tokens) * 0.95)
	}

	if tokens < 1 {
		tokens = 1
	}
	return tokens
}

func systemContent(system interface{}) string {
	switch s := system.(type) {
	case string:
		return s
	case []interface{}:
		var text string
		for _, block := range s {
			if m, ok := block.(map[string]interface{}); ok {
				if t, ok := m["text"].(string); ok {
					text += t
				}
			}
		}
		return text
	}
	return ""
}
