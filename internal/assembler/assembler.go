package assembler

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/awsl-project/relay/internal/converter"
	"github.com/awsl-project/relay/internal/domain"
	"github.com/awsl-project/relay/internal/jsonutil"
)

// Assembler turns a collected upstream response into client-facing JSON
// bodies or a synthetic SSE stream.
type Assembler struct {
	estimator *TokenEstimator
}

func New() *Assembler {
	return &Assembler{estimator: NewTokenEstimator()}
}

func (a *Assembler) Estimator() *TokenEstimator {
	return a.estimator
}

// Usage computes input/output token counts for a parsed response. When the
// upstream reported a context usage percentage that wins over the request
// heuristic.
func (a *Assembler) Usage(req *converter.ClaudeRequest, parsed *domain.ParsedUpstreamResponse) converter.ClaudeUsage {
	inputTokens := 0
	if parsed.ContextUsagePercent > 0 {
		inputTokens = a.estimator.InputTokensFromContextUsage(parsed.ContextUsagePercent)
	} else if req != nil {
		inputTokens = a.estimator.EstimateInputTokens(req)
	}
	return converter.ClaudeUsage{
		InputTokens:  inputTokens,
		OutputTokens: a.estimator.EstimateOutputTokens(parsed),
	}
}

// ClaudeResponse builds a non-streaming Anthropic messages response.
func (a *Assembler) ClaudeResponse(model string, parsed *domain.ParsedUpstreamResponse, usage converter.ClaudeUsage) *converter.ClaudeResponse {
	content := make([]converter.ClaudeContentBlock, 0, len(parsed.ToolCalls)+1)
	if parsed.TextContent != "" {
		content = append(content, converter.ClaudeContentBlock{
			Type: "text",
			Text: parsed.TextContent,
		})
	}
	for _, tc := range parsed.ToolCalls {
		content = append(content, converter.ClaudeContentBlock{
			Type:  "tool_use",
			ID:    tc.ID,
			Name:  tc.Name,
			Input: toolInput(tc.Arguments),
		})
	}

	return &converter.ClaudeResponse{
		ID:         newMessageID(),
		Type:       "message",
		Role:       "assistant",
		Content:    content,
		Model:      model,
		StopReason: stopReasonFor(parsed),
		Usage:      usage,
	}
}

// OpenAIResponse builds a non-streaming chat completion response.
func (a *Assembler) OpenAIResponse(model string, parsed *domain.ParsedUpstreamResponse, usage converter.ClaudeUsage) *converter.OpenAIResponse {
	msg := &converter.OpenAIMessage{Role: "assistant"}
	if parsed.TextContent != "" {
		msg.Content = parsed.TextContent
	}
	finishReason := "stop"
	if len(parsed.ToolCalls) > 0 {
		finishReason = "tool_calls"
		for _, tc := range parsed.ToolCalls {
			msg.ToolCalls = append(msg.ToolCalls, converter.OpenAIToolCall{
				ID:   tc.ID,
				Type: "function",
				Function: converter.OpenAIFunctionCall{
					Name:      tc.Name,
					Arguments: argumentsOrEmpty(tc.Arguments),
				},
			})
		}
	}

	return &converter.OpenAIResponse{
		ID:      newCompletionID(),
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   model,
		Choices: []converter.OpenAIChoice{{
			Index:        0,
			Message:      msg,
			FinishReason: finishReason,
		}},
		Usage: converter.OpenAIUsage{
			PromptTokens:     usage.InputTokens,
			CompletionTokens: usage.OutputTokens,
			TotalTokens:      usage.InputTokens + usage.OutputTokens,
		},
	}
}

// ClaudeSSE renders a collected response as a full Anthropic event stream.
// The event ordering is fixed: message_start, a text block (started even
// when the text is empty), one tool_use block per tool call with the input
// delivered as a single input_json_delta, then message_delta carrying the
// stop reason and message_stop.
func (a *Assembler) ClaudeSSE(model string, parsed *domain.ParsedUpstreamResponse, usage converter.ClaudeUsage) []byte {
	messageID := newMessageID()
	var out []byte

	out = append(out, converter.FormatSSE("message_start", converter.ClaudeStreamEvent{
		Type: "message_start",
		Message: &converter.ClaudeResponse{
			ID:      messageID,
			Type:    "message",
			Role:    "assistant",
			Content: []converter.ClaudeContentBlock{},
			Model:   model,
			Usage:   converter.ClaudeUsage{InputTokens: usage.InputTokens},
		},
	})...)

	out = append(out, converter.FormatSSE("content_block_start", converter.ClaudeStreamEvent{
		Type:         "content_block_start",
		Index:        0,
		ContentBlock: &converter.ClaudeContentBlock{Type: "text", Text: ""},
	})...)
	if parsed.TextContent != "" {
		out = append(out, converter.FormatSSE("content_block_delta", converter.ClaudeStreamEvent{
			Type:  "content_block_delta",
			Index: 0,
			Delta: &converter.ClaudeStreamDelta{Type: "text_delta", Text: parsed.TextContent},
		})...)
	}
	out = append(out, converter.FormatSSE("content_block_stop", converter.ClaudeStreamEvent{
		Type:  "content_block_stop",
		Index: 0,
	})...)

	for i, tc := range parsed.ToolCalls {
		index := i + 1
		out = append(out, converter.FormatSSE("content_block_start", converter.ClaudeStreamEvent{
			Type:  "content_block_start",
			Index: index,
			ContentBlock: &converter.ClaudeContentBlock{
				Type:  "tool_use",
				ID:    tc.ID,
				Name:  tc.Name,
				Input: map[string]interface{}{},
			},
		})...)
		out = append(out, converter.FormatSSE("content_block_delta", converter.ClaudeStreamEvent{
			Type:  "content_block_delta",
			Index: index,
			Delta: &converter.ClaudeStreamDelta{
				Type:        "input_json_delta",
				PartialJSON: argumentsOrEmpty(tc.Arguments),
			},
		})...)
		out = append(out, converter.FormatSSE("content_block_stop", converter.ClaudeStreamEvent{
			Type:  "content_block_stop",
			Index: index,
		})...)
	}

	out = append(out, converter.FormatSSE("message_delta", map[string]interface{}{
		"type": "message_delta",
		"delta": map[string]interface{}{
			"stop_reason":   stopReasonFor(parsed),
			"stop_sequence": nil,
		},
		"usage": map[string]interface{}{
			"output_tokens": usage.OutputTokens,
		},
	})...)
	out = append(out, converter.FormatSSE("message_stop", converter.ClaudeStreamEvent{
		Type: "message_stop",
	})...)

	return out
}

// OpenAISSE renders a collected response as a chat completion chunk stream
// terminated by [DONE].
func (a *Assembler) OpenAISSE(model string, parsed *domain.ParsedUpstreamResponse, usage converter.ClaudeUsage) []byte {
	completionID := newCompletionID()
	created := time.Now().Unix()
	chunk := func(delta *converter.OpenAIMessage, finishReason string) []byte {
		return converter.FormatSSE("", converter.OpenAIStreamChunk{
			ID:      completionID,
			Object:  "chat.completion.chunk",
			Created: created,
			Model:   model,
			Choices: []converter.OpenAIChoice{{Index: 0, Delta: delta, FinishReason: finishReason}},
		})
	}

	var out []byte
	out = append(out, chunk(&converter.OpenAIMessage{Role: "assistant"}, "")...)
	if parsed.TextContent != "" {
		out = append(out, chunk(&converter.OpenAIMessage{Content: parsed.TextContent}, "")...)
	}
	finishReason := "stop"
	if len(parsed.ToolCalls) > 0 {
		finishReason = "tool_calls"
		for i, tc := range parsed.ToolCalls {
			out = append(out, chunk(&converter.OpenAIMessage{
				ToolCalls: []converter.OpenAIToolCall{{
					Index: i,
					ID:    tc.ID,
					Type:  "function",
					Function: converter.OpenAIFunctionCall{
						Name:      tc.Name,
						Arguments: argumentsOrEmpty(tc.Arguments),
					},
				}},
			}, "")...)
		}
	}

	out = append(out, converter.FormatSSE("", converter.OpenAIStreamChunk{
		ID:      completionID,
		Object:  "chat.completion.chunk",
		Created: created,
		Model:   model,
		Choices: []converter.OpenAIChoice{{Index: 0, Delta: &converter.OpenAIMessage{}, FinishReason: finishReason}},
		Usage: &converter.OpenAIUsage{
			PromptTokens:     usage.InputTokens,
			CompletionTokens: usage.OutputTokens,
			TotalTokens:      usage.InputTokens + usage.OutputTokens,
		},
	})...)
	out = append(out, converter.FormatDone()...)
	return out
}

func stopReasonFor(parsed *domain.ParsedUpstreamResponse) string {
	if len(parsed.ToolCalls) > 0 {
		return "tool_use"
	}
	return "end_turn"
}

func toolInput(arguments string) interface{} {
	var input map[string]interface{}
	if err := jsonutil.FastUnmarshal([]byte(argumentsOrEmpty(arguments)), &input); err != nil || input == nil {
		return map[string]interface{}{}
	}
	return input
}

func argumentsOrEmpty(arguments string) string {
	if arguments == "" {
		return "{}"
	}
	return arguments
}

func newMessageID() string {
	return "msg_" + time.Now().Format("20060102150405")
}

func newCompletionID() string {
	return fmt.Sprintf("chatcmpl-%s", uuid.NewString()[:8])
}
