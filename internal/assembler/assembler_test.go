package assembler

import (
	"strings"
	"testing"

	"github.com/awsl-project/relay/internal/converter"
	"github.com/awsl-project/relay/internal/domain"
	"github.com/awsl-project/relay/internal/jsonutil"
)

func sseEventNames(t *testing.T, raw []byte) []string {
	t.Helper()
	events, rest := converter.ParseSSE(string(raw))
	if rest != "" {
		t.Fatalf("unparsed SSE remainder: %q", rest)
	}
	names := make([]string, len(events))
	for i, e := range events {
		names[i] = e.Event
	}
	return names
}

func TestClaudeSSEOrderingWithTextAndTool(t *testing.T) {
	parsed := &domain.ParsedUpstreamResponse{
		TextContent: "hi",
		ToolCalls: []domain.ToolCall{
			{ID: "t1", Name: "foo", Arguments: `{"a":1}`},
		},
	}
	out := New().ClaudeSSE("claude-sonnet-4-5", parsed, converter.ClaudeUsage{InputTokens: 10, OutputTokens: 3})

	want := []string{
		"message_start",
		"content_block_start",
		"content_block_delta",
		"content_block_stop",
		"content_block_start",
		"content_block_delta",
		"content_block_stop",
		"message_delta",
		"message_stop",
	}
	got := sseEventNames(t, out)
	if len(got) != len(want) {
		t.Fatalf("got %d events %v, want %v", len(got), got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("event[%d] = %s, want %s", i, got[i], want[i])
		}
	}

	// 工具入参原样透传进 partial_json，不二次转义
	if !strings.Contains(string(out), `"partial_json":"{\"a\":1}"`) {
		t.Errorf("tool arguments not delivered as raw input_json_delta:\n%s", out)
	}
	if !strings.Contains(string(out), `"stop_reason":"tool_use"`) {
		t.Errorf("stop_reason should be tool_use:\n%s", out)
	}
}

func TestClaudeSSEEmptyTextStillOpensTextBlock(t *testing.T) {
	parsed := &domain.ParsedUpstreamResponse{}
	out := New().ClaudeSSE("claude-sonnet-4-5", parsed, converter.ClaudeUsage{})

	want := []string{
		"message_start",
		"content_block_start",
		"content_block_stop",
		"message_delta",
		"message_stop",
	}
	got := sseEventNames(t, out)
	if len(got) != len(want) {
		t.Fatalf("got events %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("event[%d] = %s, want %s", i, got[i], want[i])
		}
	}
	if !strings.Contains(string(out), `"stop_reason":"end_turn"`) {
		t.Errorf("stop_reason should be end_turn:\n%s", out)
	}
}

func TestOpenAISSETerminatesWithDone(t *testing.T) {
	parsed := &domain.ParsedUpstreamResponse{TextContent: "hello"}
	out := New().OpenAISSE("gpt-4o", parsed, converter.ClaudeUsage{InputTokens: 5, OutputTokens: 1})

	if !strings.HasSuffix(string(out), "data: [DONE]\n\n") {
		t.Errorf("stream must end with [DONE]:\n%s", out)
	}
	events, _ := converter.ParseSSE(string(out))
	if events[len(events)-1].Event != "done" {
		t.Errorf("last event = %s, want done", events[len(events)-1].Event)
	}

	var first converter.OpenAIStreamChunk
	if err := jsonutil.FastUnmarshal(events[0].Data, &first); err != nil {
		t.Fatal(err)
	}
	if first.Choices[0].Delta.Role != "assistant" {
		t.Errorf("first chunk must carry the assistant role")
	}
}

func TestClaudeResponseShape(t *testing.T) {
	parsed := &domain.ParsedUpstreamResponse{
		TextContent: "answer",
		ToolCalls:   []domain.ToolCall{{ID: "t1", Name: "foo", Arguments: `{"a":1}`}},
	}
	resp := New().ClaudeResponse("claude-sonnet-4-5", parsed, converter.ClaudeUsage{InputTokens: 7, OutputTokens: 2})

	if resp.Role != "assistant" || resp.Type != "message" {
		t.Errorf("unexpected envelope: role=%s type=%s", resp.Role, resp.Type)
	}
	if len(resp.Content) != 2 {
		t.Fatalf("content blocks = %d, want 2", len(resp.Content))
	}
	if resp.Content[0].Type != "text" || resp.Content[0].Text != "answer" {
		t.Errorf("content[0] = %+v", resp.Content[0])
	}
	if resp.Content[1].Type != "tool_use" || resp.Content[1].Name != "foo" {
		t.Errorf("content[1] = %+v", resp.Content[1])
	}
	if resp.StopReason != "tool_use" {
		t.Errorf("StopReason = %s, want tool_use", resp.StopReason)
	}
}

func TestUsagePrefersContextPercent(t *testing.T) {
	req := &converter.ClaudeRequest{
		Model:    "claude-sonnet-4-5",
		Messages: []converter.ClaudeMessage{{Role: "user", Content: "a long enough question"}},
	}
	parsed := &domain.ParsedUpstreamResponse{TextContent: "ok", ContextUsagePercent: 50}

	usage := New().Usage(req, parsed)
	if usage.InputTokens != 100000 {
		t.Errorf("InputTokens = %d, want 100000 (50%% of 200K window)", usage.InputTokens)
	}
}

func TestEstimateOutputTokens(t *testing.T) {
	e := NewTokenEstimator()
	tests := []struct {
		name   string
		parsed domain.ParsedUpstreamResponse
		want   int
	}{
		{
			name:   "text only",
			parsed: domain.ParsedUpstreamResponse{TextContent: strings.Repeat("x", 40)},
			want:   10,
		},
		{
			name: "text plus tool args",
			parsed: domain.ParsedUpstreamResponse{
				TextContent: strings.Repeat("x", 40),
				ToolCalls:   []domain.ToolCall{{Arguments: strings.Repeat("y", 20)}},
			},
			want: 15,
		},
		{
			name:   "tiny response floors at one",
			parsed: domain.ParsedUpstreamResponse{TextContent: "ok"},
			want:   1,
		},
		{
			name: "empty",
			want: 0,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := e.EstimateOutputTokens(&tt.parsed); got != tt.want {
				t.Errorf("EstimateOutputTokens() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestEstimateTextTokensCJK(t *testing.T) {
	e := NewTokenEstimator()
	ascii := e.EstimateTextTokens(strings.Repeat("hello world ", 10))
	cjk := e.EstimateTextTokens(strings.Repeat("你好世界", 30))
	if cjk <= ascii {
		t.Errorf("CJK text should estimate more tokens per byte: ascii=%d cjk=%d", ascii, cjk)
	}
}
