package converter

import (
	"testing"

	"github.com/awsl-project/relay/internal/jsonutil"
)

func TestStopReasonRoundTripToolUse(t *testing.T) {
	reg := NewRegistry()

	claudeBody, err := jsonutil.FastMarshal(&ClaudeResponse{
		ID:   "msg_1",
		Type: "message",
		Role: "assistant",
		Content: []ClaudeContentBlock{
			{Type: "text", Text: "calling a tool"},
			{Type: "tool_use", ID: "t1", Name: "foo", Input: map[string]interface{}{"a": float64(1)}},
		},
		Model:      "claude-sonnet-4-5",
		StopReason: "tool_use",
	})
	if err != nil {
		t.Fatal(err)
	}

	openaiBody, err := reg.TransformResponse(FormatClaude, FormatOpenAI, claudeBody)
	if err != nil {
		t.Fatal(err)
	}
	var oresp OpenAIResponse
	if err := jsonutil.FastUnmarshal(openaiBody, &oresp); err != nil {
		t.Fatal(err)
	}
	if oresp.Choices[0].FinishReason != "tool_calls" {
		t.Errorf("finish_reason = %q, want tool_calls", oresp.Choices[0].FinishReason)
	}
	if len(oresp.Choices[0].Message.ToolCalls) != 1 {
		t.Fatalf("tool_calls = %d, want 1", len(oresp.Choices[0].Message.ToolCalls))
	}

	backBody, err := reg.TransformResponse(FormatOpenAI, FormatClaude, openaiBody)
	if err != nil {
		t.Fatal(err)
	}
	var cresp ClaudeResponse
	if err := jsonutil.FastUnmarshal(backBody, &cresp); err != nil {
		t.Fatal(err)
	}
	if cresp.StopReason != "tool_use" {
		t.Errorf("stop_reason = %q, want tool_use after round trip", cresp.StopReason)
	}

	var tool *ClaudeContentBlock
	for i := range cresp.Content {
		if cresp.Content[i].Type == "tool_use" {
			tool = &cresp.Content[i]
		}
	}
	if tool == nil {
		t.Fatal("tool_use block lost in round trip")
	}
	if tool.Name != "foo" {
		t.Errorf("tool name = %q, want foo", tool.Name)
	}
}

func TestStopReasonRoundTripPlainText(t *testing.T) {
	reg := NewRegistry()

	claudeBody, err := jsonutil.FastMarshal(&ClaudeResponse{
		ID:         "msg_2",
		Type:       "message",
		Role:       "assistant",
		Content:    []ClaudeContentBlock{{Type: "text", Text: "plain answer"}},
		Model:      "claude-sonnet-4-5",
		StopReason: "end_turn",
	})
	if err != nil {
		t.Fatal(err)
	}

	openaiBody, err := reg.TransformResponse(FormatClaude, FormatOpenAI, claudeBody)
	if err != nil {
		t.Fatal(err)
	}
	var oresp OpenAIResponse
	if err := jsonutil.FastUnmarshal(openaiBody, &oresp); err != nil {
		t.Fatal(err)
	}
	if oresp.Choices[0].FinishReason != "stop" {
		t.Errorf("finish_reason = %q, want stop", oresp.Choices[0].FinishReason)
	}

	backBody, err := reg.TransformResponse(FormatOpenAI, FormatClaude, openaiBody)
	if err != nil {
		t.Fatal(err)
	}
	var cresp ClaudeResponse
	if err := jsonutil.FastUnmarshal(backBody, &cresp); err != nil {
		t.Fatal(err)
	}
	if cresp.StopReason != "end_turn" {
		t.Errorf("stop_reason = %q, want end_turn after round trip", cresp.StopReason)
	}
	if len(cresp.Content) != 1 || cresp.Content[0].Text != "plain answer" {
		t.Errorf("content lost in round trip: %+v", cresp.Content)
	}
}

func TestOpenAIRequestToClaudePivot(t *testing.T) {
	reg := NewRegistry()

	body := []byte(`{
		"model": "gpt-4o",
		"stream": true,
		"messages": [
			{"role": "system", "content": "be brief"},
			{"role": "user", "content": "hello"}
		]
	}`)

	out, err := reg.TransformRequest(FormatOpenAI, FormatClaude, body, "gpt-4o", true)
	if err != nil {
		t.Fatal(err)
	}
	var creq ClaudeRequest
	if err := jsonutil.FastUnmarshal(out, &creq); err != nil {
		t.Fatal(err)
	}
	if creq.Model != "gpt-4o" {
		t.Errorf("model = %q", creq.Model)
	}
	if !creq.Stream {
		t.Error("stream flag lost")
	}
	if creq.System == nil {
		t.Error("system message not lifted into the system field")
	}
	if len(creq.Messages) != 1 {
		t.Errorf("messages = %d, want 1 (system lifted out)", len(creq.Messages))
	}
}

func TestMalformedBodyIsConversionError(t *testing.T) {
	reg := NewRegistry()
	_, err := reg.TransformRequest(FormatOpenAI, FormatClaude, []byte("{not json"), "m", false)
	if err == nil {
		t.Fatal("expected error for malformed body")
	}
	if _, ok := err.(*ConversionError); !ok {
		t.Errorf("err type = %T, want *ConversionError", err)
	}
}
