package wire

import (
	"testing"
)

func TestToolCallReassembly(t *testing.T) {
	p := NewParser()
	p.Feed([]byte(`{"toolUseId":"t1","name":"foo","input":"{\"a\":"}`))
	p.Feed([]byte(`{"toolUseId":"t1","input":"1}"}`))
	p.Feed([]byte(`{"toolUseId":"t1","stop":true}`))

	parsed := p.Finish()
	if len(parsed.ToolCalls) != 1 {
		t.Fatalf("expected 1 tool call, got %d", len(parsed.ToolCalls))
	}
	tc := parsed.ToolCalls[0]
	if tc.ID != "t1" {
		t.Errorf("ID = %q, want t1", tc.ID)
	}
	if tc.Name != "foo" {
		t.Errorf("Name = %q, want foo", tc.Name)
	}
	if tc.Arguments != `{"a":1}` {
		t.Errorf("Arguments = %q, want {\"a\":1}", tc.Arguments)
	}
}

func TestBalancedBraceExtraction(t *testing.T) {
	// 转义引号和嵌套大括号不能截断对象；尾部的非 JSON 字节不产生第二个对象
	p := NewParser()
	p.Feed([]byte(`{"content":"a \"b\" {c}"}   }}]garbage`))

	parsed := p.Finish()
	if parsed.TextContent != `a "b" {c}` {
		t.Errorf("TextContent = %q, want a \"b\" {c}", parsed.TextContent)
	}
	if len(parsed.ToolCalls) != 0 {
		t.Errorf("unexpected tool calls: %v", parsed.ToolCalls)
	}
}

func TestGracefulDegradation(t *testing.T) {
	junk := make([]byte, 50)
	for i := range junk {
		junk[i] = byte(0x80 + i%0x40)
	}

	p := NewParser()
	p.Feed([]byte(`{"content":"hello "}`))
	p.Feed(junk)
	p.Feed([]byte(`{"content":"world"}`))

	parsed := p.Finish()
	if parsed.TextContent != "hello world" {
		t.Errorf("TextContent = %q, want hello world", parsed.TextContent)
	}
}

func TestObjectSplitAcrossFeeds(t *testing.T) {
	p := NewParser()
	p.Feed([]byte(`{"content":"par`))
	p.Feed([]byte(`tial"}`))

	parsed := p.Finish()
	if parsed.TextContent != "partial" {
		t.Errorf("TextContent = %q, want partial", parsed.TextContent)
	}
}

func TestAnchorSplitAcrossFeeds(t *testing.T) {
	p := NewParser()
	p.Feed([]byte(`xxxx{"cont`))
	p.Feed([]byte(`ent":"split anchor"}`))

	parsed := p.Finish()
	if parsed.TextContent != "split anchor" {
		t.Errorf("TextContent = %q, want split anchor", parsed.TextContent)
	}
}

func TestFollowupPromptIgnored(t *testing.T) {
	p := NewParser()
	p.Feed([]byte(`{"followupPrompt":{"content":"internal hint"}}`))
	p.Feed([]byte(`{"content":"visible"}`))

	parsed := p.Finish()
	if parsed.TextContent != "visible" {
		t.Errorf("TextContent = %q, want visible", parsed.TextContent)
	}
}

func TestUsageAndContextPercent(t *testing.T) {
	p := NewParser()
	p.Feed([]byte(`{"content":"ok"}{"usage":12.5}{"contextUsagePercentage":40}`))

	parsed := p.Finish()
	if parsed.UsageCredits != 12.5 {
		t.Errorf("UsageCredits = %v, want 12.5", parsed.UsageCredits)
	}
	if parsed.ContextUsagePercent != 40 {
		t.Errorf("ContextUsagePercent = %v, want 40", parsed.ContextUsagePercent)
	}
}

func TestBracketFallback(t *testing.T) {
	p := NewParser()
	p.Feed([]byte(`{"content":"before [Called get_weather with args: {\"city\":\"sf\"}] after"}`))

	parsed := p.Finish()
	if parsed.TextContent != "before  after" {
		t.Errorf("TextContent = %q, want %q", parsed.TextContent, "before  after")
	}
	if len(parsed.ToolCalls) != 1 {
		t.Fatalf("expected 1 tool call, got %d", len(parsed.ToolCalls))
	}
	tc := parsed.ToolCalls[0]
	if tc.Name != "get_weather" {
		t.Errorf("Name = %q, want get_weather", tc.Name)
	}
	if tc.Arguments != `{"city":"sf"}` {
		t.Errorf("Arguments = %q", tc.Arguments)
	}
}

func TestBracketFallbackIncompleteMarkerKept(t *testing.T) {
	p := NewParser()
	p.Feed([]byte(`{"content":"[Called something without the marker"}`))

	parsed := p.Finish()
	if parsed.TextContent != "[Called something without the marker" {
		t.Errorf("TextContent = %q", parsed.TextContent)
	}
	if len(parsed.ToolCalls) != 0 {
		t.Errorf("unexpected tool calls: %v", parsed.ToolCalls)
	}
}

func TestNamelessToolEventsMergedByName(t *testing.T) {
	p := NewParser()
	p.Feed([]byte(`{"name":"lookup","input":"{\"q\":"}`))
	p.Feed([]byte(`{"name":"lookup","input":"\"x\"}","stop":true}`))

	parsed := p.Finish()
	if len(parsed.ToolCalls) != 1 {
		t.Fatalf("expected 1 tool call, got %d", len(parsed.ToolCalls))
	}
	if parsed.ToolCalls[0].Arguments != `{"q":"x"}` {
		t.Errorf("Arguments = %q", parsed.ToolCalls[0].Arguments)
	}
}

func TestFinishIsIdempotent(t *testing.T) {
	p := NewParser()
	p.Feed([]byte(`{"content":"once"}`))

	first := p.Finish()
	second := p.Finish()
	if first.TextContent != second.TextContent {
		t.Errorf("Finish not idempotent: %q vs %q", first.TextContent, second.TextContent)
	}
}
