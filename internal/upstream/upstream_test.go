package upstream

import (
	"strings"
	"testing"

	"github.com/awsl-project/relay/internal/jsonutil"
)

func TestMapKiroModel(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"claude-sonnet-4-5", "CLAUDE_SONNET_4_5_20250929_V1_0"},
		{"claude-sonnet-4-5-20250929", "CLAUDE_SONNET_4_5_20250929_V1_0"},
		{"claude-sonnet-4-20250514", "CLAUDE_SONNET_4_20250514_V1_0"},
		{"claude-3-7-sonnet-20250219", "CLAUDE_3_7_SONNET_20250219_V1_0"},
		{"claude-3-5-haiku-20241022", "auto"},
		// 通配规则
		{"claude-opus-4-5-20251101", "CLAUDE_SONNET_4_5_20250929_V1_0"},
		{"claude-sonnet-4-5-preview", "CLAUDE_SONNET_4_5_20250929_V1_0"},
		{"claude-sonnet-4-1", "CLAUDE_SONNET_4_20250514_V1_0"},
		{"claude-3-5-sonnet-20241022", "CLAUDE_3_7_SONNET_20250219_V1_0"},
		{"claude-haiku-4-5", "auto"},
		// 大小写与空白
		{"  Claude-Sonnet-4-5  ", "CLAUDE_SONNET_4_5_20250929_V1_0"},
		// 未命中
		{"gpt-4o", ""},
		{"gemini-2.5-pro", ""},
		{"", ""},
	}

	for _, tt := range tests {
		if got := MapKiroModel(tt.input); got != tt.want {
			t.Errorf("MapKiroModel(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestMatchModelPattern(t *testing.T) {
	tests := []struct {
		input   string
		pattern string
		want    bool
	}{
		{"claude-sonnet-4-5", "claude-sonnet-4-5", true},
		{"claude-sonnet-4-5", "claude-sonnet-4", false},
		{"claude-opus-4-5", "*opus*", true},
		{"claude-sonnet-4-5", "*opus*", false},
		{"gemini-2.5-pro", "gemini-*", true},
		{"claude-3-5-haiku", "*haiku", true},
		{"claude-haiku-4-5", "*haiku", false},
		{"claude-sonnet-4-5", "claude*4-5", true},
	}

	for _, tt := range tests {
		if got := matchModelPattern(tt.input, tt.pattern); got != tt.want {
			t.Errorf("matchModelPattern(%q, %q) = %v, want %v", tt.input, tt.pattern, got, tt.want)
		}
	}
}

func TestConversationIDDeterministic(t *testing.T) {
	a := conversationID("session-1")
	b := conversationID("session-1")
	c := conversationID("session-2")

	if a != b {
		t.Errorf("same session key produced different ids: %q vs %q", a, b)
	}
	if a == c {
		t.Errorf("distinct session keys collided on %q", a)
	}
	if !strings.HasPrefix(a, "conv-") {
		t.Errorf("conversation id %q missing conv- prefix", a)
	}
	// conv- + 8 bytes hex
	if len(a) != len("conv-")+16 {
		t.Errorf("conversation id %q has unexpected length %d", a, len(a))
	}
}

func TestDeterministicGUID(t *testing.T) {
	a := deterministicGUID("session-1", "agent")
	b := deterministicGUID("session-1", "agent")
	if a != b {
		t.Fatalf("same input produced different GUIDs: %q vs %q", a, b)
	}

	if other := deterministicGUID("session-1", "other"); other == a {
		t.Errorf("namespace change did not change GUID: %q", a)
	}

	parts := strings.Split(a, "-")
	if len(parts) != 5 {
		t.Fatalf("GUID %q has %d groups, want 5", a, len(parts))
	}
	// version nibble 固定为 5
	if parts[2][0] != '5' {
		t.Errorf("GUID %q version nibble = %c, want 5", a, parts[2][0])
	}
	if v := parts[3][0]; v != '8' && v != '9' && v != 'a' && v != 'b' {
		t.Errorf("GUID %q variant nibble = %c, want 8/9/a/b", a, v)
	}
}

func TestBuildCodeWhispererRequestBasic(t *testing.T) {
	body := []byte(`{
		"model": "claude-sonnet-4-5",
		"messages": [{"role": "user", "content": "hello"}]
	}`)

	out, err := buildCodeWhispererRequest(body, "CLAUDE_SONNET_4_5_20250929_V1_0", "sess")
	if err != nil {
		t.Fatalf("buildCodeWhispererRequest: %v", err)
	}

	var cw map[string]any
	if err := jsonutil.FastUnmarshal(out, &cw); err != nil {
		t.Fatalf("unmarshal output: %v", err)
	}

	state, ok := cw["conversationState"].(map[string]any)
	if !ok {
		t.Fatalf("missing conversationState in %s", out)
	}
	if state["chatTriggerType"] != "MANUAL" {
		t.Errorf("chatTriggerType = %v, want MANUAL", state["chatTriggerType"])
	}
	if state["agentTaskType"] != "vibe" {
		t.Errorf("agentTaskType = %v, want vibe", state["agentTaskType"])
	}
	if id, _ := state["conversationId"].(string); !strings.HasPrefix(id, "conv-") {
		t.Errorf("conversationId = %q, want conv- prefix", id)
	}

	current := state["currentMessage"].(map[string]any)
	userInput := current["userInputMessage"].(map[string]any)
	if userInput["content"] != "hello" {
		t.Errorf("content = %v, want hello", userInput["content"])
	}
	if userInput["modelId"] != "CLAUDE_SONNET_4_5_20250929_V1_0" {
		t.Errorf("modelId = %v", userInput["modelId"])
	}
	if userInput["origin"] != "AI_EDITOR" {
		t.Errorf("origin = %v, want AI_EDITOR", userInput["origin"])
	}
	// images 字段必须是数组而非 null
	if _, ok := userInput["images"].([]any); !ok {
		t.Errorf("images not serialized as array: %v", userInput["images"])
	}

	// 单条消息且无系统消息无工具，history 为空
	if h, ok := state["history"].([]any); ok && len(h) > 0 {
		t.Errorf("unexpected history for single-message request: %v", h)
	}
}

func TestBuildCodeWhispererRequestHistoryPairing(t *testing.T) {
	body := []byte(`{
		"model": "claude-sonnet-4-5",
		"system": "be brief",
		"messages": [
			{"role": "user", "content": "one"},
			{"role": "assistant", "content": "two"},
			{"role": "user", "content": "three"}
		]
	}`)

	out, err := buildCodeWhispererRequest(body, "CLAUDE_SONNET_4_5_20250929_V1_0", "sess")
	if err != nil {
		t.Fatalf("buildCodeWhispererRequest: %v", err)
	}

	var cw map[string]any
	if err := jsonutil.FastUnmarshal(out, &cw); err != nil {
		t.Fatalf("unmarshal output: %v", err)
	}
	state := cw["conversationState"].(map[string]any)

	history, ok := state["history"].([]any)
	if !ok {
		t.Fatalf("missing history in %s", out)
	}
	// system+"OK" 一对，user/assistant 一对
	if len(history) != 4 {
		t.Fatalf("history length = %d, want 4", len(history))
	}

	first := history[0].(map[string]any)
	sysMsg := first["userInputMessage"].(map[string]any)
	if sysMsg["content"] != "be brief" {
		t.Errorf("system turn content = %v", sysMsg["content"])
	}
	second := history[1].(map[string]any)
	ack := second["assistantResponseMessage"].(map[string]any)
	if ack["content"] != "OK" {
		t.Errorf("system ack content = %v, want OK", ack["content"])
	}

	current := state["currentMessage"].(map[string]any)
	userInput := current["userInputMessage"].(map[string]any)
	if userInput["content"] != "three" {
		t.Errorf("current message content = %v, want three", userInput["content"])
	}
}

func TestBuildCodeWhispererRequestEmptyMessages(t *testing.T) {
	if _, err := buildCodeWhispererRequest([]byte(`{"model":"m","messages":[]}`), "id", "sess"); err == nil {
		t.Fatal("expected error for empty message list")
	}
}

func TestChatTriggerType(t *testing.T) {
	base := `{"model":"m","messages":[{"role":"user","content":"x"}],"tools":[{"name":"t"}]`

	tests := []struct {
		name string
		body string
		want string
	}{
		{"no tool choice", base + `}`, "MANUAL"},
		{"auto choice", base + `,"tool_choice":{"type":"auto"}}`, "MANUAL"},
		{"any choice", base + `,"tool_choice":{"type":"any"}}`, "AUTO"},
		{"specific tool", base + `,"tool_choice":{"type":"tool","name":"t"}}`, "AUTO"},
		{"no tools", `{"model":"m","messages":[{"role":"user","content":"x"}],"tool_choice":{"type":"any"}}`, "MANUAL"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := buildCodeWhispererRequest([]byte(tt.body), "id", "sess")
			if err != nil {
				t.Fatalf("buildCodeWhispererRequest: %v", err)
			}
			var cw map[string]any
			if err := jsonutil.FastUnmarshal(out, &cw); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			state := cw["conversationState"].(map[string]any)
			if state["chatTriggerType"] != tt.want {
				t.Errorf("chatTriggerType = %v, want %s", state["chatTriggerType"], tt.want)
			}
		})
	}
}

func TestValidateCWRequestPlaceholder(t *testing.T) {
	var cwReq codeWhispererRequest
	userInput := &cwReq.ConversationState.CurrentMessage.UserInputMessage
	userInput.ModelId = "id"
	cwReq.ConversationState.ConversationId = "conv-1"
	userInput.UserInputMessageContext.Tools = []cwTool{{}}

	if err := validateCWRequest(&cwReq); err != nil {
		t.Fatalf("validateCWRequest: %v", err)
	}
	if userInput.Content != "Proceed with the tool task" {
		t.Errorf("placeholder content = %q", userInput.Content)
	}

	// 无工具无图片无内容则报错
	var empty codeWhispererRequest
	empty.ConversationState.CurrentMessage.UserInputMessage.ModelId = "id"
	empty.ConversationState.ConversationId = "conv-1"
	if err := validateCWRequest(&empty); err == nil {
		t.Error("expected error for empty user message")
	}
}

func TestToolDescriptionTruncated(t *testing.T) {
	longDesc := strings.Repeat("d", maxToolDescriptionLength+500)
	body := []byte(`{"model":"m","messages":[{"role":"user","content":"x"}],` +
		`"tools":[{"name":"t","description":"` + longDesc + `","input_schema":{"type":"object"}}]}`)

	out, err := buildCodeWhispererRequest(body, "id", "sess")
	if err != nil {
		t.Fatalf("buildCodeWhispererRequest: %v", err)
	}

	var cw struct {
		ConversationState struct {
			CurrentMessage struct {
				UserInputMessage struct {
					UserInputMessageContext struct {
						Tools []struct {
							ToolSpecification struct {
								Description string `json:"description"`
							} `json:"toolSpecification"`
						} `json:"tools"`
					} `json:"userInputMessageContext"`
				} `json:"userInputMessage"`
			} `json:"currentMessage"`
		} `json:"conversationState"`
	}
	if err := jsonutil.FastUnmarshal(out, &cw); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	tools := cw.ConversationState.CurrentMessage.UserInputMessage.UserInputMessageContext.Tools
	if len(tools) != 1 {
		t.Fatalf("tools length = %d, want 1", len(tools))
	}
	if got := len(tools[0].ToolSpecification.Description); got != maxToolDescriptionLength {
		t.Errorf("description length = %d, want %d", got, maxToolDescriptionLength)
	}
}

func TestMapAntigravityModel(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"claude-sonnet-4-5", "claude-sonnet-4-5"},
		{"claude-sonnet-4-5-20250929", "claude-sonnet-4-5-thinking"},
		{"claude-opus-4", "claude-opus-4-5-thinking"},
		{"gpt-4o", "gemini-2.5-pro"},
		{"gpt-4o-mini", "gemini-2.5-flash"},
		// haiku 一律降级 flash-lite
		{"claude-3-5-haiku-20241022", "gemini-2.5-flash-lite"},
		{"claude-haiku-4-5", "gemini-2.5-flash-lite"},
		// 未知 gemini / thinking 名称透传
		{"gemini-2.5-flash", "gemini-2.5-flash"},
		{"gemini-9-experimental", "gemini-9-experimental"},
		{"custom-thinking-model", "custom-thinking-model"},
		// 其余兜底 sonnet
		{"some-unknown-model", "claude-sonnet-4-5"},
		{"  claude-sonnet-4-5  ", "claude-sonnet-4-5"},
	}

	for _, tt := range tests {
		if got := MapAntigravityModel(tt.input); got != tt.want {
			t.Errorf("MapAntigravityModel(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestWrapUnwrapV1Internal(t *testing.T) {
	inner := []byte(`{"model":"gemini-2.5-pro","contents":[{"role":"user","parts":[{"text":"hi"}]}]}`)

	wrapped, err := wrapV1InternalRequest(inner, "proj-1", "gemini-2.5-pro", "sess-1")
	if err != nil {
		t.Fatalf("wrapV1InternalRequest: %v", err)
	}

	var envelope map[string]any
	if err := jsonutil.FastUnmarshal(wrapped, &envelope); err != nil {
		t.Fatalf("unmarshal envelope: %v", err)
	}
	if envelope["project"] != "proj-1" {
		t.Errorf("project = %v", envelope["project"])
	}
	if rid, _ := envelope["requestId"].(string); !strings.HasPrefix(rid, "agent-") {
		t.Errorf("requestId = %q, want agent- prefix", rid)
	}

	request, ok := envelope["request"].(map[string]any)
	if !ok {
		t.Fatalf("missing request field in %s", wrapped)
	}
	// model 提升到信封，内层不再保留
	if _, ok := request["model"]; ok {
		t.Error("inner request still carries model field")
	}
	if request["sessionId"] != "sess-1" {
		t.Errorf("sessionId = %v", request["sessionId"])
	}

	body := []byte(`{"response":{"candidates":[{"content":{"parts":[{"text":"hi"}]}}]},"other":1}`)
	unwrapped := unwrapV1InternalResponse(body)
	var resp map[string]any
	if err := jsonutil.FastUnmarshal(unwrapped, &resp); err != nil {
		t.Fatalf("unmarshal unwrapped: %v", err)
	}
	if _, ok := resp["candidates"]; !ok {
		t.Errorf("unwrap did not extract response field: %s", unwrapped)
	}

	// 无 response 字段时原样返回
	raw := []byte(`{"candidates":[]}`)
	if got := string(unwrapV1InternalResponse(raw)); got != string(raw) {
		t.Errorf("unwrap altered plain body: %s", got)
	}
}

func TestShouldTryNextEndpoint(t *testing.T) {
	tests := []struct {
		status int
		want   bool
	}{
		{429, true},
		{408, true},
		{404, true},
		{500, true},
		{503, true},
		{400, false},
		{401, false},
		{403, false},
		{200, false},
	}

	for _, tt := range tests {
		if got := shouldTryNextEndpoint(tt.status); got != tt.want {
			t.Errorf("shouldTryNextEndpoint(%d) = %v, want %v", tt.status, got, tt.want)
		}
	}
}
