package upstream

// CodeWhisperer 请求结构 (匹配 kiro2api)

type codeWhispererRequest struct {
	ConversationState struct {
		AgentContinuationId string `json:"agentContinuationId"`
		AgentTaskType       string `json:"agentTaskType"`
		ChatTriggerType     string `json:"chatTriggerType"`
		CurrentMessage      struct {
			UserInputMessage struct {
				UserInputMessageContext struct {
					ToolResults []cwToolResult `json:"toolResults,omitempty"`
					Tools       []cwTool       `json:"tools,omitempty"`
				} `json:"userInputMessageContext"`
				Content string    `json:"content"`
				ModelId string    `json:"modelId"`
				Images  []cwImage `json:"images"`
				Origin  string    `json:"origin"`
			} `json:"userInputMessage"`
		} `json:"currentMessage"`
		ConversationId string `json:"conversationId"`
		History        []any  `json:"history"`
	} `json:"conversationState"`
}

type cwImage struct {
	Format string `json:"format"`
	Source struct {
		Bytes string `json:"bytes"`
	} `json:"source"`
}

type cwTool struct {
	ToolSpecification cwToolSpecification `json:"toolSpecification"`
}

type cwToolSpecification struct {
	Name        string        `json:"name"`
	Description string        `json:"description"`
	InputSchema cwInputSchema `json:"inputSchema"`
}

type cwInputSchema struct {
	Json map[string]any `json:"json"`
}

type cwToolResult struct {
	ToolUseId string           `json:"toolUseId"`
	Content   []map[string]any `json:"content"`
	Status    string           `json:"status"`
	IsError   bool             `json:"isError,omitempty"`
}

type cwHistoryUserMessage struct {
	UserInputMessage struct {
		Content                 string    `json:"content"`
		ModelId                 string    `json:"modelId"`
		Origin                  string    `json:"origin"`
		Images                  []cwImage `json:"images,omitempty"`
		UserInputMessageContext struct {
			ToolResults []cwToolResult `json:"toolResults,omitempty"`
			Tools       []cwTool       `json:"tools,omitempty"`
		} `json:"userInputMessageContext"`
	} `json:"userInputMessage"`
}

type cwHistoryAssistantMessage struct {
	AssistantResponseMessage struct {
		Content  string           `json:"content"`
		ToolUses []cwToolUseEntry `json:"toolUses"`
	} `json:"assistantResponseMessage"`
}

type cwToolUseEntry struct {
	ToolUseId string         `json:"toolUseId"`
	Name      string         `json:"name"`
	Input     map[string]any `json:"input"`
}
