package upstream

import (
	"fmt"
	"strings"

	"github.com/awsl-project/relay/internal/converter"
	"github.com/awsl-project/relay/internal/jsonutil"
)

// maxToolDescriptionLength 工具描述的最大长度（字符数）
const maxToolDescriptionLength = 10000

// buildCodeWhispererRequest 将 Claude 请求转换为 CodeWhisperer 请求
func buildCodeWhispererRequest(claudeBody []byte, modelID, sessionKey string) ([]byte, error) {
	var claudeReq converter.ClaudeRequest
	if err := jsonutil.FastUnmarshal(claudeBody, &claudeReq); err != nil {
		return nil, fmt.Errorf("parse claude request: %w", err)
	}

	if len(claudeReq.Messages) == 0 {
		return nil, fmt.Errorf("empty message list")
	}

	cwReq := codeWhispererRequest{}
	cwReq.ConversationState.AgentContinuationId = deterministicGUID(sessionKey, "agent")
	cwReq.ConversationState.AgentTaskType = "vibe"
	cwReq.ConversationState.ChatTriggerType = chatTriggerType(claudeReq)
	cwReq.ConversationState.ConversationId = conversationID(sessionKey)

	// 最后一条消息作为 currentMessage
	lastMessage := claudeReq.Messages[len(claudeReq.Messages)-1]
	textContent, images, toolResults, err := splitMessageContent(lastMessage.Content)
	if err != nil {
		return nil, fmt.Errorf("process message content: %w", err)
	}

	userInput := &cwReq.ConversationState.CurrentMessage.UserInputMessage
	userInput.Content = textContent
	userInput.ModelId = modelID
	userInput.Origin = "AI_EDITOR"
	// Images 字段始终序列化为数组
	userInput.Images = images
	if userInput.Images == nil {
		userInput.Images = []cwImage{}
	}

	if len(toolResults) > 0 {
		userInput.UserInputMessageContext.ToolResults = toolResults
		// 带 tool_result 的请求 content 置空
		userInput.Content = ""
	}

	if len(claudeReq.Tools) > 0 {
		userInput.UserInputMessageContext.Tools = convertCWTools(claudeReq.Tools)
	}

	// 只在有系统消息、多条消息或有工具时才设置 History
	if claudeReq.System != nil || len(claudeReq.Messages) > 1 || len(claudeReq.Tools) > 0 {
		cwReq.ConversationState.History = buildCWHistory(claudeReq, modelID)
	}

	if err := validateCWRequest(&cwReq); err != nil {
		return nil, err
	}

	return jsonutil.SafeMarshal(cwReq)
}

func chatTriggerType(req converter.ClaudeRequest) string {
	if len(req.Tools) > 0 && req.ToolChoice != nil {
		switch tc := req.ToolChoice.(type) {
		case map[string]interface{}:
			if tcType, ok := tc["type"].(string); ok {
				if tcType == "any" || tcType == "tool" {
					return "AUTO"
				}
			}
		case string:
			if tc == "any" || tc == "tool" {
				return "AUTO"
			}
		}
	}
	return "MANUAL"
}

func validateCWRequest(cwReq *codeWhispererRequest) error {
	userInput := &cwReq.ConversationState.CurrentMessage.UserInputMessage

	if userInput.ModelId == "" {
		return fmt.Errorf("missing modelId")
	}
	if cwReq.ConversationState.ConversationId == "" {
		return fmt.Errorf("missing conversationId")
	}

	trimmedContent := strings.TrimSpace(userInput.Content)
	hasImages := len(userInput.Images) > 0
	hasTools := len(userInput.UserInputMessageContext.Tools) > 0
	hasToolResults := len(userInput.UserInputMessageContext.ToolResults) > 0

	// 工具反馈请求允许内容为空
	if hasToolResults {
		return nil
	}

	// 无内容但带工具时注入占位内容
	if trimmedContent == "" && !hasImages && hasTools {
		userInput.Content = "Proceed with the tool task"
		trimmedContent = userInput.Content
	}

	if trimmedContent == "" && !hasImages {
		return fmt.Errorf("user message has no content")
	}

	return nil
}

// splitMessageContent 拆出文本、图片和工具结果
func splitMessageContent(content interface{}) (string, []cwImage, []cwToolResult, error) {
	var textParts []string
	var images []cwImage
	var toolResults []cwToolResult

	switch v := content.(type) {
	case string:
		return v, nil, nil, nil

	case []interface{}:
		for _, item := range v {
			block, ok := item.(map[string]interface{})
			if !ok {
				continue
			}

			blockType, _ := block["type"].(string)
			switch blockType {
			case "text":
				if text, ok := block["text"].(string); ok {
					textParts = append(textParts, text)
				}

			case "image":
				if source, ok := block["source"].(map[string]interface{}); ok {
					if img := convertCWImage(source); img != nil {
						images = append(images, *img)
					}
				}

			case "tool_result":
				if tr := extractCWToolResult(block); tr != nil {
					toolResults = append(toolResults, *tr)
				}
			}
		}

	default:
		return "", nil, nil, fmt.Errorf("unsupported content type: %T", content)
	}

	return strings.Join(textParts, ""), images, toolResults, nil
}

func convertCWImage(source map[string]interface{}) *cwImage {
	mediaType, _ := source["media_type"].(string)
	data, _ := source["data"].(string)

	if data == "" {
		return nil
	}

	format := "png"
	if strings.Contains(mediaType, "jpeg") || strings.Contains(mediaType, "jpg") {
		format = "jpeg"
	} else if strings.Contains(mediaType, "gif") {
		format = "gif"
	} else if strings.Contains(mediaType, "webp") {
		format = "webp"
	}

	img := &cwImage{Format: format}
	img.Source.Bytes = data
	return img
}

func extractCWToolResult(block map[string]interface{}) *cwToolResult {
	toolUseId, _ := block["tool_use_id"].(string)
	if toolUseId == "" {
		return nil
	}

	tr := &cwToolResult{
		ToolUseId: toolUseId,
		Status:    "success",
	}

	if isError, ok := block["is_error"].(bool); ok && isError {
		tr.Status = "error"
		tr.IsError = true
	}

	if content, exists := block["content"]; exists {
		tr.Content = convertCWToolResultContent(content)
	}

	return tr
}

func convertCWToolResultContent(content interface{}) []map[string]any {
	switch c := content.(type) {
	case string:
		return []map[string]any{{"text": c}}
	case []interface{}:
		var result []map[string]any
		for _, item := range c {
			if m, ok := item.(map[string]interface{}); ok {
				result = append(result, m)
			}
		}
		return result
	case map[string]interface{}:
		return []map[string]any{c}
	default:
		return []map[string]any{{"text": fmt.Sprintf("%v", c)}}
	}
}

func convertCWTools(tools []converter.ClaudeTool) []cwTool {
	var result []cwTool

	for _, tool := range tools {
		if tool.Name == "" {
			continue
		}

		cwt := cwTool{}
		cwt.ToolSpecification.Name = tool.Name

		desc := tool.Description
		if len(desc) > maxToolDescriptionLength {
			desc = desc[:maxToolDescriptionLength]
		}
		cwt.ToolSpecification.Description = desc

		if tool.InputSchema != nil {
			if schema, ok := tool.InputSchema.(map[string]any); ok {
				cwt.ToolSpecification.InputSchema = cwInputSchema{Json: schema}
			}
		}

		result = append(result, cwt)
	}

	return result
}

// buildCWHistory 构建历史消息：系统消息配对 "OK"，user 消息合并后与
// assistant 消息成对出现
func buildCWHistory(req converter.ClaudeRequest, modelID string) []any {
	var history []any

	if req.System != nil {
		if systemText := flattenSystemText(req.System); systemText != "" {
			userMsg := cwHistoryUserMessage{}
			userMsg.UserInputMessage.Content = systemText
			userMsg.UserInputMessage.ModelId = modelID
			userMsg.UserInputMessage.Origin = "AI_EDITOR"
			history = append(history, userMsg)

			assistantMsg := cwHistoryAssistantMessage{}
			assistantMsg.AssistantResponseMessage.Content = "OK"
			history = append(history, assistantMsg)
		}
	}

	if len(req.Messages) <= 1 {
		return history
	}

	var userBuffer []converter.ClaudeMessage
	lastMessage := req.Messages[len(req.Messages)-1]

	historyEndIndex := len(req.Messages) - 1
	if lastMessage.Role == "assistant" {
		historyEndIndex = len(req.Messages)
	}

	for i := 0; i < historyEndIndex; i++ {
		msg := req.Messages[i]

		if msg.Role == "user" {
			userBuffer = append(userBuffer, msg)
			continue
		}

		if msg.Role == "assistant" && len(userBuffer) > 0 {
			history = append(history, mergeCWUserMessages(userBuffer, modelID))
			userBuffer = nil
			history = append(history, convertCWAssistantMessage(msg))
		}
	}

	// 末尾孤立的 user 消息自动配对 "OK" 响应
	if len(userBuffer) > 0 {
		history = append(history, mergeCWUserMessages(userBuffer, modelID))

		assistantMsg := cwHistoryAssistantMessage{}
		assistantMsg.AssistantResponseMessage.Content = "OK"
		history = append(history, assistantMsg)
	}

	return history
}

func flattenSystemText(system interface{}) string {
	switch s := system.(type) {
	case string:
		return s
	case []interface{}:
		var parts []string
		for _, item := range s {
			if block, ok := item.(map[string]interface{}); ok {
				if text, ok := block["text"].(string); ok {
					parts = append(parts, text)
				}
			}
		}
		return strings.Join(parts, "\n")
	}
	return ""
}

func mergeCWUserMessages(messages []converter.ClaudeMessage, modelID string) cwHistoryUserMessage {
	var contentParts []string
	var allImages []cwImage
	var allToolResults []cwToolResult

	for _, msg := range messages {
		text, images, toolResults, _ := splitMessageContent(msg.Content)
		if text != "" {
			contentParts = append(contentParts, text)
		}
		allImages = append(allImages, images...)
		allToolResults = append(allToolResults, toolResults...)
	}

	userMsg := cwHistoryUserMessage{}
	userMsg.UserInputMessage.Content = strings.Join(contentParts, "\n")
	userMsg.UserInputMessage.ModelId = modelID
	userMsg.UserInputMessage.Origin = "AI_EDITOR"

	if len(allImages) > 0 {
		userMsg.UserInputMessage.Images = allImages
	}

	if len(allToolResults) > 0 {
		userMsg.UserInputMessage.UserInputMessageContext.ToolResults = allToolResults
		userMsg.UserInputMessage.Content = ""
	}

	return userMsg
}

func convertCWAssistantMessage(msg converter.ClaudeMessage) cwHistoryAssistantMessage {
	assistantMsg := cwHistoryAssistantMessage{}

	text, _, _, _ := splitMessageContent(msg.Content)
	assistantMsg.AssistantResponseMessage.Content = text

	if toolUses := extractCWToolUses(msg.Content); len(toolUses) > 0 {
		assistantMsg.AssistantResponseMessage.ToolUses = toolUses
	}

	return assistantMsg
}

func extractCWToolUses(content interface{}) []cwToolUseEntry {
	blocks, ok := content.([]interface{})
	if !ok {
		return nil
	}

	var toolUses []cwToolUseEntry
	for _, item := range blocks {
		block, ok := item.(map[string]interface{})
		if !ok {
			continue
		}

		if blockType, _ := block["type"].(string); blockType != "tool_use" {
			continue
		}

		entry := cwToolUseEntry{Input: map[string]any{}}
		if id, ok := block["id"].(string); ok {
			entry.ToolUseId = id
		}
		if name, ok := block["name"].(string); ok {
			entry.Name = name
		}
		if input, ok := block["input"].(map[string]interface{}); ok {
			entry.Input = input
		}

		toolUses = append(toolUses, entry)
	}

	return toolUses
}
