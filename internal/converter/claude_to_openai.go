package converter

import (
	"time"

	"github.com/awsl-project/relay/internal/jsonutil"
)

type claudeToOpenAIRequest struct{}
type claudeToOpenAIResponse struct{}

// mapStopToFinish maps an Anthropic stop_reason to an OpenAI finish_reason.
func mapStopToFinish(stopReason string) string {
	switch stopReason {
	case "max_tokens":
		return "length"
	case "tool_use":
		return "tool_calls"
	default:
		return "stop"
	}
}

// mapFinishToStop maps an OpenAI finish_reason to an Anthropic stop_reason.
func mapFinishToStop(finishReason string) string {
	switch finishReason {
	case "length":
		return "max_tokens"
	case "tool_calls":
		return "tool_use"
	default:
		return "end_turn"
	}
}

func (c *claudeToOpenAIRequest) Transform(body []byte, model string, stream bool) ([]byte, error) {
	var req ClaudeRequest
	if err := jsonutil.SafeUnmarshal(body, &req); err != nil {
		return nil, convErr(FormatClaude, FormatOpenAI, "malformed request body", err)
	}
	if len(req.Messages) == 0 {
		return nil, convErr(FormatClaude, FormatOpenAI, "request has no messages", nil)
	}

	openaiReq := OpenAIRequest{
		Model:       model,
		Stream:      stream,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		TopP:        req.TopP,
	}

	// System prompt becomes a leading system message
	if systemText := flattenSystem(req.System); systemText != "" {
		openaiReq.Messages = append(openaiReq.Messages, OpenAIMessage{
			Role:    "system",
			Content: systemText,
		})
	}

	for _, msg := range req.Messages {
		openaiMsg := OpenAIMessage{Role: msg.Role}
		switch content := msg.Content.(type) {
		case string:
			openaiMsg.Content = content
		case []interface{}:
			var parts []OpenAIContentPart
			var toolCalls []OpenAIToolCall
			for _, block := range content {
				m, ok := block.(map[string]interface{})
				if !ok {
					continue
				}
				blockType, _ := m["type"].(string)
				switch blockType {
				case "text":
					if text, ok := m["text"].(string); ok {
						parts = append(parts, OpenAIContentPart{Type: "text", Text: text})
					}
				case "tool_use":
					id, _ := m["id"].(string)
					name, _ := m["name"].(string)
					inputJSON, _ := jsonutil.FastMarshal(m["input"])
					toolCalls = append(toolCalls, OpenAIToolCall{
						ID:       id,
						Type:     "function",
						Function: OpenAIFunctionCall{Name: name, Arguments: string(inputJSON)},
					})
				case "tool_result":
					// tool_result 变成独立的 tool message
					toolUseID, _ := m["tool_use_id"].(string)
					resultContent, _ := m["content"].(string)
					openaiReq.Messages = append(openaiReq.Messages, OpenAIMessage{
						Role:       "tool",
						Content:    resultContent,
						ToolCallID: toolUseID,
					})
					continue
				}
			}
			if len(toolCalls) > 0 {
				openaiMsg.ToolCalls = toolCalls
			}
			if len(parts) == 1 && parts[0].Type == "text" {
				openaiMsg.Content = parts[0].Text
			} else if len(parts) > 0 {
				openaiMsg.Content = parts
			}
		}
		openaiReq.Messages = append(openaiReq.Messages, openaiMsg)
	}

	for _, tool := range req.Tools {
		openaiReq.Tools = append(openaiReq.Tools, OpenAITool{
			Type: "function",
			Function: OpenAIFunction{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  tool.InputSchema,
			},
		})
	}

	if len(req.StopSequences) > 0 {
		openaiReq.Stop = req.StopSequences
	}

	return jsonutil.FastMarshal(openaiReq)
}

// flattenSystem merges a string-or-blocks system field into one string.
func flattenSystem(system interface{}) string {
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

func (c *claudeToOpenAIResponse) Transform(body []byte) ([]byte, error) {
	var resp ClaudeResponse
	if err := jsonutil.SafeUnmarshal(body, &resp); err != nil {
		return nil, convErr(FormatClaude, FormatOpenAI, "malformed response body", err)
	}

	openaiResp := OpenAIResponse{
		ID:      resp.ID,
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   resp.Model,
		Usage: OpenAIUsage{
			PromptTokens:     resp.Usage.InputTokens,
			CompletionTokens: resp.Usage.OutputTokens,
			TotalTokens:      resp.Usage.InputTokens + resp.Usage.OutputTokens,
		},
	}

	msg := OpenAIMessage{Role: "assistant"}
	var textContent string
	var toolCalls []OpenAIToolCall

	for _, block := range resp.Content {
		switch block.Type {
		case "text":
			textContent += block.Text
		case "tool_use":
			inputJSON, _ := jsonutil.FastMarshal(block.Input)
			toolCalls = append(toolCalls, OpenAIToolCall{
				ID:       block.ID,
				Type:     "function",
				Function: OpenAIFunctionCall{Name: block.Name, Arguments: string(inputJSON)},
			})
		}
	}

	if textContent != "" {
		msg.Content = textContent
	}
	if len(toolCalls) > 0 {
		msg.ToolCalls = toolCalls
	}

	openaiResp.Choices = []OpenAIChoice{{
		Index:        0,
		Message:      &msg,
		FinishReason: mapStopToFinish(resp.StopReason),
	}}

	return jsonutil.FastMarshal(openaiResp)
}

func (c *claudeToOpenAIResponse) TransformChunk(chunk []byte, state *TransformState) ([]byte, error) {
	events, remaining := ParseSSE(state.Buffer + string(chunk))
	state.Buffer = remaining

	var output []byte
	for _, event := range events {
		if event.Event == "done" {
			output = append(output, FormatDone()...)
			continue
		}

		var claudeEvent ClaudeStreamEvent
		if err := jsonutil.FastUnmarshal(event.Data, &claudeEvent); err != nil {
			continue
		}

		switch claudeEvent.Type {
		case "message_start":
			if claudeEvent.Message != nil {
				state.MessageID = claudeEvent.Message.ID
				if claudeEvent.Message.Usage.InputTokens > 0 {
					state.Usage.InputTokens = claudeEvent.Message.Usage.InputTokens
				}
			}
			output = append(output, FormatSSE("", OpenAIStreamChunk{
				ID:      state.MessageID,
				Object:  "chat.completion.chunk",
				Created: time.Now().Unix(),
				Choices: []OpenAIChoice{{
					Index: 0,
					Delta: &OpenAIMessage{Role: "assistant", Content: ""},
				}},
			})...)

		case "content_block_start":
			if claudeEvent.ContentBlock != nil {
				state.CurrentBlockType = claudeEvent.ContentBlock.Type
				state.CurrentIndex = claudeEvent.Index
				if claudeEvent.ContentBlock.Type == "tool_use" {
					state.ToolCalls[claudeEvent.Index] = &ToolCallState{
						ID:   claudeEvent.ContentBlock.ID,
						Name: claudeEvent.ContentBlock.Name,
					}
				}
			}

		case "content_block_delta":
			if claudeEvent.Delta == nil {
				break
			}
			switch claudeEvent.Delta.Type {
			case "text_delta":
				output = append(output, FormatSSE("", OpenAIStreamChunk{
					ID:      state.MessageID,
					Object:  "chat.completion.chunk",
					Created: time.Now().Unix(),
					Choices: []OpenAIChoice{{
						Index: 0,
						Delta: &OpenAIMessage{Content: claudeEvent.Delta.Text},
					}},
				})...)
			case "input_json_delta":
				if tc, ok := state.ToolCalls[state.CurrentIndex]; ok {
					tc.Arguments += claudeEvent.Delta.PartialJSON
					output = append(output, FormatSSE("", OpenAIStreamChunk{
						ID:      state.MessageID,
						Object:  "chat.completion.chunk",
						Created: time.Now().Unix(),
						Choices: []OpenAIChoice{{
							Index: 0,
							Delta: &OpenAIMessage{
								ToolCalls: []OpenAIToolCall{{
									Index:    state.CurrentIndex,
									ID:       tc.ID,
									Type:     "function",
									Function: OpenAIFunctionCall{Name: tc.Name, Arguments: claudeEvent.Delta.PartialJSON},
								}},
							},
						}},
					})...)
				}
			}

		case "message_delta":
			if claudeEvent.Delta != nil {
				state.StopReason = claudeEvent.Delta.StopReason
			}
			if claudeEvent.Usage != nil {
				state.Usage.OutputTokens = claudeEvent.Usage.OutputTokens
			}

		case "message_stop":
			output = append(output, FormatSSE("", OpenAIStreamChunk{
				ID:      state.MessageID,
				Object:  "chat.completion.chunk",
				Created: time.Now().Unix(),
				Choices: []OpenAIChoice{{
					Index:        0,
					Delta:        &OpenAIMessage{},
					FinishReason: mapStopToFinish(state.StopReason),
				}},
			})...)
			output = append(output, FormatDone()...)
		}
	}

	return output, nil
}
