package converter

import (
	"encoding/json"
	"strings"

	"github.com/awsl-project/relay/internal/jsonutil"
)

// SSEEvent represents a parsed SSE event
type SSEEvent struct {
	Event string          `json:"event,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// ParseSSE parses SSE text into events, returning parsed events and the
// remaining (incomplete) buffer.
func ParseSSE(text string) ([]SSEEvent, string) {
	var events []SSEEvent
	lines := strings.Split(text, "\n")

	var currentEvent string
	var currentData []string
	var remaining strings.Builder

	for i, line := range lines {
		// 最后一行可能被截断，留到下个 chunk
		if i == len(lines)-1 && line != "" && !strings.HasSuffix(text, "\n") {
			remaining.WriteString(line)
			break
		}

		line = strings.TrimSpace(line)

		// Empty line = end of event
		if line == "" {
			if len(currentData) > 0 {
				dataStr := strings.Join(currentData, "\n")
				if dataStr == "[DONE]" {
					events = append(events, SSEEvent{Event: "done"})
				} else if jsonutil.Valid([]byte(dataStr)) {
					events = append(events, SSEEvent{
						Event: currentEvent,
						Data:  json.RawMessage(dataStr),
					})
				}
			}
			currentEvent = ""
			currentData = nil
			continue
		}

		if strings.HasPrefix(line, "event:") {
			currentEvent = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		} else if strings.HasPrefix(line, "data:") {
			currentData = append(currentData, strings.TrimSpace(strings.TrimPrefix(line, "data:")))
		}
	}

	return events, remaining.String()
}

// FormatSSE formats an event and data as SSE
func FormatSSE(event string, data interface{}) []byte {
	var sb strings.Builder
	if event != "" {
		sb.WriteString("event: ")
		sb.WriteString(event)
		sb.WriteString("\n")
	}

	var dataBytes []byte
	switch v := data.(type) {
	case []byte:
		dataBytes = v
	case string:
		dataBytes = []byte(v)
	default:
		dataBytes, _ = jsonutil.FastMarshal(v)
	}

	sb.WriteString("data: ")
	sb.Write(dataBytes)
	sb.WriteString("\n\n")

	return []byte(sb.String())
}

// FormatDone returns the SSE [DONE] marker
func FormatDone() []byte {
	return []byte("data: [DONE]\n\n")
}
