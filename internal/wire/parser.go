package wire

import (
	"encoding/json"
	"strings"

	"github.com/awsl-project/relay/internal/domain"
	"github.com/awsl-project/relay/internal/jsonutil"
	"github.com/google/uuid"
)

// Parser decodes the upstream's binary event stream. It never trusts
// the framing: it scans for known JSON object anchors and extracts one
// balanced object per anchor. Malformed objects are skipped and
// scanning resumes after their start offset, so garbled upstream bytes
// degrade to partial output instead of a failed request.
type Parser struct {
	buf []byte
	pos int

	text  strings.Builder
	tools *toolAccumulator

	usageCredits        float64
	contextUsagePercent float64

	finished bool
}

func NewParser() *Parser {
	return &Parser{tools: newToolAccumulator()}
}

// maxAnchorLen 尾部可能截断的锚点最大长度
var maxAnchorLen = func() int {
	max := 0
	for _, a := range anchors {
		if len(a) > max {
			max = len(a)
		}
	}
	return max
}()

// Feed appends upstream bytes and consumes every complete object. An
// object cut off at the end of the buffer stays pending for the next
// Feed.
func (p *Parser) Feed(data []byte) {
	p.buf = append(p.buf, data...)

	for {
		a := nextAnchor(p.buf, p.pos)
		if a < 0 {
			// 锚点可能正好被切断，留一个尾巴
			if tail := len(p.buf) - maxAnchorLen + 1; tail > p.pos {
				p.pos = tail
			}
			return
		}

		end := extractObject(p.buf, a)
		if end < 0 {
			// incomplete, wait for more bytes
			p.pos = a
			return
		}

		if p.handleEvent(p.buf[a:end]) {
			p.pos = end
		} else {
			p.pos = a + 1
		}
	}
}

// Finish drains whatever is left in the buffer (treating never-closing
// objects as malformed), flushes open tool accumulators, applies the
// bracket-convention fallback to the assembled text and returns the
// parsed response.
func (p *Parser) Finish() *domain.ParsedUpstreamResponse {
	if !p.finished {
		p.finished = true
		for {
			a := nextAnchor(p.buf, p.pos)
			if a < 0 {
				break
			}
			end := extractObject(p.buf, a)
			if end < 0 {
				p.pos = a + 1
				continue
			}
			if p.handleEvent(p.buf[a:end]) {
				p.pos = end
			} else {
				p.pos = a + 1
			}
		}
		p.tools.flush()
	}

	text, bracketCalls := extractBracketToolCalls(p.text.String())

	return &domain.ParsedUpstreamResponse{
		TextContent:         text,
		ToolCalls:           append(append([]domain.ToolCall(nil), p.tools.completed...), bracketCalls...),
		UsageCredits:        p.usageCredits,
		ContextUsagePercent: p.contextUsagePercent,
	}
}

// wireEvent is the union of payload shapes behind the anchors.
type wireEvent struct {
	Content        *string         `json:"content"`
	FollowupPrompt json.RawMessage `json:"followupPrompt"`

	Name      string `json:"name"`
	ToolUseId string `json:"toolUseId"`
	Input     any    `json:"input"`
	Stop      bool   `json:"stop"`

	Usage                  json.RawMessage `json:"usage"`
	ContextUsagePercentage json.RawMessage `json:"contextUsagePercentage"`
}

// handleEvent dispatches one extracted object. Returns false when the
// object is not parseable JSON.
func (p *Parser) handleEvent(payload []byte) bool {
	var evt wireEvent
	if err := jsonutil.FastUnmarshal(payload, &evt); err != nil {
		return false
	}

	switch {
	case evt.ToolUseId != "" || (evt.Name != "" && evt.Input != nil):
		id := evt.ToolUseId
		if id == "" {
			// 少数事件不带 id，只能按 name 归并
			id = "name:" + evt.Name
		}
		p.tools.feed(id, evt.Name, evt.Input, evt.Stop)

	case evt.Content != nil && evt.FollowupPrompt == nil:
		p.text.WriteString(*evt.Content)
	}

	if v, ok := scalar(evt.Usage); ok {
		p.usageCredits = v
	}
	if v, ok := scalar(evt.ContextUsagePercentage); ok {
		p.contextUsagePercent = v
	}
	return true
}

// scalar parses a raw JSON number; non-numeric shapes are ignored,
// last-value-wins semantics live at the caller.
func scalar(raw json.RawMessage) (float64, bool) {
	if len(raw) == 0 {
		return 0, false
	}
	var v float64
	if err := jsonutil.FastUnmarshal(raw, &v); err != nil {
		return 0, false
	}
	return v, true
}

const (
	bracketPrefix = "[Called "
	bracketArgs   = " with args: "
)

// extractBracketToolCalls recognizes the inline convention
// `[Called <name> with args: {...}]` in already-decoded text, used by
// upstream variants that never emit structured tool events. Matches are
// removed from the visible text and returned as tool calls.
func extractBracketToolCalls(text string) (string, []domain.ToolCall) {
	if !strings.Contains(text, bracketPrefix) {
		return text, nil
	}

	var out strings.Builder
	var calls []domain.ToolCall

	rest := text
	for {
		idx := strings.Index(rest, bracketPrefix)
		if idx < 0 {
			out.WriteString(rest)
			break
		}
		out.WriteString(rest[:idx])
		candidate := rest[idx:]

		name, args, consumed := parseBracketCall(candidate)
		if consumed == 0 {
			// 不是完整的调用标记，原样保留这个字符
			out.WriteString(candidate[:len(bracketPrefix)])
			rest = candidate[len(bracketPrefix):]
			continue
		}

		calls = append(calls, domain.ToolCall{
			ID:        "call_" + uuid.NewString()[:8],
			Name:      name,
			Arguments: args,
		})
		rest = candidate[consumed:]
	}

	return out.String(), calls
}

// parseBracketCall matches one `[Called name with args: {...}]` at the
// start of s. Returns the consumed length, or 0 on no match.
func parseBracketCall(s string) (name, args string, consumed int) {
	body := s[len(bracketPrefix):]
	argsIdx := strings.Index(body, bracketArgs)
	if argsIdx < 0 {
		return "", "", 0
	}
	name = body[:argsIdx]
	if name == "" || strings.ContainsAny(name, "[]\n") {
		return "", "", 0
	}

	jsonStart := len(bracketPrefix) + argsIdx + len(bracketArgs)
	if jsonStart >= len(s) || s[jsonStart] != '{' {
		return "", "", 0
	}
	end := extractObject([]byte(s), jsonStart)
	if end < 0 || end >= len(s) || s[end] != ']' {
		return "", "", 0
	}
	return name, s[jsonStart:end], end + 1
}
