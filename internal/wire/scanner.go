package wire

import "bytes"

// 已知的 JSON 对象起始锚点。上游的二进制封帧不可依赖，
// 只认 payload 里这些对象的开头。
var anchors = [][]byte{
	[]byte(`{"content":`),
	[]byte(`{"toolUseId":`),
	[]byte(`{"name":`),
	[]byte(`{"input":`),
	[]byte(`{"usage":`),
	[]byte(`{"contextUsagePercentage":`),
	[]byte(`{"followupPrompt":`),
}

// nextAnchor returns the offset of the earliest anchor at or after
// `from`, or -1 when none is present.
func nextAnchor(buf []byte, from int) int {
	best := -1
	for _, a := range anchors {
		idx := bytes.Index(buf[from:], a)
		if idx < 0 {
			continue
		}
		abs := from + idx
		if best < 0 || abs < best {
			best = abs
		}
	}
	return best
}

// extractObject scans one balanced JSON object starting at buf[start]
// (which must be '{'). Braces inside string literals and escaped quotes
// are skipped. Returns the end offset one past the closing brace, or -1
// when the object is not yet complete in the buffer.
func extractObject(buf []byte, start int) int {
	depth := 0
	inString := false
	escaped := false

	for i := start; i < len(buf); i++ {
		c := buf[i]

		if escaped {
			escaped = false
			continue
		}

		switch c {
		case '\\':
			if inString {
				escaped = true
			}
		case '"':
			inString = !inString
		case '{':
			if !inString {
				depth++
			}
		case '}':
			if !inString {
				depth--
				if depth == 0 {
					return i + 1
				}
			}
		}
	}
	return -1
}
