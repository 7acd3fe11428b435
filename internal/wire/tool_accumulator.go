package wire

import (
	"github.com/awsl-project/relay/internal/domain"
	"github.com/awsl-project/relay/internal/jsonutil"
)

// toolState is one in-flight tool call keyed by toolUseId. Input chunks
// arrive fragmented across events and are concatenated, never replaced.
type toolState struct {
	id    string
	name  string
	input []byte
}

// toolAccumulator reassembles multi-chunk tool calls. A chunk with
// stop:true finalizes the call into the output sequence; anything still
// open at end of stream is flushed best-effort.
type toolAccumulator struct {
	active    map[string]*toolState
	order     []string // first-seen order of open ids
	completed []domain.ToolCall
}

func newToolAccumulator() *toolAccumulator {
	return &toolAccumulator{
		active: make(map[string]*toolState),
	}
}

// feed processes one tool-use event chunk.
func (a *toolAccumulator) feed(id, name string, input any, stop bool) {
	if id == "" {
		return
	}
	st, ok := a.active[id]
	if !ok {
		st = &toolState{id: id}
		a.active[id] = st
		a.order = append(a.order, id)
	}
	// name: 第一个非空的生效
	if st.name == "" && name != "" {
		st.name = name
	}
	if chunk := inputChunk(input); chunk != "" {
		st.input = append(st.input, chunk...)
	}
	if stop {
		a.finalize(id)
	}
}

// finalize moves the call into the completed sequence and drops its
// accumulator entry.
func (a *toolAccumulator) finalize(id string) {
	st, ok := a.active[id]
	if !ok {
		return
	}
	delete(a.active, id)
	for i, oid := range a.order {
		if oid == id {
			a.order = append(a.order[:i], a.order[i+1:]...)
			break
		}
	}
	a.completed = append(a.completed, domain.ToolCall{
		ID:        st.id,
		Name:      st.name,
		Arguments: argumentsOrEmpty(st.input),
	})
}

// flush finalizes every still-open accumulator with a non-empty name,
// in first-seen order. Nameless fragments are dropped; there is nothing
// callable to emit for them.
func (a *toolAccumulator) flush() {
	for _, id := range append([]string(nil), a.order...) {
		if st := a.active[id]; st != nil && st.name != "" {
			a.finalize(id)
		}
	}
}

func argumentsOrEmpty(input []byte) string {
	if len(input) == 0 {
		return "{}"
	}
	return string(input)
}

// inputChunk converts an event's input field to its concatenation form:
// strings are appended raw, structured values as their JSON text.
func inputChunk(input any) string {
	if input == nil {
		return ""
	}
	if str, ok := input.(string); ok {
		return str
	}
	if jsonBytes, err := jsonutil.FastMarshal(input); err == nil {
		return string(jsonBytes)
	}
	return ""
}
