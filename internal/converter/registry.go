package converter

import (
	"fmt"

	"github.com/awsl-project/relay/internal/domain"
)

// Format identifies a request/response wire shape. The two public
// formats plus each upstream-native shape.
type Format string

const (
	FormatClaude Format = "claude"
	FormatOpenAI Format = "openai"
	FormatGemini Format = "gemini"
)

// FromClientFormat maps a public client format to its converter Format.
func FromClientFormat(cf domain.ClientFormat) Format {
	return Format(cf)
}

// ConversionError is returned for malformed input. Converters are total
// over well-formed shapes and never panic on bad ones.
type ConversionError struct {
	From   Format
	To     Format
	Reason string
	Err    error
}

func (e *ConversionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("convert %s to %s: %s: %v", e.From, e.To, e.Reason, e.Err)
	}
	return fmt.Sprintf("convert %s to %s: %s", e.From, e.To, e.Reason)
}

func (e *ConversionError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return domain.ErrFormatConversion
}

func convErr(from, to Format, reason string, err error) *ConversionError {
	return &ConversionError{From: from, To: to, Reason: reason, Err: err}
}

// TransformState holds state for streaming response conversion
type TransformState struct {
	MessageID        string
	CurrentIndex     int
	CurrentBlockType string // "text", "thinking", "tool_use"
	ToolCalls        map[int]*ToolCallState
	Buffer           string // SSE line buffer
	Usage            *Usage
	StopReason       string
}

// ToolCallState tracks tool call conversion state
type ToolCallState struct {
	ID        string
	Name      string
	Arguments string
}

// Usage tracks token usage during streaming
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	CacheRead    int `json:"cache_read_input_tokens,omitempty"`
	CacheWrite   int `json:"cache_creation_input_tokens,omitempty"`
}

// NewTransformState creates a new transform state
func NewTransformState() *TransformState {
	return &TransformState{
		ToolCalls: make(map[int]*ToolCallState),
		Usage:     &Usage{},
	}
}

// RequestTransformer transforms request bodies between formats
type RequestTransformer interface {
	Transform(body []byte, model string, stream bool) ([]byte, error)
}

// ResponseTransformer transforms response bodies between formats
type ResponseTransformer interface {
	// Transform converts a non-streaming response
	Transform(body []byte) ([]byte, error)
	// TransformChunk converts a streaming SSE chunk
	TransformChunk(chunk []byte, state *TransformState) ([]byte, error)
}

// Registry holds all format converters
type Registry struct {
	requests  map[Format]map[Format]RequestTransformer
	responses map[Format]map[Format]ResponseTransformer
}

// NewRegistry creates a converter registry with all built-in converters
func NewRegistry() *Registry {
	r := &Registry{
		requests:  make(map[Format]map[Format]RequestTransformer),
		responses: make(map[Format]map[Format]ResponseTransformer),
	}

	r.Register(FormatClaude, FormatOpenAI, &claudeToOpenAIRequest{}, &claudeToOpenAIResponse{})
	r.Register(FormatOpenAI, FormatClaude, &openaiToClaudeRequest{}, &openaiToClaudeResponse{})
	r.Register(FormatClaude, FormatGemini, &claudeToGeminiRequest{}, nil)
	r.Register(FormatGemini, FormatClaude, nil, &geminiToClaudeResponse{})

	return r
}

// Register registers a converter pair
func (r *Registry) Register(from, to Format, req RequestTransformer, resp ResponseTransformer) {
	if r.requests[from] == nil {
		r.requests[from] = make(map[Format]RequestTransformer)
	}
	if r.responses[from] == nil {
		r.responses[from] = make(map[Format]ResponseTransformer)
	}
	if req != nil {
		r.requests[from][to] = req
	}
	if resp != nil {
		r.responses[from][to] = resp
	}
}

// TransformRequest converts a request body
func (r *Registry) TransformRequest(from, to Format, body []byte, model string, stream bool) ([]byte, error) {
	if from == to {
		return body, nil
	}
	transformer := r.requests[from][to]
	if transformer == nil {
		return nil, convErr(from, to, "no request transformer registered", nil)
	}
	return transformer.Transform(body, model, stream)
}

// TransformResponse converts a non-streaming response
func (r *Registry) TransformResponse(from, to Format, body []byte) ([]byte, error) {
	if from == to {
		return body, nil
	}
	transformer := r.responses[from][to]
	if transformer == nil {
		return nil, convErr(from, to, "no response transformer registered", nil)
	}
	return transformer.Transform(body)
}

// TransformStreamChunk converts a streaming chunk
func (r *Registry) TransformStreamChunk(from, to Format, chunk []byte, state *TransformState) ([]byte, error) {
	if from == to {
		return chunk, nil
	}
	transformer := r.responses[from][to]
	if transformer == nil {
		return nil, convErr(from, to, "no response transformer registered", nil)
	}
	return transformer.TransformChunk(chunk, state)
}
