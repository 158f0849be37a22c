// Package stream implements the line-framed protocol spoken with backend agent
// processes: framing, wire message types and classification of inbound
// messages into chunks.
package stream

import "encoding/json"

// ChunkKind classifies a piece of backend output.
type ChunkKind int

const (
	// ChunkText is assistant text.
	ChunkText ChunkKind = iota
	// ChunkToolCall is a request from the model to invoke a tool.
	ChunkToolCall
	// ChunkToolResult is a tool result echoed by the backend. The bridge
	// executes tools itself, so these are unexpected in this direction.
	ChunkToolResult
)

func (k ChunkKind) String() string {
	switch k {
	case ChunkText:
		return "text"
	case ChunkToolCall:
		return "tool_call"
	case ChunkToolResult:
		return "tool_result"
	default:
		return "unknown"
	}
}

// Chunk is one classified unit of a streamed model response.
type Chunk struct {
	Kind ChunkKind

	// Text chunks
	Text string

	// ToolCall chunks. Arguments is the raw JSON input of the call.
	ToolName  string
	Arguments json.RawMessage

	// ToolResult chunks
	Output  string
	IsError bool
}

// Usage is a token usage record reported by the backend.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Total returns input plus output tokens.
func (u Usage) Total() int {
	return u.InputTokens + u.OutputTokens
}

// Reply is the complete response to one request: every chunk in arrival
// order plus the terminal result record.
type Reply struct {
	Chunks  []Chunk
	Result  string // Final result text, if the backend reported one
	Subtype string // Result subtype (success, error_max_turns, ...)
	IsError bool
	Usage   *Usage // nil when the backend did not report usage
}

// Text concatenates all text chunks.
func (r *Reply) Text() string {
	var n int
	for _, c := range r.Chunks {
		if c.Kind == ChunkText {
			n += len(c.Text)
		}
	}
	buf := make([]byte, 0, n)
	for _, c := range r.Chunks {
		if c.Kind == ChunkText {
			buf = append(buf, c.Text...)
		}
	}
	return string(buf)
}
