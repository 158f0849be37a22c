package stream

import (
	"encoding/json"
	"strings"
)

// Message types on the wire.
const (
	TypeSystem    = "system"
	TypeAssistant = "assistant"
	TypeUser      = "user"
	TypeResult    = "result"
)

// Event is the raw JSON shape of one line in stream-json format, in both
// directions.
type Event struct {
	Type      string       `json:"type"`              // system, assistant, user, result
	Subtype   string       `json:"subtype,omitempty"` // init, success, error_*
	SessionID string       `json:"session_id,omitempty"`
	Message   *WireMessage `json:"message,omitempty"`
	Result    string       `json:"result,omitempty"`
	IsError   bool         `json:"is_error,omitempty"`
	Usage     *Usage       `json:"usage,omitempty"`
}

// WireMessage is the message body carried by assistant and user events.
type WireMessage struct {
	Role    string         `json:"role,omitempty"`
	Content []ContentBlock `json:"content"`
}

// ContentBlock represents a content block in a message
type ContentBlock struct {
	Type      string          `json:"type"`         // text, tool_use, tool_result
	ID        string          `json:"id,omitempty"` // backend tool_use id, unused by the bridge
	Name      string          `json:"name,omitempty"`
	Text      string          `json:"text,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   json.RawMessage `json:"content,omitempty"` // tool_result content
	IsError   bool            `json:"is_error,omitempty"`
}

// UserMessage builds the outbound event carrying a prompt.
func UserMessage(text string) Event {
	return Event{
		Type: TypeUser,
		Message: &WireMessage{
			Role:    "user",
			Content: []ContentBlock{{Type: "text", Text: text}},
		},
	}
}

// Frame is the classified form of one inbound line.
type Frame struct {
	Type    string
	Chunks  []Chunk
	Final   bool // true for the result record that closes a request
	Result  string
	Subtype string
	IsError bool
	Usage   *Usage
}

// Decode parses a single inbound line. Empty lines yield an empty frame.
// Lines of unknown type are returned with no chunks so callers can skip them.
func Decode(line []byte) (Frame, error) {
	if len(strings.TrimSpace(string(line))) == 0 {
		return Frame{}, nil
	}

	var raw Event
	if err := json.Unmarshal(line, &raw); err != nil {
		return Frame{}, err
	}

	f := Frame{Type: raw.Type}
	switch raw.Type {
	case TypeAssistant:
		if raw.Message == nil {
			break
		}
		for _, block := range raw.Message.Content {
			switch block.Type {
			case "text":
				if block.Text != "" {
					f.Chunks = append(f.Chunks, Chunk{Kind: ChunkText, Text: block.Text})
				}
			case "tool_use":
				args := block.Input
				if len(args) == 0 {
					args = json.RawMessage(`{}`)
				}
				f.Chunks = append(f.Chunks, Chunk{
					Kind:      ChunkToolCall,
					ToolName:  block.Name,
					Arguments: args,
				})
			}
		}

	case TypeUser:
		if raw.Message == nil {
			break
		}
		for _, block := range raw.Message.Content {
			if block.Type == "tool_result" {
				f.Chunks = append(f.Chunks, Chunk{
					Kind:    ChunkToolResult,
					Output:  extractContent(block.Content),
					IsError: block.IsError,
				})
			}
		}

	case TypeResult:
		f.Final = true
		f.Result = raw.Result
		f.Subtype = raw.Subtype
		f.IsError = raw.IsError || strings.HasPrefix(raw.Subtype, "error")
		f.Usage = raw.Usage
	}

	return f, nil
}

// extractContent normalizes content which can be string or array of blocks
func extractContent(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}

	var str string
	if json.Unmarshal(raw, &str) == nil {
		return str
	}

	var blocks []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}
	if json.Unmarshal(raw, &blocks) == nil {
		var sb strings.Builder
		for _, b := range blocks {
			if b.Type == "text" {
				sb.WriteString(b.Text)
			}
		}
		return sb.String()
	}

	return ""
}
