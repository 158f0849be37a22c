package conversation

import (
	"fmt"
	"strings"

	"phobos.org.uk/agentbridge/internal/tools"
)

// Role tags a history entry.
type Role string

const (
	RoleUser       Role = "user"
	RoleAssistant  Role = "assistant"
	RoleToolCall   Role = "tool_call"
	RoleToolResult Role = "tool_result"
)

// Entry is one message in a turn's history.
type Entry struct {
	Role   Role          `json:"role"`
	Text   string        `json:"text,omitempty"`
	Call   *tools.Call   `json:"call,omitempty"`
	Result *tools.Result `json:"result,omitempty"`
}

// History is the append-only message sequence of one turn. Tool calls are
// only added together with their result, so a ToolCall entry is always
// immediately followed by its own ToolResult.
type History struct {
	entries []Entry
}

// AddUser appends a user message.
func (h *History) AddUser(text string) {
	h.entries = append(h.entries, Entry{Role: RoleUser, Text: text})
}

// AddAssistant appends assistant text.
func (h *History) AddAssistant(text string) {
	h.entries = append(h.entries, Entry{Role: RoleAssistant, Text: text})
}

// AddToolExchange appends a tool call and its result as an adjacent pair.
func (h *History) AddToolExchange(call tools.Call, result tools.Result) {
	h.entries = append(h.entries,
		Entry{Role: RoleToolCall, Call: &call},
		Entry{Role: RoleToolResult, Result: &result},
	)
}

// Len returns the number of entries.
func (h *History) Len() int {
	return len(h.entries)
}

// Entries returns a copy of the entries.
func (h *History) Entries() []Entry {
	out := make([]Entry, len(h.entries))
	copy(out, h.entries)
	return out
}

// Render flattens the history into the single prompt sent on every
// round-trip; the backend keeps no state between requests. A history holding
// only the user message renders as the bare prompt.
func (h *History) Render() string {
	if len(h.entries) == 1 && h.entries[0].Role == RoleUser {
		return h.entries[0].Text
	}

	var sb strings.Builder
	for i, e := range h.entries {
		if i > 0 {
			sb.WriteString("\n\n")
		}
		switch e.Role {
		case RoleUser:
			fmt.Fprintf(&sb, "User: %s", e.Text)
		case RoleAssistant:
			fmt.Fprintf(&sb, "Assistant: %s", e.Text)
		case RoleToolCall:
			args := string(e.Call.Arguments)
			if args == "" {
				args = "{}"
			}
			fmt.Fprintf(&sb, "Tool call %s %s: %s", e.Call.ID, e.Call.Name, args)
		case RoleToolResult:
			fmt.Fprintf(&sb, "Tool result %s (%s): %s", e.Result.ID, e.Result.Status, e.Result.Output)
		}
	}
	sb.WriteString("\n\nContinue the conversation as the assistant.")
	return sb.String()
}
