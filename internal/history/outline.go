package history

import (
	"encoding/json"
	"sort"
	"strings"

	"phobos.org.uk/agentbridge/internal/conversation"
)

// FromTurn builds an archive entry, including its outline, from a finished
// turn.
func FromTurn(res *conversation.TurnResult) *Entry {
	return &Entry{
		TurnID:          res.TurnID,
		SessionID:       res.SessionID,
		StopReason:      string(res.StopReason),
		Prompt:          res.Prompt,
		StartedAt:       res.StartedAt,
		CompletedAt:     res.StartedAt.Add(res.Duration),
		DurationSeconds: res.Duration.Seconds(),
		RoundTrips:      res.RoundTrips,
		Tokens:          res.Tokens,
		ToolCalls:       res.ToolCalls,
		Output:          res.Text,
		Error:           res.Error,
		Steps:           ExtractSteps(res.History),
	}
}

// ExtractSteps condenses a turn history into an outline: one step per
// assistant text and one per tool call, carrying its result. The user
// message is not part of the outline.
func ExtractSteps(entries []conversation.Entry) []Step {
	var steps []Step
	for _, e := range entries {
		switch e.Role {
		case conversation.RoleAssistant:
			text := strings.TrimSpace(e.Text)
			if text == "" {
				continue
			}
			steps = append(steps, Step{
				Type:          "text",
				OutputPreview: truncate(text, PreviewLength),
				Truncated:     len(text) > PreviewLength,
			})

		case conversation.RoleToolCall:
			input := formatInput(e.Call.Arguments)
			steps = append(steps, Step{
				Type:         "tool_call",
				Tool:         e.Call.Name,
				InputPreview: truncate(input, PreviewLength),
				Truncated:    len(input) > PreviewLength,
			})

		case conversation.RoleToolResult:
			// Results directly follow their call.
			if len(steps) == 0 || steps[len(steps)-1].Type != "tool_call" {
				continue
			}
			step := &steps[len(steps)-1]
			step.Status = string(e.Result.Status)
			step.OutputPreview = truncate(e.Result.Output, PreviewLength)
			if len(e.Result.Output) > PreviewLength {
				step.Truncated = true
			}
		}
	}
	return steps
}

// formatInput renders tool arguments as "key: value" lines in key order, or
// the raw JSON when the arguments are not an object.
func formatInput(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}

	var obj map[string]any
	if err := json.Unmarshal(raw, &obj); err != nil {
		return string(raw)
	}

	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+formatValue(obj[k]))
	}
	return strings.Join(parts, "\n")
}

func formatValue(v any) string {
	if s, ok := v.(string); ok {
		// Multi-line strings keep their first three lines
		lines := strings.Split(s, "\n")
		if len(lines) > 3 {
			return strings.Join(lines[:3], "\n") + "\n..."
		}
		return s
	}
	data, _ := json.Marshal(v)
	return string(data)
}
