package stream

import (
	"encoding/json"
	"fmt"
	"path/filepath"

	"phobos.org.uk/agentbridge/internal/logging"
)

// ChunkLogger writes a compact, human-readable line for each streamed chunk.
type ChunkLogger struct {
	log *logging.SessionLogger
}

// NewChunkLogger creates a chunk logger bound to a session.
func NewChunkLogger(log *logging.SessionLogger) *ChunkLogger {
	return &ChunkLogger{log: log}
}

// Log logs a chunk with formatting chosen by its kind and tool name.
func (l *ChunkLogger) Log(c Chunk) {
	switch c.Kind {
	case ChunkText:
		l.log.Debug("assistant text", map[string]any{"length": len(c.Text)})
	case ChunkToolCall:
		l.logToolCall(c)
	case ChunkToolResult:
		fields := map[string]any{"output_bytes": len(c.Output)}
		if c.IsError {
			fields["error"] = true
		}
		l.log.Debug("backend tool result ignored", fields)
	}
}

// LogUsage logs the usage record that closed a request.
func (l *ChunkLogger) LogUsage(u *Usage) {
	if u == nil {
		l.log.Debug("response complete", map[string]any{"usage": "absent"})
		return
	}
	l.log.Debug("response complete", map[string]any{
		"input_tokens":  u.InputTokens,
		"output_tokens": u.OutputTokens,
	})
}

func (l *ChunkLogger) logToolCall(c Chunk) {
	var input map[string]any
	if len(c.Arguments) > 0 {
		if err := json.Unmarshal(c.Arguments, &input); err != nil {
			input = map[string]any{"_raw": string(c.Arguments)}
		}
	}

	switch c.ToolName {
	case "Bash", "bash", "run_command":
		l.log.Info("tool requested: bash", map[string]any{
			"cmd": truncate(getString(input, "command"), 64),
		})

	case "Read", "read_file":
		fields := map[string]any{"path": firstString(input, "file_path", "path")}
		if offset := getInt(input, "offset"); offset > 0 {
			if limit := getInt(input, "limit"); limit > 0 {
				fields["lines"] = formatRange(offset, offset+limit)
			}
		}
		l.log.Info("tool requested: read", fields)

	case "Write", "write_file":
		l.log.Info("tool requested: write", map[string]any{
			"path":  firstString(input, "file_path", "path"),
			"bytes": len(getString(input, "content")),
		})

	case "Edit", "edit_file":
		l.log.Info("tool requested: edit", map[string]any{
			"path": filepath.Base(firstString(input, "file_path", "path")),
			"old":  truncate(getString(input, "old_string"), 24),
			"new":  truncate(getString(input, "new_string"), 24),
		})

	case "WebFetch", "web_fetch":
		l.log.Info("tool requested: fetch", map[string]any{
			"url": truncate(getString(input, "url"), 64),
		})

	default:
		fields := map[string]any{"tool": c.ToolName}
		if input != nil {
			fields["input_keys"] = len(input)
		}
		l.log.Info("tool requested", fields)
	}
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}

func getString(m map[string]any, key string) string {
	if m == nil {
		return ""
	}
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}

func firstString(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if v := getString(m, k); v != "" {
			return v
		}
	}
	return ""
}

func getInt(m map[string]any, key string) int {
	if m == nil {
		return 0
	}
	switch v := m[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	}
	return 0
}

func formatRange(start, end int) string {
	if end <= start {
		return ""
	}
	return fmt.Sprintf("%d-%d", start, end)
}
