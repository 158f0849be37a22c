package stream

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"

	"phobos.org.uk/agentbridge/internal/logging"
)

func TestDecode_SystemInit(t *testing.T) {
	t.Parallel()

	f, err := Decode([]byte(`{"type":"system","subtype":"init","session_id":"test-123","model":"sonnet"}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f.Type != TypeSystem {
		t.Errorf("expected system frame, got %q", f.Type)
	}
	if len(f.Chunks) != 0 || f.Final {
		t.Errorf("init frame should carry no chunks and not be final: %+v", f)
	}
}

func TestDecode_ToolUse(t *testing.T) {
	t.Parallel()

	line := []byte(`{"type":"assistant","message":{"content":[{"type":"tool_use","id":"toolu_01X","name":"list_files","input":{"path":"/tmp"}}]}}`)
	f, err := Decode(line)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(f.Chunks) != 1 {
		t.Fatalf("expected 1 chunk, got %d", len(f.Chunks))
	}

	c := f.Chunks[0]
	if c.Kind != ChunkToolCall {
		t.Errorf("expected ChunkToolCall, got %v", c.Kind)
	}
	if c.ToolName != "list_files" {
		t.Errorf("expected list_files, got %s", c.ToolName)
	}
	if string(c.Arguments) != `{"path":"/tmp"}` {
		t.Errorf("unexpected arguments %s", c.Arguments)
	}
}

func TestDecode_ToolUseWithoutInput(t *testing.T) {
	t.Parallel()

	f, err := Decode([]byte(`{"type":"assistant","message":{"content":[{"type":"tool_use","name":"now"}]}}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(f.Chunks[0].Arguments) != `{}` {
		t.Errorf("expected empty object arguments, got %s", f.Chunks[0].Arguments)
	}
}

func TestDecode_MixedContentKeepsOrder(t *testing.T) {
	t.Parallel()

	line := []byte(`{"type":"assistant","message":{"content":[` +
		`{"type":"text","text":"Let me look."},` +
		`{"type":"tool_use","name":"read_file","input":{"path":"a.go"}},` +
		`{"type":"text","text":""},` +
		`{"type":"tool_use","name":"read_file","input":{"path":"b.go"}}]}}`)
	f, err := Decode(line)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := []ChunkKind{ChunkText, ChunkToolCall, ChunkToolCall}
	if len(f.Chunks) != len(want) {
		t.Fatalf("expected %d chunks, got %d", len(want), len(f.Chunks))
	}
	for i, k := range want {
		if f.Chunks[i].Kind != k {
			t.Errorf("chunk %d: expected %v, got %v", i, k, f.Chunks[i].Kind)
		}
	}
	if string(f.Chunks[2].Arguments) != `{"path":"b.go"}` {
		t.Errorf("unexpected arguments on second call: %s", f.Chunks[2].Arguments)
	}
}

func TestDecode_ToolResult(t *testing.T) {
	t.Parallel()

	line := []byte(`{"type":"user","message":{"content":[{"type":"tool_result","tool_use_id":"toolu_01X","content":[{"type":"text","text":"part1"},{"type":"text","text":"part2"}],"is_error":true}]}}`)
	f, err := Decode(line)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(f.Chunks) != 1 {
		t.Fatalf("expected 1 chunk, got %d", len(f.Chunks))
	}
	c := f.Chunks[0]
	if c.Kind != ChunkToolResult {
		t.Errorf("expected ChunkToolResult, got %v", c.Kind)
	}
	if c.Output != "part1part2" {
		t.Errorf("expected concatenated content, got %q", c.Output)
	}
	if !c.IsError {
		t.Error("expected IsError to be true")
	}
}

func TestDecode_Result(t *testing.T) {
	t.Parallel()

	f, err := Decode([]byte(`{"type":"result","subtype":"success","result":"Done.","usage":{"input_tokens":120,"output_tokens":30}}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !f.Final {
		t.Fatal("result frame should be final")
	}
	if f.Result != "Done." {
		t.Errorf("expected result text, got %q", f.Result)
	}
	if f.Usage == nil || f.Usage.Total() != 150 {
		t.Errorf("expected usage total 150, got %+v", f.Usage)
	}
	if f.IsError {
		t.Error("success result should not be an error")
	}
}

func TestDecode_ErrorResultWithoutUsage(t *testing.T) {
	t.Parallel()

	f, err := Decode([]byte(`{"type":"result","subtype":"error_during_execution"}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !f.IsError {
		t.Error("error subtype should mark the frame as error")
	}
	if f.Usage != nil {
		t.Errorf("expected nil usage, got %+v", f.Usage)
	}
}

func TestDecode_EmptyAndInvalid(t *testing.T) {
	t.Parallel()

	f, err := Decode([]byte("   "))
	if err != nil {
		t.Fatalf("empty line should not error: %v", err)
	}
	if f.Type != "" || len(f.Chunks) != 0 {
		t.Errorf("expected empty frame, got %+v", f)
	}

	if _, err := Decode([]byte("not json")); err == nil {
		t.Error("expected error for invalid JSON")
	}
}

func TestUserMessage_SingleLine(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	if err := WriteLine(&buf, UserMessage("line one\nline two")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	out := buf.String()
	if strings.Count(out, "\n") != 1 || !strings.HasSuffix(out, "\n") {
		t.Fatalf("expected exactly one terminated line, got %q", out)
	}
	if !strings.Contains(out, `"type":"user"`) || !strings.Contains(out, `line one\nline two`) {
		t.Errorf("unexpected encoding %s", out)
	}
}

func TestWriteRawLine_RejectsEmbeddedNewline(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	if err := WriteRawLine(&buf, []byte("a\nb")); err == nil {
		t.Fatal("expected error")
	}
	if buf.Len() != 0 {
		t.Errorf("nothing should be written, got %q", buf.String())
	}
}

func TestLineReader(t *testing.T) {
	t.Parallel()

	lr := NewLineReader(strings.NewReader("first\r\nsecond\n\nlast"))

	var got []string
	for {
		line, ok, err := lr.ReadLine()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !ok {
			break
		}
		got = append(got, string(line))
	}

	want := []string{"first", "second", "", "last"}
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Errorf("got %q, want %q", got, want)
	}

	// End of stream stays end of stream.
	if _, ok, err := lr.ReadLine(); ok || err != nil {
		t.Errorf("expected clean end of stream, got ok=%v err=%v", ok, err)
	}
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, io.ErrClosedPipe }

func TestLineReader_IOErrorIsNotEOF(t *testing.T) {
	t.Parallel()

	lr := NewLineReader(failingReader{})
	_, ok, err := lr.ReadLine()
	if ok {
		t.Fatal("expected no line")
	}
	if !errors.Is(err, io.ErrClosedPipe) {
		t.Errorf("expected wrapped io error, got %v", err)
	}
}

func TestLineReader_LongLine(t *testing.T) {
	t.Parallel()

	long := strings.Repeat("x", 200*1024)
	lr := NewLineReader(strings.NewReader(long + "\n"))
	line, ok, err := lr.ReadLine()
	if err != nil || !ok {
		t.Fatalf("unexpected result ok=%v err=%v", ok, err)
	}
	if len(line) != len(long) {
		t.Errorf("expected %d bytes, got %d", len(long), len(line))
	}
}

func TestReplyText(t *testing.T) {
	t.Parallel()

	r := Reply{Chunks: []Chunk{
		{Kind: ChunkText, Text: "Hello, "},
		{Kind: ChunkToolCall, ToolName: "x"},
		{Kind: ChunkText, Text: "world"},
	}}
	if r.Text() != "Hello, world" {
		t.Errorf("unexpected text %q", r.Text())
	}
}

func newTestLogger(buf *bytes.Buffer) *ChunkLogger {
	log := logging.New(logging.Config{
		Output:     buf,
		Level:      logging.LevelDebug,
		Component:  "test",
		MaxEntries: 100,
	})
	return NewChunkLogger(log.WithSession("test-session"))
}

func TestChunkLogger_Bash(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger := newTestLogger(&buf)

	logger.Log(Chunk{
		Kind:      ChunkToolCall,
		ToolName:  "Bash",
		Arguments: []byte(`{"command":"go test ./... -v -run TestSomethingVeryLongNameThatShouldBeTruncatedBecauseItIsTooLong"}`),
	})

	output := buf.String()
	if !strings.Contains(output, "tool requested: bash") {
		t.Errorf("expected bash message, got %s", output)
	}
	if !strings.Contains(output, "...") {
		t.Errorf("expected truncated command, got %s", output)
	}
	if !strings.Contains(output, `"session_id":"test-session"`) {
		t.Errorf("expected session id, got %s", output)
	}
}

func TestChunkLogger_Edit(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger := newTestLogger(&buf)

	logger.Log(Chunk{
		Kind:      ChunkToolCall,
		ToolName:  "Edit",
		Arguments: []byte(`{"file_path":"/path/to/file.go","old_string":"func oldName()","new_string":"func newName()"}`),
	})

	output := buf.String()
	if !strings.Contains(output, "tool requested: edit") {
		t.Errorf("expected edit message, got %s", output)
	}
	if !strings.Contains(output, `"path":"file.go"`) {
		t.Errorf("expected basename in output, got %s", output)
	}
}

func TestChunkLogger_UnknownToolAndRawInput(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger := newTestLogger(&buf)

	logger.Log(Chunk{Kind: ChunkToolCall, ToolName: "list_files", Arguments: []byte(`not-json`)})

	output := buf.String()
	if !strings.Contains(output, `"tool":"list_files"`) {
		t.Errorf("expected tool name, got %s", output)
	}
	if !strings.Contains(output, `"input_keys":1`) {
		t.Errorf("expected raw input captured as one key, got %s", output)
	}
}

func TestChunkLogger_Usage(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger := newTestLogger(&buf)

	logger.LogUsage(&Usage{InputTokens: 12500, OutputTokens: 5})
	logger.LogUsage(nil)

	output := buf.String()
	if !strings.Contains(output, "12500") {
		t.Errorf("expected input tokens in output, got %s", output)
	}
	if !strings.Contains(output, `"usage":"absent"`) {
		t.Errorf("expected absent usage marker, got %s", output)
	}
}

func TestTruncate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		input    string
		max      int
		expected string
	}{
		{"short", 10, "short"},
		{"exactly ten", 11, "exactly ten"},
		{"this is a long string", 10, "this is a ..."},
		{"", 5, ""},
	}

	for _, tc := range tests {
		result := truncate(tc.input, tc.max)
		if result != tc.expected {
			t.Errorf("truncate(%q, %d) = %q, want %q", tc.input, tc.max, result, tc.expected)
		}
	}
}
