//go:build unix

package model

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"phobos.org.uk/agentbridge/internal/logging"
	"phobos.org.uk/agentbridge/internal/process"
	"phobos.org.uk/agentbridge/internal/registry"
	"phobos.org.uk/agentbridge/internal/stream"
	"phobos.org.uk/agentbridge/internal/testutil"
)

func newClient(t *testing.T, bin string) *Client {
	t.Helper()
	reg := registry.New(logging.Nop())
	_, err := reg.Spawn(process.LaunchConfig{SessionID: "s1", Bin: bin, WorkDir: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = reg.Shutdown(ctx)
	})
	return New(reg, logging.Nop())
}

func TestStream_ClassifiesChunks(t *testing.T) {
	t.Parallel()

	bin := testutil.ScriptedBackend(t, [][]string{{
		`{"type":"system","subtype":"init"}`,
		`{"type":"user","message":{"content":[{"type":"text","text":"replayed prompt"}]}}`,
		testutil.TextLine("Looking."),
		testutil.ToolUseLine("list_files", `{"path":"/tmp"}`),
		`{"type":"user","message":{"content":[{"type":"tool_result","content":"x"}]}}`,
		testutil.ResultLine("Looking.", 120, 30),
	}})
	c := newClient(t, bin)

	var live []stream.ChunkKind
	reply, err := c.Stream(context.Background(), "s1", "List files", func(ch stream.Chunk) {
		live = append(live, ch.Kind)
	})
	require.NoError(t, err)

	want := []stream.ChunkKind{stream.ChunkText, stream.ChunkToolCall, stream.ChunkToolResult}
	assert.Equal(t, want, live)
	require.Len(t, reply.Chunks, 3)
	assert.Equal(t, "list_files", reply.Chunks[1].ToolName)
	assert.JSONEq(t, `{"path":"/tmp"}`, string(reply.Chunks[1].Arguments))
	require.NotNil(t, reply.Usage)
	assert.Equal(t, 150, reply.Usage.Total())
	assert.Equal(t, "Looking.", reply.Text())
}

func TestStream_SequentialRequests(t *testing.T) {
	t.Parallel()

	bin := testutil.ScriptedBackend(t, [][]string{
		{testutil.TextLine("one"), testutil.ResultLine("one", 1, 1)},
		{testutil.TextLine("two"), testutil.ResultLine("two", 1, 1)},
	})
	c := newClient(t, bin)

	for _, want := range []string{"one", "two"} {
		reply, err := c.Stream(context.Background(), "s1", "next", nil)
		require.NoError(t, err)
		assert.Equal(t, want, reply.Text())
	}
}

func TestStream_UsageAbsent(t *testing.T) {
	t.Parallel()

	bin := testutil.ScriptedBackend(t, [][]string{{
		testutil.TextLine("hi"),
		`{"type":"result","subtype":"success","result":"hi"}`,
	}})
	c := newClient(t, bin)

	reply, err := c.Stream(context.Background(), "s1", "hello", nil)
	require.NoError(t, err)
	assert.Nil(t, reply.Usage)
}

func TestStream_ErrorResult(t *testing.T) {
	t.Parallel()

	bin := testutil.ScriptedBackend(t, [][]string{{
		`{"type":"result","subtype":"error_during_execution","result":"boom"}`,
	}})
	c := newClient(t, bin)

	reply, err := c.Stream(context.Background(), "s1", "hello", nil)
	require.ErrorIs(t, err, ErrResponse)
	assert.Contains(t, err.Error(), "boom")
	require.NotNil(t, reply)
	assert.True(t, reply.IsError)
}

func TestStream_EndedBeforeResult(t *testing.T) {
	t.Parallel()

	bin := testutil.WriteScript(t, "truncated", "read -r line\necho '"+testutil.TextLine("partial")+"'\n")
	c := newClient(t, bin)

	_, err := c.Stream(context.Background(), "s1", "hello", nil)
	require.ErrorIs(t, err, ErrStreamEnded)
}

func TestStream_SkipsUndecodableLines(t *testing.T) {
	t.Parallel()

	bin := testutil.ScriptedBackend(t, [][]string{{
		"this is not json",
		testutil.TextLine("ok"),
		testutil.ResultLine("ok", 1, 1),
	}})
	c := newClient(t, bin)

	reply, err := c.Stream(context.Background(), "s1", "hello", nil)
	require.NoError(t, err)
	assert.Equal(t, "ok", reply.Text())
}

func TestStream_UnknownSession(t *testing.T) {
	t.Parallel()

	c := New(registry.New(logging.Nop()), logging.Nop())
	_, err := c.Stream(context.Background(), "nope", "hello", nil)
	require.ErrorIs(t, err, registry.ErrNotFound)
}

func TestStream_CancelledContext(t *testing.T) {
	t.Parallel()

	c := newClient(t, testutil.EchoBackend(t, "hi"))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.Stream(ctx, "s1", "hello", nil)
	require.ErrorIs(t, err, context.Canceled)
}

func TestComplete(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		lines []string
		want  string
	}{
		{
			name:  "result text wins",
			lines: []string{testutil.TextLine("draft"), testutil.ResultLine("final", 3, 4)},
			want:  "final",
		},
		{
			name:  "falls back to assistant text",
			lines: []string{testutil.TextLine("a"), testutil.TextLine("b"), testutil.ResultLine("", 3, 4)},
			want:  "ab",
		},
		{
			name:  "tool calls are dropped",
			lines: []string{testutil.ToolUseLine("bash", `{"command":"ls"}`), testutil.ResultLine("", 3, 4)},
			want:  "",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			c := newClient(t, testutil.ScriptedBackend(t, [][]string{tt.lines}))

			text, usage, err := c.Complete(context.Background(), "s1", "hello")
			require.NoError(t, err)
			assert.Equal(t, tt.want, text)
			require.NotNil(t, usage)
			assert.Equal(t, 7, usage.Total())
		})
	}
}
