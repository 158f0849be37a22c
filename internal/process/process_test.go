//go:build unix

package process

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"phobos.org.uk/agentbridge/internal/logging"
	"phobos.org.uk/agentbridge/internal/stream"
	"phobos.org.uk/agentbridge/internal/testutil"
)

func launch(t *testing.T, bin string) *AgentProcess {
	t.Helper()
	p, err := Start(LaunchConfig{SessionID: "sess-1", Bin: bin, WorkDir: t.TempDir()}, logging.Nop())
	require.NoError(t, err)
	t.Cleanup(p.Close)
	return p
}

func TestStart_ExecutableNotFound(t *testing.T) {
	t.Parallel()

	_, err := Start(LaunchConfig{SessionID: "s", Bin: "definitely-not-a-real-agent-binary"}, logging.Nop())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrExecutableNotFound))
	assert.False(t, errors.Is(err, ErrSpawn))
}

func TestStart_SpawnFailure(t *testing.T) {
	t.Parallel()

	bin := testutil.EchoBackend(t, "hi")
	_, err := Start(LaunchConfig{
		SessionID: "s",
		Bin:       bin,
		WorkDir:   filepath.Join(t.TempDir(), "does", "not", "exist"),
	}, logging.Nop())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrSpawn))
	assert.False(t, errors.Is(err, ErrExecutableNotFound))
}

func TestStart_InvalidSessionID(t *testing.T) {
	t.Parallel()

	_, err := Start(LaunchConfig{SessionID: "../etc", Bin: "bash"}, logging.Nop())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrSpawn))
}

func TestWriteReadRoundTrip(t *testing.T) {
	t.Parallel()

	p := launch(t, testutil.EchoBackend(t, "pong"))
	require.Equal(t, StateRunning, p.State())
	require.True(t, p.Running())
	require.Positive(t, p.PID())

	require.NoError(t, p.WriteLine(stream.UserMessage("ping")))

	line, ok, err := p.ReadLine()
	require.NoError(t, err)
	require.True(t, ok)
	f, err := stream.Decode(line)
	require.NoError(t, err)
	require.Len(t, f.Chunks, 1)
	assert.Equal(t, "pong", f.Chunks[0].Text)

	line, ok, err = p.ReadLine()
	require.NoError(t, err)
	require.True(t, ok)
	f, err = stream.Decode(line)
	require.NoError(t, err)
	assert.True(t, f.Final)
}

func TestReadLine_EndOfStreamIsNotAnError(t *testing.T) {
	t.Parallel()

	bin := testutil.WriteScript(t, "one-line", "echo '{\"type\":\"system\"}'\n")
	p := launch(t, bin)

	_, ok, err := p.ReadLine()
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = p.ReadLine()
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestShutdown_Graceful(t *testing.T) {
	t.Parallel()

	p := launch(t, testutil.EchoBackend(t, "x"))

	require.NoError(t, p.Shutdown())
	assert.Equal(t, StateTerminated, p.State())
	assert.True(t, p.ShutdownAttempted())
	assert.False(t, p.Running())
	assert.Equal(t, int32(0), p.kills.Load(), "EOF should be enough")

	assert.ErrorIs(t, p.WriteLine(stream.UserMessage("late")), ErrNotRunning)
}

func TestShutdown_ForcesAfterGrace(t *testing.T) {
	t.Parallel()

	p := launch(t, testutil.StubbornBackend(t))
	p.grace = 200 * time.Millisecond

	start := time.Now()
	require.NoError(t, p.Shutdown())
	assert.GreaterOrEqual(t, time.Since(start), 200*time.Millisecond)
	assert.Equal(t, StateTerminated, p.State())
	assert.Equal(t, int32(1), p.kills.Load())

	select {
	case <-p.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("process still alive after forced shutdown")
	}
}

func TestShutdown_KillFailureStillTerminates(t *testing.T) {
	t.Parallel()

	p := launch(t, testutil.StubbornBackend(t))
	p.grace = 50 * time.Millisecond
	realKill := p.kill
	p.kill = func() error { return errors.New("operation not permitted") }

	err := p.Shutdown()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "operation not permitted")
	assert.Equal(t, StateTerminated, p.State())

	require.NoError(t, realKill())
}

func TestShutdown_Idempotent(t *testing.T) {
	t.Parallel()

	p := launch(t, testutil.EchoBackend(t, "x"))
	require.NoError(t, p.Shutdown())
	require.NoError(t, p.Shutdown())
	assert.Equal(t, StateTerminated, p.State())
}

func TestClose_AfterShutdownNeverKills(t *testing.T) {
	t.Parallel()

	p := launch(t, testutil.StubbornBackend(t))
	p.grace = 50 * time.Millisecond

	require.NoError(t, p.Shutdown())
	require.Equal(t, int32(1), p.kills.Load())

	p.Close()
	p.Close()
	assert.Equal(t, int32(1), p.kills.Load(), "safety net must not kill a second time")
}

func TestClose_WithoutShutdownKillsOnce(t *testing.T) {
	t.Parallel()

	p := launch(t, testutil.StubbornBackend(t))

	start := time.Now()
	p.Close()
	assert.Less(t, time.Since(start), time.Second, "safety net must not wait")
	assert.Equal(t, int32(1), p.kills.Load())
	assert.True(t, p.ShutdownAttempted())

	p.Close()
	require.NoError(t, p.Shutdown())
	assert.Equal(t, int32(1), p.kills.Load())

	select {
	case <-p.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("process still alive after safety-net kill")
	}
}

func TestLaunchTranslatesConfig(t *testing.T) {
	t.Parallel()

	out := t.TempDir()
	work := t.TempDir()
	cfg := LaunchConfig{
		SessionID:    "sess-args",
		Bin:          testutil.RecordingBackend(t, out),
		WorkDir:      work,
		Mode:         "plan",
		SystemPrompt: "You are terse.",
		Ephemeral:    true,
		ToolProviders: []ToolProvider{
			{Name: "files", Transport: TransportHTTP, URL: "http://127.0.0.1:7001/mcp"},
		},
		Env: map[string]string{"EXTRA_FLAG": "1"},
	}

	p, err := Start(cfg, logging.Nop())
	require.NoError(t, err)
	require.NoError(t, p.Shutdown())

	args, err := os.ReadFile(filepath.Join(out, "args"))
	require.NoError(t, err)
	got := strings.Split(strings.TrimSpace(string(args)), "\n")
	assert.Equal(t, cfg.Args(), got)

	env, err := os.ReadFile(filepath.Join(out, "env"))
	require.NoError(t, err)
	assert.Contains(t, string(env), SessionEnvVar+"=sess-args")
	assert.Contains(t, string(env), "EXTRA_FLAG=1")

	pwd, err := os.ReadFile(filepath.Join(out, "pwd"))
	require.NoError(t, err)
	resolved, err := filepath.EvalSymlinks(work)
	require.NoError(t, err)
	assert.Contains(t, []string{work, resolved}, strings.TrimSpace(string(pwd)))
}
