package process

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestArgs_Baseline(t *testing.T) {
	t.Parallel()

	args := LaunchConfig{SessionID: "s", Bin: "claude"}.Args()
	for _, flag := range []string{
		"--input-format", "--output-format", "--dangerously-skip-permissions",
		"--no-session-persistence", "--replay-user-messages",
	} {
		assert.Contains(t, args, flag)
	}
	for _, flag := range []string{"--permission-mode", "--system-prompt", "--mcp-config", "--model"} {
		assert.NotContains(t, args, flag)
	}
}

func TestArgs_Optional(t *testing.T) {
	t.Parallel()

	cfg := LaunchConfig{
		SessionID:    "s",
		Bin:          "claude",
		Mode:         "acceptEdits",
		SystemPrompt: "Answer in French.",
		Ephemeral:    true,
		ToolProviders: []ToolProvider{
			{Name: "search", Transport: TransportSSE, URL: "http://localhost:8002/sse"},
			{Name: "files", Transport: TransportHTTP, URL: "http://localhost:8001/mcp"},
		},
	}
	args := cfg.Args()

	assert.Equal(t, "acceptEdits", valueAfter(t, args, "--permission-mode"))
	assert.Equal(t, "Answer in French.", valueAfter(t, args, "--system-prompt"))
	assert.Equal(t, EphemeralModel, valueAfter(t, args, "--model"))
	assert.JSONEq(t, `{"mcpServers":{
		"files":{"type":"http","url":"http://localhost:8001/mcp"},
		"search":{"type":"sse","url":"http://localhost:8002/sse"}}}`,
		valueAfter(t, args, "--mcp-config"))
}

func valueAfter(t *testing.T, args []string, flag string) string {
	t.Helper()
	for i, a := range args {
		if a == flag {
			require.Less(t, i+1, len(args), "flag %s has no value", flag)
			return args[i+1]
		}
	}
	t.Fatalf("flag %s not found in %v", flag, args)
	return ""
}

func TestEnviron(t *testing.T) {
	t.Parallel()

	env := LaunchConfig{SessionID: "abc", Env: map[string]string{"B": "2", "A": "1"}}.Environ()
	joined := strings.Join(env, "\n")
	assert.Contains(t, joined, SessionEnvVar+"=abc")

	// Extras are appended in sorted order after the parent environment
	require.GreaterOrEqual(t, len(env), 3)
	assert.Equal(t, []string{"A=1", "B=2"}, env[len(env)-2:])
}

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		cfg     LaunchConfig
		wantErr string
	}{
		{"ok", LaunchConfig{SessionID: "s-1", Bin: "claude"}, ""},
		{"missing bin", LaunchConfig{SessionID: "s-1"}, "executable is required"},
		{"bad session", LaunchConfig{SessionID: "a/b", Bin: "claude"}, "invalid session id"},
		{"bad transport", LaunchConfig{SessionID: "s", Bin: "claude", ToolProviders: []ToolProvider{{Name: "x", Transport: "grpc", URL: "http://x"}}}, "unknown transport"},
		{"provider without url", LaunchConfig{SessionID: "s", Bin: "claude", ToolProviders: []ToolProvider{{Name: "x", Transport: TransportHTTP}}}, "needs a name and url"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.cfg.Validate()
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			require.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidSessionID(t *testing.T) {
	t.Parallel()

	valid := []string{"abc", "A1", "3f2b9c1e-7d4a-4c55-9a0b-1f2e3d4c5b6a", "sess.v2_x"}
	for _, id := range valid {
		assert.True(t, ValidSessionID(id), id)
	}

	invalid := []string{"", "..", "a/b", `a\b`, "/abs", "-flag", ".hidden", strings.Repeat("a", 129), "has space"}
	for _, id := range invalid {
		assert.False(t, ValidSessionID(id), id)
	}
}
