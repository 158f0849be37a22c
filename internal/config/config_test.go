package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	// Cannot use t.Parallel() with t.Setenv()
	t.Setenv("AGENTBRIDGE_ROOT", "/srv/bridge")
	t.Setenv("AGENTBRIDGE_BIN", "")
	t.Setenv("AGENTBRIDGE_LOG_LEVEL", "")

	tests := []struct {
		name    string
		yaml    string
		want    *Config
		wantErr string
	}{
		{
			name: "minimal config",
			yaml: "port: 9000",
			want: &Config{
				Port:       9000,
				Bind:       DefaultBind,
				LogLevel:   DefaultLogLevel,
				SessionDir: "/srv/bridge/sessions",
				HistoryDir: "/srv/bridge/history",
				Backend:    BackendConfig{Bin: DefaultBin, Streaming: true},
				Limits: LimitsConfig{
					MaxTurnRequests:  DefaultMaxTurnRequests,
					MaxTokensPerTurn: DefaultMaxTokensPerTurn,
				},
				Tools: ToolsConfig{Timeout: DefaultToolTimeout},
			},
		},
		{
			name: "full config",
			yaml: `
port: 9001
log_level: debug
session_dir: /data/sessions
history_dir: /data/history
backend:
  bin: /usr/local/bin/agent
  mode: plan
  system_prompt: be brief
  ephemeral: true
  streaming: false
  tool_providers:
    - name: files
      transport: http
      url: http://127.0.0.1:7001/mcp
    - name: events
      transport: sse
      url: http://127.0.0.1:7002/sse
limits:
  max_turn_requests: 5
  max_tokens_per_turn: 1000
tools:
  url: http://127.0.0.1:7000
  timeout: 30s
`,
			want: &Config{
				Port:       9001,
				Bind:       DefaultBind,
				LogLevel:   "debug",
				SessionDir: "/data/sessions",
				HistoryDir: "/data/history",
				Backend: BackendConfig{
					Bin:          "/usr/local/bin/agent",
					Mode:         "plan",
					SystemPrompt: "be brief",
					Ephemeral:    true,
					Streaming:    false,
					ToolProviders: []ToolProvider{
						{Name: "files", Transport: TransportHTTP, URL: "http://127.0.0.1:7001/mcp"},
						{Name: "events", Transport: TransportSSE, URL: "http://127.0.0.1:7002/sse"},
					},
				},
				Limits: LimitsConfig{MaxTurnRequests: 5, MaxTokensPerTurn: 1000},
				Tools:  ToolsConfig{URL: "http://127.0.0.1:7000", Timeout: 30 * time.Second},
			},
		},
		{
			name:    "invalid port zero",
			yaml:    "port: 0",
			wantErr: "port must be between 1 and 65535",
		},
		{
			name:    "invalid port too high",
			yaml:    "port: 70000",
			wantErr: "port must be between 1 and 65535",
		},
		{
			name:    "zero turn requests",
			yaml:    "limits:\n  max_turn_requests: 0",
			wantErr: "max_turn_requests must be at least 1",
		},
		{
			name:    "zero tokens",
			yaml:    "limits:\n  max_tokens_per_turn: 0",
			wantErr: "max_tokens_per_turn must be at least 1",
		},
		{
			name: "bad provider transport",
			yaml: `
backend:
  tool_providers:
    - name: files
      transport: grpc
      url: http://localhost:1
`,
			wantErr: "transport must be http or sse",
		},
		{
			name: "duplicate provider",
			yaml: `
backend:
  tool_providers:
    - {name: a, transport: http, url: "http://localhost:1"}
    - {name: a, transport: sse, url: "http://localhost:2"}
`,
			wantErr: "duplicate name",
		},
		{
			name:    "tool timeout too short",
			yaml:    "tools:\n  url: http://localhost:1\n  timeout: 100ms",
			wantErr: "tools.timeout must be at least 1 second",
		},
		{
			name:    "half tls pair",
			yaml:    "tls:\n  enabled: true\n  cert: /tmp/c.pem",
			wantErr: "tls.cert and tls.key must be set together",
		},
		{
			name:    "malformed yaml",
			yaml:    "port: [",
			wantErr: "parsing config",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse([]byte(tt.yaml))

			if tt.wantErr != "" {
				require.Error(t, err)
				require.Contains(t, err.Error(), tt.wantErr)
				return
			}

			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("AGENTBRIDGE_BIN", "/opt/fake-agent")
	t.Setenv("AGENTBRIDGE_LOG_LEVEL", "debug")

	cfg, err := Parse([]byte("port: 9000\nbackend:\n  bin: ignored"))
	require.NoError(t, err)
	require.Equal(t, "/opt/fake-agent", cfg.Backend.Bin)
	require.Equal(t, "debug", cfg.LogLevel)
}

func TestLoad(t *testing.T) {
	t.Setenv("AGENTBRIDGE_BIN", "")

	path := filepath.Join(t.TempDir(), "bridge.yaml")
	require.NoError(t, os.WriteFile(path, []byte("port: 9200\n"), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 9200, cfg.Port)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	require.Contains(t, err.Error(), "reading config file")
}

func TestDefault(t *testing.T) {
	t.Setenv("AGENTBRIDGE_BIN", "")
	t.Setenv("AGENTBRIDGE_ROOT", "/var/lib/bridge")

	cfg := Default()
	require.Equal(t, DefaultPort, cfg.Port)
	require.Equal(t, DefaultLogLevel, cfg.LogLevel)
	require.Equal(t, DefaultBin, cfg.Backend.Bin)
	require.True(t, cfg.Backend.Streaming)
	require.Equal(t, DefaultMaxTurnRequests, cfg.Limits.MaxTurnRequests)
	require.Equal(t, "/var/lib/bridge/sessions", cfg.SessionDir)
	require.Equal(t, "/var/lib/bridge/history", cfg.HistoryDir)
	require.NoError(t, cfg.Validate())
}

func TestTLSFiles(t *testing.T) {
	// Cannot use t.Parallel() with t.Setenv()
	t.Setenv("AGENTBRIDGE_ROOT", "/srv/bridge")

	cfg := Default()
	cert, key, generated := cfg.TLSFiles()
	assert.Equal(t, "/srv/bridge/tls/cert.pem", cert)
	assert.Equal(t, "/srv/bridge/tls/key.pem", key)
	assert.True(t, generated)

	cfg.TLS.Cert = "/etc/bridge/cert.pem"
	cfg.TLS.Key = "/etc/bridge/key.pem"
	cert, key, generated = cfg.TLSFiles()
	assert.Equal(t, "/etc/bridge/cert.pem", cert)
	assert.Equal(t, "/etc/bridge/key.pem", key)
	assert.False(t, generated)
}
