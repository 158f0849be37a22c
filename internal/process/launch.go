package process

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
)

// Transport is how the backend reaches an auxiliary tool provider.
type Transport string

const (
	TransportHTTP Transport = "http" // request/response
	TransportSSE  Transport = "sse"  // event stream
)

// ToolProvider is an auxiliary tool-provider endpoint made available to the
// backend.
type ToolProvider struct {
	Name      string
	Transport Transport
	URL       string
}

// LaunchConfig describes one backend process.
type LaunchConfig struct {
	SessionID     string
	Bin           string // Executable name or path
	WorkDir       string
	Mode          string // Operating-mode name, omitted when empty
	SystemPrompt  string // Full system prompt override, omitted when empty
	ToolProviders []ToolProvider
	Ephemeral     bool              // Lighter model variant
	Env           map[string]string // Extra environment variables
}

// EphemeralModel is the model requested in ephemeral mode.
const EphemeralModel = "haiku"

// SessionEnvVar carries the session id into the backend environment.
const SessionEnvVar = "AGENTBRIDGE_SESSION_ID"

const maxSessionIDLen = 128

var sessionIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,127}$`)

// ValidSessionID reports whether id is safe to use as a session id. Session
// ids name working directories, so path separators and traversal are refused.
func ValidSessionID(id string) bool {
	if id == "" || len(id) > maxSessionIDLen {
		return false
	}
	if strings.Contains(id, "..") {
		return false
	}
	if strings.ContainsAny(id, `/\`) || filepath.IsAbs(id) {
		return false
	}
	return sessionIDPattern.MatchString(id)
}

// Validate checks the fields Start depends on.
func (c LaunchConfig) Validate() error {
	if !ValidSessionID(c.SessionID) {
		return fmt.Errorf("invalid session id %q", c.SessionID)
	}
	if c.Bin == "" {
		return fmt.Errorf("executable is required")
	}
	for _, p := range c.ToolProviders {
		if p.Name == "" || p.URL == "" {
			return fmt.Errorf("tool provider needs a name and url")
		}
		if p.Transport != TransportHTTP && p.Transport != TransportSSE {
			return fmt.Errorf("tool provider %q: unknown transport %q", p.Name, p.Transport)
		}
	}
	return nil
}

// Args translates the launch configuration into backend arguments.
//
// The streaming framing flags, the permission bypass (the bridge owns
// permission decisions), disabled session persistence (history is resent on
// every request) and user-message replay are always present.
func (c LaunchConfig) Args() []string {
	args := []string{
		"--print",
		"--input-format", "stream-json",
		"--output-format", "stream-json",
		"--verbose",
		"--dangerously-skip-permissions",
		"--no-session-persistence",
		"--replay-user-messages",
	}

	if c.Mode != "" {
		args = append(args, "--permission-mode", c.Mode)
	}
	if c.SystemPrompt != "" {
		args = append(args, "--system-prompt", c.SystemPrompt)
	}
	if len(c.ToolProviders) > 0 {
		args = append(args, "--mcp-config", c.mcpConfig())
	}
	if c.Ephemeral {
		args = append(args, "--model", EphemeralModel)
	}
	return args
}

// mcpConfig renders the tool providers as the inline JSON document the
// backend accepts.
func (c LaunchConfig) mcpConfig() string {
	type server struct {
		Type string `json:"type"`
		URL  string `json:"url"`
	}
	servers := make(map[string]server, len(c.ToolProviders))
	for _, p := range c.ToolProviders {
		servers[p.Name] = server{Type: string(p.Transport), URL: p.URL}
	}
	// Map keys marshal sorted, so the output is stable.
	data, _ := json.Marshal(map[string]any{"mcpServers": servers})
	return string(data)
}

// Environ returns the backend environment: the parent environment, the
// session id and any extra variables in sorted key order.
func (c LaunchConfig) Environ() []string {
	env := os.Environ()
	env = append(env, SessionEnvVar+"="+c.SessionID)

	keys := make([]string, 0, len(c.Env))
	for k := range c.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		env = append(env, fmt.Sprintf("%s=%s", k, c.Env[k]))
	}
	return env
}
