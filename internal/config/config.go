package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the bridge configuration
type Config struct {
	Port       int           `yaml:"port"`
	Bind       string        `yaml:"bind"`
	LogLevel   string        `yaml:"log_level"`
	SessionDir string        `yaml:"session_dir"` // Base directory for per-session working directories
	HistoryDir string        `yaml:"history_dir"` // Directory for the turn archive
	Backend    BackendConfig `yaml:"backend"`
	Limits     LimitsConfig  `yaml:"limits"`
	Tools      ToolsConfig   `yaml:"tools"`
	Auth       AuthConfig    `yaml:"auth"`
	TLS        TLSConfig     `yaml:"tls"`
}

// BackendConfig holds the settings used to launch backend agent processes.
type BackendConfig struct {
	Bin           string         `yaml:"bin"`           // Executable (default: claude, AGENTBRIDGE_BIN overrides)
	Mode          string         `yaml:"mode"`          // Operating-mode name passed to the backend
	SystemPrompt  string         `yaml:"system_prompt"` // Full system prompt override
	Ephemeral     bool           `yaml:"ephemeral"`     // Lighter model, no backend-side persistence
	Streaming     bool           `yaml:"streaming"`     // Streaming responses (required for tool use)
	ToolProviders []ToolProvider `yaml:"tool_providers,omitempty"`
}

// ToolProvider describes an auxiliary tool-provider endpoint handed to the backend.
type ToolProvider struct {
	Name      string `yaml:"name"`
	Transport string `yaml:"transport"` // http or sse
	URL       string `yaml:"url"`
}

// LimitsConfig bounds a single turn.
type LimitsConfig struct {
	MaxTurnRequests  int `yaml:"max_turn_requests"`
	MaxTokensPerTurn int `yaml:"max_tokens_per_turn"`
}

// ToolsConfig points at the remote tool host used to execute tool calls.
type ToolsConfig struct {
	URL     string        `yaml:"url"`
	Timeout time.Duration `yaml:"timeout"`
}

// AuthConfig protects the HTTP surface.
type AuthConfig struct {
	TokenHash string `yaml:"token_hash"` // bcrypt hash of the bearer token; empty disables auth
}

// TLSConfig enables HTTPS on the HTTP surface.
type TLSConfig struct {
	Enabled bool   `yaml:"enabled"`
	Cert    string `yaml:"cert"`
	Key     string `yaml:"key"`
}

// Defaults
const (
	DefaultPort             = 9100
	DefaultBind             = "127.0.0.1"
	DefaultLogLevel         = "info"
	DefaultBin              = "claude"
	DefaultMaxTurnRequests  = 25
	DefaultMaxTokensPerTurn = 200000
	DefaultToolTimeout      = 2 * time.Minute
)

// Transport kinds for tool providers.
const (
	TransportHTTP = "http"
	TransportSSE  = "sse"
)

func defaults() *Config {
	return &Config{
		Port:     DefaultPort,
		Bind:     DefaultBind,
		LogLevel: DefaultLogLevel,
		Backend: BackendConfig{
			Bin:       DefaultBin,
			Streaming: true,
		},
		Limits: LimitsConfig{
			MaxTurnRequests:  DefaultMaxTurnRequests,
			MaxTokensPerTurn: DefaultMaxTokensPerTurn,
		},
		Tools: ToolsConfig{
			Timeout: DefaultToolTimeout,
		},
	}
}

// Parse parses YAML config data
func Parse(data []byte) (*Config, error) {
	cfg := defaults()

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	cfg.applyEnv()

	if cfg.SessionDir == "" {
		cfg.SessionDir = DefaultSessionPath()
	}
	if cfg.HistoryDir == "" {
		cfg.HistoryDir = DefaultHistoryPath()
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Load loads config from a file path
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return Parse(data)
}

// Default returns a config with default values
func Default() *Config {
	cfg := defaults()
	cfg.SessionDir = DefaultSessionPath()
	cfg.HistoryDir = DefaultHistoryPath()
	cfg.applyEnv()
	return cfg
}

// applyEnv applies environment overrides.
func (c *Config) applyEnv() {
	if bin := os.Getenv("AGENTBRIDGE_BIN"); bin != "" {
		c.Backend.Bin = bin
	}
	if lvl := os.Getenv("AGENTBRIDGE_LOG_LEVEL"); lvl != "" {
		c.LogLevel = lvl
	}
}

// Validate checks config validity
func (c *Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", c.Port)
	}

	if c.Backend.Bin == "" {
		return fmt.Errorf("backend.bin is required")
	}

	if c.Limits.MaxTurnRequests < 1 {
		return fmt.Errorf("max_turn_requests must be at least 1, got %d", c.Limits.MaxTurnRequests)
	}

	if c.Limits.MaxTokensPerTurn < 1 {
		return fmt.Errorf("max_tokens_per_turn must be at least 1, got %d", c.Limits.MaxTokensPerTurn)
	}

	seen := make(map[string]bool)
	for i, p := range c.Backend.ToolProviders {
		if p.Name == "" {
			return fmt.Errorf("tool_providers[%d]: name is required", i)
		}
		if seen[p.Name] {
			return fmt.Errorf("tool_providers[%d]: duplicate name %q", i, p.Name)
		}
		seen[p.Name] = true
		switch p.Transport {
		case TransportHTTP, TransportSSE:
		default:
			return fmt.Errorf("tool_providers[%d]: transport must be http or sse, got %q", i, p.Transport)
		}
		if _, err := url.ParseRequestURI(p.URL); err != nil {
			return fmt.Errorf("tool_providers[%d]: invalid url %q", i, p.URL)
		}
	}

	if c.Tools.URL != "" {
		if _, err := url.ParseRequestURI(c.Tools.URL); err != nil {
			return fmt.Errorf("tools.url is invalid: %q", c.Tools.URL)
		}
		if c.Tools.Timeout < time.Second {
			return fmt.Errorf("tools.timeout must be at least 1 second, got %v", c.Tools.Timeout)
		}
	}

	if c.TLS.Enabled && (c.TLS.Cert == "") != (c.TLS.Key == "") {
		return fmt.Errorf("tls.cert and tls.key must be set together")
	}

	return nil
}

func rootDir() string {
	root := os.Getenv("AGENTBRIDGE_ROOT")
	if root == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			home = "/tmp"
		}
		root = filepath.Join(home, ".agentbridge")
	}
	return root
}

// DefaultHistoryPath returns the default turn archive directory.
// Uses AGENTBRIDGE_ROOT env var if set, otherwise ~/.agentbridge/history
func DefaultHistoryPath() string {
	return filepath.Join(rootDir(), "history")
}

// DefaultSessionPath returns the default session directory path.
// Uses AGENTBRIDGE_ROOT env var if set, otherwise ~/.agentbridge/sessions
func DefaultSessionPath() string {
	return filepath.Join(rootDir(), "sessions")
}

// DefaultTLSPath returns the directory holding generated TLS certificates.
// Uses AGENTBRIDGE_ROOT env var if set, otherwise ~/.agentbridge/tls
func DefaultTLSPath() string {
	return filepath.Join(rootDir(), "tls")
}

// TLSFiles returns the certificate and key paths, defaulting to a generated
// pair under DefaultTLSPath. generated reports whether the defaults apply.
func (c *Config) TLSFiles() (cert, key string, generated bool) {
	if c.TLS.Cert != "" {
		return c.TLS.Cert, c.TLS.Key, false
	}
	dir := DefaultTLSPath()
	return filepath.Join(dir, "cert.pem"), filepath.Join(dir, "key.pem"), true
}
