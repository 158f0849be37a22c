// Package api defines the request and response types of the bridge HTTP
// surface and the helpers shared by its handlers.
package api

import "time"

// TypeBridge identifies the component in status responses.
const TypeBridge = "bridge"

// Interface names identify component capabilities.
const (
	InterfaceStatusable = "statusable"
	InterfaceSessions   = "sessions"
	InterfaceObservable = "observable"
)

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// StatusResponse represents the /status response.
type StatusResponse struct {
	Type            string       `json:"type"`
	Interfaces      []string     `json:"interfaces"`
	Version         string       `json:"version"`
	UptimeSeconds   float64      `json:"uptime_seconds"`
	Sessions        int          `json:"sessions"`
	TurnsInProgress int          `json:"turns_in_progress"`
	Config          StatusConfig `json:"config"`
}

// StatusConfig shows the effective configuration in status.
type StatusConfig struct {
	Port             int    `json:"port"`
	Bin              string `json:"bin"`
	Streaming        bool   `json:"streaming"`
	MaxTurnRequests  int    `json:"max_turn_requests"`
	MaxTokensPerTurn int    `json:"max_tokens_per_turn"`
	ToolsURL         string `json:"tools_url,omitempty"`
}

// SessionRequest opens a session. The id is minted when empty.
type SessionRequest struct {
	SessionID string `json:"session_id,omitempty"`
}

// SessionResponse describes one session.
type SessionResponse struct {
	SessionID string    `json:"session_id"`
	PID       int       `json:"pid"`
	State     string    `json:"state"`
	Busy      bool      `json:"busy"`
	InTurn    bool      `json:"in_turn"`
	StartedAt time.Time `json:"started_at"`
}

// SessionListResponse represents the GET /sessions response.
type SessionListResponse struct {
	Sessions []SessionResponse `json:"sessions"`
}

// TurnRequest runs one turn on a session.
type TurnRequest struct {
	Prompt string `json:"prompt"`
}

// MessageResponse acknowledges an action on a session.
type MessageResponse struct {
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
}
