// Package tools defines the contract the orchestrator uses to execute tool
// calls requested by the model, plus in-process and HTTP implementations.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// Status classifies the outcome of one tool execution.
type Status string

const (
	StatusSuccess            Status = "success"
	StatusError              Status = "error"
	StatusPermissionRequired Status = "permission_required"
)

// Call is a tool call requested by the model. ID is assigned by the
// orchestrator, sequentially within a turn.
type Call struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// Choice is one option offered by a permission request.
type Choice struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Permission describes a tool that needs a user decision before it can run.
type Permission struct {
	Tool        string   `json:"tool"`
	Description string   `json:"description"`
	Choices     []Choice `json:"choices"`
}

// Result is the outcome of one tool execution. For PermissionRequired
// results Output holds the text produced by PermissionText.
type Result struct {
	ID         string      `json:"id"`
	Status     Status      `json:"status"`
	Output     string      `json:"output"`
	Permission *Permission `json:"permission,omitempty"`
}

// Invoker executes tool calls on behalf of a session. A returned error is a
// transport failure; failures of the tool itself are Error results.
type Invoker interface {
	Invoke(ctx context.Context, sessionID string, call Call) (Result, error)
}

// Success builds a successful result.
func Success(id, output string) Result {
	return Result{ID: id, Status: StatusSuccess, Output: output}
}

// Failure builds an error result carrying msg as the tool output.
func Failure(id, msg string) Result {
	return Result{ID: id, Status: StatusError, Output: msg}
}

// PermissionRequired builds a permission result whose output explains the
// request to the model.
func PermissionRequired(id string, p Permission) Result {
	return Result{ID: id, Status: StatusPermissionRequired, Output: PermissionText(p), Permission: &p}
}

// PermissionText renders a permission request as text for the model: the
// tool name, its description and every choice as "name (id: x)".
func PermissionText(p Permission) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Permission required to run tool %q", p.Tool)
	if p.Description != "" {
		fmt.Fprintf(&sb, ": %s", p.Description)
	}
	sb.WriteString("\nThe tool was not run. Available choices:")
	for _, c := range p.Choices {
		fmt.Fprintf(&sb, "\n- %s (id: %s)", c.Name, c.ID)
	}
	return sb.String()
}
