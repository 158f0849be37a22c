package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"phobos.org.uk/agentbridge/internal/tlsutil"
)

// ErrTransport means the remote tool host could not be reached or answered
// with something other than a tool result.
var ErrTransport = errors.New("tool transport failure")

const maxResponseBytes = 4 << 20

// HTTPInvoker forwards tool calls to a remote tool host with
// POST {base}/invoke.
type HTTPInvoker struct {
	baseURL string
	client  *http.Client
}

// NewHTTPInvoker creates an invoker for the tool host at baseURL.
func NewHTTPInvoker(baseURL string, timeout time.Duration) *HTTPInvoker {
	return &HTTPInvoker{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  tlsutil.NewHTTPClient(timeout),
	}
}

type invokeRequest struct {
	SessionID string          `json:"session_id"`
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

type invokeResponse struct {
	Status     Status      `json:"status"`
	Output     string      `json:"output"`
	Permission *Permission `json:"permission,omitempty"`
}

// Invoke posts the call and maps the response onto a Result.
func (h *HTTPInvoker) Invoke(ctx context.Context, sessionID string, call Call) (Result, error) {
	args := call.Arguments
	if len(args) == 0 {
		args = json.RawMessage(`{}`)
	}
	body, err := json.Marshal(invokeRequest{
		SessionID: sessionID,
		ID:        call.ID,
		Name:      call.Name,
		Arguments: args,
	})
	if err != nil {
		return Result{}, fmt.Errorf("%w: encoding request: %v", ErrTransport, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.baseURL+"/invoke", bytes.NewReader(body))
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrTransport, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrTransport, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return Result{}, fmt.Errorf("%w: reading response: %v", ErrTransport, err)
	}
	if resp.StatusCode != http.StatusOK {
		return Result{}, fmt.Errorf("%w: %s returned %d: %s", ErrTransport, call.Name, resp.StatusCode, strings.TrimSpace(string(data)))
	}

	var out invokeResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return Result{}, fmt.Errorf("%w: decoding response: %v", ErrTransport, err)
	}

	switch out.Status {
	case StatusSuccess:
		return Success(call.ID, out.Output), nil
	case StatusError:
		return Failure(call.ID, out.Output), nil
	case StatusPermissionRequired:
		p := Permission{Tool: call.Name}
		if out.Permission != nil {
			p = *out.Permission
			if p.Tool == "" {
				p.Tool = call.Name
			}
		}
		return PermissionRequired(call.ID, p), nil
	default:
		return Result{}, fmt.Errorf("%w: unknown status %q", ErrTransport, out.Status)
	}
}
