// Package client is a Go client for the bridge HTTP surface.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"phobos.org.uk/agentbridge/internal/api"
	"phobos.org.uk/agentbridge/internal/conversation"
	"phobos.org.uk/agentbridge/internal/history"
	"phobos.org.uk/agentbridge/internal/tlsutil"
)

// DefaultTimeout bounds a single request. Turns run synchronously on the
// server, so it is generous.
const DefaultTimeout = 30 * time.Minute

// APIError is a non-2xx response from the bridge.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("unexpected status %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s (%d): %s", e.Code, e.StatusCode, e.Message)
}

// HasCode reports whether err is an APIError with the given error code.
func HasCode(err error, code string) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == code
}

// Client talks to one bridge.
type Client struct {
	baseURL string
	token   string
	client  *http.Client
}

// New creates a client for the bridge at baseURL. token is sent as a bearer
// token when non-empty.
func New(baseURL, token string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client:  tlsutil.NewHTTPClient(DefaultTimeout),
	}
}

// Status returns the bridge status.
func (c *Client) Status(ctx context.Context) (*api.StatusResponse, error) {
	var status api.StatusResponse
	if err := c.do(ctx, http.MethodGet, "/status", nil, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// Sessions lists the open sessions.
func (c *Client) Sessions(ctx context.Context) ([]api.SessionResponse, error) {
	var list api.SessionListResponse
	if err := c.do(ctx, http.MethodGet, "/sessions", nil, &list); err != nil {
		return nil, err
	}
	return list.Sessions, nil
}

// Open opens a session, or returns the running one with that id. An empty
// id asks the bridge to mint one.
func (c *Client) Open(ctx context.Context, sessionID string) (*api.SessionResponse, error) {
	var sess api.SessionResponse
	if err := c.do(ctx, http.MethodPost, "/sessions", api.SessionRequest{SessionID: sessionID}, &sess); err != nil {
		return nil, err
	}
	return &sess, nil
}

// Close terminates a session.
func (c *Client) Close(ctx context.Context, sessionID string) error {
	return c.do(ctx, http.MethodDelete, "/sessions/"+url.PathEscape(sessionID), nil, nil)
}

// RunTurn runs one turn and waits for its result.
func (c *Client) RunTurn(ctx context.Context, sessionID, prompt string) (*conversation.TurnResult, error) {
	var res conversation.TurnResult
	path := "/sessions/" + url.PathEscape(sessionID) + "/turns"
	if err := c.do(ctx, http.MethodPost, path, api.TurnRequest{Prompt: prompt}, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// Cancel asks the session's turn to stop at its next round-trip boundary.
func (c *Client) Cancel(ctx context.Context, sessionID string) error {
	return c.do(ctx, http.MethodPost, "/sessions/"+url.PathEscape(sessionID)+"/cancel", nil, nil)
}

// History lists archived turns, newest first.
func (c *Client) History(ctx context.Context, opts history.ListOptions) (*history.ListResult, error) {
	q := url.Values{}
	if opts.Page > 0 {
		q.Set("page", strconv.Itoa(opts.Page))
	}
	if opts.Limit > 0 {
		q.Set("limit", strconv.Itoa(opts.Limit))
	}
	if opts.SessionID != "" {
		q.Set("session_id", opts.SessionID)
	}
	path := "/history"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var res history.ListResult
	if err := c.do(ctx, http.MethodGet, path, nil, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
		apiErr := &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(respBody))}
		var e api.ErrorResponse
		if json.Unmarshal(respBody, &e) == nil && e.Error != "" {
			apiErr.Code = e.Error
			apiErr.Message = e.Message
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}
