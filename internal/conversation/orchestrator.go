// Package conversation drives one user turn to completion: repeated model
// round-trips, sequential tool execution, and the limits and cancellation
// that end the turn.
//
//	o := conversation.New(client, invoker, conversation.Limits{MaxTurnRequests: 25, MaxTokensPerTurn: 200000})
//	res, err := o.Run(ctx, sessionID, "List files in /tmp")
package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"phobos.org.uk/agentbridge/internal/logging"
	"phobos.org.uk/agentbridge/internal/stream"
	"phobos.org.uk/agentbridge/internal/tools"
)

// ErrInvalidTurn is returned by Run for an empty session id or prompt.
var ErrInvalidTurn = errors.New("invalid turn")

// ModelClient is the model backend as seen by the orchestrator.
type ModelClient interface {
	Stream(ctx context.Context, sessionID, prompt string, onChunk func(stream.Chunk)) (*stream.Reply, error)
	Complete(ctx context.Context, sessionID, prompt string) (string, *stream.Usage, error)
}

// UpdateKind tags a live update.
type UpdateKind string

const (
	UpdateRoundTrip  UpdateKind = "round_trip"
	UpdateText       UpdateKind = "text"
	UpdateToolCall   UpdateKind = "tool_call"
	UpdateToolResult UpdateKind = "tool_result"
)

// Update is a progress notification delivered while a turn runs.
type Update struct {
	Kind      UpdateKind    `json:"kind"`
	SessionID string        `json:"session_id"`
	RoundTrip int           `json:"round_trip"`
	Text      string        `json:"text,omitempty"`
	Call      *tools.Call   `json:"call,omitempty"`
	Result    *tools.Result `json:"result,omitempty"`
}

// Observer receives live updates. It is called on the turn's goroutine.
type Observer func(Update)

// TurnResult is the outcome of one turn.
type TurnResult struct {
	TurnID     string        `json:"turn_id"`
	SessionID  string        `json:"session_id"`
	Prompt     string        `json:"prompt"`
	StopReason StopReason    `json:"stop_reason"`
	RoundTrips int           `json:"round_trips"`
	Tokens     int           `json:"tokens"`
	ToolCalls  int           `json:"tool_calls"`
	Text       string        `json:"text"`
	History    []Entry       `json:"history"`
	Error      string        `json:"error,omitempty"`
	StartedAt  time.Time     `json:"started_at"`
	Duration   time.Duration `json:"duration"`
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithStreaming selects streaming (default) or single-text responses. Tool
// calls are only available when streaming.
func WithStreaming(on bool) Option {
	return func(o *Orchestrator) { o.streaming = on }
}

// WithEstimator replaces the fallback token estimator.
func WithEstimator(e TokenEstimator) Option {
	return func(o *Orchestrator) { o.estimator = e }
}

// WithCancellations shares a cancellation flag set with the caller.
func WithCancellations(c *Cancellations) Option {
	return func(o *Orchestrator) { o.cancels = c }
}

// WithCancelReset controls whether Run clears the session's cancellation
// flag when a turn starts. Callers that reset the flag themselves, under
// their own turn bookkeeping, pass false.
func WithCancelReset(on bool) Option {
	return func(o *Orchestrator) { o.resetCancel = on }
}

// WithObserver registers a live update callback.
func WithObserver(fn Observer) Option {
	return func(o *Orchestrator) { o.observer = fn }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.log = l
		}
	}
}

// Orchestrator runs turns. One Orchestrator serves many sessions; turns for
// different sessions may run concurrently.
type Orchestrator struct {
	model       ModelClient
	tools       tools.Invoker
	limits      Limits
	streaming   bool
	estimator   TokenEstimator
	cancels     *Cancellations
	resetCancel bool
	observer    Observer
	log         *logging.Logger
}

// New creates an orchestrator. invoker may be nil, in which case every tool
// call fails with an Error result.
func New(model ModelClient, invoker tools.Invoker, limits Limits, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		model:       model,
		tools:       invoker,
		limits:      limits,
		streaming:   true,
		estimator:   DefaultEstimator,
		cancels:     NewCancellations(),
		resetCancel: true,
		log:         logging.Nop(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Cancellations returns the flag set checked by Run.
func (o *Orchestrator) Cancellations() *Cancellations {
	return o.cancels
}

// response is one round-trip's classified model output.
type response struct {
	text   string
	calls  []tools.Call
	tokens int
}

// Run executes one turn for sessionID and always reports a stop reason.
// Limits, cancellation and model failures are reported in the result; the
// error is only non-nil for invalid input. Cancellation, from the session's
// flag or from ctx, is observed before each round-trip.
func (o *Orchestrator) Run(ctx context.Context, sessionID, prompt string) (*TurnResult, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("%w: session id is required", ErrInvalidTurn)
	}
	if strings.TrimSpace(prompt) == "" {
		return nil, fmt.Errorf("%w: prompt is required", ErrInvalidTurn)
	}

	res := &TurnResult{
		TurnID:    uuid.New().String(),
		SessionID: sessionID,
		Prompt:    prompt,
		StartedAt: time.Now(),
	}
	log := o.log.WithSession(sessionID)
	log.Info("turn started", map[string]any{
		"turn_id":           res.TurnID,
		"prompt_length":     len(prompt),
		"max_turn_requests": o.limits.MaxTurnRequests,
		"streaming":         o.streaming,
	})

	if o.resetCancel {
		o.cancels.Clear(sessionID)
	}

	var (
		hist     History
		state    State
		stop     StopReason
		texts    []string
		nextCall int
		turnErr  error
	)
	hist.AddUser(prompt)

	for {
		cancelled := o.cancels.Cancelled(sessionID) || ctx.Err() != nil
		if state, stop = Transition(state, Event{Kind: EventBoundary, Cancelled: cancelled}, o.limits); stop != StopNone {
			break
		}
		o.notify(Update{Kind: UpdateRoundTrip, SessionID: sessionID, RoundTrip: state.RoundTrips})

		resp, err := o.request(ctx, sessionID, hist.Render(), state.RoundTrips, &nextCall, log)
		if err != nil {
			turnErr = err
			state, stop = Transition(state, Event{Kind: EventFailure}, o.limits)
			break
		}

		state, stop = Transition(state, Event{
			Kind:      EventResponse,
			Tokens:    resp.tokens,
			ToolCalls: len(resp.calls),
		}, o.limits)
		if stop == StopMaxTokens {
			break
		}
		if resp.text != "" {
			hist.AddAssistant(resp.text)
			texts = append(texts, resp.text)
		}
		if stop != StopNone {
			break
		}

		for _, call := range resp.calls {
			result := o.invoke(ctx, sessionID, call, state.RoundTrips, log)
			hist.AddToolExchange(call, result)
			res.ToolCalls++
		}
	}

	res.StopReason = stop
	res.RoundTrips = state.RoundTrips
	res.Tokens = state.Tokens
	res.Text = strings.Join(texts, "\n\n")
	res.History = hist.Entries()
	res.Duration = time.Since(res.StartedAt)

	fields := map[string]any{
		"turn_id":     res.TurnID,
		"stop_reason": string(stop),
		"round_trips": res.RoundTrips,
		"tokens":      res.Tokens,
		"tool_calls":  res.ToolCalls,
		"duration_ms": res.Duration.Milliseconds(),
	}
	if turnErr != nil {
		res.Error = turnErr.Error()
		fields["error"] = res.Error
		log.Error("turn failed", fields)
	} else {
		log.Info("turn finished", fields)
	}
	return res, nil
}

func (o *Orchestrator) request(ctx context.Context, sessionID, prompt string, round int, nextCall *int, log *logging.SessionLogger) (response, error) {
	if !o.streaming {
		text, usage, err := o.model.Complete(ctx, sessionID, prompt)
		if err != nil {
			return response{}, err
		}
		log.Debug("non-streaming response, tool calls require streaming", map[string]any{"round_trip": round})
		if text != "" {
			o.notify(Update{Kind: UpdateText, SessionID: sessionID, RoundTrip: round, Text: text})
		}
		return response{text: text, tokens: o.tokens(usage, prompt, text)}, nil
	}

	reply, err := o.model.Stream(ctx, sessionID, prompt, func(ch stream.Chunk) {
		if ch.Kind == stream.ChunkText {
			o.notify(Update{Kind: UpdateText, SessionID: sessionID, RoundTrip: round, Text: ch.Text})
		}
	})
	if err != nil {
		return response{}, err
	}

	var (
		sb    strings.Builder
		calls []tools.Call
	)
	for _, ch := range reply.Chunks {
		switch ch.Kind {
		case stream.ChunkText:
			sb.WriteString(ch.Text)
		case stream.ChunkToolCall:
			*nextCall++
			calls = append(calls, tools.Call{
				ID:        fmt.Sprintf("call_%d", *nextCall),
				Name:      ch.ToolName,
				Arguments: ch.Arguments,
			})
		case stream.ChunkToolResult:
			// The bridge runs tools itself.
		}
	}
	text := sb.String()
	return response{text: text, calls: calls, tokens: o.tokens(reply.Usage, prompt, text)}, nil
}

// tokens prefers the backend's usage record over the estimate.
func (o *Orchestrator) tokens(usage *stream.Usage, request, response string) int {
	if usage != nil {
		return usage.Total()
	}
	return o.estimator.Estimate(request, response)
}

// invoke runs one tool call. Every failure becomes an Error result.
func (o *Orchestrator) invoke(ctx context.Context, sessionID string, call tools.Call, round int, log *logging.SessionLogger) tools.Result {
	o.notify(Update{Kind: UpdateToolCall, SessionID: sessionID, RoundTrip: round, Call: &call})
	start := time.Now()

	var result tools.Result
	if o.tools == nil {
		result = tools.Failure(call.ID, "no tool invoker is configured")
	} else {
		r, err := o.tools.Invoke(ctx, sessionID, call)
		if err != nil {
			log.Warn("tool invocation failed", map[string]any{
				"call_id": call.ID,
				"tool":    call.Name,
				"error":   err.Error(),
			})
			r = tools.Failure(call.ID, fmt.Sprintf("tool %s could not be run: %v", call.Name, err))
		}
		result = r
	}
	result.ID = call.ID
	if result.Status == tools.StatusPermissionRequired && result.Output == "" {
		perm := tools.Permission{Tool: call.Name}
		if result.Permission != nil {
			perm = *result.Permission
		}
		result.Output = tools.PermissionText(perm)
	}

	log.Info("tool call", map[string]any{
		"call_id":     call.ID,
		"tool":        call.Name,
		"status":      string(result.Status),
		"round_trip":  round,
		"duration_ms": time.Since(start).Milliseconds(),
	})
	o.notify(Update{Kind: UpdateToolResult, SessionID: sessionID, RoundTrip: round, Result: &result})
	return result
}

func (o *Orchestrator) notify(u Update) {
	if o.observer != nil {
		o.observer(u)
	}
}
