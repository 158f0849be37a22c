package conversation

// StopReason is the terminal outcome of a turn.
type StopReason string

const (
	StopNone            StopReason = ""
	StopEndTurn         StopReason = "end_turn"
	StopMaxTurnRequests StopReason = "max_turn_requests"
	StopMaxTokens       StopReason = "max_tokens"
	StopCancelled       StopReason = "cancelled"
	StopError           StopReason = "error"
)

// Phase is the position of a turn in the request loop.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseRequestingModel
	PhaseHandlingToolCalls
	PhaseCompleted
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseRequestingModel:
		return "requesting_model"
	case PhaseHandlingToolCalls:
		return "handling_tool_calls"
	case PhaseCompleted:
		return "completed"
	default:
		return "unknown"
	}
}

// Limits bound a single turn.
type Limits struct {
	MaxTurnRequests  int
	MaxTokensPerTurn int
}

// State is everything the loop accumulates across round-trips.
type State struct {
	Phase      Phase
	RoundTrips int
	Tokens     int
	Stop       StopReason
}

// EventKind identifies what happened to the turn.
type EventKind int

const (
	// EventBoundary is reached before each round-trip.
	EventBoundary EventKind = iota
	// EventResponse is a model response being received.
	EventResponse
	// EventFailure is a model request failing.
	EventFailure
)

// Event is one input to Transition.
type Event struct {
	Kind EventKind

	// Boundary
	Cancelled bool

	// Response
	Tokens    int
	ToolCalls int
}

// Transition computes the next state. The returned stop reason is non-empty
// exactly when the new state is Completed. Completed states absorb every
// event, and events that do not fit the current phase complete the turn
// with StopError.
//
// At a boundary, cancellation is checked before the round-trip ceiling, and
// a ceiling hit does not count the refused round-trip. On a response, the
// token ceiling is checked before looking at tool calls.
func Transition(s State, ev Event, lim Limits) (State, StopReason) {
	if s.Phase == PhaseCompleted {
		return s, s.Stop
	}

	switch ev.Kind {
	case EventBoundary:
		if s.Phase != PhaseIdle && s.Phase != PhaseHandlingToolCalls {
			return complete(s, StopError)
		}
		if ev.Cancelled {
			return complete(s, StopCancelled)
		}
		if s.RoundTrips+1 > lim.MaxTurnRequests {
			return complete(s, StopMaxTurnRequests)
		}
		s.RoundTrips++
		s.Phase = PhaseRequestingModel
		return s, StopNone

	case EventResponse:
		if s.Phase != PhaseRequestingModel {
			return complete(s, StopError)
		}
		s.Tokens += ev.Tokens
		if s.Tokens > lim.MaxTokensPerTurn {
			return complete(s, StopMaxTokens)
		}
		if ev.ToolCalls == 0 {
			return complete(s, StopEndTurn)
		}
		s.Phase = PhaseHandlingToolCalls
		return s, StopNone

	default:
		return complete(s, StopError)
	}
}

func complete(s State, reason StopReason) (State, StopReason) {
	s.Phase = PhaseCompleted
	s.Stop = reason
	return s, reason
}
