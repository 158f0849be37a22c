package server

import (
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"phobos.org.uk/agentbridge/internal/api"
	"phobos.org.uk/agentbridge/internal/bridge"
	"phobos.org.uk/agentbridge/internal/conversation"
	"phobos.org.uk/agentbridge/internal/history"
	"phobos.org.uk/agentbridge/internal/logging"
	"phobos.org.uk/agentbridge/internal/process"
	"phobos.org.uk/agentbridge/internal/registry"
)

func (s *Server) sessionResponse(info registry.Info) api.SessionResponse {
	return api.SessionResponse{
		SessionID: info.SessionID,
		PID:       info.PID,
		State:     info.State,
		Busy:      info.Busy,
		InTurn:    s.bridge.InTurn(info.SessionID),
		StartedAt: info.StartedAt,
	}
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	infos := s.bridge.Registry().Infos()
	resp := api.SessionListResponse{Sessions: make([]api.SessionResponse, 0, len(infos))}
	for _, info := range infos {
		resp.Sessions = append(resp.Sessions, s.sessionResponse(info))
	}
	api.WriteJSON(w, http.StatusOK, resp)
}

// handleOpenSession spawns the backend for a session. An empty body or id
// mints a new session id.
func (s *Server) handleOpenSession(w http.ResponseWriter, r *http.Request) {
	var req api.SessionRequest
	if err := api.DecodeJSON(r, &req); err != nil && !errors.Is(err, io.EOF) {
		api.WriteError(w, http.StatusBadRequest, api.ErrorValidation, "Invalid JSON: "+err.Error())
		return
	}

	h, err := s.bridge.Open(req.SessionID)
	switch {
	case err == nil:
	case errors.Is(err, bridge.ErrInvalidSessionID):
		api.WriteError(w, http.StatusBadRequest, api.ErrorValidation, err.Error())
		return
	case errors.Is(err, process.ErrExecutableNotFound), errors.Is(err, process.ErrSpawn), errors.Is(err, process.ErrStreamCapture):
		api.WriteError(w, http.StatusBadGateway, api.ErrorSpawnFailed, err.Error())
		return
	default:
		api.WriteError(w, http.StatusInternalServerError, api.ErrorInternal, err.Error())
		return
	}

	api.WriteJSON(w, http.StatusCreated, s.sessionResponse(h.Info()))
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	h, err := s.bridge.Registry().Get(chi.URLParam(r, "id"))
	if err != nil {
		api.WriteError(w, http.StatusNotFound, api.ErrorNotFound, err.Error())
		return
	}
	api.WriteJSON(w, http.StatusOK, s.sessionResponse(h.Info()))
}

// handleCloseSession terminates a session. Sessions running a turn or
// holding their I/O channel are refused with 409.
func (s *Server) handleCloseSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	switch err := s.bridge.Close(id); {
	case err == nil:
		api.WriteJSON(w, http.StatusOK, api.MessageResponse{SessionID: id, Message: "session terminated"})
	case errors.Is(err, registry.ErrNotFound):
		api.WriteError(w, http.StatusNotFound, api.ErrorNotFound, err.Error())
	case errors.Is(err, bridge.ErrTurnInProgress), errors.Is(err, registry.ErrBusy):
		api.WriteError(w, http.StatusConflict, api.ErrorSessionBusy, "Session "+id+" is busy")
	default:
		api.WriteError(w, http.StatusInternalServerError, api.ErrorInternal, err.Error())
	}
}

// handleRunTurn runs one turn synchronously and returns its result. Limits,
// cancellation and backend failures are reported in the result's stop
// reason with status 200.
func (s *Server) handleRunTurn(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req api.TurnRequest
	if err := api.DecodeJSON(r, &req); err != nil {
		api.WriteError(w, http.StatusBadRequest, api.ErrorValidation, "Invalid JSON: "+err.Error())
		return
	}

	res, err := s.bridge.RunTurn(r.Context(), id, req.Prompt)
	switch {
	case err == nil:
		api.WriteJSON(w, http.StatusOK, res)
	case errors.Is(err, registry.ErrNotFound):
		api.WriteError(w, http.StatusNotFound, api.ErrorNotFound, err.Error())
	case errors.Is(err, bridge.ErrTurnInProgress):
		api.WriteError(w, http.StatusConflict, api.ErrorSessionBusy, "Session "+id+" is already running a turn")
	case errors.Is(err, conversation.ErrInvalidTurn):
		api.WriteError(w, http.StatusBadRequest, api.ErrorValidation, err.Error())
	default:
		api.WriteError(w, http.StatusInternalServerError, api.ErrorInternal, err.Error())
	}
}

// handleCancel flags the session's running turn for cancellation. An idle
// session is refused with 409.
func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	switch err := s.bridge.Cancel(id); {
	case err == nil:
		api.WriteJSON(w, http.StatusAccepted, api.MessageResponse{SessionID: id, Message: "cancellation requested"})
	case errors.Is(err, registry.ErrNotFound):
		api.WriteError(w, http.StatusNotFound, api.ErrorNotFound, err.Error())
	case errors.Is(err, bridge.ErrNoTurn):
		api.WriteError(w, http.StatusConflict, api.ErrorNoTurn, "Session "+id+" is not running a turn")
	default:
		api.WriteError(w, http.StatusInternalServerError, api.ErrorInternal, err.Error())
	}
}

// handleListHistory returns archived turns, newest first.
// Query params: page, limit (max 100), session_id.
func (s *Server) handleListHistory(w http.ResponseWriter, r *http.Request) {
	store := s.bridge.History()
	if store == nil {
		api.WriteError(w, http.StatusServiceUnavailable, api.ErrorHistoryUnavailable, "History storage not configured")
		return
	}

	q := r.URL.Query()
	page, err := api.ParseIntParam(q.Get("page"), 1, 10000, 1)
	if err != nil {
		api.WriteError(w, http.StatusBadRequest, api.ErrorValidation, "page "+err.Error())
		return
	}
	limit, err := api.ParseIntParam(q.Get("limit"), 1, history.MaxTurnEntries, 20)
	if err != nil {
		api.WriteError(w, http.StatusBadRequest, api.ErrorValidation, "limit "+err.Error())
		return
	}

	api.WriteJSON(w, http.StatusOK, store.List(history.ListOptions{
		Page:      page,
		Limit:     limit,
		SessionID: q.Get("session_id"),
	}))
}

func (s *Server) handleGetHistory(w http.ResponseWriter, r *http.Request) {
	store := s.bridge.History()
	if store == nil {
		api.WriteError(w, http.StatusServiceUnavailable, api.ErrorHistoryUnavailable, "History storage not configured")
		return
	}

	entry, err := store.Get(chi.URLParam(r, "id"))
	if err != nil {
		api.WriteError(w, http.StatusNotFound, api.ErrorNotFound, err.Error())
		return
	}
	api.WriteJSON(w, http.StatusOK, entry)
}

// handleGetTranscript returns the full conversation history of a turn.
func (s *Server) handleGetTranscript(w http.ResponseWriter, r *http.Request) {
	store := s.bridge.History()
	if store == nil {
		api.WriteError(w, http.StatusServiceUnavailable, api.ErrorHistoryUnavailable, "History storage not configured")
		return
	}

	data, err := store.GetTranscript(chi.URLParam(r, "id"))
	if err != nil {
		api.WriteError(w, http.StatusNotFound, api.ErrorNotFound, err.Error())
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

// handleLogs returns log entries with optional filtering.
// Query params:
//   - level: minimum log level (debug, info, warn, error)
//   - session_id: filter by session ID
//   - since, until: RFC3339 timestamps
//   - limit: max entries to return (default 100)
func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	params := r.URL.Query()

	limit, err := api.ParseIntParam(params.Get("limit"), 1, 10000, 100)
	if err != nil {
		api.WriteError(w, http.StatusBadRequest, api.ErrorValidation, "limit "+err.Error())
		return
	}
	q := logging.Query{
		Level:     logging.Level(params.Get("level")),
		SessionID: params.Get("session_id"),
		Limit:     limit,
	}
	if q.Since, err = api.ParseTimeParam(params.Get("since")); err != nil {
		api.WriteError(w, http.StatusBadRequest, api.ErrorValidation, "since "+err.Error())
		return
	}
	if q.Until, err = api.ParseTimeParam(params.Get("until")); err != nil {
		api.WriteError(w, http.StatusBadRequest, api.ErrorValidation, "until "+err.Error())
		return
	}

	api.WriteJSON(w, http.StatusOK, s.bridge.Logger().Query(q))
}

// handleLogStats returns log statistics without entries.
func (s *Server) handleLogStats(w http.ResponseWriter, r *http.Request) {
	api.WriteJSON(w, http.StatusOK, s.bridge.Logger().Stats())
}
