// Package registry is the authoritative table of session → agent process
// mappings. Lookups run concurrently; spawn and terminate are serialized.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"phobos.org.uk/agentbridge/internal/logging"
	"phobos.org.uk/agentbridge/internal/process"
)

var (
	// ErrNotFound means no process is registered for the session.
	ErrNotFound = errors.New("session not found")
	// ErrBusy means the session's I/O channel is held by another caller.
	ErrBusy = errors.New("session is busy")
)

// Handle is the shared lookup handle for one session. The process behind it
// is only reachable through Exchange, which grants exclusive I/O access.
type Handle struct {
	io        sync.Mutex
	proc      *process.AgentProcess
	startedAt time.Time
}

// SessionID returns the session the handle serves.
func (h *Handle) SessionID() string {
	return h.proc.SessionID()
}

// Exchange runs fn with exclusive access to the process I/O channel. Only one
// caller at a time is inside Exchange for a given session.
func (h *Handle) Exchange(fn func(p *process.AgentProcess) error) error {
	h.io.Lock()
	defer h.io.Unlock()
	return fn(h.proc)
}

// Busy reports whether a caller currently holds the I/O channel.
func (h *Handle) Busy() bool {
	if h.io.TryLock() {
		h.io.Unlock()
		return false
	}
	return true
}

// Info is a snapshot of a registered session.
type Info struct {
	SessionID string    `json:"session_id"`
	PID       int       `json:"pid"`
	State     string    `json:"state"`
	Busy      bool      `json:"busy"`
	StartedAt time.Time `json:"started_at"`
}

// Info returns a snapshot of the handle.
func (h *Handle) Info() Info {
	return Info{
		SessionID: h.proc.SessionID(),
		PID:       h.proc.PID(),
		State:     h.proc.State().String(),
		Busy:      h.Busy(),
		StartedAt: h.startedAt,
	}
}

type startFunc func(process.LaunchConfig, *logging.Logger) (*process.AgentProcess, error)

// Registry maps session ids to running agent processes.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Handle

	// spawnMu serializes spawn and terminate against each other.
	spawnMu sync.Mutex

	start startFunc
	log   *logging.Logger
}

// New creates an empty registry.
func New(log *logging.Logger) *Registry {
	if log == nil {
		log = logging.Nop()
	}
	return &Registry{
		sessions: make(map[string]*Handle),
		start:    process.Start,
		log:      log,
	}
}

// Spawn starts a process for cfg.SessionID. If one is already registered
// and still running it is returned unchanged and nothing new is started.
func (r *Registry) Spawn(cfg process.LaunchConfig) (*Handle, error) {
	r.spawnMu.Lock()
	defer r.spawnMu.Unlock()

	if h, ok := r.lookup(cfg.SessionID); ok {
		if h.proc.Running() {
			return h, nil
		}
		// Exited but not yet reaped by its watcher. A caller may still be
		// draining buffered output.
		r.remove(h)
		h.io.Lock()
		h.proc.Close()
		h.io.Unlock()
	}

	proc, err := r.start(cfg, r.log)
	if err != nil {
		r.log.Error("spawn failed", map[string]any{
			"session_id": cfg.SessionID,
			"error":      err.Error(),
		})
		return nil, err
	}

	h := &Handle{proc: proc, startedAt: time.Now()}
	r.mu.Lock()
	r.sessions[cfg.SessionID] = h
	r.mu.Unlock()

	go r.watch(h)
	return h, nil
}

// Get returns the handle for a session. It never spawns.
func (r *Registry) Get(sessionID string) (*Handle, error) {
	h, ok := r.lookup(sessionID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, sessionID)
	}
	return h, nil
}

// HasSession reports whether a process is registered for the session.
func (r *Registry) HasSession(sessionID string) bool {
	_, ok := r.lookup(sessionID)
	return ok
}

// List returns the registered session ids in sorted order.
func (r *Registry) List() []string {
	r.mu.RLock()
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	r.mu.RUnlock()
	sort.Strings(ids)
	return ids
}

// Infos returns snapshots of every registered session, sorted by id.
func (r *Registry) Infos() []Info {
	r.mu.RLock()
	handles := make([]*Handle, 0, len(r.sessions))
	for _, h := range r.sessions {
		handles = append(handles, h)
	}
	r.mu.RUnlock()

	infos := make([]Info, 0, len(handles))
	for _, h := range handles {
		infos = append(infos, h.Info())
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].SessionID < infos[j].SessionID })
	return infos
}

// Terminate removes the session and shuts its process down. Callers must
// have released the handle's I/O channel: a session still inside Exchange
// yields ErrBusy and is left untouched. Unknown sessions yield ErrNotFound.
//
// A failing force-kill is logged; the session is removed regardless.
func (r *Registry) Terminate(sessionID string) error {
	r.spawnMu.Lock()
	defer r.spawnMu.Unlock()

	h, ok := r.lookup(sessionID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, sessionID)
	}
	if !h.io.TryLock() {
		return fmt.Errorf("%w: %s", ErrBusy, sessionID)
	}
	defer h.io.Unlock()

	r.remove(h)
	if err := h.proc.Shutdown(); err != nil {
		r.log.Error("shutdown failed, session removed anyway", map[string]any{
			"session_id": sessionID,
			"error":      err.Error(),
		})
	}
	r.log.Info("session terminated", map[string]any{"session_id": sessionID})
	return nil
}

// Shutdown terminates every session concurrently, ignoring I/O holders. It
// returns ctx.Err() if the processes are not all down before ctx ends.
func (r *Registry) Shutdown(ctx context.Context) error {
	r.spawnMu.Lock()
	r.mu.Lock()
	handles := make([]*Handle, 0, len(r.sessions))
	for _, h := range r.sessions {
		handles = append(handles, h)
	}
	r.sessions = make(map[string]*Handle)
	r.mu.Unlock()
	r.spawnMu.Unlock()

	if len(handles) == 0 {
		return nil
	}

	var wg sync.WaitGroup
	for _, h := range handles {
		wg.Add(1)
		go func(h *Handle) {
			defer wg.Done()
			if err := h.proc.Shutdown(); err != nil {
				r.log.Error("shutdown failed", map[string]any{
					"session_id": h.SessionID(),
					"error":      err.Error(),
				})
			}
		}(h)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.log.Info("all sessions shut down", map[string]any{"count": len(handles)})
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Registry) lookup(sessionID string) (*Handle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.sessions[sessionID]
	return h, ok
}

// remove deletes h if it is still the registered handle for its session.
func (r *Registry) remove(h *Handle) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := h.SessionID()
	if cur, ok := r.sessions[id]; ok && cur == h {
		delete(r.sessions, id)
		return true
	}
	return false
}

// watch drops the session when its process exits on its own.
func (r *Registry) watch(h *Handle) {
	<-h.proc.Done()
	if !r.remove(h) {
		return
	}
	fields := map[string]any{"session_id": h.SessionID()}
	if err := h.proc.ExitErr(); err != nil {
		fields["error"] = err.Error()
	}
	r.log.Warn("agent process exited, session removed", fields)

	// A caller may still be draining buffered output.
	h.io.Lock()
	defer h.io.Unlock()
	h.proc.Close()
}
