// Package bridge assembles the runtime: the session registry, the model
// client, the turn orchestrator and the turn archive, configured from a
// config.Config.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/google/uuid"
	"phobos.org.uk/agentbridge/internal/config"
	"phobos.org.uk/agentbridge/internal/conversation"
	"phobos.org.uk/agentbridge/internal/history"
	"phobos.org.uk/agentbridge/internal/logging"
	"phobos.org.uk/agentbridge/internal/model"
	"phobos.org.uk/agentbridge/internal/process"
	"phobos.org.uk/agentbridge/internal/registry"
	"phobos.org.uk/agentbridge/internal/tools"
)

var (
	// ErrTurnInProgress means the session is already running a turn.
	ErrTurnInProgress = errors.New("turn in progress")
	// ErrInvalidSessionID means a caller-supplied session id was refused.
	ErrInvalidSessionID = errors.New("invalid session id")
	// ErrNoTurn means the session is not running a turn.
	ErrNoTurn = errors.New("no turn in progress")
)

// Option configures a Bridge.
type Option func(*Bridge)

// WithInvoker replaces the tool invoker derived from configuration.
func WithInvoker(inv tools.Invoker) Option {
	return func(b *Bridge) { b.invoker = inv }
}

// WithObserver registers a live update callback on every turn.
func WithObserver(fn conversation.Observer) Option {
	return func(b *Bridge) { b.observer = fn }
}

// Bridge owns the sessions of one bridge instance.
type Bridge struct {
	cfg      *config.Config
	log      *logging.Logger
	reg      *registry.Registry
	orch     *conversation.Orchestrator
	history  *history.Store
	invoker  tools.Invoker
	observer conversation.Observer

	mu      sync.Mutex
	inTurn  map[string]bool
	closing map[string]bool
}

// New wires a bridge from cfg. A failing turn archive is logged and
// disabled rather than failing startup.
func New(cfg *config.Config, log *logging.Logger, opts ...Option) *Bridge {
	if log == nil {
		log = logging.Nop()
	}

	b := &Bridge{
		cfg:     cfg,
		log:     log,
		reg:     registry.New(log),
		inTurn:  make(map[string]bool),
		closing: make(map[string]bool),
	}
	if cfg.Tools.URL != "" {
		b.invoker = tools.NewHTTPInvoker(cfg.Tools.URL, cfg.Tools.Timeout)
	}
	for _, opt := range opts {
		opt(b)
	}

	if cfg.HistoryDir != "" {
		store, err := history.NewStore(cfg.HistoryDir)
		if err != nil {
			log.Warn("failed to initialize history store", map[string]any{"error": err.Error()})
		} else {
			b.history = store
		}
	}

	b.orch = conversation.New(
		model.New(b.reg, log),
		b.invoker,
		conversation.Limits{
			MaxTurnRequests:  cfg.Limits.MaxTurnRequests,
			MaxTokensPerTurn: cfg.Limits.MaxTokensPerTurn,
		},
		conversation.WithStreaming(cfg.Backend.Streaming),
		conversation.WithCancelReset(false),
		conversation.WithObserver(b.observer),
		conversation.WithLogger(log),
	)
	return b
}

// Config returns the configuration the bridge was built from.
func (b *Bridge) Config() *config.Config { return b.cfg }

// Logger returns the bridge logger.
func (b *Bridge) Logger() *logging.Logger { return b.log }

// Registry returns the session registry.
func (b *Bridge) Registry() *registry.Registry { return b.reg }

// History returns the turn archive, or nil when it is disabled.
func (b *Bridge) History() *history.Store { return b.history }

// LaunchConfig translates the backend configuration for one session.
func (b *Bridge) LaunchConfig(sessionID string) process.LaunchConfig {
	be := b.cfg.Backend
	lc := process.LaunchConfig{
		SessionID:    sessionID,
		Bin:          be.Bin,
		WorkDir:      filepath.Join(b.cfg.SessionDir, sessionID),
		Mode:         be.Mode,
		SystemPrompt: be.SystemPrompt,
		Ephemeral:    be.Ephemeral,
	}
	for _, p := range be.ToolProviders {
		lc.ToolProviders = append(lc.ToolProviders, process.ToolProvider{
			Name:      p.Name,
			Transport: process.Transport(p.Transport),
			URL:       p.URL,
		})
	}
	return lc
}

// Open spawns the backend for sessionID, minting an id when it is empty.
// Opening a session that is already running returns its handle.
func (b *Bridge) Open(sessionID string) (*registry.Handle, error) {
	if sessionID == "" {
		sessionID = uuid.New().String()
	}
	if !process.ValidSessionID(sessionID) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidSessionID, sessionID)
	}

	lc := b.LaunchConfig(sessionID)
	if err := os.MkdirAll(lc.WorkDir, 0755); err != nil {
		return nil, fmt.Errorf("creating session directory: %w", err)
	}
	return b.reg.Spawn(lc)
}

// Close terminates a session. A session running a turn is refused with
// ErrTurnInProgress. While the session is closing no turn can start on it.
func (b *Bridge) Close(sessionID string) error {
	b.mu.Lock()
	if b.inTurn[sessionID] {
		b.mu.Unlock()
		return ErrTurnInProgress
	}
	b.closing[sessionID] = true
	b.mu.Unlock()

	defer func() {
		b.mu.Lock()
		delete(b.closing, sessionID)
		b.mu.Unlock()
	}()
	return b.reg.Terminate(sessionID)
}

// InTurn reports whether sessionID is running a turn.
func (b *Bridge) InTurn(sessionID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.inTurn[sessionID]
}

// TurnsInProgress returns the sessions currently running a turn, sorted.
func (b *Bridge) TurnsInProgress() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	ids := make([]string, 0, len(b.inTurn))
	for id := range b.inTurn {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// RunTurn runs one turn on an open session and archives its outcome. At most
// one turn runs per session; a second caller gets ErrTurnInProgress. A
// cancellation left over from an earlier turn is discarded when the turn is
// accepted.
func (b *Bridge) RunTurn(ctx context.Context, sessionID, prompt string) (*conversation.TurnResult, error) {
	b.mu.Lock()
	if b.closing[sessionID] || !b.reg.HasSession(sessionID) {
		b.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", registry.ErrNotFound, sessionID)
	}
	if b.inTurn[sessionID] {
		b.mu.Unlock()
		return nil, ErrTurnInProgress
	}
	b.inTurn[sessionID] = true
	b.orch.Cancellations().Clear(sessionID)
	b.mu.Unlock()

	defer func() {
		b.mu.Lock()
		delete(b.inTurn, sessionID)
		b.mu.Unlock()
	}()

	res, err := b.orch.Run(ctx, sessionID, prompt)
	if err != nil {
		return nil, err
	}
	b.archive(res)
	return res, nil
}

// Cancel asks the running turn of sessionID to stop at its next round-trip
// boundary. It fails with ErrNoTurn when the session is idle, so an accepted
// cancellation always applies to a turn that is running.
func (b *Bridge) Cancel(sessionID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.reg.HasSession(sessionID) {
		return fmt.Errorf("%w: %s", registry.ErrNotFound, sessionID)
	}
	if !b.inTurn[sessionID] {
		return fmt.Errorf("%w: %s", ErrNoTurn, sessionID)
	}
	b.orch.Cancellations().Cancel(sessionID)
	b.log.WithSession(sessionID).Info("cancellation requested", nil)
	return nil
}

// Shutdown terminates every session.
func (b *Bridge) Shutdown(ctx context.Context) error {
	return b.reg.Shutdown(ctx)
}

func (b *Bridge) archive(res *conversation.TurnResult) {
	if b.history == nil {
		return
	}
	log := b.log.WithSession(res.SessionID)
	if err := b.history.Save(history.FromTurn(res)); err != nil {
		log.Warn("failed to archive turn", map[string]any{"turn_id": res.TurnID, "error": err.Error()})
		return
	}
	if err := b.history.SaveTranscript(res.TurnID, res.History); err != nil {
		log.Warn("failed to archive transcript", map[string]any{"turn_id": res.TurnID, "error": err.Error()})
	}
}
