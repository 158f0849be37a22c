package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
)

var (
	ErrUnknownTool   = errors.New("unknown tool")
	ErrAlreadyExists = errors.New("tool already registered")
	ErrEmptyName     = errors.New("tool name is empty")
)

// Handler implements one in-process tool. A returned error becomes an Error
// result; handlers signal permission requests with PermissionRequired.
type Handler func(ctx context.Context, sessionID string, args json.RawMessage) (Result, error)

// Func adapts a plain text-producing function into a Handler.
func Func(fn func(ctx context.Context, args json.RawMessage) (string, error)) Handler {
	return func(ctx context.Context, _ string, args json.RawMessage) (Result, error) {
		out, err := fn(ctx, args)
		if err != nil {
			return Result{}, err
		}
		return Result{Status: StatusSuccess, Output: out}, nil
	}
}

// FuncInvoker dispatches calls to handlers registered by name.
type FuncInvoker struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewFuncInvoker creates an empty invoker.
func NewFuncInvoker() *FuncInvoker {
	return &FuncInvoker{handlers: make(map[string]Handler)}
}

// Register adds a handler. Names must be unique.
func (f *FuncInvoker) Register(name string, h Handler) error {
	if name == "" {
		return ErrEmptyName
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if _, exists := f.handlers[name]; exists {
		return fmt.Errorf("%w: %s", ErrAlreadyExists, name)
	}
	f.handlers[name] = h
	return nil
}

// Names returns the registered tool names, sorted.
func (f *FuncInvoker) Names() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()

	names := make([]string, 0, len(f.handlers))
	for name := range f.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Invoke runs the handler registered for call.Name. Unknown tools yield
// ErrUnknownTool.
func (f *FuncInvoker) Invoke(ctx context.Context, sessionID string, call Call) (Result, error) {
	f.mu.RLock()
	h, exists := f.handlers[call.Name]
	f.mu.RUnlock()

	if !exists {
		return Result{}, fmt.Errorf("%w: %s", ErrUnknownTool, call.Name)
	}

	res, err := h(ctx, sessionID, call.Arguments)
	if err != nil {
		return Failure(call.ID, err.Error()), nil
	}
	res.ID = call.ID
	if res.Status == "" {
		res.Status = StatusSuccess
	}
	return res, nil
}
