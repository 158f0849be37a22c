// Package process owns a single backend agent subprocess speaking the
// newline-delimited JSON protocol on its standard streams.
package process

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"phobos.org.uk/agentbridge/internal/logging"
	"phobos.org.uk/agentbridge/internal/stream"
)

var (
	// ErrExecutableNotFound means the backend executable could not be resolved.
	ErrExecutableNotFound = errors.New("agent executable not found")
	// ErrSpawn means the OS refused to start the process.
	ErrSpawn = errors.New("spawning agent process")
	// ErrStreamCapture means the standard streams could not be attached.
	ErrStreamCapture = errors.New("capturing agent streams")
	// ErrNotRunning is returned by writes after shutdown began.
	ErrNotRunning = errors.New("agent process is not running")
)

// State is the shutdown state of a process.
type State int32

const (
	StateRunning State = iota
	StateShuttingDown
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateShuttingDown:
		return "shutting_down"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// ShutdownGrace is how long Shutdown waits for the backend to exit after its
// input is closed before force-terminating it.
const ShutdownGrace = 5 * time.Second

// waitDelay bounds how long reaping waits for stray descendants holding
// stderr open.
const waitDelay = time.Second

const stderrTailSize = 8 * 1024

// AgentProcess is one running backend. Reads and writes are not synchronized
// here; the registry hands out exclusive access.
type AgentProcess struct {
	sessionID string
	cmd       *exec.Cmd
	stdin     io.WriteCloser
	stdout    *os.File
	reader    *stream.LineReader
	stderr    *tailBuffer
	log       *logging.SessionLogger

	mu                sync.Mutex
	state             State
	shutdownAttempted bool

	exited  chan struct{}
	waitErr error

	grace time.Duration
	kill  func() error
	kills atomic.Int32
}

// Start launches the backend described by cfg.
func Start(cfg LaunchConfig, log *logging.Logger) (*AgentProcess, error) {
	if log == nil {
		log = logging.Nop()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSpawn, err)
	}

	path, err := exec.LookPath(cfg.Bin)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrExecutableNotFound, cfg.Bin, err)
	}

	cmd := exec.Command(path, cfg.Args()...)
	cmd.Dir = cfg.WorkDir
	cmd.Env = cfg.Environ()
	cmd.WaitDelay = waitDelay
	setupProcessGroup(cmd)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: stdin: %v", ErrStreamCapture, err)
	}

	// Stdout goes through our own pipe so that reaping the process never
	// closes the read end underneath a reader.
	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		stdin.Close()
		return nil, fmt.Errorf("%w: stdout: %v", ErrStreamCapture, err)
	}
	cmd.Stdout = stdoutW

	tail := newTailBuffer(stderrTailSize)
	cmd.Stderr = tail

	if err := cmd.Start(); err != nil {
		stdin.Close()
		stdoutR.Close()
		stdoutW.Close()
		if errors.Is(err, exec.ErrNotFound) || errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s: %v", ErrExecutableNotFound, path, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrSpawn, err)
	}
	// The child holds its own copy of the write end.
	stdoutW.Close()

	p := &AgentProcess{
		sessionID: cfg.SessionID,
		cmd:       cmd,
		stdin:     stdin,
		stdout:    stdoutR,
		reader:    stream.NewLineReader(stdoutR),
		stderr:    tail,
		log:       log.WithSession(cfg.SessionID),
		state:     StateRunning,
		exited:    make(chan struct{}),
		grace:     ShutdownGrace,
	}
	p.kill = func() error { return killProcessGroup(cmd) }

	go p.wait()

	p.log.Info("agent process started", map[string]any{
		"pid":       cmd.Process.Pid,
		"bin":       path,
		"work_dir":  cfg.WorkDir,
		"ephemeral": cfg.Ephemeral,
	})
	return p, nil
}

func (p *AgentProcess) wait() {
	err := p.cmd.Wait()
	p.waitErr = err
	close(p.exited)

	fields := map[string]any{"pid": p.cmd.Process.Pid}
	if err != nil {
		fields["error"] = err.Error()
		if tail := p.stderr.String(); tail != "" {
			fields["stderr_tail"] = tail
		}
	}
	p.log.Info("agent process exited", fields)
}

// SessionID returns the session this process serves.
func (p *AgentProcess) SessionID() string {
	return p.sessionID
}

// PID returns the OS process id.
func (p *AgentProcess) PID() int {
	return p.cmd.Process.Pid
}

// State returns the current shutdown state.
func (p *AgentProcess) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// ShutdownAttempted reports whether orderly shutdown (or the safety-net
// kill) has already run.
func (p *AgentProcess) ShutdownAttempted() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.shutdownAttempted
}

// Running reports, without blocking, whether the OS process is still alive.
func (p *AgentProcess) Running() bool {
	select {
	case <-p.exited:
		return false
	default:
		return true
	}
}

// Done is closed once the OS process has exited and been reaped.
func (p *AgentProcess) Done() <-chan struct{} {
	return p.exited
}

// ExitErr returns the wait error once Done is closed.
func (p *AgentProcess) ExitErr() error {
	select {
	case <-p.exited:
		return p.waitErr
	default:
		return nil
	}
}

// Stderr returns the most recent stderr output.
func (p *AgentProcess) Stderr() string {
	return p.stderr.String()
}

// WriteLine encodes v as JSON and writes it as one line to the backend.
func (p *AgentProcess) WriteLine(v any) error {
	if p.State() != StateRunning {
		return ErrNotRunning
	}
	if err := stream.WriteLine(p.stdin, v); err != nil {
		return fmt.Errorf("writing to agent: %w", err)
	}
	return nil
}

// ReadLine consumes one line of backend output. ok is false at end of
// stream, which is not an error.
func (p *AgentProcess) ReadLine() (line []byte, ok bool, err error) {
	line, ok, err = p.reader.ReadLine()
	if err != nil {
		return nil, false, fmt.Errorf("reading from agent: %w", err)
	}
	return line, ok, nil
}

// Shutdown stops the backend: input is closed so the backend sees EOF, the
// process gets ShutdownGrace to exit, and is force-terminated after that.
// The process ends Terminated on every path. Calling Shutdown again is a
// no-op. A failing force-kill is logged and returned.
func (p *AgentProcess) Shutdown() error {
	p.mu.Lock()
	if p.state != StateRunning {
		p.mu.Unlock()
		return nil
	}
	p.state = StateShuttingDown
	p.shutdownAttempted = true
	p.mu.Unlock()

	defer p.finish()

	p.stdin.Close()

	timer := time.NewTimer(p.grace)
	defer timer.Stop()

	select {
	case <-p.exited:
		p.log.Info("agent process shut down", map[string]any{"forced": false})
		return nil
	case <-timer.C:
	}

	p.log.Warn("agent process ignored EOF, forcing termination", map[string]any{
		"grace_seconds": p.grace.Seconds(),
	})
	if err := p.forceKill(); err != nil {
		p.log.Error("force termination failed", map[string]any{"error": err.Error()})
		return fmt.Errorf("force-terminating agent: %w", err)
	}

	// Reaping after SIGKILL is prompt; bounded anyway.
	select {
	case <-p.exited:
	case <-time.After(waitDelay):
	}
	p.log.Info("agent process shut down", map[string]any{"forced": true})
	return nil
}

// Close is the safety net for handles released without Shutdown: it
// force-terminates immediately without waiting. It does nothing if Shutdown
// (or a previous Close) already ran, so a process is never killed twice.
func (p *AgentProcess) Close() {
	p.mu.Lock()
	if p.shutdownAttempted {
		p.mu.Unlock()
		return
	}
	p.shutdownAttempted = true
	p.state = StateShuttingDown
	p.mu.Unlock()

	defer p.finish()

	p.stdin.Close()
	if !p.Running() {
		return
	}
	p.log.Warn("agent process released without shutdown, killing", nil)
	if err := p.forceKill(); err != nil {
		p.log.Error("force termination failed", map[string]any{"error": err.Error()})
	}
}

func (p *AgentProcess) forceKill() error {
	p.kills.Add(1)
	return p.kill()
}

func (p *AgentProcess) finish() {
	p.mu.Lock()
	p.state = StateTerminated
	p.mu.Unlock()
	p.stdout.Close()
}

// tailBuffer keeps the last n bytes written to it.
type tailBuffer struct {
	mu  sync.Mutex
	buf []byte
	n   int
}

func newTailBuffer(n int) *tailBuffer {
	return &tailBuffer{n: n}
}

func (t *tailBuffer) Write(b []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf = append(t.buf, b...)
	if over := len(t.buf) - t.n; over > 0 {
		t.buf = append(t.buf[:0], t.buf[over:]...)
	}
	return len(b), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return string(t.buf)
}
