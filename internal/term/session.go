package term

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/plue/termcore/internal/logging"
	"github.com/plue/termcore/internal/monitoring"
	"github.com/plue/termcore/internal/pty"
	"github.com/plue/termcore/internal/shared/id"
)

// State is the lifecycle state of a Session.
type State int

const (
	// StateUninitialized is the terminal state after Close; a closed
	// session must not be reused.
	StateUninitialized State = iota
	// StateIdle means the session holds no OS resources yet.
	StateIdle
	// StateRunning means a child process is attached to a live pty.
	StateRunning
	// StateStopped means the child has exited or was stopped; Start may
	// re-spawn.
	StateStopped
	// StateFailed means the last Start could not acquire its resources.
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

const readChunk = 4096

// Options configures a new Session. Zero values take the documented
// defaults.
type Options struct {
	// ID identifies the session; generated when empty.
	ID string

	// Shell is the executable to spawn (default $SHELL, then /bin/sh).
	Shell string

	// Args are extra arguments passed to the shell.
	Args []string

	// Dir is the child's working directory.
	Dir string

	// Env are additional KEY=VALUE pairs appended to the inherited
	// environment.
	Env []string

	// Cols and Rows set the initial geometry (default 80x24).
	Cols uint16
	Rows uint16

	// BufferCapacity bounds the output buffer in bytes (default 1 MiB).
	BufferCapacity int

	// StopGrace is how long Stop waits after SIGTERM before SIGKILL
	// (default 500ms).
	StopGrace time.Duration

	// WriteTimeout bounds how long Write waits for the pty to drain
	// (default 5s).
	WriteTimeout time.Duration

	Logger  *logging.Logger
	Metrics *monitoring.Metrics
}

func (o *Options) applyDefaults() {
	if o.ID == "" {
		o.ID = string(id.NewTerminalID())
	}
	if o.Shell == "" {
		o.Shell = os.Getenv("SHELL")
		if o.Shell == "" {
			o.Shell = "/bin/sh"
		}
	}
	if o.Cols == 0 {
		o.Cols = 80
	}
	if o.Rows == 0 {
		o.Rows = 24
	}
	if o.BufferCapacity <= 0 {
		o.BufferCapacity = 1 << 20
	}
	if o.StopGrace <= 0 {
		o.StopGrace = 500 * time.Millisecond
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 5 * time.Second
	}
	if o.Logger == nil {
		o.Logger = logging.NewNop()
	}
}

// Session owns one pty-backed child process. See the package documentation
// for the lifecycle and threading contract.
type Session struct {
	mu sync.Mutex

	opts  Options
	state State
	size  pty.Size

	dev        *pty.Device
	cmd        *exec.Cmd
	pid        int
	startedAt  time.Time
	exitStatus *int

	out     *Buffer
	scratch []byte

	log     *logging.Logger
	metrics *monitoring.Metrics
}

// NewSession allocates the in-memory session structures. No OS resources
// are acquired until Start.
func NewSession(opts Options) *Session {
	opts.applyDefaults()
	return &Session{
		opts:    opts,
		state:   StateIdle,
		size:    pty.Size{Cols: opts.Cols, Rows: opts.Rows},
		out:     NewBuffer(opts.BufferCapacity),
		scratch: make([]byte, readChunk),
		log:     opts.Logger.With(zap.String("session_id", opts.ID)),
		metrics: opts.Metrics,
	}
}

// ID returns the session identifier.
func (s *Session) ID() string {
	return s.opts.ID
}

// Shell returns the configured shell executable.
func (s *Session) Shell() string {
	return s.opts.Shell
}

// Start allocates a pty device and spawns the shell attached to its slave
// side. Valid from Idle and Stopped; Running yields ErrAlreadyRunning and
// leaves the existing child untouched.
func (s *Session) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.reapLocked()
	switch s.state {
	case StateRunning:
		return ErrAlreadyRunning
	case StateUninitialized:
		return ErrSessionClosed
	case StateFailed:
		return fmt.Errorf("%w: cannot start from %s", ErrInvalidState, s.state)
	}

	dev, err := pty.Open(s.size)
	if err != nil {
		s.state = StateFailed
		if s.metrics != nil {
			s.metrics.SpawnFailures.Inc()
		}
		return err
	}

	cmd := exec.Command(s.opts.Shell, s.opts.Args...)
	cmd.Dir = s.opts.Dir
	cmd.Env = append(os.Environ(), "TERM=xterm-256color")
	cmd.Env = append(cmd.Env, s.opts.Env...)

	if err := dev.AttachCommand(cmd); err != nil {
		dev.Release()
		s.state = StateFailed
		return err
	}

	if err := cmd.Start(); err != nil {
		dev.Release()
		s.state = StateFailed
		if s.metrics != nil {
			s.metrics.SpawnFailures.Inc()
		}
		return &SpawnError{Err: err}
	}

	// The child holds the only remaining slave reference; its exit turns
	// master reads into ErrClosed.
	dev.CloseSlave()

	s.dev = dev
	s.cmd = cmd
	s.pid = cmd.Process.Pid
	s.exitStatus = nil
	s.out.Reset()
	s.startedAt = time.Now()
	s.state = StateRunning

	if s.metrics != nil {
		s.metrics.SessionsActive.Inc()
		s.metrics.SessionsTotal.Inc()
	}
	s.log.Info("session started",
		zap.String("shell", s.opts.Shell),
		zap.Int("pid", s.pid),
		zap.String("pty", dev.SlavePath()),
		zap.Uint16("cols", s.size.Cols),
		zap.Uint16("rows", s.size.Rows),
	)
	return nil
}

// Write delivers p to the child in full, retrying short writes until the
// pty accepts everything or a fatal error occurs. Valid only while
// Running.
func (s *Session) Write(p []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateRunning {
		return ErrNotRunning
	}

	total := 0
	for len(p) > 0 {
		n, err := s.dev.Write(p)
		p = p[n:]
		total += n
		if err == nil {
			continue
		}

		switch {
		case errors.Is(err, pty.ErrWouldBlock):
			if werr := s.dev.WaitWritable(s.opts.WriteTimeout); werr != nil {
				if errors.Is(werr, pty.ErrClosed) {
					s.deviceClosedLocked()
					return pty.ErrClosed
				}
				return fmt.Errorf("term: write stalled beyond %s: %w", s.opts.WriteTimeout, werr)
			}
		case errors.Is(err, pty.ErrClosed):
			s.deviceClosedLocked()
			return pty.ErrClosed
		default:
			return err
		}
	}

	if s.metrics != nil && total > 0 {
		s.metrics.BytesWritten.Add(float64(total))
	}
	return nil
}

// SendText encodes text and forwards it to Write. Line-ending policy is
// the caller's: nothing is appended.
func (s *Session) SendText(text string) error {
	return s.Write([]byte(text))
}

// Poll performs one non-blocking read from the pty and appends the bytes
// to the output buffer, evicting the oldest on overflow. It also observes
// child exit, so driving Poll periodically is enough to keep IsRunning
// and ExitStatus fresh. Returns the number of bytes buffered.
func (s *Session) Poll() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.reapLocked()
	if s.dev == nil {
		return 0, nil
	}

	n, err := s.dev.Read(s.scratch)
	if n > 0 {
		evicted := s.out.Write(s.scratch[:n])
		if s.metrics != nil {
			s.metrics.BytesRead.Add(float64(n))
			if evicted > 0 {
				s.metrics.OutputDropped.Add(float64(evicted))
			}
		}
	}

	switch {
	case err == nil, errors.Is(err, pty.ErrWouldBlock):
		return n, nil
	case errors.Is(err, pty.ErrClosed):
		s.deviceClosedLocked()
		return n, nil
	default:
		s.log.Warn("pty read failed", zap.Error(err))
		s.deviceClosedLocked()
		return n, err
	}
}

// Read fills p with buffered output first, then tops up with one live
// non-blocking read so callers see the freshest data available in a
// single call. Zero bytes means "no data yet", not session end; consult
// IsRunning and ExitStatus for that.
func (s *Session) Read(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateUninitialized {
		return 0, ErrSessionClosed
	}

	n := s.out.Read(p)
	if s.dev != nil && n < len(p) {
		m, err := s.dev.Read(p[n:])
		n += m
		if m > 0 && s.metrics != nil {
			s.metrics.BytesRead.Add(float64(m))
		}
		if err != nil && !errors.Is(err, pty.ErrWouldBlock) {
			if errors.Is(err, pty.ErrClosed) {
				s.deviceClosedLocked()
			} else {
				s.log.Warn("pty read failed", zap.Error(err))
				s.deviceClosedLocked()
			}
		}
	}
	return n, nil
}

// Buffered returns the number of output bytes awaiting Read.
func (s *Session) Buffered() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.out.Len()
}

// Resize updates the terminal geometry. While Idle or Stopped the size is
// recorded and applied at the next Start; while Running it is applied
// immediately. Zero rows or columns are rejected and leave the geometry
// unchanged.
func (s *Session) Resize(cols, rows uint16) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cols == 0 || rows == 0 {
		return fmt.Errorf("%w: geometry %dx%d", pty.ErrInvalidArgument, cols, rows)
	}

	switch s.state {
	case StateUninitialized:
		return ErrSessionClosed
	case StateRunning:
		if err := s.dev.Resize(cols, rows); err != nil {
			return err
		}
	}

	s.size = pty.Size{Cols: cols, Rows: rows}
	return nil
}

// Size returns the current geometry (pending geometry while not Running).
func (s *Session) Size() (cols, rows uint16) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.size.Cols, s.size.Rows
}

// Stop terminates the child: SIGTERM to its process group, a bounded
// grace period for a clean exit, SIGKILL if it is still alive, then a
// reap so no zombie remains. The pty device is released. Idempotent when
// the session is not Running.
func (s *Session) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateUninitialized {
		return ErrSessionClosed
	}
	if s.state != StateRunning {
		return nil
	}
	s.terminateLocked()
	return nil
}

// Close releases every resource the session holds, stopping the child
// first when one is running. Valid from any state; afterwards the session
// is terminal and must not be reused.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateUninitialized {
		return nil
	}
	if s.state == StateRunning {
		s.terminateLocked()
	}
	if s.dev != nil {
		s.dev.Release()
		s.dev = nil
	}
	s.out.Reset()
	s.state = StateUninitialized
	return nil
}

// IsRunning reports whether the child process is alive. Never blocks.
func (s *Session) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reapLocked()
	return s.state == StateRunning
}

// ExitStatus returns the child's exit code once it has terminated, nil
// while running. Signal deaths are reported as 128+signal. Never blocks.
func (s *Session) ExitStatus() *int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reapLocked()
	if s.exitStatus == nil {
		return nil
	}
	code := *s.exitStatus
	return &code
}

// PID returns the child process ID, or 0 when no child has been spawned.
func (s *Session) PID() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pid
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reapLocked()
	return s.state
}

// terminateLocked kills and reaps the running child, then releases the
// device. Caller holds s.mu and has checked state == StateRunning.
func (s *Session) terminateLocked() {
	_ = unix.Kill(-s.pid, unix.SIGTERM)

	deadline := time.Now().Add(s.opts.StopGrace)
	for s.exitStatus == nil && time.Now().Before(deadline) {
		s.reapLocked()
		if s.exitStatus != nil {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	if s.exitStatus == nil {
		_ = unix.Kill(-s.pid, unix.SIGKILL)
		killDeadline := time.Now().Add(time.Second)
		for s.exitStatus == nil && time.Now().Before(killDeadline) {
			s.reapLocked()
			if s.exitStatus != nil {
				break
			}
			time.Sleep(5 * time.Millisecond)
		}
		if s.exitStatus == nil {
			s.log.Warn("child did not exit after SIGKILL", zap.Int("pid", s.pid))
		}
	}

	if s.dev != nil {
		s.dev.Release()
		s.dev = nil
	}
	if s.state == StateRunning {
		s.state = StateStopped
		if s.metrics != nil {
			s.metrics.SessionsActive.Dec()
		}
	}
	s.log.Info("session stopped", zap.Int("pid", s.pid))
}

// reapLocked collects the child's exit status without blocking (WNOHANG).
// Safe to call in any state; a no-op once the status is recorded.
func (s *Session) reapLocked() {
	if s.pid <= 0 || s.exitStatus != nil {
		return
	}

	var ws unix.WaitStatus
	wpid, err := unix.Wait4(s.pid, &ws, unix.WNOHANG, nil)
	if err != nil {
		if errors.Is(err, unix.ECHILD) {
			// Reaped elsewhere (e.g. a host SIGCHLD handler); the exact
			// code is unrecoverable.
			code := -1
			s.exitStatus = &code
			s.childExitedLocked()
		}
		return
	}
	if wpid != s.pid {
		return
	}

	code := -1
	switch {
	case ws.Exited():
		code = ws.ExitStatus()
	case ws.Signaled():
		code = 128 + int(ws.Signal())
	}
	s.exitStatus = &code
	s.childExitedLocked()
}

// childExitedLocked transitions Running to Stopped once the child is
// gone. The device stays open so trailing output remains readable until
// the master reports closed.
func (s *Session) childExitedLocked() {
	if s.state != StateRunning {
		return
	}
	s.state = StateStopped
	if s.metrics != nil {
		s.metrics.SessionsActive.Dec()
	}
	s.log.Info("child exited", zap.Int("pid", s.pid), zap.Intp("exit_status", s.exitStatus))
}

// deviceClosedLocked releases the device after the master reported
// closed, and folds in any pending exit status.
func (s *Session) deviceClosedLocked() {
	if s.dev != nil {
		s.dev.Release()
		s.dev = nil
	}
	s.reapLocked()
	if s.state == StateRunning {
		s.state = StateStopped
		if s.metrics != nil {
			s.metrics.SessionsActive.Dec()
		}
	}
}
