package term

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/plue/termcore/internal/config"
	"github.com/plue/termcore/internal/logging"
	"github.com/plue/termcore/internal/monitoring"
)

// SessionInfo is the public representation of a session.
type SessionInfo struct {
	ID         string    `json:"id"`
	Shell      string    `json:"shell"`
	State      string    `json:"state"`
	Cols       uint16    `json:"cols"`
	Rows       uint16    `json:"rows"`
	PID        int       `json:"pid,omitempty"`
	StartedAt  time.Time `json:"started_at,omitempty"`
	ExitStatus *int      `json:"exit_status,omitempty"`
	Buffered   int       `json:"buffered"`
}

// Info returns a point-in-time snapshot of the session.
func (s *Session) Info() SessionInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reapLocked()

	var exit *int
	if s.exitStatus != nil {
		code := *s.exitStatus
		exit = &code
	}
	return SessionInfo{
		ID:         s.opts.ID,
		Shell:      s.opts.Shell,
		State:      s.state.String(),
		Cols:       s.size.Cols,
		Rows:       s.size.Rows,
		PID:        s.pid,
		StartedAt:  s.startedAt,
		ExitStatus: exit,
		Buffered:   s.out.Len(),
	}
}

// Manager tracks independent terminal sessions keyed by ID. Sessions
// share nothing with each other; the manager only provides lookup,
// defaults, and bulk teardown.
type Manager struct {
	sessions sync.Map // map[string]*Session
	defaults config.TerminalConfig
	log      *logging.Logger
	metrics  *monitoring.Metrics
}

// NewManager creates a session manager. logger may be nil; metrics may be
// nil to disable instrumentation.
func NewManager(defaults config.TerminalConfig, logger *logging.Logger, metrics *monitoring.Metrics) *Manager {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Manager{
		defaults: defaults,
		log:      logger.Named("term"),
		metrics:  metrics,
	}
}

// Create builds a session from opts merged with the manager defaults and
// starts it. On start failure all partially-acquired resources are
// released and nothing is registered.
func (m *Manager) Create(opts Options) (*Session, error) {
	if opts.Shell == "" {
		opts.Shell = m.defaults.Shell
	}
	if opts.Cols == 0 {
		opts.Cols = m.defaults.Cols
	}
	if opts.Rows == 0 {
		opts.Rows = m.defaults.Rows
	}
	if opts.BufferCapacity <= 0 {
		opts.BufferCapacity = m.defaults.BufferCapacity
	}
	if opts.StopGrace <= 0 {
		opts.StopGrace = m.defaults.StopGrace
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = m.defaults.WriteTimeout
	}
	if opts.Logger == nil {
		opts.Logger = m.log
	}
	if opts.Metrics == nil {
		opts.Metrics = m.metrics
	}

	session := NewSession(opts)
	if err := session.Start(); err != nil {
		session.Close()
		return nil, fmt.Errorf("failed to start session: %w", err)
	}

	m.sessions.Store(session.ID(), session)
	return session, nil
}

// Get retrieves a session by ID.
func (m *Manager) Get(sessionID string) (*Session, error) {
	value, ok := m.sessions.Load(sessionID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, sessionID)
	}
	return value.(*Session), nil
}

// List returns snapshots of all tracked sessions.
func (m *Manager) List() []SessionInfo {
	var infos []SessionInfo
	m.sessions.Range(func(_, value interface{}) bool {
		infos = append(infos, value.(*Session).Info())
		return true
	})
	return infos
}

// Count returns the number of tracked sessions.
func (m *Manager) Count() int {
	n := 0
	m.sessions.Range(func(_, _ interface{}) bool {
		n++
		return true
	})
	return n
}

// Stop terminates a session's child but keeps the session registered, so
// its buffered output and exit status remain queryable (and Start may
// re-spawn it).
func (m *Manager) Stop(sessionID string) error {
	session, err := m.Get(sessionID)
	if err != nil {
		return err
	}
	return session.Stop()
}

// Remove closes a session and drops it from the registry.
func (m *Manager) Remove(sessionID string) error {
	value, ok := m.sessions.LoadAndDelete(sessionID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, sessionID)
	}
	return value.(*Session).Close()
}

// CloseAll tears down every session. Used at daemon shutdown.
func (m *Manager) CloseAll() {
	m.sessions.Range(func(key, value interface{}) bool {
		session := value.(*Session)
		if err := session.Close(); err != nil {
			m.log.Warn("failed to close session",
				zap.String("session_id", session.ID()),
				zap.Error(err),
			)
		}
		m.sessions.Delete(key)
		return true
	})
}
