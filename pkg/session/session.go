package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jitbridge/jitbridge/pkg/log"
	"github.com/jitbridge/jitbridge/pkg/types"
)

var (
	// ErrTooSoon is returned when a device finished a session inside the
	// cooldown window
	ErrTooSoon = errors.New("activation attempted too soon after last session")

	// ErrNotFound is returned for unknown session IDs
	ErrNotFound = errors.New("session not found")
)

// Config holds session manager settings
type Config struct {
	Cooldown  time.Duration // Minimum gap between terminal and next session per device
	Retention time.Duration // How long terminal sessions stay visible
}

// Handle references one session. Coalesced callers share a handle's
// completion channel and observe the identical outcome.
type Handle struct {
	ID   string
	UDID string
	done <-chan struct{}
}

// Done is closed when the session reaches a terminal state
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

type session struct {
	types.Session
	done chan struct{}
}

// Manager owns every activation session and is the only place session state
// mutates. It guarantees at most one non-terminal session per UDID.
type Manager struct {
	cfg Config

	mu     sync.Mutex
	latest map[string]*session // UDID -> most recent session
	byID   map[string]*session

	stopCh chan struct{}
}

// NewManager creates a session manager
func NewManager(cfg Config) *Manager {
	return &Manager{
		cfg:    cfg,
		latest: make(map[string]*session),
		byID:   make(map[string]*session),
		stopCh: make(chan struct{}),
	}
}

// Start begins the retention sweep loop
func (m *Manager) Start() {
	go m.run()
}

// Stop stops the sweep loop
func (m *Manager) Stop() {
	close(m.stopCh)
}

// Admit resolves an activation request for a device. If a non-terminal
// session exists the caller is attached to it (coalesced=true). If the most
// recent session finished inside the cooldown window the request is rejected
// with ErrTooSoon. Otherwise a fresh Submitted session is created.
func (m *Manager) Admit(udid string) (*Handle, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if prev, ok := m.latest[udid]; ok {
		if !prev.State.Terminal() {
			return handleOf(prev), true, nil
		}
		if since := time.Since(prev.DoneAt); since < m.cfg.Cooldown {
			return nil, false, fmt.Errorf("%s finished %s ago: %w", udid, since.Round(time.Millisecond), ErrTooSoon)
		}
	}

	s := &session{
		Session: types.Session{
			ID:        uuid.New().String(),
			UDID:      udid,
			State:     types.SessionSubmitted,
			CreatedAt: time.Now(),
		},
		done: make(chan struct{}),
	}
	m.latest[udid] = s
	m.byID[s.ID] = s

	logger := log.WithComponent("session")
	logger.Debug().
		Str("session_id", s.ID).
		Str("udid", udid).
		Msg("session admitted")

	return handleOf(s), false, nil
}

// MarkDispatched records that a worker job was created for the session
func (m *Manager) MarkDispatched(sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.byID[sessionID]
	if !ok {
		return fmt.Errorf("%s: %w", sessionID, ErrNotFound)
	}
	if s.State != types.SessionSubmitted {
		return fmt.Errorf("session %s is %s, cannot dispatch", sessionID, s.State)
	}
	s.State = types.SessionDispatched
	return nil
}

// Complete moves a session to its terminal state and wakes every attached
// caller. Completing an already-terminal session is a no-op, which keeps the
// slot-release path idempotent.
func (m *Manager) Complete(sessionID string, outcome types.JobOutcome, detail string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.byID[sessionID]
	if !ok {
		return fmt.Errorf("%s: %w", sessionID, ErrNotFound)
	}
	if s.State.Terminal() {
		return nil
	}

	switch outcome {
	case types.OutcomeSucceeded:
		s.State = types.SessionSucceeded
	case types.OutcomeTimedOut:
		s.State = types.SessionTimedOut
	case types.OutcomeCancelled:
		s.State = types.SessionCancelled
	default:
		s.State = types.SessionFailed
	}
	s.Error = detail
	s.DoneAt = time.Now()
	close(s.done)

	logger := log.WithComponent("session")
	logger.Info().
		Str("session_id", s.ID).
		Str("udid", s.UDID).
		Str("state", string(s.State)).
		Msg("session completed")

	return nil
}

// Get returns a snapshot of a session by ID
func (m *Manager) Get(sessionID string) (types.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.byID[sessionID]
	if !ok {
		return types.Session{}, fmt.Errorf("%s: %w", sessionID, ErrNotFound)
	}
	return s.Session, nil
}

// Latest returns a snapshot of a device's most recent session
func (m *Manager) Latest(udid string) (types.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.latest[udid]
	if !ok {
		return types.Session{}, fmt.Errorf("%s: %w", udid, ErrNotFound)
	}
	return s.Session, nil
}

// Await blocks until the session is terminal or the context ends, and
// returns the final snapshot
func (m *Manager) Await(ctx context.Context, handle *Handle) (types.Session, error) {
	select {
	case <-handle.Done():
		return m.Get(handle.ID)
	case <-ctx.Done():
		return types.Session{}, ctx.Err()
	}
}

// Counts returns the number of sessions per state
func (m *Manager) Counts() map[types.SessionState]int {
	m.mu.Lock()
	defer m.mu.Unlock()

	counts := make(map[types.SessionState]int)
	for _, s := range m.byID {
		counts[s.State]++
	}
	return counts
}

// run sweeps expired terminal sessions
func (m *Manager) run() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.sweep()
		case <-m.stopCh:
			return
		}
	}
}

// sweep drops terminal sessions older than the retention window. The
// cooldown check needs the latest record, so a session outlives retention
// only until its cooldown has also passed (retention >= cooldown in any
// sane config).
func (m *Manager) sweep() {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	for id, s := range m.byID {
		if !s.State.Terminal() {
			continue
		}
		if now.Sub(s.DoneAt) < m.cfg.Retention {
			continue
		}
		delete(m.byID, id)
		if m.latest[s.UDID] == s {
			delete(m.latest, s.UDID)
		}
	}
}

func handleOf(s *session) *Handle {
	return &Handle{ID: s.ID, UDID: s.UDID, done: s.done}
}
