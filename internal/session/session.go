// Package session implements the Session Manager from spec §4.4: session
// lifecycle, an idle sweep, and a best-effort event bus, built around a
// per-session PTY Manager.
package session

import (
	"fmt"
	"sync"
	"time"

	"github.com/mcp-pty/mcp-pty/internal/ptyerr"
	"github.com/mcp-pty/mcp-pty/internal/ptylog"
	"github.com/mcp-pty/mcp-pty/internal/ptymgr"
	"github.com/sirupsen/logrus"
)

// Status mirrors a session's position in the Initializing -> Active ->
// (Idle <-> Active) -> Terminating -> Terminated state machine.
type Status string

const (
	StatusInitializing Status = "initializing"
	StatusActive       Status = "active"
	StatusIdle         Status = "idle"
	StatusTerminating  Status = "terminating"
	StatusTerminated   Status = "terminated"
)

const (
	idleAfter    = 5 * time.Minute
	disposeAfter = 5 * time.Minute // additional idle time before disposal
	sweepPeriod  = 60 * time.Second
)

// EventKind names one of the five lifecycle events a Manager emits.
type EventKind string

const (
	EventCreated       EventKind = "created"
	EventStatusChanged EventKind = "statusChanged"
	EventPtyBound      EventKind = "ptyBound"
	EventPtyUnbound    EventKind = "ptyUnbound"
	EventTerminated    EventKind = "terminated"
)

// Event is published on the Manager's event bus. Fields not relevant to
// Kind are left zero.
type Event struct {
	Kind      EventKind
	SessionID string
	Status    Status
	ProcessID string
}

// EventHandler receives bus events. Handlers run synchronously on the
// publishing goroutine and must not block (spec §4.4): a slow handler
// stalls every other subscriber and the caller that triggered the event.
type EventHandler func(Event)

// Session is one client's session: its status and the PTY Manager that
// owns every PTY Process created under it.
type Session struct {
	ID        string
	CreatedAt time.Time

	mu           sync.Mutex
	status       Status
	lastActivity time.Time
	ptyIDs       map[string]struct{}
	ptys         *ptymgr.Manager
}

// PtyManager returns the session's current PTY Manager. A DELETE /mcp
// request replaces this with a fresh Manager and then disposes the old one,
// so callers must not cache the result across requests.
func (s *Session) PtyManager() *ptymgr.Manager {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ptys
}

// Status returns the session's current status.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// LastActivity returns the time of the session's most recent activity.
func (s *Session) LastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}

// Touch records activity now, used whenever a request is successfully
// resolved against this session.
func (s *Session) Touch(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastActivity = now
}

// Manager is the Session Manager: a registry of sessions, an idle sweep,
// and an event bus. Replaces a module-wide singleton with an
// explicit struct constructed once at startup and threaded into the
// transport binder.
type Manager struct {
	log *logrus.Entry

	// Clock is injectable so tests can simulate the passage of time for the
	// idle sweep without sleeping in real time.
	Clock func() time.Time

	mu       sync.Mutex
	sessions map[string]*Session

	subsMu    sync.Mutex
	subs      map[uint64]EventHandler
	nextSubID uint64

	stopSweep chan struct{}
	sweepDone chan struct{}
}

// NewManager constructs an empty Manager. Call StartIdleSweep to begin the
// 60s background sweep once the runtime is ready to serve requests.
func NewManager(log *logrus.Entry) *Manager {
	return &Manager{
		log:      log,
		Clock:    time.Now,
		sessions: make(map[string]*Session),
		subs:     make(map[uint64]EventHandler),
	}
}

// CreateSession mints a SessionID, registers a new Session bound to a fresh
// PTY Manager, and publishes a `created` event.
func (m *Manager) CreateSession() *Session {
	now := m.Clock()
	id := newSessionID()
	s := &Session{
		ID:           id,
		CreatedAt:    now,
		ptys:         ptymgr.New(id, ptylog.ForSession(m.log, id)),
		status:       StatusInitializing,
		lastActivity: now,
		ptyIDs:       make(map[string]struct{}),
	}

	m.mu.Lock()
	m.sessions[id] = s
	m.mu.Unlock()

	m.publish(Event{Kind: EventCreated, SessionID: id})
	return s
}

// SessionIDs returns a snapshot of every registered SessionID, live or
// Terminated. Used by the runtime to sweep every session during shutdown.
func (m *Manager) SessionIDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	return ids
}

// GetSession looks up a session by ID.
func (m *Manager) GetSession(id string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	return s, ok
}

// GetPtyManager is a convenience accessor for a session's PTY Manager.
func (m *Manager) GetPtyManager(id string) (*ptymgr.Manager, bool) {
	s, ok := m.GetSession(id)
	if !ok {
		return nil, false
	}
	return s.PtyManager(), true
}

// DisposePtys disposes a session's current PTY Manager and installs a fresh
// one in its place, preserving the session entry for reconnection. This
// backs the DELETE /mcp semantics from spec §4.5: "dispose PTYs, keep
// session entry".
func (m *Manager) DisposePtys(id string) error {
	s, ok := m.GetSession(id)
	if !ok {
		return fmt.Errorf("%w: %s", ptyerr.ErrSessionNotFound, id)
	}
	s.mu.Lock()
	old := s.ptys
	s.ptys = ptymgr.New(id, ptylog.ForSession(m.log, id))
	s.ptyIDs = make(map[string]struct{})
	s.mu.Unlock()
	old.Dispose()
	return nil
}

// NewProcessID mints a fresh ProcessID for a PTY about to be created in any
// of this Manager's sessions. The Session Manager mints IDs so they stay unique across the
// whole runtime, not just within one session's PTY Manager.
func (m *Manager) NewProcessID() string {
	return newProcessID()
}

// UpdateStatus sets a session's status and publishes `statusChanged`.
// Terminated is absorbing: once reached, further calls are no-ops.
func (m *Manager) UpdateStatus(id string, status Status) error {
	s, ok := m.GetSession(id)
	if !ok {
		return fmt.Errorf("%w: %s", ptyerr.ErrSessionNotFound, id)
	}

	s.mu.Lock()
	if s.status == StatusTerminated {
		s.mu.Unlock()
		return nil
	}
	s.status = status
	s.mu.Unlock()

	m.publish(Event{Kind: EventStatusChanged, SessionID: id, Status: status})
	if status == StatusTerminated {
		m.publish(Event{Kind: EventTerminated, SessionID: id})
	}
	return nil
}

// AddPty records that ProcessID pid now belongs to session id and publishes
// `ptyBound`. The PTY itself must already have been created via the
// session's PTY Manager; this only updates session-level bookkeeping.
func (m *Manager) AddPty(id, pid string) error {
	s, ok := m.GetSession(id)
	if !ok {
		return fmt.Errorf("%w: %s", ptyerr.ErrSessionNotFound, id)
	}
	s.mu.Lock()
	s.ptyIDs[pid] = struct{}{}
	s.mu.Unlock()
	m.publish(Event{Kind: EventPtyBound, SessionID: id, ProcessID: pid})
	return nil
}

// RemovePty drops the session-level bookkeeping entry for pid and publishes
// `ptyUnbound`. It does not dispose the underlying PTY Process; callers
// that want that should go through the session's PTY Manager.
func (m *Manager) RemovePty(id, pid string) error {
	s, ok := m.GetSession(id)
	if !ok {
		return fmt.Errorf("%w: %s", ptyerr.ErrSessionNotFound, id)
	}
	s.mu.Lock()
	delete(s.ptyIDs, pid)
	s.mu.Unlock()
	m.publish(Event{Kind: EventPtyUnbound, SessionID: id, ProcessID: pid})
	return nil
}

// DisposeSession tears down a session's PTY Manager and marks it
// Terminated. Calling it twice is a no-op the second time.
func (m *Manager) DisposeSession(id string) {
	s, ok := m.GetSession(id)
	if !ok {
		return
	}
	s.mu.Lock()
	already := s.status == StatusTerminated
	if !already {
		s.status = StatusTerminating
	}
	s.mu.Unlock()
	if already {
		return
	}

	s.PtyManager().Dispose()

	s.mu.Lock()
	s.status = StatusTerminated
	s.mu.Unlock()

	m.publish(Event{Kind: EventStatusChanged, SessionID: id, Status: StatusTerminated})
	m.publish(Event{Kind: EventTerminated, SessionID: id})
}

// Subscription unsubscribes an event handler registered via Subscribe.
type Subscription struct {
	id uint64
	m  *Manager
}

// Unsubscribe detaches the handler. Safe to call more than once.
func (sub *Subscription) Unsubscribe() {
	sub.m.subsMu.Lock()
	defer sub.m.subsMu.Unlock()
	delete(sub.m.subs, sub.id)
}

// Subscribe registers handler on the event bus. Delivery is synchronous and
// best-effort: handler must not block.
func (m *Manager) Subscribe(handler EventHandler) *Subscription {
	m.subsMu.Lock()
	defer m.subsMu.Unlock()
	id := m.nextSubID
	m.nextSubID++
	m.subs[id] = handler
	return &Subscription{id: id, m: m}
}

func (m *Manager) publish(ev Event) {
	m.subsMu.Lock()
	handlers := make([]EventHandler, 0, len(m.subs))
	for _, h := range m.subs {
		handlers = append(handlers, h)
	}
	m.subsMu.Unlock()

	for _, h := range handlers {
		h(ev)
	}
}

// StartIdleSweep launches the 60s background sweep described in spec §4.4.
// Call the returned stop function to end it during shutdown.
func (m *Manager) StartIdleSweep() (stop func()) {
	m.stopSweep = make(chan struct{})
	m.sweepDone = make(chan struct{})
	ticker := time.NewTicker(sweepPeriod)
	go func() {
		defer close(m.sweepDone)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.SweepOnce()
			case <-m.stopSweep:
				return
			}
		}
	}()
	return func() {
		close(m.stopSweep)
		<-m.sweepDone
	}
}

// SweepOnce runs one pass of the idle sweep using m.Clock for "now". Exposed
// so tests can inject simulated time instead of waiting on the real ticker.
func (m *Manager) SweepOnce() {
	now := m.Clock()

	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.Unlock()

	for _, s := range sessions {
		s.mu.Lock()
		status := s.status
		idleSince := now.Sub(s.lastActivity)
		s.mu.Unlock()

		switch status {
		case StatusActive:
			if idleSince > idleAfter {
				_ = m.UpdateStatus(s.ID, StatusIdle)
			}
		case StatusIdle:
			if idleSince > idleAfter+disposeAfter {
				m.DisposeSession(s.ID)
			}
		}
	}
}
