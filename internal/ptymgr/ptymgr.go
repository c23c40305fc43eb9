// Package ptymgr implements the PTY Manager from spec §4.3: a per-session
// cap-enforcing registry of PTY Processes.
package ptymgr

import (
	"fmt"
	"sync"
	"time"

	"github.com/mcp-pty/mcp-pty/internal/ptyerr"
	"github.com/mcp-pty/mcp-pty/internal/ptylog"
	"github.com/mcp-pty/mcp-pty/internal/ptyproc"
	"github.com/sirupsen/logrus"
)

// MaxPtysPerSession is the hard cap from spec §3: a session's PTY Manager
// refuses to create an 11th live process.
const MaxPtysPerSession = 10

// Manager owns every PTY Process created for one session.
type Manager struct {
	SessionID string

	log *logrus.Entry

	mu       sync.Mutex
	ptys     map[string]*ptyproc.Process
	disposed bool
}

// New constructs a Manager bound to sessionID.
func New(sessionID string, log *logrus.Entry) *Manager {
	return &Manager{
		SessionID: sessionID,
		log:       log,
		ptys:      make(map[string]*ptyproc.Process),
	}
}

// CreatePty spawns a new PTY Process and registers it, failing TooManyPtys
// once the registered count has reached MaxPtysPerSession. Exited processes
// that are still registered (not auto-disposed or removed) count toward the
// cap. spec.ProcessID must
// already be assigned by the caller (the Session Manager mints ProcessIDs).
func (m *Manager) CreatePty(spec ptyproc.Spec) (*ptyproc.Process, error) {
	m.mu.Lock()
	if m.disposed {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: session manager disposed", ptyerr.ErrSessionNotFound)
	}
	if len(m.ptys) >= MaxPtysPerSession {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w", ptyerr.ErrTooManyPtys)
	}
	m.mu.Unlock()

	p := ptyproc.New(spec, ptylog.ForProcess(m.log, spec.ProcessID))

	m.mu.Lock()
	if m.disposed {
		m.mu.Unlock()
		p.Dispose()
		return nil, fmt.Errorf("%w: session manager disposed", ptyerr.ErrSessionNotFound)
	}
	m.ptys[spec.ProcessID] = p
	m.mu.Unlock()

	if spec.AutoDisposeOnExit {
		go m.watchAutoDispose(spec.ProcessID, p)
	}

	return p, nil
}

// watchAutoDispose removes a process's entry from the map once it exits,
// per the autoDisposeOnExit flag from spec §3/§4.3.
func (m *Manager) watchAutoDispose(id string, p *ptyproc.Process) {
	<-p.Done()
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ptys[id] == p {
		delete(m.ptys, id)
		ptylog.ForProcess(m.log, id).Debug("auto-disposed pty after exit")
	}
}

// GetPty looks up a process by ID.
func (m *Manager) GetPty(id string) (*ptyproc.Process, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.ptys[id]
	return p, ok
}

// GetAllPtys returns a snapshot slice of every live process. Callers must
// not rely on it staying in sync with concurrent RemovePty calls.
func (m *Manager) GetAllPtys() []*ptyproc.Process {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*ptyproc.Process, 0, len(m.ptys))
	for _, p := range m.ptys {
		out = append(out, p)
	}
	return out
}

// RemovePty disposes (SIGTERM) and removes the named process, reporting
// whether an entry existed.
func (m *Manager) RemovePty(id string) bool {
	m.mu.Lock()
	p, ok := m.ptys[id]
	if ok {
		delete(m.ptys, id)
	}
	m.mu.Unlock()
	if !ok {
		return false
	}
	p.Dispose()
	return true
}

// Dispose tears down every child and clears the map. Idempotent.
func (m *Manager) Dispose() {
	m.mu.Lock()
	if m.disposed {
		m.mu.Unlock()
		return
	}
	m.disposed = true
	ptys := make([]*ptyproc.Process, 0, len(m.ptys))
	for _, p := range m.ptys {
		ptys = append(ptys, p)
	}
	m.ptys = make(map[string]*ptyproc.Process)
	m.mu.Unlock()

	for _, p := range ptys {
		p.Dispose()
	}
}

// Count returns the number of currently registered processes.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.ptys)
}

// AwaitAllTerminated blocks until every currently-registered process
// reaches Terminated or perProcessDeadline passes for that process,
// whichever comes first. Runtime shutdown does not call it; it relies on
// each process's own teardown grace period instead.
func (m *Manager) AwaitAllTerminated(perProcessDeadline time.Duration) {
	m.mu.Lock()
	ptys := make([]*ptyproc.Process, 0, len(m.ptys))
	for _, p := range m.ptys {
		ptys = append(ptys, p)
	}
	m.mu.Unlock()

	for _, p := range ptys {
		select {
		case <-p.Done():
		case <-time.After(perProcessDeadline):
		}
	}
}
