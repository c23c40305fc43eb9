package transport

import (
	"net/http"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/mcp-pty/mcp-pty/internal/mcpbridge"
	"github.com/mcp-pty/mcp-pty/internal/ptylog"
	"github.com/mcp-pty/mcp-pty/internal/session"
	"github.com/sirupsen/logrus"
)

// sessionHeader is the header both directions use to carry a SessionID.
const sessionHeader = "mcp-session-id"

const (
	connectPollInterval = 10 * time.Millisecond
	connectPollAttempts = 10
)

type bindStatus int

const (
	bindInitializing bindStatus = iota
	bindActive
)

// httpEntry is the {serverInstance, transportInstance, connecting} tuple
// from spec §4.5, keyed by SessionID in HTTPBinder.entries. handler is the
// mcp-go HTTP transport wired to one session-bound *server.MCPServer; there
// is no separate "connect" call in mcp-go's API, so building this pair
// doubles as the connect step and bindActive is what the rest of the
// binder treats as "connected".
type httpEntry struct {
	mu         sync.Mutex
	status     bindStatus
	connecting bool
	handler    http.Handler
}

// HTTPBinder implements the streaming-HTTP Transport Binder from spec
// §4.5. It is the hardest piece of this system: session resolution must
// classify every request into the reuse, recovery, or lazy-create path and
// the recovery path must finish connecting before it writes its 404.
type HTTPBinder struct {
	sessions            *session.Manager
	log                 *logrus.Entry
	deactivateResources bool

	mu      sync.Mutex
	entries map[string]*httpEntry
}

// NewHTTPBinder constructs an HTTPBinder. It implements http.Handler and
// can be mounted directly at /mcp.
func NewHTTPBinder(sessions *session.Manager, log *logrus.Entry, deactivateResources bool) *HTTPBinder {
	return &HTTPBinder{
		sessions:            sessions,
		log:                 log,
		deactivateResources: deactivateResources,
		entries:             make(map[string]*httpEntry),
	}
}

// ServeHTTP implements http.Handler for POST/GET (session-resolving
// request/notification traffic) and DELETE (explicit session teardown).
func (b *HTTPBinder) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodDelete {
		b.handleDelete(w, r)
		return
	}
	b.handleRequest(w, r)
}

// handleRequest implements the three-way classification from spec §4.5.
func (b *HTTPBinder) handleRequest(w http.ResponseWriter, r *http.Request) {
	id := r.Header.Get(sessionHeader)

	if id == "" {
		// Case 3: no header. Create lazily, Initializing, inserted into the
		// map without connecting; the transport's handling of the client's
		// initialize message triggers the connect on a later request that
		// does carry the header.
		sess := b.sessions.CreateSession()
		entry := b.registerEntry(sess)
		w.Header().Set(sessionHeader, sess.ID)
		b.dispatch(entry, sess.ID, w, r)
		return
	}

	entry, sess, live := b.lookupLive(id)
	if live {
		// Case 1: header present, session known and not Terminated.
		b.ensureConnected(entry, sess)
		w.Header().Set(sessionHeader, id)
		b.dispatch(entry, id, w, r)
		return
	}

	// Case 2: recovery path. The stale ID is never reused; the client SDK
	// is expected to auto-update to the ID in the 404 response and retry.
	newSess := b.sessions.CreateSession()
	newEntry := b.registerEntry(newSess)
	b.connectEntry(newEntry, newSess) // must complete before the 404 is written
	w.Header().Set(sessionHeader, newSess.ID)
	w.WriteHeader(http.StatusNotFound)
}

// lookupLive reports whether id names a live (non-Terminated) session with
// a registered entry.
func (b *HTTPBinder) lookupLive(id string) (*httpEntry, *session.Session, bool) {
	b.mu.Lock()
	entry, ok := b.entries[id]
	b.mu.Unlock()
	if !ok {
		return nil, nil, false
	}
	sess, ok := b.sessions.GetSession(id)
	if !ok || sess.Status() == session.StatusTerminated {
		return nil, nil, false
	}
	return entry, sess, true
}

// registerEntry builds the server+transport pair for sess and stores it in
// the map under its SessionID, starting out Initializing.
func (b *HTTPBinder) registerEntry(sess *session.Session) *httpEntry {
	mcpServer := mcpbridge.NewServer(sess, b.sessions, b.log, b.deactivateResources)
	entry := &httpEntry{
		status:  bindInitializing,
		handler: server.NewStreamableHTTPServer(mcpServer),
	}
	b.mu.Lock()
	b.entries[sess.ID] = entry
	b.mu.Unlock()
	return entry
}

// ensureConnected implements the at-most-one-connect-per-session guarantee
// from spec §5: the connecting flag serializes the first connect, and
// concurrent callers poll up to 10x10ms rather than connecting twice.
func (b *HTTPBinder) ensureConnected(entry *httpEntry, sess *session.Session) {
	entry.mu.Lock()
	if entry.status == bindActive {
		entry.mu.Unlock()
		return
	}
	if entry.connecting {
		entry.mu.Unlock()
		for i := 0; i < connectPollAttempts; i++ {
			time.Sleep(connectPollInterval)
			entry.mu.Lock()
			status := entry.status
			connecting := entry.connecting
			entry.mu.Unlock()
			if status == bindActive || !connecting {
				return
			}
		}
		return
	}
	entry.connecting = true
	entry.mu.Unlock()

	b.connectEntry(entry, sess)
}

// connectEntry marks sess Active and the entry connected. The flag is
// always cleared, even if UpdateStatus somehow failed, so a later caller is
// never left polling forever.
func (b *HTTPBinder) connectEntry(entry *httpEntry, sess *session.Session) {
	defer func() {
		entry.mu.Lock()
		entry.connecting = false
		entry.mu.Unlock()
	}()

	_ = b.sessions.UpdateStatus(sess.ID, session.StatusActive)

	entry.mu.Lock()
	entry.status = bindActive
	entry.mu.Unlock()
}

// dispatch delegates to the entry's mcp-go transport and, on response-close
// cleanup, disposes the session's PTYs only if the close indicates a
// connection error (a half-closed write side), never on a normal completed
// request.
func (b *HTTPBinder) dispatch(entry *httpEntry, sessionID string, w http.ResponseWriter, r *http.Request) {
	tw := &closeTrackingWriter{ResponseWriter: w}
	entry.handler.ServeHTTP(tw, r)
	if tw.halfClosed {
		ptylog.ForSession(b.log, sessionID).Warn("response closed mid-write, disposing session PTYs")
		if err := b.sessions.DisposePtys(sessionID); err != nil {
			ptylog.ForSession(b.log, sessionID).WithError(err).Warn("cleanup after half-closed response failed")
		}
	}
}

// handleDelete implements DELETE /mcp: dispose PTYs, keep the session
// entry so it can be reconnected. 204 on success, 400 without a header, 404
// for an unknown or already-Terminated session.
func (b *HTTPBinder) handleDelete(w http.ResponseWriter, r *http.Request) {
	id := r.Header.Get(sessionHeader)
	if id == "" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	sess, ok := b.sessions.GetSession(id)
	if !ok || sess.Status() == session.StatusTerminated {
		w.Header().Set(sessionHeader, id)
		w.WriteHeader(http.StatusNotFound)
		return
	}
	if err := b.sessions.DisposePtys(id); err != nil {
		w.Header().Set(sessionHeader, id)
		w.WriteHeader(http.StatusNotFound)
		return
	}
	w.Header().Set(sessionHeader, id)
	w.WriteHeader(http.StatusNoContent)
}

// closeTrackingWriter wraps an http.ResponseWriter to notice a write that
// failed mid-response, the signal spec §4.5 treats as a connection error
// rather than a normal completed request.
type closeTrackingWriter struct {
	http.ResponseWriter
	halfClosed bool
}

func (w *closeTrackingWriter) Write(p []byte) (int, error) {
	n, err := w.ResponseWriter.Write(p)
	if err != nil {
		w.halfClosed = true
	}
	return n, err
}
