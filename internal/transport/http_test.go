package transport

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/mcp-pty/mcp-pty/internal/session"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *logrus.Entry {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return l.WithField("test", true)
}

func TestHandleRequestWithoutHeaderCreatesSession(t *testing.T) {
	sessions := session.NewManager(testLogger())
	binder := NewHTTPBinder(sessions, testLogger(), false)

	req := httptest.NewRequest(http.MethodPost, "/mcp", strings.NewReader("{}"))
	rec := httptest.NewRecorder()
	binder.ServeHTTP(rec, req)

	id := rec.Header().Get(sessionHeader)
	require.NotEmpty(t, id)
	_, ok := sessions.GetSession(id)
	assert.True(t, ok)
}

func TestHandleRequestUnknownHeaderTriggersRecovery(t *testing.T) {
	sessions := session.NewManager(testLogger())
	binder := NewHTTPBinder(sessions, testLogger(), false)

	req := httptest.NewRequest(http.MethodPost, "/mcp", strings.NewReader("{}"))
	req.Header.Set(sessionHeader, "totally-unknown-session-id")
	rec := httptest.NewRecorder()
	binder.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	newID := rec.Header().Get(sessionHeader)
	require.NotEmpty(t, newID)
	assert.NotEqual(t, "totally-unknown-session-id", newID)

	sess, ok := sessions.GetSession(newID)
	require.True(t, ok)
	assert.Equal(t, session.StatusActive, sess.Status())
}

func TestHandleRequestKnownSessionReuses(t *testing.T) {
	sessions := session.NewManager(testLogger())
	binder := NewHTTPBinder(sessions, testLogger(), false)

	sess := sessions.CreateSession()
	binder.registerEntry(sess)

	req := httptest.NewRequest(http.MethodPost, "/mcp", strings.NewReader("{}"))
	req.Header.Set(sessionHeader, sess.ID)
	rec := httptest.NewRecorder()
	binder.ServeHTTP(rec, req)

	assert.Equal(t, sess.ID, rec.Header().Get(sessionHeader))
	assert.Equal(t, session.StatusActive, sess.Status())
}

func TestDeleteWithoutHeaderIsBadRequest(t *testing.T) {
	sessions := session.NewManager(testLogger())
	binder := NewHTTPBinder(sessions, testLogger(), false)

	req := httptest.NewRequest(http.MethodDelete, "/mcp", nil)
	rec := httptest.NewRecorder()
	binder.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDeleteUnknownSessionIsNotFound(t *testing.T) {
	sessions := session.NewManager(testLogger())
	binder := NewHTTPBinder(sessions, testLogger(), false)

	req := httptest.NewRequest(http.MethodDelete, "/mcp", nil)
	req.Header.Set(sessionHeader, "nope")
	rec := httptest.NewRecorder()
	binder.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDeleteKnownSessionDisposesPtysKeepsEntry(t *testing.T) {
	sessions := session.NewManager(testLogger())
	binder := NewHTTPBinder(sessions, testLogger(), false)
	sess := sessions.CreateSession()

	req := httptest.NewRequest(http.MethodDelete, "/mcp", nil)
	req.Header.Set(sessionHeader, sess.ID)
	rec := httptest.NewRecorder()
	binder.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	_, ok := sessions.GetSession(sess.ID)
	assert.True(t, ok)
}
