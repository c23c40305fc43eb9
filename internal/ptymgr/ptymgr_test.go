package ptymgr

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/mcp-pty/mcp-pty/internal/ptyerr"
	"github.com/mcp-pty/mcp-pty/internal/ptyproc"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *logrus.Entry {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return l.WithField("test", true)
}

func readySpec(id string) ptyproc.Spec {
	return ptyproc.Spec{ProcessID: id, Command: "cat", Cwd: "/tmp"}
}

func TestCreatePtyRegistersAndCapsAtTen(t *testing.T) {
	m := New("session-1", testLogger())
	defer m.Dispose()

	for i := 0; i < MaxPtysPerSession; i++ {
		p, err := m.CreatePty(readySpec(fmt.Sprintf("p%d", i)))
		require.NoError(t, err)
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		require.NoError(t, p.Ready(ctx))
		cancel()
	}
	assert.Equal(t, MaxPtysPerSession, m.Count())

	_, err := m.CreatePty(readySpec("overflow"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ptyerr.ErrTooManyPtys))
	assert.Equal(t, MaxPtysPerSession, m.Count())
}

func TestGetPty(t *testing.T) {
	m := New("session-2", testLogger())
	defer m.Dispose()

	p, err := m.CreatePty(readySpec("p0"))
	require.NoError(t, err)

	got, ok := m.GetPty("p0")
	assert.True(t, ok)
	assert.Same(t, p, got)

	_, ok = m.GetPty("missing")
	assert.False(t, ok)
}

func TestRemovePtyReportsExistence(t *testing.T) {
	m := New("session-3", testLogger())
	defer m.Dispose()

	_, err := m.CreatePty(readySpec("p0"))
	require.NoError(t, err)

	assert.True(t, m.RemovePty("p0"))
	assert.False(t, m.RemovePty("p0"))
	assert.Equal(t, 0, m.Count())
}

func TestDisposeIsIdempotentAndClearsMap(t *testing.T) {
	m := New("session-4", testLogger())
	_, err := m.CreatePty(readySpec("p0"))
	require.NoError(t, err)

	m.Dispose()
	m.Dispose()
	assert.Equal(t, 0, m.Count())

	_, err = m.CreatePty(readySpec("p1"))
	require.Error(t, err)
}

func TestAutoDisposeOnExitRemovesEntry(t *testing.T) {
	m := New("session-5", testLogger())
	defer m.Dispose()

	spec := ptyproc.Spec{ProcessID: "p0", Command: "echo done", Cwd: "/tmp", AutoDisposeOnExit: true}
	p, err := m.CreatePty(spec)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, _ = p.Wait(ctx)

	assert.Eventually(t, func() bool {
		_, ok := m.GetPty("p0")
		return !ok
	}, 2*time.Second, 10*time.Millisecond)
}
