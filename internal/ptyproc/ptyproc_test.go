package ptyproc

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/mcp-pty/mcp-pty/internal/ptyerr"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *logrus.Entry {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return l.WithField("test", true)
}

func newReadyProcess(t *testing.T, command string) *Process {
	t.Helper()
	p := New(Spec{
		ProcessID: "test-process",
		Command:   command,
		Cwd:       "/tmp",
	}, testLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, p.Ready(ctx))
	return p
}

func TestEchoProducesOutputAndExitsZero(t *testing.T) {
	p := newReadyProcess(t, "echo hello")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	out, err := p.Wait(ctx)
	require.NoError(t, err)
	assert.Contains(t, out, "hello")

	assert.Equal(t, StatusTerminated, p.Status())
	require.NotNil(t, p.ExitCode())
	assert.Equal(t, 0, *p.ExitCode())
}

func TestCatEchoesWrittenInput(t *testing.T) {
	p := newReadyProcess(t, "cat")
	defer p.Dispose()

	res, err := p.Write([]byte("abc\n"), 300)
	require.NoError(t, err)
	assert.Contains(t, strings.Join(res.Screen, "\n"), "abc")
}

func TestWriteEmptyReturnsWarning(t *testing.T) {
	p := newReadyProcess(t, "cat")
	defer p.Dispose()

	res, err := p.Write(nil, 50)
	require.NoError(t, err)
	assert.NotEmpty(t, res.Warning)
}

func TestWriteAfterDisposeFailsNotActive(t *testing.T) {
	p := newReadyProcess(t, "cat")
	p.Dispose()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	select {
	case <-p.Done():
	case <-ctx.Done():
		t.Fatal("process did not reach Terminated in time")
	}

	_, err := p.Write([]byte("x"), 50)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ptyerr.ErrNotActive))
}

func TestWriteRejectsDangerousControlSequence(t *testing.T) {
	p := newReadyProcess(t, "cat")
	defer p.Dispose()

	_, err := p.Write([]byte("\x1b[2J"), 50)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ptyerr.ErrDangerousControlSequence))
}

func TestWriteRejectsDangerousCommandTypedInteractively(t *testing.T) {
	p := newReadyProcess(t, "cat")
	defer p.Dispose()

	_, err := p.Write([]byte("rm -rf /\n"), 50)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ptyerr.ErrDangerousCommand))
}

func TestDisposeIsIdempotent(t *testing.T) {
	p := newReadyProcess(t, "cat")
	p.Dispose()
	p.Dispose()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	select {
	case <-p.Done():
	case <-ctx.Done():
		t.Fatal("process did not reach Terminated in time")
	}
	assert.Equal(t, StatusTerminated, p.Status())
}

func TestSubscribeReceivesDataAndExit(t *testing.T) {
	p := newReadyProcess(t, "echo hi")

	var gotData []byte
	exitCode := -1
	done := make(chan struct{})

	sub := p.Subscribe(func(data []byte) {
		gotData = append(gotData, data...)
	}, nil, func(code int) {
		exitCode = code
		close(done)
	})
	defer sub.Unsubscribe()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("exit callback never fired")
	}

	assert.Contains(t, string(gotData), "hi")
	assert.Equal(t, 0, exitCode)
}

func TestUnsubscribeDoesNotKillChild(t *testing.T) {
	p := newReadyProcess(t, "cat")
	defer p.Dispose()

	sub := p.Subscribe(func([]byte) {}, nil, nil)
	sub.Unsubscribe()

	assert.Equal(t, StatusActive, p.Status())
}

func TestResizeRejectsInvalidDimensions(t *testing.T) {
	p := newReadyProcess(t, "cat")
	defer p.Dispose()

	err := p.Resize(0, 10)
	assert.Error(t, err)
}

func TestResizeUpdatesDimensions(t *testing.T) {
	p := newReadyProcess(t, "cat")
	defer p.Dispose()

	require.NoError(t, p.Resize(100, 40))
}

func TestInvalidCwdFailsReady(t *testing.T) {
	p := New(Spec{
		ProcessID: "bad-cwd",
		Command:   "echo hi",
		Cwd:       "relative/path",
	}, testLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := p.Ready(ctx)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ptyerr.ErrInvalidWorkingDirectory))
}

func TestDangerousCommandRejectedAtSpawn(t *testing.T) {
	p := New(Spec{
		ProcessID: "forkbomb",
		Command:   ":(){ :|:& };:",
		Cwd:       "/tmp",
	}, testLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := p.Ready(ctx)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ptyerr.ErrDangerousCommand))
}

func TestOutputBufferTrimsToCap(t *testing.T) {
	p := &Process{buf: make([]byte, 0)}
	big := make([]byte, outputBufferCap+100)
	for i := range big {
		big[i] = 'x'
	}
	p.appendBufferLocked(big)
	assert.Equal(t, outputBufferCap, len(p.buf))
}

func TestStripANSIRemovesEscapeSequences(t *testing.T) {
	input := []byte("\x1b[31mred\x1b[0m plain")
	out := stripANSI(input)
	assert.Equal(t, "red plain", string(out))
}
