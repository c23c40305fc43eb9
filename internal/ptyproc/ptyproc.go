// Package ptyproc implements a PTY Process (spec §4.2): a single child
// attached to a pseudo-terminal, with a bounded output buffer, a headless
// terminal emulator tracking screen state, and a best-effort subscriber
// fan-out modeled on the teacher's Instance/ptyReader pattern.
package ptyproc

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"os/user"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/creack/pty"
	"github.com/mcp-pty/mcp-pty/internal/normalizer"
	"github.com/mcp-pty/mcp-pty/internal/ptyerr"
	"github.com/mcp-pty/mcp-pty/internal/safety"
	"github.com/mcp-pty/mcp-pty/internal/termstate"
	"github.com/sirupsen/logrus"
)

// Status is a PTY Process's position in the Initializing -> Active ->
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
	outputBufferCap = 64 * 1024
	teardownGrace   = 3 * time.Second
	defaultCols     = 80
	defaultRows     = 24
)

// Spec is the constructor contract for a PTY Process.
type Spec struct {
	ProcessID         string
	Command           string
	Cwd               string
	Env               map[string]string
	ExecTimeout       time.Duration // 0 disables the execution timeout
	AutoDisposeOnExit bool
	AnsiStrip         bool
	Cols, Rows        int
}

// WriteResult is returned by Write and reflects screen/cursor state at the
// moment the wait window (or child exit) ended.
type WriteResult struct {
	Screen   []string
	CursorX  int
	CursorY  int
	ExitCode *int
	Warning  string
}

// DataFunc, ErrFunc and ExitFunc are the three subscriber callbacks from
// spec §4.2's subscribe operation.
type DataFunc func(data []byte)
type ErrFunc func(err error)
type ExitFunc func(exitCode int)

// Subscription is returned by Subscribe; Unsubscribe stops delivery but
// never affects the child process itself.
type Subscription struct {
	id     uint64
	p      *Process
	once   sync.Once
}

// Unsubscribe detaches this subscription. Safe to call more than once and
// safe to call after the process has terminated.
func (s *Subscription) Unsubscribe() {
	s.once.Do(func() {
		s.p.mu.Lock()
		delete(s.p.subs, s.id)
		s.p.mu.Unlock()
	})
}

type subscriber struct {
	onData DataFunc
	onErr  ErrFunc
	onExit ExitFunc
}

// Process is a single PTY-attached child process.
type Process struct {
	ProcessID string
	Command   string
	Cwd       string
	CreatedAt time.Time

	log *logrus.Entry

	autoDisposeOnExit bool
	ansiStrip         bool
	execTimeout       time.Duration
	consentGranted    bool

	mu           sync.Mutex
	status       Status
	lastActivity time.Time
	exitCode     *int
	cols, rows   int

	ptmx *os.File
	cmd  *exec.Cmd
	term *termstate.Emulator

	buf []byte
	// finalOutput holds buf as it stood when teardown cleared it, so Wait
	// can still return the child's final output after Terminated.
	finalOutput []byte

	subs      map[uint64]*subscriber
	nextSubID uint64

	timeoutTimer *time.Timer

	readyCh  chan struct{}
	readyErr error

	exitedCh chan struct{} // closed once the child has been reaped
	doneCh   chan struct{} // closed once dispose's teardown completes

	disposeOnce sync.Once
}

// New constructs a PTY Process and starts its spawn sequence in the
// background; the returned Process begins in StatusInitializing. Call
// Ready to block until the child is confirmed running (or spawn failed).
func New(spec Spec, log *logrus.Entry) *Process {
	cols, rows := spec.Cols, spec.Rows
	if cols <= 0 {
		cols = defaultCols
	}
	if rows <= 0 {
		rows = defaultRows
	}

	p := &Process{
		ProcessID:         spec.ProcessID,
		Command:           spec.Command,
		Cwd:               spec.Cwd,
		CreatedAt:         time.Now(),
		log:               log,
		autoDisposeOnExit: spec.AutoDisposeOnExit,
		ansiStrip:         spec.AnsiStrip,
		execTimeout:       spec.ExecTimeout,
		consentGranted:    safety.ConsentGranted(),
		status:            StatusInitializing,
		cols:              cols,
		rows:              rows,
		subs:              make(map[uint64]*subscriber),
		readyCh:           make(chan struct{}),
		exitedCh:          make(chan struct{}),
		doneCh:            make(chan struct{}),
	}

	go p.spawn(spec)

	return p
}

// spawn runs the five-step algorithm from spec §4.2: safety gate, env
// sanitization, cwd validation, command normalization + pty creation, and
// starting the reader task.
func (p *Process) spawn(spec Spec) {
	defer close(p.readyCh)

	norm := normalizer.Normalize(spec.Command)
	argv0 := norm.Argv0
	if !norm.Direct {
		argv0 = "sh"
	}
	if err := safety.CheckSpawnConsent(argv0, spec.Command, os.Geteuid() == 0); err != nil {
		p.failSpawn(err)
		return
	}

	if err := normalizer.CheckDangerous(spec.Command, p.consentGranted); err != nil {
		p.failSpawn(err)
		return
	}

	cwd, err := resolveCwd(spec.Cwd)
	if err != nil {
		p.failSpawn(err)
		return
	}

	var cmd *exec.Cmd
	if norm.Direct {
		cmd = exec.Command(norm.Argv0, norm.Args...)
	} else {
		cmd = exec.Command(norm.ShellArgv[0], norm.ShellArgv[1:]...)
	}
	cmd.Dir = cwd
	cmd.Env = safety.MergedEnviron(spec.Env)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	term, err := termstate.New(p.cols, p.rows)
	if err != nil {
		p.failSpawn(fmt.Errorf("%w: %v", ptyerr.ErrSpawnFailed, err))
		return
	}

	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{Cols: uint16(p.cols), Rows: uint16(p.rows)})
	if err != nil {
		p.failSpawn(fmt.Errorf("%w: %v", ptyerr.ErrSpawnFailed, err))
		return
	}

	p.mu.Lock()
	p.ptmx = ptmx
	p.cmd = cmd
	p.term = term
	p.status = StatusActive
	p.lastActivity = time.Now()
	p.mu.Unlock()

	if p.execTimeout > 0 {
		p.resetTimeoutLocked()
	}

	p.log.WithField("direct_exec", norm.Direct).Debug("pty process spawned")

	go p.readLoop()
}

func (p *Process) failSpawn(err error) {
	p.mu.Lock()
	p.status = StatusTerminated
	p.readyErr = err
	p.mu.Unlock()
	close(p.exitedCh)
	close(p.doneCh)
}

// resolveCwd implements §4.2 step 3: absolute or ~-expanded, must exist and
// be a directory.
func resolveCwd(cwd string) (string, error) {
	if cwd == "~" || strings.HasPrefix(cwd, "~/") {
		u, err := user.Current()
		if err != nil {
			return "", fmt.Errorf("%w: cannot resolve home directory", ptyerr.ErrInvalidWorkingDirectory)
		}
		cwd = filepath.Join(u.HomeDir, strings.TrimPrefix(cwd, "~"))
	}
	if !filepath.IsAbs(cwd) {
		return "", fmt.Errorf("%w: %q is not absolute", ptyerr.ErrInvalidWorkingDirectory, cwd)
	}
	info, err := os.Stat(cwd)
	if err != nil || !info.IsDir() {
		return "", fmt.Errorf("%w: %q", ptyerr.ErrInvalidWorkingDirectory, cwd)
	}
	return cwd, nil
}

// Ready blocks until the spawn sequence completes, returning SpawnFailed (or
// a wrapped safety/normalizer error) if the child could not be started.
func (p *Process) Ready(ctx context.Context) error {
	select {
	case <-p.readyCh:
		return p.readyErr
	case <-ctx.Done():
		return ctx.Err()
	}
}

// readLoop is the single reader task per live PTY (spec §5): it consumes
// child stdout until EOF, feeding the output buffer, the emulator, and
// every subscriber, then reaps the child and runs teardown.
func (p *Process) readLoop() {
	buf := make([]byte, 4096)
	for {
		n, err := p.ptmx.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			p.onChildOutput(chunk)
		}
		if err != nil {
			break
		}
	}
	p.reap()
}

func (p *Process) onChildOutput(chunk []byte) {
	p.mu.Lock()
	p.appendBufferLocked(chunk)
	if p.term != nil {
		p.term.Write(chunk)
	}
	p.lastActivity = time.Now()
	if p.execTimeout > 0 {
		p.resetTimeoutLocked()
	}
	subs := p.snapshotSubsLocked()
	p.mu.Unlock()

	payload := chunk
	if p.ansiStrip {
		payload = stripANSI(chunk)
	}
	for _, s := range subs {
		if s.onData != nil {
			s.onData(payload)
		}
	}
}

// appendBufferLocked appends chunk to the bounded FIFO, discarding the
// oldest bytes once it would exceed outputBufferCap. Caller holds p.mu.
func (p *Process) appendBufferLocked(chunk []byte) {
	p.buf = append(p.buf, chunk...)
	if excess := len(p.buf) - outputBufferCap; excess > 0 {
		p.buf = p.buf[excess:]
	}
}

func (p *Process) snapshotSubsLocked() []*subscriber {
	out := make([]*subscriber, 0, len(p.subs))
	for _, s := range p.subs {
		out = append(out, s)
	}
	return out
}

// reap waits for the child to exit, records its exit code, notifies
// subscribers, and runs teardown. Called once, from readLoop, after the PTY
// master reports EOF.
func (p *Process) reap() {
	err := p.cmd.Wait()
	code := exitCodeFromError(p.cmd, err)

	p.mu.Lock()
	p.exitCode = &code
	wasActive := p.status == StatusActive || p.status == StatusIdle
	p.mu.Unlock()
	close(p.exitedCh)

	if wasActive {
		p.notifyExit(code)
	}

	p.dispose(syscall.SIGTERM)
}

func (p *Process) notifyExit(code int) {
	p.mu.Lock()
	subs := p.snapshotSubsLocked()
	p.mu.Unlock()
	for _, s := range subs {
		if s.onExit != nil {
			s.onExit(code)
		}
	}
}

func exitCodeFromError(cmd *exec.Cmd, err error) int {
	if err == nil {
		return 0
	}
	if exitErr, ok := err.(*exec.ExitError); ok {
		return exitErr.ExitCode()
	}
	return -1
}

// Write implements spec §4.2's write algorithm.
func (p *Process) Write(data []byte, waitMs int) (WriteResult, error) {
	p.mu.Lock()
	status := p.status
	p.mu.Unlock()
	if status != StatusActive && status != StatusIdle {
		return WriteResult{}, fmt.Errorf("%w", ptyerr.ErrNotActive)
	}

	if len(data) == 0 {
		return p.snapshot("Empty input ignored - use '\\n' for Enter key"), nil
	}

	if err := checkDangerousControlSequence(data); err != nil {
		return WriteResult{}, err
	}
	if err := normalizer.CheckDangerous(string(data), p.consentGranted); err != nil {
		return WriteResult{}, err
	}

	p.mu.Lock()
	ptmx := p.ptmx
	p.lastActivity = time.Now()
	if p.execTimeout > 0 {
		p.resetTimeoutLocked()
	}
	p.mu.Unlock()

	if _, err := ptmx.Write(data); err != nil {
		return WriteResult{}, fmt.Errorf("%w: %v", ptyerr.ErrSpawnFailed, err)
	}

	wait := time.Duration(waitMs) * time.Millisecond
	select {
	case <-time.After(wait):
	case <-p.exitedCh:
	}

	return p.snapshot(""), nil
}

func (p *Process) snapshot(warning string) WriteResult {
	p.mu.Lock()
	term := p.term
	code := p.exitCode
	p.mu.Unlock()

	res := WriteResult{Warning: warning, ExitCode: code}
	if term != nil {
		res.Screen = term.Screen()
		res.CursorX, res.CursorY = term.Cursor()
	}
	return res
}

var (
	cursorAbsolutePattern = regexp.MustCompile(`\x1b\[\d*;?\d*H`)
	eraseDisplayPattern   = regexp.MustCompile(`\x1b\[2J`)
	oscTitlePattern       = regexp.MustCompile(`\x1b\]0;[^\x07]*\x07`)
	privateModePattern    = regexp.MustCompile(`\x1b\[\?\d+[hl]`)
)

// checkDangerousControlSequence implements §4.2 step 3: cursor absolute
// positioning, erase-display, OSC title changes, and private mode
// sets/resets are rejected; SGR color, Ctrl keys, and arrow keys pass.
func checkDangerousControlSequence(data []byte) error {
	s := string(data)
	switch {
	case cursorAbsolutePattern.MatchString(s),
		eraseDisplayPattern.MatchString(s),
		oscTitlePattern.MatchString(s),
		privateModePattern.MatchString(s):
		return fmt.Errorf("%w", ptyerr.ErrDangerousControlSequence)
	}
	return nil
}

var ansiEscapePattern = regexp.MustCompile(`\x1b(\[[0-9;?]*[a-zA-Z]|\][^\x07]*\x07)`)

// stripANSI removes CSI and OSC escape sequences from chunk, for subscribers
// that asked for plain-text delivery via AnsiStrip.
func stripANSI(chunk []byte) []byte {
	return ansiEscapePattern.ReplaceAll(chunk, nil)
}

// CaptureBuffer returns the emulator's current screen, right-trimmed per
// row, regardless of status.
func (p *Process) CaptureBuffer() []string {
	p.mu.Lock()
	term := p.term
	p.mu.Unlock()
	if term == nil {
		return nil
	}
	return term.Screen()
}

// Serialize returns the emulator's current screen re-rendered with ANSI-SGR
// escapes, the "ANSI-serialized emulator snapshot" spec §4.6 pairs with the
// raw output buffer for the pty://{processId}/output resource.
func (p *Process) Serialize() string {
	p.mu.Lock()
	term := p.term
	p.mu.Unlock()
	if term == nil {
		return ""
	}
	return term.Serialize()
}

// GetOutputBuffer returns a copy of the last <=64 KiB of raw child output.
func (p *Process) GetOutputBuffer() []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]byte, len(p.buf))
	copy(out, p.buf)
	return out
}

// Subscribe registers callbacks for data, error, and exit events. Delivery
// is best-effort: a process that has already reached Terminated delivers
// nothing further, and unsubscribing never kills the child.
func (p *Process) Subscribe(onData DataFunc, onErr ErrFunc, onExit ExitFunc) *Subscription {
	p.mu.Lock()
	defer p.mu.Unlock()
	id := p.nextSubID
	p.nextSubID++
	p.subs[id] = &subscriber{onData: onData, onErr: onErr, onExit: onExit}
	return &Subscription{id: id, p: p}
}

// Wait is the Go analogue of toPromise(): it blocks until the process
// reaches Terminated, holding a strong reference to p for its entire
// duration so a concurrent auto-dispose removal from a PTY Manager's map
// cannot make the process disappear out from under a caller still waiting
// on its final output.
func (p *Process) Wait(ctx context.Context) (string, error) {
	select {
	case <-p.doneCh:
	case <-ctx.Done():
		return "", ctx.Err()
	}

	p.mu.Lock()
	code := p.exitCode
	buf := make([]byte, len(p.finalOutput))
	copy(buf, p.finalOutput)
	p.mu.Unlock()

	if code == nil {
		return "", fmt.Errorf("%w", ptyerr.ErrSpawnFailed)
	}
	if *code == 0 || *code == 143 {
		return string(buf), nil
	}
	return "", &ptyerr.SpawnError{ExitCode: *code}
}

// Resize changes the PTY master and emulator dimensions. It fails NotActive
// when the process is not Active or Idle.
//
// On Windows hosts tunneling a PTY through SSH, window-size propagation to
// the remote shell is unreliable; that limitation lives in the SSH stack
// this process attaches to and is not something a resize call here can
// correct.
func (p *Process) Resize(cols, rows int) error {
	if cols < 1 || rows < 1 {
		return fmt.Errorf("%w: size must be >= 1x1", ptyerr.ErrNotActive)
	}
	p.mu.Lock()
	status := p.status
	ptmx := p.ptmx
	term := p.term
	p.mu.Unlock()
	if status != StatusActive && status != StatusIdle {
		return fmt.Errorf("%w", ptyerr.ErrNotActive)
	}

	if err := pty.Setsize(ptmx, &pty.Winsize{Cols: uint16(cols), Rows: uint16(rows)}); err != nil {
		return fmt.Errorf("%w: resize pty: %v", ptyerr.ErrSpawnFailed, err)
	}
	if err := term.Resize(cols, rows); err != nil {
		return err
	}
	p.mu.Lock()
	p.cols, p.rows = cols, rows
	p.mu.Unlock()
	return nil
}

// Status returns the process's current status.
func (p *Process) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

// LastActivity returns the time of the most recent output or write.
func (p *Process) LastActivity() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastActivity
}

// resetTimeoutLocked (re)schedules the execution-timeout timer. Caller
// holds p.mu.
func (p *Process) resetTimeoutLocked() {
	if p.timeoutTimer != nil {
		p.timeoutTimer.Stop()
	}
	p.timeoutTimer = time.AfterFunc(p.execTimeout, func() {
		p.log.Warn("execution timeout exceeded, disposing")
		p.dispose(syscall.SIGTERM)
	})
}

// Dispose tears the process down: Terminating -> signal -> up to 3s grace
// -> SIGKILL -> emulator/buffer/subscriber cleanup -> Terminated. Idempotent.
func (p *Process) dispose(signal syscall.Signal) {
	p.mu.Lock()
	if p.status == StatusTerminating || p.status == StatusTerminated {
		p.mu.Unlock()
		return
	}
	p.status = StatusTerminating
	cmd := p.cmd
	ptmx := p.ptmx
	if p.timeoutTimer != nil {
		p.timeoutTimer.Stop()
	}
	p.mu.Unlock()

	p.disposeOnce.Do(func() {
		if cmd != nil && cmd.Process != nil {
			killProcessGroup(cmd.Process.Pid, signal)
			select {
			case <-p.exitedCh:
			case <-time.After(teardownGrace):
				killProcessGroup(cmd.Process.Pid, syscall.SIGKILL)
				<-p.exitedCh
			}
		} else {
			close(p.exitedCh)
		}

		if ptmx != nil {
			_ = ptmx.Close()
		}

		p.mu.Lock()
		p.subs = make(map[uint64]*subscriber)
		p.finalOutput = p.buf
		p.buf = nil
		if p.exitCode == nil {
			code := -1
			p.exitCode = &code
		}
		p.status = StatusTerminated
		p.mu.Unlock()

		close(p.doneCh)
	})
}

// Dispose is the public entry point for PTY Manager's kill/remove paths; it
// defaults to SIGTERM per §4.2.
func (p *Process) Dispose() {
	p.dispose(syscall.SIGTERM)
}

// killProcessGroup sends sig to the process group rooted at pid, so a
// child's own descendants are reaped along with it. Falls back to signaling
// just pid if the group lookup fails (e.g. the child already exited).
func killProcessGroup(pid int, sig syscall.Signal) {
	pgid, err := syscall.Getpgid(pid)
	if err != nil {
		_ = syscall.Kill(pid, sig)
		return
	}
	_ = syscall.Kill(-pgid, sig)
}

// Done returns a channel closed once the process reaches Terminated, for
// callers (like a PTY Manager's autoDisposeOnExit handling) that want to
// react without blocking on Wait's strong-reference semantics.
func (p *Process) Done() <-chan struct{} {
	return p.doneCh
}

// ExitCode returns the recorded exit code, or nil while still running.
func (p *Process) ExitCode() *int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exitCode
}
