// Package ptyerr defines the typed error kinds surfaced across mcp-pty, per
// the error-handling design in spec §7. Handlers use errors.Is/errors.As to
// map these onto MCP tool errors or HTTP status codes instead of matching on
// error strings.
package ptyerr

import "fmt"

// Sentinel errors. Wrap with fmt.Errorf("...: %w", ErrX) to add context.
var (
	ErrDangerousCommand         = fmt.Errorf("dangerous command rejected")
	ErrDangerousControlSequence = fmt.Errorf("dangerous control sequence rejected")
	ErrRootWithoutConsent       = fmt.Errorf("refusing to run as root without consent")
	ErrPrivilegeEscalation      = fmt.Errorf("privilege escalation attempt without consent")

	ErrInvalidWorkingDirectory = fmt.Errorf("invalid working directory")
	ErrInvalidControlCode      = fmt.Errorf("invalid control code")

	ErrTooManyPtys     = fmt.Errorf("too many ptys for this session")
	ErrNotActive       = fmt.Errorf("pty process is not active")
	ErrProcessNotFound = fmt.Errorf("pty process not found")
	ErrSessionNotFound = fmt.Errorf("session not found")

	ErrSpawnFailed    = fmt.Errorf("failed to spawn pty process")
	ErrNoSessionBound = fmt.Errorf("no session bound to this server instance")
)

// SpawnError reports that a child exited with an exit code that toPromise-
// style callers must treat as a failure (anything but 0 or 143).
type SpawnError struct {
	ExitCode int
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("process exited with code %d", e.ExitCode)
}
