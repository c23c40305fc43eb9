// Package safety implements the Safety Gate from spec §4.5/§4.2: consent
// gating for privilege escalation and root execution, and environment
// sanitization before a child is spawned.
package safety

import (
	"fmt"
	"os"
	"strings"

	"github.com/mcp-pty/mcp-pty/internal/ptyerr"
)

// ConsentEnvVar is the environment variable that opts the operator into
// dangerous operations. Only whether it is non-empty is checked; its value
// is not logged.
const ConsentEnvVar = "MCP_PTY_USER_CONSENT_FOR_DANGEROUS_ACTIONS"

// ConsentGranted reports whether the consent env var is set to a non-empty
// value in the process environment.
func ConsentGranted() bool {
	return os.Getenv(ConsentEnvVar) != ""
}

// privilegeEscalationExecutables lists argv[0] values (and their common
// full-path variants) that require consent per §4.1.
var privilegeEscalationExecutables = []string{
	"sudo", "su", "doas", "run0", "pkexec", "gosu", "runuser",
	"machinectl", "systemd-run", "ssh-agent", "gksudo", "kdesudo", "newgrp",
}

// IsPrivilegeEscalation reports whether argv0 (possibly a full path, e.g.
// "/usr/bin/sudo") names one of the known elevation executables.
func IsPrivilegeEscalation(argv0 string) bool {
	base := argv0
	if idx := strings.LastIndexByte(argv0, '/'); idx >= 0 {
		base = argv0[idx+1:]
	}
	for _, name := range privilegeEscalationExecutables {
		if base == name {
			return true
		}
	}
	// "nohup sudo ..." style prefixing: check the second token too.
	fields := strings.Fields(argv0)
	if len(fields) >= 2 && fields[0] == "nohup" {
		return IsPrivilegeEscalation(fields[1])
	}
	return false
}

// CheckSpawnConsent enforces §4.2 step 1: if argv0 or any whitespace-separated
// word of the raw command string names a privilege-escalation executable, or
// the process would run as root, consent must be present.
func CheckSpawnConsent(argv0, rawCommand string, runningAsRoot bool) error {
	escalation := ""
	if IsPrivilegeEscalation(argv0) {
		escalation = argv0
	} else {
		for _, word := range strings.Fields(rawCommand) {
			if IsPrivilegeEscalation(word) {
				escalation = word
				break
			}
		}
	}
	if escalation != "" && !ConsentGranted() {
		return fmt.Errorf("%w: %q", ptyerr.ErrPrivilegeEscalation, escalation)
	}
	if runningAsRoot && !ConsentGranted() {
		return fmt.Errorf("%w", ptyerr.ErrRootWithoutConsent)
	}
	return nil
}

// sanitizedVars are stripped from the caller-supplied environment overlay
// before it is merged with the inherited process environment (§4.2 step 2).
// PATH is included so an overlay cannot hijack executable resolution; the
// child still inherits the parent's PATH unchanged.
var sanitizedVars = []string{
	"LD_PRELOAD", "DYLD_INSERT_LIBRARIES", "PYTHONPATH", "NODE_PATH",
	"GEM_PATH", "PERL5LIB", "RUBYLIB", "CLASSPATH", "PATH",
}

// SanitizeOverlay removes dangerous variables from a caller-supplied
// environment overlay (a map of VAR=value pairs the caller wants to add on
// top of the inherited environment). Returns a new map; the input is left
// untouched.
func SanitizeOverlay(overlay map[string]string) map[string]string {
	out := make(map[string]string, len(overlay))
	for k, v := range overlay {
		if isSanitized(k) {
			continue
		}
		out[k] = v
	}
	return out
}

func isSanitized(key string) bool {
	for _, v := range sanitizedVars {
		if key == v {
			return true
		}
	}
	return false
}

// MergedEnviron builds the final environ slice for a child process: the
// inherited, unmodified os.Environ() plus a sanitized overlay, and a forced
// TERM=xterm-256color per §4.2 step 4.
func MergedEnviron(overlay map[string]string) []string {
	clean := SanitizeOverlay(overlay)
	env := os.Environ()
	for k, v := range clean {
		env = append(env, k+"="+v)
	}
	env = append(env, "TERM=xterm-256color")
	return env
}
