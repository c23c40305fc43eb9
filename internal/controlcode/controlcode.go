// Package controlcode resolves the named keys and short raw sequences a
// write_input call may use (§4.7) into the raw bytes to write into a PTY
// master.
package controlcode

import (
	"fmt"
	"sort"
	"strings"

	"github.com/mcp-pty/mcp-pty/internal/ptyerr"
)

// table is the authoritative name -> bytes mapping from spec §4.7.
var table = map[string][]byte{
	"Enter":     {'\n'},
	"Return":    {'\r'},
	"Tab":       {'\t'},
	"Backspace": {0x7f},

	"Ctrl+A": {0x01},
	"Ctrl+C": {0x03},
	"Ctrl+D": {0x04},
	"Ctrl+E": {0x05},
	"Ctrl+K": {0x0B},
	"Ctrl+L": {0x0C},
	"Ctrl+R": {0x12},
	"Ctrl+U": {0x15},
	"Ctrl+W": {0x17},
	"Ctrl+Z": {0x1A},
	"Escape": {0x1B},
	"Ctrl+[": {0x1B},

	"ArrowUp":    {0x1B, '[', 'A'},
	"ArrowDown":  {0x1B, '[', 'B'},
	"ArrowRight": {0x1B, '[', 'C'},
	"ArrowLeft":  {0x1B, '[', 'D'},
}

// aliases map alternate names onto a canonical table entry.
var aliases = map[string]string{
	"EOF":       "Ctrl+D",
	"EOT":       "Ctrl+D",
	"Interrupt": "Ctrl+C",
}

// maxRawLen is the longest raw byte sequence accepted through this path;
// anything longer must go through the write_input "data" field instead.
const maxRawLen = 4

// Resolve turns a control-code name or short raw sequence into the bytes to
// write into a PTY. Unknown names, and raw sequences longer than 4 bytes,
// fail with ErrInvalidControlCode so the caller's message can list the
// supported names.
func Resolve(name string) ([]byte, error) {
	if canon, ok := aliases[name]; ok {
		name = canon
	}
	if b, ok := table[name]; ok {
		out := make([]byte, len(b))
		copy(out, b)
		return out, nil
	}
	if len(name) > 0 && len(name) <= maxRawLen {
		return []byte(name), nil
	}
	return nil, fmt.Errorf("%w: %q (known codes: %s)", ptyerr.ErrInvalidControlCode, name, knownNames())
}

// knownNames returns a stable, sorted, human-readable list of every name
// Resolve recognizes, for use in error messages.
func knownNames() string {
	names := make([]string, 0, len(table)+len(aliases))
	for n := range table {
		names = append(names, n)
	}
	for n := range aliases {
		names = append(names, n)
	}
	sort.Strings(names)
	return strings.Join(names, ", ")
}
