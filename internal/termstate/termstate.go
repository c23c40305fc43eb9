// Package termstate adapts hinshun/vt10x into the TerminalEmulator used by
// a PTY Process (spec §3) to track screen contents for the pty://{id}/output
// resource without replaying the raw PTY output to every reader.
package termstate

import (
	"fmt"
	"strings"
	"sync"

	"github.com/hinshun/vt10x"
)

// Emulator is a mutex-guarded headless vt10x terminal. A single Emulator is
// owned by exactly one PTY Process and fed every byte the child writes.
type Emulator struct {
	mu   sync.Mutex
	vt   vt10x.Terminal
	cols int
	rows int
}

// New creates an emulator sized to cols x rows. Size must be positive in
// both dimensions; callers should default to 80x24 when a client omits it.
func New(cols, rows int) (*Emulator, error) {
	if cols <= 0 || rows <= 0 {
		return nil, fmt.Errorf("termstate: invalid size %dx%d", cols, rows)
	}
	vt, err := vt10x.New(vt10x.WithSize(cols, rows))
	if err != nil {
		return nil, fmt.Errorf("termstate: create vt10x terminal: %w", err)
	}
	return &Emulator{vt: vt, cols: cols, rows: rows}, nil
}

// Write feeds raw PTY output (including ANSI escape sequences) into the
// terminal's state machine. It never returns an error to the caller: a
// malformed escape sequence is something vt10x recovers from on its own,
// the same way a real terminal would.
func (e *Emulator) Write(p []byte) {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, _ = e.vt.Write(p)
}

// Resize changes the emulator's grid dimensions, reflowing as vt10x does
// internally. Callers must also resize the underlying PTY master
// separately; the two are not linked by this package.
func (e *Emulator) Resize(cols, rows int) error {
	if cols <= 0 || rows <= 0 {
		return fmt.Errorf("termstate: invalid size %dx%d", cols, rows)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.vt.Resize(cols, rows)
	e.cols, e.rows = cols, rows
	return nil
}

// Size returns the emulator's current column and row count.
func (e *Emulator) Size() (cols, rows int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cols, e.rows
}

// Cursor returns the cursor's current column and row.
func (e *Emulator) Cursor() (x, y int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	c := e.vt.Cursor()
	return c.X, c.Y
}

// Screen returns the visible grid as one string per row, each right-trimmed
// of trailing blanks. Row order matches the terminal's top-to-bottom
// layout, row 0 first.
func (e *Emulator) Screen() []string {
	e.mu.Lock()
	defer e.mu.Unlock()

	lines := make([]string, 0, e.rows)
	for y := 0; y < e.rows; y++ {
		var sb strings.Builder
		for x := 0; x < e.cols; x++ {
			ch, _, _ := e.vt.Cell(x, y)
			if ch == 0 {
				ch = ' '
			}
			sb.WriteRune(ch)
		}
		lines = append(lines, strings.TrimRight(sb.String(), " "))
	}
	return lines
}

// Serialize reconstructs the screen as a single string carrying the minimal
// ANSI SGR sequences needed to reproduce its foreground/background colors,
// for clients that render the pty://{id}/output resource as styled text
// rather than plain rows. Rows are newline-separated; the cursor is not
// repositioned by the output since a resource read is a point-in-time
// snapshot, not a live stream.
func (e *Emulator) Serialize() string {
	e.mu.Lock()
	defer e.mu.Unlock()

	var sb strings.Builder
	var curFG, curBG vt10x.Color = vt10x.DefaultFG, vt10x.DefaultBG
	started := false

	for y := 0; y < e.rows; y++ {
		if y > 0 {
			sb.WriteByte('\n')
		}
		lineHadContent := false
		var line strings.Builder
		for x := 0; x < e.cols; x++ {
			ch, fg, bg := e.vt.Cell(x, y)
			if ch == 0 {
				ch = ' '
			} else {
				lineHadContent = true
			}
			if !started || fg != curFG || bg != curBG {
				line.WriteString(sgrFor(fg, bg))
				curFG, curBG = fg, bg
				started = true
			}
			line.WriteRune(ch)
		}
		if lineHadContent {
			sb.WriteString(strings.TrimRight(line.String(), " "))
		}
	}
	if started {
		sb.WriteString("\x1b[0m")
	}
	return sb.String()
}

// sgrFor builds the SGR escape sequence that sets fg/bg to the given
// vt10x palette colors. Colors 0-7 and 8-15 map to the standard and bright
// ANSI ranges; anything else falls back to the 256-color SGR form.
func sgrFor(fg, bg vt10x.Color) string {
	var codes []string
	codes = append(codes, "0")
	codes = append(codes, fgCode(fg)...)
	codes = append(codes, bgCode(bg)...)
	return "\x1b[" + strings.Join(codes, ";") + "m"
}

func fgCode(c vt10x.Color) []string {
	switch {
	case c == vt10x.DefaultFG:
		return nil
	case c < 8:
		return []string{fmt.Sprintf("%d", 30+int(c))}
	case c < 16:
		return []string{fmt.Sprintf("%d", 90+int(c)-8)}
	default:
		return []string{"38", "5", fmt.Sprintf("%d", int(c))}
	}
}

func bgCode(c vt10x.Color) []string {
	switch {
	case c == vt10x.DefaultBG:
		return nil
	case c < 8:
		return []string{fmt.Sprintf("%d", 40+int(c))}
	case c < 16:
		return []string{fmt.Sprintf("%d", 100+int(c)-8)}
	default:
		return []string{"48", "5", fmt.Sprintf("%d", int(c))}
	}
}
