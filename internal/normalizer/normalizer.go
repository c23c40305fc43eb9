// Package normalizer implements the Command Normalizer from spec §4.1: it
// classifies a user-typed command string as either a direct (executable,
// args) invocation or a command that must be run via "sh -c", and applies
// the dangerous-pattern policy that can reject a command outright.
package normalizer

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/mcp-pty/mcp-pty/internal/ptyerr"
	"github.com/mcp-pty/mcp-pty/internal/safety"
	"mvdan.cc/sh/v3/syntax"
)

// Command is the result of classifying a command string.
type Command struct {
	// Direct is true when the AST was exactly one simple command with no
	// redirections, pipelines, logical/sequence operators, or env-var
	// prefix assignments — safe to exec directly.
	Direct bool
	// Argv0/Args are populated when Direct is true.
	Argv0 string
	Args  []string
	// ShellArgv is "sh", "-c", raw — populated when Direct is false.
	ShellArgv []string
}

// Normalize parses raw with a Bourne-shell grammar and classifies it per
// §4.1. A parse failure always forces the shell-wrapped form rather than
// erroring — an unparseable string may still be valid input to `sh -c`.
func Normalize(raw string) Command {
	if direct, ok := tryDirect(raw); ok {
		return direct
	}
	return Command{
		Direct:    false,
		ShellArgv: []string{"sh", "-c", raw},
	}
}

func tryDirect(raw string) (Command, bool) {
	parser := syntax.NewParser()
	file, err := parser.Parse(strings.NewReader(raw), "")
	if err != nil {
		return Command{}, false
	}
	if len(file.Stmts) != 1 {
		// Multiple top-level statements means ";"-sequenced commands.
		return Command{}, false
	}
	stmt := file.Stmts[0]
	if len(stmt.Redirs) != 0 {
		return Command{}, false
	}
	call, ok := stmt.Cmd.(*syntax.CallExpr)
	if !ok {
		// Pipelines, &&/||, subshells, blocks, etc. all parse to something
		// other than a bare CallExpr.
		return Command{}, false
	}
	if len(call.Assigns) != 0 {
		// "VAR=value cmd" prefix assignment.
		return Command{}, false
	}
	if len(call.Args) == 0 {
		return Command{}, false
	}

	args := make([]string, 0, len(call.Args))
	for _, w := range call.Args {
		lit, ok := wordLiteral(w)
		if !ok {
			// Parameter expansion, command substitution, globs, etc. — not
			// safe to hand to exec.Command verbatim, fall back to shell.
			return Command{}, false
		}
		args = append(args, lit)
	}

	return Command{
		Direct: true,
		Argv0:  args[0],
		Args:   args[1:],
	}, true
}

// wordLiteral extracts a word's plain-text value when every part of it is a
// literal or single-quoted literal (no $VAR, no `cmd`, no globbing).
func wordLiteral(w *syntax.Word) (string, bool) {
	var sb strings.Builder
	for _, part := range w.Parts {
		switch p := part.(type) {
		case *syntax.Lit:
			sb.WriteString(p.Value)
		case *syntax.SglQuoted:
			sb.WriteString(p.Value)
		case *syntax.DblQuoted:
			// Only allow double-quoted strings whose contents are
			// themselves plain literals (no interpolation inside).
			for _, inner := range p.Parts {
				lit, ok := inner.(*syntax.Lit)
				if !ok {
					return "", false
				}
				sb.WriteString(lit.Value)
			}
		default:
			return "", false
		}
	}
	return sb.String(), true
}

// forkBombPattern matches the canonical ":(){ :|:& };:" shape and the same
// shape under an arbitrary function name (the "equivalent recursive
// self-invocation shapes" clause of §4.1).
var forkBombPattern = regexp.MustCompile(`(\$?[A-Za-z_:][A-Za-z0-9_]*)\s*\(\)\s*\{\s*[A-Za-z0-9_:]+\s*\|\s*[A-Za-z0-9_:]+\s*&\s*\}\s*;\s*[A-Za-z0-9_:]+`)

var mkfsPattern = regexp.MustCompile(`(^|[/\s])mkfs(\.\S+)?(\s|$)`)
var ddToDevPattern = regexp.MustCompile(`\bof=/dev/sd[a-z]\b`)
var redirectToDevPattern = regexp.MustCompile(`>{1,2}\s*/dev/sd[a-z]\b`)

// rmCmdPattern is isRmRfRoot's cheap prefilter: it matches any "rm" word
// followed by whitespace. isRmRfRoot then checks for both -r and -f
// (combined or separate, in either order) targeting exactly "/" or "/*" —
// not an arbitrary subpath like "/tmp/x".
var rmCmdPattern = regexp.MustCompile(`\brm\s+`)

// CheckDangerous applies the dangerous-pattern policy from §4.1. If consent
// is false and raw matches a dangerous pattern, it returns a wrapped
// ptyerr.ErrDangerousCommand. When raw is (or normalizes to) "sh -c X" —
// whether the caller typed that verbatim, which Normalize classifies as a
// Direct three-arg invocation, or the normalizer itself auto-wrapped raw
// into the shell form — the check is re-applied recursively to X, so
// wrapping a dangerous command in an explicit "sh -c" can't bypass it.
func CheckDangerous(raw string, consent bool) error {
	if consent {
		return nil
	}
	if err := checkPatterns(raw); err != nil {
		return err
	}
	if inner, ok := shCInner(Normalize(raw)); ok && inner != raw {
		return CheckDangerous(inner, consent)
	}
	return nil
}

// shCInner extracts X from a Command that invokes "sh -c X", whether it got
// there as an auto-wrapped shell command or a Direct three-literal-arg
// CallExpr the caller typed out by hand (e.g. `sh -c 'rm -rf /'`).
func shCInner(cmd Command) (string, bool) {
	if !cmd.Direct && len(cmd.ShellArgv) == 3 && cmd.ShellArgv[0] == "sh" && cmd.ShellArgv[1] == "-c" {
		return cmd.ShellArgv[2], true
	}
	if cmd.Direct && cmd.Argv0 == "sh" && len(cmd.Args) >= 2 && cmd.Args[0] == "-c" {
		return cmd.Args[1], true
	}
	return "", false
}

func checkPatterns(raw string) error {
	trimmed := strings.TrimSpace(raw)

	if forkBombPattern.MatchString(trimmed) {
		return fmt.Errorf("%w: fork bomb pattern", ptyerr.ErrDangerousCommand)
	}
	if isRmRfRoot(trimmed) {
		return fmt.Errorf("%w: rm -rf against /", ptyerr.ErrDangerousCommand)
	}
	if mkfsPattern.MatchString(trimmed) {
		return fmt.Errorf("%w: mkfs invocation", ptyerr.ErrDangerousCommand)
	}
	if ddToDevPattern.MatchString(trimmed) {
		return fmt.Errorf("%w: dd writing to a block device", ptyerr.ErrDangerousCommand)
	}
	if redirectToDevPattern.MatchString(trimmed) {
		return fmt.Errorf("%w: redirect to a block device", ptyerr.ErrDangerousCommand)
	}

	argv0 := firstToken(trimmed)
	if safety.IsPrivilegeEscalation(argv0) {
		return fmt.Errorf("%w: %q", ptyerr.ErrPrivilegeEscalation, argv0)
	}

	return nil
}

// isRmRfRoot reports whether cmd is an "rm" invocation with both recursive
// and force flags whose target is exactly "/" or "/*" — never a subpath.
func isRmRfRoot(cmd string) bool {
	if !rmCmdPattern.MatchString(cmd) {
		return false
	}
	fields := strings.Fields(cmd)
	hasR, hasF := false, false
	var targets []string
	seenRm := false
	for _, f := range fields {
		if !seenRm {
			if f == "rm" {
				seenRm = true
			}
			continue
		}
		if strings.HasPrefix(f, "-") && f != "-" {
			flags := strings.TrimPrefix(f, "-")
			if strings.ContainsAny(flags, "rR") {
				hasR = true
			}
			if strings.Contains(flags, "f") {
				hasF = true
			}
			continue
		}
		targets = append(targets, f)
	}
	if !hasR || !hasF {
		return false
	}
	for _, t := range targets {
		if t == "/" || t == "/*" {
			return true
		}
	}
	return false
}

// firstToken returns the first whitespace-separated token of s, or "" if s
// is empty.
func firstToken(s string) string {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}
