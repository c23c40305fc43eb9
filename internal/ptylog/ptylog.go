// Package ptylog centralizes logrus setup so every component logs with the
// same field conventions (session_id, process_id). Output goes to stderr so
// stdout stays reserved for the stdio JSON-RPC transport.
package ptylog

import (
	"os"

	"github.com/sirupsen/logrus"
)

// New returns a logger configured for mcp-pty's daemon process. debug, when
// true, lowers the level to Debug so debug lines such as the direct-exec
// decision logged at PTY spawn are visible.
func New(debug bool) *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	l.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})
	if debug {
		l.SetLevel(logrus.DebugLevel)
	} else {
		l.SetLevel(logrus.InfoLevel)
	}
	return l
}

// ForSession returns base scoped with a session_id field. base is whatever
// entry a caller already holds (often already scoped further up the chain),
// so components nest their own fields onto the caller's instead of each
// rebuilding from the root logger.
func ForSession(base *logrus.Entry, sessionID string) *logrus.Entry {
	return base.WithField("session_id", sessionID)
}

// ForProcess returns base scoped with a process_id field, for log lines
// about one pty process.
func ForProcess(base *logrus.Entry, processID string) *logrus.Entry {
	return base.WithField("process_id", processID)
}
