// Package transport implements the Transport Binder from spec §4.5: it
// maps a live MCP connection (stdio or streaming HTTP) onto a session and
// its PTY Manager.
package transport

import (
	"context"
	"os"

	"github.com/mark3labs/mcp-go/server"
	"github.com/mcp-pty/mcp-pty/internal/mcpbridge"
	"github.com/mcp-pty/mcp-pty/internal/ptylog"
	"github.com/mcp-pty/mcp-pty/internal/session"
	"github.com/sirupsen/logrus"
)

// RunStdio implements stdio mode: exactly one session for the process's
// lifetime, created on entry and disposed when stdin reaches EOF or ctx is
// canceled (parent-process disconnect / shutdown signal). There is no
// reconnection semantics in this mode.
func RunStdio(ctx context.Context, sessions *session.Manager, log *logrus.Entry, deactivateResources bool) error {
	sess := sessions.CreateSession()
	defer sessions.DisposeSession(sess.ID)

	mcpServer := mcpbridge.NewServer(sess, sessions, log, deactivateResources)
	_ = sessions.UpdateStatus(sess.ID, session.StatusActive)

	ptylog.ForSession(log, sess.ID).Info("stdio session bound")

	stdioServer := server.NewStdioServer(mcpServer)
	return stdioServer.Listen(ctx, os.Stdin, os.Stdout)
}
