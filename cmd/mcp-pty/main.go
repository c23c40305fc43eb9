// mcp-pty – a persistent PTY multiplexer exposed through the Model Context
// Protocol.
//
// Usage:
//
//	mcp-pty [--transport stdio|http] [--port 6420] [--debug]
//
// In stdio mode (the default) mcp-pty binds exactly one session to its own
// stdin/stdout for the lifetime of the process, the way an MCP server
// launched directly by a client is expected to behave. In http mode it
// listens on --port and binds a session per mcp-session-id header, the way
// a long-lived daemon serving multiple clients is expected to behave.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/mcp-pty/mcp-pty/internal/config"
	"github.com/mcp-pty/mcp-pty/internal/ptylog"
	"github.com/mcp-pty/mcp-pty/internal/runtime"
	"golang.org/x/term"
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.Load("mcp-pty", os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	log := ptylog.New(cfg.Debug)

	if cfg.Transport == config.TransportStdio && term.IsTerminal(int(os.Stdin.Fd())) {
		log.Warn("stdio transport invoked from an interactive terminal; mcp-pty expects to be launched by an MCP client, not a user")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	var caughtSignal os.Signal
	go func() {
		sig := <-sigCh
		caughtSignal = sig
		log.WithField("signal", sig).Info("shutting down")
		cancel()
	}()

	rt := runtime.New(cfg, log)
	runErr := rt.Run(ctx)

	if caughtSignal == syscall.SIGINT {
		return 130
	}
	if runErr != nil && ctx.Err() == nil {
		log.WithError(runErr).Error("mcp-pty exited with an error")
		return 1
	}
	return 0
}
