// Package runtime wires configuration, the Session Manager, and the
// Transport Binder together at startup. It replaces a module-wide
// session-manager singleton: a Runtime is constructed once in
// cmd/mcp-pty/main.go and threaded into whichever transport is selected.
package runtime

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/mcp-pty/mcp-pty/internal/config"
	"github.com/mcp-pty/mcp-pty/internal/session"
	"github.com/mcp-pty/mcp-pty/internal/transport"
	"github.com/sirupsen/logrus"
)

// Runtime owns the Session Manager and dispatches to the configured
// transport.
type Runtime struct {
	Config   config.Config
	Sessions *session.Manager
	Log      *logrus.Logger

	stopSweep func()
}

// New constructs a Runtime from a resolved Config.
func New(cfg config.Config, log *logrus.Logger) *Runtime {
	return &Runtime{
		Config:   cfg,
		Sessions: session.NewManager(log.WithField("component", "session-manager")),
		Log:      log,
	}
}

// Run starts the idle sweep and blocks serving the configured transport
// until ctx is canceled, then disposes every session, awaiting at most 3s
// per PTY.
func (r *Runtime) Run(ctx context.Context) error {
	r.stopSweep = r.Sessions.StartIdleSweep()
	defer r.shutdown()

	switch r.Config.Transport {
	case config.TransportStdio:
		return transport.RunStdio(ctx, r.Sessions, r.Log.WithField("transport", "stdio"), r.Config.DeactivateResources)
	case config.TransportHTTP:
		return r.runHTTP(ctx)
	default:
		return fmt.Errorf("runtime: unknown transport %q", r.Config.Transport)
	}
}

func (r *Runtime) runHTTP(ctx context.Context) error {
	binder := transport.NewHTTPBinder(r.Sessions, r.Log.WithField("transport", "http"), r.Config.DeactivateResources)

	mux := http.NewServeMux()
	mux.Handle("/mcp", binder)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", r.Config.Port),
		Handler: mux,
	}

	errCh := make(chan error, 1)
	go func() {
		r.Log.WithField("addr", srv.Addr).Info("mcp-pty http transport listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

// shutdown disposes every session and stops the idle sweep.
// ptyproc.dispose already bounds each child's teardown to
// teardownGrace (3s) before escalating to SIGKILL, so disposing every
// session here satisfies the "at most 3s per PTY" shutdown bound from spec
// §5 without any extra waiting logic at this layer.
func (r *Runtime) shutdown() {
	if r.stopSweep != nil {
		r.stopSweep()
	}
	for _, id := range r.Sessions.SessionIDs() {
		r.Sessions.DisposeSession(id)
	}
}
