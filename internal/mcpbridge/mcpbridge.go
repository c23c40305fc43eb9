// Package mcpbridge registers mcp-pty's tools and resources (spec §4.6) on
// a mark3labs/mcp-go server instance, binding every handler to one session
// so a tool call always knows which session it is serving.
package mcpbridge

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/mcp-pty/mcp-pty/internal/controlcode"
	"github.com/mcp-pty/mcp-pty/internal/ptyerr"
	"github.com/mcp-pty/mcp-pty/internal/ptylog"
	"github.com/mcp-pty/mcp-pty/internal/ptymgr"
	"github.com/mcp-pty/mcp-pty/internal/ptyproc"
	"github.com/mcp-pty/mcp-pty/internal/session"
	"github.com/sirupsen/logrus"
)

// settleDelay is how long start() waits before capturing the initial
// screen, per §4.6's "captured after brief settling".
const settleDelay = 150 * time.Millisecond

// Bridge binds one session's PTY Manager to a freshly constructed MCP
// server instance. The binder (package transport) owns the Bridge's
// lifetime and is responsible for calling NewServer exactly once per
// session.
type Bridge struct {
	sessionID string
	sessions  *session.Manager
	log       *logrus.Entry

	deactivateResources bool
}

// NewServer builds an *server.MCPServer with every tool and resource from
// spec §4.6 registered and bound to sess. deactivateResources mirrors the
// MCP_PTY_DEACTIVATE_RESOURCES startup option: when true, resources are
// skipped and activate_pty_tools is registered instead.
func NewServer(sess *session.Session, sessions *session.Manager, log *logrus.Entry, deactivateResources bool) *server.MCPServer {
	b := &Bridge{
		sessionID:           sess.ID,
		sessions:            sessions,
		log:                 ptylog.ForSession(log, sess.ID),
		deactivateResources: deactivateResources,
	}

	s := server.NewMCPServer("mcp-pty", "1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(true, true),
	)

	b.registerTools(s)
	if deactivateResources {
		b.registerActivateTool(s)
	} else {
		b.registerResources(s)
	}

	return s
}

func (b *Bridge) registerTools(s *server.MCPServer) {
	s.AddTool(mcp.NewTool("start",
		mcp.WithDescription("Start a command in a new PTY"),
		mcp.WithString("command", mcp.Required(), mcp.Description("Command line to execute")),
		mcp.WithString("pwd", mcp.Required(), mcp.Description("Absolute or ~-prefixed working directory")),
	), b.handleStart)

	s.AddTool(mcp.NewTool("kill",
		mcp.WithDescription("Terminate a PTY process"),
		mcp.WithString("processId", mcp.Required()),
	), b.handleKill)

	s.AddTool(mcp.NewTool("list",
		mcp.WithDescription("List this session's PTY processes"),
	), b.handleList)

	s.AddTool(mcp.NewTool("read",
		mcp.WithDescription("Read a PTY's current screen"),
		mcp.WithString("processId", mcp.Required()),
	), b.handleRead)

	s.AddTool(mcp.NewTool("write_input",
		mcp.WithDescription("Write input into a PTY"),
		mcp.WithString("processId", mcp.Required()),
		mcp.WithString("input", mcp.Description("Plain text to send, paired with ctrlCode")),
		mcp.WithString("ctrlCode", mcp.Description("Named key or short raw sequence, paired with input")),
		mcp.WithString("data", mcp.Description("Raw bytes to send, mutually exclusive with input/ctrlCode")),
		mcp.WithNumber("waitMs", mcp.Description("Milliseconds to wait for output before responding (default 1000)")),
	), b.handleWriteInput)
}

func (b *Bridge) registerActivateTool(s *server.MCPServer) {
	s.AddTool(mcp.NewTool("activate_pty_tools",
		mcp.WithDescription("Re-register list/read as tools when resources are deactivated"),
	), func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		s.AddTool(mcp.NewTool("list", mcp.WithDescription("List this session's PTY processes")), b.handleList)
		s.AddTool(mcp.NewTool("read",
			mcp.WithDescription("Read a PTY's current screen"),
			mcp.WithString("processId", mcp.Required()),
		), b.handleRead)
		return mcp.NewToolResultText("list and read tools activated"), nil
	})
}

func (b *Bridge) registerResources(s *server.MCPServer) {
	s.AddResource(mcp.NewResource("pty://status", "PTY runtime status", mcp.WithMIMEType("application/json")),
		b.handleStatusResource)
	s.AddResource(mcp.NewResource("pty://list", "Current session's PTY list", mcp.WithMIMEType("application/json")),
		b.handleListResource)

	s.AddResourceTemplate(mcp.NewResourceTemplate("pty://{processId}/output", "PTY output",
		mcp.WithTemplateMIMEType("application/json")), b.handleOutputResource)
	s.AddResourceTemplate(mcp.NewResourceTemplate("pty://{processId}/status", "PTY status",
		mcp.WithTemplateMIMEType("application/json")), b.handleProcessStatusResource)
}

// traceTool mints a request ID for one tool invocation and returns a
// log entry scoped to it, so a slow or failing call can be correlated
// across the session's log lines even when several tools run concurrently.
func (b *Bridge) traceTool(tool string) *logrus.Entry {
	return b.log.WithFields(logrus.Fields{"tool": tool, "request_id": uuid.NewString()})
}

func (b *Bridge) ptyManager() (*ptymgr.Manager, error) {
	mgr, ok := b.sessions.GetPtyManager(b.sessionID)
	if !ok {
		return nil, fmt.Errorf("%w", ptyerr.ErrNoSessionBound)
	}
	return mgr, nil
}

func (b *Bridge) handleStart(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	log := b.traceTool("start")
	command := req.GetString("command", "")
	pwd := req.GetString("pwd", "")
	if command == "" || pwd == "" {
		return mcp.NewToolResultError("command and pwd are both required"), nil
	}

	h, err := b.ptyManager()
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	processID := b.sessions.NewProcessID()
	ptylog.ForProcess(log, processID).Debug("starting pty")
	p, err := h.CreatePty(ptyproc.Spec{
		ProcessID:         processID,
		Command:           command,
		Cwd:               pwd,
		AutoDisposeOnExit: false,
	})
	if err != nil {
		log.WithError(err).Warn("pty start rejected")
		return mcp.NewToolResultError(err.Error()), nil
	}

	waitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := p.Ready(waitCtx); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	_ = b.sessions.AddPty(b.sessionID, processID)

	time.Sleep(settleDelay)

	return jsonResult(map[string]any{
		"processId": processID,
		"screen":    p.CaptureBuffer(),
		"exitCode":  p.ExitCode(),
	})
}

func (b *Bridge) handleKill(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	processID := req.GetString("processId", "")
	ptylog.ForProcess(b.traceTool("kill"), processID).Debug("killing pty")
	h, err := b.ptyManager()
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	success := h.RemovePty(processID)
	_ = b.sessions.RemovePty(b.sessionID, processID)
	return jsonResult(map[string]any{"success": success})
}

func (b *Bridge) handleList(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	h, err := b.ptyManager()
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(map[string]any{"ptys": listPtys(h.GetAllPtys())})
}

func (b *Bridge) handleRead(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	processID := req.GetString("processId", "")
	h, err := b.ptyManager()
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	p, ok := h.GetPty(processID)
	if !ok {
		return mcp.NewToolResultError(ptyerr.ErrProcessNotFound.Error()), nil
	}
	return jsonResult(map[string]any{"screen": trimTrailingBlankLines(p.CaptureBuffer())})
}

func (b *Bridge) handleWriteInput(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	processID := req.GetString("processId", "")
	input := req.GetString("input", "")
	ctrlCode := req.GetString("ctrlCode", "")
	data := req.GetString("data", "")
	waitMs := req.GetInt("waitMs", 1000)

	h, err := b.ptyManager()
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	p, ok := h.GetPty(processID)
	if !ok {
		return mcp.NewToolResultError(ptyerr.ErrProcessNotFound.Error()), nil
	}

	payload, err := resolveWritePayload(input, ctrlCode, data)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	res, err := p.Write(payload, waitMs)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	_ = b.sessions.AddPty(b.sessionID, processID) // touch bookkeeping, no-op if already present
	return jsonResult(map[string]any{
		"screen":   res.Screen,
		"cursor":   map[string]int{"x": res.CursorX, "y": res.CursorY},
		"exitCode": res.ExitCode,
		"warning":  res.Warning,
	})
}

// resolveWritePayload implements §4.6's "exactly one of data, or
// input+ctrlCode" validation for write_input.
func resolveWritePayload(input, ctrlCode, data string) ([]byte, error) {
	hasData := data != ""
	hasInputPair := input != "" || ctrlCode != ""

	if hasData && hasInputPair {
		return nil, fmt.Errorf("%w: specify either data, or input/ctrlCode, not both", ptyerr.ErrInvalidControlCode)
	}
	if hasData {
		return []byte(data), nil
	}
	if input == "" && ctrlCode == "" {
		return nil, fmt.Errorf("%w: one of data or input/ctrlCode is required", ptyerr.ErrInvalidControlCode)
	}

	var out []byte
	out = append(out, []byte(input)...)
	if ctrlCode != "" {
		code, err := controlcode.Resolve(ctrlCode)
		if err != nil {
			return nil, err
		}
		out = append(out, code...)
	}
	return out, nil
}

func (b *Bridge) handleStatusResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	h, err := b.ptyManager()
	if err != nil {
		return nil, err
	}
	return jsonResourceContents(req.Params.URI, map[string]any{
		"sessionCount": 1,
		"processCount": h.Count(),
	})
}

func (b *Bridge) handleListResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	h, err := b.ptyManager()
	if err != nil {
		return nil, err
	}
	return jsonResourceContents(req.Params.URI, map[string]any{"ptys": listPtys(h.GetAllPtys())})
}

func (b *Bridge) handleOutputResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	processID, err := processIDFromURI(req.Params.URI, "/output")
	if err != nil {
		return nil, err
	}
	h, err := b.ptyManager()
	if err != nil {
		return nil, err
	}
	p, ok := h.GetPty(processID)
	if !ok {
		return nil, ptyerr.ErrProcessNotFound
	}
	return jsonResourceContents(req.Params.URI, map[string]any{
		"outputBuffer": string(p.GetOutputBuffer()),
		"screen":       strings.Join(p.CaptureBuffer(), "\n"),
		"snapshot":     p.Serialize(),
	})
}

func (b *Bridge) handleProcessStatusResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	processID, err := processIDFromURI(req.Params.URI, "/status")
	if err != nil {
		return nil, err
	}
	h, err := b.ptyManager()
	if err != nil {
		return nil, err
	}
	p, ok := h.GetPty(processID)
	if !ok {
		return nil, ptyerr.ErrProcessNotFound
	}
	return jsonResourceContents(req.Params.URI, map[string]any{
		"status":       p.Status(),
		"createdAt":    p.CreatedAt,
		"lastActivity": p.LastActivity(),
		"exitCode":     p.ExitCode(),
	})
}

func processIDFromURI(uri, suffix string) (string, error) {
	rest := strings.TrimPrefix(uri, "pty://")
	rest = strings.TrimSuffix(rest, suffix)
	if rest == "" || rest == uri {
		return "", fmt.Errorf("%w: %s", ptyerr.ErrProcessNotFound, uri)
	}
	return rest, nil
}

func listPtys(ptys []*ptyproc.Process) []map[string]any {
	out := make([]map[string]any, 0, len(ptys))
	for _, p := range ptys {
		out = append(out, map[string]any{
			"id":           p.ProcessID,
			"status":       p.Status(),
			"createdAt":    p.CreatedAt,
			"lastActivity": p.LastActivity(),
			"exitCode":     p.ExitCode(),
		})
	}
	return out
}

func trimTrailingBlankLines(lines []string) []string {
	end := len(lines)
	for end > 0 && lines[end-1] == "" {
		end--
	}
	return lines[:end]
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(string(b)), nil
}

func jsonResourceContents(uri string, v any) ([]mcp.ResourceContents, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return []mcp.ResourceContents{
		mcp.TextResourceContents{URI: uri, MIMEType: "application/json", Text: string(b)},
	}, nil
}
