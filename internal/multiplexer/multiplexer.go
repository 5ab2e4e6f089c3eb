// Package multiplexer declares the capability-carrying interface that the
// workflow, pane-setup, and agent-state layers drive, and the shared types
// every backend speaks. Backends that cannot support an operation say so
// through Capabilities rather than pretending to.
package multiplexer

import (
	"context"
	"time"
)

// Capabilities declares what a backend can actually do. The pane-setup
// engine and agent-state reconciliation consult this instead of probing
// behavior at runtime.
type Capabilities struct {
	// PaneTargeting: operations can address a specific pane id directly,
	// without first focusing it.
	PaneTargeting bool
	// SupportsPreview: capturing pane content is cheap and pane-specific.
	SupportsPreview bool
	// StablePaneIDs: ids survive across queries and process restarts.
	StablePaneIDs bool
	// ExitOnJump: the UI should exit the current process after switching
	// to another pane (true for embedded/plugin-style UIs).
	ExitOnJump bool
}

// PaneInfo is the minimal identity of a pane as reported by a backend.
type PaneInfo struct {
	ID      string
	Index   int
	Active  bool
	Dead    bool
	Command string
}

// LivePaneInfo is a backend query result, never persisted. CurrentCommand
// is the basename of the running process.
type LivePaneInfo struct {
	Pid            int
	CurrentCommand string
	WorkingDir     string
	Title          string
	Session        string
	WindowName     string
}

// AgentProfile is consulted by SendKeysToAgent.
type AgentProfile struct {
	// NeedsBangDelay: send "!" alone, sleep ~50ms, then send the rest.
	// Some agent REPLs special-case a leading "!" if it arrives unflushed
	// together with the rest of the line.
	NeedsBangDelay bool
	// NeedsAutoStatus: auto-set status to "working" after sending a
	// prompt-bearing command.
	NeedsAutoStatus bool
}

// Status is the small set of states a pane can be decorated with.
type Status string

const (
	StatusWorking Status = "working"
	StatusWaiting Status = "waiting"
	StatusDone    Status = "done"
	StatusClear   Status = "clear"
)

// SplitDirection for split_pane.
type SplitDirection string

const (
	SplitHorizontal SplitDirection = "horizontal"
	SplitVertical   SplitDirection = "vertical"
)

// SplitOptions configures a pane split.
type SplitOptions struct {
	Direction  SplitDirection
	TargetPane string // pane id to split from; empty = currently focused
	Percent    int     // 0 = backend default
}

// Multiplexer is the uniform interface over differently-shaped terminal
// servers. Every method that is meaningless for a given backend must
// still be implemented: either as a declared no-op (only when the
// capability contract explicitly allows a downgrade) or returning a
// BackendUnsupported error — never a silent action on the wrong pane.
type Multiplexer interface {
	Name() string
	Capabilities() Capabilities

	// Server/session presence.
	IsRunning(ctx context.Context) (bool, error)
	InstanceID(ctx context.Context) (string, error)

	// Window lifecycle.
	CreateWindow(ctx context.Context, fullName, cwd string) (paneID string, err error)
	KillWindow(ctx context.Context, fullName string) error
	ScheduleWindowClose(ctx context.Context, fullName string, delay time.Duration) error
	SelectWindow(ctx context.Context, fullName string) error
	WindowExists(ctx context.Context, fullName string) (bool, error)
	CurrentWindowName(ctx context.Context) (string, error)
	GetAllWindowNames(ctx context.Context) ([]string, error)
	WaitUntilWindowsClosed(ctx context.Context, names []string, poll time.Duration) error

	// Pane ops.
	CurrentPaneID(ctx context.Context) (string, error)
	ActivePaneID(ctx context.Context, window string) (string, error)
	SelectPane(ctx context.Context, paneID string) error
	SwitchToPane(ctx context.Context, paneID string) error
	SplitPane(ctx context.Context, opts SplitOptions) (paneID string, err error)
	RespawnPane(ctx context.Context, paneID, command string) error
	CapturePane(ctx context.Context, paneID string) (string, error)

	// Text I/O.
	SendKeys(ctx context.Context, paneID, command string) error
	SendKeysToAgent(ctx context.Context, paneID, command string, profile AgentProfile) error
	SendKey(ctx context.Context, paneID, key string) error
	PasteMultiline(ctx context.Context, paneID, text string) error
	ClearPane(ctx context.Context, paneID string) error

	// Status decoration.
	SetStatus(ctx context.Context, paneID string, status Status, autoClear bool) error
	ClearStatus(ctx context.Context, paneID string) error
	EnsureStatusFormat(ctx context.Context, window string) error

	// Shell helpers.
	GetDefaultShell(ctx context.Context) (string, error)
	CreateHandshake(ctx context.Context) (Handshake, error)

	// Reconciliation.
	GetLivePaneInfo(ctx context.Context, paneID string) (*LivePaneInfo, error)
	GetAllLivePaneInfo(ctx context.Context) (map[string]LivePaneInfo, error)
	ValidateAgentAlive(ctx context.Context, record AgentLivenessQuery, cached map[string]LivePaneInfo) (bool, error)

	// Deferred-action helpers: each returns a shell-escaped command string
	// suitable for a detached background script, not something this
	// process runs itself.
	ShellSelectWindowCmd(selfBinary, fullName string) string
	ShellKillWindowCmd(selfBinary, fullName string) string
	RunDeferredScript(ctx context.Context, script string) error
	ScheduleCleanupAndClose(ctx context.Context, fullName string, cleanup []string, delay time.Duration) error
}

// AgentLivenessQuery is the subset of an agent record ValidateAgentAlive
// needs, kept backend-agnostic so this package doesn't import agentstate
// (which in turn depends on this package).
type AgentLivenessQuery struct {
	InstanceID     string
	PaneID         string
	Command        string
	LastHeartbeat  *int64 // wall-clock seconds, nil if never touched
	UpdatedTS      int64
}

// Handshake is the caller-facing handle returned by CreateHandshake: shell
// text to embed into the spawned pane's command, and a blocking Wait.
type Handshake interface {
	// Script is shell text that, when sourced by the target shell, signals
	// readiness and then execs the real shell.
	Script() string
	// Wait blocks until the signal arrives or timeout elapses.
	Wait(timeout time.Duration) error
	// Close removes any underlying OS resources (e.g. the named pipe).
	Close() error
}

// EscapeShellArg single-quotes s for safe embedding in a shell command
// line, escaping any embedded single quotes by closing the quote,
// emitting an escaped quote, and reopening it.
func EscapeShellArg(s string) string {
	out := make([]byte, 0, len(s)+2)
	out = append(out, '\'')
	for i := 0; i < len(s); i++ {
		if s[i] == '\'' {
			out = append(out, '\'', '"', '\'', '"', '\'')
		} else {
			out = append(out, s[i])
		}
	}
	out = append(out, '\'')
	return string(out)
}
