// Package tmux implements the multiplexer capability set against a real
// tmux server: first-class pane ids, targeted writes without needing
// focus first, window ordering, and per-pane status via tmux's
// user-defined pane options.
package tmux

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/wtmux/wtmux/internal/handshake"
	"github.com/wtmux/wtmux/internal/multiplexer"
	"github.com/wtmux/wtmux/internal/wmerr"
)

const statusOptionKey = "@wtmux-status"

// Backend drives a single named tmux server/session via the tmux CLI.
type Backend struct {
	socket  string
	session string
}

// New returns a backend targeting the tmux server on the given socket
// name, using session as the one session all managed windows live in.
func New(socket, session string) *Backend {
	return &Backend{socket: socket, session: session}
}

func (b *Backend) Name() string { return "tmux" }

func (b *Backend) Capabilities() multiplexer.Capabilities {
	return multiplexer.Capabilities{
		PaneTargeting:   true,
		SupportsPreview: true,
		StablePaneIDs:   true,
		ExitOnJump:      false,
	}
}

// run executes a tmux command against this backend's socket and returns
// trimmed combined output.
func (b *Backend) run(ctx context.Context, args ...string) (string, error) {
	full := append([]string{"-L", b.socket}, args...)
	cmd := exec.CommandContext(ctx, "tmux", full...)
	out, err := cmd.CombinedOutput()
	trimmed := strings.TrimSpace(string(out))
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			return trimmed, &wmerr.ExternalCommandError{
				Argv:     append([]string{"tmux"}, full...),
				ExitCode: exitErr.ExitCode(),
				Stderr:   trimmed,
			}
		}
		return trimmed, wmerr.Wrap(wmerr.ExternalFailed, "running tmux", err)
	}
	return trimmed, nil
}

func (b *Backend) IsRunning(ctx context.Context) (bool, error) {
	_, err := b.run(ctx, "list-sessions")
	if err != nil {
		if cmdErr, ok := err.(*wmerr.ExternalCommandError); ok && cmdErr.ExitCode == 1 {
			return false, nil
		}
		if strings.Contains(err.Error(), "executable file not found") {
			return false, wmerr.Wrap(wmerr.ExternalFailed, "tmux not installed", err)
		}
		return false, nil
	}
	return true, nil
}

func (b *Backend) InstanceID(ctx context.Context) (string, error) {
	out, err := b.run(ctx, "display-message", "-p", "#{pid}")
	if err != nil {
		return "", err
	}
	return out, nil
}

func (b *Backend) CreateWindow(ctx context.Context, fullName, cwd string) (string, error) {
	running, err := b.IsRunning(ctx)
	if err != nil {
		return "", err
	}
	var out string
	if !running {
		out, err = b.run(ctx, "new-session", "-d", "-s", b.session, "-n", fullName, "-c", cwd,
			"-P", "-F", "#{pane_id}")
	} else {
		out, err = b.run(ctx, "new-window", "-t", b.session, "-n", fullName, "-c", cwd,
			"-P", "-F", "#{pane_id}")
	}
	if err != nil {
		return "", wmerr.Wrap(wmerr.ExternalFailed, "creating window "+fullName, err)
	}
	return out, nil
}

func (b *Backend) KillWindow(ctx context.Context, fullName string) error {
	_, err := b.run(ctx, "kill-window", "-t", b.target(fullName))
	if err != nil {
		if cmdErr, ok := err.(*wmerr.ExternalCommandError); ok &&
			strings.Contains(strings.ToLower(cmdErr.Stderr), "can't find window") {
			return nil // already gone: idempotent per spec §7.
		}
		return err
	}
	return nil
}

func (b *Backend) ScheduleWindowClose(ctx context.Context, fullName string, delay time.Duration) error {
	self, err := os.Executable()
	if err != nil {
		self = "wtmux"
	}
	script := fmt.Sprintf("sleep %s; %s", shellDuration(delay), b.ShellKillWindowCmd(self, fullName))
	return b.RunDeferredScript(ctx, script)
}

func (b *Backend) SelectWindow(ctx context.Context, fullName string) error {
	_, err := b.run(ctx, "select-window", "-t", b.target(fullName))
	return err
}

func (b *Backend) WindowExists(ctx context.Context, fullName string) (bool, error) {
	names, err := b.GetAllWindowNames(ctx)
	if err != nil {
		return false, err
	}
	for _, n := range names {
		if n == fullName {
			return true, nil
		}
	}
	return false, nil
}

func (b *Backend) CurrentWindowName(ctx context.Context) (string, error) {
	out, err := b.run(ctx, "display-message", "-p", "#{window_name}")
	if err != nil {
		return "", err
	}
	return out, nil
}

func (b *Backend) GetAllWindowNames(ctx context.Context) ([]string, error) {
	out, err := b.run(ctx, "list-windows", "-t", b.session, "-F", "#{window_name}")
	if err != nil {
		if cmdErr, ok := err.(*wmerr.ExternalCommandError); ok && cmdErr.ExitCode == 1 {
			return nil, nil
		}
		return nil, err
	}
	if out == "" {
		return nil, nil
	}
	return strings.Split(out, "\n"), nil
}

func (b *Backend) WaitUntilWindowsClosed(ctx context.Context, names []string, poll time.Duration) error {
	if poll <= 0 {
		poll = 100 * time.Millisecond
	}
	pending := make(map[string]bool, len(names))
	for _, n := range names {
		pending[n] = true
	}
	for len(pending) > 0 {
		all, err := b.GetAllWindowNames(ctx)
		if err != nil {
			return err
		}
		present := make(map[string]bool, len(all))
		for _, n := range all {
			present[n] = true
		}
		for n := range pending {
			if !present[n] {
				delete(pending, n)
			}
		}
		if len(pending) == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(poll):
		}
	}
	return nil
}

func (b *Backend) CurrentPaneID(ctx context.Context) (string, error) {
	if id := os.Getenv("TMUX_PANE"); id != "" {
		return id, nil
	}
	return b.run(ctx, "display-message", "-p", "#{pane_id}")
}

func (b *Backend) ActivePaneID(ctx context.Context, window string) (string, error) {
	out, err := b.run(ctx, "list-panes", "-t", b.target(window), "-F", "#{pane_active} #{pane_id}")
	if err != nil {
		return "", err
	}
	for _, line := range strings.Split(out, "\n") {
		fields := strings.SplitN(line, " ", 2)
		if len(fields) == 2 && fields[0] == "1" {
			return fields[1], nil
		}
	}
	return "", wmerr.New(wmerr.BackendUnsupported, "no active pane found in window "+window)
}

func (b *Backend) SelectPane(ctx context.Context, paneID string) error {
	_, err := b.run(ctx, "select-pane", "-t", paneID)
	return err
}

func (b *Backend) SwitchToPane(ctx context.Context, paneID string) error {
	if err := b.SelectPane(ctx, paneID); err != nil {
		return err
	}
	out, err := b.run(ctx, "display-message", "-p", "-t", paneID, "#{window_id}")
	if err != nil {
		return err
	}
	_, err = b.run(ctx, "select-window", "-t", out)
	return err
}

func (b *Backend) SplitPane(ctx context.Context, opts multiplexer.SplitOptions) (string, error) {
	args := []string{"split-window"}
	switch opts.Direction {
	case multiplexer.SplitHorizontal:
		args = append(args, "-h")
	default:
		args = append(args, "-v")
	}
	if opts.Percent > 0 {
		args = append(args, "-p", strconv.Itoa(opts.Percent))
	}
	target := opts.TargetPane
	if target == "" {
		var err error
		target, err = b.CurrentPaneID(ctx)
		if err != nil {
			return "", err
		}
	}
	args = append(args, "-t", target, "-P", "-F", "#{pane_id}")
	out, err := b.run(ctx, args...)
	if err != nil {
		return "", wmerr.Wrap(wmerr.PaneSetupConfig, "splitting pane", err)
	}
	return out, nil
}

func (b *Backend) RespawnPane(ctx context.Context, paneID, command string) error {
	_, err := b.run(ctx, "respawn-pane", "-t", paneID, "-k", command)
	return err
}

func (b *Backend) CapturePane(ctx context.Context, paneID string) (string, error) {
	return b.run(ctx, "capture-pane", "-t", paneID, "-p")
}

func (b *Backend) SendKeys(ctx context.Context, paneID, command string) error {
	_, err := b.run(ctx, "send-keys", "-t", paneID, command, "Enter")
	return err
}

func (b *Backend) SendKeysToAgent(ctx context.Context, paneID, command string, profile multiplexer.AgentProfile) error {
	if profile.NeedsBangDelay && strings.HasPrefix(command, "!") {
		if _, err := b.run(ctx, "send-keys", "-t", paneID, "!"); err != nil {
			return err
		}
		time.Sleep(50 * time.Millisecond)
		_, err := b.run(ctx, "send-keys", "-t", paneID, command[1:], "Enter")
		return err
	}
	return b.SendKeys(ctx, paneID, command)
}

func (b *Backend) SendKey(ctx context.Context, paneID, key string) error {
	_, err := b.run(ctx, "send-keys", "-t", paneID, key)
	return err
}

func (b *Backend) PasteMultiline(ctx context.Context, paneID, text string) error {
	_, err := b.run(ctx, "send-keys", "-t", paneID, "-l", text)
	if err != nil {
		return err
	}
	return b.SendKey(ctx, paneID, "Enter")
}

func (b *Backend) ClearPane(ctx context.Context, paneID string) error {
	_, err := b.run(ctx, "send-keys", "-t", paneID, "-R", "clear", "Enter")
	return err
}

func (b *Backend) SetStatus(ctx context.Context, paneID string, status multiplexer.Status, autoClear bool) error {
	_, err := b.run(ctx, "set-option", "-p", "-t", paneID, statusOptionKey, string(status))
	if err != nil {
		return err
	}
	if autoClear && status != multiplexer.StatusClear {
		// Best-effort: not all statuses auto-clear on this backend; the
		// caller controls clearing explicitly via ClearStatus.
		return nil
	}
	return nil
}

func (b *Backend) ClearStatus(ctx context.Context, paneID string) error {
	_, err := b.run(ctx, "set-option", "-p", "-t", paneID, statusOptionKey, string(multiplexer.StatusClear))
	return err
}

func (b *Backend) EnsureStatusFormat(ctx context.Context, window string) error {
	_, err := b.run(ctx, "set-option", "-t", b.session, "-g", "pane-border-status", "top")
	if err != nil {
		return err
	}
	_, err = b.run(ctx, "set-option", "-t", b.session, "-g", "pane-border-format",
		" #{"+statusOptionKey[1:]+"} ")
	return err
}

func (b *Backend) GetDefaultShell(ctx context.Context) (string, error) {
	if sh := os.Getenv("SHELL"); sh != "" {
		return sh, nil
	}
	out, err := b.run(ctx, "show-option", "-gv", "default-shell")
	if err != nil || out == "" {
		return "/bin/sh", nil
	}
	return out, nil
}

func (b *Backend) CreateHandshake(ctx context.Context) (multiplexer.Handshake, error) {
	shell, err := b.GetDefaultShell(ctx)
	if err != nil {
		return nil, err
	}
	return handshake.New(shell)
}

func (b *Backend) GetLivePaneInfo(ctx context.Context, paneID string) (*multiplexer.LivePaneInfo, error) {
	all, err := b.GetAllLivePaneInfo(ctx)
	if err != nil {
		return nil, err
	}
	if info, ok := all[paneID]; ok {
		return &info, nil
	}
	return nil, nil
}

func (b *Backend) GetAllLivePaneInfo(ctx context.Context) (map[string]multiplexer.LivePaneInfo, error) {
	format := "#{pane_id}\t#{pane_pid}\t#{pane_current_command}\t#{pane_current_path}\t#{pane_title}\t#{session_name}\t#{window_name}"
	out, err := b.run(ctx, "list-panes", "-a", "-F", format)
	if err != nil {
		if cmdErr, ok := err.(*wmerr.ExternalCommandError); ok && cmdErr.ExitCode == 1 {
			return map[string]multiplexer.LivePaneInfo{}, nil
		}
		return nil, err
	}
	result := make(map[string]multiplexer.LivePaneInfo)
	for _, line := range strings.Split(out, "\n") {
		if line == "" {
			continue
		}
		fields := strings.SplitN(line, "\t", 7)
		if len(fields) < 7 {
			continue
		}
		pid, _ := strconv.Atoi(fields[1])
		result[fields[0]] = multiplexer.LivePaneInfo{
			Pid:            pid,
			CurrentCommand: fields[2],
			WorkingDir:     fields[3],
			Title:          fields[4],
			Session:        fields[5],
			WindowName:     fields[6],
		}
	}
	return result, nil
}

// ValidateAgentAlive is the tmux-style default policy: the pane must
// exist in live info and the stored command basename must equal the live
// current_command basename.
func (b *Backend) ValidateAgentAlive(ctx context.Context, record multiplexer.AgentLivenessQuery, cached map[string]multiplexer.LivePaneInfo) (bool, error) {
	live := cached
	if live == nil {
		var err error
		live, err = b.GetAllLivePaneInfo(ctx)
		if err != nil {
			return false, err
		}
	}
	info, ok := live[record.PaneID]
	if !ok {
		return false, nil
	}
	return basename(info.CurrentCommand) == basename(record.Command), nil
}

func (b *Backend) ShellSelectWindowCmd(selfBinary, fullName string) string {
	return fmt.Sprintf("%s -L %s select-window -t %s",
		multiplexer.EscapeShellArg("tmux"), multiplexer.EscapeShellArg(b.socket), multiplexer.EscapeShellArg(b.target(fullName)))
}

func (b *Backend) ShellKillWindowCmd(selfBinary, fullName string) string {
	return fmt.Sprintf("tmux -L %s kill-window -t %s",
		multiplexer.EscapeShellArg(b.socket), multiplexer.EscapeShellArg(b.target(fullName)))
}

// RunDeferredScript hands script to a detached shell so it survives this
// process exiting: nohup, HUP trapped, run from "/" so it never holds a
// lock on a directory about to be deleted, with multiplexer-identifying
// env vars unset.
func (b *Backend) RunDeferredScript(ctx context.Context, script string) error {
	wrapped := fmt.Sprintf(`cd /; unset TMUX TMUX_PANE; trap '' HUP; nohup sh -c %s </dev/null >/dev/null 2>&1 &`,
		multiplexer.EscapeShellArg(script))
	cmd := exec.CommandContext(ctx, "sh", "-c", wrapped)
	return cmd.Run()
}

func (b *Backend) ScheduleCleanupAndClose(ctx context.Context, fullName string, cleanup []string, delay time.Duration) error {
	var parts []string
	parts = append(parts, "sleep "+shellDuration(delay))
	parts = append(parts, cleanup...)
	self, err := os.Executable()
	if err != nil {
		self = "wtmux"
	}
	parts = append(parts, b.ShellKillWindowCmd(self, fullName))
	return b.RunDeferredScript(ctx, strings.Join(parts, "; "))
}

// target qualifies a window name with the session, as tmux -t expects
// "session:window" when the window isn't already unambiguous.
func (b *Backend) target(fullName string) string {
	return b.session + ":" + fullName
}

func shellDuration(d time.Duration) string {
	secs := d.Seconds()
	if secs < 1 {
		secs = 1
	}
	return strconv.FormatFloat(secs, 'f', -1, 64)
}

func basename(cmd string) string {
	if i := strings.LastIndexByte(cmd, '/'); i >= 0 {
		return cmd[i+1:]
	}
	return cmd
}

var _ multiplexer.Multiplexer = (*Backend)(nil)
