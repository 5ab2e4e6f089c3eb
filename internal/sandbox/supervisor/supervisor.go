// Package supervisor implements the "sandbox run" subcommand: a long-lived
// process running inside the agent's pane that ensures the VM is up,
// starts the RPC acceptor, execs the agent command inside the VM, and
// propagates its exit code.
package supervisor

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/wtmux/wtmux/internal/sandbox/rpc"
	"github.com/wtmux/wtmux/internal/sandbox/vm"
	"github.com/wtmux/wtmux/internal/wmerr"
)

// Options configures one supervisor run.
type Options struct {
	Worktree       string
	Command        []string
	VMName         string
	EnvPassthrough []string
	AllowList      map[string]rpc.HostExecEntry
	CurrentPaneID  string // best-effort identity, "" if unknown
}

// Run ensures the VM is running, starts the RPC server, execs the agent
// command inside the VM via limactl, and returns the agent's exit code.
// A non-zero return alongside a nil error means the agent exited
// non-zero; a non-nil error means the supervisor itself failed before the
// agent could run.
func Run(ctx context.Context, opts Options, stdin, stdout, stderr *os.File) (int, error) {
	if len(opts.Command) == 0 {
		return 0, wmerr.New(wmerr.SandboxConfig, "sandbox run requires a command: sandbox run <worktree> -- <cmd...>")
	}

	worktree, err := filepath.Abs(opts.Worktree)
	if err != nil {
		worktree = opts.Worktree
	}

	if err := ensureVMRunning(ctx, opts.VMName); err != nil {
		return 0, err
	}

	rpcCtx := &rpc.Context{
		PaneID:       opts.CurrentPaneID,
		WorktreePath: worktree,
		AllowList:    opts.AllowList,
	}
	token, err := rpc.GenerateToken()
	if err != nil {
		return 0, err
	}
	rpcCtx.Token = token

	server, err := rpc.Bind(rpcCtx)
	if err != nil {
		return 0, err
	}
	defer server.Close()
	go server.Serve()

	cmd := buildLimaShellCmd(opts, worktree, server.Port(), token)
	cmd.Stdin = stdin
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	if err := cmd.Run(); err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			return exitErr.ExitCode(), nil
		}
		return 0, wmerr.Wrap(wmerr.ExternalFailed, "executing limactl shell", err)
	}
	return 0, nil
}

func ensureVMRunning(ctx context.Context, vmName string) error {
	if !vm.Available(ctx) {
		return wmerr.New(wmerr.SandboxConfig, "sandbox backend is enabled but limactl is not installed")
	}
	state, err := vm.CheckState(ctx, vmName)
	if err != nil {
		return err
	}
	switch state {
	case vm.StateRunning:
		return nil
	case vm.StateStopped:
		return runLimactl(ctx, "start", "--tty=false", vmName)
	default:
		return wmerr.New(wmerr.SandboxConfig, fmt.Sprintf("lima VM %q does not exist; create it with the sandbox build command", vmName))
	}
}

func runLimactl(ctx context.Context, args ...string) error {
	cmd := exec.CommandContext(ctx, "limactl", args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return wmerr.Wrap(wmerr.ExternalFailed, fmt.Sprintf("limactl %s", strings.Join(args, " ")), err)
	}
	return nil
}

// buildLimaShellCmd builds the limactl invocation exec'd once the VM is
// up. limactl shell uses non-interspersed flag parsing, so --workdir must
// come before the instance name; and limactl shell does not support
// --setenv, so environment is passed by embedding export statements in
// the remote command, wrapped in eval to undo limactl's own re-quoting of
// the remote script (otherwise shell expansion inside the user command,
// e.g. $(...), would be taken literally).
func buildLimaShellCmd(opts Options, worktree string, rpcPort int, token string) *exec.Cmd {
	exports := []string{
		`PATH="$HOME/.local/bin:$PATH"`,
		"GUEST=1",
		"RPC_HOST=host.lima.internal",
		fmt.Sprintf("RPC_PORT=%d", rpcPort),
		fmt.Sprintf("RPC_TOKEN=%s", token),
	}
	for _, name := range opts.EnvPassthrough {
		if val, ok := os.LookupEnv(name); ok {
			exports = append(exports, fmt.Sprintf("%s=%s", name, val))
		}
	}

	exportStmts := make([]string, len(exports))
	for i, e := range exports {
		exportStmts[i] = "export " + e
	}
	userCommand := strings.Join(opts.Command, " ")
	fullCommand := strings.Join(exportStmts, "; ") + "; " + userCommand

	args := []string{"shell", "--workdir", worktree, opts.VMName, "--", "eval", fullCommand}
	return exec.Command("limactl", args...)
}
