// Command wtmux is the thin CLI entry point dispatching to the core
// packages: close/last-done/list/notify/sandbox/set-window-status. Flag
// parsing here is intentionally minimal — the CLI surface itself is an
// external concern, this just makes the core runnable end to end.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/wtmux/wtmux/internal/agentstate"
	"github.com/wtmux/wtmux/internal/config"
	"github.com/wtmux/wtmux/internal/donestack"
	"github.com/wtmux/wtmux/internal/git"
	"github.com/wtmux/wtmux/internal/multiplexer"
	"github.com/wtmux/wtmux/internal/sandbox/container"
	"github.com/wtmux/wtmux/internal/sandbox/rpc"
	"github.com/wtmux/wtmux/internal/sandbox/supervisor"
	"github.com/wtmux/wtmux/internal/wmerr"
	"github.com/wtmux/wtmux/internal/workflow"
)

var Version = "dev"

func main() {
	cmd := parseCommand(os.Args[1:])
	var args []string
	if len(os.Args) > 1 {
		args = os.Args[2:]
	}

	ctx := context.Background()
	var err error

	switch cmd {
	case "version":
		fmt.Println("wtmux " + Version)
		return
	case "help":
		printHelp()
		return
	case "close":
		err = runClose(ctx, args)
	case "last-done":
		err = runLastDone(ctx, args)
	case "list":
		err = runList(ctx, args)
	case "notify":
		err = runNotify(ctx, args)
	case "sandbox":
		err = runSandbox(ctx, args)
	case "set-window-status":
		err = runSetWindowStatus(ctx, args)
	}

	if err != nil {
		fmt.Fprintln(os.Stderr, "wtmux: "+err.Error())
		os.Exit(1)
	}
}

func printHelp() {
	fmt.Println(`wtmux <command> [args]

Commands:
  close [name]                       close a managed window
  last-done                          jump to the most recently completed pane
  list [--pr]                        list reconciled agents
  notify sound <path>                ask the sandbox host to play a sound
  sandbox auth                       seed sandbox credential files
  sandbox build [--force]            (external: container image build)
  sandbox prune [--force]            remove stopped wtmux containers
  sandbox stop [name] [--all]        stop sandbox containers
  sandbox run <worktree> -- <cmd...> supervisor entry point (hidden)
  set-window-status working|waiting|done|clear`)
}

func newWorkflowContext(ctx context.Context) (*workflow.Context, multiplexer.Multiplexer, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, nil, wmerr.Wrap(wmerr.NotInRepo, "getting working directory", err)
	}
	gitQuery := git.New(cwd)
	cfg := loadEnvConfig()
	mux := newBackend()

	wc, err := workflow.New(ctx, gitQuery, cfg, mux)
	if err != nil {
		return nil, nil, err
	}
	return wc, mux, nil
}

func stateDir() (string, error) {
	return config.ConfigDir()
}

func runClose(ctx context.Context, args []string) error {
	wc, mux, err := newWorkflowContext(ctx)
	if err != nil {
		return err
	}
	if err := wc.EnsureMuxRunning(ctx); err != nil {
		return err
	}

	var name string
	if len(args) > 0 {
		name = args[0]
	} else {
		current, err := mux.CurrentWindowName(ctx)
		if err != nil {
			return err
		}
		name = current
	}
	fullName := name
	if len(name) < len(wc.Prefix) || name[:len(wc.Prefix)] != wc.Prefix {
		fullName = wc.Prefix + name
	}

	// Best-effort: stop any sandbox container tagged for this window, then
	// close the window itself. A container failing to stop should not
	// block closing the window.
	if host, herr := container.NewHost(); herr == nil {
		defer host.Close()
		_ = host.StopByName(ctx, container.NamePrefix+name)
	}

	current, err := mux.CurrentWindowName(ctx)
	if err == nil && current == fullName {
		return mux.ScheduleWindowClose(ctx, fullName, 2*time.Second)
	}
	return mux.KillWindow(ctx, fullName)
}

func runLastDone(ctx context.Context, args []string) error {
	dir, err := stateDir()
	if err != nil {
		return err
	}
	store := donestack.NewStore(dir)
	paneID, ok, err := store.LastDone()
	if err != nil {
		return err
	}
	if !ok {
		fmt.Println("no completed panes")
		return nil
	}

	_, mux, err := newWorkflowContext(ctx)
	if err != nil {
		return err
	}
	return mux.SwitchToPane(ctx, paneID)
}

func runList(ctx context.Context, args []string) error {
	_, mux, err := newWorkflowContext(ctx)
	if err != nil {
		return err
	}
	instanceID, err := mux.InstanceID(ctx)
	if err != nil {
		return err
	}

	dir, err := stateDir()
	if err != nil {
		return err
	}
	store := agentstate.NewStore(dir)
	records, err := store.LoadReconciled(ctx, mux, instanceID)
	if err != nil {
		return err
	}
	for _, r := range records {
		fmt.Printf("%s\t%s\t%s\n", r.WindowName, r.PaneKey.PaneID, r.Command)
	}
	return nil
}

func runNotify(ctx context.Context, args []string) error {
	if len(args) < 2 || args[0] != "sound" {
		return fmt.Errorf("usage: notify sound <path>")
	}
	env := rpc.ReadGuestEnv()
	return rpc.NotifySound(env, args[1])
}

func runSandbox(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: sandbox <auth|build|prune|stop|run>")
	}
	sub, rest := args[0], args[1:]
	switch sub {
	case "auth":
		paths, err := container.DefaultConfigPaths()
		if err != nil {
			return err
		}
		return container.EnsureConfigDirs(paths)
	case "build":
		return fmt.Errorf("sandbox build is an external command (container image build is out of scope)")
	case "prune":
		force := hasFlag(rest, "--force")
		host, err := container.NewHost()
		if err != nil {
			return err
		}
		defer host.Close()
		n, err := host.Prune(ctx, force)
		if err != nil {
			return err
		}
		fmt.Printf("removed %d container(s)\n", n)
		return nil
	case "stop":
		return runSandboxStop(ctx, rest)
	case "run":
		return runSandboxRun(ctx, rest)
	default:
		return fmt.Errorf("unknown sandbox subcommand %q", sub)
	}
}

func runSandboxStop(ctx context.Context, args []string) error {
	host, err := container.NewHost()
	if err != nil {
		return err
	}
	defer host.Close()

	if hasFlag(args, "--all") {
		infos, err := host.List(ctx)
		if err != nil {
			return err
		}
		for _, info := range infos {
			if err := host.StopByName(ctx, info.Name); err != nil {
				fmt.Fprintf(os.Stderr, "wtmux: stopping %s: %v\n", info.Name, err)
			}
		}
		return nil
	}
	if len(args) == 0 || args[0] == "" {
		return fmt.Errorf("usage: sandbox stop <name> | --all")
	}
	return host.StopByName(ctx, container.NamePrefix+args[0])
}

func runSandboxRun(ctx context.Context, args []string) error {
	// sandbox run <worktree> -- <cmd...>
	sep := -1
	for i, a := range args {
		if a == "--" {
			sep = i
			break
		}
	}
	if sep < 0 || sep == 0 || sep == len(args)-1 {
		return fmt.Errorf("usage: sandbox run <worktree> -- <cmd...>")
	}
	worktree := args[0]
	command := args[sep+1:]

	opts := supervisor.Options{
		Worktree: worktree,
		Command:  command,
		VMName:   os.Getenv("WTMUX_SANDBOX_VM"),
	}
	code, err := supervisor.Run(ctx, opts, os.Stdin, os.Stdout, os.Stderr)
	if err != nil {
		return err
	}
	os.Exit(code)
	return nil
}

func runSetWindowStatus(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: set-window-status working|waiting|done|clear")
	}
	_, mux, err := newWorkflowContext(ctx)
	if err != nil {
		return err
	}
	paneID, err := mux.CurrentPaneID(ctx)
	if err != nil {
		return err
	}
	switch args[0] {
	case "clear":
		return mux.ClearStatus(ctx, paneID)
	case "working":
		return mux.SetStatus(ctx, paneID, multiplexer.StatusWorking, false)
	case "waiting":
		return mux.SetStatus(ctx, paneID, multiplexer.StatusWaiting, false)
	case "done":
		if err := mux.SetStatus(ctx, paneID, multiplexer.StatusDone, false); err != nil {
			return err
		}
		dir, err := stateDir()
		if err != nil {
			return err
		}
		return donestack.NewStore(dir).Push(paneID)
	default:
		return fmt.Errorf("unknown status %q", args[0])
	}
}

func hasFlag(args []string, flag string) bool {
	for _, a := range args {
		if a == flag {
			return true
		}
	}
	return false
}
