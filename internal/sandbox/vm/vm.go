// Package vm wraps agent commands to run inside a Lima micro-VM, and
// queries limactl for instance lifecycle.
package vm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/wtmux/wtmux/internal/cmdrunner"
	"github.com/wtmux/wtmux/internal/multiplexer"
	"github.com/wtmux/wtmux/internal/wmerr"
)

// Instance is one row of `limactl list --json`.
type Instance struct {
	Name   string `json:"name"`
	Status string `json:"status"`
	Dir    string `json:"dir,omitempty"`
}

// IsRunning reports whether limactl considers the instance up.
func (i Instance) IsRunning() bool {
	return i.Status == "Running"
}

// ParseInstances decodes limactl's NDJSON list output (one JSON object per
// line, blank lines ignored).
func ParseInstances(stdout []byte) ([]Instance, error) {
	var instances []Instance
	for _, line := range bytes.Split(stdout, []byte("\n")) {
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		var inst Instance
		if err := json.Unmarshal(line, &inst); err != nil {
			return nil, wmerr.Wrap(wmerr.ExternalFailed, fmt.Sprintf("parsing limactl row: %s", line), err)
		}
		instances = append(instances, inst)
	}
	return instances, nil
}

// Available reports whether limactl is installed and runnable.
func Available(ctx context.Context) bool {
	res, err := cmdrunner.Run(ctx, "", "limactl", "--version")
	return err == nil && res.ExitCode == 0
}

// List returns every Lima instance known to limactl.
func List(ctx context.Context) ([]Instance, error) {
	res, err := cmdrunner.CheckRun(ctx, "", "limactl", "list", "--json")
	if err != nil {
		return nil, wmerr.Wrap(wmerr.ExternalFailed, "listing lima instances", err)
	}
	return ParseInstances([]byte(res.Stdout))
}

// StopByName stops name. A VM that is already stopped is success, per the
// idempotent-stop contract every sandbox backend follows.
func StopByName(ctx context.Context, name string) error {
	res, err := cmdrunner.Run(ctx, "", "limactl", "stop", name)
	if err != nil {
		return wmerr.Wrap(wmerr.ExternalFailed, fmt.Sprintf("stopping lima VM %q", name), err)
	}
	if res.ExitCode == 0 {
		return nil
	}
	if strings.Contains(res.Stderr, "not running") {
		return nil
	}
	return wmerr.New(wmerr.ExternalFailed, fmt.Sprintf("stopping lima VM %q: %s", name, res.Stderr))
}

// State classifies an instance's boot requirement before a supervisor
// wraps a command around it.
type State int

const (
	StateRunning State = iota
	StateStopped
	StateNotFound
)

// CheckState reports name's current boot state against the instance list.
func CheckState(ctx context.Context, name string) (State, error) {
	instances, err := List(ctx)
	if err != nil {
		return StateNotFound, err
	}
	for _, inst := range instances {
		if inst.Name != name {
			continue
		}
		if inst.IsRunning() {
			return StateRunning, nil
		}
		return StateStopped, nil
	}
	return StateNotFound, nil
}

// Wrap renders a command that delegates VM boot, workdir, and exec
// entirely to the wtmux binary's own "sandbox run" supervisor subcommand,
// rather than invoking limactl directly: VM boot is slow and chatty, so
// running the supervisor inside the pane lets the user watch boot output,
// and the supervisor also hosts the RPC server guest commands call back
// into.
func Wrap(selfBinary, worktreePath, command string) string {
	return fmt.Sprintf("%s sandbox run %s -- sh -lc %s",
		multiplexer.EscapeShellArg(selfBinary),
		multiplexer.EscapeShellArg(worktreePath),
		multiplexer.EscapeShellArg(command),
	)
}
