package supervisor

import (
	"context"
	"strings"
	"testing"
)

func TestRunRequiresCommand(t *testing.T) {
	_, err := Run(context.Background(), Options{Worktree: "/tmp"}, nil, nil, nil)
	if err == nil {
		t.Fatal("expected error for empty command")
	}
}

func TestBuildLimaShellCmdEmbedsExportsAndEval(t *testing.T) {
	opts := Options{
		VMName:         "wm-abc123",
		Command:        []string{"claude", "--resume"},
		EnvPassthrough: []string{"WTMUX_TEST_PASSTHROUGH"},
	}
	t.Setenv("WTMUX_TEST_PASSTHROUGH", "value")

	cmd := buildLimaShellCmd(opts, "/repo/wt/feat-a", 4455, "tok123")

	if cmd.Path == "" || !strings.HasSuffix(cmd.Path, "limactl") {
		t.Fatalf("cmd.Path = %q, want a limactl binary", cmd.Path)
	}

	argStr := strings.Join(cmd.Args, " ")
	if !strings.Contains(argStr, "shell --workdir /repo/wt/feat-a wm-abc123") {
		t.Errorf("args = %q, want --workdir before the instance name", argStr)
	}
	if !strings.Contains(argStr, "-- eval") {
		t.Errorf("args = %q, want eval as the remote command", argStr)
	}
	// The eval argument itself, not the outer argv, carries the exports.
	eval := cmd.Args[len(cmd.Args)-1]
	if !strings.Contains(eval, "export GUEST=1") {
		t.Errorf("eval script = %q, missing GUEST export", eval)
	}
	if !strings.Contains(eval, "export RPC_PORT=4455") {
		t.Errorf("eval script = %q, missing RPC_PORT export", eval)
	}
	if !strings.Contains(eval, "export RPC_TOKEN=tok123") {
		t.Errorf("eval script = %q, missing RPC_TOKEN export", eval)
	}
	if !strings.Contains(eval, "export WTMUX_TEST_PASSTHROUGH=value") {
		t.Errorf("eval script = %q, missing passthrough export", eval)
	}
	if !strings.HasSuffix(eval, "claude --resume") {
		t.Errorf("eval script = %q, want it to end with the user command", eval)
	}
}

func TestBuildLimaShellCmdOmitsUnsetPassthrough(t *testing.T) {
	opts := Options{
		VMName:         "wm-abc123",
		Command:        []string{"claude"},
		EnvPassthrough: []string{"WTMUX_TEST_NOT_SET"},
	}
	cmd := buildLimaShellCmd(opts, "/repo", 1, "tok")
	eval := cmd.Args[len(cmd.Args)-1]
	if strings.Contains(eval, "WTMUX_TEST_NOT_SET") {
		t.Errorf("eval script = %q, should not reference an unset variable", eval)
	}
}
