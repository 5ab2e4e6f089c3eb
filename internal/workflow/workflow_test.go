package workflow

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/wtmux/wtmux/internal/multiplexer"
)

type fakeGit struct {
	isRepo     bool
	isRepoErr  error
	root       string
	commonDir  string
	headBranch string
	headErr    error
}

func (g *fakeGit) IsRepo(context.Context) (bool, error)         { return g.isRepo, g.isRepoErr }
func (g *fakeGit) MainWorktreeRoot(context.Context) (string, error) { return g.root, nil }
func (g *fakeGit) GitCommonDir(context.Context) (string, error)     { return g.commonDir, nil }
func (g *fakeGit) SymbolicRefHEAD(context.Context) (string, error)  { return g.headBranch, g.headErr }

type fakeConfig struct {
	prefix    string
	mainBranch string
}

func (c *fakeConfig) Prefix() string             { return c.prefix }
func (c *fakeConfig) MainBranchOverride() string { return c.mainBranch }

// fakeMux implements only Name/IsRunning; every other method panics so a
// missing stub is obvious.
type fakeMux struct {
	running    bool
	runningErr error
}

func (f *fakeMux) unimplemented() { panic("not used by workflow tests") }

func (f *fakeMux) Name() string                            { return "fake" }
func (f *fakeMux) IsRunning(context.Context) (bool, error)  { return f.running, f.runningErr }
func (f *fakeMux) Capabilities() multiplexer.Capabilities   { f.unimplemented(); return multiplexer.Capabilities{} }
func (f *fakeMux) InstanceID(context.Context) (string, error) { f.unimplemented(); return "", nil }
func (f *fakeMux) CreateWindow(context.Context, string, string) (string, error) {
	f.unimplemented()
	return "", nil
}
func (f *fakeMux) KillWindow(context.Context, string) error { f.unimplemented(); return nil }
func (f *fakeMux) ScheduleWindowClose(context.Context, string, time.Duration) error {
	f.unimplemented()
	return nil
}
func (f *fakeMux) SelectWindow(context.Context, string) error          { f.unimplemented(); return nil }
func (f *fakeMux) WindowExists(context.Context, string) (bool, error)  { f.unimplemented(); return false, nil }
func (f *fakeMux) CurrentWindowName(context.Context) (string, error)   { f.unimplemented(); return "", nil }
func (f *fakeMux) GetAllWindowNames(context.Context) ([]string, error) { f.unimplemented(); return nil, nil }
func (f *fakeMux) WaitUntilWindowsClosed(context.Context, []string, time.Duration) error {
	f.unimplemented()
	return nil
}
func (f *fakeMux) CurrentPaneID(context.Context) (string, error)        { f.unimplemented(); return "", nil }
func (f *fakeMux) ActivePaneID(context.Context, string) (string, error) { f.unimplemented(); return "", nil }
func (f *fakeMux) SelectPane(context.Context, string) error             { f.unimplemented(); return nil }
func (f *fakeMux) SwitchToPane(context.Context, string) error           { f.unimplemented(); return nil }
func (f *fakeMux) SplitPane(context.Context, multiplexer.SplitOptions) (string, error) {
	f.unimplemented()
	return "", nil
}
func (f *fakeMux) RespawnPane(context.Context, string, string) error { f.unimplemented(); return nil }
func (f *fakeMux) CapturePane(context.Context, string) (string, error) {
	f.unimplemented()
	return "", nil
}
func (f *fakeMux) SendKeys(context.Context, string, string) error { f.unimplemented(); return nil }
func (f *fakeMux) SendKeysToAgent(context.Context, string, string, multiplexer.AgentProfile) error {
	f.unimplemented()
	return nil
}
func (f *fakeMux) SendKey(context.Context, string, string) error        { f.unimplemented(); return nil }
func (f *fakeMux) PasteMultiline(context.Context, string, string) error { f.unimplemented(); return nil }
func (f *fakeMux) ClearPane(context.Context, string) error              { f.unimplemented(); return nil }
func (f *fakeMux) SetStatus(context.Context, string, multiplexer.Status, bool) error {
	f.unimplemented()
	return nil
}
func (f *fakeMux) ClearStatus(context.Context, string) error       { f.unimplemented(); return nil }
func (f *fakeMux) EnsureStatusFormat(context.Context, string) error { f.unimplemented(); return nil }
func (f *fakeMux) GetDefaultShell(context.Context) (string, error) { f.unimplemented(); return "", nil }
func (f *fakeMux) CreateHandshake(context.Context) (multiplexer.Handshake, error) {
	f.unimplemented()
	return nil, nil
}
func (f *fakeMux) GetLivePaneInfo(context.Context, string) (*multiplexer.LivePaneInfo, error) {
	f.unimplemented()
	return nil, nil
}
func (f *fakeMux) GetAllLivePaneInfo(context.Context) (map[string]multiplexer.LivePaneInfo, error) {
	f.unimplemented()
	return nil, nil
}
func (f *fakeMux) ValidateAgentAlive(context.Context, multiplexer.AgentLivenessQuery, map[string]multiplexer.LivePaneInfo) (bool, error) {
	f.unimplemented()
	return false, nil
}
func (f *fakeMux) ShellSelectWindowCmd(string, string) string { f.unimplemented(); return "" }
func (f *fakeMux) ShellKillWindowCmd(string, string) string   { f.unimplemented(); return "" }
func (f *fakeMux) RunDeferredScript(context.Context, string) error { f.unimplemented(); return nil }
func (f *fakeMux) ScheduleCleanupAndClose(context.Context, string, []string, time.Duration) error {
	f.unimplemented()
	return nil
}

var _ multiplexer.Multiplexer = (*fakeMux)(nil)

func TestNewResolvesContext(t *testing.T) {
	g := &fakeGit{isRepo: true, root: "/repo", commonDir: "/repo/.git", headBranch: "main"}
	cfg := &fakeConfig{prefix: "wm:"}
	mux := &fakeMux{}

	wc, err := New(context.Background(), g, cfg, mux)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if wc.MainWorktreeRoot != "/repo" || wc.GitCommonDir != "/repo/.git" {
		t.Errorf("New() = %+v, unexpected root/common-dir", wc)
	}
	if wc.MainBranch != "main" {
		t.Errorf("MainBranch = %q, want main (fallback to HEAD)", wc.MainBranch)
	}
	if wc.Prefix != "wm:" {
		t.Errorf("Prefix = %q, want wm:", wc.Prefix)
	}
}

func TestNewPrefersConfiguredMainBranchOverride(t *testing.T) {
	g := &fakeGit{isRepo: true, root: "/repo", commonDir: "/repo/.git", headBranch: "some-feature"}
	cfg := &fakeConfig{prefix: "wm:", mainBranch: "develop"}

	wc, err := New(context.Background(), g, cfg, &fakeMux{})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if wc.MainBranch != "develop" {
		t.Errorf("MainBranch = %q, want configured override develop", wc.MainBranch)
	}
}

func TestNewRejectsNonRepo(t *testing.T) {
	g := &fakeGit{isRepo: false}
	cfg := &fakeConfig{}

	_, err := New(context.Background(), g, cfg, &fakeMux{})
	if err == nil {
		t.Fatal("expected an error outside a git repository")
	}
}

func TestNewPropagatesIsRepoError(t *testing.T) {
	g := &fakeGit{isRepoErr: errors.New("boom")}
	cfg := &fakeConfig{}

	_, err := New(context.Background(), g, cfg, &fakeMux{})
	if err == nil {
		t.Fatal("expected an error when IsRepo fails")
	}
}

func TestEnsureMuxRunning(t *testing.T) {
	wc := &Context{Mux: &fakeMux{running: true}}
	if err := wc.EnsureMuxRunning(context.Background()); err != nil {
		t.Fatalf("EnsureMuxRunning() error = %v, want nil when running", err)
	}

	wc = &Context{Mux: &fakeMux{running: false}}
	if err := wc.EnsureMuxRunning(context.Background()); err == nil {
		t.Fatal("expected an error when the multiplexer is not running")
	}
}

func TestChdirToMainWorktree(t *testing.T) {
	start, err := os.Getwd()
	if err != nil {
		t.Fatalf("Getwd: %v", err)
	}
	defer os.Chdir(start)

	tmp := t.TempDir()
	wc := &Context{MainWorktreeRoot: tmp}
	if err := wc.ChdirToMainWorktree(); err != nil {
		t.Fatalf("ChdirToMainWorktree() error = %v", err)
	}

	got, err := os.Getwd()
	if err != nil {
		t.Fatalf("Getwd: %v", err)
	}
	// Resolve symlinks on both sides: macOS temp dirs live under a
	// symlinked /tmp, so os.Getwd() may report the resolved path.
	wantResolved, _ := filepath.EvalSymlinks(tmp)
	gotResolved, _ := filepath.EvalSymlinks(got)
	if gotResolved != wantResolved {
		t.Errorf("cwd = %q, want %q", got, tmp)
	}
}
