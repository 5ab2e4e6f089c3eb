package container

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestWrapBasicCommand(t *testing.T) {
	cfg := Config{Runtime: RuntimeDocker, Image: "test-image:latest"}
	dir := t.TempDir()
	result, err := Wrap("claude", cfg, dir, dir)
	if err != nil {
		t.Fatalf("Wrap: %v", err)
	}
	if !strings.HasPrefix(result, "docker run --rm -it") {
		t.Errorf("result = %q, want docker-run prefix", result)
	}
	if !strings.Contains(result, "--mount type=bind,source="+dir+",target="+dir) {
		t.Errorf("missing mirror mount in %q", result)
	}
	if !strings.Contains(result, "--workdir "+dir) {
		t.Errorf("missing workdir in %q", result)
	}
	if !strings.Contains(result, "test-image:latest") {
		t.Errorf("missing image in %q", result)
	}
	if !strings.Contains(result, "sh -c 'claude'") {
		t.Errorf("missing wrapped command in %q", result)
	}
}

func TestWrapEscapesQuotes(t *testing.T) {
	cfg := Config{Runtime: RuntimeDocker, Image: "test-image:latest"}
	dir := t.TempDir()
	result, err := Wrap("echo 'hello'", cfg, dir, dir)
	if err != nil {
		t.Fatalf("Wrap: %v", err)
	}
	if !strings.Contains(result, `sh -c 'echo '"'"'hello'"'"''`) {
		t.Errorf("unexpected escaping in %q", result)
	}
}

func TestWrapPodmanRuntime(t *testing.T) {
	cfg := Config{Runtime: RuntimePodman, Image: "test-image:latest"}
	dir := t.TempDir()
	result, err := Wrap("claude", cfg, dir, dir)
	if err != nil {
		t.Fatalf("Wrap: %v", err)
	}
	if !strings.HasPrefix(result, "podman run") {
		t.Errorf("result = %q, want podman prefix", result)
	}
}

func TestWrapWithSubdirCwd(t *testing.T) {
	cfg := Config{Runtime: RuntimeDocker, Image: "test-image:latest"}
	dir := t.TempDir()
	sub := filepath.Join(dir, "backend")
	result, err := Wrap("claude", cfg, dir, sub)
	if err != nil {
		t.Fatalf("Wrap: %v", err)
	}
	if !strings.Contains(result, "--mount type=bind,source="+dir+",target="+dir) {
		t.Errorf("missing worktree-root mount in %q", result)
	}
	if !strings.Contains(result, "--workdir "+sub) {
		t.Errorf("missing subdir workdir in %q", result)
	}
}

func TestWrapMissingImageReturnsError(t *testing.T) {
	dir := t.TempDir()
	_, err := Wrap("claude", Config{Runtime: RuntimeDocker}, dir, dir)
	if err == nil {
		t.Fatal("expected error for missing image")
	}
}

func TestWrapMountsMainGitDirForWorktree(t *testing.T) {
	mainRepo := t.TempDir()
	mainGit := filepath.Join(mainRepo, ".git")
	if err := os.MkdirAll(filepath.Join(mainGit, "worktrees", "feat-a"), 0o755); err != nil {
		t.Fatal(err)
	}

	worktree := t.TempDir()
	gitdir := filepath.Join(mainGit, "worktrees", "feat-a")
	if err := os.WriteFile(filepath.Join(worktree, ".git"), []byte("gitdir: "+gitdir+"\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := Config{Runtime: RuntimeDocker, Image: "test-image:latest"}
	result, err := Wrap("claude", cfg, worktree, worktree)
	if err != nil {
		t.Fatalf("Wrap: %v", err)
	}
	if !strings.Contains(result, "--mount type=bind,source="+mainGit+",target="+mainGit) {
		t.Errorf("expected main .git mount in %q", result)
	}
}

func TestEnvPassthroughOnlyIncludesSetVariables(t *testing.T) {
	t.Setenv("WTMUX_TEST_ENV_SET", "1")
	os.Unsetenv("WTMUX_TEST_ENV_UNSET")

	cfg := Config{
		Runtime:        RuntimeDocker,
		Image:          "test-image:latest",
		EnvPassthrough: []string{"WTMUX_TEST_ENV_SET", "WTMUX_TEST_ENV_UNSET"},
	}
	dir := t.TempDir()
	result, err := Wrap("claude", cfg, dir, dir)
	if err != nil {
		t.Fatalf("Wrap: %v", err)
	}
	if !strings.Contains(result, "--env WTMUX_TEST_ENV_SET") {
		t.Errorf("expected set variable passed through in %q", result)
	}
	if strings.Contains(result, "--env WTMUX_TEST_ENV_UNSET") {
		t.Errorf("did not expect unset variable passed through in %q", result)
	}
}
