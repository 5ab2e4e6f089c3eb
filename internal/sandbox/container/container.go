// Package container wraps agent commands to run inside a Docker or Podman
// container, and queries the host daemon for the lifecycle of containers
// named with NamePrefix.
package container

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	dockertypes "github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/client"

	"github.com/wtmux/wtmux/internal/multiplexer"
	"github.com/wtmux/wtmux/internal/wmerr"
)

// Runtime selects the container CLI used to run the sandbox.
type Runtime string

const (
	RuntimeDocker Runtime = "docker"
	RuntimePodman Runtime = "podman"
)

// NamePrefix is the container-name prefix the host-side queries
// (list/stop/prune) filter on, so they never touch containers an operator
// started under another name. Wrap does not pass a container name, so the
// containers it starts do not carry this prefix.
const NamePrefix = "wtmux-"

// Config is the subset of sandbox configuration the wrapper needs. Loading
// and validating it from a file is an external concern; this type is the
// contract the wrapper is called with.
type Config struct {
	Runtime        Runtime
	Image          string
	EnvPassthrough []string
}

// ConfigPaths are the host-side credential files mounted into the
// container so an agent's auth state persists across runs.
type ConfigPaths struct {
	ConfigFile string // <home>/.agent-sandbox.json
	ConfigDir  string // <home>/.agent-sandbox/
}

// DefaultConfigPaths resolves the host credential paths from $HOME.
func DefaultConfigPaths() (*ConfigPaths, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, wmerr.Wrap(wmerr.SandboxConfig, "resolving home directory", err)
	}
	return &ConfigPaths{
		ConfigFile: filepath.Join(home, ".agent-sandbox.json"),
		ConfigDir:  filepath.Join(home, ".agent-sandbox"),
	}, nil
}

// EnsureConfigDirs creates the credential file/directory on first use so
// "sandbox auth" has somewhere to persist state.
func EnsureConfigDirs(paths *ConfigPaths) error {
	if _, err := os.Stat(paths.ConfigFile); os.IsNotExist(err) {
		if err := os.WriteFile(paths.ConfigFile, []byte("{}"), 0o600); err != nil {
			return wmerr.Wrap(wmerr.SandboxConfig, "creating credential file", err)
		}
	}
	if _, err := os.Stat(paths.ConfigDir); os.IsNotExist(err) {
		if err := os.MkdirAll(paths.ConfigDir, 0o700); err != nil {
			return wmerr.Wrap(wmerr.SandboxConfig, "creating credential directory", err)
		}
	}
	return nil
}

// Wrap renders a single shell command string that runs command inside a
// container, per the mirror-mount design: the worktree root (and, for a
// worktree whose .git is a file, the main repo's .git directory) is
// bind-mounted at the same path on both sides, so git and terminal
// hyperlinks referencing absolute paths keep working.
func Wrap(command string, cfg Config, worktreeRoot, paneCwd string) (string, error) {
	if cfg.Image == "" {
		return "", wmerr.New(wmerr.SandboxConfig, "sandbox enabled but no image configured")
	}
	runtime := string(cfg.Runtime)
	if runtime == "" {
		runtime = string(RuntimeDocker)
	}

	uid := os.Getuid()
	gid := os.Getgid()

	args := []string{runtime, "run", "--rm", "-it",
		"--user", fmt.Sprintf("%d:%d", uid, gid),
		"--mount", fmt.Sprintf("type=bind,source=%s,target=%s", worktreeRoot, worktreeRoot),
	}

	if mainGit, ok := mainGitDirFor(worktreeRoot); ok {
		args = append(args, "--mount", fmt.Sprintf("type=bind,source=%s,target=%s", mainGit, mainGit))
	}

	args = append(args, "--workdir", paneCwd, "--env", "HOME=/tmp")

	if paths, err := DefaultConfigPaths(); err == nil {
		if fileExists(paths.ConfigFile) {
			args = append(args, "--mount", fmt.Sprintf("type=bind,source=%s,target=/tmp/.agent.json", paths.ConfigFile))
		}
		if fileExists(paths.ConfigDir) {
			args = append(args, "--mount", fmt.Sprintf("type=bind,source=%s,target=/tmp/.agent", paths.ConfigDir))
		}
	}

	for _, name := range cfg.EnvPassthrough {
		if _, ok := os.LookupEnv(name); ok {
			args = append(args, "--env", name)
		}
	}

	args = append(args, "--env", "PATH=/root/.local/bin:/usr/local/bin:/usr/bin:/bin", cfg.Image,
		"sh", "-c", multiplexer.EscapeShellArg(command))

	return strings.Join(args, " "), nil
}

// mainGitDirFor resolves the real .git directory for a worktree whose .git
// is a "gitdir: <path>" pointer file, e.g.
// /repo/.git/worktrees/<name> -> /repo/.git.
func mainGitDirFor(worktreeRoot string) (string, bool) {
	gitPath := filepath.Join(worktreeRoot, ".git")
	info, err := os.Stat(gitPath)
	if err != nil || info.IsDir() {
		return "", false
	}
	content, err := os.ReadFile(gitPath)
	if err != nil {
		return "", false
	}
	line := strings.TrimSpace(string(content))
	gitdir := strings.TrimPrefix(line, "gitdir:")
	gitdir = strings.TrimSpace(gitdir)
	if gitdir == "" {
		return "", false
	}
	// gitdir is .../.git/worktrees/<name>; its grandparent is the main .git.
	mainGit := filepath.Dir(filepath.Dir(gitdir))
	if mainGit == "" || mainGit == "." {
		return "", false
	}
	return mainGit, true
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// Host wraps the Docker SDK client for host-side lifecycle queries over
// containers whose name starts with NamePrefix. The wrapper command above is plain shell
// text executed by the runtime CLI inside the pane; Host is used only for
// out-of-pane bookkeeping (list/stop/prune).
type Host struct {
	cli *client.Client
}

// NewHost creates a host client using environment defaults (DOCKER_HOST,
// DOCKER_CERT_PATH, etc.), with API version negotiation so it works
// against both Docker and Podman's compatible socket.
func NewHost() (*Host, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, wmerr.Wrap(wmerr.ExternalFailed, "creating container host client", err)
	}
	return &Host{cli: cli}, nil
}

func (h *Host) Close() error {
	return h.cli.Close()
}

// Info is a container's identity plus lifecycle state, as surfaced by
// "sandbox stop"/"sandbox prune".
type Info struct {
	ID      string
	Name    string
	State   string
	Created time.Time
}

// List returns every container tagged with NamePrefix.
func (h *Host) List(ctx context.Context) ([]Info, error) {
	f := filters.NewArgs()
	f.Add("name", NamePrefix)

	containers, err := h.cli.ContainerList(ctx, dockertypes.ListOptions{All: true, Filters: f})
	if err != nil {
		return nil, wmerr.Wrap(wmerr.ExternalFailed, "listing sandbox containers", err)
	}

	result := make([]Info, 0, len(containers))
	for _, c := range containers {
		name := ""
		if len(c.Names) > 0 {
			name = strings.TrimPrefix(c.Names[0], "/")
		}
		result = append(result, Info{ID: c.ID, Name: name, State: c.State, Created: time.Unix(c.Created, 0)})
	}
	return result, nil
}

// StopByName stops the container matching name, if running. A container
// that is already stopped (or absent) is success, matching the
// idempotent-stop contract every backend operation follows.
func (h *Host) StopByName(ctx context.Context, name string) error {
	containers, err := h.List(ctx)
	if err != nil {
		return err
	}
	for _, c := range containers {
		if c.Name != name {
			continue
		}
		if c.State != "running" {
			return nil
		}
		timeoutSeconds := 10
		if err := h.cli.ContainerStop(ctx, c.ID, dockertypes.StopOptions{Timeout: &timeoutSeconds}); err != nil {
			return wmerr.Wrap(wmerr.ExternalFailed, "stopping sandbox container", err)
		}
		return nil
	}
	return nil
}

// Prune removes every tagged container that is not running. When force is
// true, running containers are stopped first and removed too.
func (h *Host) Prune(ctx context.Context, force bool) (int, error) {
	containers, err := h.List(ctx)
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, c := range containers {
		if c.State == "running" {
			if !force {
				continue
			}
			timeoutSeconds := 10
			_ = h.cli.ContainerStop(ctx, c.ID, dockertypes.StopOptions{Timeout: &timeoutSeconds})
		}
		if err := h.cli.ContainerRemove(ctx, c.ID, dockertypes.RemoveOptions{Force: true}); err == nil {
			removed++
		}
	}
	return removed, nil
}
