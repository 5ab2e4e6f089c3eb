// Package git provides the read-only query contract a workflow context
// needs against a repository. Mutating git operations — branches,
// remotes, merges, worktree creation/removal — are an external
// collaborator's concern and are not part of this package.
package git

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// Git runs git commands against a repository path.
type Git struct {
	repoPath string
}

// New creates a Git instance for the given repository path.
func New(repoPath string) *Git {
	return &Git{repoPath: repoPath}
}

// run executes a git command and returns output.
func (g *Git) run(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = g.repoPath
	out, err := cmd.CombinedOutput()
	output := strings.TrimSpace(string(out))
	if err != nil && output != "" {
		// Include git's output in the error message for better diagnostics
		return output, fmt.Errorf("%s: %w", output, err)
	}
	return output, err
}
