package git

import (
	"context"
	"fmt"
	"strings"
)

// Query is the read-only subset of git state a workflow context needs.
// Branch mutation, remote sync, merge/rebase, and worktree CRUD all live
// outside this module's scope: something else owns creating and removing
// worktrees, this package only answers questions about where things are.
type Query interface {
	// IsRepo reports whether the current directory is inside a git
	// working tree (main or linked).
	IsRepo(ctx context.Context) (bool, error)
	// MainWorktreeRoot returns the filesystem path of the repository's
	// primary (non-linked) worktree.
	MainWorktreeRoot(ctx context.Context) (string, error)
	// GitCommonDir returns the shared .git directory, which is the same
	// path from any linked worktree.
	GitCommonDir(ctx context.Context) (string, error)
	// SymbolicRefHEAD returns the branch HEAD points to, used to resolve
	// the main branch when no config override is set.
	SymbolicRefHEAD(ctx context.Context) (string, error)
}

// Ensure Git implements Query.
var _ Query = (*Git)(nil)

// IsRepo reports whether repoPath is inside a git working tree.
func (g *Git) IsRepo(ctx context.Context) (bool, error) {
	out, err := g.run(ctx, "rev-parse", "--is-inside-work-tree")
	if err != nil {
		return false, nil
	}
	return strings.TrimSpace(out) == "true", nil
}

// MainWorktreeRoot returns the repository's primary worktree path: the
// first entry of `git worktree list`, which git always lists first
// regardless of which worktree the command runs from.
func (g *Git) MainWorktreeRoot(ctx context.Context) (string, error) {
	out, err := g.run(ctx, "worktree", "list", "--porcelain")
	if err != nil {
		return "", err
	}
	for _, line := range strings.Split(out, "\n") {
		if path, ok := strings.CutPrefix(line, "worktree "); ok {
			return path, nil
		}
	}
	return "", fmt.Errorf("git worktree list returned no worktree entries")
}

// GitCommonDir returns the shared .git directory for the repository.
func (g *Git) GitCommonDir(ctx context.Context) (string, error) {
	return g.run(ctx, "rev-parse", "--path-format=absolute", "--git-common-dir")
}

// SymbolicRefHEAD returns the branch name HEAD currently points to.
func (g *Git) SymbolicRefHEAD(ctx context.Context) (string, error) {
	return g.run(ctx, "symbolic-ref", "--short", "HEAD")
}
