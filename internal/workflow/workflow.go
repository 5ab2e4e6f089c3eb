// Package workflow assembles the shared context every workflow-level
// operation needs at the start: where the main worktree and the common
// git dir live, which branch is "main", the configured window-name
// prefix, and handles to config and the multiplexer so callers don't
// each re-resolve these independently.
package workflow

import (
	"context"
	"log"
	"os"

	"github.com/wtmux/wtmux/internal/git"
	"github.com/wtmux/wtmux/internal/multiplexer"
	"github.com/wtmux/wtmux/internal/wmerr"
)

// Config is the subset of configuration a workflow context holds and
// passes through. Loading and validating it from disk is an external
// collaborator's concern; this package only consumes the resolved
// values.
type Config interface {
	// Prefix is the short string every managed window name begins with
	// (e.g. "wm:").
	Prefix() string
	// MainBranchOverride returns a configured main branch name, or "" to
	// fall back to the repository's actual HEAD.
	MainBranchOverride() string
}

// Context is assembled once at the start of a workflow-level operation
// and threaded through everything that follows.
type Context struct {
	MainWorktreeRoot string
	GitCommonDir     string
	MainBranch       string
	Prefix           string
	Config           Config
	Mux              multiplexer.Multiplexer
}

// New resolves a Context: it fails with NotInRepo if the current
// directory is not inside a git working tree.
func New(ctx context.Context, gitQuery git.Query, cfg Config, mux multiplexer.Multiplexer) (*Context, error) {
	isRepo, err := gitQuery.IsRepo(ctx)
	if err != nil {
		return nil, wmerr.Wrap(wmerr.NotInRepo, "checking for a git repository", err)
	}
	if !isRepo {
		return nil, wmerr.New(wmerr.NotInRepo, "not inside a git repository")
	}

	root, err := gitQuery.MainWorktreeRoot(ctx)
	if err != nil {
		return nil, wmerr.Wrap(wmerr.NotInRepo, "resolving main worktree root", err)
	}
	commonDir, err := gitQuery.GitCommonDir(ctx)
	if err != nil {
		return nil, wmerr.Wrap(wmerr.NotInRepo, "resolving git common dir", err)
	}

	branch := cfg.MainBranchOverride()
	if branch == "" {
		branch, err = gitQuery.SymbolicRefHEAD(ctx)
		if err != nil {
			return nil, wmerr.Wrap(wmerr.NotInRepo, "resolving main branch", err)
		}
	}

	wc := &Context{
		MainWorktreeRoot: root,
		GitCommonDir:     commonDir,
		MainBranch:       branch,
		Prefix:           cfg.Prefix(),
		Config:           cfg,
		Mux:              mux,
	}
	log.Printf("[workflow] root=%s common-dir=%s main-branch=%s prefix=%q", wc.MainWorktreeRoot, wc.GitCommonDir, wc.MainBranch, wc.Prefix)
	return wc, nil
}

// EnsureMuxRunning errors with a user-visible message if the multiplexer
// server is not up.
func (c *Context) EnsureMuxRunning(ctx context.Context) error {
	running, err := c.Mux.IsRunning(ctx)
	if err != nil {
		return wmerr.Wrap(wmerr.MuxNotRunning, "checking multiplexer status", err)
	}
	if !running {
		return wmerr.New(wmerr.MuxNotRunning, c.Mux.Name()+" is not running; start it and try again")
	}
	return nil
}

// ChdirToMainWorktree changes the process CWD to the main worktree root.
// Callers must do this before any operation that might delete the
// directory they are currently standing in.
func (c *Context) ChdirToMainWorktree() error {
	if err := os.Chdir(c.MainWorktreeRoot); err != nil {
		return wmerr.Wrap(wmerr.NotInRepo, "changing directory to main worktree", err)
	}
	return nil
}
