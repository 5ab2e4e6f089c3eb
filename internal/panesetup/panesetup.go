// Package panesetup drives a declarative pane layout into existence on
// top of the multiplexer capability set: the first config respawns the
// pane handed to it, later configs split off of an already-spawned pane,
// each optionally carrying a command gated by the handshake so it never
// races the shell's own startup.
package panesetup

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/wtmux/wtmux/internal/multiplexer"
	"github.com/wtmux/wtmux/internal/wmerr"
)

// DefaultHandshakeTimeout is the recommended bound from the design notes.
const DefaultHandshakeTimeout = 10 * time.Second

// SplitSpec describes how a non-first pane config attaches to the layout.
type SplitSpec struct {
	Direction   multiplexer.SplitDirection
	TargetIndex int // index into the pane-id list accumulated so far
	Percent     int
}

// Config is one entry in the declarative pane layout.
type Config struct {
	Command string // may contain the literal "<agent>" placeholder
	Split   *SplitSpec
	Focus   bool
}

// ResolveOptions parameterize command substitution.
type ResolveOptions struct {
	AgentBinary string
	PromptFile  string
	Profile     multiplexer.AgentProfile
}

// Result is what Run produces: every pane id spawned (initial first) and
// which one should end up focused.
type Result struct {
	PaneIDs    []string
	FocusPane  string
}

// Run executes the algorithm against mux, starting from the pane given
// by initialPaneID, and returns the spawned pane ids plus the pane that
// should be focused afterward.
func Run(ctx context.Context, mux multiplexer.Multiplexer, initialPaneID, cwd string, configs []Config, opts ResolveOptions, handshakeTimeout time.Duration) (*Result, error) {
	if handshakeTimeout <= 0 {
		handshakeTimeout = DefaultHandshakeTimeout
	}
	paneIDs := []string{initialPaneID}

	if len(configs) == 0 {
		return &Result{PaneIDs: paneIDs, FocusPane: initialPaneID}, nil
	}

	var focusPane string

	for i, cfg := range configs {
		if i > 0 && cfg.Split == nil {
			// Non-first config with no split carries no layout action.
			continue
		}

		command, promptInjected := resolveCommand(cfg.Command, opts)

		var targetPane string
		if i == 0 {
			targetPane = initialPaneID
		} else {
			idx := cfg.Split.TargetIndex
			if idx < 0 || idx >= len(paneIDs) {
				return nil, wmerr.New(wmerr.PaneSetupConfig,
					fmt.Sprintf("pane config %d: invalid target index %d (have %d panes)", i, idx, len(paneIDs)))
			}
			targetPane = paneIDs[idx]
		}

		spawnedPane := targetPane

		if command == "" {
			if i > 0 {
				newPane, err := mux.SplitPane(ctx, multiplexer.SplitOptions{
					Direction:  cfg.Split.Direction,
					TargetPane: targetPane,
					Percent:    cfg.Split.Percent,
				})
				if err != nil {
					return nil, err
				}
				spawnedPane = newPane
				paneIDs = append(paneIDs, spawnedPane)
			}
			if cfg.Focus {
				focusPane = spawnedPane
			}
			continue
		}

		hs, err := mux.CreateHandshake(ctx)
		if err != nil {
			return nil, err
		}

		if i == 0 {
			if err := mux.RespawnPane(ctx, initialPaneID, hs.Script()); err != nil {
				hs.Close()
				return nil, err
			}
		} else {
			newPane, err := mux.SplitPane(ctx, multiplexer.SplitOptions{
				Direction:  cfg.Split.Direction,
				TargetPane: targetPane,
				Percent:    cfg.Split.Percent,
			})
			if err != nil {
				hs.Close()
				return nil, err
			}
			spawnedPane = newPane
			paneIDs = append(paneIDs, spawnedPane)
			if err := mux.RespawnPane(ctx, spawnedPane, hs.Script()); err != nil {
				hs.Close()
				return nil, err
			}
		}

		waitErr := hs.Wait(handshakeTimeout)
		hs.Close()
		if waitErr != nil {
			return nil, waitErr
		}

		if err := mux.ClearPane(ctx, spawnedPane); err != nil {
			return nil, err
		}
		if err := mux.SendKeys(ctx, spawnedPane, command); err != nil {
			return nil, err
		}

		if promptInjected && opts.Profile.NeedsAutoStatus {
			if err := mux.EnsureStatusFormat(ctx, spawnedPane); err != nil {
				return nil, err
			}
			if err := mux.SetStatus(ctx, spawnedPane, multiplexer.StatusWorking, false); err != nil {
				return nil, err
			}
		}

		if cfg.Focus {
			focusPane = spawnedPane
		}
	}

	if focusPane == "" {
		focusPane = paneIDs[0]
	}
	if err := mux.SelectPane(ctx, focusPane); err != nil {
		return nil, err
	}

	return &Result{PaneIDs: paneIDs, FocusPane: focusPane}, nil
}

// resolveCommand substitutes the agent placeholder and, if a prompt file
// is configured, appends an argument pointing at it. promptInjected is
// true only when substitution actually happened (an empty command is
// left empty, not turned into a bare agent invocation).
func resolveCommand(command string, opts ResolveOptions) (resolved string, promptInjected bool) {
	if command == "" {
		return "", false
	}
	resolved = strings.ReplaceAll(command, "<agent>", opts.AgentBinary)
	if opts.PromptFile != "" && strings.Contains(command, "<agent>") {
		resolved = fmt.Sprintf("%s --prompt-file %s", resolved, multiplexer.EscapeShellArg(opts.PromptFile))
		promptInjected = true
	}
	return resolved, promptInjected
}
