package main

import (
	"os"

	"github.com/wtmux/wtmux/internal/multiplexer"
	"github.com/wtmux/wtmux/internal/multiplexer/tabmux"
	"github.com/wtmux/wtmux/internal/multiplexer/tmux"
	"github.com/wtmux/wtmux/internal/sandbox/container"
)

// envConfig satisfies workflow.Config from environment variables. Real
// config file loading/validation is an external collaborator; this is
// just enough to make the binary runnable end to end.
type envConfig struct {
	prefix     string
	mainBranch string
}

func loadEnvConfig() *envConfig {
	prefix := os.Getenv("WTMUX_PREFIX")
	if prefix == "" {
		prefix = "wm:"
	}
	return &envConfig{
		prefix:     prefix,
		mainBranch: os.Getenv("WTMUX_MAIN_BRANCH"),
	}
}

func (c *envConfig) Prefix() string             { return c.prefix }
func (c *envConfig) MainBranchOverride() string { return c.mainBranch }

// newBackend selects a multiplexer backend by WTMUX_BACKEND ("tmux",
// the default, or "tabmux").
func newBackend() multiplexer.Multiplexer {
	switch os.Getenv("WTMUX_BACKEND") {
	case "tabmux":
		return tabmux.New(os.Getenv("WTMUX_TABMUX_CLI"))
	default:
		socket := os.Getenv("WTMUX_TMUX_SOCKET")
		if socket == "" {
			socket = "wtmux"
		}
		session := os.Getenv("WTMUX_TMUX_SESSION")
		if session == "" {
			session = "wtmux"
		}
		return tmux.New(socket, session)
	}
}

// sandboxConfig resolves the container wrapper config from the
// environment; image/runtime are operator-provided, not validated here.
func sandboxConfig() container.Config {
	runtime := container.RuntimeDocker
	if os.Getenv("WTMUX_SANDBOX_RUNTIME") == "podman" {
		runtime = container.RuntimePodman
	}
	var passthrough []string
	if v := os.Getenv("WTMUX_SANDBOX_ENV_PASSTHROUGH"); v != "" {
		passthrough = splitComma(v)
	}
	return container.Config{
		Runtime:        runtime,
		Image:          os.Getenv("WTMUX_SANDBOX_IMAGE"),
		EnvPassthrough: passthrough,
	}
}

func splitComma(s string) []string {
	var out []string
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == ',' {
			if i > start {
				out = append(out, s[start:i])
			}
			start = i + 1
		}
	}
	return out
}
