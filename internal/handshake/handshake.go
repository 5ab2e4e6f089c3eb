// Package handshake implements the named-pipe rendezvous used to detect
// that a freshly spawned shell has finished sourcing its rc files and is
// ready to accept the real command. Without it, a send-keys issued right
// after spawning a pane races the shell's own startup and lands before
// the prompt.
package handshake

import (
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/wtmux/wtmux/internal/wmerr"
)

// readyByte is the single known byte the script writes once the target
// shell has sourced it.
const readyByte = 'R'

var counter atomic.Uint64

// Pipe is a named-pipe handshake: a unique fifo plus the shell text that
// signals it and then execs the real shell.
type Pipe struct {
	path  string
	shell string
}

// New creates a fresh named pipe at a unique temp path and returns a
// handle carrying both the pipe and the script to source in the target
// pane. shell is the user's default shell to exec into afterward (e.g.
// from $SHELL); if empty, "sh" is used.
func New(shell string) (*Pipe, error) {
	if shell == "" {
		shell = "sh"
	}
	path := filepath.Join(os.TempDir(),
		fmt.Sprintf("wtmux-handshake-%d-%d", os.Getpid(), counter.Add(1)))

	if err := syscall.Mkfifo(path, 0o600); err != nil {
		return nil, wmerr.Wrap(wmerr.HandshakeIO, "creating handshake pipe", err)
	}
	return &Pipe{path: path, shell: shell}, nil
}

// Script returns shell text that writes the ready byte to the pipe and
// then execs the target shell, replacing itself. Intended to be sourced
// (not merely run) by the spawned pane's command so the exec inherits the
// pane's controlling terminal.
func (p *Pipe) Script() string {
	return fmt.Sprintf(`printf '%%c' '%c' > %s; exec %s`, readyByte, shellQuote(p.path), shellQuote(p.shell))
}

// Wait blocks until the ready byte arrives or timeout elapses.
func (p *Pipe) Wait(timeout time.Duration) error {
	type result struct {
		n   int
		err error
	}
	ch := make(chan result, 1)

	go func() {
		f, err := os.OpenFile(p.path, os.O_RDONLY, 0)
		if err != nil {
			ch <- result{err: err}
			return
		}
		defer f.Close()
		buf := make([]byte, 1)
		n, err := f.Read(buf)
		ch <- result{n: n, err: err}
	}()

	select {
	case r := <-ch:
		if r.err != nil {
			return wmerr.Wrap(wmerr.HandshakeIO, "reading handshake pipe", r.err)
		}
		if r.n != 1 {
			return wmerr.New(wmerr.HandshakeIO, "handshake pipe closed with no data")
		}
		return nil
	case <-time.After(timeout):
		return wmerr.New(wmerr.HandshakeTimeout, fmt.Sprintf("pane did not signal ready within %s", timeout))
	}
}

// Close removes the underlying fifo. Safe to call if it no longer exists.
func (p *Pipe) Close() error {
	err := os.Remove(p.path)
	if err != nil && !os.IsNotExist(err) {
		return wmerr.Wrap(wmerr.HandshakeIO, "removing handshake pipe", err)
	}
	return nil
}

func shellQuote(s string) string {
	out := make([]byte, 0, len(s)+2)
	out = append(out, '\'')
	for i := 0; i < len(s); i++ {
		if s[i] == '\'' {
			out = append(out, '\'', '"', '\'', '"', '\'')
		} else {
			out = append(out, s[i])
		}
	}
	out = append(out, '\'')
	return string(out)
}
