// Package donestack maintains the process-wide, most-recent-first stack of
// panes whose agent has finished, backing the "jump to last completed"
// command.
package donestack

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
)

// Store is a single JSON file guarded by a companion lock file, so that
// concurrent wtmux processes issuing status commands don't interleave a
// read and a write.
type Store struct {
	path     string
	lockPath string
}

// NewStore returns a store backed by <stateDir>/done-stack.json.
func NewStore(stateDir string) *Store {
	path := filepath.Join(stateDir, "done-stack.json")
	return &Store{path: path, lockPath: path + ".lock"}
}

func (s *Store) withLock(fn func() error) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("donestack: creating state dir: %w", err)
	}
	lock := flock.New(s.lockPath)
	if err := lock.Lock(); err != nil {
		return fmt.Errorf("donestack: locking: %w", err)
	}
	defer lock.Unlock()
	return fn()
}

func (s *Store) read() ([]string, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("donestack: reading: %w", err)
	}
	if len(data) == 0 {
		return nil, nil
	}
	var ids []string
	if err := json.Unmarshal(data, &ids); err != nil {
		return nil, fmt.Errorf("donestack: decoding: %w", err)
	}
	return ids, nil
}

func (s *Store) write(ids []string) error {
	data, err := json.Marshal(ids)
	if err != nil {
		return fmt.Errorf("donestack: encoding: %w", err)
	}
	tempPath := fmt.Sprintf("%s.tmp.%d", s.path, time.Now().UnixNano())
	if err := os.WriteFile(tempPath, data, 0o644); err != nil {
		return fmt.Errorf("donestack: writing temp file: %w", err)
	}
	if err := os.Rename(tempPath, s.path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("donestack: renaming into place: %w", err)
	}
	return nil
}

// Push moves paneID to the front of the stack, removing any existing
// occurrence first so the stack never carries duplicates.
func (s *Store) Push(paneID string) error {
	return s.withLock(func() error {
		ids, err := s.read()
		if err != nil {
			return err
		}
		ids = removeAll(ids, paneID)
		ids = append([]string{paneID}, ids...)
		return s.write(ids)
	})
}

// Pop removes paneID from the stack if present. It is not an error for
// paneID to be absent.
func (s *Store) Pop(paneID string) error {
	return s.withLock(func() error {
		ids, err := s.read()
		if err != nil {
			return err
		}
		ids = removeAll(ids, paneID)
		return s.write(ids)
	})
}

// LastDone returns the front pane id and rotates it to the back of the
// stack, so repeated calls cycle through every completed agent. The
// second return value is false when the stack is empty.
func (s *Store) LastDone() (string, bool, error) {
	var result string
	var ok bool
	err := s.withLock(func() error {
		ids, err := s.read()
		if err != nil {
			return err
		}
		if len(ids) == 0 {
			return nil
		}
		result = ids[0]
		ok = true
		rotated := append(ids[1:], ids[0])
		return s.write(rotated)
	})
	return result, ok, err
}

func removeAll(ids []string, target string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id != target {
			out = append(out, id)
		}
	}
	return out
}
