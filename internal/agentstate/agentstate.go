// Package agentstate persists per-agent records and reconciles them
// against live multiplexer queries, producing the set of agents the core
// believes are actually running.
package agentstate

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofrs/flock"

	"github.com/wtmux/wtmux/internal/multiplexer"
)

// PaneKey identifies a pane within a multiplexer instance.
type PaneKey struct {
	InstanceID string `json:"instance_id"`
	PaneID     string `json:"pane_id"`
}

// Record is one persisted agent state file.
type Record struct {
	PaneKey       PaneKey           `json:"pane_key"`
	WindowName    string            `json:"window_name"`
	Command       string            `json:"command"`
	WorktreePath  string            `json:"worktree_path"`
	CreatedTS     int64             `json:"created_ts"`
	UpdatedTS     int64             `json:"updated_ts"`
	LastHeartbeat *int64            `json:"last_heartbeat,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

// Store is a directory of per-agent JSON files, one per pane, grouped by
// multiplexer instance.
type Store struct {
	rootDir string
}

// NewStore returns a store rooted at <stateDir>/agents.
func NewStore(stateDir string) *Store {
	return &Store{rootDir: filepath.Join(stateDir, "agents")}
}

func (s *Store) instanceDir(instanceID string) string {
	return filepath.Join(s.rootDir, sanitize(instanceID))
}

func (s *Store) recordPath(key PaneKey) string {
	return filepath.Join(s.instanceDir(key.InstanceID), sanitize(key.PaneID)+".json")
}

func (s *Store) lockPath(instanceID string) string {
	return filepath.Join(s.instanceDir(instanceID), ".lock")
}

// sanitize replaces path separators so pane/instance ids that happen to
// contain them (none of the known backends do, but the id space is
// backend-opaque per the data model) can't escape the directory.
func sanitize(s string) string {
	s = strings.ReplaceAll(s, "/", "_")
	s = strings.ReplaceAll(s, string(filepath.Separator), "_")
	return s
}

// Save writes record with an atomic temp-file-then-rename replace.
func (s *Store) Save(record Record) error {
	dir := s.instanceDir(record.PaneKey.InstanceID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("agentstate: creating instance dir: %w", err)
	}

	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return fmt.Errorf("agentstate: marshaling record: %w", err)
	}

	finalPath := s.recordPath(record.PaneKey)
	tempPath := fmt.Sprintf("%s.tmp.%d", finalPath, time.Now().UnixNano())

	if err := os.WriteFile(tempPath, data, 0o644); err != nil {
		return fmt.Errorf("agentstate: writing temp record: %w", err)
	}
	if err := os.Rename(tempPath, finalPath); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("agentstate: renaming record into place: %w", err)
	}
	return nil
}

// Delete removes a record's file. Missing files are not an error: per
// the error-handling design, deletes are idempotent.
func (s *Store) Delete(key PaneKey) error {
	err := os.Remove(s.recordPath(key))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("agentstate: deleting record: %w", err)
	}
	return nil
}

// LoadAll enumerates every stored record for the given instance. A file
// that fails to parse (observed mid-write) is retried once before being
// skipped, matching the "readers that observe a partial file retry once"
// guarantee.
func (s *Store) LoadAll(instanceID string) ([]Record, error) {
	dir := s.instanceDir(instanceID)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("agentstate: reading instance dir: %w", err)
	}

	var records []Record
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		path := filepath.Join(dir, e.Name())
		record, err := readRecord(path)
		if err != nil {
			record, err = readRecord(path) // one retry for a partial write
			if err != nil {
				continue
			}
		}
		records = append(records, record)
	}
	return records, nil
}

func readRecord(path string) (Record, error) {
	var r Record
	data, err := os.ReadFile(path)
	if err != nil {
		return r, err
	}
	if err := json.Unmarshal(data, &r); err != nil {
		return r, err
	}
	return r, nil
}

// LoadReconciled returns every record for instanceID whose pane the
// multiplexer still confirms is alive, deleting the rest.
func (s *Store) LoadReconciled(ctx context.Context, mux multiplexer.Multiplexer, instanceID string) ([]Record, error) {
	records, err := s.LoadAll(instanceID)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}

	lock := flock.New(s.lockPath(instanceID))
	if err := lock.Lock(); err != nil {
		return nil, fmt.Errorf("agentstate: locking instance dir: %w", err)
	}
	defer lock.Unlock()

	var cached map[string]multiplexer.LivePaneInfo
	cached, err = mux.GetAllLivePaneInfo(ctx)
	if err != nil {
		return nil, err
	}

	var alive []Record
	for _, r := range records {
		query := multiplexer.AgentLivenessQuery{
			InstanceID:    r.PaneKey.InstanceID,
			PaneID:        r.PaneKey.PaneID,
			Command:       r.Command,
			LastHeartbeat: r.LastHeartbeat,
			UpdatedTS:     r.UpdatedTS,
		}
		ok, err := mux.ValidateAgentAlive(ctx, query, cached)
		if err != nil {
			return nil, err
		}
		if ok {
			alive = append(alive, r)
		} else {
			if err := s.Delete(r.PaneKey); err != nil {
				return nil, err
			}
		}
	}
	return alive, nil
}

// TouchHeartbeat rewrites last_heartbeat (and advances updated_ts, which
// must stay monotone non-decreasing) for a single record.
func (s *Store) TouchHeartbeat(key PaneKey, now time.Time) error {
	lock := flock.New(s.lockPath(key.InstanceID))
	if err := lock.Lock(); err != nil {
		return fmt.Errorf("agentstate: locking instance dir: %w", err)
	}
	defer lock.Unlock()

	record, err := readRecord(s.recordPath(key))
	if err != nil {
		return fmt.Errorf("agentstate: loading record for heartbeat: %w", err)
	}

	ts := now.Unix()
	record.LastHeartbeat = &ts
	if ts > record.UpdatedTS {
		record.UpdatedTS = ts
	}
	return s.Save(record)
}
