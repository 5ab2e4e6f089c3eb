package agentstate

import (
	"context"
	"testing"
	"time"

	"github.com/wtmux/wtmux/internal/multiplexer"
)

// fakeMux implements only the reconciliation surface LoadReconciled uses;
// other methods panic if ever called so a missing stub is obvious.
type fakeMux struct {
	live  map[string]multiplexer.LivePaneInfo
	alive map[string]bool
}

func (f *fakeMux) GetAllLivePaneInfo(context.Context) (map[string]multiplexer.LivePaneInfo, error) {
	return f.live, nil
}

func (f *fakeMux) ValidateAgentAlive(ctx context.Context, q multiplexer.AgentLivenessQuery, cached map[string]multiplexer.LivePaneInfo) (bool, error) {
	return f.alive[q.PaneID], nil
}

func (f *fakeMux) unimplemented() { panic("not used by agentstate tests") }

func (f *fakeMux) Name() string                                                 { f.unimplemented(); return "" }
func (f *fakeMux) Capabilities() multiplexer.Capabilities                       { f.unimplemented(); return multiplexer.Capabilities{} }
func (f *fakeMux) IsRunning(context.Context) (bool, error)                      { f.unimplemented(); return false, nil }
func (f *fakeMux) InstanceID(context.Context) (string, error)                   { f.unimplemented(); return "", nil }
func (f *fakeMux) CreateWindow(context.Context, string, string) (string, error) { f.unimplemented(); return "", nil }
func (f *fakeMux) KillWindow(context.Context, string) error                    { f.unimplemented(); return nil }
func (f *fakeMux) ScheduleWindowClose(context.Context, string, time.Duration) error {
	f.unimplemented()
	return nil
}
func (f *fakeMux) SelectWindow(context.Context, string) error          { f.unimplemented(); return nil }
func (f *fakeMux) WindowExists(context.Context, string) (bool, error)  { f.unimplemented(); return false, nil }
func (f *fakeMux) CurrentWindowName(context.Context) (string, error)   { f.unimplemented(); return "", nil }
func (f *fakeMux) GetAllWindowNames(context.Context) ([]string, error) { f.unimplemented(); return nil, nil }
func (f *fakeMux) WaitUntilWindowsClosed(context.Context, []string, time.Duration) error {
	f.unimplemented()
	return nil
}
func (f *fakeMux) CurrentPaneID(context.Context) (string, error)          { f.unimplemented(); return "", nil }
func (f *fakeMux) ActivePaneID(context.Context, string) (string, error)   { f.unimplemented(); return "", nil }
func (f *fakeMux) SelectPane(context.Context, string) error               { f.unimplemented(); return nil }
func (f *fakeMux) SwitchToPane(context.Context, string) error             { f.unimplemented(); return nil }
func (f *fakeMux) SplitPane(context.Context, multiplexer.SplitOptions) (string, error) {
	f.unimplemented()
	return "", nil
}
func (f *fakeMux) RespawnPane(context.Context, string, string) error { f.unimplemented(); return nil }
func (f *fakeMux) CapturePane(context.Context, string) (string, error) {
	f.unimplemented()
	return "", nil
}
func (f *fakeMux) SendKeys(context.Context, string, string) error { f.unimplemented(); return nil }
func (f *fakeMux) SendKeysToAgent(context.Context, string, string, multiplexer.AgentProfile) error {
	f.unimplemented()
	return nil
}
func (f *fakeMux) SendKey(context.Context, string, string) error         { f.unimplemented(); return nil }
func (f *fakeMux) PasteMultiline(context.Context, string, string) error  { f.unimplemented(); return nil }
func (f *fakeMux) ClearPane(context.Context, string) error               { f.unimplemented(); return nil }
func (f *fakeMux) SetStatus(context.Context, string, multiplexer.Status, bool) error {
	f.unimplemented()
	return nil
}
func (f *fakeMux) ClearStatus(context.Context, string) error       { f.unimplemented(); return nil }
func (f *fakeMux) EnsureStatusFormat(context.Context, string) error { f.unimplemented(); return nil }
func (f *fakeMux) GetDefaultShell(context.Context) (string, error) { f.unimplemented(); return "", nil }
func (f *fakeMux) CreateHandshake(context.Context) (multiplexer.Handshake, error) {
	f.unimplemented()
	return nil, nil
}
func (f *fakeMux) GetLivePaneInfo(context.Context, string) (*multiplexer.LivePaneInfo, error) {
	f.unimplemented()
	return nil, nil
}
func (f *fakeMux) ShellSelectWindowCmd(string, string) string { f.unimplemented(); return "" }
func (f *fakeMux) ShellKillWindowCmd(string, string) string   { f.unimplemented(); return "" }
func (f *fakeMux) RunDeferredScript(context.Context, string) error { f.unimplemented(); return nil }
func (f *fakeMux) ScheduleCleanupAndClose(context.Context, string, []string, time.Duration) error {
	f.unimplemented()
	return nil
}

var _ multiplexer.Multiplexer = (*fakeMux)(nil)

func TestSaveLoadAllRoundTrips(t *testing.T) {
	dir := t.TempDir()
	s := NewStore(dir)
	rec := Record{
		PaneKey:      PaneKey{InstanceID: "inst1", PaneID: "%3"},
		WindowName:   "wm:feat-a",
		Command:      "claude",
		WorktreePath: "/repo/wt/feat-a",
		CreatedTS:    100,
		UpdatedTS:    100,
	}
	if err := s.Save(rec); err != nil {
		t.Fatalf("Save: %v", err)
	}

	records, err := s.LoadAll("inst1")
	if err != nil {
		t.Fatalf("LoadAll: %v", err)
	}
	if len(records) != 1 || records[0].Command != "claude" {
		t.Fatalf("LoadAll = %+v", records)
	}
}

func TestLoadReconciledDropsDeadRecords(t *testing.T) {
	dir := t.TempDir()
	s := NewStore(dir)

	alive := Record{PaneKey: PaneKey{InstanceID: "inst1", PaneID: "%1"}, Command: "claude", UpdatedTS: 1}
	dead := Record{PaneKey: PaneKey{InstanceID: "inst1", PaneID: "%2"}, Command: "claude", UpdatedTS: 1}
	if err := s.Save(alive); err != nil {
		t.Fatal(err)
	}
	if err := s.Save(dead); err != nil {
		t.Fatal(err)
	}

	mux := &fakeMux{
		live:  map[string]multiplexer.LivePaneInfo{"%1": {CurrentCommand: "claude"}},
		alive: map[string]bool{"%1": true, "%2": false},
	}

	records, err := s.LoadReconciled(context.Background(), mux, "inst1")
	if err != nil {
		t.Fatalf("LoadReconciled: %v", err)
	}
	if len(records) != 1 || records[0].PaneKey.PaneID != "%1" {
		t.Fatalf("expected only %%1 to survive, got %+v", records)
	}

	remaining, err := s.LoadAll("inst1")
	if err != nil {
		t.Fatal(err)
	}
	if len(remaining) != 1 {
		t.Fatalf("expected dead record's file deleted, got %+v", remaining)
	}
}

func TestTouchHeartbeatIsMonotone(t *testing.T) {
	dir := t.TempDir()
	s := NewStore(dir)
	key := PaneKey{InstanceID: "inst1", PaneID: "%1"}
	if err := s.Save(Record{PaneKey: key, Command: "claude", UpdatedTS: 1000}); err != nil {
		t.Fatal(err)
	}

	earlier := time.Unix(500, 0)
	if err := s.TouchHeartbeat(key, earlier); err != nil {
		t.Fatalf("TouchHeartbeat: %v", err)
	}

	records, err := s.LoadAll("inst1")
	if err != nil {
		t.Fatal(err)
	}
	if records[0].UpdatedTS != 1000 {
		t.Errorf("UpdatedTS regressed to %d, want it to stay at 1000", records[0].UpdatedTS)
	}
	if records[0].LastHeartbeat == nil || *records[0].LastHeartbeat != 500 {
		t.Errorf("LastHeartbeat = %v, want 500", records[0].LastHeartbeat)
	}
}

func TestDeleteIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	s := NewStore(dir)
	key := PaneKey{InstanceID: "inst1", PaneID: "%1"}
	if err := s.Delete(key); err != nil {
		t.Fatalf("Delete on missing record should be a no-op, got: %v", err)
	}
}
