package donestack

import "testing"

func TestPushDedupesAndPrepends(t *testing.T) {
	s := NewStore(t.TempDir())
	for _, id := range []string{"%1", "%2", "%1"} {
		if err := s.Push(id); err != nil {
			t.Fatalf("Push(%s): %v", id, err)
		}
	}
	ids, err := s.read()
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 2 || ids[0] != "%1" || ids[1] != "%2" {
		t.Fatalf("stack = %v, want [%%1 %%2]", ids)
	}
}

func TestPopRemovesIfPresent(t *testing.T) {
	s := NewStore(t.TempDir())
	s.Push("%1")
	s.Push("%2")
	if err := s.Pop("%1"); err != nil {
		t.Fatal(err)
	}
	ids, err := s.read()
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 1 || ids[0] != "%2" {
		t.Fatalf("stack = %v, want [%%2]", ids)
	}
}

func TestPopAbsentIsNotAnError(t *testing.T) {
	s := NewStore(t.TempDir())
	if err := s.Pop("%nope"); err != nil {
		t.Fatalf("Pop on absent id should be a no-op, got: %v", err)
	}
}

func TestLastDoneRotatesTwoElements(t *testing.T) {
	s := NewStore(t.TempDir())
	s.Push("p")
	s.Push("q")

	want := []string{"q", "p", "q"}
	for i, w := range want {
		got, ok, err := s.LastDone()
		if err != nil {
			t.Fatalf("LastDone #%d: %v", i, err)
		}
		if !ok || got != w {
			t.Fatalf("LastDone #%d = (%q, %v), want %q", i, got, ok, w)
		}
	}
}

func TestLastDoneOnEmptyStackReturnsNotOK(t *testing.T) {
	s := NewStore(t.TempDir())
	_, ok, err := s.LastDone()
	if err != nil {
		t.Fatalf("LastDone: %v", err)
	}
	if ok {
		t.Error("expected ok=false for an empty stack")
	}
}
