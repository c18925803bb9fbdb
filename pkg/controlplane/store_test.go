package controlplane

import (
	"path/filepath"
	"testing"
)

func TestFileJournalPersistsEvents(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "events.json")

	j, err := NewFileJournal(path)
	if err != nil {
		t.Fatalf("NewFileJournal returned error: %v", err)
	}
	j.AppendEvent("g1-n1", NodeStatusProvisioning, "Submitting deployment")
	j.AppendEvent("g1-n1", NodeStatusReady, "Deployment created")
	j.AppendEvent("g1-n2", NodeStatusError, "quota exceeded")

	reopened, err := NewFileJournal(path)
	if err != nil {
		t.Fatalf("reopen returned error: %v", err)
	}
	events := reopened.GetEvents("g1-n1")
	if len(events) != 2 || events[0].Status != NodeStatusProvisioning || events[1].Status != NodeStatusReady {
		t.Fatalf("unexpected events after reload: %#v", events)
	}
	if events[0].ID == "" || events[0].NodeID != "g1-n1" || events[0].CreatedAt.IsZero() {
		t.Fatalf("event fields not populated: %#v", events[0])
	}

	if err := reopened.Forget("g1-n1"); err != nil {
		t.Fatalf("Forget returned error: %v", err)
	}
	again, err := NewFileJournal(path)
	if err != nil {
		t.Fatalf("reopen returned error: %v", err)
	}
	if len(again.GetEvents("g1-n1")) != 0 {
		t.Fatalf("expected forgotten node to stay forgotten")
	}
	if len(again.GetEvents("g1-n2")) != 1 {
		t.Fatalf("expected other nodes to be kept")
	}
}

func TestFileJournalInMemory(t *testing.T) {
	j, err := NewFileJournal("")
	if err != nil {
		t.Fatalf("NewFileJournal returned error: %v", err)
	}
	j.AppendEvent("g1-n1", NodeStatusDestroying, "Teardown started")
	if err := j.Forget("unknown"); err != nil {
		t.Fatalf("Forget of unknown node returned error: %v", err)
	}
	events := j.GetEvents("g1-n1")
	events[0].Message = "mutated"
	if j.GetEvents("g1-n1")[0].Message != "Teardown started" {
		t.Fatalf("GetEvents must return a copy")
	}
}
