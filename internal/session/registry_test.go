package session

import (
	"testing"

	"shellserver/internal/ring"
)

func TestRegistryAddRemove(t *testing.T) {
	r := NewRegistry()
	s1 := New(ring.AdmissionRecord{ClientPID: 1})
	s2 := New(ring.AdmissionRecord{ClientPID: 2})

	h1 := r.Add(s1)
	h2 := r.Add(s2)

	if r.Len() != 2 {
		t.Fatalf("Len = %d, want 2", r.Len())
	}

	if err := r.Remove(h1); err != nil {
		t.Fatalf("Remove h1: %v", err)
	}
	if r.Len() != 1 {
		t.Fatalf("Len after remove = %d, want 1", r.Len())
	}

	if err := r.Remove(h1); err == nil {
		t.Fatal("expected error removing already-removed handle")
	}

	if err := r.Remove(h2); err != nil {
		t.Fatalf("Remove h2: %v", err)
	}
	if r.Len() != 0 {
		t.Fatalf("Len after removing all = %d, want 0", r.Len())
	}
}

func TestRegistryBroadcastVisitsAllLiveSessions(t *testing.T) {
	r := NewRegistry()
	pids := []uint32{10, 20, 30}
	for _, pid := range pids {
		r.Add(New(ring.AdmissionRecord{ClientPID: pid}))
	}

	seen := map[uint32]bool{}
	r.Broadcast(func(s *Session) { seen[s.PID()] = true })

	if len(seen) != len(pids) {
		t.Fatalf("broadcast visited %d sessions, want %d", len(seen), len(pids))
	}
	for _, pid := range pids {
		if !seen[pid] {
			t.Fatalf("broadcast missed pid %d", pid)
		}
	}
}
