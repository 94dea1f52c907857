package contractstate

import (
	"testing"

	"github.com/Klingon-tech/klingnet-chain/internal/storage"
	"github.com/Klingon-tech/klingnet-chain/pkg/types"
)

// TestReorg_DisconnectThenReconnectAlongDivergentBranchMatchesFreshReplay
// walks a contract through blocks 1-5 on one branch, rolls back to
// height 2, then connects a divergent branch 3'-5' and checks the
// result equals building that branch from scratch on a fresh store.
func TestReorg_DisconnectThenReconnectAlongDivergentBranchMatchesFreshReplay(t *testing.T) {
	addr := addrC(70)

	db := storage.NewMemory()
	s := NewStore(db)
	commitValue(t, s, addr, 1, "a1")
	commitValue(t, s, addr, 2, "a2")
	commitValue(t, s, addr, 3, "a3")
	commitValue(t, s, addr, 4, "a4")
	commitValue(t, s, addr, 5, "a5")

	for h := uint64(5); h >= 3; h-- {
		if err := s.Rollback(h, []types.Address{addr}); err != nil {
			t.Fatalf("Rollback(%d) error: %v", h, err)
		}
	}

	got, ok := s.Get(addr)
	if !ok || string(got.Storage["k"]) != "a2" {
		t.Fatalf("after disconnect to height 2, Storage[k] = %+v, want a2", got)
	}
	if entries, err := s.History(addr); err != nil || len(entries) != 2 {
		t.Fatalf("History() after disconnect = %v (err %v), want 2 entries", entries, err)
	}

	// Reconnect along a divergent branch.
	commitValue(t, s, addr, 3, "b3")
	commitValue(t, s, addr, 4, "b4")
	commitValue(t, s, addr, 5, "b5")

	gotFinal, ok := s.Get(addr)
	if !ok || string(gotFinal.Storage["k"]) != "b5" {
		t.Fatalf("after reconnect, Storage[k] = %+v, want b5", gotFinal)
	}

	// Fresh replay of only the surviving history: a1, a2, then the b
	// branch — must land on the identical final state.
	freshDB := storage.NewMemory()
	fresh := NewStore(freshDB)
	commitValue(t, fresh, addr, 1, "a1")
	commitValue(t, fresh, addr, 2, "a2")
	commitValue(t, fresh, addr, 3, "b3")
	commitValue(t, fresh, addr, 4, "b4")
	commitValue(t, fresh, addr, 5, "b5")

	gotFresh, ok := fresh.Get(addr)
	if !ok {
		t.Fatal("fresh replay: contract not found")
	}
	if string(gotFresh.Storage["k"]) != string(gotFinal.Storage["k"]) {
		t.Errorf("reconnected state = %q, fresh replay state = %q", gotFinal.Storage["k"], gotFresh.Storage["k"])
	}

	entries, err := s.History(addr)
	if err != nil {
		t.Fatalf("History() error: %v", err)
	}
	freshEntries, err := fresh.History(addr)
	if err != nil {
		t.Fatalf("fresh History() error: %v", err)
	}
	if len(entries) != len(freshEntries) {
		t.Fatalf("History() len = %d, fresh History() len = %d", len(entries), len(freshEntries))
	}
	for i := range entries {
		if entries[i].Height != freshEntries[i].Height {
			t.Errorf("entries[%d].Height = %d, fresh = %d", i, entries[i].Height, freshEntries[i].Height)
		}
		if string(entries[i].Delta.Entries["k"].value) != string(freshEntries[i].Delta.Entries["k"].value) {
			t.Errorf("entries[%d] reverse value = %q, fresh = %q", i,
				entries[i].Delta.Entries["k"].value, freshEntries[i].Delta.Entries["k"].value)
		}
	}
}

func TestReorg_RollbackThenReconnectSameBranchIsIdempotent(t *testing.T) {
	addr := addrC(71)
	db := storage.NewMemory()
	s := NewStore(db)

	commitValue(t, s, addr, 1, "x1")
	commitValue(t, s, addr, 2, "x2")

	before, _ := s.Get(addr)

	if err := s.Rollback(2, []types.Address{addr}); err != nil {
		t.Fatalf("Rollback() error: %v", err)
	}
	commitValue(t, s, addr, 2, "x2")

	after, _ := s.Get(addr)
	if string(before.Storage["k"]) != string(after.Storage["k"]) {
		t.Errorf("state after rollback+recommit = %q, want %q", after.Storage["k"], before.Storage["k"])
	}
}
