package contractstate

import (
	"testing"

	"github.com/Klingon-tech/klingnet-chain/internal/storage"
	"github.com/Klingon-tech/klingnet-chain/pkg/types"
)

func commitValue(t *testing.T, s *Store, addr types.Address, height uint64, value string) {
	t.Helper()
	bc := s.NewBlockContext()
	cache := bc.NewTxCache()
	info := cache.Get(addr)
	info.Storage["k"] = []byte(value)
	cache.Put(info)
	cache.Apply()
	if err := bc.Commit(height, types.Hash{byte(height)}); err != nil {
		t.Fatalf("Commit(%d) error: %v", height, err)
	}
}

func TestRollback_SingleStepRestoresPriorValue(t *testing.T) {
	db := storage.NewMemory()
	s := NewStore(db)
	addr := addrC(20)

	commitValue(t, s, addr, 1, "v1")
	commitValue(t, s, addr, 2, "v2")

	if err := s.Rollback(2, []types.Address{addr}); err != nil {
		t.Fatalf("Rollback(2) error: %v", err)
	}
	got, ok := s.Get(addr)
	if !ok || string(got.Storage["k"]) != "v1" {
		t.Fatalf("after rollback, Storage[k] = %+v, want v1", got)
	}

	entries, err := s.History(addr)
	if err != nil {
		t.Fatalf("History() error: %v", err)
	}
	if len(entries) != 1 || entries[0].Height != 1 {
		t.Fatalf("History() after rollback = %+v, want only height-1 entry", entries)
	}
}

func TestRollback_MultiStepChainRestoresOriginal(t *testing.T) {
	db := storage.NewMemory()
	s := NewStore(db)
	addr := addrC(21)

	commitValue(t, s, addr, 1, "v1")
	commitValue(t, s, addr, 2, "v2")
	commitValue(t, s, addr, 3, "v3")
	commitValue(t, s, addr, 4, "v4")

	// Roll back to height 1 by undoing 4, 3, 2 in descending order,
	// mirroring how a multi-block reorg would walk the chain back.
	for h := uint64(4); h >= 2; h-- {
		if err := s.Rollback(h, []types.Address{addr}); err != nil {
			t.Fatalf("Rollback(%d) error: %v", h, err)
		}
	}

	got, ok := s.Get(addr)
	if !ok || string(got.Storage["k"]) != "v1" {
		t.Fatalf("after full rollback, Storage[k] = %+v, want v1", got)
	}
}

func TestRollback_UntouchedAddressIsNoOp(t *testing.T) {
	db := storage.NewMemory()
	s := NewStore(db)
	addr := addrC(22)

	if err := s.Rollback(5, []types.Address{addr}); err != nil {
		t.Fatalf("Rollback() on untouched address should be a no-op, got error: %v", err)
	}
}
