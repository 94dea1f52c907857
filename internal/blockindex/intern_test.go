package blockindex

import (
	"testing"

	"github.com/Klingon-tech/klingnet-chain/pkg/types"
)

func TestInterner_DedupesRepeatedHash(t *testing.T) {
	s := NewInterner()
	a := types.Hash{0x01}

	h1 := s.Intern(a)
	h2 := s.Intern(a)
	if h1 != h2 {
		t.Errorf("Intern() on the same hash returned different handles: %v, %v", h1, h2)
	}
	if s.Len() != 1 {
		t.Errorf("Len() = %d, want 1", s.Len())
	}
}

func TestInterner_DistinctHashesGetDistinctHandles(t *testing.T) {
	s := NewInterner()
	h1 := s.Intern(types.Hash{0x01})
	h2 := s.Intern(types.Hash{0x02})
	if h1 == h2 {
		t.Errorf("distinct hashes produced the same handle: %v", h1)
	}
}

func TestInterner_HashRoundTrip(t *testing.T) {
	s := NewInterner()
	want := types.Hash{0xAB, 0xCD}
	h := s.Intern(want)
	got, ok := s.Hash(h)
	if !ok || got != want {
		t.Errorf("Hash(%v) = %v, %v; want %v, true", h, got, ok, want)
	}
}

func TestInterner_UnknownHandle(t *testing.T) {
	s := NewInterner()
	if _, ok := s.Hash(Handle(42)); ok {
		t.Error("Hash() on an unassigned handle should report ok=false")
	}
}
