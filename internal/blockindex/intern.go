package blockindex

import (
	"sync"

	"github.com/Klingon-tech/klingnet-chain/pkg/types"
)

// Handle is a stable, deduplicated reference to a block hash. Entries
// hold their parent as a Handle rather than a raw hash or pointer, per
// the interning design note (§9): block records form a parent-chain
// DAG, and handles into a slab sidestep owning-pointer cycles.
type Handle int32

// NoHandle marks a record with no known parent (genesis).
const NoHandle Handle = -1

// Interner deduplicates block-hash identifiers into Handles.
type Interner struct {
	mu      sync.Mutex
	indexOf map[types.Hash]Handle
	hashes  []types.Hash
}

// NewInterner creates an empty interning slab.
func NewInterner() *Interner {
	return &Interner{indexOf: make(map[types.Hash]Handle)}
}

// Intern returns the handle for h, allocating one if this is the first
// time h has been seen.
func (s *Interner) Intern(h types.Hash) Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	if handle, ok := s.indexOf[h]; ok {
		return handle
	}
	handle := Handle(len(s.hashes))
	s.hashes = append(s.hashes, h)
	s.indexOf[h] = handle
	return handle
}

// Lookup returns the handle already assigned to h, if any.
func (s *Interner) Lookup(h types.Hash) (Handle, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	handle, ok := s.indexOf[h]
	return handle, ok
}

// Hash returns the hash a handle was interned from.
func (s *Interner) Hash(h Handle) (types.Hash, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if h < 0 || int(h) >= len(s.hashes) {
		return types.Hash{}, false
	}
	return s.hashes[h], true
}

// Len reports how many distinct hashes have been interned.
func (s *Interner) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.hashes)
}
