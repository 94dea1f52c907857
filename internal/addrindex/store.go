// Package addrindex is the reverse index from address to the set of
// outpoints currently owned by that address. It ingests the same
// dirty-entry stream the coin view flushes (spec §4.3) rather than
// being invoked inline on every coin mutation.
package addrindex

import (
	"encoding/binary"
	"sync"

	"github.com/Klingon-tech/klingnet-chain/internal/coinview"
	"github.com/Klingon-tech/klingnet-chain/internal/log"
	"github.com/Klingon-tech/klingnet-chain/internal/storage"
	"github.com/Klingon-tech/klingnet-chain/pkg/types"
)

const addrKeyPrefix = 'A'

// addrKey builds the storage key for one (address, outpoint) pair:
// 'A' || address(20) || txid(32) || varint(index).
func addrKey(addr types.Address, op types.Outpoint) []byte {
	buf := make([]byte, 1+types.AddressSize+types.HashSize+binary.MaxVarintLen64)
	buf[0] = addrKeyPrefix
	copy(buf[1:], addr[:])
	off := 1 + types.AddressSize
	copy(buf[off:], op.TxID[:])
	n := binary.PutUvarint(buf[off+types.HashSize:], uint64(op.Index))
	return buf[:off+types.HashSize+n]
}

func addrPrefix(addr types.Address) []byte {
	buf := make([]byte, 1+types.AddressSize)
	buf[0] = addrKeyPrefix
	copy(buf[1:], addr[:])
	return buf
}

func decodeAddrKey(key []byte) (types.Outpoint, bool) {
	off := 1 + types.AddressSize
	if len(key) < off+types.HashSize+1 {
		return types.Outpoint{}, false
	}
	var op types.Outpoint
	copy(op.TxID[:], key[off:off+types.HashSize])
	idx, n := binary.Uvarint(key[off+types.HashSize:])
	if n <= 0 {
		return types.Outpoint{}, false
	}
	op.Index = uint32(idx)
	return op, true
}

type pendingOp struct {
	op  types.Outpoint
	add bool
}

// Store is the durable AddrIdx, driven by coinview's dirty-entry
// stream via ConsumeDirty, with a lazy per-address read cache that is
// cleared after every successful Flush.
type Store struct {
	db storage.DB

	mu      sync.Mutex
	lists   map[types.Address][]types.Outpoint
	pending map[types.Address][]pendingOp
}

// NewStore wraps db as an address index.
func NewStore(db storage.DB) *Store {
	return &Store{
		db:      db,
		lists:   make(map[types.Address][]types.Outpoint),
		pending: make(map[types.Address][]pendingOp),
	}
}

// GetList returns the outpoints currently indexed under addr, from the
// cache if loaded, else a fresh KVB scan.
func (s *Store) GetList(addr types.Address) ([]types.Outpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadListLocked(addr)
}

func (s *Store) loadListLocked(addr types.Address) ([]types.Outpoint, error) {
	if list, ok := s.lists[addr]; ok {
		return append([]types.Outpoint(nil), list...), nil
	}
	var list []types.Outpoint
	err := s.db.ForEach(addrPrefix(addr), func(key, _ []byte) error {
		op, ok := decodeAddrKey(key)
		if !ok {
			return nil
		}
		list = append(list, op)
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.lists[addr] = list
	return append([]types.Outpoint(nil), list...), nil
}

func containsOutpoint(list []types.Outpoint, op types.Outpoint) bool {
	for _, o := range list {
		if o == op {
			return true
		}
	}
	return false
}

// ConsumeDirty implements coinview.DirtyConsumer. It resolves each
// coin's destination and, for a simple key-hash address that is not a
// coinbase output (spec invariant I3), stages an add or remove against
// that address's list. Unresolvable scripts and any other destination
// kind are silently skipped — AddrIdx is advisory, not consensus
// critical.
func (s *Store) ConsumeDirty(op types.Outpoint, entry *coinview.CacheEntry) error {
	dest := Resolve(entry.Coin.Script)
	if dest.Kind != KeyHash || entry.Coin.Coinbase {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	list, err := s.loadListLocked(dest.Address)
	if err != nil {
		return err
	}

	if entry.Coin.Spent {
		s.pending[dest.Address] = append(s.pending[dest.Address], pendingOp{op: op, add: false})
		s.lists[dest.Address] = removeOutpoint(list, op)
		return nil
	}

	if containsOutpoint(list, op) {
		log.AddrIndex.Warn().
			Str("address", dest.Address.String()).
			Str("outpoint", op.String()).
			Msg("duplicate outpoint add ignored during replay")
		return nil
	}
	s.pending[dest.Address] = append(s.pending[dest.Address], pendingOp{op: op, add: true})
	s.lists[dest.Address] = append(list, op)
	return nil
}

func removeOutpoint(list []types.Outpoint, op types.Outpoint) []types.Outpoint {
	out := list[:0]
	for _, o := range list {
		if o != op {
			out = append(out, o)
		}
	}
	return out
}

// Flush implements coinview.Flushable. It writes every staged add/remove
// to the KVB as a single batch (falling back to individual writes when
// the backend doesn't support batching) and clears the read cache to
// bound memory, per spec §4.3.
func (s *Store) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.pending) == 0 {
		s.lists = make(map[types.Address][]types.Outpoint)
		return nil
	}

	if batcher, ok := s.db.(storage.Batcher); ok {
		batch := batcher.NewBatch()
		for addr, ops := range s.pending {
			for _, op := range ops {
				key := addrKey(addr, op.op)
				if op.add {
					if err := batch.Put(key, []byte{}); err != nil {
						return err
					}
				} else {
					if err := batch.Delete(key); err != nil {
						return err
					}
				}
			}
		}
		if err := batch.Commit(); err != nil {
			return err
		}
	} else {
		for addr, ops := range s.pending {
			for _, op := range ops {
				key := addrKey(addr, op.op)
				var err error
				if op.add {
					err = s.db.Put(key, []byte{})
				} else {
					err = s.db.Delete(key)
				}
				if err != nil {
					return err
				}
			}
		}
	}

	s.pending = make(map[types.Address][]pendingOp)
	s.lists = make(map[types.Address][]types.Outpoint)
	return nil
}
