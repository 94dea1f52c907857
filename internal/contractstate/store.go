package contractstate

import (
	"fmt"
	"sync"

	"github.com/Klingon-tech/klingnet-chain/internal/storage"
	"github.com/Klingon-tech/klingnet-chain/pkg/types"
)

// Store is CSS's Data tier: the in-memory current state of every known
// contract, backed by a durable KVB. It generalizes the teacher's
// subchain.Registry (internal/subchain/registry.go) from sub-chain
// metadata to a contract's code+storage pair.
type Store struct {
	db storage.DB

	mu   sync.RWMutex
	data map[types.Address]*ContractInfo
}

// NewStore wraps db as a contract state store.
func NewStore(db storage.DB) *Store {
	return &Store{db: db, data: make(map[types.Address]*ContractInfo)}
}

// Load reconstructs the Data tier from every 'c'-prefixed record.
func (s *Store) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.ForEach([]byte{contractInfoPrefix}, func(key, value []byte) error {
		if len(key) != 1+types.AddressSize {
			return nil
		}
		var addr types.Address
		copy(addr[:], key[1:])
		info, err := decodeContractInfo(addr, value)
		if err != nil {
			return err
		}
		s.data[addr] = info
		return nil
	})
}

// Get returns a defensive copy of a contract's current state.
func (s *Store) Get(addr types.Address) (*ContractInfo, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	info, ok := s.data[addr]
	if !ok {
		return nil, false
	}
	return cloneContract(info), true
}

func (s *Store) getLocked(addr types.Address) *ContractInfo {
	if info, ok := s.data[addr]; ok {
		return cloneContract(info)
	}
	return &ContractInfo{Address: addr, Storage: make(map[string][]byte)}
}

// setLocked overwrites the Data entry for addr. Caller must hold s.mu.
func (s *Store) setLocked(info *ContractInfo) {
	s.data[info.Address] = cloneContract(info)
}

// CommitBlock is the per-height snapshot step (spec §4.5): for every
// contract in before (the pre-block Data snapshot a BlockContext
// collected on first touch), diff it against the post-block Data entry
// and, if it changed, append a HistoryEntry and persist both the
// contract's new durable record and the history entry in one batch.
func (s *Store) CommitBlock(height uint64, blockHash types.Hash, before map[types.Address]*ContractInfo) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	batcher, hasBatcher := s.db.(storage.Batcher)
	var batch storage.Batch
	if hasBatcher {
		batch = batcher.NewBatch()
	}

	write := func(key, value []byte) error {
		if hasBatcher {
			return batch.Put(key, value)
		}
		return s.db.Put(key, value)
	}

	for addr, prior := range before {
		current, ok := s.data[addr]
		if !ok {
			current = &ContractInfo{Address: addr, Storage: make(map[string][]byte)}
		}
		delta := computeDelta(prior.Storage, current.Storage)
		if delta.isEmpty() && string(prior.Code) == string(current.Code) {
			continue
		}
		entry := HistoryEntry{Height: height, BlockHash: blockHash, Delta: delta}
		if err := write(historyKey(addr, height), encodeHistoryEntry(entry)); err != nil {
			return fmt.Errorf("contractstate write history: %w", storage.ErrIoError)
		}
		if err := write(contractKey(addr), encodeContractInfo(current)); err != nil {
			return fmt.Errorf("contractstate write contract: %w", storage.ErrIoError)
		}
	}

	if hasBatcher {
		if err := batch.Commit(); err != nil {
			return fmt.Errorf("contractstate commit block: %w", storage.ErrIoError)
		}
	}
	return nil
}

// History returns every recorded (contract, height) entry for addr, in
// ascending height order.
func (s *Store) History(addr types.Address) ([]HistoryEntry, error) {
	var entries []HistoryEntry
	err := s.db.ForEach(historyPrefixFor(addr), func(key, value []byte) error {
		height, ok := decodeHistoryKeyHeight(key)
		if !ok {
			return nil
		}
		e, err := decodeHistoryEntry(height, value)
		if err != nil {
			return err
		}
		entries = append(entries, e)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}
