package contractstate

import (
	"errors"
	"fmt"

	"github.com/Klingon-tech/klingnet-chain/internal/storage"
	"github.com/Klingon-tech/klingnet-chain/pkg/types"
)

// Rollback undoes block B at height by applying every touched
// contract's reverse delta and deleting its height-h history entry
// (spec §4.5 Rollback). addrs is the set of contracts B's delta set
// touched — the caller (the same caller that pairs CSS rollback with
// CV rollback under one tip-transition marker, per spec §4.4) supplies
// it rather than CSS scanning for it.
func (s *Store) Rollback(height uint64, addrs []types.Address) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	batcher, hasBatcher := s.db.(storage.Batcher)
	var batch storage.Batch
	if hasBatcher {
		batch = batcher.NewBatch()
	}
	del := func(key []byte) error {
		if hasBatcher {
			return batch.Delete(key)
		}
		return s.db.Delete(key)
	}
	put := func(key, value []byte) error {
		if hasBatcher {
			return batch.Put(key, value)
		}
		return s.db.Put(key, value)
	}

	for _, addr := range addrs {
		data, err := s.db.Get(historyKey(addr, height))
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				continue
			}
			return err
		}
		entry, err := decodeHistoryEntry(height, data)
		if err != nil {
			return err
		}

		current := s.getLocked(addr)
		entry.Delta.apply(current.Storage)
		s.data[addr] = current

		if err := put(contractKey(addr), encodeContractInfo(current)); err != nil {
			return fmt.Errorf("contractstate rollback write contract: %w", storage.ErrIoError)
		}
		if err := del(historyKey(addr, height)); err != nil {
			return fmt.Errorf("contractstate rollback delete history: %w", storage.ErrIoError)
		}
	}

	if hasBatcher {
		if err := batch.Commit(); err != nil {
			return fmt.Errorf("contractstate rollback commit: %w", storage.ErrIoError)
		}
	}
	return nil
}
