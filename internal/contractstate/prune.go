package contractstate

import (
	"errors"
	"fmt"

	"github.com/Klingon-tech/klingnet-chain/internal/log"
	"github.com/Klingon-tech/klingnet-chain/internal/storage"
	"github.com/Klingon-tech/klingnet-chain/pkg/types"
)

const pruneMarkerKey = 'p'

// InterruptedFunc is polled between contracts during a prune sweep
// (spec §5: every long scan is interruption-checked).
type InterruptedFunc func() bool

// Prune coalesces every contract's history entries at or below horizon:
// the oldest surviving entry (the smallest height above horizon, if
// any) absorbs the net effect of the collapsed entries below it, so a
// future rollback to any retained height still has everything it
// needs, then the collapsed entries themselves are deleted (spec
// §4.5 Pruning). The sweep is resumable: a durable marker records the
// last contract address fully processed, so an interrupted sweep picks
// up where it left off rather than restarting.
func (s *Store) Prune(horizon uint64, interrupted InterruptedFunc) error {
	resumeAfter, hasMarker, err := s.readPruneMarker()
	if err != nil {
		return err
	}

	var addrs []types.Address
	err = s.db.ForEach([]byte{contractInfoPrefix}, func(key, _ []byte) error {
		if len(key) != 1+types.AddressSize {
			return nil
		}
		var addr types.Address
		copy(addr[:], key[1:])
		if hasMarker && !addrGreater(addr, resumeAfter) {
			return nil
		}
		addrs = append(addrs, addr)
		return nil
	})
	if err != nil {
		return err
	}

	for _, addr := range addrs {
		if interrupted != nil && interrupted() {
			log.ContractState.Warn().Msg("contract pruning interrupted")
			return storage.ErrInterrupted
		}
		if err := s.pruneContract(addr, horizon); err != nil {
			return err
		}
		if err := s.writePruneMarker(addr); err != nil {
			return err
		}
	}

	return s.clearPruneMarker()
}

func (s *Store) pruneContract(addr types.Address, horizon uint64) error {
	entries, err := s.History(addr)
	if err != nil {
		return err
	}

	var collapsed []HistoryEntry
	var boundary *HistoryEntry
	for i := range entries {
		e := entries[i]
		if e.Height <= horizon {
			collapsed = append(collapsed, e)
			continue
		}
		if boundary == nil {
			boundary = &entries[i]
		}
	}
	if len(collapsed) == 0 {
		return nil
	}

	// Fold collapsed entries ascending by height so the earliest
	// delta wins on key conflicts (it reflects the furthest-back
	// state); each later entry only fills keys the earlier ones
	// didn't touch.
	combined := collapsed[0].Delta
	for _, e := range collapsed[1:] {
		combined = mergeDeltas(e.Delta, combined)
	}

	batcher, hasBatcher := s.db.(storage.Batcher)
	var batch storage.Batch
	if hasBatcher {
		batch = batcher.NewBatch()
	}
	put := func(key, value []byte) error {
		if hasBatcher {
			return batch.Put(key, value)
		}
		return s.db.Put(key, value)
	}
	del := func(key []byte) error {
		if hasBatcher {
			return batch.Delete(key)
		}
		return s.db.Delete(key)
	}

	if boundary != nil {
		merged := mergeDeltas(combined, boundary.Delta)
		boundary.Delta = merged
		if err := put(historyKey(addr, boundary.Height), encodeHistoryEntry(*boundary)); err != nil {
			return fmt.Errorf("contractstate prune write boundary: %w", storage.ErrIoError)
		}
	}
	for _, e := range collapsed {
		if err := del(historyKey(addr, e.Height)); err != nil {
			return fmt.Errorf("contractstate prune delete entry: %w", storage.ErrIoError)
		}
	}

	if hasBatcher {
		if err := batch.Commit(); err != nil {
			return fmt.Errorf("contractstate prune commit: %w", storage.ErrIoError)
		}
	}
	return nil
}

func (s *Store) readPruneMarker() (types.Address, bool, error) {
	data, err := s.db.Get([]byte{pruneMarkerKey})
	if errors.Is(err, storage.ErrNotFound) {
		return types.Address{}, false, nil
	}
	if err != nil {
		return types.Address{}, false, err
	}
	if len(data) != types.AddressSize {
		return types.Address{}, false, storage.ErrCorrupt
	}
	var addr types.Address
	copy(addr[:], data)
	return addr, true, nil
}

func (s *Store) writePruneMarker(addr types.Address) error {
	return s.db.Put([]byte{pruneMarkerKey}, addr[:])
}

func (s *Store) clearPruneMarker() error {
	return s.db.Delete([]byte{pruneMarkerKey})
}

func addrGreater(a, b types.Address) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] > b[i]
		}
	}
	return false
}
