package blockindex

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math/bits"
	"sync"

	"github.com/Klingon-tech/klingnet-chain/internal/log"
	"github.com/Klingon-tech/klingnet-chain/internal/storage"
	"github.com/Klingon-tech/klingnet-chain/pkg/types"
)

// Entry is a loaded BlockRecord plus its interned identity and parent
// handle, the in-memory shape the rest of the node walks.
type Entry struct {
	Handle Handle
	Hash   types.Hash
	Prev   Handle
	Record *BlockRecord
}

// InterruptedFunc is polled between records during Load so a shutdown
// request can abort the startup scan (spec §5 suspension points).
type InterruptedFunc func() bool

// Store is the durable block-index catalog (BIS). It is not safe to
// mutate from multiple goroutines without going through its exported
// methods, which hold an internal lock around the in-memory index.
type Store struct {
	db storage.DB

	interner *Interner

	mu       sync.RWMutex
	byHandle map[Handle]*Entry
	lastFile int32
	loaded   bool
}

// NewStore wraps db as a block index.
func NewStore(db storage.DB) *Store {
	return &Store{
		db:       db,
		interner: NewInterner(),
		byHandle: make(map[Handle]*Entry),
	}
}

// TxLocation is where a transaction's containing block was recorded.
type TxLocation struct {
	Height    uint64
	BlockHash types.Hash
}

// Load reconstructs the in-memory index from every 'b'-prefixed record
// on disk (spec §4.4 read path). It interns each record's hash and
// previous-hash into handles, verifies the record's proof-of-work
// field, and aborts on the first corrupt or invalid record — no repair
// is attempted (spec §7). Iteration is interrupt-checked.
func (s *Store) Load(interrupted InterruptedFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	type loaded struct {
		hash types.Hash
		rec  *BlockRecord
	}
	var all []loaded

	err := s.db.ForEach([]byte{blockIndexPrefix}, func(key, value []byte) error {
		if interrupted != nil && interrupted() {
			return storage.ErrInterrupted
		}
		if len(key) != 1+types.HashSize {
			return nil
		}
		rec, err := decodeRecord(value)
		if err != nil {
			return fmt.Errorf("blockindex load %x: %w", key, storage.ErrCorrupt)
		}
		hash := rec.Header.Hash()
		if !checkProofOfWork(hash, rec.Header.Difficulty) {
			return fmt.Errorf("blockindex load %x: proof-of-work check failed: %w", key, storage.ErrCorrupt)
		}
		all = append(all, loaded{hash: hash, rec: rec})
		return nil
	})
	if errors.Is(err, storage.ErrInterrupted) {
		log.BlockIndex.Warn().Msg("block index load interrupted")
		return storage.ErrInterrupted
	}
	if err != nil {
		return err
	}

	for _, l := range all {
		handle := s.interner.Intern(l.hash)
		prev := s.interner.Intern(l.rec.Header.PrevHash)
		s.byHandle[handle] = &Entry{Handle: handle, Hash: l.hash, Prev: prev, Record: l.rec}
	}

	data, err := s.db.Get([]byte{lastBlockFileKey})
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return err
	}
	if err == nil {
		if len(data) != 4 {
			return storage.ErrCorrupt
		}
		s.lastFile = int32(binary.LittleEndian.Uint32(data))
	}

	s.loaded = true
	return nil
}

// checkProofOfWork is BIS's load-time sanity check that a record's
// stored difficulty field is consistent with its hash: the hash must
// carry at least difficulty leading zero bits. Difficulty 0 (PoA
// blocks, per pkg/block.Header) is exempt — PoA blocks carry no PoW
// target. Full consensus-level target verification is the validation
// layer's job (out of scope here); this only guards against a record
// whose stored fields were corrupted independently of its hash.
func checkProofOfWork(hash types.Hash, difficulty uint64) bool {
	if difficulty == 0 {
		return true
	}
	return uint64(leadingZeroBits(hash)) >= difficulty
}

func leadingZeroBits(h types.Hash) int {
	n := 0
	for _, b := range h {
		if b == 0 {
			n += 8
			continue
		}
		n += bits.LeadingZeros8(b)
		break
	}
	return n
}

// Entry returns the loaded entry for hash, if known.
func (s *Store) Entry(hash types.Hash) (*Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	handle, ok := s.interner.Lookup(hash)
	if !ok {
		return nil, false
	}
	e, ok := s.byHandle[handle]
	return e, ok
}

// Parent returns the entry for e's parent, if e has one and it is known.
func (s *Store) Parent(e *Entry) (*Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.byHandle[e.Prev]
	return p, ok
}

// HasBlock reports whether hash is catalogued.
func (s *Store) HasBlock(hash types.Hash) (bool, error) {
	return s.db.Has(blockKey(hash))
}

// LastFile returns the current last-block-file number.
func (s *Store) LastFile() int32 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastFile
}

// GetFileInfo reads one BlockFileInfo record.
func (s *Store) GetFileInfo(fileNum int32) (*BlockFileInfo, error) {
	data, err := s.db.Get(fileInfoKey(fileNum))
	if err != nil {
		return nil, err
	}
	return decodeFileInfo(data)
}

// BatchWrite is BIS's write path (spec §4.4): given a set of changed
// file-info records, the new last-block-file number, and a set of
// changed block records, write all of them in one synchronous batch.
func (s *Store) BatchWrite(fileInfos map[int32]*BlockFileInfo, lastFile int32, records map[types.Hash]*BlockRecord) error {
	batch, err := s.newSyncBatch()
	if err != nil {
		return err
	}

	for num, fi := range fileInfos {
		if err := batch.Put(fileInfoKey(num), encodeFileInfo(fi)); err != nil {
			return fmt.Errorf("blockindex write file-info: %w", storage.ErrIoError)
		}
	}

	var lastFileBuf [4]byte
	binary.LittleEndian.PutUint32(lastFileBuf[:], uint32(lastFile))
	if err := batch.Put([]byte{lastBlockFileKey}, lastFileBuf[:]); err != nil {
		return fmt.Errorf("blockindex write last-file: %w", storage.ErrIoError)
	}

	for hash, rec := range records {
		if err := batch.Put(blockKey(hash), encodeRecord(rec)); err != nil {
			return fmt.Errorf("blockindex write record: %w", storage.ErrIoError)
		}
	}

	if err := batch.Commit(); err != nil {
		return fmt.Errorf("blockindex commit: %w", storage.ErrIoError)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastFile = lastFile
	for hash, rec := range records {
		handle := s.interner.Intern(hash)
		prev := s.interner.Intern(rec.Header.PrevHash)
		s.byHandle[handle] = &Entry{Handle: handle, Hash: hash, Prev: prev, Record: rec}
	}
	return nil
}

func (s *Store) newSyncBatch() (storage.Batch, error) {
	if syncer, ok := s.db.(storage.Syncer); ok {
		return syncer.NewSyncBatch(), nil
	}
	if batcher, ok := s.db.(storage.Batcher); ok {
		return batcher.NewBatch(), nil
	}
	return nil, fmt.Errorf("blockindex: backend does not support batched writes: %w", storage.ErrInvariant)
}

func txKey(txid types.Hash) []byte {
	key := make([]byte, 1+types.HashSize)
	key[0] = txIndexPrefix
	copy(key[1:], txid[:])
	return key
}

func encodeTxLocation(loc TxLocation) []byte {
	buf := make([]byte, 8+types.HashSize)
	binary.LittleEndian.PutUint64(buf[:8], loc.Height)
	copy(buf[8:], loc.BlockHash[:])
	return buf
}

func decodeTxLocation(data []byte) (TxLocation, error) {
	if len(data) != 8+types.HashSize {
		return TxLocation{}, storage.ErrCorrupt
	}
	var loc TxLocation
	loc.Height = binary.LittleEndian.Uint64(data[:8])
	copy(loc.BlockHash[:], data[8:])
	return loc, nil
}

// PutTxIndexEntries is the bulk tx-index write API (spec §4.4: "written
// by a separate bulk API so indexers can be disabled without changing
// the main path"). It is not folded into BatchWrite so a node running
// with txindex disabled skips this call entirely.
func (s *Store) PutTxIndexEntries(entries map[types.Hash]TxLocation) error {
	if len(entries) == 0 {
		return nil
	}
	batcher, ok := s.db.(storage.Batcher)
	if !ok {
		for txid, loc := range entries {
			if err := s.db.Put(txKey(txid), encodeTxLocation(loc)); err != nil {
				return err
			}
		}
		return nil
	}
	batch := batcher.NewBatch()
	for txid, loc := range entries {
		if err := batch.Put(txKey(txid), encodeTxLocation(loc)); err != nil {
			return fmt.Errorf("blockindex write tx-index: %w", storage.ErrIoError)
		}
	}
	if err := batch.Commit(); err != nil {
		return fmt.Errorf("blockindex commit tx-index: %w", storage.ErrIoError)
	}
	return nil
}

// GetTxLocation returns where txid's containing block was recorded.
func (s *Store) GetTxLocation(txid types.Hash) (TxLocation, error) {
	data, err := s.db.Get(txKey(txid))
	if err != nil {
		return TxLocation{}, err
	}
	return decodeTxLocation(data)
}

// DeleteTxIndex removes one tx-index entry.
func (s *Store) DeleteTxIndex(txid types.Hash) error {
	return s.db.Delete(txKey(txid))
}
