package storage

import (
	"errors"
	"fmt"
	"strings"

	"github.com/dgraph-io/badger/v4"
)

// BadgerDB implements DB using Badger — the durable KVB backend per
// spec.md §4.1.
type BadgerDB struct {
	db *badger.DB
}

// NewBadger creates a new Badger database at the given path.
func NewBadger(path string) (*BadgerDB, error) {
	opts := badger.DefaultOptions(path)
	opts.Logger = nil // Disable badger's built-in logging.

	db, err := badger.Open(opts)
	if err != nil {
		errMsg := err.Error()
		if strings.Contains(errMsg, "Cannot acquire directory lock") ||
			strings.Contains(errMsg, "resource temporarily unavailable") {
			return nil, fmt.Errorf("database at %s is locked by another process (is another klingnetd instance running?): %w", path, err)
		}
		return nil, fmt.Errorf("open database at %s: %w", path, err)
	}
	return &BadgerDB{db: db}, nil
}

// Get retrieves a value by key. Returns ErrNotFound if the key does not exist.
func (b *BadgerDB) Get(key []byte) ([]byte, error) {
	var val []byte
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		val, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("badger get: %w", ErrIoError)
	}
	return val, nil
}

// Put stores a key-value pair.
func (b *BadgerDB) Put(key, value []byte) error {
	err := b.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, value)
	})
	if err != nil {
		return fmt.Errorf("badger put: %w", ErrIoError)
	}
	return nil
}

// Delete removes a key.
func (b *BadgerDB) Delete(key []byte) error {
	err := b.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(key)
	})
	if err != nil {
		return fmt.Errorf("badger delete: %w", ErrIoError)
	}
	return nil
}

// Has checks if a key exists.
func (b *BadgerDB) Has(key []byte) (bool, error) {
	var exists bool
	err := b.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(key)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		exists = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("badger has: %w", ErrIoError)
	}
	return exists, nil
}

// ForEach iterates over all keys with the given prefix.
func (b *BadgerDB) ForEach(prefix []byte, fn func(key, value []byte) error) error {
	return b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			key := item.KeyCopy(nil)
			err := item.Value(func(val []byte) error {
				return fn(key, val)
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
}

// Close closes the database.
func (b *BadgerDB) Close() error {
	return b.db.Close()
}

// EstimateSize returns badger's LSM plus value-log size — a coarse
// estimate, not a byte walk, matching spec.md's "estimate, not account"
// note for the KVB. begin/end are ignored: the figure covers the whole
// database, not the requested key range.
func (b *BadgerDB) EstimateSize(begin, end []byte) (uint64, error) {
	lsm, vlog := b.db.Size()
	if lsm < 0 {
		lsm = 0
	}
	if vlog < 0 {
		vlog = 0
	}
	return uint64(lsm + vlog), nil
}

// CompactRange triggers a value-log GC pass and flattens the LSM tree.
// begin/end are accepted for interface parity with other backends;
// badger's compaction is whole-database, not range-scoped.
func (b *BadgerDB) CompactRange(begin, end []byte) error {
	if err := b.db.Flatten(1); err != nil {
		return fmt.Errorf("badger compact: %w", ErrIoError)
	}
	err := b.db.RunValueLogGC(0.5)
	if err != nil && !errors.Is(err, badger.ErrNoRewrite) {
		return fmt.Errorf("badger value log gc: %w", ErrIoError)
	}
	return nil
}

// NewBatch returns a batch backed by badger's WriteBatch, applied
// atomically on Commit.
func (b *BadgerDB) NewBatch() Batch {
	return &badgerBatch{db: b.db, wb: b.db.NewWriteBatch()}
}

// NewSyncBatch returns a batch whose Commit blocks until the write has
// been fsynced to the value log and WAL, for the head-blocks
// transitional marker write spec.md §5 requires to be durable before
// the new-tip write proceeds.
func (b *BadgerDB) NewSyncBatch() Batch {
	return &badgerBatch{db: b.db, wb: b.db.NewWriteBatch(), sync: true}
}

type badgerBatch struct {
	db   *badger.DB
	wb   *badger.WriteBatch
	sz   int
	sync bool
}

func (bb *badgerBatch) Put(key, value []byte) error {
	if err := bb.wb.Set(key, value); err != nil {
		return fmt.Errorf("badger batch put: %w", ErrIoError)
	}
	bb.sz += len(key) + len(value)
	return nil
}

func (bb *badgerBatch) Delete(key []byte) error {
	if err := bb.wb.Delete(key); err != nil {
		return fmt.Errorf("badger batch delete: %w", ErrIoError)
	}
	bb.sz += len(key)
	return nil
}

func (bb *badgerBatch) Len() int {
	return bb.sz
}

func (bb *badgerBatch) Commit() error {
	if err := bb.wb.Flush(); err != nil {
		return fmt.Errorf("badger batch commit: %w", ErrIoError)
	}
	if bb.sync {
		if err := bb.db.Sync(); err != nil {
			return fmt.Errorf("badger batch sync: %w", ErrIoError)
		}
	}
	return nil
}

// NewIterator returns a forward iterator over a consistent Badger
// snapshot (the transaction outlives the call and is released on
// Close).
func (b *BadgerDB) NewIterator() Iterator {
	txn := b.db.NewTransaction(false)
	it := txn.NewIterator(badger.DefaultIteratorOptions)
	return &badgerIterator{txn: txn, it: it}
}

type badgerIterator struct {
	txn *badger.Txn
	it  *badger.Iterator
}

func (bi *badgerIterator) Seek(target []byte) {
	bi.it.Seek(target)
}

func (bi *badgerIterator) Valid() bool {
	return bi.it.Valid()
}

func (bi *badgerIterator) Next() {
	bi.it.Next()
}

func (bi *badgerIterator) Key() []byte {
	return bi.it.Item().KeyCopy(nil)
}

func (bi *badgerIterator) Value() []byte {
	v, err := bi.it.Item().ValueCopy(nil)
	if err != nil {
		return nil
	}
	return v
}

func (bi *badgerIterator) Close() error {
	bi.it.Close()
	bi.txn.Discard()
	return nil
}
