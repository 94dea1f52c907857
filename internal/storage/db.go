// Package storage provides database abstractions: the key-value backend
// (KVB) that the coin view, address index, block index, and contract
// state store are all built on top of.
package storage

// DB is the interface for key-value storage.
type DB interface {
	Get(key []byte) ([]byte, error)
	Put(key, value []byte) error
	Delete(key []byte) error
	Has(key []byte) (bool, error)
	// ForEach iterates over all keys with the given prefix.
	// The callback receives a copy of the key and value.
	// Return a non-nil error from fn to stop iteration early.
	ForEach(prefix []byte, fn func(key, value []byte) error) error
	Close() error
}

// Batcher is implemented by stores that can build an atomically-applied
// write batch. A batch accumulates Put/Delete operations and applies them
// as a single unit on Commit — either all of them land, or (on a crash
// before Commit returns) none of them do.
type Batcher interface {
	NewBatch() Batch
}

// Batch accumulates writes and deletes for atomic application.
type Batch interface {
	Put(key, value []byte) error
	Delete(key []byte) error
	// Len returns the number of bytes buffered so far, for size-based
	// batch splitting (spec: dbbatchsize).
	Len() int
	Commit() error
}

// Syncer is implemented by stores whose batches can be forced to fsync
// before Commit returns, for the durability ordering spec.md §5 requires
// of the head-blocks transitional marker write.
type Syncer interface {
	NewSyncBatch() Batch
}

// RangeCompactor is implemented by stores that support manual compaction
// of a key range, freeing space left behind by tombstones.
type RangeCompactor interface {
	CompactRange(begin, end []byte) error
}

// SizeEstimator is implemented by stores that can estimate the on-disk
// size of a key range without a full scan.
type SizeEstimator interface {
	EstimateSize(begin, end []byte) (uint64, error)
}

// Iterator is a forward-only, single-threaded cursor over a DB's keys in
// ascending order. It reflects a snapshot taken at creation time — later
// mutations to the underlying DB are not visible to an iterator already
// in flight, matching the KVB cursor contract in spec.md §4.2.
type Iterator interface {
	// Seek positions the iterator at the first key >= target.
	Seek(target []byte)
	// Valid reports whether the iterator is positioned at a valid entry.
	Valid() bool
	// Next advances the iterator.
	Next()
	Key() []byte
	Value() []byte
	// Close releases the iterator's resources (and underlying snapshot).
	Close() error
}

// Iterable is implemented by stores that can produce a forward iterator.
type Iterable interface {
	NewIterator() Iterator
}
