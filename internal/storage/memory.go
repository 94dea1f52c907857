package storage

import (
	"sort"
	"sync"
)

// MemoryDB implements DB using an in-memory map. Used by tests and by the
// teacher's test suite unchanged, and extended here with batch/iterator/
// size-estimate support so it exercises the same interface surface as
// BadgerDB.
type MemoryDB struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewMemory creates a new in-memory database.
func NewMemory() *MemoryDB {
	return &MemoryDB{
		data: make(map[string][]byte),
	}
}

// Get retrieves a value by key.
func (m *MemoryDB) Get(key []byte) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[string(key)]
	if !ok {
		return nil, ErrNotFound
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

// Put stores a key-value pair.
func (m *MemoryDB) Put(key, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	v := make([]byte, len(value))
	copy(v, value)
	m.data[string(key)] = v
	return nil
}

// Delete removes a key.
func (m *MemoryDB) Delete(key []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, string(key))
	return nil
}

// Has checks if a key exists.
func (m *MemoryDB) Has(key []byte) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.data[string(key)]
	return ok, nil
}

// ForEach iterates over all keys with the given prefix, in ascending
// key order (to match BadgerDB's iteration order for tests that depend
// on it).
func (m *MemoryDB) ForEach(prefix []byte, fn func(key, value []byte) error) error {
	m.mu.RLock()
	keys := m.sortedKeys(prefix)
	snapshot := make(map[string][]byte, len(keys))
	for _, k := range keys {
		snapshot[k] = m.data[k]
	}
	m.mu.RUnlock()

	for _, k := range keys {
		if err := fn([]byte(k), snapshot[k]); err != nil {
			return err
		}
	}
	return nil
}

func (m *MemoryDB) sortedKeys(prefix []byte) []string {
	p := string(prefix)
	keys := make([]string, 0, len(m.data))
	for k := range m.data {
		if len(p) == 0 || (len(k) >= len(p) && k[:len(p)] == p) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

// Close closes the database.
func (m *MemoryDB) Close() error {
	return nil
}

// EstimateSize returns the total byte size of keys and values in the
// given range (a plain walk — MemoryDB has no block-level statistics
// to approximate from).
func (m *MemoryDB) EstimateSize(begin, end []byte) (uint64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var total uint64
	for k, v := range m.data {
		if k >= string(begin) && (len(end) == 0 || k < string(end)) {
			total += uint64(len(k) + len(v))
		}
	}
	return total, nil
}

// CompactRange is a no-op for MemoryDB — there is no on-disk
// representation to compact.
func (m *MemoryDB) CompactRange(begin, end []byte) error {
	return nil
}

// NewBatch returns a batch that buffers operations and applies them to
// m atomically (from the caller's point of view: under a single lock)
// on Commit.
func (m *MemoryDB) NewBatch() Batch {
	return &memoryBatch{db: m}
}

type memoryOp struct {
	key   []byte
	value []byte // nil means delete
}

type memoryBatch struct {
	db  *MemoryDB
	ops []memoryOp
	sz  int
}

func (b *memoryBatch) Put(key, value []byte) error {
	k := append([]byte(nil), key...)
	v := append([]byte(nil), value...)
	b.ops = append(b.ops, memoryOp{key: k, value: v})
	b.sz += len(k) + len(v)
	return nil
}

func (b *memoryBatch) Delete(key []byte) error {
	k := append([]byte(nil), key...)
	b.ops = append(b.ops, memoryOp{key: k, value: nil})
	b.sz += len(k)
	return nil
}

func (b *memoryBatch) Len() int {
	return b.sz
}

func (b *memoryBatch) Commit() error {
	b.db.mu.Lock()
	defer b.db.mu.Unlock()
	for _, op := range b.ops {
		if op.value == nil {
			delete(b.db.data, string(op.key))
		} else {
			b.db.data[string(op.key)] = op.value
		}
	}
	b.ops = nil
	b.sz = 0
	return nil
}

// NewIterator returns a forward iterator over a sorted snapshot of the
// current contents, matching the KVB cursor contract (iteration does
// not observe later mutations).
func (m *MemoryDB) NewIterator() Iterator {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := m.sortedKeys(nil)
	entries := make([]memoryOp, len(keys))
	for i, k := range keys {
		entries[i] = memoryOp{key: []byte(k), value: m.data[k]}
	}
	return &memoryIterator{entries: entries, idx: -1}
}

type memoryIterator struct {
	entries []memoryOp
	idx     int
}

func (it *memoryIterator) Seek(target []byte) {
	t := string(target)
	it.idx = sort.Search(len(it.entries), func(i int) bool {
		return string(it.entries[i].key) >= t
	})
}

func (it *memoryIterator) Valid() bool {
	return it.idx >= 0 && it.idx < len(it.entries)
}

func (it *memoryIterator) Next() {
	it.idx++
}

func (it *memoryIterator) Key() []byte {
	return it.entries[it.idx].key
}

func (it *memoryIterator) Value() []byte {
	return it.entries[it.idx].value
}

func (it *memoryIterator) Close() error {
	it.entries = nil
	return nil
}
