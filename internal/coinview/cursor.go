package coinview

import (
	"github.com/Klingon-tech/klingnet-chain/internal/storage"
	"github.com/Klingon-tech/klingnet-chain/pkg/types"
)

// Cursor iterates every live coin in key order. It reflects a snapshot
// as of creation time (provided by the underlying KVB iterator) and
// holds no lock against CV, per spec §4.2.
type Cursor struct {
	it storage.Iterator
}

// NewCursor opens a cursor over the durable layer's coin keyspace.
func NewCursor(db storage.DB) (*Cursor, error) {
	iterable, ok := db.(storage.Iterable)
	if !ok {
		return nil, storage.ErrInvariant
	}
	it := iterable.NewIterator()
	it.Seek([]byte{coinKeyPrefix})
	return &Cursor{it: it}, nil
}

// Valid reports whether the cursor is positioned at a coin record.
func (c *Cursor) Valid() bool {
	if !c.it.Valid() {
		return false
	}
	k := c.it.Key()
	return len(k) > 0 && k[0] == coinKeyPrefix
}

// Next advances the cursor.
func (c *Cursor) Next() { c.it.Next() }

// Outpoint returns the outpoint at the current position.
func (c *Cursor) Outpoint() (types.Outpoint, bool) {
	return decodeCoinKey(c.it.Key())
}

// Coin decodes the coin record at the current position.
func (c *Cursor) Coin() (Coin, error) {
	return decodeCoin(c.it.Value())
}

// Close releases the cursor's underlying snapshot.
func (c *Cursor) Close() error { return c.it.Close() }
