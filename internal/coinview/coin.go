// Package coinview implements the layered UTXO cache described in the
// chainstate design: a durable KVB-backed bottom layer, one or more
// in-memory caches with dirty/fresh tracking, and transient per-block
// views used during validation.
package coinview

import (
	"encoding/binary"

	"github.com/Klingon-tech/klingnet-chain/internal/storage"
	"github.com/Klingon-tech/klingnet-chain/pkg/types"
)

// Coin is a currently- or formerly-live transaction output.
type Coin struct {
	Amount   uint64
	Script   types.Script
	Height   uint64
	Coinbase bool
	Spent    bool
}

// CacheFlags tracks a CacheEntry's relationship to the layers below it.
type CacheFlags uint8

const (
	// FlagDirty means a write is owed to the parent view.
	FlagDirty CacheFlags = 1 << iota
	// FlagFresh means the entry is known absent from every lower view,
	// so a spend can erase it outright instead of writing a tombstone.
	FlagFresh
)

// CacheEntry is a Coin plus its cache bookkeeping. Lives only in memory.
type CacheEntry struct {
	Coin  Coin
	Flags CacheFlags
}

func (e *CacheEntry) dirty() bool { return e.Flags&FlagDirty != 0 }
func (e *CacheEntry) fresh() bool { return e.Flags&FlagFresh != 0 }

// coinKeyPrefix is the KVB namespace byte for coin records (spec §6: 'C').
const coinKeyPrefix = 'C'

// legacyKeyPrefix is the namespace byte for the upgraded-from per-tx
// packed coin format ('c', lowercase, predates per-output records).
const legacyKeyPrefix = 'c'

const (
	bestBlockPrefix = 'B'
	headBlocksPrefix = 'H'
)

// coinKey builds the storage key for an outpoint: 'C' || txid(32) || varint(index).
func coinKey(op types.Outpoint) []byte {
	buf := make([]byte, 1+types.HashSize+binary.MaxVarintLen64)
	buf[0] = coinKeyPrefix
	copy(buf[1:], op.TxID[:])
	n := binary.PutUvarint(buf[1+types.HashSize:], uint64(op.Index))
	return buf[:1+types.HashSize+n]
}

// decodeCoinKey parses a coin key back into an outpoint.
func decodeCoinKey(key []byte) (types.Outpoint, bool) {
	if len(key) < 1+types.HashSize+1 || key[0] != coinKeyPrefix {
		return types.Outpoint{}, false
	}
	var op types.Outpoint
	copy(op.TxID[:], key[1:1+types.HashSize])
	idx, n := binary.Uvarint(key[1+types.HashSize:])
	if n <= 0 {
		return types.Outpoint{}, false
	}
	op.Index = uint32(idx)
	return op, true
}

// encodeCoin serializes a Coin for storage. Spent coins are never
// written — a spend erases the key instead.
func encodeCoin(c Coin) []byte {
	scriptLen := len(c.Script.Data)
	buf := make([]byte, 0, 8+1+binary.MaxVarintLen64+2+scriptLen)
	var amount [8]byte
	binary.LittleEndian.PutUint64(amount[:], c.Amount)
	buf = append(buf, amount[:]...)
	buf = binary.AppendUvarint(buf, c.Height)
	buf = append(buf, c.Script.Type)
	var slen [2]byte
	binary.LittleEndian.PutUint16(slen[:], uint16(scriptLen))
	buf = append(buf, slen[:]...)
	buf = append(buf, c.Script.Data...)
	if c.Coinbase {
		buf = append(buf, 1)
	} else {
		buf = append(buf, 0)
	}
	return buf
}

func decodeCoin(data []byte) (Coin, error) {
	if len(data) < 8+1 {
		return Coin{}, storage.ErrCorrupt
	}
	var c Coin
	c.Amount = binary.LittleEndian.Uint64(data[:8])
	rest := data[8:]
	height, n := binary.Uvarint(rest)
	if n <= 0 {
		return Coin{}, storage.ErrCorrupt
	}
	c.Height = height
	rest = rest[n:]
	if len(rest) < 1+2 {
		return Coin{}, storage.ErrCorrupt
	}
	c.Script.Type = types.ScriptType(rest[0])
	scriptLen := int(binary.LittleEndian.Uint16(rest[1:3]))
	rest = rest[3:]
	if len(rest) < scriptLen+1 {
		return Coin{}, storage.ErrCorrupt
	}
	c.Script.Data = append([]byte(nil), rest[:scriptLen]...)
	c.Coinbase = rest[scriptLen] == 1
	return c, nil
}
