package contractstate

import (
	"encoding/binary"

	"github.com/Klingon-tech/klingnet-chain/internal/storage"
	"github.com/Klingon-tech/klingnet-chain/pkg/types"
)

const historyPrefix = 'h'

// HistoryEntry is one (contract, height) record: the block that
// touched the contract at that height, plus the reverse delta needed
// to undo it (spec I4, Data Model "ContractHeightEntry").
type HistoryEntry struct {
	Height    uint64
	BlockHash types.Hash
	Delta     Delta
}

func historyKey(addr types.Address, height uint64) []byte {
	key := make([]byte, 1+types.AddressSize+8)
	key[0] = historyPrefix
	copy(key[1:], addr[:])
	binary.BigEndian.PutUint64(key[1+types.AddressSize:], height)
	return key
}

func historyPrefixFor(addr types.Address) []byte {
	key := make([]byte, 1+types.AddressSize)
	key[0] = historyPrefix
	copy(key[1:], addr[:])
	return key
}

func decodeHistoryKeyHeight(key []byte) (uint64, bool) {
	off := 1 + types.AddressSize
	if len(key) != off+8 {
		return 0, false
	}
	return binary.BigEndian.Uint64(key[off:]), true
}

func encodeHistoryEntry(e HistoryEntry) []byte {
	buf := make([]byte, 0, types.HashSize+16)
	buf = append(buf, e.BlockHash[:]...)
	buf = append(buf, encodeDelta(e.Delta)...)
	return buf
}

func decodeHistoryEntry(height uint64, data []byte) (HistoryEntry, error) {
	if len(data) < types.HashSize {
		return HistoryEntry{}, storage.ErrCorrupt
	}
	var blockHash types.Hash
	copy(blockHash[:], data[:types.HashSize])
	delta, err := decodeDelta(data[types.HashSize:])
	if err != nil {
		return HistoryEntry{}, err
	}
	return HistoryEntry{Height: height, BlockHash: blockHash, Delta: delta}, nil
}
