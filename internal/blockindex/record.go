// Package blockindex is the durable catalog of every known block header
// plus its on-disk placement and status flags (spec §4.4). It ingests
// fully-formed block headers from the validation layer; it never builds
// or validates a chain on its own.
package blockindex

import (
	"encoding/binary"

	"github.com/Klingon-tech/klingnet-chain/internal/storage"
	"github.com/Klingon-tech/klingnet-chain/pkg/block"
	"github.com/Klingon-tech/klingnet-chain/pkg/types"
)

const (
	blockIndexPrefix   = 'b'
	fileInfoPrefix     = 'f'
	txIndexPrefix      = 't'
	flagPrefix         = 'F'
	reindexFlagKey     = 'R'
	lastBlockFileKey   = 'l'
)

// Status bits for BlockRecord.Status.
const (
	StatusHaveData = 1 << iota
	StatusHaveUndo
	StatusValidated
	StatusInMainChain
	StatusFailed
)

// BlockRecord is one catalogued block: its header plus where its body
// and undo data live on disk, and its validation/chain-membership
// status. It is mutable after creation — status bits and positions are
// updated as the block moves through validation and file rotation.
type BlockRecord struct {
	Header block.Header

	DataFile int32
	DataPos  uint32
	UndoFile int32
	UndoPos  uint32

	Status  uint32
	TxCount uint32
}

func blockKey(hash types.Hash) []byte {
	key := make([]byte, 1+types.HashSize)
	key[0] = blockIndexPrefix
	copy(key[1:], hash[:])
	return key
}

// recordSize is the fixed encoded length of a BlockRecord: header
// SigningBytes (version 4 + prev_hash 32 + merkle_root 32 + timestamp 8
// + height 8 + difficulty 8 + nonce 8 = 100) plus placement and status
// fields (4*4 + 4 + 4 = 24).
const recordSize = 100 + 24

func encodeRecord(r *BlockRecord) []byte {
	buf := make([]byte, 0, recordSize)
	buf = append(buf, r.Header.SigningBytes()...)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(r.DataFile))
	buf = binary.LittleEndian.AppendUint32(buf, r.DataPos)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(r.UndoFile))
	buf = binary.LittleEndian.AppendUint32(buf, r.UndoPos)
	buf = binary.LittleEndian.AppendUint32(buf, r.Status)
	buf = binary.LittleEndian.AppendUint32(buf, r.TxCount)
	return buf
}

func decodeRecord(data []byte) (*BlockRecord, error) {
	if len(data) != recordSize {
		return nil, storage.ErrCorrupt
	}
	h := block.Header{
		Version:    binary.LittleEndian.Uint32(data[0:4]),
		Timestamp:  binary.LittleEndian.Uint64(data[68:76]),
		Height:     binary.LittleEndian.Uint64(data[76:84]),
		Difficulty: binary.LittleEndian.Uint64(data[84:92]),
		Nonce:      binary.LittleEndian.Uint64(data[92:100]),
	}
	copy(h.PrevHash[:], data[4:36])
	copy(h.MerkleRoot[:], data[36:68])

	rest := data[100:]
	r := &BlockRecord{
		Header:   h,
		DataFile: int32(binary.LittleEndian.Uint32(rest[0:4])),
		DataPos:  binary.LittleEndian.Uint32(rest[4:8]),
		UndoFile: int32(binary.LittleEndian.Uint32(rest[8:12])),
		UndoPos:  binary.LittleEndian.Uint32(rest[12:16]),
		Status:   binary.LittleEndian.Uint32(rest[16:20]),
		TxCount:  binary.LittleEndian.Uint32(rest[20:24]),
	}
	return r, nil
}
