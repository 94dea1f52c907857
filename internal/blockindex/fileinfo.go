package blockindex

import (
	"encoding/binary"

	"github.com/Klingon-tech/klingnet-chain/internal/storage"
)

// BlockFileInfo tracks the contents of one blkNNNNN.dat/revNNNNN.dat
// pair. The files themselves are opaque to BIS (spec §6): only their
// aggregate bookkeeping is modeled here, in the teacher's fixed-size
// binary-record style (internal/subchain/anchor.go).
type BlockFileInfo struct {
	BlockCount  uint32
	Size        uint64
	HeightFirst uint64
	HeightLast  uint64
	TimeFirst   uint64
	TimeLast    uint64
}

// fileInfoSize is the fixed encoded length: count(4) + size(8) +
// height range(8+8) + time range(8+8).
const fileInfoSize = 4 + 8 + 8 + 8 + 8 + 8

func encodeFileInfo(fi *BlockFileInfo) []byte {
	buf := make([]byte, 0, fileInfoSize)
	buf = binary.LittleEndian.AppendUint32(buf, fi.BlockCount)
	buf = binary.LittleEndian.AppendUint64(buf, fi.Size)
	buf = binary.LittleEndian.AppendUint64(buf, fi.HeightFirst)
	buf = binary.LittleEndian.AppendUint64(buf, fi.HeightLast)
	buf = binary.LittleEndian.AppendUint64(buf, fi.TimeFirst)
	buf = binary.LittleEndian.AppendUint64(buf, fi.TimeLast)
	return buf
}

func decodeFileInfo(data []byte) (*BlockFileInfo, error) {
	if len(data) != fileInfoSize {
		return nil, storage.ErrCorrupt
	}
	return &BlockFileInfo{
		BlockCount:  binary.LittleEndian.Uint32(data[0:4]),
		Size:        binary.LittleEndian.Uint64(data[4:12]),
		HeightFirst: binary.LittleEndian.Uint64(data[12:20]),
		HeightLast:  binary.LittleEndian.Uint64(data[20:28]),
		TimeFirst:   binary.LittleEndian.Uint64(data[28:36]),
		TimeLast:    binary.LittleEndian.Uint64(data[36:44]),
	}, nil
}

// fileInfoKey builds the storage key for a file number: byte 'f' ‖
// i32 little-endian file number, bit-exact per spec §6.
func fileInfoKey(fileNum int32) []byte {
	key := make([]byte, 5)
	key[0] = fileInfoPrefix
	binary.LittleEndian.PutUint32(key[1:], uint32(fileNum))
	return key
}
