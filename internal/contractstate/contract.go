// Package contractstate is the per-contract storage tracker (CSS):
// current storage state (Data), per-height reverse deltas for reorg
// rollback, a per-transaction execution Cache with commit-or-discard,
// and a pruning sweep bounded by a finality horizon (spec §4.5).
package contractstate

import (
	"encoding/binary"

	"github.com/Klingon-tech/klingnet-chain/internal/storage"
	"github.com/Klingon-tech/klingnet-chain/pkg/types"
)

// ContractInfo is a contract's code plus its current key→value storage
// map. It generalizes the teacher's subchain.SubChain metadata record
// (internal/subchain/registry.go) from sub-chain identity to a program
// plus a mutable storage map.
type ContractInfo struct {
	Address types.Address
	Code    []byte
	Storage map[string][]byte
}

func cloneContract(c *ContractInfo) *ContractInfo {
	storage := make(map[string][]byte, len(c.Storage))
	for k, v := range c.Storage {
		storage[k] = append([]byte(nil), v...)
	}
	return &ContractInfo{
		Address: c.Address,
		Code:    append([]byte(nil), c.Code...),
		Storage: storage,
	}
}

const contractInfoPrefix = 'c'

func contractKey(addr types.Address) []byte {
	key := make([]byte, 1+types.AddressSize)
	key[0] = contractInfoPrefix
	copy(key[1:], addr[:])
	return key
}

// encodeContractInfo lays out: code length(varint) + code + entry
// count(varint) + for each entry: key length(varint) + key + value
// length(varint) + value.
func encodeContractInfo(c *ContractInfo) []byte {
	buf := binary.AppendUvarint(nil, uint64(len(c.Code)))
	buf = append(buf, c.Code...)
	buf = binary.AppendUvarint(buf, uint64(len(c.Storage)))
	for k, v := range c.Storage {
		buf = binary.AppendUvarint(buf, uint64(len(k)))
		buf = append(buf, k...)
		buf = binary.AppendUvarint(buf, uint64(len(v)))
		buf = append(buf, v...)
	}
	return buf
}

func decodeContractInfo(addr types.Address, data []byte) (*ContractInfo, error) {
	codeLen, n := binary.Uvarint(data)
	if n <= 0 {
		return nil, storage.ErrCorrupt
	}
	data = data[n:]
	if uint64(len(data)) < codeLen {
		return nil, storage.ErrCorrupt
	}
	code := append([]byte(nil), data[:codeLen]...)
	data = data[codeLen:]

	count, n := binary.Uvarint(data)
	if n <= 0 {
		return nil, storage.ErrCorrupt
	}
	data = data[n:]

	m := make(map[string][]byte, count)
	for i := uint64(0); i < count; i++ {
		klen, n := binary.Uvarint(data)
		if n <= 0 {
			return nil, storage.ErrCorrupt
		}
		data = data[n:]
		if uint64(len(data)) < klen {
			return nil, storage.ErrCorrupt
		}
		key := string(data[:klen])
		data = data[klen:]

		vlen, n := binary.Uvarint(data)
		if n <= 0 {
			return nil, storage.ErrCorrupt
		}
		data = data[n:]
		if uint64(len(data)) < vlen {
			return nil, storage.ErrCorrupt
		}
		m[key] = append([]byte(nil), data[:vlen]...)
		data = data[vlen:]
	}
	return &ContractInfo{Address: addr, Code: code, Storage: m}, nil
}
