package contractstate

import (
	"encoding/binary"

	"github.com/Klingon-tech/klingnet-chain/internal/storage"
)

// Delta is a reverse storage delta: for each key touched by a block,
// the value that key held immediately before the block, or Deleted if
// the key did not exist before. Applying a Delta to a contract's
// post-block storage reconstructs its pre-block storage (spec I4).
type Delta struct {
	Entries map[string]deltaValue
}

type deltaValue struct {
	present bool
	value   []byte
}

// Deleted is the sentinel reverse-delta value meaning "this key did
// not exist before the block that produced this delta."
var Deleted = deltaValue{present: false}

// computeDelta builds the reverse delta from before to after: the
// before-value of every key that after added, removed, or changed
// relative to before.
func computeDelta(before, after map[string][]byte) Delta {
	d := Delta{Entries: make(map[string]deltaValue)}
	for k, av := range after {
		bv, ok := before[k]
		if !ok {
			d.Entries[k] = Deleted
			continue
		}
		if string(bv) != string(av) {
			d.Entries[k] = deltaValue{present: true, value: append([]byte(nil), bv...)}
		}
	}
	for k, bv := range before {
		if _, ok := after[k]; !ok {
			d.Entries[k] = deltaValue{present: true, value: append([]byte(nil), bv...)}
		}
	}
	return d
}

// apply mutates storage in place, restoring each entry's pre-block
// value (or deleting the key if it didn't exist before).
func (d Delta) apply(storageMap map[string][]byte) {
	for k, v := range d.Entries {
		if !v.present {
			delete(storageMap, k)
			continue
		}
		storageMap[k] = v.value
	}
}

func (d Delta) isEmpty() bool {
	return len(d.Entries) == 0
}

// encodeDelta: count(varint) + for each: keylen(varint)+key +
// present(1 byte) + [vallen(varint)+val if present].
func encodeDelta(d Delta) []byte {
	buf := binary.AppendUvarint(nil, uint64(len(d.Entries)))
	for k, v := range d.Entries {
		buf = binary.AppendUvarint(buf, uint64(len(k)))
		buf = append(buf, k...)
		if !v.present {
			buf = append(buf, 0)
			continue
		}
		buf = append(buf, 1)
		buf = binary.AppendUvarint(buf, uint64(len(v.value)))
		buf = append(buf, v.value...)
	}
	return buf
}

func decodeDelta(data []byte) (Delta, error) {
	count, n := binary.Uvarint(data)
	if n <= 0 {
		return Delta{}, storage.ErrCorrupt
	}
	data = data[n:]

	entries := make(map[string]deltaValue, count)
	for i := uint64(0); i < count; i++ {
		klen, n := binary.Uvarint(data)
		if n <= 0 {
			return Delta{}, storage.ErrCorrupt
		}
		data = data[n:]
		if uint64(len(data)) < klen {
			return Delta{}, storage.ErrCorrupt
		}
		key := string(data[:klen])
		data = data[klen:]

		if len(data) < 1 {
			return Delta{}, storage.ErrCorrupt
		}
		present := data[0] == 1
		data = data[1:]
		if !present {
			entries[key] = Deleted
			continue
		}
		vlen, n := binary.Uvarint(data)
		if n <= 0 {
			return Delta{}, storage.ErrCorrupt
		}
		data = data[n:]
		if uint64(len(data)) < vlen {
			return Delta{}, storage.ErrCorrupt
		}
		entries[key] = deltaValue{present: true, value: append([]byte(nil), data[:vlen]...)}
		data = data[vlen:]
	}
	return Delta{Entries: entries}, nil
}

// mergeDeltas combines two reverse deltas into one, keeping newer's
// entry whenever both touch the same key; older only contributes keys
// newer lacks — used when pruning coalesces collapsed entries into the
// oldest retained one.
func mergeDeltas(older, newer Delta) Delta {
	out := Delta{Entries: make(map[string]deltaValue, len(older.Entries)+len(newer.Entries))}
	for k, v := range newer.Entries {
		out.Entries[k] = v
	}
	for k, v := range older.Entries {
		if _, ok := out.Entries[k]; !ok {
			out.Entries[k] = v
		}
	}
	return out
}
