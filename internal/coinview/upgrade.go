package coinview

import (
	"encoding/binary"

	"github.com/Klingon-tech/klingnet-chain/internal/log"
	"github.com/Klingon-tech/klingnet-chain/internal/storage"
	"github.com/Klingon-tech/klingnet-chain/pkg/types"
)

// LegacyOutput is one output slot in a pre-upgrade packed per-tx coin
// record. A nil entry means that output was already spent or is
// unspendable at the time the legacy record was written.
type LegacyOutput struct {
	Amount   uint64
	Script   types.Script
	Coinbase bool
}

// LegacyTxRecord is the packed, per-transaction coin record the 'c'
// namespace held before the per-output 'C' format (spec §4.1:
// "Upgraded-from 'c' (legacy per-tx coin) may appear in old stores").
type LegacyTxRecord struct {
	Height  uint64
	Outputs []*LegacyOutput
}

func encodeLegacyRecord(r LegacyTxRecord) []byte {
	buf := binary.AppendUvarint(nil, r.Height)
	buf = binary.AppendUvarint(buf, uint64(len(r.Outputs)))
	for _, out := range r.Outputs {
		if out == nil {
			buf = append(buf, 0)
			continue
		}
		buf = append(buf, 1)
		var amount [8]byte
		binary.LittleEndian.PutUint64(amount[:], out.Amount)
		buf = append(buf, amount[:]...)
		buf = append(buf, out.Script.Type)
		buf = binary.AppendUvarint(buf, uint64(len(out.Script.Data)))
		buf = append(buf, out.Script.Data...)
		if out.Coinbase {
			buf = append(buf, 1)
		} else {
			buf = append(buf, 0)
		}
	}
	return buf
}

func decodeLegacyRecord(data []byte) (LegacyTxRecord, error) {
	height, n := binary.Uvarint(data)
	if n <= 0 {
		return LegacyTxRecord{}, storage.ErrCorrupt
	}
	rest := data[n:]
	count, n := binary.Uvarint(rest)
	if n <= 0 {
		return LegacyTxRecord{}, storage.ErrCorrupt
	}
	rest = rest[n:]

	outputs := make([]*LegacyOutput, 0, count)
	for i := uint64(0); i < count; i++ {
		if len(rest) < 1 {
			return LegacyTxRecord{}, storage.ErrCorrupt
		}
		present := rest[0]
		rest = rest[1:]
		if present == 0 {
			outputs = append(outputs, nil)
			continue
		}
		if len(rest) < 8+1 {
			return LegacyTxRecord{}, storage.ErrCorrupt
		}
		amount := binary.LittleEndian.Uint64(rest[:8])
		scriptType := types.ScriptType(rest[8])
		rest = rest[9:]
		scriptLen, n := binary.Uvarint(rest)
		if n <= 0 {
			return LegacyTxRecord{}, storage.ErrCorrupt
		}
		rest = rest[n:]
		if uint64(len(rest)) < scriptLen+1 {
			return LegacyTxRecord{}, storage.ErrCorrupt
		}
		data := append([]byte(nil), rest[:scriptLen]...)
		coinbase := rest[scriptLen] == 1
		rest = rest[scriptLen+1:]
		outputs = append(outputs, &LegacyOutput{
			Amount:   amount,
			Script:   types.Script{Type: scriptType, Data: data},
			Coinbase: coinbase,
		})
	}
	return LegacyTxRecord{Height: height, Outputs: outputs}, nil
}

func legacyKey(txid types.Hash) []byte {
	key := make([]byte, 1+types.HashSize)
	key[0] = legacyKeyPrefix
	copy(key[1:], txid[:])
	return key
}

// ProgressFunc is called with a percentage (0-100) as the upgrade pass
// advances, in increments of roughly one percent (spec §4.2).
type ProgressFunc func(percentDone int) error

// InterruptedFunc is polled between records; it should return true once
// shutdown has been requested.
type InterruptedFunc func() bool

// UpgradeLegacyCoins converts every legacy 'c' per-tx record in db into
// individual 'C' per-output records, deleting the legacy record once its
// outputs have landed. The pass is interruptible: work completed so far
// is durable, and resuming simply finds fewer 'c' records left to visit
// — it is safe to call this again after an Interrupted return.
func UpgradeLegacyCoins(db storage.DB, progress ProgressFunc, interrupted InterruptedFunc) error {
	var keys [][]byte
	if err := db.ForEach([]byte{legacyKeyPrefix}, func(key, _ []byte) error {
		k := append([]byte(nil), key...)
		keys = append(keys, k)
		return nil
	}); err != nil {
		return err
	}

	total := len(keys)
	if total == 0 {
		return nil
	}
	lastPct := -1

	for i, key := range keys {
		if interrupted != nil && interrupted() {
			log.CoinView.Warn().Msg("legacy coin upgrade interrupted")
			return storage.ErrInterrupted
		}

		if len(key) != 1+types.HashSize {
			continue
		}
		var txid types.Hash
		copy(txid[:], key[1:])

		data, err := db.Get(key)
		if err != nil {
			return err
		}
		rec, err := decodeLegacyRecord(data)
		if err != nil {
			return err
		}

		for idx, out := range rec.Outputs {
			if out == nil {
				continue
			}
			op := types.Outpoint{TxID: txid, Index: uint32(idx)}
			coin := Coin{
				Amount:   out.Amount,
				Script:   out.Script,
				Height:   rec.Height,
				Coinbase: out.Coinbase,
			}
			if err := db.Put(coinKey(op), encodeCoin(coin)); err != nil {
				return err
			}
		}
		if err := db.Delete(key); err != nil {
			return err
		}

		if progress != nil {
			pct := (i + 1) * 100 / total
			if pct != lastPct {
				lastPct = pct
				if err := progress(pct); err != nil {
					return err
				}
			}
		}
	}
	return nil
}
