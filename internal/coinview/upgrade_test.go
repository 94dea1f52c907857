package coinview

import (
	"errors"
	"testing"

	"github.com/Klingon-tech/klingnet-chain/internal/storage"
	"github.com/Klingon-tech/klingnet-chain/pkg/types"
)

func TestUpgradeLegacyCoins_ConvertsAndDeletes(t *testing.T) {
	db := storage.NewMemory()
	txid := mustHash(0x55)

	rec := LegacyTxRecord{
		Height: 3,
		Outputs: []*LegacyOutput{
			{Amount: 10, Script: scriptFor(1), Coinbase: false},
			nil, // already spent at legacy-write time
			{Amount: 20, Script: scriptFor(2), Coinbase: false},
		},
	}
	if err := db.Put(legacyKey(txid), encodeLegacyRecord(rec)); err != nil {
		t.Fatal(err)
	}

	if err := UpgradeLegacyCoins(db, nil, nil); err != nil {
		t.Fatalf("UpgradeLegacyCoins() error: %v", err)
	}

	if ok, _ := db.Has(legacyKey(txid)); ok {
		t.Error("legacy record should be deleted after upgrade")
	}

	view := NewDBView(db, DefaultConfig())
	c0, ok, err := view.GetCoin(types.Outpoint{TxID: txid, Index: 0})
	if err != nil || !ok || c0.Amount != 10 {
		t.Errorf("output 0 = %+v, %v, %v", c0, ok, err)
	}
	if _, ok, _ := view.GetCoin(types.Outpoint{TxID: txid, Index: 1}); ok {
		t.Error("nil legacy output should not produce a coin record")
	}
	c2, ok, err := view.GetCoin(types.Outpoint{TxID: txid, Index: 2})
	if err != nil || !ok || c2.Amount != 20 {
		t.Errorf("output 2 = %+v, %v, %v", c2, ok, err)
	}
}

func TestUpgradeLegacyCoins_InterruptedIsResumable(t *testing.T) {
	db := storage.NewMemory()
	for i := byte(0); i < 3; i++ {
		txid := mustHash(0x60 + i)
		rec := LegacyTxRecord{Height: 1, Outputs: []*LegacyOutput{{Amount: 1, Script: scriptFor(1)}}}
		db.Put(legacyKey(txid), encodeLegacyRecord(rec))
	}

	calls := 0
	err := UpgradeLegacyCoins(db, nil, func() bool {
		calls++
		return calls > 1 // interrupt after the first record
	})
	if !errors.Is(err, storage.ErrInterrupted) {
		t.Fatalf("UpgradeLegacyCoins() error = %v, want ErrInterrupted", err)
	}

	var remaining int
	db.ForEach([]byte{legacyKeyPrefix}, func(key, _ []byte) error {
		remaining++
		return nil
	})
	if remaining == 0 {
		t.Fatal("interrupted upgrade should leave some legacy records for resumption")
	}

	// Resume to completion.
	if err := UpgradeLegacyCoins(db, nil, nil); err != nil {
		t.Fatalf("resumed UpgradeLegacyCoins() error: %v", err)
	}
	remaining = 0
	db.ForEach([]byte{legacyKeyPrefix}, func(key, _ []byte) error {
		remaining++
		return nil
	})
	if remaining != 0 {
		t.Errorf("legacy records remaining after resume = %d, want 0", remaining)
	}
}

func TestUpgradeLegacyCoins_ProgressReportsIncreasing(t *testing.T) {
	db := storage.NewMemory()
	for i := byte(0); i < 5; i++ {
		txid := mustHash(0x70 + i)
		rec := LegacyTxRecord{Height: 1, Outputs: []*LegacyOutput{{Amount: 1, Script: scriptFor(1)}}}
		db.Put(legacyKey(txid), encodeLegacyRecord(rec))
	}

	var pcts []int
	err := UpgradeLegacyCoins(db, func(pct int) error {
		pcts = append(pcts, pct)
		return nil
	}, nil)
	if err != nil {
		t.Fatalf("UpgradeLegacyCoins() error: %v", err)
	}
	if len(pcts) == 0 {
		t.Fatal("expected at least one progress callback")
	}
	if pcts[len(pcts)-1] != 100 {
		t.Errorf("final progress = %d, want 100", pcts[len(pcts)-1])
	}
	for i := 1; i < len(pcts); i++ {
		if pcts[i] <= pcts[i-1] {
			t.Errorf("progress not strictly increasing: %v", pcts)
		}
	}
}
