package blockindex

import (
	"errors"
	"testing"

	"github.com/Klingon-tech/klingnet-chain/internal/storage"
	"github.com/Klingon-tech/klingnet-chain/pkg/block"
	"github.com/Klingon-tech/klingnet-chain/pkg/types"
)

func genesisRecord() *BlockRecord {
	return &BlockRecord{
		Header: block.Header{
			Version:   1,
			Timestamp: 1,
			Height:    0,
			Nonce:     1,
		},
		DataFile: 0,
		DataPos:  8,
		Status:   StatusHaveData | StatusValidated | StatusInMainChain,
		TxCount:  1,
	}
}

func TestStore_BatchWriteThenLoad(t *testing.T) {
	db := storage.NewMemory()
	s := NewStore(db)

	genesis := genesisRecord()
	genesisHash := genesis.Header.Hash()

	child := &BlockRecord{
		Header: block.Header{
			Version:   1,
			PrevHash:  genesisHash,
			Timestamp: 2,
			Height:    1,
			Nonce:     2,
		},
		DataFile: 0,
		DataPos:  256,
		Status:   StatusHaveData | StatusValidated | StatusInMainChain,
		TxCount:  1,
	}
	childHash := child.Header.Hash()

	records := map[types.Hash]*BlockRecord{
		genesisHash: genesis,
		childHash:   child,
	}
	fileInfos := map[int32]*BlockFileInfo{
		0: {BlockCount: 2, Size: 1024, HeightFirst: 0, HeightLast: 1},
	}
	if err := s.BatchWrite(fileInfos, 0, records); err != nil {
		t.Fatalf("BatchWrite() error: %v", err)
	}

	// Fresh store over the same db reconstructs the index from disk.
	reloaded := NewStore(db)
	if err := reloaded.Load(nil); err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	gotChild, ok := reloaded.Entry(childHash)
	if !ok {
		t.Fatalf("Entry(child) not found after Load")
	}
	parent, ok := reloaded.Parent(gotChild)
	if !ok {
		t.Fatalf("Parent(child) not found after Load")
	}
	if parent.Hash != genesisHash {
		t.Errorf("Parent(child).Hash = %v, want %v", parent.Hash, genesisHash)
	}
	if reloaded.LastFile() != 0 {
		t.Errorf("LastFile() = %d, want 0", reloaded.LastFile())
	}

	fi, err := reloaded.GetFileInfo(0)
	if err != nil {
		t.Fatalf("GetFileInfo() error: %v", err)
	}
	if fi.BlockCount != 2 {
		t.Errorf("GetFileInfo().BlockCount = %d, want 2", fi.BlockCount)
	}
}

func TestStore_LoadRejectsFailedProofOfWork(t *testing.T) {
	db := storage.NewMemory()
	s := NewStore(db)

	bad := genesisRecord()
	bad.Header.Difficulty = 64 // no hash satisfies 64 leading zero bits
	badHash := bad.Header.Hash()

	if err := s.BatchWrite(nil, 0, map[types.Hash]*BlockRecord{badHash: bad}); err != nil {
		t.Fatalf("BatchWrite() error: %v", err)
	}

	reloaded := NewStore(db)
	err := reloaded.Load(nil)
	if !errors.Is(err, storage.ErrCorrupt) {
		t.Fatalf("Load() error = %v, want ErrCorrupt", err)
	}
}

func TestStore_LoadInterruptible(t *testing.T) {
	db := storage.NewMemory()
	s := NewStore(db)

	genesis := genesisRecord()
	genesisHash := genesis.Header.Hash()
	if err := s.BatchWrite(nil, 0, map[types.Hash]*BlockRecord{genesisHash: genesis}); err != nil {
		t.Fatalf("BatchWrite() error: %v", err)
	}

	reloaded := NewStore(db)
	err := reloaded.Load(func() bool { return true })
	if !errors.Is(err, storage.ErrInterrupted) {
		t.Fatalf("Load() error = %v, want ErrInterrupted", err)
	}
}

func TestStore_HasBlock(t *testing.T) {
	db := storage.NewMemory()
	s := NewStore(db)

	genesis := genesisRecord()
	genesisHash := genesis.Header.Hash()
	if err := s.BatchWrite(nil, 0, map[types.Hash]*BlockRecord{genesisHash: genesis}); err != nil {
		t.Fatalf("BatchWrite() error: %v", err)
	}

	has, err := s.HasBlock(genesisHash)
	if err != nil || !has {
		t.Errorf("HasBlock(genesis) = %v, %v; want true, nil", has, err)
	}
	has, err = s.HasBlock(types.Hash{0xFF})
	if err != nil || has {
		t.Errorf("HasBlock(unknown) = %v, %v; want false, nil", has, err)
	}
}

func TestStore_TxIndexBulkAPI(t *testing.T) {
	db := storage.NewMemory()
	s := NewStore(db)

	txid := types.Hash{0x09}
	blockHash := types.Hash{0x0A}
	loc := TxLocation{Height: 5, BlockHash: blockHash}

	if err := s.PutTxIndexEntries(map[types.Hash]TxLocation{txid: loc}); err != nil {
		t.Fatalf("PutTxIndexEntries() error: %v", err)
	}

	got, err := s.GetTxLocation(txid)
	if err != nil {
		t.Fatalf("GetTxLocation() error: %v", err)
	}
	if got != loc {
		t.Errorf("GetTxLocation() = %+v, want %+v", got, loc)
	}

	if err := s.DeleteTxIndex(txid); err != nil {
		t.Fatalf("DeleteTxIndex() error: %v", err)
	}
	if _, err := s.GetTxLocation(txid); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("GetTxLocation() after delete = %v, want ErrNotFound", err)
	}
}

func TestStore_FlagsAndReindexMarker(t *testing.T) {
	db := storage.NewMemory()
	s := NewStore(db)

	ok, err := s.ReadFlag("txindex")
	if err != nil || ok {
		t.Fatalf("ReadFlag() default = %v, %v; want false, nil", ok, err)
	}
	if err := s.WriteFlag("txindex", true); err != nil {
		t.Fatalf("WriteFlag() error: %v", err)
	}
	ok, err = s.ReadFlag("txindex")
	if err != nil || !ok {
		t.Errorf("ReadFlag() after write = %v, %v; want true, nil", ok, err)
	}

	inProgress, err := s.ReindexInProgress()
	if err != nil || inProgress {
		t.Fatalf("ReindexInProgress() default = %v, %v; want false, nil", inProgress, err)
	}
	if err := s.SetReindexInProgress(true); err != nil {
		t.Fatalf("SetReindexInProgress(true) error: %v", err)
	}
	inProgress, err = s.ReindexInProgress()
	if err != nil || !inProgress {
		t.Errorf("ReindexInProgress() after set = %v, %v; want true, nil", inProgress, err)
	}
	if err := s.SetReindexInProgress(false); err != nil {
		t.Fatalf("SetReindexInProgress(false) error: %v", err)
	}
	inProgress, _ = s.ReindexInProgress()
	if inProgress {
		t.Error("ReindexInProgress() should be false after clearing")
	}
}
