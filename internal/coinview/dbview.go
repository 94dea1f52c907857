package coinview

import (
	"errors"
	"fmt"
	"math/rand"

	"github.com/Klingon-tech/klingnet-chain/config"
	"github.com/Klingon-tech/klingnet-chain/internal/log"
	"github.com/Klingon-tech/klingnet-chain/internal/storage"
	"github.com/Klingon-tech/klingnet-chain/pkg/types"
)

// DirtyConsumer receives each dirty (outpoint, entry) pair as a flush
// streams it to the KVB, so a secondary index (the address index) can
// be kept in lockstep without CV knowing anything about it. Ordering
// guarantee (spec §5.3): the consumer is handed each outpoint just
// before its coin write/erase is staged, but a Flushable consumer's own
// writes reach the KVB only after every coin batch has been committed.
type DirtyConsumer interface {
	ConsumeDirty(op types.Outpoint, entry *CacheEntry) error
}

// NopConsumer implements DirtyConsumer as a no-op, for callers that
// don't need a reverse index (tests, tools).
type NopConsumer struct{}

func (NopConsumer) ConsumeDirty(types.Outpoint, *CacheEntry) error { return nil }

// Flushable is implemented by a DirtyConsumer that buffers its own
// writes in memory and needs an explicit durable-commit point. If the
// consumer passed to BatchWrite implements Flushable, it is flushed
// after every dirty coin entry has been streamed to it and before the
// final best-block marker is written (spec §4.2 step 5: "After the
// reverse index has been flushed, erase H and write B").
type Flushable interface {
	Flush() error
}

// Config tunes the flush protocol.
type Config struct {
	// BatchSize is the byte threshold (dbbatchsize) at which an
	// in-progress batch is flushed to the KVB and a new one started.
	BatchSize uint64
	// CrashRatio, if nonzero, injects a simulated crash with
	// probability 1/CrashRatio after each partial flush (dbcrashratio
	// fault-injection knob, §4.2 step 4). Zero disables injection.
	CrashRatio int
}

// DefaultConfig mirrors config.DefaultDB(), so a caller that never
// touches node configuration still gets the same batch-size/crash-ratio
// defaults as one that does.
func DefaultConfig() Config {
	return ConfigFromDB(config.DefaultDB())
}

// ConfigFromDB converts the operator-facing db.batchsize/db.crashratio
// settings (config.DBConfig, §6 dbbatchsize/dbcrashratio) into the
// flush-protocol Config DBView runs on.
func ConfigFromDB(cfg config.DBConfig) Config {
	return Config{
		BatchSize:  uint64(cfg.BatchSize),
		CrashRatio: cfg.CrashRatio,
	}
}

// DBView is the durable, KVB-backed bottom layer of the coin view.
type DBView struct {
	db     storage.DB
	cfg    Config
	crash  func() bool // overridable in tests
}

// NewDBView wraps db as a durable CV layer.
func NewDBView(db storage.DB, cfg Config) *DBView {
	v := &DBView{db: db, cfg: cfg}
	v.crash = v.shouldCrash
	return v
}

func (v *DBView) shouldCrash() bool {
	if v.cfg.CrashRatio <= 0 {
		return false
	}
	return rand.Intn(v.cfg.CrashRatio) == 0
}

// ErrSimulatedCrash is returned (instead of calling os.Exit) when the
// crash-ratio fault injector fires, so tests can observe S3 without
// killing the test binary.
var ErrSimulatedCrash = errors.New("coinview: simulated crash during flush")

// GetCoin returns the coin at op, or ok=false if absent.
func (v *DBView) GetCoin(op types.Outpoint) (Coin, bool, error) {
	data, err := v.db.Get(coinKey(op))
	if errors.Is(err, storage.ErrNotFound) {
		return Coin{}, false, nil
	}
	if err != nil {
		return Coin{}, false, fmt.Errorf("coinview get: %w", err)
	}
	c, err := decodeCoin(data)
	if err != nil {
		return Coin{}, false, err
	}
	return c, true, nil
}

// HaveCoin reports whether a live coin exists at op.
func (v *DBView) HaveCoin(op types.Outpoint) (bool, error) {
	ok, err := v.db.Has(coinKey(op))
	if err != nil {
		return false, fmt.Errorf("coinview has: %w", err)
	}
	return ok, nil
}

// GetBestBlock returns the consistent tip hash, if the 'B' form is
// present on disk.
func (v *DBView) GetBestBlock() (types.Hash, bool, error) {
	data, err := v.db.Get([]byte{bestBlockPrefix})
	if errors.Is(err, storage.ErrNotFound) {
		return types.Hash{}, false, nil
	}
	if err != nil {
		return types.Hash{}, false, fmt.Errorf("coinview get best: %w", err)
	}
	if len(data) != types.HashSize {
		return types.Hash{}, false, storage.ErrCorrupt
	}
	var h types.Hash
	copy(h[:], data)
	return h, true, nil
}

// GetHeadBlocks returns the transitional [new, old] marker, if present.
func (v *DBView) GetHeadBlocks() (newTip, oldTip types.Hash, ok bool, err error) {
	data, getErr := v.db.Get([]byte{headBlocksPrefix})
	if errors.Is(getErr, storage.ErrNotFound) {
		return types.Hash{}, types.Hash{}, false, nil
	}
	if getErr != nil {
		return types.Hash{}, types.Hash{}, false, fmt.Errorf("coinview get head-blocks: %w", getErr)
	}
	if len(data) != 2*types.HashSize {
		return types.Hash{}, types.Hash{}, false, storage.ErrCorrupt
	}
	copy(newTip[:], data[:types.HashSize])
	copy(oldTip[:], data[types.HashSize:])
	return newTip, oldTip, true, nil
}

// RecoveryState describes what the durable layer looked like at open time.
type RecoveryState struct {
	// Consistent is true if 'B' was present (clean shutdown or no
	// in-flight commit).
	Consistent bool
	// Tip is the consistent tip, valid only if Consistent.
	Tip types.Hash
	// NewTip/OldTip are the transitional markers, valid only if !Consistent.
	NewTip, OldTip types.Hash
}

// Recover inspects the durable layer's tip markers at startup (spec §4.2
// Recovery / P3). Exactly one of Consistent's two forms must be present;
// a store with neither is treated as fresh (Consistent with zero Tip).
func (v *DBView) Recover() (RecoveryState, error) {
	best, ok, err := v.GetBestBlock()
	if err != nil {
		return RecoveryState{}, err
	}
	if ok {
		return RecoveryState{Consistent: true, Tip: best}, nil
	}
	newTip, oldTip, ok, err := v.GetHeadBlocks()
	if err != nil {
		return RecoveryState{}, err
	}
	if ok {
		return RecoveryState{Consistent: false, NewTip: newTip, OldTip: oldTip}, nil
	}
	return RecoveryState{Consistent: true, Tip: types.Hash{}}, nil
}

// BatchWrite is the durable commit (spec §4.2 Flush protocol). dirty
// entries are written or erased, consumer is fed each entry in the
// same order they're staged, and entries are removed from dirty as
// they're consumed so memory does not grow with batch size. tipHash
// must not be the zero hash — a zero tip is an invariant violation.
func (v *DBView) BatchWrite(dirty map[types.Outpoint]*CacheEntry, tipHash types.Hash, consumer DirtyConsumer) error {
	if tipHash.IsZero() {
		return fmt.Errorf("coinview batch write: tip hash is zero: %w", storage.ErrInvariant)
	}
	if consumer == nil {
		consumer = NopConsumer{}
	}

	oldTip, err := v.resolveOldTip(tipHash)
	if err != nil {
		return err
	}

	batch, err := v.newMarkerBatch()
	if err != nil {
		return err
	}
	if err := batch.Delete([]byte{bestBlockPrefix}); err != nil {
		return fmt.Errorf("coinview erase best: %w", storage.ErrIoError)
	}
	headValue := make([]byte, 0, 2*types.HashSize)
	headValue = append(headValue, tipHash[:]...)
	headValue = append(headValue, oldTip[:]...)
	if err := batch.Put([]byte{headBlocksPrefix}, headValue); err != nil {
		return fmt.Errorf("coinview write head-blocks: %w", storage.ErrIoError)
	}
	if err := batch.Commit(); err != nil {
		return fmt.Errorf("coinview commit transitional marker: %w", storage.ErrIoError)
	}

	batcher, ok := v.db.(storage.Batcher)
	if !ok {
		return fmt.Errorf("coinview: backend does not support batched writes: %w", storage.ErrInvariant)
	}
	current := batcher.NewBatch()

	for op, entry := range dirty {
		if err := consumer.ConsumeDirty(op, entry); err != nil {
			return fmt.Errorf("coinview dirty consumer: %w", err)
		}
		if entry.Coin.Spent {
			if err := current.Delete(coinKey(op)); err != nil {
				return fmt.Errorf("coinview erase coin: %w", storage.ErrIoError)
			}
		} else {
			if err := current.Put(coinKey(op), encodeCoin(entry.Coin)); err != nil {
				return fmt.Errorf("coinview write coin: %w", storage.ErrIoError)
			}
		}
		delete(dirty, op)

		if v.cfg.BatchSize > 0 && uint64(current.Len()) >= v.cfg.BatchSize {
			if err := current.Commit(); err != nil {
				return fmt.Errorf("coinview partial flush: %w", storage.ErrIoError)
			}
			if v.crash() {
				log.CoinView.Warn().Msg("simulated crash injected after partial flush")
				return ErrSimulatedCrash
			}
			current = batcher.NewBatch()
		}
	}
	if current.Len() > 0 {
		if err := current.Commit(); err != nil {
			return fmt.Errorf("coinview final dirty flush: %w", storage.ErrIoError)
		}
	}

	if flushable, ok := consumer.(Flushable); ok {
		if err := flushable.Flush(); err != nil {
			return fmt.Errorf("coinview reverse-index flush: %w", err)
		}
	}

	final, err := v.newMarkerBatch()
	if err != nil {
		return err
	}
	if err := final.Delete([]byte{headBlocksPrefix}); err != nil {
		return fmt.Errorf("coinview erase head-blocks: %w", storage.ErrIoError)
	}
	if err := final.Put([]byte{bestBlockPrefix}, tipHash[:]); err != nil {
		return fmt.Errorf("coinview write best: %w", storage.ErrIoError)
	}
	if err := final.Commit(); err != nil {
		return fmt.Errorf("coinview commit final marker: %w", storage.ErrIoError)
	}
	return nil
}

// resolveOldTip implements step 1 of the flush algorithm: derive
// old_tip from whatever tip form is currently on disk.
func (v *DBView) resolveOldTip(tipHash types.Hash) (types.Hash, error) {
	best, ok, err := v.GetBestBlock()
	if err != nil {
		return types.Hash{}, err
	}
	if ok {
		return best, nil
	}
	newTip, oldTip, ok, err := v.GetHeadBlocks()
	if err != nil {
		return types.Hash{}, err
	}
	if ok && newTip == tipHash {
		return oldTip, nil
	}
	return types.Hash{}, nil
}

// newMarkerBatch prefers a sync-guaranteed batch for the transitional
// marker write (spec §5.2: the H write must reach disk before any
// coin-data write of the new tip), falling back to a plain batch when
// the backend offers no durability hook beyond batch atomicity.
func (v *DBView) newMarkerBatch() (storage.Batch, error) {
	if syncer, ok := v.db.(storage.Syncer); ok {
		return syncer.NewSyncBatch(), nil
	}
	if batcher, ok := v.db.(storage.Batcher); ok {
		return batcher.NewBatch(), nil
	}
	return nil, fmt.Errorf("coinview: backend does not support batched writes: %w", storage.ErrInvariant)
}
