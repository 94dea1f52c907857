package contractstate

import (
	"fmt"
	"sync"

	"github.com/Klingon-tech/klingnet-chain/internal/storage"
	"github.com/Klingon-tech/klingnet-chain/pkg/types"
)

// BlockContext accumulates the pre-block Data snapshot for every
// contract touched while a block's transactions execute, so CommitBlock
// can diff before vs. after at block-connect time (spec §4.5 "per-height
// snapshot"). One BlockContext is created per connected block and
// handed to every worker executing that block's transaction groups.
type BlockContext struct {
	store *Store

	mu     sync.Mutex
	before map[types.Address]*ContractInfo

	escrowMu sync.Mutex
	escrow   map[types.Address]uint64
}

// NewBlockContext starts tracking a new block against store's current
// Data tier.
func (s *Store) NewBlockContext() *BlockContext {
	return &BlockContext{
		store:  s,
		before: make(map[types.Address]*ContractInfo),
		escrow: make(map[types.Address]uint64),
	}
}

// touch records addr's pre-block Data value the first time any
// transaction in this block reads or writes it.
func (bc *BlockContext) touch(addr types.Address) {
	bc.mu.Lock()
	defer bc.mu.Unlock()
	if _, ok := bc.before[addr]; ok {
		return
	}
	bc.store.mu.RLock()
	bc.before[addr] = bc.store.getLocked(addr)
	bc.store.mu.RUnlock()
}

// Commit finishes the block: diffs every touched contract's pre-block
// value against its current Data value and persists the result.
func (bc *BlockContext) Commit(height uint64, blockHash types.Hash) error {
	bc.mu.Lock()
	before := bc.before
	bc.mu.Unlock()
	return bc.store.CommitBlock(height, blockHash, before)
}

// AdjustEscrow applies delta to addr's escrowed balance for this block,
// rejecting any adjustment that would take it negative (spec §4.5's
// per-block coin-balance cache: "contract-escrowed balances never go
// negative").
func (bc *BlockContext) AdjustEscrow(addr types.Address, delta int64) error {
	bc.escrowMu.Lock()
	defer bc.escrowMu.Unlock()
	current := int64(bc.escrow[addr])
	next := current + delta
	if next < 0 {
		return fmt.Errorf("contractstate: escrow balance for %s would go negative: %w", addr, storage.ErrInvariant)
	}
	bc.escrow[addr] = uint64(next)
	return nil
}

// TxCache is CSS's Cache tier: a transaction-local staging map. Reads
// fall through to Data (recording a block-level touch); writes stage
// locally until Apply merges them into Data on transaction success, or
// are dropped by Discard on transaction failure.
type TxCache struct {
	bc     *BlockContext
	staged map[types.Address]*ContractInfo
}

// NewTxCache starts a fresh per-transaction cache against bc.
func (bc *BlockContext) NewTxCache() *TxCache {
	return &TxCache{bc: bc, staged: make(map[types.Address]*ContractInfo)}
}

// Get returns addr's current view: the transaction's own staged write
// if present, else Data's current value (a fresh empty contract if
// addr has never been seen).
func (c *TxCache) Get(addr types.Address) *ContractInfo {
	if info, ok := c.staged[addr]; ok {
		return cloneContract(info)
	}
	c.bc.touch(addr)
	c.bc.store.mu.RLock()
	info := c.bc.store.getLocked(addr)
	c.bc.store.mu.RUnlock()
	return info
}

// Put stages a write, visible to later Gets on this TxCache but not to
// Data until Apply.
func (c *TxCache) Put(info *ContractInfo) {
	c.bc.touch(info.Address)
	c.staged[info.Address] = cloneContract(info)
}

// Apply merges every staged write into Data (spec: "on transaction
// success, Cache is merged into Data").
func (c *TxCache) Apply() {
	c.bc.store.mu.Lock()
	defer c.bc.store.mu.Unlock()
	for _, info := range c.staged {
		c.bc.store.setLocked(info)
	}
}

// Discard drops every staged write (spec: "on failure, Cache is
// discarded"). Since Apply was never called, Data was never touched.
func (c *TxCache) Discard() {
	c.staged = make(map[types.Address]*ContractInfo)
}
