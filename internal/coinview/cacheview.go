package coinview

import (
	"fmt"

	"github.com/Klingon-tech/klingnet-chain/pkg/types"
)

// Parent is the capability set a CacheView reads through: the durable
// view or another cache view one level down.
type Parent interface {
	GetCoin(op types.Outpoint) (Coin, bool, error)
	HaveCoin(op types.Outpoint) (bool, error)
}

// coinOverhead approximates the in-memory bookkeeping cost of a cache
// entry beyond its script bytes, used for the running byte estimate a
// caller can use to decide when to flush.
const coinOverhead = 96

// CacheView is an in-memory coin cache layered over a Parent. Reads miss
// through to the parent and memoize without DIRTY; writes set DIRTY and,
// for genuinely new coins, FRESH.
type CacheView struct {
	parent     Parent
	cache      map[types.Outpoint]*CacheEntry
	cacheBytes uint64
}

// NewCacheView creates a cache layered over parent.
func NewCacheView(parent Parent) *CacheView {
	return &CacheView{parent: parent, cache: make(map[types.Outpoint]*CacheEntry)}
}

// CacheBytes returns the running byte estimate for eviction decisions.
func (c *CacheView) CacheBytes() uint64 { return c.cacheBytes }

func (c *CacheView) entrySize(e *CacheEntry) uint64 {
	return uint64(coinOverhead + len(e.Coin.Script.Data))
}

// GetCoin returns the coin at op, checking the local cache first, then
// memoizing a parent hit as a clean (non-dirty) entry.
func (c *CacheView) GetCoin(op types.Outpoint) (Coin, bool, error) {
	if e, ok := c.cache[op]; ok {
		if e.Coin.Spent {
			return Coin{}, false, nil
		}
		return e.Coin, true, nil
	}
	coin, ok, err := c.parent.GetCoin(op)
	if err != nil {
		return Coin{}, false, err
	}
	if !ok {
		return Coin{}, false, nil
	}
	entry := &CacheEntry{Coin: coin}
	c.cache[op] = entry
	c.cacheBytes += c.entrySize(entry)
	return coin, true, nil
}

// HaveCoin reports whether a live coin exists at op.
func (c *CacheView) HaveCoin(op types.Outpoint) (bool, error) {
	if e, ok := c.cache[op]; ok {
		return !e.Coin.Spent, nil
	}
	return c.parent.HaveCoin(op)
}

// AddCoin inserts a new coin at op (spec §4.2 cache layer: "Addition of
// a coin not present in any parent creates a FRESH+DIRTY entry"). If
// the outpoint is already known at this layer or below, overwrite must
// be true or the add is rejected — this matches the source's guard
// against accidentally reviving an existing unspent output.
func (c *CacheView) AddCoin(op types.Outpoint, coin Coin, overwrite bool) error {
	existingFresh := false
	if e, ok := c.cache[op]; ok {
		if !e.Coin.Spent && !overwrite {
			return fmt.Errorf("coinview: add of already-live outpoint %s without overwrite", op)
		}
		existingFresh = e.fresh()
	} else {
		have, err := c.parent.HaveCoin(op)
		if err != nil {
			return err
		}
		if have && !overwrite {
			return fmt.Errorf("coinview: add of already-live outpoint %s without overwrite", op)
		}
		existingFresh = !have
	}

	flags := FlagDirty
	if existingFresh {
		flags |= FlagFresh
	}
	entry := &CacheEntry{Coin: coin, Flags: flags}
	if old, ok := c.cache[op]; ok {
		c.cacheBytes -= c.entrySize(old)
	}
	c.cache[op] = entry
	c.cacheBytes += c.entrySize(entry)
	return nil
}

// SpendCoin marks the coin at op as spent, per the cache-layer rule: a
// spend on a FRESH entry erases it outright (it was never visible
// below); a spend on an entry sourced from the parent creates a DIRTY
// tombstone entry. Returns the coin that was spent and whether it
// existed.
func (c *CacheView) SpendCoin(op types.Outpoint) (Coin, bool, error) {
	if e, ok := c.cache[op]; ok {
		if e.Coin.Spent {
			return Coin{}, false, nil
		}
		spent := e.Coin
		if e.fresh() {
			c.cacheBytes -= c.entrySize(e)
			delete(c.cache, op)
			return spent, true, nil
		}
		e.Coin.Spent = true
		e.Flags |= FlagDirty
		return spent, true, nil
	}

	coin, ok, err := c.parent.GetCoin(op)
	if err != nil {
		return Coin{}, false, err
	}
	if !ok {
		return Coin{}, false, nil
	}
	coin.Spent = true
	entry := &CacheEntry{Coin: coin, Flags: FlagDirty}
	c.cache[op] = entry
	c.cacheBytes += c.entrySize(entry)
	return coin, true, nil
}

// Flush pushes this view's dirty entries into sink under tipHash,
// streaming each through consumer, and clears consumed entries from the
// local cache so memory does not grow across flushes.
func (c *CacheView) Flush(sink Flusher, tipHash types.Hash, consumer DirtyConsumer) error {
	dirty := make(map[types.Outpoint]*CacheEntry, len(c.cache))
	for op, e := range c.cache {
		if e.dirty() {
			dirty[op] = e
		}
	}
	if err := sink.BatchWrite(dirty, tipHash, consumer); err != nil {
		return err
	}
	for op, e := range c.cache {
		if !e.dirty() {
			continue
		}
		if e.Coin.Spent {
			c.cacheBytes -= c.entrySize(e)
			delete(c.cache, op)
		} else {
			e.Flags &^= FlagDirty | FlagFresh
		}
	}
	return nil
}

// Flusher is the durable-commit capability a CacheView flushes into —
// satisfied by DBView, and by another CacheView for multi-level stacks.
type Flusher interface {
	BatchWrite(dirty map[types.Outpoint]*CacheEntry, tipHash types.Hash, consumer DirtyConsumer) error
}

// BatchWrite lets a CacheView itself act as a Flusher's sink one level
// up: incoming dirty entries are merged into this cache as DIRTY
// entries rather than written through immediately, so a multi-level
// cache stack only touches the KVB at the bottom.
func (c *CacheView) BatchWrite(dirty map[types.Outpoint]*CacheEntry, tipHash types.Hash, consumer DirtyConsumer) error {
	if consumer == nil {
		consumer = NopConsumer{}
	}
	for op, e := range dirty {
		if err := consumer.ConsumeDirty(op, e); err != nil {
			return err
		}
		if old, ok := c.cache[op]; ok {
			c.cacheBytes -= c.entrySize(old)
		}
		merged := &CacheEntry{Coin: e.Coin, Flags: FlagDirty}
		c.cache[op] = merged
		c.cacheBytes += c.entrySize(merged)
		delete(dirty, op)
	}
	return nil
}
