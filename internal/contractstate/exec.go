package contractstate

import (
	"fmt"
	"sync"

	"github.com/Klingon-tech/klingnet-chain/internal/storage"
	"github.com/Klingon-tech/klingnet-chain/pkg/types"
)

// ExecHandle is a per-worker scripting-VM handle. The VM itself is an
// out-of-scope collaborator (spec §1); CSS only owns the worker-to-VM
// assignment (spec §9 "per-worker mutable state").
type ExecHandle interface{}

// WorkerPool runs a block's transaction groups in parallel, one worker
// per group slot, each worker holding a private VM handle populated
// once at pool startup and never touched by another goroutine
// afterward (spec §5 "shared-resource policy").
type WorkerPool struct {
	handles []ExecHandle
}

// NewWorkerPool allocates size workers, calling newHandle once per
// worker identity to build its VM handle.
func NewWorkerPool(size int, newHandle func(workerID int) ExecHandle) *WorkerPool {
	handles := make([]ExecHandle, size)
	for i := range handles {
		handles[i] = newHandle(i)
	}
	return &WorkerPool{handles: handles}
}

// Size returns the fixed pool size.
func (p *WorkerPool) Size() int {
	return len(p.handles)
}

// GroupFunc executes one transaction group sequentially against the VM
// handle assigned to it, using cache as that group's Cache-tier
// staging area.
type GroupFunc func(handle ExecHandle, group int, cache *TxCache) error

// RunGroups executes every group across a fixed set of long-lived
// worker goroutines — exactly Size() of them, each claiming groups one
// at a time from a shared queue — and blocks until all groups finish
// (spec §5 "waiting on the worker pool barrier at end-of-block"). A
// worker's VM handle is only ever touched by that one goroutine: unlike
// a naive one-goroutine-per-group scheme, group count exceeding pool
// size never puts two goroutines on the same handle concurrently. Each
// group gets its own TxCache over bc so unrelated groups' writes never
// collide before Commit.
func (p *WorkerPool) RunGroups(bc *BlockContext, groups int, fn GroupFunc) error {
	if len(p.handles) == 0 {
		return fmt.Errorf("contractstate: worker pool has no workers: %w", storage.ErrInvariant)
	}
	jobs := make(chan int, groups)
	for g := 0; g < groups; g++ {
		jobs <- g
	}
	close(jobs)

	errs := make([]error, groups)
	var wg sync.WaitGroup
	for w := 0; w < len(p.handles); w++ {
		wg.Add(1)
		go func(handle ExecHandle) {
			defer wg.Done()
			for g := range jobs {
				errs[g] = fn(handle, g, bc.NewTxCache())
			}
		}(p.handles[w])
	}
	wg.Wait()
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

// ValidateGroupsConflictFree rejects a grouping where two distinct
// groups touch the same contract address — concurrent groups must be
// conflict-free (spec P6); only sequential execution within a group is
// guaranteed ordered.
func ValidateGroupsConflictFree(groupContracts [][]types.Address) error {
	owner := make(map[types.Address]int)
	for gi, addrs := range groupContracts {
		for _, a := range addrs {
			if og, ok := owner[a]; ok && og != gi {
				return fmt.Errorf("contractstate: groups %d and %d both touch contract %s: %w", og, gi, a, storage.ErrInvariant)
			}
			owner[a] = gi
		}
	}
	return nil
}
