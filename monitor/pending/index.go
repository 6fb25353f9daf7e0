// Package pending tracks transfers that have been observed but not yet
// confirmed, grouped by the block that carried them. Grouping by block lets
// the confirmation tracker compute one depth per block instead of one per
// transfer.
package pending

import (
	"sort"
	"sync"
	"time"

	"github.com/chainsentry/evm-transfer-monitor/monitor/types"
)

// Index is the in-memory pending set. It is a cache over the deposit store:
// a restart rebuilds it from rows still marked pending.
type Index struct {
	mu      sync.RWMutex
	byBlock map[uint64][]*types.Transfer
}

// NewIndex returns an empty index.
func NewIndex() *Index {
	return &Index{byBlock: make(map[uint64][]*types.Transfer)}
}

// Insert adds a transfer under its block.
func (i *Index) Insert(t *types.Transfer) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.byBlock[t.BlockNumber] = append(i.byBlock[t.BlockNumber], t)
}

// Blocks returns the populated block numbers in ascending order.
func (i *Index) Blocks() []uint64 {
	i.mu.RLock()
	defer i.mu.RUnlock()
	out := make([]uint64, 0, len(i.byBlock))
	for n := range i.byBlock {
		out = append(out, n)
	}
	sort.Slice(out, func(a, b int) bool { return out[a] < out[b] })
	return out
}

// TransfersIn returns a snapshot of the transfers waiting in block n.
func (i *Index) TransfersIn(n uint64) []*types.Transfer {
	i.mu.RLock()
	defer i.mu.RUnlock()
	ts := i.byBlock[n]
	out := make([]*types.Transfer, len(ts))
	copy(out, ts)
	return out
}

// RemoveBlock drops block n and returns what was waiting there.
func (i *Index) RemoveBlock(n uint64) []*types.Transfer {
	i.mu.Lock()
	defer i.mu.Unlock()
	ts := i.byBlock[n]
	delete(i.byBlock, n)
	return ts
}

// ReplaceBlock swaps the transfers waiting in block n, dropping the block
// entirely when the replacement is empty. Used when only part of a block
// reached its confirmation requirement.
func (i *Index) ReplaceBlock(n uint64, ts []*types.Transfer) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if len(ts) == 0 {
		delete(i.byBlock, n)
		return
	}
	i.byBlock[n] = ts
}

// PurgeOlderThan evicts transfers first seen before the cutoff and returns
// them. Blocks left empty are removed.
func (i *Index) PurgeOlderThan(cutoff time.Time) []*types.Transfer {
	i.mu.Lock()
	defer i.mu.Unlock()
	var evicted []*types.Transfer
	for n, ts := range i.byBlock {
		kept := ts[:0]
		for _, t := range ts {
			if t.FoundAt.Before(cutoff) {
				evicted = append(evicted, t)
			} else {
				kept = append(kept, t)
			}
		}
		if len(kept) == 0 {
			delete(i.byBlock, n)
		} else {
			i.byBlock[n] = kept
		}
	}
	return evicted
}

// Len returns the total number of waiting transfers.
func (i *Index) Len() int {
	i.mu.RLock()
	defer i.mu.RUnlock()
	total := 0
	for _, ts := range i.byBlock {
		total += len(ts)
	}
	return total
}

// BlockCount returns how many distinct blocks still hold transfers.
func (i *Index) BlockCount() int {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return len(i.byBlock)
}

// CountsByKind tallies waiting transfers as native versus token.
func (i *Index) CountsByKind() map[string]int {
	i.mu.RLock()
	defer i.mu.RUnlock()
	out := make(map[string]int)
	for _, ts := range i.byBlock {
		for _, t := range ts {
			out[t.Kind()]++
		}
	}
	return out
}

// CountsByBlock tallies waiting transfers per block.
func (i *Index) CountsByBlock() map[uint64]int {
	i.mu.RLock()
	defer i.mu.RUnlock()
	out := make(map[uint64]int, len(i.byBlock))
	for n, ts := range i.byBlock {
		out[n] = len(ts)
	}
	return out
}

// OldestAge reports how long the oldest waiting transfer has been pending,
// or zero when the index is empty.
func (i *Index) OldestAge(now time.Time) time.Duration {
	i.mu.RLock()
	defer i.mu.RUnlock()
	var oldest time.Time
	for _, ts := range i.byBlock {
		for _, t := range ts {
			if oldest.IsZero() || t.FoundAt.Before(oldest) {
				oldest = t.FoundAt
			}
		}
	}
	if oldest.IsZero() {
		return 0
	}
	return now.Sub(oldest)
}

// Clear empties the index and returns how many transfers were dropped.
func (i *Index) Clear() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	total := 0
	for _, ts := range i.byBlock {
		total += len(ts)
	}
	i.byBlock = make(map[uint64][]*types.Transfer)
	return total
}
