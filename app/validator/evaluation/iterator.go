package evaluation

import (
	"math/rand"
	"sort"
	"sync"
)

// MinerIterator cycles through the registered miner uids in sorted order,
// forever. The walk starts at a random position so that a fleet of
// validators restarting together does not converge on the same miners and
// hammer them in lockstep.
//
// The population can be swapped mid-walk when the registry changes; the
// iterator keeps its position relative to the uid ordering so miners that
// survived the change keep their place in the rotation.
type MinerIterator struct {
	mu   sync.Mutex
	uids []int
	pos  int
}

// NewMinerIterator returns an iterator over uids, starting at a random
// position. The input is copied and sorted.
func NewMinerIterator(uids []int) *MinerIterator {
	sorted := make([]int, len(uids))
	copy(sorted, uids)
	sort.Ints(sorted)

	it := &MinerIterator{uids: sorted}
	if len(sorted) > 0 {
		it.pos = rand.Intn(len(sorted))
	}
	return it
}

// Next returns the uid at the cursor and advances. ok is false when the
// population is empty.
func (it *MinerIterator) Next() (int, bool) {
	it.mu.Lock()
	defer it.mu.Unlock()

	if len(it.uids) == 0 {
		return 0, false
	}
	uid := it.uids[it.pos]
	it.pos = (it.pos + 1) % len(it.uids)
	return uid, true
}

// Peek returns the uid Next would return, without advancing.
func (it *MinerIterator) Peek() (int, bool) {
	it.mu.Lock()
	defer it.mu.Unlock()

	if len(it.uids) == 0 {
		return 0, false
	}
	return it.uids[it.pos], true
}

// SetMinerUIDs replaces the population. The cursor moves to the smallest uid
// >= the previous cursor's uid, wrapping to the start when none remains, so
// a registry refresh does not restart the rotation.
func (it *MinerIterator) SetMinerUIDs(uids []int) {
	it.mu.Lock()
	defer it.mu.Unlock()

	var current int
	if len(it.uids) > 0 {
		current = it.uids[it.pos]
	}

	sorted := make([]int, len(uids))
	copy(sorted, uids)
	sort.Ints(sorted)

	it.uids = sorted
	it.pos = 0
	if len(sorted) > 0 {
		it.pos = sort.SearchInts(sorted, current) % len(sorted)
	}
}

// Len returns the population size.
func (it *MinerIterator) Len() int {
	it.mu.Lock()
	defer it.mu.Unlock()
	return len(it.uids)
}
