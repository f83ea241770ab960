package jit

import (
	"container/list"
	"math/bits"
)

// ---------------------------------------------------------------------------
// Temp register allocator
// ---------------------------------------------------------------------------

// tempRegAlloc hands out physical registers from one class's temp pool. Free
// registers are a bitmap; allocated ones sit in an LRU list so that when the
// pool runs dry the caller can spill the least recently used. Callers must
// touch the LRU (use) on every emission referencing a temp, or the spill
// choice degrades.
type tempRegAlloc struct {
	first     uint8
	availBits uint32
	lru       *list.List
	// nodes maps index-first to the register's LRU node, nil when free.
	nodes []*list.Element
}

// newTempRegAlloc creates an allocator over the inclusive range
// [first, last].
func newTempRegAlloc(first, last uint8) *tempRegAlloc {
	count := int(last-first) + 1
	var mask uint32 = ((1 << count) - 1) << first
	return &tempRegAlloc{
		first:     first,
		availBits: mask,
		lru:       list.New(),
		nodes:     make([]*list.Element, count),
	}
}

// alloc returns a free register index, preferring preferred when it is free,
// else the lowest-numbered free one. Returns false when the pool is empty;
// callers respond by spilling leastRecentlyUsed. Indices outside the pool
// are never returned.
func (t *tempRegAlloc) alloc(preferred int) (uint8, bool) {
	if t.availBits == 0 {
		return 0, false
	}
	var index uint8
	if preferred >= 0 && t.availBits&(1<<uint(preferred)) != 0 {
		index = uint8(preferred)
	} else {
		index = uint8(bits.TrailingZeros32(t.availBits))
	}
	if index < t.first {
		panic("tempRegAlloc.alloc: index below pool range")
	}
	if t.nodes[index-t.first] != nil {
		panic("tempRegAlloc.alloc: register already allocated")
	}
	t.availBits &^= 1 << index
	t.nodes[index-t.first] = t.lru.PushBack(index)
	return index, true
}

// use moves index to the LRU tail, but only if it is currently allocated.
func (t *tempRegAlloc) use(index uint8) {
	if index < t.first || int(index-t.first) >= len(t.nodes) {
		panic("tempRegAlloc.use: index outside pool range")
	}
	if t.availBits&(1<<index) == 0 {
		t.lru.MoveToBack(t.nodes[index-t.first])
	}
}

// free releases an allocated register.
func (t *tempRegAlloc) free(index uint8) {
	if index < t.first || int(index-t.first) >= len(t.nodes) {
		panic("tempRegAlloc.free: index outside pool range")
	}
	if t.nodes[index-t.first] == nil || t.availBits&(1<<index) != 0 {
		panic("tempRegAlloc.free: register already free")
	}
	t.availBits |= 1 << index
	t.lru.Remove(t.nodes[index-t.first])
	t.nodes[index-t.first] = nil
}

// leastRecentlyUsed returns the allocated register that has gone longest
// without a use. Panics when nothing is allocated.
func (t *tempRegAlloc) leastRecentlyUsed() uint8 {
	front := t.lru.Front()
	if front == nil {
		panic("tempRegAlloc.leastRecentlyUsed: nothing allocated")
	}
	return front.Value.(uint8)
}

// reset releases everything; used at basic-block boundaries.
func (t *tempRegAlloc) reset() {
	count := len(t.nodes)
	t.availBits = ((1 << count) - 1) << t.first
	t.lru.Init()
	for i := range t.nodes {
		t.nodes[i] = nil
	}
}

// isAllocated returns true while index is handed out.
func (t *tempRegAlloc) isAllocated(index uint8) bool {
	return index >= t.first && int(index-t.first) < len(t.nodes) &&
		t.availBits&(1<<index) == 0
}
