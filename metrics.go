package slotpool

// Stats is a snapshot of pool counters. Counters only move on slow paths:
// overflow, cache drains and cache creation.
type Stats struct {
	Capacity       int    // Slots in the arena
	SlotSize       int    // Bytes between consecutive slots
	OffHeap        bool   // Arena is mmap'd outside the Go heap
	Aligned        bool   // First slot starts on a cache line
	OverflowAllocs uint64 // Allocations served from the heap
	OverflowFrees  uint64 // Heap allocations handed back
	CacheDrains    uint64 // Batches of slots returned by caches
	LiveCaches     int64  // Caches not yet released
}

// OverflowLive returns the number of heap allocations not yet handed back.
func (s Stats) OverflowLive() uint64 {
	if s.OverflowFrees > s.OverflowAllocs {
		return 0
	}
	return s.OverflowAllocs - s.OverflowFrees
}

// Stats returns a snapshot of the pool's counters.
func (p *Pool[T]) Stats() Stats {
	return Stats{
		Capacity:       p.arena.n,
		SlotSize:       int(p.arena.stride),
		OffHeap:        p.opts.offHeap,
		Aligned:        p.arena.aligned,
		OverflowAllocs: p.stats.overflowAllocs.Load(),
		OverflowFrees:  p.stats.overflowFrees.Load(),
		CacheDrains:    p.stats.cacheDrains.Load(),
		LiveCaches:     p.stats.liveCaches.Load(),
	}
}
