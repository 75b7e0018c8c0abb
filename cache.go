package slotpool

import (
	"runtime"
	"unsafe"

	"go.uber.org/zap"
)

// Cache is a private stack of free slots for one goroutine.
//
// A Cache is not safe for concurrent use. Each goroutine that allocates on a
// hot path takes its own from Pool.NewCache and calls Release when it is
// done. Slots freed into a Cache are only visible to that Cache until it is
// flushed, released, or spills past the pool's cache limit.
type Cache[T any] struct {
	pool    *Pool[T]
	state   *cacheState
	limit   int
	cleanup runtime.Cleanup
}

// cacheState is split from Cache so the cleanup that drains an abandoned
// cache does not keep the Cache itself reachable.
type cacheState struct {
	_      [CacheLineSize]byte
	stack  []int32
	hits   uint64
	misses uint64
}

// CacheStats is a snapshot of one cache's counters.
type CacheStats struct {
	Hits   uint64 // Allocations served from the cache
	Misses uint64 // Allocations that fell through to the shared list or heap
	Len    int    // Slots currently held
}

const maxInitialCacheSize = 64

// NewCache returns a cache bound to p. If the cache becomes unreachable
// without Release, its slots are returned to the shared free list by the
// garbage collector.
func (p *Pool[T]) NewCache() *Cache[T] {
	p.panicIfClosed()

	s := &cacheState{stack: make([]int32, 0, min(p.Cap(), maxInitialCacheSize))}
	c := &Cache[T]{
		pool:  p,
		state: s,
		limit: p.opts.cacheLimit,
	}
	c.cleanup = runtime.AddCleanup(c, p.drainAbandoned, s)
	p.stats.liveCaches.Add(1)
	return c
}

func (p *Pool[T]) drainAbandoned(s *cacheState) {
	n := len(s.stack)
	p.stats.liveCaches.Add(-1)
	p.drain(s.stack)
	p.log.Debug("abandoned cache drained", zap.Int("slots", n))
}

// Allocate returns storage for one T, preferring the cache, then the shared
// free list, then the heap.
func (c *Cache[T]) Allocate() *T {
	x, _ := c.allocate()
	return x
}

func (c *Cache[T]) allocate() (*T, Origin) {
	s := c.mustState()
	c.pool.panicIfClosed()
	if n := len(s.stack); n > 0 {
		i := s.stack[n-1]
		s.stack = s.stack[:n-1]
		s.hits++
		return c.pool.arena.slot(int(i)), OriginCache
	}
	s.misses++
	return c.pool.allocate()
}

// Deallocate returns x to the cache if it is an arena slot. Overflow memory
// is left to the garbage collector. Deallocate(nil) is a no-op.
func (c *Cache[T]) Deallocate(x *T) {
	if x == nil {
		return
	}
	s := c.mustState()
	p := c.pool
	p.panicIfClosed()
	addr := uintptr(unsafe.Pointer(x))
	if !p.arena.contains(addr) {
		p.releaseOverflow()
		return
	}
	p.checkSlot(addr)
	s.stack = append(s.stack, int32(p.arena.index(addr)))

	if c.limit > 0 && len(s.stack) > c.limit {
		c.spill(len(s.stack) / 2)
	}
}

// spill hands the k oldest cached slots back to the shared free list.
func (c *Cache[T]) spill(k int) {
	s := c.state
	c.pool.drain(s.stack[:k])
	s.stack = append(s.stack[:0], s.stack[k:]...)
}

// Flush returns every cached slot to the shared free list. The cache stays
// usable.
func (c *Cache[T]) Flush() {
	s := c.mustState()
	c.pool.drain(s.stack)
	s.stack = s.stack[:0]
}

// Release flushes the cache and detaches it from the pool. Any later use
// panics. Release is idempotent and safe after the pool is closed.
func (c *Cache[T]) Release() {
	if c.state == nil {
		return
	}
	c.cleanup.Stop()
	c.Flush()
	c.state = nil
	c.pool.stats.liveCaches.Add(-1)
}

// Len returns the number of slots held by the cache.
func (c *Cache[T]) Len() int {
	return len(c.mustState().stack)
}

// Stats returns a snapshot of the cache's counters.
func (c *Cache[T]) Stats() CacheStats {
	s := c.mustState()
	return CacheStats{Hits: s.hits, Misses: s.misses, Len: len(s.stack)}
}

func (c *Cache[T]) mustState() *cacheState {
	if c.state == nil {
		panic("slotpool: use of Cache after Release()")
	}
	return c.state
}
