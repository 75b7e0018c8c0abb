// Package slotpool implements a fixed-capacity, preallocated object pool
// for latency-sensitive concurrent code.
//
// # Overview
//
// A pool owns an arena of N slots, each sized for one value of T, built once
// and never grown. Free slots sit on a lock-free shared stack. Goroutines on a
// hot path keep a private Cache of free slots, so a steady allocate/free cycle
// on one goroutine never touches shared state.
//
// # Basic Usage
//
//	p, err := slotpool.New[Order](1024)
//	if err != nil {
//		return err
//	}
//	defer p.Close()
//
//	c := p.NewCache() // one per goroutine
//	defer c.Release()
//
//	o := c.Allocate()
//	*o = Order{ID: 1001, Price: 99.95, Quantity: 200}
//	// ... use o ...
//	*o = Order{}
//	c.Deallocate(o)
//
// # Allocation Order
//
// Cache.Allocate tries, in order:
//
//   - the cache's own stack (no atomics)
//   - the shared free list (CAS loop, lock-free but not wait-free)
//   - a plain heap allocation (overflow)
//
// Allocation never fails. Overflow is reported through a sampled warning on
// the pool's logger and the OverflowAllocs counter; callers that care about
// capacity pressure watch those.
//
// Deallocate decides by address alone: pointers inside the arena go back to
// the cache, anything else is treated as overflow memory and left to the GC.
// Double frees and foreign pointers are not detected.
//
// # Memory Layout
//
// The default arena is a typed slice on the Go heap, so T may contain
// pointers. WithOffHeap maps the arena outside the heap and pads every slot
// to a whole number of cache lines; it requires a pointer-free T. Pad T to
// CacheLineSize yourself to get the same isolation on the heap backing.
//
// # Caches
//
// Slots freed into a cache stay there until the cache is flushed, released
// or, with WithCacheLimit, spills. There is no rebalancing between caches. A
// cache dropped without Release is drained when the GC finds it unreachable.
//
// # Metrics and Monitoring
//
//	prometheus.MustRegister(slotpool.NewCollector("trading", "orders", p))
//	s := p.Stats()
//	fmt.Printf("overflow in flight: %d\n", s.OverflowLive())
package slotpool
