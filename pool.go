package slotpool

import (
	"fmt"
	"math"
	"reflect"
	"runtime"
	"sync/atomic"
	"unsafe"

	"go.uber.org/zap"
)

// MaxCapacity is the largest number of slots a pool can hold.
const MaxCapacity = math.MaxInt32

// Origin tells where an allocation was served from.
type Origin uint8

const (
	// OriginCache is a pool slot taken from the caller's Cache.
	OriginCache Origin = iota
	// OriginGlobal is a pool slot taken from the shared free list.
	OriginGlobal
	// OriginOverflow is heap memory handed out because the arena was exhausted.
	OriginOverflow
)

// Pooled reports whether the allocation is an arena slot.
func (o Origin) Pooled() bool {
	return o != OriginOverflow
}

func (o Origin) String() string {
	switch o {
	case OriginCache:
		return "cache"
	case OriginGlobal:
		return "global"
	case OriginOverflow:
		return "overflow"
	default:
		return fmt.Sprintf("Origin(%d)", uint8(o))
	}
}

type poolStats struct {
	overflowAllocs atomic.Uint64
	overflowFrees  atomic.Uint64
	cacheDrains    atomic.Uint64
	liveCaches     atomic.Int64
}

// Pool is a fixed-capacity allocator for values of type T.
//
// Allocate and Deallocate on a Pool go straight to the shared lock-free free
// list. Goroutines on a hot path should take a Cache from NewCache, which
// serves repeated allocate/free cycles without touching shared state.
//
// A Pool never fails an allocation: once every slot is in use it hands out
// ordinary heap memory and logs a sampled warning.
type Pool[T any] struct {
	arena  *arena[T]
	free   *freeList
	opts   options
	log    *zap.Logger
	stats  poolStats
	closed atomic.Bool

	// unmap releases an off-heap mapping if the pool is dropped without Close.
	unmap runtime.Cleanup
}

// New builds a pool with room for capacity values of T. All slots are linked
// into the shared free list before New returns.
func New[T any](capacity int, opts ...Option) (*Pool[T], error) {
	if capacity <= 0 || capacity > MaxCapacity {
		return nil, fmt.Errorf("%w: %d", ErrInvalidCapacity, capacity)
	}

	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	var (
		a   *arena[T]
		err error
	)
	if o.offHeap {
		a, err = newOffHeapArena[T](capacity)
	} else {
		a, err = newHeapArena[T](capacity)
	}
	if err != nil {
		return nil, err
	}

	p := &Pool[T]{
		arena: a,
		free:  newFreeList(capacity),
		opts:  o,
		log: sampled(o.logger).With(
			zap.Stringer("type", reflect.TypeFor[T]()),
			zap.Int("capacity", capacity),
		),
	}
	p.free.seed()
	if o.offHeap {
		p.unmap = runtime.AddCleanup(p, unmapAbandoned[T], abandonedArena[T]{a, p.log})
	}

	p.log.Debug("pool initialized",
		zap.Uintptr("slot_size", a.stride),
		zap.Bool("off_heap", o.offHeap),
		zap.Bool("aligned", a.aligned),
	)
	return p, nil
}

// MustNew is like New but panics on error.
func MustNew[T any](capacity int, opts ...Option) *Pool[T] {
	p, err := New[T](capacity, opts...)
	if err != nil {
		panic(err)
	}
	return p
}

// Allocate returns storage for one T. The contents are whatever the previous
// user left there; the caller initializes the value before use.
func (p *Pool[T]) Allocate() *T {
	x, _ := p.allocate()
	return x
}

// allocate serves from the shared free list, then from the heap.
func (p *Pool[T]) allocate() (*T, Origin) {
	p.panicIfClosed()
	if i, ok := p.free.pop(); ok {
		return p.arena.slot(i), OriginGlobal
	}
	return p.allocateOverflow(), OriginOverflow
}

func (p *Pool[T]) allocateOverflow() *T {
	n := p.stats.overflowAllocs.Add(1)
	p.log.Warn("pool exhausted, allocating from heap", zap.Uint64("overflow_allocs", n))
	return new(T)
}

// Deallocate returns x to the pool. Arena slots go back on the shared free
// list; overflow memory is left to the garbage collector. Deallocate(nil) is
// a no-op. Double frees and foreign pointers are not detected.
func (p *Pool[T]) Deallocate(x *T) {
	if x == nil {
		return
	}
	p.panicIfClosed()
	addr := uintptr(unsafe.Pointer(x))
	if !p.arena.contains(addr) {
		p.releaseOverflow()
		return
	}
	p.checkSlot(addr)
	p.free.push(p.arena.index(addr))
}

func (p *Pool[T]) releaseOverflow() {
	p.stats.overflowFrees.Add(1)
}

func (p *Pool[T]) checkSlot(addr uintptr) {
	if p.opts.slotCheck && !p.arena.onBoundary(addr) {
		panic(fmt.Sprintf("slotpool: pointer %#x is not on a slot boundary", addr))
	}
}

// Owns reports whether x points into the pool's arena.
func (p *Pool[T]) Owns(x *T) bool {
	return x != nil && p.arena.contains(uintptr(unsafe.Pointer(x)))
}

// Index returns the slot number of x, or false if x is not an arena slot.
func (p *Pool[T]) Index(x *T) (int, bool) {
	if !p.Owns(x) {
		return -1, false
	}
	return p.arena.index(uintptr(unsafe.Pointer(x))), true
}

// Cap returns the number of slots in the arena.
func (p *Pool[T]) Cap() int {
	return p.arena.n
}

// SlotSize returns the distance in bytes between consecutive slots.
func (p *Pool[T]) SlotSize() uintptr {
	return p.arena.stride
}

// Aligned reports whether the first slot starts on a cache-line boundary.
func (p *Pool[T]) Aligned() bool {
	return p.arena.aligned
}

// FreeLen counts the slots on the shared free list. Slots held in caches
// are not included. The count is exact only while the pool is idle.
func (p *Pool[T]) FreeLen() int {
	return p.free.len()
}

// Close releases the arena. It must not run concurrently with any other
// call, and every pointer handed out from the arena is invalid afterwards.
// Close is idempotent.
func (p *Pool[T]) Close() error {
	if p.closed.Swap(true) {
		return nil
	}
	p.unmap.Stop()
	if live := p.stats.liveCaches.Load(); live > 0 {
		p.log.Warn("pool closed with live caches", zap.Int64("caches", live))
	}
	if err := p.arena.release(); err != nil {
		return fmt.Errorf("slotpool: release arena: %w", err)
	}
	p.log.Debug("pool closed")
	return nil
}

type abandonedArena[T any] struct {
	arena *arena[T]
	log   *zap.Logger
}

func unmapAbandoned[T any](a abandonedArena[T]) {
	if err := a.arena.release(); err != nil {
		a.log.Warn("failed to unmap abandoned pool", zap.Error(err))
		return
	}
	a.log.Debug("abandoned pool unmapped")
}

func (p *Pool[T]) panicIfClosed() {
	if p.closed.Load() {
		panic("slotpool: use after Close()")
	}
}

// drain links the given slots top-down and splices them onto the shared
// free list, so idx[len-1] is the next slot handed out. A closed pool takes
// nothing back.
func (p *Pool[T]) drain(idx []int32) {
	n := len(idx)
	if n == 0 || p.closed.Load() {
		return
	}
	for j := n - 1; j > 0; j-- {
		p.free.link(int(idx[j]), int(idx[j-1]))
	}
	p.free.pushChain(int(idx[n-1]), int(idx[0]))
	p.stats.cacheDrains.Add(1)
}
