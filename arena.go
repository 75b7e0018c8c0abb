package slotpool

import (
	"fmt"
	"reflect"
	"unsafe"
)

// CacheLineSize is the alignment target for the arena base address and,
// for off-heap arenas, the slot stride.
const CacheLineSize = 64

// arena is the fixed block of slots behind a pool.
// Its address range never changes between construction and release.
type arena[T any] struct {
	ptr    unsafe.Pointer // first slot
	base   uintptr
	end    uintptr // base + n*stride
	stride uintptr
	n      int

	heap    []T    // heap backing; keeps the slots reachable for the GC
	mapped  []byte // off-heap backing
	aligned bool
}

// newHeapArena builds an arena on the Go heap. The backing slice is
// over-allocated by just enough elements to start the first slot on a
// cache-line boundary when sizeof(T) makes that possible.
func newHeapArena[T any](n int) (*arena[T], error) {
	size, err := slotSize[T]()
	if err != nil {
		return nil, err
	}

	extra := int(CacheLineSize/gcd(size, CacheLineSize)) - 1
	buf := make([]T, n+extra)

	off, aligned := 0, false
	for k := 0; k <= extra; k++ {
		if uintptr(unsafe.Pointer(&buf[k]))%CacheLineSize == 0 {
			off, aligned = k, true
			break
		}
	}
	buf = buf[off : off+n : off+n]

	a := &arena[T]{
		ptr:     unsafe.Pointer(&buf[0]),
		stride:  size,
		n:       n,
		heap:    buf,
		aligned: aligned,
	}
	a.base = uintptr(a.ptr)
	a.end = a.base + uintptr(n)*size
	return a, nil
}

// newOffHeapArena maps anonymous memory for the slots. Each slot is rounded
// up to a whole number of cache lines so neighbouring slots never share one.
// The GC cannot see into the mapping, so T must not contain pointers.
func newOffHeapArena[T any](n int) (*arena[T], error) {
	size, err := slotSize[T]()
	if err != nil {
		return nil, err
	}
	if t := reflect.TypeFor[T](); hasPointers(t) {
		return nil, fmt.Errorf("%w: %s", ErrPointerType, t)
	}

	stride := alignUp(size, CacheLineSize)
	if uintptr(n) > ^uintptr(0)/stride {
		return nil, fmt.Errorf("%w: %d slots of %d bytes", ErrInvalidCapacity, n, stride)
	}

	mem, err := mapAnon(int(uintptr(n) * stride))
	if err != nil {
		return nil, fmt.Errorf("slotpool: failed to map off-heap arena: %w", err)
	}

	a := &arena[T]{
		ptr:     unsafe.Pointer(&mem[0]),
		stride:  stride,
		n:       n,
		mapped:  mem,
		aligned: uintptr(unsafe.Pointer(&mem[0]))%CacheLineSize == 0,
	}
	a.base = uintptr(a.ptr)
	a.end = a.base + uintptr(n)*stride
	return a, nil
}

// slot returns a pointer to slot i. It performs no bounds checking.
func (a *arena[T]) slot(i int) *T {
	return (*T)(unsafe.Add(a.ptr, uintptr(i)*a.stride))
}

// contains reports whether addr lies in [base, base+n*stride).
func (a *arena[T]) contains(addr uintptr) bool {
	return addr >= a.base && addr < a.end
}

// index maps a contained address to its slot.
func (a *arena[T]) index(addr uintptr) int {
	return int((addr - a.base) / a.stride)
}

func (a *arena[T]) onBoundary(addr uintptr) bool {
	return (addr-a.base)%a.stride == 0
}

// release drops the backing memory. Any pointer into the arena is invalid
// afterwards; for off-heap arenas touching one faults.
func (a *arena[T]) release() error {
	var err error
	if a.mapped != nil {
		err = unmap(a.mapped)
		a.mapped = nil
	}
	a.heap = nil
	a.ptr = nil
	a.end = a.base
	return err
}

func slotSize[T any]() (uintptr, error) {
	var zero T
	size := unsafe.Sizeof(zero)
	if size == 0 {
		return 0, fmt.Errorf("%w: %T", ErrZeroSize, zero)
	}
	return size, nil
}

// hasPointers reports whether values of t hold anything the GC must trace.
func hasPointers(t reflect.Type) bool {
	switch t.Kind() {
	case reflect.Pointer, reflect.UnsafePointer, reflect.Map, reflect.Chan,
		reflect.Func, reflect.Interface, reflect.Slice, reflect.String:
		return true
	case reflect.Array:
		return t.Len() > 0 && hasPointers(t.Elem())
	case reflect.Struct:
		for i := 0; i < t.NumField(); i++ {
			if hasPointers(t.Field(i).Type) {
				return true
			}
		}
	}
	return false
}

// alignUp rounds n up to a multiple of align, which must be a power of two.
func alignUp(n, align uintptr) uintptr {
	mask := align - 1
	return (n + mask) & ^mask
}

func gcd(a, b uintptr) uintptr {
	for b != 0 {
		a, b = b, a%b
	}
	return a
}
