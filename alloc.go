package slotpool

import "runtime"

// Allocator is the allocate/deallocate contract shared by *Pool and *Cache.
type Allocator[T any] interface {
	Allocate() *T
	Deallocate(*T)
}

// AllocZeroed allocates a slot and clears it.
func AllocZeroed[T any](a Allocator[T]) *T {
	x := a.Allocate()
	var zero T
	*x = zero
	return x
}

// Put clears x and hands it back to a. Clearing drops any references the
// value held, so a recycled slot never keeps garbage alive.
func Put[T any](a Allocator[T], x *T) {
	if x == nil {
		return
	}
	var zero T
	*x = zero
	a.Deallocate(x)
}

// PtrAndKeepAlive returns x and keeps p reachable until this call. A slot
// pointer into an off-heap arena does not keep the pool alive, and an
// unreachable off-heap pool is unmapped, so callers that let go of p while
// still using x must keep p alive past the last use.
func PtrAndKeepAlive[T any](p *Pool[T], x *T) *T {
	runtime.KeepAlive(p)
	return x
}
