package slotpool

import "errors"

var (
	// ErrInvalidCapacity is returned when the capacity is not in [1, MaxCapacity].
	ErrInvalidCapacity = errors.New("slotpool: invalid capacity")
	// ErrZeroSize is returned for element types that occupy no memory.
	ErrZeroSize = errors.New("slotpool: zero-sized element type")
	// ErrPointerType is returned when an off-heap arena is requested for an
	// element type the garbage collector would need to scan.
	ErrPointerType = errors.New("slotpool: element type contains pointers")
	// ErrOffHeapUnsupported is returned on platforms without anonymous mmap.
	ErrOffHeapUnsupported = errors.New("slotpool: off-heap arenas are not supported on this platform")
)
