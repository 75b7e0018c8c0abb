//go:build unix

package slotpool

import (
	"os"

	"golang.org/x/sys/unix"
)

// mapAnon maps size bytes of private anonymous memory and faults every page
// in up front so the first allocations do not trap into the kernel.
func mapAnon(size int) ([]byte, error) {
	mem, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil, err
	}

	// Advisory only; EINVAL on odd platforms is not worth failing for.
	_ = unix.Madvise(mem, unix.MADV_WILLNEED)

	page := os.Getpagesize()
	for off := 0; off < len(mem); off += page {
		mem[off] = 0
	}
	return mem, nil
}

func unmap(mem []byte) error {
	return unix.Munmap(mem)
}
