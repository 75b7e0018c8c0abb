//go:build !unix

package slotpool

func mapAnon(int) ([]byte, error) {
	return nil, ErrOffHeapUnsupported
}

func unmap([]byte) error {
	return nil
}
