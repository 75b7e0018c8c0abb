package slotpool

import "sync/atomic"

// freeList is a lock-free LIFO stack (Treiber stack) of free slot indices.
//
// Links live in a parallel array instead of inside the slots, so a free slot
// never has its bytes reinterpreted. A link holds index+1; 0 ends a chain.
//
// The head packs a 32-bit tag above the 32-bit top link. Every successful
// CAS bumps the tag: slots are recycled, never freed, so the same index can
// leave and re-enter the stack between a pop's load and its CAS.
type freeList struct {
	head atomic.Uint64
	_    [CacheLineSize - 8]byte
	next []atomic.Uint32
}

func newFreeList(n int) *freeList {
	return &freeList{next: make([]atomic.Uint32, n)}
}

// seed links slots 0..n-1 in ascending order and publishes the chain.
// Callers must not touch the list until seed returns.
func (l *freeList) seed() {
	n := len(l.next)
	for i := 0; i < n-1; i++ {
		l.next[i].Store(uint32(i + 2))
	}
	l.next[n-1].Store(0)
	l.head.Store(packHead(0, 1))
}

// pop removes the top slot. It returns false when the list is empty.
func (l *freeList) pop() (int, bool) {
	for {
		old := l.head.Load()
		tag, top := unpackHead(old)
		if top == 0 {
			return -1, false
		}
		next := l.next[top-1].Load()
		if l.head.CompareAndSwap(old, packHead(tag+1, next)) {
			return int(top - 1), true
		}
	}
}

// push puts slot i on top of the list.
func (l *freeList) push(i int) {
	l.pushChain(i, i)
}

// pushChain splices a chain already linked from first to last on top of
// the list in a single CAS.
func (l *freeList) pushChain(first, last int) {
	for {
		old := l.head.Load()
		tag, top := unpackHead(old)
		l.next[last].Store(top)
		if l.head.CompareAndSwap(old, packHead(tag+1, uint32(first+1))) {
			return
		}
	}
}

// link sets the successor of slot i to slot j. Only the owner of slot i
// may call it.
func (l *freeList) link(i, j int) {
	l.next[i].Store(uint32(j + 1))
}

// len counts the free slots. It is exact only while no goroutine pushes or
// pops; under concurrent use it is a bounded best-effort walk.
func (l *freeList) len() int {
	_, top := unpackHead(l.head.Load())
	n := 0
	for top != 0 && n < len(l.next) {
		n++
		top = l.next[top-1].Load()
	}
	return n
}

// walk calls fn for each free slot from top to bottom. Quiescent use only.
func (l *freeList) walk(fn func(i int)) {
	_, top := unpackHead(l.head.Load())
	for n := 0; top != 0 && n < len(l.next); n++ {
		fn(int(top - 1))
		top = l.next[top-1].Load()
	}
}

func packHead(tag, top uint32) uint64 {
	return uint64(tag)<<32 | uint64(top)
}

func unpackHead(h uint64) (tag, top uint32) {
	return uint32(h >> 32), uint32(h)
}
