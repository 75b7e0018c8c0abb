package slotpool_test

import (
	"errors"
	"fmt"
	"math"
	"runtime"
	"sync"
	"testing"
	"time"
	"unsafe"

	"github.com/pavanmanishd/slotpool"
)

type order struct {
	ID       uint64
	Price    float64
	Quantity int64
	Side     uint8
	_        [39]byte
}

// TestEdgeCases covers the corners of the pool's public surface
func TestEdgeCases(t *testing.T) {
	t.Run("InvalidCapacities", func(t *testing.T) {
		for _, n := range []int{0, -1, -1000, math.MinInt32} {
			if _, err := slotpool.New[order](n); !errors.Is(err, slotpool.ErrInvalidCapacity) {
				t.Errorf("New(%d): got %v, want ErrInvalidCapacity", n, err)
			}
		}
	})

	t.Run("SingleSlot", func(t *testing.T) {
		p := slotpool.MustNew[order](1)
		defer p.Close()

		a := p.Allocate()
		b := p.Allocate()
		if !p.Owns(a) || p.Owns(b) {
			t.Fatalf("single slot pool: Owns(a)=%v Owns(b)=%v", p.Owns(a), p.Owns(b))
		}
		p.Deallocate(b)
		p.Deallocate(a)
		if got := p.Allocate(); got != a {
			t.Error("freed slot was not reused")
		}
	})

	t.Run("ZeroSizeType", func(t *testing.T) {
		if _, err := slotpool.New[struct{}](4); !errors.Is(err, slotpool.ErrZeroSize) {
			t.Errorf("got %v, want ErrZeroSize", err)
		}
	})

	t.Run("AlignmentEdgeCases", func(t *testing.T) {
		type AlignTest1 struct{ a int8 }
		type AlignTest2 struct{ a int64 }
		type AlignTest3 struct {
			a int8
			b int64
		}

		check := func(name string, addr, align uintptr) {
			if addr%align != 0 {
				t.Errorf("%s not properly aligned: %x", name, addr)
			}
		}

		p1 := slotpool.MustNew[AlignTest1](3)
		p2 := slotpool.MustNew[AlignTest2](3)
		p3 := slotpool.MustNew[AlignTest3](3)
		for i := 0; i < 3; i++ {
			check("AlignTest1", uintptr(unsafe.Pointer(p1.Allocate())), unsafe.Alignof(AlignTest1{}))
			check("AlignTest2", uintptr(unsafe.Pointer(p2.Allocate())), unsafe.Alignof(AlignTest2{}))
			check("AlignTest3", uintptr(unsafe.Pointer(p3.Allocate())), unsafe.Alignof(AlignTest3{}))
		}

		p := slotpool.MustNew[order](8)
		if p.Aligned() {
			check("order", uintptr(unsafe.Pointer(p.Allocate())), slotpool.CacheLineSize)
		}
	})

	t.Run("UseAfterClose", func(t *testing.T) {
		p := slotpool.MustNew[order](4)
		p.Close()

		testPanic := func(name string, fn func()) {
			defer func() {
				if r := recover(); r == nil {
					t.Errorf("%s: expected panic after Close()", name)
				}
			}()
			fn()
		}

		testPanic("Allocate", func() { p.Allocate() })
		testPanic("NewCache", func() { p.NewCache() })
		testPanic("AllocZeroed", func() { slotpool.AllocZeroed[order](p) })
	})

	t.Run("UseAfterRelease", func(t *testing.T) {
		p := slotpool.MustNew[order](4)
		c := p.NewCache()
		c.Release()
		// Multiple releases should be safe
		c.Release()

		defer func() {
			if r := recover(); r == nil {
				t.Error("expected panic on released cache")
			}
		}()
		c.Allocate()
	})

	t.Run("MultipleCloses", func(t *testing.T) {
		p := slotpool.MustNew[order](4)
		for i := 0; i < 3; i++ {
			if err := p.Close(); err != nil {
				t.Errorf("Close #%d: %v", i+1, err)
			}
		}
	})

	t.Run("NilDeallocate", func(t *testing.T) {
		p := slotpool.MustNew[order](2)
		c := p.NewCache()
		defer c.Release()

		p.Deallocate(nil)
		c.Deallocate(nil)
		slotpool.Put[order](c, nil)
		if s := p.Stats(); s.OverflowFrees != 0 {
			t.Errorf("nil deallocate counted as overflow free: %+v", s)
		}
	})
}

// TestMemoryCorruption checks that writes to one slot never leak into another
func TestMemoryCorruption(t *testing.T) {
	const n = 128
	p := slotpool.MustNew[order](n)
	c := p.NewCache()
	defer c.Release()

	held := make([]*order, n)
	for i := range held {
		held[i] = c.Allocate()
		*held[i] = order{ID: uint64(i), Price: float64(i) * 1.5, Quantity: int64(-i), Side: uint8(i % 2)}
	}
	for i, o := range held {
		want := order{ID: uint64(i), Price: float64(i) * 1.5, Quantity: int64(-i), Side: uint8(i % 2)}
		if *o != want {
			t.Errorf("slot %d corrupted: got %+v, want %+v", i, *o, want)
		}
	}
}

// TestBoundaryConditions exercises the first and last slots of the arena
func TestBoundaryConditions(t *testing.T) {
	const n = 16
	p := slotpool.MustNew[order](n)

	held := make([]*order, n)
	for i := range held {
		held[i] = p.Allocate()
	}
	first, last := held[0], held[n-1]

	if idx, ok := p.Index(first); !ok || idx != 0 {
		t.Errorf("Index(first) = %d, %v", idx, ok)
	}
	if idx, ok := p.Index(last); !ok || idx != n-1 {
		t.Errorf("Index(last) = %d, %v", idx, ok)
	}

	if p.Owns(new(order)) {
		t.Error("heap value is owned by the pool")
	}
	if got := uintptr(unsafe.Pointer(last)) - uintptr(unsafe.Pointer(first)); got != (n-1)*p.SlotSize() {
		t.Errorf("arena span = %d, want %d", got, (n-1)*p.SlotSize())
	}

	// Returning the last slot first must not disturb the rest of the list.
	for i := n - 1; i >= 0; i-- {
		p.Deallocate(held[i])
	}
	if got := p.FreeLen(); got != n {
		t.Errorf("FreeLen = %d, want %d", got, n)
	}
}

// TestTypeSpecificAllocations runs the pool over a spread of element types
func TestTypeSpecificAllocations(t *testing.T) {
	t.Run("Scalars", func(t *testing.T) {
		p := slotpool.MustNew[int8](3)
		a, b, c := p.Allocate(), p.Allocate(), p.Allocate()
		*a, *b, *c = 1, 2, 3
		if *a+*b+*c != 6 {
			t.Error("int8 slots overlap")
		}
	})

	t.Run("Arrays", func(t *testing.T) {
		p := slotpool.MustNew[[100]int32](4)
		x := p.Allocate()
		for i := range x {
			x[i] = int32(i)
		}
		if x[99] != 99 {
			t.Error("array slot not writable")
		}
	})

	t.Run("PointerFields", func(t *testing.T) {
		type node struct {
			Name string
			Next *node
		}
		p := slotpool.MustNew[node](2)
		a, b := p.Allocate(), p.Allocate()
		*a = node{Name: "a", Next: b}
		*b = node{Name: fmt.Sprint("b", 1)}

		runtime.GC()
		if a.Next.Name != "b1" {
			t.Error("heap arena slots must keep their referents alive")
		}
	})

	t.Run("OffHeapRejectsPointers", func(t *testing.T) {
		type withString struct{ S string }
		_, err := slotpool.New[withString](2, slotpool.WithOffHeap())
		if !errors.Is(err, slotpool.ErrPointerType) && !errors.Is(err, slotpool.ErrOffHeapUnsupported) {
			t.Errorf("got %v, want ErrPointerType", err)
		}
	})
}

// TestOverflowBehavior drains the arena and checks the heap fallback
func TestOverflowBehavior(t *testing.T) {
	const n = 8
	p := slotpool.MustNew[order](n)

	var held []*order
	for i := 0; i < 3*n; i++ {
		held = append(held, p.Allocate())
	}
	for _, o := range held {
		p.Deallocate(o)
	}

	s := p.Stats()
	if s.OverflowAllocs != 2*n {
		t.Errorf("OverflowAllocs = %d, want %d", s.OverflowAllocs, 2*n)
	}
	if s.OverflowLive() != 0 {
		t.Errorf("OverflowLive = %d, want 0", s.OverflowLive())
	}
	if got := p.FreeLen(); got != n {
		t.Errorf("FreeLen = %d, want %d", got, n)
	}
}

// TestMemoryLeaks checks that pooled allocation does not grow the heap
func TestMemoryLeaks(t *testing.T) {
	p := slotpool.MustNew[order](1024)
	c := p.NewCache()
	defer c.Release()

	var m1, m2 runtime.MemStats
	runtime.GC()
	runtime.ReadMemStats(&m1)

	for i := 0; i < 100000; i++ {
		o := c.Allocate()
		o.ID = uint64(i)
		c.Deallocate(o)
	}

	runtime.GC()
	runtime.ReadMemStats(&m2)

	if m2.Mallocs-m1.Mallocs > 1000 {
		t.Errorf("pooled alloc/free cycle allocated %d times", m2.Mallocs-m1.Mallocs)
	}
}

// TestKeepAlive checks that an off-heap pool stays mapped while slots are in use
func TestKeepAlive(t *testing.T) {
	p, err := slotpool.New[order](16, slotpool.WithOffHeap())
	if err != nil {
		t.Skip(err)
	}
	defer p.Close()

	o := slotpool.PtrAndKeepAlive(p, p.Allocate())
	runtime.GC()
	o.ID = 42
	if o.ID != 42 {
		t.Error("write to off-heap slot lost")
	}
}

func TestConcurrencyStress(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping stress test in short mode")
	}

	const (
		capacity        = 256
		numWorkers      = 20
		numOpsPerWorker = 10000
	)
	p := slotpool.MustNew[order](capacity)

	var wg sync.WaitGroup
	errs := make(chan error, numWorkers)

	// Start workers
	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()

			c := p.NewCache()
			defer c.Release()

			var held []*order
			for j := 0; j < numOpsPerWorker; j++ {
				switch j % 4 {
				case 0, 1:
					o := c.Allocate()
					o.ID = uint64(workerID)
					held = append(held, o)
				case 2:
					o := held[len(held)-1]
					if o.ID != uint64(workerID) {
						errs <- fmt.Errorf("worker %d: slot overwritten by worker %d", workerID, o.ID)
						return
					}
					held = held[:len(held)-1]
					c.Deallocate(o)
				case 3:
					if j%100 == 3 {
						for _, o := range held {
							c.Deallocate(o)
						}
						held = held[:0]
						c.Flush()
					}
				}

				// Yield occasionally
				if j%50 == 0 {
					runtime.Gosched()
				}
			}
			for _, o := range held {
				c.Deallocate(o)
			}
		}(i)
	}

	// Wait for completion
	wg.Wait()
	close(errs)

	// Check for errors
	for err := range errs {
		t.Error(err)
	}
	if got := p.FreeLen(); got != capacity {
		t.Errorf("FreeLen = %d, want %d after all caches released", got, capacity)
	}
}

// TestCloseWithLiveCacheDoesNotHang tests that Close never blocks on caches
// that are still in use elsewhere
func TestCloseWithLiveCacheDoesNotHang(t *testing.T) {
	p := slotpool.MustNew[order](16)
	c := p.NewCache()
	c.Deallocate(c.Allocate())

	done := make(chan error, 1)
	go func() { done <- p.Close() }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Close timed out")
	}
}
