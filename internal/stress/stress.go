// Package stress drives a pool from many goroutines and checks that no slot
// is ever held twice and that every slot is accounted for afterwards.
package stress

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/pavanmanishd/slotpool"
)

var (
	// ErrDoubleOwnership means two workers held the same slot at once.
	ErrDoubleOwnership = errors.New("stress: slot held by two workers")
	// ErrLostSlots means the free list did not hold every slot after the run.
	ErrLostSlots = errors.New("stress: free slots do not add up to capacity")
)

// Config controls a run.
type Config struct {
	Workers  int           // Concurrent goroutines, each with its own cache
	Duration time.Duration // How long to run; ignored if Ops > 0
	Ops      int           // Operations per worker; 0 means run for Duration
	Hold     int           // Most slots a worker holds at once
	Seed     uint64

	// Burst makes every worker fill its hold, then wait for all the others
	// before any slot is freed. Workers*Hold above capacity then always
	// overflows.
	Burst bool
}

// Result summarizes a run.
type Result struct {
	Ops            uint64 // Allocate and Deallocate calls across all workers
	PoolAllocs     uint64 // Allocations that returned an arena slot
	OverflowAllocs uint64 // Allocations that returned heap memory
	OverflowFrees  uint64
	FreeSlots      int // Slots on the shared free list after all caches were released
}

// owners records which worker holds each slot; 0 means free.
type owners []atomic.Int32

func (o owners) claim(slot int, worker int32) bool {
	return o[slot].CompareAndSwap(0, worker)
}

func (o owners) unclaim(slot int, worker int32) bool {
	return o[slot].CompareAndSwap(worker, 0)
}

// Run hammers p with cfg.Workers goroutines. The pool must be idle when Run
// starts and is idle again when it returns. touch, if non-nil, is called on
// every allocation with the worker number so the caller can scribble on the
// value.
func Run[T any](ctx context.Context, p *slotpool.Pool[T], cfg Config, log *zap.Logger, touch func(*T, int)) (Result, error) {
	if cfg.Workers <= 0 {
		return Result{}, fmt.Errorf("stress: workers must be positive, got %d", cfg.Workers)
	}
	if cfg.Hold <= 0 {
		cfg.Hold = 1
	}
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.Ops == 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Duration)
		defer cancel()
	}

	reg := make(owners, p.Cap())
	results := make([]Result, cfg.Workers)
	var ready *sync.WaitGroup
	if cfg.Burst {
		ready = new(sync.WaitGroup)
		ready.Add(cfg.Workers)
	}

	start := time.Now()
	g, ctx := errgroup.WithContext(ctx)
	for w := 0; w < cfg.Workers; w++ {
		g.Go(func() error {
			return work(ctx, p, cfg, reg, ready, int32(w+1), &results[w], touch)
		})
	}
	runErr := g.Wait()

	var total Result
	for _, r := range results {
		total.Ops += r.Ops
		total.PoolAllocs += r.PoolAllocs
		total.OverflowAllocs += r.OverflowAllocs
		total.OverflowFrees += r.OverflowFrees
	}
	total.FreeSlots = p.FreeLen()

	log.Info("stress run finished",
		zap.Int("workers", cfg.Workers),
		zap.Duration("elapsed", time.Since(start)),
		zap.Uint64("ops", total.Ops),
		zap.Uint64("pool_allocs", total.PoolAllocs),
		zap.Uint64("overflow_allocs", total.OverflowAllocs),
		zap.Int("free_slots", total.FreeSlots),
	)

	if runErr != nil {
		return total, runErr
	}
	if total.FreeSlots != p.Cap() {
		return total, fmt.Errorf("%w: %d free, capacity %d", ErrLostSlots, total.FreeSlots, p.Cap())
	}
	return total, nil
}

func work[T any](ctx context.Context, p *slotpool.Pool[T], cfg Config, reg owners, ready *sync.WaitGroup, id int32, res *Result, touch func(*T, int)) (err error) {
	c := p.NewCache()
	defer c.Release()

	rng := rand.New(rand.NewPCG(cfg.Seed, uint64(id)))
	held := make([]*T, 0, cfg.Hold)

	acquire := func() error {
		x := c.Allocate()
		if slot, ok := p.Index(x); ok {
			if !reg.claim(slot, id) {
				return fmt.Errorf("%w: slot %d handed to worker %d while held by %d",
					ErrDoubleOwnership, slot, id, reg[slot].Load())
			}
			res.PoolAllocs++
		} else {
			res.OverflowAllocs++
		}
		if touch != nil {
			touch(x, int(id))
		}
		held = append(held, x)
		res.Ops++
		return nil
	}
	release := func(i int) error {
		x := held[i]
		held[i] = held[len(held)-1]
		held = held[:len(held)-1]
		if slot, ok := p.Index(x); ok {
			if !reg.unclaim(slot, id) {
				return fmt.Errorf("%w: slot %d released by worker %d", ErrDoubleOwnership, slot, id)
			}
		} else {
			res.OverflowFrees++
		}
		c.Deallocate(x)
		res.Ops++
		return nil
	}
	defer func() {
		for len(held) > 0 {
			if rerr := release(len(held) - 1); rerr != nil && err == nil {
				err = rerr
			}
		}
	}()

	if ready != nil {
		var ferr error
		for len(held) < cfg.Hold && ferr == nil {
			ferr = acquire()
		}
		ready.Done()
		if ferr != nil {
			return ferr
		}
		ready.Wait()
	}

	for n := 0; cfg.Ops == 0 || n < cfg.Ops; n++ {
		if n&63 == 0 && ctx.Err() != nil {
			return nil
		}

		if len(held) == 0 || (len(held) < cfg.Hold && rng.IntN(2) == 0) {
			if err := acquire(); err != nil {
				return err
			}
			continue
		}

		if err := release(rng.IntN(len(held))); err != nil {
			return err
		}
	}
	return nil
}
