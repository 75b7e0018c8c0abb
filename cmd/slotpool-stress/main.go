// Command slotpool-stress allocates an order from a pool, then hammers the
// pool from many goroutines and reports whether every slot was accounted for.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/pavanmanishd/slotpool"
	"github.com/pavanmanishd/slotpool/internal/config"
	"github.com/pavanmanishd/slotpool/internal/logger"
	"github.com/pavanmanishd/slotpool/internal/stress"
)

// Order fills exactly one cache line.
type Order struct {
	ID       uint64
	Price    float64
	Quantity int64
	Owner    int64
	_        [32]byte
}

func main() {
	path := flag.String("config", "", "path to a YAML config file")
	flag.Parse()

	cfg, err := config.Load(*path)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	log := logger.New(cfg.LogLevel)
	defer func() { _ = log.Sync() }()

	if err := run(cfg, log); err != nil {
		log.Error("stress run failed", zap.Error(err))
		os.Exit(1)
	}
}

func run(cfg *config.Config, log *zap.Logger) error {
	opts := []slotpool.Option{slotpool.WithLogger(log)}
	if cfg.OffHeap {
		opts = append(opts, slotpool.WithOffHeap())
	}
	if cfg.CacheLimit > 0 {
		opts = append(opts, slotpool.WithCacheLimit(cfg.CacheLimit))
	}

	pool, err := slotpool.New[Order](cfg.Capacity, opts...)
	if err != nil {
		return err
	}
	defer func() {
		if err := pool.Close(); err != nil {
			log.Warn("close pool", zap.Error(err))
		}
	}()

	log.Info("pool ready",
		zap.Int("capacity", pool.Cap()),
		zap.Uintptr("slot_size", pool.SlotSize()),
		zap.Bool("aligned", pool.Aligned()),
	)

	if cfg.MetricsAddr != "" {
		srv := serveMetrics(cfg.MetricsAddr, pool, log)
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			_ = srv.Shutdown(ctx)
		}()
	}

	single(pool, log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	res, err := stress.Run(ctx, pool, stress.Config{
		Workers:  cfg.Workers,
		Duration: cfg.Duration,
		Hold:     cfg.Hold,
		Seed:     uint64(time.Now().UnixNano()),
	}, log, func(o *Order, worker int) {
		o.Owner = int64(worker)
	})
	if err != nil {
		return err
	}

	s := pool.Stats()
	log.Info("pool accounted for",
		zap.Int("free_slots", res.FreeSlots),
		zap.Uint64("overflow_allocs", s.OverflowAllocs),
		zap.Uint64("overflow_live", s.OverflowLive()),
		zap.Uint64("cache_drains", s.CacheDrains),
	)
	return nil
}

// single walks one order through its whole life: allocate, fill, read,
// clear, return.
func single(pool *slotpool.Pool[Order], log *zap.Logger) {
	c := pool.NewCache()
	defer c.Release()

	o := c.Allocate()
	*o = Order{ID: 1001, Price: 99.95, Quantity: 200}
	log.Info("order allocated",
		zap.Uint64("id", o.ID),
		zap.Float64("price", o.Price),
		zap.Int64("qty", o.Quantity),
		zap.Bool("pooled", pool.Owns(o)),
	)
	slotpool.Put[Order](c, o)
}

func serveMetrics(addr string, pool *slotpool.Pool[Order], log *zap.Logger) *http.Server {
	reg := prometheus.NewRegistry()
	reg.MustRegister(slotpool.NewCollector("stress", "orders", pool))

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("metrics server", zap.Error(err))
		}
	}()
	log.Info("serving metrics", zap.String("addr", addr))
	return srv
}
