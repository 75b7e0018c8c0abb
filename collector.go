package slotpool

import "github.com/prometheus/client_golang/prometheus"

// StatsSource is anything that can report pool statistics.
type StatsSource interface {
	Stats() Stats
}

var _ prometheus.Collector = (*Collector)(nil)

// Collector exports a pool's Stats as Prometheus metrics.
type Collector struct {
	src StatsSource

	capacity       *prometheus.Desc
	overflowAllocs *prometheus.Desc
	overflowFrees  *prometheus.Desc
	cacheDrains    *prometheus.Desc
	liveCaches     *prometheus.Desc
}

// NewCollector returns a collector for src. Every metric carries a "pool"
// label set to name.
func NewCollector(namespace, name string, src StatsSource) *Collector {
	labels := prometheus.Labels{"pool": name}
	desc := func(metric, help string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "slotpool", metric), help, nil, labels)
	}
	return &Collector{
		src:            src,
		capacity:       desc("capacity_slots", "Number of preallocated slots in the arena"),
		overflowAllocs: desc("overflow_allocations_total", "Allocations served from the heap after the arena was exhausted"),
		overflowFrees:  desc("overflow_frees_total", "Heap allocations handed back to the pool"),
		cacheDrains:    desc("cache_drains_total", "Batches of slots returned from caches to the shared free list"),
		liveCaches:     desc("live_caches", "Caches created and not yet released"),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.capacity
	ch <- c.overflowAllocs
	ch <- c.overflowFrees
	ch <- c.cacheDrains
	ch <- c.liveCaches
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	s := c.src.Stats()
	ch <- prometheus.MustNewConstMetric(c.capacity, prometheus.GaugeValue, float64(s.Capacity))
	ch <- prometheus.MustNewConstMetric(c.overflowAllocs, prometheus.CounterValue, float64(s.OverflowAllocs))
	ch <- prometheus.MustNewConstMetric(c.overflowFrees, prometheus.CounterValue, float64(s.OverflowFrees))
	ch <- prometheus.MustNewConstMetric(c.cacheDrains, prometheus.CounterValue, float64(s.CacheDrains))
	ch <- prometheus.MustNewConstMetric(c.liveCaches, prometheus.GaugeValue, float64(s.LiveCaches))
}
