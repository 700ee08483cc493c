// monitoring.go
// Pool observability: a counter snapshot and a Prometheus collector.
package mempool

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Stats is a point-in-time snapshot of a pool's counters.
type Stats struct {
	// Central tier
	CentralSpansCarved  uint64
	CentralBlocksCarved uint64
	CentralBlocksOut    uint64
	CentralBlocksIn     uint64

	// Page tier
	OSAllocs      uint64
	OSPages       uint64
	SpanSplits    uint64
	SpanCoalesces uint64

	// Large-object bypass
	LargeAllocs uint64
	LargeFrees  uint64
}

// Snapshot reads every counter once. Counters are independently atomic,
// so the snapshot is approximate under concurrent load.
func (p *Pool) Snapshot() Stats {
	cs := p.central.Stats()
	ps := p.pages.Stats()
	return Stats{
		CentralSpansCarved:  cs.SpansCarved.Load(),
		CentralBlocksCarved: cs.BlocksCarved.Load(),
		CentralBlocksOut:    cs.BlocksOut.Load(),
		CentralBlocksIn:     cs.BlocksIn.Load(),
		OSAllocs:            ps.OSAllocs.Load(),
		OSPages:             ps.OSPages.Load(),
		SpanSplits:          ps.Splits.Load(),
		SpanCoalesces:       ps.Coalesces.Load(),
		LargeAllocs:         p.largeAllocs.Load(),
		LargeFrees:          p.largeFrees.Load(),
	}
}

// collector adapts a pool's counters to the Prometheus scrape model.
type collector struct {
	pool *Pool

	spansCarved   *prometheus.Desc
	blocksCarved  *prometheus.Desc
	blocksOut     *prometheus.Desc
	blocksIn      *prometheus.Desc
	osAllocs      *prometheus.Desc
	osPages       *prometheus.Desc
	spanSplits    *prometheus.Desc
	spanCoalesces *prometheus.Desc
	largeAllocs   *prometheus.Desc
	largeFrees    *prometheus.Desc
}

// Collector returns a prometheus.Collector exposing the pool's
// counters. Register it with any registry; it holds no state of its
// own.
func (p *Pool) Collector() prometheus.Collector {
	return &collector{
		pool: p,
		spansCarved: prometheus.NewDesc("mempool_central_spans_carved_total",
			"Spans fetched from the page tier and carved into blocks.", nil, nil),
		blocksCarved: prometheus.NewDesc("mempool_central_blocks_carved_total",
			"Blocks produced by span carving.", nil, nil),
		blocksOut: prometheus.NewDesc("mempool_central_blocks_out_total",
			"Blocks handed to thread caches.", nil, nil),
		blocksIn: prometheus.NewDesc("mempool_central_blocks_in_total",
			"Blocks spilled back by thread caches.", nil, nil),
		osAllocs: prometheus.NewDesc("mempool_os_allocs_total",
			"Successful page acquisitions from the OS.", nil, nil),
		osPages: prometheus.NewDesc("mempool_os_pages_total",
			"Pages acquired from the OS.", nil, nil),
		spanSplits: prometheus.NewDesc("mempool_span_splits_total",
			"Free spans split to satisfy a smaller request.", nil, nil),
		spanCoalesces: prometheus.NewDesc("mempool_span_coalesces_total",
			"Adjacent free spans merged on release.", nil, nil),
		largeAllocs: prometheus.NewDesc("mempool_large_allocs_total",
			"Allocations that bypassed the tiered pool.", nil, nil),
		largeFrees: prometheus.NewDesc("mempool_large_frees_total",
			"Frees that bypassed the tiered pool.", nil, nil),
	}
}

func (c *collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.spansCarved
	ch <- c.blocksCarved
	ch <- c.blocksOut
	ch <- c.blocksIn
	ch <- c.osAllocs
	ch <- c.osPages
	ch <- c.spanSplits
	ch <- c.spanCoalesces
	ch <- c.largeAllocs
	ch <- c.largeFrees
}

func (c *collector) Collect(ch chan<- prometheus.Metric) {
	s := c.pool.Snapshot()
	counter := func(d *prometheus.Desc, v uint64) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.CounterValue, float64(v))
	}
	counter(c.spansCarved, s.CentralSpansCarved)
	counter(c.blocksCarved, s.CentralBlocksCarved)
	counter(c.blocksOut, s.CentralBlocksOut)
	counter(c.blocksIn, s.CentralBlocksIn)
	counter(c.osAllocs, s.OSAllocs)
	counter(c.osPages, s.OSPages)
	counter(c.spanSplits, s.SpanSplits)
	counter(c.spanCoalesces, s.SpanCoalesces)
	counter(c.largeAllocs, s.LargeAllocs)
	counter(c.largeFrees, s.LargeFrees)
}
