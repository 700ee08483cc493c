// cmd/memstress/main.go
// Mixed-size allocation stress driver for the tiered pool. Runs N
// workers doing allocate/write/free rounds, reports throughput and the
// pool's internal counters, and can expose them for scraping.
package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"runtime"
	"time"
	"unsafe"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hyperalloc/mempool"
	"github.com/hyperalloc/mempool/internal/tracing"
)

func main() {
	var (
		workers     = flag.Int("workers", runtime.NumCPU(), "concurrent workers")
		rounds      = flag.Int("rounds", 100, "rounds per worker")
		opsPerRound = flag.Int("ops", 1000, "allocations per round")
		largeEvery  = flag.Int("large-every", 0, "mix in one oversize allocation every N ops (0 disables)")
		metricsAddr = flag.String("metrics-addr", "", "expose Prometheus metrics on this address (e.g. :9091)")
		jaegerURL   = flag.String("jaeger", "", "Jaeger collector endpoint (empty disables tracing)")
		traceSample = flag.Float64("trace-sample", 1.0, "fraction of phase traces to keep")
		verbose     = flag.Bool("v", false, "debug logging")
	)
	flag.Parse()

	log := newLogger(*verbose)
	defer log.Sync()

	if *jaegerURL != "" {
		shutdown, err := tracing.Setup(tracing.Config{
			Endpoint:    *jaegerURL,
			SampleRatio: *traceSample,
		})
		if err != nil {
			log.Warn("tracing disabled", zap.Error(err))
		} else {
			defer func() {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = shutdown(ctx)
			}()
		}
	}

	pool := mempool.NewPool(mempool.Config{Logger: log})

	if *metricsAddr != "" {
		reg := prometheus.NewRegistry()
		reg.MustRegister(pool.Collector())
		go func() {
			log.Info("serving metrics", zap.String("addr", *metricsAddr))
			if err := http.ListenAndServe(*metricsAddr, promhttp.HandlerFor(reg, promhttp.HandlerOpts{})); err != nil {
				log.Error("metrics server stopped", zap.Error(err))
			}
		}()
	}

	log.Info("starting stress run",
		zap.Int("workers", *workers),
		zap.Int("rounds", *rounds),
		zap.Int("opsPerRound", *opsPerRound))

	ctx, span := tracing.PhaseSpan(context.Background(), "stress-run",
		*workers, *rounds, *opsPerRound)
	start := time.Now()

	g, ctx := errgroup.WithContext(ctx)
	for w := 0; w < *workers; w++ {
		w := w
		g.Go(func() error {
			return runWorker(ctx, pool, w, *rounds, *opsPerRound, *largeEvery)
		})
	}
	if err := g.Wait(); err != nil {
		span.End()
		log.Fatal("stress run failed", zap.Error(err))
	}
	elapsed := time.Since(start)
	span.End()

	totalOps := int64(*workers) * int64(*rounds) * int64(*opsPerRound) * 2 // alloc + free
	fmt.Printf("memstress: %d ops in %v (%.0f ops/sec)\n",
		totalOps, elapsed, float64(totalOps)/elapsed.Seconds())

	s := pool.Snapshot()
	fmt.Printf("  spans carved: %d  blocks carved: %d\n", s.CentralSpansCarved, s.CentralBlocksCarved)
	fmt.Printf("  blocks out:   %d  blocks in:     %d\n", s.CentralBlocksOut, s.CentralBlocksIn)
	fmt.Printf("  os allocs:    %d  os pages:      %d\n", s.OSAllocs, s.OSPages)
	fmt.Printf("  span splits:  %d  coalesces:     %d\n", s.SpanSplits, s.SpanCoalesces)
	fmt.Printf("  large allocs: %d  large frees:   %d\n", s.LargeAllocs, s.LargeFrees)
}

// runWorker performs rounds of allocate-write-free over a spread of
// size classes. Each block gets a byte written and read back so the
// pages are actually touched.
func runWorker(ctx context.Context, pool *mempool.Pool, id, rounds, ops, largeEvery int) error {
	sizes := []int{8, 16, 32, 64, 128, 256, 512, 1024, 4096, 65536}
	rng := rand.New(rand.NewSource(int64(id) + 1))

	ptrs := make([]unsafe.Pointer, ops)
	lens := make([]int, ops)

	for r := 0; r < rounds; r++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		for i := 0; i < ops; i++ {
			size := sizes[rng.Intn(len(sizes))]
			if largeEvery > 0 && i%largeEvery == largeEvery-1 {
				size = mempool.MaxBytes + 1 + rng.Intn(1<<20)
			}
			p := pool.Allocate(size)
			if p == nil {
				return fmt.Errorf("worker %d: allocation of %d bytes failed", id, size)
			}
			*(*byte)(p) = byte(i)
			if *(*byte)(p) != byte(i) {
				return fmt.Errorf("worker %d: readback mismatch", id)
			}
			ptrs[i], lens[i] = p, size
		}
		for i := 0; i < ops; i++ {
			pool.Deallocate(ptrs[i], lens[i])
		}
	}
	return nil
}

func newLogger(verbose bool) *zap.Logger {
	cfg := zap.NewProductionConfig()
	if verbose {
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	}
	log, err := cfg.Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	return log
}
