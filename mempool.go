// mempool.go
// Three-tier thread-aware memory pool.
//
// Allocation walks a per-goroutine cache first, falls back to the
// process-wide central free lists, and bottoms out in a page cache that
// carves spans out of OS memory. The hot path touches no locks; the
// middle tier batches transfers so lock traffic is amortized; requests
// above the small-object ceiling bypass all three tiers.
package mempool

import (
	"runtime"
	"sync"
	"sync/atomic"
	"unsafe"

	"go.uber.org/zap"

	"github.com/hyperalloc/mempool/internal/central"
	"github.com/hyperalloc/mempool/internal/pagecache"
	"github.com/hyperalloc/mempool/internal/sizeclass"
	"github.com/hyperalloc/mempool/internal/threadcache"
)

// Exported pool geometry.
const (
	// Alignment of every address handed out for small requests.
	Alignment = sizeclass.Alignment

	// MaxBytes is the largest request served by the tiered pool;
	// anything bigger goes straight to the OS.
	MaxBytes = sizeclass.MaxBytes
)

// Config tunes a Pool. The zero value is ready to use.
type Config struct {
	// Logger receives lifecycle events. Tiers never log on the
	// allocation path. Nil disables logging.
	Logger *zap.Logger
}

// Pool is a complete allocator instance. Independent pools share
// nothing, not even OS pages.
type Pool struct {
	pages   *pagecache.PageCache
	central *central.CentralCache

	// caches hands each goroutine a private ThreadCache for the
	// duration of one operation. sync.Pool keeps the instance P-local,
	// so repeated operations on one goroutine almost always see the
	// same cache; a cache dropped by the GC flushes its lists back to
	// the central tier through its finalizer.
	caches sync.Pool

	log *zap.Logger

	largeAllocs atomic.Uint64
	largeFrees  atomic.Uint64
}

// NewPool builds a pool from cfg.
func NewPool(cfg Config) *Pool {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}

	pages := pagecache.New(log.Named("pagecache"))
	ctr := central.New(pages)

	p := &Pool{
		pages:   pages,
		central: ctr,
		log:     log,
	}
	p.caches.New = func() any {
		tc := threadcache.New(ctr)
		runtime.SetFinalizer(tc, (*threadcache.ThreadCache).Flush)
		return tc
	}

	log.Info("memory pool initialized",
		zap.Int("sizeClasses", sizeclass.NumClasses),
		zap.Int("maxBytes", sizeclass.MaxBytes),
		zap.Int("pageSize", sizeclass.PageSize))
	return p
}

// Allocate returns a block of at least size bytes, aligned to
// Alignment, or nil when the OS is out of memory or size is not
// positive. The block's contents are undefined.
func (p *Pool) Allocate(size int) unsafe.Pointer {
	if size <= 0 {
		return nil
	}

	tc := p.caches.Get().(*threadcache.ThreadCache)
	ptr := tc.Allocate(size)
	p.caches.Put(tc)

	if size > sizeclass.MaxBytes && ptr != nil {
		p.largeAllocs.Add(1)
	}
	return ptr
}

// Deallocate returns a block to the pool. size must equal the value
// passed to the matching Allocate; the pool records no per-block sizes
// and cannot check. A nil ptr is ignored.
func (p *Pool) Deallocate(ptr unsafe.Pointer, size int) {
	if ptr == nil || size <= 0 {
		return
	}

	tc := p.caches.Get().(*threadcache.ThreadCache)
	tc.Deallocate(ptr, size)
	p.caches.Put(tc)

	if size > sizeclass.MaxBytes {
		p.largeFrees.Add(1)
	}
}

// Owns reports whether addr lies inside a span managed by this pool's
// page tier. Large-object addresses are never owned: their memory
// comes straight from the OS.
func (p *Pool) Owns(addr unsafe.Pointer) bool {
	return p.pages.Owns(addr)
}

// defaultPool backs the package-level API.
var defaultPool = NewPool(Config{})

// Allocate draws from the process-wide default pool.
func Allocate(size int) unsafe.Pointer {
	return defaultPool.Allocate(size)
}

// Deallocate returns a block to the process-wide default pool.
func Deallocate(ptr unsafe.Pointer, size int) {
	defaultPool.Deallocate(ptr, size)
}

// Default returns the process-wide pool used by the package-level API.
func Default() *Pool { return defaultPool }
