// internal/central/central.go
// Middle tier: process-wide free lists of blocks, one list and one
// spinlock per size class. Thread caches refill and spill here in
// batches; empty lists are restocked by carving a fresh span from the
// page tier into a chain of same-sized blocks.
package central

import (
	"sync/atomic"
	"unsafe"

	"github.com/hyperalloc/mempool/internal/freelist"
	"github.com/hyperalloc/mempool/internal/pagecache"
	"github.com/hyperalloc/mempool/internal/sizeclass"
)

// Stats counts central-tier activity. All fields are monotonic.
type Stats struct {
	SpansCarved  atomic.Uint64 // spans fetched from the page tier
	BlocksCarved atomic.Uint64 // blocks produced by carving
	BlocksOut    atomic.Uint64 // blocks handed to thread caches
	BlocksIn     atomic.Uint64 // blocks spilled back by thread caches
}

// CentralCache is the process-wide middle tier. Operations on different
// size classes never contend; operations on the same class serialize on
// that class's spinlock.
type CentralCache struct {
	heads [sizeclass.NumClasses]unsafe.Pointer
	locks [sizeclass.NumClasses]spinLock

	pages *pagecache.PageCache
	stats Stats
}

// New returns a central cache backed by the given page tier.
func New(pages *pagecache.PageCache) *CentralCache {
	return &CentralCache{pages: pages}
}

// FetchRange detaches and returns a chain of up to batch blocks of
// class index, with its length. An empty list is restocked from the
// page tier first; if that fails the result is (nil, 0).
func (c *CentralCache) FetchRange(index, batch int) (unsafe.Pointer, int) {
	if index < 0 || index >= sizeclass.NumClasses {
		panic("central: size class out of range")
	}
	if batch <= 0 {
		return nil, 0
	}

	c.locks[index].Lock()
	defer c.locks[index].Unlock()

	head := c.heads[index]
	if head == nil {
		head = c.carveSpan(index)
		if head == nil {
			return nil, 0
		}
	}

	// Sever after at most batch blocks; the remainder becomes the new
	// list head.
	n := 1
	tail := head
	for n < batch {
		next := freelist.Next(tail)
		if next == nil {
			break
		}
		tail = next
		n++
	}
	c.heads[index] = freelist.Next(tail)
	freelist.SetNext(tail, nil)

	c.stats.BlocksOut.Add(uint64(n))
	return head, n
}

// ReturnRange splices a well-formed chain of class-index blocks in
// front of the class's list.
func (c *CentralCache) ReturnRange(start unsafe.Pointer, index int) {
	if index < 0 || index >= sizeclass.NumClasses {
		panic("central: size class out of range")
	}
	if start == nil {
		return
	}

	c.locks[index].Lock()
	defer c.locks[index].Unlock()

	n := 1
	tail := start
	for freelist.Next(tail) != nil {
		tail = freelist.Next(tail)
		n++
	}
	freelist.SetNext(tail, c.heads[index])
	c.heads[index] = start

	c.stats.BlocksIn.Add(uint64(n))
}

// carveSpan restocks class index from the page tier: it sizes a span,
// cuts it into consecutive blocks linked through their first word, and
// installs the chain as the class list. Called with the class lock
// held. Returns the new head, or nil when the page tier is exhausted.
func (c *CentralCache) carveSpan(index int) unsafe.Pointer {
	sz := sizeclass.BlockSize(index)

	pages := sizeclass.SpanPages
	if sz > sizeclass.SpanPages*sizeclass.PageSize {
		pages = (sz + sizeclass.PageSize - 1) / sizeclass.PageSize
	}

	base := c.pages.AllocateSpan(pages)
	if base == nil {
		return nil
	}

	// Lay out consecutive blocks; a trailing fragment smaller than sz
	// is left unused so no block straddles the span end.
	count := pages * sizeclass.PageSize / sz
	cur := base
	for i := 0; i < count-1; i++ {
		next := unsafe.Add(cur, sz)
		freelist.SetNext(cur, next)
		cur = next
	}
	freelist.SetNext(cur, nil)

	c.heads[index] = base
	c.stats.SpansCarved.Add(1)
	c.stats.BlocksCarved.Add(uint64(count))
	return base
}

// Stats exposes the tier's counters.
func (c *CentralCache) Stats() *Stats { return &c.stats }
