// internal/threadcache/threadcache.go
// Top tier: a cache of free blocks owned by a single goroutine at a
// time. Every operation is lock-free; the owner refills from and
// spills to the central tier in batches so synchronization cost is
// amortized across many allocations.
package threadcache

import (
	"unsafe"

	"github.com/hyperalloc/mempool/internal/central"
	"github.com/hyperalloc/mempool/internal/freelist"
	"github.com/hyperalloc/mempool/internal/sizeclass"
	"github.com/hyperalloc/mempool/internal/sysmem"
)

// ThreadCache holds one free list and its length per size class. It
// must never be shared: the pool hands each instance to exactly one
// goroutine at a time.
type ThreadCache struct {
	heads  [sizeclass.NumClasses]unsafe.Pointer
	counts [sizeclass.NumClasses]int

	central *central.CentralCache
}

// New returns an empty cache that refills from c.
func New(c *central.CentralCache) *ThreadCache {
	return &ThreadCache{central: c}
}

// Allocate returns a block of at least size bytes, or nil when the OS
// is out of memory. Requests above the small-object ceiling go straight
// to the OS primitive. size must be positive.
func (t *ThreadCache) Allocate(size int) unsafe.Pointer {
	if size > sizeclass.MaxBytes {
		return sysmem.Alloc(largeSize(size))
	}

	index := sizeclass.Index(size)
	if p := freelist.Pop(&t.heads[index]); p != nil {
		t.counts[index]--
		return p
	}
	return t.fetchFromCentral(index)
}

// Deallocate returns a block to the cache. size must match the value
// passed to Allocate. A nil small-object pointer is ignored.
func (t *ThreadCache) Deallocate(p unsafe.Pointer, size int) {
	if size > sizeclass.MaxBytes {
		if p != nil {
			sysmem.Free(p, largeSize(size))
		}
		return
	}
	if p == nil {
		return
	}

	index := sizeclass.Index(size)
	freelist.Push(&t.heads[index], p)
	t.counts[index]++

	if t.counts[index] > sizeclass.HighWaterMark {
		t.returnToCentral(index)
	}
}

// fetchFromCentral refills class index with one batch. The first block
// is handed to the caller; the remainder becomes the class list.
func (t *ThreadCache) fetchFromCentral(index int) unsafe.Pointer {
	head, n := t.central.FetchRange(index, sizeclass.BatchSize(index))
	if head == nil {
		return nil
	}
	t.heads[index] = freelist.Next(head)
	t.counts[index] = n - 1
	return head
}

// returnToCentral spills half of class index's list to the central tier
// as one chain. The back half goes; the front half, which holds the most
// recently freed blocks, stays so the next allocation reuses them.
func (t *ThreadCache) returnToCentral(index int) {
	half := t.counts[index] / 2
	if half == 0 {
		return
	}

	keep := t.counts[index] - half
	rest := freelist.Split(t.heads[index], keep)
	t.counts[index] = keep

	t.central.ReturnRange(rest, index)
}

// Flush spills every list back to the central tier, leaving the cache
// empty. Called when the owning goroutine is done with the cache so
// its blocks stay in circulation.
func (t *ThreadCache) Flush() {
	for index := range t.heads {
		if t.heads[index] == nil {
			continue
		}
		t.central.ReturnRange(t.heads[index], index)
		t.heads[index] = nil
		t.counts[index] = 0
	}
}

// Count reports the current length of class index's list.
func (t *ThreadCache) Count(index int) int { return t.counts[index] }

// largeSize rounds a bypass request up to whole pages, the granularity
// of the OS primitive. Allocate and Deallocate round identically, so
// the caller-supplied size is enough to free.
func largeSize(size int) int {
	return (size + sizeclass.PageSize - 1) &^ (sizeclass.PageSize - 1)
}
