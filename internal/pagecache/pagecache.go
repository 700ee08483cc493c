// internal/pagecache/pagecache.go
// Bottom tier: owns every OS-backed page run and hands out spans.
//
// Free spans are indexed two ways: an ordered btree keyed by page count
// (best-fit lookup walks to the smallest run >= the request) and
// address maps keyed by span base and span end (neighbor lookup on
// release). Pages are acquired from the OS once per span and never
// returned; spans live until process exit.
package pagecache

import (
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/google/btree"
	"go.uber.org/zap"

	"github.com/hyperalloc/mempool/internal/sizeclass"
	"github.com/hyperalloc/mempool/internal/sysmem"
)

const pageSize = sizeclass.PageSize

// Span describes a contiguous, page-aligned run of pages. The
// descriptor lives outside the pages it describes. While free it is
// linked into the bucket for its page count.
type Span struct {
	base  uintptr
	pages int
	free  bool
	next  *Span
}

func (s *Span) end() uintptr { return s.base + uintptr(s.pages)*pageSize }

// bucket is the free list of spans of one exact page count.
type bucket struct {
	pages int
	head  *Span
}

// Stats counts page-tier activity. All fields are monotonic.
type Stats struct {
	OSAllocs  atomic.Uint64 // mmap calls that succeeded
	OSPages   atomic.Uint64 // pages acquired from the OS
	Splits    atomic.Uint64 // spans split to satisfy a smaller request
	Coalesces atomic.Uint64 // neighbor merges on release
}

// PageCache is the process-wide page tier. A single mutex orders every
// operation.
type PageCache struct {
	mu     sync.Mutex
	free   *btree.BTreeG[*bucket]
	byBase map[uintptr]*Span // every live span, free or in use, keyed by base; merged-away spans are removed
	byEnd  map[uintptr]*Span // the same spans, keyed by end address

	log   *zap.Logger
	stats Stats
}

// New returns an empty page cache. A nil logger disables logging.
func New(log *zap.Logger) *PageCache {
	if log == nil {
		log = zap.NewNop()
	}
	return &PageCache{
		free: btree.NewG(16, func(a, b *bucket) bool {
			return a.pages < b.pages
		}),
		byBase: make(map[uintptr]*Span),
		byEnd:  make(map[uintptr]*Span),
		log:    log,
	}
}

// AllocateSpan returns the base address of a run of exactly pages
// pages, or nil when the OS refuses to supply more memory.
func (pc *PageCache) AllocateSpan(pages int) unsafe.Pointer {
	if pages <= 0 {
		panic("pagecache: non-positive span request")
	}

	pc.mu.Lock()
	defer pc.mu.Unlock()

	if s := pc.takeSmallestFit(pages); s != nil {
		if s.pages > pages {
			pc.split(s, pages)
		}
		s.free = false
		return unsafe.Pointer(s.base)
	}

	base := sysmem.Alloc(pages * pageSize)
	if base == nil {
		return nil
	}
	s := &Span{base: uintptr(base), pages: pages}
	pc.byBase[s.base] = s
	pc.byEnd[s.end()] = s
	pc.stats.OSAllocs.Add(1)
	pc.stats.OSPages.Add(uint64(pages))
	pc.log.Debug("acquired pages from OS",
		zap.Int("pages", pages),
		zap.Uintptr("base", s.base))
	return base
}

// DeallocateSpan releases the span at base back to the free index,
// merging it with free neighbors on both sides. base and pages must
// match a span handed out by AllocateSpan.
func (pc *PageCache) DeallocateSpan(base unsafe.Pointer, pages int) {
	pc.mu.Lock()
	defer pc.mu.Unlock()

	s, ok := pc.byBase[uintptr(base)]
	if !ok {
		panic("pagecache: release of unknown span")
	}
	if s.pages != pages {
		panic("pagecache: span size mismatch on release")
	}
	if s.free {
		panic("pagecache: double release of span")
	}

	// Absorb the successor span if it is free.
	if t, ok := pc.byBase[s.end()]; ok && t.free {
		pc.unlink(t)
		delete(pc.byBase, t.base)
		delete(pc.byEnd, s.end())
		s.pages += t.pages
		pc.byEnd[s.end()] = s
		pc.stats.Coalesces.Add(1)
	}

	// Merge into the predecessor span if it is free.
	if t, ok := pc.byEnd[s.base]; ok && t.free {
		pc.unlink(t)
		delete(pc.byBase, s.base)
		delete(pc.byEnd, t.end())
		t.pages += s.pages
		delete(pc.byEnd, s.end())
		s = t
		pc.byEnd[s.end()] = s
		pc.stats.Coalesces.Add(1)
	}

	s.free = true
	pc.insert(s)
}

// takeSmallestFit unlinks and returns a free span of at least pages
// pages, preferring the smallest qualifying run. Returns nil when the
// index holds no fit.
func (pc *PageCache) takeSmallestFit(pages int) *Span {
	var found *bucket
	pc.free.AscendGreaterOrEqual(&bucket{pages: pages}, func(b *bucket) bool {
		found = b
		return false
	})
	if found == nil {
		return nil
	}
	s := found.head
	found.head = s.next
	s.next = nil
	if found.head == nil {
		pc.free.Delete(found)
	}
	return s
}

// split shrinks s to pages pages and files the trailing remainder as a
// new free span.
func (pc *PageCache) split(s *Span, pages int) {
	rest := &Span{
		base:  s.base + uintptr(pages)*pageSize,
		pages: s.pages - pages,
		free:  true,
	}
	s.pages = pages
	pc.byBase[rest.base] = rest
	pc.byEnd[rest.end()] = rest
	pc.byEnd[s.end()] = s
	pc.insert(rest)
	pc.stats.Splits.Add(1)
}

// insert files a free span into the bucket for its page count.
func (pc *PageCache) insert(s *Span) {
	b, ok := pc.free.Get(&bucket{pages: s.pages})
	if !ok {
		b = &bucket{pages: s.pages}
		pc.free.ReplaceOrInsert(b)
	}
	s.next = b.head
	b.head = s
}

// unlink removes a free span from its bucket, dropping the bucket when
// it empties.
func (pc *PageCache) unlink(s *Span) {
	b, ok := pc.free.Get(&bucket{pages: s.pages})
	if !ok {
		panic("pagecache: free span missing from index")
	}
	if b.head == s {
		b.head = s.next
	} else {
		prev := b.head
		for prev != nil && prev.next != s {
			prev = prev.next
		}
		if prev == nil {
			panic("pagecache: free span missing from bucket")
		}
		prev.next = s.next
	}
	s.next = nil
	if b.head == nil {
		pc.free.Delete(b)
	}
}

// Owns reports whether addr lies inside any span this cache has carved.
func (pc *PageCache) Owns(addr unsafe.Pointer) bool {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	a := uintptr(addr)
	for _, s := range pc.byBase {
		if a >= s.base && a < s.end() {
			return true
		}
	}
	return false
}

// Stats exposes the tier's counters.
func (pc *PageCache) Stats() *Stats { return &pc.stats }
