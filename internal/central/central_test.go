// internal/central/central_test.go
package central

import (
	"sync"
	"testing"
	"unsafe"

	"github.com/hyperalloc/mempool/internal/freelist"
	"github.com/hyperalloc/mempool/internal/pagecache"
	"github.com/hyperalloc/mempool/internal/sizeclass"
)

func newCache() *CentralCache {
	return New(pagecache.New(nil))
}

func chainLen(p unsafe.Pointer) int { return freelist.Len(p) }

func TestFetchCarvesSpanOnEmpty(t *testing.T) {
	c := newCache()
	const index = 3 // 32-byte blocks

	head, n := c.FetchRange(index, 5)
	if head == nil || n != 5 {
		t.Fatalf("FetchRange = (%p, %d), want 5 blocks", head, n)
	}
	if got := chainLen(head); got != 5 {
		t.Fatalf("chain length = %d, want 5", got)
	}

	// An 8-page span of 32-byte blocks carves 1024 of them.
	s := c.Stats()
	if got := s.SpansCarved.Load(); got != 1 {
		t.Fatalf("SpansCarved = %d, want 1", got)
	}
	if got := s.BlocksCarved.Load(); got != 1024 {
		t.Fatalf("BlocksCarved = %d, want 1024", got)
	}

	// Blocks are laid out back to back in span order.
	sz := uintptr(sizeclass.BlockSize(index))
	for p, i := head, 0; i < 4; i++ {
		next := freelist.Next(p)
		if uintptr(next) != uintptr(p)+sz {
			t.Fatalf("block %d at %p, want %#x", i+1, next, uintptr(p)+sz)
		}
		p = next
	}
}

func TestFetchZeroBatch(t *testing.T) {
	c := newCache()
	if head, n := c.FetchRange(3, 0); head != nil || n != 0 {
		t.Fatalf("FetchRange(_, 0) = (%p, %d), want (nil, 0)", head, n)
	}
}

func TestFetchShortChain(t *testing.T) {
	c := newCache()

	// The largest class carves exactly one block per span; asking for
	// four returns what exists.
	index := sizeclass.NumClasses - 1
	head, n := c.FetchRange(index, 4)
	if head == nil || n != 1 {
		t.Fatalf("FetchRange = (%p, %d), want 1 block", head, n)
	}
	if freelist.Next(head) != nil {
		t.Fatal("short chain not terminated")
	}
}

func TestReturnSplicesInFront(t *testing.T) {
	c := newCache()
	const index = 0

	head, n := c.FetchRange(index, 3)
	if n != 3 {
		t.Fatalf("seed fetch = %d blocks, want 3", n)
	}

	c.ReturnRange(head, index)
	again, n := c.FetchRange(index, 3)
	if n != 3 || again != head {
		t.Fatalf("refetch = (%p, %d), want head %p back", again, n, head)
	}

	s := c.Stats()
	if got := s.BlocksIn.Load(); got != 3 {
		t.Fatalf("BlocksIn = %d, want 3", got)
	}
	if got := s.BlocksOut.Load(); got != 6 {
		t.Fatalf("BlocksOut = %d, want 6", got)
	}
}

func TestIndexOutOfRangePanics(t *testing.T) {
	c := newCache()
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic")
		}
	}()
	c.FetchRange(sizeclass.NumClasses, 1)
}

func TestConcurrentFetchReturn(t *testing.T) {
	c := newCache()
	const (
		index      = 7 // 64-byte blocks
		goroutines = 8
		rounds     = 200
	)

	var wg sync.WaitGroup
	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < rounds; i++ {
				head, n := c.FetchRange(index, 10)
				if head == nil {
					t.Error("fetch failed under load")
					return
				}
				if got := chainLen(head); got != n {
					t.Errorf("chain length %d != reported %d", got, n)
					return
				}
				c.ReturnRange(head, index)
			}
		}()
	}
	wg.Wait()

	// Everything fetched went back.
	s := c.Stats()
	if in, out := s.BlocksIn.Load(), s.BlocksOut.Load(); in != out {
		t.Fatalf("BlocksIn = %d, BlocksOut = %d, want equal", in, out)
	}
}
