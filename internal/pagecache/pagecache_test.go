// internal/pagecache/pagecache_test.go
package pagecache

import (
	"testing"
	"unsafe"
)

func TestAllocateFreshSpan(t *testing.T) {
	pc := New(nil)

	base := pc.AllocateSpan(1)
	if base == nil {
		t.Fatal("AllocateSpan(1) = nil")
	}
	if uintptr(base)%pageSize != 0 {
		t.Fatalf("span base %p not page aligned", base)
	}
	if got := pc.Stats().OSAllocs.Load(); got != 1 {
		t.Fatalf("OSAllocs = %d, want 1", got)
	}
	if !pc.Owns(base) {
		t.Fatal("cache does not own its own span")
	}
}

func TestSplitServesSmallerRequests(t *testing.T) {
	pc := New(nil)

	big := pc.AllocateSpan(8)
	if big == nil {
		t.Fatal("AllocateSpan(8) = nil")
	}
	pc.DeallocateSpan(big, 8)

	// Both requests come out of the released run; only one OS call ever
	// happens.
	a := pc.AllocateSpan(1)
	b := pc.AllocateSpan(1)
	if a != big {
		t.Fatalf("first split alloc = %p, want %p", a, big)
	}
	if uintptr(b) != uintptr(big)+pageSize {
		t.Fatalf("second split alloc = %p, want %#x", b, uintptr(big)+pageSize)
	}
	if got := pc.Stats().OSAllocs.Load(); got != 1 {
		t.Fatalf("OSAllocs = %d, want 1", got)
	}
	if got := pc.Stats().Splits.Load(); got != 2 {
		t.Fatalf("Splits = %d, want 2", got)
	}
}

func TestForwardCoalescing(t *testing.T) {
	pc := New(nil)

	// Carve two adjacent 4-page spans out of one 8-page OS run.
	run := pc.AllocateSpan(8)
	pc.DeallocateSpan(run, 8)
	a := pc.AllocateSpan(4)
	b := pc.AllocateSpan(4)
	if uintptr(b) != uintptr(a)+4*pageSize {
		t.Fatalf("spans not adjacent: a=%p b=%p", a, b)
	}

	// Free the successor first, then the predecessor: release of a
	// merges forward into b's run.
	pc.DeallocateSpan(b, 4)
	pc.DeallocateSpan(a, 4)
	if got := pc.Stats().Coalesces.Load(); got != 1 {
		t.Fatalf("Coalesces = %d, want 1", got)
	}

	osBefore := pc.Stats().OSAllocs.Load()
	whole := pc.AllocateSpan(8)
	if whole != a {
		t.Fatalf("coalesced alloc = %p, want %p", whole, a)
	}
	if got := pc.Stats().OSAllocs.Load(); got != osBefore {
		t.Fatal("coalesced allocation went to the OS")
	}
}

func TestBackwardCoalescing(t *testing.T) {
	pc := New(nil)

	run := pc.AllocateSpan(8)
	pc.DeallocateSpan(run, 8)
	a := pc.AllocateSpan(4)
	b := pc.AllocateSpan(4)

	// Free the predecessor first: release of b merges backward into a.
	pc.DeallocateSpan(a, 4)
	pc.DeallocateSpan(b, 4)
	if got := pc.Stats().Coalesces.Load(); got != 1 {
		t.Fatalf("Coalesces = %d, want 1", got)
	}

	whole := pc.AllocateSpan(8)
	if whole != a {
		t.Fatalf("coalesced alloc = %p, want %p", whole, a)
	}
}

func TestSmallestFitPreferred(t *testing.T) {
	pc := New(nil)

	// Carve runs out of one OS request, with still-allocated guard pages
	// between them so the freed runs cannot coalesce.
	run := pc.AllocateSpan(24)
	pc.DeallocateSpan(run, 24)
	_ = pc.AllocateSpan(1) // guard
	small := pc.AllocateSpan(2)
	_ = pc.AllocateSpan(1) // guard
	large := pc.AllocateSpan(16)
	pc.DeallocateSpan(small, 2)
	pc.DeallocateSpan(large, 16)

	// A 2-page request must come from the 2-page run, not the 16.
	got := pc.AllocateSpan(2)
	if got != small {
		t.Fatalf("smallest fit = %p, want %p", got, small)
	}
}

func TestReleasePanics(t *testing.T) {
	pc := New(nil)
	base := pc.AllocateSpan(2)

	tests := []struct {
		name string
		fn   func()
	}{
		{"unknown span", func() {
			var local [pageSize]byte
			pc.DeallocateSpan(unsafe.Pointer(&local[0]), 1)
		}},
		{"size mismatch", func() {
			pc.DeallocateSpan(base, 3)
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			defer func() {
				if recover() == nil {
					t.Fatal("expected panic")
				}
			}()
			tt.fn()
		})
	}

	pc.DeallocateSpan(base, 2)
	t.Run("double release", func(t *testing.T) {
		defer func() {
			if recover() == nil {
				t.Fatal("expected panic")
			}
		}()
		pc.DeallocateSpan(base, 2)
	})
}

func TestOwns(t *testing.T) {
	pc := New(nil)
	base := pc.AllocateSpan(2)

	inside := unsafe.Pointer(uintptr(base) + pageSize + 100)
	if !pc.Owns(inside) {
		t.Fatal("interior address not owned")
	}

	var local byte
	if pc.Owns(unsafe.Pointer(&local)) {
		t.Fatal("foreign address reported as owned")
	}
}
