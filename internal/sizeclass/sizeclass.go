// internal/sizeclass/sizeclass.go
// Size-class geometry shared by every tier of the pool.
package sizeclass

// Compile-time pool geometry.
const (
	// Alignment is the size-class quantum. Every small block size is a
	// multiple of it, and every returned address is aligned to it.
	Alignment = 8

	// MaxBytes is the small-object ceiling. Requests above it bypass the
	// tiered pool entirely.
	MaxBytes = 256 * 1024

	// NumClasses is the number of size classes, one per multiple of
	// Alignment up to and including MaxBytes.
	NumClasses = MaxBytes / Alignment

	// PageSize is the page granularity of the bottom tier.
	PageSize = 4096

	// SpanPages is the default number of pages carved per span.
	SpanPages = 8

	// HighWaterMark is the thread-cache list length that triggers a
	// spill to the central tier.
	HighWaterMark = 20

	// MaxBatchBytes caps the aggregate size of one refill batch.
	MaxBatchBytes = 4096
)

// RoundUp aligns bytes up to the next multiple of Alignment.
func RoundUp(bytes int) int {
	return (bytes + Alignment - 1) &^ (Alignment - 1)
}

// Index maps a request size in (0, MaxBytes] to its size class.
func Index(bytes int) int {
	return RoundUp(bytes)/Alignment - 1
}

// BlockSize is the byte size of blocks in class index.
func BlockSize(index int) int {
	return (index + 1) * Alignment
}

// BatchSize is the number of blocks a thread cache requests from the
// central tier in one refill of class index. It targets an aggregate
// transfer of at most MaxBatchBytes, with a per-size cap tuned for
// small classes, and never returns less than 1.
func BatchSize(index int) int {
	sz := BlockSize(index)
	n := baseBatch(sz)
	if cap := MaxBatchBytes / sz; cap < n {
		n = cap
	}
	if n < 1 {
		n = 1
	}
	return n
}

func baseBatch(sz int) int {
	switch {
	case sz <= 32:
		return 64
	case sz <= 64:
		return 32
	case sz <= 128:
		return 16
	case sz <= 256:
		return 8
	case sz <= 512:
		return 4
	case sz <= 1024:
		return 2
	default:
		return 1
	}
}
