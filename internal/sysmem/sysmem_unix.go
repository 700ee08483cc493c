// internal/sysmem/sysmem_unix.go
//go:build unix

package sysmem

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

// Alloc maps length bytes of anonymous private memory. Returns nil when
// the OS refuses.
func Alloc(length int) unsafe.Pointer {
	b, err := unix.Mmap(-1, 0, length,
		unix.PROT_READ|unix.PROT_WRITE,
		unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		return nil
	}
	return unsafe.Pointer(&b[0])
}

// Free unmaps a region previously returned by Alloc. length must match
// the value passed to Alloc.
func Free(p unsafe.Pointer, length int) {
	// Rebuild the slice header mmap handed out; munmap only needs the
	// base address and length.
	_ = unix.Munmap(unsafe.Slice((*byte)(p), length))
}
