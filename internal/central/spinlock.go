// internal/central/spinlock.go
package central

import (
	"runtime"
	"sync/atomic"
)

// spinLock is a test-and-set lock that yields to the scheduler between
// attempts. Critical sections here are a handful of pointer writes, so
// spinning beats parking.
type spinLock struct {
	state atomic.Bool
}

func (l *spinLock) Lock() {
	for !l.state.CompareAndSwap(false, true) {
		runtime.Gosched()
	}
}

func (l *spinLock) Unlock() {
	l.state.Store(false)
}
