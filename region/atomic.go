package region

import (
	"sync/atomic"
	"unsafe"
)

// storeShutdown / loadShutdown give the shutdown flag acquire/release
// semantics even though it lives inside a plain []byte mapped from mmap:
// Go's sync/atomic operates on *uint32, so we take the address of the byte
// at the field's offset. This is the same "address a field inside mmap'd
// memory, then use sync/atomic on the pointer" technique the teacher uses
// throughout shm/seqlock.go for its Seqlock field.
func storeShutdown(b []byte, v uint32) {
	atomic.StoreUint32((*uint32)(unsafe.Pointer(&b[0])), v)
}

func loadShutdown(b []byte) uint32 {
	return atomic.LoadUint32((*uint32)(unsafe.Pointer(&b[0])))
}
