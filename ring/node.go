package ring

import (
	"sync/atomic"
	"unsafe"
)

// node is a view over one Node Table entry plus its Node Buffer slice,
// addressed directly into the ring's mmap'd bytes — no copy, no
// intermediate struct, so every accessor below reads or writes shared
// memory immediately. Grounded on the teacher's shm/seqlock.go technique of
// taking the address of a struct field living inside mmap'd bytes and
// running plain sync/atomic operations on it.
type node struct {
	entry []byte // this node's 32-byte Node Table entry
	buf   []byte // this node's B-byte payload buffer
}

func u32At(b []byte, off int) *uint32 {
	return (*uint32)(unsafe.Pointer(&b[off]))
}

func u64At(b []byte, off int) *uint64 {
	return (*uint64)(unsafe.Pointer(&b[off]))
}

func (n node) next() uint32        { return atomic.LoadUint32(u32At(n.entry, nNext)) }
func (n node) prev() uint32        { return atomic.LoadUint32(u32At(n.entry, nPrev)) }
func (n node) index() uint32       { return atomic.LoadUint32(u32At(n.entry, nIndex)) }
func (n node) offset() uint64      { return atomic.LoadUint64(u64At(n.entry, nOffset)) }
func (n node) amountWritten() uint32 {
	return atomic.LoadUint32(u32At(n.entry, nAmountWritten))
}

func (n node) setNext(v uint32)          { atomic.StoreUint32(u32At(n.entry, nNext), v) }
func (n node) setPrev(v uint32)          { atomic.StoreUint32(u32At(n.entry, nPrev), v) }
func (n node) setIndex(v uint32)         { atomic.StoreUint32(u32At(n.entry, nIndex), v) }
func (n node) setOffset(v uint64)        { atomic.StoreUint64(u64At(n.entry, nOffset), v) }
func (n node) setAmountWritten(v uint32) { atomic.StoreUint32(u32At(n.entry, nAmountWritten), v) }

// doneWriteCAS atomically transitions done_write from old to new, reporting
// whether it won the race.
func (n node) doneWriteCAS(old, new uint32) bool {
	return atomic.CompareAndSwapUint32(u32At(n.entry, nDoneWrite), old, new)
}

func (n node) doneReadCAS(old, new uint32) bool {
	return atomic.CompareAndSwapUint32(u32At(n.entry, nDoneRead), old, new)
}

func (n node) setDoneWrite(v uint32) { atomic.StoreUint32(u32At(n.entry, nDoneWrite), v) }
func (n node) setDoneRead(v uint32)  { atomic.StoreUint32(u32At(n.entry, nDoneRead), v) }
