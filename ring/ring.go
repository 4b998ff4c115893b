// Package ring implements the lock-free multi-producer/multi-consumer FIFO
// described in spec §4.2: fixed node count N, fixed per-node capacity B,
// two-phase CAS publication so readers observe reservation order even under
// out-of-order fill completion, and two auto-reset wake events for the
// bounded-wait slow path.
//
// The CAS-cursor shape is grounded on the retrieval pack's lock-free ring
// implementations — the LMAX-disruptor-style claim/publish cursor in
// rishavpaul/order-matching-engine's internal/disruptor, and the mmap'd
// atomic-index ring in toto1234567890/share_mem — generalized from their
// single-producer or fixed-element-type shapes to the spec's N-node,
// two-cursor-per-side, out-of-order-tolerant publication protocol.
package ring

import (
	"fmt"
	"sync/atomic"

	"github.com/alephtx/shmipc/errs"
	"github.com/alephtx/shmipc/region"
)

// Ring is a lock-free FIFO of N fixed-size byte slots mapped over a Region.
type Ring struct {
	rgn  *region.Region
	base []byte

	n uint32 // node_count
	b uint32 // node_buffer_size

	dataExists    *event
	slotAvailable *event

	// Stats is exported so callers can read high-water marks directly;
	// see stats.go.
	Stats Stats
}

// Size returns the byte length a Region must provide to host a ring of n
// nodes of b bytes each (the value to pass to region.Create).
func Size(n, b uint32) int64 { return size(n, b) }

// NewOwner lays out a brand new ring of n nodes of b bytes each over rgn,
// which must have been created with exactly Size(n, b) bytes of capacity.
// Only the owner of rgn may call NewOwner.
func NewOwner(rgn *region.Region, n, b uint32) (*Ring, error) {
	if n < 2 {
		return nil, fmt.Errorf("ring: %w: node_count must be >= 2, got %d", errs.ErrOutOfRange, n)
	}
	if b < 1 {
		return nil, fmt.Errorf("ring: %w: node_buffer_size must be >= 1, got %d", errs.ErrOutOfRange, b)
	}
	base := rgn.RawBase()
	if int64(len(base)) < size(n, b) {
		return nil, fmt.Errorf("ring: %w: region too small for %d nodes of %d bytes", errs.ErrOutOfRange, n, b)
	}

	r := &Ring{rgn: rgn, base: base, n: n, b: b}
	r.initHeader()
	r.initEvents()
	for i := uint32(0); i < n; i++ {
		nd := r.nodeAt(i)
		nd.setIndex(i)
		nd.setNext((i + 1) % n)
		nd.setPrev((i - 1 + n) % n)
		nd.setOffset(uint64(r.bufferOffset(i)))
		nd.setAmountWritten(0)
		nd.setDoneRead(0)
		nd.setDoneWrite(0)
	}
	return r, nil
}

// Open maps an existing ring previously laid out by NewOwner, reading
// node_count and node_buffer_size from the ring header rather than trusting
// the caller — spec §4.3.1 requires the peer to defer to whatever the
// owner actually constructed.
func Open(rgn *region.Region) (*Ring, error) {
	base := rgn.RawBase()
	if len(base) < headerSize {
		return nil, fmt.Errorf("ring: %w: region too small for a ring header", errs.ErrOutOfRange)
	}
	r := &Ring{rgn: rgn, base: base}
	r.n = atomic.LoadUint32(u32At(base, hNodeCount))
	r.b = atomic.LoadUint32(u32At(base, hNodeBufferSize))
	if r.n < 2 || r.b < 1 {
		return nil, fmt.Errorf("ring: %w: ring not yet initialized by owner", errs.ErrOutOfRange)
	}
	r.initEvents()
	return r, nil
}

func (r *Ring) initHeader() {
	atomic.StoreUint32(u32At(r.base, hReadEnd), 0)
	atomic.StoreUint32(u32At(r.base, hReadStart), 0)
	atomic.StoreUint32(u32At(r.base, hWriteEnd), 0)
	atomic.StoreUint32(u32At(r.base, hWriteStart), 0)
	atomic.StoreUint32(u32At(r.base, hNodeCount), r.n)
	atomic.StoreUint32(u32At(r.base, hNodeBufferSize), r.b)
}

func (r *Ring) initEvents() {
	tableEnd := headerSize + int(nodeSize)*int(r.n) + int(r.b)*int(r.n)
	ev := r.base[tableEnd : tableEnd+eventsSize]
	r.dataExists = newEvent(u32At(ev, eDataExists))
	r.slotAvailable = newEvent(u32At(ev, eSlotAvailable))
}

func (r *Ring) bufferOffset(i uint32) int {
	tableEnd := headerSize + int(nodeSize)*int(r.n)
	return tableEnd + int(i)*int(r.b)
}

func (r *Ring) nodeAt(i uint32) node {
	entryOff := headerSize + int(nodeSize)*int(i)
	bufOff := r.bufferOffset(i)
	return node{
		entry: r.base[entryOff : entryOff+nodeSize],
		buf:   r.base[bufOff : bufOff+int(r.b)],
	}
}

// NodeCount returns N.
func (r *Ring) NodeCount() uint32 { return r.n }

// NodeBufferSize returns B.
func (r *Ring) NodeBufferSize() uint32 { return r.b }

func (r *Ring) isShutdown() bool { return r.rgn.IsShutdown() }

// header cursor accessors.
func (r *Ring) loadReadEnd() uint32    { return atomic.LoadUint32(u32At(r.base, hReadEnd)) }
func (r *Ring) loadReadStart() uint32  { return atomic.LoadUint32(u32At(r.base, hReadStart)) }
func (r *Ring) loadWriteEnd() uint32   { return atomic.LoadUint32(u32At(r.base, hWriteEnd)) }
func (r *Ring) loadWriteStart() uint32 { return atomic.LoadUint32(u32At(r.base, hWriteStart)) }

func (r *Ring) casReadStart(old, new uint32) bool {
	return atomic.CompareAndSwapUint32(u32At(r.base, hReadStart), old, new)
}
func (r *Ring) casWriteStart(old, new uint32) bool {
	return atomic.CompareAndSwapUint32(u32At(r.base, hWriteStart), old, new)
}
func (r *Ring) casReadEnd(old, new uint32) bool {
	return atomic.CompareAndSwapUint32(u32At(r.base, hReadEnd), old, new)
}
func (r *Ring) casWriteEnd(old, new uint32) bool {
	return atomic.CompareAndSwapUint32(u32At(r.base, hWriteEnd), old, new)
}

// reserveWrite implements spec §4.2.1's reserve step: claim the next node
// available for writing, blocking up to timeoutMs when the ring is full.
// A negative timeoutMs waits indefinitely; it returns ok=false only on
// timeout or shutdown.
func (r *Ring) reserveWrite(timeoutMs int) (nd node, idx uint32, ok bool) {
	for {
		if r.isShutdown() {
			return node{}, 0, false
		}
		w := r.loadWriteStart()
		n := r.nodeAt(w)
		if n.next() == r.loadReadEnd() {
			if !r.slotAvailable.Wait(timeoutMs) {
				return node{}, 0, false
			}
			continue
		}
		if r.casWriteStart(w, n.next()) {
			return n, w, true
		}
	}
}

// publish implements spec §4.2.1's publish step. It may complete without
// advancing write_end at all, if an earlier-reserved sibling slot hasn't
// finished filling yet — the eventual publisher of that sibling drains the
// whole contiguous chain, preserving reservation order for readers.
func (r *Ring) publish(nd node) {
	nd.setDoneWrite(1)
	for {
		e := r.loadWriteEnd()
		n := r.nodeAt(e)
		if !n.doneWriteCAS(1, 0) {
			return
		}
		wasEmpty := e == r.loadReadStart()
		r.casWriteEnd(e, n.next())
		if wasEmpty {
			r.dataExists.Signal()
		}
	}
}

// reserveRead implements spec §4.2.2's reserve step, symmetric to
// reserveWrite.
func (r *Ring) reserveRead(timeoutMs int) (nd node, idx uint32, ok bool) {
	for {
		if r.isShutdown() {
			return node{}, 0, false
		}
		rd := r.loadReadStart()
		n := r.nodeAt(rd)
		if rd == r.loadWriteEnd() {
			if !r.dataExists.Wait(timeoutMs) {
				return node{}, 0, false
			}
			continue
		}
		if r.casReadStart(rd, n.next()) {
			return n, rd, true
		}
	}
}

// consume implements spec §4.2.2's consume step.
func (r *Ring) consume(nd node) {
	nd.setAmountWritten(0)
	nd.setDoneRead(1)
	for {
		e := r.loadReadEnd()
		n := r.nodeAt(e)
		if !n.doneReadCAS(1, 0) {
			return
		}
		wasFull := n.prev() == r.loadWriteStart()
		r.casReadEnd(e, n.next())
		if wasFull {
			r.slotAvailable.Signal()
		}
	}
}
