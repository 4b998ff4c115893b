package ring

import "unsafe"

// WriteFunc reserves a slot, hands fill the node's raw buffer to populate
// in place, and publishes. fill must return the number of bytes it wrote
// (which becomes the node's amount_written); it must not exceed
// len(buf) == NodeBufferSize(). This is the one primitive form: every
// other delivery shape (byte slice, typed array, single value, raw
// pointer+length — spec §4.2.3) is a thin wrapper around it, since Go's
// slice-of-bytes-into-shared-memory is already zero-copy and none of the
// retrieval pack's ring implementations model a separate "typed element"
// ring type distinct from a byte-oriented one.
func (r *Ring) WriteFunc(timeoutMs int, fill func(buf []byte) int) bool {
	nd, _, ok := r.reserveWrite(timeoutMs)
	if !ok {
		return false
	}
	n := fill(nd.buf)
	if n < 0 {
		n = 0
	}
	if n > len(nd.buf) {
		n = len(nd.buf)
	}
	nd.setAmountWritten(uint32(n))
	r.publish(nd)
	r.Stats.track(n)
	return true
}

// ReadFunc reserves the next readable slot, hands drain its valid bytes
// (nd.buf[:amount_written]) to consume in place, and releases the slot.
// drain returns nothing; the whole slot is released however many bytes
// drain actually used.
func (r *Ring) ReadFunc(timeoutMs int, drain func(buf []byte)) bool {
	nd, _, ok := r.reserveRead(timeoutMs)
	if !ok {
		return false
	}
	n := nd.amountWritten()
	drain(nd.buf[:n])
	r.consume(nd)
	return true
}

// Write copies up to NodeBufferSize() bytes of data into one slot. It
// returns the number of bytes copied and false only on timeout/shutdown;
// data longer than one node's capacity is truncated to fit, since a single
// ring node never spans multiple slots (message splitting across nodes is
// the RPC layer's job, not the ring's — see rpc/packet.go).
func (r *Ring) Write(timeoutMs int, data []byte) (int, bool) {
	written := 0
	ok := r.WriteFunc(timeoutMs, func(buf []byte) int {
		written = copy(buf, data)
		return written
	})
	if !ok {
		return 0, false
	}
	return written, true
}

// Read copies one slot's valid bytes into dest (truncating if dest is
// shorter than the slot's amount_written) and returns the count copied.
func (r *Ring) Read(timeoutMs int, dest []byte) (int, bool) {
	n := 0
	ok := r.ReadFunc(timeoutMs, func(buf []byte) {
		n = copy(dest, buf)
	})
	if !ok {
		return 0, false
	}
	return n, true
}

// WriteValue writes a single fixed-size value by reinterpreting its memory
// as bytes — the "single typed value" delivery shape of spec §4.2.3. T must
// be a fixed-size type (no pointers/slices/strings) for the reinterpret to
// be meaningful across processes.
func WriteValue[T any](r *Ring, timeoutMs int, v T) bool {
	var zero T
	size := int(unsafe.Sizeof(zero))
	src := unsafe.Slice((*byte)(unsafe.Pointer(&v)), size)
	n, ok := r.Write(timeoutMs, src)
	return ok && n == size
}

// ReadValue reads one slot as a single fixed-size value of type T.
func ReadValue[T any](r *Ring, timeoutMs int) (T, bool) {
	var v T
	size := int(unsafe.Sizeof(v))
	dst := unsafe.Slice((*byte)(unsafe.Pointer(&v)), size)
	n, ok := r.Read(timeoutMs, dst)
	if !ok || n != size {
		var zero T
		return zero, false
	}
	return v, true
}

// WriteSlice writes a typed array — the "typed array" delivery shape of
// spec §4.2.3 — by reinterpreting it as bytes. It returns the number of
// complete elements written.
func WriteSlice[T any](r *Ring, timeoutMs int, s []T) (int, bool) {
	if len(s) == 0 {
		return 0, r.WriteFunc(timeoutMs, func(buf []byte) int { return 0 })
	}
	var zero T
	elemSize := int(unsafe.Sizeof(zero))
	src := unsafe.Slice((*byte)(unsafe.Pointer(&s[0])), elemSize*len(s))
	n, ok := r.Write(timeoutMs, src)
	if !ok {
		return 0, false
	}
	return n / elemSize, true
}

// ReadSlice reads one slot into dest, reinterpreted as typed elements, and
// returns the number of complete elements read.
func ReadSlice[T any](r *Ring, timeoutMs int, dest []T) (int, bool) {
	if len(dest) == 0 {
		return 0, r.ReadFunc(timeoutMs, func(buf []byte) {})
	}
	var zero T
	elemSize := int(unsafe.Sizeof(zero))
	dst := unsafe.Slice((*byte)(unsafe.Pointer(&dest[0])), elemSize*len(dest))
	n, ok := r.Read(timeoutMs, dst)
	if !ok {
		return 0, false
	}
	return n / elemSize, true
}

// WritePointer writes length bytes starting at ptr — the "raw pointer +
// length" delivery shape of spec §4.2.3, for callers already holding an
// unsafe.Pointer (e.g. from cgo or another unsafe-heavy layer).
func WritePointer(r *Ring, timeoutMs int, ptr unsafe.Pointer, length int) (int, bool) {
	return r.Write(timeoutMs, unsafe.Slice((*byte)(ptr), length))
}

// ReadPointer reads one slot into length bytes starting at ptr.
func ReadPointer(r *Ring, timeoutMs int, ptr unsafe.Pointer, length int) (int, bool) {
	return r.Read(timeoutMs, unsafe.Slice((*byte)(ptr), length))
}
