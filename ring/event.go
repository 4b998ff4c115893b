package ring

import (
	"sync/atomic"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"
)

// event is an auto-reset, process-shared wake signal backed by a Linux
// futex word living inside the mapped ring memory. The spec (§9, Design
// Notes) explicitly names "futex-backed semaphores" as a valid rendering of
// the two per-ring wake primitives; this is that rendering, chosen over a
// named eventfd because an eventfd's file descriptor cannot be shared
// between unrelated processes without passing it over a Unix socket, while
// a futex's identity is the physical page backing the shared mapping, which
// both owner and peer already share by construction.
//
// Unlike FUTEX_WAIT/FUTEX_WAKE calls made by threads of one process, these
// calls must NOT set FUTEX_PRIVATE_FLAG: that flag tells the kernel to hash
// the futex by virtual address, which is only safe within a single address
// space. Cross-process futexes over a shared mapping must hash by the
// backing page, which is what the (slower) non-private futex path does.
type event struct {
	word *uint32
}

func newEvent(word *uint32) *event {
	return &event{word: word}
}

const (
	futexWait = 0
	futexWake = 1
)

// Signal pulses the event. Exactly one blocked Wait call is released per
// pulse; pulses that arrive with nobody waiting are not queued, matching
// the spec's tolerance for stragglers: a waiter that misses a pulse simply
// re-checks the real ring predicate on its next loop iteration (see
// Ring.reserveWrite / Ring.reserveRead) rather than relying on the wake
// alone.
func (e *event) Signal() {
	atomic.AddUint32(e.word, 1)
	futexWakeAll(e.word, 1)
}

// Wait blocks until the next Signal or until timeoutMs elapses (a negative
// timeoutMs waits indefinitely). It returns false only on timeout.
func (e *event) Wait(timeoutMs int) bool {
	cur := atomic.LoadUint32(e.word)
	ts := msToTimespec(timeoutMs)
	err := futexWaitOnce(e.word, cur, ts)
	if err == unix.ETIMEDOUT {
		return false
	}
	// EAGAIN (word already changed before we parked) and nil (woken) both
	// mean "something happened, go re-check the real predicate".
	return true
}

func msToTimespec(ms int) *unix.Timespec {
	if ms < 0 {
		return nil
	}
	ts := unix.NsecToTimespec(int64(ms) * int64(time.Millisecond))
	return &ts
}

func futexWaitOnce(addr *uint32, val uint32, timeout *unix.Timespec) error {
	_, _, errno := unix.Syscall6(unix.SYS_FUTEX,
		uintptr(unsafe.Pointer(addr)), uintptr(futexWait), uintptr(val),
		uintptr(unsafe.Pointer(timeout)), 0, 0)
	if errno != 0 {
		return errno
	}
	return nil
}

func futexWakeAll(addr *uint32, n int) {
	unix.Syscall6(unix.SYS_FUTEX,
		uintptr(unsafe.Pointer(addr)), uintptr(futexWake), uintptr(n), 0, 0, 0)
}
