package ring

// Byte layout, matching spec §3.2 for the Node Header (24 bytes) and Node
// Table (32 bytes per node) sections exactly, plus a small trailing "event
// words" section ([FULL]: two uint32 futex words backing the data-available
// and slot-available wake primitives, see event.go) that the spec leaves
// implementation-defined — it specifies the two signals exist and are named
// deterministically, not where their storage lives.

const (
	headerSize = 24 // read_end, read_start, write_end, write_start, node_count, node_buffer_size
	nodeSize   = 32 // next, prev, done_read, done_write, offset, index, amount_written
	eventsSize = 8  // dataExists word, slotAvailable word
)

// header field offsets, within base[0:headerSize].
const (
	hReadEnd        = 0
	hReadStart      = 4
	hWriteEnd       = 8
	hWriteStart     = 12
	hNodeCount      = 16
	hNodeBufferSize = 20
)

// per-node field offsets, within one nodeSize-byte entry.
const (
	nNext          = 0
	nPrev          = 4
	nDoneRead      = 8
	nDoneWrite     = 12
	nOffset        = 16
	nIndex         = 24
	nAmountWritten = 28
)

// event word offsets, within the trailing eventsSize-byte section.
const (
	eDataExists    = 0
	eSlotAvailable = 4
)

// size returns the total byte length of a ring with n nodes of b bytes each.
func size(n, b uint32) int64 {
	return int64(headerSize) + int64(nodeSize)*int64(n) + int64(b)*int64(n) + int64(eventsSize)
}
