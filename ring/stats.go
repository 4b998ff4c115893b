package ring

import "go.uber.org/atomic"

// Stats is a small high-water-mark counter for callers using the Ring
// directly without the RPC layer. [FULL]: mirrored down from the RPC
// layer's "largest packet size" counter (spec §4.3.6), since the Ring is
// its own public abstraction (spec §2 item 2) and benefits from the same
// visibility. Uses go.uber.org/atomic's typed wrapper, the same library the
// rpc package's Stats bundle uses, for one consistent "bag of counters"
// idiom across both layers.
type Stats struct {
	LargestWrite atomic.Uint32
}

// track records n as an observed write size if it's the largest seen so far.
func (s *Stats) track(n int) {
	for {
		cur := s.LargestWrite.Load()
		if uint32(n) <= cur {
			return
		}
		if s.LargestWrite.CompareAndSwap(cur, uint32(n)) {
			return
		}
	}
}

// Reset zeroes the counter, mirroring the RPC layer's Stats.Reset.
func (s *Stats) Reset() {
	s.LargestWrite.Store(0)
}
