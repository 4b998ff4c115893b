package rpc

import "go.uber.org/atomic"

// Stats is the statistics bundle from spec §4.3.6: per-direction message,
// byte and packet counters, high-water marks, and the discarded/timeout
// counters used to diagnose a misbehaving peer. Counters use
// go.uber.org/atomic's typed wrappers, mirroring ring.Stats and grounded
// the same way (the grafana/tempo ingester's per-tenant counter bundles in
// the retrieval pack use the same library for lock-free stat fields).
type Stats struct {
	RequestsSent     atomic.Uint64
	RequestsReceived atomic.Uint64
	ResponsesSent    atomic.Uint64
	ResponsesReceived atomic.Uint64
	ErrorsSent       atomic.Uint64
	ErrorsReceived   atomic.Uint64

	BytesSent     atomic.Uint64
	BytesReceived atomic.Uint64
	PacketsSent   atomic.Uint64
	PacketsReceived atomic.Uint64

	LargestPacketSent     atomic.Uint32
	LargestPacketReceived atomic.Uint32

	LastMessageSizeSent     atomic.Uint32
	LastMessageSizeReceived atomic.Uint32

	MaxWaitMillisSent     atomic.Int64
	MaxWaitMillisReceived atomic.Int64

	DiscardedResponses atomic.Uint64
	LastDiscardedID    atomic.Uint64

	MalformedPackets atomic.Uint64

	Timeouts            atomic.Uint64
	LastTimeoutUnixNano atomic.Int64
}

func (s *Stats) trackLargestSent(n int) {
	trackU32(&s.LargestPacketSent, uint32(n))
}

func (s *Stats) trackLargestReceived(n int) {
	trackU32(&s.LargestPacketReceived, uint32(n))
}

func (s *Stats) trackWaitSent(ms int64) {
	trackI64(&s.MaxWaitMillisSent, ms)
}

func (s *Stats) trackWaitReceived(ms int64) {
	trackI64(&s.MaxWaitMillisReceived, ms)
}

// Reset zeroes every counter (spec §4.3.6: "A reset operation zeroes all
// counters").
func (s *Stats) Reset() {
	s.RequestsSent.Store(0)
	s.RequestsReceived.Store(0)
	s.ResponsesSent.Store(0)
	s.ResponsesReceived.Store(0)
	s.ErrorsSent.Store(0)
	s.ErrorsReceived.Store(0)

	s.BytesSent.Store(0)
	s.BytesReceived.Store(0)
	s.PacketsSent.Store(0)
	s.PacketsReceived.Store(0)

	s.LargestPacketSent.Store(0)
	s.LargestPacketReceived.Store(0)

	s.LastMessageSizeSent.Store(0)
	s.LastMessageSizeReceived.Store(0)

	s.MaxWaitMillisSent.Store(0)
	s.MaxWaitMillisReceived.Store(0)

	s.DiscardedResponses.Store(0)
	s.LastDiscardedID.Store(0)

	s.MalformedPackets.Store(0)

	s.Timeouts.Store(0)
	s.LastTimeoutUnixNano.Store(0)
}

func trackU32(a *atomic.Uint32, n uint32) {
	for {
		cur := a.Load()
		if n <= cur {
			return
		}
		if a.CompareAndSwap(cur, n) {
			return
		}
	}
}

func trackI64(a *atomic.Int64, n int64) {
	for {
		cur := a.Load()
		if n <= cur {
			return
		}
		if a.CompareAndSwap(cur, n) {
			return
		}
	}
}

// Snapshot is a point-in-time, non-atomic copy of Stats suitable for
// logging or a diagnostics endpoint.
type Snapshot struct {
	RequestsSent, RequestsReceived   uint64
	ResponsesSent, ResponsesReceived uint64
	ErrorsSent, ErrorsReceived       uint64
	BytesSent, BytesReceived         uint64
	PacketsSent, PacketsReceived     uint64
	LargestPacketSent, LargestPacketReceived uint32
	LastMessageSizeSent, LastMessageSizeReceived uint32
	MaxWaitMillisSent, MaxWaitMillisReceived int64
	DiscardedResponses uint64
	LastDiscardedID    uint64
	MalformedPackets   uint64
	Timeouts           uint64
}

func (s *Stats) Snapshot() Snapshot {
	return Snapshot{
		RequestsSent:     s.RequestsSent.Load(),
		RequestsReceived: s.RequestsReceived.Load(),
		ResponsesSent:    s.ResponsesSent.Load(),
		ResponsesReceived: s.ResponsesReceived.Load(),
		ErrorsSent:       s.ErrorsSent.Load(),
		ErrorsReceived:   s.ErrorsReceived.Load(),
		BytesSent:        s.BytesSent.Load(),
		BytesReceived:    s.BytesReceived.Load(),
		PacketsSent:      s.PacketsSent.Load(),
		PacketsReceived:  s.PacketsReceived.Load(),
		LargestPacketSent: s.LargestPacketSent.Load(),
		LargestPacketReceived: s.LargestPacketReceived.Load(),
		LastMessageSizeSent: s.LastMessageSizeSent.Load(),
		LastMessageSizeReceived: s.LastMessageSizeReceived.Load(),
		MaxWaitMillisSent: s.MaxWaitMillisSent.Load(),
		MaxWaitMillisReceived: s.MaxWaitMillisReceived.Load(),
		DiscardedResponses: s.DiscardedResponses.Load(),
		LastDiscardedID:    s.LastDiscardedID.Load(),
		MalformedPackets:   s.MalformedPackets.Load(),
		Timeouts:           s.Timeouts.Load(),
	}
}
