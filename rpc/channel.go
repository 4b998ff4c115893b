// Package rpc implements the RPC Channel described in spec §4.3: a pair of
// Rings forming a full-duplex link between an owner and one peer, framed
// messages that packetize across multiple ring slots when they don't fit
// one, and a request/response correlation layer with pluggable handlers.
//
// Grounded on the teacher's feeder/ipc/publisher.go for the overall shape
// of a mutex-guarded registry plus a background receive loop dispatching
// into caller-supplied callbacks, generalized from its one-way
// publish/subscribe semantics to the spec's bidirectional
// request/response/error protocol.
package rpc

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"go.uber.org/atomic"
	"golang.org/x/sync/errgroup"

	"github.com/alephtx/shmipc/errs"
	"github.com/alephtx/shmipc/region"
	"github.com/alephtx/shmipc/ring"
)

// sendPacketTimeoutMs and recvPacketTimeoutMs are the per-packet bounded
// waits spec §4.3.2/§4.3.3 call out by name ("the implementation uses
// 1000 ms per packet" / "bounded timeout, e.g. 500 ms").
const (
	sendPacketTimeoutMs = 1000
	recvPacketTimeoutMs = 500
)

// Buffer capacity bounds from spec §4.3.1.
const (
	MinBufferCapacity = 256
	MaxBufferCapacity = 1 << 20
)

// Options configures Construct. Name identifies the channel and derives
// the names of its two backing regions and its election lock file.
// BufferNodeCount and BufferCapacity are range-checked on both endpoints
// before election, but only the endpoint that wins owner election lays the
// rings out with them; the peer reads the owner's actual layout off the
// mapped ring header (ring.Open), per spec §4.3.1.
type Options struct {
	Name            string
	BufferNodeCount uint32
	BufferCapacity  uint32
	ReceiveThreads  int
	Handler         Handler
	PeerOpenTimeout time.Duration
}

func (o *Options) setDefaults() {
	if o.ReceiveThreads <= 0 {
		o.ReceiveThreads = 1
	}
	if o.PeerOpenTimeout <= 0 {
		o.PeerOpenTimeout = defaultPeerOpenTimeout
	}
}

// Channel is one endpoint of an RPC Channel (spec §4.3). Construct one
// per-process per named channel; both the owner and the peer use the same
// Channel type and public API, differing only in how their two rings came
// to exist.
type Channel struct {
	name    string
	opts    Options
	isOwner bool

	lockFile *os.File // held for the channel's lifetime on the owner; nil on the peer

	outRgn, inRgn *region.Region
	outRing, inRing *ring.Ring

	sendMu    sync.Mutex
	nextMsgID atomic.Uint64

	outstanding *requestRegistry
	incoming    *assemblyRegistry

	Stats Stats

	ctx    context.Context
	cancel context.CancelFunc
	eg     *errgroup.Group

	disposed atomic.Bool
}

// Construct builds (owner) or opens (peer) a named RPC Channel, electing
// the role per spec §4.3.1 and starting the receive worker pool. Both
// endpoints must call Construct with the same Name; BufferNodeCount and
// BufferCapacity must be in range on both sides, but only shape the rings
// on whichever side wins the race to create.
func Construct(ctx context.Context, opts Options) (*Channel, error) {
	opts.setDefaults()

	if opts.Name == "" {
		return nil, fmt.Errorf("rpc: %w: name must not be empty", errs.ErrOutOfRange)
	}
	if opts.BufferCapacity < MinBufferCapacity || opts.BufferCapacity > MaxBufferCapacity {
		return nil, fmt.Errorf("rpc: %w: buffer_capacity %d outside [%d, %d]",
			errs.ErrOutOfRange, opts.BufferCapacity, MinBufferCapacity, MaxBufferCapacity)
	}
	if int(opts.BufferCapacity) <= HeaderSize {
		return nil, fmt.Errorf("rpc: %w: buffer_capacity %d must exceed the %d-byte packet header",
			errs.ErrOutOfRange, opts.BufferCapacity, HeaderSize)
	}
	if opts.BufferNodeCount < 2 {
		return nil, fmt.Errorf("rpc: %w: buffer_node_count must be >= 2, got %d", errs.ErrOutOfRange, opts.BufferNodeCount)
	}
	if opts.ReceiveThreads < 2 {
		log.Printf("rpc: channel %q constructed with receive_threads=%d; a handler that issues "+
			"nested RemoteRequest calls on this channel will deadlock (spec §5) unless >= 2", opts.Name, opts.ReceiveThreads)
	}

	isOwner, lockFile, err := electRole(opts.Name)
	if err != nil {
		return nil, err
	}

	p2oName := opts.Name + p2oSuffix
	o2pName := opts.Name + o2pSuffix

	p2oRgn, p2oRing, o2pRgn, o2pRing, err := bringUpRings(ctx, isOwner, p2oName, o2pName, opts)
	if err != nil {
		if lockFile != nil {
			lockFile.Close()
		}
		return nil, err
	}

	// Owner reads peer->owner and writes owner->peer; the peer takes the
	// opposite roles (spec §4.3.1: "the two endpoints choose opposite roles").
	var inRgn, outRgn *region.Region
	var inRing, outRing *ring.Ring
	if isOwner {
		inRgn, inRing, outRgn, outRing = p2oRgn, p2oRing, o2pRgn, o2pRing
	} else {
		inRgn, inRing, outRgn, outRing = o2pRgn, o2pRing, p2oRgn, p2oRing
	}

	cctx, cancel := context.WithCancel(ctx)
	eg, egCtx := errgroup.WithContext(cctx)

	ch := &Channel{
		name:        opts.Name,
		opts:        opts,
		isOwner:     isOwner,
		lockFile:    lockFile,
		outRgn:      outRgn,
		inRgn:       inRgn,
		outRing:     outRing,
		inRing:      inRing,
		outstanding: newRequestRegistry(),
		incoming:    newAssemblyRegistry(),
		ctx:         cctx,
		cancel:      cancel,
		eg:          eg,
	}

	for i := 0; i < opts.ReceiveThreads; i++ {
		eg.Go(func() error {
			ch.receiveLoop(egCtx)
			return nil
		})
	}

	return ch, nil
}

// bringUpRings creates both rings (owner) or opens both (peer), returning
// them named consistently regardless of role so Construct can assign
// in/out sides afterward.
func bringUpRings(ctx context.Context, isOwner bool, p2oName, o2pName string, opts Options) (
	p2oRgn *region.Region, p2oRing *ring.Ring, o2pRgn *region.Region, o2pRing *ring.Ring, err error,
) {
	if isOwner {
		size := ring.Size(opts.BufferNodeCount, opts.BufferCapacity)

		p2oRgn, err = region.Create(p2oName, size)
		if err != nil {
			return nil, nil, nil, nil, fmt.Errorf("rpc: create ring %s: %w", p2oName, err)
		}
		p2oRing, err = ring.NewOwner(p2oRgn, opts.BufferNodeCount, opts.BufferCapacity)
		if err != nil {
			p2oRgn.Close()
			return nil, nil, nil, nil, fmt.Errorf("rpc: lay out ring %s: %w", p2oName, err)
		}

		o2pRgn, err = region.Create(o2pName, size)
		if err != nil {
			p2oRgn.Close()
			return nil, nil, nil, nil, fmt.Errorf("rpc: create ring %s: %w", o2pName, err)
		}
		o2pRing, err = ring.NewOwner(o2pRgn, opts.BufferNodeCount, opts.BufferCapacity)
		if err != nil {
			p2oRgn.Close()
			o2pRgn.Close()
			return nil, nil, nil, nil, fmt.Errorf("rpc: lay out ring %s: %w", o2pName, err)
		}
		return p2oRgn, p2oRing, o2pRgn, o2pRing, nil
	}

	p2oRgn, p2oRing, err = openRingRetry(ctx, p2oName, opts.PeerOpenTimeout)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	o2pRgn, o2pRing, err = openRingRetry(ctx, o2pName, opts.PeerOpenTimeout)
	if err != nil {
		p2oRgn.Close()
		return nil, nil, nil, nil, err
	}
	return p2oRgn, p2oRing, o2pRgn, o2pRing, nil
}

// IsOwner reports whether this endpoint created the channel's shared
// resources (spec §4.3.1).
func (ch *Channel) IsOwner() bool { return ch.isOwner }

// Name returns the channel's identity string.
func (ch *Channel) Name() string { return ch.name }

func (ch *Channel) allocMsgID() uint64 {
	return ch.nextMsgID.Add(1)
}

func (ch *Channel) shutdown() bool {
	return ch.outRgn.IsShutdown() || ch.inRgn.IsShutdown()
}

// send implements spec §4.3.2: frame payload into one or more packets of
// at most NodeBufferSize()-HeaderSize body bytes each, writing them through
// the outbound ring under the single send lock so packets of one message
// never interleave with packets of another on the wire.
func (ch *Channel) send(msgType byte, msgID uint64, payload []byte, responseID uint64) error {
	if ch.disposed.Load() {
		return errs.ErrAlreadyDisposed
	}
	if ch.shutdown() {
		return errs.ErrShutdown
	}

	bodyPer := bodyPerPacketFixed(int(ch.outRing.NodeBufferSize()))
	payloadLen := len(payload)
	total := 1
	if payloadLen > 0 {
		total = (payloadLen + bodyPer - 1) / bodyPer
	}

	ch.sendMu.Lock()
	defer ch.sendMu.Unlock()

	buf := make([]byte, HeaderSize+bodyPer)
	for k := 1; k <= total; k++ {
		start := (k - 1) * bodyPer
		end := start + bodyPer
		if end > payloadLen {
			end = payloadLen
		}
		chunk := payload[start:end]

		encodeHeader(buf, header{
			MsgType:       msgType,
			MsgID:         msgID,
			PayloadSize:   uint32(payloadLen),
			CurrentPacket: uint16(k),
			TotalPackets:  uint16(total),
			ResponseID:    responseID,
		})
		packet := buf[:HeaderSize+len(chunk)]
		copy(packet[HeaderSize:], chunk)

		waitStart := time.Now()
		n, ok := ch.outRing.Write(sendPacketTimeoutMs, packet)
		ch.Stats.trackWaitSent(time.Since(waitStart).Milliseconds())
		if !ok {
			if ch.shutdown() {
				return errs.ErrShutdown
			}
			return fmt.Errorf("rpc: send: packet %d/%d timed out", k, total)
		}
		ch.Stats.PacketsSent.Add(1)
		ch.Stats.BytesSent.Add(uint64(n))
		ch.Stats.trackLargestSent(n)
	}

	ch.Stats.LastMessageSizeSent.Store(uint32(payloadLen))
	switch msgType {
	case MsgTypeRequest:
		ch.Stats.RequestsSent.Add(1)
	case MsgTypeResponse:
		ch.Stats.ResponsesSent.Add(1)
	case MsgTypeError:
		ch.Stats.ErrorsSent.Add(1)
	}
	return nil
}

// receiveLoop is one worker of the pool spec §4.3.3 describes: read one
// packet (bounded wait so shutdown/dispose is observed between waits),
// parse it, and route it to response correlation or request reassembly.
func (ch *Channel) receiveLoop(ctx context.Context) {
	buf := make([]byte, ch.inRing.NodeBufferSize())
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		if ch.disposed.Load() || ch.shutdown() {
			return
		}

		waitStart := time.Now()
		n, ok := ch.inRing.Read(recvPacketTimeoutMs, buf)
		ch.Stats.trackWaitReceived(time.Since(waitStart).Milliseconds())
		if !ok {
			continue
		}
		ch.handlePacket(buf[:n])
	}
}

func (ch *Channel) handlePacket(raw []byte) {
	h, err := decodeHeader(raw)
	if err != nil {
		ch.Stats.MalformedPackets.Add(1)
		return
	}
	body := raw[HeaderSize:]

	ch.Stats.PacketsReceived.Add(1)
	ch.Stats.BytesReceived.Add(uint64(len(raw)))
	ch.Stats.trackLargestReceived(len(raw))

	bodyPer := bodyPerPacketFixed(int(ch.inRing.NodeBufferSize()))

	switch h.MsgType {
	case MsgTypeResponse, MsgTypeError:
		req := ch.outstanding.get(h.ResponseID)
		if req == nil {
			ch.Stats.DiscardedResponses.Add(1)
			ch.Stats.LastDiscardedID.Store(h.ResponseID)
			return
		}
		final := req.deliver(h, body, bodyPer, h.MsgType == MsgTypeResponse)
		if !final {
			return
		}
		// deleteIfPresent, not a plain delete: Dispose's abortAll may have
		// already claimed and closed this same request concurrently, and
		// exactly one side must call close(req.done).
		if _, owned := ch.outstanding.deleteIfPresent(h.ResponseID); !owned {
			return
		}
		ch.Stats.LastMessageSizeReceived.Store(h.PayloadSize)
		if h.MsgType == MsgTypeResponse {
			ch.Stats.ResponsesReceived.Add(1)
		} else {
			ch.Stats.ErrorsReceived.Add(1)
		}
		close(req.done)

	case MsgTypeRequest:
		asm := ch.incoming.getOrCreate(h.MsgID)
		final := asm.deliver(h, body, bodyPer)
		if !final {
			return
		}
		ch.incoming.delete(h.MsgID)
		ch.Stats.RequestsReceived.Add(1)
		ch.Stats.LastMessageSizeReceived.Store(h.PayloadSize)
		ch.dispatchRequest(h.MsgID, asm.payload)
	}
}

// dispatchRequest runs the configured Handler to completion on the calling
// worker's own goroutine (spec §4.3.4) — deliberately not spawned onto a
// fresh goroutine, so that a handler issuing a nested RemoteRequest on this
// same channel blocks precisely this worker, leaving the rest of the pool
// free to keep dispatching (spec §5's nested-call deadlock note).
func (ch *Channel) dispatchRequest(reqID uint64, payload []byte) {
	replyID := ch.allocMsgID()
	data, err := ch.opts.Handler.dispatch(reqID, payload)

	msgType := MsgTypeResponse
	if err != nil {
		msgType = MsgTypeError
		data = nil
	}
	if sendErr := ch.send(msgType, replyID, data, reqID); sendErr != nil {
		log.Printf("rpc: channel %q: failed to send reply for request %d: %v", ch.name, reqID, sendErr)
	}
}

// RemoteRequest blocks the caller until a response arrives, timeout
// elapses, or ctx is canceled (spec §4.3.5). timeout == 0 means "fire and
// forget": the request is sent but never registered for correlation, and
// the call returns immediately with success=false, consistent with the
// spec's adopted unified reading of timeout=0 (§9, open questions).
func (ch *Channel) RemoteRequest(ctx context.Context, payload []byte, timeout time.Duration) (success bool, data []byte, err error) {
	if ch.disposed.Load() {
		return false, nil, errs.ErrAlreadyDisposed
	}
	if ch.shutdown() {
		return false, nil, errs.ErrShutdown
	}

	id := ch.allocMsgID()

	if timeout == 0 {
		_ = ch.send(MsgTypeRequest, id, payload, 0)
		return false, nil, nil
	}

	req := newRequest(id, payload)
	ch.outstanding.put(req)

	if sendErr := ch.send(MsgTypeRequest, id, payload, 0); sendErr != nil {
		ch.outstanding.delete(id)
		return false, nil, sendErr
	}

	var timeoutCh <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		timeoutCh = timer.C
	}

	select {
	case <-req.done:
		req.mu.Lock()
		ok, resp, delivered := req.success, req.response, req.delivered
		req.mu.Unlock()
		if ok {
			return true, resp, nil
		}
		if delivered {
			return false, nil, &RemoteError{MsgID: id, Payload: resp}
		}
		return false, nil, nil

	case <-timeoutCh:
		ch.outstanding.delete(id)
		ch.Stats.Timeouts.Add(1)
		ch.Stats.LastTimeoutUnixNano.Store(time.Now().UnixNano())
		return false, nil, nil

	case <-ctx.Done():
		ch.outstanding.delete(id)
		return false, nil, nil

	case <-ch.ctx.Done():
		ch.outstanding.delete(id)
		return false, nil, errs.ErrShutdown
	}
}

// AsyncResult is the result shape RemoteRequestAsync's channel delivers —
// the same {success, data} pair RemoteRequest returns, plus any error.
type AsyncResult struct {
	Success bool
	Data    []byte
	Err     error
}

// RemoteRequestAsync is the non-blocking entry point of spec §4.3.5: it
// drives RemoteRequest on a fresh goroutine and returns immediately with a
// channel that receives exactly one AsyncResult.
func (ch *Channel) RemoteRequestAsync(ctx context.Context, payload []byte, timeout time.Duration) <-chan AsyncResult {
	out := make(chan AsyncResult, 1)
	go func() {
		ok, data, err := ch.RemoteRequest(ctx, payload, timeout)
		out <- AsyncResult{Success: ok, Data: data, Err: err}
		close(out)
	}()
	return out
}

// Dispose tears the channel down (spec §6: "dispose"): marks it disposed,
// marks the shared region shut down if this endpoint owns it, aborts every
// outstanding request, stops accepting new work, waits for receive workers
// to observe shutdown and return, and unmaps both regions.
func (ch *Channel) Dispose() error {
	if !ch.disposed.CompareAndSwap(false, true) {
		return nil // already disposed
	}

	if ch.isOwner {
		ch.outRgn.MarkShutdown()
		ch.inRgn.MarkShutdown()
	}
	ch.outstanding.abortAll()
	ch.cancel()
	_ = ch.eg.Wait()

	var firstErr error
	if err := ch.outRgn.Close(); err != nil {
		firstErr = err
	}
	if err := ch.inRgn.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if ch.lockFile != nil {
		if err := ch.lockFile.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
