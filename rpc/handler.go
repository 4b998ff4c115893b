package rpc

// Handler dispatches an inbound request to application code and produces
// the reply payload to send back (spec §4.3.5: four request-handler
// shapes — sync/async crossed with void/bytes-reply — that all reduce to
// "produce an optional reply payload, or fail". Go has no native future
// type, so "async" here means the handler itself owns a goroutine and
// reports completion over a channel; the receive worker blocks on that
// channel exactly as it would block on a synchronous call, since the
// worker pool (golang.org/x/sync/errgroup, see channel.go) already gives
// concurrent requests their own goroutines regardless of which handler
// shape answers them.
type Handler struct {
	syncVoid  func(id uint64, payload []byte) error
	asyncVoid func(id uint64, payload []byte) <-chan error
	syncBytes func(id uint64, payload []byte) ([]byte, error)
	asyncBytes func(id uint64, payload []byte) <-chan BytesResult
}

// BytesResult is what an async-bytes handler delivers over its returned
// channel: the reply payload, or the error to send back instead.
type BytesResult struct {
	Data []byte
	Err  error
}

// NewSyncVoidHandler wraps a handler that runs to completion on the
// receive worker's own goroutine and produces no reply payload beyond
// success/failure.
func NewSyncVoidHandler(f func(id uint64, payload []byte) error) Handler {
	return Handler{syncVoid: f}
}

// NewAsyncVoidHandler wraps a handler that hands off to its own goroutine
// and reports completion (nil error) or failure over the returned channel.
func NewAsyncVoidHandler(f func(id uint64, payload []byte) <-chan error) Handler {
	return Handler{asyncVoid: f}
}

// NewSyncBytesHandler wraps a handler that runs synchronously and returns a
// reply payload.
func NewSyncBytesHandler(f func(id uint64, payload []byte) ([]byte, error)) Handler {
	return Handler{syncBytes: f}
}

// NewAsyncBytesHandler wraps a handler that hands off to its own goroutine
// and delivers its reply payload (or error) over the returned channel.
func NewAsyncBytesHandler(f func(id uint64, payload []byte) <-chan BytesResult) Handler {
	return Handler{asyncBytes: f}
}

func (h Handler) configured() bool {
	return h.syncVoid != nil || h.asyncVoid != nil || h.syncBytes != nil || h.asyncBytes != nil
}

// dispatch runs the configured handler variant to completion and returns
// the reply payload to send (nil for void handlers) and any error. Spec
// §4.3.5: "Any handler failure produces an error reply with empty
// payload."
func (h Handler) dispatch(id uint64, payload []byte) ([]byte, error) {
	switch {
	case h.syncVoid != nil:
		return nil, h.syncVoid(id, payload)
	case h.asyncVoid != nil:
		return nil, <-h.asyncVoid(id, payload)
	case h.syncBytes != nil:
		return h.syncBytes(id, payload)
	case h.asyncBytes != nil:
		res := <-h.asyncBytes(id, payload)
		return res.Data, res.Err
	default:
		return nil, errNoHandler
	}
}
