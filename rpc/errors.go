package rpc

import (
	"errors"
	"fmt"
)

// errNoHandler fires if a request arrives on a channel constructed without
// a Handler — a configuration mistake, not a wire-level failure.
var errNoHandler = errors.New("rpc: channel has no request handler configured")

// RemoteError is what RemoteRequest and RemoteRequestAsync return when the
// peer's handler reported a failure (msg_type = MsgTypeError). It carries
// the error reply's payload verbatim, since handler errors on the wire are
// just bytes — the sender and receiver don't share a Go error type.
type RemoteError struct {
	MsgID   uint64
	Payload []byte
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("rpc: remote handler error for message %d (%d byte payload)", e.MsgID, len(e.Payload))
}
