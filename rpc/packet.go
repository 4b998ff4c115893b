package rpc

import (
	"encoding/binary"
	"fmt"

	"github.com/alephtx/shmipc/errs"
)

// Packet header layout (spec §3.4): 64 bytes, little-endian, no alignment
// padding between fields on the wire. Grounded on the retrieval pack's
// netstack sharedmem queue codec (fd5d3c0a_benjo9-netstack), which encodes
// fixed binary headers the same way: named byte offsets plus
// encoding/binary.LittleEndian.PutUintNN/Uint NN calls, no unsafe struct
// cast over the wire bytes.
const (
	HeaderSize = 64

	offMsgType       = 0
	offMsgID         = 1
	offPayloadSize   = 9
	offCurrentPacket = 13
	offTotalPackets  = 15
	offResponseID    = 17
	// bytes [25:64) are reserved, always zero.
)

// Message types (spec §3.4).
const (
	MsgTypeRequest  byte = 1
	MsgTypeResponse byte = 2
	MsgTypeError    byte = 3
)

// header is the decoded form of one packet's 64-byte wire header.
type header struct {
	MsgType       byte
	MsgID         uint64
	PayloadSize   uint32
	CurrentPacket uint16
	TotalPackets  uint16
	ResponseID    uint64
}

func encodeHeader(buf []byte, h header) {
	buf[offMsgType] = h.MsgType
	binary.LittleEndian.PutUint64(buf[offMsgID:], h.MsgID)
	binary.LittleEndian.PutUint32(buf[offPayloadSize:], h.PayloadSize)
	binary.LittleEndian.PutUint16(buf[offCurrentPacket:], h.CurrentPacket)
	binary.LittleEndian.PutUint16(buf[offTotalPackets:], h.TotalPackets)
	binary.LittleEndian.PutUint64(buf[offResponseID:], h.ResponseID)
	for i := offResponseID + 8; i < HeaderSize; i++ {
		buf[i] = 0
	}
}

func decodeHeader(buf []byte) (header, error) {
	if len(buf) < HeaderSize {
		return header{}, fmt.Errorf("rpc: %w: packet shorter than header (%d bytes)", errs.ErrMalformedFrame, len(buf))
	}
	h := header{
		MsgType:       buf[offMsgType],
		MsgID:         binary.LittleEndian.Uint64(buf[offMsgID:]),
		PayloadSize:   binary.LittleEndian.Uint32(buf[offPayloadSize:]),
		CurrentPacket: binary.LittleEndian.Uint16(buf[offCurrentPacket:]),
		TotalPackets:  binary.LittleEndian.Uint16(buf[offTotalPackets:]),
		ResponseID:    binary.LittleEndian.Uint64(buf[offResponseID:]),
	}
	switch h.MsgType {
	case MsgTypeRequest, MsgTypeResponse, MsgTypeError:
	default:
		return header{}, fmt.Errorf("rpc: %w: unknown msg_type %d", errs.ErrMalformedFrame, h.MsgType)
	}
	if h.TotalPackets == 0 || h.CurrentPacket == 0 || h.CurrentPacket > h.TotalPackets {
		return header{}, fmt.Errorf("rpc: %w: invalid packet index %d/%d", errs.ErrMalformedFrame, h.CurrentPacket, h.TotalPackets)
	}
	return h, nil
}
