// Package frame implements the wire-level framing used to carry tickloom
// Messages over a byte stream: a fixed 9-byte header (stream id, frame
// type, payload length) followed by the payload, and an incremental
// Reassembler that turns a best-effort byte stream into a FIFO queue of
// complete Frames.
//
// The wire format and the non-blocking feed/poll contract are fixed by the
// specification; the state-machine shape (two states, a lazily-sized
// target buffer, a bounded scratch buffer backing reads from a socket) is
// modeled on the stream framer from the example pack
// (code.hybscloud.com/framer), generalized from its variable-width varint
// header to the spec's fixed 9-byte header.
package frame

import (
	"encoding/binary"

	"github.com/joeycumines/tickloom/tlerrors"
)

const (
	// HeaderSize is the fixed wire-header length: 4-byte stream id,
	// 1-byte frame type, 4-byte big-endian payload length.
	HeaderSize = 9

	// MaxPayload is the largest payload a Frame may carry (10 MiB).
	MaxPayload = 10 * 1024 * 1024

	// ScratchSize is the size of the buffer StreamReader reads into
	// before feeding the bytes of that one read to its Reassembler; it
	// has no bearing on the largest frame supported.
	ScratchSize = 64 * 1024
)

// Frame is a single wire-level unit: a stream id, a frame-type tag, and an
// opaque payload.
type Frame struct {
	StreamID  uint32
	FrameType byte
	Payload   []byte
}

// Encode serializes f as HeaderSize + len(f.Payload) bytes. It returns a
// *tlerrors.ProtocolError if the payload exceeds MaxPayload.
func Encode(f Frame) ([]byte, error) {
	if len(f.Payload) > MaxPayload {
		return nil, tlerrors.NewProtocolError("payload exceeds MAX_PAYLOAD")
	}
	buf := make([]byte, HeaderSize+len(f.Payload))
	binary.BigEndian.PutUint32(buf[0:4], f.StreamID)
	buf[4] = f.FrameType
	binary.BigEndian.PutUint32(buf[5:9], uint32(len(f.Payload)))
	copy(buf[HeaderSize:], f.Payload)
	return buf, nil
}

// decodeHeader parses the 9-byte header at the start of b. It returns an
// error for a payload length outside [0, MaxPayload]; per §3 this renders
// the stream fatally corrupt.
func decodeHeader(b [HeaderSize]byte) (streamID uint32, frameType byte, payloadLen uint32, err error) {
	streamID = binary.BigEndian.Uint32(b[0:4])
	frameType = b[4]
	payloadLen = binary.BigEndian.Uint32(b[5:9])
	if payloadLen > MaxPayload {
		return 0, 0, 0, tlerrors.NewProtocolError("payload length exceeds MAX_PAYLOAD")
	}
	return streamID, frameType, payloadLen, nil
}
