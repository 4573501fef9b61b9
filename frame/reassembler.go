package frame

import (
	"errors"
	"io"

	"github.com/joeycumines/tickloom/tlerrors"
)

// Status is the advisory result of a Feed call.
type Status int

const (
	// StatusProgress indicates bytes were consumed but no frame completed.
	StatusProgress Status = iota
	// StatusFrameReady indicates at least one frame is ready via Poll.
	StatusFrameReady
)

type readState int

const (
	readingHeader readState = iota
	readingPayload
)

// Reassembler incrementally decodes a byte stream into a FIFO queue of
// Frames. It never blocks: Feed consumes whatever is handed to it and
// returns immediately, mirroring the framer's non-blocking-first
// design (iox.ErrWouldBlock / iox.ErrMore as control-flow signals, not
// panics or blocking reads).
//
// Once Feed or FeedEOF returns a non-nil error the Reassembler is
// poisoned: the stream is fatally corrupt (§4.A) and must not be fed
// further.
type Reassembler struct {
	state   readState
	header  [HeaderSize]byte
	hdrPos  int
	payload []byte
	payPos  int

	streamID   uint32
	frameType  byte
	payloadLen uint32

	ready   []Frame
	readyAt int // index of next unpolled frame in ready

	corrupt error
}

// New returns an empty Reassembler, ready to Feed.
func New() *Reassembler {
	return &Reassembler{}
}

// Feed appends newly-read bytes and advances the state machine as far as
// possible. It returns StatusFrameReady if this call completed at least
// one frame; frames completed by earlier calls and not yet polled do not
// affect the status.
func (r *Reassembler) Feed(b []byte) (Status, error) {
	if r.corrupt != nil {
		return StatusProgress, r.corrupt
	}
	produced := false
	for len(b) > 0 {
		switch r.state {
		case readingHeader:
			n := copy(r.header[r.hdrPos:], b)
			r.hdrPos += n
			b = b[n:]
			if r.hdrPos == HeaderSize {
				streamID, frameType, payloadLen, err := decodeHeader(r.header)
				if err != nil {
					r.corrupt = err
					return StatusProgress, err
				}
				r.streamID = streamID
				r.frameType = frameType
				r.payloadLen = payloadLen
				r.hdrPos = 0
				if payloadLen == 0 {
					r.completeFrame(nil)
					produced = true
					continue
				}
				r.payload = make([]byte, payloadLen)
				r.payPos = 0
				r.state = readingPayload
			}
		case readingPayload:
			n := copy(r.payload[r.payPos:], b)
			r.payPos += n
			b = b[n:]
			if r.payPos == len(r.payload) {
				r.completeFrame(r.payload)
				r.payload = nil
				produced = true
				r.state = readingHeader
			}
		}
	}
	if produced {
		return StatusFrameReady, nil
	}
	return StatusProgress, nil
}

func (r *Reassembler) completeFrame(payload []byte) {
	r.ready = append(r.ready, Frame{StreamID: r.streamID, FrameType: r.frameType, Payload: payload})
}

// Poll returns the next completed Frame, if any, in FIFO order.
func (r *Reassembler) Poll() (Frame, bool) {
	if r.readyAt >= len(r.ready) {
		if r.readyAt > 0 {
			r.ready = r.ready[:0]
			r.readyAt = 0
		}
		return Frame{}, false
	}
	f := r.ready[r.readyAt]
	r.readyAt++
	if r.readyAt == len(r.ready) {
		r.ready = r.ready[:0]
		r.readyAt = 0
	}
	return f, true
}

// Partial reports whether a frame is currently partially assembled (header
// or payload bytes have been consumed but the frame has not completed).
func (r *Reassembler) Partial() bool {
	return r.hdrPos > 0 || r.state == readingPayload
}

// FeedEOF signals that the underlying stream ended. Per §4.A, EOF while a
// frame is partially assembled is a fatal ProtocolError; EOF on a clean
// boundary is not an error.
func (r *Reassembler) FeedEOF() error {
	if r.corrupt != nil {
		return r.corrupt
	}
	if r.Partial() {
		err := tlerrors.NewProtocolError("EOF mid-frame")
		r.corrupt = err
		return err
	}
	return nil
}

// StreamReader drives a Reassembler from an io.Reader using a bounded
// scratch buffer, so that multiple complete frames can be assembled from
// one system read and a single frame larger than the scratch can span many
// reads. This is the socket-facing half described in §4.A; the reactor
// package (component C) uses it over non-blocking connections.
type StreamReader struct {
	r       io.Reader
	re      *Reassembler
	scratch [ScratchSize]byte
}

// NewStreamReader wraps r with a Reassembler and a ScratchSize buffer.
func NewStreamReader(r io.Reader) *StreamReader {
	return &StreamReader{r: r, re: New()}
}

// Reassembler exposes the underlying Reassembler for Poll.
func (s *StreamReader) Reassembler() *Reassembler { return s.re }

// ReadOnce performs a single underlying Read and feeds the result into the
// Reassembler. A read of zero bytes with no error and no ready frame is
// reported as StatusProgress, never blocks the caller. io.EOF is
// translated per FeedEOF's fatal-mid-frame rule.
func (s *StreamReader) ReadOnce() (Status, error) {
	n, err := s.r.Read(s.scratch[:])
	var status Status
	if n > 0 {
		var feedErr error
		status, feedErr = s.re.Feed(s.scratch[:n])
		if feedErr != nil {
			return status, feedErr
		}
	}
	if err != nil {
		if errors.Is(err, io.EOF) {
			if eofErr := s.re.FeedEOF(); eofErr != nil {
				return status, eofErr
			}
			return status, io.EOF
		}
		return status, err
	}
	return status, nil
}
