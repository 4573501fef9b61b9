package frame

import (
	"bytes"
	"encoding/binary"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joeycumines/tickloom/tlerrors"
)

// S1 — Frame split reassembly.
func TestReassembler_SplitByByte(t *testing.T) {
	frames := []Frame{
		{StreamID: 1, FrameType: 0x01, Payload: []byte("ab")},
		{StreamID: 2, FrameType: 0x02, Payload: []byte("cde")},
		{StreamID: 3, FrameType: 0x03, Payload: []byte("")},
	}
	var wire []byte
	for _, f := range frames {
		b, err := Encode(f)
		require.NoError(t, err)
		wire = append(wire, b...)
	}
	require.Equal(t, 9+2+9+3+9+0, len(wire))

	re := New()
	for i := 0; i < len(wire); i++ {
		_, err := re.Feed(wire[i : i+1])
		require.NoError(t, err)
	}

	var got []Frame
	for {
		f, ok := re.Poll()
		if !ok {
			break
		}
		got = append(got, f)
	}
	require.Len(t, got, 3)
	for i, f := range frames {
		assert.Equal(t, f.StreamID, got[i].StreamID)
		assert.Equal(t, f.FrameType, got[i].FrameType)
		assert.True(t, bytes.Equal(f.Payload, got[i].Payload))
	}

	_, ok := re.Poll()
	assert.False(t, ok)
}

// S2 — Oversize frame rejected.
func TestReassembler_OversizeHeaderRejected(t *testing.T) {
	header := make([]byte, HeaderSize)
	binary.BigEndian.PutUint32(header[0:4], 1)
	header[4] = 0
	binary.BigEndian.PutUint32(header[5:9], MaxPayload+1)

	re := New()
	_, err := re.Feed(header)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "protocol error")

	// Poisoned: subsequent feeds keep returning the same error.
	_, err = re.Feed([]byte{0})
	require.Error(t, err)
}

// Concatenation property: any prefix split of K concatenated frames yields
// exactly those K frames.
func TestReassembler_ConcatenationAnyChunking(t *testing.T) {
	frames := []Frame{
		{StreamID: 7, FrameType: 1, Payload: bytes.Repeat([]byte("x"), 500)},
		{StreamID: 8, FrameType: 2, Payload: nil},
		{StreamID: 9, FrameType: 3, Payload: []byte("hello world")},
	}
	var wire []byte
	for _, f := range frames {
		b, err := Encode(f)
		require.NoError(t, err)
		wire = append(wire, b...)
	}

	for _, chunkSize := range []int{1, 3, 7, 16, 4096} {
		re := New()
		for off := 0; off < len(wire); off += chunkSize {
			end := off + chunkSize
			if end > len(wire) {
				end = len(wire)
			}
			_, err := re.Feed(wire[off:end])
			require.NoError(t, err)
		}
		var got []Frame
		for {
			f, ok := re.Poll()
			if !ok {
				break
			}
			got = append(got, f)
		}
		require.Len(t, got, len(frames), "chunkSize=%d", chunkSize)
	}
}

// Large payload: a single 5 MiB frame fed in 1 KiB chunks yields exactly
// that frame with byte-identical payload.
func TestReassembler_LargePayload(t *testing.T) {
	payload := make([]byte, 5*1024*1024)
	for i := range payload {
		payload[i] = byte(i)
	}
	wire, err := Encode(Frame{StreamID: 42, FrameType: 9, Payload: payload})
	require.NoError(t, err)

	re := New()
	const chunk = 1024
	for off := 0; off < len(wire); off += chunk {
		end := off + chunk
		if end > len(wire) {
			end = len(wire)
		}
		_, err := re.Feed(wire[off:end])
		require.NoError(t, err)
	}
	f, ok := re.Poll()
	require.True(t, ok)
	assert.Equal(t, uint32(42), f.StreamID)
	assert.True(t, bytes.Equal(payload, f.Payload))
}

func TestStreamReader_EOFMidFrameIsFatal(t *testing.T) {
	wire, err := Encode(Frame{StreamID: 1, FrameType: 1, Payload: []byte("hello")})
	require.NoError(t, err)
	truncated := wire[:HeaderSize+2]

	sr := NewStreamReader(&onceReader{data: truncated})
	_, err = sr.ReadOnce()
	require.NoError(t, err)
	_, err = sr.ReadOnce()
	require.ErrorIs(t, err, tlerrors.ErrProtocol)
}

// onceReader returns data once, then io.EOF.
type onceReader struct {
	data []byte
	done bool
}

func (r *onceReader) Read(p []byte) (int, error) {
	if r.done {
		return 0, io.EOF
	}
	n := copy(p, r.data)
	r.done = true
	return n, nil
}
