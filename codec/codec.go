// Package codec defines the external Message-payload boundary (§6): the
// core consumes exactly two operations, Encode and Decode, and never
// prescribes a wire format above the Frame layer.
//
// JSONCodec below is the default, grounded on the teacher library's own
// preference for encoding/json at trust boundaries it doesn't control
// (github.com/joeycumines/go-eventloop uses encoding/json in its test
// harnesses rather than a binary codec); it is not a load-bearing part
// of the core, only a usable default so examples and tests don't each
// reinvent one.
package codec

import (
	"encoding/json"

	"github.com/joeycumines/tickloom/message"
	"github.com/joeycumines/tickloom/tlerrors"
)

// Codec is the core's only contract with payload serialization.
type Codec interface {
	Encode(v any) ([]byte, error)
	Decode(data []byte, mt message.Type) (any, error)
}

// JSONCodec implements Codec over encoding/json, dispatching Decode by a
// registry of message.Type -> constructor so callers get a concretely
// typed value back instead of map[string]any.
type JSONCodec struct {
	constructors map[message.Type]func() any
}

// NewJSONCodec returns an empty JSONCodec; register shapes with Register
// before first use.
func NewJSONCodec() *JSONCodec {
	return &JSONCodec{constructors: make(map[message.Type]func() any)}
}

// Register associates mt with a zero-value constructor used by Decode.
func (c *JSONCodec) Register(mt message.Type, newZero func() any) {
	c.constructors[mt] = newZero
}

// Encode marshals v via encoding/json.
func (c *JSONCodec) Encode(v any) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, tlerrors.NewProtocolError("codec encode: " + err.Error())
	}
	return b, nil
}

// Decode unmarshals data into a fresh value produced by the constructor
// registered for mt, returning a ProtocolError if mt was never
// registered or the bytes don't match its shape.
func (c *JSONCodec) Decode(data []byte, mt message.Type) (any, error) {
	newZero, ok := c.constructors[mt]
	if !ok {
		return nil, tlerrors.NewProtocolError("codec decode: unregistered message type: " + mt.String())
	}
	v := newZero()
	if err := json.Unmarshal(data, v); err != nil {
		return nil, tlerrors.NewProtocolError("codec decode: " + err.Error())
	}
	return v, nil
}

var _ Codec = (*JSONCodec)(nil)
