package wire

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/vmihailenco/msgpack/v5"
)

const (
	FrameHello   = "hello"
	FrameTile    = "tile"
	FrameMissing = "missing"
	FrameError   = "error"
)

type Level struct {
	Width  int `msgpack:"width" cbor:"width" json:"width"`
	Height int `msgpack:"height" cbor:"height" json:"height"`
}

// Frame is one server-to-client message. Which fields are set depends on Type.
type Frame struct {
	Type string `msgpack:"type" cbor:"type" json:"type"`

	// hello
	Slide    string  `msgpack:"slide,omitempty" cbor:"slide,omitempty" json:"slide,omitempty"`
	Levels   []Level `msgpack:"levels,omitempty" cbor:"levels,omitempty" json:"levels,omitempty"`
	TileEdge int     `msgpack:"tile_edge,omitempty" cbor:"tile_edge,omitempty" json:"tile_edge,omitempty"`
	Format   string  `msgpack:"format,omitempty" cbor:"format,omitempty" json:"format,omitempty"`

	// tile, missing
	Level      int    `msgpack:"level" cbor:"level" json:"level"`
	Row        int    `msgpack:"row" cbor:"row" json:"row"`
	Col        int    `msgpack:"col" cbor:"col" json:"col"`
	Generation uint64 `msgpack:"generation,omitempty" cbor:"generation,omitempty" json:"generation,omitempty"`
	Data       []byte `msgpack:"data,omitempty" cbor:"data,omitempty" json:"data,omitempty"`
	Reason     string `msgpack:"reason,omitempty" cbor:"reason,omitempty" json:"reason,omitempty"`

	// error
	Message string `msgpack:"message,omitempty" cbor:"message,omitempty" json:"message,omitempty"`
}

// FrameCodec serializes frames for a binary transport.
type FrameCodec interface {
	Name() string
	Marshal(f Frame) ([]byte, error)
	Unmarshal(data []byte, f *Frame) error
}

// NewFrameCodec returns the codec for name. An empty name selects msgpack.
func NewFrameCodec(name string) (FrameCodec, error) {
	switch name {
	case "", "msgpack":
		return Msgpack{}, nil
	case "cbor":
		return NewCBOR()
	default:
		return nil, fmt.Errorf("unknown frame codec: %s (supported: msgpack, cbor)", name)
	}
}

// Msgpack is the default frame codec. The zero value is ready to use.
type Msgpack struct{}

func (Msgpack) Name() string { return "msgpack" }

func (Msgpack) Marshal(f Frame) ([]byte, error) {
	return msgpack.Marshal(&f)
}

func (Msgpack) Unmarshal(data []byte, f *Frame) error {
	return msgpack.Unmarshal(data, f)
}

// CBOR encodes frames with preferred (shortest) encodings. Construct with NewCBOR.
type CBOR struct {
	enc cbor.EncMode
	dec cbor.DecMode
}

func NewCBOR() (CBOR, error) {
	em, err := cbor.PreferredUnsortedEncOptions().EncMode()
	if err != nil {
		return CBOR{}, fmt.Errorf("failed to build cbor encoder: %w", err)
	}
	dm, err := (cbor.DecOptions{}).DecMode()
	if err != nil {
		return CBOR{}, fmt.Errorf("failed to build cbor decoder: %w", err)
	}
	return CBOR{enc: em, dec: dm}, nil
}

func (CBOR) Name() string { return "cbor" }

func (c CBOR) Marshal(f Frame) ([]byte, error) {
	return c.enc.Marshal(f)
}

func (c CBOR) Unmarshal(data []byte, f *Frame) error {
	return c.dec.Unmarshal(data, f)
}
