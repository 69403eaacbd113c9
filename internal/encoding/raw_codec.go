package encoding

import (
	"encoding/binary"
	"fmt"

	"github.com/golang/snappy"

	"slidestream/internal/slide"
)

const rawHeaderSize = 8

// RawCodec ships lossless RGBA: a big-endian uint32 width and height followed
// by the snappy-compressed pixel block.
type RawCodec struct{}

func (RawCodec) Format() string      { return "raw" }
func (RawCodec) ContentType() string { return "application/x-snappy-rgba" }

func (RawCodec) Encode(px slide.Pixels) ([]byte, error) {
	if !px.Valid() {
		return nil, fmt.Errorf("invalid pixel buffer %dx%dx%d", px.Width, px.Height, px.Channels)
	}
	out := make([]byte, rawHeaderSize, rawHeaderSize+snappy.MaxEncodedLen(len(px.Data)))
	binary.BigEndian.PutUint32(out[0:4], uint32(px.Width))
	binary.BigEndian.PutUint32(out[4:8], uint32(px.Height))
	block := snappy.Encode(out[rawHeaderSize:cap(out)], px.Data)
	return out[:rawHeaderSize+len(block)], nil
}

// DecodeRaw reverses RawCodec.Encode.
func DecodeRaw(data []byte) (slide.Pixels, error) {
	if len(data) < rawHeaderSize {
		return slide.Pixels{}, fmt.Errorf("raw tile too short: %d bytes", len(data))
	}
	w := int(binary.BigEndian.Uint32(data[0:4]))
	h := int(binary.BigEndian.Uint32(data[4:8]))
	pix, err := snappy.Decode(nil, data[rawHeaderSize:])
	if err != nil {
		return slide.Pixels{}, fmt.Errorf("failed to decompress raw tile: %w", err)
	}
	px := slide.Pixels{Width: w, Height: h, Channels: slide.Channels, Data: pix}
	if !px.Valid() {
		return slide.Pixels{}, fmt.Errorf("raw tile holds %d bytes for %dx%d", len(pix), w, h)
	}
	return px, nil
}
