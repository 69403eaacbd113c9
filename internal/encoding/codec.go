// Package encoding compresses decoded tiles into their wire formats and
// remembers the results.
package encoding

import (
	"fmt"
	"strings"

	"slidestream/internal/slide"
)

// Codec turns an RGBA tile into bytes. Implementations must be safe for
// concurrent use.
type Codec interface {
	Format() string
	ContentType() string
	Encode(px slide.Pixels) ([]byte, error)
}

// NewCodec returns the codec for a format name: jpeg, png, webp or raw.
func NewCodec(format string, quality int) (Codec, error) {
	switch strings.ToLower(format) {
	case "jpeg", "jpg":
		return NewVipsCodec("jpeg", quality)
	case "png":
		return NewVipsCodec("png", quality)
	case "webp":
		return NewVipsCodec("webp", quality)
	case "raw":
		return RawCodec{}, nil
	default:
		return nil, fmt.Errorf("unsupported tile format: %s (supported: jpeg, png, webp, raw)", format)
	}
}
