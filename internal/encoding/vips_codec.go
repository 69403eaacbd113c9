package encoding

import (
	"fmt"

	"github.com/cshum/vipsgen/vips"

	"slidestream/internal/slide"
)

// VipsCodec encodes with libvips. vips.Startup must have been called.
type VipsCodec struct {
	format  string
	quality int
}

func NewVipsCodec(format string, quality int) (*VipsCodec, error) {
	switch format {
	case "jpeg", "png", "webp":
	default:
		return nil, fmt.Errorf("unsupported vips format: %s", format)
	}
	if quality <= 0 || quality > 100 {
		quality = 82
	}
	return &VipsCodec{format: format, quality: quality}, nil
}

func (c *VipsCodec) Format() string { return c.format }

func (c *VipsCodec) ContentType() string { return "image/" + c.format }

func (c *VipsCodec) Encode(px slide.Pixels) ([]byte, error) {
	if !px.Valid() {
		return nil, fmt.Errorf("invalid pixel buffer %dx%dx%d", px.Width, px.Height, px.Channels)
	}
	data, bands := px.Data, px.Channels
	// JPEG has no alpha channel
	if c.format == "jpeg" {
		data, bands = dropAlpha(px), 3
	}

	image, err := vips.NewImageFromMemory(data, px.Width, px.Height, bands)
	if err != nil {
		return nil, fmt.Errorf("failed to load pixels: %w", err)
	}
	defer image.Close()

	var out []byte
	switch c.format {
	case "jpeg":
		opts := vips.DefaultJpegsaveBufferOptions()
		opts.Q = c.quality
		opts.Interlace = false
		out, err = image.JpegsaveBuffer(opts)
	case "png":
		out, err = image.PngsaveBuffer(vips.DefaultPngsaveBufferOptions())
	case "webp":
		opts := vips.DefaultWebpsaveBufferOptions()
		opts.Q = c.quality
		out, err = image.WebpsaveBuffer(opts)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to export: %w", err)
	}
	return out, nil
}

func dropAlpha(px slide.Pixels) []byte {
	n := px.Width * px.Height
	out := make([]byte, n*3)
	for i := 0; i < n; i++ {
		copy(out[i*3:i*3+3], px.Data[i*4:i*4+3])
	}
	return out
}
