// Package decoder turns tile keys into fixed-shape RGBA tiles read from a slide.
package decoder

import (
	"fmt"
	"image"
	"image/color"

	xdraw "golang.org/x/image/draw"

	"slidestream/internal/slide"
	"slidestream/internal/tiling"
)

// Background fills the part of an edge tile that lies outside the level.
var Background = color.NRGBA{R: 0xdd, G: 0xdd, B: 0xdd, A: 0xff}

// Resolver returns the open handle for a slide identity.
type Resolver interface {
	Resolve(id slide.Identity) (slide.Handle, error)
}

type Decoder struct {
	slides   Resolver
	tileEdge int
}

func New(slides Resolver, tileEdge int) *Decoder {
	return &Decoder{slides: slides, tileEdge: tileEdge}
}

// Decode reads the region behind key and returns a tileEdge x tileEdge buffer.
// A region returned at the wrong size is resampled to the requested size.
// Tiles on the right and bottom borders keep the level's scale: the partial
// region sits at the top-left and the rest is padded with Background, never
// stretched to fill the tile.
func (d *Decoder) Decode(key tiling.TileKey) (slide.Pixels, error) {
	h, err := d.slides.Resolve(key.Slide)
	if err != nil {
		return slide.Pixels{}, err
	}
	if key.Level < 0 || key.Level >= h.LevelCount() {
		return slide.Pixels{}, &slide.RegionError{Level: key.Level, Err: fmt.Errorf("level out of range [0,%d)", h.LevelCount())}
	}
	levelW, levelH, err := h.LevelDimensions(key.Level)
	if err != nil {
		return slide.Pixels{}, &slide.RegionError{Level: key.Level, Err: err}
	}

	r := key.Bounds(d.tileEdge, levelW, levelH)
	if r.Empty() || key.Row < 0 || key.Col < 0 {
		return slide.Pixels{}, &slide.RegionError{
			Level: key.Level, X: key.Col * d.tileEdge, Y: key.Row * d.tileEdge, W: d.tileEdge, H: d.tileEdge,
			Err: fmt.Errorf("tile outside level bounds %dx%d", levelW, levelH),
		}
	}

	px, err := h.ReadRegion(key.Level, r.X, r.Y, r.Width, r.Height)
	if err != nil {
		return slide.Pixels{}, err
	}
	if !px.Valid() {
		return slide.Pixels{}, &slide.RegionError{
			Level: key.Level, X: r.X, Y: r.Y, W: r.Width, H: r.Height,
			Err: fmt.Errorf("malformed pixel buffer: %dx%dx%d with %d bytes", px.Width, px.Height, px.Channels, len(px.Data)),
		}
	}

	src := toImage(px)
	if px.Width != r.Width || px.Height != r.Height {
		scaled := image.NewNRGBA(image.Rect(0, 0, r.Width, r.Height))
		xdraw.CatmullRom.Scale(scaled, scaled.Bounds(), src, src.Bounds(), xdraw.Src, nil)
		src = scaled
	}

	if r.Width == d.tileEdge && r.Height == d.tileEdge {
		return fromImage(src), nil
	}
	tile := image.NewNRGBA(image.Rect(0, 0, d.tileEdge, d.tileEdge))
	xdraw.Draw(tile, tile.Bounds(), image.NewUniform(Background), image.Point{}, xdraw.Src)
	xdraw.Draw(tile, image.Rect(0, 0, r.Width, r.Height), src, image.Point{}, xdraw.Src)
	return fromImage(tile), nil
}

func toImage(px slide.Pixels) *image.NRGBA {
	return &image.NRGBA{
		Pix:    px.Data,
		Stride: px.Width * slide.Channels,
		Rect:   image.Rect(0, 0, px.Width, px.Height),
	}
}

func fromImage(img *image.NRGBA) slide.Pixels {
	b := img.Bounds()
	return slide.Pixels{Width: b.Dx(), Height: b.Dy(), Channels: slide.Channels, Data: img.Pix}
}
