package decoder

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"slidestream/internal/slide"
	"slidestream/internal/slide/slidetest"
	"slidestream/internal/tiling"
)

func pixelAt(px slide.Pixels, x, y int) [4]byte {
	o := (y*px.Width + x) * slide.Channels
	return [4]byte{px.Data[o], px.Data[o+1], px.Data[o+2], px.Data[o+3]}
}

func TestDecode_InteriorTile(t *testing.T) {
	f := slidetest.New("s.svs", [2]int{1024, 1024})
	d := New(f, 256)

	px, err := d.Decode(tiling.TileKey{Slide: f.ID, Level: 0, Row: 1, Col: 2})
	require.NoError(t, err)
	require.True(t, px.Valid())
	assert.Equal(t, 256, px.Width)
	assert.Equal(t, 256, px.Height)
	assert.Equal(t, slidetest.Fill(0, 512, 256, 256, 256).Data, px.Data)
}

func TestDecode_PadsEdgeTile(t *testing.T) {
	f := slidetest.New("s.svs", [2]int{300, 280})
	d := New(f, 256)

	px, err := d.Decode(tiling.TileKey{Slide: f.ID, Level: 0, Row: 1, Col: 1})
	require.NoError(t, err)
	require.True(t, px.Valid())
	assert.Equal(t, 256, px.Width)
	assert.Equal(t, 256, px.Height)

	// Region is 44x24 at (256,256); the rest is background.
	assert.Equal(t, [4]byte{0, 0, 0, 255}, pixelAt(px, 0, 0))
	assert.Equal(t, [4]byte{43, 23, 0, 255}, pixelAt(px, 43, 23))
	bg := [4]byte{Background.R, Background.G, Background.B, Background.A}
	assert.Equal(t, bg, pixelAt(px, 44, 0))
	assert.Equal(t, bg, pixelAt(px, 0, 24))
	assert.Equal(t, bg, pixelAt(px, 255, 255))
}

func TestDecode_ResamplesMismatchedRegion(t *testing.T) {
	f := slidetest.New("s.tiff", [2]int{512, 512})
	f.ReadFunc = func(level, x, y, w, h int) (slide.Pixels, error) {
		// Synthesized levels can come back a pixel short.
		px := slidetest.Fill(level, x, y, w-1, h-1)
		for i := range px.Data {
			if i%4 != 3 {
				px.Data[i] = 90
			}
		}
		return px, nil
	}
	d := New(f, 256)

	px, err := d.Decode(tiling.TileKey{Slide: f.ID, Level: 0, Row: 0, Col: 0})
	require.NoError(t, err)
	require.True(t, px.Valid())
	assert.Equal(t, 256, px.Width)
	for _, p := range [][4]byte{pixelAt(px, 0, 0), pixelAt(px, 128, 128), pixelAt(px, 255, 255)} {
		assert.InDelta(t, 90, int(p[0]), 1)
		assert.InDelta(t, 90, int(p[2]), 1)
		assert.Equal(t, byte(255), p[3])
	}
}

func TestDecode_Errors(t *testing.T) {
	f := slidetest.New("s.svs", [2]int{512, 512}, [2]int{256, 256})
	d := New(f, 256)

	_, err := d.Decode(tiling.TileKey{Slide: f.ID, Level: 2})
	assert.ErrorIs(t, err, slide.ErrRegionRead)

	_, err = d.Decode(tiling.TileKey{Slide: f.ID, Level: 1, Row: 0, Col: 1})
	assert.ErrorIs(t, err, slide.ErrRegionRead)

	_, err = d.Decode(tiling.TileKey{Slide: slide.Identity{Path: "other"}, Level: 0})
	assert.ErrorIs(t, err, slide.ErrSlideOpen)

	boom := errors.New("boom")
	f.ReadFunc = func(level, x, y, w, h int) (slide.Pixels, error) {
		return slide.Pixels{}, &slide.RegionError{Level: level, X: x, Y: y, W: w, H: h, Err: boom}
	}
	_, err = d.Decode(tiling.TileKey{Slide: f.ID, Level: 0})
	assert.ErrorIs(t, err, boom)

	f.ReadFunc = func(level, x, y, w, h int) (slide.Pixels, error) {
		return slide.Pixels{Width: w, Height: h, Channels: 4, Data: make([]byte, 10)}, nil
	}
	_, err = d.Decode(tiling.TileKey{Slide: f.ID, Level: 0})
	var regionErr *slide.RegionError
	assert.ErrorAs(t, err, &regionErr)
}

func TestDecode_Deterministic(t *testing.T) {
	f := slidetest.New("s.svs", [2]int{700, 700})
	d := New(f, 256)
	key := tiling.TileKey{Slide: f.ID, Level: 0, Row: 2, Col: 2}

	a, err := d.Decode(key)
	require.NoError(t, err)
	b, err := d.Decode(key)
	require.NoError(t, err)
	assert.Equal(t, a.Data, b.Data)
}
