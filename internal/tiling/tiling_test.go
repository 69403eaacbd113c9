package tiling

import (
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"slidestream/internal/slide"
)

var testSlide = slide.Identity{Path: "/data/a.svs", ModTime: 7, Size: 9}

type rc struct{ row, col int }

func positions(keys []TileKey) []rc {
	out := make([]rc, len(keys))
	for i, k := range keys {
		out[i] = rc{k.Row, k.Col}
	}
	return out
}

func TestCoveringTiles_FourTileViewport(t *testing.T) {
	keys := CoveringTiles(testSlide, 0, 2048, 2048, 256, Rect{X: 0, Y: 0, Width: 512, Height: 512})

	want := []rc{{0, 0}, {0, 1}, {1, 0}, {1, 1}}
	if diff := cmp.Diff(want, positions(keys), cmp.AllowUnexported(rc{})); diff != "" {
		t.Fatalf("covering tiles mismatch (-want +got):\n%s", diff)
	}
	for _, k := range keys {
		assert.Equal(t, testSlide, k.Slide)
		assert.Equal(t, 0, k.Level)
	}
}

func TestCoveringTiles_NearestFirst(t *testing.T) {
	// Center at (640, 640) sits inside tile (2,2).
	keys := CoveringTiles(testSlide, 1, 4096, 4096, 256, Rect{X: 256, Y: 256, Width: 768, Height: 768})
	require.Len(t, keys, 9)
	assert.Equal(t, rc{2, 2}, positions(keys)[0])

	// Edge neighbours come before corners, row-major among equals.
	want := []rc{{2, 2}, {1, 2}, {2, 1}, {2, 3}, {3, 2}, {1, 1}, {1, 3}, {3, 1}, {3, 3}}
	if diff := cmp.Diff(want, positions(keys), cmp.AllowUnexported(rc{})); diff != "" {
		t.Fatalf("priority order mismatch (-want +got):\n%s", diff)
	}
}

func TestCoveringTiles_ClipsOutOfBounds(t *testing.T) {
	keys := CoveringTiles(testSlide, 0, 600, 300, 256, Rect{X: -1000, Y: -50, Width: 5000, Height: 5000})

	cols, rows := GridSize(600, 300, 256)
	require.Equal(t, 3, cols)
	require.Equal(t, 2, rows)
	assert.Len(t, keys, cols*rows)
	for _, k := range keys {
		assert.GreaterOrEqual(t, k.Row, 0)
		assert.Less(t, k.Row, rows)
		assert.GreaterOrEqual(t, k.Col, 0)
		assert.Less(t, k.Col, cols)
	}
}

func TestCoveringTiles_Degenerate(t *testing.T) {
	for name, r := range map[string]Rect{
		"zero width":   {X: 0, Y: 0, Width: 0, Height: 100},
		"zero height":  {X: 0, Y: 0, Width: 100, Height: 0},
		"outside":      {X: 5000, Y: 5000, Width: 100, Height: 100},
		"left of left": {X: -200, Y: 0, Width: 100, Height: 100},
	} {
		t.Run(name, func(t *testing.T) {
			assert.Empty(t, CoveringTiles(testSlide, 0, 1024, 1024, 256, r))
		})
	}
	assert.Empty(t, CoveringTiles(testSlide, 0, 1024, 1024, 0, Rect{Width: 10, Height: 10}))
}

func TestCoveringTiles_Deterministic(t *testing.T) {
	r := Rect{X: 123, Y: 77, Width: 1500, Height: 900}
	first := CoveringTiles(testSlide, 2, 5000, 3000, 256, r)
	for i := 0; i < 10; i++ {
		if diff := cmp.Diff(first, CoveringTiles(testSlide, 2, 5000, 3000, 256, r)); diff != "" {
			t.Fatalf("run %d differs:\n%s", i, diff)
		}
	}
}

func TestRectClip(t *testing.T) {
	for _, tc := range []struct {
		name string
		in   Rect
		want Rect
	}{
		{"inside", Rect{X: 10, Y: 20, Width: 30, Height: 40}, Rect{X: 10, Y: 20, Width: 30, Height: 40}},
		{"left and bottom", Rect{X: -10, Y: 10, Width: 60, Height: 200}, Rect{X: 0, Y: 10, Width: 50, Height: 90}},
		{"past right edge", Rect{X: 100, Y: 0, Width: 10, Height: 10}, Rect{}},
		{"left of level", Rect{X: -20, Y: 0, Width: 10, Height: 10}, Rect{}},
		{"huge width", Rect{X: 40, Y: 0, Width: math.MaxInt, Height: 10}, Rect{X: 40, Y: 0, Width: 60, Height: 10}},
		{"huge height", Rect{X: 0, Y: 99, Width: 10, Height: math.MaxInt}, Rect{X: 0, Y: 99, Width: 10, Height: 1}},
		{"huge negative origin", Rect{X: math.MinInt, Y: 0, Width: math.MaxInt, Height: 10}, Rect{}},
		{"max origin", Rect{X: math.MaxInt, Y: 0, Width: math.MaxInt, Height: 10}, Rect{}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.in.Clip(100, 100))
		})
	}
}

func TestCoveringTiles_HugeViewportIsClipped(t *testing.T) {
	keys := CoveringTiles(testSlide, 0, 1024, 1024, 256, Rect{X: 100, Y: 0, Width: math.MaxInt, Height: 256})
	require.Len(t, keys, 4)
	for _, k := range keys {
		assert.Equal(t, 0, k.Row)
	}
}

func TestTileKeyBounds(t *testing.T) {
	k := TileKey{Slide: testSlide, Row: 1, Col: 2}
	assert.Equal(t, Rect{X: 512, Y: 256, Width: 88, Height: 44}, k.Bounds(256, 600, 300))
}
