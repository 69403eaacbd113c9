// Package tiling maps level-local viewport rectangles onto the fixed tile grid.
package tiling

import (
	"cmp"
	"fmt"
	"slices"

	"slidestream/internal/slide"
)

// Rect is a rectangle in level-local pixel coordinates.
type Rect struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

func (r Rect) Empty() bool { return r.Width <= 0 || r.Height <= 0 }

// Clip intersects r with [0, w) x [0, h).
func (r Rect) Clip(w, h int) Rect {
	x0, x1 := clipSpan(r.X, r.Width, w)
	y0, y1 := clipSpan(r.Y, r.Height, h)
	if x1 <= x0 || y1 <= y0 {
		return Rect{}
	}
	return Rect{X: x0, Y: y0, Width: x1 - x0, Height: y1 - y0}
}

// clipSpan intersects [start, start+length) with [0, limit) without computing
// start+length when it could overflow.
func clipSpan(start, length, limit int) (lo, hi int) {
	if length <= 0 || limit <= 0 || start >= limit {
		return 0, 0
	}
	hi = limit
	if start < 0 {
		hi = min(start+length, limit)
	} else if length < limit-start {
		hi = start + length
	}
	return max(start, 0), hi
}

type Viewport struct {
	Level int
	Rect
}

// TileKey addresses one decoded tile. Row and Col index the grid of the
// configured tile edge at Level.
type TileKey struct {
	Slide slide.Identity
	Level int
	Row   int
	Col   int
}

func (k TileKey) String() string {
	return fmt.Sprintf("%s/%d/%d/%d", k.Slide, k.Level, k.Row, k.Col)
}

// Bounds returns the tile's rectangle clipped to the level dimensions.
func (k TileKey) Bounds(edge, levelW, levelH int) Rect {
	return Rect{X: k.Col * edge, Y: k.Row * edge, Width: edge, Height: edge}.Clip(levelW, levelH)
}

// GridSize returns the number of tile columns and rows covering a level.
func GridSize(levelW, levelH, edge int) (cols, rows int) {
	if edge <= 0 || levelW <= 0 || levelH <= 0 {
		return 0, 0
	}
	return (levelW + edge - 1) / edge, (levelH + edge - 1) / edge
}

// CoveringTiles returns the tiles intersecting rect, clipped to the level,
// nearest to the rectangle's center first. Ties are broken by row, then column.
func CoveringTiles(id slide.Identity, level, levelW, levelH, edge int, rect Rect) []TileKey {
	if edge <= 0 {
		return nil
	}
	r := rect.Clip(levelW, levelH)
	if r.Empty() {
		return nil
	}

	col0, row0 := r.X/edge, r.Y/edge
	col1, row1 := (r.X+r.Width-1)/edge, (r.Y+r.Height-1)/edge

	type ranked struct {
		key  TileKey
		dist int64
	}
	tiles := make([]ranked, 0, (col1-col0+1)*(row1-row0+1))

	// Doubled coordinates keep the centers integral.
	cx2 := int64(2*r.X + r.Width)
	cy2 := int64(2*r.Y + r.Height)
	e := int64(edge)
	for row := row0; row <= row1; row++ {
		for col := col0; col <= col1; col++ {
			dx := 2*int64(col)*e + e - cx2
			dy := 2*int64(row)*e + e - cy2
			tiles = append(tiles, ranked{
				key:  TileKey{Slide: id, Level: level, Row: row, Col: col},
				dist: dx*dx + dy*dy,
			})
		}
	}

	slices.SortFunc(tiles, func(a, b ranked) int {
		if c := cmp.Compare(a.dist, b.dist); c != 0 {
			return c
		}
		if c := cmp.Compare(a.key.Row, b.key.Row); c != 0 {
			return c
		}
		return cmp.Compare(a.key.Col, b.key.Col)
	})

	keys := make([]TileKey, len(tiles))
	for i, t := range tiles {
		keys[i] = t.key
	}
	return keys
}
