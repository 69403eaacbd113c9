package cache

import "fmt"

// TileKey identifies one encoded tile.
type TileKey struct {
	Slide    string
	TileSize int
	Level    int
	Col      int
	Row      int
	Format   string
}

// String is the storage key shared by every backend.
func (k TileKey) String() string {
	return fmt.Sprintf("%s_%d/%d/%d/%d.%s", k.Slide, k.TileSize, k.Level, k.Col, k.Row, k.Format)
}

// Cache stores encoded tiles. Backends are best effort: a failed Set is
// logged or dropped, never returned.
type Cache interface {
	Get(key TileKey) ([]byte, bool)
	Set(key TileKey, value []byte)
	Has(key TileKey) bool // Check if tile exists without reading it (lightweight check)
	Clear()
	Close() error
}
