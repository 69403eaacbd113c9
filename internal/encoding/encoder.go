package encoding

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"slidestream/internal/cache"
	"slidestream/internal/slide"
	"slidestream/internal/tiling"
)

// Encoder encodes tiles with a Codec and keeps the results in an encoded-tile
// store, so a tile is compressed once however many clients view it.
type Encoder struct {
	codec    Codec
	store    cache.Cache
	tileEdge int
}

func NewEncoder(codec Codec, store cache.Cache, tileEdge int) *Encoder {
	return &Encoder{codec: codec, store: store, tileEdge: tileEdge}
}

func (e *Encoder) Format() string      { return e.codec.Format() }
func (e *Encoder) ContentType() string { return e.codec.ContentType() }

func (e *Encoder) storeKey(key tiling.TileKey) cache.TileKey {
	return cache.TileKey{
		Slide:    key.Slide.ID(),
		TileSize: e.tileEdge,
		Level:    key.Level,
		Col:      key.Col,
		Row:      key.Row,
		Format:   e.codec.Format(),
	}
}

// Cached returns the stored encoding of key without touching the slide.
func (e *Encoder) Cached(key tiling.TileKey) ([]byte, bool) {
	return e.store.Get(e.storeKey(key))
}

func (e *Encoder) Encode(key tiling.TileKey, px slide.Pixels) ([]byte, error) {
	sk := e.storeKey(key)
	if data, ok := e.store.Get(sk); ok {
		return data, nil
	}
	data, err := e.codec.Encode(px)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s: %w", key, err)
	}
	e.store.Set(sk, data)
	return data, nil
}

// ETag is stable for a tile as long as the slide file is unchanged.
func (e *Encoder) ETag(key tiling.TileKey) string {
	hash := sha256.Sum256([]byte(e.storeKey(key).String()))
	return hex.EncodeToString(hash[:])[:16]
}
