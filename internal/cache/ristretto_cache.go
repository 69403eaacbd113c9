package cache

import (
	"fmt"

	"github.com/dgraph-io/ristretto"
)

// RistrettoCache is a cost-bounded cache where a tile's cost is its length.
type RistrettoCache struct {
	c *ristretto.Cache
}

func NewRistrettoCache(maxBytes int64) (*RistrettoCache, error) {
	if maxBytes <= 0 {
		return nil, fmt.Errorf("ristretto cache needs a positive size, got %d", maxBytes)
	}
	// About 10 counters per item; tiles are assumed to average 16 KiB.
	counters := max(maxBytes/(16<<10)*10, 1000)
	c, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: counters,
		MaxCost:     maxBytes,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create ristretto cache: %w", err)
	}
	return &RistrettoCache{c: c}, nil
}

func (r *RistrettoCache) Get(key TileKey) ([]byte, bool) {
	v, ok := r.c.Get(key.String())
	if !ok {
		return nil, false
	}
	b, _ := v.([]byte)
	if b == nil {
		r.c.Del(key.String())
		return nil, false
	}
	return b, true
}

// Set waits for the write buffer so a following Get observes the tile unless
// the admission policy rejected it.
func (r *RistrettoCache) Set(key TileKey, value []byte) {
	if r.c.Set(key.String(), value, int64(len(value))) {
		r.c.Wait()
	}
}

func (r *RistrettoCache) Has(key TileKey) bool {
	_, ok := r.c.Get(key.String())
	return ok
}

func (r *RistrettoCache) Clear() {
	r.c.Clear()
}

func (r *RistrettoCache) Close() error {
	r.c.Close()
	return nil
}
