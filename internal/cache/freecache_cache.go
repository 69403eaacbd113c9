package cache

import (
	"errors"

	"github.com/coocood/freecache"
	"go.uber.org/zap"
)

// FreeCache is a segmented ring-buffer cache with near-LRU eviction. A single
// tile may not exceed 1/1024 of the total size.
type FreeCache struct {
	c      *freecache.Cache
	logger *zap.Logger
}

func NewFreeCache(maxBytes int, logger *zap.Logger) *FreeCache {
	return &FreeCache{c: freecache.NewCache(maxBytes), logger: logger}
}

func (f *FreeCache) Get(key TileKey) ([]byte, bool) {
	v, err := f.c.Get([]byte(key.String()))
	if err != nil {
		if !errors.Is(err, freecache.ErrNotFound) {
			f.logger.Debug("freecache get failed", zap.Stringer("key", key), zap.Error(err))
		}
		return nil, false
	}
	return v, true
}

func (f *FreeCache) Set(key TileKey, value []byte) {
	if err := f.c.Set([]byte(key.String()), value, 0); err != nil {
		f.logger.Debug("freecache set failed", zap.Stringer("key", key), zap.Int("bytes", len(value)), zap.Error(err))
	}
}

func (f *FreeCache) Has(key TileKey) bool {
	_, err := f.c.Get([]byte(key.String()))
	return err == nil
}

func (f *FreeCache) Clear() {
	f.c.Clear()
}

func (f *FreeCache) Close() error { return nil }
