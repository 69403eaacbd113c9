package cache

import (
	"errors"
	"fmt"
	"time"

	"github.com/allegro/bigcache/v3"
	"go.uber.org/zap"
)

// BigCache keeps tiles off the GC-scanned heap. Entries expire after the life
// window rather than by recency.
type BigCache struct {
	c      *bigcache.BigCache
	logger *zap.Logger
}

func NewBigCache(maxMB int, lifeWindow time.Duration, logger *zap.Logger) (*BigCache, error) {
	conf := bigcache.DefaultConfig(lifeWindow)
	conf.Shards = 64
	conf.HardMaxCacheSize = maxMB
	conf.MaxEntriesInWindow = max(maxMB*64, 1024)
	conf.MaxEntrySize = 16 << 10
	conf.Verbose = false
	c, err := bigcache.NewBigCache(conf)
	if err != nil {
		return nil, fmt.Errorf("failed to create bigcache: %w", err)
	}
	return &BigCache{c: c, logger: logger}, nil
}

func (b *BigCache) Get(key TileKey) ([]byte, bool) {
	v, err := b.c.Get(key.String())
	if err != nil {
		if !errors.Is(err, bigcache.ErrEntryNotFound) {
			b.logger.Debug("bigcache get failed", zap.Stringer("key", key), zap.Error(err))
		}
		return nil, false
	}
	return v, true
}

func (b *BigCache) Set(key TileKey, value []byte) {
	if err := b.c.Set(key.String(), value); err != nil {
		b.logger.Warn("bigcache set failed", zap.Stringer("key", key), zap.Error(err))
	}
}

func (b *BigCache) Has(key TileKey) bool {
	_, err := b.c.Get(key.String())
	return err == nil
}

func (b *BigCache) Clear() {
	if err := b.c.Reset(); err != nil {
		b.logger.Warn("bigcache reset failed", zap.Error(err))
	}
}

func (b *BigCache) Close() error {
	return b.c.Close()
}
