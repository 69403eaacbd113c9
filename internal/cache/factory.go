package cache

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type Options struct {
	Type        string
	FileDir     string
	MemoryTiles int
	MemoryMB    int
	RedisAddr   string
	TTL         time.Duration
}

// NewCache creates a cache instance based on the cache type
func NewCache(opts Options, log *zap.Logger) (Cache, error) {
	bytes := int64(opts.MemoryMB) << 20
	switch opts.Type {
	case "memory":
		log.Info("Using memory cache", zap.Int("max_tiles", opts.MemoryTiles))
		return NewMemoryCache(opts.MemoryTiles), nil
	case "ristretto":
		log.Info("Using ristretto cache", zap.String("max_size", humanize.IBytes(uint64(bytes))))
		return NewRistrettoCache(bytes)
	case "bigcache":
		log.Info("Using bigcache", zap.String("max_size", humanize.IBytes(uint64(bytes))))
		lifeWindow := opts.TTL
		if lifeWindow <= 0 {
			lifeWindow = time.Hour
		}
		return NewBigCache(opts.MemoryMB, lifeWindow, log)
	case "freecache":
		log.Info("Using freecache", zap.String("max_size", humanize.IBytes(uint64(bytes))))
		return NewFreeCache(int(bytes), log), nil
	case "file":
		log.Info("Using file cache", zap.String("cache_dir", opts.FileDir))
		return NewFileCache(opts.FileDir, log)
	case "redis":
		if opts.RedisAddr == "" {
			return nil, fmt.Errorf("redis cache requires an address")
		}
		log.Info("Using redis cache", zap.String("addr", opts.RedisAddr))
		rdb := goredis.NewClient(&goredis.Options{Addr: opts.RedisAddr})
		return NewRedisCache(rdb, true, opts.TTL, log), nil
	case "disabled":
		log.Info("Cache disabled")
		return NewNoopCache(), nil
	default:
		return nil, fmt.Errorf("unknown cache type: %s (supported: memory, ristretto, bigcache, freecache, file, redis, disabled)", opts.Type)
	}
}
