// Package tilecache holds decoded tiles under a byte budget. Entries in use by a
// reader are pinned and never evicted; concurrent misses for one key share a
// single decode.
package tilecache

import (
	"container/list"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"

	"slidestream/internal/slide"
	"slidestream/internal/tiling"
)

// ErrOverCapacityAfterPinning is logged when pinned entries alone exceed the
// byte budget. The cache stays over budget until they are released.
var ErrOverCapacityAfterPinning = errors.New("cache over capacity after pinning")

type Decoder interface {
	Decode(key tiling.TileKey) (slide.Pixels, error)
}

// DecodeFunc adapts a function to Decoder.
type DecodeFunc func(key tiling.TileKey) (slide.Pixels, error)

func (f DecodeFunc) Decode(key tiling.TileKey) (slide.Pixels, error) { return f(key) }

// Config sizes the cache. The pyramid scale factor is a property of the slide
// handles (slide.OpenOptions), which produce every level the cache sees.
type Config struct {
	TileEdge     int
	ByteCapacity int64
	// DecodeWorkers bounds concurrent decodes across all keys. Zero means 4.
	DecodeWorkers int
}

func (c Config) Validate() error {
	if c.TileEdge <= 0 {
		return fmt.Errorf("tile edge must be positive, got %d", c.TileEdge)
	}
	if c.ByteCapacity <= 0 {
		return fmt.Errorf("byte capacity must be positive, got %d", c.ByteCapacity)
	}
	return nil
}

// Entry is a cached tile. Pixels must not be modified.
type Entry struct {
	Key    tiling.TileKey
	Pixels slide.Pixels

	size       int64
	lastAccess time.Time
	refs       int
	elem       *list.Element
}

func (e *Entry) Size() int64 { return e.size }

type Stats struct {
	Hits           uint64 `json:"hits"`
	Misses         uint64 `json:"misses"`
	Decodes        uint64 `json:"decodes"`
	DecodeFailures uint64 `json:"decode_failures"`
	Evictions      uint64 `json:"evictions"`
	Entries        int    `json:"entries"`
	Pinned         int    `json:"pinned"`
	Bytes          int64  `json:"bytes"`
	Capacity       int64  `json:"capacity"`
}

type TileCache struct {
	cfg     Config
	decoder Decoder
	logger  *zap.Logger
	decodes *semaphore.Weighted
	flights singleflight.Group

	mu      sync.Mutex
	entries map[tiling.TileKey]*Entry
	// lru holds only unpinned entries, most recently released at the front.
	lru       *list.List
	bytes     int64
	pinned    int
	overLimit bool
	stats     Stats
}

func New(cfg Config, decoder Decoder, logger *zap.Logger) (*TileCache, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid cache config: %w", err)
	}
	workers := cfg.DecodeWorkers
	if workers <= 0 {
		workers = 4
	}
	return &TileCache{
		cfg:     cfg,
		decoder: decoder,
		logger:  logger,
		decodes: semaphore.NewWeighted(int64(workers)),
		entries: make(map[tiling.TileKey]*Entry),
		lru:     list.New(),
	}, nil
}

// Get returns the pinned entry for key, decoding it on a miss. Every successful
// Get must be paired with a Release. Cancelling ctx stops the wait only; a
// decode already started still completes and is cached.
func (c *TileCache) Get(ctx context.Context, key tiling.TileKey) (*Entry, error) {
	c.mu.Lock()
	if e, ok := c.entries[key]; ok {
		c.pinLocked(e)
		c.stats.Hits++
		c.mu.Unlock()
		return e, nil
	}
	c.stats.Misses++
	c.mu.Unlock()

	ch := c.flights.DoChan(key.String(), func() (interface{}, error) {
		return c.fill(key)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return c.acquire(key, res.Val.(slide.Pixels)), nil
	}
}

// fill runs once per key at a time, detached from any waiter's context.
func (c *TileCache) fill(key tiling.TileKey) (slide.Pixels, error) {
	c.mu.Lock()
	if e, ok := c.entries[key]; ok {
		c.mu.Unlock()
		return e.Pixels, nil
	}
	c.mu.Unlock()

	if err := c.decodes.Acquire(context.Background(), 1); err != nil {
		return slide.Pixels{}, err
	}
	start := time.Now()
	px, err := c.decode(key)
	c.decodes.Release(1)

	if err == nil && (px.Width != c.cfg.TileEdge || px.Height != c.cfg.TileEdge || !px.Valid()) {
		err = fmt.Errorf("decoded tile %s has shape %dx%d, want %dx%d", key, px.Width, px.Height, c.cfg.TileEdge, c.cfg.TileEdge)
	}
	if err != nil {
		c.mu.Lock()
		c.stats.DecodeFailures++
		c.mu.Unlock()
		c.logger.Warn("Tile decode failed", zap.Stringer("key", key), zap.Error(err))
		return slide.Pixels{}, err
	}

	c.mu.Lock()
	c.stats.Decodes++
	if _, ok := c.entries[key]; !ok {
		e := &Entry{Key: key, Pixels: px, size: int64(len(px.Data)), lastAccess: time.Now()}
		e.elem = c.lru.PushFront(e)
		c.entries[key] = e
		c.bytes += e.size
		c.evictLocked()
	}
	c.mu.Unlock()

	c.logger.Debug("Decoded tile",
		zap.Stringer("key", key),
		zap.Duration("took", time.Since(start)),
	)
	return px, nil
}

// decode turns a decoder panic into an error for this key's waiters.
func (c *TileCache) decode(key tiling.TileKey) (px slide.Pixels, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("decode of %s panicked: %v", key, r)
		}
	}()
	return c.decoder.Decode(key)
}

// acquire pins the cached entry for key, re-inserting the decoded pixels when
// the entry was evicted before this waiter got to it.
func (c *TileCache) acquire(key tiling.TileKey, px slide.Pixels) *Entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[key]; ok {
		c.pinLocked(e)
		return e
	}
	e := &Entry{Key: key, Pixels: px, size: int64(len(px.Data)), lastAccess: time.Now(), refs: 1}
	c.entries[key] = e
	c.bytes += e.size
	c.pinned++
	c.evictLocked()
	return e
}

func (c *TileCache) pinLocked(e *Entry) {
	if e.refs == 0 {
		c.lru.Remove(e.elem)
		e.elem = nil
		c.pinned++
	}
	e.refs++
	e.lastAccess = time.Now()
}

// Release drops one reference. The entry becomes evictable at zero.
func (c *TileCache) Release(e *Entry) {
	if e == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if e.refs <= 0 {
		c.logger.Error("Release of unpinned tile", zap.Stringer("key", e.Key))
		return
	}
	e.refs--
	if e.refs > 0 {
		return
	}
	c.pinned--
	e.lastAccess = time.Now()
	e.elem = c.lru.PushFront(e)
	c.evictLocked()
}

// evictLocked drops least recently used unpinned entries until the cache fits
// its budget.
func (c *TileCache) evictLocked() {
	for c.bytes > c.cfg.ByteCapacity {
		back := c.lru.Back()
		if back == nil {
			if !c.overLimit {
				c.overLimit = true
				c.logger.Warn("Tile cache over budget",
					zap.Error(ErrOverCapacityAfterPinning),
					zap.String("bytes", humanize.IBytes(uint64(c.bytes))),
					zap.String("capacity", humanize.IBytes(uint64(c.cfg.ByteCapacity))),
					zap.Int("pinned", c.pinned),
				)
			}
			return
		}
		e := c.lru.Remove(back).(*Entry)
		e.elem = nil
		delete(c.entries, e.Key)
		c.bytes -= e.size
		c.stats.Evictions++
	}
	c.overLimit = false
}

// Prefetch decodes key into the cache without keeping it pinned.
func (c *TileCache) Prefetch(ctx context.Context, key tiling.TileKey) error {
	e, err := c.Get(ctx, key)
	if err != nil {
		return err
	}
	c.Release(e)
	return nil
}

func (c *TileCache) Contains(key tiling.TileKey) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.entries[key]
	return ok
}

func (c *TileCache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.stats
	s.Entries = len(c.entries)
	s.Pinned = c.pinned
	s.Bytes = c.bytes
	s.Capacity = c.cfg.ByteCapacity
	return s
}
