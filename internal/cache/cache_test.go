package cache

import (
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func tileKey(col, row int) TileKey {
	return TileKey{Slide: "abc123", TileSize: 256, Level: 2, Col: col, Row: row, Format: "jpeg"}
}

func TestTileKeyString(t *testing.T) {
	assert.Equal(t, "abc123_256/2/3/4.jpeg", tileKey(3, 4).String())
}

// exerciseBackend runs the behaviour every backend shares.
func exerciseBackend(t *testing.T, c Cache) {
	t.Helper()
	k := tileKey(1, 2)

	_, ok := c.Get(k)
	assert.False(t, ok)
	assert.False(t, c.Has(k))

	c.Set(k, []byte("tile-bytes"))
	got, ok := c.Get(k)
	require.True(t, ok)
	assert.Equal(t, []byte("tile-bytes"), got)
	assert.True(t, c.Has(k))
	assert.False(t, c.Has(tileKey(2, 1)))

	c.Set(k, []byte("replaced"))
	got, ok = c.Get(k)
	require.True(t, ok)
	assert.Equal(t, []byte("replaced"), got)

	c.Clear()
	assert.False(t, c.Has(k))
	require.NoError(t, c.Close())
}

func TestBackends(t *testing.T) {
	log := zap.NewNop()

	t.Run("memory", func(t *testing.T) {
		exerciseBackend(t, NewMemoryCache(8))
	})
	t.Run("file", func(t *testing.T) {
		c, err := NewFileCache(t.TempDir(), log)
		require.NoError(t, err)
		exerciseBackend(t, c)
	})
	t.Run("freecache", func(t *testing.T) {
		exerciseBackend(t, NewFreeCache(4<<20, log))
	})
	t.Run("bigcache", func(t *testing.T) {
		c, err := NewBigCache(8, time.Hour, log)
		require.NoError(t, err)
		exerciseBackend(t, c)
	})
	t.Run("ristretto", func(t *testing.T) {
		c, err := NewRistrettoCache(8 << 20)
		require.NoError(t, err)
		exerciseBackend(t, c)
	})
}

func TestMemoryCache_EvictsLeastRecentlyUsed(t *testing.T) {
	c := NewMemoryCache(2)
	c.Set(tileKey(0, 0), []byte("a"))
	c.Set(tileKey(0, 1), []byte("b"))

	_, ok := c.Get(tileKey(0, 0))
	require.True(t, ok)
	c.Set(tileKey(0, 2), []byte("c"))

	assert.True(t, c.Has(tileKey(0, 0)))
	assert.False(t, c.Has(tileKey(0, 1)))
	assert.True(t, c.Has(tileKey(0, 2)))
	assert.Equal(t, 2, c.Len())
}

func TestMemoryCache_ConcurrentGets(t *testing.T) {
	c := NewMemoryCache(16)
	for i := 0; i < 16; i++ {
		c.Set(tileKey(i, 0), []byte{byte(i)})
	}

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 1000; i++ {
				c.Get(tileKey(i%16, 0))
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 16, c.Len())
}

func TestFileCache_Layout(t *testing.T) {
	dir := t.TempDir()
	c, err := NewFileCache(dir, zap.NewNop())
	require.NoError(t, err)

	c.Set(tileKey(5, 6), []byte("x"))
	data, err := os.ReadFile(dir + "/abc123_256/2/5_6.jpeg")
	require.NoError(t, err)
	assert.Equal(t, []byte("x"), data)
}

func TestNoopCache(t *testing.T) {
	c := NewNoopCache()
	c.Set(tileKey(0, 0), []byte("x"))
	_, ok := c.Get(tileKey(0, 0))
	assert.False(t, ok)
	assert.False(t, c.Has(tileKey(0, 0)))
}

func TestNewCache(t *testing.T) {
	log := zap.NewNop()

	for _, typ := range []string{"memory", "ristretto", "bigcache", "freecache", "file", "disabled"} {
		t.Run(typ, func(t *testing.T) {
			c, err := NewCache(Options{Type: typ, FileDir: t.TempDir(), MemoryTiles: 4, MemoryMB: 8}, log)
			require.NoError(t, err)
			require.NotNil(t, c)
			require.NoError(t, c.Close())
		})
	}

	_, err := NewCache(Options{Type: "redis"}, log)
	assert.Error(t, err)
	_, err = NewCache(Options{Type: "bogus"}, log)
	assert.Error(t, err)
}
