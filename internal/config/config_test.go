package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("DATA_DIR", "/slides")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, 256, cfg.TileEdge)
	assert.Equal(t, int64(512<<20), cfg.CacheBytes)
	assert.Equal(t, 2.0, cfg.PyramidScaleFactor)
	assert.Equal(t, "jpeg", cfg.TileFormat)
	assert.Equal(t, "/slides/cache", cfg.CacheFileDir)
	assert.Equal(t, 10*time.Second, cfg.TileTimeout.Duration)
}

func TestLoad_FileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "slidestream.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
port = 9000
tile_edge = 512
cache_bytes = 1048576
tile_timeout = "250ms"
encoded_cache = "ristretto"
tile_format = "webp"
`), 0644))

	t.Setenv("CONFIG_FILE", path)
	t.Setenv("PORT", "9100")
	t.Setenv("PYRAMID_SCALE_FACTOR", "4")
	t.Setenv("WRITE_TIMEOUT", "3s")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 9100, cfg.Port)
	assert.Equal(t, 512, cfg.TileEdge)
	assert.Equal(t, int64(1<<20), cfg.CacheBytes)
	assert.Equal(t, 4.0, cfg.PyramidScaleFactor)
	assert.Equal(t, 250*time.Millisecond, cfg.TileTimeout.Duration)
	assert.Equal(t, 3*time.Second, cfg.WriteTimeout.Duration)
	assert.Equal(t, "ristretto", cfg.EncodedCache)
	assert.Equal(t, "webp", cfg.TileFormat)
}

func TestLoad_BadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.toml")
	require.NoError(t, os.WriteFile(path, []byte(`tile_timeout = "soon"`), 0644))
	t.Setenv("CONFIG_FILE", path)

	_, err := Load()
	assert.Error(t, err)
}

func TestLoad_InvalidEnv(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("TILE_EDGE", "0")

	_, err := Load()
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	for name, mutate := range map[string]func(*Config){
		"port":     func(c *Config) { c.Port = 0 },
		"edge":     func(c *Config) { c.TileEdge = -1 },
		"capacity": func(c *Config) { c.CacheBytes = 0 },
		"factor":   func(c *Config) { c.PyramidScaleFactor = 0.5 },
		"format":   func(c *Config) { c.TileFormat = "gif" },
		"inflight": func(c *Config) { c.SessionMaxInFlight = 0 },
		"tiles":    func(c *Config) { c.SessionMaxTiles = 0 },
	} {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
	assert.NoError(t, Default().Validate())
}
