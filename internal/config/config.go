package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
)

type Config struct {
	Port          int    `toml:"port"`
	DataDir       string `toml:"data_dir"`
	LogLevel      string `toml:"log_level"`
	LogFile       string `toml:"log_file"`
	LogMaxSizeMB  int    `toml:"log_max_size_mb"`
	LogMaxAgeDays int    `toml:"log_max_age_days"`
	AllowedOrigin string `toml:"allowed_origin"`
	PublicBaseURL string `toml:"public_base_url"`

	// Decoded tile cache
	TileEdge           int     `toml:"tile_edge"`
	CacheBytes         int64   `toml:"cache_bytes"`
	PyramidScaleFactor float64 `toml:"pyramid_scale_factor"`
	DecodeWorkers      int     `toml:"decode_workers"`

	// Streaming
	SessionMaxInFlight int      `toml:"session_max_in_flight"`
	SessionMaxTiles    int      `toml:"session_max_tiles"`
	TileTimeout        Duration `toml:"tile_timeout"`
	WriteTimeout       Duration `toml:"write_timeout"`

	// Encoding and the encoded-tile store
	TileFormat        string `toml:"tile_format"`
	TileQuality       int    `toml:"tile_quality"`
	EncodedCache      string `toml:"encoded_cache"`
	EncodedCacheTiles int    `toml:"encoded_cache_tiles"`
	EncodedCacheMB    int    `toml:"encoded_cache_mb"`
	CacheFileDir      string `toml:"cache_file_dir"`
	RedisAddr         string `toml:"redis_addr"`

	WarmupLevels    int `toml:"warmup_levels"`
	WarmupWorkers   int `toml:"warmup_workers"`
	VipsMaxCacheMB  int `toml:"vips_max_cache_mb"`
	VipsConcurrency int `toml:"vips_concurrency"`
}

// Duration reads TOML strings such as "250ms".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func Default() *Config {
	return &Config{
		Port:               8080,
		DataDir:            "/data",
		LogLevel:           "info",
		LogMaxSizeMB:       100,
		LogMaxAgeDays:      7,
		PublicBaseURL:      "http://localhost:8080",
		TileEdge:           256,
		CacheBytes:         512 << 20,
		PyramidScaleFactor: 2,
		DecodeWorkers:      4,
		SessionMaxInFlight: 4,
		SessionMaxTiles:    4096,
		TileTimeout:        Duration{10 * time.Second},
		WriteTimeout:       Duration{10 * time.Second},
		TileFormat:         "jpeg",
		TileQuality:        82,
		EncodedCache:       "memory",
		EncodedCacheTiles:  2000,
		EncodedCacheMB:     128,
		WarmupLevels:       1,
		WarmupWorkers:      1,
		VipsMaxCacheMB:     256,
		VipsConcurrency:    1,
	}
}

// Load builds the configuration from defaults, then the TOML file named by
// CONFIG_FILE if set, then environment variables.
func Load() (*Config, error) {
	cfg := Default()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	cfg.Port = getEnvInt("PORT", cfg.Port)
	cfg.DataDir = getEnv("DATA_DIR", cfg.DataDir)
	cfg.LogLevel = getEnv("LOG_LEVEL", cfg.LogLevel)
	cfg.LogFile = getEnv("LOG_FILE", cfg.LogFile)
	cfg.LogMaxSizeMB = getEnvInt("LOG_MAX_SIZE_MB", cfg.LogMaxSizeMB)
	cfg.LogMaxAgeDays = getEnvInt("LOG_MAX_AGE_DAYS", cfg.LogMaxAgeDays)
	cfg.AllowedOrigin = getEnv("ALLOWED_ORIGIN", cfg.AllowedOrigin)
	cfg.PublicBaseURL = getEnv("PUBLIC_BASE_URL", cfg.PublicBaseURL)
	cfg.TileEdge = getEnvInt("TILE_EDGE", cfg.TileEdge)
	cfg.CacheBytes = getEnvInt64("CACHE_BYTES", cfg.CacheBytes)
	cfg.PyramidScaleFactor = getEnvFloat("PYRAMID_SCALE_FACTOR", cfg.PyramidScaleFactor)
	cfg.DecodeWorkers = getEnvInt("DECODE_WORKERS", cfg.DecodeWorkers)
	cfg.SessionMaxInFlight = getEnvInt("SESSION_MAX_IN_FLIGHT", cfg.SessionMaxInFlight)
	cfg.SessionMaxTiles = getEnvInt("SESSION_MAX_TILES", cfg.SessionMaxTiles)
	cfg.TileTimeout.Duration = getEnvDuration("TILE_TIMEOUT", cfg.TileTimeout.Duration)
	cfg.WriteTimeout.Duration = getEnvDuration("WRITE_TIMEOUT", cfg.WriteTimeout.Duration)
	cfg.TileFormat = getEnv("TILE_FORMAT", cfg.TileFormat)
	cfg.TileQuality = getEnvInt("TILE_QUALITY", cfg.TileQuality)
	cfg.EncodedCache = getEnv("ENCODED_CACHE", cfg.EncodedCache)
	cfg.EncodedCacheTiles = getEnvInt("ENCODED_CACHE_TILES", cfg.EncodedCacheTiles)
	cfg.EncodedCacheMB = getEnvInt("ENCODED_CACHE_MB", cfg.EncodedCacheMB)
	cfg.CacheFileDir = getEnv("CACHE_FILE_DIR", cfg.CacheFileDir)
	cfg.RedisAddr = getEnv("REDIS_ADDR", cfg.RedisAddr)
	cfg.WarmupLevels = getEnvInt("WARMUP_LEVELS", cfg.WarmupLevels)
	cfg.WarmupWorkers = getEnvInt("WARMUP_WORKERS", cfg.WarmupWorkers)
	cfg.VipsMaxCacheMB = getEnvInt("VIPS_MAX_CACHE_MB", cfg.VipsMaxCacheMB)
	cfg.VipsConcurrency = getEnvInt("VIPS_CONCURRENCY", cfg.VipsConcurrency)

	if cfg.CacheFileDir == "" {
		cfg.CacheFileDir = filepath.Join(cfg.DataDir, "cache")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if c.TileEdge <= 0 {
		return fmt.Errorf("tile edge must be positive, got %d", c.TileEdge)
	}
	if c.CacheBytes <= 0 {
		return fmt.Errorf("cache bytes must be positive, got %d", c.CacheBytes)
	}
	if c.PyramidScaleFactor <= 1 {
		return fmt.Errorf("pyramid scale factor must be greater than 1, got %g", c.PyramidScaleFactor)
	}
	switch c.TileFormat {
	case "jpeg", "png", "webp", "raw":
	default:
		return fmt.Errorf("unsupported tile format %q", c.TileFormat)
	}
	if c.SessionMaxInFlight <= 0 || c.DecodeWorkers <= 0 {
		return fmt.Errorf("session and decode concurrency must be positive")
	}
	if c.SessionMaxTiles <= 0 {
		return fmt.Errorf("session max tiles must be positive, got %d", c.SessionMaxTiles)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
