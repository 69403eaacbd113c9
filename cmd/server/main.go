package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cshum/vipsgen/vips"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"slidestream/internal/cache"
	"slidestream/internal/config"
	"slidestream/internal/decoder"
	"slidestream/internal/encoding"
	httphandlers "slidestream/internal/http"
	"slidestream/internal/logger"
	"slidestream/internal/slide"
	"slidestream/internal/tilecache"
	"slidestream/internal/tiling"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}

	log, err := logger.New(logger.Options{
		Level:      cfg.LogLevel,
		File:       cfg.LogFile,
		MaxSizeMB:  cfg.LogMaxSizeMB,
		MaxAgeDays: cfg.LogMaxAgeDays,
	})
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	defer log.Sync()

	vipsConfig := &vips.Config{
		ConcurrencyLevel: cfg.VipsConcurrency,
		MaxCacheMem:      cfg.VipsMaxCacheMB * 1024 * 1024, // Convert MB to bytes
		MaxCacheFiles:    0,                                // Disable disk cache
		MaxCacheSize:     0,                                // Disable disk cache
		ReportLeaks:      false,
		CacheTrace:       false,
		VectorEnabled:    true,
	}

	vips.SetLogging(func(domain string, level vips.LogLevel, message string) {
		if level >= vips.LogLevelError {
			log.Error("vips", zap.String("domain", domain), zap.Int("level", int(level)), zap.String("message", message))
		} else if level >= vips.LogLevelWarning {
			log.Warn("vips", zap.String("domain", domain), zap.Int("level", int(level)), zap.String("message", message))
		}
	}, vips.LogLevelError)

	vips.Startup(vipsConfig)
	defer vips.Shutdown()

	log.Info("VIPS initialized",
		zap.Int("max_cache_mb", cfg.VipsMaxCacheMB),
		zap.Int("concurrency", cfg.VipsConcurrency),
	)

	log.Info("Starting slidestream server",
		zap.Int("port", cfg.Port),
		zap.String("data_dir", cfg.DataDir),
		zap.Int("tile_edge", cfg.TileEdge),
		zap.String("tile_format", cfg.TileFormat),
	)

	openOpts := slide.OpenOptions{ScaleFactor: cfg.PyramidScaleFactor, MinLevelEdge: cfg.TileEdge}
	registry := slide.NewRegistry(cfg.DataDir, func(path string) (slide.Handle, error) {
		return slide.OpenVips(path, openOpts)
	}, log)
	if err := registry.Scan(); err != nil {
		log.Warn("Initial scan failed", zap.Error(err))
	}
	defer registry.Close()

	store, err := cache.NewCache(cache.Options{
		Type:        cfg.EncodedCache,
		FileDir:     cfg.CacheFileDir,
		MemoryTiles: cfg.EncodedCacheTiles,
		MemoryMB:    cfg.EncodedCacheMB,
		RedisAddr:   cfg.RedisAddr,
	}, log)
	if err != nil {
		log.Fatal("Failed to initialize encoded tile cache", zap.Error(err))
	}
	defer store.Close()

	codec, err := encoding.NewCodec(cfg.TileFormat, cfg.TileQuality)
	if err != nil {
		log.Fatal("Failed to initialize codec", zap.Error(err))
	}
	encoder := encoding.NewEncoder(codec, store, cfg.TileEdge)

	tiles, err := tilecache.New(tilecache.Config{
		TileEdge:      cfg.TileEdge,
		ByteCapacity:  cfg.CacheBytes,
		DecodeWorkers: cfg.DecodeWorkers,
	}, decoder.New(registry, cfg.TileEdge), log)
	if err != nil {
		log.Fatal("Failed to initialize tile cache", zap.Error(err))
	}

	handlers := httphandlers.New(cfg, log, registry, tiles, encoder)

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	if cfg.WarmupLevels > 0 {
		go warmupTiles(ctx, cfg.WarmupLevels, cfg.WarmupWorkers, cfg.TileEdge, registry, tiles, encoder, log)
	}

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: handlers.Routes(),
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Server failed", zap.Error(err))
		}
	}()

	log.Info("Server started", zap.Int("port", cfg.Port))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down server...")
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", zap.Error(err))
	}

	log.Info("Server stopped")
}

// warmupTiles decodes and encodes every tile of the coarsest levels of each
// slide so first views of an overview are served from cache.
func warmupTiles(ctx context.Context, levels, workerLimit, tileEdge int, registry *slide.Registry, tiles *tilecache.TileCache, encoder *encoding.Encoder, log *zap.Logger) {
	slides := registry.List()
	if len(slides) == 0 {
		return
	}

	log.Info("Starting tile warmup", zap.Int("levels", levels), zap.Int("slides", len(slides)))
	start := time.Now()

	if workerLimit <= 0 {
		workerLimit = 1
	}
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workerLimit)

	var count int
	for _, info := range slides {
		handle, err := registry.Open(info.ID)
		if err != nil {
			log.Warn("Warmup skipped slide", zap.String("slide_id", info.ID), zap.Error(err))
			continue
		}

		coarsest := handle.LevelCount() - 1
		for level := coarsest; level >= 0 && level > coarsest-levels; level-- {
			levelW, levelH, err := handle.LevelDimensions(level)
			if err != nil {
				continue
			}
			cols, rows := tiling.GridSize(levelW, levelH, tileEdge)
			for row := 0; row < rows; row++ {
				for col := 0; col < cols; col++ {
					key := tiling.TileKey{Slide: handle.Identity(), Level: level, Row: row, Col: col}
					count++
					g.Go(func() error {
						if ctx.Err() != nil {
							return ctx.Err()
						}
						if err := warmTile(ctx, tiles, encoder, key); err != nil {
							log.Debug("Warmup tile failed", zap.Stringer("key", key), zap.Error(err))
						}
						return nil
					})
				}
			}
		}
	}

	if err := g.Wait(); err != nil {
		log.Info("Tile warmup interrupted", zap.Error(err))
		return
	}
	log.Info("Tile warmup completed", zap.Int("tiles", count), zap.Duration("took", time.Since(start)))
}

func warmTile(ctx context.Context, tiles *tilecache.TileCache, encoder *encoding.Encoder, key tiling.TileKey) error {
	entry, err := tiles.Get(ctx, key)
	if err != nil {
		return err
	}
	defer tiles.Release(entry)
	_, err = encoder.Encode(key, entry.Pixels)
	return err
}
