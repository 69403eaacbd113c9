package cache

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/natefinch/atomic"
	"go.uber.org/zap"
)

// FileCache implements file-based cache
// Structure: {cacheDir}/{slide}_{tileSize}/{level}/{col}_{row}.{format}
type FileCache struct {
	mu       sync.RWMutex
	cacheDir string
	logger   *zap.Logger
}

func NewFileCache(cacheDir string, logger *zap.Logger) (*FileCache, error) {
	if err := os.MkdirAll(cacheDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}

	return &FileCache{
		cacheDir: cacheDir,
		logger:   logger,
	}, nil
}

func (c *FileCache) buildFilePath(key TileKey) string {
	dirName := fmt.Sprintf("%s_%d", key.Slide, key.TileSize)
	dir := filepath.Join(c.cacheDir, dirName, fmt.Sprintf("%d", key.Level))
	fileName := fmt.Sprintf("%d_%d.%s", key.Col, key.Row, key.Format)
	return filepath.Join(dir, fileName)
}

func (c *FileCache) Get(key TileKey) ([]byte, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	data, err := os.ReadFile(c.buildFilePath(key))
	if err != nil {
		return nil, false
	}

	return data, true
}

func (c *FileCache) Has(key TileKey) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	_, err := os.Stat(c.buildFilePath(key))
	return err == nil
}

func (c *FileCache) Set(key TileKey, value []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	filePath := c.buildFilePath(key)
	if err := os.MkdirAll(filepath.Dir(filePath), 0755); err != nil {
		c.logger.Warn("Failed to create tile cache directory", zap.String("path", filePath), zap.Error(err))
		return
	}

	if err := atomic.WriteFile(filePath, bytes.NewReader(value)); err != nil {
		c.logger.Warn("Failed to write cached tile", zap.String("path", filePath), zap.Error(err))
	}
}

func (c *FileCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := os.RemoveAll(c.cacheDir); err != nil {
		c.logger.Warn("Failed to clear tile cache", zap.String("cache_dir", c.cacheDir), zap.Error(err))
		return
	}

	os.MkdirAll(c.cacheDir, 0755)
}

func (c *FileCache) Close() error { return nil }
