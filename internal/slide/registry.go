package slide

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"go.uber.org/zap"
)

// Opener opens one slide file.
type Opener func(path string) (Handle, error)

type Info struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Bytes int64  `json:"bytes"`
}

// Registry lists the slides under a data directory and keeps one open handle
// per Identity for the lifetime of the process.
type Registry struct {
	dataDir string
	open    Opener
	logger  *zap.Logger

	mu      sync.RWMutex
	infos   []Info
	paths   map[string]string
	handles map[Identity]Handle
}

func NewRegistry(dataDir string, open Opener, logger *zap.Logger) *Registry {
	return &Registry{
		dataDir: dataDir,
		open:    open,
		logger:  logger,
		paths:   make(map[string]string),
		handles: make(map[Identity]Handle),
	}
}

func slideID(name string) string {
	hash := sha256.Sum256([]byte(name))
	return hex.EncodeToString(hash[:])[:16]
}

// Scan refreshes the slide listing. Open handles are left alone.
func (r *Registry) Scan() error {
	entries, err := os.ReadDir(r.dataDir)
	if err != nil {
		return fmt.Errorf("failed to read data directory: %w", err)
	}

	infos := make([]Info, 0, len(entries))
	paths := make(map[string]string, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !Supported(entry.Name()) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			r.logger.Warn("Error getting file info", zap.String("name", entry.Name()), zap.Error(err))
			continue
		}
		id := slideID(entry.Name())
		infos = append(infos, Info{ID: id, Name: entry.Name(), Bytes: info.Size()})
		paths[id] = filepath.Join(r.dataDir, entry.Name())
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })

	r.mu.Lock()
	r.infos = infos
	r.paths = paths
	r.mu.Unlock()

	r.logger.Info("Scanned slides", zap.String("data_dir", r.dataDir), zap.Int("count", len(infos)))
	return nil
}

func (r *Registry) List() []Info {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Info(nil), r.infos...)
}

// Open returns the handle for the slide listed under id, opening it on first use.
func (r *Registry) Open(id string) (Handle, error) {
	r.mu.RLock()
	path, ok := r.paths[id]
	r.mu.RUnlock()
	if !ok {
		return nil, &OpenError{Path: id, Err: fmt.Errorf("slide not found")}
	}
	return r.openPath(path)
}

// Resolve returns the open handle for an identity. It fails when the file has
// changed on disk since the identity was taken.
func (r *Registry) Resolve(id Identity) (Handle, error) {
	r.mu.RLock()
	h, ok := r.handles[id]
	r.mu.RUnlock()
	if ok {
		info, err := os.Stat(id.Path)
		if err == nil && info.ModTime().UnixNano() == id.ModTime && info.Size() == id.Size {
			return h, nil
		}
		r.drop(id, h)
		if err != nil {
			return nil, &OpenError{Path: id.Path, Err: err}
		}
		return nil, &OpenError{Path: id.Path, Err: fmt.Errorf("slide changed on disk")}
	}
	h, err := r.openPath(id.Path)
	if err != nil {
		return nil, err
	}
	if h.Identity() != id {
		return nil, &OpenError{Path: id.Path, Err: fmt.Errorf("slide changed on disk")}
	}
	return h, nil
}

func (r *Registry) openPath(path string) (Handle, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, &OpenError{Path: path, Err: err}
	}
	current := Identity{Path: path, ModTime: info.ModTime().UnixNano(), Size: info.Size()}

	r.mu.RLock()
	h, ok := r.handles[current]
	r.mu.RUnlock()
	if ok {
		return h, nil
	}

	h, err = r.open(path)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.handles[h.Identity()]; ok {
		h.Close()
		return existing, nil
	}
	r.handles[h.Identity()] = h
	r.logger.Info("Opened slide",
		zap.String("path", path),
		zap.Int("levels", h.LevelCount()),
	)
	return h, nil
}

// drop forgets a handle whose file no longer matches its identity.
func (r *Registry) drop(id Identity, h Handle) {
	r.mu.Lock()
	if r.handles[id] != h {
		r.mu.Unlock()
		return
	}
	delete(r.handles, id)
	r.mu.Unlock()

	if err := h.Close(); err != nil {
		r.logger.Warn("Error closing stale slide", zap.String("path", id.Path), zap.Error(err))
	}
	r.logger.Info("Dropped stale slide handle", zap.String("path", id.Path))
}

func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var firstErr error
	for id, h := range r.handles {
		if err := h.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(r.handles, id)
	}
	return firstErr
}
