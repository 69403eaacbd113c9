package http

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"slidestream/internal/config"
	"slidestream/internal/session"
	"slidestream/internal/slide"
	"slidestream/internal/tilecache"
	"slidestream/internal/tiling"
)

// Slides is the slide catalogue the handlers serve from.
type Slides interface {
	List() []slide.Info
	Open(id string) (slide.Handle, error)
}

type TileCache interface {
	session.Cache
	Stats() tilecache.Stats
}

type Encoder interface {
	session.Encoder
	ContentType() string
	Cached(key tiling.TileKey) ([]byte, bool)
	ETag(key tiling.TileKey) string
}

type Handlers struct {
	config  *config.Config
	logger  *zap.Logger
	slides  Slides
	tiles   TileCache
	encoder Encoder

	activeSessions atomic.Int64
}

func New(config *config.Config, logger *zap.Logger, slides Slides, tiles TileCache, encoder Encoder) *Handlers {
	return &Handlers{
		config:  config,
		logger:  logger,
		slides:  slides,
		tiles:   tiles,
		encoder: encoder,
	}
}

// Routes returns the full handler chain.
func (h *Handlers) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/slides", h.HandleSlides)
	mux.HandleFunc("/api/slides/", h.HandleSlideRoutes)
	mux.HandleFunc("/api/stats", h.HandleStats)
	mux.HandleFunc("/ws/slides/", h.HandleStream)
	mux.HandleFunc("/healthz", h.HandleHealthz)
	mux.HandleFunc("/", h.HandleStatic)

	return h.CORSMiddleware(h.RequestLoggingMiddleware(mux))
}

func (h *Handlers) RequestLoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := uuid.New().String()
		start := time.Now()

		ip := h.extractIP(r)

		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		duration := time.Since(start)
		bytes := wrapped.bytesWritten

		h.logger.Info("request",
			zap.String("request_id", requestID),
			zap.String("ip", ip),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", wrapped.statusCode),
			zap.Int64("bytes", bytes),
			zap.Int64("duration_ms", duration.Milliseconds()),
			zap.String("user_agent", r.UserAgent()),
		)
	})
}

func (h *Handlers) CORSMiddleware(next http.Handler) http.Handler {
	opts := cors.Options{
		AllowedMethods: []string{http.MethodGet, http.MethodHead, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "Authorization", "If-None-Match"},
		ExposedHeaders: []string{"ETag", "X-Tile-Bytes"},
	}
	if h.config.AllowedOrigin != "" {
		opts.AllowedOrigins = []string{h.config.AllowedOrigin}
	} else {
		opts.AllowOriginRequestFunc = func(r *http.Request, origin string) bool {
			return sameHost(origin, r.Host)
		}
	}
	return cors.New(opts).Handler(next)
}

// originAllowed applies the CORS origin policy to websocket handshakes, which
// browsers do not preflight.
func (h *Handlers) originAllowed(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	if h.config.AllowedOrigin != "" {
		return h.config.AllowedOrigin == "*" || origin == h.config.AllowedOrigin
	}
	return sameHost(origin, r.Host)
}

func sameHost(origin, host string) bool {
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	return u.Host == host
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func (h *Handlers) HandleSlides(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	writeJSON(w, h.slides.List())
}

func (h *Handlers) HandleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	writeJSON(w, map[string]interface{}{
		"tiles":    h.tiles.Stats(),
		"sessions": h.activeSessions.Load(),
	})
}

func (h *Handlers) HandleHealthz(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func (h *Handlers) HandleSlideRoutes(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/slides/")
	parts := strings.Split(strings.Trim(path, "/"), "/")

	if len(parts) == 0 || parts[0] == "" {
		http.NotFound(w, r)
		return
	}

	slideID := parts[0]

	switch {
	case len(parts) == 2 && parts[1] == "meta":
		h.handleSlideMeta(w, r, slideID)
	case len(parts) == 5 && parts[1] == "tiles":
		h.handleTile(w, r, slideID, parts[2:])
	default:
		http.NotFound(w, r)
	}
}

func (h *Handlers) HandleStatic(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path
	if path == "/" {
		path = "/index.html"
	}

	filePath := filepath.Join("public", path)

	if !strings.HasPrefix(filepath.Clean(filePath), "public") {
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}

	// If serving index.html, replace the placeholder with the actual base URL
	if path == "/index.html" {
		data, err := os.ReadFile(filePath)
		if err != nil {
			http.Error(w, "Internal server error", http.StatusInternalServerError)
			return
		}

		content := strings.ReplaceAll(string(data), "__PUBLIC_BASE_URL__", h.config.PublicBaseURL)
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write([]byte(content))
		return
	}

	http.ServeFile(w, r, filePath)
}

type levelMeta struct {
	Width  int `json:"width"`
	Height int `json:"height"`
	Cols   int `json:"cols"`
	Rows   int `json:"rows"`
}

func (h *Handlers) levels(handle slide.Handle) ([]levelMeta, error) {
	levels := make([]levelMeta, 0, handle.LevelCount())
	for level := 0; level < handle.LevelCount(); level++ {
		w, ht, err := handle.LevelDimensions(level)
		if err != nil {
			return nil, err
		}
		cols, rows := tiling.GridSize(w, ht, h.config.TileEdge)
		levels = append(levels, levelMeta{Width: w, Height: ht, Cols: cols, Rows: rows})
	}
	return levels, nil
}

func (h *Handlers) handleSlideMeta(w http.ResponseWriter, r *http.Request, slideID string) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	handle, err := h.slides.Open(slideID)
	if err != nil {
		h.logger.Warn("Failed to open slide", zap.String("slide_id", slideID), zap.Error(err))
		http.Error(w, slide.ErrSlideOpen.Error(), http.StatusNotFound)
		return
	}
	levels, err := h.levels(handle)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, map[string]interface{}{
		"id":       slideID,
		"levels":   levels,
		"tileSize": h.config.TileEdge,
		"format":   h.encoder.Format(),
	})
}

func (h *Handlers) handleTile(w http.ResponseWriter, r *http.Request, slideID string, tileParts []string) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	level, err := strconv.Atoi(tileParts[0])
	if err != nil {
		http.Error(w, "Invalid level", http.StatusBadRequest)
		return
	}
	col, err := strconv.Atoi(tileParts[1])
	if err != nil {
		http.Error(w, "Invalid column", http.StatusBadRequest)
		return
	}

	tileFile := tileParts[2]
	ext := filepath.Ext(tileFile)
	row, err := strconv.Atoi(strings.TrimSuffix(tileFile, ext))
	if err != nil {
		http.Error(w, "Invalid row", http.StatusBadRequest)
		return
	}

	if level < 0 || col < 0 || row < 0 {
		http.Error(w, "Coordinates must be non-negative", http.StatusBadRequest)
		return
	}

	format := strings.TrimPrefix(ext, ".")
	if format == "jpg" {
		format = "jpeg"
	}
	if format != h.encoder.Format() {
		http.Error(w, "Invalid format", http.StatusBadRequest)
		return
	}

	handle, err := h.slides.Open(slideID)
	if err != nil {
		h.logger.Warn("Failed to open slide", zap.String("slide_id", slideID), zap.Error(err))
		http.Error(w, slide.ErrSlideOpen.Error(), http.StatusNotFound)
		return
	}
	if level >= handle.LevelCount() {
		http.NotFound(w, r)
		return
	}
	levelW, levelH, err := handle.LevelDimensions(level)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if cols, rows := tiling.GridSize(levelW, levelH, h.config.TileEdge); col >= cols || row >= rows {
		http.NotFound(w, r)
		return
	}

	key := tiling.TileKey{Slide: handle.Identity(), Level: level, Row: row, Col: col}
	etag := `"` + h.encoder.ETag(key) + `"`
	if r.Header.Get("If-None-Match") == etag {
		w.Header().Set("ETag", etag)
		w.WriteHeader(http.StatusNotModified)
		return
	}

	data, ok := h.encoder.Cached(key)
	if !ok {
		data, err = h.renderTile(r, key)
		if err != nil {
			h.logger.Error("Failed to render tile", zap.Stringer("key", key), zap.Error(err))
			status := http.StatusInternalServerError
			if r.Context().Err() != nil {
				status = http.StatusServiceUnavailable
			}
			http.Error(w, err.Error(), status)
			return
		}
	}

	w.Header().Set("ETag", etag)
	w.Header().Set("Cache-Control", "public, max-age=31536000")
	w.Header().Set("Content-Length", fmt.Sprintf("%d", len(data)))
	w.Header().Set("X-Tile-Bytes", fmt.Sprintf("%d", len(data)))
	w.Header().Set("Content-Type", h.encoder.ContentType())

	// HEAD request doesn't send body
	if r.Method == http.MethodHead {
		w.WriteHeader(http.StatusOK)
		return
	}

	w.Write(data)
}

func (h *Handlers) renderTile(r *http.Request, key tiling.TileKey) ([]byte, error) {
	entry, err := h.tiles.Get(r.Context(), key)
	if err != nil {
		return nil, err
	}
	defer h.tiles.Release(entry)
	return h.encoder.Encode(key, entry.Pixels)
}

// Not for real production use due to potential spoofing
// but it's fine for a demo
func (h *Handlers) extractIP(r *http.Request) string {
	ip := r.Header.Get("X-Real-Ip")
	if ip != "" {
		return strings.Split(ip, ":")[0]
	}

	addr := r.RemoteAddr
	if addr != "" {
		return strings.Split(addr, ":")[0]
	}

	return "unknown"
}

type responseWriter struct {
	http.ResponseWriter
	statusCode   int
	bytesWritten int64
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.bytesWritten += int64(n)
	return n, err
}

// Hijack lets websocket upgrades pass through the logging middleware.
func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := rw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	rw.statusCode = http.StatusSwitchingProtocols
	return hj.Hijack()
}
