// Package session streams the tiles covering a client's moving viewport.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"slidestream/internal/slide"
	"slidestream/internal/tilecache"
	"slidestream/internal/tiling"
)

var (
	ErrSessionClosed   = errors.New("session closed")
	ErrInvalidViewport = errors.New("invalid viewport")
	ErrTileTimeout     = errors.New("tile timed out")
)

type State int32

const (
	Idle State = iota
	Active
	Closed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Active:
		return "active"
	case Closed:
		return "closed"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Cache is the subset of the tile cache a session uses.
type Cache interface {
	Get(ctx context.Context, key tiling.TileKey) (*tilecache.Entry, error)
	Release(e *tilecache.Entry)
}

type Encoder interface {
	Format() string
	Encode(key tiling.TileKey, px slide.Pixels) ([]byte, error)
}

// Delivery is one tile outcome for one viewport generation. Err is set when
// the tile is missing for that generation.
type Delivery struct {
	Key        tiling.TileKey
	Generation uint64
	Format     string
	Data       []byte
	Err        error
}

func (d Delivery) Missing() bool { return d.Err != nil }

// Sink receives deliveries. Deliver is called with the session lock held, one
// call at a time, and never after a newer generation has started.
type Sink interface {
	Deliver(ctx context.Context, d Delivery) error
}

type Options struct {
	TileEdge int
	// TileTimeout bounds the wait for one tile. Zero waits until superseded.
	TileTimeout time.Duration
	// MaxInFlight bounds concurrent tile fetches. Zero means 4.
	MaxInFlight int
	// MaxTiles bounds the tiles one viewport may cover. Zero means 4096.
	MaxTiles int
	Logger   *zap.Logger
}

type fetch struct {
	key    tiling.TileKey
	ctx    context.Context
	cancel context.CancelFunc
}

type generationStats struct {
	requested int
	delivered int
	missing   int
	cancelled int
}

type Session struct {
	id      string
	handle  slide.Handle
	cache   Cache
	encoder Encoder
	sink    Sink
	opts    Options
	logger  *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	slots  *semaphore.Weighted
	wg     sync.WaitGroup

	mu        sync.Mutex
	state     State
	gen       uint64
	viewport  tiling.Viewport
	pending   map[tiling.TileKey]*fetch
	delivered map[tiling.TileKey]bool
	genStats  generationStats
}

func New(handle slide.Handle, cache Cache, encoder Encoder, sink Sink, opts Options) *Session {
	if opts.MaxInFlight <= 0 {
		opts.MaxInFlight = 4
	}
	if opts.TileEdge <= 0 {
		opts.TileEdge = 256
	}
	if opts.MaxTiles <= 0 {
		opts.MaxTiles = 4096
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	id := uuid.New().String()
	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		id:        id,
		handle:    handle,
		cache:     cache,
		encoder:   encoder,
		sink:      sink,
		opts:      opts,
		logger:    logger.With(zap.String("session_id", id), zap.String("slide", handle.Identity().Path)),
		ctx:       ctx,
		cancel:    cancel,
		slots:     semaphore.NewWeighted(int64(opts.MaxInFlight)),
		pending:   make(map[tiling.TileKey]*fetch),
		delivered: make(map[tiling.TileKey]bool),
	}
}

func (s *Session) ID() string { return s.id }

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) Generation() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gen
}

// SetViewport replaces the current viewport and returns its generation. Tiles
// already delivered and still visible are not sent again; pending fetches that
// left the viewport are abandoned. An invalid viewport leaves the session
// unchanged.
func (s *Session) SetViewport(level int, rect tiling.Rect) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == Closed {
		return 0, ErrSessionClosed
	}
	if level < 0 || level >= s.handle.LevelCount() {
		return 0, fmt.Errorf("%w: level %d out of range [0,%d)", ErrInvalidViewport, level, s.handle.LevelCount())
	}
	if rect.Width < 0 || rect.Height < 0 {
		return 0, fmt.Errorf("%w: negative size %dx%d", ErrInvalidViewport, rect.Width, rect.Height)
	}
	levelW, levelH, err := s.handle.LevelDimensions(level)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidViewport, err)
	}

	if r := rect.Clip(levelW, levelH); !r.Empty() {
		e := s.opts.TileEdge
		n := ((r.X+r.Width-1)/e - r.X/e + 1) * ((r.Y+r.Height-1)/e - r.Y/e + 1)
		if n > s.opts.MaxTiles {
			return 0, fmt.Errorf("%w: covers %d tiles, limit %d", ErrInvalidViewport, n, s.opts.MaxTiles)
		}
	}

	keys := tiling.CoveringTiles(s.handle.Identity(), level, levelW, levelH, s.opts.TileEdge, rect)
	want := make(map[tiling.TileKey]bool, len(keys))
	for _, k := range keys {
		want[k] = true
	}

	if s.gen > 0 {
		s.logGeneration("Viewport superseded")
	}
	s.gen++
	s.state = Active
	s.viewport = tiling.Viewport{Level: level, Rect: rect}
	s.genStats = generationStats{}

	for k, f := range s.pending {
		if !want[k] {
			f.cancel()
			delete(s.pending, k)
			s.genStats.cancelled++
		}
	}
	for k := range s.delivered {
		if !want[k] {
			delete(s.delivered, k)
		}
	}

	var fetches []*fetch
	for _, k := range keys {
		if _, ok := s.pending[k]; ok || s.delivered[k] {
			continue
		}
		ctx, cancel := context.WithCancel(s.ctx)
		f := &fetch{key: k, ctx: ctx, cancel: cancel}
		s.pending[k] = f
		fetches = append(fetches, f)
	}
	s.genStats.requested = len(fetches)

	if len(fetches) > 0 {
		s.wg.Add(1)
		go s.dispatch(fetches)
	}
	return s.gen, nil
}

// dispatch starts fetches in priority order as slots free up.
func (s *Session) dispatch(fetches []*fetch) {
	defer s.wg.Done()
	for _, f := range fetches {
		if err := s.slots.Acquire(f.ctx, 1); err != nil {
			continue
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer s.slots.Release(1)
			s.run(f)
		}()
	}
}

func (s *Session) run(f *fetch) {
	defer f.cancel()

	ctx := f.ctx
	if s.opts.TileTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(f.ctx, s.opts.TileTimeout)
		defer cancel()
	}

	entry, err := s.cache.Get(ctx, f.key)
	if err != nil {
		if f.ctx.Err() != nil {
			return
		}
		if errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("%w after %s", ErrTileTimeout, s.opts.TileTimeout)
		}
		s.deliverMissing(f, err)
		return
	}

	// Only the encode needs the pixels pinned.
	data, err := s.encoder.Encode(f.key, entry.Pixels)
	s.cache.Release(entry)
	if err != nil {
		s.deliverMissing(f, fmt.Errorf("failed to encode tile: %w", err))
		return
	}
	s.deliver(f, data)
}

// deliver hands the tile to the sink if f is still the live fetch for its key.
func (s *Session) deliver(f *fetch, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == Closed || s.pending[f.key] != f {
		return
	}
	delete(s.pending, f.key)

	err := s.sink.Deliver(s.ctx, Delivery{
		Key:        f.key,
		Generation: s.gen,
		Format:     s.encoder.Format(),
		Data:       data,
	})
	if err != nil {
		s.logger.Debug("Tile delivery failed", zap.Stringer("key", f.key), zap.Error(err))
		return
	}
	s.delivered[f.key] = true
	s.genStats.delivered++
}

func (s *Session) deliverMissing(f *fetch, cause error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == Closed || s.pending[f.key] != f {
		return
	}
	delete(s.pending, f.key)
	s.genStats.missing++

	s.logger.Debug("Tile missing", zap.Stringer("key", f.key), zap.Error(cause))
	err := s.sink.Deliver(s.ctx, Delivery{
		Key:        f.key,
		Generation: s.gen,
		Format:     s.encoder.Format(),
		Err:        cause,
	})
	if err != nil {
		s.logger.Debug("Missing-tile delivery failed", zap.Stringer("key", f.key), zap.Error(err))
	}
}

func (s *Session) logGeneration(msg string) {
	s.logger.Debug(msg,
		zap.Uint64("generation", s.gen),
		zap.Int("level", s.viewport.Level),
		zap.Int("requested", s.genStats.requested),
		zap.Int("delivered", s.genStats.delivered),
		zap.Int("missing", s.genStats.missing),
		zap.Int("cancelled", s.genStats.cancelled),
	)
}

// Close stops all fetches and releases every tile the session holds. It
// blocks until the session's workers have exited. Decodes already running in
// the cache finish on their own.
func (s *Session) Close() error {
	// Cancel first: a sink blocked in Deliver holds the lock until its ctx ends.
	s.cancel()

	s.mu.Lock()
	if s.state == Closed {
		s.mu.Unlock()
		return nil
	}
	if s.gen > 0 {
		s.logGeneration("Session closing")
	}
	s.state = Closed
	for k := range s.pending {
		delete(s.pending, k)
	}
	for k := range s.delivered {
		delete(s.delivered, k)
	}
	s.mu.Unlock()

	s.wg.Wait()
	return nil
}
