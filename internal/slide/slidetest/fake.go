// Package slidetest provides an in-memory slide.Handle for tests.
package slidetest

import (
	"fmt"
	"sync"

	"slidestream/internal/slide"
)

// Fake is a synthetic pyramid whose pixels are a pure function of
// (level, x, y), so any two reads of the same region are bit-identical.
type Fake struct {
	ID     slide.Identity
	Levels [][2]int

	// ReadFunc, when set, replaces the synthetic read after bounds checking.
	ReadFunc func(level, x, y, w, h int) (slide.Pixels, error)

	mu     sync.Mutex
	reads  int
	closed bool
}

// New returns a fake slide with the given level dimensions, level 0 first.
func New(path string, levels ...[2]int) *Fake {
	return &Fake{
		ID:     slide.Identity{Path: path, ModTime: 1, Size: 1},
		Levels: levels,
	}
}

func (f *Fake) Identity() slide.Identity { return f.ID }
func (f *Fake) LevelCount() int          { return len(f.Levels) }

func (f *Fake) LevelDimensions(level int) (int, int, error) {
	if level < 0 || level >= len(f.Levels) {
		return 0, 0, fmt.Errorf("level %d out of range", level)
	}
	return f.Levels[level][0], f.Levels[level][1], nil
}

func (f *Fake) ReadRegion(level, x, y, w, h int) (slide.Pixels, error) {
	if err := slide.CheckRegion(f, level, x, y, w, h); err != nil {
		return slide.Pixels{}, err
	}
	f.mu.Lock()
	f.reads++
	f.mu.Unlock()
	if f.ReadFunc != nil {
		return f.ReadFunc(level, x, y, w, h)
	}
	return Fill(level, x, y, w, h), nil
}

func (f *Fake) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *Fake) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// Reads returns how many successful bounds checks reached the pixel source.
func (f *Fake) Reads() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reads
}

// Resolve lets a Fake serve as its own resolver.
func (f *Fake) Resolve(id slide.Identity) (slide.Handle, error) {
	if id != f.ID {
		return nil, &slide.OpenError{Path: id.Path, Err: fmt.Errorf("unknown slide")}
	}
	return f, nil
}

// Fill produces the deterministic pixels of a region.
func Fill(level, x, y, w, h int) slide.Pixels {
	data := make([]byte, w*h*slide.Channels)
	for j := 0; j < h; j++ {
		for i := 0; i < w; i++ {
			o := (j*w + i) * slide.Channels
			data[o] = byte(x + i)
			data[o+1] = byte(y + j)
			data[o+2] = byte(level * 40)
			data[o+3] = 255
		}
	}
	return slide.Pixels{Width: w, Height: h, Channels: slide.Channels, Data: data}
}
