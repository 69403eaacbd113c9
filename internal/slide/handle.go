package slide

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
)

// Channels is the fixed channel count of every pixel buffer (RGBA, 8 bits each).
const Channels = 4

var (
	ErrSlideOpen  = errors.New("slide unavailable")
	ErrRegionRead = errors.New("region read failed")
)

// Identity names one open slide: its path plus the modification signature seen
// when it was opened. Two equal identities always share pyramid geometry.
type Identity struct {
	Path    string
	ModTime int64
	Size    int64
}

func (id Identity) String() string {
	return fmt.Sprintf("%s@%d:%d", id.Path, id.ModTime, id.Size)
}

// ID is the short, URL-safe form of the identity.
func (id Identity) ID() string {
	hash := sha256.Sum256([]byte(id.String()))
	return hex.EncodeToString(hash[:])[:16]
}

// Pixels is a row-major RGBA buffer.
type Pixels struct {
	Width    int
	Height   int
	Channels int
	Data     []byte
}

// Valid reports whether the buffer length matches its declared shape.
func (p Pixels) Valid() bool {
	return p.Width > 0 && p.Height > 0 && p.Channels == Channels &&
		len(p.Data) == p.Width*p.Height*p.Channels
}

// Handle is an opened multi-resolution slide. Implementations must be safe for
// concurrent use.
type Handle interface {
	Identity() Identity
	LevelCount() int
	LevelDimensions(level int) (width, height int, err error)
	// ReadRegion decodes the level-local rectangle (x, y, w, h). The returned
	// buffer may differ in size from w×h when the level is synthesized.
	ReadRegion(level, x, y, w, h int) (Pixels, error)
	Close() error
}

type OpenError struct {
	Path string
	Err  error
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("open slide %s: %v", e.Path, e.Err)
}

func (e *OpenError) Unwrap() []error {
	return []error{ErrSlideOpen, e.Err}
}

type RegionError struct {
	Level      int
	X, Y, W, H int
	Err        error
}

func (e *RegionError) Error() string {
	return fmt.Sprintf("read region level=%d rect=(%d,%d %dx%d): %v", e.Level, e.X, e.Y, e.W, e.H, e.Err)
}

func (e *RegionError) Unwrap() []error {
	return []error{ErrRegionRead, e.Err}
}

// CheckRegion validates a rectangle against a level's bounds.
func CheckRegion(h Handle, level, x, y, w, ht int) error {
	if level < 0 || level >= h.LevelCount() {
		return &RegionError{Level: level, X: x, Y: y, W: w, H: ht, Err: fmt.Errorf("level out of range [0,%d)", h.LevelCount())}
	}
	lw, lh, err := h.LevelDimensions(level)
	if err != nil {
		return &RegionError{Level: level, X: x, Y: y, W: w, H: ht, Err: err}
	}
	if x < 0 || y < 0 || w <= 0 || ht <= 0 || x+w > lw || y+ht > lh {
		return &RegionError{Level: level, X: x, Y: y, W: w, H: ht, Err: fmt.Errorf("outside level bounds %dx%d", lw, lh)}
	}
	return nil
}

// ToRGBA expands an interleaved 8-bit buffer with 1..4 bands to RGBA.
func ToRGBA(data []byte, width, height, bands int) (Pixels, error) {
	n := width * height
	if bands < 1 || bands > 4 || len(data) != n*bands {
		return Pixels{}, fmt.Errorf("unsupported pixel layout: %d bands, %d bytes for %dx%d", bands, len(data), width, height)
	}
	if bands == Channels {
		return Pixels{Width: width, Height: height, Channels: Channels, Data: data}, nil
	}
	out := make([]byte, n*Channels)
	for i := 0; i < n; i++ {
		src := data[i*bands : i*bands+bands]
		dst := out[i*Channels : i*Channels+Channels]
		switch bands {
		case 1:
			dst[0], dst[1], dst[2], dst[3] = src[0], src[0], src[0], 255
		case 2:
			dst[0], dst[1], dst[2], dst[3] = src[0], src[0], src[0], src[1]
		case 3:
			dst[0], dst[1], dst[2], dst[3] = src[0], src[1], src[2], 255
		}
	}
	return Pixels{Width: width, Height: height, Channels: Channels, Data: out}, nil
}
