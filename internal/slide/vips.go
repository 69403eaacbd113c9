package slide

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/cshum/vipsgen/vips"
)

const maxProbedLevels = 32

var openslideExts = map[string]bool{
	".svs":     true,
	".ndpi":    true,
	".vms":     true,
	".vmu":     true,
	".scn":     true,
	".mrxs":    true,
	".svslide": true,
	".bif":     true,
}

var flatExts = map[string]bool{
	".tif":  true,
	".tiff": true,
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".webp": true,
}

// Supported reports whether a file extension can be opened as a slide.
func Supported(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return openslideExts[ext] || flatExts[ext]
}

type OpenOptions struct {
	// ScaleFactor is the linear downsample between synthesized levels of flat images.
	ScaleFactor float64
	// MinLevelEdge stops level synthesis once both dimensions fit in it.
	MinLevelEdge int
}

// OpenVips opens a slide with libvips. Vendor formats and pyramidal TIFFs go
// through openslide; anything else is treated as a flat image with a virtual
// pyramid.
func OpenVips(path string, opts OpenOptions) (Handle, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, &OpenError{Path: path, Err: err}
	}
	id := Identity{Path: path, ModTime: info.ModTime().UnixNano(), Size: info.Size()}

	ext := strings.ToLower(filepath.Ext(path))
	if !openslideExts[ext] && !flatExts[ext] {
		return nil, &OpenError{Path: path, Err: fmt.Errorf("unsupported slide format: %s", ext)}
	}

	if openslideExts[ext] || ext == ".tif" || ext == ".tiff" {
		h, err := openOpenslide(id)
		if err == nil {
			return h, nil
		}
		if openslideExts[ext] {
			return nil, &OpenError{Path: path, Err: err}
		}
	}

	h, err := openFlat(id, opts)
	if err != nil {
		return nil, &OpenError{Path: path, Err: err}
	}
	return h, nil
}

type levelDims struct {
	width, height int
}

// openslideHandle reads native pyramid levels. Each read loads its own vips
// image because vips operations mutate the image in place.
type openslideHandle struct {
	id     Identity
	levels []levelDims
}

func loadOpenslideLevel(path string, level int) (*vips.Image, error) {
	opts := vips.DefaultOpenslideloadOptions()
	opts.Level = level
	opts.Access = vips.AccessRandom
	return vips.NewOpenslideload(path, opts)
}

func openOpenslide(id Identity) (*openslideHandle, error) {
	h := &openslideHandle{id: id}
	for level := 0; level < maxProbedLevels; level++ {
		image, err := loadOpenslideLevel(id.Path, level)
		if err != nil {
			if level == 0 {
				return nil, err
			}
			break
		}
		h.levels = append(h.levels, levelDims{width: image.Width(), height: image.Height()})
		image.Close()
	}
	return h, nil
}

func (h *openslideHandle) Identity() Identity { return h.id }
func (h *openslideHandle) LevelCount() int    { return len(h.levels) }

func (h *openslideHandle) LevelDimensions(level int) (int, int, error) {
	if level < 0 || level >= len(h.levels) {
		return 0, 0, fmt.Errorf("level %d out of range [0,%d)", level, len(h.levels))
	}
	return h.levels[level].width, h.levels[level].height, nil
}

func (h *openslideHandle) ReadRegion(level, x, y, w, ht int) (Pixels, error) {
	if err := CheckRegion(h, level, x, y, w, ht); err != nil {
		return Pixels{}, err
	}
	image, err := loadOpenslideLevel(h.id.Path, level)
	if err != nil {
		return Pixels{}, &RegionError{Level: level, X: x, Y: y, W: w, H: ht, Err: err}
	}
	defer image.Close()

	if err := image.ExtractArea(x, y, w, ht); err != nil {
		return Pixels{}, &RegionError{Level: level, X: x, Y: y, W: w, H: ht, Err: fmt.Errorf("failed to extract area: %w", err)}
	}
	px, err := imagePixels(image)
	if err != nil {
		return Pixels{}, &RegionError{Level: level, X: x, Y: y, W: w, H: ht, Err: err}
	}
	return px, nil
}

func (h *openslideHandle) Close() error { return nil }

// flatHandle synthesizes pyramid levels from a single full-resolution image.
// Level L is the level-0 image downsampled by ScaleFactor^L.
type flatHandle struct {
	id     Identity
	factor float64
	levels []levelDims
}

func openFlat(id Identity, opts OpenOptions) (*flatHandle, error) {
	factor := opts.ScaleFactor
	if factor <= 1 {
		factor = 2
	}
	minEdge := opts.MinLevelEdge
	if minEdge <= 0 {
		minEdge = 256
	}

	image, err := loadFlat(id.Path, vips.AccessSequential)
	if err != nil {
		return nil, fmt.Errorf("failed to open image: %w", err)
	}
	width, height := image.Width(), image.Height()
	image.Close()

	h := &flatHandle{id: id, factor: factor}
	for level := 0; level < maxProbedLevels; level++ {
		ds := math.Pow(factor, float64(level))
		w := int(math.Ceil(float64(width) / ds))
		ht := int(math.Ceil(float64(height) / ds))
		h.levels = append(h.levels, levelDims{width: w, height: ht})
		if w <= minEdge && ht <= minEdge {
			break
		}
	}
	return h, nil
}

func loadFlat(path string, access vips.Access) (*vips.Image, error) {
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".tif", ".tiff":
		opts := vips.DefaultTiffloadOptions()
		opts.Access = access
		return vips.NewTiffload(path, opts)
	case ".jpg", ".jpeg":
		opts := vips.DefaultJpegloadOptions()
		opts.Access = access
		return vips.NewJpegload(path, opts)
	case ".png":
		opts := vips.DefaultPngloadOptions()
		opts.Access = access
		return vips.NewPngload(path, opts)
	case ".webp":
		opts := vips.DefaultWebploadOptions()
		opts.Access = access
		return vips.NewWebpload(path, opts)
	default:
		return nil, fmt.Errorf("unsupported image format: %s", ext)
	}
}

func (h *flatHandle) Identity() Identity { return h.id }
func (h *flatHandle) LevelCount() int    { return len(h.levels) }

func (h *flatHandle) LevelDimensions(level int) (int, int, error) {
	if level < 0 || level >= len(h.levels) {
		return 0, 0, fmt.Errorf("level %d out of range [0,%d)", level, len(h.levels))
	}
	return h.levels[level].width, h.levels[level].height, nil
}

// ReadRegion maps the level rectangle back to level-0 pixels, extracts that
// area and scales it down. Rounding can leave the result a pixel off the
// requested size; callers resample when they need an exact shape.
func (h *flatHandle) ReadRegion(level, x, y, w, ht int) (Pixels, error) {
	if err := CheckRegion(h, level, x, y, w, ht); err != nil {
		return Pixels{}, err
	}
	regionErr := func(err error) error {
		return &RegionError{Level: level, X: x, Y: y, W: w, H: ht, Err: err}
	}

	image, err := loadFlat(h.id.Path, vips.AccessRandom)
	if err != nil {
		return Pixels{}, regionErr(fmt.Errorf("failed to open image: %w", err))
	}
	defer image.Close()

	ds := math.Pow(h.factor, float64(level))
	srcW, srcH := image.Width(), image.Height()
	startX := int(math.Floor(float64(x) * ds))
	startY := int(math.Floor(float64(y) * ds))
	endX := int(math.Min(math.Ceil(float64(x+w)*ds), float64(srcW)))
	endY := int(math.Min(math.Ceil(float64(y+ht)*ds), float64(srcH)))
	if endX <= startX || endY <= startY {
		return Pixels{}, regionErr(fmt.Errorf("invalid source bounds"))
	}

	if err := image.ExtractArea(startX, startY, endX-startX, endY-startY); err != nil {
		return Pixels{}, regionErr(fmt.Errorf("failed to extract area: %w", err))
	}
	if level > 0 {
		resizeOpts := vips.DefaultResizeOptions()
		resizeOpts.Kernel = vips.KernelLanczos3
		if err := image.Resize(1/ds, resizeOpts); err != nil {
			return Pixels{}, regionErr(fmt.Errorf("failed to resize: %w", err))
		}
	}

	px, err := imagePixels(image)
	if err != nil {
		return Pixels{}, regionErr(err)
	}
	return px, nil
}

func (h *flatHandle) Close() error { return nil }

// imagePixels exports the image as interleaved 8-bit samples. Deeper formats
// (16-bit TIFF, float) are cast down first.
func imagePixels(image *vips.Image) (Pixels, error) {
	if image.BandFormat() != vips.BandFormatUchar {
		if err := image.Cast(vips.BandFormatUchar, nil); err != nil {
			return Pixels{}, fmt.Errorf("failed to cast pixels to 8-bit: %w", err)
		}
	}
	data, err := image.RawsaveBuffer(nil)
	if err != nil {
		return Pixels{}, fmt.Errorf("failed to read pixels: %w", err)
	}
	return ToRGBA(data, image.Width(), image.Height(), image.Bands())
}
