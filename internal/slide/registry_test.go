package slide_test

import (
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"slidestream/internal/slide"
	"slidestream/internal/slide/slidetest"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func statOpener(calls *atomic.Int32) slide.Opener {
	return func(path string) (slide.Handle, error) {
		calls.Add(1)
		info, err := os.Stat(path)
		if err != nil {
			return nil, &slide.OpenError{Path: path, Err: err}
		}
		f := slidetest.New(path, [2]int{1024, 768}, [2]int{512, 384})
		f.ID = slide.Identity{Path: path, ModTime: info.ModTime().UnixNano(), Size: info.Size()}
		return f, nil
	}
}

func TestRegistry_ScanListsSupportedFiles(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "b.svs", "bb")
	writeFile(t, dir, "a.tiff", "a")
	writeFile(t, dir, "notes.txt", "skip")
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub.svs"), 0755))

	var calls atomic.Int32
	reg := slide.NewRegistry(dir, statOpener(&calls), zap.NewNop())
	require.NoError(t, reg.Scan())

	infos := reg.List()
	require.Len(t, infos, 2)
	assert.Equal(t, "a.tiff", infos[0].Name)
	assert.Equal(t, int64(1), infos[0].Bytes)
	assert.Equal(t, "b.svs", infos[1].Name)
	assert.NotEqual(t, infos[0].ID, infos[1].ID)
	assert.Zero(t, calls.Load(), "scan must not open slides")
}

func TestRegistry_OpenKeepsOneHandlePerIdentity(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "s.svs", "slide")

	var calls atomic.Int32
	reg := slide.NewRegistry(dir, statOpener(&calls), zap.NewNop())
	require.NoError(t, reg.Scan())
	id := reg.List()[0].ID

	h1, err := reg.Open(id)
	require.NoError(t, err)
	h2, err := reg.Open(id)
	require.NoError(t, err)
	assert.Same(t, h1, h2)
	assert.Equal(t, int32(1), calls.Load())

	resolved, err := reg.Resolve(h1.Identity())
	require.NoError(t, err)
	assert.Same(t, h1, resolved)

	require.NoError(t, reg.Close())
	assert.True(t, h1.(*slidetest.Fake).Closed())
}

func TestRegistry_OpenUnknownID(t *testing.T) {
	var calls atomic.Int32
	reg := slide.NewRegistry(t.TempDir(), statOpener(&calls), zap.NewNop())
	require.NoError(t, reg.Scan())

	_, err := reg.Open("missing")
	require.Error(t, err)
	assert.True(t, errors.Is(err, slide.ErrSlideOpen))
}

func TestRegistry_ResolveRejectsChangedFile(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "s.svs", "slide")

	var calls atomic.Int32
	reg := slide.NewRegistry(dir, statOpener(&calls), zap.NewNop())

	stale := slide.Identity{Path: path, ModTime: 42, Size: 5}
	_, err := reg.Resolve(stale)
	require.Error(t, err)
	assert.ErrorIs(t, err, slide.ErrSlideOpen)
}

func TestRegistry_ResolveDropsHandleAfterRewrite(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "s.svs", "slide")

	var calls atomic.Int32
	reg := slide.NewRegistry(dir, statOpener(&calls), zap.NewNop())
	require.NoError(t, reg.Scan())
	id := reg.List()[0].ID

	old, err := reg.Open(id)
	require.NoError(t, err)

	writeFile(t, dir, "s.svs", "rewritten slide")

	_, err = reg.Resolve(old.Identity())
	require.Error(t, err)
	assert.ErrorIs(t, err, slide.ErrSlideOpen)
	assert.True(t, old.(*slidetest.Fake).Closed())

	fresh, err := reg.Open(id)
	require.NoError(t, err)
	assert.NotEqual(t, old.Identity(), fresh.Identity())
	assert.Equal(t, int64(len("rewritten slide")), fresh.Identity().Size)
	assert.Equal(t, int32(2), calls.Load())

	resolved, err := reg.Resolve(fresh.Identity())
	require.NoError(t, err)
	assert.Same(t, fresh, resolved)
}

func TestToRGBA(t *testing.T) {
	px, err := slide.ToRGBA([]byte{10, 20, 30, 40, 50, 60}, 2, 1, 3)
	require.NoError(t, err)
	assert.Equal(t, []byte{10, 20, 30, 255, 40, 50, 60, 255}, px.Data)
	assert.True(t, px.Valid())

	px, err = slide.ToRGBA([]byte{7, 9}, 1, 1, 2)
	require.NoError(t, err)
	assert.Equal(t, []byte{7, 7, 7, 9}, px.Data)

	_, err = slide.ToRGBA([]byte{1, 2, 3}, 2, 1, 3)
	assert.Error(t, err)
}

func TestCheckRegion(t *testing.T) {
	f := slidetest.New("x", [2]int{100, 50})

	assert.NoError(t, slide.CheckRegion(f, 0, 0, 0, 100, 50))

	for _, tc := range []struct {
		name           string
		level, x, y, w int
		h              int
	}{
		{"level", 1, 0, 0, 10, 10},
		{"negative", 0, -1, 0, 10, 10},
		{"overflow", 0, 95, 0, 10, 10},
		{"empty", 0, 0, 0, 0, 10},
	} {
		t.Run(tc.name, func(t *testing.T) {
			err := slide.CheckRegion(f, tc.level, tc.x, tc.y, tc.w, tc.h)
			var regionErr *slide.RegionError
			require.ErrorAs(t, err, &regionErr)
			assert.ErrorIs(t, err, slide.ErrRegionRead)
		})
	}
}
