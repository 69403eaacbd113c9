package encoding

import (
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"slidestream/internal/cache"
	"slidestream/internal/slide"
	"slidestream/internal/slide/slidetest"
	"slidestream/internal/tiling"
)

type countingCodec struct {
	calls atomic.Int32
	err   error
}

func (c *countingCodec) Format() string      { return "test" }
func (c *countingCodec) ContentType() string { return "application/test" }
func (c *countingCodec) Encode(px slide.Pixels) ([]byte, error) {
	c.calls.Add(1)
	if c.err != nil {
		return nil, c.err
	}
	return append([]byte("enc:"), px.Data[:4]...), nil
}

var testKey = tiling.TileKey{Slide: slide.Identity{Path: "/s.svs", ModTime: 3, Size: 4}, Level: 1, Row: 2, Col: 3}

func TestRawCodec_RoundTrip(t *testing.T) {
	px := slidetest.Fill(2, 10, 20, 16, 8)
	data, err := RawCodec{}.Encode(px)
	require.NoError(t, err)

	got, err := DecodeRaw(data)
	require.NoError(t, err)
	assert.Equal(t, px, got)
}

func TestRawCodec_Rejects(t *testing.T) {
	_, err := RawCodec{}.Encode(slide.Pixels{Width: 2, Height: 2, Channels: 4, Data: []byte{1}})
	assert.Error(t, err)

	_, err = DecodeRaw([]byte{0, 0})
	assert.Error(t, err)

	data, err := RawCodec{}.Encode(slidetest.Fill(0, 0, 0, 4, 4))
	require.NoError(t, err)
	data[3] = 5 // width 5 no longer matches the payload
	_, err = DecodeRaw(data)
	assert.Error(t, err)
}

func TestNewCodec(t *testing.T) {
	for format, want := range map[string]string{"jpeg": "jpeg", "JPG": "jpeg", "png": "png", "webp": "webp", "raw": "raw"} {
		c, err := NewCodec(format, 80)
		require.NoError(t, err, format)
		assert.Equal(t, want, c.Format())
	}
	_, err := NewCodec("gif", 80)
	assert.Error(t, err)

	c, err := NewVipsCodec("webp", 0)
	require.NoError(t, err)
	assert.Equal(t, "image/webp", c.ContentType())
	assert.Equal(t, 82, c.quality)
}

func TestDropAlpha(t *testing.T) {
	px := slide.Pixels{Width: 2, Height: 1, Channels: 4, Data: []byte{1, 2, 3, 255, 4, 5, 6, 128}}
	assert.Equal(t, []byte{1, 2, 3, 4, 5, 6}, dropAlpha(px))
}

func TestEncoder_MemoizesEncodings(t *testing.T) {
	codec := &countingCodec{}
	store := cache.NewMemoryCache(16)
	enc := NewEncoder(codec, store, 256)
	px := slidetest.Fill(1, 0, 0, 4, 4)

	_, ok := enc.Cached(testKey)
	assert.False(t, ok)

	first, err := enc.Encode(testKey, px)
	require.NoError(t, err)
	second, err := enc.Encode(testKey, px)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, int32(1), codec.calls.Load())

	cached, ok := enc.Cached(testKey)
	require.True(t, ok)
	assert.Equal(t, first, cached)
	assert.True(t, store.Has(cache.TileKey{Slide: testKey.Slide.ID(), TileSize: 256, Level: 1, Col: 3, Row: 2, Format: "test"}))
}

func TestEncoder_ErrorNotStored(t *testing.T) {
	boom := errors.New("boom")
	codec := &countingCodec{err: boom}
	enc := NewEncoder(codec, cache.NewMemoryCache(4), 256)

	_, err := enc.Encode(testKey, slidetest.Fill(0, 0, 0, 4, 4))
	require.ErrorIs(t, err, boom)
	_, ok := enc.Cached(testKey)
	assert.False(t, ok)
}

func TestEncoder_ETag(t *testing.T) {
	enc := NewEncoder(&countingCodec{}, cache.NewNoopCache(), 256)
	tag := enc.ETag(testKey)
	assert.Len(t, tag, 16)
	assert.Equal(t, tag, enc.ETag(testKey))

	other := testKey
	other.Slide.ModTime++
	assert.NotEqual(t, tag, enc.ETag(other))
}
