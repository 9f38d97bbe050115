package imaging

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func noisePNG(t require.TestingT, w, h int, seed int64) []byte {
	rng := rand.New(rand.NewSource(seed))
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.NRGBA{uint8(rng.Intn(256)), uint8(rng.Intn(256)), uint8(rng.Intn(256)), uint8(128 + rng.Intn(128))})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestCompress_SmallInputUnchanged(t *testing.T) {
	data := noisePNG(t, 16, 16, 1)
	out := Compress(data, 200)
	assert.Equal(t, data, out)
}

func TestCompress_UndecodableUnchanged(t *testing.T) {
	data := bytes.Repeat([]byte("not an image"), 50_000)
	out := Compress(data, 10)
	assert.Equal(t, data, out)
}

func TestCompress_ShrinksUnderBudget(t *testing.T) {
	data := noisePNG(t, 900, 900, 2)
	require.Greater(t, len(data), 200*1024)

	out := Compress(data, 200)
	assert.LessOrEqual(t, len(out), 200*1024)

	img, format, err := image.Decode(bytes.NewReader(out))
	require.NoError(t, err)
	assert.Equal(t, "jpeg", format)
	assert.Greater(t, img.Bounds().Dx(), 0)
}

func TestCompress_UnreachableBudgetReturnsSmallest(t *testing.T) {
	data := noisePNG(t, 600, 600, 3)
	out := Compress(data, 1)
	assert.Less(t, len(out), len(data))

	img, _, err := image.Decode(bytes.NewReader(out))
	require.NoError(t, err)
	assert.GreaterOrEqual(t, max(img.Bounds().Dx(), img.Bounds().Dy()), MinLongSide/2)
}

func TestCompress_Deterministic(t *testing.T) {
	data := noisePNG(t, 500, 500, 4)
	assert.Equal(t, Compress(data, 50), Compress(data, 50))
}

func TestCompress_AlphaFlattenedOntoWhite(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 400, 400))
	rng := rand.New(rand.NewSource(5))
	for y := 0; y < 400; y++ {
		for x := 0; x < 400; x++ {
			a := uint8(0)
			if x > 200 {
				a = uint8(rng.Intn(256))
			}
			img.Set(x, y, color.NRGBA{uint8(rng.Intn(256)), 0, 0, a})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))

	out := Compress(buf.Bytes(), 20)
	decoded, err := jpeg.Decode(bytes.NewReader(out))
	require.NoError(t, err)
	r, g, b, _ := decoded.At(10, 10).RGBA()
	assert.Greater(t, r>>8, uint32(230))
	assert.Greater(t, g>>8, uint32(230))
	assert.Greater(t, b>>8, uint32(230))
}

func TestProperty_Compress_NeverLarger(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		w := rapid.IntRange(8, 320).Draw(rt, "w")
		h := rapid.IntRange(8, 320).Draw(rt, "h")
		seed := rapid.Int64().Draw(rt, "seed")
		budget := rapid.IntRange(1, 300).Draw(rt, "budgetKB")

		data := noisePNG(rt, w, h, seed)
		out := Compress(data, budget)
		if len(out) > len(data) {
			rt.Fatalf("compressed %d bytes into %d bytes", len(data), len(out))
		}
		if len(data) <= budget*1024 && !bytes.Equal(out, data) {
			rt.Fatalf("input within budget was modified")
		}
	})
}

func TestThumbnail(t *testing.T) {
	data := noisePNG(t, 1000, 500, 6)
	out, err := Thumbnail(data, 200)
	require.NoError(t, err)

	img, err := jpeg.Decode(bytes.NewReader(out))
	require.NoError(t, err)
	assert.Equal(t, 200, img.Bounds().Dx())
	assert.Equal(t, 100, img.Bounds().Dy())

	_, err = Thumbnail([]byte("garbage"), 200)
	assert.Error(t, err)
}
