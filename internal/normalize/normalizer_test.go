package normalize

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"math/rand"
	"testing"

	"github.com/adverant/nexus/docscan-worker/internal/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func encodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func uniformImage(w, h int, c color.NRGBA) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, c)
		}
	}
	return img
}

func randomBitmap(w, h int, seed int64) *Bitmap {
	r := rand.New(rand.NewSource(seed))
	b, _ := NewBitmap(w, h)
	r.Read(b.Pix)
	return b
}

func TestResizeNeverUpscalesOrExceedsMaxWidth(t *testing.T) {
	cases := []struct {
		name           string
		w, h, maxWidth int
		wantW, wantH   int
	}{
		{"smaller than max", 10, 20, 1600, 10, 20},
		{"equal to max", 1600, 900, 1600, 1600, 900},
		{"downscaled", 3200, 100, 1600, 1600, 50},
		{"rounded", 7, 3, 2, 2, 1},
		{"height floored to one", 1000, 1, 10, 10, 1},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			src := uniformImage(tc.w, tc.h, color.NRGBA{R: 10, G: 20, B: 30, A: 255})

			bmp, scale := Resize(src, tc.maxWidth)

			assert.LessOrEqual(t, scale, 1.0)
			assert.LessOrEqual(t, bmp.Width, tc.maxWidth)
			assert.LessOrEqual(t, bmp.Width, tc.w)
			assert.Equal(t, tc.wantW, bmp.Width)
			assert.Equal(t, tc.wantH, bmp.Height)
			assert.True(t, bmp.Valid())
		})
	}
}

func TestResizeIsDeterministic(t *testing.T) {
	src := randomBitmap(64, 32, 7).Image()

	a, _ := Resize(src, 20)
	b, _ := Resize(src, 20)

	assert.Equal(t, a.Pix, b.Pix)
}

func TestNormalizeRejectsUndecodableBytes(t *testing.T) {
	for _, raw := range [][]byte{nil, []byte("definitely not an image")} {
		_, err := Normalize(raw, DefaultConfig())

		require.Error(t, err)
		assert.True(t, errors.HasCode(err, errors.ErrorDecodeFailed))
	}
}

func TestGrayscaleUsesLuminance(t *testing.T) {
	b, _ := NewBitmap(2, 1)
	copy(b.Pix, []uint8{255, 0, 0, 77, 0, 255, 0, 255})

	Grayscale(b)

	assert.Equal(t, []uint8{54, 54, 54, 77, 182, 182, 182, 255}, b.Pix)
}

func TestOtsuThresholdSeparatesBimodalPeaks(t *testing.T) {
	var h Histogram
	for d := -10; d <= 10; d++ {
		weight := 11 - abs(d)
		h[50+d] += weight * 40
		h[200+d] += weight * 25
	}

	threshold := OtsuThreshold(h)

	assert.Greater(t, threshold, 50)
	assert.Less(t, threshold, 200)
}

func TestOtsuThresholdDefaultsForSingleValue(t *testing.T) {
	for _, v := range []int{0, 42, 255} {
		var h Histogram
		h[v] = 4
		assert.Equal(t, DefaultThreshold, OtsuThreshold(h), "value %d", v)
	}

	assert.Equal(t, DefaultThreshold, OtsuThreshold(Histogram{}))
}

func TestBinarizeIsIdempotent(t *testing.T) {
	b := randomBitmap(16, 16, 3)
	Grayscale(b)
	Binarize(b)
	once := b.Clone()

	Binarize(b)

	assert.Equal(t, once.Pix, b.Pix)
	for i := 0; i < len(b.Pix); i += 4 {
		assert.Contains(t, []uint8{0, 255}, b.Pix[i])
	}
}

func TestBinarizeUsesRedChannelWithoutGrayscale(t *testing.T) {
	b, _ := NewBitmap(2, 1)
	copy(b.Pix, []uint8{200, 0, 0, 255, 10, 255, 255, 128})

	Binarize(b)

	assert.Equal(t, []uint8{255, 255, 255, 255, 0, 0, 0, 128}, b.Pix)
}

func TestUniformImageBinarizesWithDefaultThreshold(t *testing.T) {
	cases := []struct {
		value uint8
		want  uint8
	}{
		{100, 0},
		{200, 255},
	}

	for _, tc := range cases {
		raw := encodePNG(t, uniformImage(2, 2, color.NRGBA{R: tc.value, G: tc.value, B: tc.value, A: 255}))

		res, err := Normalize(raw, Config{MaxWidth: 1600, ToGray: true, Binarize: true})
		require.NoError(t, err)

		assert.Equal(t, DefaultThreshold, res.Threshold)
		for i := 0; i < len(res.Bitmap.Pix); i += 4 {
			assert.Equal(t, tc.want, res.Bitmap.Pix[i])
			assert.Equal(t, tc.want, res.Bitmap.Pix[i+1])
			assert.Equal(t, tc.want, res.Bitmap.Pix[i+2])
			assert.Equal(t, uint8(255), res.Bitmap.Pix[i+3])
		}
	}
}

func TestSharpenLeavesBordersUntouched(t *testing.T) {
	b := randomBitmap(7, 5, 11)
	before := b.Clone()

	Sharpen(b)

	for y := 0; y < b.Height; y++ {
		for x := 0; x < b.Width; x++ {
			i := b.Offset(x, y)
			if x == 0 || y == 0 || x == b.Width-1 || y == b.Height-1 {
				assert.Equal(t, before.Pix[i:i+4], b.Pix[i:i+4], "border pixel (%d,%d)", x, y)
				continue
			}
			assert.Equal(t, before.Pix[i+3], b.Pix[i+3], "alpha at (%d,%d)", x, y)
		}
	}
}

func TestSharpenReadsFromSnapshot(t *testing.T) {
	b, _ := NewBitmap(4, 3)
	for i := 0; i < len(b.Pix); i += 4 {
		b.Pix[i], b.Pix[i+1], b.Pix[i+2], b.Pix[i+3] = 30, 30, 30, 255
	}
	i := b.Offset(1, 1)
	b.Pix[i], b.Pix[i+1], b.Pix[i+2] = 32, 32, 32

	Sharpen(b)

	// 5*32 - 4*30
	assert.Equal(t, uint8(40), b.Pix[b.Offset(1, 1)])
	// 5*30 - 32 - 3*30; reading the sharpened neighbour would give 20
	assert.Equal(t, uint8(28), b.Pix[b.Offset(2, 1)])
}

func TestSharpenClamps(t *testing.T) {
	b, _ := NewBitmap(3, 3)
	i := b.Offset(1, 1)
	b.Pix[i], b.Pix[i+1], b.Pix[i+2] = 200, 200, 200

	Sharpen(b)

	assert.Equal(t, uint8(255), b.Pix[i])
}

func TestNormalizeProducesPNGPayload(t *testing.T) {
	raw := encodePNG(t, randomBitmap(40, 20, 5).Image())

	res, err := Normalize(raw, Config{MaxWidth: 10, ToGray: true, Binarize: true, Sharpen: true})
	require.NoError(t, err)

	assert.Equal(t, ContentTypePNG, res.ContentType)
	assert.Equal(t, 40, res.SourceWidth)
	assert.Equal(t, 20, res.SourceHeight)
	assert.Equal(t, 0.25, res.Scale)
	assert.Equal(t, res.Encoded, res.Preview)

	decoded, err := png.Decode(bytes.NewReader(res.Encoded))
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 10, 5), decoded.Bounds())
}

func TestNormalizeSkipsDisabledSteps(t *testing.T) {
	img := randomBitmap(6, 6, 9).Image()
	raw := encodePNG(t, img)

	res, err := Normalize(raw, Config{MaxWidth: 100})
	require.NoError(t, err)

	assert.Equal(t, -1, res.Threshold)
	assert.Equal(t, FromImage(img).Pix, res.Bitmap.Pix)
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
