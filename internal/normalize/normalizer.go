/**
 * Image normalization for OCR
 *
 * Fixed order: decode & resize (always) -> grayscale -> Otsu binarization -> sharpen.
 * Only decoding can fail; every later step works on validated pixel data.
 */

package normalize

import (
	"bytes"
	"fmt"
	"image"
	"math"

	_ "golang.org/x/image/webp"

	"github.com/disintegration/imaging"
	"golang.org/x/image/draw"

	"github.com/adverant/nexus/docscan-worker/internal/errors"
)

// DefaultMaxWidth is the resize ceiling used when Config.MaxWidth is unset.
const DefaultMaxWidth = 1600

// ContentTypePNG is the encoding of Result.Encoded.
const ContentTypePNG = "image/png"

// Config selects the optional normalization steps. Resize always runs.
type Config struct {
	MaxWidth int
	ToGray   bool
	Binarize bool
	Sharpen  bool
}

// DefaultConfig enables every step with the default width ceiling.
func DefaultConfig() Config {
	return Config{
		MaxWidth: DefaultMaxWidth,
		ToGray:   true,
		Binarize: true,
		Sharpen:  true,
	}
}

// Result is a normalized image ready for recognition.
type Result struct {
	Bitmap *Bitmap

	// Encoded is the lossless PNG payload for the recognizer.
	Encoded []byte
	// Preview is the same payload, exposed for human-facing display.
	Preview     []byte
	ContentType string

	SourceWidth  int
	SourceHeight int
	Scale        float64

	// Threshold is the Otsu threshold applied, or -1 when binarization was off.
	Threshold int
}

// Normalize decodes raw and runs the configured steps. It fails only with a
// DECODE_FAILED ProcessingError.
func Normalize(raw []byte, cfg Config) (*Result, error) {
	src, err := Decode(raw)
	if err != nil {
		return nil, err
	}

	maxWidth := cfg.MaxWidth
	if maxWidth <= 0 {
		maxWidth = DefaultMaxWidth
	}

	bounds := src.Bounds()
	bmp, scale := Resize(src, maxWidth)

	if cfg.ToGray {
		Grayscale(bmp)
	}

	threshold := -1
	if cfg.Binarize {
		threshold = Binarize(bmp)
	}

	if cfg.Sharpen {
		Sharpen(bmp)
	}

	encoded, err := Encode(bmp)
	if err != nil {
		return nil, fmt.Errorf("failed to encode normalized image: %w", err)
	}

	return &Result{
		Bitmap:       bmp,
		Encoded:      encoded,
		Preview:      encoded,
		ContentType:  ContentTypePNG,
		SourceWidth:  bounds.Dx(),
		SourceHeight: bounds.Dy(),
		Scale:        scale,
		Threshold:    threshold,
	}, nil
}

// Decode parses raw image bytes, applying EXIF orientation.
func Decode(raw []byte) (image.Image, error) {
	if len(raw) == 0 {
		return nil, errors.NewDecodeError("", fmt.Errorf("empty input"))
	}

	img, err := imaging.Decode(bytes.NewReader(raw), imaging.AutoOrientation(true))
	if err != nil {
		return nil, errors.NewDecodeError("", err)
	}

	if b := img.Bounds(); b.Dx() < 1 || b.Dy() < 1 {
		return nil, errors.NewDecodeError("", fmt.Errorf("image has no pixels (%dx%d)", b.Dx(), b.Dy()))
	}

	return img, nil
}

// Resize downscales src so its width does not exceed maxWidth. It never
// upscales. The returned scale is min(1, maxWidth/width).
func Resize(src image.Image, maxWidth int) (*Bitmap, float64) {
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()

	scale := math.Min(1, float64(maxWidth)/float64(w))
	nw := max(1, int(math.Round(float64(w)*scale)))
	nh := max(1, int(math.Round(float64(h)*scale)))

	if nw == w && nh == h {
		return FromImage(src), scale
	}

	dst := image.NewNRGBA(image.Rect(0, 0, nw, nh))
	draw.BiLinear.Scale(dst, dst.Bounds(), src, b, draw.Src, nil)
	return &Bitmap{Width: nw, Height: nh, Pix: dst.Pix}, scale
}

// Grayscale replaces R, G and B with BT.709 luminance, rounded to nearest.
func Grayscale(b *Bitmap) {
	p := b.Pix
	for i := 0; i < len(p); i += 4 {
		y := 0.2126*float64(p[i]) + 0.7152*float64(p[i+1]) + 0.0722*float64(p[i+2])
		v := clamp(int(math.Round(y)))
		p[i], p[i+1], p[i+2] = v, v, v
	}
}

// Encode writes the bitmap as PNG.
func Encode(b *Bitmap) ([]byte, error) {
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, b.Image(), imaging.PNG); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func clamp(v int) uint8 {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return uint8(v)
}
