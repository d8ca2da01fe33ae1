package normalize

import (
	"fmt"
	"image"

	"golang.org/x/image/draw"
)

// Bitmap is a decoded pixel buffer of non-premultiplied RGBA quadruplets.
// len(Pix) == Width*Height*4 always holds.
type Bitmap struct {
	Width  int
	Height int
	Pix    []uint8
}

// NewBitmap allocates a zeroed bitmap.
func NewBitmap(width, height int) (*Bitmap, error) {
	if width < 1 || height < 1 {
		return nil, fmt.Errorf("bitmap dimensions must be positive, got %dx%d", width, height)
	}
	return &Bitmap{
		Width:  width,
		Height: height,
		Pix:    make([]uint8, width*height*4),
	}, nil
}

// FromImage copies img into a new Bitmap.
func FromImage(img image.Image) *Bitmap {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()

	if n, ok := img.(*image.NRGBA); ok && n.Stride == w*4 && b.Min == (image.Point{}) {
		return &Bitmap{Width: w, Height: h, Pix: append([]uint8(nil), n.Pix[:w*h*4]...)}
	}

	dst := image.NewNRGBA(image.Rect(0, 0, w, h))
	draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Src)
	return &Bitmap{Width: w, Height: h, Pix: dst.Pix}
}

// Image returns a copy of the bitmap as an *image.NRGBA.
func (b *Bitmap) Image() *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, b.Width, b.Height))
	copy(img.Pix, b.Pix)
	return img
}

// Clone returns a deep copy.
func (b *Bitmap) Clone() *Bitmap {
	return &Bitmap{Width: b.Width, Height: b.Height, Pix: append([]uint8(nil), b.Pix...)}
}

// Valid reports whether the buffer matches the dimensions.
func (b *Bitmap) Valid() bool {
	return b != nil && b.Width > 0 && b.Height > 0 && len(b.Pix) == b.Width*b.Height*4
}

// Offset returns the index of the red channel of pixel (x, y).
func (b *Bitmap) Offset(x, y int) int {
	return (y*b.Width + x) * 4
}
