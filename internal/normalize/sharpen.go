package normalize

var sharpenKernel = [9]int{
	0, -1, 0,
	-1, 5, -1,
	0, -1, 0,
}

// Sharpen convolves R, G and B with a 3x3 sharpening kernel. Reads come from a
// snapshot of the input so written pixels never feed their neighbours. Border
// pixels are left as they were.
func Sharpen(b *Bitmap) {
	if b.Width < 3 || b.Height < 3 {
		return
	}

	src := append([]uint8(nil), b.Pix...)
	w := b.Width

	for y := 1; y < b.Height-1; y++ {
		for x := 1; x < w-1; x++ {
			for c := 0; c < 3; c++ {
				var val, k int
				for ky := -1; ky <= 1; ky++ {
					for kx := -1; kx <= 1; kx++ {
						val += int(src[((y+ky)*w+(x+kx))*4+c]) * sharpenKernel[k]
						k++
					}
				}
				b.Pix[(y*w+x)*4+c] = clamp(val)
			}
		}
	}
}
