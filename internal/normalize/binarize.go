package normalize

// DefaultThreshold is used when no threshold improves the between-class variance.
const DefaultThreshold = 127

// Histogram counts pixel intensities.
type Histogram [256]int

// Total returns the number of samples.
func (h *Histogram) Total() int {
	n := 0
	for _, c := range h {
		n += c
	}
	return n
}

// HistogramOf counts the red channel of every pixel. After Grayscale the red
// channel is the luminance; otherwise it stands in for intensity.
func HistogramOf(b *Bitmap) Histogram {
	var h Histogram
	for i := 0; i < len(b.Pix); i += 4 {
		h[b.Pix[i]]++
	}
	return h
}

// OtsuThreshold picks the threshold that strictly maximizes between-class
// variance, scanning ascending so ties keep the first maximum.
func OtsuThreshold(h Histogram) int {
	total := h.Total()

	var sum float64
	for t, c := range h {
		sum += float64(t) * float64(c)
	}

	var (
		sumB      float64
		wB        int
		best      float64
		threshold = DefaultThreshold
	)

	for t := 0; t < 256; t++ {
		wB += h[t]
		if wB == 0 {
			continue
		}

		wF := total - wB
		if wF == 0 {
			break
		}

		sumB += float64(t) * float64(h[t])

		mB := sumB / float64(wB)
		mF := (sum - sumB) / float64(wF)
		between := float64(wB) * float64(wF) * (mB - mF) * (mB - mF)

		if between > best {
			best = between
			threshold = t
		}
	}

	return threshold
}

// Binarize thresholds the bitmap in place and returns the threshold used.
// R, G and B become 255 above the threshold and 0 otherwise; alpha is kept.
func Binarize(b *Bitmap) int {
	threshold := OtsuThreshold(HistogramOf(b))

	p := b.Pix
	for i := 0; i < len(p); i += 4 {
		var v uint8
		if int(p[i]) > threshold {
			v = 255
		}
		p[i], p[i+1], p[i+2] = v, v, v
	}

	return threshold
}
