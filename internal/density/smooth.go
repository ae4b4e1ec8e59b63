package density

import "math"

// gaussian kernels are cut off at this many standard deviations
const truncate = 4.0

// Smooth applies a one-dimensional gaussian filter with standard deviation
// sigma (in samples) to xs. Samples beyond the ends are mirrored about the
// boundary (d c b a | a b c d | d c b a). sigma <= 0 returns a copy.
func Smooth(xs []float64, sigma float64) []float64 {
	out := append([]float64(nil), xs...)
	if sigma <= 0 || len(xs) < 2 {
		return out
	}

	radius := int(truncate*sigma + 0.5)
	weights := make([]float64, 2*radius+1)
	sum := 0.0
	for i := -radius; i <= radius; i++ {
		w := math.Exp(-0.5 * float64(i*i) / (sigma * sigma))
		weights[i+radius] = w
		sum += w
	}
	for i := range weights {
		weights[i] /= sum
	}

	n := len(xs)
	for i := range xs {
		acc := 0.0
		for j := -radius; j <= radius; j++ {
			acc += weights[j+radius] * xs[reflect(i+j, n)]
		}
		out[i] = acc
	}
	return out
}

func reflect(i, n int) int {
	period := 2 * n
	m := i % period
	if m < 0 {
		m += period
	}
	if m >= n {
		m = period - 1 - m
	}
	return m
}
