// Package kde prices options off an empirical distribution of log returns,
// smoothed with a gaussian kernel density estimate.
package kde

import (
	"errors"
	"fmt"
	"math"

	"github.com/montanaflynn/stats"
)

// ErrInsufficientSamples is returned when a density cannot be fitted.
var ErrInsufficientSamples = errors.New("kde: insufficient samples")

// supportWidth is how many bandwidths past the extreme samples the density
// is treated as nonzero.
const supportWidth = 8

// varianceTol is the relative sample sd below which samples count as constant.
const varianceTol = 1e-12

// Gaussian is a one-dimensional gaussian KDE with Scott's rule bandwidth.
type Gaussian struct {
	samples   []float64
	bandwidth float64
	lo, hi    float64
}

// NewGaussian fits a density to the finite values in samples. The bandwidth
// is the sample standard deviation times n^(-1/5).
func NewGaussian(samples []float64) (*Gaussian, error) {
	clean := make([]float64, 0, len(samples))
	for _, x := range samples {
		if !math.IsNaN(x) && !math.IsInf(x, 0) {
			clean = append(clean, x)
		}
	}
	if len(clean) < 2 {
		return nil, fmt.Errorf("%w: %d finite samples", ErrInsufficientSamples, len(clean))
	}

	data := stats.Float64Data(clean)
	sd, err := stats.StandardDeviationSample(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInsufficientSamples, err)
	}
	lo, _ := data.Min()
	hi, _ := data.Max()
	mean, _ := data.Mean()
	// identical samples leave rounding noise in sd
	if lo == hi || !(sd > varianceTol*math.Max(1, math.Abs(mean))) {
		return nil, fmt.Errorf("%w: zero variance", ErrInsufficientSamples)
	}

	h := sd * math.Pow(float64(len(clean)), -0.2)
	return &Gaussian{
		samples:   clean,
		bandwidth: h,
		lo:        lo - supportWidth*h,
		hi:        hi + supportWidth*h,
	}, nil
}

func (g *Gaussian) Bandwidth() float64 { return g.bandwidth }

func (g *Gaussian) Len() int { return len(g.samples) }

// Samples returns a copy of the fitted samples.
func (g *Gaussian) Samples() []float64 {
	return append([]float64(nil), g.samples...)
}

// Support is the interval outside which the density is negligible.
func (g *Gaussian) Support() (lo, hi float64) { return g.lo, g.hi }

// Evaluate returns the estimated density at x.
func (g *Gaussian) Evaluate(x float64) float64 {
	h := g.bandwidth
	norm := 1 / (float64(len(g.samples)) * h * math.Sqrt(2*math.Pi))
	sum := 0.0
	for _, xi := range g.samples {
		z := (x - xi) / h
		sum += math.Exp(-0.5 * z * z)
	}
	return sum * norm
}
