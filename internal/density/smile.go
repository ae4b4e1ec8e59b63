// Package density recovers risk-neutral probability densities from option
// volatility smiles using the Breeden-Litzenberger identity
//
//	f(K) = e^{rT} * d²C/dK²
//
// The smile is interpolated in volatility space rather than price space, since
// interpolating prices directly can introduce arbitrage.
//
// Confidence caveats:
//   - Smile values outside the observed strike range are extrapolated and
//     should be treated as low confidence.
//   - The numerical second derivative is unreliable at the first and last
//     EdgeWidth points of a Curve.
package density

import (
	"errors"
	"fmt"
	"math"

	"github.com/montanaflynn/stats"
	"gonum.org/v1/gonum/interp"
)

// ErrDegenerateInput is wrapped by every input validation failure.
var ErrDegenerateInput = errors.New("density: degenerate input")

// MinVol floors interpolated and extrapolated volatilities.
const MinVol = 1e-4

// Smile is a continuous volatility smile built from discrete (strike, iv)
// points. Inside the observed strike range it is a natural cubic spline;
// outside it continues linearly along the end slopes.
type Smile struct {
	strikes []float64
	vols    []float64
	spline  interp.NaturalCubic

	loSlope float64
	hiSlope float64
}

// NewSmile fits a smile through at least three points with strictly
// increasing strikes and finite, non-negative vols.
func NewSmile(strikes, vols []float64) (*Smile, error) {
	if len(strikes) != len(vols) {
		return nil, fmt.Errorf("%w: %d strikes for %d vols", ErrDegenerateInput, len(strikes), len(vols))
	}
	if len(strikes) < 3 {
		return nil, fmt.Errorf("%w: need at least 3 smile points, got %d", ErrDegenerateInput, len(strikes))
	}
	for i := range strikes {
		if !finite(strikes[i]) || strikes[i] <= 0 {
			return nil, fmt.Errorf("%w: strike[%d]=%v", ErrDegenerateInput, i, strikes[i])
		}
		if !finite(vols[i]) || vols[i] < 0 {
			return nil, fmt.Errorf("%w: vol[%d]=%v", ErrDegenerateInput, i, vols[i])
		}
		if i > 0 && strikes[i] <= strikes[i-1] {
			return nil, fmt.Errorf("%w: strikes not strictly increasing at %d", ErrDegenerateInput, i)
		}
	}

	s := &Smile{
		strikes: append([]float64(nil), strikes...),
		vols:    append([]float64(nil), vols...),
	}
	if err := s.spline.Fit(s.strikes, s.vols); err != nil {
		return nil, fmt.Errorf("density: fitting smile: %w", err)
	}

	lo, hi := s.Domain()
	h := 1e-6 * (hi - lo)
	s.loSlope = (s.spline.Predict(lo+h) - s.spline.Predict(lo)) / h
	s.hiSlope = (s.spline.Predict(hi) - s.spline.Predict(hi-h)) / h

	return s, nil
}

// Domain returns the observed strike range.
func (s *Smile) Domain() (lo, hi float64) {
	return s.strikes[0], s.strikes[len(s.strikes)-1]
}

// InDomain reports whether k is interpolated rather than extrapolated.
func (s *Smile) InDomain(k float64) bool {
	lo, hi := s.Domain()
	return k >= lo && k <= hi
}

// Vol evaluates the smile at strike k, never returning less than MinVol.
func (s *Smile) Vol(k float64) float64 {
	lo, hi := s.Domain()

	var v float64
	switch {
	case k < lo:
		v = s.vols[0] + s.loSlope*(k-lo)
	case k > hi:
		v = s.vols[len(s.vols)-1] + s.hiSlope*(k-hi)
	default:
		v = s.spline.Predict(k)
	}
	return math.Max(v, MinVol)
}

// Vols evaluates the smile at every strike in ks.
func (s *Smile) Vols(ks []float64) []float64 {
	out := make([]float64, len(ks))
	for i, k := range ks {
		out[i] = s.Vol(k)
	}
	return out
}

// Points returns copies of the fitted knots.
func (s *Smile) Points() (strikes, vols []float64) {
	return append([]float64(nil), s.strikes...), append([]float64(nil), s.vols...)
}

// Summary describes the fitted knots.
type Summary struct {
	Points int     `json:"points"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
	Mean   float64 `json:"mean"`
	Median float64 `json:"median"`
}

// Summary computes simple statistics over the smile knots.
func (s *Smile) Summary() (Summary, error) {
	data := stats.Float64Data(s.vols)

	min, err := data.Min()
	if err != nil {
		return Summary{}, err
	}
	max, err := data.Max()
	if err != nil {
		return Summary{}, err
	}
	mean, err := data.Mean()
	if err != nil {
		return Summary{}, err
	}
	median, err := data.Median()
	if err != nil {
		return Summary{}, err
	}

	return Summary{Points: len(s.vols), Min: min, Max: max, Mean: mean, Median: median}, nil
}

func finite(x float64) bool {
	return !math.IsNaN(x) && !math.IsInf(x, 0)
}
