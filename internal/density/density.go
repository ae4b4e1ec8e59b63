package density

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/integrate"

	"github.com/contactkeval/option-density/internal/pricing"
)

// DefaultEdgeWidth is the number of points at each end of a Curve whose
// second derivative relies on one-sided differences.
const DefaultEdgeWidth = 2

// spacing tolerance relative to the grid step
const spacingTol = 1e-6

// Curve is a risk-neutral density sampled on an evenly spaced strike grid.
// Density values may be slightly negative where the inputs are noisy; they are
// reported as computed.
type Curve struct {
	Strikes      []float64 `json:"strikes"`
	Density      []float64 `json:"density"`
	CallPrices   []float64 `json:"call_prices"`
	Vols         []float64 `json:"vols"`
	Extrapolated []bool    `json:"extrapolated"`
	EdgeWidth    int       `json:"edge_width"`

	Spot float64 `json:"spot"`
	T    float64 `json:"time_to_expiry"`
	Rate float64 `json:"rate"`
}

// StrikeGrid returns lo, lo+step, ... up to but excluding hi.
func StrikeGrid(lo, hi, step float64) ([]float64, error) {
	if !finite(lo) || !finite(hi) || !finite(step) || step <= 0 || hi <= lo {
		return nil, fmt.Errorf("%w: strike grid lo=%v hi=%v step=%v", ErrDegenerateInput, lo, hi, step)
	}

	n := int(math.Ceil((hi-lo)/step - spacingTol))
	grid := make([]float64, n)
	for i := range grid {
		grid[i] = lo + float64(i)*step
	}
	return grid, nil
}

// Evaluate prices calls along the smile at every strike, differentiates the
// prices twice with respect to strike and scales by e^{rT}.
//
// strikes must be evenly spaced and contain at least three points. The first
// and last DefaultEdgeWidth densities are low confidence, as are points where
// the smile was extrapolated.
func Evaluate(strikes []float64, S float64, smile *Smile, T, r float64) (*Curve, error) {
	if smile == nil {
		return nil, fmt.Errorf("%w: nil smile", ErrDegenerateInput)
	}
	if !(S > 0) || !(T > 0) || !finite(r) {
		return nil, fmt.Errorf("%w: spot=%v T=%v r=%v", ErrDegenerateInput, S, T, r)
	}
	h, err := gridStep(strikes)
	if err != nil {
		return nil, err
	}

	n := len(strikes)
	c := &Curve{
		Strikes:      append([]float64(nil), strikes...),
		CallPrices:   make([]float64, n),
		Vols:         smile.Vols(strikes),
		Extrapolated: make([]bool, n),
		EdgeWidth:    DefaultEdgeWidth,
		Spot:         S,
		T:            T,
		Rate:         r,
	}
	for i, k := range strikes {
		c.CallPrices[i] = pricing.CallPrice(S, k, T, r, c.Vols[i])
		c.Extrapolated[i] = !smile.InDomain(k)
	}

	second := gradient(gradient(c.CallPrices, h), h)
	growth := math.Exp(r * T)
	c.Density = make([]float64, n)
	for i := range second {
		c.Density[i] = growth * second[i]
	}

	return c, nil
}

// gridStep validates a finite, positive, evenly spaced grid and returns the step.
func gridStep(strikes []float64) (float64, error) {
	if len(strikes) < 3 {
		return 0, fmt.Errorf("%w: need at least 3 strikes, got %d", ErrDegenerateInput, len(strikes))
	}
	for i, k := range strikes {
		if !finite(k) {
			return 0, fmt.Errorf("%w: strike %v at %d", ErrDegenerateInput, k, i)
		}
	}
	if !(strikes[0] > 0) {
		return 0, fmt.Errorf("%w: non-positive strike %v", ErrDegenerateInput, strikes[0])
	}
	h := strikes[1] - strikes[0]
	if !(h > 0) {
		return 0, fmt.Errorf("%w: strikes not increasing", ErrDegenerateInput)
	}
	for i := 2; i < len(strikes); i++ {
		if math.Abs((strikes[i]-strikes[i-1])-h) > spacingTol*h+1e-12 {
			return 0, fmt.Errorf("%w: strikes not evenly spaced at %d", ErrDegenerateInput, i)
		}
	}
	return h, nil
}

// gradient uses central differences inside and second-order one-sided
// differences at the ends, like np.gradient with edge_order=2. f needs at
// least three points.
func gradient(f []float64, h float64) []float64 {
	n := len(f)
	out := make([]float64, n)
	out[0] = (-1.5*f[0] + 2*f[1] - 0.5*f[2]) / h
	out[n-1] = (0.5*f[n-3] - 2*f[n-2] + 1.5*f[n-1]) / h
	for i := 1; i < n-1; i++ {
		out[i] = (f[i+1] - f[i-1]) / (2 * h)
	}
	return out
}

// Len is the number of grid points.
func (c *Curve) Len() int { return len(c.Strikes) }

// Step is the grid spacing.
func (c *Curve) Step() float64 {
	if c.Len() < 2 {
		return 0
	}
	return c.Strikes[1] - c.Strikes[0]
}

// LowConfidence reports whether point i is near a grid edge or extrapolated.
func (c *Curve) LowConfidence(i int) bool {
	return i < c.EdgeWidth || i >= c.Len()-c.EdgeWidth || c.Extrapolated[i]
}

// Integral is the trapezoid integral of the density over the grid. For a
// well-behaved chain covering the bulk of the distribution it is close to 1.
func (c *Curve) Integral() float64 {
	if c.Len() < 2 {
		return 0
	}
	return integrate.Trapezoidal(c.Strikes, c.Density)
}

// Mean is the density-weighted mean strike, normalised by Integral.
func (c *Curve) Mean() float64 {
	mass := c.Integral()
	if mass == 0 {
		return math.NaN()
	}
	weighted := make([]float64, c.Len())
	for i, k := range c.Strikes {
		weighted[i] = k * c.Density[i]
	}
	return integrate.Trapezoidal(c.Strikes, weighted) / mass
}

// ExpectedPayoff integrates the option payoff against the density. Mass
// outside the grid is not accounted for.
func (c *Curve) ExpectedPayoff(strike float64, isCall bool) float64 {
	if c.Len() < 2 {
		return 0
	}
	weighted := make([]float64, c.Len())
	for i, k := range c.Strikes {
		weighted[i] = pricing.Intrinsic(isCall, k, strike) * c.Density[i]
	}
	return integrate.Trapezoidal(c.Strikes, weighted)
}

// Theo is the discounted expected payoff. It makes a Curve usable wherever a
// theoretical price source is expected.
func (c *Curve) Theo(strike float64, isCall bool) (float64, error) {
	if c.Len() < 2 {
		return 0, errors.New("density: empty curve")
	}
	return math.Exp(-c.Rate*c.T) * c.ExpectedPayoff(strike, isCall), nil
}
