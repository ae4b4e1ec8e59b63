package kde

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/integrate/quad"
)

// Default integration bounds over log returns and nodes per kernel width.
const (
	DefaultLower = -2.0
	DefaultUpper = 2.0
	DefaultNodes = 16
)

// Model prices options as the expected payoff over a return density:
//
//	call(K, S) = ∫ f(x)·max(S·e^x - K, 0) dx
//	put(K, S)  = ∫ f(x)·max(K - S·e^x, 0) dx
//
// over [Lower, Upper]. Prices are not discounted.
type Model struct {
	KDE   *Gaussian
	Lower float64
	Upper float64
	// Nodes is the Gauss-Legendre order used on each bandwidth-wide panel.
	Nodes int
}

// NewModel fits a model to a series of log returns.
func NewModel(returns []float64) (*Model, error) {
	g, err := NewGaussian(returns)
	if err != nil {
		return nil, err
	}
	return &Model{KDE: g, Lower: DefaultLower, Upper: DefaultUpper, Nodes: DefaultNodes}, nil
}

func (m *Model) CallTheo(strike, spot float64) float64 {
	kink := logMoneyness(strike, spot)
	return m.integrate(kink, m.Upper, func(x float64) float64 {
		return math.Max(spot*math.Exp(x)-strike, 0)
	})
}

func (m *Model) PutTheo(strike, spot float64) float64 {
	kink := logMoneyness(strike, spot)
	return m.integrate(m.Lower, kink, func(x float64) float64 {
		return math.Max(strike-spot*math.Exp(x), 0)
	})
}

// Theo dispatches on side.
func (m *Model) Theo(strike, spot float64, isCall bool) float64 {
	if isCall {
		return m.CallTheo(strike, spot)
	}
	return m.PutTheo(strike, spot)
}

// integrate ∫ f(x)·payoff(x) dx over [lo, hi] clipped to the model bounds
// and the density support. The interval is split into panels one bandwidth
// wide so the kernels are resolved.
func (m *Model) integrate(lo, hi float64, payoff func(float64) float64) float64 {
	slo, shi := m.KDE.Support()
	lo = math.Max(lo, math.Max(m.Lower, slo))
	hi = math.Min(hi, math.Min(m.Upper, shi))
	if !(hi > lo) {
		return 0
	}

	nodes := m.Nodes
	if nodes <= 0 {
		nodes = DefaultNodes
	}
	f := func(x float64) float64 { return m.KDE.Evaluate(x) * payoff(x) }

	panels := int(math.Ceil((hi - lo) / m.KDE.Bandwidth()))
	width := (hi - lo) / float64(panels)
	total := 0.0
	for i := 0; i < panels; i++ {
		a := lo + float64(i)*width
		total += quad.Fixed(f, a, a+width, nodes, nil, 0)
	}
	return total
}

// logMoneyness is ln(K/S), the return at which the payoff kinks. Degenerate
// strikes or spots put the kink at -Inf so calls integrate everything.
func logMoneyness(strike, spot float64) float64 {
	if !(strike > 0) || !(spot > 0) {
		return math.Inf(-1)
	}
	return math.Log(strike / spot)
}

// Pricer binds a Model to a spot price.
type Pricer struct {
	Model *Model
	Spot  float64
}

func (p Pricer) Theo(strike float64, isCall bool) (float64, error) {
	if p.Model == nil || !(p.Spot > 0) {
		return 0, fmt.Errorf("kde pricer: model=%v spot=%v", p.Model != nil, p.Spot)
	}
	return p.Model.Theo(strike, p.Spot, isCall), nil
}
