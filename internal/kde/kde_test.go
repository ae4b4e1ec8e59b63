package kde

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/integrate/quad"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/contactkeval/option-density/internal/data"
)

// normalSamples returns n evenly spaced quantiles of N(mu, sigma).
func normalSamples(n int, mu, sigma float64) []float64 {
	dist := distuv.Normal{Mu: mu, Sigma: sigma}
	out := make([]float64, n)
	for i := range out {
		out[i] = dist.Quantile((float64(i) + 0.5) / float64(n))
	}
	return out
}

// closedFormCall is the exact expected call payoff under a gaussian KDE.
func closedFormCall(g *Gaussian, strike, spot float64) float64 {
	h := g.Bandwidth()
	k := math.Log(strike / spot)
	sum := 0.0
	for _, xi := range g.samples {
		d2 := (xi - k) / h
		d1 := d2 + h
		sum += spot*math.Exp(xi+0.5*h*h)*distuv.UnitNormal.CDF(d1) - strike*distuv.UnitNormal.CDF(d2)
	}
	return sum / float64(len(g.samples))
}

func TestNewGaussianScottBandwidth(t *testing.T) {
	g, err := NewGaussian([]float64{1, 2, 3, 4, 5, math.NaN()})
	require.NoError(t, err)

	assert.Equal(t, 5, g.Len())
	assert.InDelta(t, math.Sqrt(2.5)*math.Pow(5, -0.2), g.Bandwidth(), 1e-12)

	lo, hi := g.Support()
	assert.Less(t, lo, 1.0)
	assert.Greater(t, hi, 5.0)
}

func TestNewGaussianRejects(t *testing.T) {
	tests := map[string][]float64{
		"empty":         nil,
		"single":        {0.01},
		"nan only":      {math.NaN(), math.NaN(), 0.1},
		"zero variance": {0.02, 0.02, 0.02},
		"constant run":  constant(31, 0.01),
		"sum noise":     constant(7, 0.1),
	}
	for name, samples := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := NewGaussian(samples)
			assert.ErrorIs(t, err, ErrInsufficientSamples)
		})
	}

	g, err := NewGaussian([]float64{0, 1e-9, 2e-9})
	require.NoError(t, err, "tiny but real spread is kept")
	assert.InDelta(t, 1e-9*math.Pow(3, -0.2), g.Bandwidth(), 1e-18)
}

func constant(n int, v float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = v
	}
	return out
}

func TestGaussianIntegratesToOne(t *testing.T) {
	g, err := NewGaussian(normalSamples(200, 0.001, 0.012))
	require.NoError(t, err)

	lo, hi := g.Support()
	total := quad.Fixed(g.Evaluate, lo, hi, 400, nil, 0)
	assert.InDelta(t, 1.0, total, 1e-6)

	// symmetric samples give a symmetric density around their mean
	assert.InDelta(t, g.Evaluate(0.001-0.01), g.Evaluate(0.001+0.01), 1e-9)
}

func TestModelMatchesClosedForm(t *testing.T) {
	m, err := NewModel(normalSamples(250, 0.0005, 0.015))
	require.NoError(t, err)

	const spot = 80.07
	for _, k := range []float64{76, 79, 80, 82, 85} {
		want := closedFormCall(m.KDE, k, spot)
		assert.InDelta(t, want, m.CallTheo(k, spot), 1e-6, "K=%v", k)
	}
}

func TestModelPutCallParity(t *testing.T) {
	m, err := NewModel(normalSamples(120, 0, 0.02))
	require.NoError(t, err)

	const spot = 100.0
	h := m.KDE.Bandwidth()
	forward := 0.0
	for _, xi := range m.KDE.Samples() {
		forward += spot * math.Exp(xi+0.5*h*h)
	}
	forward /= float64(m.KDE.Len())

	for _, k := range []float64{90, 100, 110} {
		call := m.Theo(k, spot, true)
		put := m.Theo(k, spot, false)
		assert.InDelta(t, forward-k, call-put, 1e-6, "K=%v", k)
		assert.Greater(t, call, 0.0)
		assert.Greater(t, put, 0.0)
	}

	// far out of the money prices vanish
	assert.InDelta(t, 0, m.CallTheo(1000, spot), 1e-12)
	assert.InDelta(t, 0, m.PutTheo(1, spot), 1e-12)
}

func TestPricer(t *testing.T) {
	m, err := NewModel(normalSamples(60, 0, 0.01))
	require.NoError(t, err)

	p := Pricer{Model: m, Spot: 50}
	got, err := p.Theo(50, true)
	require.NoError(t, err)
	assert.InDelta(t, m.CallTheo(50, 50), got, 1e-15)

	_, err = Pricer{Model: m}.Theo(50, true)
	assert.Error(t, err)
	_, err = Pricer{Spot: 50}.Theo(50, false)
	assert.Error(t, err)
}

func TestRegime(t *testing.T) {
	tests := []struct {
		vix  float64
		want int
	}{
		{vix: 0, want: 0},
		{vix: 7.99, want: 0},
		{vix: 8, want: 1},
		{vix: 19.5, want: 2},
		{vix: 39.9, want: 4},
		{vix: 40, want: 5},
		{vix: 82.7, want: 5},
		{vix: -1, want: -1},
		{vix: math.NaN(), want: -1},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Regime(tt.vix, DefaultRegimeWidth, DefaultRegimeBuckets), "vix=%v", tt.vix)
	}
}

func TestBucketByRegime(t *testing.T) {
	returns := []float64{0.01, -0.02, 0.03, 0.005, -0.001}
	vix := []float64{12, 25, 13, 90, math.NaN()}

	buckets, err := BucketByRegime(returns, vix, DefaultRegimeWidth, DefaultRegimeBuckets)
	require.NoError(t, err)
	require.Len(t, buckets, 6)
	assert.Equal(t, []float64{0.01, 0.03}, buckets[1])
	assert.Equal(t, []float64{-0.02}, buckets[3])
	assert.Equal(t, []float64{0.005}, buckets[5])
	assert.Empty(t, buckets[0])

	_, err = BucketByRegime(returns, vix[:2], DefaultRegimeWidth, DefaultRegimeBuckets)
	assert.Error(t, err)
}

func TestRegimeModels(t *testing.T) {
	buckets := [][]float64{
		normalSamples(30, 0, 0.01), // not more than the minimum
		normalSamples(31, 0, 0.01),
		nil,
		constant(31, 0.01),
	}

	models := RegimeModels(buckets, DefaultMinSamples)
	require.Len(t, models, 1)
	assert.Contains(t, models, 1)
	assert.Equal(t, 31, models[1].KDE.Len())
}

func TestRegimeSeries(t *testing.T) {
	d := func(n int) time.Time { return time.Date(2025, 1, n, 0, 0, 0, 0, time.UTC) }
	bars := []data.Bar{
		{Date: d(2), Close: 100},
		{Date: d(3), Close: 101},
		{Date: d(6), Close: 99},
		{Date: d(7), Close: 100},
	}
	vixBars := []data.Bar{
		{Date: d(3), Close: 17},
		{Date: d(6), Close: 26},
	}

	returns, vix := RegimeSeries(bars, vixBars)
	require.Len(t, returns, 3)
	assert.InDelta(t, math.Log(1.01), returns[0], 1e-12)
	assert.Equal(t, []float64{17, 26, 26}, vix)
}
