package kde

import (
	"fmt"
	"math"

	"github.com/contactkeval/option-density/internal/data"
	"github.com/contactkeval/option-density/internal/logger"
)

// Volatility regimes bucket returns by the VIX level on the same day.
const (
	DefaultRegimeWidth   = 8.0
	DefaultRegimeBuckets = 6
	DefaultMinSamples    = 30
)

// Regime returns min(int(vix/width), buckets-1), or -1 for an unusable level.
func Regime(vix, width float64, buckets int) int {
	if !(vix >= 0) || math.IsInf(vix, 0) || !(width > 0) || buckets < 1 {
		return -1
	}
	b := int(vix / width)
	if b > buckets-1 {
		b = buckets - 1
	}
	return b
}

// BucketByRegime splits returns by the VIX level observed on the same day.
// returns and vix must be aligned index by index.
func BucketByRegime(returns, vix []float64, width float64, buckets int) ([][]float64, error) {
	if len(returns) != len(vix) {
		return nil, fmt.Errorf("bucket by regime: %d returns, %d vix levels", len(returns), len(vix))
	}
	if buckets < 1 || !(width > 0) {
		return nil, fmt.Errorf("bucket by regime: width=%v buckets=%d", width, buckets)
	}

	out := make([][]float64, buckets)
	for i, r := range returns {
		b := Regime(vix[i], width, buckets)
		if b < 0 {
			continue
		}
		out[b] = append(out[b], r)
	}
	return out, nil
}

// RegimeModels fits a model for every bucket holding more than minSamples
// returns, keyed by bucket index.
func RegimeModels(buckets [][]float64, minSamples int) map[int]*Model {
	out := map[int]*Model{}
	for i, rets := range buckets {
		if len(rets) <= minSamples {
			logger.Debugf("regime %d: %d samples, skipped", i, len(rets))
			continue
		}
		m, err := NewModel(rets)
		if err != nil {
			logger.Warnf("regime %d: %v", i, err)
			continue
		}
		out[i] = m
	}
	return out
}

// RegimeSeries pairs each daily log return of bars with the VIX close on the
// return's date, or the last one before it. Returns without a VIX level are
// dropped.
func RegimeSeries(bars, vixBars []data.Bar) (returns, vix []float64) {
	for i := 1; i < len(bars); i++ {
		prev, cur := bars[i-1].Close, bars[i].Close
		if prev <= 0 || cur <= 0 {
			continue
		}
		level, ok := data.CloseOn(vixBars, bars[i].Date, data.MatchLower)
		if !ok {
			continue
		}
		returns = append(returns, math.Log(cur/prev))
		vix = append(vix, level)
	}
	return returns, vix
}
