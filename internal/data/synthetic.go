package data

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"math/rand"
	"strings"
	"time"

	"github.com/contactkeval/option-density/internal/pricing"
)

// SyntheticSmile maps a strike to the volatility quoted there.
type SyntheticSmile func(strike float64) float64

// SyntheticConfig parameterises the synthetic market. Zero fields take the
// defaults noted on each.
type SyntheticConfig struct {
	Spot       float64        // 100
	Rate       float64        // 0
	Smile      SyntheticSmile // flat 0.2
	StrikeStep float64        // 1
	Width      float64        // strikes span Spot*(1±Width), default 0.5
	Spread     float64        // bid/ask width around the model price, default 0
	AsOf       time.Time      // quote date, default today UTC
	Seed       int64          // bar walk seed

	// Levels overrides the starting bar level per ticker, e.g. {"VIX": 18}.
	Levels map[string]float64
}

// synthDataProvider implements Provider generating Black-Scholes chains and
// seeded random-walk bars.
type synthDataProvider struct {
	cfg       SyntheticConfig
	secondary Provider
}

func NewSyntheticProvider(cfg SyntheticConfig) Provider {
	if cfg.Spot <= 0 {
		cfg.Spot = 100
	}
	if cfg.Smile == nil {
		cfg.Smile = func(float64) float64 { return 0.2 }
	}
	if cfg.StrikeStep <= 0 {
		cfg.StrikeStep = 1
	}
	if cfg.Width <= 0 || cfg.Width >= 1 {
		cfg.Width = 0.5
	}
	if cfg.AsOf.IsZero() {
		y, m, d := time.Now().UTC().Date()
		cfg.AsOf = time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	}
	return &synthDataProvider{cfg: cfg}
}

func (synthDataProv *synthDataProvider) Secondary() Provider {
	return synthDataProv.secondary
}

// GetChain prices every strike on the grid with the configured smile. The
// mid of each quote equals its model price.
func (synthDataProv *synthDataProvider) GetChain(ctx context.Context, underlying string, expiry time.Time, right pricing.Right) ([]pricing.OptionQuote, error) {
	cfg := synthDataProv.cfg
	T := expiry.Sub(cfg.AsOf).Hours() / 24 / 365
	if T <= 0 {
		return nil, fmt.Errorf("synthetic chain: expiry %s not after %s", expiry.Format("2006-01-02"), cfg.AsOf.Format("2006-01-02"))
	}

	lo := math.Ceil(cfg.Spot*(1-cfg.Width)/cfg.StrikeStep) * cfg.StrikeStep
	hi := cfg.Spot * (1 + cfg.Width)

	var out []pricing.OptionQuote
	for i := 0; ; i++ {
		k := lo + float64(i)*cfg.StrikeStep
		if k > hi+1e-9 {
			break
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		px := pricing.BlackScholesPrice(right.IsCall(), cfg.Spot, k, T, cfg.Rate, cfg.Smile(k))
		half := math.Min(cfg.Spread/2, px)
		out = append(out, pricing.OptionQuote{Strike: k, Bid: px - half, Ask: px + half, Right: right})
	}
	return out, nil
}

func (synthDataProv *synthDataProvider) GetSpot(ctx context.Context, underlying string, asOf time.Time) (float64, error) {
	return synthDataProv.level(underlying), nil
}

// GetBars walks a geometric Brownian motion over weekdays in [fromDate, toDate].
// The walk is reproducible for a given seed and ticker.
func (synthDataProv *synthDataProvider) GetBars(ctx context.Context, underlying string, fromDate, toDate time.Time) ([]Bar, error) {
	h := fnv.New64a()
	_, _ = h.Write([]byte(strings.ToUpper(underlying)))
	rng := rand.New(rand.NewSource(synthDataProv.cfg.Seed ^ int64(h.Sum64())))

	const dailyVol = 0.01
	price := synthDataProv.level(underlying)

	var out []Bar
	for cur := fromDate; !cur.After(toDate); cur = cur.AddDate(0, 0, 1) {
		if cur.Weekday() == time.Saturday || cur.Weekday() == time.Sunday {
			continue
		}
		open := price
		close := open * math.Exp(rng.NormFloat64()*dailyVol-0.5*dailyVol*dailyVol)
		high := math.Max(open, close) * (1 + math.Abs(rng.NormFloat64())*0.002)
		low := math.Min(open, close) * (1 - math.Abs(rng.NormFloat64())*0.002)
		out = append(out, Bar{Date: cur, Open: open, High: high, Low: low, Close: close, Vol: float64(1000 + rng.Intn(5000))})
		price = close
	}
	return out, nil
}

func (synthDataProv *synthDataProvider) level(underlying string) float64 {
	if lvl, ok := synthDataProv.cfg.Levels[strings.ToUpper(underlying)]; ok && lvl > 0 {
		return lvl
	}
	return synthDataProv.cfg.Spot
}
