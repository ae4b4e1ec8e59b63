package data

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/polygon-io/client-go/rest/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/contactkeval/option-density/internal/pricing"
)

func day(d int) time.Time {
	return time.Date(2025, 1, d, 0, 0, 0, 0, time.UTC)
}

func TestNewProvider(t *testing.T) {
	for _, name := range []string{"massive", "polygon", "csv", "local", "synthetic", ""} {
		prov, err := NewProvider(name, t.TempDir(), nil)
		require.NoError(t, err, name)
		assert.NotNil(t, prov, name)
	}

	_, err := NewProvider("bloomberg", "", nil)
	assert.Error(t, err)

	secondary := NewSyntheticProvider(SyntheticConfig{})
	prov, err := NewProvider("massive", "", secondary)
	require.NoError(t, err)
	assert.Equal(t, secondary, prov.Secondary())
}

func TestFilterQuotes(t *testing.T) {
	in := []pricing.OptionQuote{
		{Strike: 110, Bid: 1, Ask: 1.2},
		{Strike: 90, Bid: 10, Ask: 10.4},
		{Strike: 100, Bid: 0, Ask: 0},
		{Strike: 0, Bid: 1, Ask: 1},
		{Strike: 95, Bid: 0, Ask: 0.1},
	}
	out := FilterQuotes(in)
	require.Len(t, out, 3)
	assert.Equal(t, []float64{90, 95, 110}, []float64{out[0].Strike, out[1].Strike, out[2].Strike})
}

func TestMatchBarDate(t *testing.T) {
	dates := []time.Time{day(6), day(2), day(3)}

	tests := []struct {
		name   string
		target time.Time
		mode   DateMatchType
		want   time.Time
	}{
		{name: "exact hit", target: day(3), mode: MatchExact, want: day(3)},
		{name: "exact miss", target: day(4), mode: MatchExact},
		{name: "lower", target: day(5), mode: MatchLower, want: day(3)},
		{name: "lower includes exact", target: day(6), mode: MatchLower, want: day(6)},
		{name: "lower none", target: day(1), mode: MatchLower},
		{name: "higher", target: day(4), mode: MatchHigher, want: day(6)},
		{name: "higher none", target: day(7), mode: MatchHigher},
		{name: "nearest lower", target: day(4), mode: MatchNearest, want: day(3)},
		{name: "nearest", target: day(5), mode: MatchNearest, want: day(6)},
		{name: "unknown mode is nearest", target: day(1), mode: "sideways", want: day(2)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, MatchBarDate(tt.target, dates, tt.mode))
		})
	}
}

func TestCloseOn(t *testing.T) {
	bars := []Bar{{Date: day(2), Close: 10}, {Date: day(3), Close: 11}}

	c, ok := CloseOn(bars, day(5), MatchLower)
	assert.True(t, ok)
	assert.Equal(t, 11.0, c)

	_, ok = CloseOn(bars, day(1), MatchLower)
	assert.False(t, ok)
}

func TestClosestAndATM(t *testing.T) {
	_, ok := Closest(nil, 1)
	assert.False(t, ok)

	list := []float64{90, 95, 100, 105}
	for target, want := range map[float64]float64{50: 90, 97.4: 95, 97.5: 100, 103: 105, 500: 105} {
		got, ok := Closest(list, target)
		assert.True(t, ok)
		assert.Equal(t, want, got, "target %v", target)
	}

	quotes := []pricing.OptionQuote{{Strike: 105}, {Strike: 95}, {Strike: 100}}
	atm, ok := ATMStrike(quotes, 101.2)
	assert.True(t, ok)
	assert.Equal(t, 100.0, atm)
}

func TestOptionSymbolFromParts(t *testing.T) {
	assert.Equal(t, "O:SPY250117C00580000", OptionSymbolFromParts("spy", expiryDate, pricing.Call, 580))
	assert.Equal(t, "O:SPY250117P00582500", OptionSymbolFromParts("SPY", expiryDate, pricing.Put, 582.5))
}

func TestLogReturns(t *testing.T) {
	assert.Nil(t, LogReturns([]float64{100}))

	got := LogReturns([]float64{100, 110, 0, 121})
	require.Len(t, got, 1)
	assert.InDelta(t, 0.0953101798, got[0], 1e-9)
}

func TestAlignChainsRejectsMisalignedSeries(t *testing.T) {
	dates := []time.Time{day(2), day(3), day(6)}
	obs := func(mids map[int]float64, order ...int) []Observation {
		out := make([]Observation, 0, len(order))
		for _, d := range order {
			out = append(out, Observation{Date: day(d), Mid: mids[d]})
		}
		return out
	}
	series := map[float64][]Observation{
		100: obs(map[int]float64{2: 5, 3: 5.5, 6: 6}, 6, 2, 3),
		95:  obs(map[int]float64{2: 8, 3: 8.2}, 2, 3),
		105: obs(map[int]float64{2: 2, 3: 2.1, 6: 2.4}, 2, 3, 6),
		110: obs(map[int]float64{2: 1, 3: 1}, 2, 2, 3),
		115: obs(map[int]float64{2: 1, 3: 1, 6: 1, 7: 1}, 2, 3, 6, 7),
	}

	aligned, rejected, err := AlignChains(dates, series)
	require.NoError(t, err)

	assert.Equal(t, []float64{100, 105}, aligned.Strikes)
	assert.Equal(t, []float64{5, 5.5, 6}, aligned.Mids[0], "out of order observations land on their dates")
	assert.Equal(t, []float64{2, 2.1, 2.4}, aligned.Mids[1])

	require.Len(t, rejected, 3)
	assert.Equal(t, Rejection{Strike: 95, Reason: ReasonMissingDate, Date: day(6)}, rejected[0])
	assert.Equal(t, Rejection{Strike: 110, Reason: ReasonDuplicateDate, Date: day(2)}, rejected[1])
	assert.Equal(t, Rejection{Strike: 115, Reason: ReasonUnknownDate, Date: day(7)}, rejected[2])
	assert.ErrorIs(t, rejected[0], ErrMisaligned)
	assert.Contains(t, rejected[1].Error(), "duplicate date 2025-01-02")

	chain := aligned.ChainOn(2)
	require.Len(t, chain, 2)
	assert.Equal(t, 6.0, chain[0].Mid())
	assert.Nil(t, aligned.ChainOn(3))

	_, rejected, err = AlignChains(dates, map[float64][]Observation{100: obs(map[int]float64{2: 1}, 2)})
	assert.ErrorIs(t, err, ErrMisaligned)
	assert.Len(t, rejected, 1)
}

type countingProvider struct {
	Provider
	calls int
}

func (c *countingProvider) GetBars(ctx context.Context, underlying string, from, to time.Time) ([]Bar, error) {
	c.calls++
	return c.Provider.GetBars(ctx, underlying, from, to)
}

func TestSeriesCache(t *testing.T) {
	prov := &countingProvider{Provider: NewSyntheticProvider(SyntheticConfig{Levels: map[string]float64{"VIX": 18}})}
	cache := NewSeriesCache(prov, day(1), day(31), time.Hour)

	clock := day(1)
	cache.now = func() time.Time { return clock }

	first, err := cache.Bars(context.Background(), "VIX")
	require.NoError(t, err)
	require.NotEmpty(t, first)
	assert.Equal(t, 18.0, first[0].Open)

	_, err = cache.Bars(context.Background(), "vix")
	require.NoError(t, err)
	assert.Equal(t, 1, prov.calls, "second read is served from cache")

	clock = clock.Add(2 * time.Hour)
	again, err := cache.Bars(context.Background(), "VIX")
	require.NoError(t, err)
	assert.Equal(t, 2, prov.calls, "stale entry is reloaded")
	assert.Equal(t, first, again, "synthetic walk is deterministic")
}

func TestSyntheticChainPricesAtModel(t *testing.T) {
	prov := NewSyntheticProvider(SyntheticConfig{
		Spot:       100,
		Rate:       0.01,
		StrikeStep: 5,
		Spread:     0.1,
		AsOf:       day(2),
		Smile:      func(k float64) float64 { return 0.2 + 0.001*(100-k) },
	})
	expiry := day(2).AddDate(0, 0, 365)

	for _, right := range []pricing.Right{pricing.Call, pricing.Put} {
		quotes, err := prov.GetChain(context.Background(), "SPY", expiry, right)
		require.NoError(t, err)
		require.Len(t, quotes, 21)
		assert.Equal(t, 50.0, quotes[0].Strike)
		assert.Equal(t, 150.0, quotes[20].Strike)

		for _, q := range quotes {
			want := pricing.BlackScholesPrice(right.IsCall(), 100, q.Strike, 1, 0.01, 0.2+0.001*(100-q.Strike))
			assert.InDelta(t, want, q.Mid(), 1e-9, "K=%v", q.Strike)
			assert.GreaterOrEqual(t, q.Bid, 0.0)
		}
	}

	_, err := prov.GetChain(context.Background(), "SPY", day(1), pricing.Call)
	assert.Error(t, err)
}

func TestSyntheticBarsSkipWeekends(t *testing.T) {
	prov := NewSyntheticProvider(SyntheticConfig{Seed: 7})
	bars, err := prov.GetBars(context.Background(), "SPY", day(1), day(14))
	require.NoError(t, err)
	assert.Len(t, bars, 10)
	for _, b := range bars {
		assert.NotEqual(t, time.Saturday, b.Date.Weekday())
		assert.NotEqual(t, time.Sunday, b.Date.Weekday())
		assert.GreaterOrEqual(t, b.High, b.Low)
	}
}

func TestLocalCSVChainRoundTrip(t *testing.T) {
	dir := t.TempDir()
	prov := NewLocalCSVProvider(dir, nil)

	quotes := []pricing.OptionQuote{
		{Strike: 95, Bid: 7.1, Ask: 7.3, Right: pricing.Put},
		{Strike: 100, Bid: 4.05, Ask: 4.15, Right: pricing.Put},
	}
	require.NoError(t, prov.SaveChain("spy", expiryDate, pricing.Put, quotes))
	assert.FileExists(t, filepath.Join(dir, "SPY_20250117_P.csv"))

	got, err := prov.GetChain(context.Background(), "SPY", expiryDate, pricing.Put)
	require.NoError(t, err)
	assert.Equal(t, quotes, got)

	_, err = prov.GetChain(context.Background(), "SPY", expiryDate, pricing.Call)
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestLocalCSVFallsBackToSecondary(t *testing.T) {
	prov := NewLocalCSVProvider(t.TempDir(), NewSyntheticProvider(SyntheticConfig{AsOf: day(2)}))

	quotes, err := prov.GetChain(context.Background(), "SPY", expiryDate, pricing.Call)
	require.NoError(t, err)
	assert.NotEmpty(t, quotes)
}

func TestLocalCSVBarsAndSpot(t *testing.T) {
	dir := t.TempDir()
	csv := "date,open,high,low,close,volume\n" +
		"2025-01-03,101,102,100,101.5,1000\n" +
		"2025-01-02,100,101,99,100.5,900\n" +
		"2025-01-06,101.5,103,101,102.25,\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "SPY.csv"), []byte(csv), 0o644))

	prov := NewLocalCSVProvider(dir, nil)
	bars, err := prov.GetBars(context.Background(), "spy", day(1), day(5))
	require.NoError(t, err)
	require.Len(t, bars, 2)
	assert.Equal(t, day(2), bars[0].Date)
	assert.Equal(t, 101.5, bars[1].Close)

	spot, err := prov.GetSpot(context.Background(), "SPY", day(7))
	require.NoError(t, err)
	assert.Equal(t, 102.25, spot)
}

func TestLocalCSVLoadHistory(t *testing.T) {
	dir := t.TempDir()
	csv := "date,strike,bid,ask\n" +
		"2025-01-03,100,5.5,5.7\n" +
		"2025-01-02,105,2.0,2.2\n" +
		"2025-01-02,100,5.0,5.2\n" +
		"2025-01-03,105,2.4,2.6\n" +
		"2025-01-03,110,0.9,1.1\n" +
		"2025-01-02,120,0.9,1.1\n" +
		"2025-01-02,120,1.4,1.6\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "SPY_20250117_C_history.csv"), []byte(csv), 0o644))

	aligned, rejected, err := NewLocalCSVProvider(dir, nil).LoadHistory("SPY", expiryDate, pricing.Call)
	require.NoError(t, err)
	assert.Equal(t, []time.Time{day(2), day(3)}, aligned.Dates)
	assert.Equal(t, []float64{100, 105}, aligned.Strikes)
	assert.InDeltaSlice(t, []float64{5.1, 5.6}, aligned.Mids[0], 1e-12)
	assert.InDeltaSlice(t, []float64{2.1, 2.5}, aligned.Mids[1], 1e-12)
	assert.Equal(t, pricing.Call, aligned.Right)

	require.Len(t, rejected, 2)
	assert.Equal(t, Rejection{Strike: 110, Reason: ReasonMissingDate, Date: day(2)}, rejected[0])
	assert.Equal(t, Rejection{Strike: 120, Reason: ReasonDuplicateDate, Date: day(2)}, rejected[1])
}

func TestBarFromAgg(t *testing.T) {
	agg := models.Agg{
		Open:      1,
		High:      2,
		Low:       0.5,
		Close:     1.5,
		Volume:    300,
		Timestamp: models.Millis(time.UnixMilli(1735776000000)),
	}
	b := barFromAgg(agg)
	assert.Equal(t, day(2), b.Date)
	assert.Equal(t, 1.5, b.Close)
	assert.Equal(t, 300.0, b.Vol)
}

func TestPolygonChainWithoutSecondary(t *testing.T) {
	_, err := NewPolygonDataProvider("key", nil).GetChain(context.Background(), "SPY", expiryDate, pricing.Call)
	assert.ErrorIs(t, err, ErrNotImplemented)
}

func TestPolygonGetBarsLive(t *testing.T) {
	key := os.Getenv("POLYGON_API_KEY")
	if key == "" {
		t.Skip("POLYGON_API_KEY not set")
	}

	bars, err := NewPolygonDataProvider(key, nil).GetBars(context.Background(), "AAPL", day(1), day(10))
	require.NoError(t, err)
	require.NotEmpty(t, bars)
	for _, b := range bars {
		assert.False(t, b.Date.Before(day(1)) || b.Date.After(day(11)), "bar date out of range: %v", b.Date)
	}
}
