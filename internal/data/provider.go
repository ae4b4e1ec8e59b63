// Package data provides market data provider implementations: option chain
// quotes for a single expiry and daily bars for underlyings and indices.
//
// Providers can be chained: when a provider cannot serve a request it
// delegates to its secondary provider, if one is configured.
package data

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/contactkeval/option-density/internal/pricing"
)

// ErrNotImplemented is returned when a provider (and its secondaries) cannot serve a request.
var ErrNotImplemented = errors.New("data: not implemented by provider")

type DateMatchType string

// Provider supplies market data
type Provider interface {
	Secondary() Provider
	GetChain(ctx context.Context, underlying string, expiry time.Time, right pricing.Right) ([]pricing.OptionQuote, error)
	GetSpot(ctx context.Context, underlying string, asOf time.Time) (float64, error)
	GetBars(ctx context.Context, underlying string, fromDate, toDate time.Time) ([]Bar, error)
}

const (
	MatchExact   DateMatchType = "exact"   // must match exactly
	MatchHigher  DateMatchType = "higher"  // first available date on or after target
	MatchLower   DateMatchType = "lower"   // last available date on or before target
	MatchNearest DateMatchType = "nearest" // closest available date (default)
)

// Bar simplified OHLC
type Bar struct {
	Date  time.Time
	Open  float64
	High  float64
	Low   float64
	Close float64
	Vol   float64
}

// NewProvider builds a provider by name: "massive", "polygon", "csv" or
// "synthetic". REST providers read their key from the environment and fall
// back to secondary for anything they cannot serve.
func NewProvider(name, dir string, secondary Provider) (Provider, error) {
	switch strings.ToLower(name) {
	case "massive":
		prov := NewMassiveDataProvider(os.Getenv("MASSIVE_API_KEY"))
		prov.secondary = secondary
		return prov, nil
	case "polygon":
		return NewPolygonDataProvider(os.Getenv("POLYGON_API_KEY"), secondary), nil
	case "csv", "local":
		return NewLocalCSVProvider(dir, secondary), nil
	case "synthetic", "":
		return NewSyntheticProvider(SyntheticConfig{}), nil
	}
	return nil, fmt.Errorf("unknown data provider %q", name)
}

// --------------------------------------------------------------------------------------------
// Helper functions
// --------------------------------------------------------------------------------------------

// FilterQuotes keeps quotes with a positive strike and a positive mid and
// returns them sorted by strike.
func FilterQuotes(quotes []pricing.OptionQuote) []pricing.OptionQuote {
	out := make([]pricing.OptionQuote, 0, len(quotes))
	for _, q := range quotes {
		if q.Valid() {
			out = append(out, q)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Strike < out[j].Strike })
	return out
}

// Closes extracts closing prices in bar order.
func Closes(bars []Bar) []float64 {
	out := make([]float64, 0, len(bars))
	for _, b := range bars {
		out = append(out, b.Close)
	}
	return out
}

// BarDates extracts bar dates in bar order.
func BarDates(bars []Bar) []time.Time {
	out := make([]time.Time, 0, len(bars))
	for _, b := range bars {
		out = append(out, b.Date)
	}
	return out
}

// CloseOn returns the close of the bar selected by MatchBarDate.
func CloseOn(bars []Bar, d time.Time, mode DateMatchType) (float64, bool) {
	match := MatchBarDate(d, BarDates(bars), mode)
	if match.IsZero() {
		return 0, false
	}
	for _, b := range bars {
		if b.Date.Equal(match) {
			return b.Close, true
		}
	}
	return 0, false
}

// OptionSymbolFromParts: improved OCC-like formatter (best-effort)
func OptionSymbolFromParts(underlying string, expiryDate time.Time, right pricing.Right, strike float64) string {
	// OCC: <root><YYMMDD><C|P><strike*1000 padded to 8 digits>
	expDt := expiryDate.UTC().Format("060102")
	optType := "C"
	if !right.IsCall() {
		optType = "P"
	}
	strikeInt := int(math.Round(strike * 1000))
	return fmt.Sprintf("O:%s%s%s%08d", strings.ToUpper(underlying), expDt, optType, strikeInt)
}

func MatchBarDate(d time.Time, dates []time.Time, mode DateMatchType) time.Time {

	// Search useful info
	var (
		exact  time.Time
		lower  time.Time
		higher time.Time
	)

	// default to MatchNearest
	switch mode {
	case MatchExact, MatchHigher, MatchLower, MatchNearest:
		// ok
	default:
		mode = MatchNearest
	}

	sorted := append([]time.Time(nil), dates...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Before(sorted[j]) })

	for _, dt := range sorted {
		if dt.Equal(d) {
			exact = dt
		}
		if dt.Before(d) {
			lower = dt // will keep last < d
		}
		if dt.After(d) && higher.IsZero() {
			higher = dt
		}
	}

	switch mode {

	case MatchExact:
		return exact // may be zero → caller skips it

	case MatchLower:
		if !exact.IsZero() {
			return exact
		}
		return lower

	case MatchHigher:
		if !exact.IsZero() {
			return exact
		}
		return higher

	case MatchNearest:
		if !exact.IsZero() {
			return exact
		}
		// choose whichever is closer
		switch {
		case !lower.IsZero() && !higher.IsZero():
			if d.Sub(lower) <= higher.Sub(d) {
				return lower
			}
			return higher
		case !lower.IsZero():
			return lower
		case !higher.IsZero():
			return higher
		}
	}

	return time.Time{} // nothing found
}

// Closest finds the closest float64 in a sorted slice to the target value using binary search (sort.Search).
// It returns false for an empty list.
func Closest(numList []float64, target float64) (float64, bool) {
	n := len(numList)
	if n == 0 {
		return 0, false
	}

	i := sort.Search(n, func(i int) bool {
		return numList[i] >= target
	})

	if i == 0 {
		return numList[0], true
	}
	if i == n {
		return numList[n-1], true
	}

	before := numList[i-1]
	after := numList[i]

	if math.Abs(before-target) < math.Abs(after-target) {
		return before, true
	}
	return after, true
}

// ATMStrike returns the listed strike closest to spot.
func ATMStrike(quotes []pricing.OptionQuote, spot float64) (float64, bool) {
	strikes := make([]float64, len(quotes))
	for i, q := range quotes {
		strikes[i] = q.Strike
	}
	sort.Float64s(strikes)
	return Closest(strikes, spot)
}
