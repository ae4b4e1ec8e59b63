package data

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/contactkeval/option-density/internal/logger"
	"github.com/contactkeval/option-density/internal/pricing"
)

// ErrMisaligned reports a strike series that does not cover the date axis
// exactly once per date.
var ErrMisaligned = errors.New("data: misaligned strike series")

// Rejection reasons.
const (
	ReasonMissingDate   = "missing date"
	ReasonDuplicateDate = "duplicate date"
	ReasonUnknownDate   = "date off the axis"
)

// Rejection records a strike excluded from an aligned history and the first
// date that disqualified it.
type Rejection struct {
	Strike float64
	Reason string
	Date   time.Time
}

func (r Rejection) Error() string {
	return fmt.Sprintf("strike %.2f: %s %s", r.Strike, r.Reason, r.Date.Format("2006-01-02"))
}

func (r Rejection) Unwrap() error { return ErrMisaligned }

// Observation is one dated mid of a strike series.
type Observation struct {
	Date time.Time
	Mid  float64
}

// AlignedChains is a strike-by-date matrix of mid prices for one expiry.
type AlignedChains struct {
	Dates   []time.Time
	Strikes []float64
	// Mids[i][j] is the mid of Strikes[i] on Dates[j].
	Mids  [][]float64
	Right pricing.Right
}

// AlignChains places every observation on the date axis by its date. Strikes
// with a missing, duplicated or unknown date are rejected and reported;
// nothing is padded or interpolated. ErrMisaligned is returned when no strike
// survives.
func AlignChains(dates []time.Time, series map[float64][]Observation) (*AlignedChains, []Rejection, error) {
	axis := append([]time.Time(nil), dates...)
	sort.Slice(axis, func(i, j int) bool { return axis[i].Before(axis[j]) })
	index := make(map[time.Time]int, len(axis))
	for i, d := range axis {
		index[d] = i
	}

	strikes := make([]float64, 0, len(series))
	for k := range series {
		strikes = append(strikes, k)
	}
	sort.Float64s(strikes)

	out := &AlignedChains{Dates: axis, Right: pricing.Call}
	var rejected []Rejection
	for _, k := range strikes {
		mids, rej, ok := alignStrike(k, series[k], axis, index)
		if !ok {
			logger.Warnf("rejecting %v", rej)
			rejected = append(rejected, rej)
			continue
		}
		out.Strikes = append(out.Strikes, k)
		out.Mids = append(out.Mids, mids)
	}

	if len(out.Strikes) == 0 {
		return nil, rejected, fmt.Errorf("%w: all %d strikes rejected", ErrMisaligned, len(strikes))
	}
	return out, rejected, nil
}

func alignStrike(k float64, obs []Observation, axis []time.Time, index map[time.Time]int) ([]float64, Rejection, bool) {
	mids := make([]float64, len(axis))
	seen := make([]bool, len(axis))

	sorted := append([]Observation(nil), obs...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Date.Before(sorted[j].Date) })
	for _, o := range sorted {
		j, ok := index[o.Date]
		if !ok {
			return nil, Rejection{Strike: k, Reason: ReasonUnknownDate, Date: o.Date}, false
		}
		if seen[j] {
			return nil, Rejection{Strike: k, Reason: ReasonDuplicateDate, Date: o.Date}, false
		}
		seen[j] = true
		mids[j] = o.Mid
	}
	for j, ok := range seen {
		if !ok {
			return nil, Rejection{Strike: k, Reason: ReasonMissingDate, Date: axis[j]}, false
		}
	}
	return mids, Rejection{}, true
}

// ChainOn returns the quotes observed on Dates[day], with bid and ask at the mid.
func (a *AlignedChains) ChainOn(day int) []pricing.OptionQuote {
	if day < 0 || day >= len(a.Dates) {
		return nil
	}
	out := make([]pricing.OptionQuote, len(a.Strikes))
	for i, k := range a.Strikes {
		m := a.Mids[i][day]
		out[i] = pricing.OptionQuote{Strike: k, Bid: m, Ask: m, Right: a.Right}
	}
	return out
}
