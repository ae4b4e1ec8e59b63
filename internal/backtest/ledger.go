// Package backtest settles option positions against a historical close
// series and tracks the running P&L.
package backtest

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/montanaflynn/stats"

	"github.com/contactkeval/option-density/internal/data"
	"github.com/contactkeval/option-density/internal/logger"
	"github.com/contactkeval/option-density/internal/pricing"
	"github.com/contactkeval/option-density/internal/signal"
)

// ErrNoSettlementBar is returned when no close exists on or before expiry.
var ErrNoSettlementBar = errors.New("backtest: no settlement bar")

// Settlement is one position held to expiry.
type Settlement struct {
	ID         int              `json:"id"`
	Symbol     string           `json:"symbol,omitempty"`
	Strike     float64          `json:"strike"`
	Right      pricing.Right    `json:"right"`
	Direction  signal.Direction `json:"direction"`
	Entry      float64          `json:"entry"`
	Expiry     time.Time        `json:"expiry"`
	SettledOn  time.Time        `json:"settled_on"`
	Underlying float64          `json:"underlying"` // close used to settle
	Payoff     float64          `json:"payoff"`
	PnL        float64          `json:"pnl"`
	ClosedBy   string           `json:"closed_by"`
}

// Ledger accumulates settled positions over one underlying's closes.
type Ledger struct {
	bars  []data.Bar
	dates []time.Time

	// Ticker, when set, names the underlying in each settlement's symbol.
	Ticker string
	PnL    float64
	Trades []Settlement
}

// NewLedger settles against bars, which need not be sorted.
func NewLedger(bars []data.Bar) *Ledger {
	return &Ledger{bars: bars, dates: data.BarDates(bars)}
}

// SettleToExpiry books direction·(payoff(S_expiry) - entry). The expiry
// close is used when present, otherwise the last close before it.
func (l *Ledger) SettleToExpiry(entry, strike float64, expiry time.Time, right pricing.Right, direction signal.Direction) (Settlement, error) {
	on := data.MatchBarDate(expiry, l.dates, data.MatchLower)
	if on.IsZero() {
		return Settlement{}, fmt.Errorf("%w: %s", ErrNoSettlementBar, expiry.Format("2006-01-02"))
	}
	spot, _ := data.CloseOn(l.bars, on, data.MatchExact)

	closedBy := "expired"
	if !on.Equal(expiry) {
		closedBy = "settled_prior_close"
	}

	payoff := pricing.Intrinsic(right.IsCall(), spot, strike)
	s := Settlement{
		ID:         len(l.Trades) + 1,
		Strike:     strike,
		Right:      right,
		Direction:  direction,
		Entry:      entry,
		Expiry:     expiry,
		SettledOn:  on,
		Underlying: spot,
		Payoff:     payoff,
		PnL:        float64(direction) * (payoff - entry),
		ClosedBy:   closedBy,
	}
	if l.Ticker != "" {
		s.Symbol = data.OptionSymbolFromParts(l.Ticker, expiry, right, strike)
	}

	l.PnL += s.PnL
	l.Trades = append(l.Trades, s)
	logger.Debugf("trade %d %s %s %.2f entry=%.4f payoff=%.4f pnl=%.4f closed_by=%s",
		s.ID, direction, right.Word(), strike, entry, payoff, s.PnL, closedBy)
	return s, nil
}

// Replay opens every actionable signal at its market side, paying the ask
// to go long and receiving the bid to go short, and holds it to expiry.
func (l *Ledger) Replay(signals []signal.Signal, expiry time.Time) error {
	for _, s := range signal.Actionable(signals) {
		entry := s.Quote.Ask
		if s.Direction == signal.Short {
			entry = s.Quote.Bid
		}
		if _, err := l.SettleToExpiry(entry, s.Quote.Strike, expiry, s.Quote.Right, s.Direction); err != nil {
			return err
		}
	}
	return nil
}

// Summary aggregates the ledger.
type Summary struct {
	Trades   int     `json:"trades"`
	Winners  int     `json:"winners"`
	TotalPnL float64 `json:"total_pnl"`
	MeanPnL  float64 `json:"mean_pnl"`
}

func (l *Ledger) Summary() Summary {
	s := Summary{Trades: len(l.Trades), TotalPnL: l.PnL}
	if s.Trades == 0 {
		return s
	}
	pnls := make(stats.Float64Data, 0, len(l.Trades))
	for _, t := range l.Trades {
		pnls = append(pnls, t.PnL)
		if t.PnL > 0 {
			s.Winners++
		}
	}
	s.MeanPnL, _ = pnls.Mean()
	return s
}

// AnnualizedVolatility is the sample standard deviation of daily log returns
// scaled by sqrt(252). Fewer than two returns yield 0.30.
func AnnualizedVolatility(closes []float64) float64 {
	rets := data.LogReturns(closes)
	if len(rets) < 2 {
		return 0.30
	}
	sd, err := stats.StandardDeviationSample(rets)
	if err != nil {
		return 0.30
	}
	return sd * math.Sqrt(252.0)
}
