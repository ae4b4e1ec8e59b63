// Package signal compares a theoretical price against a quoted market and
// flags strikes worth trading.
package signal

import (
	"github.com/contactkeval/option-density/internal/logger"
	"github.com/contactkeval/option-density/internal/pricing"
)

// Direction is the suggested side of a trade.
type Direction int

const (
	Short Direction = -1
	Flat  Direction = 0
	Long  Direction = 1
)

func (d Direction) String() string {
	switch d {
	case Long:
		return "long"
	case Short:
		return "short"
	}
	return "flat"
}

// Compare returns Long when theo is above the ask, Short when it is below
// the bid and Flat otherwise.
func Compare(theo, bid, ask float64) Direction {
	d := 0
	if theo > ask {
		d++
	}
	if theo < bid {
		d--
	}
	return Direction(d)
}

// Pricer produces a theoretical price for one strike and side.
type Pricer interface {
	Theo(strike float64, isCall bool) (float64, error)
}

// Signal is the outcome of comparing one quote with its theoretical price.
type Signal struct {
	Quote     pricing.OptionQuote `json:"quote"`
	Theo      float64             `json:"theo"`
	Direction Direction           `json:"direction"`
	// Edge is how far theo sits outside the market, signed like Direction.
	Edge float64 `json:"edge"`
}

// Scan prices every quote and returns one signal per quote the pricer could
// value, in input order. Quotes the pricer rejects are skipped.
func Scan(p Pricer, quotes []pricing.OptionQuote) []Signal {
	out := make([]Signal, 0, len(quotes))
	for _, q := range quotes {
		theo, err := p.Theo(q.Strike, q.Right.IsCall())
		if err != nil {
			logger.Debugf("no theo for %s %.2f: %v", q.Right.Word(), q.Strike, err)
			continue
		}
		dir := Compare(theo, q.Bid, q.Ask)
		s := Signal{Quote: q, Theo: theo, Direction: dir}
		switch dir {
		case Long:
			s.Edge = theo - q.Ask
		case Short:
			s.Edge = q.Bid - theo
		}
		out = append(out, s)
	}
	return out
}

// Actionable keeps the signals that are not Flat.
func Actionable(signals []Signal) []Signal {
	var out []Signal
	for _, s := range signals {
		if s.Direction != Flat {
			out = append(out, s)
		}
	}
	return out
}
