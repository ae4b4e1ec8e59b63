package pricing

import (
	"fmt"
	"strings"
)

// Right is the option side, encoded the way chain files and OCC symbols do.
type Right string

const (
	Call Right = "C"
	Put  Right = "P"
)

// ParseRight accepts "C", "P", "call", "put" in any case.
func ParseRight(s string) (Right, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "c", "call":
		return Call, nil
	case "p", "put":
		return Put, nil
	}
	return "", fmt.Errorf("unknown option right %q", s)
}

func (r Right) IsCall() bool { return r != Put }

// Word returns "call" or "put".
func (r Right) Word() string {
	if r.IsCall() {
		return "call"
	}
	return "put"
}

// OptionQuote is a single bid/ask quote for one strike of a fixed underlying
// and expiry.
type OptionQuote struct {
	Strike float64 `json:"strike"`
	Bid    float64 `json:"bid"`
	Ask    float64 `json:"ask"`
	Right  Right   `json:"right,omitempty"`
}

// Mid is (bid+ask)/2. It is only meaningful when positive.
func (q OptionQuote) Mid() float64 {
	return (q.Bid + q.Ask) / 2
}

// Valid reports whether the quote can be fed to the solver.
func (q OptionQuote) Valid() bool {
	return q.Strike > 0 && q.Bid >= 0 && q.Ask >= 0 && q.Mid() > 0
}

// Mids splits quotes into parallel strike and mid slices.
func Mids(quotes []OptionQuote) (strikes, mids []float64) {
	strikes = make([]float64, len(quotes))
	mids = make([]float64, len(quotes))
	for i, q := range quotes {
		strikes[i] = q.Strike
		mids[i] = q.Mid()
	}
	return strikes, mids
}
