package data

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/gocarina/gocsv"
	"github.com/shopspring/decimal"

	"github.com/contactkeval/option-density/internal/logger"
	"github.com/contactkeval/option-density/internal/pricing"
)

const csvDateLayout = "2006-01-02"

// chainRow is one line of <UNDERLYING>_<YYYYMMDD>_<C|P>.csv.
type chainRow struct {
	Strike string `csv:"strike"`
	Bid    string `csv:"bid"`
	Ask    string `csv:"ask"`
}

// barRow is one line of <UNDERLYING>.csv.
type barRow struct {
	Date   string `csv:"date"`
	Open   string `csv:"open"`
	High   string `csv:"high"`
	Low    string `csv:"low"`
	Close  string `csv:"close"`
	Volume string `csv:"volume"`
}

// historyRow is one line of <UNDERLYING>_<YYYYMMDD>_<C|P>_history.csv.
type historyRow struct {
	Date   string `csv:"date"`
	Strike string `csv:"strike"`
	Bid    string `csv:"bid"`
	Ask    string `csv:"ask"`
}

// localCSVProvider implements Provider from CSV files in a directory.
type localCSVProvider struct {
	dir       string
	secondary Provider
}

// NewLocalCSVProvider convenience constructor.
func NewLocalCSVProvider(dir string, secondary Provider) *localCSVProvider {
	return &localCSVProvider{dir: dir, secondary: secondary}
}

func (localCSVProv *localCSVProvider) Secondary() Provider {
	return localCSVProv.secondary
}

// ChainFile is the path holding the chain for one underlying, expiry and side.
func (localCSVProv *localCSVProvider) ChainFile(underlying string, expiry time.Time, right pricing.Right) string {
	return filepath.Join(localCSVProv.dir, chainBase(underlying, expiry, right)+".csv")
}

func (localCSVProv *localCSVProvider) historyFile(underlying string, expiry time.Time, right pricing.Right) string {
	return filepath.Join(localCSVProv.dir, chainBase(underlying, expiry, right)+"_history.csv")
}

func chainBase(underlying string, expiry time.Time, right pricing.Right) string {
	side := "C"
	if !right.IsCall() {
		side = "P"
	}
	return fmt.Sprintf("%s_%s_%s", strings.ToUpper(underlying), expiry.Format("20060102"), side)
}

func (localCSVProv *localCSVProvider) GetChain(ctx context.Context, underlying string, expiry time.Time, right pricing.Right) ([]pricing.OptionQuote, error) {
	var rows []*chainRow
	if err := readCSV(localCSVProv.ChainFile(underlying, expiry, right), &rows); err != nil {
		if errors.Is(err, os.ErrNotExist) && localCSVProv.secondary != nil {
			return localCSVProv.secondary.GetChain(ctx, underlying, expiry, right)
		}
		return nil, err
	}

	out := make([]pricing.OptionQuote, 0, len(rows))
	for i, row := range rows {
		strike, err := decimal.NewFromString(strings.TrimSpace(row.Strike))
		if err != nil {
			return nil, fmt.Errorf("row %d strike %q: %w", i+1, row.Strike, err)
		}
		bid, ask, err := parseBidAsk(row.Bid, row.Ask)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i+1, err)
		}
		out = append(out, pricing.OptionQuote{
			Strike: strike.InexactFloat64(),
			Bid:    bid.InexactFloat64(),
			Ask:    ask.InexactFloat64(),
			Right:  right,
		})
	}

	logger.Debugf("loaded %d quotes from %s", len(out), localCSVProv.ChainFile(underlying, expiry, right))
	return out, nil
}

// SaveChain writes quotes in the layout GetChain reads back.
func (localCSVProv *localCSVProvider) SaveChain(underlying string, expiry time.Time, right pricing.Right, quotes []pricing.OptionQuote) error {
	rows := make([]*chainRow, 0, len(quotes))
	for _, q := range quotes {
		rows = append(rows, &chainRow{
			Strike: decimal.NewFromFloat(q.Strike).String(),
			Bid:    decimal.NewFromFloat(q.Bid).String(),
			Ask:    decimal.NewFromFloat(q.Ask).String(),
		})
	}

	if err := os.MkdirAll(localCSVProv.dir, 0o755); err != nil {
		return err
	}
	f, err := os.Create(localCSVProv.ChainFile(underlying, expiry, right))
	if err != nil {
		return err
	}
	defer f.Close()

	return gocsv.MarshalFile(&rows, f)
}

func (localCSVProv *localCSVProvider) GetSpot(ctx context.Context, underlying string, asOf time.Time) (float64, error) {
	bars, err := localCSVProv.GetBars(ctx, underlying, asOf.AddDate(0, 0, -7), asOf)
	if err != nil {
		return 0, err
	}
	if spot, ok := CloseOn(bars, asOf, MatchLower); ok {
		return spot, nil
	}
	if localCSVProv.secondary != nil {
		return localCSVProv.secondary.GetSpot(ctx, underlying, asOf)
	}
	return 0, fmt.Errorf("no %s bar on or before %s", underlying, asOf.Format(csvDateLayout))
}

// GetBars reads <dir>/<UNDERLYING>.csv and returns bars within [fromDate, toDate].
func (localCSVProv *localCSVProvider) GetBars(ctx context.Context, underlying string, fromDate, toDate time.Time) ([]Bar, error) {
	path := filepath.Join(localCSVProv.dir, strings.ToUpper(underlying)+".csv")

	var rows []*barRow
	if err := readCSV(path, &rows); err != nil {
		if errors.Is(err, os.ErrNotExist) && localCSVProv.secondary != nil {
			return localCSVProv.secondary.GetBars(ctx, underlying, fromDate, toDate)
		}
		return nil, err
	}

	var out []Bar
	for i, row := range rows {
		b, err := row.bar()
		if err != nil {
			return nil, fmt.Errorf("%s row %d: %w", path, i+1, err)
		}
		if b.Date.Before(fromDate) || b.Date.After(toDate) {
			continue
		}
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out, nil
}

// LoadHistory reads the historical chain of one expiry and side and aligns
// every strike's mids by date on the union of observed dates. Row order in
// the file does not matter.
func (localCSVProv *localCSVProvider) LoadHistory(underlying string, expiry time.Time, right pricing.Right) (*AlignedChains, []Rejection, error) {
	var rows []*historyRow
	if err := readCSV(localCSVProv.historyFile(underlying, expiry, right), &rows); err != nil {
		return nil, nil, err
	}

	seen := map[time.Time]bool{}
	series := map[float64][]Observation{}
	for i, row := range rows {
		d, err := time.Parse(csvDateLayout, strings.TrimSpace(row.Date))
		if err != nil {
			return nil, nil, fmt.Errorf("history row %d: %w", i+1, err)
		}
		strike, err := decimal.NewFromString(strings.TrimSpace(row.Strike))
		if err != nil {
			return nil, nil, fmt.Errorf("history row %d strike: %w", i+1, err)
		}
		bid, ask, err := parseBidAsk(row.Bid, row.Ask)
		if err != nil {
			return nil, nil, fmt.Errorf("history row %d: %w", i+1, err)
		}
		seen[d] = true
		k := strike.InexactFloat64()
		mid := bid.Add(ask).Div(decimal.NewFromInt(2)).InexactFloat64()
		series[k] = append(series[k], Observation{Date: d, Mid: mid})
	}

	dates := make([]time.Time, 0, len(seen))
	for d := range seen {
		dates = append(dates, d)
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })

	aligned, rejected, err := AlignChains(dates, series)
	if aligned != nil {
		aligned.Right = right
	}
	return aligned, rejected, err
}

func (r *barRow) bar() (Bar, error) {
	d, err := time.Parse(csvDateLayout, strings.TrimSpace(r.Date))
	if err != nil {
		return Bar{}, err
	}
	fields := []string{r.Open, r.High, r.Low, r.Close, r.Volume}
	vals := make([]float64, len(fields))
	for i, f := range fields {
		f = strings.TrimSpace(f)
		if f == "" {
			continue
		}
		v, err := decimal.NewFromString(f)
		if err != nil {
			return Bar{}, err
		}
		vals[i] = v.InexactFloat64()
	}
	return Bar{Date: d, Open: vals[0], High: vals[1], Low: vals[2], Close: vals[3], Vol: vals[4]}, nil
}

func parseBidAsk(bidStr, askStr string) (decimal.Decimal, decimal.Decimal, error) {
	bid, err := decimal.NewFromString(strings.TrimSpace(bidStr))
	if err != nil {
		return decimal.Zero, decimal.Zero, fmt.Errorf("bid %q: %w", bidStr, err)
	}
	ask, err := decimal.NewFromString(strings.TrimSpace(askStr))
	if err != nil {
		return decimal.Zero, decimal.Zero, fmt.Errorf("ask %q: %w", askStr, err)
	}
	return bid, ask, nil
}

func readCSV(path string, out any) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	if err := gocsv.UnmarshalFile(f, out); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}
