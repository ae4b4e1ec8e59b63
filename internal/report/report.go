// Package report writes pipeline results to disk and renders them as
// terminal tables.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/gocarina/gocsv"
	"github.com/olekukonko/tablewriter"

	"github.com/contactkeval/option-density/internal/backtest"
	"github.com/contactkeval/option-density/internal/density"
	"github.com/contactkeval/option-density/internal/pricing"
	"github.com/contactkeval/option-density/internal/signal"
)

type curveRow struct {
	Strike        string `csv:"strike"`
	Density       string `csv:"density"`
	CallPrice     string `csv:"call_price"`
	Vol           string `csv:"iv"`
	Extrapolated  string `csv:"extrapolated"`
	LowConfidence string `csv:"low_confidence"`
}

type ivRow struct {
	Strike     string `csv:"strike"`
	Vol        string `csv:"iv"`
	Converged  string `csv:"converged"`
	Iterations int    `csv:"iterations"`
	Status     string `csv:"status"`
}

type tradeRow struct {
	ID         int    `csv:"id"`
	Symbol     string `csv:"symbol"`
	Right      string `csv:"right"`
	Direction  string `csv:"direction"`
	Strike     string `csv:"strike"`
	Entry      string `csv:"entry"`
	Expiry     string `csv:"expiry"`
	SettledOn  string `csv:"settled_on"`
	Underlying string `csv:"underlying"`
	Payoff     string `csv:"payoff"`
	PnL        string `csv:"pnl"`
	ClosedBy   string `csv:"closed_by"`
}

func WriteJSON(res *density.Result, outdir string) error {
	b, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(outdir, 0o755); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(outdir, "density.json"), b, 0644)
}

// WriteCSV writes one row per grid strike to density.csv.
func WriteCSV(curve *density.Curve, outdir string) error {
	rows := make([]*curveRow, 0, curve.Len())
	for i, k := range curve.Strikes {
		rows = append(rows, &curveRow{
			Strike:        fmt.Sprintf("%.2f", k),
			Density:       fmt.Sprintf("%.8f", curve.Density[i]),
			CallPrice:     fmt.Sprintf("%.6f", curve.CallPrices[i]),
			Vol:           fmt.Sprintf("%.6f", curve.Vols[i]),
			Extrapolated:  strconv.FormatBool(curve.Extrapolated[i]),
			LowConfidence: strconv.FormatBool(curve.LowConfidence(i)),
		})
	}
	return marshalFile(&rows, outdir, "density.csv")
}

func WriteIVs(ivs []pricing.IVResult, outdir string) error {
	rows := make([]*ivRow, 0, len(ivs))
	for _, iv := range ivs {
		rows = append(rows, &ivRow{
			Strike:     fmt.Sprintf("%.2f", iv.Strike),
			Vol:        fmt.Sprintf("%.6f", iv.Vol),
			Converged:  strconv.FormatBool(iv.Converged),
			Iterations: iv.Iterations,
			Status:     iv.Status.String(),
		})
	}
	return marshalFile(&rows, outdir, "ivs.csv")
}

// WriteTrades writes settled positions to trades.csv.
func WriteTrades(trades []backtest.Settlement, outdir string) error {
	rows := make([]*tradeRow, 0, len(trades))
	for _, t := range trades {
		rows = append(rows, &tradeRow{
			ID:         t.ID,
			Symbol:     t.Symbol,
			Right:      t.Right.Word(),
			Direction:  t.Direction.String(),
			Strike:     fmt.Sprintf("%.2f", t.Strike),
			Entry:      fmt.Sprintf("%.2f", t.Entry),
			Expiry:     t.Expiry.Format("2006-01-02"),
			SettledOn:  t.SettledOn.Format("2006-01-02"),
			Underlying: fmt.Sprintf("%.2f", t.Underlying),
			Payoff:     fmt.Sprintf("%.2f", t.Payoff),
			PnL:        fmt.Sprintf("%.2f", t.PnL),
			ClosedBy:   t.ClosedBy,
		})
	}
	return marshalFile(&rows, outdir, "trades.csv")
}

func marshalFile(rows any, outdir, name string) error {
	if err := os.MkdirAll(outdir, 0o755); err != nil {
		return err
	}
	f, err := os.Create(filepath.Join(outdir, name))
	if err != nil {
		return err
	}
	defer f.Close()
	return gocsv.MarshalFile(rows, f)
}

// RenderSmile prints the solved implied vols.
func RenderSmile(w io.Writer, ivs []pricing.IVResult) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Strike", "IV", "Iterations", "Status"})
	table.SetAlignment(tablewriter.ALIGN_RIGHT)

	for _, iv := range ivs {
		vol := "-"
		if iv.Converged {
			vol = fmt.Sprintf("%.2f%%", iv.Vol*100)
		}
		table.Append([]string{
			fmt.Sprintf("%.2f", iv.Strike),
			vol,
			strconv.Itoa(iv.Iterations),
			iv.Status.String(),
		})
	}

	table.Render()
}

// RenderSmileSummary prints statistics over the fitted smile knots.
func RenderSmileSummary(w io.Writer, sum density.Summary) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Points", "Min IV", "Max IV", "Mean IV", "Median IV"})
	table.SetAlignment(tablewriter.ALIGN_RIGHT)
	table.Append([]string{
		strconv.Itoa(sum.Points),
		fmt.Sprintf("%.2f%%", sum.Min*100),
		fmt.Sprintf("%.2f%%", sum.Max*100),
		fmt.Sprintf("%.2f%%", sum.Mean*100),
		fmt.Sprintf("%.2f%%", sum.Median*100),
	})
	table.Render()
}

// RenderSignals prints theoretical prices against the quoted market.
func RenderSignals(w io.Writer, signals []signal.Signal) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Strike", "Right", "Bid", "Ask", "Theo", "Signal", "Edge"})
	table.SetAlignment(tablewriter.ALIGN_RIGHT)

	for _, s := range signals {
		table.Append([]string{
			fmt.Sprintf("%.2f", s.Quote.Strike),
			s.Quote.Right.Word(),
			fmt.Sprintf("%.2f", s.Quote.Bid),
			fmt.Sprintf("%.2f", s.Quote.Ask),
			fmt.Sprintf("%.4f", s.Theo),
			s.Direction.String(),
			fmt.Sprintf("%.4f", s.Edge),
		})
	}

	table.Render()
}

// RenderSummary prints the ledger totals.
func RenderSummary(w io.Writer, sum backtest.Summary) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Trades", "Winners", "Total PnL", "Mean PnL"})
	table.Append([]string{
		strconv.Itoa(sum.Trades),
		strconv.Itoa(sum.Winners),
		fmt.Sprintf("%.2f", sum.TotalPnL),
		fmt.Sprintf("%.4f", sum.MeanPnL),
	})
	table.Render()
}
