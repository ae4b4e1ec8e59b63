package report

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gocarina/gocsv"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/contactkeval/option-density/internal/backtest"
	"github.com/contactkeval/option-density/internal/density"
	"github.com/contactkeval/option-density/internal/pricing"
	"github.com/contactkeval/option-density/internal/signal"
	"github.com/contactkeval/option-density/internal/testutil"
)

func testIVs() []pricing.IVResult {
	return []pricing.IVResult{
		{Strike: 95, Vol: 0.215, Converged: true, Iterations: 4, Status: pricing.StatusConverged},
		{Strike: 100, Vol: 0.2, Converged: true, Iterations: 3, Status: pricing.StatusConverged},
		{Strike: 150, Vol: 5, Iterations: 1000, Status: pricing.StatusMaxIterations},
	}
}

func testCurve(t *testing.T) *density.Curve {
	t.Helper()
	smile, err := density.NewSmile([]float64{90, 100, 110}, []float64{0.2, 0.2, 0.2})
	require.NoError(t, err)
	grid, err := density.StrikeGrid(85, 115, 1)
	require.NoError(t, err)
	curve, err := density.Evaluate(grid, 100, smile, 0.5, 0.01)
	require.NoError(t, err)
	return curve
}

func TestWriteIVs(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, WriteIVs(testIVs(), dir))
	testutil.CompareFileWithGolden(t, "ivs", filepath.Join(dir, "ivs.csv"))
}

func TestWriteTrades(t *testing.T) {
	trades := []backtest.Settlement{
		{
			ID: 1, Symbol: "O:SPY250117C00100000", Strike: 100, Right: pricing.Call, Direction: signal.Long, Entry: 2.2,
			Expiry: time.Date(2025, 1, 17, 0, 0, 0, 0, time.UTC), SettledOn: time.Date(2025, 1, 17, 0, 0, 0, 0, time.UTC),
			Underlying: 104, Payoff: 4, PnL: 4 - 2.2, ClosedBy: "expired",
		},
		{
			ID: 2, Strike: 95, Right: pricing.Put, Direction: signal.Short, Entry: 0.6,
			Expiry: time.Date(2025, 1, 20, 0, 0, 0, 0, time.UTC), SettledOn: time.Date(2025, 1, 17, 0, 0, 0, 0, time.UTC),
			Underlying: 104, Payoff: 0, PnL: 0.6, ClosedBy: "settled_prior_close",
		},
	}

	dir := t.TempDir()
	require.NoError(t, WriteTrades(trades, dir))
	testutil.CompareFileWithGolden(t, "trades", filepath.Join(dir, "trades.csv"))
}

func TestWriteCSV(t *testing.T) {
	curve := testCurve(t)
	dir := filepath.Join(t.TempDir(), "nested")
	require.NoError(t, WriteCSV(curve, dir))

	f, err := os.Open(filepath.Join(dir, "density.csv"))
	require.NoError(t, err)
	defer f.Close()

	var rows []*curveRow
	require.NoError(t, gocsv.UnmarshalFile(f, &rows))
	require.Len(t, rows, curve.Len())

	assert.Equal(t, "85.00", rows[0].Strike)
	assert.Equal(t, "true", rows[0].Extrapolated)
	assert.Equal(t, "true", rows[0].LowConfidence)
	assert.Equal(t, "false", rows[15].Extrapolated)
	assert.Equal(t, "false", rows[15].LowConfidence)
	assert.Equal(t, "0.200000", rows[15].Vol)
}

func TestWriteJSON(t *testing.T) {
	curve := testCurve(t)
	res := &density.Result{IVs: testIVs()[:2], SmileStrikes: []float64{95, 100}, SmileVols: []float64{0.215, 0.2}, Curve: curve,
		SmileSummary: density.Summary{Points: 2, Min: 0.2, Max: 0.215, Mean: 0.2075, Median: 0.2075}}

	dir := t.TempDir()
	require.NoError(t, WriteJSON(res, dir))

	b, err := os.ReadFile(filepath.Join(dir, "density.json"))
	require.NoError(t, err)

	var decoded struct {
		IVs []struct {
			Strike float64 `json:"strike"`
			IV     float64 `json:"iv"`
			Status string  `json:"status"`
		} `json:"ivs"`
		Curve struct {
			Strikes []float64 `json:"strikes"`
			Density []float64 `json:"density"`
			Spot    float64   `json:"spot"`
		} `json:"curve"`
		SmileSummary struct {
			Points int     `json:"points"`
			Max    float64 `json:"max"`
		} `json:"smile_summary"`
	}
	require.NoError(t, json.Unmarshal(b, &decoded))
	require.Len(t, decoded.IVs, 2)
	assert.Equal(t, "converged", decoded.IVs[0].Status)
	assert.Equal(t, 0.215, decoded.IVs[0].IV)
	assert.Equal(t, curve.Strikes, decoded.Curve.Strikes)
	assert.Equal(t, 100.0, decoded.Curve.Spot)
	assert.Equal(t, 2, decoded.SmileSummary.Points)
	assert.Equal(t, 0.215, decoded.SmileSummary.Max)
}

func TestRenderTables(t *testing.T) {
	var buf bytes.Buffer
	RenderSmile(&buf, testIVs())
	out := buf.String()
	assert.Contains(t, out, "STRIKE")
	assert.Contains(t, out, "21.50%")
	assert.Contains(t, out, "max_iterations")

	buf.Reset()
	RenderSignals(&buf, []signal.Signal{
		{Quote: pricing.OptionQuote{Strike: 100, Bid: 2, Ask: 2.2, Right: pricing.Put}, Theo: 2.5, Direction: signal.Long, Edge: 0.3},
	})
	out = buf.String()
	assert.Contains(t, out, "put")
	assert.Contains(t, out, "2.5000")
	assert.Contains(t, out, "long")

	buf.Reset()
	RenderSmileSummary(&buf, density.Summary{Points: 5, Min: 0.18, Max: 0.26, Mean: 0.215, Median: 0.21})
	out = buf.String()
	assert.Contains(t, out, "MEDIAN IV")
	assert.Contains(t, out, "18.00%")
	assert.Contains(t, out, "21.50%")

	buf.Reset()
	RenderSummary(&buf, backtest.Summary{Trades: 2, Winners: 1, TotalPnL: 1.25, MeanPnL: 0.625})
	assert.Contains(t, buf.String(), "0.6250")
}
