package density

import (
	"context"
	"fmt"
	"sort"

	"github.com/contactkeval/option-density/internal/logger"
	"github.com/contactkeval/option-density/internal/pricing"
)

// Pipeline turns a quote chain for one underlying and expiry into a density.
//
//	quotes -> mid>0 filter -> implied vols -> drop non-converged
//	       -> gaussian smoothing -> strike window -> smile -> density
type Pipeline struct {
	Solver pricing.Solver

	// SmoothingSigma is the gaussian filter width in samples; 0 disables it.
	SmoothingSigma float64

	// Step is the strike grid spacing of the output curve. Smaller steps add
	// resolution and second-derivative noise.
	Step float64

	// Smoothed smile points must lie strictly inside (MinStrike, MaxStrike).
	// Zero leaves that side open.
	MinStrike float64
	MaxStrike float64

	// RetryGuess, when positive, re-solves non-converged strikes once from
	// this initial guess.
	RetryGuess float64
}

// NewPipeline returns a pipeline with the default solver, sigma 3 smoothing
// and a 0.1 strike step.
func NewPipeline() Pipeline {
	return Pipeline{
		Solver:         pricing.DefaultSolver(),
		SmoothingSigma: 3,
		Step:           0.1,
	}
}

// Result carries every intermediate product of a pipeline run.
type Result struct {
	// IVs holds one result per usable quote, in strike order.
	IVs []pricing.IVResult `json:"ivs"`
	// Dropped are the non-converged solves excluded from the smile.
	Dropped []pricing.IVResult `json:"dropped"`
	// SmileStrikes and SmileVols are the smoothed, windowed smile knots.
	SmileStrikes []float64 `json:"smile_strikes"`
	SmileVols    []float64 `json:"smile_vols"`
	// SmileSummary describes the smile knots.
	SmileSummary Summary `json:"smile_summary"`

	Smile *Smile `json:"-"`
	Curve *Curve `json:"curve"`
}

// Run executes the pipeline. Quotes may mix calls and puts; each is solved
// with its own side and vols quoted at the same strike are averaged.
func (p Pipeline) Run(ctx context.Context, quotes []pricing.OptionQuote, S, T, r float64) (*Result, error) {
	if !(S > 0) || !(T > 0) {
		return nil, fmt.Errorf("%w: spot=%v T=%v", ErrDegenerateInput, S, T)
	}
	if p.Step <= 0 {
		return nil, fmt.Errorf("%w: step=%v", ErrDegenerateInput, p.Step)
	}

	usable := make([]pricing.OptionQuote, 0, len(quotes))
	for _, q := range quotes {
		if q.Valid() {
			usable = append(usable, q)
		}
	}
	sort.SliceStable(usable, func(i, j int) bool { return usable[i].Strike < usable[j].Strike })
	logger.Debugf("density pipeline: %d of %d quotes usable", len(usable), len(quotes))

	ivs, err := p.solve(ctx, usable, S, T, r)
	if err != nil {
		return nil, err
	}

	res := &Result{IVs: ivs}
	var strikes, vols []float64
	for _, iv := range ivs {
		if !iv.Converged {
			res.Dropped = append(res.Dropped, iv)
			continue
		}
		strikes = append(strikes, iv.Strike)
		vols = append(vols, iv.Vol)
	}
	strikes, vols = mergeByStrike(strikes, vols)
	if len(res.Dropped) > 0 {
		logger.Debugf("density pipeline: dropped %d non-converged strikes", len(res.Dropped))
	}

	vols = Smooth(vols, p.SmoothingSigma)
	for i := range strikes {
		if p.MinStrike > 0 && strikes[i] <= p.MinStrike {
			continue
		}
		if p.MaxStrike > 0 && strikes[i] >= p.MaxStrike {
			continue
		}
		res.SmileStrikes = append(res.SmileStrikes, strikes[i])
		res.SmileVols = append(res.SmileVols, vols[i])
	}

	res.Smile, err = NewSmile(res.SmileStrikes, res.SmileVols)
	if err != nil {
		return nil, err
	}
	if res.SmileSummary, err = res.Smile.Summary(); err != nil {
		return nil, err
	}

	lo, hi := res.Smile.Domain()
	grid, err := StrikeGrid(lo, hi, p.Step)
	if err != nil {
		return nil, err
	}

	res.Curve, err = Evaluate(grid, S, res.Smile, T, r)
	if err != nil {
		return nil, err
	}

	return res, nil
}

func (p Pipeline) solve(ctx context.Context, quotes []pricing.OptionQuote, S, T, r float64) ([]pricing.IVResult, error) {
	var callIdx, putIdx []int
	var callPx, callK, putPx, putK []float64
	for i, q := range quotes {
		if q.Right.IsCall() {
			callIdx = append(callIdx, i)
			callPx = append(callPx, q.Mid())
			callK = append(callK, q.Strike)
		} else {
			putIdx = append(putIdx, i)
			putPx = append(putPx, q.Mid())
			putK = append(putK, q.Strike)
		}
	}

	calls, err := p.Solver.BulkContext(ctx, true, callPx, callK, S, T, r)
	if err != nil {
		return nil, err
	}
	puts, err := p.Solver.BulkContext(ctx, false, putPx, putK, S, T, r)
	if err != nil {
		return nil, err
	}

	out := make([]pricing.IVResult, len(quotes))
	for j, i := range callIdx {
		out[i] = calls[j]
	}
	for j, i := range putIdx {
		out[i] = puts[j]
	}

	if p.RetryGuess > 0 {
		retry := p.Solver
		retry.InitialGuess = p.RetryGuess
		for i, iv := range out {
			if iv.Converged || iv.Status == pricing.StatusDegenerateInput || iv.Status == pricing.StatusCancelled {
				continue
			}
			q := quotes[i]
			if again := retry.Solve(q.Right.IsCall(), q.Mid(), S, q.Strike, T, r); again.Converged {
				logger.Tracef("strike %.2f converged on retry from %.2f", q.Strike, p.RetryGuess)
				out[i] = again
			}
		}
	}

	return out, nil
}

// mergeByStrike averages vols sharing a strike. Input must be strike sorted.
func mergeByStrike(strikes, vols []float64) ([]float64, []float64) {
	var ks, vs []float64
	for i := 0; i < len(strikes); {
		j, sum := i, 0.0
		for j < len(strikes) && strikes[j] == strikes[i] {
			sum += vols[j]
			j++
		}
		ks = append(ks, strikes[i])
		vs = append(vs, sum/float64(j-i))
		i = j
	}
	return ks, vs
}
