package pricing

import (
	"context"
	"fmt"
	"math"

	"golang.org/x/sync/errgroup"
)

// Solver defaults.
const (
	DefaultPrecision     = 1e-4
	DefaultInitialGuess  = 0.2
	DefaultMaxIterations = 1000
	DefaultMinVega       = 1e-8
	DefaultMaxVol        = 5.0
)

// Status describes how an implied volatility solve ended.
type Status int

const (
	StatusConverged Status = iota
	StatusMaxIterations
	StatusVegaUnderflow
	StatusDegenerateInput
	StatusCancelled
)

func (s Status) String() string {
	switch s {
	case StatusConverged:
		return "converged"
	case StatusMaxIterations:
		return "max_iterations"
	case StatusVegaUnderflow:
		return "vega_underflow"
	case StatusDegenerateInput:
		return "degenerate_input"
	case StatusCancelled:
		return "cancelled"
	}
	return fmt.Sprintf("status(%d)", int(s))
}

// MarshalText lets reports print the status by name.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// IVResult is the outcome of one implied volatility solve. Vol holds the last
// iterate even when Converged is false; callers decide whether to keep it.
type IVResult struct {
	Strike     float64 `json:"strike"`
	Vol        float64 `json:"iv"`
	Converged  bool    `json:"converged"`
	Iterations int     `json:"iterations"`
	Status     Status  `json:"status"`
}

// Solver inverts Black-Scholes prices with Newton-Raphson:
//
//	vol[n+1] = vol[n] + (target - price(vol[n])) / vega(vol[n])
//
// Zero fields take the package defaults.
type Solver struct {
	Precision     float64 // |target - price| below this counts as converged
	InitialGuess  float64
	MaxIterations int
	MinVega       float64 // iteration aborts when vega drops below this
	MaxVol        float64 // iterates are capped here

	// Workers > 1 solves bulk requests concurrently.
	Workers int
}

// DefaultSolver returns a Solver with every parameter at its default.
func DefaultSolver() Solver {
	return Solver{}.withDefaults()
}

func (s Solver) withDefaults() Solver {
	if s.Precision <= 0 {
		s.Precision = DefaultPrecision
	}
	if s.InitialGuess <= 0 {
		s.InitialGuess = DefaultInitialGuess
	}
	if s.MaxIterations <= 0 {
		s.MaxIterations = DefaultMaxIterations
	}
	if s.MinVega <= 0 {
		s.MinVega = DefaultMinVega
	}
	if s.MaxVol <= 0 {
		s.MaxVol = DefaultMaxVol
	}
	return s
}

// ImpliedVol solves the call implied volatility of target with the default solver.
func ImpliedVol(target, S, K, T, r float64) IVResult {
	return DefaultSolver().Solve(true, target, S, K, T, r)
}

// Solve finds the volatility reproducing target for a call (isCall) or put.
//
// It never panics and never returns NaN: non-convergence, vega underflow and
// degenerate input are reported through Status with Converged set to false.
func (s Solver) Solve(isCall bool, target, S, K, T, r float64) IVResult {
	s = s.withDefaults()
	res := IVResult{Strike: K}

	if !finite(S) || !finite(K) || !finite(T) || !finite(r) || !finite(target) ||
		T <= 0 || S <= 0 || K <= 0 || target < 0 {
		res.Status = StatusDegenerateInput
		return res
	}

	vol := s.InitialGuess
	for i := 0; i < s.MaxIterations; i++ {
		res.Vol = vol
		res.Iterations = i

		diff := target - BlackScholesPrice(isCall, S, K, T, r, vol)
		if math.Abs(diff) < s.Precision {
			res.Converged = true
			res.Status = StatusConverged
			return res
		}

		vega := Vega(S, K, T, r, vol)
		if vega < s.MinVega {
			res.Status = StatusVegaUnderflow
			return res
		}

		next := vol + diff/vega
		switch {
		case next <= 0:
			// overshoot below zero; approach the floor geometrically instead
			next = vol / 2
		case next > s.MaxVol:
			next = s.MaxVol
		}
		vol = next
	}

	res.Vol = vol
	res.Iterations = s.MaxIterations
	res.Status = StatusMaxIterations
	return res
}

// ImpliedVolBulk applies the default call solver to every (price, strike)
// pair. Output index i always corresponds to input index i.
func ImpliedVolBulk(prices, strikes []float64, S, T, r float64) ([]IVResult, error) {
	return DefaultSolver().Bulk(true, prices, strikes, S, T, r)
}

// ImpliedVolBulkContext is ImpliedVolBulk with a custom solver and context.
func ImpliedVolBulkContext(ctx context.Context, s Solver, prices, strikes []float64, S, T, r float64) ([]IVResult, error) {
	return s.BulkContext(ctx, true, prices, strikes, S, T, r)
}

// Bulk solves every strike. Individual failures are flagged, never fatal.
func (s Solver) Bulk(isCall bool, prices, strikes []float64, S, T, r float64) ([]IVResult, error) {
	return s.BulkContext(context.Background(), isCall, prices, strikes, S, T, r)
}

// BulkContext solves every strike, concurrently when s.Workers > 1. Once ctx
// is done no further strikes are scheduled; those report StatusCancelled.
// The only error is a length mismatch between prices and strikes.
func (s Solver) BulkContext(ctx context.Context, isCall bool, prices, strikes []float64, S, T, r float64) ([]IVResult, error) {
	if len(prices) != len(strikes) {
		return nil, fmt.Errorf("pricing: %d prices for %d strikes", len(prices), len(strikes))
	}

	out := make([]IVResult, len(strikes))

	if s.Workers <= 1 {
		for i := range strikes {
			if ctx.Err() != nil {
				out[i] = IVResult{Strike: strikes[i], Status: StatusCancelled}
				continue
			}
			out[i] = s.Solve(isCall, prices[i], S, strikes[i], T, r)
		}
		return out, nil
	}

	var g errgroup.Group
	g.SetLimit(s.Workers)
	for i := range strikes {
		if ctx.Err() != nil {
			out[i] = IVResult{Strike: strikes[i], Status: StatusCancelled}
			continue
		}
		g.Go(func() error {
			out[i] = s.Solve(isCall, prices[i], S, strikes[i], T, r)
			return nil
		})
	}
	_ = g.Wait()

	return out, nil
}

// Converged returns only the converged results, preserving order.
func Converged(results []IVResult) []IVResult {
	out := make([]IVResult, 0, len(results))
	for _, res := range results {
		if res.Converged {
			out = append(out, res)
		}
	}
	return out
}
