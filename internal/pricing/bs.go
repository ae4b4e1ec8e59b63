// Package pricing implements Black-Scholes pricing for European options and
// a guarded Newton-Raphson implied volatility solver.
//
// Argument order follows the usual textbook convention used throughout this
// package: S (spot), K (strike), T (years to expiry), r (continuously
// compounded rate), sigma (annualised volatility).
package pricing

import (
	"math"

	"gonum.org/v1/gonum/stat/distuv"
)

// BlackScholesPrice calculates the price of a European option using the Black-Scholes model.
//
// Parameters:
//   - isCall: true for call option, false for put option
//   - S: spot price of the underlying asset
//   - K: strike price of the option
//   - T: time to expiry in years
//   - r: risk-free interest rate (annual)
//   - sigma: volatility of the underlying asset (annual, as a decimal)
//
// Returns:
//
//	The theoretical price of the option. If time to expiry or volatility is zero or
//	negative, or spot/strike is not positive, returns the intrinsic value of the option.
func BlackScholesPrice(isCall bool, S, K, T, r, sigma float64) float64 {
	if isCall {
		return CallPrice(S, K, T, r, sigma)
	}
	return PutPrice(S, K, T, r, sigma)
}

// CallPrice is the Black-Scholes price of a European call.
// Degenerate input returns max(S-K, 0).
func CallPrice(S, K, T, r, sigma float64) float64 {
	if degenerate(S, K, T, r, sigma) {
		return Intrinsic(true, S, K)
	}

	d1, d2 := d1d2(S, K, T, r, sigma)
	return S*normCDF(d1) - K*math.Exp(-r*T)*normCDF(d2)
}

// PutPrice is the Black-Scholes price of a European put.
// Degenerate input returns max(K-S, 0).
func PutPrice(S, K, T, r, sigma float64) float64 {
	if degenerate(S, K, T, r, sigma) {
		return Intrinsic(false, S, K)
	}

	d1, d2 := d1d2(S, K, T, r, sigma)
	return K*math.Exp(-r*T)*normCDF(-d2) - S*normCDF(-d1)
}

// Vega calculates the vega of a European option using the Black-Scholes model.
// Vega is the same for calls and puts and is expressed per unit of volatility
// (not per 1%).
//
// Returns 0 for degenerate input.
func Vega(S, K, T, r, sigma float64) float64 {
	if degenerate(S, K, T, r, sigma) {
		return 0
	}

	d1, _ := d1d2(S, K, T, r, sigma)
	return S * normPDF(d1) * math.Sqrt(T)
}

// Intrinsic returns the exercise value of an option at spot S, or 0 when
// S or K is not finite.
func Intrinsic(isCall bool, S, K float64) float64 {
	if !finite(S) || !finite(K) {
		return 0
	}
	if isCall {
		return math.Max(0, S-K)
	}
	return math.Max(0, K-S)
}

// degenerate also catches NaN and infinite inputs so they never reach d1d2.
func degenerate(S, K, T, r, sigma float64) bool {
	if !finite(S) || !finite(K) || !finite(T) || !finite(r) || !finite(sigma) {
		return true
	}
	return T <= 0 || sigma <= 0 || S <= 0 || K <= 0
}

func finite(x float64) bool {
	return !math.IsNaN(x) && !math.IsInf(x, 0)
}

func d1d2(S, K, T, r, sigma float64) (float64, float64) {
	sqrtT := math.Sqrt(T)
	d1 := (math.Log(S/K) + (r+0.5*sigma*sigma)*T) / (sigma * sqrtT)
	return d1, d1 - sigma*sqrtT
}

func normPDF(x float64) float64 {
	return distuv.UnitNormal.Prob(x)
}

func normCDF(x float64) float64 {
	return distuv.UnitNormal.CDF(x)
}
