package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/contactkeval/option-density/internal/config"
	"github.com/contactkeval/option-density/internal/pricing"
	"github.com/contactkeval/option-density/internal/report"
)

var ivCmd = &cobra.Command{
	Use:   "iv",
	Short: "Solve the implied volatility of a single option price",
	Example: "  option-density iv --price 10.45 --spot 100 --strike 100 --years 1 --rate 0.05\n" +
		"  option-density iv --price 5.57 --spot 100 --strike 100 --years 1 --rate 0.05 --put",
	RunE: func(cmd *cobra.Command, args []string) error {
		flags := cmd.Flags()
		price, _ := flags.GetFloat64("price")
		strike, _ := flags.GetFloat64("strike")
		years, _ := flags.GetFloat64("years")
		rate, _ := flags.GetFloat64("rate")
		put, _ := flags.GetBool("put")
		spot, _ := flags.GetFloat64("spot")
		if spot <= 0 {
			return fmt.Errorf("--spot is required")
		}

		solver := pricing.DefaultSolver()
		if path, _ := flags.GetString("config"); path != "" {
			cfg, err := config.Load(path)
			if err != nil {
				return err
			}
			solver = cfg.PricingSolver()
		}
		if guess, _ := flags.GetFloat64("guess"); guess > 0 {
			solver.InitialGuess = guess
		}

		res := solver.Solve(!put, price, spot, strike, years, rate)
		report.RenderSmile(cmd.OutOrStdout(), []pricing.IVResult{res})
		if !res.Converged {
			return fmt.Errorf("implied vol did not converge: %s after %d iterations", res.Status, res.Iterations)
		}
		return nil
	},
}

func init() {
	f := ivCmd.Flags()
	f.Float64("price", 0, "observed option price")
	f.Float64("strike", 0, "strike")
	f.Float64("years", 0, "time to expiry in years")
	f.Float64("rate", 0, "continuously compounded risk-free rate")
	f.Float64("guess", 0, "initial volatility guess")
	f.Bool("put", false, "price is a put")
	_ = ivCmd.MarkFlagRequired("price")
	_ = ivCmd.MarkFlagRequired("strike")
	_ = ivCmd.MarkFlagRequired("years")
}
