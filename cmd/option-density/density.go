package main

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/contactkeval/option-density/internal/data"
	"github.com/contactkeval/option-density/internal/logger"
	"github.com/contactkeval/option-density/internal/pricing"
	"github.com/contactkeval/option-density/internal/report"
)

var densityCmd = &cobra.Command{
	Use:   "density",
	Short: "Extract the risk-neutral density of one expiry from its option chain",
	RunE: func(cmd *cobra.Command, args []string) error {
		start := time.Now()
		ctx := cmd.Context()

		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		prov, err := cfg.NewProvider()
		if err != nil {
			return err
		}
		asOf, err := cfg.AsOfDate()
		if err != nil {
			return err
		}
		T, err := cfg.TimeToExpiry()
		if err != nil {
			return err
		}
		spot, err := resolveSpot(ctx, cfg, prov, asOf)
		if err != nil {
			return err
		}
		quotes, err := loadChain(ctx, cfg, prov)
		if err != nil {
			return err
		}

		if save, _ := cmd.Flags().GetBool("save-chain"); save {
			if err := saveChain(cfg.DataDir, cfg.Underlying, cfg.Expiry, quotes); err != nil {
				logger.Warnf("could not save chain: %v", err)
			}
		}

		logger.WithFields(map[string]any{
			"underlying": cfg.Underlying,
			"expiry":     cfg.Expiry,
			"spot":       spot,
			"T":          T,
			"quotes":     len(quotes),
		}).Info("running density pipeline")

		res, err := cfg.Pipeline().Run(ctx, quotes, spot, T, cfg.Rate)
		if err != nil {
			return err
		}

		report.RenderSmile(cmd.OutOrStdout(), res.IVs)
		report.RenderSmileSummary(cmd.OutOrStdout(), res.SmileSummary)
		logATM(quotes, res.IVs, spot)

		if err := report.WriteJSON(res, cfg.OutputDir); err != nil {
			return err
		}
		if err := report.WriteCSV(res.Curve, cfg.OutputDir); err != nil {
			return err
		}
		if err := report.WriteIVs(res.IVs, cfg.OutputDir); err != nil {
			return err
		}

		logger.Infof("finished in %v: %d smile points, %d dropped, mass %.4f, wrote %s",
			time.Since(start), len(res.SmileStrikes), len(res.Dropped), res.Curve.Integral(), cfg.OutputDir)
		return nil
	},
}

func init() {
	densityCmd.Flags().Bool("save-chain", false, "write the fetched chain to the data dir as CSV")
}

// saveChain stores quotes per side in the CSV layout the csv provider reads.
func saveChain(dir, underlying, expiry string, quotes []pricing.OptionQuote) error {
	exp, err := time.Parse("2006-01-02", expiry)
	if err != nil {
		return err
	}
	store := data.NewLocalCSVProvider(dir, nil)
	bySide := map[pricing.Right][]pricing.OptionQuote{}
	for _, q := range quotes {
		bySide[q.Right] = append(bySide[q.Right], q)
	}
	for side, qs := range bySide {
		if err := store.SaveChain(underlying, exp, side, qs); err != nil {
			return err
		}
		logger.Infof("saved %d %s quotes to %s", len(qs), side.Word(), store.ChainFile(underlying, exp, side))
	}
	return nil
}

// logATM reports the solved vol at the strike nearest the spot.
func logATM(quotes []pricing.OptionQuote, ivs []pricing.IVResult, spot float64) {
	atm, ok := data.ATMStrike(quotes, spot)
	if !ok {
		return
	}
	for _, iv := range ivs {
		if iv.Strike == atm && iv.Converged {
			logger.Infof("ATM strike %.2f (spot %.2f): IV %.2f%%", atm, spot, iv.Vol*100)
			return
		}
	}
	logger.Warnf("ATM strike %.2f (spot %.2f) has no converged IV", atm, spot)
}
