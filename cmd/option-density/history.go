package main

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/contactkeval/option-density/internal/backtest"
	"github.com/contactkeval/option-density/internal/data"
	"github.com/contactkeval/option-density/internal/logger"
	"github.com/contactkeval/option-density/internal/report"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Run the density pipeline on every scheduled date of a stored chain history",
	Long: "Reads <data_dir>/<UNDERLYING>_<YYYYMMDD>_<C|P>_history.csv, keeps the strikes quoted on\n" +
		"every date, and writes one density report per scheduled date under <out>/<YYYYMMDD>.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		prov, err := cfg.NewProvider()
		if err != nil {
			return err
		}
		expiry, err := cfg.ExpiryDate()
		if err != nil {
			return err
		}
		sides, err := cfg.Sides()
		if err != nil {
			return err
		}
		sched, err := cfg.Schedule()
		if err != nil {
			return err
		}

		store := data.NewLocalCSVProvider(cfg.DataDir, nil)
		pipeline := cfg.Pipeline()
		runs := 0

		for _, side := range sides {
			chains, rejected, err := store.LoadHistory(cfg.Underlying, expiry, side)
			if err != nil {
				if errors.Is(err, data.ErrMisaligned) {
					logger.Warnf("%s history unusable: %v", side.Word(), err)
					continue
				}
				return err
			}
			if len(rejected) > 0 {
				logger.Warnf("%s history: %d strikes rejected as misaligned", side.Word(), len(rejected))
			}

			dates, err := sched.Resolve(chains.Dates, expiry)
			if err != nil {
				return err
			}

			for _, day := range backtest.Indices(dates, chains.Dates) {
				on := chains.Dates[day]
				T := expiry.Sub(on).Hours() / 24 / 365
				if T <= 0 {
					logger.Debugf("skipping %s: on or after expiry", on.Format("2006-01-02"))
					continue
				}
				spot, err := resolveSpot(ctx, cfg, prov, on)
				if err != nil {
					return err
				}

				res, err := pipeline.Run(ctx, chains.ChainOn(day), spot, T, cfg.Rate)
				if err != nil {
					logger.Warnf("%s %s: %v", side.Word(), on.Format("2006-01-02"), err)
					continue
				}

				outdir := filepath.Join(cfg.OutputDir, on.Format("20060102"), side.Word())
				if err := report.WriteJSON(res, outdir); err != nil {
					return err
				}
				if err := report.WriteCSV(res.Curve, outdir); err != nil {
					return err
				}
				logger.Infof("%s %s: spot %.2f, %d smile points, mean %.2f",
					on.Format("2006-01-02"), side.Word(), spot, len(res.SmileStrikes), res.Curve.Mean())
				runs++
			}
		}

		if runs == 0 {
			return fmt.Errorf("no scheduled dates produced a density for %s %s", cfg.Underlying, cfg.Expiry)
		}
		logger.Infof("wrote %d densities under %s", runs, cfg.OutputDir)
		return nil
	},
}
