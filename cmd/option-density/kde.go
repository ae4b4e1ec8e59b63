package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/contactkeval/option-density/internal/backtest"
	"github.com/contactkeval/option-density/internal/config"
	"github.com/contactkeval/option-density/internal/data"
	"github.com/contactkeval/option-density/internal/kde"
	"github.com/contactkeval/option-density/internal/logger"
	"github.com/contactkeval/option-density/internal/report"
	"github.com/contactkeval/option-density/internal/signal"
)

var kdeCmd = &cobra.Command{
	Use:   "kde",
	Short: "Price a chain off the historical return density and flag quotes outside theo",
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
		asOf, err := cfg.AsOfDate()
		if err != nil {
			return err
		}
		expiry, err := cfg.ExpiryDate()
		if err != nil {
			return err
		}

		ttl, err := time.ParseDuration(cfg.KDE.CacheTTL)
		if err != nil {
			return err
		}
		cache := data.NewSeriesCache(prov, asOf.AddDate(0, 0, -cfg.KDE.LookbackDays), asOf, ttl)

		model, err := fitModel(ctx, cfg, cache)
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
		quotes = data.FilterQuotes(quotes)

		signals := signal.Scan(kde.Pricer{Model: model, Spot: spot}, quotes)
		if only, _ := cmd.Flags().GetBool("actionable"); only {
			signals = signal.Actionable(signals)
		}
		report.RenderSignals(cmd.OutOrStdout(), signals)
		logger.Infof("%d of %d quotes outside theo", len(signal.Actionable(signals)), len(quotes))

		if settle, _ := cmd.Flags().GetBool("settle"); settle {
			return settleSignals(ctx, cmd, cfg, prov, signals, asOf, expiry)
		}
		return nil
	},
}

func init() {
	kdeCmd.Flags().Bool("actionable", false, "print only long and short signals")
	kdeCmd.Flags().Bool("settle", false, "hold every signal to expiry against realized closes and report PnL")
}

// fitModel fits the return density over the lookback window. With regimes
// enabled only returns from the current VIX regime are used, falling back to
// the full sample when that regime has too few observations.
func fitModel(ctx context.Context, cfg *config.Config, cache *data.SeriesCache) (*kde.Model, error) {
	bars, err := cache.Bars(ctx, cfg.Underlying)
	if err != nil {
		return nil, fmt.Errorf("%s history: %w", cfg.Underlying, err)
	}
	returns := data.LogReturns(data.Closes(bars))
	logger.Debugf("%d daily returns for %s, annualized vol %.4f",
		len(returns), cfg.Underlying, backtest.AnnualizedVolatility(data.Closes(bars)))

	if !cfg.KDE.Regime {
		return kde.NewModel(returns)
	}

	vixBars, err := cache.Bars(ctx, cfg.KDE.VIXTicker)
	if err != nil {
		return nil, fmt.Errorf("%s history: %w", cfg.KDE.VIXTicker, err)
	}
	if len(vixBars) == 0 {
		return nil, fmt.Errorf("%s history is empty", cfg.KDE.VIXTicker)
	}

	rets, vix := kde.RegimeSeries(bars, vixBars)
	buckets, err := kde.BucketByRegime(rets, vix, cfg.KDE.RegimeWidth, cfg.KDE.Buckets)
	if err != nil {
		return nil, err
	}
	models := kde.RegimeModels(buckets, cfg.KDE.MinSamples)

	level := vixBars[len(vixBars)-1].Close
	current := kde.Regime(level, cfg.KDE.RegimeWidth, cfg.KDE.Buckets)
	if m, ok := models[current]; ok {
		logger.WithFields(map[string]any{
			"vix":       level,
			"regime":    current,
			"samples":   m.KDE.Len(),
			"bandwidth": m.KDE.Bandwidth(),
		}).Info("using regime model")
		return m, nil
	}

	logger.Warnf("no model for regime %d (vix %.2f), using all %d returns", current, level, len(returns))
	return kde.NewModel(returns)
}

// settleSignals replays actionable signals through a ledger over the closes
// between asOf and expiry.
func settleSignals(ctx context.Context, cmd *cobra.Command, cfg *config.Config, prov data.Provider, signals []signal.Signal, asOf, expiry time.Time) error {
	bars, err := prov.GetBars(ctx, cfg.Underlying, asOf, expiry)
	if err != nil {
		return fmt.Errorf("settlement bars: %w", err)
	}

	ledger := backtest.NewLedger(bars)
	ledger.Ticker = cfg.Underlying
	if err := ledger.Replay(signals, expiry); err != nil {
		if errors.Is(err, backtest.ErrNoSettlementBar) {
			logger.Warnf("cannot settle before %s: %v", cfg.Expiry, err)
			return nil
		}
		return err
	}

	report.RenderSummary(cmd.OutOrStdout(), ledger.Summary())
	return report.WriteTrades(ledger.Trades, cfg.OutputDir)
}
