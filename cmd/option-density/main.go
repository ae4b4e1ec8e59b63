package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/contactkeval/option-density/internal/config"
	"github.com/contactkeval/option-density/internal/data"
	"github.com/contactkeval/option-density/internal/logger"
	"github.com/contactkeval/option-density/internal/pricing"
)

var rootCmd = &cobra.Command{
	Use:           "option-density",
	Short:         "Risk-neutral densities, implied vols and return-density theo prices for option chains",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		verbosity, err := cmd.Flags().GetInt("verbosity")
		if err != nil {
			return err
		}
		logger.SetVerbosity(verbosity)

		envFiles, err := cmd.Flags().GetStringSlice("env-file")
		if err != nil {
			return err
		}
		return config.LoadEnv(envFiles...)
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.String("config", "", "path to YAML run config")
	pf.Int("verbosity", 1, "0=errors, 1=info, 2=debug, 3=trace")
	pf.StringSlice("env-file", nil, "env files holding API keys (default ./.env when present)")

	// overrides for the config file
	pf.String("provider", "", "data provider: massive, polygon, csv or synthetic")
	pf.String("underlying", "", "underlying ticker")
	pf.String("expiry", "", "option expiry, YYYY-MM-DD")
	pf.String("as-of", "", "valuation date, YYYY-MM-DD")
	pf.Float64("spot", 0, "spot override")
	pf.String("out", "", "report output directory")

	rootCmd.AddCommand(densityCmd, ivCmd, kdeCmd, historyCmd)
}

// loadConfig reads --config when given and layers the override flags on top.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg := &config.Config{}
	if path, _ := cmd.Flags().GetString("config"); path != "" {
		var err error
		if cfg, err = config.Read(path); err != nil {
			return nil, err
		}
	}

	flags := cmd.Flags()
	overrides := map[string]*string{
		"provider":   &cfg.Provider,
		"underlying": &cfg.Underlying,
		"expiry":     &cfg.Expiry,
		"as-of":      &cfg.AsOf,
		"out":        &cfg.OutputDir,
	}
	for name, field := range overrides {
		if flags.Changed(name) {
			*field, _ = flags.GetString(name)
		}
	}
	if flags.Changed("spot") {
		cfg.Spot, _ = flags.GetFloat64("spot")
	}
	if flags.Changed("verbosity") {
		v, _ := flags.GetInt("verbosity")
		cfg.Verbosity = &v
	} else if cfg.Verbosity != nil {
		logger.SetVerbosity(*cfg.Verbosity)
	}

	if err := cfg.Finalize(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// resolveSpot prefers the configured override over the provider's spot.
func resolveSpot(ctx context.Context, cfg *config.Config, prov data.Provider, asOf time.Time) (float64, error) {
	if cfg.Spot > 0 {
		return cfg.Spot, nil
	}
	spot, err := prov.GetSpot(ctx, cfg.Underlying, asOf)
	if err != nil {
		return 0, fmt.Errorf("spot for %s: %w", cfg.Underlying, err)
	}
	return spot, nil
}

// loadChain fetches every configured side for the expiry.
func loadChain(ctx context.Context, cfg *config.Config, prov data.Provider) ([]pricing.OptionQuote, error) {
	expiry, err := cfg.ExpiryDate()
	if err != nil {
		return nil, err
	}
	sides, err := cfg.Sides()
	if err != nil {
		return nil, err
	}

	var quotes []pricing.OptionQuote
	for _, side := range sides {
		chain, err := prov.GetChain(ctx, cfg.Underlying, expiry, side)
		if err != nil {
			return nil, fmt.Errorf("%s %s chain: %w", cfg.Underlying, side.Word(), err)
		}
		logger.Debugf("loaded %d %s quotes for %s %s", len(chain), side.Word(), cfg.Underlying, cfg.Expiry)
		quotes = append(quotes, chain...)
	}
	return quotes, nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		logger.Errorf("%v", err)
		os.Exit(1)
	}
}
