// Package config loads run configuration from YAML and secrets from the
// environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/contactkeval/option-density/internal/backtest"
	"github.com/contactkeval/option-density/internal/data"
	"github.com/contactkeval/option-density/internal/density"
	"github.com/contactkeval/option-density/internal/kde"
	"github.com/contactkeval/option-density/internal/logger"
	"github.com/contactkeval/option-density/internal/pricing"
)

// ErrMissingAPIKey is returned when a REST provider is selected without its key.
var ErrMissingAPIKey = errors.New("config: missing API key")

const dateLayout = "2006-01-02"

// API key environment variables per provider.
var apiKeyEnv = map[string]string{
	"massive": "MASSIVE_API_KEY",
	"polygon": "POLYGON_API_KEY",
}

type Config struct {
	Provider   string  `yaml:"provider"`            // massive, polygon, csv or synthetic
	Secondary  string  `yaml:"secondary,omitempty"` // fallback provider
	DataDir    string  `yaml:"data_dir,omitempty"`  // csv provider directory
	Underlying string  `yaml:"underlying"`          // e.g. "SPY"
	Right      string  `yaml:"right,omitempty"`     // call, put or both; default both
	Expiry     string  `yaml:"expiry"`              // YYYY-MM-DD
	AsOf       string  `yaml:"as_of,omitempty"`     // YYYY-MM-DD, default today
	Spot       float64 `yaml:"spot,omitempty"`      // overrides the provider's spot when set
	Rate       float64 `yaml:"rate"`                // continuously compounded
	Seed       int64   `yaml:"seed,omitempty"`      // synthetic provider seed
	OutputDir  string  `yaml:"output_dir,omitempty"`
	Verbosity  *int    `yaml:"verbosity,omitempty"` // 0=errors,1=info,2=debug,3=trace

	Solver  SolverConfig  `yaml:"solver"`
	Density DensityConfig `yaml:"density"`
	KDE     KDEConfig     `yaml:"kde"`
	History HistoryConfig `yaml:"history"`
}

type SolverConfig struct {
	Precision     float64 `yaml:"precision,omitempty"`
	InitialGuess  float64 `yaml:"initial_guess,omitempty"`
	MaxIterations int     `yaml:"max_iterations,omitempty"`
	Workers       int     `yaml:"workers,omitempty"`
	RetryGuess    float64 `yaml:"retry_guess,omitempty"`
}

type DensityConfig struct {
	SmoothingSigma *float64 `yaml:"smoothing_sigma,omitempty"` // default 3, 0 disables
	Step           float64  `yaml:"step,omitempty"`            // default 0.1
	MinStrike      float64  `yaml:"min_strike,omitempty"`
	MaxStrike      float64  `yaml:"max_strike,omitempty"`
}

type KDEConfig struct {
	LookbackDays int     `yaml:"lookback_days,omitempty"` // default 1095
	Regime       bool    `yaml:"regime,omitempty"`
	VIXTicker    string  `yaml:"vix_ticker,omitempty"` // default "VIX"
	RegimeWidth  float64 `yaml:"regime_width,omitempty"`
	Buckets      int     `yaml:"buckets,omitempty"`
	MinSamples   int     `yaml:"min_samples,omitempty"`
	CacheTTL     string  `yaml:"cache_ttl,omitempty"` // Go duration, default 1h
}

type HistoryConfig struct {
	Start     string `yaml:"start,omitempty"`
	End       string `yaml:"end,omitempty"`
	Mode      string `yaml:"mode,omitempty"`
	NthList   []int  `yaml:"nth_list,omitempty"`
	MatchType string `yaml:"date_match_type,omitempty"`
}

// Load reads path, applies defaults and validates the result.
func Load(path string) (*Config, error) {
	cfg, err := Read(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Finalize(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Read decodes path without defaults or validation so callers can layer
// overrides before Finalize.
func Read(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return &cfg, nil
}

func Parse(b []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if err := cfg.Finalize(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Finalize() error {
	c.ApplyDefaults()
	return c.Validate()
}

// ApplyDefaults fills every unset field.
func (c *Config) ApplyDefaults() {
	c.Provider = strings.ToLower(strings.TrimSpace(c.Provider))
	if c.Provider == "" {
		c.Provider = "synthetic"
	}
	c.Secondary = strings.ToLower(strings.TrimSpace(c.Secondary))
	if c.Verbosity == nil {
		v := int(logger.Verbosity())
		c.Verbosity = &v
	}
	c.Underlying = strings.ToUpper(strings.TrimSpace(c.Underlying))
	if c.Underlying == "" {
		c.Underlying = "SPY"
	}
	c.Right = strings.ToLower(strings.TrimSpace(c.Right))
	if c.Right == "" {
		c.Right = "both"
	}
	if c.AsOf == "" {
		c.AsOf = time.Now().UTC().Format(dateLayout)
	}
	if c.OutputDir == "" {
		c.OutputDir = "./out"
	}
	if c.DataDir == "" {
		c.DataDir = "./data"
	}

	if c.Solver.Precision <= 0 {
		c.Solver.Precision = pricing.DefaultPrecision
	}
	if c.Solver.InitialGuess <= 0 {
		c.Solver.InitialGuess = pricing.DefaultInitialGuess
	}
	if c.Solver.MaxIterations <= 0 {
		c.Solver.MaxIterations = pricing.DefaultMaxIterations
	}
	if c.Solver.Workers <= 0 {
		c.Solver.Workers = 1
	}

	if c.Density.SmoothingSigma == nil {
		sigma := 3.0
		c.Density.SmoothingSigma = &sigma
	}
	if c.Density.Step <= 0 {
		c.Density.Step = 0.1
	}

	if c.KDE.LookbackDays <= 0 {
		c.KDE.LookbackDays = 3 * 365
	}
	if c.KDE.VIXTicker == "" {
		c.KDE.VIXTicker = "VIX"
	}
	if c.KDE.RegimeWidth <= 0 {
		c.KDE.RegimeWidth = kde.DefaultRegimeWidth
	}
	if c.KDE.Buckets <= 0 {
		c.KDE.Buckets = kde.DefaultRegimeBuckets
	}
	if c.KDE.MinSamples <= 0 {
		c.KDE.MinSamples = kde.DefaultMinSamples
	}
	if c.KDE.CacheTTL == "" {
		c.KDE.CacheTTL = "1h"
	}

	if c.History.MatchType == "" {
		c.History.MatchType = string(data.MatchNearest)
	}
}

// Validate reports the first invalid field.
func (c *Config) Validate() error {
	for _, name := range []string{c.Provider, c.Secondary} {
		switch name {
		case "", "massive", "polygon", "csv", "local", "synthetic":
		default:
			return fmt.Errorf("config: unknown provider %q", name)
		}
	}
	if _, err := c.Sides(); err != nil {
		return err
	}
	if _, err := c.ExpiryDate(); err != nil {
		return err
	}
	if _, err := c.AsOfDate(); err != nil {
		return err
	}
	if c.Spot < 0 {
		return fmt.Errorf("config: spot must not be negative, got %v", c.Spot)
	}
	if c.Density.SmoothingSigma != nil && *c.Density.SmoothingSigma < 0 {
		return fmt.Errorf("config: smoothing_sigma must not be negative")
	}
	if c.Density.MaxStrike > 0 && c.Density.MinStrike >= c.Density.MaxStrike {
		return fmt.Errorf("config: min_strike %v must be below max_strike %v", c.Density.MinStrike, c.Density.MaxStrike)
	}
	if _, err := time.ParseDuration(c.KDE.CacheTTL); err != nil {
		return fmt.Errorf("config: cache_ttl: %w", err)
	}
	if _, err := c.Schedule(); err != nil {
		return err
	}
	return nil
}

func (c *Config) ExpiryDate() (time.Time, error) {
	if c.Expiry == "" {
		return time.Time{}, fmt.Errorf("config: expiry is required")
	}
	t, err := time.Parse(dateLayout, c.Expiry)
	if err != nil {
		return time.Time{}, fmt.Errorf("config: expiry: %w", err)
	}
	return t, nil
}

func (c *Config) AsOfDate() (time.Time, error) {
	t, err := time.Parse(dateLayout, c.AsOf)
	if err != nil {
		return time.Time{}, fmt.Errorf("config: as_of: %w", err)
	}
	return t, nil
}

// TimeToExpiry is the year fraction between AsOf and Expiry on an ACT/365 basis.
func (c *Config) TimeToExpiry() (float64, error) {
	exp, err := c.ExpiryDate()
	if err != nil {
		return 0, err
	}
	asOf, err := c.AsOfDate()
	if err != nil {
		return 0, err
	}
	T := exp.Sub(asOf).Hours() / 24 / 365
	if T <= 0 {
		return 0, fmt.Errorf("config: expiry %s is not after as_of %s", c.Expiry, c.AsOf)
	}
	return T, nil
}

// Sides lists the option sides to load.
func (c *Config) Sides() ([]pricing.Right, error) {
	switch c.Right {
	case "both":
		return []pricing.Right{pricing.Call, pricing.Put}, nil
	case "call", "c":
		return []pricing.Right{pricing.Call}, nil
	case "put", "p":
		return []pricing.Right{pricing.Put}, nil
	}
	return nil, fmt.Errorf("config: unknown right %q", c.Right)
}

func (c *Config) PricingSolver() pricing.Solver {
	s := pricing.DefaultSolver()
	s.Precision = c.Solver.Precision
	s.InitialGuess = c.Solver.InitialGuess
	s.MaxIterations = c.Solver.MaxIterations
	s.Workers = c.Solver.Workers
	return s
}

func (c *Config) Pipeline() density.Pipeline {
	p := density.NewPipeline()
	p.Solver = c.PricingSolver()
	if c.Density.SmoothingSigma != nil {
		p.SmoothingSigma = *c.Density.SmoothingSigma
	}
	p.Step = c.Density.Step
	p.MinStrike = c.Density.MinStrike
	p.MaxStrike = c.Density.MaxStrike
	p.RetryGuess = c.Solver.RetryGuess
	return p
}

func (c *Config) Schedule() (backtest.Schedule, error) {
	s := backtest.Schedule{
		Mode:      c.History.Mode,
		NthList:   c.History.NthList,
		MatchType: data.DateMatchType(strings.ToLower(c.History.MatchType)),
	}
	var err error
	if c.History.Start != "" {
		if s.Start, err = time.Parse(dateLayout, c.History.Start); err != nil {
			return s, fmt.Errorf("config: history.start: %w", err)
		}
	}
	if c.History.End != "" {
		if s.End, err = time.Parse(dateLayout, c.History.End); err != nil {
			return s, fmt.Errorf("config: history.end: %w", err)
		}
	}
	return s, nil
}

// NewProvider builds the configured provider chain. The synthetic provider
// is seeded from the run's spot, rate and as-of date.
func (c *Config) NewProvider() (data.Provider, error) {
	var secondary data.Provider
	if c.Secondary != "" {
		var err error
		if secondary, err = c.buildProvider(c.Secondary, nil); err != nil {
			return nil, err
		}
	}
	return c.buildProvider(c.Provider, secondary)
}

func (c *Config) buildProvider(name string, secondary data.Provider) (data.Provider, error) {
	if name == "synthetic" {
		asOf, err := c.AsOfDate()
		if err != nil {
			return nil, err
		}
		return data.NewSyntheticProvider(data.SyntheticConfig{
			Spot:   c.Spot,
			Rate:   c.Rate,
			AsOf:   asOf,
			Seed:   c.Seed,
			Levels: map[string]float64{strings.ToUpper(c.KDE.VIXTicker): 18},
		}), nil
	}
	if _, err := APIKey(name); err != nil {
		return nil, err
	}
	logger.Debugf("using %s data provider", name)
	return data.NewProvider(name, c.DataDir, secondary)
}

// APIKey returns the key a provider reads from the environment. Providers
// that need none return an empty key.
func APIKey(provider string) (string, error) {
	env, ok := apiKeyEnv[provider]
	if !ok {
		return "", nil
	}
	key := os.Getenv(env)
	if key == "" {
		return "", fmt.Errorf("%w: %s provider needs %s", ErrMissingAPIKey, provider, env)
	}
	return key, nil
}

// LoadEnv loads environment files. With no files it loads ./.env when one
// exists. Variables already set are not overridden.
func LoadEnv(files ...string) error {
	if len(files) == 0 {
		if _, err := os.Stat(".env"); err != nil {
			return nil
		}
		files = []string{".env"}
	}
	if err := godotenv.Load(files...); err != nil {
		return fmt.Errorf("failed to load %s: %w", strings.Join(files, ","), err)
	}
	return nil
}
