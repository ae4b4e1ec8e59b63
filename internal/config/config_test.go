package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/contactkeval/option-density/internal/data"
	"github.com/contactkeval/option-density/internal/logger"
	"github.com/contactkeval/option-density/internal/pricing"
)

const sample = `
provider: synthetic
underlying: spy
expiry: 2026-01-16
as_of: 2025-01-16
spot: 580
rate: 0.04
right: call
solver:
  workers: 4
  retry_guess: 0.6
density:
  smoothing_sigma: 0
  step: 0.5
  min_strike: 400
  max_strike: 700
kde:
  regime: true
  vix_ticker: I:VIX
history:
  mode: nth_weekday
  nth_list: [5]
  start: 2025-01-01
  date_match_type: LOWER
`

func TestParse(t *testing.T) {
	cfg, err := Parse([]byte(sample))
	require.NoError(t, err)

	assert.Equal(t, "SPY", cfg.Underlying)
	assert.Equal(t, "./out", cfg.OutputDir)

	T, err := cfg.TimeToExpiry()
	require.NoError(t, err)
	assert.InDelta(t, 1.0, T, 1e-12)

	sides, err := cfg.Sides()
	require.NoError(t, err)
	assert.Equal(t, []pricing.Right{pricing.Call}, sides)

	p := cfg.Pipeline()
	assert.Equal(t, 0.0, p.SmoothingSigma, "explicit zero disables smoothing")
	assert.Equal(t, 0.5, p.Step)
	assert.Equal(t, 400.0, p.MinStrike)
	assert.Equal(t, 0.6, p.RetryGuess)
	assert.Equal(t, 4, p.Solver.Workers)
	assert.Equal(t, pricing.DefaultMaxIterations, p.Solver.MaxIterations)

	sched, err := cfg.Schedule()
	require.NoError(t, err)
	assert.Equal(t, data.MatchLower, sched.MatchType)
	assert.Equal(t, time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), sched.Start)
	assert.True(t, sched.End.IsZero())

	assert.True(t, cfg.KDE.Regime)
	assert.Equal(t, "I:VIX", cfg.KDE.VIXTicker)
	assert.Equal(t, 30, cfg.KDE.MinSamples)
}

func TestDefaults(t *testing.T) {
	cfg, err := Parse([]byte("expiry: 2099-01-01\n"))
	require.NoError(t, err)

	assert.Equal(t, "synthetic", cfg.Provider)
	assert.Equal(t, "both", cfg.Right)
	assert.Equal(t, 3.0, *cfg.Density.SmoothingSigma)
	assert.Equal(t, 0.1, cfg.Density.Step)
	assert.Equal(t, 1, cfg.Solver.Workers)
	assert.Equal(t, "1h", cfg.KDE.CacheTTL)
	assert.Equal(t, 1095, cfg.KDE.LookbackDays)
	require.NotNil(t, cfg.Verbosity)
	assert.Equal(t, int(logger.Verbosity()), *cfg.Verbosity, "unset verbosity keeps the active level")

	cfg, err = Parse([]byte("expiry: 2099-01-01\nverbosity: 0\n"))
	require.NoError(t, err)
	require.NotNil(t, cfg.Verbosity)
	assert.Equal(t, 0, *cfg.Verbosity)
}

func TestValidateRejects(t *testing.T) {
	tests := map[string]string{
		"missing expiry":   "provider: synthetic\n",
		"bad expiry":       "expiry: 17/01/2026\n",
		"unknown provider": "expiry: 2026-01-16\nprovider: bloomberg\n",
		"unknown right":    "expiry: 2026-01-16\nright: straddle\n",
		"inverted window":  "expiry: 2026-01-16\ndensity: {min_strike: 500, max_strike: 400}\n",
		"negative sigma":   "expiry: 2026-01-16\ndensity: {smoothing_sigma: -1}\n",
		"bad ttl":          "expiry: 2026-01-16\nkde: {cache_ttl: soon}\n",
		"bad history":      "expiry: 2026-01-16\nhistory: {start: yesterday}\n",
		"not yaml":         "expiry: [",
	}
	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(doc))
			assert.Error(t, err)
		})
	}
}

func TestTimeToExpiryRejectsPastExpiry(t *testing.T) {
	cfg, err := Parse([]byte("expiry: 2025-01-01\nas_of: 2025-02-01\n"))
	require.NoError(t, err)
	_, err = cfg.TimeToExpiry()
	assert.Error(t, err)
}

func TestNewProvider(t *testing.T) {
	t.Setenv("MASSIVE_API_KEY", "")

	cfg, err := Parse([]byte("expiry: 2026-01-16\nprovider: massive\n"))
	require.NoError(t, err)
	_, err = cfg.NewProvider()
	assert.ErrorIs(t, err, ErrMissingAPIKey)

	t.Setenv("MASSIVE_API_KEY", "secret")
	cfg.Secondary = "csv"
	prov, err := cfg.NewProvider()
	require.NoError(t, err)
	assert.NotNil(t, prov.Secondary())

	cfg, err = Parse([]byte("expiry: 2026-01-16\nas_of: 2025-01-16\nspot: 250\n"))
	require.NoError(t, err)
	prov, err = cfg.NewProvider()
	require.NoError(t, err)
	spot, err := prov.GetSpot(context.Background(), "SPY", time.Time{})
	require.NoError(t, err)
	assert.Equal(t, 250.0, spot)
}

func TestLoadAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "run.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sample), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 580.0, cfg.Spot)

	_, err = Load(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)

	envFile := filepath.Join(dir, "test.env")
	require.NoError(t, os.WriteFile(envFile, []byte("POLYGON_API_KEY=from-file\n"), 0o644))
	t.Setenv("POLYGON_API_KEY", "")
	os.Unsetenv("POLYGON_API_KEY")

	require.NoError(t, LoadEnv(envFile))
	key, err := APIKey("polygon")
	require.NoError(t, err)
	assert.Equal(t, "from-file", key)

	assert.Error(t, LoadEnv(filepath.Join(dir, "nope.env")))

	key, err = APIKey("csv")
	require.NoError(t, err)
	assert.Empty(t, key)
}
