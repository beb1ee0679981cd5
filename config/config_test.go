package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rustyeddy/arbiter/journal"
	"github.com/rustyeddy/arbiter/market"
	"github.com/rustyeddy/arbiter/strategy"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	require.NotNil(t, cfg)
	assert.True(t, cfg.Bankroll.Equal(dec("10000")))
	assert.True(t, cfg.Strategy.MinConfidence.Equal(dec("0.99")))
	assert.Equal(t, "sqlite", cfg.Journal.Type)
	assert.NoError(t, cfg.Validate())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		errMsg string
	}{
		{"valid config", func(*Config) {}, ""},
		{"zero bankroll", func(c *Config) { c.Bankroll = decimal.Zero }, "bankroll must be positive"},
		{"confidence above one", func(c *Config) { c.Strategy.MinConfidence = dec("1.2") }, "strategy.min_confidence"},
		{"missing max size", func(c *Config) { c.Strategy.MaxSize = decimal.Zero }, "strategy.max_size is required"},
		{"bad sizing mode", func(c *Config) { c.Strategy.SizingMode = "kelly" }, "strategy.sizing_mode"},
		{"proportional without fraction", func(c *Config) {
			c.Strategy.SizingMode = "proportional"
			c.Strategy.SizingFraction = decimal.Zero
		}, "strategy.sizing_fraction"},
		{"bad order type", func(c *Config) { c.Strategy.OrderType = "IOC" }, "strategy.order_type"},
		{"zero staleness", func(c *Config) { c.Strategy.MaxStaleness = 0 }, "strategy.max_staleness"},
		{"event pct zero", func(c *Config) { c.Risk.MaxBankrollPctPerEvent = decimal.Zero }, "risk.max_bankroll_pct_per_event"},
		{"no concurrent slots", func(c *Config) { c.Risk.MaxConcurrentPositions = 0 }, "risk.max_concurrent_positions"},
		{"fee bps too high", func(c *Config) { c.Risk.MaxFeeRateBps = 20000 }, "risk.max_fee_rate_bps"},
		{"no daily loss", func(c *Config) { c.Risk.MaxDailyLoss = decimal.Zero }, "risk.max_daily_loss"},
		{"empty error window", func(c *Config) { c.KillSwitch.ErrorWindow = 0 }, "kill_switch.error_window"},
		{"error rate over 100", func(c *Config) { c.KillSwitch.MaxErrorRatePct = dec("150") }, "kill_switch.max_error_rate_pct"},
		{"oracle pct over one", func(c *Config) { c.Oracle.MaxExposurePct = dec("2") }, "oracle.max_exposure_pct"},
		{"no in-flight window", func(c *Config) { c.Engine.MaxInFlight = 0 }, "engine.max_in_flight"},
		{"unknown journal", func(c *Config) { c.Journal.Type = "postgres" }, "journal.type"},
		{"csv without dir", func(c *Config) { c.Journal = journal.Options{Type: "csv"} }, "journal.dir"},
		{"bad log level", func(c *Config) { c.Log.Level = "loud" }, "log.level"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.errMsg == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestSaveAndLoad(t *testing.T) {
	tmpDir := t.TempDir()

	for _, ext := range []string{".json", ".yaml"} {
		t.Run(ext, func(t *testing.T) {
			cfg := Default()
			cfg.Strategy.MaxStaleness = 45 * time.Second
			path := filepath.Join(tmpDir, "nested", "arbiter"+ext)

			require.NoError(t, cfg.SaveToFile(path))
			_, err := os.Stat(path)
			require.NoError(t, err)

			loaded, err := LoadFromFile(path)
			require.NoError(t, err)
			assert.True(t, cfg.Bankroll.Equal(loaded.Bankroll))
			assert.True(t, cfg.Strategy.MinEdge.Equal(loaded.Strategy.MinEdge))
			assert.Equal(t, 45*time.Second, loaded.Strategy.MaxStaleness)
			assert.Equal(t, cfg.Oracle.BlacklistPatterns, loaded.Oracle.BlacklistPatterns)
		})
	}
}

func TestLoadPartialFileKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "partial.yaml")
	require.NoError(t, os.WriteFile(path, []byte("bankroll: \"2500\"\nstrategy:\n  min_edge: 0.08\n  max_staleness: 10s\n"), 0o644))

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.True(t, cfg.Bankroll.Equal(dec("2500")))
	assert.True(t, cfg.Strategy.MinEdge.Equal(dec("0.08")))
	assert.Equal(t, 10*time.Second, cfg.Strategy.MaxStaleness)
	assert.True(t, cfg.Strategy.MinConfidence.Equal(dec("0.99")))
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	dir := t.TempDir()

	y := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(y, []byte("strategy:\n  min_confidance: 0.9\n"), 0o644))
	_, err := LoadFromFile(y)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "min_confidance")

	j := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(j, []byte(`{"bankrol": "5"}`), 0o644))
	_, err = LoadFromFile(j)
	assert.Error(t, err)
}

func TestLoadInvalidFile(t *testing.T) {
	_, err := LoadFromFile("/nonexistent/path.yaml")
	assert.Error(t, err)
}

func TestMergeEnv(t *testing.T) {
	env := map[string]string{
		"ARBITER_BANKROLL":                 "25000",
		"ARBITER_MAX_STALENESS":            "5s",
		"ARBITER_MAX_CONCURRENT_POSITIONS": "4",
		"ARBITER_FLATTEN_ON_DISPUTE":       "false",
		"ARBITER_LOG_LEVEL":                "debug",
		"ARBITER_MIN_EDGE":                 "  ",
	}
	lookup := func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}

	cfg := Default()
	require.NoError(t, cfg.MergeEnv(lookup))
	assert.True(t, cfg.Bankroll.Equal(dec("25000")))
	assert.Equal(t, 5*time.Second, cfg.Strategy.MaxStaleness)
	assert.Equal(t, 4, cfg.Risk.MaxConcurrentPositions)
	assert.False(t, cfg.Oracle.FlattenOnDispute)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.True(t, cfg.Strategy.MinEdge.Equal(dec("0.05")), "blank values are ignored")

	env["ARBITER_MAX_SIZE"] = "lots"
	err := Default().MergeEnv(lookup)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ARBITER_MAX_SIZE")
}

func TestLoadWithDotEnv(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, "test.env")
	require.NoError(t, os.WriteFile(envFile, []byte("ARBITER_JOURNAL_TYPE=none\n"), 0o644))
	t.Cleanup(func() { _ = os.Unsetenv("ARBITER_JOURNAL_TYPE") })

	cfg, err := Load("", envFile)
	require.NoError(t, err)
	assert.Equal(t, "none", cfg.Journal.Type)

	_, err = Load("", filepath.Join(dir, "missing.env"))
	assert.NoError(t, err)
}

func TestEngineSettings(t *testing.T) {
	cfg := Default()
	cfg.Strategy.SizingMode = "proportional"
	s := cfg.EngineSettings()

	assert.Equal(t, strategy.Proportional, s.Sizer.Mode)
	assert.True(t, s.Sizer.MaxSize.Equal(dec("500")))
	assert.True(t, s.Sizer.MinProfit.Equal(dec("1")))
	assert.Equal(t, market.FOK, s.Signals.OrderType)
	assert.True(t, s.Matcher.Threshold.Equal(dec("0.80")))
	assert.Equal(t, 3, s.MaxTradesPerEvent)
	assert.True(t, s.Risk.Ledger.EventCapPct.Equal(dec("0.05")))
	assert.True(t, s.Risk.KillSwitch.MaxDailyLoss.Equal(dec("200")))
	assert.Equal(t, cfg.KillSwitch.StatePath, s.Risk.KillSwitch.StatePath)
	assert.Equal(t, cfg.Oracle.BlacklistPatterns, s.Risk.Gates.Blacklist)
	assert.True(t, s.Risk.Oracle.FlattenOnDispute)
	assert.Equal(t, 64, s.MaxInFlight)
	assert.Equal(t, cfg.KillSwitch.DispatchLogPath, s.Risk.Ledger.DispatchLogPath)

	p := cfg.SimParams()
	assert.True(t, p.FillProbability.IsZero())
}
