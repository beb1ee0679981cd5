package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// EnvPrefix marks the environment variables that overlay the file.
const EnvPrefix = "ARBITER_"

// LookupFunc matches os.LookupEnv.
type LookupFunc func(string) (string, bool)

type envVar struct {
	name  string
	apply func(c *Config, v string) error
}

func decimalVar(dst func(*Config) *decimal.Decimal) func(*Config, string) error {
	return func(c *Config, v string) error {
		d, err := decimal.NewFromString(v)
		if err != nil {
			return err
		}
		*dst(c) = d
		return nil
	}
}

func intVar(dst func(*Config) *int) func(*Config, string) error {
	return func(c *Config, v string) error {
		n, err := strconv.Atoi(v)
		if err != nil {
			return err
		}
		*dst(c) = n
		return nil
	}
}

func durationVar(dst func(*Config) *time.Duration) func(*Config, string) error {
	return func(c *Config, v string) error {
		d, err := time.ParseDuration(v)
		if err != nil {
			return err
		}
		*dst(c) = d
		return nil
	}
}

func stringVar(dst func(*Config) *string) func(*Config, string) error {
	return func(c *Config, v string) error {
		*dst(c) = v
		return nil
	}
}

func boolVar(dst func(*Config) *bool) func(*Config, string) error {
	return func(c *Config, v string) error {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return err
		}
		*dst(c) = b
		return nil
	}
}

var envVars = []envVar{
	{"BANKROLL", decimalVar(func(c *Config) *decimal.Decimal { return &c.Bankroll })},
	{"MIN_CONFIDENCE", decimalVar(func(c *Config) *decimal.Decimal { return &c.Strategy.MinConfidence })},
	{"MIN_EDGE", decimalVar(func(c *Config) *decimal.Decimal { return &c.Strategy.MinEdge })},
	{"MAX_STALENESS", durationVar(func(c *Config) *time.Duration { return &c.Strategy.MaxStaleness })},
	{"BASE_SIZE", decimalVar(func(c *Config) *decimal.Decimal { return &c.Strategy.BaseSize })},
	{"MAX_SIZE", decimalVar(func(c *Config) *decimal.Decimal { return &c.Strategy.MaxSize })},
	{"SIZING_MODE", stringVar(func(c *Config) *string { return &c.Strategy.SizingMode })},
	{"MIN_PROFIT", decimalVar(func(c *Config) *decimal.Decimal { return &c.Risk.MinProfit })},
	{"MAX_POSITION_SIZE", decimalVar(func(c *Config) *decimal.Decimal { return &c.Risk.MaxPositionSize })},
	{"MAX_CONCURRENT_POSITIONS", intVar(func(c *Config) *int { return &c.Risk.MaxConcurrentPositions })},
	{"MAX_DAILY_LOSS", decimalVar(func(c *Config) *decimal.Decimal { return &c.Risk.MaxDailyLoss })},
	{"KILLSWITCH_STATE", stringVar(func(c *Config) *string { return &c.KillSwitch.StatePath })},
	{"FLATTEN_ON_DISPUTE", boolVar(func(c *Config) *bool { return &c.Oracle.FlattenOnDispute })},
	{"JOURNAL_TYPE", stringVar(func(c *Config) *string { return &c.Journal.Type })},
	{"JOURNAL_PATH", stringVar(func(c *Config) *string { return &c.Journal.Path })},
	{"JOURNAL_DIR", stringVar(func(c *Config) *string { return &c.Journal.Dir })},
	{"METRICS_ADDR", stringVar(func(c *Config) *string { return &c.Metrics.Addr })},
	{"LOG_LEVEL", stringVar(func(c *Config) *string { return &c.Log.Level })},
}

// MergeEnv overlays ARBITER_* variables. A malformed value is an error
// rather than being skipped.
func (c *Config) MergeEnv(lookup LookupFunc) error {
	for _, ev := range envVars {
		v, ok := lookup(EnvPrefix + ev.name)
		if !ok {
			continue
		}
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if err := ev.apply(c, v); err != nil {
			return fmt.Errorf("%s%s=%q: %w", EnvPrefix, ev.name, v, err)
		}
	}
	return nil
}
