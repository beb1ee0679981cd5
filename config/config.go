package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rustyeddy/arbiter/broker/sim"
	"github.com/rustyeddy/arbiter/engine"
	"github.com/rustyeddy/arbiter/journal"
	"github.com/rustyeddy/arbiter/market"
	"github.com/rustyeddy/arbiter/risk"
	"github.com/rustyeddy/arbiter/strategy"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Config is the complete engine configuration. It is only read at startup;
// EngineSettings turns it into the immutable settings the engine runs on.
type Config struct {
	Bankroll    decimal.Decimal   `json:"bankroll" yaml:"bankroll"`
	Strategy    StrategyConfig    `json:"strategy" yaml:"strategy"`
	Prioritizer PrioritizerConfig `json:"prioritizer" yaml:"prioritizer"`
	Risk        RiskConfig        `json:"risk" yaml:"risk"`
	KillSwitch  KillSwitchConfig  `json:"kill_switch" yaml:"kill_switch"`
	Oracle      OracleConfig      `json:"oracle" yaml:"oracle"`
	Engine      EngineConfig      `json:"engine" yaml:"engine"`
	Sim         SimConfig         `json:"sim" yaml:"sim"`
	Journal     journal.Options   `json:"journal" yaml:"journal"`
	Metrics     MetricsConfig     `json:"metrics" yaml:"metrics"`
	Log         LogConfig         `json:"log" yaml:"log"`
}

// StrategyConfig drives matching, candidate generation and sizing.
type StrategyConfig struct {
	MinConfidence            decimal.Decimal `json:"min_confidence" yaml:"min_confidence"`
	MatchConfidenceThreshold decimal.Decimal `json:"match_confidence_threshold" yaml:"match_confidence_threshold"`
	MinEdge                  decimal.Decimal `json:"min_edge" yaml:"min_edge"`
	MaxStaleness             time.Duration   `json:"max_staleness" yaml:"max_staleness"`
	MaxSnapshotAge           time.Duration   `json:"max_snapshot_age" yaml:"max_snapshot_age"`
	BaseSize                 decimal.Decimal `json:"base_size" yaml:"base_size"`
	MaxSize                  decimal.Decimal `json:"max_size" yaml:"max_size"`
	SizingMode               string          `json:"sizing_mode" yaml:"sizing_mode"` // fixed | proportional
	SizingFraction           decimal.Decimal `json:"sizing_fraction" yaml:"sizing_fraction"`
	OrderType                string          `json:"order_type" yaml:"order_type"`
}

type PrioritizerConfig struct {
	MaxTradesPerEvent int `json:"max_trades_per_event" yaml:"max_trades_per_event"`
}

// RiskConfig holds the per-trade and portfolio limits.
type RiskConfig struct {
	MinProfit              decimal.Decimal `json:"min_profit" yaml:"min_profit"`
	MaxPositionSize        decimal.Decimal `json:"max_position_size" yaml:"max_position_size"`
	MaxBankrollPctPerEvent decimal.Decimal `json:"max_bankroll_pct_per_event" yaml:"max_bankroll_pct_per_event"`
	MaxConcurrentPositions int             `json:"max_concurrent_positions" yaml:"max_concurrent_positions"`
	MinDepth               decimal.Decimal `json:"min_depth" yaml:"min_depth"`
	MaxSpread              decimal.Decimal `json:"max_spread" yaml:"max_spread"`
	MaxFeeRateBps          int64           `json:"max_fee_rate_bps" yaml:"max_fee_rate_bps"`
	FeeOverrideMinProfit   decimal.Decimal `json:"fee_override_min_profit" yaml:"fee_override_min_profit"`
	MaxDailyLoss           decimal.Decimal `json:"max_daily_loss" yaml:"max_daily_loss"`
}

type KillSwitchConfig struct {
	MaxConsecutiveLosses  int             `json:"max_consecutive_losses" yaml:"max_consecutive_losses"`
	ErrorWindow           int             `json:"error_window" yaml:"error_window"`
	MaxErrorRatePct       decimal.Decimal `json:"max_error_rate_pct" yaml:"max_error_rate_pct"`
	ConnectivityMaxErrors int             `json:"connectivity_max_errors" yaml:"connectivity_max_errors"`
	// StatePath is where a halt is checkpointed. Empty disables persistence.
	StatePath string `json:"state_path" yaml:"state_path"`
	// DispatchLogPath records every dispatch key so a restart cannot
	// dispatch one twice. Empty disables persistence.
	DispatchLogPath string `json:"dispatch_log_path" yaml:"dispatch_log_path"`
}

type OracleConfig struct {
	BlacklistPatterns []string        `json:"blacklist_patterns" yaml:"blacklist_patterns"`
	MaxExposure       decimal.Decimal `json:"max_exposure" yaml:"max_exposure"`
	MaxExposurePct    decimal.Decimal `json:"max_exposure_pct" yaml:"max_exposure_pct"`
	FlattenOnDispute  bool            `json:"flatten_on_dispute" yaml:"flatten_on_dispute"`
}

// EngineConfig: MaxInFlight bounds signals accepted from the feeds but not
// yet finished; QueueDepth buffers each feed channel of the run command.
type EngineConfig struct {
	MaxInFlight int           `json:"max_in_flight" yaml:"max_in_flight"`
	QueueDepth  int           `json:"queue_depth" yaml:"queue_depth"`
	ExecTimeout time.Duration `json:"exec_timeout" yaml:"exec_timeout"`
}

// SimConfig tunes the paper executor used by run --paper and replay.
type SimConfig struct {
	SlippageBps     int64           `json:"slippage_bps" yaml:"slippage_bps"`
	FillProbability decimal.Decimal `json:"fill_probability" yaml:"fill_probability"`
	Seed            uint64          `json:"seed" yaml:"seed"`
	Consume         bool            `json:"consume" yaml:"consume"`
}

type MetricsConfig struct {
	// Addr is the /metrics listen address; empty disables the endpoint.
	Addr string `json:"addr" yaml:"addr"`
}

type LogConfig struct {
	Level   string `json:"level" yaml:"level"`
	Console bool   `json:"console" yaml:"console"`
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// Default returns a configuration with conservative defaults.
func Default() *Config {
	return &Config{
		Bankroll: dec("10000"),
		Strategy: StrategyConfig{
			MinConfidence:            dec("0.99"),
			MatchConfidenceThreshold: dec("0.80"),
			MinEdge:                  dec("0.05"),
			MaxStaleness:             30 * time.Second,
			MaxSnapshotAge:           2 * time.Minute,
			BaseSize:                 dec("100"),
			MaxSize:                  dec("500"),
			SizingMode:               string(strategy.Fixed),
			SizingFraction:           dec("0.25"),
			OrderType:                string(market.FOK),
		},
		Prioritizer: PrioritizerConfig{MaxTradesPerEvent: 3},
		Risk: RiskConfig{
			MinProfit:              dec("1"),
			MaxPositionSize:        dec("500"),
			MaxBankrollPctPerEvent: dec("0.05"),
			MaxConcurrentPositions: 10,
			MinDepth:               dec("500"),
			MaxSpread:              dec("0.10"),
			MaxFeeRateBps:          200,
			FeeOverrideMinProfit:   dec("50"),
			MaxDailyLoss:           dec("200"),
		},
		KillSwitch: KillSwitchConfig{
			MaxConsecutiveLosses:  3,
			ErrorWindow:           20,
			MaxErrorRatePct:       dec("50"),
			ConnectivityMaxErrors: 3,
			StatePath:             "./state/killswitch.json",
			DispatchLogPath:       "./state/dispatched.jsonl",
		},
		Oracle: OracleConfig{
			BlacklistPatterns: []string{
				"at the discretion of",
				"as determined by",
				"in the sole opinion of",
				"subjective",
			},
			MaxExposure:      dec("1000"),
			MaxExposurePct:   dec("0.10"),
			FlattenOnDispute: true,
		},
		Engine: EngineConfig{
			MaxInFlight: 64,
			QueueDepth:  64,
			ExecTimeout: 10 * time.Second,
		},
		Sim: SimConfig{
			FillProbability: decimal.Zero,
		},
		Journal: journal.Options{
			Type: "sqlite",
			Path: "./journal/arbiter.db",
		},
		Log: LogConfig{Level: "info"},
	}
}

func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

// decode reads path over the defaults. Unknown keys are an error.
func decode(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := Default()
	if isYAML(path) {
		yd := yaml.NewDecoder(bytes.NewReader(data))
		yd.KnownFields(true)
		if err := yd.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
		return cfg, nil
	}
	jd := json.NewDecoder(bytes.NewReader(data))
	jd.DisallowUnknownFields()
	if err := jd.Decode(cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// LoadFromFile loads and validates a YAML or JSON configuration file.
func LoadFromFile(path string) (*Config, error) {
	cfg, err := decode(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Load is LoadFromFile with a .env file and the ARBITER_* environment
// applied on top of the file. An empty path starts from Default.
func Load(path, envFile string) (*Config, error) {
	if envFile == "" {
		envFile = ".env"
	}
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load %s: %w", envFile, err)
	}

	cfg := Default()
	if path != "" {
		var err error
		if cfg, err = decode(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.MergeEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// SaveToFile writes YAML for .yaml/.yml paths and JSON otherwise.
func (c *Config) SaveToFile(path string) error {
	var (
		data []byte
		err  error
	)
	if isYAML(path) {
		data, err = yaml.Marshal(c)
	} else {
		data, err = json.MarshalIndent(c, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config dir: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return nil
}

func between(v decimal.Decimal, lo, hi string) bool {
	return v.GreaterThanOrEqual(dec(lo)) && v.LessThanOrEqual(dec(hi))
}

// Validate returns the first violated rule.
func (c *Config) Validate() error {
	if !c.Bankroll.IsPositive() {
		return fmt.Errorf("bankroll must be positive")
	}

	s := c.Strategy
	if !between(s.MinConfidence, "0", "1") {
		return fmt.Errorf("strategy.min_confidence must be between 0 and 1")
	}
	if !between(s.MatchConfidenceThreshold, "0", "1") {
		return fmt.Errorf("strategy.match_confidence_threshold must be between 0 and 1")
	}
	if !between(s.MinEdge, "0", "1") {
		return fmt.Errorf("strategy.min_edge must be between 0 and 1")
	}
	if s.MaxStaleness <= 0 {
		return fmt.Errorf("strategy.max_staleness must be positive")
	}
	if s.MaxSnapshotAge < 0 {
		return fmt.Errorf("strategy.max_snapshot_age must not be negative")
	}
	if !s.BaseSize.IsPositive() {
		return fmt.Errorf("strategy.base_size must be positive")
	}
	if !s.MaxSize.IsPositive() {
		return fmt.Errorf("strategy.max_size is required")
	}
	mode, err := strategy.ParseSizingMode(s.SizingMode)
	if err != nil {
		return fmt.Errorf("strategy.sizing_mode: %w", err)
	}
	if mode == strategy.Proportional && (!s.SizingFraction.IsPositive() || s.SizingFraction.GreaterThan(market.One)) {
		return fmt.Errorf("strategy.sizing_fraction must be in (0, 1] for proportional sizing")
	}
	if _, err := market.ParseOrderType(s.OrderType); err != nil {
		return fmt.Errorf("strategy.order_type: %w", err)
	}

	if c.Prioritizer.MaxTradesPerEvent < 0 {
		return fmt.Errorf("prioritizer.max_trades_per_event must not be negative")
	}

	r := c.Risk
	if r.MinProfit.IsNegative() {
		return fmt.Errorf("risk.min_profit must not be negative")
	}
	if !r.MaxPositionSize.IsPositive() {
		return fmt.Errorf("risk.max_position_size must be positive")
	}
	if !r.MaxBankrollPctPerEvent.IsPositive() || r.MaxBankrollPctPerEvent.GreaterThan(market.One) {
		return fmt.Errorf("risk.max_bankroll_pct_per_event must be in (0, 1]")
	}
	if r.MaxConcurrentPositions < 1 {
		return fmt.Errorf("risk.max_concurrent_positions must be at least 1")
	}
	if r.MinDepth.IsNegative() {
		return fmt.Errorf("risk.min_depth must not be negative")
	}
	if !between(r.MaxSpread, "0", "1") {
		return fmt.Errorf("risk.max_spread must be between 0 and 1")
	}
	if r.MaxFeeRateBps < 0 || r.MaxFeeRateBps > 10000 {
		return fmt.Errorf("risk.max_fee_rate_bps must be between 0 and 10000")
	}
	if r.FeeOverrideMinProfit.IsNegative() {
		return fmt.Errorf("risk.fee_override_min_profit must not be negative")
	}
	if !r.MaxDailyLoss.IsPositive() {
		return fmt.Errorf("risk.max_daily_loss must be positive")
	}

	k := c.KillSwitch
	if k.MaxConsecutiveLosses < 0 {
		return fmt.Errorf("kill_switch.max_consecutive_losses must not be negative")
	}
	if k.ErrorWindow < 1 {
		return fmt.Errorf("kill_switch.error_window must be at least 1")
	}
	if !k.MaxErrorRatePct.IsPositive() || k.MaxErrorRatePct.GreaterThan(dec("100")) {
		return fmt.Errorf("kill_switch.max_error_rate_pct must be in (0, 100]")
	}
	if k.ConnectivityMaxErrors < 0 {
		return fmt.Errorf("kill_switch.connectivity_max_errors must not be negative")
	}

	o := c.Oracle
	if o.MaxExposure.IsNegative() {
		return fmt.Errorf("oracle.max_exposure must not be negative")
	}
	if !between(o.MaxExposurePct, "0", "1") {
		return fmt.Errorf("oracle.max_exposure_pct must be between 0 and 1")
	}

	e := c.Engine
	if e.MaxInFlight < 1 {
		return fmt.Errorf("engine.max_in_flight must be at least 1")
	}
	if e.QueueDepth < 1 {
		return fmt.Errorf("engine.queue_depth must be at least 1")
	}
	if e.ExecTimeout <= 0 {
		return fmt.Errorf("engine.exec_timeout must be positive")
	}

	if c.Sim.SlippageBps < 0 {
		return fmt.Errorf("sim.slippage_bps must not be negative")
	}
	if !between(c.Sim.FillProbability, "0", "1") {
		return fmt.Errorf("sim.fill_probability must be between 0 and 1")
	}

	switch strings.ToLower(c.Journal.Type) {
	case "", "none":
	case "sqlite", "jsonl":
		if c.Journal.Path == "" {
			return fmt.Errorf("journal.path required for %s journal", c.Journal.Type)
		}
	case "csv":
		if c.Journal.Dir == "" {
			return fmt.Errorf("journal.dir required for csv journal")
		}
	default:
		return fmt.Errorf("journal.type must be one of sqlite, csv, jsonl, none")
	}

	if c.Log.Level != "" {
		if _, err := zerolog.ParseLevel(strings.ToLower(c.Log.Level)); err != nil {
			return fmt.Errorf("log.level: %w", err)
		}
	}
	return nil
}

// EngineSettings converts a validated configuration into engine settings.
func (c *Config) EngineSettings() engine.Settings {
	s, r, k, o := c.Strategy, c.Risk, c.KillSwitch, c.Oracle
	mode, _ := strategy.ParseSizingMode(s.SizingMode)
	ot, _ := market.ParseOrderType(s.OrderType)

	return engine.Settings{
		Matcher: strategy.MatcherParams{
			Threshold:      s.MatchConfidenceThreshold,
			MaxSnapshotAge: s.MaxSnapshotAge,
		},
		Signals: strategy.SignalParams{
			MinConfidence: s.MinConfidence,
			MinEdge:       s.MinEdge,
			MaxStaleness:  s.MaxStaleness,
			BaseSize:      s.BaseSize,
			OrderType:     ot,
		},
		Sizer: strategy.SizerParams{
			Mode:      mode,
			BaseSize:  s.BaseSize,
			MaxSize:   s.MaxSize,
			Fraction:  s.SizingFraction,
			MinEdge:   s.MinEdge,
			MinProfit: r.MinProfit,
		},
		MaxTradesPerEvent: c.Prioritizer.MaxTradesPerEvent,
		Risk: risk.ManagerParams{
			Ledger: risk.LedgerParams{
				Bankroll:        c.Bankroll,
				EventCapPct:     r.MaxBankrollPctPerEvent,
				MaxConcurrent:   r.MaxConcurrentPositions,
				MaxPositionSize: r.MaxPositionSize,
				DispatchLogPath: k.DispatchLogPath,
			},
			KillSwitch: risk.KillSwitchParams{
				MaxDailyLoss:          r.MaxDailyLoss,
				MaxConsecutiveLosses:  k.MaxConsecutiveLosses,
				ErrorWindow:           k.ErrorWindow,
				MaxErrorRatePct:       k.MaxErrorRatePct,
				ConnectivityMaxErrors: k.ConnectivityMaxErrors,
				StatePath:             k.StatePath,
			},
			Gates: risk.GateParams{
				Quality: risk.QualityParams{
					MinDepth:             r.MinDepth,
					MaxSpread:            r.MaxSpread,
					MaxFeeRateBps:        r.MaxFeeRateBps,
					FeeOverrideMinProfit: r.FeeOverrideMinProfit,
				},
				MaxPositionSize:   r.MaxPositionSize,
				MaxConcurrent:     r.MaxConcurrentPositions,
				MaxDailyLoss:      r.MaxDailyLoss,
				Blacklist:         append([]string(nil), o.BlacklistPatterns...),
				OracleMaxExposure: o.MaxExposure,
				OracleMaxPct:      o.MaxExposurePct,
			},
			Oracle: risk.OracleParams{FlattenOnDispute: o.FlattenOnDispute},
		},
		MaxInFlight: c.Engine.MaxInFlight,
		ExecTimeout: c.Engine.ExecTimeout,
	}
}

func (c *Config) SimParams() sim.Params {
	return sim.Params{
		SlippageBps:     c.Sim.SlippageBps,
		FillProbability: c.Sim.FillProbability,
		Seed:            c.Sim.Seed,
		Consume:         c.Sim.Consume,
	}
}
