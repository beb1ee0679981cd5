package engine

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/rustyeddy/arbiter/broker"
	"github.com/rustyeddy/arbiter/internal/util"
	"github.com/rustyeddy/arbiter/journal"
	"github.com/rustyeddy/arbiter/market"
	"github.com/rustyeddy/arbiter/risk"
	"github.com/rustyeddy/arbiter/strategy"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2025, 3, 12, 12, 30, 0, 0, time.UTC)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func asks(usd string, prices ...string) []market.Level {
	var out []market.Level
	for _, p := range prices {
		out = append(out, market.Level{Price: d(p), Size: d(usd).DivRound(d(p), 16)})
	}
	return out
}

func opp(id, event, indicator string) market.MarketOpportunity {
	return market.MarketOpportunity{
		MarketID:  id,
		EventID:   event,
		Indicator: indicator,
		Criterion: "value above 3.0%",
		Yes: market.OrderBook{
			Asks: asks("2000", "0.85"),
			Bids: []market.Level{{Price: d("0.83"), Size: d("1000")}},
		},
		No:          market.OrderBook{Asks: asks("2000", "0.16")},
		RefreshedAt: t0,
	}
}

func signal(indicator, conf string) market.Signal {
	return market.Signal{
		Source:      "bls",
		IndicatorID: indicator,
		Outcome:     market.OutcomeYes,
		Confidence:  d(conf),
		ObservedAt:  t0,
	}
}

func settings(t *testing.T) Settings {
	return Settings{
		Matcher: strategy.MatcherParams{Threshold: d("0.8")},
		Signals: strategy.SignalParams{
			MinConfidence: d("0.99"),
			MinEdge:       d("0.05"),
			MaxStaleness:  30 * time.Second,
			BaseSize:      d("100"),
			OrderType:     market.FOK,
		},
		Sizer: strategy.SizerParams{
			Mode:      strategy.Fixed,
			BaseSize:  d("100"),
			MaxSize:   d("500"),
			MinEdge:   d("0.05"),
			MinProfit: d("1"),
		},
		Risk: risk.ManagerParams{
			Ledger: risk.LedgerParams{
				Bankroll:        d("10000"),
				EventCapPct:     d("0.05"),
				MaxConcurrent:   20,
				MaxPositionSize: d("500"),
			},
			KillSwitch: risk.KillSwitchParams{
				MaxDailyLoss:          d("200"),
				MaxConsecutiveLosses:  3,
				ErrorWindow:           10,
				MaxErrorRatePct:       d("50"),
				ConnectivityMaxErrors: 3,
				StatePath:             filepath.Join(t.TempDir(), "killswitch.json"),
			},
			Gates: risk.GateParams{
				Quality: risk.QualityParams{
					MinDepth:             d("500"),
					MaxSpread:            d("0.10"),
					FeeOverrideMinProfit: d("50"),
				},
				MaxPositionSize:   d("500"),
				MaxConcurrent:     20,
				MaxDailyLoss:      d("200"),
				Blacklist:         []string{"as determined by"},
				OracleMaxExposure: d("1000"),
				OracleMaxPct:      d("0.05"),
			},
			Oracle: risk.OracleParams{FlattenOnDispute: true},
		},
		MaxInFlight: 16,
		ExecTimeout: time.Second,
	}
}

// fakeExec fills every intent at its limit unless fail says otherwise.
// Intents for a held market wait until the hold is released or the
// executor deadline passes.
type fakeExec struct {
	mu      sync.Mutex
	intents []broker.OrderIntent
	delay   time.Duration
	fail    func(broker.OrderIntent) error
	held    map[string]chan struct{}
}

// hold parks every intent for marketID until the returned channel closes.
func (f *fakeExec) hold(marketID string) chan struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.held == nil {
		f.held = map[string]chan struct{}{}
	}
	ch := make(chan struct{})
	f.held[marketID] = ch
	return ch
}

func (f *fakeExec) Execute(ctx context.Context, in broker.OrderIntent) (broker.Fill, error) {
	f.mu.Lock()
	f.intents = append(f.intents, in)
	fail, delay, held := f.fail, f.delay, f.held[in.MarketID]
	f.mu.Unlock()

	if held != nil {
		select {
		case <-held:
		case <-ctx.Done():
			return broker.Fill{}, ctx.Err()
		}
	}
	if delay > 0 {
		time.Sleep(delay)
	}
	if fail != nil {
		if err := fail(in); err != nil {
			return broker.Fill{}, err
		}
	}
	shares := in.Shares
	size := in.Size
	if in.Side == market.Buy {
		shares = in.Size.DivRound(in.Price, 16)
	} else {
		size = in.Shares.Mul(in.Price)
	}
	return broker.Fill{OrderID: in.ClientOrderID, Price: in.Price, Size: size, Shares: shares, Fee: decimal.Zero}, nil
}

func (f *fakeExec) calls() []broker.OrderIntent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]broker.OrderIntent(nil), f.intents...)
}

type fixture struct {
	eng   *Engine
	store *market.Store
	exec  *fakeExec
	clock *util.ManualClock
}

func newFixture(t *testing.T, s Settings, j journal.Journal, opps ...market.MarketOpportunity) *fixture {
	t.Helper()
	store := market.NewStore()
	for _, o := range opps {
		require.NoError(t, store.Set(o))
	}
	f := &fixture{store: store, exec: &fakeExec{}, clock: util.NewManualClock(t0)}
	eng, err := New(s, Deps{Store: store, Executor: f.exec, Journal: j, Clock: f.clock, Log: zerolog.Nop()})
	require.NoError(t, err)
	f.eng = eng
	return f
}

// start runs the engine until the test ends.
func (f *fixture) start(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = f.eng.Run(ctx, Inputs{}) }()
	t.Cleanup(func() {
		cancel()
		<-f.eng.Done()
	})
}

// executing waits until the executor has seen n intents.
func (f *fixture) executing(t *testing.T, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return len(f.exec.calls()) >= n }, 2*time.Second, time.Millisecond)
}

func (f *fixture) process(t *testing.T, sig market.Signal) Outcome {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	out, err := f.eng.Process(ctx, sig)
	require.NoError(t, err)
	return out
}
