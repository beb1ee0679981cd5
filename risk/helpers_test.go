package risk

import (
	"errors"
	"testing"
	"time"

	"github.com/rustyeddy/arbiter/internal/util"
	"github.com/rustyeddy/arbiter/market"
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

func opp(id, event string) market.MarketOpportunity {
	return market.MarketOpportunity{
		MarketID:    id,
		EventID:     event,
		Indicator:   "CPI_YOY",
		Criterion:   "value above 3.0%",
		Yes:         market.OrderBook{Asks: asks("2000", "0.85"), Bids: []market.Level{{Price: d("0.83"), Size: d("1000")}}},
		No:          market.OrderBook{Asks: asks("2000", "0.16")},
		RefreshedAt: t0,
	}
}

func buy(o market.MarketOpportunity, size string) market.TradeCandidate {
	return market.TradeCandidate{
		Match:     market.MatchResult{Opportunity: o, Implied: market.OutcomeYes},
		Outcome:   market.OutcomeYes,
		Side:      market.Buy,
		OrderType: market.FOK,
		Edge:      d("0.15"),
		Price:     d("0.85"),
		AvgPrice:  d("0.85"),
		Size:      d(size),
		Shares:    d(size).DivRound(d("0.85"), 16),
		Liquidity: d("2000"),
		Profit:    d(size).DivRound(d("0.85"), 16).Mul(d("0.15")),
	}
}

func ledgerParams() LedgerParams {
	return LedgerParams{
		Bankroll:        d("10000"),
		EventCapPct:     d("0.05"),
		MaxConcurrent:   10,
		MaxPositionSize: d("500"),
	}
}

func gateParams() GateParams {
	return GateParams{
		Quality: QualityParams{
			MinDepth:             d("500"),
			MaxSpread:            d("0.10"),
			MaxFeeRateBps:        0,
			FeeOverrideMinProfit: d("50"),
		},
		MaxPositionSize:   d("500"),
		MaxConcurrent:     10,
		MaxDailyLoss:      d("200"),
		Blacklist:         []string{"at the discretion of", "as determined by"},
		OracleMaxExposure: d("1000"),
		OracleMaxPct:      d("0.05"),
	}
}

func managerParams(t *testing.T) ManagerParams {
	return ManagerParams{
		Ledger: ledgerParams(),
		KillSwitch: KillSwitchParams{
			MaxDailyLoss:          d("200"),
			MaxConsecutiveLosses:  3,
			ErrorWindow:           10,
			MaxErrorRatePct:       d("50"),
			ConnectivityMaxErrors: 3,
			StatePath:             t.TempDir() + "/killswitch.json",
		},
		Gates:  gateParams(),
		Oracle: OracleParams{FlattenOnDispute: true},
	}
}

func newClock() *util.ManualClock { return util.NewManualClock(t0) }

func requireVeto(t *testing.T, err error, code string) {
	t.Helper()
	var v *Veto
	require.True(t, errors.As(err, &v), "got %v", err)
	require.Equal(t, code, v.Code)
}
