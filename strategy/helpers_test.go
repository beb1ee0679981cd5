package strategy

import (
	"time"

	"github.com/rustyeddy/arbiter/market"
	"github.com/shopspring/decimal"
)

var now = time.Date(2025, 3, 12, 12, 30, 0, 0, time.UTC)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func dp(s string) *decimal.Decimal {
	v := d(s)
	return &v
}

// book returns an ask ladder holding usd of depth at each price.
func book(usd string, prices ...string) market.OrderBook {
	var b market.OrderBook
	for _, p := range prices {
		b.Asks = append(b.Asks, market.Level{Price: d(p), Size: d(usd).DivRound(d(p), 16)})
	}
	return b
}

func cpiSignal(conf string) market.Signal {
	return market.Signal{
		ID:          "sig-1",
		Source:      "bls",
		IndicatorID: "CPI_YOY",
		Outcome:     market.OutcomeYes,
		Confidence:  d(conf),
		ObservedAt:  now,
	}
}

func cpiOpp(id string) market.MarketOpportunity {
	return market.MarketOpportunity{
		MarketID:    id,
		EventID:     "cpi-2025-03",
		Indicator:   "CPI_YOY",
		Criterion:   "value above 3.0%",
		Yes:         book("2000", "0.85"),
		No:          book("2000", "0.16"),
		RefreshedAt: now,
	}
}
