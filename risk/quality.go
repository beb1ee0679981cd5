package risk

import (
	"github.com/rustyeddy/arbiter/market"
	"github.com/shopspring/decimal"
)

type QualityParams struct {
	MinDepth  decimal.Decimal
	MaxSpread decimal.Decimal
	// MaxFeeRateBps is waived when estimated profit reaches FeeOverrideMinProfit.
	MaxFeeRateBps        int64
	FeeOverrideMinProfit decimal.Decimal
}

// QualityFilter screens an opportunity for the outcome side about to be
// bought. It is a pure predicate.
type QualityFilter struct {
	p QualityParams
}

func NewQualityFilter(p QualityParams) QualityFilter {
	return QualityFilter{p: p}
}

// Check runs dispute, depth, spread and fee checks in that order and
// returns the first failure.
func (q QualityFilter) Check(opp market.MarketOpportunity, outcome market.Outcome, profit decimal.Decimal) Verdict {
	if v := q.dispute(opp); v != nil {
		return deny("quality", v)
	}
	if v := q.depth(opp.Book(outcome)); v != nil {
		return deny("quality", v)
	}
	if v := q.spread(opp.Book(outcome)); v != nil {
		return deny("quality", v)
	}
	if v := q.fee(opp, profit); v != nil {
		return deny("quality", v)
	}
	return allow()
}

func (q QualityFilter) dispute(opp market.MarketOpportunity) *Veto {
	if opp.Disputed {
		return veto(OracleDispute, "market %s has an active dispute", opp.MarketID)
	}
	return nil
}

func (q QualityFilter) depth(b market.OrderBook) *Veto {
	if depth := b.AskDepth(); depth.LessThan(q.p.MinDepth) {
		return veto(InsufficientDepth, "ask depth %s < %s", depth.StringFixed(2), q.p.MinDepth)
	}
	return nil
}

// A one-sided book has no spread and passes.
func (q QualityFilter) spread(b market.OrderBook) *Veto {
	s, ok := b.Spread()
	if ok && s.GreaterThan(q.p.MaxSpread) {
		return veto(SpreadTooWide, "spread %s > %s", s, q.p.MaxSpread)
	}
	return nil
}

func (q QualityFilter) fee(opp market.MarketOpportunity, profit decimal.Decimal) *Veto {
	if opp.FeeRateBps <= q.p.MaxFeeRateBps {
		return nil
	}
	if profit.GreaterThanOrEqual(q.p.FeeOverrideMinProfit) && q.p.FeeOverrideMinProfit.IsPositive() {
		return nil
	}
	return veto(FeeRateTooHigh, "fee %dbps > %dbps and profit %s < %s",
		opp.FeeRateBps, q.p.MaxFeeRateBps, profit.StringFixed(2), q.p.FeeOverrideMinProfit)
}
