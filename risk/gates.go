package risk

import (
	"strings"
	"time"

	"github.com/rustyeddy/arbiter/market"
	"github.com/shopspring/decimal"
)

// Snapshot is the immutable state gates evaluate against. It is taken once
// per pass and never consulted for writes.
type Snapshot struct {
	At        time.Time
	Halted    bool
	HaltCause string

	Bankroll       decimal.Decimal
	EventCap       decimal.Decimal
	Committed      map[string]decimal.Decimal
	OpenPositions  int
	OracleExposure decimal.Decimal
	DailyPnL       decimal.Decimal
	Dispatched     map[string]bool
	Held           map[market.Key]bool
	Disputed       map[string]bool
}

type GateParams struct {
	Quality         QualityParams
	MaxPositionSize decimal.Decimal
	MaxConcurrent   int
	MaxDailyLoss    decimal.Decimal
	// Blacklist phrases mark criteria whose resolution is at someone's
	// discretion.
	Blacklist         []string
	OracleMaxExposure decimal.Decimal
	OracleMaxPct      decimal.Decimal
}

// Gate is a total, pure predicate. A nil Veto passes.
type Gate struct {
	Name string
	// Exits marks gates that also apply to position-closing candidates.
	Exits bool
	Check func(c market.TradeCandidate, s Snapshot) *Veto
}

// Chain evaluates gates left to right and stops at the first veto.
type Chain struct {
	gates []Gate
}

// NewChain builds the canonical order: halt, oracle, exposure, quality, fee.
func NewChain(p GateParams) *Chain {
	q := NewQualityFilter(p.Quality)
	blacklist := make([]string, 0, len(p.Blacklist))
	for _, b := range p.Blacklist {
		if b = strings.ToLower(strings.TrimSpace(b)); b != "" {
			blacklist = append(blacklist, b)
		}
	}

	return &Chain{gates: []Gate{
		{Name: "halt", Exits: true, Check: haltGate},
		{Name: "oracle", Check: func(c market.TradeCandidate, s Snapshot) *Veto {
			return oracleGate(c, s, blacklist, p.OracleMaxExposure, p.OracleMaxPct)
		}},
		{Name: "exposure", Exits: true, Check: func(c market.TradeCandidate, s Snapshot) *Veto {
			return exposureGate(c, s, p)
		}},
		{Name: "quality", Check: func(c market.TradeCandidate, s Snapshot) *Veto {
			b := c.Match.Opportunity.Book(c.Outcome)
			if v := q.depth(b); v != nil {
				return v
			}
			return q.spread(b)
		}},
		{Name: "fee", Check: func(c market.TradeCandidate, s Snapshot) *Veto {
			return q.fee(c.Match.Opportunity, c.Profit)
		}},
	}}
}

func (ch *Chain) Names() []string {
	out := make([]string, len(ch.gates))
	for i, g := range ch.gates {
		out[i] = g.Name
	}
	return out
}

func (ch *Chain) Evaluate(c market.TradeCandidate, s Snapshot) Verdict {
	exit := c.Side == market.Sell
	for _, g := range ch.gates {
		if exit && !g.Exits {
			continue
		}
		if v := g.Check(c, s); v != nil {
			return deny(g.Name, v)
		}
	}
	return allow()
}

func haltGate(_ market.TradeCandidate, s Snapshot) *Veto {
	if s.Halted {
		return veto(KillSwitchHalted, "halted: %s", s.HaltCause)
	}
	return nil
}

func oracleGate(c market.TradeCandidate, s Snapshot, blacklist []string, maxAbs, maxPct decimal.Decimal) *Veto {
	opp := c.Match.Opportunity
	if opp.Disputed || s.Disputed[opp.MarketID] {
		return veto(OracleDispute, "market %s has an active dispute", opp.MarketID)
	}

	text := strings.ToLower(opp.Criterion)
	for _, b := range blacklist {
		if strings.Contains(text, b) {
			return veto(OracleAmbiguous, "criterion matches %q", b)
		}
	}

	if !opp.OracleResolved {
		return nil
	}
	limit, ok := oracleLimit(s.Bankroll, maxAbs, maxPct)
	if !ok {
		return nil
	}
	if after := s.OracleExposure.Add(c.Size); after.GreaterThan(limit) {
		return veto(OracleExposureLimit, "oracle exposure %s > %s", after, limit)
	}
	return nil
}

// oracleLimit is the smaller of the configured ceilings; unset ones are ignored.
func oracleLimit(bankroll, maxAbs, maxPct decimal.Decimal) (decimal.Decimal, bool) {
	var limits []decimal.Decimal
	if maxAbs.IsPositive() {
		limits = append(limits, maxAbs)
	}
	if maxPct.IsPositive() {
		limits = append(limits, bankroll.Mul(maxPct))
	}
	if len(limits) == 0 {
		return decimal.Zero, false
	}
	return decimal.Min(limits[0], limits[1:]...), true
}

func exposureGate(c market.TradeCandidate, s Snapshot, p GateParams) *Veto {
	if s.Dispatched[c.DispatchKey()] {
		return veto(DuplicateExecution, "%s already dispatched", c.DispatchKey())
	}
	if c.Side == market.Sell {
		if !s.Held[c.Key()] {
			return veto(NoPosition, "%s not held", c.Key())
		}
		return nil
	}

	if p.MaxPositionSize.IsPositive() && c.Size.GreaterThan(p.MaxPositionSize) {
		return veto(PositionSizeExceeded, "%s > %s", c.Size, p.MaxPositionSize)
	}
	if after := s.Committed[c.EventKey()].Add(c.Size); after.GreaterThan(s.EventCap) {
		return veto(EventCapExceeded, "event %s would hold %s > %s", c.EventKey(), after, s.EventCap)
	}
	if p.MaxConcurrent > 0 && s.OpenPositions >= p.MaxConcurrent {
		return veto(MaxConcurrentPositions, "%d >= %d", s.OpenPositions, p.MaxConcurrent)
	}
	if p.MaxDailyLoss.IsPositive() && s.DailyPnL.LessThanOrEqual(p.MaxDailyLoss.Neg()) {
		return veto(DailyLossLimit, "day P&L %s at or past -%s", s.DailyPnL, p.MaxDailyLoss)
	}
	return nil
}
