package strategy

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/rustyeddy/arbiter/market"
	"github.com/shopspring/decimal"
)

// Reasons attached to rejected_confidence and rejected_edge outcomes.
const (
	ReasonLowConfidence = "below_min_confidence"
	ReasonStale         = "signal_stale"
	ReasonNoLiquidity   = "no_liquidity"
	ReasonLowEdge       = "below_min_edge"
	ReasonLowProfit     = "below_min_profit"
	ReasonZeroSize      = "zero_size"
)

// Reject is a terminal pre-risk rejection of a match.
type Reject struct {
	Outcome market.Terminal
	Reason  string
	Detail  string
}

func (r *Reject) Error() string {
	if r.Detail == "" {
		return fmt.Sprintf("%s: %s", r.Outcome, r.Reason)
	}
	return fmt.Sprintf("%s: %s (%s)", r.Outcome, r.Reason, r.Detail)
}

func reject(out market.Terminal, reason, format string, args ...any) *Reject {
	return &Reject{Outcome: out, Reason: reason, Detail: fmt.Sprintf(format, args...)}
}

type SignalParams struct {
	MinConfidence decimal.Decimal
	MinEdge       decimal.Decimal
	MaxStaleness  time.Duration
	// BaseSize is the notional the edge is evaluated at before sizing.
	BaseSize  decimal.Decimal
	OrderType market.OrderType
}

// Generator turns match results into trade candidates.
type Generator struct {
	p   SignalParams
	log zerolog.Logger
}

func NewGenerator(p SignalParams, log zerolog.Logger) *Generator {
	if p.OrderType == "" {
		p.OrderType = market.FOK
	}
	return &Generator{p: p, log: log.With().Str("component", "signals").Logger()}
}

// Evaluate checks joint confidence first, then signal age, then edge
// against the opportunity's ladder for the implied outcome. The returned
// error is always a *Reject.
func (g *Generator) Evaluate(m market.MatchResult, now time.Time) (market.TradeCandidate, error) {
	joint := decimal.Min(m.Signal.Confidence, m.Confidence)
	if joint.LessThan(g.p.MinConfidence) {
		return market.TradeCandidate{}, reject(market.RejectedConfidence, ReasonLowConfidence,
			"joint %s < %s", joint, g.p.MinConfidence)
	}

	if g.p.MaxStaleness > 0 {
		if age := m.Signal.Age(now); age > g.p.MaxStaleness {
			return market.TradeCandidate{}, reject(market.RejectedEdge, ReasonStale,
				"age %s > %s", age, g.p.MaxStaleness)
		}
	}

	book := m.Opportunity.Book(m.Implied)
	depth := book.AskDepth()
	if depth.LessThanOrEqual(decimal.Zero) {
		return market.TradeCandidate{}, reject(market.RejectedEdge, ReasonNoLiquidity, "no asks on %s", m.Implied)
	}

	request := decimal.Min(g.p.BaseSize, depth)
	fill := book.WalkAsks(request)
	edge := market.One.Sub(fill.AvgPrice)
	if edge.LessThan(g.p.MinEdge) {
		return market.TradeCandidate{}, reject(market.RejectedEdge, ReasonLowEdge,
			"edge %s < %s at %s", edge, g.p.MinEdge, request)
	}

	c := market.TradeCandidate{
		Match:     m,
		Outcome:   m.Implied,
		Side:      market.Buy,
		OrderType: g.p.OrderType,
		Joint:     joint,
		Edge:      edge,
		Price:     fill.WorstPrice,
		AvgPrice:  fill.AvgPrice,
		Requested: request,
		Size:      fill.Notional,
		Shares:    fill.Shares,
		Liquidity: depth,
		Profit:    fill.Shares.Mul(edge),
	}
	g.log.Debug().
		Str("market", m.Opportunity.MarketID).
		Str("outcome", string(c.Outcome)).
		Stringer("joint", joint).
		Stringer("edge", edge).
		Stringer("request", request).
		Msg("candidate")
	return c, nil
}
