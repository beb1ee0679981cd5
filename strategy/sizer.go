package strategy

import (
	"fmt"

	"github.com/rustyeddy/arbiter/market"
	"github.com/shopspring/decimal"
)

type SizingMode string

const (
	Fixed        SizingMode = "fixed"
	Proportional SizingMode = "proportional"
)

func ParseSizingMode(s string) (SizingMode, error) {
	switch SizingMode(s) {
	case Fixed, "":
		return Fixed, nil
	case Proportional:
		return Proportional, nil
	}
	return "", fmt.Errorf("unknown sizing mode %q", s)
}

type SizerParams struct {
	Mode     SizingMode
	BaseSize decimal.Decimal
	// MaxSize is a hard ceiling applied in every mode.
	MaxSize   decimal.Decimal
	Fraction  decimal.Decimal
	MinEdge   decimal.Decimal
	MinProfit decimal.Decimal
}

// SizeInput holds everything Size depends on.
type SizeInput struct {
	Bankroll  decimal.Decimal
	Edge      decimal.Decimal
	Price     decimal.Decimal
	Liquidity decimal.Decimal
}

// Size returns a USD notional rounded down to cents. It is a pure function
// of p and in.
func (p SizerParams) Size(in SizeInput) decimal.Decimal {
	var size decimal.Decimal
	switch p.Mode {
	case Proportional:
		room := market.One.Sub(in.Price)
		if room.LessThanOrEqual(decimal.Zero) || in.Edge.LessThanOrEqual(decimal.Zero) {
			return decimal.Zero
		}
		size = in.Bankroll.Mul(in.Edge).DivRound(room, 12).Mul(p.Fraction)
	default:
		size = p.BaseSize
	}

	size = decimal.Min(size, p.MaxSize, in.Liquidity)
	if size.LessThan(decimal.Zero) {
		return decimal.Zero
	}
	return size.RoundFloor(2)
}

// Sizer applies Size to a candidate and re-prices it against the book for
// the final notional.
type Sizer struct {
	p SizerParams
}

func NewSizer(p SizerParams) *Sizer {
	return &Sizer{p: p}
}

func (s *Sizer) Params() SizerParams { return s.p }

// Apply returns the resized candidate, or a *Reject when the final size
// is zero or the trade no longer clears minimum edge and profit.
func (s *Sizer) Apply(c market.TradeCandidate, bankroll decimal.Decimal) (market.TradeCandidate, error) {
	size := s.p.Size(SizeInput{
		Bankroll:  bankroll,
		Edge:      c.Edge,
		Price:     c.AvgPrice,
		Liquidity: c.Liquidity,
	})
	if size.LessThanOrEqual(decimal.Zero) {
		return c, reject(market.RejectedEdge, ReasonZeroSize, "sized to %s", size)
	}

	fill := c.Match.Opportunity.Book(c.Outcome).WalkAsks(size)
	if !fill.Complete {
		return c, reject(market.RejectedEdge, ReasonNoLiquidity, "book cannot absorb %s", size)
	}
	edge := market.One.Sub(fill.AvgPrice)
	if edge.LessThan(s.p.MinEdge) {
		return c, reject(market.RejectedEdge, ReasonLowEdge, "edge %s < %s at %s", edge, s.p.MinEdge, size)
	}
	profit := fill.Shares.Mul(edge)
	if profit.LessThan(s.p.MinProfit) {
		return c, reject(market.RejectedEdge, ReasonLowProfit, "profit %s < %s", profit.StringFixed(4), s.p.MinProfit)
	}

	c.Size = fill.Notional
	c.Shares = fill.Shares
	c.Price = fill.WorstPrice
	c.AvgPrice = fill.AvgPrice
	c.Edge = edge
	c.Profit = profit
	return c, nil
}
