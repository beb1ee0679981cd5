package market

import (
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	Zero = decimal.Zero
	One  = decimal.NewFromInt(1)
)

// Level is one rung of a price ladder. Size is in shares; one share pays
// out 1.0 if its outcome resolves true.
type Level struct {
	Price decimal.Decimal `json:"price" yaml:"price"`
	Size  decimal.Decimal `json:"size" yaml:"size"`
}

// Notional is Price*Size.
func (l Level) Notional() decimal.Decimal {
	return l.Price.Mul(l.Size)
}

// OrderBook is a snapshot of one outcome's ladder. Asks are ascending,
// bids descending.
type OrderBook struct {
	Bids []Level `json:"bids,omitempty" yaml:"bids,omitempty"`
	Asks []Level `json:"asks,omitempty" yaml:"asks,omitempty"`
}

func (b OrderBook) BestBid() (decimal.Decimal, bool) {
	if len(b.Bids) == 0 {
		return Zero, false
	}
	return b.Bids[0].Price, true
}

func (b OrderBook) BestAsk() (decimal.Decimal, bool) {
	if len(b.Asks) == 0 {
		return Zero, false
	}
	return b.Asks[0].Price, true
}

// Spread is best ask minus best bid. ok is false when either side is empty.
func (b OrderBook) Spread() (spread decimal.Decimal, ok bool) {
	bid, okb := b.BestBid()
	ask, oka := b.BestAsk()
	if !okb || !oka {
		return Zero, false
	}
	return ask.Sub(bid), true
}

// AskDepth is the notional available to a buyer.
func (b OrderBook) AskDepth() decimal.Decimal {
	total := Zero
	for _, l := range b.Asks {
		total = total.Add(l.Notional())
	}
	return total
}

// BidDepth is the notional available to a seller.
func (b OrderBook) BidDepth() decimal.Decimal {
	total := Zero
	for _, l := range b.Bids {
		total = total.Add(l.Notional())
	}
	return total
}

// Validate checks price bounds and ladder ordering.
func (b OrderBook) Validate() error {
	check := func(side string, levels []Level, ascending bool) error {
		for i, l := range levels {
			if l.Price.LessThan(Zero) || l.Price.GreaterThan(One) {
				return fmt.Errorf("%s[%d]: price %s outside [0,1]", side, i, l.Price)
			}
			if l.Size.LessThan(Zero) {
				return fmt.Errorf("%s[%d]: negative size %s", side, i, l.Size)
			}
			if i == 0 {
				continue
			}
			prev := levels[i-1].Price
			if ascending && l.Price.LessThan(prev) {
				return fmt.Errorf("%s[%d]: ladder not ascending", side, i)
			}
			if !ascending && l.Price.GreaterThan(prev) {
				return fmt.Errorf("%s[%d]: ladder not descending", side, i)
			}
		}
		return nil
	}
	if err := check("asks", b.Asks, true); err != nil {
		return err
	}
	return check("bids", b.Bids, false)
}

// BookFill describes walking a ladder for a requested notional.
type BookFill struct {
	Notional   decimal.Decimal // USD actually consumable, <= requested
	Shares     decimal.Decimal
	AvgPrice   decimal.Decimal // size-weighted, Notional/Shares
	WorstPrice decimal.Decimal // last level touched; the FOK limit
	Complete   bool
}

// WalkAsks spends up to notional USD against the asks from the best level
// outward.
func (b OrderBook) WalkAsks(notional decimal.Decimal) BookFill {
	var f BookFill
	f.Notional, f.Shares, f.AvgPrice, f.WorstPrice = Zero, Zero, Zero, Zero
	if notional.LessThanOrEqual(Zero) {
		return f
	}
	remaining := notional
	for _, l := range b.Asks {
		if l.Price.LessThanOrEqual(Zero) || l.Size.LessThanOrEqual(Zero) {
			continue
		}
		take := decimal.Min(remaining, l.Notional())
		shares := take.DivRound(l.Price, 16)
		f.Notional = f.Notional.Add(take)
		f.Shares = f.Shares.Add(shares)
		f.WorstPrice = l.Price
		remaining = remaining.Sub(take)
		if remaining.LessThanOrEqual(Zero) {
			break
		}
	}
	f.Complete = remaining.LessThanOrEqual(Zero)
	if f.Shares.GreaterThan(Zero) {
		f.AvgPrice = f.Notional.DivRound(f.Shares, 8)
	}
	return f
}

// WalkBids sells up to shares into the bids and reports the proceeds as
// Notional.
func (b OrderBook) WalkBids(shares decimal.Decimal) BookFill {
	var f BookFill
	f.Notional, f.Shares, f.AvgPrice, f.WorstPrice = Zero, Zero, Zero, Zero
	if shares.LessThanOrEqual(Zero) {
		return f
	}
	remaining := shares
	for _, l := range b.Bids {
		if l.Size.LessThanOrEqual(Zero) {
			continue
		}
		take := decimal.Min(remaining, l.Size)
		f.Shares = f.Shares.Add(take)
		f.Notional = f.Notional.Add(take.Mul(l.Price))
		f.WorstPrice = l.Price
		remaining = remaining.Sub(take)
		if remaining.LessThanOrEqual(Zero) {
			break
		}
	}
	f.Complete = remaining.LessThanOrEqual(Zero)
	if f.Shares.GreaterThan(Zero) {
		f.AvgPrice = f.Notional.DivRound(f.Shares, 8)
	}
	return f
}
