package strategy

import (
	"sort"

	"github.com/rustyeddy/arbiter/market"
	"github.com/shopspring/decimal"
)

const ReasonCapitalExhausted = "capital_exhausted"

// Capacity is the global room left when a batch is ranked.
type Capacity struct {
	// EventCap is the per-event bankroll ceiling in USD.
	EventCap decimal.Decimal
	// Committed is capital already reserved per event.
	Committed map[string]decimal.Decimal
	// Slots is how many more positions may be opened.
	Slots int
}

type Prioritizer struct {
	MaxTradesPerEvent int
}

func NewPrioritizer(maxTradesPerEvent int) *Prioritizer {
	return &Prioritizer{MaxTradesPerEvent: maxTradesPerEvent}
}

// Rank orders candidates by expected profit (liquidity × edge) descending,
// market key ascending on ties, and admits greedily while capacity
// remains. Every candidate ends up in exactly one of the two slices.
func (p *Prioritizer) Rank(cands []market.TradeCandidate, capacity Capacity) (admitted, overflow []market.TradeCandidate) {
	ranked := make([]market.TradeCandidate, len(cands))
	copy(ranked, cands)
	sort.SliceStable(ranked, func(i, j int) bool {
		if c := ranked[i].ExpectedProfit().Cmp(ranked[j].ExpectedProfit()); c != 0 {
			return c > 0
		}
		return ranked[i].Key().String() < ranked[j].Key().String()
	})

	headroom := map[string]decimal.Decimal{}
	trades := map[string]int{}
	slots := capacity.Slots

	for _, c := range ranked {
		ev := c.EventKey()
		room, ok := headroom[ev]
		if !ok {
			room = capacity.EventCap.Sub(capacity.Committed[ev])
		}

		switch {
		case slots <= 0,
			p.MaxTradesPerEvent > 0 && trades[ev] >= p.MaxTradesPerEvent,
			c.Size.GreaterThan(room):
			overflow = append(overflow, c)
			continue
		}

		headroom[ev] = room.Sub(c.Size)
		trades[ev]++
		slots--
		admitted = append(admitted, c)
	}
	return admitted, overflow
}
