package market

import (
	"time"

	"github.com/shopspring/decimal"
)

// MatchResult pairs a signal with one opportunity it bears on.
type MatchResult struct {
	Signal      Signal
	Opportunity MarketOpportunity
	// Implied is the outcome the signal implies for this market.
	Implied     Outcome
	Confidence  decimal.Decimal
	Specificity decimal.Decimal
	Reason      string
}

// TradeCandidate is a sized, not yet admitted, trade.
type TradeCandidate struct {
	Match     MatchResult
	Outcome   Outcome
	Side      Side
	OrderType OrderType

	// Joint is min(signal confidence, match confidence).
	Joint decimal.Decimal
	Edge  decimal.Decimal
	// Price is the FOK limit: the worst level the order may touch.
	Price    decimal.Decimal
	AvgPrice decimal.Decimal
	// Requested is the pre-cap size the signal generator asked for; Size is
	// what the sizer settled on. Both are USD notional.
	Requested decimal.Decimal
	Size      decimal.Decimal
	Liquidity decimal.Decimal
	Profit    decimal.Decimal

	// Synthetic marks engine-generated candidates such as dispute flattens.
	Synthetic bool
	Shares    decimal.Decimal
}

func (c TradeCandidate) Key() Key {
	return Key{MarketID: c.Match.Opportunity.MarketID, Outcome: c.Outcome}
}

// DispatchKey identifies the one order intent a candidate may produce.
// Entries and exits on the same outcome are distinct.
func (c TradeCandidate) DispatchKey() string {
	return c.Key().String() + ":" + string(c.Side)
}

func (c TradeCandidate) EventKey() string {
	return c.Match.Opportunity.EventKey()
}

// ExpectedProfit is available liquidity times edge; the prioritizer ranks on it.
func (c TradeCandidate) ExpectedProfit() decimal.Decimal {
	return c.Liquidity.Mul(c.Edge)
}

// TradeDecision is the immutable audit record of one admission attempt.
type TradeDecision struct {
	ID        string
	SignalID  string
	Candidate TradeCandidate
	Terminal  Terminal
	Admitted  bool
	Veto      string
	Detail    string
	// FillPrice is set when Terminal is Filled.
	FillPrice decimal.Decimal
	DecidedAt time.Time
}

// Terminal is the single final outcome every signal resolves to.
type Terminal string

const (
	NoMatch            Terminal = "no_match"
	RejectedInvalid    Terminal = "rejected_invalid"
	RejectedConfidence Terminal = "rejected_confidence"
	RejectedEdge       Terminal = "rejected_edge"
	RejectedRisk       Terminal = "rejected_risk"
	ExecutionFailed    Terminal = "execution_failed"
	Filled             Terminal = "filled"
)

var terminalRank = map[Terminal]int{
	RejectedInvalid:    0,
	NoMatch:            1,
	RejectedConfidence: 2,
	RejectedEdge:       3,
	RejectedRisk:       4,
	ExecutionFailed:    5,
	Filled:             6,
}

// Dominates reports whether t should replace other as a signal's terminal
// outcome when the signal fanned out to several candidates.
func (t Terminal) Dominates(other Terminal) bool {
	return terminalRank[t] > terminalRank[other]
}

func (t Terminal) Admitted() bool {
	return t == Filled || t == ExecutionFailed
}
