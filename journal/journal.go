package journal

import (
	"time"

	"github.com/shopspring/decimal"
)

// SignalRecord is written once per signal, when it reaches its terminal
// outcome.
type SignalRecord struct {
	SignalID   string          `json:"signal_id"`
	Source     string          `json:"source"`
	Indicator  string          `json:"indicator"`
	Fact       string          `json:"fact"`
	Confidence decimal.Decimal `json:"confidence"`
	Terminal   string          `json:"terminal"`
	Reason     string          `json:"reason,omitempty"`
	Matches    int             `json:"matches"`
	Candidates int             `json:"candidates"`
	ObservedAt time.Time       `json:"observed_at"`
	DecidedAt  time.Time       `json:"decided_at"`
}

// DecisionRecord carries every intermediate score for one candidate.
type DecisionRecord struct {
	ID               string          `json:"id"`
	SignalID         string          `json:"signal_id"`
	MarketID         string          `json:"market_id"`
	EventID          string          `json:"event_id"`
	Outcome          string          `json:"outcome"`
	Side             string          `json:"side"`
	Terminal         string          `json:"terminal"`
	Admitted         bool            `json:"admitted"`
	Veto             string          `json:"veto,omitempty"`
	Detail           string          `json:"detail,omitempty"`
	SignalConfidence decimal.Decimal `json:"signal_confidence"`
	MatchConfidence  decimal.Decimal `json:"match_confidence"`
	JointConfidence  decimal.Decimal `json:"joint_confidence"`
	Edge             decimal.Decimal `json:"edge"`
	Price            decimal.Decimal `json:"price"`
	Requested        decimal.Decimal `json:"requested"`
	Size             decimal.Decimal `json:"size"`
	Profit           decimal.Decimal `json:"profit"`
	FillPrice        decimal.Decimal `json:"fill_price"`
	Synthetic        bool            `json:"synthetic"`
	DecidedAt        time.Time       `json:"decided_at"`
}

// TransitionRecord is one kill switch state change.
type TransitionRecord struct {
	From   string    `json:"from"`
	To     string    `json:"to"`
	Cause  string    `json:"cause"`
	Detail string    `json:"detail,omitempty"`
	At     time.Time `json:"at"`
}

// PositionRecord is written when a position opens and again when it closes.
type PositionRecord struct {
	PositionID  string          `json:"position_id"`
	MarketID    string          `json:"market_id"`
	EventID     string          `json:"event_id"`
	Outcome     string          `json:"outcome"`
	Shares      decimal.Decimal `json:"shares"`
	Cost        decimal.Decimal `json:"cost"`
	EntryPrice  decimal.Decimal `json:"entry_price"`
	ExitPrice   decimal.Decimal `json:"exit_price"`
	Fee         decimal.Decimal `json:"fee"`
	Realized    decimal.Decimal `json:"realized"`
	Status      string          `json:"status"` // open | closed
	CloseReason string          `json:"close_reason,omitempty"`
	OpenedAt    time.Time       `json:"opened_at"`
	ClosedAt    time.Time       `json:"closed_at,omitempty"`
}

type Journal interface {
	RecordSignal(SignalRecord) error
	RecordDecision(DecisionRecord) error
	RecordTransition(TransitionRecord) error
	RecordPosition(PositionRecord) error
	Close() error
}

// Nop discards everything.
type Nop struct{}

func (Nop) RecordSignal(SignalRecord) error         { return nil }
func (Nop) RecordDecision(DecisionRecord) error     { return nil }
func (Nop) RecordTransition(TransitionRecord) error { return nil }
func (Nop) RecordPosition(PositionRecord) error     { return nil }
func (Nop) Close() error                            { return nil }
