package market

import (
	"fmt"
	"strings"
)

// Outcome is one side of a binary market.
type Outcome string

const (
	OutcomeYes     Outcome = "YES"
	OutcomeNo      Outcome = "NO"
	OutcomeUnknown Outcome = "UNKNOWN"
)

// ParseOutcome accepts YES/NO/UNKNOWN in any case. An empty string is UNKNOWN.
func ParseOutcome(s string) (Outcome, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "YES", "Y", "TRUE":
		return OutcomeYes, nil
	case "NO", "N", "FALSE":
		return OutcomeNo, nil
	case "", "UNKNOWN":
		return OutcomeUnknown, nil
	}
	return OutcomeUnknown, fmt.Errorf("unknown outcome %q", s)
}

func (o Outcome) Valid() bool {
	return o == OutcomeYes || o == OutcomeNo || o == OutcomeUnknown
}

// Resolved reports whether o is YES or NO.
func (o Outcome) Resolved() bool {
	return o == OutcomeYes || o == OutcomeNo
}

func (o Outcome) Opposite() Outcome {
	switch o {
	case OutcomeYes:
		return OutcomeNo
	case OutcomeNo:
		return OutcomeYes
	}
	return OutcomeUnknown
}

// Side is the direction of an order against an outcome book.
type Side string

const (
	Buy  Side = "BUY"
	Sell Side = "SELL"
)

// OrderType is the time-in-force of an order intent.
type OrderType string

const (
	FOK OrderType = "FOK"
	GTC OrderType = "GTC"
)

func ParseOrderType(s string) (OrderType, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "FOK", "":
		return FOK, nil
	case "GTC":
		return GTC, nil
	}
	return "", fmt.Errorf("unknown order type %q", s)
}

// Key identifies one outcome side of one market. Admission is serialized
// per Key and at most one order intent is ever dispatched per Key.
type Key struct {
	MarketID string
	Outcome  Outcome
}

func (k Key) String() string {
	return k.MarketID + ":" + string(k.Outcome)
}
