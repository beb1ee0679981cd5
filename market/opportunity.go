package market

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// MarketOpportunity is a scanner snapshot of one tradeable binary market.
// The core treats it as read-only except for Disputed.
type MarketOpportunity struct {
	MarketID string `json:"market_id" yaml:"market_id"`
	// EventID groups markets that resolve on the same real-world event;
	// bankroll caps are enforced per EventID.
	EventID string `json:"event_id" yaml:"event_id"`
	// Indicator is the feed indicator the market resolves on, when known.
	Indicator      string    `json:"indicator,omitempty" yaml:"indicator,omitempty"`
	Criterion      string    `json:"criterion" yaml:"criterion"`
	Yes            OrderBook `json:"yes" yaml:"yes"`
	No             OrderBook `json:"no" yaml:"no"`
	FeeRateBps     int64     `json:"fee_rate_bps" yaml:"fee_rate_bps"`
	Disputed       bool      `json:"disputed" yaml:"disputed"`
	OracleResolved bool      `json:"oracle_resolved" yaml:"oracle_resolved"`
	RefreshedAt    time.Time `json:"refreshed_at" yaml:"refreshed_at"`
}

// Book returns the ladder for one outcome.
func (m MarketOpportunity) Book(o Outcome) OrderBook {
	if o == OutcomeNo {
		return m.No
	}
	return m.Yes
}

// FeeRate is the fee as a fraction.
func (m MarketOpportunity) FeeRate() decimal.Decimal {
	return decimal.New(m.FeeRateBps, -4)
}

// EventKey falls back to the market id when no event grouping is known.
func (m MarketOpportunity) EventKey() string {
	if m.EventID != "" {
		return m.EventID
	}
	return m.MarketID
}

func (m MarketOpportunity) Stale(now time.Time, maxAge time.Duration) bool {
	if maxAge <= 0 {
		return false
	}
	return now.Sub(m.RefreshedAt) > maxAge
}

func (m MarketOpportunity) Validate() error {
	if strings.TrimSpace(m.MarketID) == "" {
		return invalid("market_id", "required")
	}
	if m.FeeRateBps < 0 {
		return invalid("fee_rate_bps", "negative")
	}
	if err := m.Yes.Validate(); err != nil {
		return invalid("yes", "%v", err)
	}
	if err := m.No.Validate(); err != nil {
		return invalid("no", "%v", err)
	}
	return nil
}
