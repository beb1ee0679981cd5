package sim

import (
	"time"

	"github.com/rustyeddy/arbiter/market"
	"github.com/shopspring/decimal"
)

// Status of a simulated order.
type Status string

const (
	StatusFilled   Status = "filled"
	StatusRejected Status = "rejected"
	StatusDown     Status = "unreachable"
)

// Trade is one entry in the simulator's fill log. Rejected and unreachable
// intents are logged too, with zero fill fields.
type Trade struct {
	ID            string          `json:"id"`
	ClientOrderID string          `json:"client_order_id"`
	MarketID      string          `json:"market_id"`
	Outcome       market.Outcome  `json:"outcome"`
	Side          market.Side     `json:"side"`
	Limit         decimal.Decimal `json:"limit"`
	Price         decimal.Decimal `json:"price"`
	Shares        decimal.Decimal `json:"shares"`
	Size          decimal.Decimal `json:"size"`
	Fee           decimal.Decimal `json:"fee"`
	Status        Status          `json:"status"`
	Reason        string          `json:"reason,omitempty"`
	At            time.Time       `json:"at"`
}

func (t Trade) Filled() bool { return t.Status == StatusFilled }
