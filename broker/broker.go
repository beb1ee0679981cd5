package broker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rustyeddy/arbiter/market"
	"github.com/shopspring/decimal"
)

// Executor places one order intent and reports how it ended. A returned
// error is always an *ExecutionError; implementations own their timeouts.
type Executor interface {
	Execute(ctx context.Context, intent OrderIntent) (Fill, error)
}

// ExecutorFunc adapts a plain function to Executor.
type ExecutorFunc func(ctx context.Context, intent OrderIntent) (Fill, error)

func (f ExecutorFunc) Execute(ctx context.Context, intent OrderIntent) (Fill, error) {
	return f(ctx, intent)
}

// OrderIntent is what the engine hands to an executor.
type OrderIntent struct {
	ClientOrderID string           `json:"client_order_id"`
	MarketID      string           `json:"market_id"`
	Outcome       market.Outcome   `json:"outcome"`
	Side          market.Side      `json:"side"`
	OrderType     market.OrderType `json:"order_type"`
	// Price is the limit. Buys never pay more, sells never take less.
	Price decimal.Decimal `json:"price"`
	// Size is USD notional for buys. Sells are expressed in Shares.
	Size   decimal.Decimal `json:"size"`
	Shares decimal.Decimal `json:"shares"`
}

// IntentFor builds the order intent for an admitted candidate.
func IntentFor(clientID string, c market.TradeCandidate) OrderIntent {
	return OrderIntent{
		ClientOrderID: clientID,
		MarketID:      c.Match.Opportunity.MarketID,
		Outcome:       c.Outcome,
		Side:          c.Side,
		OrderType:     c.OrderType,
		Price:         c.Price,
		Size:          c.Size,
		Shares:        c.Shares,
	}
}

func (o OrderIntent) Key() market.Key {
	return market.Key{MarketID: o.MarketID, Outcome: o.Outcome}
}

func (o OrderIntent) Validate() error {
	if o.MarketID == "" {
		return errors.New("order intent: market id required")
	}
	if !o.Outcome.Resolved() {
		return fmt.Errorf("order intent: outcome %q", o.Outcome)
	}
	if o.Price.LessThanOrEqual(decimal.Zero) || o.Price.GreaterThan(decimal.NewFromInt(1)) {
		return fmt.Errorf("order intent: price %s outside (0,1]", o.Price)
	}
	switch o.Side {
	case market.Buy:
		if !o.Size.IsPositive() {
			return fmt.Errorf("order intent: buy size %s", o.Size)
		}
	case market.Sell:
		if !o.Shares.IsPositive() {
			return fmt.Errorf("order intent: sell shares %s", o.Shares)
		}
	default:
		return fmt.Errorf("order intent: side %q", o.Side)
	}
	return nil
}

// Fill is a confirmed execution. Size is USD notional exchanged.
type Fill struct {
	OrderID  string          `json:"order_id"`
	Price    decimal.Decimal `json:"price"`
	Size     decimal.Decimal `json:"size"`
	Shares   decimal.Decimal `json:"shares"`
	Fee      decimal.Decimal `json:"fee"`
	FilledAt time.Time       `json:"filled_at"`
}

var (
	// ErrConnectivity marks failures where the exchange could not be reached.
	ErrConnectivity = errors.New("executor unreachable")
	// ErrRejected marks an exchange-side refusal, e.g. a FOK that could not fill.
	ErrRejected = errors.New("order rejected")
)

// ExecutionError describes an intent that did not fill.
type ExecutionError struct {
	ClientOrderID string
	Reason        string
	Err           error
}

func (e *ExecutionError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("execute %s: %v", e.ClientOrderID, e.Err)
	}
	return fmt.Sprintf("execute %s: %s: %v", e.ClientOrderID, e.Reason, e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }

// Rejection reports an exchange refusal.
func Rejection(clientID, reason string) error {
	return &ExecutionError{ClientOrderID: clientID, Reason: reason, Err: ErrRejected}
}

// Unreachable wraps a transport failure.
func Unreachable(clientID string, err error) error {
	if err == nil {
		err = ErrConnectivity
	} else if !errors.Is(err, ErrConnectivity) {
		err = fmt.Errorf("%w: %v", ErrConnectivity, err)
	}
	return &ExecutionError{ClientOrderID: clientID, Reason: "transport", Err: err}
}

// IsTransport reports whether err counts against connectivity. Context
// deadlines count: a non-response is indistinguishable from an outage.
func IsTransport(err error) bool {
	return errors.Is(err, ErrConnectivity) ||
		errors.Is(err, context.DeadlineExceeded)
}

// Reason extracts a short failure reason for decision records.
func Reason(err error) string {
	var ee *ExecutionError
	if errors.As(err, &ee) && ee.Reason != "" {
		return ee.Reason
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}
	if err != nil {
		return "error"
	}
	return ""
}
