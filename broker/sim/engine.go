package sim

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rustyeddy/arbiter/broker"
	"github.com/rustyeddy/arbiter/id"
	"github.com/rustyeddy/arbiter/internal/util"
	"github.com/rustyeddy/arbiter/market"
	"github.com/shopspring/decimal"
)

var (
	ErrTradeNotFound = errors.New("trade not found")
	ErrDuplicateID   = errors.New("client order id already used")
)

// Books is what the simulator fills against.
type Books interface {
	Get(marketID string) (market.MarketOpportunity, error)
}

// Params tune the simulator.
type Params struct {
	// SlippageBps worsens the average fill price. A fill whose slipped
	// price crosses the intent limit is rejected.
	SlippageBps int64
	// FillProbability in [0,1]; zero means always fill. The draw is a hash
	// of the client order id and Seed, so runs are reproducible.
	FillProbability decimal.Decimal
	Seed            uint64
	// Consume removes filled liquidity from the book when Books is a
	// *market.Store.
	Consume bool
}

// Engine is a paper executor that fills order intents fill-or-kill against
// the current ladders.
type Engine struct {
	mu     sync.Mutex
	p      Params
	books  Books
	clock  util.Clock
	log    zerolog.Logger
	trades map[string]*Trade
	order  []string
	seen   map[string]bool

	down     bool
	failNext int
}

func NewEngine(p Params, books Books, clock util.Clock, log zerolog.Logger) *Engine {
	if clock == nil {
		clock = util.RealClock{}
	}
	return &Engine{
		p:      p,
		books:  books,
		clock:  clock,
		log:    log.With().Str("component", "sim").Logger(),
		trades: make(map[string]*Trade),
		seen:   make(map[string]bool),
	}
}

// SetConnected toggles a simulated outage. While down every intent fails
// with broker.ErrConnectivity.
func (e *Engine) SetConnected(up bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.down = !up
}

// FailNext makes the next n intents fail as unreachable.
func (e *Engine) FailNext(n int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.failNext += n
}

func (e *Engine) Execute(ctx context.Context, in broker.OrderIntent) (broker.Fill, error) {
	if err := ctx.Err(); err != nil {
		return broker.Fill{}, broker.Unreachable(in.ClientOrderID, err)
	}
	if err := in.Validate(); err != nil {
		return broker.Fill{}, &broker.ExecutionError{ClientOrderID: in.ClientOrderID, Reason: "invalid", Err: err}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.seen[in.ClientOrderID] {
		return broker.Fill{}, &broker.ExecutionError{ClientOrderID: in.ClientOrderID, Reason: "duplicate", Err: ErrDuplicateID}
	}
	e.seen[in.ClientOrderID] = true

	t := &Trade{
		ID:            id.NewAt(e.clock.Now()),
		ClientOrderID: in.ClientOrderID,
		MarketID:      in.MarketID,
		Outcome:       in.Outcome,
		Side:          in.Side,
		Limit:         in.Price,
		At:            e.clock.Now(),
	}

	if e.down || e.failNext > 0 {
		if e.failNext > 0 {
			e.failNext--
		}
		t.Status, t.Reason = StatusDown, "transport"
		e.recordLocked(t)
		return broker.Fill{}, broker.Unreachable(in.ClientOrderID, nil)
	}

	if reason := e.fillLocked(in, t); reason != "" {
		t.Status, t.Reason = StatusRejected, reason
		e.recordLocked(t)
		return broker.Fill{}, broker.Rejection(in.ClientOrderID, reason)
	}

	t.Status = StatusFilled
	e.recordLocked(t)
	return broker.Fill{
		OrderID:  t.ID,
		Price:    t.Price,
		Size:     t.Size,
		Shares:   t.Shares,
		Fee:      t.Fee,
		FilledAt: t.At,
	}, nil
}

// fillLocked prices the intent and returns a rejection reason, or "" with t
// populated.
func (e *Engine) fillLocked(in broker.OrderIntent, t *Trade) string {
	if e.books == nil {
		return "no_book"
	}
	opp, err := e.books.Get(in.MarketID)
	if err != nil {
		return "unknown_market"
	}
	if !e.draw(in.ClientOrderID) {
		return "not_filled"
	}

	book := opp.Book(in.Outcome)
	slip := decimal.New(e.p.SlippageBps, -4)

	switch in.Side {
	case market.Buy:
		f := book.WalkAsks(in.Size)
		if !f.Complete {
			return "fok_unfilled"
		}
		price := f.AvgPrice.Mul(decimal.NewFromInt(1).Add(slip))
		if f.WorstPrice.GreaterThan(in.Price) || price.GreaterThan(in.Price) {
			return "limit_crossed"
		}
		t.Price = price
		t.Size = in.Size
		t.Shares = in.Size.DivRound(price, 16)
		if e.p.Consume {
			book.Asks = consume(book.Asks, t.Shares)
		}
	case market.Sell:
		f := book.WalkBids(in.Shares)
		if !f.Complete {
			return "fok_unfilled"
		}
		price := f.AvgPrice.Mul(decimal.NewFromInt(1).Sub(slip))
		if f.WorstPrice.LessThan(in.Price) || price.LessThan(in.Price) {
			return "limit_crossed"
		}
		t.Price = price
		t.Shares = in.Shares
		t.Size = in.Shares.Mul(price)
		if e.p.Consume {
			book.Bids = consume(book.Bids, t.Shares)
		}
	default:
		return "bad_side"
	}
	t.Fee = t.Size.Mul(opp.FeeRate())

	if e.p.Consume {
		if s, ok := e.books.(*market.Store); ok {
			yes, no := opp.Yes, opp.No
			if in.Outcome == market.OutcomeNo {
				no = book
			} else {
				yes = book
			}
			if err := s.UpdateBooks(in.MarketID, yes, no); err != nil {
				e.log.Warn().Err(err).Str("market", in.MarketID).Msg("consume liquidity")
			}
		}
	}
	return ""
}

// consume removes shares from the front of a ladder.
func consume(levels []market.Level, shares decimal.Decimal) []market.Level {
	out := make([]market.Level, 0, len(levels))
	left := shares
	for _, l := range levels {
		if left.IsPositive() {
			take := decimal.Min(left, l.Size)
			l.Size = l.Size.Sub(take)
			left = left.Sub(take)
		}
		if l.Size.IsPositive() {
			out = append(out, l)
		}
	}
	return out
}

func (e *Engine) draw(clientID string) bool {
	if !e.p.FillProbability.IsPositive() || e.p.FillProbability.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return true
	}
	h := fnv.New64a()
	_, _ = fmt.Fprintf(h, "%d/%s", e.p.Seed, clientID)
	u := decimal.NewFromInt(int64(h.Sum64() % 1_000_000)).Shift(-6)
	return u.LessThan(e.p.FillProbability)
}

func (e *Engine) recordLocked(t *Trade) {
	e.trades[t.ID] = t
	e.order = append(e.order, t.ID)
	ev := e.log.Debug()
	if t.Status != StatusFilled {
		ev = e.log.Info()
	}
	ev.Str("client_order_id", t.ClientOrderID).
		Str("market", t.MarketID).
		Str("outcome", string(t.Outcome)).
		Str("side", string(t.Side)).
		Str("status", string(t.Status)).
		Str("reason", t.Reason).
		Str("price", t.Price.String()).
		Msg("sim order")
}

// Trade returns one log entry by simulator id.
func (e *Engine) Trade(tradeID string) (Trade, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	t, ok := e.trades[tradeID]
	if !ok {
		return Trade{}, fmt.Errorf("trade %q: %w", tradeID, ErrTradeNotFound)
	}
	return *t, nil
}

// Trades returns the fill log in arrival order.
func (e *Engine) Trades() []Trade {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Trade, 0, len(e.order))
	for _, tid := range e.order {
		out = append(out, *e.trades[tid])
	}
	return out
}

// Filled counts successful fills.
func (e *Engine) Filled() int {
	n := 0
	for _, t := range e.Trades() {
		if t.Filled() {
			n++
		}
	}
	return n
}
