package risk

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/rustyeddy/arbiter/internal/util"
	"github.com/rustyeddy/arbiter/market"
	"github.com/shopspring/decimal"
)

var ErrNoPosition = errors.New("no open position")

// Position is a held outcome. Closing archives a copy with the exit fields
// set; an open position is never edited in place.
type Position struct {
	ID             string          `json:"id"`
	MarketID       string          `json:"market_id"`
	EventID        string          `json:"event_id"`
	Outcome        market.Outcome  `json:"outcome"`
	Size           decimal.Decimal `json:"size"` // cost in USD
	Shares         decimal.Decimal `json:"shares"`
	EntryPrice     decimal.Decimal `json:"entry_price"`
	Fee            decimal.Decimal `json:"fee"`
	OracleResolved bool            `json:"oracle_resolved"`
	OpenedAt       time.Time       `json:"opened_at"`

	ClosedAt    time.Time       `json:"closed_at,omitempty"`
	ExitPrice   decimal.Decimal `json:"exit_price,omitempty"`
	Realized    decimal.Decimal `json:"realized,omitempty"`
	CloseReason string          `json:"close_reason,omitempty"`
}

func (p Position) Key() market.Key {
	return market.Key{MarketID: p.MarketID, Outcome: p.Outcome}
}

func (p Position) Closed() bool { return !p.ClosedAt.IsZero() }

// Reservation is capital set aside between commit and the executor result.
type Reservation struct {
	DispatchKey string
	Key         market.Key
	EventID     string
	Side        market.Side
	Size        decimal.Decimal
	Oracle      bool
	At          time.Time
}

type LedgerParams struct {
	Bankroll decimal.Decimal
	// EventCapPct is the fraction of bankroll one event may absorb.
	EventCapPct     decimal.Decimal
	MaxConcurrent   int
	MaxPositionSize decimal.Decimal
	// DispatchLogPath persists dispatch keys across restarts; see
	// OpenDispatchLog.
	DispatchLogPath string
}

// BankrollState is a point-in-time copy of capital accounting.
type BankrollState struct {
	Total     decimal.Decimal            `json:"total"`
	Committed map[string]decimal.Decimal `json:"committed"`
	DailyPnL  decimal.Decimal            `json:"daily_pnl"`
	DayStart  time.Time                  `json:"day_start"`
}

func (b BankrollState) CommittedTotal() decimal.Decimal {
	sum := decimal.Zero
	for _, v := range b.Committed {
		sum = sum.Add(v)
	}
	return sum
}

// Ledger owns bankroll, positions and the dispatch record. Every mutation
// happens under one mutex; readers get copies.
type Ledger struct {
	mu    sync.Mutex
	p     LedgerParams
	clock util.Clock

	total      decimal.Decimal
	committed  map[string]decimal.Decimal
	oracle     decimal.Decimal
	pending    map[string]Reservation
	dispatched map[string]time.Time
	dlog       *os.File
	open       map[market.Key]Position
	closed     []Position
	dailyPnL   decimal.Decimal
	dayStart   time.Time
	seq        int
}

func NewLedger(p LedgerParams, clock util.Clock) *Ledger {
	if clock == nil {
		clock = util.RealClock{}
	}
	now := clock.Now()
	return &Ledger{
		p:          p,
		clock:      clock,
		total:      p.Bankroll,
		committed:  map[string]decimal.Decimal{},
		pending:    map[string]Reservation{},
		dispatched: map[string]time.Time{},
		open:       map[market.Key]Position{},
		dailyPnL:   decimal.Zero,
		dayStart:   dayStart(now),
	}
}

func dayStart(t time.Time) time.Time {
	return t.UTC().Truncate(24 * time.Hour)
}

// EventCap is the per-event ceiling in USD.
func (l *Ledger) EventCap() decimal.Decimal {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.eventCapLocked()
}

func (l *Ledger) eventCapLocked() decimal.Decimal {
	return l.total.Mul(l.p.EventCapPct)
}

func (l *Ledger) rollDayLocked(now time.Time) {
	if ds := dayStart(now); ds.After(l.dayStart) {
		l.dayStart = ds
		l.dailyPnL = decimal.Zero
	}
}

// Commit reserves capital for c and records its dispatch key. Caps are
// re-checked here because gates ran against a snapshot. A key is recorded
// once and never released, so a candidate can be dispatched at most once.
func (l *Ledger) Commit(c market.TradeCandidate) (Reservation, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.clock.Now()
	l.rollDayLocked(now)

	dk := c.DispatchKey()
	if _, ok := l.dispatched[dk]; ok {
		return Reservation{}, veto(DuplicateExecution, "%s already dispatched", dk)
	}

	r := Reservation{
		DispatchKey: dk,
		Key:         c.Key(),
		EventID:     c.EventKey(),
		Side:        c.Side,
		Oracle:      c.Match.Opportunity.OracleResolved,
		At:          now,
	}

	if c.Side == market.Sell {
		if _, ok := l.open[r.Key]; !ok {
			return Reservation{}, fmt.Errorf("%w: %s", ErrNoPosition, r.Key)
		}
		r.Size = decimal.Zero
		if err := l.appendDispatchLocked(dk, now); err != nil {
			return Reservation{}, fmt.Errorf("%w: dispatch log: %v", ErrStateCorruption, err)
		}
		l.dispatched[dk] = now
		l.pending[dk] = r
		return r, nil
	}

	if c.Size.LessThanOrEqual(decimal.Zero) {
		return Reservation{}, fmt.Errorf("%w: non-positive size %s for %s", ErrStateCorruption, c.Size, dk)
	}
	if l.p.MaxPositionSize.IsPositive() && c.Size.GreaterThan(l.p.MaxPositionSize) {
		return Reservation{}, veto(PositionSizeExceeded, "%s > %s", c.Size, l.p.MaxPositionSize)
	}
	after := l.committed[r.EventID].Add(c.Size)
	if limit := l.eventCapLocked(); after.GreaterThan(limit) {
		return Reservation{}, veto(EventCapExceeded, "event %s would hold %s > %s", r.EventID, after, limit)
	}
	if l.p.MaxConcurrent > 0 && len(l.open)+l.pendingBuysLocked() >= l.p.MaxConcurrent {
		return Reservation{}, veto(MaxConcurrentPositions, "%d open or pending", len(l.open)+l.pendingBuysLocked())
	}
	if free := l.total.Sub(l.committedTotalLocked()); c.Size.GreaterThan(free) {
		return Reservation{}, veto(InsufficientBankroll, "%s > free %s", c.Size, free)
	}

	if err := l.appendDispatchLocked(dk, now); err != nil {
		return Reservation{}, fmt.Errorf("%w: dispatch log: %v", ErrStateCorruption, err)
	}
	r.Size = c.Size
	l.committed[r.EventID] = after
	if r.Oracle {
		l.oracle = l.oracle.Add(c.Size)
	}
	l.dispatched[dk] = now
	l.pending[dk] = r
	return r, nil
}

func (l *Ledger) pendingBuysLocked() int {
	n := 0
	for _, r := range l.pending {
		if r.Side == market.Buy {
			n++
		}
	}
	return n
}

func (l *Ledger) committedTotalLocked() decimal.Decimal {
	sum := decimal.Zero
	for _, v := range l.committed {
		sum = sum.Add(v)
	}
	return sum
}

func (l *Ledger) takePendingLocked(r Reservation) error {
	if _, ok := l.pending[r.DispatchKey]; !ok {
		return fmt.Errorf("%w: no pending reservation %s", ErrStateCorruption, r.DispatchKey)
	}
	delete(l.pending, r.DispatchKey)
	return nil
}

func (l *Ledger) releaseLocked(event string, amount decimal.Decimal, oracle bool) error {
	left := l.committed[event].Sub(amount)
	if left.IsNegative() {
		return fmt.Errorf("%w: committed capital for %s would go to %s", ErrStateCorruption, event, left)
	}
	if left.IsZero() {
		delete(l.committed, event)
	} else {
		l.committed[event] = left
	}
	if oracle {
		l.oracle = l.oracle.Sub(amount)
		if l.oracle.IsNegative() {
			return fmt.Errorf("%w: oracle exposure went negative", ErrStateCorruption)
		}
	}
	return nil
}

// Release returns a failed reservation's capital. The dispatch key stays
// recorded: failed intents are never retried.
func (l *Ledger) Release(r Reservation) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.takePendingLocked(r); err != nil {
		return err
	}
	return l.releaseLocked(r.EventID, r.Size, r.Oracle)
}

// Open turns a filled buy reservation into a position. Committed capital
// is re-based from the reserved notional to the actual cost.
func (l *Ledger) Open(r Reservation, price, shares, fee decimal.Decimal) (Position, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.takePendingLocked(r); err != nil {
		return Position{}, err
	}
	if shares.IsNegative() || price.IsNegative() {
		return Position{}, fmt.Errorf("%w: fill %s @ %s", ErrStateCorruption, shares, price)
	}
	if _, ok := l.open[r.Key]; ok {
		return Position{}, fmt.Errorf("%w: second position on %s", ErrStateCorruption, r.Key)
	}

	cost := price.Mul(shares)
	if err := l.releaseLocked(r.EventID, r.Size, r.Oracle); err != nil {
		return Position{}, err
	}
	l.committed[r.EventID] = l.committed[r.EventID].Add(cost)
	if r.Oracle {
		l.oracle = l.oracle.Add(cost)
	}

	l.seq++
	p := Position{
		ID:             fmt.Sprintf("%s#%d", r.Key, l.seq),
		MarketID:       r.Key.MarketID,
		EventID:        r.EventID,
		Outcome:        r.Key.Outcome,
		Size:           cost,
		Shares:         shares,
		EntryPrice:     price,
		Fee:            fee,
		OracleResolved: r.Oracle,
		OpenedAt:       l.clock.Now(),
	}
	l.open[r.Key] = p
	return p, nil
}

// Close archives the position on key at exitPrice per share and realizes
// P&L into the bankroll and the day's total.
func (l *Ledger) Close(key market.Key, exitPrice, fee decimal.Decimal, reason string) (Position, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closeLocked(key, exitPrice, fee, reason)
}

func (l *Ledger) closeLocked(key market.Key, exitPrice, fee decimal.Decimal, reason string) (Position, error) {
	now := l.clock.Now()
	l.rollDayLocked(now)

	p, ok := l.open[key]
	if !ok {
		return Position{}, fmt.Errorf("%w: %s", ErrNoPosition, key)
	}
	if err := l.releaseLocked(p.EventID, p.Size, p.OracleResolved); err != nil {
		return Position{}, err
	}
	delete(l.open, key)

	p.ClosedAt = now
	p.ExitPrice = exitPrice
	p.CloseReason = reason
	p.Realized = exitPrice.Mul(p.Shares).Sub(p.Size).Sub(p.Fee).Sub(fee)
	p.Fee = p.Fee.Add(fee)
	l.total = l.total.Add(p.Realized)
	l.dailyPnL = l.dailyPnL.Add(p.Realized)
	l.closed = append(l.closed, p)

	if l.total.IsNegative() {
		return p, fmt.Errorf("%w: bankroll went to %s", ErrStateCorruption, l.total)
	}
	return p, nil
}

// CloseExit settles a filled sell reservation.
func (l *Ledger) CloseExit(r Reservation, price, fee decimal.Decimal) (Position, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.takePendingLocked(r); err != nil {
		return Position{}, err
	}
	return l.closeLocked(r.Key, price, fee, "flatten")
}

// Settle closes every open position in marketID at 1 for the winning
// outcome and 0 otherwise.
func (l *Ledger) Settle(marketID string, winner market.Outcome) ([]Position, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var out []Position
	for _, o := range []market.Outcome{market.OutcomeYes, market.OutcomeNo} {
		key := market.Key{MarketID: marketID, Outcome: o}
		if _, ok := l.open[key]; !ok {
			continue
		}
		exit := decimal.Zero
		if o == winner {
			exit = market.One
		}
		p, err := l.closeLocked(key, exit, decimal.Zero, "settled")
		if err != nil {
			return out, err
		}
		out = append(out, p)
	}
	return out, nil
}

func (l *Ledger) Dispatched(dispatchKey string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.dispatched[dispatchKey]
	return ok
}

func (l *Ledger) Position(key market.Key) (Position, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	p, ok := l.open[key]
	return p, ok
}

// OpenPositions returns open positions ordered by key.
func (l *Ledger) OpenPositions() []Position {
	l.mu.Lock()
	out := make([]Position, 0, len(l.open))
	for _, p := range l.open {
		out = append(out, p)
	}
	l.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Key().String() < out[j].Key().String() })
	return out
}

func (l *Ledger) PositionsIn(marketID string) []Position {
	var out []Position
	for _, p := range l.OpenPositions() {
		if p.MarketID == marketID {
			out = append(out, p)
		}
	}
	return out
}

func (l *Ledger) ClosedPositions() []Position {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Position(nil), l.closed...)
}

func (l *Ledger) Bankroll() BankrollState {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rollDayLocked(l.clock.Now())
	committed := make(map[string]decimal.Decimal, len(l.committed))
	for k, v := range l.committed {
		committed[k] = v
	}
	return BankrollState{Total: l.total, Committed: committed, DailyPnL: l.dailyPnL, DayStart: l.dayStart}
}

// fill copies ledger state into s.
func (l *Ledger) fill(s *Snapshot) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rollDayLocked(l.clock.Now())

	s.Bankroll = l.total
	s.EventCap = l.eventCapLocked()
	s.Committed = make(map[string]decimal.Decimal, len(l.committed))
	for k, v := range l.committed {
		s.Committed[k] = v
	}
	s.OpenPositions = len(l.open) + l.pendingBuysLocked()
	s.OracleExposure = l.oracle
	s.DailyPnL = l.dailyPnL
	s.Dispatched = make(map[string]bool, len(l.dispatched))
	for k := range l.dispatched {
		s.Dispatched[k] = true
	}
	s.Held = make(map[market.Key]bool, len(l.open))
	for k := range l.open {
		s.Held[k] = true
	}
}
