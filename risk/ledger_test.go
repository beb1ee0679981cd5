package risk

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rustyeddy/arbiter/market"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLedgerCommitOpenScenarioA(t *testing.T) {
	t.Parallel()

	l := NewLedger(ledgerParams(), newClock())
	c := buy(opp("m1", "e1"), "100")

	r, err := l.Commit(c)
	require.NoError(t, err)
	assert.True(t, r.Size.Equal(d("100")))
	assert.True(t, l.Bankroll().Committed["e1"].Equal(d("100")))
	assert.True(t, l.Dispatched("m1:YES:BUY"))

	p, err := l.Open(r, d("0.85"), c.Shares, decimal.Zero)
	require.NoError(t, err)
	assert.Equal(t, "m1", p.MarketID)
	assert.Equal(t, market.OutcomeYes, p.Outcome)
	assert.True(t, p.Size.Round(8).Equal(d("100")), "cost %s", p.Size)
	assert.True(t, l.Bankroll().Committed["e1"].Round(8).Equal(d("100")))
	assert.Len(t, l.OpenPositions(), 1)
}

func TestLedgerCommitRefusals(t *testing.T) {
	t.Parallel()

	l := NewLedger(ledgerParams(), newClock())
	_, err := l.Commit(buy(opp("m1", "e1"), "300"))
	require.NoError(t, err)

	_, err = l.Commit(buy(opp("m1", "e1"), "100"))
	requireVeto(t, err, DuplicateExecution)

	_, err = l.Commit(buy(opp("m2", "e1"), "201"))
	requireVeto(t, err, EventCapExceeded)

	_, err = l.Commit(buy(opp("m3", "e2"), "501"))
	requireVeto(t, err, PositionSizeExceeded)

	_, err = l.Commit(buy(opp("m4", "e2"), "0"))
	assert.ErrorIs(t, err, ErrStateCorruption)
}

func TestLedgerConcurrentCap(t *testing.T) {
	t.Parallel()

	p := ledgerParams()
	p.MaxConcurrent = 2
	l := NewLedger(p, newClock())
	_, err := l.Commit(buy(opp("a", "e1"), "10"))
	require.NoError(t, err)
	_, err = l.Commit(buy(opp("b", "e2"), "10"))
	require.NoError(t, err)
	_, err = l.Commit(buy(opp("c", "e3"), "10"))
	requireVeto(t, err, MaxConcurrentPositions)
}

func TestLedgerReleaseNeverRedispatches(t *testing.T) {
	t.Parallel()

	l := NewLedger(ledgerParams(), newClock())
	r, err := l.Commit(buy(opp("m1", "e1"), "100"))
	require.NoError(t, err)
	require.NoError(t, l.Release(r))
	assert.True(t, l.Bankroll().CommittedTotal().IsZero())

	_, err = l.Commit(buy(opp("m1", "e1"), "100"))
	requireVeto(t, err, DuplicateExecution)

	assert.ErrorIs(t, l.Release(r), ErrStateCorruption, "double release")
}

func TestLedgerEventCapUnderConcurrency(t *testing.T) {
	t.Parallel()

	l := NewLedger(ledgerParams(), newClock())
	var wg sync.WaitGroup
	var mu sync.Mutex
	admitted := 0
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := string(rune('A'+i%26)) + string(rune('a'+i/26))
			if _, err := l.Commit(buy(opp(id, "e1"), "60")); err == nil {
				mu.Lock()
				admitted++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 8, admitted)
	assert.True(t, l.Bankroll().Committed["e1"].LessThanOrEqual(l.EventCap()))
}

func TestLedgerSettleRealizes(t *testing.T) {
	t.Parallel()

	l := NewLedger(ledgerParams(), newClock())
	r, err := l.Commit(buy(opp("m1", "e1"), "85"))
	require.NoError(t, err)
	_, err = l.Open(r, d("0.85"), d("100"), decimal.Zero)
	require.NoError(t, err)

	closed, err := l.Settle("m1", market.OutcomeYes)
	require.NoError(t, err)
	require.Len(t, closed, 1)
	assert.True(t, closed[0].Realized.Equal(d("15")))
	assert.True(t, closed[0].Closed())
	assert.Equal(t, "settled", closed[0].CloseReason)

	b := l.Bankroll()
	assert.True(t, b.Total.Equal(d("10015")))
	assert.True(t, b.DailyPnL.Equal(d("15")))
	assert.True(t, b.CommittedTotal().IsZero())
	assert.Empty(t, l.OpenPositions())
	assert.Len(t, l.ClosedPositions(), 1)
}

func TestLedgerSettleLoss(t *testing.T) {
	t.Parallel()

	l := NewLedger(ledgerParams(), newClock())
	r, _ := l.Commit(buy(opp("m1", "e1"), "85"))
	_, err := l.Open(r, d("0.85"), d("100"), d("1"))
	require.NoError(t, err)

	closed, err := l.Settle("m1", market.OutcomeNo)
	require.NoError(t, err)
	assert.True(t, closed[0].Realized.Equal(d("-86")))
	assert.True(t, l.Bankroll().DailyPnL.Equal(d("-86")))
}

func TestLedgerDailyReset(t *testing.T) {
	t.Parallel()

	clock := newClock()
	l := NewLedger(ledgerParams(), clock)
	r, _ := l.Commit(buy(opp("m1", "e1"), "85"))
	_, _ = l.Open(r, d("0.85"), d("100"), decimal.Zero)
	_, err := l.Settle("m1", market.OutcomeNo)
	require.NoError(t, err)
	assert.True(t, l.Bankroll().DailyPnL.Equal(d("-85")))

	clock.Advance(12 * time.Hour)
	b := l.Bankroll()
	assert.True(t, b.DailyPnL.IsZero())
	assert.True(t, b.Total.Equal(d("9915")), "bankroll keeps realized P&L")
	assert.Equal(t, time.Date(2025, 3, 13, 0, 0, 0, 0, time.UTC), b.DayStart)
}

func TestLedgerExit(t *testing.T) {
	t.Parallel()

	l := NewLedger(ledgerParams(), newClock())
	o := opp("m1", "e1")
	r, _ := l.Commit(buy(o, "85"))
	_, err := l.Open(r, d("0.85"), d("100"), decimal.Zero)
	require.NoError(t, err)

	sell := market.TradeCandidate{Match: market.MatchResult{Opportunity: o}, Outcome: market.OutcomeYes, Side: market.Sell, Shares: d("100")}
	sr, err := l.Commit(sell)
	require.NoError(t, err)

	_, err = l.Commit(sell)
	requireVeto(t, err, DuplicateExecution)

	p, err := l.CloseExit(sr, d("0.80"), decimal.Zero)
	require.NoError(t, err)
	assert.True(t, p.Realized.Equal(d("-5")))
	assert.Equal(t, "flatten", p.CloseReason)

	_, err = l.Commit(market.TradeCandidate{Match: market.MatchResult{Opportunity: opp("m9", "e9")}, Outcome: market.OutcomeYes, Side: market.Sell})
	assert.True(t, errors.Is(err, ErrNoPosition))
}

func TestLedgerOracleExposure(t *testing.T) {
	t.Parallel()

	l := NewLedger(ledgerParams(), newClock())
	o := opp("m1", "e1")
	o.OracleResolved = true
	r, _ := l.Commit(buy(o, "100"))

	var s Snapshot
	l.fill(&s)
	assert.True(t, s.OracleExposure.Equal(d("100")))
	assert.Equal(t, 1, s.OpenPositions)
	assert.True(t, s.Dispatched["m1:YES:BUY"])

	require.NoError(t, l.Release(r))
	l.fill(&s)
	assert.True(t, s.OracleExposure.IsZero())
	assert.Zero(t, s.OpenPositions)
}
