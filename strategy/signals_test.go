package strategy

import (
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/rustyeddy/arbiter/market"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newGenerator() *Generator {
	return NewGenerator(SignalParams{
		MinConfidence: d("0.99"),
		MinEdge:       d("0.05"),
		MaxStaleness:  30 * time.Second,
		BaseSize:      d("100"),
	}, zerolog.Nop())
}

func match(sig market.Signal, opp market.MarketOpportunity) market.MatchResult {
	return market.MatchResult{
		Signal:      sig,
		Opportunity: opp,
		Implied:     market.OutcomeYes,
		Confidence:  sig.Confidence,
		Specificity: ExactWeight,
	}
}

func asReject(t *testing.T, err error) *Reject {
	t.Helper()
	var r *Reject
	require.True(t, errors.As(err, &r), "got %v", err)
	return r
}

func TestEvaluateScenarioA(t *testing.T) {
	t.Parallel()

	c, err := newGenerator().Evaluate(match(cpiSignal("0.995"), cpiOpp("m1")), now)
	require.NoError(t, err)

	assert.Equal(t, market.OutcomeYes, c.Outcome)
	assert.Equal(t, market.Buy, c.Side)
	assert.Equal(t, market.FOK, c.OrderType)
	assert.True(t, c.Edge.Equal(d("0.15")), "edge %s", c.Edge)
	assert.True(t, c.Price.Equal(d("0.85")))
	assert.True(t, c.Requested.Equal(d("100")))
	assert.True(t, c.Liquidity.Round(6).Equal(d("2000")), "depth %s", c.Liquidity)
	assert.True(t, c.Joint.Equal(d("0.995")))
}

func TestEvaluateConfidenceGate(t *testing.T) {
	t.Parallel()

	g := newGenerator()
	// Confidence is checked before staleness and edge, so the outcome holds
	// whatever else is wrong with the match.
	stale := cpiSignal("0.97")
	stale.ObservedAt = now.Add(-time.Hour)
	noEdge := cpiOpp("m2")
	noEdge.Yes = book("2000", "0.99")

	for _, m := range []market.MatchResult{
		match(cpiSignal("0.97"), cpiOpp("m1")),
		match(stale, cpiOpp("m1")),
		match(cpiSignal("0.97"), noEdge),
	} {
		_, err := g.Evaluate(m, now)
		r := asReject(t, err)
		assert.Equal(t, market.RejectedConfidence, r.Outcome)
		assert.Equal(t, ReasonLowConfidence, r.Reason)
	}
}

func TestEvaluateJointUsesMatchConfidence(t *testing.T) {
	t.Parallel()

	m := match(cpiSignal("0.995"), cpiOpp("m1"))
	m.Confidence = d("0.94525")
	_, err := newGenerator().Evaluate(m, now)
	assert.Equal(t, market.RejectedConfidence, asReject(t, err).Outcome)
}

func TestEvaluateRejectsEdge(t *testing.T) {
	t.Parallel()

	g := newGenerator()

	stale := cpiSignal("0.995")
	stale.ObservedAt = now.Add(-time.Minute)
	_, err := g.Evaluate(match(stale, cpiOpp("m1")), now)
	r := asReject(t, err)
	assert.Equal(t, market.RejectedEdge, r.Outcome)
	assert.Equal(t, ReasonStale, r.Reason)

	thin := cpiOpp("m1")
	thin.Yes = book("2000", "0.97")
	_, err = g.Evaluate(match(cpiSignal("0.995"), thin), now)
	assert.Equal(t, ReasonLowEdge, asReject(t, err).Reason)

	empty := cpiOpp("m1")
	empty.Yes = market.OrderBook{}
	_, err = g.Evaluate(match(cpiSignal("0.995"), empty), now)
	assert.Equal(t, ReasonNoLiquidity, asReject(t, err).Reason)
}

func TestEvaluateWalksLadder(t *testing.T) {
	t.Parallel()

	o := cpiOpp("m1")
	// $50 at 0.80 then $50 at 0.90.
	o.Yes = book("50", "0.80", "0.90")
	c, err := newGenerator().Evaluate(match(cpiSignal("0.995"), o), now)
	require.NoError(t, err)
	assert.True(t, c.Price.Equal(d("0.90")), "limit is worst level touched")
	assert.True(t, c.AvgPrice.GreaterThan(d("0.80")))
	assert.True(t, c.AvgPrice.LessThan(d("0.90")))
}

func TestEvaluateNoOutcome(t *testing.T) {
	t.Parallel()

	m := match(cpiSignal("0.995"), cpiOpp("m1"))
	m.Implied = market.OutcomeNo
	c, err := newGenerator().Evaluate(m, now)
	require.NoError(t, err)
	assert.Equal(t, market.OutcomeNo, c.Outcome)
	assert.True(t, c.Price.Equal(d("0.16")))
	assert.Equal(t, "m1:NO", c.Key().String())
}
