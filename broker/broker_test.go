package broker

import (
	"context"
	"errors"
	"testing"

	"github.com/rustyeddy/arbiter/market"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestIntentFor(t *testing.T) {
	t.Parallel()

	c := market.TradeCandidate{
		Match:     market.MatchResult{Opportunity: market.MarketOpportunity{MarketID: "m1"}},
		Outcome:   market.OutcomeYes,
		Side:      market.Buy,
		OrderType: market.FOK,
		Price:     d("0.85"),
		Size:      d("100"),
	}
	in := IntentFor("c1", c)
	assert.Equal(t, "m1", in.MarketID)
	assert.Equal(t, market.Key{MarketID: "m1", Outcome: market.OutcomeYes}, in.Key())
	assert.True(t, in.Price.Equal(d("0.85")))
	assert.True(t, in.Size.Equal(d("100")))
	require.NoError(t, in.Validate())
}

func TestIntentValidate(t *testing.T) {
	t.Parallel()

	good := OrderIntent{MarketID: "m", Outcome: market.OutcomeNo, Side: market.Buy, Price: d("0.2"), Size: d("5")}
	tests := []struct {
		name string
		mod  func(*OrderIntent)
	}{
		{"market", func(o *OrderIntent) { o.MarketID = "" }},
		{"outcome", func(o *OrderIntent) { o.Outcome = market.OutcomeUnknown }},
		{"price zero", func(o *OrderIntent) { o.Price = decimal.Zero }},
		{"price above one", func(o *OrderIntent) { o.Price = d("1.01") }},
		{"buy size", func(o *OrderIntent) { o.Size = decimal.Zero }},
		{"sell shares", func(o *OrderIntent) { o.Side = market.Sell }},
		{"side", func(o *OrderIntent) { o.Side = "HOLD" }},
	}
	require.NoError(t, good.Validate())
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			o := good
			tt.mod(&o)
			assert.Error(t, o.Validate())
		})
	}
}

func TestExecutionErrors(t *testing.T) {
	t.Parallel()

	rej := Rejection("c1", "fok_unfilled")
	assert.ErrorIs(t, rej, ErrRejected)
	assert.False(t, IsTransport(rej))
	assert.Equal(t, "fok_unfilled", Reason(rej))

	down := Unreachable("c2", errors.New("dial tcp: refused"))
	assert.ErrorIs(t, down, ErrConnectivity)
	assert.True(t, IsTransport(down))
	assert.Contains(t, down.Error(), "refused")

	assert.True(t, IsTransport(Unreachable("c3", nil)))
	assert.True(t, IsTransport(context.DeadlineExceeded))
	assert.Equal(t, "timeout", Reason(context.DeadlineExceeded))
	assert.Empty(t, Reason(nil))
}

func TestExecutorFunc(t *testing.T) {
	t.Parallel()

	var got OrderIntent
	ex := ExecutorFunc(func(_ context.Context, in OrderIntent) (Fill, error) {
		got = in
		return Fill{Price: in.Price}, nil
	})
	f, err := ex.Execute(context.Background(), OrderIntent{MarketID: "m", Price: d("0.4")})
	require.NoError(t, err)
	assert.Equal(t, "m", got.MarketID)
	assert.True(t, f.Price.Equal(d("0.4")))
}
