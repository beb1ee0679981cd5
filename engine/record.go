package engine

import (
	"errors"
	"time"

	"github.com/rustyeddy/arbiter/id"
	"github.com/rustyeddy/arbiter/journal"
	"github.com/rustyeddy/arbiter/market"
	"github.com/rustyeddy/arbiter/metrics"
	"github.com/rustyeddy/arbiter/risk"
	"github.com/rustyeddy/arbiter/strategy"
	"github.com/shopspring/decimal"
)

// build assembles a decision. Veto carries the reason code of every
// outcome other than filled.
func (e *Engine) build(sigID string, c market.TradeCandidate, t market.Terminal, reason, detail string, at time.Time) market.TradeDecision {
	return market.TradeDecision{
		ID:        id.NewAt(at),
		SignalID:  sigID,
		Candidate: c,
		Terminal:  t,
		Admitted:  t.Admitted(),
		Veto:      reason,
		Detail:    detail,
		DecidedAt: at,
	}
}

func (e *Engine) decision(sigID string, c market.TradeCandidate, t market.Terminal, reason, detail string, at time.Time) market.TradeDecision {
	d := e.build(sigID, c, t, reason, detail, at)
	e.record(d)
	return d
}

// rejection maps a pre-risk stage error onto a decision.
func (e *Engine) rejection(sigID string, c market.TradeCandidate, err error, at time.Time) market.TradeDecision {
	var (
		rej *strategy.Reject
		v   *risk.Veto
	)
	switch {
	case errors.As(err, &rej):
		return e.decision(sigID, c, rej.Outcome, rej.Reason, rej.Detail, at)
	case errors.As(err, &v):
		return e.decision(sigID, c, market.RejectedRisk, v.Code, v.Detail, at)
	}
	return e.decision(sigID, c, market.RejectedRisk, risk.StateCorruption, err.Error(), at)
}

func reasonOf(d market.TradeDecision) string {
	if d.Terminal == market.Filled {
		return ""
	}
	return d.Veto
}

func (e *Engine) record(d market.TradeDecision) {
	c := d.Candidate
	rec := journal.DecisionRecord{
		ID:               d.ID,
		SignalID:         d.SignalID,
		MarketID:         c.Match.Opportunity.MarketID,
		EventID:          c.EventKey(),
		Outcome:          string(c.Outcome),
		Side:             string(c.Side),
		Terminal:         string(d.Terminal),
		Admitted:         d.Admitted,
		Veto:             d.Veto,
		Detail:           d.Detail,
		SignalConfidence: c.Match.Signal.Confidence,
		MatchConfidence:  c.Match.Confidence,
		JointConfidence:  c.Joint,
		Edge:             c.Edge,
		Price:            c.Price,
		Requested:        c.Requested,
		Size:             c.Size,
		Profit:           c.Profit,
		FillPrice:        d.FillPrice,
		Synthetic:        c.Synthetic,
		DecidedAt:        d.DecidedAt,
	}
	if err := e.journal.RecordDecision(rec); err != nil {
		e.log.Error().Err(err).Str("decision", d.ID).Msg("journal decision")
	}

	e.metrics.DecisionsTotal.WithLabelValues(string(d.Terminal)).Inc()
	if d.Terminal != market.Filled && d.Veto != "" {
		e.metrics.VetoesTotal.WithLabelValues(d.Veto).Inc()
	}

	ev := e.log.Debug()
	if d.Terminal.Admitted() {
		ev = e.log.Info()
	}
	ev.Str("signal", d.SignalID).
		Str("market", rec.MarketID).
		Str("outcome", rec.Outcome).
		Str("side", rec.Side).
		Str("terminal", rec.Terminal).
		Str("reason", d.Veto).
		Str("detail", d.Detail).
		Stringer("edge", c.Edge).
		Stringer("size", c.Size).
		Msg("decision")
}

// finish writes the one record every signal gets.
func (e *Engine) finish(sig market.Signal, out Outcome, at time.Time) {
	candidates := 0
	for _, d := range out.Decisions {
		if !d.Candidate.Size.IsZero() || d.Terminal.Admitted() {
			candidates++
		}
	}
	rec := journal.SignalRecord{
		SignalID:   out.SignalID,
		Source:     sig.Source,
		Indicator:  sig.IndicatorID,
		Fact:       sig.Fact(),
		Confidence: sig.Confidence,
		Terminal:   string(out.Terminal),
		Reason:     out.Reason,
		Matches:    out.Matches,
		Candidates: candidates,
		ObservedAt: sig.ObservedAt,
		DecidedAt:  at,
	}
	if err := e.journal.RecordSignal(rec); err != nil {
		e.log.Error().Err(err).Str("signal", out.SignalID).Msg("journal signal")
	}
	e.metrics.SignalsTotal.WithLabelValues(string(out.Terminal)).Inc()

	ev := e.log.Debug()
	if out.Terminal.Admitted() {
		ev = e.log.Info()
	}
	ev.Str("signal", out.SignalID).
		Str("source", sig.Source).
		Str("indicator", sig.IndicatorID).
		Str("terminal", string(out.Terminal)).
		Str("reason", out.Reason).
		Int("matches", out.Matches).
		Msg("signal resolved")
}

func (e *Engine) recordPosition(p risk.Position) {
	rec := journal.PositionRecord{
		PositionID:  p.ID,
		MarketID:    p.MarketID,
		EventID:     p.EventID,
		Outcome:     string(p.Outcome),
		Shares:      p.Shares,
		Cost:        p.Size,
		EntryPrice:  p.EntryPrice,
		ExitPrice:   p.ExitPrice,
		Fee:         p.Fee,
		Realized:    p.Realized,
		Status:      "open",
		CloseReason: p.CloseReason,
		OpenedAt:    p.OpenedAt,
		ClosedAt:    p.ClosedAt,
	}
	if p.Closed() {
		rec.Status = "closed"
	}
	if err := e.journal.RecordPosition(rec); err != nil {
		e.log.Error().Err(err).Str("position", p.ID).Msg("journal position")
	}
}

func (e *Engine) onTransition(t risk.Transition) {
	err := e.journal.RecordTransition(journal.TransitionRecord{
		From:   string(t.From),
		To:     string(t.To),
		Cause:  t.Cause,
		Detail: t.Detail,
		At:     t.At,
	})
	if err != nil {
		e.log.Error().Err(err).Msg("journal transition")
	}
	e.observe()
}

// observe refreshes the state gauges.
func (e *Engine) observe() {
	s := e.Risk.Snapshot()
	metrics.Set(e.metrics.Bankroll, s.Bankroll)
	metrics.Set(e.metrics.Committed, sum(s.Committed))
	metrics.Set(e.metrics.DailyPnL, s.DailyPnL)
	metrics.Set(e.metrics.OracleExposure, s.OracleExposure)
	e.metrics.OpenPositions.Set(float64(s.OpenPositions))
	e.metrics.DisputedMarkets.Set(float64(len(s.Disputed)))
	if s.Halted {
		e.metrics.Halted.Set(1)
	} else {
		e.metrics.Halted.Set(0)
	}
}

func sum(m map[string]decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, v := range m {
		total = total.Add(v)
	}
	return total
}
