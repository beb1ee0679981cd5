package engine

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rustyeddy/arbiter/broker"
	"github.com/rustyeddy/arbiter/id"
	"github.com/rustyeddy/arbiter/market"
	"github.com/rustyeddy/arbiter/risk"
	"github.com/rustyeddy/arbiter/strategy"
)

type job struct {
	signal market.Signal
	cand   market.TradeCandidate
	result chan market.TradeDecision
}

// lanes serializes admission per market key. A key with queued work has
// exactly one goroutine draining it, so an execution in flight holds up
// only later jobs on the same key.
type lanes struct {
	admit func(job) market.TradeDecision

	mu     sync.Mutex
	queues map[market.Key]*lane
	wg     sync.WaitGroup
}

// lane is the FIFO for one key. Urgent jobs (dispute flattens) are taken
// before queued entries.
type lane struct {
	urgent []job
	jobs   []job
}

func newLanes(admit func(job) market.TradeDecision) *lanes {
	return &lanes{admit: admit, queues: make(map[market.Key]*lane)}
}

// submit queues j behind earlier work on its key. It never blocks.
func (l *lanes) submit(j job, urgent bool) {
	k := j.cand.Key()
	l.mu.Lock()
	defer l.mu.Unlock()
	q, ok := l.queues[k]
	if !ok {
		q = &lane{}
		l.queues[k] = q
		l.wg.Add(1)
		go l.drain(k, q)
	}
	if urgent {
		q.urgent = append(q.urgent, j)
	} else {
		q.jobs = append(q.jobs, j)
	}
}

func (l *lanes) drain(k market.Key, q *lane) {
	defer l.wg.Done()
	for {
		l.mu.Lock()
		var j job
		switch {
		case len(q.urgent) > 0:
			j, q.urgent = q.urgent[0], q.urgent[1:]
		case len(q.jobs) > 0:
			j, q.jobs = q.jobs[0], q.jobs[1:]
		default:
			delete(l.queues, k)
			l.mu.Unlock()
			return
		}
		l.mu.Unlock()
		j.result <- l.admit(j)
	}
}

// wait blocks until every queued job has been admitted. Callers must stop
// submitting first.
func (l *lanes) wait() { l.wg.Wait() }

// admit gates, commits, dispatches and settles one candidate. No engine
// lock is held across the executor call; the lane simply does not take
// its next job until the result is applied.
func (e *Engine) admit(j job) market.TradeDecision {
	c := j.cand
	sigID := j.signal.ID
	now := e.clock.Now()

	if !c.Synthetic && e.s.Signals.MaxStaleness > 0 {
		if age := j.signal.Age(now); age > e.s.Signals.MaxStaleness {
			return e.decision(sigID, c, market.RejectedEdge, strategy.ReasonStale, age.String(), now)
		}
	}

	snap := e.Risk.Snapshot()
	if v := e.Risk.Evaluate(c, snap); !v.Allowed {
		return e.decision(sigID, c, market.RejectedRisk, v.Reason(), vetoDetail(v.Veto), now)
	}

	r, err := e.Risk.Commit(c)
	if err != nil {
		var v *risk.Veto
		switch {
		case errors.As(err, &v):
			return e.decision(sigID, c, market.RejectedRisk, v.Code, v.Detail, now)
		case errors.Is(err, risk.ErrNoPosition):
			return e.decision(sigID, c, market.RejectedRisk, risk.NoPosition, err.Error(), now)
		default:
			return e.decision(sigID, c, market.RejectedRisk, risk.StateCorruption, err.Error(), now)
		}
	}

	intent := broker.IntentFor(id.ClientOrderID(now), c)
	e.log.Info().
		Str("signal", sigID).
		Str("client_order_id", intent.ClientOrderID).
		Str("market", intent.MarketID).
		Str("outcome", string(intent.Outcome)).
		Str("side", string(intent.Side)).
		Stringer("price", intent.Price).
		Stringer("size", intent.Size).
		Msg("dispatch")

	// A dispatched intent is never cancelled by the engine; only the
	// executor timeout bounds it.
	xctx, cancel := context.WithTimeout(context.Background(), e.s.ExecTimeout)
	start := time.Now()
	fill, err := e.exec.Execute(xctx, intent)
	cancel()
	e.metrics.ExecSeconds.Observe(time.Since(start).Seconds())

	done := e.clock.Now()
	if err != nil {
		e.metrics.OrdersTotal.WithLabelValues(string(c.Side), "failed").Inc()
		if ferr := e.Risk.ApplyFailure(r, broker.IsTransport(err)); ferr != nil {
			e.log.Error().Err(ferr).Str("key", r.DispatchKey).Msg("apply failure")
		}
		e.observe()
		return e.decision(sigID, c, market.ExecutionFailed, broker.Reason(err), err.Error(), done)
	}

	e.metrics.OrdersTotal.WithLabelValues(string(c.Side), "filled").Inc()
	p, err := e.Risk.ApplyFill(r, fill.Price, fill.Shares, fill.Fee)
	if err != nil {
		e.log.Error().Err(err).Str("key", r.DispatchKey).Msg("apply fill")
	} else {
		e.recordPosition(p)
	}
	e.observe()
	d := e.build(sigID, c, market.Filled, "", fill.OrderID, done)
	d.FillPrice = fill.Price
	e.record(d)
	return d
}

func vetoDetail(v *risk.Veto) string {
	if v == nil {
		return ""
	}
	return v.Detail
}
