package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rustyeddy/arbiter/broker"
	"github.com/rustyeddy/arbiter/id"
	"github.com/rustyeddy/arbiter/internal/util"
	"github.com/rustyeddy/arbiter/journal"
	"github.com/rustyeddy/arbiter/market"
	"github.com/rustyeddy/arbiter/metrics"
	"github.com/rustyeddy/arbiter/risk"
	"github.com/rustyeddy/arbiter/strategy"
	"golang.org/x/sync/errgroup"
)

var ErrStopped = errors.New("engine stopped")

// Settings is the validated, immutable engine configuration.
type Settings struct {
	Matcher           strategy.MatcherParams
	Signals           strategy.SignalParams
	Sizer             strategy.SizerParams
	MaxTradesPerEvent int
	Risk              risk.ManagerParams

	// MaxInFlight bounds how many signals Run has accepted but not yet
	// finished. A full window pauses the feeds, not the lanes.
	MaxInFlight int
	ExecTimeout time.Duration
}

// Deps are the collaborators the engine drives.
type Deps struct {
	Store    *market.Store
	Executor broker.Executor
	Journal  journal.Journal
	Metrics  *metrics.Metrics
	Clock    util.Clock
	Log      zerolog.Logger
}

// Outcome is the single terminal result of one signal.
type Outcome struct {
	SignalID  string
	Terminal  market.Terminal
	Reason    string
	Matches   int
	Decisions []market.TradeDecision
}

// Engine runs every signal through match, generate, size, prioritize and
// then per-key admission. Stage one is serialized behind intake so
// candidates reach their lanes in signal arrival order.
type Engine struct {
	s Settings

	store   *market.Store
	exec    broker.Executor
	journal journal.Journal
	metrics *metrics.Metrics
	clock   util.Clock
	log     zerolog.Logger

	Risk        *risk.Manager
	matcher     *strategy.Matcher
	generator   *strategy.Generator
	sizer       *strategy.Sizer
	prioritizer *strategy.Prioritizer

	intake   sync.Mutex
	stopped  bool // guarded by intake
	lanes    *lanes
	inflight sync.WaitGroup

	runMu   sync.Mutex
	running bool
	done    chan struct{}
}

func New(s Settings, d Deps) (*Engine, error) {
	if d.Store == nil {
		return nil, errors.New("engine: store required")
	}
	if d.Executor == nil {
		return nil, errors.New("engine: executor required")
	}
	if d.Journal == nil {
		d.Journal = journal.Nop{}
	}
	if d.Metrics == nil {
		d.Metrics = metrics.New()
	}
	if d.Clock == nil {
		d.Clock = util.RealClock{}
	}
	if s.MaxInFlight <= 0 {
		s.MaxInFlight = 64
	}
	if s.ExecTimeout <= 0 {
		s.ExecTimeout = 10 * time.Second
	}

	log := d.Log.With().Str("component", "engine").Logger()
	e := &Engine{
		s:           s,
		store:       d.Store,
		exec:        d.Executor,
		journal:     d.Journal,
		metrics:     d.Metrics,
		clock:       d.Clock,
		log:         log,
		Risk:        risk.NewManager(s.Risk, d.Store, d.Clock, d.Log),
		matcher:     strategy.NewMatcher(s.Matcher, d.Log),
		generator:   strategy.NewGenerator(s.Signals, d.Log),
		sizer:       strategy.NewSizer(s.Sizer),
		prioritizer: strategy.NewPrioritizer(s.MaxTradesPerEvent),
		done:        make(chan struct{}),
	}
	e.lanes = newLanes(e.admit)
	e.Risk.KillSwitch.OnTransition(e.onTransition)
	return e, nil
}

// Restore reloads a persisted halt and the dispatch log. Call before Run.
func (e *Engine) Restore() error {
	halted, err := e.Risk.KillSwitch.Restore()
	if err != nil {
		return fmt.Errorf("restore kill switch: %w", err)
	}
	if halted {
		st := e.Risk.KillSwitch.Status()
		e.log.Warn().Str("cause", st.Cause).Time("since", st.Since).Msg("resuming halted")
	}
	n, err := e.Risk.Ledger.OpenDispatchLog(e.s.Risk.Ledger.DispatchLogPath)
	if err != nil {
		return fmt.Errorf("restore dispatch log: %w", err)
	}
	if n > 0 {
		e.log.Info().Int("keys", n).Msg("dispatch keys restored")
	}
	e.observe()
	return nil
}

// Inputs are the asynchronous feeds Run consumes. Any may be nil.
type Inputs struct {
	Signals     []<-chan market.Signal
	Disputes    <-chan risk.DisputeNotice
	Settlements <-chan risk.SettlementNotice
	Snapshots   <-chan []market.MarketOpportunity
}

// Run drains inputs until ctx is done or every input channel is closed.
// Feeds only accept work; waiting for outcomes happens off the feed
// goroutines. Before returning, Run stops intake and lets every accepted
// signal reach its terminal. With no inputs Run blocks until ctx is done.
func (e *Engine) Run(ctx context.Context, in Inputs) error {
	e.runMu.Lock()
	if e.running {
		e.runMu.Unlock()
		return errors.New("engine: already running")
	}
	e.running = true
	e.runMu.Unlock()
	defer close(e.done)
	defer e.Risk.Ledger.CloseDispatchLog()

	window := make(chan struct{}, e.s.MaxInFlight)
	feeds, fctx := errgroup.WithContext(ctx)
	for i, ch := range in.Signals {
		ch, feed := ch, i
		feeds.Go(func() error {
			for {
				select {
				case <-fctx.Done():
					return nil
				case sig, ok := <-ch:
					if !ok {
						return nil
					}
					e.handoff(feed, sig, window)
				}
			}
		})
	}
	if in.Disputes != nil {
		feeds.Go(func() error {
			for {
				select {
				case <-fctx.Done():
					return nil
				case n, ok := <-in.Disputes:
					if !ok {
						return nil
					}
					waits, err := e.flatten(n)
					if err != nil {
						e.log.Error().Err(err).Str("market", n.MarketID).Msg("dispute")
						continue
					}
					e.inflight.Add(1)
					go func() {
						defer e.inflight.Done()
						collect(waits)
					}()
				}
			}
		})
	}
	if in.Settlements != nil {
		feeds.Go(func() error {
			for {
				select {
				case <-fctx.Done():
					return nil
				case n, ok := <-in.Settlements:
					if !ok {
						return nil
					}
					if _, err := e.Settle(n); err != nil {
						e.log.Error().Err(err).Str("market", n.MarketID).Msg("settlement")
					}
				}
			}
		})
	}
	if in.Snapshots != nil {
		feeds.Go(func() error {
			for {
				select {
				case <-fctx.Done():
					return nil
				case snap, ok := <-in.Snapshots:
					if !ok {
						return nil
					}
					for _, err := range e.store.Replace(snap) {
						e.log.Warn().Err(err).Msg("scanner snapshot entry dropped")
					}
				}
			}
		})
	}

	// Feed errors are logged, not returned; the group only ends the feeds.
	_ = feeds.Wait()
	if len(in.Signals) == 0 && in.Disputes == nil && in.Settlements == nil && in.Snapshots == nil {
		<-ctx.Done()
	}
	e.stop()
	e.inflight.Wait()
	return nil
}

// Done is closed when Run returns.
func (e *Engine) Done() <-chan struct{} { return e.done }

// handoff accepts sig on the feed goroutine, keeping arrival order, and
// waits for its terminal on another. A full window blocks the feed until
// an accepted signal finishes; a signal read off a feed is never dropped.
func (e *Engine) handoff(feed int, sig market.Signal, window chan struct{}) {
	window <- struct{}{}
	p, err := e.accept(sig)
	if err != nil {
		<-window
		e.log.Error().Err(err).Int("feed", feed).Str("signal", p.out.SignalID).Msg("process signal")
		return
	}
	e.inflight.Add(1)
	go func() {
		defer e.inflight.Done()
		defer func() { <-window }()
		e.await(p)
	}()
}

// stop refuses new work and waits for the lanes to empty.
func (e *Engine) stop() {
	e.intake.Lock()
	e.stopped = true
	e.intake.Unlock()
	e.lanes.wait()
}

// Process runs one signal to its terminal outcome. ctx only guards
// acceptance: once accepted, the signal always reaches a recorded
// terminal, bounded by the executor timeout of the work queued ahead of
// it. The error is non-nil only when the signal was not accepted.
func (e *Engine) Process(ctx context.Context, sig market.Signal) (Outcome, error) {
	if err := ctx.Err(); err != nil {
		return Outcome{SignalID: sig.ID}, err
	}
	p, err := e.accept(sig)
	if err != nil {
		return p.out, err
	}
	return e.await(p), nil
}

// pending is an accepted signal whose admitted candidates are queued.
type pending struct {
	sig     market.Signal
	out     Outcome
	decided []market.TradeDecision
	waits   []chan market.TradeDecision
}

// accept runs stage one and queues admitted candidates on their lanes.
func (e *Engine) accept(sig market.Signal) (*pending, error) {
	now := e.clock.Now()
	if sig.ID == "" {
		sig.ID = id.NewAt(now)
	}
	p := &pending{sig: sig, out: Outcome{SignalID: sig.ID, Terminal: market.NoMatch}}

	e.intake.Lock()
	defer e.intake.Unlock()
	if e.stopped {
		return p, ErrStopped
	}

	if err := sig.Validate(); err != nil {
		p.out.Terminal, p.out.Reason = market.RejectedInvalid, err.Error()
		e.log.Warn().Err(err).Str("signal", sig.ID).Msg("invalid signal")
		return p, nil
	}

	matches := e.matcher.Match(sig, e.store.Snapshot(), now)
	p.out.Matches = len(matches)

	var candidates []market.TradeCandidate
	for _, m := range matches {
		c, err := e.candidate(m, now)
		if err != nil {
			p.decided = append(p.decided, e.rejection(sig.ID, c, err, now))
			continue
		}
		candidates = append(candidates, c)
	}

	snap := e.Risk.Snapshot()
	admitted, overflow := e.prioritizer.Rank(candidates, strategy.Capacity{
		EventCap:  snap.EventCap,
		Committed: snap.Committed,
		Slots:     e.slots(snap),
	})
	for _, c := range overflow {
		p.decided = append(p.decided, e.decision(sig.ID, c, market.RejectedRisk, strategy.ReasonCapitalExhausted, "", now))
	}

	for _, c := range admitted {
		j := job{signal: sig, cand: c, result: make(chan market.TradeDecision, 1)}
		e.lanes.submit(j, false)
		p.waits = append(p.waits, j.result)
	}
	return p, nil
}

// await collects every queued result, picks the terminal by precedence
// and records the signal.
func (e *Engine) await(p *pending) Outcome {
	out := p.out
	decisions := append(p.decided, collect(p.waits)...)
	if len(decisions) > 0 {
		out.Decisions = decisions
	}
	for _, d := range decisions {
		if d.Terminal.Dominates(out.Terminal) || out.Reason == "" && d.Terminal == out.Terminal {
			out.Terminal = d.Terminal
			out.Reason = reasonOf(d)
		}
	}
	e.finish(p.sig, out, e.clock.Now())
	return out
}

func collect(waits []chan market.TradeDecision) []market.TradeDecision {
	var out []market.TradeDecision
	for _, w := range waits {
		out = append(out, <-w)
	}
	return out
}

// candidate runs generate, quality and size for one match.
func (e *Engine) candidate(m market.MatchResult, now time.Time) (market.TradeCandidate, error) {
	c, err := e.generator.Evaluate(m, now)
	if err != nil {
		c.Match = m
		c.Outcome = m.Implied
		c.Side = market.Buy
		return c, err
	}
	if v := e.Risk.Quality.Check(c.Match.Opportunity, c.Outcome, c.Profit); !v.Allowed {
		return c, v.Veto
	}
	bankroll := e.Risk.Ledger.Bankroll().Total
	sized, err := e.sizer.Apply(c, bankroll)
	if err != nil {
		return c, err
	}
	return sized, nil
}

func (e *Engine) slots(s risk.Snapshot) int {
	max := e.s.Risk.Ledger.MaxConcurrent
	if max <= 0 {
		return int(^uint(0) >> 1)
	}
	if n := max - s.OpenPositions; n > 0 {
		return n
	}
	return 0
}

// Dispute applies a dispute notice and, when configured, flattens held
// positions ahead of any queued entries on the same keys.
func (e *Engine) Dispute(ctx context.Context, n risk.DisputeNotice) ([]market.TradeDecision, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	waits, err := e.flatten(n)
	if err != nil {
		return nil, err
	}
	return collect(waits), nil
}

// flatten applies n and queues its exits as urgent jobs.
func (e *Engine) flatten(n risk.DisputeNotice) ([]chan market.TradeDecision, error) {
	if n.At.IsZero() {
		n.At = e.clock.Now()
	}
	e.intake.Lock()
	if e.stopped {
		e.intake.Unlock()
		return nil, ErrStopped
	}
	exits := e.Risk.Dispute(n)
	sig := market.Signal{ID: "dispute:" + n.MarketID}
	waits := make([]chan market.TradeDecision, 0, len(exits))
	for _, c := range exits {
		j := job{signal: sig, cand: c, result: make(chan market.TradeDecision, 1)}
		e.lanes.submit(j, true)
		waits = append(waits, j.result)
	}
	e.intake.Unlock()

	e.log.Info().Str("market", n.MarketID).Bool("raised", n.Raised).Int("flatten", len(exits)).Msg("dispute")
	e.observe()
	return waits, nil
}

// Settle closes positions in a resolved market.
func (e *Engine) Settle(n risk.SettlementNotice) ([]risk.Position, error) {
	if n.At.IsZero() {
		n.At = e.clock.Now()
	}
	closed, err := e.Risk.Settle(n)
	for _, p := range closed {
		e.recordPosition(p)
	}
	e.log.Info().Str("market", n.MarketID).Str("winner", string(n.Winner)).Int("closed", len(closed)).Msg("settlement")
	e.observe()
	return closed, err
}

// Halt trips the kill switch by hand.
func (e *Engine) Halt(detail string) {
	e.Risk.KillSwitch.Trip(risk.CauseManual, detail)
}

// Reset clears a halt. The engine never calls this itself.
func (e *Engine) Reset(by string) {
	e.Risk.KillSwitch.Reset(by)
	e.observe()
}

// ReportConnectivityBreach halts immediately on an executor-reported outage.
func (e *Engine) ReportConnectivityBreach(detail string) {
	e.Risk.KillSwitch.Trip(risk.CauseConnectivity, detail)
}
