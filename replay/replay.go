package replay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/rs/zerolog"
	"github.com/rustyeddy/arbiter/broker/sim"
	"github.com/rustyeddy/arbiter/engine"
	"github.com/rustyeddy/arbiter/internal/util"
	"github.com/rustyeddy/arbiter/journal"
	"github.com/rustyeddy/arbiter/market"
	"github.com/rustyeddy/arbiter/metrics"
	"github.com/rustyeddy/arbiter/risk"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

// Options controls one replay run.
type Options struct {
	Settings engine.Settings
	Sim      sim.Params
	Journal  journal.Journal
	Metrics  *metrics.Metrics
	Log      zerolog.Logger
	// KeepState restores and keeps writing the configured kill switch
	// checkpoint and dispatch log. By default a replay never touches
	// live state.
	KeepState bool
}

// Result summarizes a finished replay.
type Result struct {
	Scenario   string
	Outcomes   []engine.Outcome
	ByTerminal map[market.Terminal]int
	Exits      []market.TradeDecision
	Trades     []sim.Trade
	Bankroll   risk.BankrollState
	Open       []risk.Position
	Closed     []risk.Position
	Realized   decimal.Decimal
	KillSwitch risk.KillSwitchStatus
}

// Run drives sc through a real engine against the simulated executor with
// a manual clock. Events are applied one at a time, so two runs of the
// same scenario produce the same result.
func Run(ctx context.Context, sc Scenario, opts Options) (Result, error) {
	if err := sc.Validate(); err != nil {
		return Result{}, err
	}
	log := opts.Log.With().Str("component", "replay").Str("scenario", sc.Name).Logger()

	clock := util.NewManualClock(sc.Start)
	store := market.NewStore()
	for _, o := range sc.Opportunities {
		if o.RefreshedAt.IsZero() {
			o.RefreshedAt = sc.Start
		}
		if err := store.Set(o); err != nil {
			return Result{}, fmt.Errorf("opportunity %s: %w", o.MarketID, err)
		}
	}

	settings := opts.Settings
	if !opts.KeepState {
		settings.Risk.KillSwitch.StatePath = ""
		settings.Risk.Ledger.DispatchLogPath = ""
	}
	exec := sim.NewEngine(opts.Sim, store, clock, opts.Log)
	eng, err := engine.New(settings, engine.Deps{
		Store:    store,
		Executor: exec,
		Journal:  opts.Journal,
		Metrics:  opts.Metrics,
		Clock:    clock,
		Log:      opts.Log,
	})
	if err != nil {
		return Result{}, err
	}
	if opts.KeepState {
		if err := eng.Restore(); err != nil {
			return Result{}, err
		}
	}

	rctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(rctx)
	g.Go(func() error { return eng.Run(gctx, engine.Inputs{}) })

	res := Result{Scenario: sc.Name, ByTerminal: map[market.Terminal]int{}}
	stepErr := func() error {
		for i, ev := range sc.timeline() {
			clock.Set(sc.Start.Add(ev.At))
			if err := step(gctx, eng, exec, store, clock, ev, &res); err != nil {
				return fmt.Errorf("event %d (%s at %s): %w", i, ev.Kind, ev.At, err)
			}
		}
		return nil
	}()

	cancel()
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return res, err
	}
	if stepErr != nil {
		return res, stepErr
	}

	res.Trades = exec.Trades()
	res.Bankroll = eng.Risk.Ledger.Bankroll()
	res.Open = eng.Risk.Ledger.OpenPositions()
	res.Closed = eng.Risk.Ledger.ClosedPositions()
	res.Realized = decimal.Zero
	for _, p := range res.Closed {
		res.Realized = res.Realized.Add(p.Realized)
	}
	res.KillSwitch = eng.Risk.KillSwitch.Status()

	log.Info().
		Int("signals", len(res.Outcomes)).
		Int("trades", len(res.Trades)).
		Stringer("realized", res.Realized).
		Str("state", string(res.KillSwitch.State)).
		Msg("replay finished")
	return res, nil
}

func step(ctx context.Context, eng *engine.Engine, exec *sim.Engine, store *market.Store, clock *util.ManualClock, ev Event, res *Result) error {
	now := clock.Now()
	switch strings.ToLower(ev.Kind) {
	case KindSignal:
		sig := *ev.Signal
		if sig.ObservedAt.IsZero() {
			sig.ObservedAt = now
		}
		out, err := eng.Process(ctx, sig)
		if err != nil {
			return err
		}
		res.Outcomes = append(res.Outcomes, out)
		res.ByTerminal[out.Terminal]++

	case KindBooks:
		o, err := store.Get(ev.Books.MarketID)
		if err != nil {
			return err
		}
		o.Yes, o.No = ev.Books.Yes, ev.Books.No
		o.RefreshedAt = now
		return store.Set(o)

	case KindSnapshot:
		snap := make([]market.MarketOpportunity, len(ev.Snapshot))
		for i, o := range ev.Snapshot {
			if o.RefreshedAt.IsZero() {
				o.RefreshedAt = now
			}
			snap[i] = o
		}
		if errs := store.Replace(snap); len(errs) > 0 {
			return errors.Join(errs...)
		}

	case KindDispute:
		n := *ev.Dispute
		exits, err := eng.Dispute(ctx, n)
		res.Exits = append(res.Exits, exits...)
		return err

	case KindSettle:
		_, err := eng.Settle(*ev.Settle)
		return err

	case KindHalt:
		eng.Halt(ev.Detail)
	case KindReset:
		eng.Reset(ev.Detail)
	case KindConnectivity:
		eng.ReportConnectivityBreach(ev.Detail)
	case KindDisconnect:
		exec.SetConnected(false)
	case KindReconnect:
		exec.SetConnected(true)
	}
	return nil
}

// WriteText prints a human summary of r.
func (r Result) WriteText(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "scenario\t%s\n", r.Scenario)
	fmt.Fprintf(tw, "signals\t%d\n", len(r.Outcomes))

	terms := make([]string, 0, len(r.ByTerminal))
	for t := range r.ByTerminal {
		terms = append(terms, string(t))
	}
	sort.Strings(terms)
	for _, t := range terms {
		fmt.Fprintf(tw, "  %s\t%d\n", t, r.ByTerminal[market.Terminal(t)])
	}

	filled := 0
	for _, t := range r.Trades {
		if t.Filled() {
			filled++
		}
	}
	fmt.Fprintf(tw, "orders\t%d (%d filled)\n", len(r.Trades), filled)
	fmt.Fprintf(tw, "open positions\t%d\n", len(r.Open))
	fmt.Fprintf(tw, "closed positions\t%d\n", len(r.Closed))
	fmt.Fprintf(tw, "realized\t%s\n", r.Realized.StringFixed(2))
	fmt.Fprintf(tw, "bankroll\t%s\n", r.Bankroll.Total.StringFixed(2))
	fmt.Fprintf(tw, "committed\t%s\n", r.Bankroll.CommittedTotal().StringFixed(2))
	state := string(r.KillSwitch.State)
	if r.KillSwitch.Cause != "" {
		state += " (" + r.KillSwitch.Cause + ")"
	}
	fmt.Fprintf(tw, "kill switch\t%s\n", state)
	return tw.Flush()
}
