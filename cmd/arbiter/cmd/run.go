package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rustyeddy/arbiter/broker/sim"
	"github.com/rustyeddy/arbiter/engine"
	"github.com/rustyeddy/arbiter/journal"
	"github.com/rustyeddy/arbiter/market"
	"github.com/rustyeddy/arbiter/metrics"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the engine against an opportunity snapshot and a signal feed",
	Long: `Run the engine with the paper executor.

Opportunities are read once from a YAML file; the feed is JSON lines, one
object per line with exactly one of "signal", "dispute", "settle" or
"snapshot". The engine drains the feed and exits at EOF or on SIGINT.

Example:
  arbiter run -c arbiter.yaml --opportunities opps.yaml --feed signals.jsonl`,
	RunE: runRun,
}

var (
	runOppsPath string
	runFeedPath string
)

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVarP(&runOppsPath, "opportunities", "o", "", "YAML file of tracked opportunities (required)")
	runCmd.Flags().StringVarP(&runFeedPath, "feed", "f", "-", "JSONL feed path, - for stdin")
	_ = runCmd.MarkFlagRequired("opportunities")
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	log := newLogger(cfg)

	opps, err := loadOpportunities(runOppsPath)
	if err != nil {
		return err
	}
	store := market.NewStore()
	now := time.Now().UTC()
	for _, o := range opps {
		if o.RefreshedAt.IsZero() {
			o.RefreshedAt = now
		}
		if err := store.Set(o); err != nil {
			return fmt.Errorf("opportunity %s: %w", o.MarketID, err)
		}
	}

	j, err := journal.Open(cfg.Journal)
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}
	defer j.Close()

	m := metrics.New()
	exec := sim.NewEngine(cfg.SimParams(), store, nil, log)
	eng, err := engine.New(cfg.EngineSettings(), engine.Deps{
		Store:    store,
		Executor: exec,
		Journal:  j,
		Metrics:  m,
		Log:      log,
	})
	if err != nil {
		return err
	}
	if err := eng.Restore(); err != nil {
		return err
	}
	if halted, cause := eng.Risk.KillSwitch.Halted(); halted {
		log.Warn().Str("cause", cause).Msg("starting halted; every candidate will be vetoed until `arbiter killswitch reset`")
	}

	in, err := openFeed(runFeedPath)
	if err != nil {
		return fmt.Errorf("open feed: %w", err)
	}
	defer in.Close()

	sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(sigCtx)
	defer cancel()

	f := newFeed(cfg.Engine.QueueDepth, log)
	g, gctx := errgroup.WithContext(ctx)
	if cfg.Metrics.Addr != "" {
		g.Go(func() error { return m.Serve(gctx, cfg.Metrics.Addr) })
		log.Info().Str("addr", cfg.Metrics.Addr).Msg("serving /metrics")
	}
	g.Go(func() error { return f.read(gctx, in) })
	g.Go(func() error {
		// The engine returns once the feed is drained; stop the rest.
		defer cancel()
		return eng.Run(gctx, f.inputs())
	})

	log.Info().Int("opportunities", store.Len()).Str("feed", runFeedPath).Msg("engine started")
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	b := eng.Risk.Ledger.Bankroll()
	st := eng.Risk.KillSwitch.Status()
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "bankroll %s committed %s day P&L %s\n",
		b.Total.StringFixed(2), b.CommittedTotal().StringFixed(2), b.DailyPnL.StringFixed(2))
	fmt.Fprintf(out, "open positions %d, orders %d (%d filled), skipped feed lines %d\n",
		len(eng.Risk.Ledger.OpenPositions()), len(exec.Trades()), exec.Filled(), f.skipped)
	fmt.Fprintf(out, "kill switch %s %s\n", st.State, st.Cause)
	return nil
}
