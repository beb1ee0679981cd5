package cmd

import (
	"context"
	"fmt"

	"github.com/rustyeddy/arbiter/journal"
	"github.com/rustyeddy/arbiter/replay"
	"github.com/spf13/cobra"
)

var replayCmd = &cobra.Command{
	Use:   "replay <scenario.yaml>",
	Short: "Replay a scripted scenario against the simulated executor",
	Long: `Drive a YAML scenario through the engine with a manual clock.

The scenario lists the tracked opportunities and a timeline of signals,
book updates, disputes, settlements and operator actions. Replays never
touch the live kill switch checkpoint or dispatch log unless
--keep-state is set.

Example:
  arbiter replay scenarios/cpi.yaml --journal /tmp/cpi.db`,
	Args: cobra.ExactArgs(1),
	RunE: runReplay,
}

var (
	replayJournal   string
	replayKeepState bool
)

func init() {
	rootCmd.AddCommand(replayCmd)

	replayCmd.Flags().StringVar(&replayJournal, "journal", "", "write decisions to this SQLite file")
	replayCmd.Flags().BoolVar(&replayKeepState, "keep-state", false, "restore and update the configured kill switch checkpoint and dispatch log")
}

func runReplay(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	log := newLogger(cfg)

	sc, err := replay.LoadScenario(args[0])
	if err != nil {
		return err
	}

	opts := replay.Options{
		Settings:  cfg.EngineSettings(),
		Sim:       cfg.SimParams(),
		Log:       log,
		KeepState: replayKeepState,
	}
	if replayJournal != "" {
		j, err := journal.NewSQLite(replayJournal)
		if err != nil {
			return fmt.Errorf("open journal: %w", err)
		}
		defer j.Close()
		opts.Journal = j
	}

	res, err := replay.Run(context.Background(), sc, opts)
	if err != nil {
		return fmt.Errorf("replay %s: %w", sc.Name, err)
	}
	return res.WriteText(cmd.OutOrStdout())
}
