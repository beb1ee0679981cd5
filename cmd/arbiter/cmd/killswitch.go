package cmd

import (
	"errors"
	"fmt"
	"os/user"

	"github.com/rustyeddy/arbiter/risk"
	"github.com/spf13/cobra"
)

var killswitchCmd = &cobra.Command{
	Use:     "killswitch",
	Aliases: []string{"ks"},
	Short:   "Inspect or change the persisted kill switch state",
	Long: `A halt survives restarts through the checkpoint at
kill_switch.state_path. Only an operator reset returns the engine to
RUNNING.

Examples:
  arbiter killswitch status
  arbiter killswitch halt --reason "exchange maintenance"
  arbiter killswitch reset --by alice`,
}

var killswitchStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print the checkpointed state",
	Args:  cobra.NoArgs,
	RunE:  runKillswitchStatus,
}

var killswitchResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Return a halted switch to RUNNING",
	Args:  cobra.NoArgs,
	RunE:  runKillswitchReset,
}

var killswitchHaltCmd = &cobra.Command{
	Use:   "halt",
	Short: "Halt manually",
	Args:  cobra.NoArgs,
	RunE:  runKillswitchHalt,
}

var (
	resetBy    string
	haltReason string
)

func init() {
	rootCmd.AddCommand(killswitchCmd)
	killswitchCmd.AddCommand(killswitchStatusCmd)
	killswitchCmd.AddCommand(killswitchResetCmd)
	killswitchCmd.AddCommand(killswitchHaltCmd)

	killswitchResetCmd.Flags().StringVar(&resetBy, "by", "", "operator name recorded with the reset (default current user)")
	killswitchHaltCmd.Flags().StringVar(&haltReason, "reason", "operator halt", "detail recorded with the halt")
}

// loadKillSwitch builds a switch from config and restores its checkpoint.
func loadKillSwitch() (*risk.KillSwitch, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	p := cfg.EngineSettings().Risk.KillSwitch
	if p.StatePath == "" {
		return nil, errors.New("kill_switch.state_path is not set")
	}
	ks := risk.NewKillSwitch(p, nil, newLogger(cfg))
	if _, err := ks.Restore(); err != nil {
		return nil, fmt.Errorf("restore %s: %w", p.StatePath, err)
	}
	return ks, nil
}

func runKillswitchStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	path := cfg.KillSwitch.StatePath
	ck, ok, err := risk.LoadCheckpoint(path)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if !ok {
		fmt.Fprintf(out, "%s (no checkpoint at %s)\n", risk.Running, path)
		return nil
	}
	fmt.Fprintf(out, "%s", ck.State)
	if ck.Cause != "" {
		fmt.Fprintf(out, " cause=%s", ck.Cause)
	}
	if ck.Detail != "" {
		fmt.Fprintf(out, " detail=%q", ck.Detail)
	}
	fmt.Fprintf(out, " since=%s\n", ck.Since.UTC().Format("2006-01-02 15:04:05"))
	for _, t := range ck.Transitions {
		fmt.Fprintf(out, "  %s %s -> %s %s %s\n",
			t.At.UTC().Format("2006-01-02 15:04:05"), t.From, t.To, t.Cause, t.Detail)
	}
	return nil
}

func runKillswitchReset(cmd *cobra.Command, args []string) error {
	ks, err := loadKillSwitch()
	if err != nil {
		return err
	}
	if halted, _ := ks.Halted(); !halted {
		fmt.Fprintln(cmd.OutOrStdout(), "kill switch is not halted")
		return nil
	}
	by := resetBy
	if by == "" {
		by = currentUser()
	}
	ks.Reset(by)
	if err := ks.Save(); err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "✓ kill switch reset by %s\n", by)
	return nil
}

func runKillswitchHalt(cmd *cobra.Command, args []string) error {
	ks, err := loadKillSwitch()
	if err != nil {
		return err
	}
	ks.Trip(risk.CauseManual, haltReason)
	if err := ks.Save(); err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}
	st := ks.Status()
	fmt.Fprintf(cmd.OutOrStdout(), "✓ kill switch %s cause=%s\n", st.State, st.Cause)
	return nil
}

func currentUser() string {
	if u, err := user.Current(); err == nil && u.Username != "" {
		return u.Username
	}
	return "operator"
}
