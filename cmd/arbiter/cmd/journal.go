package cmd

import (
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/rustyeddy/arbiter/journal"
	"github.com/spf13/cobra"
)

var journalCmd = &cobra.Command{
	Use:   "journal",
	Short: "Query the decision journal",
	Long: `Query decision journal records from the SQLite database.

Subcommands:
  report      - Summarize signals, vetoes and P&L for a day or range
  decisions   - List decisions, optionally filtered
  decision    - Show one decision by id
  transitions - List kill switch transitions
  positions   - List positions

Examples:
  arbiter journal report --day 2025-03-12
  arbiter journal decisions --terminal rejected_risk --limit 20
  arbiter journal decision 01JPB4Q6...`,
}

var journalReportCmd = &cobra.Command{
	Use:   "report",
	Short: "Summarize a day or range as org-mode",
	Args:  cobra.NoArgs,
	RunE:  runJournalReport,
}

var journalDecisionsCmd = &cobra.Command{
	Use:   "decisions",
	Short: "List decisions",
	Args:  cobra.NoArgs,
	RunE:  runJournalDecisions,
}

var journalDecisionCmd = &cobra.Command{
	Use:   "decision <id>",
	Short: "Show every score recorded for one decision",
	Args:  cobra.ExactArgs(1),
	RunE:  runJournalDecision,
}

var journalTransitionsCmd = &cobra.Command{
	Use:   "transitions",
	Short: "List kill switch transitions",
	Args:  cobra.NoArgs,
	RunE:  runJournalTransitions,
}

var journalPositionsCmd = &cobra.Command{
	Use:   "positions",
	Short: "List positions",
	Args:  cobra.NoArgs,
	RunE:  runJournalPositions,
}

var (
	journalDBPath string

	reportDay  string
	reportFrom string
	reportTo   string

	decisionsFilter journal.DecisionFilter
	positionsStatus string
)

func init() {
	rootCmd.AddCommand(journalCmd)
	journalCmd.AddCommand(journalReportCmd)
	journalCmd.AddCommand(journalDecisionsCmd)
	journalCmd.AddCommand(journalDecisionCmd)
	journalCmd.AddCommand(journalTransitionsCmd)
	journalCmd.AddCommand(journalPositionsCmd)

	journalCmd.PersistentFlags().StringVarP(&journalDBPath, "db", "d", "", "path to SQLite journal DB (default journal.path from config)")

	journalReportCmd.Flags().StringVar(&reportDay, "day", "", "day to report, YYYY-MM-DD (default today)")
	journalReportCmd.Flags().StringVar(&reportFrom, "from", "", "range start, YYYY-MM-DD")
	journalReportCmd.Flags().StringVar(&reportTo, "to", "", "range end (exclusive), YYYY-MM-DD")

	journalDecisionsCmd.Flags().StringVar(&decisionsFilter.SignalID, "signal", "", "only decisions for this signal id")
	journalDecisionsCmd.Flags().StringVar(&decisionsFilter.MarketID, "market", "", "only decisions for this market")
	journalDecisionsCmd.Flags().StringVar(&decisionsFilter.Terminal, "terminal", "", "only decisions with this terminal outcome")
	journalDecisionsCmd.Flags().IntVar(&decisionsFilter.Limit, "limit", 100, "maximum rows, 0 for all")

	journalPositionsCmd.Flags().StringVar(&positionsStatus, "status", "", "open or closed (default both)")
}

func openJournalDB() (*journal.SQLite, error) {
	path := journalDBPath
	if path == "" {
		cfg, err := loadConfig()
		if err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
		if cfg.Journal.Type != "sqlite" {
			return nil, fmt.Errorf("journal type is %q; queries need sqlite (pass --db)", cfg.Journal.Type)
		}
		path = cfg.Journal.Path
	}
	j, err := journal.NewSQLite(path)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	return j, nil
}

func runJournalReport(cmd *cobra.Command, args []string) error {
	j, err := openJournalDB()
	if err != nil {
		return err
	}
	defer j.Close()

	start, end, err := reportRange(time.UTC, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("date: %w", err)
	}
	sum, err := j.Summarize(start, end)
	if err != nil {
		return fmt.Errorf("summarize: %w", err)
	}
	return sum.WriteOrg(cmd.OutOrStdout())
}

// reportRange resolves --day or --from/--to into a half-open interval.
func reportRange(loc *time.Location, now time.Time) (time.Time, time.Time, error) {
	if reportFrom != "" || reportTo != "" {
		if reportFrom == "" || reportTo == "" {
			return time.Time{}, time.Time{}, errors.New("--from and --to go together")
		}
		start, _, err := dayBounds(loc, reportFrom)
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
		end, _, err := dayBounds(loc, reportTo)
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
		if !end.After(start) {
			return time.Time{}, time.Time{}, fmt.Errorf("empty range %s..%s", reportFrom, reportTo)
		}
		return start, end, nil
	}
	day := reportDay
	if day == "" {
		day = now.In(loc).Format("2006-01-02")
	}
	return dayBounds(loc, day)
}

func runJournalDecisions(cmd *cobra.Command, args []string) error {
	j, err := openJournalDB()
	if err != nil {
		return err
	}
	defer j.Close()

	recs, err := j.ListDecisions(decisionsFilter)
	if err != nil {
		return fmt.Errorf("query decisions: %w", err)
	}
	return writeDecisions(cmd.OutOrStdout(), recs)
}

func writeDecisions(w io.Writer, recs []journal.DecisionRecord) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "DECIDED\tID\tMARKET\tOUTCOME\tSIDE\tTERMINAL\tVETO\tJOINT\tEDGE\tSIZE")
	for _, r := range recs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			r.DecidedAt.UTC().Format("2006-01-02 15:04:05"), r.ID, r.MarketID, r.Outcome, r.Side,
			r.Terminal, r.Veto, r.JointConfidence.StringFixed(4), r.Edge.StringFixed(4), r.Size.StringFixed(2))
	}
	return tw.Flush()
}

func runJournalDecision(cmd *cobra.Command, args []string) error {
	j, err := openJournalDB()
	if err != nil {
		return err
	}
	defer j.Close()

	r, err := j.GetDecision(args[0])
	if err != nil {
		return fmt.Errorf("get decision: %w", err)
	}

	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	rows := [][2]string{
		{"id", r.ID},
		{"signal", r.SignalID},
		{"market", r.MarketID},
		{"event", r.EventID},
		{"outcome", r.Outcome},
		{"side", r.Side},
		{"terminal", r.Terminal},
		{"admitted", fmt.Sprint(r.Admitted)},
		{"veto", r.Veto},
		{"detail", r.Detail},
		{"signal confidence", r.SignalConfidence.String()},
		{"match confidence", r.MatchConfidence.String()},
		{"joint confidence", r.JointConfidence.String()},
		{"edge", r.Edge.String()},
		{"price", r.Price.String()},
		{"requested", r.Requested.StringFixed(2)},
		{"size", r.Size.StringFixed(2)},
		{"expected profit", r.Profit.StringFixed(2)},
		{"fill price", r.FillPrice.String()},
		{"synthetic", fmt.Sprint(r.Synthetic)},
		{"decided", r.DecidedAt.UTC().Format(time.RFC3339Nano)},
	}
	for _, row := range rows {
		fmt.Fprintf(tw, "%s\t%s\n", row[0], row[1])
	}
	return tw.Flush()
}

func runJournalTransitions(cmd *cobra.Command, args []string) error {
	j, err := openJournalDB()
	if err != nil {
		return err
	}
	defer j.Close()

	recs, err := j.ListTransitions()
	if err != nil {
		return fmt.Errorf("query transitions: %w", err)
	}
	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "AT\tFROM\tTO\tCAUSE\tDETAIL")
	for _, r := range recs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			r.At.UTC().Format("2006-01-02 15:04:05"), r.From, r.To, r.Cause, r.Detail)
	}
	return tw.Flush()
}

func runJournalPositions(cmd *cobra.Command, args []string) error {
	switch positionsStatus {
	case "", "open", "closed":
	default:
		return fmt.Errorf("unknown status %q", positionsStatus)
	}
	j, err := openJournalDB()
	if err != nil {
		return err
	}
	defer j.Close()

	recs, err := j.ListPositions(positionsStatus)
	if err != nil {
		return fmt.Errorf("query positions: %w", err)
	}
	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "OPENED\tMARKET\tOUTCOME\tSHARES\tCOST\tENTRY\tEXIT\tREALIZED\tSTATUS\tREASON")
	for _, r := range recs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			r.OpenedAt.UTC().Format("2006-01-02 15:04:05"), r.MarketID, r.Outcome,
			r.Shares.StringFixed(2), r.Cost.StringFixed(2), r.EntryPrice.String(), r.ExitPrice.String(),
			r.Realized.StringFixed(2), r.Status, r.CloseReason)
	}
	return tw.Flush()
}

func dayBounds(loc *time.Location, day string) (time.Time, time.Time, error) {
	t, err := time.ParseInLocation("2006-01-02", day, loc)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	start := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
	end := start.AddDate(0, 0, 1)
	return start, end, nil
}
