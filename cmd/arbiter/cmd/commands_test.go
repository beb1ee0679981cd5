package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rustyeddy/arbiter/config"
	"github.com/rustyeddy/arbiter/journal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

// execute runs the root command with args and returns stdout. Package
// flag variables are reset first since cobra only writes flags it sees.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cfgFile, envFile, logLevel = "", "", ""
	journalDBPath, replayJournal, replayKeepState = "", "", false
	reportDay, reportFrom, reportTo = "", "", ""
	decisionsFilter = journal.DecisionFilter{Limit: 100}
	positionsStatus, resetBy, haltReason = "", "", "operator halt"

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(append([]string{"--log-level", "error"}, args...))
	err := rootCmd.Execute()
	return out.String(), err
}

func configWithState(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.KillSwitch.StatePath = filepath.Join(dir, "state", "killswitch.json")
	cfg.KillSwitch.DispatchLogPath = filepath.Join(dir, "state", "dispatched.jsonl")
	path := filepath.Join(dir, "arbiter.yaml")
	require.NoError(t, cfg.SaveToFile(path))
	return path
}

func TestConfigInitAndValidate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "arbiter.yaml")

	out, err := execute(t, "config", "init", "-o", path)
	require.NoError(t, err)
	assert.Contains(t, out, "Created default configuration")
	assert.FileExists(t, path)

	out, err = execute(t, "config", "validate", "-f", path)
	require.NoError(t, err)
	assert.Contains(t, out, "Configuration valid")
	assert.Contains(t, out, "10000.00")
}

func TestConfigValidateRejects(t *testing.T) {
	path := writeFile(t, "bad.yaml", "strategy:\n  min_edge: 2\n")
	_, err := execute(t, "config", "validate", "-f", path)
	assert.Error(t, err)
}

func TestKillSwitchHaltStatusReset(t *testing.T) {
	cfg := configWithState(t)

	out, err := execute(t, "-c", cfg, "killswitch", "status")
	require.NoError(t, err)
	assert.Contains(t, out, "RUNNING")
	assert.Contains(t, out, "no checkpoint")

	out, err = execute(t, "-c", cfg, "killswitch", "halt", "--reason", "maintenance")
	require.NoError(t, err)
	assert.Contains(t, out, "HALTED")

	out, err = execute(t, "-c", cfg, "killswitch", "status")
	require.NoError(t, err)
	assert.Contains(t, out, "HALTED cause=manual")
	assert.Contains(t, out, "maintenance")

	out, err = execute(t, "-c", cfg, "ks", "reset", "--by", "alice")
	require.NoError(t, err)
	assert.Contains(t, out, "reset by alice")

	out, err = execute(t, "-c", cfg, "killswitch", "status")
	require.NoError(t, err)
	assert.Contains(t, out, "RUNNING")
	assert.Contains(t, out, "HALTED -> RUNNING reset alice")

	out, err = execute(t, "-c", cfg, "killswitch", "reset")
	require.NoError(t, err)
	assert.Contains(t, out, "not halted")
}

const replayScenario = `
name: cli-smoke
start: 2025-03-12T12:30:00Z
opportunities:
  - market_id: cpi-above-3
    event_id: cpi-2025-03
    indicator: CPI_YOY
    criterion: "CPI YoY above 3.0%"
    yes:
      asks: [{price: 0.85, size: 2400}]
      bids: [{price: 0.83, size: 1000}]
    no:
      asks: [{price: 0.16, size: 5000}]
events:
  - at: 0s
    kind: signal
    signal: {source: bls, indicator: CPI_YOY, outcome: YES, confidence: 0.995}
  - at: 5s
    kind: signal
    signal: {source: bls, indicator: GDP_QOQ, outcome: YES, confidence: 0.999}
`

func TestReplayThenQueryJournal(t *testing.T) {
	sc := writeFile(t, "smoke.yaml", replayScenario)
	db := filepath.Join(t.TempDir(), "replay.db")

	out, err := execute(t, "replay", sc, "--journal", db)
	require.NoError(t, err)
	assert.Contains(t, out, "cli-smoke")
	assert.Contains(t, out, "filled")

	out, err = execute(t, "journal", "decisions", "--db", db)
	require.NoError(t, err)
	assert.Contains(t, out, "cpi-above-3")
	assert.Contains(t, out, "filled")

	out, err = execute(t, "journal", "report", "--db", db, "--day", "2025-03-12")
	require.NoError(t, err)
	assert.Contains(t, out, "ARBITER JOURNAL")

	out, err = execute(t, "journal", "positions", "--db", db, "--status", "open")
	require.NoError(t, err)
	assert.Contains(t, out, "cpi-above-3")

	_, err = execute(t, "journal", "positions", "--db", db, "--status", "bogus")
	assert.Error(t, err)

	_, err = execute(t, "journal", "decision", "missing", "--db", db)
	assert.ErrorIs(t, err, journal.ErrNotFound)
}

func TestReportRange(t *testing.T) {
	now := time.Date(2025, 3, 12, 18, 0, 0, 0, time.UTC)

	reportDay, reportFrom, reportTo = "", "", ""
	start, end, err := reportRange(time.UTC, now)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 3, 12, 0, 0, 0, 0, time.UTC), start)
	assert.Equal(t, 24*time.Hour, end.Sub(start))

	reportFrom, reportTo = "2025-03-01", "2025-03-08"
	start, end, err = reportRange(time.UTC, now)
	require.NoError(t, err)
	assert.Equal(t, 7*24*time.Hour, end.Sub(start))

	reportFrom, reportTo = "2025-03-08", ""
	_, _, err = reportRange(time.UTC, now)
	assert.Error(t, err)

	reportFrom, reportTo = "2025-03-08", "2025-03-01"
	_, _, err = reportRange(time.UTC, now)
	assert.Error(t, err)
	reportFrom, reportTo = "", ""
}

func TestVersion(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, version)
}
